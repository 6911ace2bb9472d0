// Package decoder turns raw RV-C frames into named, unit-converted fields
// using a spec catalog.
package decoder

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/KevinKickass/OpenRVCore/internal/types"
)

// Catalog is the read-only view of the spec catalog the decoder needs.
type Catalog interface {
	Lookup(dgn string) (types.MessageDefinition, bool)
	Parameters(msg types.MessageDefinition) []types.ParameterDefinition
}

type Options struct {
	// ParameterizedNames writes "operating_status_brightness" instead of
	// "operating status (brightness)".
	ParameterizedNames bool
}

// Decoder is stateless after construction and safe for concurrent use.
type Decoder struct {
	catalog Catalog
	opts    Options
}

func New(catalog Catalog, opts Options) *Decoder {
	return &Decoder{catalog: catalog, opts: opts}
}

var errShortFrame = errors.New("frame shorter than byte range")

// Decode decodes one frame. dgn is a hex DGN ("1FEDA"), dataHex the payload
// as hex. Unknown DGNs yield a record named UNKNOWN-<dgn>.
func (d *Decoder) Decode(dgn, dataHex string) *types.DecodedFrame {
	frame := types.NewDecodedFrame(dgn, dataHex, "UNKNOWN-"+dgn)

	msg, ok := d.catalog.Lookup(dgn)
	if !ok {
		return frame
	}
	frame.Name = msg.Name

	data, err := hex.DecodeString(dataHex)
	if err != nil {
		// Keep the bytes that did parse so short/odd input still decodes partially.
		data = decodePrefix(dataHex)
	}

	extracted := 0
	for _, param := range d.catalog.Parameters(msg) {
		value, err := extract(data, param)
		if err != nil {
			continue
		}

		name := param.Name
		if d.opts.ParameterizedNames {
			name = Parameterize(name)
		}
		frame.Set(name, value)

		if strings.EqualFold(param.Unit, UnitDegC) {
			if c, ok := toFloat(value); ok {
				frame.Set(name+d.suffix(" F", "_f"), CelsiusToFahrenheit(c))
			}
		}

		if label, ok := param.Values.Lookup(value); ok {
			frame.Set(name+d.suffix(" definition", "_definition"), label)
		}

		extracted++
	}

	if extracted == 0 {
		frame.Set(types.FieldDecodePending, 1)
	}
	return frame
}

// DecodeBytes is Decode for callers holding the payload as bytes.
func (d *Decoder) DecodeBytes(dgn uint32, data []byte) *types.DecodedFrame {
	return d.Decode(FormatDGN(dgn), strings.ToUpper(hex.EncodeToString(data)))
}

func (d *Decoder) suffix(plain, parameterized string) string {
	if d.opts.ParameterizedNames {
		return parameterized
	}
	return plain
}

// FormatDGN renders a DGN as the 5-digit upper-case hex catalog key.
func FormatDGN(dgn uint32) string {
	return fmt.Sprintf("%05X", dgn)
}

// ParseDGN accepts "1FEDA", "1feda" or "0x1FEDA" and returns the catalog
// key.
func ParseDGN(s string) (string, error) {
	trimmed := strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if trimmed == "" || len(trimmed) > 5 {
		return "", fmt.Errorf("dgn %q must be 1 to 5 hex digits", s)
	}
	v, err := strconv.ParseUint(trimmed, 16, 32)
	if err != nil {
		return "", fmt.Errorf("dgn %q must be 1 to 5 hex digits", s)
	}
	return FormatDGN(uint32(v)), nil
}

// ParseDataHex normalizes a frame payload such as "01 FF c8" to upper-case
// hex without spaces. At most 8 bytes are accepted.
func ParseDataHex(s string) (string, error) {
	data := strings.ToUpper(strings.ReplaceAll(s, " ", ""))
	if len(data) > 16 {
		return "", fmt.Errorf("data %q is longer than 8 bytes", s)
	}
	if _, err := hex.DecodeString(data); err != nil {
		return "", fmt.Errorf("data %q: %w", s, err)
	}
	return data, nil
}

// extract reads the parameter's bytes most-significant first from the high
// index, applies the bit range and converts units.
func extract(data []byte, param types.ParameterDefinition) (any, error) {
	if param.Byte == nil {
		return nil, errors.New("parameter has no byte range")
	}
	raw, err := readBytes(data, *param.Byte)
	if err != nil {
		return nil, err
	}

	var value any = raw
	if param.Bit != nil {
		bits := extractBits(raw, *param.Bit)
		if param.Type.IsUnsigned() {
			n, err := strconv.ParseUint(bits, 2, 64)
			if err != nil {
				return nil, err
			}
			value = int64(n)
		} else {
			value = bits
		}
	}

	return ConvertUnit(value, param.Unit, param.Type), nil
}

func readBytes(data []byte, r types.Range) (int64, error) {
	if r.Hi >= len(data) {
		return 0, errShortFrame
	}
	if r.Width() > 8 {
		return 0, fmt.Errorf("byte range %s wider than 64 bits", r)
	}
	var v uint64
	for i := r.Hi; i >= r.Lo; i-- {
		v = v<<8 | uint64(data[i])
	}
	if v > 1<<63-1 {
		return 0, fmt.Errorf("byte range %s overflows", r)
	}
	return int64(v), nil
}

// extractBits returns bits lo..hi (0 = least significant) as a binary
// string of width hi-lo+1.
func extractBits(value int64, r types.Range) string {
	width := r.Width()
	v := uint64(value) >> uint(r.Lo)
	if width < 64 {
		v &= 1<<uint(width) - 1
	}
	bits := strconv.FormatUint(v, 2)
	if len(bits) < width {
		bits = strings.Repeat("0", width-len(bits)) + bits
	}
	return bits
}

func decodePrefix(s string) []byte {
	out := make([]byte, 0, len(s)/2)
	for i := 0; i+1 < len(s); i += 2 {
		b, err := strconv.ParseUint(s[i:i+2], 16, 8)
		if err != nil {
			break
		}
		out = append(out, byte(b))
	}
	return out
}

// Parameterize lower-cases a parameter name, turns spaces and slashes into
// underscores and drops parentheses.
func Parameterize(name string) string {
	replacer := strings.NewReplacer(" ", "_", "/", "_", "(", "", ")", "")
	return strings.ToLower(replacer.Replace(name))
}
