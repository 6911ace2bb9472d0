package types

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Catalog maps a 5-hex-digit DGN ("1FEDA") to its decoding definition.
type Catalog map[string]MessageDefinition

// Lookup finds a definition by DGN, ignoring hex case.
func (c Catalog) Lookup(dgn string) (MessageDefinition, bool) {
	if msg, ok := c[dgn]; ok {
		return msg, true
	}
	msg, ok := c[strings.ToUpper(dgn)]
	if ok {
		return msg, true
	}
	msg, ok = c[strings.ToLower(dgn)]
	return msg, ok
}

// Parameters returns the alias parameters followed by the message's own.
func (c Catalog) Parameters(msg MessageDefinition) []ParameterDefinition {
	var params []ParameterDefinition
	if msg.Alias != "" {
		if alias, ok := c.Lookup(msg.Alias); ok {
			params = append(params, alias.Parameters...)
		}
	}
	return append(params, msg.Parameters...)
}

type MessageDefinition struct {
	Name       string                `yaml:"name" json:"name"`
	Alias      string                `yaml:"alias,omitempty" json:"alias,omitempty"`
	Parameters []ParameterDefinition `yaml:"parameters,omitempty" json:"parameters,omitempty"`
}

type ParameterDefinition struct {
	Name   string     `yaml:"name" json:"name"`
	Byte   *Range     `yaml:"byte" json:"byte,omitempty"`
	Bit    *Range     `yaml:"bit,omitempty" json:"bit,omitempty"`
	Type   ValueType  `yaml:"type,omitempty" json:"type,omitempty"`
	Unit   string     `yaml:"unit,omitempty" json:"unit,omitempty"`
	Values ValueTable `yaml:"values,omitempty" json:"values,omitempty"`
}

type ValueType string

const (
	ValueTypeUint8  ValueType = "uint8"
	ValueTypeUint16 ValueType = "uint16"
	ValueTypeUint32 ValueType = "uint32"
)

// IsUnsigned reports whether bit-extracted values are reparsed as integers.
func (t ValueType) IsUnsigned() bool {
	return strings.HasPrefix(strings.ToLower(string(t)), "uint")
}

// Range is an inclusive index range. A single index has Lo == Hi.
type Range struct {
	Lo int
	Hi int
}

// ParseRange accepts "3" or "1-2" (either order).
func ParseRange(s string) (Range, error) {
	s = strings.TrimSpace(s)
	lo, hi, found := strings.Cut(s, "-")
	if !found {
		n, err := strconv.Atoi(s)
		if err != nil {
			return Range{}, fmt.Errorf("invalid index %q: %w", s, err)
		}
		if n < 0 {
			return Range{}, fmt.Errorf("negative index %q", s)
		}
		return Range{Lo: n, Hi: n}, nil
	}

	a, err := strconv.Atoi(strings.TrimSpace(lo))
	if err != nil {
		return Range{}, fmt.Errorf("invalid range %q: %w", s, err)
	}
	b, err := strconv.Atoi(strings.TrimSpace(hi))
	if err != nil {
		return Range{}, fmt.Errorf("invalid range %q: %w", s, err)
	}
	if a < 0 || b < 0 {
		return Range{}, fmt.Errorf("negative range %q", s)
	}
	if a > b {
		a, b = b, a
	}
	return Range{Lo: a, Hi: b}, nil
}

func (r Range) Width() int {
	return r.Hi - r.Lo + 1
}

func (r Range) String() string {
	if r.Lo == r.Hi {
		return strconv.Itoa(r.Lo)
	}
	return fmt.Sprintf("%d-%d", r.Lo, r.Hi)
}

func (r *Range) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: range must be a scalar", node.Line)
	}
	parsed, err := ParseRange(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*r = parsed
	return nil
}

func (r Range) MarshalYAML() (any, error) {
	if r.Lo == r.Hi {
		return r.Lo, nil
	}
	return r.String(), nil
}

func (r Range) MarshalJSON() ([]byte, error) {
	if r.Lo == r.Hi {
		return json.Marshal(r.Lo)
	}
	return json.Marshal(r.String())
}

func (r *Range) UnmarshalJSON(data []byte) error {
	var n int
	if err := json.Unmarshal(data, &n); err == nil {
		*r = Range{Lo: n, Hi: n}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("range must be a number or string: %w", err)
	}
	parsed, err := ParseRange(s)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// ValueTable maps an enumerated raw value to its label. Keys written as
// binary-looking literals ("01", "10") are read as decimal numbers, the
// same way decoded bit strings are looked up.
type ValueTable map[int64]string

func (v *ValueTable) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: values must be a mapping", node.Line)
	}
	table := make(ValueTable, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, val := node.Content[i], node.Content[i+1]
		n, err := parseTableKey(key.Value)
		if err != nil {
			return fmt.Errorf("line %d: %w", key.Line, err)
		}
		table[n] = val.Value
	}
	*v = table
	return nil
}

func (v ValueTable) MarshalJSON() ([]byte, error) {
	out := make(map[string]string, len(v))
	for k, label := range v {
		out[strconv.FormatInt(k, 10)] = label
	}
	return json.Marshal(out)
}

func (v *ValueTable) UnmarshalJSON(data []byte) error {
	var raw map[string]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	table := make(ValueTable, len(raw))
	for k, label := range raw {
		n, err := parseTableKey(k)
		if err != nil {
			return err
		}
		table[n] = label
	}
	*v = table
	return nil
}

// Lookup returns the label for value. Strings are parsed as decimal.
func (v ValueTable) Lookup(value any) (string, bool) {
	if len(v) == 0 {
		return "", false
	}
	var key int64
	switch x := value.(type) {
	case int64:
		key = x
	case int:
		key = int64(x)
	case float64:
		key = int64(x)
	case string:
		n, err := strconv.ParseInt(x, 10, 64)
		if err != nil {
			return "", false
		}
		key = n
	default:
		return "", false
	}
	label, ok := v[key]
	return label, ok
}

func parseTableKey(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if rest, ok := strings.CutPrefix(strings.ToLower(s), "0x"); ok {
		return strconv.ParseInt(rest, 16, 64)
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid value key %q", s)
	}
	return n, nil
}
