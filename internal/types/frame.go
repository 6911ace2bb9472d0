package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	FieldDGN           = "dgn"
	FieldData          = "data"
	FieldName          = "name"
	FieldInstance      = "instance"
	FieldDecodePending = "DECODER PENDING"
)

// Field is one named value of a DecodedFrame.
type Field struct {
	Name  string
	Value any
}

// DecodedFrame is the named-field record produced per inbound frame.
// Fields keep insertion order; setting an existing name replaces the value
// in place.
type DecodedFrame struct {
	DGN  string
	Data string
	Name string

	fields []Field
	index  map[string]int
}

func NewDecodedFrame(dgn, data, name string) *DecodedFrame {
	return &DecodedFrame{
		DGN:   dgn,
		Data:  data,
		Name:  name,
		index: make(map[string]int),
	}
}

func (f *DecodedFrame) Set(name string, value any) {
	if f.index == nil {
		f.index = make(map[string]int)
	}
	if i, ok := f.index[name]; ok {
		f.fields[i].Value = value
		return
	}
	f.index[name] = len(f.fields)
	f.fields = append(f.fields, Field{Name: name, Value: value})
}

func (f *DecodedFrame) Get(name string) (any, bool) {
	switch name {
	case FieldDGN:
		return f.DGN, true
	case FieldData:
		return f.Data, true
	case FieldName:
		return f.Name, true
	}
	i, ok := f.index[name]
	if !ok {
		return nil, false
	}
	return f.fields[i].Value, true
}

// Fields returns the decoded parameters in order, without dgn/data/name.
func (f *DecodedFrame) Fields() []Field {
	out := make([]Field, len(f.fields))
	copy(out, f.fields)
	return out
}

func (f *DecodedFrame) Pending() bool {
	_, ok := f.index[FieldDecodePending]
	return ok
}

// Instance returns the frame's instance field when it holds an integer.
func (f *DecodedFrame) Instance() (int, bool) {
	v, ok := f.Get(FieldInstance)
	if !ok {
		return 0, false
	}
	switch x := v.(type) {
	case int64:
		return int(x), true
	case int:
		return x, true
	case float64:
		return int(x), true
	case string:
		n, err := strconv.Atoi(x)
		return n, err == nil
	}
	return 0, false
}

// Map flattens the frame into a plain map, for JSONPath and CBOR encoding.
func (f *DecodedFrame) Map() map[string]any {
	out := make(map[string]any, len(f.fields)+3)
	out[FieldDGN] = f.DGN
	out[FieldData] = f.Data
	out[FieldName] = f.Name
	for _, fld := range f.fields {
		out[fld.Name] = fld.Value
	}
	return out
}

// MarshalJSON writes dgn, data and name first, then the fields in order.
func (f *DecodedFrame) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	write := func(i int, key string, value any) error {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(key)
		if err != nil {
			return err
		}
		v, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("field %q: %w", key, err)
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
		return nil
	}

	head := []Field{{FieldDGN, f.DGN}, {FieldData, f.Data}, {FieldName, f.Name}}
	for i, fld := range append(head, f.fields...) {
		if err := write(i, fld.Name, fld.Value); err != nil {
			return nil, err
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// CanFrame is one outbound bus frame plus the pause before the next one.
type CanFrame struct {
	ID    uint32        `json:"id"`
	Data  [8]byte       `json:"data"`
	Delay time.Duration `json:"delay"`
}

// String formats the frame as "19FEDB63#01FFC8020000FFFF".
func (f CanFrame) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%08X#", f.ID)
	for _, d := range f.Data {
		fmt.Fprintf(&b, "%02X", d)
	}
	return b.String()
}

// FormatFrames renders frames for audit records and logs.
func FormatFrames(frames []CanFrame) []string {
	out := make([]string, len(frames))
	for i, f := range frames {
		out[i] = f.String()
	}
	return out
}
