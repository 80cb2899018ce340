package schema

import (
	"fmt"
	"math"
	"strings"

	"google.golang.org/protobuf/encoding/protowire"
)

// Kind is the declared value kind of a field.
type Kind int

const (
	KindInvalid Kind = iota
	KindInt32
	KindInt64
	KindUint32
	KindUint64
	KindBool
	KindFloat32
	KindFloat64
	KindString
	KindBytes
	KindMessage
)

var kindNames = map[Kind]string{
	KindInt32:   "int32",
	KindInt64:   "int64",
	KindUint32:  "uint32",
	KindUint64:  "uint64",
	KindBool:    "bool",
	KindFloat32: "float",
	KindFloat64: "double",
	KindString:  "string",
	KindBytes:   "bytes",
	KindMessage: "message",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// ParseKind maps a declared kind name to a Kind. Both the protobuf scalar
// names and the Go-flavoured aliases (float32, float64) are accepted.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "int32", "sint32", "sfixed32":
		return KindInt32, nil
	case "int64", "sint64", "sfixed64":
		return KindInt64, nil
	case "uint32", "fixed32":
		return KindUint32, nil
	case "uint64", "fixed64":
		return KindUint64, nil
	case "bool":
		return KindBool, nil
	case "float", "float32":
		return KindFloat32, nil
	case "double", "float64":
		return KindFloat64, nil
	case "string":
		return KindString, nil
	case "bytes":
		return KindBytes, nil
	case "message":
		return KindMessage, nil
	}
	return KindInvalid, fmt.Errorf("unknown field kind %q", s)
}

// IsNumeric reports whether values of this kind take part in arithmetic.
func (k Kind) IsNumeric() bool {
	switch k {
	case KindInt32, KindInt64, KindUint32, KindUint64, KindFloat32, KindFloat64:
		return true
	}
	return false
}

// Format is the wire format hint for integer fields.
type Format int

const (
	// FormatDefault encodes integers as plain varints.
	FormatDefault Format = iota
	// FormatZigZag encodes signed integers as zigzag varints (sint32/sint64).
	FormatZigZag
	// FormatFixed encodes integers as fixed-width little-endian words.
	FormatFixed
)

func (f Format) String() string {
	switch f {
	case FormatZigZag:
		return "zigzag"
	case FormatFixed:
		return "fixed"
	default:
		return "default"
	}
}

// ParseFormat maps a declared format name to a Format.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "default", "varint":
		return FormatDefault, nil
	case "zigzag":
		return FormatZigZag, nil
	case "fixed":
		return FormatFixed, nil
	}
	return FormatDefault, fmt.Errorf("unknown wire format %q", s)
}

// Field describes one declared field of a Type.
type Field struct {
	// Name is unique within the owning type
	Name string

	// Tag is the wire field number
	Tag protowire.Number

	// Kind is the declared value kind
	Kind Kind

	// Format selects the integer wire encoding
	Format Format

	// Default is returned for the field when the wire carries no value
	Default any

	Required bool
	Nullable bool
	Repeated bool
	Packed   bool

	// Message is the root type of a message-kind field's values
	Message *Type

	owner *Type
	slot  int
}

// Owner returns the type that declares the field.
func (f *Field) Owner() *Type { return f.owner }

// Slot returns the field's value slot within its hierarchy. Slots are
// allocated per hierarchy root, so a record of any type in the hierarchy
// stores the field at the same position.
func (f *Field) Slot() int { return f.slot }

// QualifiedName returns "Owner.Field".
func (f *Field) QualifiedName() string {
	if f.owner == nil {
		return f.Name
	}
	return f.owner.name + "." + f.Name
}

// WireType returns the protobuf wire type a single value of the field uses.
func (f *Field) WireType() protowire.Type {
	switch f.Kind {
	case KindFloat32:
		return protowire.Fixed32Type
	case KindFloat64:
		return protowire.Fixed64Type
	case KindInt32, KindUint32:
		if f.Format == FormatFixed {
			return protowire.Fixed32Type
		}
		return protowire.VarintType
	case KindInt64, KindUint64:
		if f.Format == FormatFixed {
			return protowire.Fixed64Type
		}
		return protowire.VarintType
	case KindBool:
		return protowire.VarintType
	default:
		return protowire.BytesType
	}
}

// Zero returns the value the field holds when nothing was decoded for it:
// the declared default, otherwise the kind's zero value. Repeated, message
// and nullable fields without a default return nil.
func (f *Field) Zero() any {
	if f.Repeated || f.Kind == KindMessage {
		return nil
	}
	if f.Default != nil {
		return f.Default
	}
	if f.Nullable {
		return nil
	}
	return ZeroOf(f.Kind)
}

func (f *Field) String() string {
	return fmt.Sprintf("%s %s = %d", f.QualifiedName(), f.Kind, f.Tag)
}

// ZeroOf returns the zero value for a scalar kind in its normalised Go form.
func ZeroOf(k Kind) any {
	switch k {
	case KindInt32, KindInt64:
		return int64(0)
	case KindUint32, KindUint64:
		return uint64(0)
	case KindFloat32, KindFloat64:
		return float64(0)
	case KindBool:
		return false
	case KindString:
		return ""
	case KindBytes:
		return []byte(nil)
	}
	return nil
}

// Convert normalises v to the Go representation used for the kind:
// int64 for signed integers, uint64 for unsigned, float64 for floats.
// Integral float64 inputs (as produced by JSON and YAML decoders) are
// accepted for integer kinds.
func Convert(k Kind, v any) (any, error) {
	switch k {
	case KindInt32, KindInt64:
		n, err := toInt64(v)
		if err != nil {
			return nil, err
		}
		if k == KindInt32 && (n < math.MinInt32 || n > math.MaxInt32) {
			return nil, fmt.Errorf("value %d overflows int32", n)
		}
		return n, nil
	case KindUint32, KindUint64:
		n, err := toUint64(v)
		if err != nil {
			return nil, err
		}
		if k == KindUint32 && n > math.MaxUint32 {
			return nil, fmt.Errorf("value %d overflows uint32", n)
		}
		return n, nil
	case KindFloat32, KindFloat64:
		switch x := v.(type) {
		case float64:
			return x, nil
		case float32:
			return float64(x), nil
		}
		if n, err := toInt64(v); err == nil {
			return float64(n), nil
		}
		return nil, fmt.Errorf("cannot convert %T to %s", v, k)
	case KindBool:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	case KindString:
		switch x := v.(type) {
		case string:
			return x, nil
		case []byte:
			return string(x), nil
		}
	case KindBytes:
		switch x := v.(type) {
		case []byte:
			return append([]byte(nil), x...), nil
		case string:
			return []byte(x), nil
		}
	}
	return nil, fmt.Errorf("cannot convert %T to %s", v, k)
}

func toInt64(v any) (int64, error) {
	switch x := v.(type) {
	case int:
		return int64(x), nil
	case int8:
		return int64(x), nil
	case int16:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case int64:
		return x, nil
	case uint:
		return int64(x), nil
	case uint8:
		return int64(x), nil
	case uint16:
		return int64(x), nil
	case uint32:
		return int64(x), nil
	case uint64:
		if x > math.MaxInt64 {
			return 0, fmt.Errorf("value %d overflows int64", x)
		}
		return int64(x), nil
	case float64:
		if x != math.Trunc(x) || x < math.MinInt64 || x > math.MaxInt64 {
			return 0, fmt.Errorf("value %v is not an integer", x)
		}
		return int64(x), nil
	}
	return 0, fmt.Errorf("cannot convert %T to integer", v)
}

func toUint64(v any) (uint64, error) {
	if x, ok := v.(uint64); ok {
		return x, nil
	}
	if x, ok := v.(float64); ok && x > math.MaxInt64 && x == math.Trunc(x) && x < (1<<64) {
		return uint64(x), nil
	}
	n, err := toInt64(v)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, fmt.Errorf("value %d is negative", n)
	}
	return uint64(n), nil
}
