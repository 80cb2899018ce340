package codec

import (
	"bytes"
	"errors"
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/arkilian/protoq/pkg/schema"
)

// ErrWireType is returned when a known field arrives with a wire type its
// declaration cannot carry.
var ErrWireType = errors.New("codec: wire type mismatch")

// Marshal encodes rec as a single protobuf message. A record whose runtime
// type is Tn with path T0..Tn is written as T0's message; every level holds
// the next level as a length-delimited field under that level's
// discriminator tag, ahead of its own fields.
func Marshal(rec *Record) ([]byte, error) {
	return appendRecord(nil, rec)
}

func appendRecord(b []byte, rec *Record) ([]byte, error) {
	return appendLevel(b, rec, rec.typ.Path(), 0)
}

func appendLevel(b []byte, rec *Record, path []*schema.Type, depth int) ([]byte, error) {
	if depth+1 < len(path) {
		child := path[depth+1]
		inner, err := appendLevel(nil, rec, path, depth+1)
		if err != nil {
			return nil, err
		}
		b = protowire.AppendTag(b, child.ParentTag(), protowire.BytesType)
		b = protowire.AppendBytes(b, inner)
	}

	var err error
	for _, f := range path[depth].Fields() {
		v, ok := rec.lookup(f)
		if !ok {
			if f.Required && !f.Nullable && !f.Repeated && f.Kind != schema.KindMessage {
				v = f.Zero()
			} else {
				continue
			}
		} else if !f.Required && !f.Repeated && isDefault(f, v) {
			continue
		}
		if b, err = appendField(b, f, v); err != nil {
			return nil, err
		}
	}
	return b, nil
}

func isDefault(f *schema.Field, v any) bool {
	if f.Kind == schema.KindMessage {
		return false
	}
	z := f.Zero()
	if bz, ok := z.([]byte); ok {
		bv, _ := v.([]byte)
		return bytes.Equal(bz, bv)
	}
	return v == z
}

func appendField(b []byte, f *schema.Field, v any) ([]byte, error) {
	if !f.Repeated {
		return appendValue(b, f, v)
	}

	items, _ := v.([]any)
	if len(items) == 0 {
		return b, nil
	}
	if f.Packed {
		var packed []byte
		for _, item := range items {
			var err error
			if packed, err = appendScalar(packed, f, item); err != nil {
				return nil, err
			}
		}
		b = protowire.AppendTag(b, f.Tag, protowire.BytesType)
		return protowire.AppendBytes(b, packed), nil
	}
	for _, item := range items {
		var err error
		if b, err = appendValue(b, f, item); err != nil {
			return nil, err
		}
	}
	return b, nil
}

func appendValue(b []byte, f *schema.Field, v any) ([]byte, error) {
	b = protowire.AppendTag(b, f.Tag, f.WireType())
	return appendScalar(b, f, v)
}

// appendScalar appends one value without its tag.
func appendScalar(b []byte, f *schema.Field, v any) ([]byte, error) {
	switch f.Kind {
	case schema.KindInt32, schema.KindInt64:
		n, ok := v.(int64)
		if !ok {
			return nil, typeError(f, v)
		}
		switch {
		case f.Format == schema.FormatZigZag:
			return protowire.AppendVarint(b, protowire.EncodeZigZag(n)), nil
		case f.Format == schema.FormatFixed && f.Kind == schema.KindInt32:
			return protowire.AppendFixed32(b, uint32(int32(n))), nil
		case f.Format == schema.FormatFixed:
			return protowire.AppendFixed64(b, uint64(n)), nil
		}
		return protowire.AppendVarint(b, uint64(n)), nil
	case schema.KindUint32, schema.KindUint64:
		n, ok := v.(uint64)
		if !ok {
			return nil, typeError(f, v)
		}
		switch {
		case f.Format == schema.FormatFixed && f.Kind == schema.KindUint32:
			return protowire.AppendFixed32(b, uint32(n)), nil
		case f.Format == schema.FormatFixed:
			return protowire.AppendFixed64(b, n), nil
		}
		return protowire.AppendVarint(b, n), nil
	case schema.KindBool:
		x, ok := v.(bool)
		if !ok {
			return nil, typeError(f, v)
		}
		return protowire.AppendVarint(b, protowire.EncodeBool(x)), nil
	case schema.KindFloat32:
		x, ok := v.(float64)
		if !ok {
			return nil, typeError(f, v)
		}
		return protowire.AppendFixed32(b, math.Float32bits(float32(x))), nil
	case schema.KindFloat64:
		x, ok := v.(float64)
		if !ok {
			return nil, typeError(f, v)
		}
		return protowire.AppendFixed64(b, math.Float64bits(x)), nil
	case schema.KindString:
		x, ok := v.(string)
		if !ok {
			return nil, typeError(f, v)
		}
		return protowire.AppendString(b, x), nil
	case schema.KindBytes:
		x, ok := v.([]byte)
		if !ok {
			return nil, typeError(f, v)
		}
		return protowire.AppendBytes(b, x), nil
	case schema.KindMessage:
		rec, ok := v.(*Record)
		if !ok {
			return nil, typeError(f, v)
		}
		inner, err := appendRecord(nil, rec)
		if err != nil {
			return nil, err
		}
		return protowire.AppendBytes(b, inner), nil
	}
	return nil, fmt.Errorf("codec: %s: unsupported kind %v", f.QualifiedName(), f.Kind)
}

func typeError(f *schema.Field, v any) error {
	return fmt.Errorf("codec: %s: cannot encode %T as %s", f.QualifiedName(), v, f.Kind)
}

// Unmarshal decodes one message of hierarchy root into rec, allocating a new
// record when rec is nil. rec must belong to root's hierarchy and is not
// reset first. Tags unknown to the hierarchy are skipped, which is what lets
// a reduced hierarchy read messages written with the full one.
func Unmarshal(b []byte, root *schema.Type, rec *Record) (*Record, error) {
	if rec == nil {
		rec = NewRecord(root)
	} else if rec.frozen {
		return nil, ErrFrozen
	} else if rec.typ.Root() != root.Root() {
		return nil, fmt.Errorf("codec: record of %s cannot hold %s", rec.typ.Root().Name(), root.Name())
	}
	rec.typ = root
	if n := root.SlotCount(); len(rec.values) < n {
		grown := make([]any, n)
		copy(grown, rec.values)
		rec.values = grown
	}
	if err := decodeLevel(b, root, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// UnmarshalType walks b only far enough to resolve the runtime type,
// skipping every field.
func UnmarshalType(b []byte, root *schema.Type) (*schema.Type, error) {
	typ := root
	for len(b) > 0 {
		num, wt, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		b = b[n:]
		if sub, ok := typ.SubType(num); ok && wt == protowire.BytesType {
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			deeper, err := UnmarshalType(v, sub)
			if err != nil {
				return nil, err
			}
			typ = deeper
			b = b[n:]
			continue
		}
		n = protowire.ConsumeFieldValue(num, wt, b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		b = b[n:]
	}
	return typ, nil
}

func decodeLevel(b []byte, t *schema.Type, rec *Record) error {
	for len(b) > 0 {
		num, wt, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		if sub, ok := t.SubType(num); ok && wt == protowire.BytesType {
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			rec.typ = sub
			if err := decodeLevel(v, sub, rec); err != nil {
				return err
			}
			b = b[n:]
			continue
		}

		if f := t.FieldByTag(num); f != nil {
			n, err := decodeField(b, wt, f, rec)
			if err != nil {
				return err
			}
			b = b[n:]
			continue
		}
		n = protowire.ConsumeFieldValue(num, wt, b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
	}
	return nil
}

func decodeField(b []byte, wt protowire.Type, f *schema.Field, rec *Record) (int, error) {
	if f.Repeated && wt == protowire.BytesType && f.WireType() != protowire.BytesType {
		// packed run of scalars
		v, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return 0, protowire.ParseError(n)
		}
		items, _ := rec.values[f.Slot()].([]any)
		for len(v) > 0 {
			item, m, err := decodeScalar(v, f.WireType(), f)
			if err != nil {
				return 0, err
			}
			items = append(items, item)
			v = v[m:]
		}
		rec.values[f.Slot()] = items
		return n, nil
	}

	if wt != f.WireType() {
		return 0, fmt.Errorf("%w: %s expects %v, got %v", ErrWireType, f.QualifiedName(), f.WireType(), wt)
	}
	item, n, err := decodeScalar(b, wt, f)
	if err != nil {
		return 0, err
	}
	if f.Repeated {
		items, _ := rec.values[f.Slot()].([]any)
		rec.values[f.Slot()] = append(items, item)
	} else {
		rec.values[f.Slot()] = item
	}
	return n, nil
}

// decodeScalar consumes one value of wire type wt for f.
func decodeScalar(b []byte, wt protowire.Type, f *schema.Field) (any, int, error) {
	switch wt {
	case protowire.VarintType:
		x, n := protowire.ConsumeVarint(b)
		if n < 0 {
			return nil, 0, protowire.ParseError(n)
		}
		switch f.Kind {
		case schema.KindInt32:
			if f.Format == schema.FormatZigZag {
				return int64(int32(protowire.DecodeZigZag(x & math.MaxUint32))), n, nil
			}
			return int64(int32(x)), n, nil
		case schema.KindInt64:
			if f.Format == schema.FormatZigZag {
				return protowire.DecodeZigZag(x), n, nil
			}
			return int64(x), n, nil
		case schema.KindUint32:
			return uint64(uint32(x)), n, nil
		case schema.KindUint64:
			return x, n, nil
		case schema.KindBool:
			return protowire.DecodeBool(x), n, nil
		}
	case protowire.Fixed32Type:
		x, n := protowire.ConsumeFixed32(b)
		if n < 0 {
			return nil, 0, protowire.ParseError(n)
		}
		switch f.Kind {
		case schema.KindInt32:
			return int64(int32(x)), n, nil
		case schema.KindUint32:
			return uint64(x), n, nil
		case schema.KindFloat32:
			return float64(math.Float32frombits(x)), n, nil
		}
	case protowire.Fixed64Type:
		x, n := protowire.ConsumeFixed64(b)
		if n < 0 {
			return nil, 0, protowire.ParseError(n)
		}
		switch f.Kind {
		case schema.KindInt64:
			return int64(x), n, nil
		case schema.KindUint64:
			return x, n, nil
		case schema.KindFloat64:
			return math.Float64frombits(x), n, nil
		}
	case protowire.BytesType:
		v, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return nil, 0, protowire.ParseError(n)
		}
		switch f.Kind {
		case schema.KindString:
			return string(v), n, nil
		case schema.KindBytes:
			return append([]byte{}, v...), n, nil
		case schema.KindMessage:
			nested, err := Unmarshal(v, f.Message, nil)
			if err != nil {
				return nil, 0, err
			}
			return nested, n, nil
		}
	}
	return nil, 0, fmt.Errorf("%w: %s cannot decode wire type %v", ErrWireType, f.QualifiedName(), wt)
}
