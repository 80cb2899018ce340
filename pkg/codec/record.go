// Package codec encodes and decodes records of a schema hierarchy using the
// protobuf wire format, one length-framed message per record.
package codec

import (
	"errors"
	"fmt"
	"strings"

	"github.com/arkilian/protoq/pkg/schema"
)

// ErrFrozen is returned when mutating a frozen record.
var ErrFrozen = errors.New("codec: record is frozen")

// Record is a decoded instance of some type in a hierarchy. Values are held
// in the hierarchy's slot layout, so the same record can be re-typed to any
// type of its hierarchy while decoding.
type Record struct {
	typ    *schema.Type
	values []any
	frozen bool
}

// NewRecord allocates a record of type t with every field at its zero value.
func NewRecord(t *schema.Type) *Record {
	return &Record{
		typ:    t,
		values: make([]any, t.SlotCount()),
	}
}

// Type returns the record's runtime type.
func (r *Record) Type() *schema.Type { return r.typ }

// Frozen reports whether the record rejects mutation.
func (r *Record) Frozen() bool { return r.frozen }

// Freeze makes the record immutable. Reset becomes a no-op and Set fails.
func (r *Record) Freeze() { r.frozen = true }

// Get returns the value of f, or f's zero value when the record holds none.
// Fields from another hierarchy, or declared on a type the record is not an
// instance of, read as zero.
func (r *Record) Get(f *schema.Field) any {
	if v, ok := r.lookup(f); ok {
		return v
	}
	return f.Zero()
}

// Has reports whether a value was set or decoded for f.
func (r *Record) Has(f *schema.Field) bool {
	_, ok := r.lookup(f)
	return ok
}

func (r *Record) lookup(f *schema.Field) (any, bool) {
	if f == nil || f.Owner() == nil || f.Owner().Root() != r.typ.Root() {
		return nil, false
	}
	if f.Slot() >= len(r.values) || !f.Owner().IsAssignableFrom(r.typ) {
		return nil, false
	}
	v := r.values[f.Slot()]
	return v, v != nil
}

// Set stores v for f after normalising it to the field's kind. Message
// fields take a *Record; repeated fields take a slice of element values.
// Setting nil clears the field.
func (r *Record) Set(f *schema.Field, v any) error {
	if r.frozen {
		return ErrFrozen
	}
	if f.Owner() == nil || f.Owner().Root() != r.typ.Root() || !f.Owner().IsAssignableFrom(r.typ) {
		return fmt.Errorf("codec: field %s does not belong to %s", f.QualifiedName(), r.typ.Name())
	}
	if v == nil {
		r.put(f, nil)
		return nil
	}

	if f.Repeated {
		items, ok := v.([]any)
		if !ok {
			var err error
			if items, err = toAnySlice(v); err != nil {
				return fmt.Errorf("codec: %s: %w", f.QualifiedName(), err)
			}
		}
		out := make([]any, len(items))
		for i, item := range items {
			cv, err := convertValue(f, item)
			if err != nil {
				return fmt.Errorf("codec: %s[%d]: %w", f.QualifiedName(), i, err)
			}
			out[i] = cv
		}
		r.put(f, out)
		return nil
	}

	cv, err := convertValue(f, v)
	if err != nil {
		return fmt.Errorf("codec: %s: %w", f.QualifiedName(), err)
	}
	r.put(f, cv)
	return nil
}

func (r *Record) put(f *schema.Field, v any) {
	if f.Slot() >= len(r.values) {
		grown := make([]any, r.typ.SlotCount())
		copy(grown, r.values)
		r.values = grown
	}
	r.values[f.Slot()] = v
}

// SetType re-types the record to t, which must belong to the same hierarchy.
func (r *Record) SetType(t *schema.Type) error {
	if r.frozen {
		return ErrFrozen
	}
	if t.Root() != r.typ.Root() {
		return fmt.Errorf("codec: type %s is not in hierarchy %s", t.Name(), r.typ.Root().Name())
	}
	r.typ = t
	return nil
}

// Reset restores every field, including those declared on ancestor levels,
// to its zero value and re-types the record to its hierarchy root, leaving
// it as a freshly allocated record would be. Frozen records are unchanged.
func (r *Record) Reset() {
	if r.frozen {
		return
	}
	clear(r.values)
	r.typ = r.typ.Root()
}

// String renders the record as "Type{Owner.Field: value, ...}" listing the
// fields that hold a value.
func (r *Record) String() string {
	var sb strings.Builder
	sb.WriteString(r.typ.Name())
	sb.WriteByte('{')
	first := true
	for _, t := range r.typ.Path() {
		for _, f := range t.Fields() {
			v, ok := r.lookup(f)
			if !ok {
				continue
			}
			if !first {
				sb.WriteString(", ")
			}
			first = false
			fmt.Fprintf(&sb, "%s: %v", f.Name, v)
		}
	}
	sb.WriteByte('}')
	return sb.String()
}

func convertValue(f *schema.Field, v any) (any, error) {
	if f.Kind == schema.KindMessage {
		rec, ok := v.(*Record)
		if !ok {
			return nil, fmt.Errorf("message value must be *codec.Record, got %T", v)
		}
		if f.Message != nil && !f.Message.IsAssignableFrom(rec.typ) {
			return nil, fmt.Errorf("record of type %s is not a %s", rec.typ.Name(), f.Message.Name())
		}
		return rec, nil
	}
	return schema.Convert(f.Kind, v)
}

func toAnySlice(v any) ([]any, error) {
	switch x := v.(type) {
	case []int64:
		out := make([]any, len(x))
		for i := range x {
			out[i] = x[i]
		}
		return out, nil
	case []int:
		out := make([]any, len(x))
		for i := range x {
			out[i] = x[i]
		}
		return out, nil
	case []string:
		out := make([]any, len(x))
		for i := range x {
			out[i] = x[i]
		}
		return out, nil
	case []float64:
		out := make([]any, len(x))
		for i := range x {
			out[i] = x[i]
		}
		return out, nil
	case []*Record:
		out := make([]any, len(x))
		for i := range x {
			out[i] = x[i]
		}
		return out, nil
	}
	return nil, fmt.Errorf("repeated value must be a slice, got %T", v)
}
