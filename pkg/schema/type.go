package schema

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	perrors "github.com/arkilian/protoq/internal/errors"
)

// SubType pairs a discriminator tag with the type it selects.
type SubType struct {
	Tag  protowire.Number
	Type *Type
}

// Type is one node of a record hierarchy.
type Type struct {
	model     *Model
	name      string
	parent    *Type
	parentTag protowire.Number
	root      *Type
	depth     int
	origin    *Type

	fields   []*Field
	subtypes []SubType

	// slots is only populated on hierarchy roots
	slots []*Field
}

func (t *Type) Name() string { return t.name }
func (t *Type) Model() *Model { return t.model }
func (t *Type) Parent() *Type { return t.parent }
func (t *Type) Root() *Type { return t.root }
func (t *Type) Depth() int { return t.depth }
func (t *Type) ParentTag() protowire.Number { return t.parentTag }

// Fields returns the fields the type itself declares, in declaration order.
func (t *Type) Fields() []*Field { return t.fields }

// SubTypes returns the direct subtypes in registration order.
func (t *Type) SubTypes() []SubType { return t.subtypes }

// Synthetic reports whether the type was registered as derived from another.
func (t *Type) Synthetic() bool { return t.origin != nil }

// Origin returns the type a synthetic type was derived from, or nil.
func (t *Type) Origin() *Type { return t.origin }

// SlotCount returns the number of value slots records of this hierarchy need.
func (t *Type) SlotCount() int { return len(t.root.slots) }

// SubType returns the direct subtype registered under tag.
func (t *Type) SubType(tag protowire.Number) (*Type, bool) {
	for _, st := range t.subtypes {
		if st.Tag == tag {
			return st.Type, true
		}
	}
	return nil, false
}

// FieldByTag returns the own field with the given tag, or nil.
func (t *Type) FieldByTag(tag protowire.Number) *Field {
	for _, f := range t.fields {
		if f.Tag == tag {
			return f
		}
	}
	return nil
}

// OwnField returns the own field with the given name, or nil.
func (t *Type) OwnField(name string) *Field {
	for _, f := range t.fields {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// Field resolves name against t and then its ancestors, nearest first.
func (t *Type) Field(name string) *Field {
	for cur := t; cur != nil; cur = cur.parent {
		if f := cur.OwnField(name); f != nil {
			return f
		}
	}
	return nil
}

// IsAssignableFrom reports whether a value of type other is also a t, that
// is, whether t is other or one of its ancestors.
func (t *Type) IsAssignableFrom(other *Type) bool {
	if other == nil || other.depth < t.depth {
		return false
	}
	cur := other
	for cur.depth > t.depth {
		cur = cur.parent
	}
	return cur == t
}

// Path returns the chain of types from the hierarchy root down to t.
func (t *Type) Path() []*Type {
	path := make([]*Type, t.depth+1)
	for cur := t; cur != nil; cur = cur.parent {
		path[cur.depth] = cur
	}
	return path
}

// Walk visits t and every descendant depth-first, parents before children.
func (t *Type) Walk(fn func(*Type)) {
	fn(t)
	for _, st := range t.subtypes {
		st.Type.Walk(fn)
	}
}

func (t *Type) String() string { return t.name }

// AddField declares a new field on t. The field's tag must be valid and not
// collide with another own field or with a subtype discriminator.
func (t *Type) AddField(f Field) (*Field, error) {
	t.model.mu.Lock()
	defer t.model.mu.Unlock()
	return t.addFieldLocked(f)
}

// CopyField declares on t a field carrying orig's name and wire attributes
// (tag, kind, format, default, flags, message type), so values written for
// orig decode into the copy.
func (t *Type) CopyField(orig *Field) (*Field, error) {
	if orig == nil {
		return nil, perrors.NewSchemaError(perrors.CodeInvalidSchema, "copy of nil field")
	}
	return t.AddField(Field{
		Name:     orig.Name,
		Tag:      orig.Tag,
		Kind:     orig.Kind,
		Format:   orig.Format,
		Default:  orig.Default,
		Required: orig.Required,
		Nullable: orig.Nullable,
		Repeated: orig.Repeated,
		Packed:   orig.Packed,
		Message:  orig.Message,
	})
}

func (t *Type) addFieldLocked(f Field) (*Field, error) {
	invalid := func(format string, args ...any) error {
		return perrors.NewSchemaError(perrors.CodeInvalidSchema,
			fmt.Sprintf("%s.%s: ", t.name, f.Name)+fmt.Sprintf(format, args...))
	}

	if f.Name == "" {
		return nil, invalid("field name is empty")
	}
	if !f.Tag.IsValid() {
		return nil, invalid("invalid tag %d", f.Tag)
	}
	if f.Kind <= KindInvalid || f.Kind > KindMessage {
		return nil, invalid("invalid kind %v", f.Kind)
	}
	if t.OwnField(f.Name) != nil {
		return nil, invalid("duplicate field name")
	}
	if t.tagInUse(f.Tag) {
		return nil, invalid("tag %d already in use", f.Tag)
	}
	if f.Kind == KindMessage {
		if f.Message == nil {
			return nil, invalid("message field has no message type")
		}
		if f.Default != nil {
			return nil, invalid("message field cannot have a default")
		}
	}
	if f.Format == FormatZigZag && f.Kind != KindInt32 && f.Kind != KindInt64 {
		return nil, invalid("zigzag format requires a signed integer kind")
	}
	if f.Format == FormatFixed && !isInteger(f.Kind) {
		return nil, invalid("fixed format requires an integer kind")
	}
	if f.Packed && (!f.Repeated || f.WireType() == protowire.BytesType) {
		return nil, invalid("packed requires a repeated scalar numeric field")
	}
	if f.Default != nil {
		if f.Repeated {
			return nil, invalid("repeated field cannot have a default")
		}
		d, err := Convert(f.Kind, f.Default)
		if err != nil {
			return nil, invalid("default: %v", err)
		}
		f.Default = d
	}

	field := &Field{}
	*field = f
	field.owner = t
	field.slot = len(t.root.slots)
	t.root.slots = append(t.root.slots, field)
	t.fields = append(t.fields, field)
	return field, nil
}

func (t *Type) tagInUse(tag protowire.Number) bool {
	if t.FieldByTag(tag) != nil {
		return true
	}
	_, ok := t.SubType(tag)
	return ok
}

func isInteger(k Kind) bool {
	switch k {
	case KindInt32, KindInt64, KindUint32, KindUint64:
		return true
	}
	return false
}
