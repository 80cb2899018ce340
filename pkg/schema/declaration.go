package schema

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"google.golang.org/protobuf/encoding/protowire"
	"gopkg.in/yaml.v3"

	perrors "github.com/arkilian/protoq/internal/errors"
)

// Declaration is the YAML form of a model:
//
//	types:
//	  - name: Employee
//	    fields:
//	      - {name: Id, tag: 1, kind: int32}
//	      - {name: Name, tag: 2, kind: string}
//	    subtypes:
//	      - name: Manager
//	        tag: 10
//	        fields:
//	          - {name: Level, tag: 1, kind: int32}
type Declaration struct {
	Types []TypeDecl `yaml:"types"`
}

// TypeDecl declares one type and, recursively, its subtypes.
type TypeDecl struct {
	Name     string      `yaml:"name"`
	Tag      int32       `yaml:"tag,omitempty"`
	Fields   []FieldDecl `yaml:"fields,omitempty"`
	SubTypes []TypeDecl  `yaml:"subtypes,omitempty"`
}

// FieldDecl declares one field. Message names a type declared anywhere in
// the same document.
type FieldDecl struct {
	Name     string `yaml:"name"`
	Tag      int32  `yaml:"tag"`
	Kind     string `yaml:"kind"`
	Format   string `yaml:"format,omitempty"`
	Default  any    `yaml:"default,omitempty"`
	Required bool   `yaml:"required,omitempty"`
	Nullable bool   `yaml:"nullable,omitempty"`
	Repeated bool   `yaml:"repeated,omitempty"`
	Packed   bool   `yaml:"packed,omitempty"`
	Message  string `yaml:"message,omitempty"`
}

// LoadFile reads a YAML declaration from path and builds a model from it.
func LoadFile(path string) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("schema: failed to read %s: %w", path, err)
	}
	return Load(bytes.NewReader(data))
}

// Load decodes a YAML declaration and builds a model from it.
func Load(r io.Reader) (*Model, error) {
	var decl Declaration
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&decl); err != nil {
		return nil, perrors.Wrap(perrors.ErrCategorySchema, perrors.CodeInvalidSchema,
			"failed to parse schema declaration", err)
	}
	return decl.Build()
}

// Build registers every declared type in a new model. Types are created in
// a first pass so message fields may reference types declared later.
func (d *Declaration) Build() (*Model, error) {
	m := NewModel()

	type pending struct {
		typ  *Type
		decl *TypeDecl
	}
	var all []pending

	var register func(parent *Type, td *TypeDecl) error
	register = func(parent *Type, td *TypeDecl) error {
		var (
			t   *Type
			err error
		)
		if parent == nil {
			if td.Tag != 0 {
				return perrors.NewSchemaError(perrors.CodeInvalidSchema,
					fmt.Sprintf("root type %s cannot declare a tag", td.Name))
			}
			t, err = m.Add(td.Name)
		} else {
			t, err = m.AddSubType(parent, protowire.Number(td.Tag), td.Name)
		}
		if err != nil {
			return err
		}
		all = append(all, pending{typ: t, decl: td})
		for i := range td.SubTypes {
			if err := register(t, &td.SubTypes[i]); err != nil {
				return err
			}
		}
		return nil
	}
	for i := range d.Types {
		if err := register(nil, &d.Types[i]); err != nil {
			return nil, err
		}
	}

	for _, p := range all {
		for _, fd := range p.decl.Fields {
			f, err := fd.field(m)
			if err != nil {
				return nil, perrors.Wrap(perrors.ErrCategorySchema, perrors.CodeInvalidSchema,
					fmt.Sprintf("%s.%s", p.typ.Name(), fd.Name), err)
			}
			if _, err := p.typ.AddField(f); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

func (fd FieldDecl) field(m *Model) (Field, error) {
	kind, err := ParseKind(fd.Kind)
	if err != nil {
		return Field{}, err
	}
	format, err := ParseFormat(fd.Format)
	if err != nil {
		return Field{}, err
	}
	// sint/sfixed/fixed spellings imply a format
	switch fd.Kind {
	case "sint32", "sint64":
		format = FormatZigZag
	case "sfixed32", "sfixed64", "fixed32", "fixed64":
		format = FormatFixed
	}

	f := Field{
		Name:     fd.Name,
		Tag:      protowire.Number(fd.Tag),
		Kind:     kind,
		Format:   format,
		Default:  fd.Default,
		Required: fd.Required,
		Nullable: fd.Nullable,
		Repeated: fd.Repeated,
		Packed:   fd.Packed,
	}
	if kind == KindMessage {
		mt, ok := m.Lookup(fd.Message)
		if !ok {
			return Field{}, fmt.Errorf("unknown message type %q", fd.Message)
		}
		f.Message = mt.Root()
	} else if fd.Message != "" {
		return Field{}, fmt.Errorf("message set on %s field", kind)
	}
	return f, nil
}
