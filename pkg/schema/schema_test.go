package schema

import (
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	perrors "github.com/arkilian/protoq/internal/errors"
)

func employeeModel(t *testing.T) (*Model, *Type, *Type) {
	t.Helper()
	m := NewModel()
	emp, err := m.Add("Employee")
	require.NoError(t, err)
	_, err = emp.AddField(Field{Name: "Id", Tag: 1, Kind: KindInt32})
	require.NoError(t, err)
	_, err = emp.AddField(Field{Name: "Name", Tag: 2, Kind: KindString})
	require.NoError(t, err)
	_, err = emp.AddField(Field{Name: "Address", Tag: 3, Kind: KindString})
	require.NoError(t, err)

	mgr, err := m.AddSubType(emp, 10, "Manager")
	require.NoError(t, err)
	_, err = mgr.AddField(Field{Name: "Level", Tag: 1, Kind: KindInt32, Default: 1})
	require.NoError(t, err)
	return m, emp, mgr
}

func TestModel_Hierarchy(t *testing.T) {
	m, emp, mgr := employeeModel(t)

	got, ok := m.Lookup("Manager")
	require.True(t, ok)
	assert.Same(t, mgr, got)
	assert.Same(t, emp, mgr.Parent())
	assert.Same(t, emp, mgr.Root())
	assert.Equal(t, 1, mgr.Depth())
	assert.EqualValues(t, 10, mgr.ParentTag())

	sub, ok := emp.SubType(10)
	require.True(t, ok)
	assert.Same(t, mgr, sub)

	assert.True(t, emp.IsAssignableFrom(mgr))
	assert.True(t, mgr.IsAssignableFrom(mgr))
	assert.False(t, mgr.IsAssignableFrom(emp))

	assert.Equal(t, []*Type{emp, mgr}, mgr.Path())
	assert.Equal(t, 4, emp.SlotCount())
	assert.Equal(t, 4, mgr.SlotCount())
}

func TestType_FieldResolution(t *testing.T) {
	_, emp, mgr := employeeModel(t)

	id := mgr.Field("Id")
	require.NotNil(t, id)
	assert.Same(t, emp, id.Owner())
	assert.Equal(t, "Employee.Id", id.QualifiedName())

	assert.Nil(t, mgr.OwnField("Id"))
	assert.Nil(t, emp.Field("Level"))
	assert.Equal(t, int64(1), mgr.Field("Level").Zero())
	assert.Equal(t, int64(0), id.Zero())
	assert.Nil(t, (&Field{Kind: KindInt32, Nullable: true}).Zero())
	assert.Equal(t, int64(5), (&Field{Kind: KindInt32, Nullable: true, Default: int64(5)}).Zero())

	slots := map[int]bool{}
	for _, typ := range []*Type{emp, mgr} {
		for _, f := range typ.Fields() {
			assert.False(t, slots[f.Slot()], "slot %d reused", f.Slot())
			slots[f.Slot()] = true
		}
	}
}

func TestType_AddFieldValidation(t *testing.T) {
	_, emp, _ := employeeModel(t)

	tests := []struct {
		name  string
		field Field
	}{
		{"empty name", Field{Tag: 20, Kind: KindInt32}},
		{"zero tag", Field{Name: "A", Tag: 0, Kind: KindInt32}},
		{"reserved tag", Field{Name: "A", Tag: 19000, Kind: KindInt32}},
		{"duplicate name", Field{Name: "Id", Tag: 20, Kind: KindInt32}},
		{"duplicate tag", Field{Name: "A", Tag: 1, Kind: KindInt32}},
		{"clashes with subtype tag", Field{Name: "A", Tag: 10, Kind: KindInt32}},
		{"no kind", Field{Name: "A", Tag: 20}},
		{"message without type", Field{Name: "A", Tag: 20, Kind: KindMessage}},
		{"zigzag on string", Field{Name: "A", Tag: 20, Kind: KindString, Format: FormatZigZag}},
		{"fixed on float", Field{Name: "A", Tag: 20, Kind: KindFloat64, Format: FormatFixed}},
		{"packed string", Field{Name: "A", Tag: 20, Kind: KindString, Repeated: true, Packed: true}},
		{"bad default", Field{Name: "A", Tag: 20, Kind: KindInt32, Default: "x"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := emp.AddField(tt.field)
			require.Error(t, err)
			assert.True(t, errors.Is(err, perrors.ErrInvalidSchema), "got %v", err)
		})
	}
}

func TestModel_SubTypeValidation(t *testing.T) {
	m, emp, _ := employeeModel(t)

	_, err := m.AddSubType(emp, 10, "Other")
	assert.ErrorIs(t, err, perrors.ErrInvalidSchema)

	_, err = m.AddSubType(emp, 1, "Other")
	assert.ErrorIs(t, err, perrors.ErrInvalidSchema)

	_, err = m.Add("Employee")
	assert.ErrorIs(t, err, perrors.ErrInvalidSchema)

	_, err = NewModel().AddSubType(emp, 11, "Foreign")
	assert.ErrorIs(t, err, perrors.ErrInvalidSchema)
}

func TestType_CopyField(t *testing.T) {
	m, emp, _ := employeeModel(t)
	orig, err := emp.AddField(Field{Name: "Score", Tag: 7, Kind: KindInt64, Format: FormatZigZag, Default: -3, Nullable: true})
	require.NoError(t, err)

	reduced, err := m.Add("x.Employee", Synthetic(emp))
	require.NoError(t, err)
	cp, err := reduced.CopyField(orig)
	require.NoError(t, err)

	assert.Equal(t, orig.Name, cp.Name)
	assert.Equal(t, orig.Tag, cp.Tag)
	assert.Equal(t, orig.Kind, cp.Kind)
	assert.Equal(t, orig.Format, cp.Format)
	assert.Equal(t, int64(-3), cp.Default)
	assert.True(t, cp.Nullable)
	assert.Same(t, reduced, cp.Owner())
	assert.Equal(t, 0, cp.Slot())

	assert.True(t, reduced.Synthetic())
	assert.Same(t, emp, reduced.Origin())
	for _, typ := range m.Types() {
		assert.False(t, typ.Synthetic(), "Types should hide synthetic %s", typ.Name())
	}
}

func TestModel_AttachBuildsOnce(t *testing.T) {
	m := NewModel()
	type key struct{}

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		calls int
	)
	results := make([]any, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = m.Attach(key{}, func() any {
				mu.Lock()
				calls++
				mu.Unlock()
				return new(int)
			})
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, calls)
	for _, r := range results {
		assert.Same(t, results[0], r)
	}
}

func TestConvert(t *testing.T) {
	tests := []struct {
		kind    Kind
		in      any
		want    any
		wantErr bool
	}{
		{KindInt32, 5, int64(5), false},
		{KindInt32, float64(7), int64(7), false},
		{KindInt32, 1.5, nil, true},
		{KindInt32, int64(1) << 40, nil, true},
		{KindInt64, int64(1) << 40, int64(1) << 40, false},
		{KindUint32, -1, nil, true},
		{KindUint64, uint64(1) << 63, uint64(1) << 63, false},
		{KindFloat32, 2, float64(2), false},
		{KindFloat64, float32(0.5), float64(0.5), false},
		{KindBool, true, true, false},
		{KindBool, 1, nil, true},
		{KindString, []byte("ab"), "ab", false},
		{KindBytes, "ab", []byte("ab"), false},
	}

	for _, tt := range tests {
		got, err := Convert(tt.kind, tt.in)
		if tt.wantErr {
			assert.Error(t, err, "%s(%v)", tt.kind, tt.in)
			continue
		}
		require.NoError(t, err, "%s(%v)", tt.kind, tt.in)
		assert.Equal(t, tt.want, got)
	}
}

const declarationYAML = `
types:
  - name: Address
    fields:
      - {name: City, tag: 1, kind: string}
  - name: Employee
    fields:
      - {name: Id, tag: 1, kind: int32}
      - {name: Name, tag: 2, kind: string}
      - {name: Home, tag: 3, kind: message, message: Address}
      - {name: Tags, tag: 4, kind: string, repeated: true}
      - {name: Delta, tag: 5, kind: sint64}
    subtypes:
      - name: Manager
        tag: 10
        fields:
          - {name: Level, tag: 1, kind: int32, default: 2}
        subtypes:
          - name: Director
            tag: 20
            fields:
              - {name: Budget, tag: 1, kind: double}
`

func TestLoad(t *testing.T) {
	m, err := Load(strings.NewReader(declarationYAML))
	require.NoError(t, err)

	dir := m.MustLookup("Director")
	assert.Equal(t, "Manager", dir.Parent().Name())
	assert.Equal(t, "Employee", dir.Root().Name())
	assert.EqualValues(t, 20, dir.ParentTag())

	home := dir.Field("Home")
	require.NotNil(t, home)
	assert.Equal(t, KindMessage, home.Kind)
	assert.Same(t, m.MustLookup("Address"), home.Message)

	delta := dir.Field("Delta")
	assert.Equal(t, FormatZigZag, delta.Format)
	assert.Equal(t, int64(2), dir.Field("Level").Zero())
	assert.True(t, dir.Field("Tags").Repeated)

	names := []string{}
	for _, typ := range m.Types() {
		names = append(names, typ.Name())
	}
	assert.Equal(t, []string{"Address", "Director", "Employee", "Manager"}, names)
}

func TestLoad_Errors(t *testing.T) {
	tests := map[string]string{
		"unknown key":     "types: [{name: A, bogus: 1}]",
		"unknown message": "types: [{name: A, fields: [{name: B, tag: 1, kind: message, message: Nope}]}]",
		"bad kind":        "types: [{name: A, fields: [{name: B, tag: 1, kind: decimal}]}]",
		"root with tag":   "types: [{name: A, tag: 3}]",
		"missing subtag":  "types: [{name: A, subtypes: [{name: B}]}]",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Load(strings.NewReader(doc))
			require.Error(t, err)
			assert.ErrorIs(t, err, perrors.ErrInvalidSchema)
		})
	}
}
