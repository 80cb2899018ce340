package protoq

import (
	"bytes"
	"fmt"
	"reflect"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arkilian/protoq/internal/projection"
	"github.com/arkilian/protoq/pkg/codec"
	"github.com/arkilian/protoq/pkg/expr"
	"github.com/arkilian/protoq/pkg/schema"
)

const staffSchema = `
types:
  - name: Employee
    fields:
      - {name: Id, tag: 1, kind: int32}
      - {name: Name, tag: 2, kind: string}
      - {name: Address, tag: 3, kind: string}
    subtypes:
      - name: Manager
        tag: 10
        fields:
          - {name: Level, tag: 1, kind: int32}
          - {name: Reports, tag: 2, kind: string, repeated: true}
`

type staff struct {
	model    *schema.Model
	emp, mgr *schema.Type
}

func loadStaff(t testing.TB) *staff {
	t.Helper()
	m, err := schema.Load(strings.NewReader(staffSchema))
	require.NoError(t, err)
	return &staff{model: m, emp: m.MustLookup("Employee"), mgr: m.MustLookup("Manager")}
}

type person struct {
	id      int
	name    string
	address string
	manager bool
	level   int
}

func (s *staff) record(p person) *codec.Record {
	typ := s.emp
	if p.manager {
		typ = s.mgr
	}
	rec := codec.NewRecord(typ)
	mustSet(rec, s.emp.OwnField("Id"), p.id)
	mustSet(rec, s.emp.OwnField("Name"), p.name)
	mustSet(rec, s.emp.OwnField("Address"), p.address)
	if p.manager {
		mustSet(rec, s.mgr.OwnField("Level"), p.level)
		mustSet(rec, s.mgr.OwnField("Reports"), []string{"a", "b"})
	}
	return rec
}

func mustSet(rec *codec.Record, f *schema.Field, v any) {
	if err := rec.Set(f, v); err != nil {
		panic(err)
	}
}

func (s *staff) encode(t testing.TB, people []person, opts codec.Options) []byte {
	var buf bytes.Buffer
	w := codec.NewWriter(&buf, opts)
	for _, p := range people {
		if err := w.Write(s.record(p)); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	return buf.Bytes()
}

// alternating returns n records alternating Employee and Manager with Id = i.
func alternating(n int) []person {
	people := make([]person, n)
	for i := range people {
		people[i] = person{
			id:      i,
			name:    fmt.Sprintf("name-%d", i),
			address: fmt.Sprintf("%d Main St", i),
			manager: i%2 == 1,
			level:   i / 2,
		}
	}
	return people
}

func TestScenario_AlternatingEmployeesAndManagers(t *testing.T) {
	s := loadStaff(t)
	stream := s.encode(t, alternating(10), codec.Options{})

	n, err := New(bytes.NewReader(stream), s.emp).OfType(s.mgr).Count()
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)

	rows, err := New(bytes.NewReader(stream), s.emp).
		Where(expr.Eq(expr.Mod(expr.Get("Id"), expr.Lit(2)), expr.Lit(0))).
		Select(expr.Get("Id"), expr.Get("Name"))
	require.NoError(t, err)
	got, err := rows.Collect()
	require.NoError(t, err)

	want := []Row{
		{int64(0), "name-0"},
		{int64(2), "name-2"},
		{int64(4), "name-4"},
		{int64(6), "name-6"},
		{int64(8), "name-8"},
	}
	assert.Equal(t, want, got)
}

func TestScenario_RootFieldAcrossThreeLevels(t *testing.T) {
	m, err := schema.Load(strings.NewReader(`
types:
  - name: Root
    fields:
      - {name: Id, tag: 1, kind: int64}
      - {name: Label, tag: 2, kind: string}
    subtypes:
      - name: Mid
        tag: 10
        fields:
          - {name: Weight, tag: 1, kind: double}
        subtypes:
          - name: Leaf
            tag: 20
            fields:
              - {name: Note, tag: 1, kind: string}
`))
	require.NoError(t, err)
	root, mid, leaf := m.MustLookup("Root"), m.MustLookup("Mid"), m.MustLookup("Leaf")

	var buf bytes.Buffer
	w := codec.NewWriter(&buf, codec.Options{})
	for i, typ := range []*schema.Type{root, mid, leaf, leaf, mid} {
		rec := codec.NewRecord(typ)
		mustSet(rec, root.OwnField("Id"), i*10)
		mustSet(rec, root.OwnField("Label"), "x")
		if typ != root {
			mustSet(rec, mid.OwnField("Weight"), 1.5)
		}
		if typ == leaf {
			mustSet(rec, leaf.OwnField("Note"), "leaf note")
		}
		require.NoError(t, w.Write(rec))
	}
	stream := buf.Bytes()

	h, err := projection.For(m).Build(root, []*schema.Field{root.OwnField("Id")})
	require.NoError(t, err)
	assert.Len(t, h.Root().Fields(), 1)
	rMid, ok := h.Counterpart(mid)
	require.True(t, ok)
	rLeaf, ok := h.Counterpart(leaf)
	require.True(t, ok)
	assert.Empty(t, rMid.Fields())
	assert.Empty(t, rLeaf.Fields())
	assert.Same(t, rMid, rLeaf.Parent())

	rows, err := New(bytes.NewReader(stream), root).OfType(leaf).Select(expr.Get("Id"))
	require.NoError(t, err)
	got, err := rows.Collect()
	require.NoError(t, err)
	assert.Equal(t, []Row{{int64(20)}, {int64(30)}}, got)

	n, err := New(bytes.NewReader(stream), root).OfType(mid).Count()
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
}

func TestSelect_ConstructionErrors(t *testing.T) {
	s := loadStaff(t)
	stream := s.encode(t, alternating(4), codec.Options{})

	tests := []struct {
		name string
		run  func(b *Builder) error
		want error
	}{
		{"raw item", func(b *Builder) error {
			_, err := b.Select(expr.Item())
			return err
		}, ErrUnsupportedProjection},
		{"raw item after OfType", func(b *Builder) error {
			_, err := b.OfType(s.mgr).Select(expr.Item())
			return err
		}, ErrUnsupportedProjection},
		{"item in predicate", func(b *Builder) error {
			_, err := b.Where(expr.Ne(expr.Item(), expr.Lit(nil))).Select(expr.Get("Id"))
			return err
		}, ErrUnsupportedProjection},
		{"unknown field", func(b *Builder) error {
			_, err := b.Select(expr.Get("Salary"))
			return err
		}, ErrUnknownField},
		{"subtype field without OfType", func(b *Builder) error {
			_, err := b.Select(expr.Get("Level"))
			return err
		}, ErrUnknownField},
		{"bad restriction", func(b *Builder) error {
			other, err := schema.Load(strings.NewReader(staffSchema))
			require.NoError(t, err)
			_, err = b.OfType(other.MustLookup("Manager")).Count()
			return err
		}, ErrInvalidRestriction},
		{"non-boolean predicate", func(b *Builder) error {
			_, err := b.Where(expr.Get("Id")).Count()
			return err
		}, ErrTypeMismatch},
		{"nil predicate", func(b *Builder) error {
			_, err := b.Where(nil).Where(expr.Get("Salary")).Count()
			return err
		}, ErrTypeMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := bytes.NewReader(stream)
			err := tt.run(New(r, s.emp))
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, len(stream), r.Len(), "no bytes read on construction error")
		})
	}

	_, err := New(bytes.NewReader(stream), nil).Count()
	assert.ErrorIs(t, err, ErrInvalidRestriction)
}

func TestSelect_IsLazy(t *testing.T) {
	s := loadStaff(t)
	stream := s.encode(t, alternating(4), codec.Options{})
	r := bytes.NewReader(stream)

	rows, err := New(r, s.emp).Select(expr.Get("Id"))
	require.NoError(t, err)
	assert.Equal(t, len(stream), r.Len())
	assert.Equal(t, []string{"Employee.Id"}, rows.Columns())

	for row, err := range rows.All() {
		require.NoError(t, err)
		assert.Equal(t, int64(0), row[0])
		break
	}
	assert.Less(t, r.Len(), len(stream))
	assert.Greater(t, r.Len(), 0)
}

func TestQuery_IsImmutable(t *testing.T) {
	s := loadStaff(t)
	stream := s.encode(t, alternating(10), codec.Options{})

	b := New(bytes.NewReader(stream), s.emp)
	base := b.Where(expr.Ge(expr.Get("Id"), expr.Lit(4)))
	_ = base.Where(expr.Lt(expr.Get("Id"), expr.Lit(6)))

	n, err := base.Count()
	require.NoError(t, err)
	assert.Equal(t, int64(6), n)
}

func TestQuery_SharesStreamPosition(t *testing.T) {
	s := loadStaff(t)
	stream := s.encode(t, alternating(6), codec.Options{})
	b := New(bytes.NewReader(stream), s.emp)

	first, err := b.First(expr.Get("Id"))
	require.NoError(t, err)
	assert.Equal(t, Row{int64(0)}, first)

	// Queries never rewind, and indexes restart at the current position.
	rows, err := b.Select(expr.Get("Id"), expr.Index())
	require.NoError(t, err)
	got, err := rows.Collect()
	require.NoError(t, err)
	require.Len(t, got, 5)
	assert.Equal(t, Row{int64(1), int64(0)}, got[0])

	_, err = b.First(expr.Get("Id"))
	assert.ErrorIs(t, err, ErrEmptySequence)
}

func TestDerivedOperations(t *testing.T) {
	s := loadStaff(t)
	stream := s.encode(t, alternating(10), codec.Options{})
	q := func() *Builder { return New(bytes.NewReader(stream), s.emp) }
	id := expr.Get("Id")

	n, err := q().Skip(3).Count()
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)

	ok, err := q().Any()
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = q().AnyWhere(expr.Gt(id, expr.Lit(100)))
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = q().All(expr.Lt(id, expr.Lit(10)))
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = q().OfType(s.mgr).All(expr.Eq(expr.Mod(id, expr.Lit(2)), expr.Lit(1)))
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = q().All(expr.Lt(id, expr.Lit(5)))
	require.NoError(t, err)
	assert.False(t, ok)
	_, err = q().All(nil)
	assert.ErrorIs(t, err, ErrTypeMismatch)

	avg, err := q().Average(id)
	require.NoError(t, err)
	assert.InDelta(t, 4.5, avg, 1e-9)
	sum, err := q().OfType(s.mgr).Sum(expr.Get("Level"))
	require.NoError(t, err)
	assert.InDelta(t, 0+1+2+3+4, sum, 1e-9)
	_, err = q().Where(expr.Gt(id, expr.Lit(100))).Average(id)
	assert.ErrorIs(t, err, ErrEmptySequence)
	_, err = q().Average(expr.Get("Name"))
	assert.ErrorIs(t, err, ErrTypeMismatch)

	row, err := q().ElementAt(4, id, expr.Index())
	require.NoError(t, err)
	assert.Equal(t, Row{int64(4), int64(4)}, row)
	row, err = q().OfType(s.mgr).ElementAt(4, id)
	require.NoError(t, err)
	assert.Equal(t, Row{int64(5)}, row, "index counts every record read")
	_, err = q().ElementAt(10, id)
	assert.ErrorIs(t, err, ErrElementNotFound)
	row, err = q().ElementAtOrDefault(10, id)
	require.NoError(t, err)
	assert.Nil(t, row)

	total, err := Fold(q().OfType(s.mgr), "", func(acc string, r Row) string {
		return acc + r[0].(string) + ";"
	}, expr.Get("Name"))
	require.NoError(t, err)
	assert.Equal(t, "name-1;name-3;name-5;name-7;name-9;", total)
}

func TestSelect_FramingAndCompression(t *testing.T) {
	s := loadStaff(t)
	people := alternating(8)

	for _, framing := range []codec.Framing{codec.FramingBase128, codec.FramingFixed32, codec.FramingFixed32BigEndian} {
		for _, comp := range []codec.Compression{codec.CompressionNone, codec.CompressionSnappy} {
			t.Run(fmt.Sprintf("%s/%s", framing, comp), func(t *testing.T) {
				stream := s.encode(t, people, codec.Options{Framing: framing, Compression: comp})
				rows, err := New(bytes.NewReader(stream), s.emp,
					WithFraming(framing), WithCompression(comp), WithMaxFrameSize(1<<10)).
					OfType(s.mgr).
					Select(expr.Get("Level"), expr.Get("Reports"))
				require.NoError(t, err)
				got, err := rows.Collect()
				require.NoError(t, err)
				require.Len(t, got, 4)
				assert.Equal(t, Row{int64(3), []any{"a", "b"}}, got[3])
			})
		}
	}
}

func TestSelect_StreamDecodeError(t *testing.T) {
	s := loadStaff(t)
	stream := s.encode(t, alternating(3), codec.Options{})

	var seen int
	rows, err := New(bytes.NewReader(stream[:len(stream)-2]), s.emp).Select(expr.Get("Id"))
	require.NoError(t, err)
	var last error
	for _, err := range rows.All() {
		if err != nil {
			last = err
			continue
		}
		seen++
	}
	assert.Equal(t, 2, seen)
	assert.ErrorIs(t, last, ErrStreamDecode)

	_, err = New(bytes.NewReader(stream), s.emp, WithMaxFrameSize(4)).Count()
	assert.ErrorIs(t, err, ErrStreamDecode)
}

func TestSelect_NullableFieldReadsAsNull(t *testing.T) {
	m, err := schema.Load(strings.NewReader(`
types:
  - name: Player
    fields:
      - {name: Id, tag: 1, kind: int32}
      - {name: Score, tag: 2, kind: int32, nullable: true}
`))
	require.NoError(t, err)
	player := m.MustLookup("Player")
	id, score := player.OwnField("Id"), player.OwnField("Score")

	var buf bytes.Buffer
	w := codec.NewWriter(&buf, codec.Options{})
	for i, v := range []any{0, nil, 7} {
		rec := codec.NewRecord(player)
		mustSet(rec, id, i)
		mustSet(rec, score, v)
		require.NoError(t, w.Write(rec))
	}
	stream := buf.Bytes()

	rows, err := New(bytes.NewReader(stream), player).Select(
		expr.Get("Score"),
		expr.Eq(expr.Get("Score"), expr.Lit(nil)),
		expr.Add(expr.Get("Score"), expr.Lit(1)),
		expr.Negate(expr.Get("Score")),
	)
	require.NoError(t, err)
	got, err := rows.Collect()
	require.NoError(t, err)
	assert.Equal(t, []Row{
		{int64(0), false, int64(1), int64(0)},
		{nil, true, nil, nil},
		{int64(7), false, int64(8), int64(-7)},
	}, got)

	n, err := New(bytes.NewReader(stream), player).Where(expr.Gt(expr.Add(expr.Get("Score"), expr.Lit(1)), expr.Lit(0))).Count()
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	avg, err := New(bytes.NewReader(stream), player).Average(expr.Get("Score"))
	require.NoError(t, err)
	assert.Equal(t, 3.5, avg)
}

func TestSelect_EvaluationError(t *testing.T) {
	s := loadStaff(t)
	stream := s.encode(t, alternating(3), codec.Options{})

	_, err := New(bytes.NewReader(stream), s.emp).Select(expr.Div(expr.Lit(10), expr.Get("Id")))
	require.NoError(t, err)
	_, err = New(bytes.NewReader(stream), s.emp).First(expr.Div(expr.Lit(10), expr.Get("Id")))
	assert.ErrorIs(t, err, ErrEvaluationFailed)
}

func TestOptions_StatsAndMetrics(t *testing.T) {
	s := loadStaff(t)
	stream := s.encode(t, alternating(10), codec.Options{})
	stats := NewQueryStats(0)
	metrics := NewMetrics(prometheus.NewRegistry())

	for i := 0; i < 2; i++ {
		n, err := New(bytes.NewReader(stream), s.emp, WithStats(stats), WithMetrics(metrics)).
			OfType(s.mgr).
			Where(expr.Gt(expr.Get("Level"), expr.Lit(2))).
			Count()
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)
	}

	assert.Equal(t, int64(2), stats.Totals().Scans)
	assert.Equal(t, int64(20), stats.Totals().Decoded)
	top := stats.GetTopFields(1)
	require.Len(t, top, 1)
	assert.Equal(t, "Manager.Level", top[0].Field)
	assert.Equal(t, int64(2), top[0].Frequency)

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.Synthesis.WithLabelValues("miss")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.Synthesis.WithLabelValues("hit")))
	assert.Equal(t, float64(4), testutil.ToFloat64(metrics.RecordsYielded))
}

func TestExplain(t *testing.T) {
	s := loadStaff(t)
	out, err := New(bytes.NewReader(nil), s.emp).
		OfType(s.mgr).
		Where(expr.Gt(expr.Get("Level"), expr.Lit(1))).
		Explain(expr.Get("Name"))
	require.NoError(t, err)
	assert.Contains(t, out, "root: Employee")
	assert.Contains(t, out, "restrict: Manager")
	assert.Contains(t, out, "field: Manager.Level")
	assert.Contains(t, out, "field: Employee.Name")
	assert.NotContains(t, out, "Address")
}

func genPeople() gopter.Gen {
	return gen.SliceOf(gen.Struct(reflectPerson, map[string]gopter.Gen{
		"ID":      gen.IntRange(-1000, 1000),
		"Name":    gen.AlphaString(),
		"Manager": gen.Bool(),
		"Level":   gen.IntRange(0, 10),
	})).Map(func(ps []genPerson) []person {
		out := make([]person, len(ps))
		for i, p := range ps {
			out[i] = person{id: p.ID, name: p.Name, address: "addr", manager: p.Manager, level: p.Level}
		}
		return out
	})
}

type genPerson struct {
	ID      int
	Name    string
	Manager bool
	Level   int
}

var reflectPerson = reflect.TypeOf(genPerson{})

func TestProperty_FilterFusion(t *testing.T) {
	s := loadStaff(t)
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("chained Where equals a single AND", prop.ForAll(
		func(people []person, lo, mod int) bool {
			stream := s.encode(t, people, codec.Options{})
			p1 := expr.Gt(expr.Get("Id"), expr.Lit(lo))
			p2 := expr.Ne(expr.Mod(expr.Index(), expr.Lit(mod)), expr.Lit(0))
			cols := []expr.Expr{expr.Get("Id"), expr.Index()}

			chained, err := New(bytes.NewReader(stream), s.emp).Where(p1).Where(p2).Select(cols...)
			if err != nil {
				return false
			}
			fused, err := New(bytes.NewReader(stream), s.emp).Where(expr.And(p1, p2)).Select(cols...)
			if err != nil {
				return false
			}
			a, errA := chained.Collect()
			b, errB := fused.Collect()
			return errA == nil && errB == nil && assert.ObjectsAreEqual(a, b)
		},
		genPeople(),
		gen.IntRange(-1000, 1000),
		gen.IntRange(1, 5),
	))

	properties.TestingRun(t)
}

func TestProperty_IndexAndRestriction(t *testing.T) {
	s := loadStaff(t)
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("OfType yields exactly the managers with their stream index", prop.ForAll(
		func(people []person) bool {
			stream := s.encode(t, people, codec.Options{})
			rows, err := New(bytes.NewReader(stream), s.emp).OfType(s.mgr).Select(expr.Index(), expr.Get("Level"))
			if err != nil {
				return false
			}
			got, err := rows.Collect()
			if err != nil {
				return false
			}
			var want []Row
			for i, p := range people {
				if p.manager {
					want = append(want, Row{int64(i), int64(p.level)})
				}
			}
			return assert.ObjectsAreEqual(want, got)
		},
		genPeople(),
	))

	properties.TestingRun(t)
}

func TestProperty_ProjectionFidelityWithReuse(t *testing.T) {
	s := loadStaff(t)
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("projected values equal the written values in both modes", prop.ForAll(
		func(people []person, reuse bool) bool {
			stream := s.encode(t, people, codec.Options{})
			rows, err := New(bytes.NewReader(stream), s.emp, WithReuse(reuse)).Select(expr.Get("Id"), expr.Get("Name"))
			if err != nil {
				return false
			}
			got, err := rows.Collect()
			if err != nil || len(got) != len(people) {
				return false
			}
			for i, p := range people {
				if got[i][0] != int64(p.id) || got[i][1] != p.name {
					return false
				}
			}
			return true
		},
		genPeople(),
		gen.Bool(),
	))

	properties.TestingRun(t)
}
