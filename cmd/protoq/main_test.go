package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	perrors "github.com/arkilian/protoq/internal/errors"
	"github.com/arkilian/protoq/pkg/codec"
	"github.com/arkilian/protoq/pkg/schema"
)

const staffSchema = `
types:
  - name: Employee
    fields:
      - {name: Id, tag: 1, kind: int32}
      - {name: Name, tag: 2, kind: string}
    subtypes:
      - name: Manager
        tag: 10
        fields:
          - {name: Level, tag: 1, kind: int32}
`

// writeFixture writes a schema and a stream of n records alternating
// Employee and Manager with Id = i, and returns base flags for them.
func writeFixture(t *testing.T, n int, opts codec.Options) Flags {
	t.Helper()
	dir := t.TempDir()
	schemaPath := filepath.Join(dir, "staff.yaml")
	require.NoError(t, os.WriteFile(schemaPath, []byte(staffSchema), 0644))

	model, err := schema.LoadFile(schemaPath)
	require.NoError(t, err)
	emp, mgr := model.MustLookup("Employee"), model.MustLookup("Manager")

	var buf bytes.Buffer
	w := codec.NewWriter(&buf, opts)
	for i := 0; i < n; i++ {
		typ := emp
		if i%2 == 1 {
			typ = mgr
		}
		rec := codec.NewRecord(typ)
		require.NoError(t, rec.Set(emp.OwnField("Id"), i))
		require.NoError(t, rec.Set(emp.OwnField("Name"), fmt.Sprintf("n%d", i)))
		if typ == mgr {
			require.NoError(t, rec.Set(mgr.OwnField("Level"), i/2))
		}
		require.NoError(t, w.Write(rec))
	}
	streamPath := filepath.Join(dir, "staff.pb")
	require.NoError(t, os.WriteFile(streamPath, buf.Bytes(), 0644))

	return Flags{SchemaPath: schemaPath, Root: "Employee", Stream: streamPath}
}

func runLines(t *testing.T, f Flags) []string {
	t.Helper()
	var out, errOut bytes.Buffer
	require.NoError(t, run(context.Background(), f, &out, &errOut))
	return strings.Split(strings.TrimRight(out.String(), "\n"), "\n")
}

func TestRun_SelectWhere(t *testing.T) {
	f := writeFixture(t, 10, codec.Options{})
	f.Where = "Id % 2 = 0"
	f.Select = "Id, Name"

	lines := runLines(t, f)
	require.Len(t, lines, 6)
	assert.Equal(t, "Employee.Id\tEmployee.Name", lines[0])
	assert.Equal(t, []string{"0\tn0", "2\tn2", "4\tn4", "6\tn6", "8\tn8"}, lines[1:])
}

func TestRun_TypeSkipLimit(t *testing.T) {
	f := writeFixture(t, 10, codec.Options{})
	f.Type = "Manager"
	f.Select = "Id, Level, $index"
	f.Skip = 4
	f.Limit = 2

	lines := runLines(t, f)
	assert.Equal(t, []string{"Employee.Id\tManager.Level\t$index", "5\t2\t5", "7\t3\t7"}, lines)
}

func TestRun_Count(t *testing.T) {
	f := writeFixture(t, 10, codec.Options{})
	f.Count = true
	f.Where = "Name IN ('n1', 'n2', 'n9')"

	assert.Equal(t, []string{"3"}, runLines(t, f))
}

func TestRun_ConfigAndFlagOverrides(t *testing.T) {
	f := writeFixture(t, 4, codec.Options{
		Framing:     codec.FramingFixed32BigEndian,
		Compression: codec.CompressionSnappy,
	})

	cfgPath := filepath.Join(t.TempDir(), "protoq.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("query:\n  framing: fixed32be\n"), 0644))
	f.ConfigPath = cfgPath
	f.Compression = "snappy"
	f.set = map[string]bool{"compression": true}
	f.Select = "Name"

	assert.Equal(t, []string{"Employee.Name", "n0", "n1", "n2", "n3"}, runLines(t, f))
}

func TestRun_RelativeStreamUsesStoragePath(t *testing.T) {
	f := writeFixture(t, 2, codec.Options{})
	cfgPath := filepath.Join(t.TempDir(), "protoq.json")
	cfg := fmt.Sprintf(`{"storage": {"type": "local", "path": %q}}`, filepath.Dir(f.Stream))
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfg), 0644))
	f.ConfigPath = cfgPath
	f.Stream = filepath.Base(f.Stream)
	f.Count = true

	assert.Equal(t, []string{"2"}, runLines(t, f))
}

func TestRun_PrefixReadsEveryObject(t *testing.T) {
	f := writeFixture(t, 4, codec.Options{})
	data, err := os.ReadFile(f.Stream)
	require.NoError(t, err)
	dir := filepath.Join(filepath.Dir(f.Stream), "parts")
	require.NoError(t, os.MkdirAll(dir, 0755))
	for _, name := range []string{"part-0.pb", "part-1.pb"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), data, 0644))
	}
	f.Stream = dir + "/"
	f.Type = "Manager"
	f.Select = "Id, $index"

	assert.Equal(t, []string{"Employee.Id	$index", "1	1", "3	3", "1	5", "3	7"}, runLines(t, f))
}

func TestRun_ExplainAndStats(t *testing.T) {
	f := writeFixture(t, 6, codec.Options{})
	f.Type = "Manager"
	f.Select = "Level"
	f.Explain = true

	out := strings.Join(runLines(t, f), "\n")
	assert.Contains(t, out, "root: Employee")
	assert.Contains(t, out, "restrict: Manager")
	assert.Contains(t, out, "field: Manager.Level")
	assert.NotContains(t, out, "Employee.Name")

	f.Explain = false
	f.Stats = true
	var stdout, stderr bytes.Buffer
	require.NoError(t, run(context.Background(), f, &stdout, &stderr))
	assert.Contains(t, stderr.String(), "decoded=6 type_skipped=3")
	assert.Contains(t, stderr.String(), "field Manager.Level: 1 (select=1)")
}

func TestRun_Errors(t *testing.T) {
	base := writeFixture(t, 2, codec.Options{})

	tests := []struct {
		name   string
		mutate func(*Flags)
		code   string
	}{
		{"missing root", func(f *Flags) { f.Root = "" }, ""},
		{"unknown root", func(f *Flags) { f.Root = "Intern" }, ""},
		{"unknown type", func(f *Flags) { f.Type = "Intern" }, ""},
		{"bad where", func(f *Flags) { f.Where = "Id =" }, perrors.CodeParseError},
		{"unknown field", func(f *Flags) { f.Select = "Salary" }, perrors.CodeUnknownField},
		{"bad framing", func(f *Flags) { f.Framing = "zigzag"; f.set = map[string]bool{"framing": true} }, ""},
		{"missing stream", func(f *Flags) { f.Stream = f.Stream + ".missing" }, perrors.CodeObjectNotFound},
		{"empty prefix", func(f *Flags) { f.Stream = filepath.Join(filepath.Dir(f.Stream), "none") + "/" }, perrors.CodeObjectNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := base
			tt.mutate(&f)
			var out, errOut bytes.Buffer
			err := run(context.Background(), f, &out, &errOut)
			require.Error(t, err)
			if tt.code != "" {
				assert.Equal(t, tt.code, perrors.GetCode(err))
			}
		})
	}
}
