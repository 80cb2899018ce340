// Package main implements the protoq command, which runs a query over a
// framed record stream and prints the selected columns.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/arkilian/protoq/internal/config"
	"github.com/arkilian/protoq/internal/query/parser"
	"github.com/arkilian/protoq/internal/storage"
	"github.com/arkilian/protoq/pkg/expr"
	"github.com/arkilian/protoq/pkg/protoq"
	"github.com/arkilian/protoq/pkg/schema"
)

// Flags holds the command-line arguments.
type Flags struct {
	ConfigPath string
	SchemaPath string
	Root       string
	Type       string
	Where      string
	Select     string
	Skip       int
	Limit      int
	Count      bool
	Explain    bool
	Stats      bool
	Stream     string

	// Framing, Compression and Reuse override the config only when their
	// names are in set.
	Framing     string
	Compression string
	Reuse       bool
	set         map[string]bool
}

func main() {
	flags := parseFlags()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, flags, os.Stdout, os.Stderr); err != nil {
		log.Fatalf("protoq: %v", err)
	}
}

func parseFlags() Flags {
	f := Flags{}

	flag.StringVar(&f.ConfigPath, "config", "", "Path to YAML or JSON config file")
	flag.StringVar(&f.SchemaPath, "schema", "", "Path to YAML schema declaration (required)")
	flag.StringVar(&f.Root, "root", "", "Root type of the stream records (required)")
	flag.StringVar(&f.Type, "type", "", "Restrict results to this type and its subtypes")
	flag.StringVar(&f.Where, "where", "", "Predicate, e.g. \"Id % 2 = 0 AND Name != 'x'\"")
	flag.StringVar(&f.Select, "select", "", "Comma-separated columns to print")
	flag.IntVar(&f.Skip, "skip", 0, "Skip records with a stream index below n")
	flag.IntVar(&f.Limit, "limit", 0, "Stop after n rows (0 = no limit)")
	flag.BoolVar(&f.Count, "count", false, "Print the number of matching records instead of rows")
	flag.BoolVar(&f.Explain, "explain", false, "Describe the reduced hierarchy instead of running the query")
	flag.BoolVar(&f.Stats, "stats", false, "Print field access and scan statistics to stderr")
	flag.StringVar(&f.Framing, "framing", "", "Frame length prefix: base128, fixed32, fixed32be")
	flag.StringVar(&f.Compression, "compression", "", "Frame compression: none, snappy")
	flag.BoolVar(&f.Reuse, "reuse", false, "Decode every record into a single instance")

	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: protoq -schema staff.yaml -root Employee [flags] <stream|prefix/|->\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	f.set = make(map[string]bool)
	flag.Visit(func(fl *flag.Flag) { f.set[fl.Name] = true })

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}
	f.Stream = flag.Arg(0)
	return f
}

// loadConfig layers the config file, PROTOQ_* variables and explicit flags.
func loadConfig(f Flags) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if f.ConfigPath != "" {
		var err error
		if cfg, err = config.LoadFromFile(f.ConfigPath); err != nil {
			return nil, err
		}
	}
	config.LoadFromEnv(cfg)

	if f.set["framing"] {
		cfg.Query.Framing = f.Framing
	}
	if f.set["compression"] {
		cfg.Query.Compression = f.Compression
	}
	if f.set["reuse"] {
		cfg.Query.Reuse = f.Reuse
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func run(ctx context.Context, f Flags, stdout, stderr io.Writer) error {
	if f.SchemaPath == "" || f.Root == "" {
		return fmt.Errorf("-schema and -root are required")
	}

	cfg, err := loadConfig(f)
	if err != nil {
		return err
	}
	opts, err := cfg.QueryOptions()
	if err != nil {
		return err
	}

	model, err := schema.LoadFile(f.SchemaPath)
	if err != nil {
		return err
	}
	root, ok := model.Lookup(f.Root)
	if !ok {
		return fmt.Errorf("unknown root type %q", f.Root)
	}

	var where expr.Expr
	if strings.TrimSpace(f.Where) != "" {
		if where, err = parser.ParseExpr(f.Where); err != nil {
			return fmt.Errorf("-where: %w", err)
		}
	}
	cols, err := parser.ParseList(f.Select)
	if err != nil {
		return fmt.Errorf("-select: %w", err)
	}

	var stats *protoq.QueryStats
	if cfg.Stats.Enabled {
		stats = protoq.NewQueryStats(cfg.Stats.Window)
		opts.Stats = stats
	}

	src, err := openStream(ctx, cfg, f.Stream)
	if err != nil {
		return err
	}
	defer src.Close()

	b := protoq.New(bufio.NewReader(src), root, protoq.WithOptions(opts))
	q := b.Query
	if f.Type != "" {
		t, ok := model.Lookup(f.Type)
		if !ok {
			return fmt.Errorf("unknown type %q", f.Type)
		}
		q = b.OfType(t)
	}
	if where != nil {
		q = q.Where(where)
	}
	if f.Skip > 0 {
		q = q.Skip(f.Skip)
	}

	out := bufio.NewWriter(stdout)
	defer out.Flush()

	switch {
	case f.Explain:
		plan, err := q.Explain(cols...)
		if err != nil {
			return err
		}
		fmt.Fprint(out, plan)
	case f.Count:
		n, err := q.Count()
		if err != nil {
			return err
		}
		fmt.Fprintln(out, n)
	default:
		if err := printRows(ctx, out, q, cols, f.Limit); err != nil {
			return err
		}
	}

	if f.Stats && stats != nil {
		printStats(stderr, stats, cfg.Stats.TopFields)
	}
	return nil
}

// openStream opens "-" as stdin and anything else through storage. A stream
// ending in a slash reads every object below that prefix in name order.
func openStream(ctx context.Context, cfg *config.Config, stream string) (io.ReadCloser, error) {
	if stream == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	return storage.OpenURI(ctx, cfg.S3(), cfg.Location(stream))
}

// printRows writes a header line and one tab-separated line per row.
func printRows(ctx context.Context, w io.Writer, q *protoq.Query, cols []expr.Expr, limit int) error {
	rows, err := q.Select(cols...)
	if err != nil {
		return err
	}
	fmt.Fprintln(w, strings.Join(rows.Columns(), "\t"))

	n := 0
	for row, err := range rows.All() {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		fields := make([]string, len(row))
		for i, v := range row {
			fields[i] = formatValue(v)
		}
		fmt.Fprintln(w, strings.Join(fields, "\t"))
		n++
		if limit > 0 && n >= limit {
			break
		}
	}
	return nil
}

func formatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "NULL"
	case []byte:
		return fmt.Sprintf("%x", x)
	default:
		return fmt.Sprint(x)
	}
}

func printStats(w io.Writer, stats *protoq.QueryStats, top int) {
	t := stats.Totals()
	fmt.Fprintf(w, "scans=%d decoded=%d type_skipped=%d filtered=%d yielded=%d bytes=%d elapsed=%v\n",
		t.Scans, t.Decoded, t.TypeSkipped, t.Filtered, t.Yielded, t.Bytes, t.Elapsed)
	for _, fs := range stats.GetTopFields(top) {
		roles := make([]string, 0, len(fs.Roles))
		for role, n := range fs.Roles {
			roles = append(roles, fmt.Sprintf("%s=%d", role, n))
		}
		sort.Strings(roles)
		fmt.Fprintf(w, "field %s: %d (%s)\n", fs.Field, fs.Frequency, strings.Join(roles, " "))
	}
}
