// Package main implements protoq-encode, which converts JSON-lines records
// into a length-framed protobuf stream.
package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/arkilian/protoq/internal/config"
	perrors "github.com/arkilian/protoq/internal/errors"
	"github.com/arkilian/protoq/internal/storage"
	"github.com/arkilian/protoq/pkg/codec"
	"github.com/arkilian/protoq/pkg/schema"
)

// Flags holds the command-line arguments.
type Flags struct {
	ConfigPath  string
	SchemaPath  string
	Root        string
	Input       string
	Output      string
	Overwrite   bool
	Framing     string
	Compression string
}

func main() {
	f := parseFlags()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	in := os.Stdin
	if f.Input != "" && f.Input != "-" {
		file, err := os.Open(f.Input)
		if err != nil {
			log.Fatalf("Failed to open input: %v", err)
		}
		defer file.Close()
		in = file
	}

	n, err := run(ctx, f, in, os.Stdout)
	if err != nil {
		log.Fatalf("protoq-encode: %v", err)
	}
	log.Printf("protoq-encode: wrote %d records", n)
}

func parseFlags() Flags {
	f := Flags{}

	flag.StringVar(&f.ConfigPath, "config", "", "Path to YAML or JSON config file")
	flag.StringVar(&f.SchemaPath, "schema", "", "Path to YAML schema declaration (required)")
	flag.StringVar(&f.Root, "root", "", "Root type of the records (required)")
	flag.StringVar(&f.Input, "in", "-", "JSON-lines input file")
	flag.StringVar(&f.Output, "out", "-", "Stream destination: a path, file:// or s3:// URI, or - for stdout")
	flag.BoolVar(&f.Overwrite, "overwrite", false, "Replace an existing stream at -out")
	flag.StringVar(&f.Framing, "framing", "", "Frame length prefix: base128, fixed32, fixed32be")
	flag.StringVar(&f.Compression, "compression", "", "Frame compression: none, snappy")

	flag.Parse()
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
	if f.Framing != "" {
		cfg.Query.Framing = f.Framing
	}
	if f.Compression != "" {
		cfg.Query.Compression = f.Compression
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// run encodes in to stdout, or to -out through storage. Stored streams are
// written to a temporary file first and uploaded only once complete.
func run(ctx context.Context, f Flags, in io.Reader, stdout io.Writer) (int, error) {
	cfg, err := loadConfig(f)
	if err != nil {
		return 0, err
	}
	if f.Output == "" || f.Output == "-" {
		return encode(cfg, f, in, stdout)
	}

	dest := cfg.Location(f.Output)
	if !f.Overwrite {
		exists, err := storage.ExistsURI(ctx, cfg.S3(), dest)
		if err != nil {
			return 0, err
		}
		if exists {
			return 0, perrors.NewStorageError(perrors.CodeObjectExists,
				dest+" already exists; pass -overwrite to replace it", nil)
		}
	}

	tmp, err := os.CreateTemp("", "protoq-encode-*.pb")
	if err != nil {
		return 0, err
	}
	defer os.Remove(tmp.Name())

	n, err := encode(cfg, f, in, tmp)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return n, err
	}
	return n, storage.UploadURI(ctx, cfg.S3(), tmp.Name(), dest)
}

// encode writes one frame per non-blank input line and returns the number of
// records written.
func encode(cfg *config.Config, f Flags, in io.Reader, out io.Writer) (int, error) {
	if f.SchemaPath == "" || f.Root == "" {
		return 0, fmt.Errorf("-schema and -root are required")
	}
	opts, err := cfg.QueryOptions()
	if err != nil {
		return 0, err
	}

	model, err := schema.LoadFile(f.SchemaPath)
	if err != nil {
		return 0, err
	}
	root, ok := model.Lookup(f.Root)
	if !ok {
		return 0, fmt.Errorf("unknown root type %q", f.Root)
	}

	bw := bufio.NewWriter(out)
	w := codec.NewWriter(bw, codec.Options{
		Framing:      opts.Framing,
		Compression:  opts.Compression,
		MaxFrameSize: opts.MaxFrameSize,
	})
	builder := &recordBuilder{model: model}

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 16<<20)
	n, line := 0, 0
	for scanner.Scan() {
		line++
		text := bytes.TrimSpace(scanner.Bytes())
		if len(text) == 0 {
			continue
		}

		dec := json.NewDecoder(bytes.NewReader(text))
		dec.UseNumber()
		var obj map[string]any
		if err := dec.Decode(&obj); err != nil {
			return n, fmt.Errorf("line %d: %w", line, err)
		}
		rec, err := builder.build(obj, root)
		if err != nil {
			return n, fmt.Errorf("line %d: %w", line, err)
		}
		if err := w.Write(rec); err != nil {
			return n, fmt.Errorf("line %d: %w", line, err)
		}
		n++
	}
	if err := scanner.Err(); err != nil {
		return n, err
	}
	return n, bw.Flush()
}
