// Package executor runs a planned query over one framed record stream.
package executor

import (
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/google/uuid"

	perrors "github.com/arkilian/protoq/internal/errors"
	"github.com/arkilian/protoq/internal/observability"
	"github.com/arkilian/protoq/internal/query/planner"
	"github.com/arkilian/protoq/pkg/codec"
	"github.com/arkilian/protoq/pkg/expr"
)

// Visitor receives each record that passes the plan's type restriction and
// predicate, along with its zero-based stream index. Returning false stops
// the scan.
type Visitor func(rec *codec.Record, index int) (bool, error)

// Options configures an Executor.
type Options struct {
	// Reuse decodes every record into the same instance after resetting it.
	// A record passed to the visitor is only valid until it returns.
	Reuse bool

	Stats   *observability.QueryStats
	Metrics *observability.Metrics

	// Quiet suppresses the per-scan log line.
	Quiet bool
}

// ScanStats contains the counters of one scan.
type ScanStats struct {
	ID          string
	Decoded     int64
	TypeSkipped int64
	Filtered    int64
	Visited     int64
	Bytes       int64
	Elapsed     time.Duration
}

// Executor drives the decode loop of one plan over one reader.
type Executor struct {
	reader *codec.Reader
	plan   *planner.Plan
	opts   Options

	reuse *codec.Record
	stats ScanStats
}

// New creates an executor. The reader's position is not changed.
func New(reader *codec.Reader, plan *planner.Plan, opts Options) *Executor {
	return &Executor{reader: reader, plan: plan, opts: opts}
}

// Stats returns the counters of the last scan.
func (e *Executor) Stats() ScanStats { return e.stats }

// Scan reads records until the stream ends, visit returns false or an error
// occurs. A clean end of stream is not an error. Decode failures are returned
// as STREAM_DECODE errors and end the scan.
func (e *Executor) Scan(visit Visitor) (err error) {
	e.stats = ScanStats{ID: uuid.New().String()}
	start := time.Now()
	startBytes := e.reader.BytesRead()
	e.recordFields()

	defer func() {
		e.stats.Elapsed = time.Since(start)
		e.stats.Bytes = e.reader.BytesRead() - startBytes
		e.report(err)
	}()

	index := 0
	for {
		rec, err := e.next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return perrors.NewDecodeError(perrors.CodeStreamDecode,
				fmt.Sprintf("decode record %d", index), err)
		}
		i := index
		index++
		e.stats.Decoded++

		if !e.plan.Matches(rec.Type()) {
			e.stats.TypeSkipped++
			continue
		}
		if e.plan.Predicate != nil {
			ok, err := e.plan.Predicate(rec, i)
			if err != nil {
				return err
			}
			if !ok {
				e.stats.Filtered++
				continue
			}
		}

		e.stats.Visited++
		more, err := visit(rec, i)
		if err != nil {
			return err
		}
		if !more {
			return nil
		}
	}
}

// next decodes one record. An empty reduced hierarchy carries no fields, so
// only the runtime type is decoded and the shared sentinel is returned.
func (e *Executor) next() (*codec.Record, error) {
	h := e.plan.Hierarchy
	if h.Empty() {
		t, err := e.reader.ReadType(h.Root())
		if err != nil {
			return nil, err
		}
		return h.Sentinel(t), nil
	}

	if !e.opts.Reuse {
		return e.reader.Read(h.Root(), nil)
	}
	if e.reuse != nil {
		e.reuse.Reset()
	}
	rec, err := e.reader.Read(h.Root(), e.reuse)
	if err != nil {
		return nil, err
	}
	e.reuse = rec
	return rec, nil
}

func (e *Executor) recordFields() {
	if e.opts.Stats == nil {
		return
	}
	if e.plan.PredicateExpr != nil {
		for _, ref := range expr.Fields(e.plan.PredicateExpr) {
			e.opts.Stats.RecordField(ref.Field.QualifiedName(), observability.RolePredicate)
		}
	}
	for _, col := range e.plan.Columns {
		for _, ref := range expr.Fields(col) {
			e.opts.Stats.RecordField(ref.Field.QualifiedName(), observability.RoleSelect)
		}
	}
}

func (e *Executor) report(err error) {
	s := e.stats
	if e.opts.Stats != nil {
		e.opts.Stats.RecordScan(s.Decoded, s.TypeSkipped, s.Filtered, s.Visited, s.Bytes, s.Elapsed)
	}
	if e.opts.Metrics != nil {
		e.opts.Metrics.ObserveScan(s.Decoded, s.TypeSkipped, s.Filtered, s.Visited, s.Elapsed,
			perrors.GetCode(err) == perrors.CodeStreamDecode)
	}
	if e.opts.Quiet {
		return
	}
	if err != nil {
		log.Printf("executor: scan %s over %s failed after %d records: %v",
			s.ID, e.plan.Root.Name(), s.Decoded, err)
		return
	}
	log.Printf("executor: scan %s over %s decoded=%d type_skipped=%d filtered=%d visited=%d bytes=%d in %v",
		s.ID, e.plan.Root.Name(), s.Decoded, s.TypeSkipped, s.Filtered, s.Visited, s.Bytes, s.Elapsed)
}
