package protoq

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/arkilian/protoq/internal/observability"
	"github.com/arkilian/protoq/pkg/codec"
)

// Options configures how a stream is read.
type Options struct {
	// Framing is the length-prefix convention between records.
	Framing codec.Framing

	// Compression applies to each frame payload.
	Compression codec.Compression

	// Reuse decodes every record into one instance, reset between steps.
	// Rows yielded in this mode are overwritten by the next step and must
	// not be retained.
	Reuse bool

	// MaxFrameSize bounds a single frame before and after decompression;
	// 0 means codec.DefaultMaxFrameSize.
	MaxFrameSize int

	// Quiet suppresses the per-scan log line.
	Quiet bool

	Stats   *QueryStats
	Metrics *Metrics
}

// DefaultOptions returns base-128 framing, no compression and no reuse.
func DefaultOptions() Options {
	return Options{
		Framing:     codec.FramingBase128,
		Compression: codec.CompressionNone,
	}
}

func (o Options) codec() codec.Options {
	return codec.Options{
		Framing:      o.Framing,
		Compression:  o.Compression,
		MaxFrameSize: o.MaxFrameSize,
	}
}

// Option modifies Options.
type Option func(*Options)

// WithOptions replaces every option at once.
func WithOptions(o Options) Option {
	return func(opts *Options) { *opts = o }
}

// WithFraming sets the length-prefix convention of the stream.
func WithFraming(f codec.Framing) Option {
	return func(o *Options) { o.Framing = f }
}

// WithCompression sets the compression applied to each frame.
func WithCompression(c codec.Compression) Option {
	return func(o *Options) { o.Compression = c }
}

// WithReuse enables or disables record reuse.
func WithReuse(reuse bool) Option {
	return func(o *Options) { o.Reuse = reuse }
}

// WithMaxFrameSize bounds a frame both as read and once decompressed.
func WithMaxFrameSize(n int) Option {
	return func(o *Options) { o.MaxFrameSize = n }
}

// WithQuiet turns off the log line written after every scan.
func WithQuiet() Option {
	return func(o *Options) { o.Quiet = true }
}

// WithStats records field access and scan totals into s.
func WithStats(s *QueryStats) Option {
	return func(o *Options) { o.Stats = s }
}

// WithMetrics reports scans and synthesis to m.
func WithMetrics(m *Metrics) Option {
	return func(o *Options) { o.Metrics = m }
}

// QueryStats tracks field access frequency and scan totals.
type QueryStats = observability.QueryStats

// NewQueryStats creates a tracker whose field entries expire after window.
func NewQueryStats(window time.Duration) *QueryStats {
	return observability.NewQueryStats(window)
}

// Metrics holds the Prometheus collectors for queries.
type Metrics = observability.Metrics

// NewMetrics creates query metrics registered with reg; nil leaves them
// unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return observability.NewMetrics(reg)
}
