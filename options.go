package ftindex

import (
	"fmt"
	"log/slog"

	"github.com/hupe1980/ftindex/blobstore"
	"github.com/hupe1980/ftindex/codec"
	"github.com/hupe1980/ftindex/internal/compress"
	"github.com/hupe1980/ftindex/internal/resource"
)

const (
	// DefaultMaxThreadStates is the default number of concurrent indexing
	// contexts.
	DefaultMaxThreadStates = 8

	// DefaultRAMBufferSize is the default RAM a single indexing context may
	// buffer before it is flushed.
	DefaultRAMBufferSize = 16 << 20
)

type options struct {
	maxThreadStates        int
	ramBufferSize          int64
	maxBufferedDeleteBytes int64
	store                  blobstore.BlobStore
	codec                  codec.Codec
	compression            compress.Type
	metricsCollector       MetricsCollector
	logger                 *Logger
	resourceController     *resource.Controller
	resourceConfig         resource.Config
	keepCommits            int
	maxBufferedDocs        int
	stallLimit             int64

	err error
}

// Option configures Writer construction.
type Option func(*options)

// WithMaxThreadStates sets the maximum number of indexing contexts, and
// therefore of goroutines indexing at the same time. Further callers wait.
func WithMaxThreadStates(n int) Option {
	return func(o *options) {
		o.maxThreadStates = n
	}
}

// WithRAMBufferSize sets the RAM (in bytes) an indexing context may buffer
// before it is flushed as a segment.
func WithRAMBufferSize(bytes int64) Option {
	return func(o *options) {
		o.ramBufferSize = bytes
	}
}

// WithMaxBufferedDeleteBytes sets the RAM the global delete buffer may hold
// before it is frozen and published on its own. Defaults to half the RAM
// buffer size.
func WithMaxBufferedDeleteBytes(bytes int64) Option {
	return func(o *options) {
		o.maxBufferedDeleteBytes = bytes
	}
}

// WithBlobStore configures where segments, update packets and commit points
// are written. Defaults to an in-memory store.
//
// Example with S3:
//
//	store, _ := s3.New(ctx, "my-bucket", s3.WithPrefix("index/"))
//	w, _ := ftindex.New(ftindex.WithBlobStore(store))
func WithBlobStore(store blobstore.BlobStore) Option {
	return func(o *options) {
		o.store = store
	}
}

// WithCodec configures the codec used for persisted blobs.
//
// If nil is passed, codec.Default is used.
func WithCodec(c codec.Codec) Option {
	return func(o *options) {
		if c == nil {
			c = codec.Default
		}
		o.codec = c
	}
}

// WithCompression configures the compression of persisted blobs by name
// ("none", "lz4" or "zstd").
func WithCompression(name string) Option {
	return func(o *options) {
		t, err := compress.ParseType(name)
		if err != nil {
			o.err = err
			return
		}
		o.compression = t
	}
}

// WithMetricsCollector configures a metrics collector for monitoring operations.
// Pass nil to disable metrics collection.
//
// Example with BasicMetricsCollector:
//
//	metrics := &ftindex.BasicMetricsCollector{}
//	w, _ := ftindex.New(ftindex.WithMetricsCollector(metrics))
//	// ... index documents ...
//	stats := metrics.GetStats()
//	fmt.Printf("Flushes: %d, Avg latency: %dns\n", stats.FlushCount, stats.FlushAvgNanos)
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		if mc == nil {
			mc = NoopMetricsCollector{}
		}
		o.metricsCollector = mc
	}
}

// WithLogger configures structured logging for operations.
// Pass nil to disable logging.
//
// Example with JSON logging:
//
//	logger := ftindex.NewJSONLogger(slog.LevelInfo)
//	w, _ := ftindex.New(ftindex.WithLogger(logger))
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		if logger == nil {
			logger = NoopLogger()
		}
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

// WithResourceController shares a resource controller between writers.
// It takes precedence over WithRAMLimit, WithMaxConcurrentFlushes and
// WithIOLimit.
func WithResourceController(rc *resource.Controller) Option {
	return func(o *options) {
		o.resourceController = rc
	}
}

// WithRAMLimit sets a hard limit for RAM buffered across all indexing
// contexts. Reaching it flushes the context that hit it.
func WithRAMLimit(bytes int64) Option {
	return func(o *options) {
		o.resourceConfig.RAMLimitBytes = bytes
	}
}

// WithMaxConcurrentFlushes bounds the number of contexts flushed at once.
func WithMaxConcurrentFlushes(n int) Option {
	return func(o *options) {
		o.resourceConfig.MaxConcurrentFlushes = int64(n)
	}
}

// WithIOLimit limits blob write throughput in bytes per second.
func WithIOLimit(bytesPerSec int64) Option {
	return func(o *options) {
		o.resourceConfig.IOLimitBytesPerSec = bytesPerSec
	}
}

// WithKeepCommits keeps only the n most recent commit points; older ones
// are deleted after each successful commit. Zero keeps every commit point.
func WithKeepCommits(n int) Option {
	return func(o *options) {
		o.keepCommits = n
	}
}

// WithMaxBufferedDocs flushes an indexing context once it buffers n
// documents, in addition to the RAM trigger. Zero disables the count
// trigger; otherwise n must be at least 2.
func WithMaxBufferedDocs(n int) Option {
	return func(o *options) {
		o.maxBufferedDocs = n
	}
}

// WithStallLimit sets the RAM held by active and flushing contexts above
// which new documents wait for running flushes. Defaults to twice the RAM
// limit if one is set, otherwise twice the RAM buffer size of every
// indexing context. A negative value disables stalling.
func WithStallLimit(bytes int64) Option {
	return func(o *options) {
		o.stallLimit = bytes
	}
}

func applyOptions(optFns []Option) (options, error) {
	o := options{
		maxThreadStates:  DefaultMaxThreadStates,
		ramBufferSize:    DefaultRAMBufferSize,
		codec:            codec.Default,
		compression:      compress.LZ4,
		metricsCollector: NoopMetricsCollector{},
		logger:           NoopLogger(),
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	if err := o.validate(); err != nil {
		return o, err
	}

	if o.maxBufferedDeleteBytes == 0 {
		o.maxBufferedDeleteBytes = o.ramBufferSize / 2
	}
	switch {
	case o.stallLimit < 0:
		o.stallLimit = 0
	case o.stallLimit == 0 && o.resourceConfig.RAMLimitBytes > 0:
		o.stallLimit = 2 * o.resourceConfig.RAMLimitBytes
	case o.stallLimit == 0:
		o.stallLimit = 2 * o.ramBufferSize * int64(o.maxThreadStates)
	}
	if o.store == nil {
		o.store = blobstore.NewMemoryStore()
	}
	if o.resourceController == nil {
		o.resourceController = resource.NewController(o.resourceConfig)
	}
	return o, nil
}

func (o *options) validate() error {
	switch {
	case o.err != nil:
		return fmt.Errorf("%w: %w", ErrInvalidArgument, o.err)
	case o.maxThreadStates < 1:
		return fmt.Errorf("%w: max thread states must be at least 1, got %d", ErrInvalidArgument, o.maxThreadStates)
	case o.ramBufferSize <= 0:
		return fmt.Errorf("%w: RAM buffer size must be positive, got %d", ErrInvalidArgument, o.ramBufferSize)
	case o.maxBufferedDocs < 0 || o.maxBufferedDocs == 1:
		return fmt.Errorf("%w: max buffered docs must be 0 or at least 2, got %d", ErrInvalidArgument, o.maxBufferedDocs)
	case o.keepCommits < 0:
		return fmt.Errorf("%w: keep commits must not be negative, got %d", ErrInvalidArgument, o.keepCommits)
	case o.maxBufferedDeleteBytes < 0:
		return fmt.Errorf("%w: max buffered delete bytes must not be negative, got %d", ErrInvalidArgument, o.maxBufferedDeleteBytes)
	case o.resourceConfig.RAMLimitBytes < 0,
		o.resourceConfig.MaxConcurrentFlushes < 0,
		o.resourceConfig.IOLimitBytesPerSec < 0:
		return fmt.Errorf("%w: resource limits must not be negative", ErrInvalidArgument)
	}
	return nil
}
