package poigo

import (
	"log/slog"
	"time"

	"github.com/hupe1980/poigo/blobstore"
	"github.com/hupe1980/poigo/codec"
	"github.com/hupe1980/poigo/geo"
	"github.com/hupe1980/poigo/persist"
)

type options struct {
	distance         geo.DistanceFunc
	nodeCapacity     int
	lockTimeout      time.Duration
	codec            codec.Codec
	adapter          persist.Adapter
	blobStore        blobstore.Store
	blobOptFns       []func(*persist.BlobOptions)
	metricsCollector MetricsCollector
	logger           *Logger
}

// Option configures Poigo constructor behavior.
type Option func(*options)

// WithDistanceModel selects the distance model used by the spatial index and
// all queries: geo.GreatCircle (default, haversine) or geo.Planar
// (equirectangular approximation, cheaper and adequate for small extents).
func WithDistanceModel(model geo.DistanceModel) Option {
	return func(o *options) {
		if fn, err := geo.NewDistanceFunc(model); err == nil {
			o.distance = fn
		}
	}
}

// WithNodeCapacity sets the R-tree node capacity (entries per node). Must be
// at least 4; the minimum fill is half the capacity.
func WithNodeCapacity(capacity int) Option {
	return func(o *options) {
		o.nodeCapacity = capacity
	}
}

// WithLockTimeout bounds how long a mutation waits for the writer lock
// before failing with ErrLockTimeout.
func WithLockTimeout(timeout time.Duration) Option {
	return func(o *options) {
		o.lockTimeout = timeout
	}
}

// WithCodec configures the codec used to encode records for persistence.
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

// WithAdapter configures the persistence adapter. Each mutation commits to
// the adapter before becoming visible in memory; existing records are loaded
// from it on first use.
func WithAdapter(a persist.Adapter) Option {
	return func(o *options) {
		o.adapter = a
	}
}

// WithBlobStore configures blob-backed persistence over the given store,
// encoding records with the configured codec. Convenience wrapper around
// WithAdapter(persist.NewBlob(...)).
//
// Example:
//
//	store, _ := blobstore.NewLocalStore("./data")
//	db, err := poigo.New(poigo.WithBlobStore(store, func(o *persist.BlobOptions) {
//	    o.Compression = persist.CompressionZstd
//	}))
func WithBlobStore(store blobstore.Store, optFns ...func(*persist.BlobOptions)) Option {
	return func(o *options) {
		o.blobStore = store
		o.blobOptFns = optFns
	}
}

// WithMetricsCollector configures a metrics collector for monitoring
// operations. Pass nil to disable metrics collection.
//
// Example with BasicMetricsCollector:
//
//	metrics := &poigo.BasicMetricsCollector{}
//	db, _ := poigo.New(poigo.WithMetricsCollector(metrics))
//	// ... use db ...
//	stats := metrics.GetStats()
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		if mc == nil {
			mc = NoopMetricsCollector{}
		}
		o.metricsCollector = mc
	}
}

// WithLogger configures structured logging for operations.
//
// Example with JSON logging:
//
//	logger := poigo.NewJSONLogger(slog.LevelInfo)
//	db, _ := poigo.New(poigo.WithLogger(logger))
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

func applyOptions(optFns []Option) (options, error) {
	o := options{
		distance:         geo.Haversine,
		metricsCollector: NoopMetricsCollector{},
		logger:           NoopLogger(),
	}

	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}

	if o.codec == nil {
		o.codec = codec.Default
	}

	// A blob store option builds the adapter here so it picks up the
	// configured codec.
	if o.blobStore != nil {
		blobOptFns := append([]func(*persist.BlobOptions){
			func(bo *persist.BlobOptions) {
				bo.Codec = o.codec
			},
		}, o.blobOptFns...)

		o.adapter = persist.NewBlob(o.blobStore, blobOptFns...)
	}
	if o.adapter == nil {
		o.adapter = persist.Noop{}
	}

	return o, nil
}
