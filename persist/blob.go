package persist

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"iter"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/hupe1980/poigo/blobstore"
	"github.com/hupe1980/poigo/codec"
	"github.com/hupe1980/poigo/record"
)

// Compression selects the blob compression scheme.
type Compression uint8

const (
	// CompressionNone stores encoded records as-is.
	CompressionNone Compression = iota
	// CompressionZstd compresses with zstandard.
	CompressionZstd
	// CompressionLZ4 compresses with the lz4 frame format.
	CompressionLZ4
)

// String returns a human-readable name for the compression scheme.
func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionZstd:
		return "zstd"
	case CompressionLZ4:
		return "lz4"
	default:
		return fmt.Sprintf("compression(%d)", uint8(c))
	}
}

// BlobOptions configure a Blob adapter.
type BlobOptions struct {
	// Codec encodes records into blob payloads.
	Codec codec.Codec

	// Compression applied after encoding.
	Compression Compression

	// Prefix namespaces record blobs within the store.
	Prefix string

	// LoadConcurrency bounds parallel fetches during LoadAll.
	LoadConcurrency int

	// WriteBytesPerSec throttles Persist throughput. Zero disables
	// throttling.
	WriteBytesPerSec int
}

// DefaultBlobOptions are the Blob adapter defaults.
var DefaultBlobOptions = BlobOptions{
	Codec:           codec.Default,
	Compression:     CompressionNone,
	Prefix:          "poi/",
	LoadConcurrency: 8,
}

// Blob is an Adapter that keeps one blob per record in a blobstore.Store.
// Records are encoded with the configured codec, optionally compressed, and
// named by zero-padded identifier so lexicographic blob order matches
// identifier order.
type Blob struct {
	store   blobstore.Store
	codec   codec.Codec
	comp    Compression
	prefix  string
	loadPar int
	limiter *rate.Limiter

	encOnce sync.Once
	zenc    *zstd.Encoder
	zdec    *zstd.Decoder
	zerr    error
}

var _ Adapter = (*Blob)(nil)

// NewBlob creates a Blob adapter over the given store.
func NewBlob(store blobstore.Store, optFns ...func(o *BlobOptions)) *Blob {
	opts := DefaultBlobOptions

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Codec == nil {
		opts.Codec = codec.Default
	}
	if opts.LoadConcurrency < 1 {
		opts.LoadConcurrency = 1
	}

	b := &Blob{
		store:   store,
		codec:   opts.Codec,
		comp:    opts.Compression,
		prefix:  opts.Prefix,
		loadPar: opts.LoadConcurrency,
	}
	if opts.WriteBytesPerSec > 0 {
		b.limiter = rate.NewLimiter(rate.Limit(opts.WriteBytesPerSec), opts.WriteBytesPerSec)
	}

	return b
}

func (b *Blob) name(id uint32) string {
	return fmt.Sprintf("%s%010d", b.prefix, id)
}

// Persist encodes and stores a record, honoring the write throttle.
func (b *Blob) Persist(ctx context.Context, rec record.Record) error {
	data, err := b.codec.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record %d: %w", rec.ID, err)
	}

	data, err = b.compress(data)
	if err != nil {
		return fmt.Errorf("compress record %d: %w", rec.ID, err)
	}

	if b.limiter != nil {
		// WaitN rejects requests above the burst, so blobs larger than
		// the burst are charged in chunks.
		burst := b.limiter.Burst()
		for remaining := len(data); remaining > 0; {
			n := min(remaining, burst)
			if err := b.limiter.WaitN(ctx, n); err != nil {
				return err
			}
			remaining -= n
		}
	}

	return b.store.Put(ctx, b.name(rec.ID), data)
}

// Delete removes the record's blob. Missing blobs are not an error.
func (b *Blob) Delete(ctx context.Context, id uint32) error {
	return b.store.Delete(ctx, b.name(id))
}

// LoadAll lists all record blobs and fetches them with bounded parallelism,
// yielding records in ascending identifier order.
func (b *Blob) LoadAll(ctx context.Context) iter.Seq2[record.Record, error] {
	return func(yield func(record.Record, error) bool) {
		names, err := b.store.List(ctx, b.prefix)
		if err != nil {
			yield(record.Record{}, fmt.Errorf("list blobs: %w", err))
			return
		}

		recs := make([]record.Record, len(names))

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(b.loadPar)

		for i, name := range names {
			g.Go(func() error {
				data, err := b.store.Get(gctx, name)
				if err != nil {
					return fmt.Errorf("fetch blob %s: %w", name, err)
				}

				data, err = b.decompress(data)
				if err != nil {
					return fmt.Errorf("decompress blob %s: %w", name, err)
				}

				if err := b.codec.Unmarshal(data, &recs[i]); err != nil {
					return fmt.Errorf("decode blob %s: %w", name, err)
				}
				return nil
			})
		}

		if err := g.Wait(); err != nil {
			yield(record.Record{}, err)
			return
		}

		// List is sorted and names are zero-padded, so recs is already
		// in ascending identifier order.
		for _, rec := range recs {
			if !yield(rec, nil) {
				return
			}
		}
	}
}

func (b *Blob) zstdInit() error {
	b.encOnce.Do(func() {
		b.zenc, b.zerr = zstd.NewWriter(nil)
		if b.zerr != nil {
			return
		}
		b.zdec, b.zerr = zstd.NewReader(nil)
	})
	return b.zerr
}

func (b *Blob) compress(data []byte) ([]byte, error) {
	switch b.comp {
	case CompressionNone:
		return data, nil
	case CompressionZstd:
		if err := b.zstdInit(); err != nil {
			return nil, err
		}
		return b.zenc.EncodeAll(data, nil), nil
	case CompressionLZ4:
		var buf bytes.Buffer

		w := lz4.NewWriter(&buf)
		if _, err := w.Write(data); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("unknown compression scheme %d", b.comp)
	}
}

func (b *Blob) decompress(data []byte) ([]byte, error) {
	switch b.comp {
	case CompressionNone:
		return data, nil
	case CompressionZstd:
		if err := b.zstdInit(); err != nil {
			return nil, err
		}
		return b.zdec.DecodeAll(data, nil)
	case CompressionLZ4:
		return io.ReadAll(lz4.NewReader(bytes.NewReader(data)))
	default:
		return nil, fmt.Errorf("unknown compression scheme %d", b.comp)
	}
}
