// Package reconcile loads and stores one encrypted value per account across
// a local store and a remote replica.
//
// Local is preferred. Remote is consulted only when local has nothing usable,
// and is otherwise a replication target. Remote failures are logged and never
// returned. Values read at an old schema are upgraded in memory and written
// back to local in the background.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/metavault/internal/blobstore"
	"github.com/roach88/metavault/internal/metrics"
)

// DefaultRemoteTimeout bounds each remote call.
const DefaultRemoteTimeout = 10 * time.Second

// Codec converts values to and from sealed envelopes.
type Codec[T any] interface {
	// Seal serializes and encrypts v at the current schema.
	Seal(v T) ([]byte, error)

	// Open decrypts and decodes an envelope, migrating it to the current
	// schema if needed. migrated reports whether an upgrade was applied.
	Open(data []byte) (v T, migrated bool, err error)

	// Empty returns the default value used when nothing can be loaded.
	Empty() T
}

// Source tells where a loaded value came from.
type Source string

// Load sources.
const (
	SourceLocal  Source = metrics.SourceLocal
	SourceRemote Source = metrics.SourceRemote
	SourceEmpty  Source = metrics.SourceEmpty
)

// Result is the outcome of Load.
type Result[T any] struct {
	Value    T
	Source   Source
	Migrated bool
}

// Engine reconciles one kind of value, such as metadata or address books.
type Engine[T any] struct {
	kind          string
	codec         Codec[T]
	local         blobstore.Local
	remote        blobstore.Remote
	logger        *slog.Logger
	metrics       *metrics.Metrics
	remoteTimeout time.Duration

	// mu serializes local writes. generation counts Store and Remove calls
	// so a write-back started before one of them can detect it is stale.
	mu         sync.Mutex
	generation uint64
	pending    sync.WaitGroup
}

// Option configures an Engine.
type Option func(*options)

type options struct {
	logger        *slog.Logger
	metrics       *metrics.Metrics
	remoteTimeout time.Duration
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithRemoteTimeout bounds each remote call. Zero disables the bound.
func WithRemoteTimeout(d time.Duration) Option {
	return func(o *options) {
		o.remoteTimeout = d
	}
}

// New creates an engine. kind prefixes storage names so several engines can
// share one local directory and remote. remote may be nil.
func New[T any](kind string, codec Codec[T], local blobstore.Local, remote blobstore.Remote, opts ...Option) *Engine[T] {
	o := options{
		logger:        slog.Default(),
		remoteTimeout: DefaultRemoteTimeout,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Engine[T]{
		kind:          kind,
		codec:         codec,
		local:         local,
		remote:        remote,
		logger:        o.logger.With("kind", kind),
		metrics:       o.metrics,
		remoteTimeout: o.remoteTimeout,
	}
}

// Kind returns the engine's storage kind.
func (e *Engine[T]) Kind() string {
	return e.kind
}

// Name returns the storage name used for fingerprint.
func (e *Engine[T]) Name(fingerprint string) string {
	return e.kind + "-" + fingerprint
}

// Load returns the value stored for fingerprint.
//
// Nothing readable in either store yields the empty value and no error. A
// local read failure other than not-found is returned. When the value is
// recovered from remote but cannot be written to local, the value is
// returned together with the local error.
func (e *Engine[T]) Load(ctx context.Context, fingerprint string) (Result[T], error) {
	name := e.Name(fingerprint)
	gen := e.currentGeneration()

	data, err := e.local.Read(name)
	switch {
	case err == nil:
		v, migrated, derr := e.codec.Open(data)
		if derr == nil {
			if migrated {
				e.writeBack(name, v, gen)
			}
			e.metrics.RecordLoad(e.kind, metrics.SourceLocal)
			return Result[T]{Value: v, Source: SourceLocal, Migrated: migrated}, nil
		}
		e.metrics.RecordDecodeFailure(e.kind, metrics.SourceLocal)
		e.logger.Warn("local envelope unreadable, trying remote", "error", derr)
	case errors.Is(err, blobstore.ErrNotFound):
		e.logger.Debug("no local envelope")
	default:
		return e.empty(), fmt.Errorf("load %s: %w", e.kind, err)
	}

	return e.loadRemote(ctx, name)
}

func (e *Engine[T]) loadRemote(ctx context.Context, name string) (Result[T], error) {
	if e.remote == nil {
		e.metrics.RecordLoad(e.kind, metrics.SourceEmpty)
		return e.empty(), nil
	}

	var data []byte
	err := e.callRemote(ctx, "load", func(ctx context.Context) error {
		var err error
		data, err = e.remote.Load(ctx, name)
		return err
	})
	if err != nil {
		if !errors.Is(err, blobstore.ErrNotFound) {
			e.logger.Warn("remote load failed", "op", "load", "error", err)
		}
		e.metrics.RecordLoad(e.kind, metrics.SourceEmpty)
		return e.empty(), nil
	}

	v, migrated, err := e.codec.Open(data)
	if err != nil {
		e.metrics.RecordDecodeFailure(e.kind, metrics.SourceRemote)
		e.logger.Warn("remote envelope unreadable", "error", err)
		e.metrics.RecordLoad(e.kind, metrics.SourceEmpty)
		return e.empty(), nil
	}
	result := Result[T]{Value: v, Source: SourceRemote, Migrated: migrated}
	e.metrics.RecordLoad(e.kind, metrics.SourceRemote)

	sealed, err := e.codec.Seal(v)
	if err != nil {
		return result, fmt.Errorf("load %s: reseal remote value: %w", e.kind, err)
	}
	if err := e.writeLocal(name, sealed); err != nil {
		return result, fmt.Errorf("load %s: replicate to local: %w", e.kind, err)
	}
	e.storeRemote(ctx, name, sealed)
	return result, nil
}

// Store seals v and writes it to local, then best-effort to remote.
// Only local failures are returned.
func (e *Engine[T]) Store(ctx context.Context, fingerprint string, v T) error {
	name := e.Name(fingerprint)
	sealed, err := e.codec.Seal(v)
	if err != nil {
		return fmt.Errorf("store %s: %w", e.kind, err)
	}
	if err := e.writeLocal(name, sealed); err != nil {
		return fmt.Errorf("store %s: %w", e.kind, err)
	}
	e.metrics.RecordStore(e.kind)
	e.storeRemote(ctx, name, sealed)
	return nil
}

// Remove deletes the value locally, then best-effort from remote.
func (e *Engine[T]) Remove(ctx context.Context, fingerprint string) error {
	name := e.Name(fingerprint)

	e.mu.Lock()
	e.generation++
	err := e.local.Remove(name)
	e.mu.Unlock()
	if err != nil {
		return fmt.Errorf("remove %s: %w", e.kind, err)
	}

	if e.remote != nil {
		err := e.callRemote(ctx, "remove", func(ctx context.Context) error {
			return e.remote.Remove(ctx, name)
		})
		if err != nil {
			e.logger.Warn("remote remove failed", "op", "remove", "error", err)
		}
	}
	return nil
}

// Wait blocks until pending write-backs finish.
func (e *Engine[T]) Wait() {
	e.pending.Wait()
}

// writeBack persists a migrated value in the background. The envelope is
// sealed before returning so the caller may mutate v afterwards.
func (e *Engine[T]) writeBack(name string, v T, gen uint64) {
	sealed, err := e.codec.Seal(v)
	if err != nil {
		e.metrics.RecordWriteBack(e.kind, metrics.WriteBackFailed)
		e.logger.Warn("write-back seal failed", "error", err)
		return
	}

	e.pending.Add(1)
	go func() {
		defer e.pending.Done()

		e.mu.Lock()
		defer e.mu.Unlock()
		if e.generation != gen {
			e.metrics.RecordWriteBack(e.kind, metrics.WriteBackSkipped)
			e.logger.Debug("write-back skipped, value changed since load")
			return
		}
		if err := e.local.Write(name, sealed); err != nil {
			e.metrics.RecordWriteBack(e.kind, metrics.WriteBackFailed)
			e.logger.Warn("write-back failed", "error", err)
			return
		}
		e.metrics.RecordWriteBack(e.kind, metrics.WriteBackWritten)
		e.logger.Debug("migrated envelope written back")
	}()
}

func (e *Engine[T]) writeLocal(name string, sealed []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.generation++
	return e.local.Write(name, sealed)
}

func (e *Engine[T]) storeRemote(ctx context.Context, name string, sealed []byte) {
	if e.remote == nil {
		return
	}
	err := e.callRemote(ctx, "store", func(ctx context.Context) error {
		return e.remote.Store(ctx, name, sealed)
	})
	if err != nil {
		e.logger.Warn("remote store failed", "op", "store", "error", err)
	}
}

// callRemote runs fn under the remote timeout and records its outcome.
// Not-found is not counted as an error.
func (e *Engine[T]) callRemote(ctx context.Context, op string, fn func(context.Context) error) error {
	if e.remoteTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.remoteTimeout)
		defer cancel()
	}
	start := time.Now()
	err := fn(ctx)
	failed := err
	if errors.Is(err, blobstore.ErrNotFound) {
		failed = nil
	}
	e.metrics.RecordRemote(e.kind, op, time.Since(start), failed)
	return err
}

func (e *Engine[T]) currentGeneration() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.generation
}

func (e *Engine[T]) empty() Result[T] {
	return Result[T]{Value: e.codec.Empty(), Source: SourceEmpty}
}
