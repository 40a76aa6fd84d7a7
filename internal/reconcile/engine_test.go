package reconcile

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/metavault/internal/blobstore"
	"github.com/roach88/metavault/internal/metrics"
	"github.com/roach88/metavault/internal/testutil"
)

const fp = "fingerprint"

// textCodec stores strings as "v2:<value>". "v1:<value>" is an old schema
// that opens as migrated. Anything else is undecodable.
type textCodec struct{}

func (textCodec) Seal(v string) ([]byte, error) { return []byte("v2:" + v), nil }

func (textCodec) Open(data []byte) (string, bool, error) {
	s := string(data)
	switch {
	case strings.HasPrefix(s, "v2:"):
		return strings.TrimPrefix(s, "v2:"), false, nil
	case strings.HasPrefix(s, "v1:"):
		return strings.TrimPrefix(s, "v1:"), true, nil
	}
	return "", false, errors.New("undecodable")
}

func (textCodec) Empty() string { return "" }

// memLocal is an in-memory blobstore.Local with hooks.
type memLocal struct {
	mu       sync.Mutex
	blobs    map[string][]byte
	readErr  error
	writeErr error
	onRead   func()
}

func newMemLocal() *memLocal {
	return &memLocal{blobs: map[string][]byte{}}
}

func (l *memLocal) Read(name string) ([]byte, error) {
	l.mu.Lock()
	data, ok := l.blobs[name]
	readErr, hook := l.readErr, l.onRead
	l.onRead = nil
	l.mu.Unlock()

	if hook != nil {
		hook()
	}
	if readErr != nil {
		return nil, readErr
	}
	if !ok {
		return nil, blobstore.ErrNotFound
	}
	return data, nil
}

func (l *memLocal) Write(name string, data []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.writeErr != nil {
		return l.writeErr
	}
	l.blobs[name] = append([]byte(nil), data...)
	return nil
}

func (l *memLocal) Remove(name string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.blobs, name)
	return nil
}

func (l *memLocal) get(name string) string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return string(l.blobs[name])
}

func (l *memLocal) put(name, data string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.blobs[name] = []byte(data)
}

type fixture struct {
	local   *memLocal
	remote  *testutil.MemoryRemote
	metrics *metrics.Metrics
	engine  *Engine[string]
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		local:   newMemLocal(),
		remote:  testutil.NewMemoryRemote(),
		metrics: metrics.New(prometheus.NewRegistry()),
	}
	opts = append([]Option{
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithMetrics(f.metrics),
	}, opts...)
	f.engine = New[string]("test", textCodec{}, f.local, f.remote, opts...)
	return f
}

func (f *fixture) name() string { return f.engine.Name(fp) }

func TestEngine_Name(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, "test-"+fp, f.name())
	assert.Equal(t, "test", f.engine.Kind())
}

func TestLoad_NothingAnywhere(t *testing.T) {
	f := newFixture(t)

	res, err := f.engine.Load(context.Background(), fp)
	require.NoError(t, err)
	assert.Equal(t, Result[string]{Value: "", Source: SourceEmpty}, res)
	assert.Equal(t, 1.0, promtest.ToFloat64(f.metrics.LoadsTotal.WithLabelValues("test", metrics.SourceEmpty)))
	assert.Equal(t, 0.0, promtest.ToFloat64(f.metrics.RemoteErrors.WithLabelValues("test", "load")),
		"not found is not a remote error")
}

func TestStore_ThenLoadFromLocal(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	require.NoError(t, f.engine.Store(ctx, fp, "hello"))
	assert.Equal(t, "v2:hello", f.local.get(f.name()))
	remote, ok := f.remote.Get(f.name())
	require.True(t, ok)
	assert.Equal(t, "v2:hello", string(remote))

	res, err := f.engine.Load(ctx, fp)
	require.NoError(t, err)
	assert.Equal(t, Result[string]{Value: "hello", Source: SourceLocal}, res)
	assert.Equal(t, 1, f.remote.Calls(testutil.OpStore))
	assert.Equal(t, 0, f.remote.Calls(testutil.OpLoad), "local hit never touches remote")
}

func TestStore_RemoteFailureSwallowed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.remote.Fail(testutil.OpStore, errors.New("offline"))

	require.NoError(t, f.engine.Store(ctx, fp, "hello"))
	assert.Equal(t, "v2:hello", f.local.get(f.name()))
	assert.Equal(t, 1.0, promtest.ToFloat64(f.metrics.RemoteErrors.WithLabelValues("test", "store")))
}

func TestStore_LocalFailureReturned(t *testing.T) {
	f := newFixture(t)
	boom := errors.New("disk full")
	f.local.writeErr = boom

	err := f.engine.Store(context.Background(), fp, "hello")
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, f.remote.Calls(testutil.OpStore), "remote is not written when local fails")
}

func TestStore_RemoteTimeout(t *testing.T) {
	f := newFixture(t, WithRemoteTimeout(20*time.Millisecond))
	f.remote.SetDelay(time.Minute)

	start := time.Now()
	require.NoError(t, f.engine.Store(context.Background(), fp, "hello"))
	assert.Less(t, time.Since(start), 10*time.Second)
	assert.Equal(t, "v2:hello", f.local.get(f.name()))
}

func TestLoad_RemoteFallbackReplicatesLocally(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.remote.Put(f.name(), []byte("v1:from-remote"))

	res, err := f.engine.Load(ctx, fp)
	require.NoError(t, err)
	assert.Equal(t, Result[string]{Value: "from-remote", Source: SourceRemote, Migrated: true}, res)

	assert.Equal(t, "v2:from-remote", f.local.get(f.name()))
	remote, _ := f.remote.Get(f.name())
	assert.Equal(t, "v2:from-remote", string(remote), "remote gets the normalized envelope")

	res, err = f.engine.Load(ctx, fp)
	require.NoError(t, err)
	assert.Equal(t, SourceLocal, res.Source)
	assert.False(t, res.Migrated)
}

func TestLoad_CorruptLocalFallsBackToRemote(t *testing.T) {
	f := newFixture(t)
	f.local.put(f.name(), "garbage")
	f.remote.Put(f.name(), []byte("v2:good"))

	res, err := f.engine.Load(context.Background(), fp)
	require.NoError(t, err)
	assert.Equal(t, "good", res.Value)
	assert.Equal(t, SourceRemote, res.Source)
	assert.Equal(t, "v2:good", f.local.get(f.name()))
	assert.Equal(t, 1.0, promtest.ToFloat64(f.metrics.DecodeFailures.WithLabelValues("test", metrics.SourceLocal)))
}

func TestLoad_BothUnreadableIsEmpty(t *testing.T) {
	f := newFixture(t)
	f.local.put(f.name(), "garbage")
	f.remote.Put(f.name(), []byte("also garbage"))

	res, err := f.engine.Load(context.Background(), fp)
	require.NoError(t, err)
	assert.Equal(t, SourceEmpty, res.Source)
	assert.Equal(t, "garbage", f.local.get(f.name()), "unreadable local is left for the next store")
}

func TestLoad_RemoteErrorIsEmpty(t *testing.T) {
	f := newFixture(t)
	f.remote.Fail(testutil.OpLoad, errors.New("offline"))

	res, err := f.engine.Load(context.Background(), fp)
	require.NoError(t, err)
	assert.Equal(t, SourceEmpty, res.Source)
	assert.Equal(t, 1.0, promtest.ToFloat64(f.metrics.RemoteErrors.WithLabelValues("test", "load")))
}

func TestLoad_LocalReadErrorReturned(t *testing.T) {
	f := newFixture(t)
	boom := errors.New("permission denied")
	f.local.readErr = boom

	_, err := f.engine.Load(context.Background(), fp)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, f.remote.Calls(testutil.OpLoad))
}

func TestLoad_RemoteValueAdoptedWhenLocalWriteFails(t *testing.T) {
	f := newFixture(t)
	f.remote.Put(f.name(), []byte("v2:remote"))
	boom := errors.New("disk full")
	f.local.writeErr = boom

	res, err := f.engine.Load(context.Background(), fp)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, "remote", res.Value)
	assert.Equal(t, SourceRemote, res.Source)
}

func TestLoad_NilRemote(t *testing.T) {
	local := newMemLocal()
	e := New[string]("test", textCodec{}, local, nil,
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))

	res, err := e.Load(context.Background(), fp)
	require.NoError(t, err)
	assert.Equal(t, SourceEmpty, res.Source)

	require.NoError(t, e.Store(context.Background(), fp, "x"))
	require.NoError(t, e.Remove(context.Background(), fp))
}

func TestLoad_MigratedLocalIsWrittenBack(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.local.put(f.name(), "v1:old")

	res, err := f.engine.Load(ctx, fp)
	require.NoError(t, err)
	assert.Equal(t, Result[string]{Value: "old", Source: SourceLocal, Migrated: true}, res)

	f.engine.Wait()
	assert.Equal(t, "v2:old", f.local.get(f.name()))
	assert.Equal(t, 0, f.remote.Calls(testutil.OpStore), "write-back is local only")
	assert.Equal(t, 1.0, promtest.ToFloat64(f.metrics.WriteBacksTotal.WithLabelValues("test", metrics.WriteBackWritten)))

	res, err = f.engine.Load(ctx, fp)
	require.NoError(t, err)
	assert.False(t, res.Migrated)
}

func TestLoad_WriteBackSkippedAfterStore(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.local.put(f.name(), "v1:old")

	// The store lands after the load has started but before its write-back.
	f.local.onRead = func() {
		require.NoError(t, f.engine.Store(ctx, fp, "fresh"))
	}

	res, err := f.engine.Load(ctx, fp)
	require.NoError(t, err)
	assert.True(t, res.Migrated)

	f.engine.Wait()
	assert.Equal(t, "v2:fresh", f.local.get(f.name()))
	assert.Equal(t, 1.0, promtest.ToFloat64(f.metrics.WriteBacksTotal.WithLabelValues("test", metrics.WriteBackSkipped)))
}

func TestRemove(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.engine.Store(ctx, fp, "x"))

	require.NoError(t, f.engine.Remove(ctx, fp))
	assert.Equal(t, "", f.local.get(f.name()))
	_, ok := f.remote.Get(f.name())
	assert.False(t, ok)

	res, err := f.engine.Load(ctx, fp)
	require.NoError(t, err)
	assert.Equal(t, SourceEmpty, res.Source)
}

func TestRemove_RemoteFailureSwallowed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.engine.Store(ctx, fp, "x"))
	f.remote.Fail(testutil.OpRemove, errors.New("offline"))

	require.NoError(t, f.engine.Remove(ctx, fp))
	assert.Equal(t, "", f.local.get(f.name()))
}
