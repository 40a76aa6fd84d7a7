package testutil

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/metavault/internal/blobstore"
)

func TestClock_FrozenUntilMoved(t *testing.T) {
	start := time.Date(2024, 3, 1, 12, 0, 0, 123456789, time.UTC)
	c := NewClock(start)

	assert.Equal(t, start.Truncate(time.Millisecond), c.Now())
	assert.Equal(t, c.Now(), c.Now())

	next := c.Advance(time.Second)
	assert.Equal(t, start.Truncate(time.Millisecond).Add(time.Second), next)
	assert.Equal(t, next, c.Now())

	c.Set(start)
	assert.Equal(t, start.Truncate(time.Millisecond), c.Now())
}

func TestClock_ThreadSafe(t *testing.T) {
	c := NewClock(time.Unix(0, 0))
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Advance(time.Millisecond)
		}()
	}
	wg.Wait()
	assert.Equal(t, time.Unix(0, 0).UTC().Add(50*time.Millisecond), c.Now())
}

func TestMemoryRemote_RoundTrip(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRemote()

	_, err := r.Load(ctx, "a")
	assert.ErrorIs(t, err, blobstore.ErrNotFound)

	require.NoError(t, r.Store(ctx, "a", []byte("x")))
	got, err := r.Load(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []byte("x"), got)

	require.NoError(t, r.Remove(ctx, "a"))
	_, ok := r.Get("a")
	assert.False(t, ok)

	assert.Equal(t, 2, r.Calls(OpLoad))
	assert.Equal(t, 1, r.Calls(OpStore))
	assert.Equal(t, 1, r.Calls(OpRemove))
}

func TestMemoryRemote_Fail(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRemote()
	boom := errors.New("offline")

	r.Fail(OpStore, boom)
	assert.ErrorIs(t, r.Store(ctx, "a", []byte("x")), boom)
	_, ok := r.Get("a")
	assert.False(t, ok)

	r.Fail(OpStore, nil)
	assert.NoError(t, r.Store(ctx, "a", []byte("x")))
}

func TestMemoryRemote_DelayHonoursContext(t *testing.T) {
	r := NewMemoryRemote()
	r.SetDelay(time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := r.Load(ctx, "a")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNewProvider(t *testing.T) {
	p := NewProvider(t, 1, 2)
	fp, err := p.Fingerprint("acct")
	require.NoError(t, err)
	assert.Len(t, fp, 64)

	keys, err := p.DecryptionKeys("acct", "metadata", make([]byte, 32))
	require.NoError(t, err)
	assert.Len(t, keys, 2)
}
