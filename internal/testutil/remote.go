package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/roach88/metavault/internal/blobstore"
)

// MemoryRemote is an in-memory blobstore.Remote with failure injection.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type MemoryRemote struct {
	mu    sync.Mutex
	blobs map[string][]byte
	calls map[string]int
	fail  map[string]error
	delay time.Duration
}

// Remote operation names used by Fail and Calls.
const (
	OpLoad   = "load"
	OpStore  = "store"
	OpRemove = "remove"
)

// NewMemoryRemote creates an empty remote.
func NewMemoryRemote() *MemoryRemote {
	return &MemoryRemote{
		blobs: map[string][]byte{},
		calls: map[string]int{},
		fail:  map[string]error{},
	}
}

// Fail makes every call to op return err. A nil err clears the failure.
func (r *MemoryRemote) Fail(op string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err == nil {
		delete(r.fail, op)
		return
	}
	r.fail[op] = err
}

// SetDelay makes every call block for d or until its context is done.
func (r *MemoryRemote) SetDelay(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delay = d
}

// Calls returns how many times op was invoked, including failed calls.
func (r *MemoryRemote) Calls(op string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[op]
}

// Get returns a copy of the blob stored under id, bypassing failure injection.
func (r *MemoryRemote) Get(id string) ([]byte, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.blobs[id]
	return append([]byte(nil), b...), ok
}

// Put stores a blob directly, bypassing failure injection.
func (r *MemoryRemote) Put(id string, data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.blobs[id] = append([]byte(nil), data...)
}

// Load implements blobstore.Remote.
func (r *MemoryRemote) Load(ctx context.Context, id string) ([]byte, error) {
	if err := r.enter(ctx, OpLoad); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.blobs[id]
	if !ok {
		return nil, fmt.Errorf("load %s: %w", id, blobstore.ErrNotFound)
	}
	return append([]byte(nil), b...), nil
}

// Store implements blobstore.Remote.
func (r *MemoryRemote) Store(ctx context.Context, id string, data []byte) error {
	if err := r.enter(ctx, OpStore); err != nil {
		return err
	}
	r.Put(id, data)
	return nil
}

// Remove implements blobstore.Remote.
func (r *MemoryRemote) Remove(ctx context.Context, id string) error {
	if err := r.enter(ctx, OpRemove); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.blobs, id)
	return nil
}

// enter counts the call, applies the delay and returns any injected failure.
func (r *MemoryRemote) enter(ctx context.Context, op string) error {
	r.mu.Lock()
	r.calls[op]++
	delay := r.delay
	failure := r.fail[op]
	r.mu.Unlock()

	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return failure
}
