package metastore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/roach88/metavault/internal/blobstore"
	"github.com/roach88/metavault/internal/keys"
	"github.com/roach88/metavault/internal/model"
	"github.com/roach88/metavault/internal/reconcile"
)

// Storage kinds, used as name prefixes in the blob stores.
const (
	KindMetadata    = "metadata"
	KindAddressBook = "addressbook"
)

// Loaded describes the outcome of a Load.
type Loaded struct {
	Source   reconcile.Source
	Migrated bool
}

// MetadataStore is the user metadata of one account.
type MetadataStore struct {
	engine      *reconcile.Engine[model.UserMetadata]
	fingerprint string
	now         func() time.Time
	readEpoch   time.Time

	mu    sync.Mutex
	cache model.UserMetadata
}

// NewMetadataStore creates a store for account. remote may be nil.
func NewMetadataStore(account string, provider keys.Provider, local blobstore.Local, remote blobstore.Remote, opts ...Option) (*MetadataStore, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	fingerprint, err := provider.Fingerprint(account)
	if err != nil {
		return nil, fmt.Errorf("metadata store: %w", err)
	}

	codec := metadataCodec{kr: keys.Bind(provider, account, keys.PurposeMetadata)}
	return &MetadataStore{
		engine:      reconcile.New[model.UserMetadata](KindMetadata, codec, local, remote, o.engineOptions()...),
		fingerprint: fingerprint,
		now:         o.now,
		readEpoch:   o.readEpoch,
		cache:       model.NewUserMetadata(),
	}, nil
}

// Fingerprint returns the account's storage identifier.
func (s *MetadataStore) Fingerprint() string {
	return s.fingerprint
}

// Load replaces the cache with the persisted metadata.
// If nothing is readable the cache becomes empty and no error is returned.
func (s *MetadataStore) Load(ctx context.Context) (Loaded, error) {
	res, err := s.engine.Load(ctx, s.fingerprint)
	if err != nil && res.Source != reconcile.SourceRemote {
		return Loaded{}, err
	}

	s.mu.Lock()
	s.cache = res.Value
	s.mu.Unlock()
	return Loaded{Source: res.Source, Migrated: res.Migrated}, err
}

// Store persists the cache.
func (s *MetadataStore) Store(ctx context.Context) error {
	s.mu.Lock()
	s.cache.LastUpdated = s.now()
	snapshot := s.cache.Clone()
	s.mu.Unlock()

	return s.engine.Store(ctx, s.fingerprint, snapshot)
}

// Wait blocks until background write-backs finish.
func (s *MetadataStore) Wait() {
	s.engine.Wait()
}

// ResetAccount deletes the persisted metadata and clears the cache.
func (s *MetadataStore) ResetAccount(ctx context.Context) error {
	s.Reset()
	return s.engine.Remove(ctx, s.fingerprint)
}

// Reset clears the cache without touching storage.
func (s *MetadataStore) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache = model.NewUserMetadata()
}

// Snapshot returns a deep copy of the cache.
func (s *MetadataStore) Snapshot() model.UserMetadata {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache.Clone()
}

// ToggleBookmark flips the bookmark of txID and returns the new state.
func (s *MetadataStore) ToggleBookmark(txID string) bool {
	if txID == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache.Account.ToggleBookmark(txID, s.now())
}

// IsBookmarked reports whether txID is bookmarked.
func (s *MetadataStore) IsBookmarked(txID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache.Account.Bookmarked[txID].IsBookmarked
}

// AddAnnotation sets the note on txID. Empty text deletes it.
func (s *MetadataStore) AddAnnotation(txID, text string) {
	if txID == "" {
		return
	}
	if text == "" {
		s.DeleteAnnotation(txID)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.Account.SetAnnotation(txID, &text, s.now())
}

// DeleteAnnotation removes the note on txID. The deletion is kept as a
// tombstone so it replicates like any other change.
func (s *MetadataStore) DeleteAnnotation(txID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.cache.Account.Annotations[txID]; !ok {
		return
	}
	s.cache.Account.SetAnnotation(txID, nil, s.now())
}

// Annotation returns the note on txID.
func (s *MetadataStore) Annotation(txID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.cache.Account.Annotations[txID]
	if !ok || a.Content == nil {
		return "", false
	}
	return *a.Content, true
}

// IsRead reports whether txID has been read. Transactions that happened
// before read tracking started are always read.
func (s *MetadataStore) IsRead(txID string, txTime time.Time) bool {
	if !s.readEpoch.IsZero() && txTime.Before(s.readEpoch) {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.cache.Account.Read[txID]
	return ok
}

// MarkRead marks txID as read.
func (s *MetadataStore) MarkRead(txID string) {
	if txID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.Account.MarkRead(txID)
}

// RecordSwap links txID to the swap provider that produced it.
func (s *MetadataStore) RecordSwap(txID, provider string) {
	if txID == "" || provider == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.Account.RecordSwap(txID, provider, s.now())
}

// Swap returns the swap record of txID.
func (s *MetadataStore) Swap(txID string) (model.SwapID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sw, ok := s.cache.Account.Swaps.SwapIDs[txID]
	return sw, ok
}

// PushRecentAsset records assetID as the most recently used swap asset.
func (s *MetadataStore) PushRecentAsset(assetID string) {
	if assetID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.Account.PushRecentAsset(assetID)
}

// RecentAssets returns the recently used assets, most recent first.
func (s *MetadataStore) RecentAssets() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.cache.Account.Swaps.LastUsedAssetHistory...)
}
