package metastore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/roach88/metavault/internal/blobstore"
	"github.com/roach88/metavault/internal/keys"
	"github.com/roach88/metavault/internal/model"
	"github.com/roach88/metavault/internal/reconcile"
)

// AddressBookStore is the address book of one account.
type AddressBookStore struct {
	engine      *reconcile.Engine[model.AddressBookContacts]
	fingerprint string
	now         func() time.Time

	mu    sync.Mutex
	cache model.AddressBookContacts
}

// NewAddressBookStore creates a store for account. remote may be nil.
func NewAddressBookStore(account string, provider keys.Provider, local blobstore.Local, remote blobstore.Remote, opts ...Option) (*AddressBookStore, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	fingerprint, err := provider.Fingerprint(account)
	if err != nil {
		return nil, fmt.Errorf("address book store: %w", err)
	}

	codec := addressBookCodec{kr: keys.Bind(provider, account, keys.PurposeAddressBook)}
	return &AddressBookStore{
		engine:      reconcile.New[model.AddressBookContacts](KindAddressBook, codec, local, remote, o.engineOptions()...),
		fingerprint: fingerprint,
		now:         o.now,
		cache:       model.NewAddressBook(),
	}, nil
}

// Load replaces the cache with the persisted address book.
func (s *AddressBookStore) Load(ctx context.Context) (Loaded, error) {
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
func (s *AddressBookStore) Store(ctx context.Context) error {
	s.mu.Lock()
	snapshot := s.cache
	snapshot.Contacts = append([]model.Contact(nil), s.cache.Contacts...)
	s.mu.Unlock()

	return s.engine.Store(ctx, s.fingerprint, snapshot)
}

// Wait blocks until background write-backs finish.
func (s *AddressBookStore) Wait() {
	s.engine.Wait()
}

// ResetAccount deletes the persisted address book and clears the cache.
func (s *AddressBookStore) ResetAccount(ctx context.Context) error {
	s.Reset()
	return s.engine.Remove(ctx, s.fingerprint)
}

// Reset clears the cache without touching storage.
func (s *AddressBookStore) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache = model.NewAddressBook()
}

// StoreContact adds c or replaces the contact with the same id.
func (s *AddressBookStore) StoreContact(c model.Contact) error {
	if c.Address == "" {
		return errors.New("contact address is required")
	}
	if c.Name == "" {
		return errors.New("contact name is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	c.LastUpdated = now
	s.cache.Upsert(c)
	s.cache.LastUpdated = now
	return nil
}

// DeleteContact removes the contact with the given id.
func (s *AddressBookStore) DeleteContact(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.cache.Remove(id) {
		return false
	}
	s.cache.LastUpdated = s.now()
	return true
}

// Contacts returns the contacts in insertion order.
func (s *AddressBookStore) Contacts() []model.Contact {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Contact(nil), s.cache.Contacts...)
}

// Contact returns the contact with the given id.
func (s *AddressBookStore) Contact(id string) (model.Contact, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache.Get(id)
}
