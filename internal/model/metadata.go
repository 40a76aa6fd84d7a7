package model

import (
	"sort"
	"time"
)

// User metadata schema versions.
const (
	// MetadataV1 predates swaps; annotations always carried content.
	MetadataV1 = 1

	// MetadataV2 adds the swap section and optional annotation content.
	MetadataV2 = 2

	// CurrentMetadataVersion is the schema written by EncodeMetadata.
	CurrentMetadataVersion = MetadataV2
)

// MaxRecentAssets bounds Swaps.LastUsedAssetHistory.
const MaxRecentAssets = 10

// Bookmark records whether a transaction is bookmarked.
type Bookmark struct {
	TxID         string
	LastUpdated  time.Time
	IsBookmarked bool
}

// Annotation is a user note on a transaction. A nil Content is a deleted note.
type Annotation struct {
	TxID        string
	Content     *string
	LastUpdated time.Time
}

// SwapID links a transaction to the swap provider that produced it.
type SwapID struct {
	TxID        string
	Provider    string
	LastUpdated time.Time
}

// Swaps holds swap-related metadata.
type Swaps struct {
	SwapIDs map[string]SwapID

	// LastUsedAssetHistory is most-recent-first, without duplicates.
	LastUsedAssetHistory []string
}

// UMAccount is the metadata of a single wallet account.
type UMAccount struct {
	Bookmarked  map[string]Bookmark
	Annotations map[string]Annotation
	Read        map[string]struct{}
	Swaps       Swaps
}

// UserMetadata is the persisted metadata document of one account.
type UserMetadata struct {
	Version     int
	LastUpdated time.Time
	Account     UMAccount
}

// NewUMAccount returns an account with every collection allocated.
func NewUMAccount() UMAccount {
	return UMAccount{
		Bookmarked:  map[string]Bookmark{},
		Annotations: map[string]Annotation{},
		Read:        map[string]struct{}{},
		Swaps: Swaps{
			SwapIDs:              map[string]SwapID{},
			LastUsedAssetHistory: []string{},
		},
	}
}

// NewUserMetadata returns an empty document at the current schema.
func NewUserMetadata() UserMetadata {
	return UserMetadata{
		Version: CurrentMetadataVersion,
		Account: NewUMAccount(),
	}
}

// IsEmpty reports whether the account holds no metadata at all.
func (a UMAccount) IsEmpty() bool {
	return len(a.Bookmarked) == 0 &&
		len(a.Annotations) == 0 &&
		len(a.Read) == 0 &&
		len(a.Swaps.SwapIDs) == 0 &&
		len(a.Swaps.LastUsedAssetHistory) == 0
}

// ToggleBookmark flips the bookmark of txID, creating it bookmarked if absent.
// Returns the new state.
func (a *UMAccount) ToggleBookmark(txID string, now time.Time) bool {
	b, ok := a.Bookmarked[txID]
	if !ok {
		b = Bookmark{TxID: txID}
	}
	b.IsBookmarked = !b.IsBookmarked
	b.LastUpdated = now
	a.Bookmarked[txID] = b
	return b.IsBookmarked
}

// SetAnnotation stores content for txID. A nil content marks it deleted.
func (a *UMAccount) SetAnnotation(txID string, content *string, now time.Time) {
	a.Annotations[txID] = Annotation{TxID: txID, Content: content, LastUpdated: now}
}

// MarkRead adds txID to the read set.
func (a *UMAccount) MarkRead(txID string) {
	a.Read[txID] = struct{}{}
}

// RecordSwap links txID to provider.
func (a *UMAccount) RecordSwap(txID, provider string, now time.Time) {
	a.Swaps.SwapIDs[txID] = SwapID{TxID: txID, Provider: provider, LastUpdated: now}
}

// PushRecentAsset moves assetID to the front of the history, dropping any
// earlier occurrence and anything past MaxRecentAssets.
func (a *UMAccount) PushRecentAsset(assetID string) {
	history := make([]string, 0, MaxRecentAssets)
	history = append(history, assetID)
	for _, id := range a.Swaps.LastUsedAssetHistory {
		if len(history) == MaxRecentAssets {
			break
		}
		if id != assetID {
			history = append(history, id)
		}
	}
	a.Swaps.LastUsedAssetHistory = history
}

// Clone returns a deep copy.
func (m UserMetadata) Clone() UserMetadata {
	out := m
	out.Account = NewUMAccount()
	for k, v := range m.Account.Bookmarked {
		out.Account.Bookmarked[k] = v
	}
	for k, v := range m.Account.Annotations {
		if v.Content != nil {
			s := *v.Content
			v.Content = &s
		}
		out.Account.Annotations[k] = v
	}
	for k := range m.Account.Read {
		out.Account.Read[k] = struct{}{}
	}
	for k, v := range m.Account.Swaps.SwapIDs {
		out.Account.Swaps.SwapIDs[k] = v
	}
	out.Account.Swaps.LastUsedAssetHistory = append(out.Account.Swaps.LastUsedAssetHistory,
		m.Account.Swaps.LastUsedAssetHistory...)
	return out
}

// sortedKeys returns the keys of m in ascending order.
func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
