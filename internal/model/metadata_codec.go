package model

import (
	"github.com/roach88/metavault/internal/metaerr"
	"github.com/roach88/metavault/internal/wire"
)

// EncodeMetadata serializes the payload of a current-schema document.
// The schema version itself travels in the envelope header, not here.
// Timestamps are written in Unix milliseconds; maps and sets in key order.
func EncodeMetadata(m UserMetadata) ([]byte, error) {
	if m.Version != CurrentMetadataVersion {
		return nil, metaerr.New(metaerr.CodeSerialization, "encode metadata",
			"document is at schema %d, expected %d", m.Version, CurrentMetadataVersion)
	}
	return encodeMetadataV2(m), nil
}

// encodeMetadataV2 writes the schema 2 layout regardless of m.Version.
func encodeMetadataV2(m UserMetadata) []byte {
	a := m.Account
	w := wire.NewWriter(256)
	w.Millis(m.LastUpdated)

	w.Count(len(a.Bookmarked))
	for _, id := range sortedKeys(a.Bookmarked) {
		b := a.Bookmarked[id]
		w.String(id)
		w.Millis(b.LastUpdated)
		w.Bool(b.IsBookmarked)
	}

	w.Count(len(a.Annotations))
	for _, id := range sortedKeys(a.Annotations) {
		an := a.Annotations[id]
		w.String(id)
		w.Bool(an.Content != nil)
		if an.Content != nil {
			w.String(*an.Content)
		}
		w.Millis(an.LastUpdated)
	}

	w.Count(len(a.Read))
	for _, id := range sortedKeys(a.Read) {
		w.String(id)
	}

	w.Count(len(a.Swaps.SwapIDs))
	for _, id := range sortedKeys(a.Swaps.SwapIDs) {
		s := a.Swaps.SwapIDs[id]
		w.String(id)
		w.String(s.Provider)
		w.Millis(s.LastUpdated)
	}

	w.Count(len(a.Swaps.LastUsedAssetHistory))
	for _, asset := range a.Swaps.LastUsedAssetHistory {
		w.String(asset)
	}

	return w.Bytes()
}

// DecodeMetadata parses a current-schema payload. Older payloads must go
// through Migrate first.
func DecodeMetadata(payload []byte) (UserMetadata, error) {
	m, err := decodeMetadata(payload, CurrentMetadataVersion)
	if err != nil {
		return NewUserMetadata(), err
	}
	return m, nil
}

// decodeMetadata reads a payload laid out at the given schema. Records whose
// identifying strings are empty are dropped.
func decodeMetadata(payload []byte, version int) (UserMetadata, error) {
	if version != MetadataV1 && version != MetadataV2 {
		return UserMetadata{}, metaerr.New(metaerr.CodeSchemaVersionNotSupported,
			"decode metadata", "schema version %d", version)
	}

	r := wire.NewReader(payload)
	m := UserMetadata{Version: version, Account: NewUMAccount()}

	var err error
	if m.LastUpdated, err = r.Millis(); err != nil {
		return UserMetadata{}, err
	}
	if err := decodeBookmarks(r, &m.Account); err != nil {
		return UserMetadata{}, err
	}
	if err := decodeAnnotations(r, &m.Account, version); err != nil {
		return UserMetadata{}, err
	}
	if err := decodeRead(r, &m.Account); err != nil {
		return UserMetadata{}, err
	}
	if version >= MetadataV2 {
		if err := decodeSwaps(r, &m.Account.Swaps); err != nil {
			return UserMetadata{}, err
		}
	}
	return m, nil
}

func decodeBookmarks(r *wire.Reader, a *UMAccount) error {
	n, err := r.Count()
	if err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		id, ok, err := r.String()
		if err != nil {
			return err
		}
		ts, err := r.Millis()
		if err != nil {
			return err
		}
		on, err := r.Bool()
		if err != nil {
			return err
		}
		if ok {
			a.Bookmarked[id] = Bookmark{TxID: id, LastUpdated: ts, IsBookmarked: on}
		}
	}
	return nil
}

func decodeAnnotations(r *wire.Reader, a *UMAccount, version int) error {
	n, err := r.Count()
	if err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		id, okID, err := r.String()
		if err != nil {
			return err
		}

		var content *string
		okContent := true
		if version == MetadataV1 {
			s, ok, err := r.String()
			if err != nil {
				return err
			}
			content, okContent = &s, ok
		} else {
			has, err := r.Bool()
			if err != nil {
				return err
			}
			if has {
				s, ok, err := r.String()
				if err != nil {
					return err
				}
				content, okContent = &s, ok
			}
		}

		ts, err := r.Millis()
		if err != nil {
			return err
		}
		if okID && okContent {
			a.Annotations[id] = Annotation{TxID: id, Content: content, LastUpdated: ts}
		}
	}
	return nil
}

func decodeRead(r *wire.Reader, a *UMAccount) error {
	n, err := r.Count()
	if err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		id, ok, err := r.String()
		if err != nil {
			return err
		}
		if ok {
			a.Read[id] = struct{}{}
		}
	}
	return nil
}

func decodeSwaps(r *wire.Reader, s *Swaps) error {
	n, err := r.Count()
	if err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		id, okID, err := r.String()
		if err != nil {
			return err
		}
		provider, okProvider, err := r.String()
		if err != nil {
			return err
		}
		ts, err := r.Millis()
		if err != nil {
			return err
		}
		if okID && okProvider {
			s.SwapIDs[id] = SwapID{TxID: id, Provider: provider, LastUpdated: ts}
		}
	}

	n, err = r.Count()
	if err != nil {
		return err
	}
	seen := make(map[string]bool, n)
	for i := 0; i < n; i++ {
		asset, ok, err := r.String()
		if err != nil {
			return err
		}
		if !ok || seen[asset] || len(s.LastUsedAssetHistory) == MaxRecentAssets {
			continue
		}
		seen[asset] = true
		s.LastUsedAssetHistory = append(s.LastUsedAssetHistory, asset)
	}
	return nil
}
