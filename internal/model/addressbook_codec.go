package model

import (
	"github.com/roach88/metavault/internal/metaerr"
	"github.com/roach88/metavault/internal/wire"
)

// EncodeAddressBook serializes ab at its declared schema version.
// Timestamps are written in Unix seconds.
//
// Layout:
//
//	schemaVersion, lastUpdated, contactCount,
//	contactCount × {lastUpdated, address, name}
//	v2 only: contactCount, contactCount × {chainId}
func EncodeAddressBook(ab AddressBookContacts) ([]byte, error) {
	if ab.Version != AddressBookV1 && ab.Version != AddressBookV2 {
		return nil, metaerr.New(metaerr.CodeSerialization, "encode address book",
			"schema version %d", ab.Version)
	}
	for _, c := range ab.Contacts {
		if c.Address == "" || c.Name == "" {
			return nil, metaerr.New(metaerr.CodeSerialization, "encode address book",
				"contact %q has empty address or name", c.ID())
		}
	}

	w := wire.NewWriter(3*wire.IntSize + len(ab.Contacts)*64)
	w.Int(ab.Version)
	w.Seconds(ab.LastUpdated)
	w.Count(len(ab.Contacts))
	for _, c := range ab.Contacts {
		w.Seconds(c.LastUpdated)
		w.String(c.Address)
		w.String(c.Name)
	}

	if ab.Version == AddressBookV2 {
		w.Count(len(ab.Contacts))
		for _, c := range ab.Contacts {
			w.String(c.ChainID)
		}
	}

	return w.Bytes(), nil
}

// DecodeAddressBook parses a payload written by EncodeAddressBook.
//
// An unsupported schema version yields an empty book together with a
// CodeSchemaVersionNotSupported error; callers may adopt the empty book.
// Contacts with an empty address or name are dropped. Duplicate ids collapse
// to the most recently updated entry.
func DecodeAddressBook(data []byte) (AddressBookContacts, error) {
	r := wire.NewReader(data)

	version, err := r.Int()
	if err != nil {
		return NewAddressBook(), err
	}
	if version != AddressBookV1 && version != AddressBookV2 {
		return NewAddressBook(), metaerr.New(metaerr.CodeSchemaVersionNotSupported,
			"decode address book", "schema version %d", version)
	}

	lastUpdated, err := r.Seconds()
	if err != nil {
		return NewAddressBook(), err
	}

	n, err := r.Count()
	if err != nil {
		return NewAddressBook(), err
	}

	// Dropped contacts stay as nil slots so the chain trailer lines up.
	slots := make([]*Contact, n)
	for i := 0; i < n; i++ {
		c, err := decodeContact(r)
		if err != nil {
			return NewAddressBook(), err
		}
		slots[i] = c
	}

	if version == AddressBookV2 && !r.Done() {
		if err := decodeChainTrailer(r, slots); err != nil {
			return NewAddressBook(), err
		}
	}

	contacts := make([]Contact, 0, n)
	for _, c := range slots {
		if c != nil {
			contacts = append(contacts, *c)
		}
	}

	return AddressBookContacts{
		LastUpdated: lastUpdated,
		Version:     version,
		Contacts:    dedupe(contacts),
	}, nil
}

func decodeContact(r *wire.Reader) (*Contact, error) {
	lastUpdated, err := r.Seconds()
	if err != nil {
		return nil, err
	}
	address, okAddr, err := r.String()
	if err != nil {
		return nil, err
	}
	name, okName, err := r.String()
	if err != nil {
		return nil, err
	}
	if !okAddr || !okName {
		return nil, nil
	}
	return &Contact{Address: address, Name: name, LastUpdated: lastUpdated}, nil
}

func decodeChainTrailer(r *wire.Reader, slots []*Contact) error {
	n, err := r.Count()
	if err != nil {
		return err
	}
	if n != len(slots) {
		return metaerr.New(metaerr.CodeSubdataRange, "decode address book",
			"chain trailer has %d entries for %d contacts", n, len(slots))
	}
	for i := 0; i < n; i++ {
		chain, ok, err := r.String()
		if err != nil {
			return err
		}
		if ok && slots[i] != nil {
			slots[i].ChainID = chain
		}
	}
	return nil
}
