package model

import (
	"time"
)

// AddressBook schema versions.
const (
	// AddressBookV1 is the original layout: timestamp, address and name per contact.
	AddressBookV1 = 1

	// AddressBookV2 appends the chain id trailer.
	AddressBookV2 = 2

	// CurrentAddressBookVersion is the schema written by EncodeAddressBook.
	CurrentAddressBookVersion = AddressBookV2
)

// DefaultChain is the id suffix used for contacts without a chain id.
const DefaultChain = "default"

// Contact is a single address book entry.
type Contact struct {
	Address     string
	Name        string
	LastUpdated time.Time

	// ChainID is empty for the wallet's own chain.
	ChainID string
}

// ID returns the contact's identity: address and chain.
func (c Contact) ID() string {
	chain := c.ChainID
	if chain == "" {
		chain = DefaultChain
	}
	return c.Address + "-" + chain
}

// AddressBookContacts is the persisted address book of one account.
// Contacts are unique by ID and keep insertion order.
type AddressBookContacts struct {
	LastUpdated time.Time
	Version     int
	Contacts    []Contact
}

// NewAddressBook returns an empty address book at the current schema.
func NewAddressBook() AddressBookContacts {
	return AddressBookContacts{
		Version:  CurrentAddressBookVersion,
		Contacts: []Contact{},
	}
}

// IsEmpty reports whether the book has no contacts.
func (ab AddressBookContacts) IsEmpty() bool {
	return len(ab.Contacts) == 0
}

// Get returns the contact with the given id.
func (ab AddressBookContacts) Get(id string) (Contact, bool) {
	for _, c := range ab.Contacts {
		if c.ID() == id {
			return c, true
		}
	}
	return Contact{}, false
}

// Upsert inserts c or replaces the contact with the same id in place.
func (ab *AddressBookContacts) Upsert(c Contact) {
	id := c.ID()
	for i := range ab.Contacts {
		if ab.Contacts[i].ID() == id {
			ab.Contacts[i] = c
			return
		}
	}
	ab.Contacts = append(ab.Contacts, c)
}

// Remove deletes the contact with the given id. Reports whether it existed.
func (ab *AddressBookContacts) Remove(id string) bool {
	for i := range ab.Contacts {
		if ab.Contacts[i].ID() == id {
			ab.Contacts = append(ab.Contacts[:i], ab.Contacts[i+1:]...)
			return true
		}
	}
	return false
}

// dedupe keeps the first position of each id and the most recently updated value.
func dedupe(contacts []Contact) []Contact {
	out := make([]Contact, 0, len(contacts))
	index := make(map[string]int, len(contacts))
	for _, c := range contacts {
		id := c.ID()
		if i, ok := index[id]; ok {
			if c.LastUpdated.After(out[i].LastUpdated) {
				out[i] = c
			}
			continue
		}
		index[id] = len(out)
		out = append(out, c)
	}
	return out
}
