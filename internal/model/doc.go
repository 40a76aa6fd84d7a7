// Package model defines the per-account records that metavault persists and
// their binary encodings.
//
// Two documents exist per account:
//   - AddressBookContacts: saved contacts, timestamps in Unix seconds
//   - UserMetadata: bookmarks, notes, read markers and swap history,
//     timestamps in Unix milliseconds
//
// Encoders are deterministic: maps and sets are written in key order, so
// equal documents produce equal bytes. Decoders never panic and report
// malformed input with metaerr codes.
//
// Metadata payloads written by older releases are upgraded with Migrate
// before decoding. Address book schemas 1 and 2 are read directly.
package model
