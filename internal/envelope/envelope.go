// Package envelope wraps serialized payloads in versioned, salted,
// authenticated ciphertext.
//
// Address book envelope:
//
//	[0..8)    format version (int64 BE)
//	[8..40)   salt
//	[40..end) nonce ‖ ciphertext ‖ tag
//
// Metadata envelope:
//
//	[0..8)    format version (int64 BE)
//	[8..40)   salt
//	[40..48)  schema version (int64 BE, authenticated as associated data)
//	[48..end) nonce ‖ ciphertext ‖ tag
//
// Every seal draws a fresh salt, so each envelope is encrypted under a
// distinct sub-key. Metadata envelopes are opened by trying every candidate
// key in order, which keeps data readable across key rotation. Address book
// envelopes are opened with the current key only.
package envelope

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/roach88/metavault/internal/keys"
	"github.com/roach88/metavault/internal/metaerr"
	"github.com/roach88/metavault/internal/wire"
)

const (
	// FormatVersion is the only envelope format this package reads and writes.
	FormatVersion = 1

	// SaltSize is the length of the per-envelope salt.
	SaltSize = 32

	// HeaderSize is the length of the format version and salt.
	HeaderSize = wire.IntSize + SaltSize

	// MetadataHeaderSize adds the plaintext schema version.
	MetadataHeaderSize = HeaderSize + wire.IntSize

	// minSealed is the smallest valid nonce ‖ ciphertext ‖ tag.
	minSealed = chacha20poly1305.NonceSize + chacha20poly1305.Overhead
)

// Keyring supplies sub-keys for one account and purpose.
type Keyring interface {
	EncryptionKey(salt []byte) (keys.SubKey, error)
	DecryptionKeys(salt []byte) ([]keys.SubKey, error)
}

// SealAddressBook encrypts an address book payload under the current key.
func SealAddressBook(payload []byte, kr Keyring) ([]byte, error) {
	salt, err := newSalt()
	if err != nil {
		return nil, err
	}
	key, err := kr.EncryptionKey(salt)
	if err != nil {
		return nil, fmt.Errorf("seal address book: %w", err)
	}
	defer key.Wipe()

	w := wire.NewWriter(HeaderSize + minSealed + len(payload))
	w.Int64(FormatVersion)
	w.Raw(salt)
	sealed, err := seal(key, w.Bytes(), payload, nil)
	if err != nil {
		return nil, fmt.Errorf("seal address book: %w", err)
	}
	return sealed, nil
}

// OpenAddressBook decrypts an address book envelope with the current key.
// No other candidate is tried; a wrong key is an authentication failure.
func OpenAddressBook(data []byte, kr Keyring) ([]byte, error) {
	r := wire.NewReader(data)
	salt, err := readHeader(r, "open address book")
	if err != nil {
		return nil, err
	}
	sealed, err := sealedBody(r, "open address book")
	if err != nil {
		return nil, err
	}

	key, err := kr.EncryptionKey(salt)
	if err != nil {
		return nil, fmt.Errorf("open address book: %w", err)
	}
	defer key.Wipe()

	payload, err := open(key, sealed, nil)
	if err != nil {
		return nil, metaerr.Wrap(metaerr.CodeAuthenticationFailure, "open address book", err)
	}
	return payload, nil
}

// SealMetadata encrypts a metadata payload written at schemaVersion.
func SealMetadata(payload []byte, schemaVersion int, kr Keyring) ([]byte, error) {
	salt, err := newSalt()
	if err != nil {
		return nil, err
	}
	key, err := kr.EncryptionKey(salt)
	if err != nil {
		return nil, fmt.Errorf("seal metadata: %w", err)
	}
	defer key.Wipe()

	w := wire.NewWriter(MetadataHeaderSize + minSealed + len(payload))
	w.Int64(FormatVersion)
	w.Raw(salt)
	w.Int(schemaVersion)
	header := w.Bytes()
	aad := append([]byte(nil), header[HeaderSize:]...)

	sealed, err := seal(key, header, payload, aad)
	if err != nil {
		return nil, fmt.Errorf("seal metadata: %w", err)
	}
	return sealed, nil
}

// PeekMetadataVersion returns the plaintext schema version of a metadata
// envelope without decrypting it.
func PeekMetadataVersion(data []byte) (int, error) {
	r := wire.NewReader(data)
	if _, err := readHeader(r, "peek metadata"); err != nil {
		return 0, err
	}
	return r.Int()
}

// OpenMetadata decrypts a metadata envelope by trying each candidate key in
// order. The first key that authenticates wins. If none does, the error has
// code CodeMissingEncryptionKey.
func OpenMetadata(data []byte, kr Keyring) (payload []byte, schemaVersion int, err error) {
	r := wire.NewReader(data)
	salt, err := readHeader(r, "open metadata")
	if err != nil {
		return nil, 0, err
	}
	versionBytes, err := r.Next(wire.IntSize)
	if err != nil {
		return nil, 0, err
	}
	schemaVersion = int(int64(binary.BigEndian.Uint64(versionBytes)))
	sealed, err := sealedBody(r, "open metadata")
	if err != nil {
		return nil, 0, err
	}

	candidates, err := kr.DecryptionKeys(salt)
	if err != nil {
		return nil, 0, fmt.Errorf("open metadata: %w", err)
	}
	defer func() {
		for i := range candidates {
			candidates[i].Wipe()
		}
	}()

	for _, key := range candidates {
		payload, err := open(key, sealed, versionBytes)
		if err == nil {
			return payload, schemaVersion, nil
		}
	}
	return nil, 0, metaerr.New(metaerr.CodeMissingEncryptionKey, "open metadata",
		"none of %d candidate keys authenticated", len(candidates))
}

func newSalt() ([]byte, error) {
	salt := make([]byte, SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("envelope: generate salt: %w", err)
	}
	return salt, nil
}

// readHeader checks the format version and returns the salt.
func readHeader(r *wire.Reader, op string) ([]byte, error) {
	version, err := r.Int64()
	if err != nil {
		return nil, err
	}
	if version != FormatVersion {
		return nil, metaerr.New(metaerr.CodeEncryptionVersionNotSupported, op,
			"format version %d", version)
	}
	return r.Next(SaltSize)
}

// sealedBody returns the rest of r, which must hold at least a nonce and a tag.
func sealedBody(r *wire.Reader, op string) ([]byte, error) {
	if r.Remaining() < minSealed {
		return nil, metaerr.New(metaerr.CodeSubdataRange, op,
			"sealed data is %d bytes, need at least %d", r.Remaining(), minSealed)
	}
	return r.Rest(), nil
}

// seal appends nonce ‖ ciphertext ‖ tag to dst.
func seal(key keys.SubKey, dst, payload, aad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	dst = append(dst, nonce...)
	return aead.Seal(dst, nonce, payload, aad), nil
}

// open authenticates and decrypts nonce ‖ ciphertext ‖ tag.
func open(key keys.SubKey, sealed, aad []byte) ([]byte, error) {
	if len(sealed) < minSealed {
		return nil, fmt.Errorf("sealed data is %d bytes, need at least %d", len(sealed), minSealed)
	}
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, err
	}
	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	return aead.Open(nil, nonce, ciphertext, aad)
}
