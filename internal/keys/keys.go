// Package keys supplies per-account encryption sub-keys.
//
// Long-term secrets never leave a Provider. Callers hand over the envelope
// salt and receive one-time sub-keys derived from it; the account storage
// identifier comes from Fingerprint.
package keys

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// SubKeySize is the length of a derived sub-key.
const SubKeySize = 32

// MinRootSize is the minimum length of a root secret.
const MinRootSize = 32

// Purpose separates the key space of each envelope kind.
type Purpose string

const (
	// PurposeMetadata derives keys for user metadata envelopes.
	PurposeMetadata Purpose = "metadata"

	// PurposeAddressBook derives keys for address book envelopes.
	PurposeAddressBook Purpose = "addressbook"
)

// Domain prefixes for derivations. Version suffix enables future rotation
// of the derivation scheme itself.
const (
	domainAccount     = "metavault/account/v1"
	domainFingerprint = "metavault/fingerprint/v1"
	domainSubKey      = "metavault/subkey/v1"
)

// ErrNoRootSecret is returned when a provider is built without a current secret.
var ErrNoRootSecret = errors.New("keys: no root secret")

// SubKey is a one-time key derived from an account key and an envelope salt.
type SubKey [SubKeySize]byte

// Wipe zeroes the key.
func (k *SubKey) Wipe() {
	for i := range k {
		k[i] = 0
	}
}

// Equal compares two keys in constant time.
func (k SubKey) Equal(other SubKey) bool {
	return subtle.ConstantTimeCompare(k[:], other[:]) == 1
}

// Provider derives sub-keys for accounts.
type Provider interface {
	// Fingerprint returns the storage identifier of an account.
	Fingerprint(account string) (string, error)

	// EncryptionKey derives the sub-key of the current account key.
	EncryptionKey(account string, purpose Purpose, salt []byte) (SubKey, error)

	// DecryptionKeys derives one sub-key per known account key, current first.
	DecryptionKeys(account string, purpose Purpose, salt []byte) ([]SubKey, error)
}

// Keyring is a Provider bound to one account and purpose.
type Keyring struct {
	provider Provider
	account  string
	purpose  Purpose
}

// Bind returns the keyring of account for purpose.
func Bind(p Provider, account string, purpose Purpose) Keyring {
	return Keyring{provider: p, account: account, purpose: purpose}
}

// EncryptionKey derives the current sub-key for salt.
func (k Keyring) EncryptionKey(salt []byte) (SubKey, error) {
	return k.provider.EncryptionKey(k.account, k.purpose, salt)
}

// DecryptionKeys derives every candidate sub-key for salt.
func (k Keyring) DecryptionKeys(salt []byte) ([]SubKey, error) {
	return k.provider.DecryptionKeys(k.account, k.purpose, salt)
}

// HKDFProvider derives account keys from root secrets with HKDF-SHA256.
//
// The first root is current and used for encryption. Retired roots are kept
// so envelopes written before a rotation can still be opened.
type HKDFProvider struct {
	walletID string
	roots    [][]byte
}

// NewHKDFProvider creates a provider. walletID scopes fingerprints so that two
// wallets never share storage identifiers.
func NewHKDFProvider(walletID string, current []byte, retired ...[]byte) (*HKDFProvider, error) {
	if len(current) == 0 {
		return nil, ErrNoRootSecret
	}
	roots := make([][]byte, 0, 1+len(retired))
	for i, r := range append([][]byte{current}, retired...) {
		if len(r) < MinRootSize {
			return nil, fmt.Errorf("keys: root secret %d is %d bytes, need at least %d", i, len(r), MinRootSize)
		}
		roots = append(roots, append([]byte(nil), r...))
	}
	return &HKDFProvider{walletID: walletID, roots: roots}, nil
}

// Fingerprint hashes the wallet id and account with domain separation.
// It does not depend on secrets, so rotation keeps storage identifiers stable.
func (p *HKDFProvider) Fingerprint(account string) (string, error) {
	if account == "" {
		return "", errors.New("keys: empty account")
	}
	h := sha256.New()
	h.Write([]byte(domainFingerprint))
	h.Write([]byte{0x00})
	h.Write([]byte(p.walletID))
	h.Write([]byte{0x00})
	h.Write([]byte(account))
	return hex.EncodeToString(h.Sum(nil)), nil
}

// EncryptionKey derives the sub-key of the current root.
func (p *HKDFProvider) EncryptionKey(account string, purpose Purpose, salt []byte) (SubKey, error) {
	return derive(p.roots[0], account, purpose, salt)
}

// DecryptionKeys derives sub-keys for every root, current first.
func (p *HKDFProvider) DecryptionKeys(account string, purpose Purpose, salt []byte) ([]SubKey, error) {
	out := make([]SubKey, 0, len(p.roots))
	for _, root := range p.roots {
		k, err := derive(root, account, purpose, salt)
		if err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, nil
}

// derive computes HKDF(HKDF(root, account), salt, purpose). The intermediate
// account key is wiped before returning.
func derive(root []byte, account string, purpose Purpose, salt []byte) (SubKey, error) {
	var accountKey SubKey
	defer accountKey.Wipe()

	info := append([]byte(domainAccount+"\x00"), account...)
	if _, err := io.ReadFull(hkdf.New(sha256.New, root, nil, info), accountKey[:]); err != nil {
		return SubKey{}, fmt.Errorf("keys: derive account key: %w", err)
	}

	var sub SubKey
	info = []byte(domainSubKey + "\x00" + string(purpose))
	if _, err := io.ReadFull(hkdf.New(sha256.New, accountKey[:], salt, info), sub[:]); err != nil {
		return SubKey{}, fmt.Errorf("keys: derive sub-key: %w", err)
	}
	return sub, nil
}
