package envelope

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/metavault/internal/keys"
	"github.com/roach88/metavault/internal/metaerr"
)

// fixedKeyring returns the same keys for every salt.
type fixedKeyring struct {
	enc keys.SubKey
	dec []keys.SubKey
	err error
}

func (k fixedKeyring) EncryptionKey([]byte) (keys.SubKey, error) { return k.enc, k.err }

func (k fixedKeyring) DecryptionKeys([]byte) ([]keys.SubKey, error) {
	out := make([]keys.SubKey, len(k.dec))
	copy(out, k.dec)
	return out, k.err
}

func key(b byte) keys.SubKey {
	var k keys.SubKey
	for i := range k {
		k[i] = b
	}
	return k
}

func hkdfKeyring(t *testing.T, purpose keys.Purpose, roots ...byte) keys.Keyring {
	t.Helper()
	var rs [][]byte
	for _, r := range roots {
		rs = append(rs, bytes.Repeat([]byte{r}, keys.MinRootSize))
	}
	p, err := keys.NewHKDFProvider("wallet", rs[0], rs[1:]...)
	require.NoError(t, err)
	return keys.Bind(p, "acct", purpose)
}

// Address book

func TestAddressBook_RoundTrip(t *testing.T) {
	kr := hkdfKeyring(t, keys.PurposeAddressBook, 1)
	payload := []byte("contacts payload")

	sealed, err := SealAddressBook(payload, kr)
	require.NoError(t, err)

	assert.Equal(t, int64(FormatVersion), int64(binary.BigEndian.Uint64(sealed[:8])))
	assert.Len(t, sealed, HeaderSize+minSealed+len(payload))

	got, err := OpenAddressBook(sealed, kr)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestAddressBook_WrongKey(t *testing.T) {
	sealed, err := SealAddressBook([]byte("p"), hkdfKeyring(t, keys.PurposeAddressBook, 1))
	require.NoError(t, err)

	_, err = OpenAddressBook(sealed, hkdfKeyring(t, keys.PurposeAddressBook, 2))
	require.Error(t, err)
	assert.True(t, metaerr.IsAuthFailure(err), "got %v", err)
}

func TestAddressBook_NoTrialDecryption(t *testing.T) {
	sealed, err := SealAddressBook([]byte("p"), hkdfKeyring(t, keys.PurposeAddressBook, 1))
	require.NoError(t, err)

	// Root 1 is still known as a retired key, but address books only use the current one.
	rotated := hkdfKeyring(t, keys.PurposeAddressBook, 2, 1)
	_, err = OpenAddressBook(sealed, rotated)
	assert.True(t, metaerr.IsAuthFailure(err), "got %v", err)
}

func TestAddressBook_PurposeSeparation(t *testing.T) {
	sealed, err := SealAddressBook([]byte("p"), hkdfKeyring(t, keys.PurposeAddressBook, 1))
	require.NoError(t, err)

	_, err = OpenAddressBook(sealed, hkdfKeyring(t, keys.PurposeMetadata, 1))
	assert.True(t, metaerr.IsAuthFailure(err))
}

func TestAddressBook_Corrupted(t *testing.T) {
	kr := hkdfKeyring(t, keys.PurposeAddressBook, 1)
	sealed, err := SealAddressBook([]byte("payload"), kr)
	require.NoError(t, err)

	for _, i := range []int{8, 39, HeaderSize, HeaderSize + 12, len(sealed) - 1} {
		t.Run(fmt.Sprintf("flip byte %d", i), func(t *testing.T) {
			bad := append([]byte(nil), sealed...)
			bad[i] ^= 0x01
			_, err := OpenAddressBook(bad, kr)
			assert.True(t, metaerr.IsAuthFailure(err), "got %v", err)
		})
	}
}

func TestAddressBook_FreshSaltEachSeal(t *testing.T) {
	kr := hkdfKeyring(t, keys.PurposeAddressBook, 1)
	a, err := SealAddressBook([]byte("same"), kr)
	require.NoError(t, err)
	b, err := SealAddressBook([]byte("same"), kr)
	require.NoError(t, err)

	assert.NotEqual(t, a[8:HeaderSize], b[8:HeaderSize])
	assert.NotEqual(t, a, b)
}

func TestAddressBook_KeyringError(t *testing.T) {
	boom := errors.New("keychain locked")
	_, err := SealAddressBook([]byte("p"), fixedKeyring{err: boom})
	assert.ErrorIs(t, err, boom)
}

// Metadata

func TestMetadata_RoundTrip(t *testing.T) {
	kr := hkdfKeyring(t, keys.PurposeMetadata, 1)
	payload := []byte("metadata payload")

	sealed, err := SealMetadata(payload, 2, kr)
	require.NoError(t, err)
	assert.Len(t, sealed, MetadataHeaderSize+minSealed+len(payload))

	version, err := PeekMetadataVersion(sealed)
	require.NoError(t, err)
	assert.Equal(t, 2, version)

	got, version, err := OpenMetadata(sealed, kr)
	require.NoError(t, err)
	assert.Equal(t, 2, version)
	assert.Equal(t, payload, got)
}

func TestMetadata_CandidatePosition(t *testing.T) {
	right := key(7)
	sealed, err := SealMetadata([]byte("payload"), 2, fixedKeyring{enc: right})
	require.NoError(t, err)

	const n = 5
	for pos := 0; pos < n; pos++ {
		t.Run(fmt.Sprintf("position %d", pos), func(t *testing.T) {
			candidates := make([]keys.SubKey, n)
			for i := range candidates {
				candidates[i] = key(byte(100 + i))
			}
			candidates[pos] = right

			got, _, err := OpenMetadata(sealed, fixedKeyring{dec: candidates})
			require.NoError(t, err)
			assert.Equal(t, []byte("payload"), got)
		})
	}
}

func TestMetadata_RotationTrialDecryption(t *testing.T) {
	sealed, err := SealMetadata([]byte("old"), 2, hkdfKeyring(t, keys.PurposeMetadata, 1))
	require.NoError(t, err)

	got, _, err := OpenMetadata(sealed, hkdfKeyring(t, keys.PurposeMetadata, 2, 3, 1))
	require.NoError(t, err)
	assert.Equal(t, []byte("old"), got)
}

func TestMetadata_NoCandidateMatches(t *testing.T) {
	sealed, err := SealMetadata([]byte("p"), 2, fixedKeyring{enc: key(1)})
	require.NoError(t, err)

	_, _, err = OpenMetadata(sealed, fixedKeyring{dec: []keys.SubKey{key(2), key(3)}})
	assert.True(t, metaerr.IsMissingKey(err), "got %v", err)

	_, _, err = OpenMetadata(sealed, fixedKeyring{})
	assert.True(t, metaerr.IsMissingKey(err), "empty candidate list: %v", err)
}

func TestMetadata_SchemaVersionAuthenticated(t *testing.T) {
	kr := fixedKeyring{enc: key(1), dec: []keys.SubKey{key(1)}}
	sealed, err := SealMetadata([]byte("p"), 2, kr)
	require.NoError(t, err)

	binary.BigEndian.PutUint64(sealed[HeaderSize:MetadataHeaderSize], 1)

	version, err := PeekMetadataVersion(sealed)
	require.NoError(t, err)
	assert.Equal(t, 1, version)

	_, _, err = OpenMetadata(sealed, kr)
	assert.True(t, metaerr.IsMissingKey(err), "got %v", err)
}

func TestMetadata_TruncatedCiphertext(t *testing.T) {
	kr := fixedKeyring{enc: key(1), dec: []keys.SubKey{key(1)}}
	sealed, err := SealMetadata([]byte("p"), 2, kr)
	require.NoError(t, err)

	for _, n := range []int{MetadataHeaderSize, MetadataHeaderSize + 4, MetadataHeaderSize + minSealed - 1} {
		_, _, err = OpenMetadata(sealed[:n], kr)
		assert.True(t, metaerr.Is(err, metaerr.CodeSubdataRange), "len %d: %v", n, err)
	}
}

func TestAddressBook_TruncatedCiphertext(t *testing.T) {
	kr := fixedKeyring{enc: key(1), dec: []keys.SubKey{key(1)}}
	sealed, err := SealAddressBook([]byte("p"), kr)
	require.NoError(t, err)

	for _, n := range []int{HeaderSize, HeaderSize + 4, HeaderSize + minSealed - 1} {
		_, err = OpenAddressBook(sealed[:n], kr)
		assert.True(t, metaerr.Is(err, metaerr.CodeSubdataRange), "len %d: %v", n, err)
		assert.False(t, metaerr.IsAuthFailure(err))
	}

	// A body of exactly nonce and tag is long enough to try, and fails authentication.
	_, err = OpenAddressBook(sealed[:HeaderSize+minSealed], kr)
	assert.True(t, metaerr.IsAuthFailure(err), "got %v", err)
}

// Header

func TestOpen_UnsupportedFormatVersion(t *testing.T) {
	kr := fixedKeyring{enc: key(1), dec: []keys.SubKey{key(1)}}

	ab, err := SealAddressBook([]byte("p"), kr)
	require.NoError(t, err)
	binary.BigEndian.PutUint64(ab[:8], 2)
	_, err = OpenAddressBook(ab, kr)
	assert.True(t, metaerr.Is(err, metaerr.CodeEncryptionVersionNotSupported), "got %v", err)

	md, err := SealMetadata([]byte("p"), 2, kr)
	require.NoError(t, err)
	binary.BigEndian.PutUint64(md[:8], 0)
	_, _, err = OpenMetadata(md, kr)
	assert.True(t, metaerr.Is(err, metaerr.CodeEncryptionVersionNotSupported), "got %v", err)

	_, err = PeekMetadataVersion(md)
	assert.True(t, metaerr.Is(err, metaerr.CodeEncryptionVersionNotSupported), "got %v", err)
}

func TestOpen_TruncatedHeader(t *testing.T) {
	kr := fixedKeyring{enc: key(1), dec: []keys.SubKey{key(1)}}
	md, err := SealMetadata([]byte("p"), 2, kr)
	require.NoError(t, err)

	for _, n := range []int{0, 4, 8, 20, HeaderSize + 3} {
		_, _, err := OpenMetadata(md[:n], kr)
		assert.True(t, metaerr.Is(err, metaerr.CodeSubdataRange), "len %d: %v", n, err)
	}
	for _, n := range []int{0, 4, 8, 20} {
		_, err := OpenAddressBook(md[:n], kr)
		assert.True(t, metaerr.Is(err, metaerr.CodeSubdataRange), "len %d: %v", n, err)
	}
}
