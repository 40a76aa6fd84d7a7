package testutil

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/metavault/internal/keys"
)

// TestWallet is the wallet id used by NewProvider.
const TestWallet = "test-wallet"

// Root returns a deterministic root secret filled with b.
func Root(b byte) []byte {
	return bytes.Repeat([]byte{b}, keys.MinRootSize)
}

// NewProvider returns an HKDF provider over deterministic roots. The first
// byte selects the current root; the rest are retired roots.
func NewProvider(t testing.TB, current byte, retired ...byte) *keys.HKDFProvider {
	t.Helper()
	var rs [][]byte
	for _, r := range retired {
		rs = append(rs, Root(r))
	}
	p, err := keys.NewHKDFProvider(TestWallet, Root(current), rs...)
	require.NoError(t, err)
	return p
}
