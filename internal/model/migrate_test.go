package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/metavault/internal/metaerr"
	"github.com/roach88/metavault/internal/wire"
)

// v1Payload builds a schema 1 payload: no swaps, annotation content always present.
func v1Payload() []byte {
	w := wire.NewWriter(0)
	w.Millis(time.UnixMilli(1600000000000))

	w.Count(1)
	w.String("tx1")
	w.Millis(time.UnixMilli(1600000000001))
	w.Bool(true)

	w.Count(1)
	w.String("tx2")
	w.String("paid rent")
	w.Millis(time.UnixMilli(1600000000002))

	w.Count(1)
	w.String("tx3")
	return w.Bytes()
}

func TestMigrate_V1ToV2(t *testing.T) {
	current, migrated, err := Migrate(v1Payload(), MetadataV1)
	require.NoError(t, err)
	assert.True(t, migrated)

	m, err := DecodeMetadata(current)
	require.NoError(t, err)
	assert.Equal(t, CurrentMetadataVersion, m.Version)
	assert.True(t, m.LastUpdated.Equal(time.UnixMilli(1600000000000)))
	assert.True(t, m.Account.Bookmarked["tx1"].IsBookmarked)
	require.NotNil(t, m.Account.Annotations["tx2"].Content)
	assert.Equal(t, "paid rent", *m.Account.Annotations["tx2"].Content)
	assert.Contains(t, m.Account.Read, "tx3")
	assert.Empty(t, m.Account.Swaps.SwapIDs)
	assert.Empty(t, m.Account.Swaps.LastUsedAssetHistory)
}

func TestMigrate_CurrentIsNoOp(t *testing.T) {
	payload, err := EncodeMetadata(fixtureMetadata())
	require.NoError(t, err)

	out, migrated, err := Migrate(payload, CurrentMetadataVersion)
	require.NoError(t, err)
	assert.False(t, migrated)
	assert.Equal(t, payload, out)
}

func TestMigrate_Idempotent(t *testing.T) {
	once, migrated, err := Migrate(v1Payload(), MetadataV1)
	require.NoError(t, err)
	require.True(t, migrated)

	twice, migrated, err := Migrate(once, CurrentMetadataVersion)
	require.NoError(t, err)
	assert.False(t, migrated)
	assert.Equal(t, once, twice)
}

func TestMigrate_UnknownVersion(t *testing.T) {
	for _, v := range []int{-1, 0, 3, 42} {
		_, migrated, err := Migrate(v1Payload(), v)
		require.Error(t, err, "version %d", v)
		assert.False(t, migrated)
		assert.True(t, metaerr.Is(err, metaerr.CodeSchemaVersionNotSupported), "version %d: %v", v, err)
	}
}

func TestMigrate_CorruptV1(t *testing.T) {
	payload := v1Payload()
	_, _, err := Migrate(payload[:len(payload)-2], MetadataV1)
	require.Error(t, err)
	assert.True(t, metaerr.Is(err, metaerr.CodeSubdataRange))
}

func TestDecodeMetadataAt(t *testing.T) {
	m, migrated, err := DecodeMetadataAt(v1Payload(), MetadataV1)
	require.NoError(t, err)
	assert.True(t, migrated)
	assert.Equal(t, MetadataV2, m.Version)

	payload, err := EncodeMetadata(m)
	require.NoError(t, err)

	again, migrated, err := DecodeMetadataAt(payload, MetadataV2)
	require.NoError(t, err)
	assert.False(t, migrated)
	assert.Equal(t, m, again)
}
