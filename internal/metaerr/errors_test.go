package metaerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_Message(t *testing.T) {
	err := New(CodeSubdataRange, "wire read", "need %d bytes at offset %d", 8, 40)
	assert.Equal(t, "wire read: SUBDATA_RANGE: need 8 bytes at offset 40", err.Error())

	wrapped := Wrap(CodeAuthenticationFailure, "envelope open", errors.New("message authentication failed"))
	assert.Equal(t, "envelope open: AUTHENTICATION_FAILURE: message authentication failed", wrapped.Error())
}

func TestIs_ThroughWrapping(t *testing.T) {
	base := New(CodeMissingEncryptionKey, "envelope open", "3 candidates")
	err := fmt.Errorf("load metadata: %w", fmt.Errorf("local: %w", base))

	assert.True(t, Is(err, CodeMissingEncryptionKey))
	assert.True(t, IsMissingKey(err))
	assert.False(t, IsAuthFailure(err))
	assert.Equal(t, CodeMissingEncryptionKey, CodeOf(err))
}

func TestIs_PlainError(t *testing.T) {
	assert.False(t, Is(errors.New("boom"), CodeSerialization))
	assert.False(t, Is(nil, CodeSerialization))
	assert.Equal(t, Code(""), CodeOf(errors.New("boom")))
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("cause")
	err := Wrap(CodeSerialization, "encode", cause)
	assert.ErrorIs(t, err, cause)
}

func TestIsDecode(t *testing.T) {
	tests := []struct {
		code Code
		want bool
	}{
		{CodeMissingEncryptionKey, true},
		{CodeEncryptionVersionNotSupported, true},
		{CodeSchemaVersionNotSupported, true},
		{CodeSubdataRange, true},
		{CodeAuthenticationFailure, true},
		{CodeSerialization, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.want, IsDecode(New(tt.code, "op", "x")))
		})
	}
	assert.False(t, IsDecode(errors.New("disk on fire")))
}

func TestIsUnsupportedVersion(t *testing.T) {
	assert.True(t, IsUnsupportedVersion(New(CodeEncryptionVersionNotSupported, "", "v9")))
	assert.True(t, IsUnsupportedVersion(New(CodeSchemaVersionNotSupported, "", "v9")))
	assert.False(t, IsUnsupportedVersion(New(CodeSubdataRange, "", "")))
}
