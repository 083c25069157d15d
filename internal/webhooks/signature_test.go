package webhooks

import (
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignVerifyRoundTrip(t *testing.T) {
	payload := []byte(`{"event":"trade.executed","data":{"qty":3}}`)
	sig := Sign(payload, "s3cret")
	require.True(t, strings.HasPrefix(sig, "sha256="))
	assert.Len(t, sig, len("sha256=")+64)
	assert.Equal(t, sig, Sign(payload, "s3cret"))

	assert.True(t, Verify(payload, sig, "s3cret"))
	assert.True(t, Verify(payload, strings.TrimPrefix(sig, "sha256="), "s3cret"))
	assert.False(t, Verify(payload, sig, "other"))
}

func TestVerifyRejectsBitFlips(t *testing.T) {
	payload := []byte(`{"a":1}`)
	sig := Sign(payload, "k")

	flipped := append([]byte(nil), payload...)
	flipped[2] ^= 0x01
	assert.False(t, Verify(flipped, sig, "k"))

	raw, err := hex.DecodeString(strings.TrimPrefix(sig, "sha256="))
	require.NoError(t, err)
	raw[0] ^= 0x80
	assert.False(t, Verify(payload, "sha256="+hex.EncodeToString(raw), "k"))
}

func TestVerifyMalformedInput(t *testing.T) {
	payload := []byte("x")
	for _, sig := range []string{"", "sha256=", "sha256=zz", "sha256=abcd", "not-a-signature"} {
		assert.False(t, Verify(payload, sig, "k"), sig)
	}
	assert.False(t, Verify(payload, Sign(payload, ""), ""))
}

func TestGenerateSecret(t *testing.T) {
	a, err := GenerateSecret()
	require.NoError(t, err)
	b, err := GenerateSecret()
	require.NoError(t, err)
	assert.Len(t, a, 64)
	_, err = hex.DecodeString(a)
	assert.NoError(t, err)
	assert.NotEqual(t, a, b)
}
