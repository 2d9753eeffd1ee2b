package payload_test

import (
	"testing"

	"github.com/munkey/munkeyd/internal/payload"
	"github.com/stretchr/testify/require"
)

func TestDeriveKeyLength(t *testing.T) {
	key := payload.DeriveKey([]byte("hunter2"), payload.DefaultSalt())
	require.Len(t, key, 24)
}

func TestDeriveKeyDiffersByPassword(t *testing.T) {
	salt := payload.DefaultSalt()
	a := payload.DeriveKey([]byte("hunter2"), salt)
	b := payload.DeriveKey([]byte("hunter3"), salt)
	require.NotEqual(t, a, b)
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	key := payload.DeriveKey([]byte("correct horse battery staple"), payload.DefaultSalt())
	plaintext := []byte("a vault full of secrets")

	ciphertext, err := payload.Encrypt(key, plaintext)
	require.NoError(t, err)
	require.NotEqual(t, plaintext, ciphertext)

	got, err := payload.Decrypt(key, ciphertext)
	require.NoError(t, err)
	require.Equal(t, plaintext, got)
}

func TestDecryptWrongKeyReturnsBadKey(t *testing.T) {
	salt := payload.DefaultSalt()
	key := payload.DeriveKey([]byte("correct horse battery staple"), salt)
	wrongKey := payload.DeriveKey([]byte("wrong password"), salt)

	ciphertext, err := payload.Encrypt(key, []byte("a vault full of secrets"))
	require.NoError(t, err)

	_, err = payload.Decrypt(wrongKey, ciphertext)
	require.ErrorIs(t, err, payload.ErrBadKey)
}

func TestDecryptMalformedCiphertext(t *testing.T) {
	key := payload.DeriveKey([]byte("pw"), payload.DefaultSalt())
	_, err := payload.Decrypt(key, []byte("short"))
	require.ErrorIs(t, err, payload.ErrMalformedEnvelope)
}

func TestWrapUnwrapRoundTrip(t *testing.T) {
	seed := []byte("seed-bytes")
	body := []byte("encrypted-body-bytes")
	wrapped := payload.Wrap(1, payload.CipherAlgoAES192CBC, seed, body)

	got, err := payload.Unwrap(wrapped)
	require.NoError(t, err)
	require.Equal(t, uint32(1), got.PayloadType)
	require.Equal(t, uint32(payload.CipherAlgoAES192CBC), got.CipherAlgo)
	require.Equal(t, seed, got.Seed)
	require.Equal(t, body, got.Data)
}

func TestUnwrapMalformed(t *testing.T) {
	_, err := payload.Unwrap([]byte("too short"))
	require.ErrorIs(t, err, payload.ErrMalformedEnvelope)
}

func TestJoinSplitKeyRoundTrip(t *testing.T) {
	privateKeyDER := []byte("pretend-der-bytes")
	jsonData := []byte(`{"github.com":"s3cr3t"}`)

	joined := payload.JoinKey(privateKeyDER, jsonData)
	gotKey, gotData, err := payload.SplitKey(joined)
	require.NoError(t, err)
	require.Equal(t, privateKeyDER, gotKey)
	require.Equal(t, jsonData, gotData)
}

func TestSignVerifyRoundTrip(t *testing.T) {
	vaultID, priv, err := payload.NewIdentity()
	require.NoError(t, err)

	body := []byte("encrypted body bytes go here")
	envelope, err := payload.Sign(priv, body)
	require.NoError(t, err)

	got, err := payload.Verify(vaultID, envelope)
	require.NoError(t, err)
	require.Equal(t, body, got)
}

func TestVerifyRejectsTamperedPayload(t *testing.T) {
	vaultID, priv, err := payload.NewIdentity()
	require.NoError(t, err)

	envelope, err := payload.Sign(priv, []byte("original payload"))
	require.NoError(t, err)

	tampered := append([]byte{}, envelope...)
	tampered[len(tampered)-1] ^= 0xFF

	_, err = payload.Verify(vaultID, tampered)
	require.ErrorIs(t, err, payload.ErrInvalidSignature)
}

func TestVerifyRejectsWrongVaultID(t *testing.T) {
	_, priv, err := payload.NewIdentity()
	require.NoError(t, err)
	otherVaultID, _, err := payload.NewIdentity()
	require.NoError(t, err)

	envelope, err := payload.Sign(priv, []byte("payload"))
	require.NoError(t, err)

	_, err = payload.Verify(otherVaultID, envelope)
	require.ErrorIs(t, err, payload.ErrInvalidSignature)
}

func TestVerifyRejectsUnsupportedVersion(t *testing.T) {
	vaultID, priv, err := payload.NewIdentity()
	require.NoError(t, err)

	envelope, err := payload.Sign(priv, []byte("payload"))
	require.NoError(t, err)
	envelope[0] = 1 // corrupt protocol_version

	_, err = payload.Verify(vaultID, envelope)
	require.ErrorIs(t, err, payload.ErrUnsupportedVersion)
}

func TestVerifyRejectsMalformedEnvelope(t *testing.T) {
	vaultID, _, err := payload.NewIdentity()
	require.NoError(t, err)

	_, err = payload.Verify(vaultID, []byte("nope"))
	require.ErrorIs(t, err, payload.ErrMalformedEnvelope)
}
