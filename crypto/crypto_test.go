package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/require"
)

func testKey(t *testing.T) string {
	t.Helper()
	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)
	return base64.StdEncoding.EncodeToString(key)
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	enc, err := NewAESEncryptor(testKey(t))
	require.NoError(t, err)

	plaintext := "arcade-account-token-12345"
	stored, err := EncryptString(enc, plaintext)
	require.NoError(t, err)
	require.NotEqual(t, plaintext, stored)

	got, err := DecryptString(enc, stored)
	require.NoError(t, err)
	require.Equal(t, plaintext, got)
}

func TestEncryptProducesUniqueCiphertexts(t *testing.T) {
	enc, err := NewAESEncryptor(testKey(t))
	require.NoError(t, err)

	a, err := EncryptString(enc, "same input")
	require.NoError(t, err)
	b, err := EncryptString(enc, "same input")
	require.NoError(t, err)
	require.NotEqual(t, a, b, "nonce must make every ciphertext unique")
}

func TestDecryptWithWrongKeyFails(t *testing.T) {
	enc1, err := NewAESEncryptor(testKey(t))
	require.NoError(t, err)
	enc2, err := NewAESEncryptor(testKey(t))
	require.NoError(t, err)

	stored, err := EncryptString(enc1, "secret")
	require.NoError(t, err)

	_, err = DecryptString(enc2, stored)
	require.Error(t, err)
}

func TestDecryptTamperedCiphertextFails(t *testing.T) {
	enc, err := NewAESEncryptor(testKey(t))
	require.NoError(t, err)

	ct, err := enc.Encrypt([]byte("secret"))
	require.NoError(t, err)
	ct[len(ct)-1] ^= 0xff

	_, err = enc.Decrypt(ct)
	require.Error(t, err)
}

func TestNewAESEncryptorKeyValidation(t *testing.T) {
	_, err := NewAESEncryptor("")
	require.Error(t, err)

	_, err = NewAESEncryptor("not base64!!!")
	require.Error(t, err)

	short := base64.StdEncoding.EncodeToString([]byte("too short"))
	_, err = NewAESEncryptor(short)
	require.Error(t, err)
}

func TestEncryptEmptyPlaintext(t *testing.T) {
	enc, err := NewAESEncryptor(testKey(t))
	require.NoError(t, err)

	_, err = enc.Encrypt(nil)
	require.Error(t, err)
}

func TestDecryptTruncatedCiphertext(t *testing.T) {
	enc, err := NewAESEncryptor(testKey(t))
	require.NoError(t, err)

	_, err = enc.Decrypt([]byte{0x01, 0x02})
	require.Error(t, err)
}
