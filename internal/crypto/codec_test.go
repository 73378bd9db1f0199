package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bankcards/card-service/internal/errs"
)

func TestCodecRoundTrip(t *testing.T) {
	codec, err := NewCodec("test-secret")
	require.NoError(t, err)

	numbers := []string{
		"4000001234567890",
		"4000009999999999",
		"1",
		"some arbitrary string",
	}
	for _, number := range numbers {
		encrypted, err := codec.Encrypt(number)
		require.NoError(t, err)
		require.NotEqual(t, number, encrypted)

		decrypted, err := codec.Decrypt(encrypted)
		require.NoError(t, err)
		assert.Equal(t, number, decrypted)
	}
}

func TestCodecFreshNoncePerEncryption(t *testing.T) {
	codec, err := NewCodec("test-secret")
	require.NoError(t, err)

	first, err := codec.Encrypt("4000001234567890")
	require.NoError(t, err)
	second, err := codec.Encrypt("4000001234567890")
	require.NoError(t, err)

	// Equal plaintexts must not produce equal ciphertexts
	assert.NotEqual(t, first, second)

	for _, c := range []string{first, second} {
		plain, err := codec.Decrypt(c)
		require.NoError(t, err)
		assert.Equal(t, "4000001234567890", plain)
	}
}

func TestCodecTamperDetection(t *testing.T) {
	codec, err := NewCodec("test-secret")
	require.NoError(t, err)

	encrypted, err := codec.Encrypt("4000001234567890")
	require.NoError(t, err)

	tampered := []byte(encrypted)
	tampered[len(tampered)-5] ^= 0x01
	_, err = codec.Decrypt(string(tampered))
	require.Error(t, err)
	assert.Equal(t, errs.KindCrypto, errs.KindOf(err))
}

func TestCodecWrongKey(t *testing.T) {
	codec, err := NewCodec("one-secret")
	require.NoError(t, err)
	other, err := NewCodec("another-secret")
	require.NoError(t, err)

	encrypted, err := codec.Encrypt("4000001234567890")
	require.NoError(t, err)

	_, err = other.Decrypt(encrypted)
	require.Error(t, err)
	assert.Equal(t, errs.KindCrypto, errs.KindOf(err))
}

func TestCodecRejectsEmptyInput(t *testing.T) {
	codec, err := NewCodec("test-secret")
	require.NoError(t, err)

	_, err = codec.Encrypt("")
	assert.Equal(t, errs.KindCrypto, errs.KindOf(err))
	_, err = codec.Decrypt("")
	assert.Equal(t, errs.KindCrypto, errs.KindOf(err))
	_, err = codec.Decrypt("not base64!!!")
	assert.Equal(t, errs.KindCrypto, errs.KindOf(err))
}

func TestCodecEmptySecret(t *testing.T) {
	_, err := NewCodec("")
	require.Error(t, err)
	assert.Equal(t, errs.KindCrypto, errs.KindOf(err))
}

func TestFingerprintDeterministic(t *testing.T) {
	codec, err := NewCodec("test-secret")
	require.NoError(t, err)

	a := codec.Fingerprint("4000001234567890")
	b := codec.Fingerprint("4000001234567890")
	c := codec.Fingerprint("4000001234567891")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)

	other, err := NewCodec("another-secret")
	require.NoError(t, err)
	assert.NotEqual(t, a, other.Fingerprint("4000001234567890"))
}

func TestMaskNumber(t *testing.T) {
	assert.Equal(t, "**** **** **** 7890", MaskNumber("4000001234567890"))
	assert.Equal(t, "**** **** **** 4567", MaskNumber("1234567"))
	assert.Equal(t, "****", MaskNumber("123"))
	assert.Equal(t, "****", MaskNumber(""))
}
