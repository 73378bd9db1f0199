package utils

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateCardNumber(t *testing.T) {
	for i := 0; i < 50; i++ {
		number, err := GenerateCardNumber("400000", 16)
		require.NoError(t, err)
		assert.Len(t, number, 16)
		assert.True(t, strings.HasPrefix(number, "400000"))
		assert.True(t, ValidLuhn(number), "number %s must pass the Luhn check", number)
	}
}

func TestGenerateCardNumberInvalidLength(t *testing.T) {
	_, err := GenerateCardNumber("400000", 4)
	assert.Error(t, err)
	_, err = GenerateCardNumber("400000", 25)
	assert.Error(t, err)
}

func TestValidLuhn(t *testing.T) {
	assert.True(t, ValidLuhn("4539578763621486"))
	assert.False(t, ValidLuhn("4539578763621487"))
	assert.False(t, ValidLuhn("4539a78763621486"))
	assert.False(t, ValidLuhn(""))
}

func TestGenerateExpiryDate(t *testing.T) {
	expiry := GenerateExpiryDate()
	assert.True(t, expiry.After(time.Now().AddDate(2, 11, 0)))
	assert.True(t, expiry.Before(time.Now().AddDate(3, 1, 0)))
}

func TestGenerateCVV(t *testing.T) {
	for i := 0; i < 20; i++ {
		cvv, err := GenerateCVV()
		require.NoError(t, err)
		require.Len(t, cvv, 3)
		for _, c := range cvv {
			assert.True(t, c >= '0' && c <= '9')
		}
	}
}
