// ABOUTME: Tests for phone number normalization
// ABOUTME: Verifies E.164 output, country code defaulting, and rejection of junk input

package phone

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize_NationalNumberGetsDefaultCountry(t *testing.T) {
	got, err := Normalize("(11) 98765-4321", "55")
	require.NoError(t, err)
	assert.Equal(t, "+5511987654321", got)
}

func TestNormalize_SameNumberDifferentFormatting(t *testing.T) {
	// The whole point of normalization: formatting variants of one number
	// produce one canonical value.
	variants := []string{
		"+55 11 98765-4321",
		"+55 (11) 98765 4321",
		"5511987654321",
		"0055 11 98765-4321",
	}

	for _, raw := range variants {
		got, err := Normalize(raw, "55")
		require.NoError(t, err, "input %q", raw)
		assert.Equal(t, "+5511987654321", got, "input %q", raw)
	}
}

func TestNormalize_PlusMarksInternational(t *testing.T) {
	got, err := Normalize("+14155552671", "55")
	require.NoError(t, err)
	assert.Equal(t, "+14155552671", got)
}

func TestNormalize_DoubleZeroPrefixMarksInternational(t *testing.T) {
	got, err := Normalize("0014155552671", "55")
	require.NoError(t, err)
	assert.Equal(t, "+14155552671", got)
}

func TestNormalize_TooShortRejected(t *testing.T) {
	_, err := Normalize("1234567", "55")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidPhone)
}

func TestNormalize_TooLongRejected(t *testing.T) {
	_, err := Normalize("+1234567890123456", "55")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidPhone)
}

func TestNormalize_GarbageRejected(t *testing.T) {
	_, err := Normalize("not a number", "55")
	assert.ErrorIs(t, err, ErrInvalidPhone)
}

func TestNormalize_LongDigitsTreatedAsInternational(t *testing.T) {
	// Twelve digits exceed the national maximum, so no country code is added.
	got, err := Normalize("551198765432", "55")
	require.NoError(t, err)
	assert.Equal(t, "+551198765432", got)
}

func TestDigits(t *testing.T) {
	assert.Equal(t, "5511987654321", Digits("+5511987654321"))
	assert.Equal(t, "5511987654321", Digits("5511987654321"))
}

func TestFromJID(t *testing.T) {
	assert.Equal(t, "5511987654321", FromJID("5511987654321@s.whatsapp.net"))
	assert.Equal(t, "5511987654321", FromJID("5511987654321"))
}
