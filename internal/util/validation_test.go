package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseUUIDv4(t *testing.T) {
	_, err := ParseUUIDv4("b0c9c2b0-1f3a-4d2d-9e3f-123456789abc")
	require.NoError(t, err)

	_, err = ParseUUIDv4("")
	assert.ErrorIs(t, err, ErrInvalidUUID)

	_, err = ParseUUIDv4("6fa459ea-ee8a-11d2-90f6-000000000000")
	assert.ErrorIs(t, err, ErrInvalidUUID)
}

func TestNormalizeEmail(t *testing.T) {
	addr, err := NormalizeEmail("User@example.com")
	require.NoError(t, err)
	assert.Equal(t, "user@example.com", addr)

	_, err = NormalizeEmail("User <user@example.com>")
	assert.ErrorIs(t, err, ErrInvalidEmail)
}

func TestNormalizeEmails(t *testing.T) {
	emails, err := NormalizeEmails([]string{"user@example.com", "Other@Example.com"}, 1, 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"user@example.com", "other@example.com"}, emails)

	_, err = NormalizeEmails([]string{}, 1, 2)
	assert.Error(t, err)

	_, err = NormalizeEmails([]string{"a@example.com", "not-an-address"}, 1, 2)
	assert.ErrorIs(t, err, ErrInvalidEmail)
	assert.Contains(t, err.Error(), "email[1]")
}

func TestNormalizeE164(t *testing.T) {
	num, err := NormalizeE164(" +14155552671 ")
	require.NoError(t, err)
	assert.Equal(t, "+14155552671", num)

	_, err = NormalizeE164("4155552671")
	assert.ErrorIs(t, err, ErrInvalidPhone)
}

func TestNormalizeE164List(t *testing.T) {
	phones, err := NormalizeE164List([]string{"+14155552671", "+441234567890"}, 1, 3)
	require.NoError(t, err)
	assert.Len(t, phones, 2)

	_, err = NormalizeE164List([]string{}, 1, 2)
	assert.Error(t, err)

	_, err = NormalizeE164List([]string{"+1", "+2", "+3"}, 1, 2)
	assert.Error(t, err)
}

func TestValidateMetadata(t *testing.T) {
	meta, err := ValidateMetadata(map[string]string{
		" Trace ":  " value ",
		"tenantID": "abc",
	}, 5, 10, 10)
	require.NoError(t, err)
	assert.Equal(t, "value", meta["Trace"])

	_, err = ValidateMetadata(map[string]string{"": "invalid"}, 5, 10, 10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot be empty")

	_, err = ValidateMetadata(map[string]string{"toolong": "value"}, 5, 3, 10)
	assert.Error(t, err)
}

func TestEnsureMaxRunes(t *testing.T) {
	assert.NoError(t, EnsureMaxRunes("subject", "héllo", 5))
	assert.Error(t, EnsureMaxRunes("subject", "hello world", 5))
}

func TestValidateHTTPURL(t *testing.T) {
	u, err := ValidateHTTPURL("https://example.com/path")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/path", u)

	_, err = ValidateHTTPURL("ftp://example.com")
	assert.ErrorIs(t, err, ErrInvalidURL)

	_, err = ValidateHTTPURL("https://")
	assert.ErrorIs(t, err, ErrInvalidURL)
}

func TestValidateTemplatePath(t *testing.T) {
	for _, valid := range []string{"welcome", "orders/receipt.v2", " billing/invoice_due "} {
		_, err := ValidateTemplatePath(valid)
		assert.NoError(t, err, valid)
	}
	for _, invalid := range []string{"", "../secrets", "orders//receipt", "/abs", "orders/(*bad*)"} {
		_, err := ValidateTemplatePath(invalid)
		assert.ErrorIs(t, err, ErrInvalidTemplatePath, invalid)
	}
}
