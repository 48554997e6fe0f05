package dispatch

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateRecipient(t *testing.T) {
	t.Parallel()

	valid := []string{
		"+14155550100",
		"14155550100",
		"  +447911123456  ",
		"123456789012345",
	}
	for _, n := range valid {
		assert.NoError(t, ValidateRecipient(n), n)
	}

	invalid := []string{
		"",
		"notaphone",
		"+1 415 555 0100",
		"123456789",         // too short
		"1234567890123456",  // too long
		"++14155550100",
		"1415555010a",
	}
	for _, n := range invalid {
		assert.Error(t, ValidateRecipient(n), n)
	}
}

func TestNormalizeRecipient(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "14155550100", normalizeRecipient("+14155550100"))
	assert.Equal(t, "14155550100", normalizeRecipient("  14155550100  "))
	assert.Equal(t, "447911123456", normalizeRecipient(" +447911123456"))
}
