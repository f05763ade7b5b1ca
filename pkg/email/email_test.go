package email

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	assert.Equal(t, "jane@example.com", Normalize("  Jane@Example.COM\t"))
}

func TestIsValid(t *testing.T) {
	valid := []string{"a@b.co", "first.last+tag@example.org"}
	for _, v := range valid {
		assert.True(t, IsValid(v), v)
	}

	invalid := []string{
		"",
		"plain",
		"@example.com",
		"Jane <jane@example.com>",
		"<jane@example.com>",
		strings.Repeat("a", 250) + "@x.com",
	}
	for _, v := range invalid {
		assert.False(t, IsValid(v), v)
	}
}
