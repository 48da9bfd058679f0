package models

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizePatentNumber(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"US-1,234,567", "US1,234,567"},
		{"us 1 234 567", "US1234567"},
		{"ep\t99-88-77", "EP998877"},
		{"already/UPPER", "ALREADY/UPPER"},
		{" -- ", ""},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, NormalizePatentNumber(tc.in), "input %q", tc.in)
	}
}

func TestDiscriminant(t *testing.T) {
	t.Run("equivalent spellings share a discriminant", func(t *testing.T) {
		assert.Equal(t, Discriminant("US-1,234"), Discriminant("us 1,234"))
	})

	t.Run("distinct numbers differ", func(t *testing.T) {
		assert.NotEqual(t, Discriminant("US-1,234"), Discriminant("US-1,235"))
	})
}

func TestValidateMetadata(t *testing.T) {
	valid := func() (string, string, string, string) {
		return "US-1,234", "A Name", "SYM", "https://example.com/meta.json"
	}

	t.Run("accepts values at the caps", func(t *testing.T) {
		number, _, _, _ := valid()
		err := ValidateMetadata(number,
			strings.Repeat("n", MaxNameLen),
			strings.Repeat("s", MaxSymbolLen),
			strings.Repeat("u", MaxURILen))
		assert.NoError(t, err)
	})

	t.Run("rejects one past each cap", func(t *testing.T) {
		number, name, symbol, uri := valid()
		assert.Error(t, ValidateMetadata(strings.Repeat("9", MaxPatentNumberLen+1), name, symbol, uri))
		assert.Error(t, ValidateMetadata(number, strings.Repeat("n", MaxNameLen+1), symbol, uri))
		assert.Error(t, ValidateMetadata(number, name, strings.Repeat("s", MaxSymbolLen+1), uri))
		assert.Error(t, ValidateMetadata(number, name, symbol, strings.Repeat("u", MaxURILen+1)))
	})
}
