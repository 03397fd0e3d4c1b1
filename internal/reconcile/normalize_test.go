package reconcile

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeKey_Equivalence(t *testing.T) {
	base := NormalizeKey("27AAACB1234F1Z5", "INV-001")

	tests := []struct {
		name         string
		counterparty string
		document     string
	}{
		{"lower_case_no_separator", "27aaacb1234f1z5", "inv001"},
		{"space_separator", " 27AAACB1234F1Z5 ", "INV 001"},
		{"slash_separator", "27AAACB1234F1Z5", "INV/001"},
		{"backslash_separator", "27AAACB1234F1Z5", `INV\001`},
		{"padded", "27AAACB1234F1Z5", "  inv-001  "},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, base, NormalizeKey(tt.counterparty, tt.document))
		})
	}
}

func TestNormalizeDocument(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"INV-001", "INV001"},
		{"0001234", "1234"},
		{"00-12/34", "1234"},
		{"000", "0"},
		{"", ""},
		{"a-b-c", "ABC"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeDocument(tt.in))
		})
	}
}
