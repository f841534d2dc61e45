package casenum

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{name: "empty", in: "", want: []string{}},
		{name: "duplicate with comma", in: "12CR000123, 12CR000123", want: []string{"12CR000123"}},
		{name: "mixed separators", in: "12cr000123;12CV000456\n 12CR000789", want: []string{"12CR000123", "12CV000456", "12CR000789"}},
		{name: "only separators", in: " ,;\t", want: []string{}},
		{name: "case insensitive dedup", in: "12cr000123 12CR000123", want: []string{"12CR000123"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Parse(tt.in))
		})
	}
}

func TestNormalize(t *testing.T) {
	got := Normalize([]string{" 12cr1 ", "", "12CR1", "12cr2"})
	assert.Equal(t, []string{"12CR1", "12CR2"}, got)
}
