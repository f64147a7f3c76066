package table

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBRL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"R$ 19.542,51", "19542.51"},
		{"R$ 1.234.567,89", "1234567.89"},
		{"  350 ", "350"},
		{"0,01", "0.01"},
		{"250.000,00", "250000"},
		{"-R$ 10,50", "-10.5"},
		{"-1.000,00", "-1000"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseBRL(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.String())
		})
	}
}

func TestParseBRL_Invalid(t *testing.T) {
	for _, in := range []string{"", "R$", "   ", "abc", "R$ 1,2,3"} {
		_, err := ParseBRL(in)
		assert.ErrorIs(t, err, ErrNoAmount, in)
	}
}
