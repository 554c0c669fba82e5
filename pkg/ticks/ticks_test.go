package ticks

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	s := Scale(2)
	for in, want := range map[string]int64{
		"101.25": 10125,
		"101.2":  10120,
		"0":      0,
		"7":      700,
		"-1.5":   -150,
	} {
		got, err := s.Parse(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
}

func TestParseRejects(t *testing.T) {
	s := Scale(2)
	_, err := s.Parse("1.001")
	assert.ErrorIs(t, err, ErrPrecision)
	_, err = s.Parse("abc")
	assert.Error(t, err)
	_, err = s.Parse("99999999999999999999")
	assert.ErrorIs(t, err, ErrRange)
}

func TestFormat(t *testing.T) {
	assert.Equal(t, "101.25", Scale(2).Format(10125))
	assert.Equal(t, "1.00", Scale(2).Format(100))
	assert.Equal(t, "42", Scale(0).Format(42))
	assert.Equal(t, "0.005", Scale(3).Format(5))
}
