package delay

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseUnits(t *testing.T) {
	cases := map[string]time.Duration{
		"30d":   30 * 24 * time.Hour,
		"12h":   12 * time.Hour,
		"45m":   45 * time.Minute,
		"90":    90 * time.Second,
		" 2H ":  2 * time.Hour,
		"0":     0,
		"-5m":   -5 * time.Minute,
		"1000d": 1000 * 24 * time.Hour,
	}
	for in, want := range cases {
		got, err := Parse(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
}

func TestParseRejectsMalformed(t *testing.T) {
	for _, in := range []string{"", "abc", "d", "1.5h", "10x", "10s", "h10", "99999999999999999999d", "106752d"} {
		_, err := Parse(in)
		assert.ErrorIs(t, err, ErrInvalidFormat, in)
	}
}

func TestParsePositive(t *testing.T) {
	d, err := ParsePositive("1h")
	require.NoError(t, err)
	assert.Equal(t, time.Hour, d)

	for _, in := range []string{"0", "-1d", "0m"} {
		_, err := ParsePositive(in)
		assert.ErrorIs(t, err, ErrNonPositive, in)
	}

	_, err = ParsePositive("soon")
	assert.ErrorIs(t, err, ErrInvalidFormat)
}
