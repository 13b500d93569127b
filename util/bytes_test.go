package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestByteCountSI(t *testing.T) {
	assert.Equal(t, "999 B", ByteCountSI(999))
	assert.Equal(t, "1.0 kB", ByteCountSI(1000))
	assert.Equal(t, "1.0 MB", ByteCountSI(1048576))
}

func TestBitRateSI(t *testing.T) {
	assert.Equal(t, "512 kbit/s", BitRateSI(512))
	assert.Equal(t, "7.98 Mbit/s", BitRateSI(7980))
	assert.Equal(t, "1.50 Gbit/s", BitRateSI(1_500_000))
}

func TestParseRateKbps(t *testing.T) {
	for _, tc := range []struct {
		in   string
		want int64
	}{
		{"8400", 8400},
		{"8400k", 8400},
		{"8.4mbit", 8400},
		{" 1G ", 1_000_000},
		{"100kb/s", 800},
		{"64000bps", 64},
	} {
		got, err := ParseRateKbps(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}

	for _, in := range []string{"", "fast", "10 parsecs", "999bps", "-5"} {
		_, err := ParseRateKbps(in)
		assert.Error(t, err, in)
	}
}
