package provisioner

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseWalltime(t *testing.T) {
	testCases := []struct {
		in  string
		out time.Duration
	}{
		{"00:05:00", 5 * time.Minute},
		{"01:00:00", time.Hour},
		{"36:30:15", 36*time.Hour + 30*time.Minute + 15*time.Second},
		{"45", 45 * time.Minute},
		{"10:30", 10*time.Minute + 30*time.Second},
		{"2-12", 60 * time.Hour},
		{"1-02:30", 26*time.Hour + 30*time.Minute},
		{"1-00:00:01", 24*time.Hour + time.Second},
		{"90m", 90 * time.Minute},
		{" 2h ", 2 * time.Hour},
	}

	for _, tc := range testCases {
		t.Run(tc.in, func(t *testing.T) {
			d, err := ParseWalltime(tc.in)
			require.NoError(t, err)
			assert.Equal(t, tc.out, d)
		})
	}
}

func TestParseWalltimeErrors(t *testing.T) {
	for _, in := range []string{"", "00:00:00", "1:2:3:4", "ab:cd", "-1", "x-01", "1h-", "-5m"} {
		t.Run(in, func(t *testing.T) {
			_, err := ParseWalltime(in)
			assert.ErrorIs(t, err, ErrInvalidArgument)
		})
	}
}

func TestFormatWalltime(t *testing.T) {
	assert.Equal(t, "00:05:00", FormatWalltime(5*time.Minute))
	assert.Equal(t, "48:00:01", FormatWalltime(48*time.Hour+time.Second))
	assert.Equal(t, "01:30:00", FormatWalltime(90*time.Minute))
}
