package ffmpeg

import (
	"strings"
	"testing"
	"time"

	"ffclip/clip"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseProgress(t *testing.T) {
	input := strings.Join([]string{
		"frame=12",
		"fps=0.00",
		"total_size=48",
		"out_time_us=500000",
		"out_time_ms=500000",
		"out_time=00:00:00.500000",
		"speed=1.5x",
		"progress=continue",
		"frame=24",
		"out_time_us=N/A",
		"out_time=00:01:02.250000",
		"progress=continue",
		"frame=30",
		"out_time_us=N/A",
		"progress=continue",
		"out_time_us=2000000",
		"progress=end",
	}, "\n")

	var got []clip.Statistics
	err := ParseProgress(strings.NewReader(input), func(s clip.Statistics) { got = append(got, s) })
	require.NoError(t, err)

	require.Len(t, got, 3, "batches without a processed time are skipped")
	assert.Equal(t, 500*time.Millisecond, got[0].Time)
	assert.Equal(t, int64(12), got[0].Frame)
	assert.Equal(t, int64(48), got[0].Size)
	assert.InDelta(t, 1.5, got[0].Speed, 1e-9)
	assert.Equal(t, time.Minute+2250*time.Millisecond, got[1].Time)
	assert.Equal(t, 2*time.Second, got[2].Time)
}

func TestParseOutTime(t *testing.T) {
	d, ok := parseOutTime("01:02:03.500000")
	require.True(t, ok)
	assert.Equal(t, time.Hour+2*time.Minute+3500*time.Millisecond, d)

	for _, bad := range []string{"", "N/A", "12", "aa:bb:cc", "-01:00:00.0"} {
		_, ok := parseOutTime(bad)
		assert.False(t, ok, bad)
	}
}
