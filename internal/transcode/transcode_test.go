package transcode

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseProgressTime(t *testing.T) {
	tests := []struct {
		line string
		want float64
		ok   bool
	}{
		{"frame= 100 fps=25 time=00:10:32.45 bitrate=1000k", 632.45, true},
		{"size=  12kB time=01:00:00.00 speed=2x", 3600, true},
		{"time=00:00:05.5", 5.5, true},
		{"no progress here", 0, false},
		{"time=bogus", 0, false},
	}
	for _, tt := range tests {
		got, ok := ParseProgressTime(tt.line)
		assert.Equal(t, tt.ok, ok, tt.line)
		if tt.ok {
			assert.InDelta(t, tt.want, got, 0.001, tt.line)
		}
	}
}

func TestBitrateKbps(t *testing.T) {
	// 512 MB over 1000s with 0.95 margin: 512*1024*1024*0.95*8 / 1000s / 1000.
	got := BitrateKbps(1000, 512*1024*1024, 0.95)
	assert.Equal(t, 4080, got)

	// Zero duration must not divide by zero.
	assert.Positive(t, BitrateKbps(0, 1024, 1.0))
}

func TestSplitBitrate(t *testing.T) {
	v, a := SplitBitrate(1000)
	assert.Equal(t, 800, v)
	assert.Equal(t, 200, a)

	// Floors.
	v, a = SplitBitrate(100)
	assert.Equal(t, 300, v)
	assert.Equal(t, 64, a)
}

func TestProgressBuckets(t *testing.T) {
	b := NewProgressBuckets()

	pct, ok := b.Step(0.0)
	assert.True(t, ok)
	assert.Equal(t, 0, pct)

	// Same bucket reports once.
	_, ok = b.Step(0.05)
	assert.False(t, ok)

	pct, ok = b.Step(0.53)
	assert.True(t, ok)
	assert.Equal(t, 50, pct)

	pct, ok = b.Step(1.0)
	assert.True(t, ok)
	assert.Equal(t, 100, pct)

	// Out of range is ignored.
	_, ok = b.Step(1.7)
	assert.False(t, ok)
}

func TestScanStatusLines(t *testing.T) {
	adv, tok, err := scanStatusLines([]byte("abc\rdef\n"), false)
	assert.NoError(t, err)
	assert.Equal(t, 4, adv)
	assert.Equal(t, "abc", string(tok))

	adv, tok, err = scanStatusLines([]byte("tail"), true)
	assert.NoError(t, err)
	assert.Equal(t, 4, adv)
	assert.Equal(t, "tail", string(tok))

	adv, tok, err = scanStatusLines([]byte("partial"), false)
	assert.NoError(t, err)
	assert.Zero(t, adv)
	assert.Nil(t, tok)
}
