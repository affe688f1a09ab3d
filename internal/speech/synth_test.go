package speech

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEstimateDuration(t *testing.T) {
	assert.Equal(t, 1.5, estimateDuration(""), "even empty text gets the minimum duration")
	assert.Equal(t, 1.5, estimateDuration("短"), "short text is floored at the minimum")
	assert.InDelta(t, 4.4, estimateDuration("一二三四五六七八九十一二三四五六七八九十"), 0.01)
}

func TestWriteSilentWAV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "silence.wav")
	require.NoError(t, writeSilentWAV(path, 2.0))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	require.Greater(t, len(data), 44, "a WAV must have a header plus samples")
	assert.Equal(t, "RIFF", string(data[:4]))
	assert.Equal(t, "WAVE", string(data[8:12]))

	sampleRate := binary.LittleEndian.Uint32(data[24:28])
	assert.Equal(t, uint32(silenceSampleRate), sampleRate)

	dataSize := binary.LittleEndian.Uint32(data[40:44])
	assert.Equal(t, uint32(2.0*silenceSampleRate*2), dataSize, "16-bit mono at the stated duration")
	for _, b := range data[44:100] {
		assert.Zero(t, b, "the payload is silence")
	}
}
