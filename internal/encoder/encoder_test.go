package encoder

import (
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPresetCRF(t *testing.T) {
	preset, crf := PresetCRF("fast")
	assert.Equal(t, "ultrafast", preset)
	assert.Equal(t, 29, crf)

	preset, crf = PresetCRF("balanced")
	assert.Equal(t, "veryfast", preset)
	assert.Equal(t, 23, crf)

	preset, crf = PresetCRF("quality")
	assert.Equal(t, "slow", preset)
	assert.Equal(t, 20, crf)

	preset, crf = PresetCRF("")
	assert.Equal(t, "veryfast", preset)
	assert.Equal(t, 23, crf)
}

func TestConcatListEscapesQuotes(t *testing.T) {
	enc := New("ffmpeg", "ffprobe", t.TempDir())

	listFile, err := enc.ConcatList([]string{"/tmp/a.mp4", "/tmp/it's.mp4"})
	require.NoError(t, err)
	defer enc.Cleanup(listFile)

	data, err := os.ReadFile(listFile)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "file '/tmp/a.mp4'", lines[0])
	assert.Contains(t, lines[1], `'\''`)
}

func TestErrorIncludesStderr(t *testing.T) {
	err := &Error{Args: []string{"-i", "x"}, Stderr: "no such file", Err: os.ErrNotExist}

	assert.Contains(t, err.Error(), "no such file")
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestTempFileCreatesWorkDir(t *testing.T) {
	dir := t.TempDir() + "/nested/work"
	enc := New("", "", dir)

	path, err := enc.TempFile("probe-*.txt")
	require.NoError(t, err)
	defer enc.Cleanup(path)

	assert.True(t, strings.HasPrefix(path, dir))
}
