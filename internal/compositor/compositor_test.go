package compositor

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/greatstories/videocore/internal/encoder"
	"github.com/greatstories/videocore/internal/models"
)

func TestClipPathNaming(t *testing.T) {
	assert.Equal(t, filepath.Join("clips", "clip_0000.mp4"), ClipPath("clips", 0))
	assert.Equal(t, filepath.Join("clips", "clip_0012.mp4"), ClipPath("clips", 12))
}

func TestRenderProfile(t *testing.T) {
	preset, crf, videoCopy := renderProfile(models.RenderModeQuality)
	assert.Equal(t, "medium", preset)
	assert.Equal(t, 21, crf)
	assert.False(t, videoCopy, "quality re-encodes during the BGM mix")

	preset, crf, videoCopy = renderProfile(models.RenderModeBalanced)
	assert.Equal(t, "veryfast", preset)
	assert.Equal(t, 24, crf)
	assert.True(t, videoCopy)

	_, crf, videoCopy = renderProfile(models.RenderModeFast)
	assert.Equal(t, 30, crf)
	assert.True(t, videoCopy)
}

func TestComposeIdempotentWhenOutputExists(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "final.mp4")
	require.NoError(t, os.WriteFile(out, make([]byte, models.MinFinalVideoBytes), 0o644))

	clip := filepath.Join(dir, "clip_0000.mp4")
	require.NoError(t, os.WriteFile(clip, []byte("clip"), 0o644))

	info, err := os.Stat(out)
	require.NoError(t, err)
	before := info.ModTime()

	c := New(encoder.New("ffmpeg", "ffprobe", dir), dir, "")
	err = c.Compose(context.Background(), Request{
		ClipPaths: []string{clip},
		Payload:   &models.JobPayload{},
		Out:       out,
	})
	require.NoError(t, err)

	info, err = os.Stat(out)
	require.NoError(t, err)
	assert.Equal(t, before, info.ModTime(), "an existing plausible output must not be recomposed")
}

func TestComposeRejectsEmptyClipList(t *testing.T) {
	c := New(encoder.New("ffmpeg", "ffprobe", t.TempDir()), t.TempDir(), "")

	err := c.Compose(context.Background(), Request{Payload: &models.JobPayload{}, Out: "x.mp4"})
	assert.Error(t, err)
}

func TestSelectBGMPrefersPointer(t *testing.T) {
	dir := t.TempDir()
	pointer := filepath.Join(dir, "bgm.mp3")
	library := filepath.Join(dir, "bgm")
	require.NoError(t, os.MkdirAll(library, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(library, "track.mp3"), []byte("x"), 0o644))

	c := New(nil, library, pointer)
	assert.Equal(t, filepath.Join(library, "track.mp3"), c.selectBGM(),
		"without a pointer copy the first library file wins")

	require.NoError(t, os.WriteFile(pointer, []byte("x"), 0o644))
	assert.Equal(t, pointer, c.selectBGM(), "the current-BGM pointer takes precedence")
}

func TestWatermarkFilterClosedPath(t *testing.T) {
	filter := watermarkFilter(&models.JobPayload{WatermarkEnabled: true, WatermarkText: "mychannel"})

	assert.Contains(t, filter, "mychannel")
	assert.Contains(t, filter, "mod(t,22)", "the path repeats on the fixed cycle")
	assert.Contains(t, filter, "white@0.8", "the watermark draws at partial opacity")
}

func TestEscapeTextStripsFilterBreakers(t *testing.T) {
	assert.Equal(t, "ab", escapeText(`a':\b`))
}
