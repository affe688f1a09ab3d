package llmclient

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSONPlainObject(t *testing.T) {
	assert.Equal(t, `{"a":1}`, ExtractJSON(`{"a":1}`))
}

func TestExtractJSONStripsFences(t *testing.T) {
	fenced := "```json\n{\"a\":1}\n```"
	assert.Equal(t, `{"a":1}`, ExtractJSON(fenced))
}

func TestExtractJSONOutermostBraces(t *testing.T) {
	wrapped := `Sure! Here is the JSON you asked for: {"segments":["a","b"]} — hope that helps.`
	assert.Equal(t, `{"segments":["a","b"]}`, ExtractJSON(wrapped))
}

func TestExtractJSONNoObjectPassesThrough(t *testing.T) {
	assert.Equal(t, "not json at all", ExtractJSON("not json at all"))
}

func TestParsePCMMimeType(t *testing.T) {
	bits, rate := parsePCMMimeType("audio/L16;rate=24000")
	assert.Equal(t, 16, bits)
	assert.Equal(t, 24000, rate)

	bits, rate = parsePCMMimeType("audio/L24; rate=48000")
	assert.Equal(t, 24, bits)
	assert.Equal(t, 48000, rate)

	bits, rate = parsePCMMimeType("application/octet-stream")
	assert.Equal(t, 16, bits, "unknown types fall back to 16-bit")
	assert.Equal(t, 24000, rate)
}

func TestURLExtraction(t *testing.T) {
	assert.Equal(t, "https://cdn.example.com/img/42.png",
		urlRe.FindString("your image: https://cdn.example.com/img/42.png enjoy"))
	assert.Equal(t, "https://cdn.example.com/a.png",
		urlRe.FindString("[link](https://cdn.example.com/a.png)"),
		"trailing markdown brackets are not part of the URL")
	assert.Empty(t, urlRe.FindString("no links here"))
}

func TestToRGBFlattensAlpha(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 2, 2))
	src.SetNRGBA(0, 0, color.NRGBA{R: 255, A: 0}) // fully transparent
	src.SetNRGBA(1, 1, color.NRGBA{G: 255, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, src))

	out, mime, err := toRGB(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, "image/png", mime)

	decoded, _, err := image.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	r, g, b, a := decoded.At(0, 0).RGBA()
	assert.Equal(t, uint32(0xffff), a, "output is opaque")
	assert.Equal(t, uint32(0xffff), r, "transparent pixels flatten onto white")
	assert.Equal(t, uint32(0xffff), g)
	assert.Equal(t, uint32(0xffff), b)
}

func TestBuildImageMessagesTextOnly(t *testing.T) {
	msgs := buildImageMessages(ImageRequest{Prompt: "a cliff at dawn"})

	require.Len(t, msgs, 1)
	assert.Equal(t, "a cliff at dawn", msgs[0]["content"])
}

func TestBuildImageMessagesSkipsUnreadableReferences(t *testing.T) {
	msgs := buildImageMessages(ImageRequest{
		Prompt:              "a cliff at dawn",
		ReferenceImagePaths: []string{"/nonexistent/ref_a.png", "/nonexistent/ref_b.txt"},
	})

	// Both references are unusable, so the message degrades to plain text.
	require.Len(t, msgs, 1)
	assert.Equal(t, "a cliff at dawn", msgs[0]["content"])
}
