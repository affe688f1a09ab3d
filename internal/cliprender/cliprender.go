// Package cliprender renders one scene's image, audio, and subtitle
// timeline into a single H.264/AAC clip: a cover-fit pan over the source
// image, per-unit caption overlays, and an amplified TTS track, muxed by
// internal/encoder at the render mode's preset/CRF.
package cliprender

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/greatstories/videocore/internal/encoder"
)

// ttsGain is the fixed linear amplification applied to narration audio
// before muxing, compensating for TTS providers that render quieter than
// source music.
const ttsGain = 1.15

// clipAudioBitrate matches the final compositor's fixed audio bitrate so
// concat can stream-copy.
const clipAudioBitrate = "96k"

// Renderer produces per-scene clips.
type Renderer struct {
	enc           *encoder.Encoder
	fontDirectory string
}

// New creates a Renderer.
func New(enc *encoder.Encoder, fontDirectory string) *Renderer {
	return &Renderer{enc: enc, fontDirectory: fontDirectory}
}

// Request bundles one scene's render inputs.
type Request struct {
	ImagePath  string
	AudioPath  string
	Text       string
	Duration   float64
	Out        string
	FPS        int
	Width      int
	Height     int
	Style      string
	Motion     string
	RenderMode string
}

// ParseResolution splits a "WxH" resolution string into width/height,
// defaulting to a 1080x1920 portrait frame on a malformed value. Each side
// is floored at 320.
func ParseResolution(resolution string) (int, int) {
	parts := strings.SplitN(strings.ToLower(resolution), "x", 2)
	if len(parts) == 2 {
		w, errW := strconv.Atoi(strings.TrimSpace(parts[0]))
		h, errH := strconv.Atoi(strings.TrimSpace(parts[1]))
		if errW == nil && errH == nil && w > 0 && h > 0 {
			if w < 320 {
				w = 320
			}
			if h < 320 {
				h = 320
			}
			return w, h
		}
	}
	return 1080, 1920
}

// Render composes the image motion, audio, and subtitle overlay into one
// clip. On a render failure with an explicit font it retries once without
// the fontfile argument rather than dropping subtitles outright.
func (r *Renderer) Render(ctx context.Context, req Request) error {
	srcW, srcH, err := r.enc.ProbeDimensions(ctx, req.ImagePath)
	if err != nil {
		// Unknown source dimensions: assume the frame itself so the motion
		// plan degrades to the extra-zoom vertical pan.
		log.Warn().Err(err).Str("image", req.ImagePath).Msg("Image dimension probe failed, assuming frame-sized source")
		srcW, srcH = req.Width, req.Height
	}

	plan := planMotion(srcW, srcH, req.Width, req.Height, req.Motion)
	units := buildSubtitleUnits(req.Text, req.Duration)
	fontPath := resolveFont(r.fontDirectory)

	err = r.render(ctx, req, plan, units, fontPath)
	if err != nil && fontPath != "" {
		log.Warn().Err(err).Str("font", fontPath).Msg("Clip render failed with explicit font, retrying without it")
		err = r.render(ctx, req, plan, units, "")
	}
	return err
}

func (r *Renderer) render(ctx context.Context, req Request, plan motionPlan, units []subtitleUnit, fontPath string) error {
	videoFilter := plan.filter(req.Width, req.Height, req.Duration) +
		buildSubtitleFilters(units, req.Style, fontPath)

	preset, crf := encoder.PresetCRF(req.RenderMode)
	fps := req.FPS
	if fps < 1 {
		fps = 25
	}

	args := []string{
		"-y",
		"-loop", "1", "-i", req.ImagePath,
		"-i", req.AudioPath,
		"-filter_complex", fmt.Sprintf("[0:v]%s[v]", videoFilter),
		"-map", "[v]", "-map", "1:a",
		"-t", fmt.Sprintf("%.3f", req.Duration),
		"-r", strconv.Itoa(fps),
		"-af", fmt.Sprintf("volume=%.2f", ttsGain),
		"-c:v", "libx264", "-preset", preset, "-crf", strconv.Itoa(crf),
		"-pix_fmt", "yuv420p",
		"-c:a", "aac", "-b:a", clipAudioBitrate,
		"-movflags", "+faststart",
		"-shortest",
		req.Out,
	}

	return r.enc.Run(ctx, args...)
}
