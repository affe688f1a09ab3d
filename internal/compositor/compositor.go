// Package compositor assembles the per-scene clips produced by
// internal/cliprender into the final merged video: concatenation, a title
// band with the novel alias, a traveling watermark, and a BGM mix with a
// post-mix loudness boost. Shares internal/encoder with the clip renderer;
// falls back to a degraded library-free path when no ffmpeg binary is
// available.
package compositor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/greatstories/videocore/internal/encoder"
	"github.com/greatstories/videocore/internal/models"
)

const (
	// watermarkCycleSeconds is the period of the traveling watermark's
	// closed rectangular path.
	watermarkCycleSeconds = 22

	// finalAudioGain is applied after the BGM amix so quiet TTS tracks end
	// up at a watchable loudness.
	finalAudioGain = 3.0

	// finalAudioBitrate is fixed across render modes.
	finalAudioBitrate = "96k"

	defaultBGMVolume = 0.2
)

// Compositor merges scene clips into one final video.
type Compositor struct {
	enc            *encoder.Encoder
	bgmDirectory   string
	bgmPointerPath string
}

// New creates a Compositor. bgmPointerPath is the "current BGM" pointer
// copy; when absent the first library file is used.
func New(enc *encoder.Encoder, bgmDirectory, bgmPointerPath string) *Compositor {
	return &Compositor{enc: enc, bgmDirectory: bgmDirectory, bgmPointerPath: bgmPointerPath}
}

// Request bundles the inputs needed to compose a final video.
type Request struct {
	ClipPaths []string
	Payload   *models.JobPayload
	Out       string
}

// Compose writes the merged video to req.Out via the fast (ffmpeg) path or
// the degraded fallback. It is idempotent: an already-present output of
// plausible size is left untouched.
func (c *Compositor) Compose(ctx context.Context, req Request) error {
	if len(req.ClipPaths) == 0 {
		return fmt.Errorf("no clips to compose")
	}
	if info, err := os.Stat(req.Out); err == nil && info.Size() >= models.MinFinalVideoBytes {
		log.Info().Str("out", req.Out).Msg("Final video already exists, skipping compose")
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(req.Out), 0o755); err != nil {
		return err
	}

	if c.enc.Available() {
		return c.composeFast(ctx, req)
	}
	log.Warn().Msg("ffmpeg unavailable, using degraded compose path")
	return c.composeSlow(req)
}

// renderProfile resolves the final-pass preset/CRF and whether the BGM mix
// may keep the video stream-copied.
func renderProfile(mode string) (preset string, crf int, videoCopy bool) {
	switch mode {
	case models.RenderModeQuality:
		return "medium", 21, false
	case models.RenderModeBalanced:
		return "veryfast", 24, true
	default:
		return "veryfast", 30, true
	}
}

func (c *Compositor) composeFast(ctx context.Context, req Request) error {
	preset, crf, videoCopy := renderProfile(req.Payload.RenderMode)

	merged, err := c.enc.TempFile("merged-*.mp4")
	if err != nil {
		return err
	}
	defer c.enc.Cleanup(merged)

	if err := c.enc.Concat(ctx, req.ClipPaths, merged, preset, crf); err != nil {
		return fmt.Errorf("concat scene clips: %w", err)
	}

	overlaid := merged
	if req.Payload.WatermarkEnabled || req.Payload.NovelAlias != "" {
		overlaidOut, err := c.enc.TempFile("overlay-*.mp4")
		if err != nil {
			return err
		}
		defer c.enc.Cleanup(overlaidOut)

		if err := c.overlayPass(ctx, merged, overlaidOut, req.Payload, preset, crf); err != nil {
			return fmt.Errorf("overlay pass: %w", err)
		}
		overlaid = overlaidOut
	}

	volume := req.Payload.BGMVolume
	if volume <= 0 {
		volume = defaultBGMVolume
	}
	if volume > 1 {
		volume = 1
	}

	bgmPath := c.selectBGM()
	if req.Payload.BGMEnabled && bgmPath != "" {
		return c.mixBGM(ctx, overlaid, req.Out, bgmPath, volume, preset, crf, videoCopy)
	}
	if req.Payload.BGMEnabled {
		log.Warn().Msg("BGM enabled but no BGM file available, boosting loudness only")
	}
	return c.boostLoudness(ctx, overlaid, req.Out)
}

// overlayPass adds the title band and/or watermark, re-encoding video at
// the final-mode preset/CRF.
func (c *Compositor) overlayPass(ctx context.Context, in, out string, payload *models.JobPayload, preset string, crf int) error {
	var filters []string

	if payload.NovelAlias != "" {
		filters = append(filters, fmt.Sprintf(
			"drawbox=x=0:y=0:w=iw:h=ih*0.08:color=black@0.6:t=fill,"+
				"drawtext=text='%s':fontcolor=white:fontsize=h/24:x=(w-text_w)/2:y=ih*0.02",
			escapeText(payload.NovelAlias)))
	}

	if payload.WatermarkEnabled {
		filters = append(filters, watermarkFilter(payload))
	}

	args := []string{"-y", "-i", in}
	if len(filters) > 0 {
		args = append(args, "-vf", strings.Join(filters, ","))
	}
	args = append(args,
		"-c:v", "libx264", "-preset", preset, "-crf", fmt.Sprintf("%d", crf),
		"-c:a", "copy",
		"-movflags", "+faststart",
		out,
	)
	return c.enc.Run(ctx, args...)
}

// watermarkFilter builds a drawtext expression tracing a closed
// rectangular path hugging the frame margins over the fixed cycle period,
// at partial opacity. An image watermark is approximated with its
// configured text since the overlay path carries a single input stream.
func watermarkFilter(payload *models.JobPayload) string {
	text := payload.WatermarkText
	if text == "" {
		text = "watermark"
	}
	t := fmt.Sprintf("mod(t,%d)", watermarkCycleSeconds)
	quarter := float64(watermarkCycleSeconds) / 4
	// Piecewise-linear traversal of the four frame edges over the cycle.
	xExpr := fmt.Sprintf("if(lt(%s,%g),0.05*w+%s/%g*0.8*w,if(lt(%s,%g),0.85*w,if(lt(%s,%g),0.85*w-(%s-%g)/%g*0.8*w,0.05*w)))",
		t, quarter, t, quarter,
		t, 2*quarter,
		t, 3*quarter, t, 2*quarter, quarter)
	yExpr := fmt.Sprintf("if(lt(%s,%g),0.05*h,if(lt(%s,%g),0.05*h+(%s-%g)/%g*0.8*h,if(lt(%s,%g),0.85*h,0.85*h-(%s-%g)/%g*0.8*h)))",
		t, quarter,
		t, 2*quarter, t, quarter, quarter,
		t, 3*quarter,
		t, 3*quarter, quarter)

	return fmt.Sprintf("drawtext=text='%s':fontcolor=white@0.8:fontsize=h/40:x='%s':y='%s'", escapeText(text), xExpr, yExpr)
}

func escapeText(s string) string {
	r := make([]rune, 0, len(s))
	for _, c := range s {
		switch c {
		case '\'', ':', '\\':
			continue
		}
		r = append(r, c)
	}
	return string(r)
}

// mixBGM loops the BGM file to the video's duration, mixes it at the given
// volume, boosts the mix, and writes the final output. In fast/balanced
// modes the video stream is copied; quality re-encodes.
func (c *Compositor) mixBGM(ctx context.Context, in, out, bgmPath string, volume float64, preset string, crf int, videoCopy bool) error {
	filterComplex := fmt.Sprintf(
		"[1:a]volume=%.3f[bgm];[0:a][bgm]amix=inputs=2:duration=first:dropout_transition=0[tmp];[tmp]volume=%.1f[mix]",
		volume, finalAudioGain)

	mixArgs := func(videoCodec []string) []string {
		args := []string{
			"-y",
			"-i", in,
			"-stream_loop", "-1", "-i", bgmPath,
			"-filter_complex", filterComplex,
			"-map", "0:v:0", "-map", "[mix]",
		}
		args = append(args, videoCodec...)
		args = append(args, "-c:a", "aac", "-b:a", finalAudioBitrate, "-movflags", "+faststart", out)
		return args
	}

	reencode := []string{"-c:v", "libx264", "-preset", preset, "-crf", fmt.Sprintf("%d", crf)}
	if !videoCopy {
		return c.enc.Run(ctx, mixArgs(reencode)...)
	}
	if err := c.enc.Run(ctx, mixArgs([]string{"-c:v", "copy"})...); err == nil {
		return nil
	}
	// Stream copy failed to pair with the re-mixed audio; re-encode.
	return c.enc.Run(ctx, mixArgs(reencode)...)
}

// boostLoudness applies the post-mix gain without BGM, keeping video
// stream-copied.
func (c *Compositor) boostLoudness(ctx context.Context, in, out string) error {
	err := c.enc.Run(ctx,
		"-y", "-i", in,
		"-map", "0:v:0", "-map", "0:a:0",
		"-c:v", "copy",
		"-filter:a", fmt.Sprintf("volume=%.1f", finalAudioGain),
		"-c:a", "aac", "-b:a", finalAudioBitrate,
		"-movflags", "+faststart",
		out,
	)
	if err == nil {
		return nil
	}
	log.Warn().Err(err).Msg("Final gain pass failed, copying concat output")
	return copyFile(in, out)
}

// selectBGM returns the "current" BGM pointer file if present, else the
// first .mp3 in the BGM library directory.
func (c *Compositor) selectBGM() string {
	if c.bgmPointerPath != "" {
		if info, err := os.Stat(c.bgmPointerPath); err == nil && !info.IsDir() {
			return c.bgmPointerPath
		}
	}

	entries, err := os.ReadDir(c.bgmDirectory)
	if err != nil {
		return ""
	}
	for _, e := range entries {
		if !e.IsDir() && strings.EqualFold(filepath.Ext(e.Name()), ".mp3") {
			return filepath.Join(c.bgmDirectory, e.Name())
		}
	}
	return ""
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0o644)
}

// composeSlow is the degraded path when ffmpeg is unavailable: a raw
// byte-level concatenation of clips that already share a container and
// codec. Overlays and BGM need an encoder and are skipped.
func (c *Compositor) composeSlow(req Request) error {
	out, err := os.Create(req.Out)
	if err != nil {
		return err
	}
	defer out.Close()

	for _, clip := range req.ClipPaths {
		data, err := os.ReadFile(clip)
		if err != nil {
			return fmt.Errorf("read clip %s: %w", clip, err)
		}
		if _, err := out.Write(data); err != nil {
			return err
		}
	}
	log.Warn().Msg("Composed via degraded byte-concat path; BGM/watermark/title overlays were skipped")
	return nil
}

// ClipPath returns the conventional per-scene clip path for a job's clips
// directory, shared with the scheduler for crash-resume checkpointing.
func ClipPath(clipsDir string, index int) string {
	return filepath.Join(clipsDir, fmt.Sprintf("clip_%04d.mp4", index))
}
