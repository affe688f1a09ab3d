// Package encoder is the shared ffmpeg/ffprobe subprocess wrapper used by
// the clip renderer, the final compositor, and speech synthesis
// concatenation: stderr-capturing invocation, duration and dimension
// probes, and the temp-file lifecycle for concat lists and intermediates.
package encoder

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
)

// Encoder runs ffmpeg/ffprobe as subprocesses rooted at a shared work
// directory for temp files (concat lists, intermediate clips).
type Encoder struct {
	ffmpegPath  string
	ffprobePath string
	workDir     string
}

// New creates an Encoder. ffmpegPath/ffprobePath default to the bare
// binary names (resolved via PATH) when empty.
func New(ffmpegPath, ffprobePath, workDir string) *Encoder {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &Encoder{ffmpegPath: ffmpegPath, ffprobePath: ffprobePath, workDir: workDir}
}

// Available reports whether the configured ffmpeg binary can be resolved,
// used by the compositor to pick between its fast and slow paths.
func (e *Encoder) Available() bool {
	_, err := exec.LookPath(e.ffmpegPath)
	return err == nil
}

// Error wraps a failed ffmpeg/ffprobe invocation with its stderr output.
type Error struct {
	Args   []string
	Stderr string
	Err    error
}

func (err *Error) Error() string {
	return fmt.Sprintf("ffmpeg error: %v\nargs: %v\nstderr: %s", err.Err, err.Args, err.Stderr)
}

func (err *Error) Unwrap() error { return err.Err }

// Run executes ffmpeg with the given arguments, returning an *Error
// (with captured stderr) on failure.
func (e *Encoder) Run(ctx context.Context, args ...string) error {
	cmd := exec.CommandContext(ctx, e.ffmpegPath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("ffmpeg cancelled: %w", ctx.Err())
		}
		return &Error{Args: args, Stderr: stderr.String(), Err: err}
	}
	return nil
}

// Probe returns a media file's duration in seconds via ffprobe.
func (e *Encoder) Probe(ctx context.Context, path string) (float64, error) {
	cmd := exec.CommandContext(ctx, e.ffprobePath,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return 0, fmt.Errorf("ffprobe cancelled: %w", ctx.Err())
		}
		return 0, fmt.Errorf("ffprobe failed: %w, stderr: %s", err, stderr.String())
	}

	var duration float64
	if _, err := fmt.Sscanf(strings.TrimSpace(stdout.String()), "%f", &duration); err != nil {
		return 0, fmt.Errorf("parse ffprobe duration: %w", err)
	}
	return duration, nil
}

// TempFile creates a temp file under the encoder's work directory with the
// given name pattern and returns its path; the caller is responsible for
// removing it.
func (e *Encoder) TempFile(pattern string) (string, error) {
	if err := os.MkdirAll(e.workDir, 0755); err != nil {
		return "", fmt.Errorf("create work dir: %w", err)
	}
	f, err := os.CreateTemp(e.workDir, pattern)
	if err != nil {
		return "", err
	}
	name := f.Name()
	f.Close()
	return name, nil
}

// Cleanup removes a temp file, logging (not failing) on error.
func (e *Encoder) Cleanup(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Str("path", path).Msg("Failed to remove temp file")
	}
}

// ConcatList writes a concat-demuxer list file listing paths in order,
// escaping single quotes per ffmpeg's concat format.
func (e *Encoder) ConcatList(paths []string) (string, error) {
	listFile, err := e.TempFile("concat-*.txt")
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			e.Cleanup(listFile)
			return "", fmt.Errorf("resolve absolute path for %s: %w", p, err)
		}
		escaped := strings.ReplaceAll(abs, "'", `'\''`)
		fmt.Fprintf(&b, "file '%s'\n", escaped)
	}
	if err := os.WriteFile(listFile, []byte(b.String()), 0644); err != nil {
		e.Cleanup(listFile)
		return "", err
	}
	return listFile, nil
}

// Concat joins videoPaths into output, first attempting a stream copy and
// falling back to a libx264/aac re-encode if that fails (e.g. mismatched
// codec parameters between clips).
func (e *Encoder) Concat(ctx context.Context, videoPaths []string, output string, preset string, crf int) error {
	if len(videoPaths) == 0 {
		return fmt.Errorf("no video paths to concatenate")
	}
	if len(videoPaths) == 1 {
		data, err := os.ReadFile(videoPaths[0])
		if err != nil {
			return err
		}
		return os.WriteFile(output, data, 0644)
	}

	listFile, err := e.ConcatList(videoPaths)
	if err != nil {
		return err
	}
	defer e.Cleanup(listFile)

	copyErr := e.Run(ctx, "-y", "-f", "concat", "-safe", "0", "-i", listFile, "-c", "copy", output)
	if copyErr == nil {
		return nil
	}
	log.Warn().Err(copyErr).Msg("Stream-copy concat failed, re-encoding")

	return e.Run(ctx, "-y", "-f", "concat", "-safe", "0", "-i", listFile,
		"-c:v", "libx264", "-preset", preset, "-crf", fmt.Sprintf("%d", crf),
		"-c:a", "aac", "-b:a", "128k", output)
}

// ProbeDimensions returns a media file's first video stream width/height
// via ffprobe.
func (e *Encoder) ProbeDimensions(ctx context.Context, path string) (int, int, error) {
	cmd := exec.CommandContext(ctx, e.ffprobePath,
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height",
		"-of", "csv=p=0:s=x",
		path,
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return 0, 0, fmt.Errorf("ffprobe cancelled: %w", ctx.Err())
		}
		return 0, 0, fmt.Errorf("ffprobe failed: %w, stderr: %s", err, stderr.String())
	}

	var w, h int
	if _, err := fmt.Sscanf(strings.TrimSpace(stdout.String()), "%dx%d", &w, &h); err != nil {
		return 0, 0, fmt.Errorf("parse ffprobe dimensions: %w", err)
	}
	if w <= 0 || h <= 0 {
		return 0, 0, fmt.Errorf("ffprobe reported non-positive dimensions %dx%d", w, h)
	}
	return w, h, nil
}

// PresetCRF returns the clip-pass ffmpeg preset/CRF pair for a render
// mode, per the three encoding tiers (fast/balanced/quality).
func PresetCRF(mode string) (preset string, crf int) {
	switch mode {
	case "fast":
		return "ultrafast", 29
	case "quality":
		return "slow", 20
	default: // balanced
		return "veryfast", 23
	}
}
