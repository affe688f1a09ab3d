package speech

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/greatstories/videocore/internal/encoder"
	"github.com/greatstories/videocore/internal/llmclient"
)

const (
	ttsRetryBackoff  = 350 * time.Millisecond
	ttsRetryAttempts = 2
	minSilenceSec    = 1.5
	silenceSampleRate = 24000
)

// Synthesizer renders a segment's dialogue pieces to one audio file.
type Synthesizer struct {
	llm *llmclient.Client
	enc *encoder.Encoder
}

// New creates a Synthesizer.
func New(llm *llmclient.Client, enc *encoder.Encoder) *Synthesizer {
	return &Synthesizer{llm: llm, enc: enc}
}

// SynthesizeSegment renders every piece to its own temp audio file,
// concatenates them with the encoder wrapper into out, and returns the
// result's duration in seconds. On concat failure it falls back to a
// single narrator-voiced synthesis of the whole segment's text. Temporary
// piece files and the concat list are always removed.
func (s *Synthesizer) SynthesizeSegment(ctx context.Context, pieces []Piece, narratorVoice, fullText, out string) (float64, error) {
	if len(pieces) <= 1 {
		voice := narratorVoice
		text := fullText
		if len(pieces) == 1 {
			text = pieces[0].Text
			if pieces[0].Voice != "" {
				voice = pieces[0].Voice
			}
		}
		return s.synthesizeSingle(ctx, text, voice, out)
	}

	tempPaths := make([]string, 0, len(pieces))
	defer func() {
		for _, p := range tempPaths {
			s.enc.Cleanup(p)
		}
	}()

	for i, piece := range pieces {
		voice := piece.Voice
		if voice == "" {
			voice = narratorVoice
		}
		tmp, err := s.enc.TempFile(fmt.Sprintf("piece-%02d-*.wav", i))
		if err != nil {
			return 0, err
		}
		if err := s.synthesizePiece(ctx, piece.Text, voice, tmp); err != nil {
			return 0, err
		}
		tempPaths = append(tempPaths, tmp)
	}

	if err := s.concatPieces(ctx, tempPaths, out); err != nil {
		log.Warn().Err(err).Msg("Speech concat failed, falling back to single narrator synthesis")
		return s.synthesizeSingle(ctx, fullText, narratorVoice, out)
	}

	duration, err := s.enc.Probe(ctx, out)
	if err != nil {
		return estimateDuration(fullText), nil
	}
	return duration, nil
}

// concatPieces writes a concat-demuxer list for the piece files and
// stream-copies them into out via the shared encoder.
func (s *Synthesizer) concatPieces(ctx context.Context, paths []string, out string) error {
	listFile, err := s.enc.ConcatList(paths)
	if err != nil {
		return err
	}
	defer s.enc.Cleanup(listFile)
	return s.enc.Run(ctx, "-y", "-f", "concat", "-safe", "0", "-i", listFile, "-c", "copy", out)
}

func (s *Synthesizer) synthesizeSingle(ctx context.Context, text, voice, out string) (float64, error) {
	if err := s.synthesizePiece(ctx, text, voice, out); err != nil {
		return 0, err
	}
	duration, err := s.enc.Probe(ctx, out)
	if err != nil {
		return estimateDuration(text), nil
	}
	return duration, nil
}

// synthesizePiece tries the LLM client's remote-then-local TTS path, retrying
// on transient failure before falling back to a silent WAV so a single bad
// TTS call never stalls the job.
func (s *Synthesizer) synthesizePiece(ctx context.Context, text, voice, out string) error {
	var lastErr error
	for attempt := 0; attempt < ttsRetryAttempts; attempt++ {
		audio, err := s.llm.GenerateAudio(ctx, text, voice)
		if err == nil {
			return writeAudio(out, audio)
		}
		lastErr = err
		if attempt < ttsRetryAttempts-1 {
			time.Sleep(ttsRetryBackoff)
		}
	}

	log.Warn().Err(lastErr).Str("voice", voice).Msg("TTS failed after retries, synthesizing silence")
	return writeSilentWAV(out, estimateDuration(text))
}

func writeAudio(dst string, audio *llmclient.Audio) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	f, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(f, audio.Data)
	return err
}

// estimateDuration approximates spoken length when no metadata reader is
// available: at least 1.5s, otherwise 0.22s per character.
func estimateDuration(text string) float64 {
	d := float64(len([]rune(text))) * 0.22
	return math.Max(minSilenceSec, d)
}

// writeSilentWAV writes a silent mono 16-bit PCM WAV of the given duration.
func writeSilentWAV(dst string, durationSec float64) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}

	numSamples := int(durationSec * silenceSampleRate)
	dataSize := numSamples * 2 // 16-bit mono
	byteRate := silenceSampleRate * 2
	chunkSize := 36 + dataSize

	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, []byte("RIFF"))
	binary.Write(&buf, binary.LittleEndian, uint32(chunkSize))
	binary.Write(&buf, binary.LittleEndian, []byte("WAVE"))
	binary.Write(&buf, binary.LittleEndian, []byte("fmt "))
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(1))
	binary.Write(&buf, binary.LittleEndian, uint16(1))
	binary.Write(&buf, binary.LittleEndian, uint32(silenceSampleRate))
	binary.Write(&buf, binary.LittleEndian, uint32(byteRate))
	binary.Write(&buf, binary.LittleEndian, uint16(2))
	binary.Write(&buf, binary.LittleEndian, uint16(16))
	binary.Write(&buf, binary.LittleEndian, []byte("data"))
	binary.Write(&buf, binary.LittleEndian, uint32(dataSize))
	buf.Write(make([]byte, dataSize))

	return os.WriteFile(dst, buf.Bytes(), 0644)
}
