package llmclient

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	unifiedgenai "google.golang.org/genai"
)

// Audio is a synthesized speech clip.
type Audio struct {
	Data     io.Reader
	Size     int64
	MimeType string // e.g. "audio/wav"
}

// Per-leg TTS timeouts: the remote HTTP provider gets longer because it
// streams whole files; the local synthesis leg is bounded tighter since
// the speech package retries it.
const (
	remoteTTSTimeout = 90 * time.Second
	localTTSTimeout  = 45 * time.Second
)

// GenerateAudio synthesizes script with the given voice. It tries the
// remote HTTP TTS provider first (when configured), then falls back to
// the kept Gemini streaming TTS path. Returns an error when both legs are
// unavailable or fail so the speech package can substitute silence rather
// than mask the failure.
func (c *Client) GenerateAudio(ctx context.Context, script, voice string) (*Audio, error) {
	if strings.TrimSpace(script) == "" {
		return nil, fmt.Errorf("empty script")
	}

	if c.ttsProviderBaseURL != "" {
		remoteCtx, cancel := context.WithTimeout(ctx, remoteTTSTimeout)
		audio, err := c.generateAudioRemote(remoteCtx, script, voice)
		cancel()
		if err == nil {
			return audio, nil
		}
		log.Warn().Err(err).Msg("Remote TTS provider failed, trying local Gemini TTS")
	}

	if c.unifiedClient != nil {
		localCtx, cancel := context.WithTimeout(ctx, localTTSTimeout)
		defer cancel()
		return c.generateAudioUnified(localCtx, script, voice)
	}

	return nil, fmt.Errorf("no TTS backend configured")
}

// generateAudioRemote posts to {base}/tts against the generic TTS
// contract and expects a raw audio body back.
func (c *Client) generateAudioRemote(ctx context.Context, script, voice string) (*Audio, error) {
	body, err := json.Marshal(map[string]string{"text": script, "voice": voice})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimSuffix(c.ttsProviderBaseURL, "/")+"/tts", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tts provider returned status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	mimeType := resp.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = "audio/wav"
	}
	return &Audio{Data: bytes.NewReader(data), Size: int64(len(data)), MimeType: mimeType}, nil
}

// generateAudioUnified uses the unified genai SDK's streaming TTS.
func (c *Client) generateAudioUnified(ctx context.Context, script, voice string) (*Audio, error) {
	if voice == "" {
		voice = c.ttsVoice
	}

	contents := []*unifiedgenai.Content{
		{Role: "user", Parts: []*unifiedgenai.Part{unifiedgenai.NewPartFromText(script)}},
	}

	temp := float32(1.0)
	genConfig := &unifiedgenai.GenerateContentConfig{
		Temperature:        &temp,
		ResponseModalities: []string{"audio"},
		SpeechConfig: &unifiedgenai.SpeechConfig{
			VoiceConfig: &unifiedgenai.VoiceConfig{
				PrebuiltVoiceConfig: &unifiedgenai.PrebuiltVoiceConfig{VoiceName: voice},
			},
		},
	}

	var buf bytes.Buffer
	var lastMimeType string
	for resp, err := range c.unifiedClient.Models.GenerateContentStream(ctx, c.ttsModel, contents, genConfig) {
		if err != nil {
			return nil, fmt.Errorf("TTS stream error: %w", err)
		}
		if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
			continue
		}
		for _, part := range resp.Candidates[0].Content.Parts {
			if part.InlineData != nil && len(part.InlineData.Data) > 0 {
				buf.Write(part.InlineData.Data)
				if part.InlineData.MIMEType != "" {
					lastMimeType = part.InlineData.MIMEType
				}
			}
		}
	}

	if buf.Len() == 0 {
		return nil, fmt.Errorf("TTS returned no audio data")
	}

	audioBytes := buf.Bytes()
	outMime := "audio/wav"
	if strings.HasPrefix(lastMimeType, "audio/L") {
		audioBytes = pcmToWAV(audioBytes, lastMimeType)
	}

	return &Audio{Data: bytes.NewReader(audioBytes), Size: int64(len(audioBytes)), MimeType: outMime}, nil
}

// pcmToWAV wraps raw PCM data (as returned by the TTS stream) in a WAV
// header.
func pcmToWAV(audioData []byte, mimeType string) []byte {
	bitsPerSample, sampleRate := parsePCMMimeType(mimeType)
	numChannels := 1
	dataSize := len(audioData)
	bytesPerSample := bitsPerSample / 8
	blockAlign := numChannels * bytesPerSample
	byteRate := sampleRate * blockAlign
	chunkSize := 36 + dataSize

	header := new(bytes.Buffer)
	binary.Write(header, binary.LittleEndian, []byte("RIFF"))
	binary.Write(header, binary.LittleEndian, uint32(chunkSize))
	binary.Write(header, binary.LittleEndian, []byte("WAVE"))
	binary.Write(header, binary.LittleEndian, []byte("fmt "))
	binary.Write(header, binary.LittleEndian, uint32(16))
	binary.Write(header, binary.LittleEndian, uint16(1))
	binary.Write(header, binary.LittleEndian, uint16(numChannels))
	binary.Write(header, binary.LittleEndian, uint32(sampleRate))
	binary.Write(header, binary.LittleEndian, uint32(byteRate))
	binary.Write(header, binary.LittleEndian, uint16(blockAlign))
	binary.Write(header, binary.LittleEndian, uint16(bitsPerSample))
	binary.Write(header, binary.LittleEndian, []byte("data"))
	binary.Write(header, binary.LittleEndian, uint32(dataSize))

	return append(header.Bytes(), audioData...)
}

var pcmRateRe = regexp.MustCompile(`audio/L(\d+)`)

func parsePCMMimeType(mimeType string) (bitsPerSample, rate int) {
	bitsPerSample, rate = 16, 24000
	for _, part := range strings.Split(mimeType, ";") {
		part = strings.TrimSpace(part)
		if strings.HasPrefix(strings.ToLower(part), "rate=") {
			if r, err := strconv.Atoi(strings.Split(part, "=")[1]); err == nil {
				rate = r
			}
		} else if m := pcmRateRe.FindStringSubmatch(part); len(m) > 1 {
			if bits, err := strconv.Atoi(m[1]); err == nil {
				bitsPerSample = bits
			}
		}
	}
	return
}
