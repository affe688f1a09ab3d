package llmclient

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"
	"image/png"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"reflect"
	"regexp"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"github.com/rs/zerolog/log"
)

// Image is a generated scene image as a PNG/JPEG byte stream. Streaming
// provider downloads are flattened to opaque RGB when the standard codecs
// can decode them; Gemini blobs are returned as received.
type Image struct {
	Data     io.Reader
	Size     int64
	MimeType string
}

// imageGenerateTimeout bounds a single image-generation attempt; the image
// resolver retries once with a rewritten prompt before falling back to the
// cascade.
const imageGenerateTimeout = 45 * time.Second

// maxReferenceImages caps how many reference images ride along with one
// generation call: the primary character plus one related character.
const maxReferenceImages = 2

// ImageRequest bundles one generation call's inputs.
type ImageRequest struct {
	Prompt              string
	ReferenceImagePaths []string // up to maxReferenceImages are used
	AspectRatio         string   // optional, e.g. "9:16"
}

// GenerateImage produces an image for the request. When the streaming image
// provider is configured it is tried first; the Gemini strict-IMAGE-modality
// path is the secondary backend. Returns an error on total failure so the
// caller's fallback cascade can take over — there is no silent placeholder
// here, because the cascade needs to know generation genuinely failed.
func (c *Client) GenerateImage(ctx context.Context, req ImageRequest) (*Image, error) {
	ctx, cancel := context.WithTimeout(ctx, imageGenerateTimeout)
	defer cancel()

	if c.imageProviderBaseURL != "" {
		img, err := c.generateImageStreaming(ctx, req)
		if err == nil {
			return img, nil
		}
		log.Warn().Err(err).Msg("Streaming image provider failed, trying Gemini strict modality")
	}

	if c.genaiClient != nil {
		return c.generateImageGenai(ctx, req.Prompt)
	}

	return nil, fmt.Errorf("no image backend configured")
}

var refImageExts = map[string]string{
	".png": "image/png", ".jpg": "image/jpeg", ".jpeg": "image/jpeg", ".webp": "image/webp",
}

// contentPart is one element of a multimodal user message.
type contentPart struct {
	Type     string            `json:"type"`
	Text     string            `json:"text,omitempty"`
	ImageURL map[string]string `json:"image_url,omitempty"`
}

// buildImageMessages assembles the user message: the prompt text plus up to
// two reference images as base64 data URLs. Unreadable or unsupported
// reference files are skipped rather than failing the call.
func buildImageMessages(req ImageRequest) []map[string]any {
	parts := []contentPart{{Type: "text", Text: req.Prompt}}
	added := 0
	for _, refPath := range req.ReferenceImagePaths {
		if added == maxReferenceImages {
			break
		}
		if refPath == "" {
			continue
		}
		mime, ok := refImageExts[strings.ToLower(filepath.Ext(refPath))]
		if !ok {
			continue
		}
		data, err := os.ReadFile(refPath)
		if err != nil {
			log.Warn().Err(err).Str("path", refPath).Msg("Skipping unreadable reference image")
			continue
		}
		encoded := base64.StdEncoding.EncodeToString(data)
		parts = append(parts, contentPart{
			Type:     "image_url",
			ImageURL: map[string]string{"url": fmt.Sprintf("data:%s;base64,%s", mime, encoded)},
		})
		added++
	}

	if len(parts) == 1 {
		return []map[string]any{{"role": "user", "content": req.Prompt}}
	}
	return []map[string]any{{"role": "user", "content": parts}}
}

var urlRe = regexp.MustCompile(`https?://[^\s\])]+`)

// sseDelta is the slice of a streamed chat-completions chunk the URL
// extractor cares about.
type sseDelta struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

// generateImageStreaming posts the chat-completions request with
// stream:true, scans the SSE deltas for the first embedded public URL,
// downloads it, and re-encodes the result as RGB.
func (c *Client) generateImageStreaming(ctx context.Context, req ImageRequest) (*Image, error) {
	payload := map[string]any{
		"model":    c.imageModel,
		"messages": buildImageMessages(req),
		"stream":   true,
	}
	if req.AspectRatio != "" {
		payload["extra_body"] = map[string]string{"aspect_ratio": req.AspectRatio}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimSuffix(c.imageProviderBaseURL, "/")+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if c.imageAPIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.imageAPIKey)
	}

	// The endpoint-rewriting transport is reserved for the chat model; the
	// image provider and its CDN are addressed absolutely.
	client := http.DefaultClient
	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("image provider returned status %d", resp.StatusCode)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	var imageURL string
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if line == "[DONE]" {
			break
		}
		if !strings.HasPrefix(line, "{") {
			continue
		}
		var chunk sseDelta
		if err := json.Unmarshal([]byte(line), &chunk); err != nil {
			continue
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		content := chunk.Choices[0].Delta.Content
		if content == "" {
			continue
		}
		if imageURL == "" {
			if found := urlRe.FindString(content); found != "" {
				imageURL = found
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if imageURL == "" {
		return nil, fmt.Errorf("image provider stream ended without a URL")
	}

	return downloadAsRGB(ctx, client, imageURL)
}

// downloadAsRGB fetches the CDN URL and re-encodes the bytes as opaque
// RGB: JPEG input stays JPEG, anything else becomes PNG. If the payload
// can't be decoded by the standard codecs it is passed through untouched.
func downloadAsRGB(ctx context.Context, client *http.Client, url string) (*Image, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	data, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("image download returned status %d", resp.StatusCode)
	}

	converted, mime, err := toRGB(data)
	if err != nil {
		mime = resp.Header.Get("Content-Type")
		if mime == "" {
			mime = "image/png"
		}
		converted = data
	}
	return &Image{Data: bytes.NewReader(converted), Size: int64(len(converted)), MimeType: mime}, nil
}

// toRGB decodes PNG/JPEG bytes and re-encodes them over an opaque RGB(A)
// surface, dropping alpha the way the clip renderer expects.
func toRGB(data []byte) ([]byte, string, error) {
	src, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", err
	}
	bounds := src.Bounds()
	rgb := image.NewRGBA(bounds)
	draw.Draw(rgb, bounds, image.NewUniform(image.White), image.Point{}, draw.Src)
	draw.Draw(rgb, bounds, src, bounds.Min, draw.Over)

	var buf bytes.Buffer
	switch format {
	case "jpeg":
		if err := jpeg.Encode(&buf, rgb, &jpeg.Options{Quality: 92}); err != nil {
			return nil, "", err
		}
		return buf.Bytes(), "image/jpeg", nil
	default:
		if err := png.Encode(&buf, rgb); err != nil {
			return nil, "", err
		}
		return buf.Bytes(), "image/png", nil
	}
}

// generateImageGenai calls Gemini with strict IMAGE response modality.
func (c *Client) generateImageGenai(ctx context.Context, prompt string) (*Image, error) {
	model := c.genaiClient.GenerativeModel(c.imageModel)
	setResponseModality(model, []string{"IMAGE"})

	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return nil, err
	}

	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			blob, ok := part.(genai.Blob)
			if !ok || len(blob.Data) == 0 {
				continue
			}
			mimeType := blob.MIMEType
			if mimeType == "" {
				mimeType = "image/png"
			}
			return &Image{Data: bytes.NewReader(blob.Data), Size: int64(len(blob.Data)), MimeType: mimeType}, nil
		}
	}

	return nil, fmt.Errorf("no image blob in Gemini response (strict modality: expected IMAGE)")
}

// setResponseModality sets model.ResponseModality via reflection so the
// client no-ops on SDK versions that don't expose the field yet.
func setResponseModality(model *genai.GenerativeModel, modalities []string) {
	v := reflect.ValueOf(model).Elem()
	f := v.FieldByName("ResponseModality")
	if !f.IsValid() || !f.CanSet() {
		return
	}
	if f.Kind() == reflect.Slice && f.Type().Elem().Kind() == reflect.String {
		f.Set(reflect.ValueOf(modalities))
	}
}
