package llmclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
)

// StrictJSONSystemPrompt is the system prompt shared by every structured
// LLM call except the scene-reuse selector.
const StrictJSONSystemPrompt = "You are a strict JSON generator."

// SceneSelectorSystemPrompt is the scene-reuse selector's system prompt.
const SceneSelectorSystemPrompt = "You are a strict JSON selector for scene-image reuse. Output JSON only."

// Complete sends a system+user prompt pair through the chat-completions
// model and returns the raw text response.
func (c *Client) Complete(ctx context.Context, systemPrompt, userPrompt string, temperature float64, timeout time.Duration) (string, error) {
	if c.chat == nil {
		return "", fmt.Errorf("chat model not initialized")
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, systemPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, userPrompt),
	}

	resp, err := c.chat.GenerateContent(ctx, messages, llms.WithTemperature(temperature))
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices in response")
	}

	text := strings.TrimSpace(resp.Choices[0].Content)
	logResponse("Complete", text)
	return text, nil
}

// CompleteJSON runs a strict-JSON call and unmarshals the extracted object
// into out. The response goes through the two-pass extractor, so fenced or
// prose-wrapped objects still parse.
func (c *Client) CompleteJSON(ctx context.Context, systemPrompt, userPrompt string, temperature float64, timeout time.Duration, out any) error {
	raw, err := c.Complete(ctx, systemPrompt, userPrompt, temperature, timeout)
	if err != nil {
		return err
	}
	extracted := ExtractJSON(raw)
	if err := json.Unmarshal([]byte(extracted), out); err != nil {
		return fmt.Errorf("unparseable JSON in LLM response: %w", err)
	}
	return nil
}

// ListModels fetches the provider's available model ids via GET
// {base}/models.
func (c *Client) ListModels(ctx context.Context) ([]string, error) {
	if c.llmBaseURL == "" {
		return nil, fmt.Errorf("no LLM base URL configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		strings.TrimSuffix(c.llmBaseURL, "/")+"/models", nil)
	if err != nil {
		return nil, err
	}
	if c.llmAPIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.llmAPIKey)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("models endpoint returned status %d", resp.StatusCode)
	}

	var payload struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(payload.Data))
	for _, m := range payload.Data {
		if m.ID != "" {
			ids = append(ids, m.ID)
		}
	}
	return ids, nil
}

// ExtractJSON pulls a JSON object out of an LLM response that may be
// wrapped in markdown code fences or preceded/followed by prose. It first
// strips ```json ... ``` fences, then falls back to extracting the
// outermost {...} span.
func ExtractJSON(response string) string {
	s := strings.TrimSpace(response)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	s = strings.TrimSpace(s)

	if strings.HasPrefix(s, "{") && strings.HasSuffix(s, "}") {
		return s
	}

	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start == -1 || end == -1 || end <= start {
		return s
	}
	return s[start : end+1]
}
