// Package llmclient is the generic LLM/image/TTS transport layer: a
// configurable chat-completions client for OpenAI-compatible gateways,
// plus Gemini-specific strict-image-modality and streaming-TTS paths for
// the media legs that contract doesn't cover.
package llmclient

import (
	"context"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"google.golang.org/api/option"
	unifiedgenai "google.golang.org/genai"

	"github.com/greatstories/videocore/internal/config"
)

// Client wraps the generic chat-completions model plus the Gemini-specific
// media clients backing the image and TTS provider paths.
type Client struct {
	chat llms.Model

	genaiClient   *genai.Client        // strict IMAGE-modality image generation
	unifiedClient *unifiedgenai.Client // streaming TTS

	llmBaseURL string
	llmAPIKey  string

	imageModel  string
	imageAPIKey string
	ttsModel    string
	ttsVoice    string

	imageProviderBaseURL string
	ttsProviderBaseURL   string
}

// New builds a Client from config. Any sub-client that can't be
// initialized (missing API key, bad endpoint) is left nil and callers fall
// back accordingly; an optional integration never fails the boot.
func New(cfg *config.Config) *Client {
	c := &Client{
		llmBaseURL:           cfg.LLMBaseURL,
		llmAPIKey:            cfg.LLMAPIKey,
		imageModel:           cfg.ImageProviderModel,
		imageAPIKey:          cfg.ImageProviderAPIKey,
		ttsModel:             cfg.GeminiModelTTS,
		ttsVoice:             cfg.GeminiTTSVoice,
		imageProviderBaseURL: cfg.ImageProviderBaseURL,
		ttsProviderBaseURL:   cfg.TTSProviderBaseURL,
	}
	if c.imageModel == "" {
		c.imageModel = cfg.GeminiModelImage
	}

	var httpClient *http.Client
	if cfg.LLMBaseURL != "" {
		httpClient = httpClientForEndpoint(cfg.LLMBaseURL)
	}

	chatOpts := []openai.Option{openai.WithToken(cfg.LLMAPIKey), openai.WithModel(cfg.LLMModel)}
	if cfg.LLMBaseURL != "" {
		chatOpts = append(chatOpts, openai.WithBaseURL(cfg.LLMBaseURL))
	}
	if httpClient != nil {
		chatOpts = append(chatOpts, openai.WithHTTPClient(httpClient))
	}
	chat, err := openai.New(chatOpts...)
	if err != nil {
		log.Error().Err(err).Msg("Failed to initialize chat-completions model")
	} else {
		c.chat = chat
	}

	if cfg.GeminiAPIKey != "" {
		genaiOpts := []option.ClientOption{option.WithAPIKey(cfg.GeminiAPIKey)}
		if cfg.GeminiAPIEndpoint != "" {
			genaiOpts = append(genaiOpts, option.WithEndpoint(cfg.GeminiAPIEndpoint))
		}
		genaiClient, err := genai.NewClient(context.Background(), genaiOpts...)
		if err != nil {
			log.Error().Err(err).Msg("Failed to initialize genai client for image generation")
		} else {
			c.genaiClient = genaiClient
		}

		unifiedCfg := &unifiedgenai.ClientConfig{APIKey: cfg.GeminiAPIKey}
		if cfg.GeminiAPIEndpoint != "" {
			unifiedCfg.HTTPOptions = unifiedgenai.HTTPOptions{BaseURL: cfg.GeminiAPIEndpoint}
		}
		unifiedClient, err := unifiedgenai.NewClient(context.Background(), unifiedCfg)
		if err != nil {
			log.Error().Err(err).Msg("Failed to initialize unified genai client for TTS")
		} else {
			c.unifiedClient = unifiedClient
		}
	}

	log.Info().
		Bool("chat", c.chat != nil).
		Bool("genai_image", c.genaiClient != nil).
		Bool("unified_tts", c.unifiedClient != nil).
		Str("image_provider_base_url", c.imageProviderBaseURL).
		Str("tts_provider_base_url", c.ttsProviderBaseURL).
		Msg("LLM client initialized")

	return c
}

// httpClientForEndpoint returns an http.Client that rewrites request URLs
// onto a custom base endpoint, so the generic contract's {base} can be
// pointed at any OpenAI-compatible gateway.
func httpClientForEndpoint(baseEndpoint string) *http.Client {
	base, err := url.Parse(baseEndpoint)
	if err != nil {
		log.Warn().Err(err).Str("endpoint", baseEndpoint).Msg("Invalid LLM_BASE_URL, using default transport")
		return nil
	}
	base.Path = strings.TrimSuffix(base.Path, "/")
	return &http.Client{Transport: &endpointRoundTripper{base: base, next: http.DefaultTransport}}
}

type endpointRoundTripper struct {
	base *url.URL
	next http.RoundTripper
}

func (e *endpointRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	req2 := req.Clone(req.Context())
	req2.URL.Scheme = e.base.Scheme
	req2.URL.Host = e.base.Host
	req2.URL.Path = path.Join(e.base.Path, strings.TrimPrefix(req.URL.Path, "/"))
	if req.URL.RawQuery != "" {
		req2.URL.RawQuery = req.URL.RawQuery
	}
	return e.next.RoundTrip(req2)
}

const maxResponseLogBytes = 8192

func logResponse(caller, raw string) {
	if len(raw) <= maxResponseLogBytes {
		log.Info().Str("caller", caller).Str("llm_response", raw).Msg("LLM response")
		return
	}
	log.Info().
		Str("caller", caller).
		Str("llm_response", raw[:maxResponseLogBytes]+"... [truncated]").
		Int("llm_response_len", len(raw)).
		Msg("LLM response")
}
