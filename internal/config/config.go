package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds application configuration
type Config struct {
	// Server
	HTTPAddr string
	LogLevel string
	Timezone string

	// Database
	DatabaseURL string

	// Kafka
	KafkaBrokers       []string
	KafkaConsumerGroup string
	KafkaTopicJobs     string

	// S3/Storage
	S3Endpoint  string
	S3Region    string
	S3Bucket    string
	S3AccessKey string
	S3SecretKey string
	S3UseSSL    bool
	S3PublicURL string

	// LLM (generic chat-completions + Gemini-specific media paths)
	LLMAPIKey      string
	LLMBaseURL     string // generic {base}/chat/completions endpoint; "" keeps the chat client's built-in default
	LLMModel       string
	GeminiAPIKey      string
	GeminiAPIEndpoint string
	GeminiModelImage  string
	GeminiModelTTS    string
	GeminiTTSVoice    string

	ImageProviderBaseURL string // streaming chat-completions image provider; "" falls back to Gemini genai
	ImageProviderAPIKey  string
	ImageProviderModel   string
	TTSProviderBaseURL   string // remote HTTP TTS; "" falls back to local genai TTS

	// Processing
	MaxInputLength int

	// Scene cache
	SceneCacheMaxEntries     int
	SceneReuseNoRepeatWindow int

	// Render/encode
	OutputDir        string
	TempDir          string
	SceneCacheDir    string
	FFmpegPath       string
	FFprobePath      string
	BGMDirectory     string
	BGMPointerPath   string
	VoiceCatalogPath string
	FontDirectory    string
	NarratorVoice    string
	ClipPreviewLimit int

	// Scheduler
	ShutdownTimeout time.Duration
}

// Load loads configuration from environment variables
func Load() *Config {
	return &Config{
		HTTPAddr: getEnv("HTTP_ADDR", ":8080"),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		Timezone: getEnv("TZ", "UTC"),

		DatabaseURL: getEnv("DATABASE_URL", ""),

		KafkaBrokers:       []string{getEnv("KAFKA_BROKERS", "localhost:9092")},
		KafkaConsumerGroup: getEnv("KAFKA_CONSUMER_GROUP", "videocore-worker-main"),
		KafkaTopicJobs:     getEnv("KAFKA_TOPIC_JOBS", "videocore.jobs.v1"),

		S3Endpoint:  getEnv("S3_ENDPOINT", "http://localhost:9000"),
		S3Region:    getEnv("S3_REGION", "us-east-1"),
		S3Bucket:    getEnv("S3_BUCKET", "videocore-assets"),
		S3AccessKey: getEnv("S3_ACCESS_KEY", ""),
		S3SecretKey: getEnv("S3_SECRET_KEY", ""),
		S3UseSSL:    getEnvBool("S3_USE_SSL", false),
		S3PublicURL: getEnv("S3_PUBLIC_URL", ""),

		LLMAPIKey:  getEnv("LLM_API_KEY", ""),
		LLMBaseURL: getEnv("LLM_BASE_URL", ""),
		LLMModel:   getEnv("LLM_MODEL", "gemini-3-pro-preview"),

		GeminiAPIKey:      getEnv("GEMINI_API_KEY", ""),
		GeminiAPIEndpoint: getEnv("GEMINI_API_ENDPOINT", ""),
		GeminiModelImage:  getEnv("GEMINI_MODEL_IMAGE", "gemini-3-pro-image-preview"),
		GeminiModelTTS:    getEnv("GEMINI_MODEL_TTS", "gemini-2.5-pro-preview-tts"),
		GeminiTTSVoice:    getEnv("GEMINI_TTS_VOICE", "Zephyr"),

		ImageProviderBaseURL: getEnv("IMAGE_PROVIDER_BASE_URL", ""),
		ImageProviderAPIKey:  getEnv("IMAGE_PROVIDER_API_KEY", ""),
		ImageProviderModel:   getEnv("IMAGE_PROVIDER_MODEL", ""),
		TTSProviderBaseURL:   getEnv("TTS_PROVIDER_BASE_URL", ""),

		MaxInputLength: getEnvInt("MAX_INPUT_LENGTH", 50000),

		SceneCacheMaxEntries:     clampMin(getEnvInt("SCENE_CACHE_MAX_ENTRIES", 3000), 1),
		SceneReuseNoRepeatWindow: getEnvInt("SCENE_REUSE_NO_REPEAT_WINDOW", 5),

		OutputDir:        getEnv("OUTPUT_DIR", "./output"),
		TempDir:          getEnv("TEMP_DIR", "./temp"),
		SceneCacheDir:    getEnv("SCENE_CACHE_DIR", "./assets/scene_cache/images"),
		FFmpegPath:       getEnv("FFMPEG_PATH", "ffmpeg"),
		FFprobePath:      getEnv("FFPROBE_PATH", "ffprobe"),
		BGMDirectory:     getEnv("BGM_DIRECTORY", "./assets/bgm"),
		BGMPointerPath:   getEnv("BGM_POINTER_PATH", "./assets/bgm.mp3"),
		VoiceCatalogPath: getEnv("VOICE_CATALOG_PATH", "./assets/voices.json"),
		FontDirectory:    getEnv("FONT_DIRECTORY", "./assets/fonts"),
		NarratorVoice:    getEnv("NARRATOR_VOICE", "Zephyr"),
		ClipPreviewLimit: getEnvInt("JOB_CLIP_PREVIEW_LIMIT", 0),

		ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// clampMin returns v if v >= min, otherwise min. Used to ensure config values are in valid range.
func clampMin(v, min int) int {
	if v < min {
		return min
	}
	return v
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
