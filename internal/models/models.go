// Package models holds the plain data types shared across the video
// generation core: jobs, their serialized request payloads, the character
// cast, segmentation output, and the scene-image reuse cache.
package models

import (
	"time"

	"github.com/google/uuid"
)

// Job status values.
const (
	JobStatusQueued    = "queued"
	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
	JobStatusCancelled = "cancelled"
)

// Render modes select the encoder preset/CRF pair.
const (
	RenderModeFast     = "fast"
	RenderModeBalanced = "balanced"
	RenderModeQuality  = "quality"
)

// Subtitle styles.
const (
	SubtitleStyleWhiteBlack  = "white_black"
	SubtitleStyleBlackWhite  = "black_white"
	SubtitleStyleYellowBlack = "yellow_black"
	SubtitleStyleBasic       = "basic"
	SubtitleStyleHighlight   = "highlight"
	SubtitleStyleDanmaku     = "danmaku"
	SubtitleStyleCenter      = "center"
)

// Camera motion axis preferences.
const (
	MotionVertical   = "vertical"
	MotionHorizontal = "horizontal"
	MotionAuto       = "auto"
)

// Segmentation methods.
const (
	SegmentMethodSentence = "sentence"
	SegmentMethodFixed    = "fixed"
	SegmentMethodSmart    = "smart"
)

// MinFinalVideoBytes is the minimum size a completed job's output video must
// reach before the compositor treats it as a valid terminal artifact, used
// by the idempotence check on resume.
const MinFinalVideoBytes = 16 * 1024

// Job is the durable row tracked by the job store.
type Job struct {
	ID                uuid.UUID          `json:"id"`
	Status            string             `json:"status"`
	Progress          float64            `json:"progress"`
	Step              string             `json:"step"`
	Message           string             `json:"message,omitempty"`
	CurrentSegment    int                `json:"current_segment"`
	TotalSegments     int                `json:"total_segments"`
	OutputVideoPath   string             `json:"output_video_path,omitempty"`
	OutputVideoURL    string             `json:"output_video_url,omitempty"`
	ClipCount         int                `json:"clip_count"`
	ClipPreviewURLs   []string           `json:"clip_preview_urls,omitempty"`
	ImageSourceReport *ImageSourceReport `json:"image_source_report,omitempty"`
	ErrorMessage      string             `json:"error_message,omitempty"`
	CreatedAt         time.Time          `json:"created_at"`
	UpdatedAt         time.Time          `json:"updated_at"`
}

// IsTerminal reports whether the job has left the queued/running states.
func (j *Job) IsTerminal() bool {
	switch j.Status {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// JobPayload is the full serialized request needed to resume a job. It is
// stored 1:1 with a Job so a scheduler restart can reconstruct the pipeline
// without the original caller present.
type JobPayload struct {
	Text                string      `json:"text"`
	Characters          []Character `json:"characters"`
	SegmentationMethod  string      `json:"segmentation_method"`
	SentencesPerSegment int         `json:"sentences_per_segment"`
	FixedSize           int         `json:"fixed_size"`
	ModelID             string      `json:"model_id"`
	RequestSignature    string      `json:"request_signature,omitempty"`
	PrecomputedSegments []string    `json:"precomputed_segments,omitempty"`
	RangeSpec           string      `json:"range_spec,omitempty"`
	MaxSegmentGroups    int         `json:"max_segment_groups,omitempty"`

	Resolution       string `json:"resolution"`
	SubtitleStyle    string `json:"subtitle_style"`
	CameraMotion     string `json:"camera_motion"`
	FPS              int    `json:"fps"`
	RenderMode       string `json:"render_mode"`
	ImageAspectRatio string `json:"image_aspect_ratio,omitempty"`

	BGMEnabled bool    `json:"bgm_enabled"`
	BGMVolume  float64 `json:"bgm_volume"`

	WatermarkEnabled bool   `json:"watermark_enabled"`
	WatermarkText    string `json:"watermark_text,omitempty"`
	WatermarkImage   string `json:"watermark_image,omitempty"`
	NovelAlias       string `json:"novel_alias,omitempty"`

	SceneReuseEnabled        bool `json:"enable_scene_image_reuse"`
	SceneReuseNoRepeatWindow int  `json:"scene_reuse_no_repeat_window"`
}

// Character is a member of the story's cast.
type Character struct {
	Name               string `json:"name"`
	Role               string `json:"role"`
	Importance         int    `json:"importance"` // 1-10
	IsMainCharacter    bool   `json:"is_main_character"`
	IsStorySelf        bool   `json:"is_story_self"`
	Appearance         string `json:"appearance"`
	Personality        string `json:"personality"`
	BasePrompt         string `json:"base_prompt"`
	ReferenceImagePath string `json:"reference_image_path,omitempty"`
	VoiceID            string `json:"voice_id,omitempty"`
}

// Segment is one ordered text unit produced by segmentation.
type Segment struct {
	Index         int    `json:"index"`
	Text          string `json:"text"`
	SentenceCount int    `json:"sentence_count,omitempty"`
}

// SceneMetadata is the strict scene metadata the prompt builder returns for
// each segment, consumed by the scene cache for reuse matching.
type SceneMetadata struct {
	ActionHint       string   `json:"action_hint"`
	LocationHint     string   `json:"location_hint"`
	SceneElements    []string `json:"scene_elements"`
	ActionKeywords   []string `json:"action_keywords"`
	LocationKeywords []string `json:"location_keywords"`
	Mood             string   `json:"mood"`
	ShotType         string   `json:"shot_type"`
	IsSceneOnly      bool     `json:"is_scene_only"`
}

// SceneDescriptor is the normalized structured form of a scene used for
// cache keying: the character identity and the scene's action/location
// semantics, all lowercased and whitespace-collapsed.
type SceneDescriptor struct {
	CharacterName       string   `json:"character_name"`
	CharacterRole       string   `json:"character_role"`
	ReferenceImagePaths []string `json:"reference_image_paths,omitempty"`
	ReferenceImageIDs   []string `json:"reference_image_ids,omitempty"`
	ActionHint          string   `json:"action_hint"`
	LocationHint        string   `json:"location_hint"`
	SegmentExcerpt      string   `json:"segment_excerpt"`
	SceneElements       []string `json:"scene_elements,omitempty"`
	ActionKeywords      []string `json:"action_keywords,omitempty"`
	LocationKeywords    []string `json:"location_keywords,omitempty"`
	Mood                string   `json:"mood,omitempty"`
	ShotType            string   `json:"shot_type,omitempty"`
	IsSceneOnly         bool     `json:"is_scene_only,omitempty"`
}

// SceneMatchProfile is the precomputed token-set form of a descriptor: the
// ordered token lists the strict/lenient matchers compare, plus the
// character key partitioning the cache by identity.
type SceneMatchProfile struct {
	ActionTokens   []string `json:"action_tokens,omitempty"`
	LocationTokens []string `json:"location_tokens,omitempty"`
	SceneTokens    []string `json:"scene_tokens,omitempty"`
	CharacterKey   string   `json:"character_key,omitempty"`
}

// SceneCacheEntry is one reusable generated scene image, persisted with its
// descriptor and precomputed match profile.
type SceneCacheEntry struct {
	ID         uuid.UUID         `json:"id"`
	CreatedAt  time.Time         `json:"created_at"`
	ImagePath  string            `json:"image_path"`
	Summary    string            `json:"summary,omitempty"`
	Descriptor SceneDescriptor   `json:"descriptor"`
	Profile    SceneMatchProfile `json:"profile"`
}

// SceneMatch is a strict or lenient cache-lookup result.
type SceneMatch struct {
	EntryID    uuid.UUID `json:"entry_id"`
	ImagePath  string    `json:"image_path"`
	MatchType  string    `json:"match_type"` // "text-exact", "llm", "heuristic-fallback"
	Confidence float64   `json:"confidence"`
	Reason     string    `json:"reason,omitempty"`
}

// ImageSourceKind enumerates where a rendered segment's image came from.
type ImageSourceKind string

const (
	ImageSourceCache                  ImageSourceKind = "cache"
	ImageSourceGenerated              ImageSourceKind = "generated"
	ImageSourceFallbackLLM            ImageSourceKind = "fallback-llm"
	ImageSourceFallbackCache          ImageSourceKind = "fallback-cache"
	ImageSourceFallbackCharacterCache ImageSourceKind = "fallback-character-cache"
	ImageSourceFallbackSceneOnlyCache ImageSourceKind = "fallback-scene-only-cache"
	ImageSourceFallbackReference      ImageSourceKind = "fallback-reference"
	ImageSourceFallbackRandomCache    ImageSourceKind = "fallback-random-cache"
	ImageSourceOther                  ImageSourceKind = "other"
)

// ImageSourceReport tallies per-segment image provenance. It is persisted
// with the Job and restored on resume so repeated resumptions don't
// under-count already-rendered segments.
type ImageSourceReport struct {
	Cache                  int `json:"cache"`
	Generated              int `json:"generated"`
	FallbackLLM            int `json:"fallback_llm"`
	FallbackCache          int `json:"fallback_cache"`
	FallbackCharacterCache int `json:"fallback_character_cache"`
	FallbackSceneOnlyCache int `json:"fallback_scene_only_cache"`
	FallbackReference      int `json:"fallback_reference"`
	FallbackRandomCache    int `json:"fallback_random_cache"`
	Other                  int `json:"other"`
}

// Add increments the tally for the given source kind.
func (r *ImageSourceReport) Add(kind ImageSourceKind) {
	switch kind {
	case ImageSourceCache:
		r.Cache++
	case ImageSourceGenerated:
		r.Generated++
	case ImageSourceFallbackLLM:
		r.FallbackLLM++
	case ImageSourceFallbackCache:
		r.FallbackCache++
	case ImageSourceFallbackCharacterCache:
		r.FallbackCharacterCache++
	case ImageSourceFallbackSceneOnlyCache:
		r.FallbackSceneOnlyCache++
	case ImageSourceFallbackReference:
		r.FallbackReference++
	case ImageSourceFallbackRandomCache:
		r.FallbackRandomCache++
	default:
		r.Other++
	}
}

// Total sums every tally in the report.
func (r *ImageSourceReport) Total() int {
	return r.Cache + r.Generated + r.FallbackLLM + r.FallbackCache +
		r.FallbackCharacterCache + r.FallbackSceneOnlyCache +
		r.FallbackReference + r.FallbackRandomCache + r.Other
}

// CreateJobRequest is what the thin HTTP surface accepts to create a job.
type CreateJobRequest struct {
	JobPayload
}

// CreateJobResponse is returned after a job is created and enqueued.
type CreateJobResponse struct {
	JobID     uuid.UUID `json:"job_id"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// JobStatusResponse is the thin surface's status-poll shape.
type JobStatusResponse struct {
	Job Job `json:"job"`
}
