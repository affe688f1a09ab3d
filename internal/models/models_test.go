package models

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestImageSourceReportAdd(t *testing.T) {
	r := &ImageSourceReport{}
	r.Add(ImageSourceCache)
	r.Add(ImageSourceGenerated)
	r.Add(ImageSourceGenerated)
	r.Add(ImageSourceFallbackLLM)
	r.Add(ImageSourceFallbackReference)
	r.Add(ImageSourceKind("mystery"))

	assert.Equal(t, 1, r.Cache)
	assert.Equal(t, 2, r.Generated)
	assert.Equal(t, 1, r.FallbackLLM)
	assert.Equal(t, 1, r.FallbackReference)
	assert.Equal(t, 1, r.Other, "unknown kinds land in the other bucket")
	assert.Equal(t, 6, r.Total())
}

func TestImageSourceReportRoundTrip(t *testing.T) {
	// The report is persisted with the job and restored on resume so
	// repeated resumptions don't under-count.
	r := &ImageSourceReport{Cache: 3, Generated: 7, FallbackRandomCache: 1}

	data, err := json.Marshal(r)
	require.NoError(t, err)

	restored := &ImageSourceReport{}
	require.NoError(t, json.Unmarshal(data, restored))
	assert.Equal(t, r, restored)
	restored.Add(ImageSourceCache)
	assert.Equal(t, 12, restored.Total())
}

func TestJobIsTerminal(t *testing.T) {
	for status, terminal := range map[string]bool{
		JobStatusQueued:    false,
		JobStatusRunning:   false,
		JobStatusCompleted: true,
		JobStatusFailed:    true,
		JobStatusCancelled: true,
	} {
		job := &Job{ID: uuid.New(), Status: status}
		assert.Equal(t, terminal, job.IsTerminal(), status)
	}
}

func TestJobPayloadRoundTrip(t *testing.T) {
	payload := &JobPayload{
		Text:                     "他走进了森林。",
		Characters:               []Character{{Name: "林风", Importance: 9, VoiceID: "Zephyr"}},
		SegmentationMethod:       SegmentMethodSentence,
		SentencesPerSegment:      3,
		Resolution:               "1080x1920",
		SubtitleStyle:            SubtitleStyleWhiteBlack,
		CameraMotion:             MotionVertical,
		FPS:                      25,
		RenderMode:               RenderModeBalanced,
		BGMEnabled:               true,
		BGMVolume:                0.2,
		SceneReuseEnabled:        true,
		SceneReuseNoRepeatWindow: 5,
	}

	data, err := json.Marshal(payload)
	require.NoError(t, err)

	restored := &JobPayload{}
	require.NoError(t, json.Unmarshal(data, restored))
	assert.Equal(t, payload, restored)
}
