package promptbuilder

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/greatstories/videocore/internal/llmclient"
	"github.com/greatstories/videocore/internal/models"
)

// CharacterAssignment is the bundle call's verdict on who this segment
// belongs to, expressed as indexes into the candidate list the caller
// provided.
type CharacterAssignment struct {
	PrimaryIndex   int     `json:"primary_index"`
	RelatedIndexes []int   `json:"related_indexes"`
	Confidence     float64 `json:"confidence"`
	Reason         string  `json:"reason"`
}

// Bundle is one segment's production-ready prompt, strict scene metadata,
// and character assignment.
type Bundle struct {
	Prompt     string
	Metadata   models.SceneMetadata
	Assignment CharacterAssignment
}

// BundleRequest carries everything the segment-bundle call needs.
type BundleRequest struct {
	Character           *models.Character
	Segment             models.Segment
	Adjacent            []models.Segment
	CharacterCandidates []models.Character
	DefaultPrimary      int
	DefaultRelated      []int
	WorldSummary        string
}

// bundleResponse is the model's JSON shape.
type bundleResponse struct {
	Prompt   string `json:"prompt"`
	Metadata struct {
		ActionHint       string   `json:"action_hint"`
		LocationHint     string   `json:"location_hint"`
		SceneElements    []string `json:"scene_elements"`
		ActionKeywords   []string `json:"action_keywords"`
		LocationKeywords []string `json:"location_keywords"`
		Mood             string   `json:"mood"`
		ShotType         string   `json:"shot_type"`
		IsSceneOnly      bool     `json:"is_scene_only"`
	} `json:"metadata"`
	CharacterAssignment struct {
		PrimaryIndex   *int    `json:"primary_index"`
		RelatedIndexes []int   `json:"related_indexes"`
		Confidence     float64 `json:"confidence"`
		Reason         string  `json:"reason"`
	} `json:"character_assignment"`
}

// BuildSegmentImageBundle asks the model for one segment's image prompt,
// scene metadata, and character assignment, wrapping the returned prompt
// with the character identity guard and the optional world clause. On any
// failure it degrades to the deterministic fallback bundle.
func (b *Builder) BuildSegmentImageBundle(ctx context.Context, req BundleRequest) Bundle {
	guard := b.identityGuard(req.Character)

	userPrompt := b.bundleUserPrompt(req, guard)
	var resp bundleResponse
	err := b.llm.CompleteJSON(ctx, llmclient.StrictJSONSystemPrompt, userPrompt, 0.4, bundleTimeout, &resp)
	if err != nil || strings.TrimSpace(resp.Prompt) == "" {
		log.Warn().Err(err).Int("segment", req.Segment.Index).Msg("Segment bundle call failed, using fallback bundle")
		return b.FallbackBundle(req)
	}

	bundle := Bundle{
		Prompt: buildFinalSegmentImagePrompt(guard, req.Segment.Text, strings.TrimSpace(resp.Prompt), req.WorldSummary),
		Metadata: models.SceneMetadata{
			ActionHint:       resp.Metadata.ActionHint,
			LocationHint:     resp.Metadata.LocationHint,
			SceneElements:    resp.Metadata.SceneElements,
			ActionKeywords:   resp.Metadata.ActionKeywords,
			LocationKeywords: resp.Metadata.LocationKeywords,
			Mood:             resp.Metadata.Mood,
			ShotType:         resp.Metadata.ShotType,
			IsSceneOnly:      resp.Metadata.IsSceneOnly,
		},
		Assignment: b.validateAssignment(resp, req),
	}
	if strings.TrimSpace(bundle.Metadata.ActionHint) == "" {
		bundle.Metadata = fallbackMetadata(req.Segment.Text, bundle.Metadata.IsSceneOnly)
	}
	return bundle
}

// validateAssignment accepts the model's character assignment only when
// its indexes are valid for the candidate list; otherwise the caller's
// default assignment stands.
func (b *Builder) validateAssignment(resp bundleResponse, req BundleRequest) CharacterAssignment {
	def := CharacterAssignment{
		PrimaryIndex:   req.DefaultPrimary,
		RelatedIndexes: req.DefaultRelated,
	}
	ca := resp.CharacterAssignment
	if ca.PrimaryIndex == nil {
		return def
	}
	primary := *ca.PrimaryIndex
	if primary < 0 || primary >= len(req.CharacterCandidates) {
		return def
	}
	var related []int
	for _, idx := range ca.RelatedIndexes {
		if idx >= 0 && idx < len(req.CharacterCandidates) && idx != primary {
			related = append(related, idx)
		}
	}
	return CharacterAssignment{
		PrimaryIndex:   primary,
		RelatedIndexes: related,
		Confidence:     ca.Confidence,
		Reason:         strings.TrimSpace(ca.Reason),
	}
}

func (b *Builder) identityGuard(character *models.Character) string {
	if character == nil {
		return "No specific character is bound to this frame; compose the scene from the segment text alone."
	}
	anchors := character.Appearance
	if anchors == "" {
		anchors = character.BasePrompt
	}
	return buildCharacterIdentityGuard(character.Name, anchors, character.Personality, character.ReferenceImagePath != "")
}

// bundleUserPrompt assembles the strict-JSON user message: rules, context,
// candidates, and the output schema.
func (b *Builder) bundleUserPrompt(req BundleRequest, guard string) string {
	type candidate struct {
		Index      int    `json:"index"`
		Name       string `json:"name"`
		Role       string `json:"role"`
		Importance int    `json:"importance"`
	}
	candidates := make([]candidate, len(req.CharacterCandidates))
	for i, c := range req.CharacterCandidates {
		candidates[i] = candidate{Index: i, Name: c.Name, Role: c.Role, Importance: c.Importance}
	}
	adjacent := make([]string, len(req.Adjacent))
	for i, seg := range req.Adjacent {
		adjacent[i] = seg.Text
	}

	payload := map[string]any{
		"task":                "build_segment_image_bundle",
		"rules":               segmentBundleRules,
		"identity_guard":      guard,
		"story_world_context": req.WorldSummary,
		"segment_text":        req.Segment.Text,
		"adjacent_segments":   adjacent,
		"character_candidates": candidates,
		"default_assignment": map[string]any{
			"primary_index":   req.DefaultPrimary,
			"related_indexes": req.DefaultRelated,
		},
		"output_schema": map[string]any{
			"prompt": "",
			"metadata": map[string]any{
				"action_hint": "", "location_hint": "",
				"scene_elements": []string{}, "action_keywords": []string{}, "location_keywords": []string{},
				"mood": "", "shot_type": "", "is_scene_only": false,
			},
			"character_assignment": map[string]any{
				"primary_index": 0, "related_indexes": []int{}, "confidence": 0.0, "reason": "",
			},
		},
	}
	raw, _ := json.Marshal(payload)
	return string(raw)
}

// FallbackBundle is the deterministic bundle used when the LLM call fails:
// a guard-wrapped generic prompt, metadata mined from the segment text,
// and the default character assignment.
func (b *Builder) FallbackBundle(req BundleRequest) Bundle {
	guard := b.identityGuard(req.Character)
	return Bundle{
		Prompt:   buildFallbackSegmentImagePrompt(guard, req.Segment.Text, req.WorldSummary),
		Metadata: fallbackMetadata(req.Segment.Text, false),
		Assignment: CharacterAssignment{
			PrimaryIndex:   req.DefaultPrimary,
			RelatedIndexes: req.DefaultRelated,
		},
	}
}

// locationMarkers flag a clause as a location description; the first
// matching clause after the action hint becomes the location hint.
var locationMarkers = []string{
	"在", "于", "到", "来到", "进入", "房间", "街", "学校", "公园", "森林", "办公室", "家",
}

// clauseSplit breaks a sentence into comma/terminator-delimited clauses.
func clauseSplit(text string) []string {
	splitter := func(r rune) bool {
		switch r {
		case '。', '！', '？', '；', '，', ',', '!', '?', ';':
			return true
		}
		return false
	}
	var parts []string
	for _, part := range strings.FieldsFunc(text, splitter) {
		if p := strings.TrimSpace(part); p != "" {
			parts = append(parts, p)
		}
	}
	return parts
}

// fallbackMetadata mines best-effort scene metadata from the segment text:
// the first clause as action hint and the first later clause carrying a
// location marker as location hint.
func fallbackMetadata(segmentText string, sceneOnly bool) models.SceneMetadata {
	clean := strings.Join(strings.Fields(segmentText), " ")
	parts := clauseSplit(clean)

	actionHint := clean
	if len(parts) > 0 {
		actionHint = parts[0]
	}

	locationHint := ""
	for _, part := range parts[min(1, len(parts)):] {
		for _, marker := range locationMarkers {
			if strings.Contains(part, marker) {
				locationHint = part
				break
			}
		}
		if locationHint != "" {
			break
		}
	}

	return models.SceneMetadata{
		ActionHint:   clampTo(actionHint, 180),
		LocationHint: clampTo(locationHint, 180),
		IsSceneOnly:  sceneOnly,
	}
}

func clampTo(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
