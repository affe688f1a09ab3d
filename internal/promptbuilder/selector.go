package promptbuilder

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/greatstories/videocore/internal/llmclient"
	"github.com/greatstories/videocore/internal/models"
	"github.com/greatstories/videocore/internal/scenecache"
)

// SelectSceneImage implements scenecache.Selector: it asks the model to
// pick at most one reusable entry from the shortlist, at temperature 0,
// under the strict or lenient rule set. The scene cache validates the pick
// again afterwards; this call only proposes.
func (b *Builder) SelectSceneImage(ctx context.Context, target models.SceneDescriptor, candidates []scenecache.SelectorCandidate, strict bool) (scenecache.SelectorDecision, error) {
	rules := sceneSelectorStrictRules
	if !strict {
		rules = sceneSelectorLenientRules
	}

	payload := map[string]any{
		"task":       "select_reusable_scene_image",
		"rule":       rules,
		"target":     target,
		"candidates": candidates,
		"output_schema": map[string]any{
			"should_reuse": true,
			"selected_id":  "candidate-id-or-null",
			"confidence":   0.0,
			"reason":       "short reason",
		},
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return scenecache.SelectorDecision{}, err
	}

	var out struct {
		ShouldReuse bool    `json:"should_reuse"`
		SelectedID  string  `json:"selected_id"`
		Confidence  float64 `json:"confidence"`
		Reason      string  `json:"reason"`
	}
	err = b.llm.CompleteJSON(ctx, llmclient.SceneSelectorSystemPrompt, string(raw), 0.0, selectorTimeout, &out)
	if err != nil {
		return scenecache.SelectorDecision{}, err
	}

	reason := out.Reason
	if len([]rune(reason)) > 240 {
		reason = string([]rune(reason)[:240])
	}
	return scenecache.SelectorDecision{
		ShouldReuse: out.ShouldReuse,
		SelectedID:  strings.TrimSpace(out.SelectedID),
		Confidence:  out.Confidence,
		Reason:      reason,
	}, nil
}

// SegmentSmart implements segmentation.SmartSegmenter: the model splits
// the text at scene transitions without rewriting it, returning strict
// JSON {"segments": [...]}.
func (b *Builder) SegmentSmart(ctx context.Context, text, modelID string) ([]string, error) {
	var out struct {
		Segments []string `json:"segments"`
	}
	err := b.llm.CompleteJSON(ctx, llmclient.StrictJSONSystemPrompt,
		buildSmartSegmentationPrompt(text), 0.2, smartTimeout, &out)
	if err != nil {
		return nil, err
	}

	var segments []string
	for _, s := range out.Segments {
		if t := strings.TrimSpace(s); t != "" {
			segments = append(segments, t)
		}
	}
	return segments, nil
}
