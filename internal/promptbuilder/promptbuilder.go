// Package promptbuilder is the domain-specific LLM call layer: the
// story-world summary, character analysis, per-segment image bundles, alias
// suggestion, smart segmentation, and the scene-reuse selector. Every call
// goes through one strict-JSON contract with the two-pass extractor. The
// world summary, character analysis and image bundle degrade to a
// deterministic result on provider failure; alias suggestion, smart
// segmentation and the scene-reuse selector return the error to the caller.
package promptbuilder

import (
	"context"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/rs/zerolog/log"

	"github.com/greatstories/videocore/internal/llmclient"
	"github.com/greatstories/videocore/internal/models"
)

// Per-purpose LLM timeouts.
const (
	worldSummaryTimeout = 30 * time.Second
	analysisTimeout     = 60 * time.Second
	bundleTimeout       = 45 * time.Second
	aliasTimeout        = 30 * time.Second
	selectorTimeout     = 45 * time.Second
	smartTimeout        = 60 * time.Second
)

// VoiceOption is one catalog voice offered to the character analyzer.
type VoiceOption struct {
	ID          string
	Label       string
	Description string
}

// Builder produces the prompts and structured metadata each pipeline stage
// needs.
type Builder struct {
	llm    *llmclient.Client
	voices []VoiceOption
}

// New creates a Builder backed by the given LLM client and voice catalog.
func New(llm *llmclient.Client, voices []VoiceOption) *Builder {
	return &Builder{llm: llm, voices: voices}
}

// SummarizeStoryWorldContext produces one English sentence capturing the
// story's era, culture, costume, and prop tone, used to ground every
// per-segment image prompt. Returns "" when the model yields nothing
// usable; callers skip the world clause in that case.
func (b *Builder) SummarizeStoryWorldContext(ctx context.Context, text string) string {
	var out struct {
		WorldSummary string `json:"world_summary"`
	}
	err := b.llm.CompleteJSON(ctx, llmclient.StrictJSONSystemPrompt,
		buildStoryWorldSummaryPrompt(text), 0.2, worldSummaryTimeout, &out)
	if err != nil {
		log.Warn().Err(err).Msg("World summary generation failed")
		return ""
	}
	return strings.TrimSpace(out.WorldSummary)
}

// rawCharacter is the analyzer's JSON row.
type rawCharacter struct {
	Name            string `json:"name"`
	Role            string `json:"role"`
	Importance      int    `json:"importance"`
	IsMainCharacter bool   `json:"is_main_character"`
	IsStorySelf     bool   `json:"is_story_self"`
	Appearance      string `json:"appearance"`
	Personality     string `json:"personality"`
	VoiceID         string `json:"voice_id"`
	BasePrompt      string `json:"base_prompt"`
}

// englishFirstPersonRe matches a standalone English "I"; the Chinese
// first-person pronoun needs no boundary check.
var englishFirstPersonRe = regexp.MustCompile(`\bI\b`)

// textIsFirstPerson reports whether the source text reads as first-person
// narration.
func textIsFirstPerson(text string) bool {
	return strings.Contains(text, "我") || englishFirstPersonRe.MatchString(text)
}

// AnalyzeCharacters extracts up to five major characters with importance
// and identity flags. The at-most-one invariants for is_main_character and
// is_story_self are enforced here regardless of what the model returns; if
// no main is marked, the highest-importance character becomes main, and
// is_story_self is only kept when the text actually reads first-person.
func (b *Builder) AnalyzeCharacters(ctx context.Context, text, depth string) ([]models.Character, float64, error) {
	allowedIDs := make([]string, len(b.voices))
	voiceLines := make([]string, len(b.voices))
	for i, v := range b.voices {
		allowedIDs[i] = v.ID
		voiceLines[i] = v.ID + " — " + v.Label + " (" + v.Description + ")"
	}

	var out struct {
		Characters []rawCharacter `json:"characters"`
		Confidence float64        `json:"confidence"`
	}
	err := b.llm.CompleteJSON(ctx, llmclient.StrictJSONSystemPrompt,
		buildCharacterAnalysisPrompt(text, depth, strings.Join(allowedIDs, ", "), strings.Join(voiceLines, "\n"), ""),
		0.2, analysisTimeout, &out)
	if err != nil || len(out.Characters) == 0 {
		log.Warn().Err(err).Msg("Character analysis failed, using heuristic fallback")
		return b.fallbackCharacterAnalysis(text), 0.5, nil
	}

	characters := make([]models.Character, 0, len(out.Characters))
	for _, raw := range out.Characters {
		if len(characters) == 5 {
			break
		}
		importance := raw.Importance
		if importance < 1 {
			importance = 1
		}
		if importance > 10 {
			importance = 10
		}
		characters = append(characters, models.Character{
			Name:            strings.TrimSpace(raw.Name),
			Role:            strings.TrimSpace(raw.Role),
			Importance:      importance,
			IsMainCharacter: raw.IsMainCharacter,
			IsStorySelf:     raw.IsStorySelf,
			Appearance:      strings.TrimSpace(raw.Appearance),
			Personality:     strings.TrimSpace(raw.Personality),
			BasePrompt:      strings.TrimSpace(raw.BasePrompt),
			VoiceID:         strings.TrimSpace(raw.VoiceID),
		})
	}

	confidence := out.Confidence
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}
	return EnforceIdentityFlags(characters, textIsFirstPerson(text)), confidence, nil
}

// EnforceIdentityFlags applies the at-most-one invariants: the first marked
// main/self keeps the flag, later duplicates lose it; with no main marked,
// the highest-importance character is promoted; is_story_self only
// survives when the source text carries first-person markers.
func EnforceIdentityFlags(characters []models.Character, textIsFirstPerson bool) []models.Character {
	out := make([]models.Character, len(characters))
	copy(out, characters)

	mainSet, selfSet := false, false
	bestIdx, bestImportance := -1, -1
	for i := range out {
		if out[i].Importance > bestImportance {
			bestImportance = out[i].Importance
			bestIdx = i
		}
		if out[i].IsMainCharacter {
			if mainSet {
				out[i].IsMainCharacter = false
			} else {
				mainSet = true
			}
		}
		if out[i].IsStorySelf {
			if selfSet || !textIsFirstPerson {
				out[i].IsStorySelf = false
			} else {
				selfSet = true
			}
		}
	}
	if !mainSet && bestIdx >= 0 {
		out[bestIdx].IsMainCharacter = true
	}
	return out
}

// hanNameRe finds 2-3 character Han name candidates.
var hanNameRe = regexp.MustCompile(`[\p{Han}]{2,3}`)

var nameStopwords = map[string]bool{
	"小说": true, "故事": true, "今天": true, "这个": true, "這個": true,
	"一个": true, "一個": true, "自己": true, "我们": true, "我們": true,
}

// fallbackCharacterAnalysis mines frequent Han name candidates from the
// text when the analyzer is unavailable.
func (b *Builder) fallbackCharacterAnalysis(text string) []models.Character {
	cleaned := strings.Join(strings.Fields(text), " ")
	seen := map[string]bool{}
	var ranked []string
	for _, name := range hanNameRe.FindAllString(cleaned, -1) {
		if seen[name] || nameStopwords[name] {
			continue
		}
		seen[name] = true
		ranked = append(ranked, name)
		if len(ranked) == 5 {
			break
		}
	}
	if len(ranked) == 0 {
		ranked = []string{"旁白"}
	}

	characters := make([]models.Character, len(ranked))
	for i, name := range ranked {
		role, personality := "配角", "温和、友善"
		if i == 0 {
			role, personality = "主角", "冷静、果断"
		}
		importance := 10 - i
		if importance < 5 {
			importance = 5
		}
		characters[i] = models.Character{
			Name:        name,
			Role:        role,
			Importance:  importance,
			Personality: personality,
			BasePrompt:  name + "，" + personality + "，小说场景人物肖像",
		}
	}
	return EnforceIdentityFlags(characters, textIsFirstPerson(text))
}

// aliasStopwords are function-word characters stripped from alias output.
var aliasStopwords = map[rune]bool{
	'的': true, '了': true, '是': true, '在': true, '和': true, '与': true,
}

// SuggestAliases proposes count novel aliases of 4-8 Han characters each,
// with no punctuation, digits, or Latin letters. The model's output is
// filtered down to compliant candidates; on shortfall, deterministic
// candidates mined from the text fill the gap. Filling stops at the first
// mined candidate that repeats one already chosen, so short texts can yield
// fewer than count aliases.
func (b *Builder) SuggestAliases(ctx context.Context, text string, count int) ([]string, error) {
	if count < 1 {
		count = 1
	}

	var out struct {
		Aliases []string `json:"aliases"`
	}
	err := b.llm.CompleteJSON(ctx, llmclient.StrictJSONSystemPrompt,
		buildAliasPrompt(text, count), 0.9, aliasTimeout, &out)
	if err != nil {
		return nil, err
	}

	seen := map[string]bool{}
	var aliases []string
	for _, raw := range out.Aliases {
		alias := filterHan(raw)
		n := len([]rune(alias))
		if n < 4 || n > 8 || seen[alias] {
			continue
		}
		seen[alias] = true
		aliases = append(aliases, alias)
		if len(aliases) == count {
			break
		}
	}

	for len(aliases) < count {
		filler := fallbackAlias(text, len(aliases))
		if seen[filler] {
			break
		}
		seen[filler] = true
		aliases = append(aliases, filler)
	}
	return aliases, nil
}

func filterHan(s string) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.Is(unicode.Han, r) && !aliasStopwords[r] {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func fallbackAlias(text string, offset int) string {
	han := []rune(filterHan(text))
	if len(han) < 4 {
		return "无题故事"
	}
	start := offset * 4
	if start+4 > len(han) {
		start = 0
	}
	end := start + 8
	if end > len(han) {
		end = len(han)
	}
	return string(han[start:end])
}
