package scenecache

import (
	"crypto/md5"
	"encoding/hex"
	"path"
	"regexp"
	"strings"

	"github.com/greatstories/videocore/internal/models"
)

// Caps on descriptor keyword lists and match-profile token sets. Oversized
// LLM output is truncated rather than rejected.
const (
	maxSceneElements    = 12
	maxActionKeywords   = 10
	maxLocationKeywords = 8
	maxHintChars        = 80

	maxActionTokens   = 24
	maxLocationTokens = 16
	maxSceneTokens    = 40

	maxExcerptChars = 600
)

var whitespaceRe = regexp.MustCompile(`\s+`)

// NormalizeText lowercases and whitespace-collapses a descriptor field so
// equivalent descriptions collide to the same cache key.
func NormalizeText(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return whitespaceRe.ReplaceAllString(s, " ")
}

func clampRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// NormalizeReferencePath converts a reference-image path to its canonical
// cache form: forward slashes, lowercase.
func NormalizeReferencePath(p string) string {
	p = strings.ReplaceAll(strings.TrimSpace(p), "\\", "/")
	return strings.ToLower(p)
}

// ReferenceImageID derives the stable character identity from a
// reference-image path: the basename's suffix after the last "_", with the
// extension stripped, lowercased. The id survives renames of the path
// prefix; it changes only when the reference file itself is replaced.
func ReferenceImageID(refPath string) string {
	base := path.Base(NormalizeReferencePath(refPath))
	if ext := path.Ext(base); ext != "" {
		base = strings.TrimSuffix(base, ext)
	}
	if idx := strings.LastIndex(base, "_"); idx >= 0 && idx+1 < len(base) {
		return base[idx+1:]
	}
	return base
}

// CharacterKey is the md5 of the first reference-image id, else the first
// reference path. Empty for scene-only descriptors with no reference at all.
func CharacterKey(refIDs, refPaths []string) string {
	var seed string
	if len(refIDs) > 0 && refIDs[0] != "" {
		seed = refIDs[0]
	} else if len(refPaths) > 0 && refPaths[0] != "" {
		seed = refPaths[0]
	}
	if seed == "" {
		return ""
	}
	sum := md5.Sum([]byte(seed))
	return hex.EncodeToString(sum[:])
}

// dedupeKeywords lowercases, deduplicates, and caps a keyword list while
// preserving first-seen order.
func dedupeKeywords(items []string, limit int) []string {
	seen := make(map[string]bool, len(items))
	var out []string
	for _, item := range items {
		k := NormalizeText(item)
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, k)
		if len(out) == limit {
			break
		}
	}
	return out
}

// BuildDescriptor assembles the normalized cache descriptor for one
// segment's scene from the character it depicts (nil for scene-only
// frames), the strict scene metadata from the prompt builder, and the
// segment's text.
func BuildDescriptor(character *models.Character, related []models.Character, segmentText string, meta models.SceneMetadata) models.SceneDescriptor {
	var refPaths, refIDs []string
	addRef := func(p string) {
		if strings.TrimSpace(p) == "" {
			return
		}
		norm := NormalizeReferencePath(p)
		refPaths = append(refPaths, norm)
		if id := ReferenceImageID(norm); id != "" {
			refIDs = append(refIDs, id)
		}
	}

	desc := models.SceneDescriptor{
		ActionHint:       clampRunes(NormalizeText(meta.ActionHint), maxHintChars),
		LocationHint:     clampRunes(NormalizeText(meta.LocationHint), maxHintChars),
		SegmentExcerpt:   clampRunes(NormalizeText(segmentText), maxExcerptChars),
		SceneElements:    dedupeKeywords(meta.SceneElements, maxSceneElements),
		ActionKeywords:   dedupeKeywords(meta.ActionKeywords, maxActionKeywords),
		LocationKeywords: dedupeKeywords(meta.LocationKeywords, maxLocationKeywords),
		Mood:             clampRunes(NormalizeText(meta.Mood), maxHintChars),
		ShotType:         clampRunes(NormalizeText(meta.ShotType), maxHintChars),
		IsSceneOnly:      meta.IsSceneOnly,
	}
	if character != nil {
		desc.CharacterName = NormalizeText(character.Name)
		desc.CharacterRole = NormalizeText(character.Role)
		addRef(character.ReferenceImagePath)
	}
	for _, rel := range related {
		addRef(rel.ReferenceImagePath)
	}
	desc.ReferenceImagePaths = refPaths
	desc.ReferenceImageIDs = refIDs
	return desc
}

// tokenRe matches word runs: latin/digit words and CJK runs alike.
var tokenRe = regexp.MustCompile(`[\p{L}\p{N}]+`)

// tokenize splits normalized text into tokens of at least two characters,
// deduplicated in first-seen order.
func tokenize(parts ...string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, part := range parts {
		for _, tok := range tokenRe.FindAllString(NormalizeText(part), -1) {
			if len([]rune(tok)) < 2 || seen[tok] {
				continue
			}
			seen[tok] = true
			out = append(out, tok)
		}
	}
	return out
}

func capTokens(tokens []string, limit int) []string {
	if len(tokens) > limit {
		return tokens[:limit]
	}
	return tokens
}

// BuildMatchProfile precomputes the ordered token sets the strict/lenient
// matchers compare, plus the character key.
func BuildMatchProfile(desc models.SceneDescriptor) models.SceneMatchProfile {
	actionParts := append([]string{desc.ActionHint}, desc.ActionKeywords...)
	locationParts := append([]string{desc.LocationHint}, desc.LocationKeywords...)
	sceneParts := append(append([]string{}, desc.SceneElements...), desc.SegmentExcerpt, desc.Mood)

	return models.SceneMatchProfile{
		ActionTokens:   capTokens(tokenize(actionParts...), maxActionTokens),
		LocationTokens: capTokens(tokenize(locationParts...), maxLocationTokens),
		SceneTokens:    capTokens(tokenize(sceneParts...), maxSceneTokens),
		CharacterKey:   CharacterKey(desc.ReferenceImageIDs, desc.ReferenceImagePaths),
	}
}
