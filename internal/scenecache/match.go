package scenecache

import (
	"sort"
	"strings"

	"github.com/greatstories/videocore/internal/models"
)

// verdict is the per-candidate evaluation of one cache entry against the
// lookup target.
type verdict struct {
	characterMatch bool
	actionMatch    bool
	locationMatch  bool
	sceneMatch     bool

	exactAction   bool
	exactLocation bool

	actionCommon       int
	locationCommon     int
	sceneCommon        int
	sceneElementCommon int
}

// allStrict reports whether the candidate passes every strict requirement:
// character AND action AND (location when both sides carry a hint) AND
// scene.
func (v verdict) allStrict(bothHaveLocation bool) bool {
	if !v.characterMatch || !v.actionMatch || !v.sceneMatch {
		return false
	}
	if bothHaveLocation && !v.locationMatch {
		return false
	}
	return true
}

// rankScore orders surviving candidates: action overlap dominates, then
// location, then general scene overlap.
func (v verdict) rankScore() int {
	return v.actionCommon*100 + v.locationCommon*10 + v.sceneCommon
}

func intersectCount(a, b []string) int {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	set := make(map[string]bool, len(a))
	for _, t := range a {
		set[t] = true
	}
	n := 0
	for _, t := range b {
		if set[t] {
			n++
		}
	}
	return n
}

func anyOverlap(a, b []string) bool {
	return intersectCount(a, b) > 0
}

// minSubstringRunes guards hint-substring matching: a hint shorter than
// this can be contained in almost anything and proves nothing.
const minSubstringRunes = 4

// hintMatch implements the shared action/location hint rule: equal text, or
// a length-guarded substring relation, or at least two common tokens.
func hintMatch(targetHint, candHint string, commonTokens int) (match, exact bool) {
	if targetHint != "" && targetHint == candHint {
		return true, true
	}
	if targetHint != "" && candHint != "" {
		shorter := targetHint
		if len([]rune(candHint)) < len([]rune(shorter)) {
			shorter = candHint
		}
		if len([]rune(shorter)) >= minSubstringRunes &&
			(strings.Contains(targetHint, candHint) || strings.Contains(candHint, targetHint)) {
			return true, false
		}
	}
	return commonTokens >= 2, false
}

// evaluate scores one candidate entry against the lookup target.
func evaluate(target models.SceneDescriptor, targetProfile models.SceneMatchProfile, cand *models.SceneCacheEntry) verdict {
	v := verdict{}

	v.characterMatch = characterMatches(target, targetProfile, cand)

	v.actionCommon = intersectCount(targetProfile.ActionTokens, cand.Profile.ActionTokens)
	v.locationCommon = intersectCount(targetProfile.LocationTokens, cand.Profile.LocationTokens)
	v.sceneCommon = intersectCount(targetProfile.SceneTokens, cand.Profile.SceneTokens)
	v.sceneElementCommon = intersectCount(target.SceneElements, cand.Descriptor.SceneElements)

	v.actionMatch, v.exactAction = hintMatch(target.ActionHint, cand.Descriptor.ActionHint, v.actionCommon)
	v.locationMatch, v.exactLocation = hintMatch(target.LocationHint, cand.Descriptor.LocationHint, v.locationCommon)

	v.sceneMatch = v.sceneCommon >= 2 || v.sceneElementCommon >= 1 || v.actionMatch

	return v
}

// characterMatches is true when the target and candidate share a reference
// image id, a reference path, or the same non-empty character key — or when
// both are scene-only frames with no character at all.
func characterMatches(target models.SceneDescriptor, targetProfile models.SceneMatchProfile, cand *models.SceneCacheEntry) bool {
	if anyOverlap(target.ReferenceImageIDs, cand.Descriptor.ReferenceImageIDs) {
		return true
	}
	if anyOverlap(target.ReferenceImagePaths, cand.Descriptor.ReferenceImagePaths) {
		return true
	}
	if targetProfile.CharacterKey != "" && targetProfile.CharacterKey == cand.Profile.CharacterKey {
		return true
	}
	return target.IsSceneOnly && cand.Descriptor.IsSceneOnly
}

// referenceCrossed reports whether selecting cand would cross character
// identities: the target names reference ids/paths and the candidate shares
// none of them.
func referenceCrossed(target models.SceneDescriptor, cand *models.SceneCacheEntry) bool {
	if len(target.ReferenceImageIDs) > 0 && len(cand.Descriptor.ReferenceImageIDs) > 0 &&
		!anyOverlap(target.ReferenceImageIDs, cand.Descriptor.ReferenceImageIDs) {
		return true
	}
	if len(target.ReferenceImagePaths) > 0 && len(cand.Descriptor.ReferenceImagePaths) > 0 &&
		!anyOverlap(target.ReferenceImagePaths, cand.Descriptor.ReferenceImagePaths) {
		return true
	}
	return false
}

// rankedCandidate pairs an entry with its verdict for sorting.
type rankedCandidate struct {
	entry   *models.SceneCacheEntry
	verdict verdict
	score   int
}

// rankCandidates evaluates and orders candidates. When strictOnly is set,
// candidates failing the strict all-of verdict are dropped before ranking;
// otherwise every candidate is kept and a character-match bonus dominates
// the ordering.
func rankCandidates(target models.SceneDescriptor, targetProfile models.SceneMatchProfile, entries []*models.SceneCacheEntry, strictOnly bool) []rankedCandidate {
	bothHaveLocation := func(cand *models.SceneCacheEntry) bool {
		return target.LocationHint != "" && cand.Descriptor.LocationHint != ""
	}

	var ranked []rankedCandidate
	for _, entry := range entries {
		v := evaluate(target, targetProfile, entry)
		if strictOnly && !v.allStrict(bothHaveLocation(entry)) {
			continue
		}
		score := v.rankScore()
		if !strictOnly && v.characterMatch {
			score += 1000
		}
		ranked = append(ranked, rankedCandidate{entry: entry, verdict: v, score: score})
	}

	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })
	return ranked
}
