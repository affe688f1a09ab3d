package promptbuilder

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/greatstories/videocore/internal/models"
)

func TestEnforceIdentityFlagsAtMostOneMain(t *testing.T) {
	characters := []models.Character{
		{Name: "甲", Importance: 5, IsMainCharacter: true},
		{Name: "乙", Importance: 9, IsMainCharacter: true},
		{Name: "丙", Importance: 3},
	}

	out := EnforceIdentityFlags(characters, false)

	mains := 0
	for _, c := range out {
		if c.IsMainCharacter {
			mains++
		}
	}
	assert.Equal(t, 1, mains)
	assert.True(t, out[0].IsMainCharacter, "the first marked main keeps the flag")
}

func TestEnforceIdentityFlagsPromotesHighestImportance(t *testing.T) {
	characters := []models.Character{
		{Name: "甲", Importance: 4},
		{Name: "乙", Importance: 8},
	}

	out := EnforceIdentityFlags(characters, false)

	assert.False(t, out[0].IsMainCharacter)
	assert.True(t, out[1].IsMainCharacter, "with no main marked, the highest importance is promoted")
}

func TestEnforceIdentityFlagsSelfRequiresFirstPerson(t *testing.T) {
	characters := []models.Character{
		{Name: "甲", Importance: 5, IsStorySelf: true},
		{Name: "乙", Importance: 3, IsStorySelf: true},
	}

	thirdPerson := EnforceIdentityFlags(characters, false)
	for _, c := range thirdPerson {
		assert.False(t, c.IsStorySelf, "is_story_self requires first-person source text")
	}

	firstPerson := EnforceIdentityFlags(characters, true)
	selves := 0
	for _, c := range firstPerson {
		if c.IsStorySelf {
			selves++
		}
	}
	assert.Equal(t, 1, selves)
}

func TestFirstPersonDetection(t *testing.T) {
	assert.True(t, textIsFirstPerson("那天，我走进了森林。"))
	assert.False(t, textIsFirstPerson("他走进了森林。"))
}

func TestFilterHanDropsNonHanAndStopwords(t *testing.T) {
	assert.Equal(t, "风雪夜归人", filterHan("风雪abc夜归123人!! 的了"))
}

func TestFallbackAliasMinimumLength(t *testing.T) {
	assert.Equal(t, "无题故事", fallbackAlias("abc", 0))
	alias := fallbackAlias("风雪夜归人独行千里江湖路远", 0)
	n := len([]rune(alias))
	assert.GreaterOrEqual(t, n, 4)
	assert.LessOrEqual(t, n, 8)
}

func TestFallbackMetadataFirstClauseIsAction(t *testing.T) {
	meta := fallbackMetadata("他举起了刀，在森林深处站定。", false)

	assert.Equal(t, "他举起了刀", meta.ActionHint)
	assert.Equal(t, "在森林深处站定", meta.LocationHint, "a clause with a location marker becomes the location hint")
}

func TestFallbackMetadataNoLocationMarker(t *testing.T) {
	meta := fallbackMetadata("他举起了刀，然后放下。", false)

	assert.Equal(t, "他举起了刀", meta.ActionHint)
	assert.Empty(t, meta.LocationHint)
}

func TestFallbackBundleUsesDefaultAssignment(t *testing.T) {
	b := New(nil, nil)
	bundle := b.FallbackBundle(BundleRequest{
		Character: &models.Character{Name: "林风", Appearance: "黑发青年", ReferenceImagePath: "refs/lin_feng_ab.png"},
		Segment:   models.Segment{Index: 2, Text: "他举起了刀。"},
		CharacterCandidates: []models.Character{
			{Name: "林风"}, {Name: "苏瑶"},
		},
		DefaultPrimary: 0,
		DefaultRelated: []int{1},
		WorldSummary:   "A wuxia world of misty mountains.",
	})

	assert.Equal(t, 0, bundle.Assignment.PrimaryIndex)
	assert.Equal(t, []int{1}, bundle.Assignment.RelatedIndexes)
	assert.Contains(t, bundle.Prompt, "林风")
	assert.Contains(t, bundle.Prompt, "misty mountains")
	assert.Contains(t, bundle.Prompt, "他举起了刀。")
	assert.Contains(t, bundle.Prompt, "Do not add speech bubbles")
	assert.NotEmpty(t, bundle.Metadata.ActionHint)
}

func TestValidateAssignmentRejectsOutOfRange(t *testing.T) {
	b := New(nil, nil)
	req := BundleRequest{
		CharacterCandidates: []models.Character{{Name: "甲"}, {Name: "乙"}},
		DefaultPrimary:      1,
		DefaultRelated:      []int{0},
	}

	var resp bundleResponse
	bad := 7
	resp.CharacterAssignment.PrimaryIndex = &bad
	got := b.validateAssignment(resp, req)
	assert.Equal(t, 1, got.PrimaryIndex, "out-of-range primary falls back to the default assignment")

	good := 0
	resp.CharacterAssignment.PrimaryIndex = &good
	resp.CharacterAssignment.RelatedIndexes = []int{0, 1, 5}
	got = b.validateAssignment(resp, req)
	assert.Equal(t, 0, got.PrimaryIndex)
	assert.Equal(t, []int{1}, got.RelatedIndexes, "related indexes drop the primary and out-of-range entries")
}

func TestBuildImageRetryPromptWrapsOriginal(t *testing.T) {
	out := BuildImageRetryPrompt("a lone swordsman on a cliff")

	assert.True(t, strings.HasPrefix(out, "Create one single image only."))
	assert.Contains(t, out, "a lone swordsman on a cliff")
}

func TestIdentityGuardReferenceClause(t *testing.T) {
	b := New(nil, nil)

	withRef := b.identityGuard(&models.Character{Name: "林风", Appearance: "黑发", ReferenceImagePath: "r.png"})
	assert.Contains(t, withRef, "reference image")
	assert.Contains(t, withRef, "林风")

	withoutRef := b.identityGuard(&models.Character{Name: "林风", Appearance: "黑发"})
	assert.Contains(t, withoutRef, "No reference image is available")
}
