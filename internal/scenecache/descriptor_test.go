package scenecache

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/greatstories/videocore/internal/models"
)

func TestNormalizeText(t *testing.T) {
	assert.Equal(t, "holding a knife", NormalizeText("  Holding   A\tKnife "))
	assert.Equal(t, "", NormalizeText("   "))
}

func TestNormalizeReferencePath(t *testing.T) {
	assert.Equal(t, "assets/refs/lin_feng_ab12cd.png",
		NormalizeReferencePath(`Assets\Refs\Lin_Feng_AB12CD.png`))
}

func TestReferenceImageID(t *testing.T) {
	assert.Equal(t, "ab12cd", ReferenceImageID("assets/refs/Lin_Feng_AB12CD.png"))
	assert.Equal(t, "ab12cd", ReferenceImageID("elsewhere/moved/lin_feng_ab12cd.png"),
		"id must survive path-prefix renames")
	assert.Equal(t, "plain", ReferenceImageID("refs/plain.png"),
		"no underscore means the whole stem is the id")
}

func TestCharacterKeyPrefersReferenceID(t *testing.T) {
	byID := CharacterKey([]string{"ab12cd"}, []string{"a/b.png"})
	byPath := CharacterKey(nil, []string{"a/b.png"})

	assert.NotEmpty(t, byID)
	assert.NotEmpty(t, byPath)
	assert.NotEqual(t, byID, byPath)
	assert.Len(t, byID, 32)
	assert.Empty(t, CharacterKey(nil, nil))
}

func TestBuildDescriptorCapsAndNormalizes(t *testing.T) {
	elements := make([]string, 20)
	for i := range elements {
		elements[i] = strings.Repeat("e", i+1)
	}
	character := &models.Character{
		Name:               "林风",
		Role:               "主角",
		ReferenceImagePath: `Refs\Lin_Feng_AB12CD.png`,
	}
	meta := models.SceneMetadata{
		ActionHint:    "  Holding   A Knife ",
		SceneElements: elements,
		Mood:          strings.Repeat("m", 200),
	}

	desc := BuildDescriptor(character, nil, "他举起了刀。", meta)

	assert.Equal(t, "holding a knife", desc.ActionHint)
	assert.Len(t, desc.SceneElements, maxSceneElements)
	assert.Len(t, []rune(desc.Mood), maxHintChars)
	assert.Equal(t, []string{"refs/lin_feng_ab12cd.png"}, desc.ReferenceImagePaths)
	assert.Equal(t, []string{"ab12cd"}, desc.ReferenceImageIDs)
	assert.Equal(t, "林风", desc.CharacterName)
}

func TestBuildDescriptorDeduplicatesKeywords(t *testing.T) {
	meta := models.SceneMetadata{
		ActionKeywords: []string{"Running", "running", " RUNNING ", "jumping"},
	}
	desc := BuildDescriptor(nil, nil, "text", meta)

	assert.Equal(t, []string{"running", "jumping"}, desc.ActionKeywords)
}

func TestBuildMatchProfileTokenCaps(t *testing.T) {
	var actionWords []string
	for i := 0; i < 40; i++ {
		actionWords = append(actionWords, "kw"+strings.Repeat("x", i+1))
	}
	desc := models.SceneDescriptor{
		ActionHint:     strings.Join(actionWords, " "),
		SegmentExcerpt: "the quick brown fox jumps over the lazy dog",
	}
	profile := BuildMatchProfile(desc)

	assert.Len(t, profile.ActionTokens, maxActionTokens)
	assert.NotEmpty(t, profile.SceneTokens)
}

func TestBuildMatchProfileCharacterKeyFromDescriptor(t *testing.T) {
	desc := models.SceneDescriptor{
		ReferenceImageIDs:   []string{"ab12cd"},
		ReferenceImagePaths: []string{"refs/lin_feng_ab12cd.png"},
	}
	profile := BuildMatchProfile(desc)

	assert.Equal(t, CharacterKey(desc.ReferenceImageIDs, desc.ReferenceImagePaths), profile.CharacterKey)
}
