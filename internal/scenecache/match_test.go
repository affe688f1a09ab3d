package scenecache

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/greatstories/videocore/internal/models"
)

func entryWith(desc models.SceneDescriptor) *models.SceneCacheEntry {
	return &models.SceneCacheEntry{
		ID:         uuid.New(),
		ImagePath:  "/cache/scene.png",
		Descriptor: desc,
		Profile:    BuildMatchProfile(desc),
	}
}

func TestCharacterIsolationByReferenceID(t *testing.T) {
	target := models.SceneDescriptor{
		ReferenceImageIDs: []string{"ida"},
		ActionHint:        "holding a knife in the rain",
	}
	candidate := entryWith(models.SceneDescriptor{
		ReferenceImageIDs: []string{"idb"},
		ActionHint:        "holding a knife in the rain",
	})

	v := evaluate(target, BuildMatchProfile(target), candidate)

	assert.False(t, v.characterMatch, "different reference ids must never count as the same character")
	assert.False(t, v.allStrict(false))
	assert.True(t, referenceCrossed(target, candidate),
		"selector picks crossing reference ids must be rejected")
}

func TestCharacterMatchBySharedReferenceID(t *testing.T) {
	target := models.SceneDescriptor{
		ReferenceImageIDs: []string{"ida", "idc"},
	}
	candidate := entryWith(models.SceneDescriptor{
		ReferenceImageIDs: []string{"idc"},
	})

	v := evaluate(target, BuildMatchProfile(target), candidate)

	assert.True(t, v.characterMatch)
	assert.False(t, referenceCrossed(target, candidate))
}

func TestSceneOnlyPairMatchesWithoutCharacter(t *testing.T) {
	target := models.SceneDescriptor{IsSceneOnly: true}
	candidate := entryWith(models.SceneDescriptor{IsSceneOnly: true})

	v := evaluate(target, BuildMatchProfile(target), candidate)
	assert.True(t, v.characterMatch)
}

func TestActionMatchRules(t *testing.T) {
	target := models.SceneDescriptor{
		ReferenceImageIDs: []string{"ida"},
		ActionHint:        "raising right hand slowly",
	}
	profile := BuildMatchProfile(target)

	exact := entryWith(models.SceneDescriptor{
		ReferenceImageIDs: []string{"ida"},
		ActionHint:        "raising right hand slowly",
	})
	substring := entryWith(models.SceneDescriptor{
		ReferenceImageIDs: []string{"ida"},
		ActionHint:        "raising right hand slowly toward the sky",
	})
	unrelated := entryWith(models.SceneDescriptor{
		ReferenceImageIDs: []string{"ida"},
		ActionHint:        "sleeping under a tree",
	})

	vExact := evaluate(target, profile, exact)
	assert.True(t, vExact.actionMatch)
	assert.True(t, vExact.exactAction)

	vSub := evaluate(target, profile, substring)
	assert.True(t, vSub.actionMatch)
	assert.False(t, vSub.exactAction)

	vNo := evaluate(target, profile, unrelated)
	assert.False(t, vNo.actionMatch)
}

func TestLocationOnlyRequiredWhenBothPresent(t *testing.T) {
	target := models.SceneDescriptor{
		ReferenceImageIDs: []string{"ida"},
		ActionHint:        "running through the corridor quickly",
		LocationHint:      "",
		SceneElements:     []string{"corridor", "lockers"},
	}
	candidate := entryWith(models.SceneDescriptor{
		ReferenceImageIDs: []string{"ida"},
		ActionHint:        "running through the corridor quickly",
		LocationHint:      "school corridor",
		SceneElements:     []string{"corridor", "lockers"},
	})

	v := evaluate(target, BuildMatchProfile(target), candidate)

	// The target has no location hint, so location never gates the verdict.
	assert.True(t, v.allStrict(false))
}

func TestRankScoreOrdering(t *testing.T) {
	target := models.SceneDescriptor{
		ReferenceImageIDs: []string{"ida"},
		ActionHint:        "holding knife fighting enemies outside",
		SceneElements:     []string{"knife", "rain"},
	}

	strong := entryWith(models.SceneDescriptor{
		ReferenceImageIDs: []string{"ida"},
		ActionHint:        "holding knife fighting enemies outside",
		SceneElements:     []string{"knife", "rain"},
	})
	weak := entryWith(models.SceneDescriptor{
		ReferenceImageIDs: []string{"ida"},
		ActionHint:        "holding knife calmly",
		SceneElements:     []string{"knife"},
	})

	ranked := rankCandidates(target, BuildMatchProfile(target), []*models.SceneCacheEntry{weak, strong}, true)

	require.NotEmpty(t, ranked)
	assert.Equal(t, strong.ID, ranked[0].entry.ID)
}

func TestStrictRankingDropsFailingCandidates(t *testing.T) {
	target := models.SceneDescriptor{
		ReferenceImageIDs: []string{"ida"},
		ActionHint:        "holding knife fighting enemies",
	}
	wrongCharacter := entryWith(models.SceneDescriptor{
		ReferenceImageIDs: []string{"idb"},
		ActionHint:        "holding knife fighting enemies",
	})

	ranked := rankCandidates(target, BuildMatchProfile(target), []*models.SceneCacheEntry{wrongCharacter}, true)
	assert.Empty(t, ranked)
}

func TestLenientRankingAddsCharacterBonus(t *testing.T) {
	target := models.SceneDescriptor{
		ReferenceImageIDs: []string{"ida"},
		ActionHint:        "walking in the garden slowly",
	}
	sameCharacterWeakScene := entryWith(models.SceneDescriptor{
		ReferenceImageIDs: []string{"ida"},
		ActionHint:        "completely different action",
	})
	otherCharacterStrongScene := entryWith(models.SceneDescriptor{
		ReferenceImageIDs: []string{"idb"},
		ActionHint:        "walking in the garden slowly",
	})

	ranked := rankCandidates(target, BuildMatchProfile(target),
		[]*models.SceneCacheEntry{otherCharacterStrongScene, sameCharacterWeakScene}, false)

	require.Len(t, ranked, 2)
	assert.Equal(t, sameCharacterWeakScene.ID, ranked[0].entry.ID,
		"the character-match bonus must dominate scene overlap")
}

func TestExclusionRingNoRepeatWindow(t *testing.T) {
	ring := NewExclusionRing(3)
	ids := []uuid.UUID{uuid.New(), uuid.New(), uuid.New(), uuid.New()}

	for _, id := range ids[:3] {
		ring.Add(id)
	}
	for _, id := range ids[:3] {
		assert.True(t, ring.Contains(id))
	}

	ring.Add(ids[3])
	assert.False(t, ring.Contains(ids[0]), "oldest id must be evicted at capacity")
	assert.True(t, ring.Contains(ids[3]))
}

func TestExclusionRingZeroDisables(t *testing.T) {
	ring := NewExclusionRing(0)
	id := uuid.New()
	ring.Add(id)

	assert.False(t, ring.Contains(id), "a zero window means exclusion is disabled")
}

func TestExclusionRingNilSafe(t *testing.T) {
	var ring *ExclusionRing
	assert.False(t, ring.Contains(uuid.New()))
	assert.NotPanics(t, func() { ring.Add(uuid.New()) })
}
