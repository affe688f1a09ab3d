package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/greatstories/videocore/internal/models"
)

func cast() []models.Character {
	return []models.Character{
		{Name: "林风", Role: "主角", Importance: 9, IsMainCharacter: true},
		{Name: "苏瑶", Role: "配角", Importance: 6},
		{Name: "老者", Role: "配角", Importance: 3, IsStorySelf: true},
	}
}

func TestPickBySpeakerVerb(t *testing.T) {
	seg := models.Segment{Text: "苏瑶说：“我们该走了。”"}

	idx := pickDefaultCharacterIndex(seg, nil, cast(), nil)
	assert.Equal(t, 1, idx)
}

func TestPickByColonPrefix(t *testing.T) {
	seg := models.Segment{Text: "苏瑶：我们该走了。"}

	idx := pickDefaultCharacterIndex(seg, nil, cast(), nil)
	assert.Equal(t, 1, idx)
}

func TestPickByFirstPersonSelf(t *testing.T) {
	seg := models.Segment{Text: "我沿着小路向前走去。"}

	idx := pickDefaultCharacterIndex(seg, nil, cast(), nil)
	assert.Equal(t, 2, idx, "first-person narration maps to the story-self character")
}

func TestFirstPersonInsideQuotesDoesNotPickSelf(t *testing.T) {
	seg := models.Segment{Text: "林风喊道：“我不会退缩！”"}

	idx := pickDefaultCharacterIndex(seg, nil, cast(), nil)
	assert.Equal(t, 0, idx, "a quoted 我 belongs to the speaker, not the narrator")
}

func TestPickByDirectMention(t *testing.T) {
	seg := models.Segment{Text: "远处，苏瑶正在等待。"}

	idx := pickDefaultCharacterIndex(seg, nil, cast(), nil)
	assert.Equal(t, 1, idx)
}

func TestDialogueHeavyCarriesOverPrevious(t *testing.T) {
	previous := &models.Character{Name: "苏瑶"}
	seg := models.Segment{Text: "“真的吗？”“当然。”“那就好。”"}

	idx := pickDefaultCharacterIndex(seg, nil, cast(), previous)
	assert.Equal(t, 1, idx)
}

func TestNoSignalFallsBackToMain(t *testing.T) {
	seg := models.Segment{Text: "夜色渐深，群山寂静。"}

	idx := pickDefaultCharacterIndex(seg, nil, cast(), nil)
	assert.Equal(t, 0, idx, "with no signal the main character is the default")
}

func TestWeightedMentionsUsesAdjacent(t *testing.T) {
	seg := models.Segment{Text: "夜色渐深。"}
	adjacent := []models.Segment{{Text: "苏瑶推开了门。苏瑶走了进来。"}}

	idx := pickDefaultCharacterIndex(seg, adjacent, cast(), nil)
	assert.Equal(t, 1, idx)
}

func TestEmptyCast(t *testing.T) {
	idx := pickDefaultCharacterIndex(models.Segment{Text: "x"}, nil, nil, nil)
	assert.Equal(t, -1, idx)
}

func TestRelatedIndexesOrderedByImportance(t *testing.T) {
	characters := cast()

	related := relatedIndexes(2, characters, 2)
	assert.Equal(t, []int{0, 1}, related)

	related = relatedIndexes(0, characters, 1)
	assert.Equal(t, []int{1}, related)
}
