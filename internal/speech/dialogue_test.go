package speech

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDialogueNarrationOnly(t *testing.T) {
	pieces := ParseDialogue("他走进了森林。天色渐暗。", []string{"v1", "v2"})

	require.Len(t, pieces, 1)
	assert.Empty(t, pieces[0].Voice, "narration uses the narrator voice")
}

func TestParseDialogueCJKQuotes(t *testing.T) {
	pieces := ParseDialogue("他说：“你是谁？”她答：“我是旅人。”", []string{"v1", "v2"})

	require.Len(t, pieces, 4)
	assert.Empty(t, pieces[0].Voice)
	assert.Equal(t, "v1", pieces[1].Voice)
	assert.Empty(t, pieces[2].Voice)
	assert.Equal(t, "v2", pieces[3].Voice, "dialogue blocks rotate through the voice list")
}

func TestParseDialogueRotationWraps(t *testing.T) {
	pieces := ParseDialogue("“一”“二”“三”", []string{"v1", "v2"})

	require.Len(t, pieces, 3)
	assert.Equal(t, "v1", pieces[0].Voice)
	assert.Equal(t, "v2", pieces[1].Voice)
	assert.Equal(t, "v1", pieces[2].Voice, "rotation is dialog_index mod voice count")
}

func TestParseDialogueMergesAdjacentSameVoice(t *testing.T) {
	// Two narration spans around an empty quote collapse into one piece.
	pieces := ParseDialogue("前文“”后文", []string{"v1"})

	require.Len(t, pieces, 1)
	assert.Empty(t, pieces[0].Voice)
	assert.Contains(t, pieces[0].Text, "前文")
	assert.Contains(t, pieces[0].Text, "后文")
}

func TestParseDialogueNoVoicesAvailable(t *testing.T) {
	pieces := ParseDialogue("他说：“你好。”", nil)

	require.Len(t, pieces, 1)
	assert.Empty(t, pieces[0].Voice)
}

func TestParseDialogueASCIIQuotes(t *testing.T) {
	pieces := ParseDialogue(`他说:"hello"然后离开`, []string{"v1"})

	require.Len(t, pieces, 3)
	assert.Equal(t, "v1", pieces[1].Voice)
	assert.Equal(t, "hello", pieces[1].Text)
}
