package segmentation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitSentencesMixedPunctuation(t *testing.T) {
	units := SplitSentences("今天好热,明天更热。3.14 来了????")

	assert.Equal(t, []string{"今天好热,", "明天更热。", "3.14 来了????"}, units)
}

func TestSplitSentencesDecimalNotSplit(t *testing.T) {
	units := SplitSentences("圆周率是3.14对吧。")

	require.Len(t, units, 1)
	assert.Contains(t, units[0], "3.14")
}

func TestSplitSentencesQuestionRunNotSplitPerChar(t *testing.T) {
	units := SplitSentences("你说什么????")

	assert.Equal(t, []string{"你说什么????"}, units)
}

func TestSplitSentencesClosingQuoteAttaches(t *testing.T) {
	units := SplitSentences("他说完了。”然后他离开了。")

	require.Len(t, units, 2)
	assert.Equal(t, "他说完了。”", units[0])
	assert.Equal(t, "然后他离开了。", units[1])
}

func TestSplitSentencesCommaWithSpaces(t *testing.T) {
	units := SplitSentences(" xxx ,yyy ")

	assert.Equal(t, []string{"xxx,", "yyy"}, units)
}

func TestSplitSentencesOpeningQuoteStaysWithFollowing(t *testing.T) {
	units := SplitSentences("他说。“你好。”")

	// The terminator before an opening quote does not split; the quote
	// block stays glued to the sentence that introduces it.
	require.Len(t, units, 1)
}

func TestSplitSentencesStripsHeadingMarkers(t *testing.T) {
	units := SplitSentences("# 1 (2 sentences)\n早上下雨。下午放晴。")

	assert.Equal(t, []string{"早上下雨。", "下午放晴。"}, units)
}

func TestSplitSentencesV1IgnoresCommas(t *testing.T) {
	units := splitSentencesV1("今天好热,明天更热。")

	assert.Equal(t, []string{"今天好热,明天更热。"}, units)
}

func TestSplitSentencesDeterministic(t *testing.T) {
	text := "第一句。第二句!第三句？最后,一句"
	first := SplitSentences(text)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, SplitSentences(text))
	}
}

func TestSplitSentencesEmpty(t *testing.T) {
	assert.Nil(t, SplitSentences("   \n  "))
}

func TestGraphemeLen(t *testing.T) {
	assert.Equal(t, 4, GraphemeLen("今天好热"))
	assert.Equal(t, 3, GraphemeLen("a字b"))
}
