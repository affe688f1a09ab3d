package segmentation

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/greatstories/videocore/internal/models"
)

func TestRequestSignatureDeterministic(t *testing.T) {
	a := RequestSignature("A。B。C。D。", "sentence", 2, 0, "")
	b := RequestSignature("A。B。C。D。", "sentence", 2, 0, "")

	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
}

func TestRequestSignatureSensitivity(t *testing.T) {
	base := RequestSignature("text", "sentence", 2, 120, "")

	assert.NotEqual(t, base, RequestSignature("other", "sentence", 2, 120, ""))
	assert.NotEqual(t, base, RequestSignature("text", "fixed", 2, 120, ""))
	assert.NotEqual(t, base, RequestSignature("text", "sentence", 3, 120, ""))
	assert.NotEqual(t, base, RequestSignature("text", "sentence", 2, 140, ""))
	assert.NotEqual(t, base, RequestSignature("text", "sentence", 2, 120, "model-x"))
}

func TestRequestSignatureNormalizesDefaults(t *testing.T) {
	// Empty method means "sentence"; zero fixed_size means the default;
	// text is trimmed before hashing.
	assert.Equal(t,
		RequestSignature("text", "", 0, 0, ""),
		RequestSignature("  text  ", "sentence", 1, 120, ""))
}

func TestResolvePrecomputedMatchingSignature(t *testing.T) {
	payload := &models.JobPayload{
		Text:                "A。B。C。D。",
		SegmentationMethod:  "sentence",
		SentencesPerSegment: 2,
	}
	payload.RequestSignature = RequestSignature(payload.Text, payload.SegmentationMethod, payload.SentencesPerSegment, payload.FixedSize, payload.ModelID)
	payload.PrecomputedSegments = []string{"A。B。", "C。D。"}

	got := ResolvePrecomputed(payload)
	assert.Equal(t, []string{"A。B。", "C。D。"}, got)
}

func TestResolvePrecomputedStaleSignature(t *testing.T) {
	payload := &models.JobPayload{
		Text:                "A。B。C。D。changed",
		SegmentationMethod:  "sentence",
		SentencesPerSegment: 2,
		RequestSignature:    RequestSignature("A。B。C。D。", "sentence", 2, 0, ""),
		PrecomputedSegments: []string{"A。B。", "C。D。"},
	}

	assert.Nil(t, ResolvePrecomputed(payload))
}

// failingSmart proves the smart path never runs when precomputed segments
// match.
type failingSmart struct{ calls int }

func (f *failingSmart) SegmentSmart(context.Context, string, string) ([]string, error) {
	f.calls++
	return nil, fmt.Errorf("must not be called")
}

func TestBuildPlanPrecomputedSkipsLLM(t *testing.T) {
	smart := &failingSmart{}
	payload := &models.JobPayload{
		Text:               "A。B。C。D。",
		SegmentationMethod: "smart",
	}
	payload.RequestSignature = RequestSignature(payload.Text, "smart", payload.SentencesPerSegment, payload.FixedSize, payload.ModelID)
	payload.PrecomputedSegments = []string{"A。B。", "C。D。"}

	plan := BuildPlan(context.Background(), payload, smart)

	require.Len(t, plan.Segments, 2)
	assert.Equal(t, "A。B。", plan.Segments[0].Text)
	assert.Equal(t, "C。D。", plan.Segments[1].Text)
	assert.Zero(t, smart.calls, "LLM must not be invoked when the signature matches")
}

func TestBuildPlanSentenceGrouping(t *testing.T) {
	payload := &models.JobPayload{
		Text:                "A。B。C。D。E。",
		SegmentationMethod:  "sentence",
		SentencesPerSegment: 2,
	}
	plan := BuildPlan(context.Background(), payload, nil)

	require.Len(t, plan.Segments, 3)
	assert.Equal(t, "A。B。", plan.Segments[0].Text)
	assert.Equal(t, "C。D。", plan.Segments[1].Text)
	assert.Equal(t, "E。", plan.Segments[2].Text)
	assert.Equal(t, 5, plan.TotalSentences)
	for i, seg := range plan.Segments {
		assert.Equal(t, i, seg.Index)
	}
}

func TestBuildPlanSmartFallsBackToGroupsOfFive(t *testing.T) {
	payload := &models.JobPayload{
		Text:               "一。二。三。四。五。六。七。",
		SegmentationMethod: "smart",
	}
	plan := BuildPlan(context.Background(), payload, &failingSmart{})

	require.Len(t, plan.Segments, 2)
	assert.Equal(t, "一。二。三。四。五。", plan.Segments[0].Text)
	assert.Equal(t, "六。七。", plan.Segments[1].Text)
}

func TestGroupByFixedSizeSlicesCodePoints(t *testing.T) {
	text := ""
	for i := 0; i < 50; i++ {
		text += "字"
	}
	groups := GroupByFixedSize(text, 20)

	require.Len(t, groups, 3)
	assert.Equal(t, 20, len([]rune(groups[0])))
	assert.Equal(t, 20, len([]rune(groups[1])))
	assert.Equal(t, 10, len([]rune(groups[2])))
}

func makeSegments(n int) []models.Segment {
	segments := make([]models.Segment, n)
	for i := range segments {
		segments[i] = models.Segment{Index: i, Text: fmt.Sprintf("s%d", i+1)}
	}
	return segments
}

func TestSelectByRangeMixedSpec(t *testing.T) {
	segments := makeSegments(10)

	selected, err := SelectByRange(segments, "2,4-6,9-20")
	require.NoError(t, err)

	var texts []string
	for _, seg := range selected {
		texts = append(texts, seg.Text)
	}
	assert.Equal(t, []string{"s2", "s4", "s5", "s6", "s9", "s10"}, texts)
}

func TestSelectByRangeLoneNumberMeansFirstN(t *testing.T) {
	segments := makeSegments(10)

	selected, err := SelectByRange(segments, "3")
	require.NoError(t, err)
	require.Len(t, selected, 3)
	assert.Equal(t, "s1", selected[0].Text)
	assert.Equal(t, "s3", selected[2].Text)
}

func TestSelectByRangeChinesePunctuation(t *testing.T) {
	segments := makeSegments(10)

	selected, err := SelectByRange(segments, "2，4到6")
	require.NoError(t, err)
	require.Len(t, selected, 4)
	assert.Equal(t, "s2", selected[0].Text)
	assert.Equal(t, "s6", selected[3].Text)
}

func TestSelectByRangeReversedAccepted(t *testing.T) {
	segments := makeSegments(10)

	selected, err := SelectByRange(segments, "6-4,1")
	require.NoError(t, err)
	require.Len(t, selected, 4)
	assert.Equal(t, "s4", selected[0].Text)
}

func TestSelectByRangeInvalidToken(t *testing.T) {
	_, err := SelectByRange(makeSegments(3), "a-b")
	assert.Error(t, err)
}

func TestSelectByRangeEmptySelectsAll(t *testing.T) {
	segments := makeSegments(4)
	selected, err := SelectByRange(segments, "  ")
	require.NoError(t, err)
	assert.Len(t, selected, 4)
}
