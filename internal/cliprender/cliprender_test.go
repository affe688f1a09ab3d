package cliprender

import (
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/greatstories/videocore/internal/models"
)

func TestParseResolution(t *testing.T) {
	w, h := ParseResolution("1080x1920")
	assert.Equal(t, 1080, w)
	assert.Equal(t, 1920, h)

	w, h = ParseResolution("garbage")
	assert.Equal(t, 1080, w)
	assert.Equal(t, 1920, h)

	w, h = ParseResolution("100x100")
	assert.Equal(t, 320, w, "sides are floored at 320")
	assert.Equal(t, 320, h)
}

func TestPlanMotionVerticalPan(t *testing.T) {
	// A tall frame target with a square source: cover fit leaves vertical
	// overflow, so the pan runs top to bottom with X centered.
	plan := planMotion(1000, 1000, 1080, 1920, models.MotionVertical)

	overflowY := float64(plan.scaledH - 1920)
	require.Greater(t, overflowY, 1.0)
	assert.Equal(t, 0.0, plan.startY)
	assert.InDelta(t, overflowY, plan.endY, 1.0)
	assert.InDelta(t, plan.startX, plan.endX, 0.01, "the orthogonal axis stays centered")
}

func TestPlanMotionExtraZoomWhenNoVerticalOverflow(t *testing.T) {
	// A source already shaped like the frame has no vertical overflow
	// after cover fit; the plan must zoom in to create at least the
	// minimum vertical travel.
	plan := planMotion(1080, 1920, 1080, 1920, models.MotionVertical)

	minPan := math.Max(24, 1920*0.08)
	assert.GreaterOrEqual(t, float64(plan.scaledH-1920), minPan-1)
}

func TestPlanMotionHorizontalRequested(t *testing.T) {
	// A wide source on a tall frame: cover fit on height leaves horizontal
	// overflow for the requested horizontal pan.
	plan := planMotion(4000, 1000, 1080, 1920, models.MotionHorizontal)

	overflowX := float64(plan.scaledW - 1080)
	require.Greater(t, overflowX, 1.0)
	assert.Equal(t, 0.0, plan.startX)
	assert.InDelta(t, overflowX, plan.endX, 1.0)
}

func TestMotionFilterShape(t *testing.T) {
	plan := planMotion(1000, 1000, 1080, 1920, models.MotionVertical)
	filter := plan.filter(1080, 1920, 5.0)

	assert.Contains(t, filter, "scale=")
	assert.Contains(t, filter, "crop=1080:1920")
	assert.Contains(t, filter, "format=yuv420p")
	assert.Contains(t, filter, "t/5.000")
}

func TestBuildSubtitleUnitsProportionalTiming(t *testing.T) {
	units := buildSubtitleUnits("短。这是一个比较长的句子。", 10.0)

	require.Len(t, units, 2)
	assert.Equal(t, 0.0, units[0].Start)
	assert.InDelta(t, 10.0, units[len(units)-1].End, 0.001, "the last unit ends exactly at the clip duration")
	assert.Less(t, units[0].End-units[0].Start, units[1].End-units[1].Start,
		"time is allocated in proportion to non-whitespace length")
}

func TestBuildSubtitleUnitsEmptyText(t *testing.T) {
	assert.Empty(t, buildSubtitleUnits("   ", 3.0))
}

func TestSubtitleStylePositions(t *testing.T) {
	bottom := resolveStyle(models.SubtitleStyleWhiteBlack)
	center := resolveStyle(models.SubtitleStyleCenter)
	danmaku := resolveStyle(models.SubtitleStyleDanmaku)

	assert.Contains(t, bottom.yExpr, "0.78")
	assert.Contains(t, center.yExpr, "0.45")
	assert.Contains(t, danmaku.yExpr, "0.18")
}

func TestSubtitleStyleColors(t *testing.T) {
	assert.Equal(t, "yellow", resolveStyle(models.SubtitleStyleYellowBlack).fontColor)
	assert.Equal(t, "black", resolveStyle(models.SubtitleStyleBlackWhite).fontColor)
	assert.Equal(t, "white", resolveStyle("unknown-style").fontColor, "unknown styles fall back to white on black")
}

func TestBuildSubtitleFiltersEscapesText(t *testing.T) {
	units := []subtitleUnit{{Text: "50% off: 'now'", Start: 0, End: 2}}
	filter := buildSubtitleFilters(units, models.SubtitleStyleWhiteBlack, "")

	assert.Contains(t, filter, `\%`)
	assert.NotContains(t, filter, "'now'")
	assert.True(t, strings.HasPrefix(filter, ",drawtext="))
}

func TestBuildSubtitleFiltersWindowed(t *testing.T) {
	units := buildSubtitleUnits("第一句。第二句。", 6.0)
	filter := buildSubtitleFilters(units, models.SubtitleStyleWhiteBlack, "")

	assert.Equal(t, 2, strings.Count(filter, "drawtext="))
	assert.Contains(t, filter, "enable='between(t,0.000,")
}
