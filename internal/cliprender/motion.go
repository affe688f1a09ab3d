package cliprender

import (
	"fmt"
	"math"

	"github.com/greatstories/videocore/internal/models"
)

// motionPlan is the resolved crop trajectory for one clip: the image is
// cover-fit scaled to scaledW x scaledH and a targetW x targetH window
// slides linearly from (startX, startY) to (endX, endY) over the clip.
type motionPlan struct {
	scaledW, scaledH int
	startX, endX     float64
	startY, endY     float64
}

// planMotion implements the cover-fit + pan rules: scale to fill the frame
// without distortion, apply extra zoom when there is no usable vertical
// overflow, then pick the pan axis from the request (vertical preferred),
// centering on the orthogonal axis.
func planMotion(srcW, srcH, targetW, targetH int, motion string) motionPlan {
	sw, sh := math.Max(1, float64(srcW)), math.Max(1, float64(srcH))
	tw, th := float64(targetW), float64(targetH)

	coverScale := math.Max(tw/sw, th/sh)
	scaledW := sw * coverScale
	scaledH := sh * coverScale

	// Prefer top-to-bottom movement: without enough vertical overflow, a
	// small extra zoom creates it.
	minVerticalPan := math.Max(24, th*0.08)
	if scaledH-th < minVerticalPan {
		extraZoom := (th + minVerticalPan) / math.Max(1, scaledH)
		scaledW *= extraZoom
		scaledH *= extraZoom
	}

	plan := motionPlan{
		scaledW: int(math.Round(scaledW)),
		scaledH: int(math.Round(scaledH)),
	}

	overflowX := math.Max(0, float64(plan.scaledW)-tw)
	overflowY := math.Max(0, float64(plan.scaledH)-th)
	verticalPossible := overflowY > 1
	horizontalPossible := overflowX > 1

	switch motion {
	case models.MotionHorizontal:
		if !horizontalPossible && verticalPossible {
			motion = models.MotionVertical
		}
	default: // vertical and auto both prefer vertical
		motion = models.MotionVertical
		if !verticalPossible && horizontalPossible {
			motion = models.MotionHorizontal
		}
	}

	switch {
	case motion == models.MotionVertical && verticalPossible:
		plan.startX, plan.endX = overflowX/2, overflowX/2
		plan.startY, plan.endY = 0, overflowY
	case motion == models.MotionHorizontal && horizontalPossible:
		plan.startX, plan.endX = 0, overflowX
		plan.startY, plan.endY = overflowY/2, overflowY/2
	default:
		plan.startX, plan.endX = overflowX/2, overflowX/2
		plan.startY, plan.endY = overflowY/2, overflowY/2
	}
	return plan
}

// filter renders the plan as a scale+crop ffmpeg chain with the crop
// window moving linearly over the clip duration.
func (p motionPlan) filter(targetW, targetH int, duration float64) string {
	safe := math.Max(duration, 0.1)
	xExpr := fmt.Sprintf("%.2f+(%.2f-%.2f)*t/%.3f", p.startX, p.endX, p.startX, safe)
	yExpr := fmt.Sprintf("%.2f+(%.2f-%.2f)*t/%.3f", p.startY, p.endY, p.startY, safe)
	return fmt.Sprintf("scale=%d:%d,crop=%d:%d:x='%s':y='%s',format=yuv420p",
		p.scaledW, p.scaledH, targetW, targetH, xExpr, yExpr)
}
