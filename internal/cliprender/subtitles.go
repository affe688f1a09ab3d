package cliprender

import (
	"fmt"
	"strings"

	"github.com/greatstories/videocore/internal/models"
	"github.com/greatstories/videocore/internal/segmentation"
)

// subtitleUnit is one caption's text and time window within a clip.
type subtitleUnit struct {
	Text  string
	Start float64
	End   float64
}

// styleParams holds the ffmpeg drawtext color/stroke/Y-position for one
// subtitle style.
type styleParams struct {
	fontColor   string
	borderColor string
	yExpr       string // relative to H, the clip height
}

var stylesByName = map[string]styleParams{
	models.SubtitleStyleWhiteBlack:  {fontColor: "white", borderColor: "black", yExpr: "0.78*h-text_h/2"},
	models.SubtitleStyleBlackWhite:  {fontColor: "black", borderColor: "white", yExpr: "0.78*h-text_h/2"},
	models.SubtitleStyleYellowBlack: {fontColor: "yellow", borderColor: "black", yExpr: "0.78*h-text_h/2"},
	models.SubtitleStyleBasic:       {fontColor: "white", borderColor: "black", yExpr: "0.78*h-text_h/2"},
	models.SubtitleStyleHighlight:   {fontColor: "yellow", borderColor: "black", yExpr: "0.78*h-text_h/2"},
	models.SubtitleStyleDanmaku:     {fontColor: "white", borderColor: "black", yExpr: "0.18*h-text_h/2"},
	models.SubtitleStyleCenter:      {fontColor: "white", borderColor: "black", yExpr: "0.45*h-text_h/2"},
}

func resolveStyle(name string) styleParams {
	if s, ok := stylesByName[name]; ok {
		return s
	}
	return stylesByName[models.SubtitleStyleWhiteBlack]
}

// buildSubtitleUnits splits text into presentation units with the same
// non-split heuristics as the sentence segmenter, then allocates each
// unit a time slice proportional to its non-whitespace character count.
func buildSubtitleUnits(text string, duration float64) []subtitleUnit {
	pieces := segmentation.SplitSentences(text)
	if len(pieces) == 0 {
		return nil
	}

	weights := make([]int, len(pieces))
	total := 0
	for i, p := range pieces {
		w := segmentation.GraphemeLen(strings.Join(strings.Fields(p), ""))
		if w == 0 {
			w = 1
		}
		weights[i] = w
		total += w
	}

	units := make([]subtitleUnit, 0, len(pieces))
	cursor := 0.0
	for i, p := range pieces {
		share := duration * float64(weights[i]) / float64(total)
		units = append(units, subtitleUnit{Text: p, Start: cursor, End: cursor + share})
		cursor += share
	}
	if len(units) > 0 {
		units[len(units)-1].End = duration
	}
	return units
}

// escapeDrawtext escapes the characters ffmpeg's drawtext filter treats
// specially inside a filter-graph argument.
func escapeDrawtext(s string) string {
	r := strings.NewReplacer(
		`\`, `\\`,
		`:`, `\:`,
		`'`, `’`,
		`%`, `\%`,
		"\n", " ",
	)
	return r.Replace(s)
}

// buildSubtitleFilters renders one drawtext filter stage per unit, each
// enabled only during its own time window, for the given style and font.
func buildSubtitleFilters(units []subtitleUnit, style, fontPath string) string {
	if len(units) == 0 {
		return ""
	}
	params := resolveStyle(style)

	var b strings.Builder
	for _, u := range units {
		fmt.Fprintf(&b, ",drawtext=text='%s':fontcolor=%s:bordercolor=%s:borderw=3:fontsize=h/18:x=(w-text_w)/2:y=%s:enable='between(t,%.3f,%.3f)'",
			escapeDrawtext(u.Text), params.fontColor, params.borderColor, params.yExpr, u.Start, u.End)
		if fontPath != "" {
			fmt.Fprintf(&b, ":fontfile='%s'", escapeDrawtext(fontPath))
		}
	}
	return b.String()
}
