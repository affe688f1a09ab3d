// Package segmentation turns raw story text into ordered Segments: a
// deterministic sentence splitter with CJK-aware non-split rules, grouping
// by sentence count or fixed size, an LLM-backed "smart" method, and the
// request-signature machinery that lets a job reuse client-precomputed
// segments instead of re-splitting.
package segmentation

import (
	"regexp"
	"strings"

	"github.com/rivo/uniseg"
)

// Sentence terminators shared by both splitter revisions.
var sentenceDelims = map[rune]bool{
	'.': true, '!': true, '?': true, ';': true,
	'。': true, '！': true, '？': true, '；': true,
}

// Comma delimiters added by the v2 splitter.
var commaDelims = map[rune]bool{
	',': true, '，': true, '、': true,
}

var openingMarks = map[rune]bool{
	'“': true, '‘': true, '(': true, '（': true, '[': true, '【': true,
	'《': true, '「': true, '『': true,
}

var closingMarks = map[rune]bool{
	'”': true, '’': true, ')': true, '）': true, ']': true, '】': true,
	'》': true, '」': true, '』': true, '"': true, '\'': true,
}

// headingMarkerRe matches heading-like markers such as "# 3 (5 sentences)"
// that segment editors insert between groups; they carry no spoken content.
var headingMarkerRe = regexp.MustCompile(`(?m)^#\s*\d+\s*(?:\([^)]*\))?\s*`)

var (
	horizontalSpaceRe = regexp.MustCompile(`[ \t\f\v]+`)
	spaceBeforeDelim  = regexp.MustCompile(`\s+([.!?;,。！？；，、])`)
)

// normalizeForSplit strips heading markers and newlines and collapses
// whitespace, including whitespace that would otherwise detach a delimiter
// from the text it terminates.
func normalizeForSplit(text string) string {
	clean := headingMarkerRe.ReplaceAllString(text, "")
	clean = strings.NewReplacer("\r\n", "", "\n", "", "\r", "").Replace(clean)
	clean = horizontalSpaceRe.ReplaceAllString(clean, " ")
	clean = spaceBeforeDelim.ReplaceAllString(clean, "$1")
	return strings.TrimSpace(clean)
}

// splitUnits walks the normalized text rune by rune and breaks after each
// delimiter, except when:
//   - the next rune is another delimiter (keeps "?!" and "……"-like runs whole)
//   - the next rune opens a quote or bracket (the quote belongs to what follows)
//   - the delimiter is "." flanked by digits ("3.14" is one token)
//   - the delimiter is "?" preceded by "?" (damaged-encoding runs)
//
// Closing quotes/brackets immediately after a break point attach to the
// sentence they close.
func splitUnits(text string, includeComma bool) []string {
	clean := normalizeForSplit(text)
	if clean == "" {
		return nil
	}

	isDelim := func(r rune) bool {
		return sentenceDelims[r] || (includeComma && commaDelims[r])
	}
	isDigit := func(r rune) bool { return r >= '0' && r <= '9' }

	runes := []rune(clean)
	var units []string
	var cur []rune

	flush := func() {
		if s := strings.TrimSpace(string(cur)); s != "" {
			units = append(units, s)
		}
		cur = cur[:0]
	}

	i := 0
	for i < len(runes) {
		r := runes[i]
		cur = append(cur, r)
		i++
		if !isDelim(r) {
			continue
		}
		if i >= len(runes) {
			continue // trailing delimiter; the tail flush picks it up
		}

		next := runes[i]
		var prev rune
		if len(cur) >= 2 {
			prev = cur[len(cur)-2]
		}

		if isDelim(next) || openingMarks[next] {
			continue
		}
		if r == '.' && isDigit(prev) && isDigit(next) {
			continue
		}
		if r == '?' && prev == '?' {
			continue
		}

		for i < len(runes) && closingMarks[runes[i]] {
			cur = append(cur, runes[i])
			i++
		}
		flush()
	}
	flush()

	if len(units) == 0 {
		return []string{clean}
	}
	return units
}

// splitSentencesV1 is the original splitter: terminal punctuation only, no
// comma breaks. Superseded by SplitSentences (v2) once comma-spliced run-on
// sentences proved too long for single captions; retained for comparison.
func splitSentencesV1(text string) []string {
	return splitUnits(text, false)
}

// SplitSentences is the canonical (v2) splitter: breaks on sentence
// terminators and on commas, subject to the shared non-split rules.
func SplitSentences(text string) []string {
	return splitUnits(text, true)
}

// GraphemeLen counts visual characters the way the caption stage does (an
// emoji counts once, not once per UTF-8 byte).
func GraphemeLen(s string) int {
	n := 0
	gr := uniseg.NewGraphemes(s)
	for gr.Next() {
		n++
	}
	return n
}
