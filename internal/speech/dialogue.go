// Package speech turns a segment's text into one or more narrated audio
// pieces: narration in the narrator's voice, dialogue in rotating
// character voices, synthesized via internal/llmclient and concatenated
// with internal/encoder. Quote-block parsing is pure and network-free.
package speech

import (
	"strings"
)

// Piece is one span of text to be spoken in a single voice.
type Piece struct {
	Text  string
	Voice string // "" means "use the narrator voice"
}

// quotePairs are the opening/closing quote characters recognized as
// dialogue delimiters: ASCII straight quotes and CJK curly quotes.
var quotePairs = []struct{ open, close rune }{
	{'"', '"'},
	{'“', '”'}, // “ ”
}

// ParseDialogue splits text into narration and dialogue pieces by walking
// paired quote delimiters, then assigns each dialogue piece a voice by
// rotating through voices (non-narrator character voices) by its dialogue
// index modulo the voice count. Adjacent pieces that end up with the same
// voice are merged. Returns a single narration piece if no quoted dialogue
// is found or no voices are available to rotate through.
func ParseDialogue(text string, voices []string) []Piece {
	if len(voices) == 0 {
		return []Piece{{Text: text}}
	}

	raw := splitQuoted(text)
	pieces := make([]Piece, 0, len(raw))
	dialogIndex := 0
	for _, seg := range raw {
		trimmed := strings.TrimSpace(seg.text)
		if trimmed == "" {
			continue
		}
		if seg.isDialogue {
			voice := voices[dialogIndex%len(voices)]
			dialogIndex++
			pieces = append(pieces, Piece{Text: trimmed, Voice: voice})
		} else {
			pieces = append(pieces, Piece{Text: trimmed, Voice: ""})
		}
	}

	return mergeAdjacent(pieces)
}

type rawSegment struct {
	text       string
	isDialogue bool
}

// splitQuoted walks text char-by-char, splitting at quote boundaries so
// each returned segment is either narration or one quoted dialogue block
// (with the quote marks themselves stripped).
func splitQuoted(text string) []rawSegment {
	var segments []rawSegment
	var buf strings.Builder
	runes := []rune(text)
	i := 0
	for i < len(runes) {
		r := runes[i]
		openedAt := matchOpen(r)
		if openedAt >= 0 {
			if buf.Len() > 0 {
				segments = append(segments, rawSegment{text: buf.String()})
				buf.Reset()
			}
			closeRune := quotePairs[openedAt].close
			j := i + 1
			var inner strings.Builder
			for j < len(runes) && runes[j] != closeRune {
				inner.WriteRune(runes[j])
				j++
			}
			segments = append(segments, rawSegment{text: inner.String(), isDialogue: true})
			if j < len(runes) {
				j++ // consume closing quote
			}
			i = j
			continue
		}
		buf.WriteRune(r)
		i++
	}
	if buf.Len() > 0 {
		segments = append(segments, rawSegment{text: buf.String()})
	}
	return segments
}

func matchOpen(r rune) int {
	for idx, p := range quotePairs {
		if p.open == r {
			return idx
		}
	}
	return -1
}

// mergeAdjacent combines consecutive pieces that share a voice, so a
// narration sentence split across an aside doesn't produce extra TTS
// calls and extra concat-demuxer joins.
func mergeAdjacent(pieces []Piece) []Piece {
	if len(pieces) == 0 {
		return pieces
	}
	merged := []Piece{pieces[0]}
	for _, p := range pieces[1:] {
		last := &merged[len(merged)-1]
		if last.Voice == p.Voice {
			last.Text = last.Text + " " + p.Text
		} else {
			merged = append(merged, p)
		}
	}
	return merged
}
