package scheduler

import (
	"strings"

	"github.com/greatstories/videocore/internal/models"
)

// speakerVerbs are attribution verbs whose adjacency to a name is a strong
// signal that name speaks the surrounding dialogue.
var speakerVerbs = []string{"说", "道", "喊", "问", "答", "笑道", "叫道", "喝道", "說", "問"}

// firstPersonMarkers flag narration written from a story-self's point of
// view.
var firstPersonMarkers = []string{"我", "I ", "I'"}

// carryOverBonus nudges the previous segment's speaker when the current
// segment is mostly dialogue and carries no name of its own.
const carryOverBonus = 1.5

// pickDefaultCharacterIndex chooses the default speaking character for a
// segment, in priority order: explicit name + speaker-verb adjacency (or a
// "Name:" prefix), first-person self narration, direct name mentions
// (position then importance as tiebreak), carry-over from the previous
// pick when the segment is dialogue-heavy, then a weighted score over the
// current and adjacent segments. Returns -1 when there is no cast.
func pickDefaultCharacterIndex(segment models.Segment, adjacent []models.Segment, characters []models.Character, previous *models.Character) int {
	if len(characters) == 0 {
		return -1
	}

	if idx := bySpeakerVerb(segment.Text, characters); idx >= 0 {
		return idx
	}
	if idx := byFirstPersonSelf(segment.Text, characters); idx >= 0 {
		return idx
	}
	if idx := byDirectMention(segment.Text, characters); idx >= 0 {
		return idx
	}
	if previous != nil && isDialogueHeavy(segment.Text) {
		for i := range characters {
			if characters[i].Name == previous.Name {
				return i
			}
		}
	}
	return byWeightedMentions(segment, adjacent, characters, previous)
}

// bySpeakerVerb looks for "<name><verb>" adjacency or an explicit
// "<name>:" dialogue prefix.
func bySpeakerVerb(text string, characters []models.Character) int {
	for i := range characters {
		name := characters[i].Name
		if name == "" {
			continue
		}
		if strings.Contains(text, name+":") || strings.Contains(text, name+"：") {
			return i
		}
		idx := strings.Index(text, name)
		for idx >= 0 {
			tail := text[idx+len(name):]
			for _, verb := range speakerVerbs {
				if strings.HasPrefix(tail, verb) {
					return i
				}
			}
			next := strings.Index(tail, name)
			if next < 0 {
				break
			}
			idx += len(name) + next
		}
	}
	return -1
}

// byFirstPersonSelf returns the story-self character when the narration
// outside quotes carries first-person markers.
func byFirstPersonSelf(text string, characters []models.Character) int {
	narration := stripQuotedBlocks(text)
	hasFirstPerson := false
	for _, marker := range firstPersonMarkers {
		if strings.Contains(narration, marker) {
			hasFirstPerson = true
			break
		}
	}
	if !hasFirstPerson {
		return -1
	}
	for i := range characters {
		if characters[i].IsStorySelf {
			return i
		}
	}
	return -1
}

// stripQuotedBlocks removes paired-quote dialogue so first-person markers
// inside speech don't masquerade as narrative voice.
func stripQuotedBlocks(text string) string {
	var b strings.Builder
	depth := 0
	for _, r := range text {
		switch r {
		case '“':
			depth++
			continue
		case '”':
			if depth > 0 {
				depth--
			}
			continue
		case '"':
			if depth > 0 {
				depth--
			} else {
				depth++
			}
			continue
		}
		if depth == 0 {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// byDirectMention picks the character mentioned in the current segment,
// tiebreaking by earliest position then importance.
func byDirectMention(text string, characters []models.Character) int {
	best := -1
	bestPos := len(text) + 1
	bestImportance := -1
	for i := range characters {
		name := characters[i].Name
		if name == "" {
			continue
		}
		pos := strings.Index(text, name)
		if pos < 0 {
			continue
		}
		if pos < bestPos || (pos == bestPos && characters[i].Importance > bestImportance) {
			best = i
			bestPos = pos
			bestImportance = characters[i].Importance
		}
	}
	return best
}

func isDialogueHeavy(text string) bool {
	quoteChars := 0
	for _, r := range text {
		if r == '"' || r == '“' || r == '”' {
			quoteChars++
		}
	}
	return quoteChars >= 2 && float64(quoteChars) > float64(len([]rune(text)))*0.02
}

// byWeightedMentions scores each character by name frequency across the
// current segment (weighted higher) plus its adjacent segments, mixed with
// importance and a small carry-over bonus for dialogue-heavy segments.
func byWeightedMentions(segment models.Segment, adjacent []models.Segment, characters []models.Character, previous *models.Character) int {
	best := -1
	bestScore := -1.0
	dialogueHeavy := isDialogueHeavy(segment.Text)

	for i := range characters {
		name := characters[i].Name
		if name == "" {
			continue
		}
		score := float64(strings.Count(segment.Text, name)) * 2.0
		for _, adj := range adjacent {
			score += float64(strings.Count(adj.Text, name)) * 0.5
		}
		score += float64(characters[i].Importance) * 0.1
		if dialogueHeavy && previous != nil && previous.Name == name {
			score += carryOverBonus
		}
		if score > bestScore {
			bestScore = score
			best = i
		}
	}

	if best < 0 || bestScore <= 0 {
		return mainOrFirst(characters)
	}
	return best
}

func mainOrFirst(characters []models.Character) int {
	for i := range characters {
		if characters[i].IsMainCharacter {
			return i
		}
	}
	if len(characters) > 0 {
		return 0
	}
	return -1
}

// relatedIndexes returns up to limit candidate indexes other than primary,
// ordered by importance, for the reference-image bundle.
func relatedIndexes(primary int, characters []models.Character, limit int) []int {
	var related []int
	for i := range characters {
		if i != primary {
			related = append(related, i)
		}
	}
	for i := 0; i < len(related); i++ {
		for j := i + 1; j < len(related); j++ {
			if characters[related[j]].Importance > characters[related[i]].Importance {
				related[i], related[j] = related[j], related[i]
			}
		}
	}
	if len(related) > limit {
		related = related[:limit]
	}
	return related
}
