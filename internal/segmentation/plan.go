package segmentation

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/greatstories/videocore/internal/models"
)

const (
	defaultFixedSize       = 120
	smartFallbackGroupSize = 5
	minFixedSize           = 20
)

// SmartSegmenter is the LLM boundary the "smart" method delegates to. It
// returns the segment texts or an error; on error the planner falls back to
// deterministic grouping.
type SmartSegmenter interface {
	SegmentSmart(ctx context.Context, text, modelID string) ([]string, error)
}

// Plan is the resolved segmentation for one job.
type Plan struct {
	Segments         []models.Segment
	TotalSentences   int
	RequestSignature string
}

// RequestSignature hashes the inputs that affect segmentation output. The
// hash is SHA-256 over a JSON object with sorted keys and no spaces, so the
// same logical request always yields the same signature regardless of how
// the request was assembled.
func RequestSignature(text, method string, sentencesPerSegment, fixedSize int, modelID string) string {
	if method == "" {
		method = models.SegmentMethodSentence
	}
	if sentencesPerSegment < 1 {
		sentencesPerSegment = 1
	}
	if fixedSize == 0 {
		fixedSize = defaultFixedSize
	}
	if fixedSize < minFixedSize {
		fixedSize = minFixedSize
	}

	var b strings.Builder
	b.WriteString(`{"fixed_size":`)
	b.WriteString(strconv.Itoa(fixedSize))
	b.WriteString(`,"method":`)
	writeJSONString(&b, method)
	b.WriteString(`,"model_id":`)
	writeJSONString(&b, strings.TrimSpace(modelID))
	b.WriteString(`,"sentences_per_segment":`)
	b.WriteString(strconv.Itoa(sentencesPerSegment))
	b.WriteString(`,"text":`)
	writeJSONString(&b, strings.TrimSpace(text))
	b.WriteByte('}')

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// writeJSONString appends s as a JSON string without HTML escaping, keeping
// the signature stable across encoders that disagree about &, <, >.
func writeJSONString(b *strings.Builder, s string) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(s)
	b.WriteString(strings.TrimSuffix(buf.String(), "\n"))
}

// ResolvePrecomputed returns the client-precomputed segments verbatim
// (trimmed, empties dropped) if and only if the provided signature equals
// the freshly recomputed one; otherwise nil, meaning the planner must split
// from scratch.
func ResolvePrecomputed(payload *models.JobPayload) []string {
	provided := strings.TrimSpace(payload.RequestSignature)
	if provided == "" {
		return nil
	}
	expected := RequestSignature(payload.Text, payload.SegmentationMethod,
		payload.SentencesPerSegment, payload.FixedSize, payload.ModelID)
	if provided != expected {
		return nil
	}

	var cleaned []string
	for _, s := range payload.PrecomputedSegments {
		if t := strings.TrimSpace(s); t != "" {
			cleaned = append(cleaned, t)
		}
	}
	return cleaned
}

// BuildPlan computes the segment list for a payload: precomputed reuse
// first, then the selected method. Only the smart method touches the LLM.
func BuildPlan(ctx context.Context, payload *models.JobPayload, smart SmartSegmenter) Plan {
	method := payload.SegmentationMethod
	if method != models.SegmentMethodSentence && method != models.SegmentMethodFixed && method != models.SegmentMethodSmart {
		method = models.SegmentMethodSentence
	}
	signature := RequestSignature(payload.Text, method,
		payload.SentencesPerSegment, payload.FixedSize, payload.ModelID)

	if pre := ResolvePrecomputed(payload); len(pre) > 0 {
		return Plan{Segments: toSegments(pre), RequestSignature: signature}
	}

	switch method {
	case models.SegmentMethodFixed:
		return Plan{Segments: toSegments(GroupByFixedSize(payload.Text, payload.FixedSize)), RequestSignature: signature}
	case models.SegmentMethodSmart:
		if smart != nil {
			if texts, err := smart.SegmentSmart(ctx, payload.Text, payload.ModelID); err == nil && len(texts) > 0 {
				return Plan{Segments: toSegments(texts), RequestSignature: signature}
			}
		}
		sentences := SplitSentences(payload.Text)
		return Plan{
			Segments:         toSegments(GroupSentences(sentences, smartFallbackGroupSize)),
			TotalSentences:   len(sentences),
			RequestSignature: signature,
		}
	default:
		sentences := SplitSentences(payload.Text)
		return Plan{
			Segments:         toSegments(GroupSentences(sentences, payload.SentencesPerSegment)),
			TotalSentences:   len(sentences),
			RequestSignature: signature,
		}
	}
}

func toSegments(texts []string) []models.Segment {
	segments := make([]models.Segment, len(texts))
	for i, text := range texts {
		segments[i] = models.Segment{
			Index:         i,
			Text:          text,
			SentenceCount: len(SplitSentences(text)),
		}
	}
	return segments
}

// GroupSentences packs sentences into runs of size each, concatenated
// without separators (the splitter keeps terminal punctuation attached, so
// joining is lossless for CJK prose).
func GroupSentences(sentences []string, size int) []string {
	if size < 1 {
		size = 1
	}
	var groups []string
	var buf strings.Builder
	count := 0
	for _, sentence := range sentences {
		buf.WriteString(sentence)
		count++
		if count == size {
			groups = append(groups, buf.String())
			buf.Reset()
			count = 0
		}
	}
	if buf.Len() > 0 {
		groups = append(groups, buf.String())
	}
	return groups
}

// GroupByFixedSize slices the normalized text every fixedSize code points,
// ignoring sentence boundaries entirely.
func GroupByFixedSize(text string, fixedSize int) []string {
	if fixedSize == 0 {
		fixedSize = defaultFixedSize
	}
	if fixedSize < minFixedSize {
		fixedSize = minFixedSize
	}
	clean := normalizeForSplit(text)
	if clean == "" {
		return nil
	}
	runes := []rune(clean)
	var out []string
	for i := 0; i < len(runes); i += fixedSize {
		end := i + fixedSize
		if end > len(runes) {
			end = len(runes)
		}
		out = append(out, string(runes[i:end]))
	}
	return out
}

var (
	rangeTokenRe  = regexp.MustCompile(`^(\d+)\s*-\s*(\d+)$`)
	singleIntRe   = regexp.MustCompile(`^-?\d+$`)
	plainNumberRe = regexp.MustCompile(`^\d+$`)
)

// rangeSpecNormalizer maps the Chinese punctuation and connective forms a
// range spec may arrive in onto the ASCII forms the parser understands.
var rangeSpecNormalizer = strings.NewReplacer(
	"，", ",", "；", ",", ";", ",",
	"～", "-", "~", "-", "—", "-", "–", "-", "到", "-",
)

// SelectByRange filters segments by a 1-based range spec like "2,4-6,9".
// A lone number N means "the first N segments". Reversed ranges are
// accepted; upper bounds past the end are clipped; a range starting past
// the end is skipped. An empty spec selects everything.
func SelectByRange(segments []models.Segment, rangeSpec string) ([]models.Segment, error) {
	raw := strings.TrimSpace(rangeSpec)
	if raw == "" {
		return segments, nil
	}

	normalized := rangeSpecNormalizer.Replace(raw)
	var parts []string
	for _, part := range strings.Split(normalized, ",") {
		if p := strings.TrimSpace(part); p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) == 0 {
		return segments, nil
	}

	total := len(segments)
	singleTokenMode := len(parts) == 1

	var selected []models.Segment
	seen := make(map[int]bool)

	for _, part := range parts {
		var start, end int
		switch {
		case singleTokenMode && singleIntRe.MatchString(part):
			value, _ := strconv.Atoi(part)
			if value <= 0 {
				return segments, nil
			}
			start, end = 1, value
		case plainNumberRe.MatchString(part):
			n, _ := strconv.Atoi(part)
			start, end = n, n
		default:
			m := rangeTokenRe.FindStringSubmatch(part)
			if m == nil {
				return nil, fmt.Errorf("invalid segment range token: %s", part)
			}
			start, _ = strconv.Atoi(m[1])
			end, _ = strconv.Atoi(m[2])
		}

		if start <= 0 || end <= 0 {
			return nil, fmt.Errorf("segment range is 1-based; values must be >= 1")
		}

		lo, hi := start, end
		if hi < lo {
			lo, hi = hi, lo
		}
		if lo > total {
			continue
		}
		for n := lo; n <= hi && n <= total; n++ {
			if seen[n] {
				continue
			}
			seen[n] = true
			selected = append(selected, segments[n-1])
		}
	}

	return selected, nil
}
