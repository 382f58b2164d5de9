package audit

import (
	"strings"
	"unicode"

	"github.com/dgallion1/examgest/internal/exam"
)

// Similarity is the Jaccard overlap of the two candidates' normalized
// token sets, stem and option texts combined. 1.0 means identical token
// sets; symbols, case and punctuation do not count.
func Similarity(a, b *exam.QuestionCandidate) float64 {
	ta, tb := tokenSet(a), tokenSet(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}

	inter := 0
	for t := range ta {
		if _, ok := tb[t]; ok {
			inter++
		}
	}
	union := len(ta) + len(tb) - inter
	return float64(inter) / float64(union)
}

func tokenSet(c *exam.QuestionCandidate) map[string]struct{} {
	var sb strings.Builder
	sb.WriteString(c.Text)
	for _, o := range c.Options {
		sb.WriteByte(' ')
		sb.WriteString(o.Text)
	}

	set := make(map[string]struct{})
	fields := strings.FieldsFunc(strings.ToLower(sb.String()), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}
