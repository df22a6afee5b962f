package similarity

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// saturation is the share of a category's keywords that scores it 1.0.
const saturation = 0.4

// Score is the similarity of one document to Model.
type Score struct {
	// Overall is the weighted category sum in [0, 1], rounded to 3 decimals.
	Overall float64

	// Breakdown maps every category name to its score in [0, 1], rounded to 2 decimals.
	Breakdown map[string]float64

	// MatchedKeywords lists matched keywords in model order.
	MatchedKeywords []string

	// AutoTags lists the tag of every category with at least one hit.
	AutoTags []string
}

// ScoreDocument scores doc against Model. It is pure: the same document
// always yields the same score.
func ScoreDocument(doc map[string]any) Score {
	var b strings.Builder
	flatten(&b, doc)
	blob := strings.ToLower(b.String())

	s := Score{
		Breakdown:       make(map[string]float64, len(Model)),
		MatchedKeywords: []string{},
		AutoTags:        []string{},
	}

	var overall float64
	for i, c := range Model {
		hits := 0
		for _, kw := range patterns[i] {
			if kw.re.MatchString(blob) {
				hits++
				s.MatchedKeywords = append(s.MatchedKeywords, kw.keyword)
			}
		}

		threshold := math.Max(float64(len(c.Keywords))*saturation, 1)
		score := round(math.Min(float64(hits)/threshold, 1), 2)
		s.Breakdown[c.Name] = score
		overall += c.Weight * score

		if hits > 0 {
			s.AutoTags = append(s.AutoTags, c.Tag)
		}
	}

	s.Overall = round(math.Min(math.Max(overall, 0), 1), 3)
	return s
}

// flatten writes every key and scalar of v to b, space separated. Map keys
// are visited in sorted order.
func flatten(b *strings.Builder, v any) {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			b.WriteString(k)
			b.WriteByte(' ')
			flatten(b, t[k])
		}
	case []any:
		for _, e := range t {
			flatten(b, e)
		}
	case []string:
		for _, e := range t {
			b.WriteString(e)
			b.WriteByte(' ')
		}
	case string:
		b.WriteString(t)
		b.WriteByte(' ')
	case float64:
		b.WriteString(strconv.FormatFloat(t, 'f', -1, 64))
		b.WriteByte(' ')
	case nil:
	default:
		fmt.Fprintf(b, "%v ", t)
	}
}

func round(x float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(x*p) / p
}
