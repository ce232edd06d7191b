package classifier

import (
	"regexp"
	"strings"
)

// NumericKeywords is the aggregation/ranking/comparison vocabulary.
var NumericKeywords = []string{
	"sum", "average", "avg", "total", "count", "number of", "how many",
	"highest", "lowest", "top", "bottom", "rank", "ranking", "ranked",
	"most", "least", "best rated", "worst rated", "compare",
	"more than", "less than", "greater than", "at least", "at most",
	"median", "maximum", "minimum", "gross", "votes", "meta score",
	"metascore", "per",
}

// SemanticKeywords is the similarity/vibe/thematic vocabulary.
var SemanticKeywords = []string{
	"similar", "like", "vibe", "vibes", "feel", "feels", "feeling",
	"mood", "theme", "themes", "thematic", "atmosphere", "reminds",
	"recommend", "suggest", "plot", "story", "about", "explain",
	"describe", "tone",
}

// keywordSet matches keywords case-insensitively on word boundaries, so
// "like" does not match "likely".
type keywordSet struct {
	words    []string
	patterns []*regexp.Regexp
}

func newKeywordSet(words []string) *keywordSet {
	ks := &keywordSet{words: words, patterns: make([]*regexp.Regexp, len(words))}
	for i, w := range words {
		ks.patterns[i] = regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(strings.ToLower(w)) + `\b`)
	}
	return ks
}

// Matches returns the keywords found in text, in list order.
func (ks *keywordSet) Matches(text string) []string {
	var hits []string
	for i, p := range ks.patterns {
		if p.MatchString(text) {
			hits = append(hits, ks.words[i])
		}
	}
	return hits
}

var (
	numericSet  = newKeywordSet(NumericKeywords)
	semanticSet = newKeywordSet(SemanticKeywords)
)

// IsNumericTask reports whether text contains any numeric keyword.
func IsNumericTask(text string) bool {
	return len(numericSet.Matches(text)) > 0
}

// IsSemanticTask reports whether text contains any semantic keyword.
func IsSemanticTask(text string) bool {
	return len(semanticSet.Matches(text)) > 0
}
