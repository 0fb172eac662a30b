package memory

import "strings"

// DefaultRepetitionThreshold is the overlap ratio above which a reply counts as repeated
const DefaultRepetitionThreshold = 0.6

// SimilarityDetector flags replies that mostly reuse the words of a recent reply
type SimilarityDetector struct {
	threshold float64
}

func NewSimilarityDetector(threshold float64) *SimilarityDetector {
	if threshold <= 0 {
		threshold = DefaultRepetitionThreshold
	}
	return &SimilarityDetector{threshold: threshold}
}

// IsRepetitive reports whether candidate overlaps any of recent by more than the
// threshold, returning the first such text in input order.
func (d *SimilarityDetector) IsRepetitive(candidate string, recent []string) (bool, string) {
	candidateWords := wordCounts(candidate)
	for _, text := range recent {
		if overlap(candidateWords, wordCounts(text)) > d.threshold {
			return true, text
		}
	}
	return false, ""
}

// IsRepetitive checks candidate against recent with the default threshold
func IsRepetitive(candidate string, recent []string) (bool, string) {
	return NewSimilarityDetector(DefaultRepetitionThreshold).IsRepetitive(candidate, recent)
}

// OverlapRatio is the shared word multiset size over the longer text's word count
func OverlapRatio(a, b string) float64 {
	return overlap(wordCounts(a), wordCounts(b))
}

type bagOfWords struct {
	counts map[string]int
	total  int
}

func wordCounts(text string) bagOfWords {
	words := strings.Fields(strings.ToLower(text))
	counts := make(map[string]int, len(words))
	for _, w := range words {
		counts[w]++
	}
	return bagOfWords{counts: counts, total: len(words)}
}

func overlap(a, b bagOfWords) float64 {
	longest := a.total
	if b.total > longest {
		longest = b.total
	}
	if longest == 0 || a.total == 0 || b.total == 0 {
		return 0
	}

	shared := 0
	for word, n := range a.counts {
		if m := b.counts[word]; m > 0 {
			if m < n {
				n = m
			}
			shared += n
		}
	}
	return float64(shared) / float64(longest)
}
