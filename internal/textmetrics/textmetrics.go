// Package textmetrics computes readability and lexical statistics over
// generated text. Scores use the Flesch formulas with a vowel-group
// syllable heuristic; they are indicative, not linguistic truth.
package textmetrics

import (
	"regexp"
	"sort"
	"strings"
)

var (
	wordRe     = regexp.MustCompile(`[A-Za-z]+(?:'[A-Za-z]+)?`)
	sentenceRe = regexp.MustCompile(`[.!?]+\s+`)
	nonAlphaRe = regexp.MustCompile(`[^a-z]`)
)

// Report is the full set of statistics for one text.
type Report struct {
	Chars        int     `json:"chars"`
	Words        int     `json:"words"`
	Sentences    int     `json:"sentences"`
	UniqueWords  int     `json:"unique_words"`
	ReadingEase  float64 `json:"reading_ease"`
	GradeLevel   float64 `json:"grade_level"`
	AvgWordLen   float64 `json:"avg_word_len"`
	LexicalRatio float64 `json:"lexical_ratio"`
	TopBigrams   []Ngram `json:"top_bigrams,omitempty"`
	TopTrigrams  []Ngram `json:"top_trigrams,omitempty"`
}

// topNgramCount bounds the bigram/trigram lists kept on a report.
const topNgramCount = 10

// Ngram is a word n-gram and its occurrence count.
type Ngram struct {
	Text  string `json:"text"`
	Count int    `json:"count"`
}

// Words tokenizes text into lowercased words. Apostrophized forms
// ("don't") count as single words.
func Words(text string) []string {
	matches := wordRe.FindAllString(text, -1)
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, strings.ToLower(m))
	}
	return out
}

// Sentences splits text on terminal punctuation followed by whitespace.
func Sentences(text string) []string {
	parts := sentenceRe.Split(text, -1)
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Syllables estimates the syllable count of a word by counting
// contiguous vowel groups, dropping a trailing silent 'e'. Every
// non-empty word counts at least one syllable.
func Syllables(word string) int {
	w := nonAlphaRe.ReplaceAllString(strings.ToLower(word), "")
	if w == "" {
		return 0
	}
	count := 0
	prevVowel := false
	for _, ch := range w {
		vowel := strings.ContainsRune("aeiouy", ch)
		if vowel && !prevVowel {
			count++
		}
		prevVowel = vowel
	}
	if strings.HasSuffix(w, "e") && count > 1 {
		count--
	}
	if count < 1 {
		count = 1
	}
	return count
}

// ReadingEase computes the Flesch reading-ease score:
// 206.835 - 1.015*(words/sentences) - 84.6*(syllables/words).
// Empty text scores 0.
func ReadingEase(text string) float64 {
	words := Words(text)
	sents := Sentences(text)
	if len(words) == 0 || len(sents) == 0 {
		return 0
	}
	syl := 0
	for _, w := range words {
		syl += Syllables(w)
	}
	return 206.835 - 1.015*ratio(len(words), len(sents)) - 84.6*ratio(syl, len(words))
}

// GradeLevel computes the Flesch-Kincaid grade level:
// 0.39*(words/sentences) + 11.8*(syllables/words) - 15.59.
func GradeLevel(text string) float64 {
	words := Words(text)
	sents := Sentences(text)
	if len(words) == 0 || len(sents) == 0 {
		return 0
	}
	syl := 0
	for _, w := range words {
		syl += Syllables(w)
	}
	return 0.39*ratio(len(words), len(sents)) + 11.8*ratio(syl, len(words)) - 15.59
}

func ratio(a, b int) float64 {
	if b < 1 {
		b = 1
	}
	return float64(a) / float64(b)
}

// Analyze computes the full report for a text.
func Analyze(text string) Report {
	words := Words(text)
	sents := Sentences(text)

	unique := make(map[string]struct{}, len(words))
	totalLen := 0
	for _, w := range words {
		unique[w] = struct{}{}
		totalLen += len(w)
	}

	r := Report{
		Chars:       len(text),
		Words:       len(words),
		Sentences:   len(sents),
		UniqueWords: len(unique),
		ReadingEase: ReadingEase(text),
		GradeLevel:  GradeLevel(text),
		TopBigrams:  TopNgrams(text, 2, topNgramCount),
		TopTrigrams: TopNgrams(text, 3, topNgramCount),
	}
	if len(words) > 0 {
		r.AvgWordLen = float64(totalLen) / float64(len(words))
		r.LexicalRatio = float64(len(unique)) / float64(len(words))
	}
	return r
}

// TopNgrams returns the topK most frequent word n-grams, most frequent
// first; ties break alphabetically for stable output.
func TopNgrams(text string, n, topK int) []Ngram {
	words := Words(text)
	if n < 1 || topK < 1 || len(words) < n {
		return nil
	}
	counts := make(map[string]int)
	for i := 0; i+n <= len(words); i++ {
		counts[strings.Join(words[i:i+n], " ")]++
	}
	out := make([]Ngram, 0, len(counts))
	for g, c := range counts {
		out = append(out, Ngram{Text: g, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Text < out[j].Text
	})
	if len(out) > topK {
		out = out[:topK]
	}
	return out
}
