package textmetrics

import (
	"math"
	"testing"
)

func TestWords(t *testing.T) {
	t.Parallel()

	got := Words("Don't stop; the Engine runs twice. Engine!")
	want := []string{"don't", "stop", "the", "engine", "runs", "twice", "engine"}
	if len(got) != len(want) {
		t.Fatalf("got %d words %v, want %d", len(got), got, len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("word[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestSentences(t *testing.T) {
	t.Parallel()

	got := Sentences("First sentence. Second one! Third?  ")
	if len(got) != 3 {
		t.Fatalf("got %d sentences %v, want 3", len(got), got)
	}
}

func TestSyllables(t *testing.T) {
	t.Parallel()

	cases := []struct {
		word string
		want int
	}{
		{"", 0},
		{"a", 1},
		{"cat", 1},
		{"table", 1}, // vowel groups 'a','e'; trailing silent e dropped
		{"beautiful", 3},
		{"queue", 1},
		{"rhythm", 1},
	}
	for _, tc := range cases {
		if got := Syllables(tc.word); got != tc.want {
			t.Errorf("Syllables(%q) = %d, want %d", tc.word, got, tc.want)
		}
	}
}

func TestReadingEase_Empty(t *testing.T) {
	t.Parallel()

	if got := ReadingEase(""); got != 0 {
		t.Fatalf("ReadingEase(\"\") = %v, want 0", got)
	}
	if got := GradeLevel("   "); got != 0 {
		t.Fatalf("GradeLevel(blank) = %v, want 0", got)
	}
}

func TestReadingEase_KnownText(t *testing.T) {
	t.Parallel()

	// One sentence, four one-syllable words:
	// 206.835 - 1.015*4 - 84.6*1 = 118.175
	got := ReadingEase("the cat sat down. ")
	if math.Abs(got-118.175) > 0.001 {
		t.Fatalf("ReadingEase = %v, want 118.175", got)
	}
}

func TestAnalyze(t *testing.T) {
	t.Parallel()

	text := "The engine runs. The engine plans. "
	r := Analyze(text)
	if r.Words != 6 || r.Sentences != 2 {
		t.Fatalf("words=%d sentences=%d, want 6 and 2", r.Words, r.Sentences)
	}
	if r.UniqueWords != 4 {
		t.Fatalf("unique=%d, want 4", r.UniqueWords)
	}
	if math.Abs(r.LexicalRatio-4.0/6.0) > 1e-9 {
		t.Fatalf("lexical ratio = %v", r.LexicalRatio)
	}
	if r.Chars != len(text) {
		t.Fatalf("chars = %d, want %d", r.Chars, len(text))
	}

	// "the engine" appears twice and leads the bigram list.
	if len(r.TopBigrams) == 0 || r.TopBigrams[0].Text != "the engine" || r.TopBigrams[0].Count != 2 {
		t.Fatalf("top bigrams = %+v", r.TopBigrams)
	}
	if len(r.TopTrigrams) == 0 {
		t.Fatalf("top trigrams missing: %+v", r.TopTrigrams)
	}
}

func TestTopNgrams(t *testing.T) {
	t.Parallel()

	text := "plan the work. work the plan. work the plan again."
	got := TopNgrams(text, 2, 2)
	if len(got) != 2 {
		t.Fatalf("got %d ngrams, want 2", len(got))
	}
	if got[0].Text != "the plan" || got[0].Count != 2 {
		t.Fatalf("top bigram = %+v", got[0])
	}

	if g := TopNgrams("one", 2, 5); g != nil {
		t.Fatalf("short text should yield nil, got %v", g)
	}
}
