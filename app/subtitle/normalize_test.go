package subtitle

import (
	"strings"
	"testing"
)

func word(begin, end int64, text, punct string) FunASRWord {
	return FunASRWord{BeginTime: begin, EndTime: end, Text: text, Punctuation: punct}
}

func sentenceFromWords(id int, words ...FunASRWord) FunASRSentence {
	var b strings.Builder
	for _, w := range words {
		b.WriteString(w.Text)
		b.WriteString(w.Punctuation)
	}
	return FunASRSentence{
		BeginTime:  words[0].BeginTime,
		EndTime:    words[len(words)-1].EndTime,
		Text:       b.String(),
		SentenceID: id,
		Words:      words,
	}
}

func resultOf(sentences ...FunASRSentence) *FunASRResult {
	return &FunASRResult{
		Transcripts: []FunASRTranscript{{ChannelID: 0, Sentences: sentences}},
	}
}

// TestNormalizeMergesDottedAbbreviation verifies that an abbreviation split
// across two sentences ("N." + "G.") is merged back into one cue.
func TestNormalizeMergesDottedAbbreviation(t *testing.T) {
	first := sentenceFromWords(1, word(0, 500, "N", "."))
	second := sentenceFromWords(2, word(700, 1200, "G", "."))

	got, err := Normalize(resultOf(first, second), 0, DefaultMaxChars)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}

	if len(got.Sentences) != 1 {
		t.Fatalf("sentences = %d, want 1 merged", len(got.Sentences))
	}
	s := got.Sentences[0]
	if s.Text != "N.G." {
		t.Fatalf("text = %q, want %q", s.Text, "N.G.")
	}
	if s.BeginTime != 0 || s.EndTime != 1200 {
		t.Fatalf("span = [%d, %d], want [0, 1200]", s.BeginTime, s.EndTime)
	}
}

// TestNormalizeKeepsDistantSentences: a gap above 500ms must not merge.
func TestNormalizeKeepsDistantSentences(t *testing.T) {
	first := sentenceFromWords(1, word(0, 500, "N", "."))
	second := sentenceFromWords(2, word(1200, 1700, "G", "."))

	got, err := Normalize(resultOf(first, second), 0, DefaultMaxChars)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if len(got.Sentences) != 2 {
		t.Fatalf("sentences = %d, want 2 unmerged", len(got.Sentences))
	}
}

// TestNormalizeDoesNotMergeJapaneseDot: a Japanese sentence ending with "."
// is not an abbreviation and stays separate.
func TestNormalizeDoesNotMergeJapaneseDot(t *testing.T) {
	first := sentenceFromWords(1, word(0, 500, "こんにちは", "."))
	second := sentenceFromWords(2, word(600, 1100, "Go", "."))

	got, err := Normalize(resultOf(first, second), 0, DefaultMaxChars)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if len(got.Sentences) != 2 {
		t.Fatalf("sentences = %d, want 2", len(got.Sentences))
	}
}

// TestNormalizeSplitsOnPunctuation: a sentence over the limit is split at
// punctuation boundaries before reaching the limit.
func TestNormalizeSplitsOnPunctuation(t *testing.T) {
	// 两个 30 字符的分句，以 "、" 相连，总长超过 40
	long1 := strings.Repeat("あ", 30)
	long2 := strings.Repeat("い", 30)
	s := sentenceFromWords(1,
		word(0, 3000, long1, "、"),
		word(3000, 6000, long2, "。"),
	)

	got, err := Normalize(resultOf(s), 0, DefaultMaxChars)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}

	if len(got.Sentences) != 2 {
		t.Fatalf("sentences = %d, want 2 segments", len(got.Sentences))
	}
	if got.Sentences[0].Text != long1+"、" {
		t.Fatalf("first segment = %q, want split after 、", got.Sentences[0].Text)
	}
	if got.Sentences[0].EndTime != 3000 || got.Sentences[1].BeginTime != 3000 {
		t.Fatalf("segment times not aligned to word boundaries: %+v", got.Sentences)
	}
}

// TestNormalizeSplitsByLengthWithoutPunctuation: with no usable punctuation
// the sentence is split into balanced word-boundary segments.
func TestNormalizeSplitsByLengthWithoutPunctuation(t *testing.T) {
	var words []FunASRWord
	for i := 0; i < 10; i++ {
		begin := int64(i) * 500
		words = append(words, word(begin, begin+500, strings.Repeat("あ", 6), ""))
	}
	s := sentenceFromWords(1, words...) // 60 字符，无标点

	got, err := Normalize(resultOf(s), 0, DefaultMaxChars)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}

	if len(got.Sentences) < 2 {
		t.Fatalf("sentences = %d, want balanced split", len(got.Sentences))
	}
	var total string
	for _, seg := range got.Sentences {
		if l := len([]rune(seg.Text)); l > DefaultMaxChars {
			t.Fatalf("segment length %d exceeds %d", l, DefaultMaxChars)
		}
		total += seg.Text
	}
	if total != strings.Repeat("あ", 60) {
		t.Fatalf("split lost characters: %d runes", len([]rune(total)))
	}
}

// TestNormalizeShortSentencePassthrough: short sentences come through intact.
func TestNormalizeShortSentencePassthrough(t *testing.T) {
	s := sentenceFromWords(1, word(100, 900, "こんにちは", ""))

	got, err := Normalize(resultOf(s), 0, DefaultMaxChars)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if len(got.Sentences) != 1 || got.Sentences[0].Text != "こんにちは" {
		t.Fatalf("unexpected result: %+v", got.Sentences)
	}
}

// TestNormalizeMissingChannel reports an error for an absent channel id.
func TestNormalizeMissingChannel(t *testing.T) {
	if _, err := Normalize(resultOf(), 3, DefaultMaxChars); err == nil {
		t.Fatal("expected error for missing channel")
	}
}
