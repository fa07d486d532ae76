package subtitle

import (
	"fmt"
	"strings"
)

// DefaultMaxChars 日文字幕惯例：单行 40 字符
const DefaultMaxChars = 40

// maxMergeGapMs 相邻句之间被视为连续的最大时间间隔（毫秒）
const maxMergeGapMs = 500

// splitPunctuation 可作为断句点的标点
var splitPunctuation = map[string]bool{
	"、": true, "。": true, "！": true, "？": true,
	"!": true, "?": true, "，": true, ",": true,
}

// Normalize 把 Fun-ASR 结果归一化为可转 SRT 的句子序列。
// 先合并被 "." 错误切开的缩写句（如 "N." + "G."），再重切过长的句子。
func Normalize(data *FunASRResult, channelID, maxChars int) (*NormalizedTranscript, error) {
	var transcript *FunASRTranscript
	for i := range data.Transcripts {
		if data.Transcripts[i].ChannelID == channelID {
			transcript = &data.Transcripts[i]
			break
		}
	}
	if transcript == nil {
		return nil, fmt.Errorf("识别结果中找不到声道 %d", channelID)
	}

	merged := mergeDottedSentences(transcript.Sentences)

	var normalized []NormalizedSentence
	for _, sentence := range merged {
		normalized = append(normalized, splitLongSentence(sentence, maxChars)...)
	}

	return &NormalizedTranscript{
		ChannelID: channelID,
		Sentences: normalized,
	}, nil
}

func isEnglishLetter(r rune) bool {
	return (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z')
}

func lastRune(s string) (rune, bool) {
	runes := []rune(s)
	if len(runes) == 0 {
		return 0, false
	}
	return runes[len(runes)-1], true
}

func firstRune(s string) (rune, bool) {
	for _, r := range s {
		return r, true
	}
	return 0, false
}

// shouldMergeWithNext 当前句是否应与下一句合并。
// 条件：当前句以 "." 结尾且末尾是英文字母（缩写），间隔 ≤500ms，
// 下一句以英文字母开头，并且下一句很短或同样以 "." 结尾（缩写链）。
func shouldMergeWithNext(current, next FunASRSentence) bool {
	if len(current.Words) == 0 || len(next.Words) == 0 {
		return false
	}

	lastWord := current.Words[len(current.Words)-1]
	if strings.TrimSpace(lastWord.Punctuation) != "." {
		return false
	}

	// 过滤掉日文文本以 "." 收尾的情况
	wordText := strings.TrimSpace(lastWord.Text)
	r, ok := lastRune(wordText)
	if !ok || !isEnglishLetter(r) {
		return false
	}

	if next.BeginTime-current.EndTime > maxMergeGapMs {
		return false
	}

	nextFirst := strings.TrimSpace(next.Words[0].Text)
	fr, ok := firstRune(nextFirst)
	if !ok || !isEnglishLetter(fr) {
		return false
	}

	// 下一句很短，多半是缩写的后半段（如 "G."）
	if len([]rune(strings.TrimSpace(next.Text))) <= 5 {
		return true
	}

	// 下一句同样以 "." 结尾，缩写链
	return strings.TrimSpace(next.Words[len(next.Words)-1].Punctuation) == "."
}

func mergeTwoSentences(first, second FunASRSentence) FunASRSentence {
	return FunASRSentence{
		BeginTime:  first.BeginTime,
		EndTime:    second.EndTime,
		Text:       strings.TrimRight(first.Text, " \t") + second.Text,
		SentenceID: first.SentenceID,
		SpeakerID:  first.SpeakerID,
		Words:      append(append([]FunASRWord{}, first.Words...), second.Words...),
	}
}

// mergeDottedSentences 合并被 "." 错误切开的句子
func mergeDottedSentences(sentences []FunASRSentence) []FunASRSentence {
	if len(sentences) == 0 {
		return nil
	}

	var result []FunASRSentence
	i := 0
	for i < len(sentences) {
		current := sentences[i]
		for i+1 < len(sentences) && shouldMergeWithNext(current, sentences[i+1]) {
			current = mergeTwoSentences(current, sentences[i+1])
			i++
		}
		result = append(result, current)
		i++
	}
	return result
}

// hasSplitPunctuation 除最后一个词外是否存在可断句的标点。
// 标点只出现在句尾时无法作为切分点，改用按长度均分。
func hasSplitPunctuation(words []FunASRWord) bool {
	if len(words) <= 1 {
		return false
	}
	for _, w := range words[:len(words)-1] {
		if splitPunctuation[strings.TrimSpace(w.Punctuation)] {
			return true
		}
	}
	return false
}

func runeLen(s string) int {
	return len([]rune(s))
}

func joinWords(words []FunASRWord) string {
	var b strings.Builder
	for _, w := range words {
		b.WriteString(w.Text)
		b.WriteString(w.Punctuation)
	}
	return b.String()
}

func segmentFromWords(words []FunASRWord, text string) NormalizedSentence {
	return NormalizedSentence{
		BeginTime: words[0].BeginTime,
		EndTime:   words[len(words)-1].EndTime,
		Text:      strings.TrimSpace(text),
	}
}

// splitByPunctuation 超长时回退到最近的标点处切分
func splitByPunctuation(sentence FunASRSentence, maxChars int) []NormalizedSentence {
	var segments []NormalizedSentence
	var currentWords []FunASRWord
	currentText := ""

	// 记录最近一个可切分点：词数与对应文本
	splitWordCount := 0
	splitText := ""
	hasSplitPoint := false

	for _, word := range sentence.Words {
		currentWords = append(currentWords, word)
		currentText += word.Text + word.Punctuation

		if splitPunctuation[strings.TrimSpace(word.Punctuation)] {
			splitWordCount = len(currentWords)
			splitText = currentText
			hasSplitPoint = true
		}

		if runeLen(currentText) >= maxChars && hasSplitPoint {
			segments = append(segments, segmentFromWords(currentWords[:splitWordCount], splitText))

			currentWords = append([]FunASRWord{}, currentWords[splitWordCount:]...)
			currentText = joinWords(currentWords)
			hasSplitPoint = false
		}
	}

	if len(currentWords) > 0 {
		segments = append(segments, segmentFromWords(currentWords, currentText))
	}
	return segments
}

// splitByLength 没有标点可用时按字符数均分，在词边界处切分
func splitByLength(sentence FunASRSentence, maxChars int) []NormalizedSentence {
	if len(sentence.Words) == 0 {
		return []NormalizedSentence{{
			BeginTime: sentence.BeginTime,
			EndTime:   sentence.EndTime,
			Text:      strings.TrimSpace(sentence.Text),
		}}
	}

	totalText := joinWords(sentence.Words)
	totalChars := runeLen(totalText)
	if totalChars <= maxChars {
		return []NormalizedSentence{{
			BeginTime: sentence.BeginTime,
			EndTime:   sentence.EndTime,
			Text:      strings.TrimSpace(totalText),
		}}
	}

	numSegments := (totalChars + maxChars - 1) / maxChars
	targetChars := float64(totalChars) / float64(numSegments)

	var segments []NormalizedSentence
	var currentWords []FunASRWord
	currentText := ""

	for _, word := range sentence.Words {
		currentWords = append(currentWords, word)
		currentText += word.Text + word.Punctuation

		if float64(runeLen(currentText)) >= targetChars && len(segments) < numSegments-1 {
			segments = append(segments, segmentFromWords(currentWords, currentText))
			currentWords = nil
			currentText = ""
		}
	}

	if len(currentWords) > 0 {
		segments = append(segments, segmentFromWords(currentWords, currentText))
	}
	return segments
}

// splitLongSentence 超过 maxChars 时切分句子，目标长度取上限的 0.8 倍
func splitLongSentence(sentence FunASRSentence, maxChars int) []NormalizedSentence {
	if runeLen(sentence.Text) <= maxChars {
		return []NormalizedSentence{{
			BeginTime: sentence.BeginTime,
			EndTime:   sentence.EndTime,
			Text:      strings.TrimSpace(sentence.Text),
		}}
	}

	targetLength := int(float64(maxChars) * 0.8)
	if hasSplitPunctuation(sentence.Words) {
		return splitByPunctuation(sentence, targetLength)
	}
	return splitByLength(sentence, targetLength)
}
