package subtitle

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"
)

// MsToSrtTime 毫秒转 SRT 时间格式 HH:MM:SS,mmm
func MsToSrtTime(ms int64) string {
	hours := ms / 3600000
	ms %= 3600000
	minutes := ms / 60000
	ms %= 60000
	seconds := ms / 1000
	millis := ms % 1000
	return fmt.Sprintf("%02d:%02d:%02d,%03d", hours, minutes, seconds, millis)
}

// RenderSrt 把归一化句子渲染为 SRT 文本，空句跳过
func RenderSrt(transcript *NormalizedTranscript) string {
	var lines []string
	index := 0
	for _, sentence := range transcript.Sentences {
		text := strings.TrimSpace(sentence.Text)
		if text == "" {
			continue
		}
		index++
		lines = append(lines,
			fmt.Sprintf("%d", index),
			fmt.Sprintf("%s --> %s", MsToSrtTime(sentence.BeginTime), MsToSrtTime(sentence.EndTime)),
			text,
			"",
		)
	}
	return strings.Join(lines, "\n")
}

// ConvertFunASRFile 读取 Fun-ASR JSON 并写出归一化后的 SRT 文件
func ConvertFunASRFile(jsonPath, srtPath string) error {
	raw, err := os.ReadFile(jsonPath)
	if err != nil {
		return fmt.Errorf("读取识别结果失败: %w", err)
	}

	var result FunASRResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return fmt.Errorf("解析识别结果失败: %w", err)
	}

	transcript, err := Normalize(&result, 0, DefaultMaxChars)
	if err != nil {
		return err
	}

	return os.WriteFile(srtPath, []byte(RenderSrt(transcript)), 0644)
}

// srtTimestampPattern 匹配 SRT 时间戳 HH:MM:SS,mmm
var srtTimestampPattern = regexp.MustCompile(`(\d{2}:\d{2}:\d{2}),(\d{3})`)

// SrtToVtt SRT 文本转 WebVTT：统一换行并把时间戳的逗号换成点
func SrtToVtt(srt string) string {
	normalized := strings.ReplaceAll(srt, "\r\n", "\n")
	normalized = srtTimestampPattern.ReplaceAllString(normalized, "$1.$2")
	return "WEBVTT\n\n" + normalized
}

// ConvertSrtFileToVtt 读取 SRT 文件并写出对应的 VTT 文件
func ConvertSrtFileToVtt(srtPath, vttPath string) error {
	raw, err := os.ReadFile(srtPath)
	if err != nil {
		return fmt.Errorf("读取字幕文件失败: %w", err)
	}
	return os.WriteFile(vttPath, []byte(SrtToVtt(string(raw))), 0644)
}
