package provider

import (
	"os"
	"regexp"
	"strings"
)

// mock 供应商：不访问外部服务，产出确定性的占位结果，供开发与测试使用

// MockASR 写出固定内容的识别结果
type MockASR struct{}

func NewMockASR() *MockASR {
	return &MockASR{}
}

const mockAsrJSON = `{
    "file_url": "mock://audio.opus",
    "transcripts": [
        {
            "channel_id": 0,
            "content_duration_in_milliseconds": 4000,
            "text": "こんにちは テスト字幕です",
            "sentences": [
                {
                    "begin_time": 0,
                    "end_time": 2000,
                    "text": "こんにちは",
                    "sentence_id": 1,
                    "words": []
                },
                {
                    "begin_time": 2500,
                    "end_time": 4000,
                    "text": "テスト字幕です",
                    "sentence_id": 2,
                    "words": []
                }
            ]
        }
    ]
}
`

const mockAsrSrt = `1
00:00:00,000 --> 00:00:02,000
こんにちは

2
00:00:02,500 --> 00:00:04,000
テスト字幕です
`

func (m *MockASR) RunASR(req ASRRequest) error {
	req.Logger.Info("mock 模式：写出占位识别结果")

	if err := os.WriteFile(req.OutputJsonPath, []byte(mockAsrJSON), 0644); err != nil {
		return NewPermanent("写入识别结果", err)
	}
	if err := os.WriteFile(req.OutputSrtPath, []byte(mockAsrSrt), 0644); err != nil {
		return NewPermanent("写入字幕文件", err)
	}
	return nil
}

// MockTranslate 逐条给字幕文本加前缀，返回零用量
type MockTranslate struct{}

func NewMockTranslate() *MockTranslate {
	return &MockTranslate{}
}

var srtCueTimePattern = regexp.MustCompile(`^\d{2}:\d{2}:\d{2},\d{3} --> `)

func (m *MockTranslate) Translate(req TranslateRequest) (*TranslationResult, error) {
	req.Logger.Info("mock 模式：生成占位翻译")

	raw, err := os.ReadFile(req.AsrSrtPath)
	if err != nil {
		return nil, NewPermanent("读取原始字幕", err)
	}

	// 序号行和时间轴保持不变，只改写台词文本
	lines := strings.Split(strings.ReplaceAll(string(raw), "\r\n", "\n"), "\n")
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || srtCueTimePattern.MatchString(trimmed) || isDigits(trimmed) {
			continue
		}
		lines[i] = "[譯] " + line
	}

	if err := os.WriteFile(req.OutputSrtPath, []byte(strings.Join(lines, "\n")), 0644); err != nil {
		return nil, NewPermanent("写入翻译字幕", err)
	}

	return &TranslationResult{
		LLMProvider: "mock",
		LLMModel:    "mock",
	}, nil
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
