package provider

import (
	"fmt"

	"grill-master/app/tasklog"
)

// ASRRequest 语音识别请求，成功后两个输出文件都已写出
type ASRRequest struct {
	ProjectID      string
	AudioPath      string
	OutputJsonPath string
	OutputSrtPath  string
	Logger         *tasklog.Logger
}

// ASRProvider 语音识别供应商契约
type ASRProvider interface {
	RunASR(req ASRRequest) error
}

// TranslateRequest 字幕翻译请求
type TranslateRequest struct {
	ProjectID       string
	AsrSrtPath      string
	AudioPath       string
	OutputSrtPath   string
	TranslationHint string
	Logger          *tasklog.Logger
}

// TranslationResult 翻译结果的用量与成本
type TranslationResult struct {
	LLMProvider  string  `json:"llm_provider"`
	LLMModel     string  `json:"llm_model"`
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	TotalCostTwd float64 `json:"total_cost_twd"`
}

// TranslateProvider 字幕翻译供应商契约
type TranslateProvider interface {
	Translate(req TranslateRequest) (*TranslationResult, error)
}

// Error 供应商错误，携带可重试标记供退避重试判断
type Error struct {
	Op        string
	Retryable bool
	Err       error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) IsRetryable() bool {
	return e.Retryable
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewRetryable 包装可重试错误
func NewRetryable(op string, err error) *Error {
	return &Error{Op: op, Retryable: true, Err: err}
}

// NewPermanent 包装不可重试错误
func NewPermanent(op string, err error) *Error {
	return &Error{Op: op, Retryable: false, Err: err}
}

// ClassifyStatus HTTP 状态码的重试分类：429 与 5xx 可重试，其余 4xx 不可
func ClassifyStatus(code int) bool {
	if code == 429 {
		return true
	}
	return code >= 500
}

// WrapHTTPError 按状态码分类包装 HTTP 错误
func WrapHTTPError(op string, code int, detail string) *Error {
	err := fmt.Errorf("HTTP %d: %s", code, detail)
	return &Error{Op: op, Retryable: ClassifyStatus(code), Err: err}
}
