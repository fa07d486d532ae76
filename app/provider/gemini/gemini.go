package gemini

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"time"

	appconfig "grill-master/app/config"
	"grill-master/app/provider"

	"resty.dev/v3"
)

// maxContinuations 响应被截断时最多续写的轮数
const maxContinuations = 10

const baseURL = "https://generativelanguage.googleapis.com"

// 文件存储的处理状态
const (
	fileStateActive = "ACTIVE"
	fileStateFailed = "FAILED"
)

// maxFilePolls 等待文件转为 ACTIVE 的最大轮询次数
const maxFilePolls = 150

// Provider Google Gemini 字幕翻译客户端（REST）
type Provider struct {
	cfg          appconfig.GeminiConfig
	client       *resty.Client
	pollInterval time.Duration
}

// New 创建 Gemini 供应商
func New(cfg appconfig.GeminiConfig) *Provider {
	client := resty.New()
	client.SetBaseURL(baseURL)
	client.SetQueryParam("key", cfg.APIKey)
	return &Provider{cfg: cfg, client: client, pollInterval: 2 * time.Second}
}

// part 消息片段：纯文本或文件引用
type part struct {
	Text     string    `json:"text,omitempty"`
	FileData *fileData `json:"fileData,omitempty"`
}

type fileData struct {
	MimeType string `json:"mimeType"`
	FileURI  string `json:"fileUri"`
}

type content struct {
	Role  string `json:"role"`
	Parts []part `json:"parts"`
}

type generateRequest struct {
	SystemInstruction *content        `json:"systemInstruction,omitempty"`
	Contents          []content       `json:"contents"`
	SafetySettings    []safetySetting `json:"safetySettings,omitempty"`
}

type safetySetting struct {
	Category  string `json:"category"`
	Threshold string `json:"threshold"`
}

type generateResponse struct {
	Candidates []struct {
		Content      content `json:"content"`
		FinishReason string  `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata *usageMetadata `json:"usageMetadata"`
	Error         *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type fileInfo struct {
	Name     string `json:"name"`
	URI      string `json:"uri"`
	MimeType string `json:"mimeType"`
	State    string `json:"state"`
}

// 综艺字幕常触发拦截，四类安全过滤全部关闭
var safetyOff = []safetySetting{
	{Category: "HARM_CATEGORY_HARASSMENT", Threshold: "BLOCK_NONE"},
	{Category: "HARM_CATEGORY_HATE_SPEECH", Threshold: "BLOCK_NONE"},
	{Category: "HARM_CATEGORY_SEXUALLY_EXPLICIT", Threshold: "BLOCK_NONE"},
	{Category: "HARM_CATEGORY_DANGEROUS_CONTENT", Threshold: "BLOCK_NONE"},
}

// storageName 稳定的远端文件名：md5(key + 模型 + 密钥)
func (p *Provider) storageName(key string) string {
	sum := md5.Sum([]byte(key + p.cfg.Model + p.cfg.APIKey))
	return hex.EncodeToString(sum[:])
}

// Translate 上传音频（如需要）后开启聊天翻译 SRT，
// 截断时按配置的提示词续写，拼接结果写入目标文件。
func (p *Provider) Translate(req provider.TranslateRequest) (*provider.TranslationResult, error) {
	file, err := p.ensureFile(req, req.AudioPath)
	if err != nil {
		return nil, err
	}

	srtText, err := os.ReadFile(req.AsrSrtPath)
	if err != nil {
		return nil, provider.NewPermanent("读取原始字幕", err)
	}
	userMessage := p.makeUserMessage(req.TranslationHint, string(srtText))

	result := &provider.TranslationResult{
		LLMProvider: "gemini",
		LLMModel:    p.cfg.Model,
	}
	var costUSD float64

	// 本地维护聊天历史
	var history []content

	// 第一轮：音频 + 文本，让模型先消化上下文
	req.Logger.Info("发送音频与字幕上下文（首次处理音频可能较慢）")
	_, history, err = p.sendMessage(history, []part{
		{FileData: &fileData{MimeType: file.MimeType, FileURI: file.URI}},
		{Text: userMessage},
	}, result, &costUSD)
	if err != nil {
		return nil, err
	}

	req.Logger.Info("请求翻译，可能需要 10-30 分钟")
	resp, newHistory, err := p.sendMessage(history, []part{{Text: userMessage}}, result, &costUSD)
	if err != nil {
		return nil, err
	}
	history = newHistory

	translated := responseText(resp)
	continuations := 0
	for finishReason(resp) == "MAX_TOKENS" {
		continuations++
		if continuations > maxContinuations {
			return nil, provider.NewPermanent("翻译续写",
				fmt.Errorf("续写超过上限 %d 次", maxContinuations))
		}

		req.Logger.Info(fmt.Sprintf("响应被截断，请求续写 (%d/%d)", continuations, maxContinuations))
		resp, history, err = p.sendMessage(history, []part{{Text: p.cfg.ContinuationPrompt}}, result, &costUSD)
		if err != nil {
			return nil, err
		}
		translated += "\n<BREAK>\n" + responseText(resp)
	}

	if err := os.WriteFile(req.OutputSrtPath, []byte(translated), 0644); err != nil {
		return nil, provider.NewPermanent("写入翻译字幕", err)
	}

	result.TotalCostTwd = costUSD * p.cfg.TwdRate
	req.Logger.Info(fmt.Sprintf("翻译完成，续写 %d 次，成本 %.2f TWD", continuations, result.TotalCostTwd))
	return result, nil
}

// ensureFile 远端已有同名文件则复用，否则上传；
// 两条路径都要等文件处理完成才返回
func (p *Provider) ensureFile(req provider.TranslateRequest, audioPath string) (*fileInfo, error) {
	name := p.storageName(req.ProjectID)

	if existing, err := p.getFile(name); err == nil && existing.URI != "" {
		req.Logger.Debug("音频已在 Gemini 文件存储中，跳过上传")
		return p.waitForActive(req, existing)
	}

	req.Logger.Info("上传音频到 Gemini 文件存储")
	audio, err := os.Open(audioPath)
	if err != nil {
		return nil, provider.NewPermanent("读取音频文件", err)
	}
	defer audio.Close()

	metadata := fmt.Sprintf(`{"file": {"name": "files/%s"}}`, name)

	var uploaded struct {
		File fileInfo `json:"file"`
	}
	resp, err := p.client.R().
		SetHeader("X-Goog-Upload-Protocol", "multipart").
		SetMultipartField("metadata", "", "application/json", strings.NewReader(metadata)).
		SetMultipartField("file", "audio.opus", "audio/ogg", audio).
		SetResult(&uploaded).
		Post("/upload/v1beta/files")
	if err != nil {
		return nil, provider.NewRetryable("上传音频到 Gemini", err)
	}
	if resp.IsError() {
		return nil, provider.WrapHTTPError("上传音频到 Gemini", resp.StatusCode(), resp.String())
	}
	if uploaded.File.URI == "" {
		return nil, provider.NewPermanent("上传音频到 Gemini", fmt.Errorf("响应缺少文件 URI: %s", resp.String()))
	}
	return p.waitForActive(req, &uploaded.File)
}

// getFile 查询远端文件元数据
func (p *Provider) getFile(name string) (*fileInfo, error) {
	var info fileInfo
	resp, err := p.client.R().
		SetResult(&info).
		Get("/v1beta/files/" + name)
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode())
	}
	return &info, nil
}

// waitForActive 轮询直到文件处理完成。上一次进程崩溃可能留下
// 仍在 PROCESSING 的文件，引用前必须等它转为 ACTIVE。
func (p *Provider) waitForActive(req provider.TranslateRequest, file *fileInfo) (*fileInfo, error) {
	for polls := 0; ; polls++ {
		switch file.State {
		case "", fileStateActive:
			return file, nil
		case fileStateFailed:
			return nil, provider.NewRetryable("等待 Gemini 文件就绪",
				fmt.Errorf("文件处理失败: %s", file.Name))
		}

		if polls >= maxFilePolls {
			return nil, provider.NewRetryable("等待 Gemini 文件就绪",
				fmt.Errorf("轮询 %d 次后仍未就绪", maxFilePolls))
		}
		if polls == 0 {
			req.Logger.Info("等待 Gemini 处理音频文件")
		}
		time.Sleep(p.pollInterval)

		refreshed, err := p.getFile(strings.TrimPrefix(file.Name, "files/"))
		if err != nil {
			return nil, provider.NewRetryable("等待 Gemini 文件就绪", err)
		}
		file = refreshed
	}
}

// sendMessage 追加一轮用户消息并请求生成，返回响应与更新后的历史
func (p *Provider) sendMessage(history []content, parts []part, result *provider.TranslationResult, costUSD *float64) (*generateResponse, []content, error) {
	history = append(history, content{Role: "user", Parts: parts})

	body := generateRequest{
		SystemInstruction: &content{Parts: []part{{Text: systemInstruction}}},
		Contents:          history,
		SafetySettings:    safetyOff,
	}

	var parsed generateResponse
	resp, err := p.client.R().
		SetBody(body).
		SetResult(&parsed).
		Post(fmt.Sprintf("/v1beta/models/%s:generateContent", p.cfg.Model))
	if err != nil {
		return nil, nil, provider.NewRetryable("请求 Gemini", err)
	}
	if resp.IsError() {
		return nil, nil, provider.WrapHTTPError("请求 Gemini", resp.StatusCode(), resp.String())
	}
	if len(parsed.Candidates) == 0 {
		return nil, nil, provider.NewPermanent("请求 Gemini", fmt.Errorf("响应没有候选: %s", resp.String()))
	}

	// 累计用量
	if parsed.UsageMetadata != nil {
		result.InputTokens += parsed.UsageMetadata.PromptTokenCount
		result.OutputTokens += parsed.UsageMetadata.CandidatesTokenCount + parsed.UsageMetadata.ThoughtsTokenCount
		*costUSD += calculateCostUSD(p.cfg.Model, parsed.UsageMetadata)
	}

	history = append(history, parsed.Candidates[0].Content)
	return &parsed, history, nil
}

func (p *Provider) makeUserMessage(hint, srtText string) string {
	message := "請根據所附資料，將以下 SRT 文本翻譯為繁體中文。"
	if hint != "" {
		message += "\n節目介紹: " + hint
	}
	message += "\nSRT 文本:\n---\n" + srtText
	return message
}

func responseText(resp *generateResponse) string {
	if len(resp.Candidates) == 0 {
		return ""
	}
	var b strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		b.WriteString(p.Text)
	}
	return b.String()
}

func finishReason(resp *generateResponse) string {
	if len(resp.Candidates) == 0 {
		return ""
	}
	return resp.Candidates[0].FinishReason
}
