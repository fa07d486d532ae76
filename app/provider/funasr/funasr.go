package funasr

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	appconfig "grill-master/app/config"
	"grill-master/app/provider"
	"grill-master/app/subtitle"
	"grill-master/app/utils/retry"

	"resty.dev/v3"
)

// 轮询参数：2 秒间隔，最多 600 次
const (
	pollInterval    = 2 * time.Second
	maxPollAttempts = 600
)

// Provider 阿里云 Fun-ASR 异步转写客户端
type Provider struct {
	cfg     appconfig.ASRConfig
	storage *Storage
	client  *resty.Client
}

// New 创建 Fun-ASR 供应商
func New(cfg appconfig.ASRConfig, ossCfg appconfig.OSSConfig) (*Provider, error) {
	storage, err := NewStorage(ossCfg)
	if err != nil {
		return nil, err
	}

	client := resty.New()
	client.SetBaseURL(cfg.APIURL)
	client.SetAuthToken(cfg.APIKey)

	return &Provider{cfg: cfg, storage: storage, client: client}, nil
}

type submitResponse struct {
	Output struct {
		TaskID     string `json:"task_id"`
		TaskStatus string `json:"task_status"`
	} `json:"output"`
	Message string `json:"message"`
}

type taskResponse struct {
	Output struct {
		TaskID     string `json:"task_id"`
		TaskStatus string `json:"task_status"`
		Results    []struct {
			SubtaskStatus    string `json:"subtask_status"`
			TranscriptionURL string `json:"transcription_url"`
			Message          string `json:"message"`
		} `json:"results"`
	} `json:"output"`
	Message string `json:"message"`
}

// RunASR 完整的识别流程：暂存上传、提交异步任务、轮询、取回结果、
// 归一化转 SRT。无论成败都会清理暂存对象。
func (p *Provider) RunASR(req provider.ASRRequest) (err error) {
	key := req.ProjectID

	if stageErr := p.ensureStaged(req, key); stageErr != nil {
		return stageErr
	}
	defer func() {
		// 成功与失败都清理暂存对象
		if delErr := p.storage.Delete(key); delErr != nil {
			req.Logger.Warn(fmt.Sprintf("清理暂存对象失败: %v", delErr))
		}
	}()

	taskID, err := p.submitTask(req, p.storage.PublicURL(key))
	if err != nil {
		return err
	}

	resultURL, err := p.pollTask(req, taskID)
	if err != nil {
		return err
	}

	if err := p.fetchResult(req, resultURL); err != nil {
		return err
	}

	req.Logger.Info(fmt.Sprintf("转写结果已保存: %s", req.OutputJsonPath))
	if err := subtitle.ConvertFunASRFile(req.OutputJsonPath, req.OutputSrtPath); err != nil {
		return provider.NewPermanent("转写结果转 SRT", err)
	}
	return nil
}

// ensureStaged 确保音频已在暂存区，上传自带重试
func (p *Provider) ensureStaged(req provider.ASRRequest, key string) error {
	exists, err := p.storage.Exists(key)
	if err != nil {
		return provider.NewRetryable("检查暂存对象", err)
	}
	if exists {
		req.Logger.Debug("音频已在暂存区，跳过上传")
		return nil
	}

	req.Logger.Info("上传音频到暂存区")
	_, err = retry.Do(func() (struct{}, error) {
		if upErr := p.storage.Upload(key, req.AudioPath); upErr != nil {
			return struct{}{}, provider.NewRetryable("上传音频", upErr)
		}
		return struct{}{}, nil
	}, retry.Options{MaxRetries: 2, BaseDelay: time.Second, Jitter: true})
	return err
}

// submitTask 提交异步转写任务
func (p *Provider) submitTask(req provider.ASRRequest, fileURL string) (string, error) {
	req.Logger.Info(fmt.Sprintf("提交转写任务，模型: %s", p.cfg.Model))

	body := map[string]interface{}{
		"model": p.cfg.Model,
		"input": map[string]interface{}{
			"file_urls": []string{fileURL},
		},
		"parameters": map[string]interface{}{
			"language_hints": []string{"ja"},
		},
	}

	var result submitResponse
	resp, err := p.client.R().
		SetHeader("X-DashScope-Async", "enable").
		SetBody(body).
		SetResult(&result).
		Post("/services/audio/asr/transcription")
	if err != nil {
		return "", provider.NewRetryable("提交转写任务", err)
	}
	if resp.IsError() {
		return "", provider.WrapHTTPError("提交转写任务", resp.StatusCode(), resp.String())
	}
	if result.Output.TaskID == "" {
		return "", provider.NewPermanent("提交转写任务", fmt.Errorf("响应缺少 task_id: %s", resp.String()))
	}

	req.Logger.Info(fmt.Sprintf("转写任务已提交: %s", result.Output.TaskID))
	return result.Output.TaskID, nil
}

// pollTask 轮询任务直到结束，返回结果下载地址
func (p *Provider) pollTask(req provider.ASRRequest, taskID string) (string, error) {
	for attempt := 0; attempt < maxPollAttempts; attempt++ {
		var result taskResponse
		resp, err := p.client.R().
			SetResult(&result).
			Get("/tasks/" + taskID)
		if err != nil {
			return "", provider.NewRetryable("查询转写任务", err)
		}
		if resp.IsError() {
			return "", provider.WrapHTTPError("查询转写任务", resp.StatusCode(), resp.String())
		}

		switch result.Output.TaskStatus {
		case "SUCCEEDED":
			if len(result.Output.Results) == 0 {
				return "", provider.NewPermanent("查询转写任务", fmt.Errorf("任务成功但无结果"))
			}
			sub := result.Output.Results[0]
			if sub.SubtaskStatus != "SUCCEEDED" {
				return "", provider.NewPermanent("查询转写任务",
					fmt.Errorf("子任务失败: %s %s", sub.SubtaskStatus, sub.Message))
			}
			return sub.TranscriptionURL, nil

		case "FAILED", "CANCELED":
			// 服务端明确失败，不重试
			return "", provider.NewPermanent("查询转写任务",
				fmt.Errorf("转写任务 %s: %s", result.Output.TaskStatus, result.Message))
		}

		if attempt%30 == 0 {
			req.Logger.Debug(fmt.Sprintf("等待转写完成: %s (%d)", result.Output.TaskStatus, attempt))
		}
		time.Sleep(pollInterval)
	}
	return "", provider.NewPermanent("查询转写任务", fmt.Errorf("轮询超过 %d 次仍未完成", maxPollAttempts))
}

// fetchResult 下载转写 JSON 并写盘
func (p *Provider) fetchResult(req provider.ASRRequest, url string) error {
	resp, err := resty.New().R().Get(url)
	if err != nil {
		return provider.NewRetryable("下载转写结果", err)
	}
	if resp.IsError() {
		return provider.WrapHTTPError("下载转写结果", resp.StatusCode(), resp.String())
	}

	// 先校验是合法 JSON 再落盘
	var parsed json.RawMessage
	if err := json.Unmarshal(resp.Bytes(), &parsed); err != nil {
		return provider.NewPermanent("下载转写结果", fmt.Errorf("结果不是合法 JSON: %w", err))
	}
	if err := os.WriteFile(req.OutputJsonPath, resp.Bytes(), 0644); err != nil {
		return provider.NewPermanent("保存转写结果", err)
	}
	return nil
}
