package service

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	appconfig "grill-master/app/config"
	"grill-master/app/logger"
	"grill-master/app/model"
	"grill-master/app/pipeline"
	"grill-master/app/store"
)

// ValidationError 输入不合法，对应 HTTP 400
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string {
	return e.Msg
}

func newValidationError(format string, args ...interface{}) *ValidationError {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// IsValidationError 判断错误是否为输入校验失败
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

const maxTranslationHintLen = 400

// 来源识别规则，按顺序匹配
var (
	bilibiliPattern = regexp.MustCompile(`BV[A-Za-z0-9]{10}`)
	tverPattern     = regexp.MustCompile(`episodes/(\w+)`)
	youtubePattern  = regexp.MustCompile(`(?:v=|youtu\.be/)([A-Za-z0-9_-]{11})`)
	bareIDPattern   = regexp.MustCompile(`^[A-Za-z0-9_-]{6,30}$`)
)

// ParseSource 从原始输入识别视频来源与视频 ID
func ParseSource(input string) (model.VideoSource, string, error) {
	if m := bilibiliPattern.FindString(input); m != "" {
		return model.SourceBilibili, strings.ToUpper(m), nil
	}
	if m := tverPattern.FindStringSubmatch(input); m != nil {
		return model.SourceTver, m[1], nil
	}
	if m := youtubePattern.FindStringSubmatch(input); m != nil {
		return model.SourceYoutube, m[1], nil
	}
	if bareIDPattern.MatchString(input) {
		return model.SourceUnknown, input, nil
	}
	return "", "", newValidationError("无法识别的视频来源: %s", input)
}

// SubmissionService 项目提交、重试、取消与删除
type SubmissionService struct {
	cfg    *appconfig.Config
	store  *store.Store
	log    *logger.Logger
	runner *pipeline.Runner
}

func NewSubmissionService(cfg *appconfig.Config, st *store.Store, log *logger.Logger, runner *pipeline.Runner) *SubmissionService {
	return &SubmissionService{cfg: cfg, store: st, log: log, runner: runner}
}

// SubmitInput 新建项目的输入
type SubmitInput struct {
	SourceOrURL     string `json:"source_or_url" binding:"required,min=2"`
	TranslationHint string `json:"translation_hint"`
}

// SubmitOutput 新建项目的返回
type SubmitOutput struct {
	ProjectID string           `json:"project_id"`
	TaskID    string           `json:"task_id"`
	Status    model.TaskStatus `json:"status"`
}

// Submit 校验输入、识别来源、建立项目并入队。
// live 模式在提交时就检查凭据，避免任务跑到一半才失败。
func (s *SubmissionService) Submit(input SubmitInput) (*SubmitOutput, error) {
	raw := strings.TrimSpace(input.SourceOrURL)
	if len(raw) < 2 {
		return nil, newValidationError("输入过短")
	}
	if len(input.TranslationHint) > maxTranslationHintLen {
		return nil, newValidationError("节目介绍超过 %d 字符上限", maxTranslationHintLen)
	}

	source, videoID, err := ParseSource(raw)
	if err != nil {
		return nil, err
	}

	if err := s.cfg.ValidateLive(); err != nil {
		return nil, err
	}

	result, err := s.store.SubmitProject(source, videoID, raw, input.TranslationHint)
	if err != nil {
		return nil, err
	}

	s.runner.Enqueue(pipeline.QueueItem{TaskID: result.TaskID, ProjectID: result.ProjectID})
	s.log.Infof("项目已提交: %s (%s/%s)", result.ProjectID, source, videoID)

	return &SubmitOutput{
		ProjectID: result.ProjectID,
		TaskID:    result.TaskID,
		Status:    model.TaskStatusQueued,
	}, nil
}

// RetryTask 重置失败或取消的任务并重新入队
func (s *SubmissionService) RetryTask(taskID string) (*store.SubmitResult, error) {
	result, err := s.store.RetryTask(taskID)
	if err != nil {
		return nil, err
	}
	s.runner.Enqueue(pipeline.QueueItem{TaskID: result.TaskID, ProjectID: result.ProjectID})
	s.log.Infof("任务已重新入队: %s", taskID)
	return result, nil
}

// CancelTask 请求取消任务，返回处理后的任务状态
func (s *SubmissionService) CancelTask(taskID string) (model.TaskStatus, error) {
	return s.store.RequestTaskCancel(taskID)
}

// DeletedDirPrefix 删除项目时工作目录的改名前缀
const DeletedDirPrefix = "_deleted_"

// DeleteProject 先把工作目录改名挪开（目录不存在不算错），再级联删库
func (s *SubmissionService) DeleteProject(projectID string) error {
	projectDir := filepath.Join(s.cfg.Server.ProjectsDir, projectID)
	deletedDir := filepath.Join(s.cfg.Server.ProjectsDir, DeletedDirPrefix+projectID)

	if err := os.Rename(projectDir, deletedDir); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("移除项目目录失败: %w", err)
	}

	if err := s.store.DeleteProject(projectID); err != nil {
		return err
	}
	s.log.Infof("项目已删除: %s", projectID)
	return nil
}
