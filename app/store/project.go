package store

import (
	"errors"

	"grill-master/app/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// SubmitResult 新建项目的返回
type SubmitResult struct {
	ProjectID string `json:"project_id"`
	TaskID    string `json:"task_id"`
}

// ProjectWithTask 项目列表项，带最近一次任务
type ProjectWithTask struct {
	model.Project
	LatestTask *model.Task `json:"latest_task,omitempty"`
}

// ProjectDetail 项目详情，带最近 20 次任务
type ProjectDetail struct {
	model.Project
	Tasks []model.Task `json:"tasks"`
}

// SubmitProject 原子插入项目、初始任务和一条 system 事件。
// (source, source_video_id) 重复时返回 ErrConflict。
func (s *Store) SubmitProject(source model.VideoSource, sourceVideoID, originalInput, translationHint string) (*SubmitResult, error) {
	projectID := uuid.NewString()
	taskID := uuid.NewString()

	err := s.db.Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&model.Project{}).
			Where("source = ? AND source_video_id = ?", source, sourceVideoID).
			Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return ErrConflict
		}

		project := &model.Project{
			ProjectID:       projectID,
			Source:          source,
			SourceVideoID:   sourceVideoID,
			OriginalInput:   originalInput,
			TranslationHint: translationHint,
			Status:          model.ProjectStatusQueued,
		}
		if err := tx.Create(project).Error; err != nil {
			return err
		}

		task := &model.Task{
			TaskID:      taskID,
			ProjectID:   projectID,
			Type:        model.TaskTypePipeline,
			Status:      model.TaskStatusQueued,
			CurrentStep: "submit",
		}
		if err := tx.Create(task).Error; err != nil {
			return err
		}

		return s.appendTaskEvent(tx, EventParams{
			TaskID:    taskID,
			ProjectID: projectID,
			Message:   "任务已提交: " + originalInput,
		})
	})
	if err != nil {
		return nil, err
	}

	return &SubmitResult{ProjectID: projectID, TaskID: taskID}, nil
}

// ListProjects 按创建时间倒序列出项目，并附带各自最近的任务
func (s *Store) ListProjects(limit int) ([]ProjectWithTask, error) {
	if limit <= 0 {
		limit = 200
	}

	var projects []model.Project
	if err := s.db.Order("created_at DESC").Limit(limit).Find(&projects).Error; err != nil {
		return nil, err
	}

	result := make([]ProjectWithTask, 0, len(projects))
	for _, p := range projects {
		item := ProjectWithTask{Project: p}
		var task model.Task
		err := s.db.Where("project_id = ?", p.ProjectID).
			Order("created_at DESC").First(&task).Error
		if err == nil {
			item.LatestTask = &task
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
		result = append(result, item)
	}
	return result, nil
}

// GetProjectByID 获取项目及其最近 20 次任务
func (s *Store) GetProjectByID(projectID string) (*ProjectDetail, error) {
	var project model.Project
	if err := s.db.Where("project_id = ?", projectID).First(&project).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	var tasks []model.Task
	if err := s.db.Where("project_id = ?", projectID).
		Order("created_at DESC").Limit(20).Find(&tasks).Error; err != nil {
		return nil, err
	}

	return &ProjectDetail{Project: project, Tasks: tasks}, nil
}

// ProjectUpdate 流水线对项目的部分更新，nil 字段不写入
type ProjectUpdate struct {
	Status       *model.ProjectStatus
	Title        *string
	ThumbnailURL *string
	SourceURL    *string
	MediaPath    *string
	SubtitlePath *string
	AsrVttPath   *string
	LLMCostTwd   *float64
	LLMProvider  *string
	LLMModel     *string
	InputTokens  *int64
	OutputTokens *int64
}

// UpdateProjectFromPipeline 只写入提供的字段并刷新 updated_at
func (s *Store) UpdateProjectFromPipeline(projectID string, update ProjectUpdate) error {
	fields := map[string]interface{}{}
	if update.Status != nil {
		fields["status"] = *update.Status
	}
	if update.Title != nil {
		fields["title"] = *update.Title
	}
	if update.ThumbnailURL != nil {
		fields["thumbnail_url"] = *update.ThumbnailURL
	}
	if update.SourceURL != nil {
		fields["source_url"] = *update.SourceURL
	}
	if update.MediaPath != nil {
		fields["media_path"] = *update.MediaPath
	}
	if update.SubtitlePath != nil {
		fields["subtitle_path"] = *update.SubtitlePath
	}
	if update.AsrVttPath != nil {
		fields["asr_vtt_path"] = *update.AsrVttPath
	}
	if update.LLMCostTwd != nil {
		fields["llm_cost_twd"] = *update.LLMCostTwd
	}
	if update.LLMProvider != nil {
		fields["llm_provider"] = *update.LLMProvider
	}
	if update.LLMModel != nil {
		fields["llm_model"] = *update.LLMModel
	}
	if update.InputTokens != nil {
		fields["input_tokens"] = *update.InputTokens
	}
	if update.OutputTokens != nil {
		fields["output_tokens"] = *update.OutputTokens
	}
	if len(fields) == 0 {
		return nil
	}
	fields["updated_at"] = nowMs()

	result := s.db.Model(&model.Project{}).Where("project_id = ?", projectID).Updates(fields)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteProject 级联删除项目的任务、事件、步骤状态、播放进度和项目行本身
func (s *Store) DeleteProject(projectID string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var project model.Project
		if err := tx.Where("project_id = ?", projectID).First(&project).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}

		// 删除顺序：任务、事件、步骤状态、播放进度、项目
		if err := tx.Where("project_id = ?", projectID).Delete(&model.Task{}).Error; err != nil {
			return err
		}
		if err := tx.Where("project_id = ?", projectID).Delete(&model.TaskEvent{}).Error; err != nil {
			return err
		}
		if err := tx.Where("project_id = ?", projectID).Delete(&model.TaskStepState{}).Error; err != nil {
			return err
		}
		if err := tx.Where("project_id = ?", projectID).Delete(&model.WatchProgress{}).Error; err != nil {
			return err
		}
		return tx.Delete(&project).Error
	})
}

// UpsertWatchProgress 写入或更新某个观众的播放进度
func (s *Store) UpsertWatchProgress(projectID, viewerID string, positionSec, durationSec float64) error {
	var existing model.WatchProgress
	err := s.db.Where("project_id = ? AND viewer_id = ?", projectID, viewerID).First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return s.db.Create(&model.WatchProgress{
			ProjectID:   projectID,
			ViewerID:    viewerID,
			PositionSec: positionSec,
			DurationSec: durationSec,
		}).Error
	}
	if err != nil {
		return err
	}

	return s.db.Model(&existing).Updates(map[string]interface{}{
		"position_sec": positionSec,
		"duration_sec": durationSec,
		"updated_at":   nowMs(),
	}).Error
}
