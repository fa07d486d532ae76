package store

import (
	"errors"

	"grill-master/app/model"

	"gorm.io/gorm"
)

// TaskDetail 任务详情，带最近 400 条事件
type TaskDetail struct {
	model.Task
	Events []model.TaskEvent `json:"events"`
}

// ProgressEvent 任务进度更新时附带的事件参数
type ProgressEvent struct {
	EventType    model.EventType
	Level        model.EventLevel
	ErrorMessage string
	DurationMs   *int64
}

// ListTasks 按更新时间倒序列出任务
func (s *Store) ListTasks(limit int) ([]model.Task, error) {
	if limit <= 0 {
		limit = 100
	}
	var tasks []model.Task
	if err := s.db.Order("updated_at DESC").Limit(limit).Find(&tasks).Error; err != nil {
		return nil, err
	}
	return tasks, nil
}

// GetTaskByID 获取任务及其最近 400 条事件
func (s *Store) GetTaskByID(taskID string) (*TaskDetail, error) {
	var task model.Task
	if err := s.db.Where("task_id = ?", taskID).First(&task).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	var events []model.TaskEvent
	if err := s.db.Where("task_id = ?", taskID).
		Order("created_at DESC").Limit(400).Find(&events).Error; err != nil {
		return nil, err
	}

	return &TaskDetail{Task: task, Events: events}, nil
}

// UpdateTaskProgress 更新任务行并在同一事务内追加事件。
// 首次进入 running 时写 started_at，进入终态时写 finished_at。
func (s *Store) UpdateTaskProgress(taskID string, status model.TaskStatus, step string, percent int, message string, event *ProgressEvent) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var task model.Task
		if err := tx.Where("task_id = ?", taskID).First(&task).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}

		now := nowMs()
		fields := map[string]interface{}{
			"status":           status,
			"current_step":     step,
			"progress_percent": percent,
			"message":          message,
			"updated_at":       now,
		}
		if task.StartedAt == nil && status == model.TaskStatusRunning {
			fields["started_at"] = now
		}
		if model.IsTerminalTaskStatus(status) {
			fields["finished_at"] = now
		}

		if event != nil && event.ErrorMessage != "" {
			fields["error_message"] = event.ErrorMessage
		}

		if err := tx.Model(&task).Updates(fields).Error; err != nil {
			return err
		}

		params := EventParams{
			TaskID:    taskID,
			ProjectID: task.ProjectID,
			Step:      step,
			Message:   message,
			Percent:   percent,
		}
		if event != nil {
			params.EventType = event.EventType
			params.Level = event.Level
			params.ErrorMessage = event.ErrorMessage
			params.DurationMs = event.DurationMs
		}
		return s.appendTaskEvent(tx, params)
	})
}

// RequestTaskCancel 请求取消任务，按当前状态分派：
// 终态不变；queued 立即取消；running 转入 canceling 等待安全点。
func (s *Store) RequestTaskCancel(taskID string) (model.TaskStatus, error) {
	var finalStatus model.TaskStatus

	err := s.db.Transaction(func(tx *gorm.DB) error {
		var task model.Task
		if err := tx.Where("task_id = ?", taskID).First(&task).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}

		now := nowMs()
		switch {
		case task.IsTerminal():
			// 已结束，保持原状态
			finalStatus = task.Status
			return nil

		case task.Status == model.TaskStatusQueued:
			finalStatus = model.TaskStatusCanceled
			if err := tx.Model(&task).Updates(map[string]interface{}{
				"status":              model.TaskStatusCanceled,
				"cancel_requested_at": now,
				"canceled_at":         now,
				"finished_at":         now,
				"updated_at":          now,
			}).Error; err != nil {
				return err
			}
			if err := tx.Model(&model.Project{}).
				Where("project_id = ?", task.ProjectID).
				Updates(map[string]interface{}{
					"status":     model.ProjectStatusCanceled,
					"updated_at": now,
				}).Error; err != nil {
				return err
			}
			return s.appendTaskEvent(tx, EventParams{
				TaskID:    taskID,
				ProjectID: task.ProjectID,
				Step:      task.CurrentStep,
				Level:     model.EventLevelWarn,
				Message:   "排队中的任务已被取消",
				Percent:   task.ProgressPercent,
			})

		default:
			// running 或 canceling：标记取消请求，不动步骤行
			finalStatus = model.TaskStatusCanceling
			fields := map[string]interface{}{
				"status":     model.TaskStatusCanceling,
				"updated_at": now,
			}
			if task.CancelRequestedAt == nil {
				fields["cancel_requested_at"] = now
			}
			if err := tx.Model(&task).Updates(fields).Error; err != nil {
				return err
			}
			if err := tx.Model(&model.Project{}).
				Where("project_id = ?", task.ProjectID).
				Updates(map[string]interface{}{
					"status":     model.ProjectStatusCanceling,
					"updated_at": now,
				}).Error; err != nil {
				return err
			}
			return s.appendTaskEvent(tx, EventParams{
				TaskID:    taskID,
				ProjectID: task.ProjectID,
				Step:      task.CurrentStep,
				Level:     model.EventLevelWarn,
				Message:   "收到取消请求，将在下一个安全点停止",
				Percent:   task.ProgressPercent,
			})
		}
	})
	if err != nil {
		return "", err
	}
	return finalStatus, nil
}

// IsTaskCancelRequested 任务是否已有取消请求
func (s *Store) IsTaskCancelRequested(taskID string) (bool, error) {
	var task model.Task
	if err := s.db.Where("task_id = ?", taskID).First(&task).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, ErrNotFound
		}
		return false, err
	}
	return task.CancelRequestedAt != nil || task.Status == model.TaskStatusCanceling, nil
}

// MarkTaskCanceled 最终取消转换：任务与项目均置为 canceled
func (s *Store) MarkTaskCanceled(taskID, reason, step string, percent int) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var task model.Task
		if err := tx.Where("task_id = ?", taskID).First(&task).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}

		now := nowMs()
		if err := tx.Model(&task).Updates(map[string]interface{}{
			"status":           model.TaskStatusCanceled,
			"current_step":     step,
			"progress_percent": percent,
			"message":          reason,
			"canceled_at":      now,
			"finished_at":      now,
			"updated_at":       now,
		}).Error; err != nil {
			return err
		}

		if err := tx.Model(&model.Project{}).
			Where("project_id = ?", task.ProjectID).
			Updates(map[string]interface{}{
				"status":     model.ProjectStatusCanceled,
				"updated_at": now,
			}).Error; err != nil {
			return err
		}

		return s.appendTaskEvent(tx, EventParams{
			TaskID:    taskID,
			ProjectID: task.ProjectID,
			Step:      step,
			Level:     model.EventLevelWarn,
			Message:   reason,
			Percent:   percent,
		})
	})
}

// RetryTask 把失败或取消的任务重置回 queued。
// 只重置未完成的步骤行，已完成的检查点保留以便断点续跑。
func (s *Store) RetryTask(taskID string) (*SubmitResult, error) {
	var result *SubmitResult

	err := s.db.Transaction(func(tx *gorm.DB) error {
		var task model.Task
		if err := tx.Where("task_id = ?", taskID).First(&task).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		if task.IsActive() {
			return ErrActiveTaskExists
		}

		now := nowMs()
		if err := tx.Model(&task).Updates(map[string]interface{}{
			"status":              model.TaskStatusQueued,
			"current_step":        "retry",
			"progress_percent":    0,
			"message":             "等待重试",
			"error_message":       "",
			"cancel_requested_at": nil,
			"canceled_at":         nil,
			"finished_at":         nil,
			"updated_at":          now,
		}).Error; err != nil {
			return err
		}

		if err := tx.Model(&model.Project{}).
			Where("project_id = ?", task.ProjectID).
			Updates(map[string]interface{}{
				"status":     model.ProjectStatusQueued,
				"updated_at": now,
			}).Error; err != nil {
			return err
		}

		// 崩溃遗留的 running 步骤同样是未完成，一并重置
		if err := tx.Model(&model.TaskStepState{}).
			Where("task_id = ? AND status <> ?", taskID, model.StepStatusCompleted).
			Updates(map[string]interface{}{
				"status":        model.StepStatusPending,
				"started_at":    nil,
				"finished_at":   nil,
				"duration_ms":   nil,
				"error_message": "",
				"updated_at":    now,
			}).Error; err != nil {
			return err
		}

		if err := s.appendTaskEvent(tx, EventParams{
			TaskID:    taskID,
			ProjectID: task.ProjectID,
			Message:   "任务已重置，等待重新执行",
		}); err != nil {
			return err
		}

		result = &SubmitResult{ProjectID: task.ProjectID, TaskID: taskID}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// GetInterruptedTasks 返回仍处于 running / canceling 的任务，启动时调用一次
func (s *Store) GetInterruptedTasks() ([]model.Task, error) {
	var tasks []model.Task
	err := s.db.Where("status IN (?)", []model.TaskStatus{
		model.TaskStatusRunning, model.TaskStatusCanceling,
	}).Find(&tasks).Error
	if err != nil {
		return nil, err
	}
	return tasks, nil
}
