package store

import (
	"errors"

	"grill-master/app/model"

	"gorm.io/gorm"
)

// MarkStepStart 把步骤检查点置为 running，attempt 加一，清空上次的结束信息
func (s *Store) MarkStepStart(taskID, projectID, step string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		now := nowMs()

		var state model.TaskStepState
		err := tx.Where("task_id = ? AND step = ?", taskID, step).First(&state).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return tx.Create(&model.TaskStepState{
				TaskID:    taskID,
				ProjectID: projectID,
				Step:      step,
				Status:    model.StepStatusRunning,
				Attempt:   1,
				StartedAt: &now,
			}).Error
		}
		if err != nil {
			return err
		}

		return tx.Model(&state).Updates(map[string]interface{}{
			"status":        model.StepStatusRunning,
			"attempt":       state.Attempt + 1,
			"started_at":    now,
			"finished_at":   nil,
			"duration_ms":   nil,
			"error_message": "",
			"updated_at":    now,
		}).Error
	})
}

// MarkStepEnd 写入步骤终态和耗时，返回计算出的耗时毫秒数
func (s *Store) MarkStepEnd(taskID, projectID, step string, status model.StepStatus, errorMessage, outputJson string) (int64, error) {
	var durationMs int64

	err := s.db.Transaction(func(tx *gorm.DB) error {
		var state model.TaskStepState
		if err := tx.Where("task_id = ? AND step = ?", taskID, step).First(&state).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}

		now := nowMs()
		durationMs = 0
		if state.StartedAt != nil && now > *state.StartedAt {
			durationMs = now - *state.StartedAt
		}

		fields := map[string]interface{}{
			"status":        status,
			"finished_at":   now,
			"duration_ms":   durationMs,
			"error_message": errorMessage,
			"updated_at":    now,
		}
		if outputJson != "" {
			fields["output_json"] = outputJson
		}
		return tx.Model(&state).Updates(fields).Error
	})
	if err != nil {
		return 0, err
	}
	return durationMs, nil
}

// GetTaskStepStates 返回任务当前的全部步骤检查点
func (s *Store) GetTaskStepStates(taskID string) ([]model.TaskStepState, error) {
	var states []model.TaskStepState
	if err := s.db.Where("task_id = ?", taskID).Order("id ASC").Find(&states).Error; err != nil {
		return nil, err
	}
	return states, nil
}
