package model

// StepStatus 单个步骤的检查点状态
type StepStatus string

const (
	StepStatusPending   StepStatus = "pending"
	StepStatusRunning   StepStatus = "running"
	StepStatusCompleted StepStatus = "completed"
	StepStatusFailed    StepStatus = "failed"
	StepStatusCanceled  StepStatus = "canceled"
)

// TaskStepState 任务某一步骤的检查点，(task_id, step) 唯一
type TaskStepState struct {
	ID        uint       `json:"-" gorm:"primaryKey"`
	TaskID    string     `json:"task_id" gorm:"not null;uniqueIndex:idx_task_step;index"`
	ProjectID string     `json:"project_id" gorm:"not null;index"`
	Step      string     `json:"step" gorm:"size:40;not null;uniqueIndex:idx_task_step"`
	Status    StepStatus `json:"status" gorm:"size:20;default:pending"`

	// Attempt 单调递增，取消不回退（重试后从上次计数继续）
	Attempt      int    `json:"attempt" gorm:"default:0"`
	StartedAt    *int64 `json:"started_at"`
	FinishedAt   *int64 `json:"finished_at"`
	DurationMs   *int64 `json:"duration_ms"`
	ErrorMessage string `json:"error_message"`

	// OutputJson 步骤完成时写入的结构化输出，断点续跑时回读
	OutputJson string `json:"output_json" gorm:"type:text"`

	CreatedAt int64 `json:"created_at" gorm:"autoCreateTime:milli"`
	UpdatedAt int64 `json:"updated_at" gorm:"autoUpdateTime:milli"`
}

// TableName 指定表名
func (TaskStepState) TableName() string {
	return "task_step_states"
}
