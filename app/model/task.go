package model

// TaskStatus 任务状态
type TaskStatus string

const (
	TaskStatusQueued    TaskStatus = "queued"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCanceling TaskStatus = "canceling"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusCanceled  TaskStatus = "canceled"
)

// TaskTypePipeline 目前唯一的任务类型
const TaskTypePipeline = "pipeline"

// Task 一次流水线执行尝试
type Task struct {
	ID              uint       `json:"-" gorm:"primaryKey"`
	TaskID          string     `json:"task_id" gorm:"not null;uniqueIndex"`
	ProjectID       string     `json:"project_id" gorm:"not null;index"`
	Type            string     `json:"type" gorm:"size:20;default:pipeline"`
	Status          TaskStatus `json:"status" gorm:"size:20;default:queued;index"`
	CurrentStep     string     `json:"current_step" gorm:"size:40"`
	ProgressPercent int        `json:"progress_percent" gorm:"default:0"`
	Message         string     `json:"message"`
	ErrorMessage    string     `json:"error_message"`

	StartedAt         *int64 `json:"started_at"`
	FinishedAt        *int64 `json:"finished_at"`
	CancelRequestedAt *int64 `json:"cancel_requested_at"`
	CanceledAt        *int64 `json:"canceled_at"`

	CreatedAt int64 `json:"created_at" gorm:"autoCreateTime:milli"`
	UpdatedAt int64 `json:"updated_at" gorm:"autoUpdateTime:milli;index"`
}

// TableName 指定表名
func (Task) TableName() string {
	return "tasks"
}

// IsTerminal 任务是否处于终态
func (t *Task) IsTerminal() bool {
	return IsTerminalTaskStatus(t.Status)
}

// IsActive 任务是否仍占用队列（非终态）
func (t *Task) IsActive() bool {
	return !t.IsTerminal()
}

// IsTerminalTaskStatus 判断任务状态是否为终态
func IsTerminalTaskStatus(s TaskStatus) bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCanceled:
		return true
	}
	return false
}
