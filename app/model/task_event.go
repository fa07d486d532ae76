package model

// EventType 任务事件类型
type EventType string

const (
	EventTypeStepStart EventType = "step_start"
	EventTypeStepEnd   EventType = "step_end"
	EventTypeLog       EventType = "log"
	EventTypeError     EventType = "error"
	EventTypeSystem    EventType = "system"
)

// EventLevel 任务事件级别
type EventLevel string

const (
	EventLevelTrace EventLevel = "trace"
	EventLevelDebug EventLevel = "debug"
	EventLevelInfo  EventLevel = "info"
	EventLevelWarn  EventLevel = "warn"
	EventLevelError EventLevel = "error"
)

// MaxEventMessageLen 事件消息长度上限，超出部分截断
const MaxEventMessageLen = 1600

// TaskEvent 任务事件，只追加不修改，created_at 为权威时间线
type TaskEvent struct {
	ID        uint       `json:"-" gorm:"primaryKey"`
	TaskID    string     `json:"task_id" gorm:"not null;index"`
	ProjectID string     `json:"project_id" gorm:"not null;index"`
	Step      string     `json:"step" gorm:"size:40"`
	EventType EventType  `json:"event_type" gorm:"size:20;default:system"`
	Level     EventLevel `json:"level" gorm:"size:10;default:info"`
	Message   string     `json:"message" gorm:"type:text"`
	Percent   int        `json:"percent"`

	DurationMs   *int64 `json:"duration_ms"`
	ErrorMessage string `json:"error_message"`

	CreatedAt int64 `json:"created_at" gorm:"autoCreateTime:milli"`
}

// TableName 指定表名
func (TaskEvent) TableName() string {
	return "task_events"
}
