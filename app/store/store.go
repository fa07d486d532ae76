package store

import (
	"errors"
	"fmt"
	"time"

	"grill-master/app/logger"
	"grill-master/app/model"

	"gorm.io/gorm"
)

// 存储层错误，处理器据此映射 HTTP 状态码
var (
	// ErrConflict (source, source_video_id) 已存在
	ErrConflict = errors.New("项目已存在")
	// ErrNotFound 目标行不存在
	ErrNotFound = errors.New("记录不存在")
	// ErrActiveTaskExists 项目已有未结束的任务
	ErrActiveTaskExists = errors.New("任务尚未结束")
)

// Store 持久化存储，状态字段的唯一修改入口。
// 所有涉及多行的写操作都在单个事务内完成。
type Store struct {
	db  *gorm.DB
	log *logger.Logger
}

// New 创建存储实例
func New(db *gorm.DB, log *logger.Logger) *Store {
	return &Store{db: db, log: log}
}

// DB 暴露底层连接（仅测试使用）
func (s *Store) DB() *gorm.DB {
	return s.db
}

func nowMs() int64 {
	return time.Now().UnixMilli()
}

// TruncateMessage 把消息截断到事件长度上限，超出部分以标记替代
func TruncateMessage(msg string) string {
	runes := []rune(msg)
	if len(runes) <= model.MaxEventMessageLen {
		return msg
	}
	dropped := len(runes) - model.MaxEventMessageLen
	return string(runes[:model.MaxEventMessageLen]) + fmt.Sprintf("...[truncated %d chars]", dropped)
}

// EventParams 追加任务事件的参数，零值字段取默认值
type EventParams struct {
	TaskID       string
	ProjectID    string
	Step         string // 默认 system
	EventType    model.EventType
	Level        model.EventLevel
	Message      string
	Percent      int
	DurationMs   *int64
	ErrorMessage string
}

func (p *EventParams) applyDefaults() {
	if p.Step == "" {
		p.Step = "system"
	}
	if p.EventType == "" {
		p.EventType = model.EventTypeSystem
	}
	if p.Level == "" {
		p.Level = model.EventLevelInfo
	}
}

// PruneEventsBefore 删除终态任务在给定毫秒时间戳之前的事件，返回删除行数。
// 排队或执行中的任务保留完整事件轨迹，哪怕已经很旧。
func (s *Store) PruneEventsBefore(cutoffMs int64) (int64, error) {
	terminal := s.db.Model(&model.Task{}).Select("task_id").
		Where("status IN ?", []model.TaskStatus{
			model.TaskStatusCompleted,
			model.TaskStatusFailed,
			model.TaskStatusCanceled,
		})
	result := s.db.Where("created_at < ? AND task_id IN (?)", cutoffMs, terminal).
		Delete(&model.TaskEvent{})
	return result.RowsAffected, result.Error
}

// AppendTaskEvent 追加一条任务事件
func (s *Store) AppendTaskEvent(p EventParams) error {
	return s.appendTaskEvent(s.db, p)
}

func (s *Store) appendTaskEvent(tx *gorm.DB, p EventParams) error {
	p.applyDefaults()
	event := &model.TaskEvent{
		TaskID:       p.TaskID,
		ProjectID:    p.ProjectID,
		Step:         p.Step,
		EventType:    p.EventType,
		Level:        p.Level,
		Message:      TruncateMessage(p.Message),
		Percent:      p.Percent,
		DurationMs:   p.DurationMs,
		ErrorMessage: p.ErrorMessage,
	}
	return tx.Create(event).Error
}
