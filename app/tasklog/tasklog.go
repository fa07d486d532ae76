package tasklog

import (
	"grill-master/app/logger"
	"grill-master/app/model"
	"grill-master/app/store"

	"go.uber.org/zap"
)

// Logger 单个任务步骤范围内的事件记录器。
// 每条日志同时输出到控制台并追加一条任务事件，无内部状态，可随步骤重建。
type Logger struct {
	store     *store.Store
	log       *logger.Logger
	taskID    string
	projectID string
	step      string
	percent   int
}

// New 创建任务事件记录器
func New(st *store.Store, log *logger.Logger, taskID, projectID, step string, percent int) *Logger {
	return &Logger{
		store:     st,
		log:       log,
		taskID:    taskID,
		projectID: projectID,
		step:      step,
		percent:   percent,
	}
}

// WithStep 返回切换到新步骤的记录器副本
func (l *Logger) WithStep(step string, percent int) *Logger {
	copied := *l
	copied.step = step
	copied.percent = percent
	return &copied
}

// Step 当前步骤名
func (l *Logger) Step() string {
	return l.step
}

// Percent 当前进度
func (l *Logger) Percent() int {
	return l.percent
}

func (l *Logger) emit(level model.EventLevel, msg, errorMessage string) {
	msg = store.TruncateMessage(msg)

	fields := []zap.Field{
		zap.String("task", l.taskID),
		zap.String("step", l.step),
	}
	switch level {
	case model.EventLevelTrace, model.EventLevelDebug:
		l.log.Debug(msg, fields...)
	case model.EventLevelWarn:
		l.log.Warn(msg, fields...)
	case model.EventLevelError:
		l.log.Error(msg, fields...)
	default:
		l.log.Info(msg, fields...)
	}

	eventType := model.EventTypeLog
	if level == model.EventLevelError {
		eventType = model.EventTypeError
	}

	// 事件写入失败只影响历史记录，不中断流水线
	if err := l.store.AppendTaskEvent(store.EventParams{
		TaskID:       l.taskID,
		ProjectID:    l.projectID,
		Step:         l.step,
		EventType:    eventType,
		Level:        level,
		Message:      msg,
		Percent:      l.percent,
		ErrorMessage: errorMessage,
	}); err != nil {
		l.log.Warnf("追加任务事件失败: %v", err)
	}
}

func (l *Logger) Trace(msg string) {
	l.emit(model.EventLevelTrace, msg, "")
}

func (l *Logger) Debug(msg string) {
	l.emit(model.EventLevelDebug, msg, "")
}

func (l *Logger) Info(msg string) {
	l.emit(model.EventLevelInfo, msg, "")
}

func (l *Logger) Warn(msg string) {
	l.emit(model.EventLevelWarn, msg, "")
}

// Error 记录错误级事件，errorMessage 单独入库
func (l *Logger) Error(msg, errorMessage string) {
	l.emit(model.EventLevelError, msg, errorMessage)
}
