package pipeline

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	appconfig "grill-master/app/config"
	"grill-master/app/logger"
	"grill-master/app/model"
	"grill-master/app/provider"
	"grill-master/app/store"
	"grill-master/app/tasklog"
	"grill-master/app/utils/command"
)

// QueueItem 队列元素
type QueueItem struct {
	TaskID    string
	ProjectID string
}

// Runner 单工作者流水线。FIFO 队列串行消费，
// 同一时刻只有一个任务在执行，入队按 taskID 幂等。
type Runner struct {
	cfg       *appconfig.Config
	store     *store.Store
	log       *logger.Logger
	asr       provider.ASRProvider
	translate provider.TranslateProvider

	mu     sync.Mutex
	queue  []QueueItem
	queued map[string]struct{}

	notify chan struct{}
	stop   chan struct{}
	done   chan struct{}
}

// New 创建流水线执行器，Start 之前不会消费队列
func New(cfg *appconfig.Config, st *store.Store, log *logger.Logger, asr provider.ASRProvider, translate provider.TranslateProvider) *Runner {
	return &Runner{
		cfg:       cfg,
		store:     st,
		log:       log,
		asr:       asr,
		translate: translate,
		queued:    map[string]struct{}{},
		notify:    make(chan struct{}, 1),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start 启动消费循环
func (r *Runner) Start() {
	go r.loop()
}

// Stop 通知消费循环退出并等待当前任务结束
func (r *Runner) Stop() {
	close(r.stop)
	<-r.done
}

// Enqueue 幂等入队，已在队列中返回 false
func (r *Runner) Enqueue(item QueueItem) bool {
	r.mu.Lock()
	if _, ok := r.queued[item.TaskID]; ok {
		r.mu.Unlock()
		return false
	}
	r.queued[item.TaskID] = struct{}{}
	r.queue = append(r.queue, item)
	r.mu.Unlock()

	select {
	case r.notify <- struct{}{}:
	default:
	}
	return true
}

func (r *Runner) loop() {
	defer close(r.done)
	for {
		item, ok := r.next()
		if !ok {
			select {
			case <-r.notify:
				continue
			case <-r.stop:
				return
			}
		}

		// runOne 的错误已作为任务事件落库，这里只消化
		r.runOne(item)

		r.mu.Lock()
		delete(r.queued, item.TaskID)
		r.mu.Unlock()
	}
}

func (r *Runner) next() (QueueItem, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.queue) == 0 {
		return QueueItem{}, false
	}
	item := r.queue[0]
	r.queue = r.queue[1:]
	return item, true
}

// RecoverInterrupted 启动时清理上次进程遗留的任务：
// running 标记为失败，canceling 完成取消。不自动重新入队。
func (r *Runner) RecoverInterrupted() error {
	tasks, err := r.store.GetInterruptedTasks()
	if err != nil {
		return err
	}

	for _, t := range tasks {
		switch t.Status {
		case model.TaskStatusRunning:
			failed := model.ProjectStatusFailed
			if err := r.store.UpdateProjectFromPipeline(t.ProjectID, store.ProjectUpdate{Status: &failed}); err != nil {
				r.log.Warnf("恢复任务 %s 时更新项目失败: %v", t.TaskID, err)
			}
			if err := r.store.UpdateTaskProgress(t.TaskID, model.TaskStatusFailed,
				t.CurrentStep, t.ProgressPercent, "服务重启导致任务中断",
				&store.ProgressEvent{
					EventType:    model.EventTypeError,
					Level:        model.EventLevelError,
					ErrorMessage: "任务运行期间检测到服务重启",
				}); err != nil {
				r.log.Warnf("恢复任务 %s 失败: %v", t.TaskID, err)
			}

		case model.TaskStatusCanceling:
			if err := r.store.MarkTaskCanceled(t.TaskID,
				"用户请求的取消在重启后生效", t.CurrentStep, t.ProgressPercent); err != nil {
				r.log.Warnf("恢复取消任务 %s 失败: %v", t.TaskID, err)
			}
		}
	}

	if len(tasks) > 0 {
		r.log.Infof("启动恢复: 处理了 %d 个被中断的任务", len(tasks))
	}
	return nil
}

// runOne 执行一个任务的完整步骤序列
func (r *Runner) runOne(item QueueItem) {
	detail, err := r.store.GetTaskByID(item.TaskID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			r.log.Errorf("加载任务 %s 失败: %v", item.TaskID, err)
		}
		return
	}
	if detail.Status == model.TaskStatusCanceled {
		return
	}

	project, err := r.store.GetProjectByID(item.ProjectID)
	if err != nil {
		r.failTask(item, detail.CurrentStep, detail.ProgressPercent,
			"项目不存在或无法加载", err)
		return
	}

	projectDir := filepath.Join(r.cfg.Server.ProjectsDir, item.ProjectID)
	if err := os.MkdirAll(projectDir, 0755); err != nil {
		r.failTask(item, detail.CurrentStep, detail.ProgressPercent,
			"创建项目目录失败", err)
		return
	}

	sc := newStepContext(item, &project.Project, projectDir, deriveSourceURL(&project.Project))
	sc.shouldCancel = func() bool {
		requested, err := r.store.IsTaskCancelRequested(item.TaskID)
		return err == nil && requested
	}
	if err := r.loadStates(sc); err != nil {
		r.failTask(item, detail.CurrentStep, detail.ProgressPercent,
			"加载步骤状态失败", err)
		return
	}

	baseLog := tasklog.New(r.store, r.log, item.TaskID, item.ProjectID, "system", 0)

	for _, step := range steps {
		if canceled := r.cancelAtSafePoint(item, step.ID, step.Percent); canceled {
			return
		}

		if state, ok := sc.states[step.ID]; ok && state.Status == model.StepStatusCompleted {
			baseLog.WithStep(step.ID, step.Percent).Debug("步骤已完成，跳过")
			continue
		}

		log := baseLog.WithStep(step.ID, step.Percent)

		// 项目状态跟随步骤推进
		projectStatus := step.ProjectStatus
		if err := r.store.UpdateProjectFromPipeline(item.ProjectID, store.ProjectUpdate{Status: &projectStatus}); err != nil {
			r.failTask(item, step.ID, step.Percent, "更新项目状态失败", err)
			return
		}
		if err := r.store.UpdateTaskProgress(item.TaskID, model.TaskStatusRunning,
			step.ID, step.Percent, step.Message, nil); err != nil {
			r.failTask(item, step.ID, step.Percent, "更新任务进度失败", err)
			return
		}

		if err := r.store.MarkStepStart(item.TaskID, item.ProjectID, step.ID); err != nil {
			r.failTask(item, step.ID, step.Percent, "写入步骤检查点失败", err)
			return
		}
		r.appendEvent(item, step.ID, step.Percent, model.EventTypeStepStart,
			"开始: "+step.Message, nil)

		output, err := step.Run(r, sc, log)
		if err != nil {
			if command.IsCanceled(err) {
				// 子进程被终止，步骤保持 running 且 attempt 不回退，重试时续跑
				r.markCanceled(item, step.ID, step.Percent)
				return
			}
			r.failStep(item, step, err)
			return
		}

		outputJson := marshalOutput(output)
		durationMs, err := r.store.MarkStepEnd(item.TaskID, item.ProjectID, step.ID,
			model.StepStatusCompleted, "", outputJson)
		if err != nil {
			r.failTask(item, step.ID, step.Percent, "写入步骤检查点失败", err)
			return
		}
		r.appendEvent(item, step.ID, step.Percent, model.EventTypeStepEnd,
			"完成: "+step.Message, &durationMs)

		if err := r.loadStates(sc); err != nil {
			r.failTask(item, step.ID, step.Percent, "加载步骤状态失败", err)
			return
		}

		if canceled := r.cancelAtSafePoint(item, step.ID, step.Percent); canceled {
			return
		}
	}

	if err := r.store.UpdateTaskProgress(item.TaskID, model.TaskStatusCompleted,
		StepDone, 100, "流水线执行完成", nil); err != nil {
		r.log.Errorf("写入任务完成状态失败 %s: %v", item.TaskID, err)
		return
	}
	r.log.Infof("任务完成: %s (项目 %s)", item.TaskID, item.ProjectID)
}

// cancelAtSafePoint 安全点检查，有取消请求时完成取消并返回 true
func (r *Runner) cancelAtSafePoint(item QueueItem, step string, percent int) bool {
	requested, err := r.store.IsTaskCancelRequested(item.TaskID)
	if err != nil {
		r.log.Warnf("查询取消状态失败 %s: %v", item.TaskID, err)
		return false
	}
	if !requested {
		return false
	}
	r.markCanceled(item, step, percent)
	return true
}

func (r *Runner) markCanceled(item QueueItem, step string, percent int) {
	if err := r.store.MarkTaskCanceled(item.TaskID, "任务已取消", step, percent); err != nil {
		r.log.Errorf("标记任务取消失败 %s: %v", item.TaskID, err)
	}
}

// failStep 步骤执行出错：检查点置 failed，项目置 failed，任务终止
func (r *Runner) failStep(item QueueItem, step stepDef, runErr error) {
	errMsg := runErr.Error()
	if _, err := r.store.MarkStepEnd(item.TaskID, item.ProjectID, step.ID,
		model.StepStatusFailed, errMsg, ""); err != nil {
		r.log.Warnf("写入失败检查点出错 %s/%s: %v", item.TaskID, step.ID, err)
	}
	r.failTask(item, step.ID, step.Percent, "步骤失败: "+step.Message, runErr)
}

// failTask 任务级失败：项目置 failed，任务行置 failed 并附错误事件
func (r *Runner) failTask(item QueueItem, step string, percent int, message string, cause error) {
	failed := model.ProjectStatusFailed
	if err := r.store.UpdateProjectFromPipeline(item.ProjectID, store.ProjectUpdate{Status: &failed}); err != nil && !errors.Is(err, store.ErrNotFound) {
		r.log.Warnf("更新项目失败状态出错 %s: %v", item.ProjectID, err)
	}

	errMsg := ""
	if cause != nil {
		errMsg = cause.Error()
	}
	if err := r.store.UpdateTaskProgress(item.TaskID, model.TaskStatusFailed,
		step, percent, message, &store.ProgressEvent{
			EventType:    model.EventTypeError,
			Level:        model.EventLevelError,
			ErrorMessage: errMsg,
		}); err != nil {
		r.log.Errorf("写入任务失败状态出错 %s: %v", item.TaskID, err)
	}

	r.log.Errorf("任务失败 %s: %s: %v", item.TaskID, message, cause)
}

func (r *Runner) appendEvent(item QueueItem, step string, percent int, eventType model.EventType, message string, durationMs *int64) {
	if err := r.store.AppendTaskEvent(store.EventParams{
		TaskID:     item.TaskID,
		ProjectID:  item.ProjectID,
		Step:       step,
		EventType:  eventType,
		Level:      model.EventLevelInfo,
		Message:    message,
		Percent:    percent,
		DurationMs: durationMs,
	}); err != nil {
		r.log.Warnf("追加任务事件失败: %v", err)
	}
}

func (r *Runner) loadStates(sc *stepContext) error {
	states, err := r.store.GetTaskStepStates(sc.item.TaskID)
	if err != nil {
		return err
	}
	sc.states = make(map[string]model.TaskStepState, len(states))
	for _, s := range states {
		sc.states[s.Step] = s
	}
	return nil
}

func marshalOutput(output interface{}) string {
	if output == nil {
		return ""
	}
	data, err := json.Marshal(output)
	if err != nil {
		return ""
	}
	return string(data)
}

// deriveSourceURL 提交的原始输入到下载地址的确定性映射
func deriveSourceURL(p *model.Project) string {
	if strings.HasPrefix(p.OriginalInput, "http://") || strings.HasPrefix(p.OriginalInput, "https://") {
		return p.OriginalInput
	}
	switch p.Source {
	case model.SourceBilibili:
		return fmt.Sprintf("https://www.bilibili.com/video/%s", p.SourceVideoID)
	case model.SourceYoutube:
		return fmt.Sprintf("https://www.youtube.com/watch?v=%s", p.SourceVideoID)
	}
	return p.OriginalInput
}
