package store

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"grill-master/app/config"
	"grill-master/app/database"
	"grill-master/app/logger"
	"grill-master/app/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := database.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	log := logger.New(config.LogConfig{Level: "error", Format: "text", Output: "stdout"})
	return New(db, log)
}

func submitTestProject(t *testing.T, s *Store) *SubmitResult {
	t.Helper()
	result, err := s.SubmitProject(model.SourceBilibili, "BV1ZARVBAEQL", "BV1ZArvBaEqL", "深夜バラエティ")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	return result
}

// TestSubmitProjectCreatesRows: one submission yields a queued project, a
// queued pipeline task and a system event, atomically.
func TestSubmitProjectCreatesRows(t *testing.T) {
	s := newTestStore(t)
	result := submitTestProject(t, s)

	project, err := s.GetProjectByID(result.ProjectID)
	if err != nil {
		t.Fatalf("get project: %v", err)
	}
	if project.Status != model.ProjectStatusQueued {
		t.Fatalf("project status = %s, want queued", project.Status)
	}
	if project.Source != model.SourceBilibili || project.SourceVideoID != "BV1ZARVBAEQL" {
		t.Fatalf("unexpected source fields: %s/%s", project.Source, project.SourceVideoID)
	}
	if len(project.Tasks) != 1 {
		t.Fatalf("tasks = %d, want 1", len(project.Tasks))
	}

	task, err := s.GetTaskByID(result.TaskID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if task.Status != model.TaskStatusQueued || task.CurrentStep != "submit" {
		t.Fatalf("task = %s/%s, want queued/submit", task.Status, task.CurrentStep)
	}
	if len(task.Events) != 1 {
		t.Fatalf("events = %d, want 1", len(task.Events))
	}
}

// TestSubmitProjectConflict: the same (source, videoId) pair is rejected.
func TestSubmitProjectConflict(t *testing.T) {
	s := newTestStore(t)
	submitTestProject(t, s)

	_, err := s.SubmitProject(model.SourceBilibili, "BV1ZARVBAEQL", "another input", "")
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("err = %v, want ErrConflict", err)
	}

	// 不同视频不冲突
	if _, err := s.SubmitProject(model.SourceBilibili, "BV1OTHERONE1", "BV1otherONE1", ""); err != nil {
		t.Fatalf("distinct video rejected: %v", err)
	}
}

// TestUpdateTaskProgressTimestamps: started_at is written once on the first
// running update, finished_at only on terminal states.
func TestUpdateTaskProgressTimestamps(t *testing.T) {
	s := newTestStore(t)
	result := submitTestProject(t, s)

	if err := s.UpdateTaskProgress(result.TaskID, model.TaskStatusRunning, "fetch_metadata", 10, "获取视频信息", nil); err != nil {
		t.Fatalf("progress: %v", err)
	}
	task, _ := s.GetTaskByID(result.TaskID)
	if task.StartedAt == nil {
		t.Fatal("started_at not set on first running update")
	}
	if task.FinishedAt != nil {
		t.Fatal("finished_at set on non-terminal update")
	}
	firstStart := *task.StartedAt

	if err := s.UpdateTaskProgress(result.TaskID, model.TaskStatusRunning, "download_video", 25, "下载视频", nil); err != nil {
		t.Fatalf("progress: %v", err)
	}
	task, _ = s.GetTaskByID(result.TaskID)
	if *task.StartedAt != firstStart {
		t.Fatal("started_at rewritten on later update")
	}

	if err := s.UpdateTaskProgress(result.TaskID, model.TaskStatusFailed, "download_video", 25, "步骤失败",
		&ProgressEvent{EventType: model.EventTypeError, Level: model.EventLevelError, ErrorMessage: "network gone"}); err != nil {
		t.Fatalf("progress: %v", err)
	}
	task, _ = s.GetTaskByID(result.TaskID)
	if task.FinishedAt == nil {
		t.Fatal("finished_at not set on terminal update")
	}
	if task.ErrorMessage != "network gone" {
		t.Fatalf("error_message = %q", task.ErrorMessage)
	}
}

// TestCancelQueuedTask: cancel on a queued task is immediate and terminal.
func TestCancelQueuedTask(t *testing.T) {
	s := newTestStore(t)
	result := submitTestProject(t, s)

	status, err := s.RequestTaskCancel(result.TaskID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if status != model.TaskStatusCanceled {
		t.Fatalf("status = %s, want canceled", status)
	}

	task, _ := s.GetTaskByID(result.TaskID)
	if task.CanceledAt == nil || task.FinishedAt == nil {
		t.Fatal("cancel timestamps missing")
	}
	project, _ := s.GetProjectByID(result.ProjectID)
	if project.Status != model.ProjectStatusCanceled {
		t.Fatalf("project status = %s, want canceled", project.Status)
	}
}

// TestCancelRunningTask: a running task moves to canceling and the flag is
// observable; MarkTaskCanceled finishes the transition.
func TestCancelRunningTask(t *testing.T) {
	s := newTestStore(t)
	result := submitTestProject(t, s)
	if err := s.UpdateTaskProgress(result.TaskID, model.TaskStatusRunning, "run_asr", 55, "语音识别", nil); err != nil {
		t.Fatalf("progress: %v", err)
	}

	status, err := s.RequestTaskCancel(result.TaskID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if status != model.TaskStatusCanceling {
		t.Fatalf("status = %s, want canceling", status)
	}

	requested, err := s.IsTaskCancelRequested(result.TaskID)
	if err != nil || !requested {
		t.Fatalf("cancel flag = %v (%v), want true", requested, err)
	}

	if err := s.MarkTaskCanceled(result.TaskID, "任务已取消", "run_asr", 55); err != nil {
		t.Fatalf("mark canceled: %v", err)
	}
	task, _ := s.GetTaskByID(result.TaskID)
	if task.Status != model.TaskStatusCanceled {
		t.Fatalf("status = %s, want canceled", task.Status)
	}
}

// TestCancelTerminalTaskNoop: cancel keeps the original terminal status.
func TestCancelTerminalTaskNoop(t *testing.T) {
	s := newTestStore(t)
	result := submitTestProject(t, s)
	if err := s.UpdateTaskProgress(result.TaskID, model.TaskStatusCompleted, "done", 100, "流水线执行完成", nil); err != nil {
		t.Fatalf("progress: %v", err)
	}

	status, err := s.RequestTaskCancel(result.TaskID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if status != model.TaskStatusCompleted {
		t.Fatalf("status = %s, want completed preserved", status)
	}
}

// TestStepCheckpointLifecycle: attempts increment across restarts and the
// duration plus output land on completion.
func TestStepCheckpointLifecycle(t *testing.T) {
	s := newTestStore(t)
	result := submitTestProject(t, s)

	if err := s.MarkStepStart(result.TaskID, result.ProjectID, "fetch_metadata"); err != nil {
		t.Fatalf("start: %v", err)
	}
	states, _ := s.GetTaskStepStates(result.TaskID)
	if len(states) != 1 || states[0].Attempt != 1 || states[0].Status != model.StepStatusRunning {
		t.Fatalf("unexpected state after first start: %+v", states)
	}

	if err := s.MarkStepStart(result.TaskID, result.ProjectID, "fetch_metadata"); err != nil {
		t.Fatalf("restart: %v", err)
	}
	states, _ = s.GetTaskStepStates(result.TaskID)
	if states[0].Attempt != 2 {
		t.Fatalf("attempt = %d, want 2", states[0].Attempt)
	}

	duration, err := s.MarkStepEnd(result.TaskID, result.ProjectID, "fetch_metadata",
		model.StepStatusCompleted, "", `{"title":"テスト"}`)
	if err != nil {
		t.Fatalf("end: %v", err)
	}
	if duration < 0 {
		t.Fatalf("duration = %d, want >= 0", duration)
	}

	states, _ = s.GetTaskStepStates(result.TaskID)
	state := states[0]
	if state.Status != model.StepStatusCompleted || state.OutputJson != `{"title":"テスト"}` {
		t.Fatalf("unexpected completed state: %+v", state)
	}
	if state.FinishedAt == nil || state.DurationMs == nil {
		t.Fatal("finish bookkeeping missing")
	}

	// 结束不存在的步骤
	if _, err := s.MarkStepEnd(result.TaskID, result.ProjectID, "no_such_step",
		model.StepStatusFailed, "x", ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

// TestRetryTaskResetsIncompleteSteps: retry keeps completed checkpoints with
// their outputs, resets failed and crash-leftover running rows to pending,
// and preserves attempt counters.
func TestRetryTaskResetsIncompleteSteps(t *testing.T) {
	s := newTestStore(t)
	result := submitTestProject(t, s)

	// 排队中的任务不能重试
	if _, err := s.RetryTask(result.TaskID); !errors.Is(err, ErrActiveTaskExists) {
		t.Fatalf("err = %v, want ErrActiveTaskExists", err)
	}

	// 完成一步、失败一步、留一步 running（模拟崩溃）
	_ = s.MarkStepStart(result.TaskID, result.ProjectID, "fetch_metadata")
	_, _ = s.MarkStepEnd(result.TaskID, result.ProjectID, "fetch_metadata", model.StepStatusCompleted, "", `{"title":"t"}`)
	_ = s.MarkStepStart(result.TaskID, result.ProjectID, "download_video")
	_, _ = s.MarkStepEnd(result.TaskID, result.ProjectID, "download_video", model.StepStatusFailed, "boom", "")
	_ = s.MarkStepStart(result.TaskID, result.ProjectID, "extract_audio")

	if err := s.UpdateTaskProgress(result.TaskID, model.TaskStatusFailed, "download_video", 25, "步骤失败",
		&ProgressEvent{EventType: model.EventTypeError, Level: model.EventLevelError, ErrorMessage: "boom"}); err != nil {
		t.Fatalf("fail task: %v", err)
	}

	retried, err := s.RetryTask(result.TaskID)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if retried.TaskID != result.TaskID || retried.ProjectID != result.ProjectID {
		t.Fatalf("retry result = %+v", retried)
	}

	task, _ := s.GetTaskByID(result.TaskID)
	if task.Status != model.TaskStatusQueued || task.ProgressPercent != 0 {
		t.Fatalf("task after retry = %s/%d, want queued/0", task.Status, task.ProgressPercent)
	}
	if task.ErrorMessage != "" || task.FinishedAt != nil || task.CancelRequestedAt != nil {
		t.Fatal("stale failure fields survived retry")
	}

	project, _ := s.GetProjectByID(result.ProjectID)
	if project.Status != model.ProjectStatusQueued {
		t.Fatalf("project status = %s, want queued", project.Status)
	}

	states, _ := s.GetTaskStepStates(result.TaskID)
	byStep := map[string]model.TaskStepState{}
	for _, st := range states {
		byStep[st.Step] = st
	}

	if st := byStep["fetch_metadata"]; st.Status != model.StepStatusCompleted || st.OutputJson == "" {
		t.Fatalf("completed checkpoint not preserved: %+v", st)
	}
	if st := byStep["download_video"]; st.Status != model.StepStatusPending || st.Attempt != 1 || st.ErrorMessage != "" {
		t.Fatalf("failed step not reset: %+v", st)
	}
	if st := byStep["extract_audio"]; st.Status != model.StepStatusPending {
		t.Fatalf("crash-leftover running step not reset: %+v", st)
	}
}

// TestGetInterruptedTasks only reports running and canceling tasks.
func TestGetInterruptedTasks(t *testing.T) {
	s := newTestStore(t)
	running := submitTestProject(t, s)
	_ = s.UpdateTaskProgress(running.TaskID, model.TaskStatusRunning, "run_asr", 55, "语音识别", nil)

	canceling, _ := s.SubmitProject(model.SourceYoutube, "dQw4w9WgXcQ", "https://youtu.be/dQw4w9WgXcQ", "")
	_ = s.UpdateTaskProgress(canceling.TaskID, model.TaskStatusRunning, "download_video", 25, "下载视频", nil)
	_, _ = s.RequestTaskCancel(canceling.TaskID)

	queued, _ := s.SubmitProject(model.SourceTver, "ep123456", "episodes/ep123456", "")
	_ = queued

	tasks, err := s.GetInterruptedTasks()
	if err != nil {
		t.Fatalf("interrupted: %v", err)
	}
	if len(tasks) != 2 {
		t.Fatalf("interrupted = %d, want 2", len(tasks))
	}
}

// TestUpdateProjectFromPipeline: only provided fields change, missing
// project reports ErrNotFound.
func TestUpdateProjectFromPipeline(t *testing.T) {
	s := newTestStore(t)
	result := submitTestProject(t, s)

	title := "テスト番組"
	status := model.ProjectStatusDownloading
	if err := s.UpdateProjectFromPipeline(result.ProjectID, ProjectUpdate{Status: &status, Title: &title}); err != nil {
		t.Fatalf("update: %v", err)
	}

	project, _ := s.GetProjectByID(result.ProjectID)
	if project.Title != title || project.Status != status {
		t.Fatalf("project = %s/%s", project.Title, project.Status)
	}
	if project.TranslationHint != "深夜バラエティ" {
		t.Fatal("untouched field was overwritten")
	}

	if err := s.UpdateProjectFromPipeline("missing", ProjectUpdate{Title: &title}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

// TestDeleteProjectCascades removes every dependent row.
func TestDeleteProjectCascades(t *testing.T) {
	s := newTestStore(t)
	result := submitTestProject(t, s)
	_ = s.MarkStepStart(result.TaskID, result.ProjectID, "fetch_metadata")
	if err := s.UpsertWatchProgress(result.ProjectID, "viewer-1", 12.5, 600); err != nil {
		t.Fatalf("watch progress: %v", err)
	}

	if err := s.DeleteProject(result.ProjectID); err != nil {
		t.Fatalf("delete: %v", err)
	}

	if _, err := s.GetProjectByID(result.ProjectID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("project survived delete: %v", err)
	}
	if _, err := s.GetTaskByID(result.TaskID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("task survived delete: %v", err)
	}
	states, _ := s.GetTaskStepStates(result.TaskID)
	if len(states) != 0 {
		t.Fatalf("step states survived delete: %d", len(states))
	}

	var watchCount int64
	s.DB().Model(&model.WatchProgress{}).Where("project_id = ?", result.ProjectID).Count(&watchCount)
	if watchCount != 0 {
		t.Fatal("watch progress survived delete")
	}
	var eventCount int64
	s.DB().Model(&model.TaskEvent{}).Where("project_id = ?", result.ProjectID).Count(&eventCount)
	if eventCount != 0 {
		t.Fatal("events survived delete")
	}

	if err := s.DeleteProject(result.ProjectID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second delete err = %v, want ErrNotFound", err)
	}
}

// TestUpsertWatchProgress: second write updates instead of duplicating.
func TestUpsertWatchProgress(t *testing.T) {
	s := newTestStore(t)
	result := submitTestProject(t, s)

	if err := s.UpsertWatchProgress(result.ProjectID, "viewer-1", 10, 600); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := s.UpsertWatchProgress(result.ProjectID, "viewer-1", 55, 600); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := s.UpsertWatchProgress(result.ProjectID, "viewer-2", 5, 600); err != nil {
		t.Fatalf("second viewer: %v", err)
	}

	var rows []model.WatchProgress
	s.DB().Where("project_id = ?", result.ProjectID).Order("viewer_id").Find(&rows)
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(rows))
	}
	if rows[0].PositionSec != 55 {
		t.Fatalf("position = %f, want 55", rows[0].PositionSec)
	}
}

// TestTruncateMessage appends the truncation marker past the limit.
func TestTruncateMessage(t *testing.T) {
	short := "短消息"
	if got := TruncateMessage(short); got != short {
		t.Fatalf("short message changed: %q", got)
	}

	long := strings.Repeat("あ", model.MaxEventMessageLen+25)
	got := TruncateMessage(long)
	if !strings.HasSuffix(got, "...[truncated 25 chars]") {
		t.Fatalf("missing truncation marker: %q", got[len(got)-40:])
	}
	if len([]rune(got)) >= len([]rune(long)) {
		t.Fatal("message not shortened")
	}
}

// TestPruneEventsBefore deletes old events of terminal tasks only; an
// active task keeps its full trail no matter how old.
func TestPruneEventsBefore(t *testing.T) {
	s := newTestStore(t)

	finished := submitTestProject(t, s)
	if err := s.UpdateTaskProgress(finished.TaskID, model.TaskStatusFailed,
		"download_video", 25, "下载失败", nil); err != nil {
		t.Fatalf("progress: %v", err)
	}

	active, err := s.SubmitProject(model.SourceYoutube, "dQw4w9WgXcQ", "https://youtu.be/dQw4w9WgXcQ", "")
	if err != nil {
		t.Fatalf("submit active: %v", err)
	}

	// 把两个任务的现有事件都改得很旧
	s.DB().Model(&model.TaskEvent{}).
		Where("task_id IN ?", []string{finished.TaskID, active.TaskID}).
		Update("created_at", 1000)

	if err := s.AppendTaskEvent(EventParams{TaskID: finished.TaskID, ProjectID: finished.ProjectID, Message: "新事件"}); err != nil {
		t.Fatalf("append: %v", err)
	}

	// finished 任务有 submit + 失败进度两条旧事件
	deleted, err := s.PruneEventsBefore(nowMs() - 60_000)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if deleted != 2 {
		t.Fatalf("deleted = %d, want 2", deleted)
	}

	task, _ := s.GetTaskByID(finished.TaskID)
	if len(task.Events) != 1 || task.Events[0].Message != "新事件" {
		t.Fatalf("surviving events wrong: %+v", task.Events)
	}

	queued, _ := s.GetTaskByID(active.TaskID)
	if len(queued.Events) != 1 {
		t.Fatalf("active task lost its events: %+v", queued.Events)
	}
}
