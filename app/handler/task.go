package handler

import (
	"strconv"

	"grill-master/app/service"
	"grill-master/app/store"

	"github.com/gin-gonic/gin"
)

// TaskHandler 任务处理器
type TaskHandler struct {
	store      *store.Store
	submission *service.SubmissionService
}

// NewTaskHandler 创建任务处理器
func NewTaskHandler(st *store.Store, submission *service.SubmissionService) *TaskHandler {
	return &TaskHandler{store: st, submission: submission}
}

// List 任务列表，按更新时间倒序
func (h *TaskHandler) List(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "0"))
	tasks, err := h.store.ListTasks(limit)
	if err != nil {
		failFromError(c, err)
		return
	}
	success(c, tasks, "获取成功")
}

// Get 任务详情，附带最近的事件
func (h *TaskHandler) Get(c *gin.Context) {
	task, err := h.store.GetTaskByID(c.Param("id"))
	if err != nil {
		failFromError(c, err)
		return
	}
	success(c, task, "获取成功")
}

// Cancel 请求取消任务，返回处理后的状态
func (h *TaskHandler) Cancel(c *gin.Context) {
	status, err := h.submission.CancelTask(c.Param("id"))
	if err != nil {
		failFromError(c, err)
		return
	}
	success(c, gin.H{"status": status}, "取消请求已处理")
}

// Retry 重置任务并重新入队
func (h *TaskHandler) Retry(c *gin.Context) {
	result, err := h.submission.RetryTask(c.Param("id"))
	if err != nil {
		failFromError(c, err)
		return
	}
	success(c, result, "任务已重新入队")
}
