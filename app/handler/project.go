package handler

import (
	"net/http"
	"strconv"

	"grill-master/app/logger"
	"grill-master/app/service"
	"grill-master/app/store"

	"github.com/gin-gonic/gin"
)

// ProjectHandler 项目处理器
type ProjectHandler struct {
	store      *store.Store
	submission *service.SubmissionService
	log        *logger.Logger
}

// NewProjectHandler 创建项目处理器
func NewProjectHandler(st *store.Store, submission *service.SubmissionService, log *logger.Logger) *ProjectHandler {
	return &ProjectHandler{store: st, submission: submission, log: log}
}

// Create 提交新项目并排队执行
func (h *ProjectHandler) Create(c *gin.Context) {
	var req service.SubmitInput
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "请求参数错误: "+err.Error())
		return
	}

	result, err := h.submission.Submit(req)
	if err != nil {
		failFromError(c, err)
		return
	}
	success(c, result, "项目已提交")
}

// List 项目列表，附带各自最近一次任务
func (h *ProjectHandler) List(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "0"))
	projects, err := h.store.ListProjects(limit)
	if err != nil {
		failFromError(c, err)
		return
	}
	success(c, projects, "获取成功")
}

// Get 项目详情
func (h *ProjectHandler) Get(c *gin.Context) {
	project, err := h.store.GetProjectByID(c.Param("id"))
	if err != nil {
		failFromError(c, err)
		return
	}
	success(c, project, "获取成功")
}

// Delete 删除项目及其全部数据
func (h *ProjectHandler) Delete(c *gin.Context) {
	if err := h.submission.DeleteProject(c.Param("id")); err != nil {
		failFromError(c, err)
		return
	}
	success(c, nil, "项目已删除")
}

// WatchProgressRequest 播放进度上报
type WatchProgressRequest struct {
	ViewerID    string  `json:"viewer_id" binding:"required"`
	PositionSec float64 `json:"position_sec" binding:"min=0"`
	DurationSec float64 `json:"duration_sec" binding:"required,gt=0"`
}

// UpsertWatchProgress 记录观众的播放进度
func (h *ProjectHandler) UpsertWatchProgress(c *gin.Context) {
	var req WatchProgressRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "请求参数错误: "+err.Error())
		return
	}

	if err := h.store.UpsertWatchProgress(c.Param("id"), req.ViewerID, req.PositionSec, req.DurationSec); err != nil {
		failFromError(c, err)
		return
	}
	success(c, nil, "进度已保存")
}
