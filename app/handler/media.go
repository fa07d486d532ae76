package handler

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	appconfig "grill-master/app/config"
	"grill-master/app/logger"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
)

// 路径解析结果缓存 5 分钟，减少重复的磁盘探测
const mediaCacheExpiration = 5 * time.Minute

// MediaHandler 项目产物静态服务：视频、字幕、封面
type MediaHandler struct {
	cfg       *appconfig.Config
	log       *logger.Logger
	pathCache *cache.Cache
}

// NewMediaHandler 创建媒体处理器
func NewMediaHandler(cfg *appconfig.Config, log *logger.Logger) *MediaHandler {
	return &MediaHandler{
		cfg:       cfg,
		log:       log,
		pathCache: cache.New(mediaCacheExpiration, 10*time.Minute),
	}
}

// Serve 返回项目目录内的单个文件，拒绝一切越出项目目录的路径
func (h *MediaHandler) Serve(c *gin.Context) {
	projectID := c.Param("projectId")
	relPath := strings.TrimPrefix(c.Param("filepath"), "/")

	if projectID == "" || relPath == "" {
		fail(c, http.StatusBadRequest, "缺少文件路径")
		return
	}

	cacheKey := projectID + "/" + relPath
	if cached, ok := h.pathCache.Get(cacheKey); ok {
		c.File(cached.(string))
		return
	}

	fullPath, ok := h.resolve(projectID, relPath)
	if !ok {
		fail(c, http.StatusNotFound, "文件不存在")
		return
	}

	h.pathCache.Set(cacheKey, fullPath, cache.DefaultExpiration)
	c.File(fullPath)
}

// resolve 把项目相对路径解析为项目目录内的绝对路径
func (h *MediaHandler) resolve(projectID, relPath string) (string, bool) {
	projectDir := filepath.Join(h.cfg.Server.ProjectsDir, projectID)
	fullPath := filepath.Join(projectDir, filepath.FromSlash(relPath))

	// filepath.Join 已做 Clean，这里确认结果仍在项目目录内
	rel, err := filepath.Rel(projectDir, fullPath)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		h.log.Warnf("拒绝越界的媒体路径: %s/%s", projectID, relPath)
		return "", false
	}

	info, err := os.Stat(fullPath)
	if err != nil || info.IsDir() {
		return "", false
	}
	return fullPath, true
}
