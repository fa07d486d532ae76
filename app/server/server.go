package server

import (
	"context"
	"net/http"

	appconfig "grill-master/app/config"
	"grill-master/app/database"
	"grill-master/app/handler"
	"grill-master/app/logger"
	"grill-master/app/pipeline"
	"grill-master/app/service"
	"grill-master/app/store"

	"github.com/gin-gonic/gin"
)

// Server 表示 HTTP 服务器
type Server struct {
	Config *appconfig.Config
	Logger *logger.Logger
	gin    *gin.Engine
	http   *http.Server

	store       *store.Store
	submission  *service.SubmissionService
	runner      *pipeline.Runner
	maintenance *service.MaintenanceService
}

// New 创建一个新的 Server 实例
func New(cfg *appconfig.Config, log *logger.Logger, st *store.Store,
	submission *service.SubmissionService, runner *pipeline.Runner,
	maintenance *service.MaintenanceService) *Server {

	router := gin.Default()

	s := &Server{
		Config: cfg,
		Logger: log,
		gin:    router,
		http: &http.Server{
			Addr:    ":" + cfg.Server.Port,
			Handler: router,
		},
		store:       st,
		submission:  submission,
		runner:      runner,
		maintenance: maintenance,
	}

	// 设置路由
	s.setupRoutes()

	return s
}

// Start 启动流水线、后台清理和 HTTP 服务
func (s *Server) Start() error {
	s.runner.Start()
	if err := s.maintenance.Start(); err != nil {
		return err
	}

	s.Logger.Infof("在端口 %s 启动服务器", s.http.Addr)
	return s.http.ListenAndServe()
}

// Shutdown 优雅关闭：先停调度与队列，等 HTTP 连接排空后才关数据库，
// 避免在途请求落在已关闭的连接上
func (s *Server) Shutdown(ctx context.Context) error {
	s.maintenance.Stop()
	s.runner.Stop()

	err := s.http.Shutdown(ctx)
	if dbErr := database.Close(); dbErr != nil {
		s.Logger.Errorf("关闭数据库连接失败: %v", dbErr)
	}
	return err
}

// setupRoutes 设置API路由
func (s *Server) setupRoutes() {
	projectHandler := handler.NewProjectHandler(s.store, s.submission, s.Logger)
	taskHandler := handler.NewTaskHandler(s.store, s.submission)
	mediaHandler := handler.NewMediaHandler(s.Config, s.Logger)

	// API路由组
	api := s.gin.Group("/api")
	{
		projects := api.Group("/projects")
		{
			projects.POST("", projectHandler.Create)
			projects.GET("", projectHandler.List)
			projects.GET("/:id", projectHandler.Get)
			projects.DELETE("/:id", projectHandler.Delete)
			projects.POST("/:id/watch-progress", projectHandler.UpsertWatchProgress)
		}

		tasks := api.Group("/tasks")
		{
			tasks.GET("", taskHandler.List)
			tasks.GET("/:id", taskHandler.Get)
			tasks.POST("/:id/cancel", taskHandler.Cancel)
			tasks.POST("/:id/retry", taskHandler.Retry)
		}
	}

	// 项目产物：视频、字幕、封面
	s.gin.GET("/media/:projectId/*filepath", mediaHandler.Serve)
}
