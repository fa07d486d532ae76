package service

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	appconfig "grill-master/app/config"
	"grill-master/app/logger"
	"grill-master/app/store"

	"github.com/robfig/cron/v3"
)

// 清理周期：已删项目目录保留七天，终态任务的事件保留三十天
const (
	deletedDirTTL  = 7 * 24 * time.Hour
	eventRetention = 30 * 24 * time.Hour
)

// MaintenanceService 周期性后台清理：
// 删除项目时挪走的 _deleted_ 目录、过旧的任务事件。
type MaintenanceService struct {
	cfg   *appconfig.Config
	store *store.Store
	log   *logger.Logger
	cron  *cron.Cron
}

func NewMaintenanceService(cfg *appconfig.Config, st *store.Store, log *logger.Logger) *MaintenanceService {
	return &MaintenanceService{
		cfg:   cfg,
		store: st,
		log:   log,
		cron:  cron.New(),
	}
}

// Start 注册每小时的清理任务，并立刻先扫一轮，不等第一个整点
func (m *MaintenanceService) Start() error {
	if _, err := m.cron.AddFunc("@hourly", m.RunOnce); err != nil {
		return err
	}
	m.cron.Start()
	go m.RunOnce()
	m.log.Info("后台清理任务已启动")
	return nil
}

// Stop 停止调度，等待进行中的清理结束
func (m *MaintenanceService) Stop() {
	ctx := m.cron.Stop()
	<-ctx.Done()
}

// RunOnce 执行一轮清理
func (m *MaintenanceService) RunOnce() {
	m.purgeDeletedDirs()
	m.pruneEvents()
}

// purgeDeletedDirs 删除超过保留期的 _deleted_ 目录
func (m *MaintenanceService) purgeDeletedDirs() {
	entries, err := os.ReadDir(m.cfg.Server.ProjectsDir)
	if err != nil {
		if !os.IsNotExist(err) {
			m.log.Warnf("扫描项目目录失败: %v", err)
		}
		return
	}

	cutoff := time.Now().Add(-deletedDirTTL)
	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), DeletedDirPrefix) {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}

		path := filepath.Join(m.cfg.Server.ProjectsDir, entry.Name())
		if err := os.RemoveAll(path); err != nil {
			m.log.Warnf("清理已删项目目录失败 %s: %v", entry.Name(), err)
			continue
		}
		m.log.Infof("已清理项目目录: %s", entry.Name())
	}
}

// pruneEvents 删除超过保留期的任务事件
func (m *MaintenanceService) pruneEvents() {
	cutoff := time.Now().Add(-eventRetention).UnixMilli()
	deleted, err := m.store.PruneEventsBefore(cutoff)
	if err != nil {
		m.log.Warnf("清理任务事件失败: %v", err)
		return
	}
	if deleted > 0 {
		m.log.Infof("已清理 %d 条过期任务事件", deleted)
	}
}
