package cmd

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"grill-master/app/config"
	"grill-master/app/database"
	"grill-master/app/logger"
	"grill-master/app/pipeline"
	"grill-master/app/provider"
	"grill-master/app/provider/funasr"
	"grill-master/app/provider/gemini"
	"grill-master/app/server"
	"grill-master/app/service"
	"grill-master/app/store"

	"github.com/spf13/cobra"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "启动服务器",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := config.Load()

		// 创建日志器
		log := logger.New(cfg.Log)
		defer log.Sync()

		// 初始化数据库
		if err := database.Init(cfg, log); err != nil {
			log.Fatalf("数据库初始化失败: %v", err)
		}

		st := store.New(database.GetDB(), log)

		asr, translate := buildProviders(cfg, log)
		runner := pipeline.New(cfg, st, log, asr, translate)

		// 清理上次进程遗留的 running / canceling 任务
		if err := runner.RecoverInterrupted(); err != nil {
			log.Errorf("启动恢复失败: %v", err)
		}

		submission := service.NewSubmissionService(cfg, st, log, runner)
		maintenance := service.NewMaintenanceService(cfg, st, log)

		srv := server.New(cfg, log, st, submission, runner, maintenance)

		// 在协程中启动服务器
		go func() {
			if err := srv.Start(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("启动服务器失败: %v", err)
			}
		}()

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		log.Info("收到关闭信号，正在关闭服务器...")

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.Errorf("服务器关闭失败: %v", err)
		}
		log.Info("服务器已退出")
	},
}

// buildProviders 按流水线模式选择供应商。
// live 模式缺少凭据时启动只告警，提交接口会拒绝请求。
func buildProviders(cfg *config.Config, log *logger.Logger) (provider.ASRProvider, provider.TranslateProvider) {
	if cfg.Pipeline.Mode != config.ModeLive {
		log.Info("流水线运行于 mock 模式")
		return provider.NewMockASR(), provider.NewMockTranslate()
	}

	if err := cfg.ValidateLive(); err != nil {
		log.Warnf("live 模式配置不完整: %v", err)
	}

	asr, err := funasr.New(cfg.ASR, cfg.OSS)
	if err != nil {
		log.Fatalf("初始化语音识别供应商失败: %v", err)
	}
	return asr, gemini.New(cfg.Gemini)
}

func init() {
	rootCmd.AddCommand(serverCmd)
}
