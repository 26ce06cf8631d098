package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"mdm/api"
	"mdm/internal/config"
	"mdm/internal/logger"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "mdm: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// .env 只补充未设置的 APP_* 变量
	if path := findEnvFile(); path != "" {
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("加载 %s: %w", path, err)
		}
	}

	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "dev"
	}
	cfg, err := config.Load(env, os.Getenv("APP_CONFIG_FILE"))
	if err != nil {
		return fmt.Errorf("加载配置: %w", err)
	}
	if err := logger.Init(cfg.Log, zap.String("service", "mdm"), zap.String("env", env)); err != nil {
		return fmt.Errorf("初始化日志: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	gin.SetMode(cfg.Server.Mode)
	app, err := api.NewApp(ctx, cfg, logger.Get())
	if err != nil {
		return fmt.Errorf("初始化应用: %w", err)
	}
	defer app.Close()

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      api.SetupRouter(app),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("主数据治理服务已启动",
			zap.Int("port", cfg.Server.Port),
			zap.String("storage", cfg.Database.Driver),
			zap.String("fallback_policy", cfg.Governance.Fallback.Policy),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err, ok := <-serveErr:
		if ok {
			return fmt.Errorf("HTTP 服务: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("收到退出信号，停止接收请求")
	timeout := time.Duration(cfg.Server.ShutdownTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP 服务关闭异常", zap.Error(err))
	}
	// app.Close 在 defer 中执行，等待进行中的审批决策落盘
	return nil
}

// findEnvFile 从工作目录和可执行文件目录逐级向上查找 .env
func findEnvFile() string {
	var starts []string
	if wd, err := os.Getwd(); err == nil {
		starts = append(starts, wd)
	}
	if exe, err := os.Executable(); err == nil {
		starts = append(starts, filepath.Dir(exe))
	}
	for _, dir := range starts {
		for i := 0; i < 4; i++ {
			path := filepath.Join(dir, ".env")
			if _, err := os.Stat(path); err == nil {
				return path
			}
			parent := filepath.Dir(dir)
			if parent == dir {
				break
			}
			dir = parent
		}
	}
	return ""
}
