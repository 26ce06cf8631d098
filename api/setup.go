package api

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"mdm/internal/auth"
	"mdm/internal/config"
	"mdm/internal/infra"
	"mdm/internal/infra/queue"
	"mdm/internal/mdm"
	"mdm/internal/metrics"
	middlewarepkg "mdm/internal/middleware"
	"mdm/internal/notification"
	"mdm/internal/seed"
	"mdm/internal/store"
	"mdm/internal/worker"
	"mdm/internal/workflow/approval"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// devJWTSecret 仅用于本地开发，release 模式由配置校验拒绝空密钥
const devJWTSecret = "mdm-dev-secret-change-in-production"

// App 应用容器：存储、治理服务、通知与认证
type App struct {
	Config       *config.Config
	Logger       *zap.Logger
	DB           *gorm.DB
	Redis        redis.UniversalClient
	Service      *mdm.Service
	JWT          *auth.JWTService
	Hub          *notification.WebSocketHub
	Queue        queue.Client
	Worker       *worker.Server
	LoginLimiter *middlewarepkg.RateLimiter
}

// NewApp 按配置初始化所有依赖并加载持久化状态
func NewApp(ctx context.Context, cfg *config.Config, log *zap.Logger) (*App, error) {
	if log == nil {
		log = zap.NewNop()
	}
	app := &App{Config: cfg, Logger: log}

	provider, err := app.openStore()
	if err != nil {
		return nil, err
	}

	if cfg.Redis.Enabled {
		app.Redis, err = infra.OpenRedis(ctx, &cfg.Redis, log.Named("redis"))
		if err != nil {
			app.Close()
			return nil, err
		}
	}

	// 通知：WebSocket 在线推送 + 可选 Webhook；启用队列时由 worker 异步投递
	hubOpts := []notification.HubOption{notification.WithHubLogger(log.Named("ws"))}
	if app.Redis != nil {
		hubOpts = append(hubOpts, notification.WithOfflineStore(notification.NewRedisOfflineStore(app.Redis, 100, 24*time.Hour)))
	}
	app.Hub = notification.NewWebSocketHub(hubOpts...)
	deliver := notification.NewMultiNotifier(
		notification.NewWebSocketNotifier(app.Hub),
		notification.NewWebhookNotifier(notification.WebhookConfig{
			URL:     cfg.Webhook.URL,
			Secret:  cfg.Webhook.Secret,
			Timeout: time.Duration(cfg.Webhook.Timeout) * time.Second,
			Headers: cfg.Webhook.Headers,
		}),
	)
	var notifier approval.Notifier = deliver
	if cfg.Queue.Enabled && app.Redis != nil {
		app.Queue = queue.NewClient(cfg.Redis, cfg.Queue.MaxRetry)
		app.Worker = worker.NewServer(cfg.Redis, cfg.Queue, deliver, log.Named("worker"))
		notifier = queue.NewNotifier(app.Queue)
	}

	svcCfg, err := serviceConfig(cfg.Governance)
	if err != nil {
		app.Close()
		return nil, err
	}
	app.Service = mdm.New(provider, svcCfg,
		mdm.WithLogger(log.Named("mdm")),
		mdm.WithNotifier(notifier),
	)
	if err := app.Service.Load(ctx); err != nil {
		app.Close()
		return nil, fmt.Errorf("加载治理数据失败: %w", err)
	}
	if err := app.seed(ctx); err != nil {
		app.Close()
		return nil, err
	}

	ttl, err := cfg.Auth.TTL()
	if err != nil {
		app.Close()
		return nil, err
	}
	secret := cfg.Auth.JWTSecret
	if secret == "" {
		log.Warn("auth.jwt_secret 未配置，已回退为开发默认值，请在生产环境设置强随机密钥")
		secret = devJWTSecret
	}
	app.JWT = auth.NewJWTService(secret, cfg.Auth.Issuer, ttl, app.Redis)
	app.LoginLimiter = middlewarepkg.NewRateLimiter(nil)

	if app.Worker != nil {
		if err := app.Worker.Start(); err != nil {
			app.Close()
			return nil, fmt.Errorf("启动 worker 失败: %w", err)
		}
	}
	return app, nil
}

func (a *App) openStore() (store.Provider, error) {
	if a.Config.Database.Driver == "memory" {
		a.Logger.Warn("使用内存存储，进程退出后数据丢失")
		return store.NewMemoryProvider(), nil
	}
	db, err := infra.OpenDatabase(&a.Config.Database, a.Logger)
	if err != nil {
		return nil, err
	}
	a.DB = db
	provider := store.NewGormProvider(db)
	if a.Config.Database.AutoMigrate {
		if err := provider.AutoMigrate(); err != nil {
			return nil, fmt.Errorf("数据库迁移失败: %w", err)
		}
	}
	return provider, nil
}

func (a *App) seed(ctx context.Context) error {
	path := a.Config.Governance.SeedFile
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		a.Logger.Warn("种子文件不存在，跳过", zap.String("path", path))
		return nil
	}
	if _, err := seed.LoadFile(ctx, a.Service, path, a.Logger); err != nil {
		return fmt.Errorf("导入种子数据失败: %w", err)
	}
	return nil
}

func serviceConfig(cfg config.GovernanceConfig) (mdm.Config, error) {
	policy, err := approval.ParseFallbackPolicy(cfg.Fallback.Policy)
	if err != nil {
		return mdm.Config{}, err
	}
	deletePolicy, err := mdm.ParseDeletePolicy(cfg.DeletePolicy)
	if err != nil {
		return mdm.Config{}, err
	}
	return mdm.Config{
		DeletePolicy: deletePolicy,
		Fallback: approval.FallbackConfig{
			Policy:  policy,
			UserIDs: cfg.Fallback.UserIDs,
			RoleIDs: cfg.Fallback.RoleIDs,
		},
		EventBufferSize: cfg.EventBufferSize,
	}, nil
}

// SetupRouter 设置并返回 Gin 路由
func SetupRouter(app *App) *gin.Engine {
	router := gin.New()
	router.Use(
		gin.Recovery(),
		middlewarepkg.RequestIDMiddleware(),
		RequestLogger(),
		CORS(app.Config.Server.AllowedOrigins),
		metrics.PrometheusMiddleware(),
	)

	router.GET("/health", HealthCheck())
	router.GET("/ready", ReadinessCheck(app))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	RegisterRoutes(router, app, NewHandlers(app))
	return router
}

// Close 按依赖逆序释放资源
func (a *App) Close() {
	if a.Hub != nil {
		a.Hub.CloseAll()
	}
	if a.Worker != nil {
		a.Worker.Shutdown()
	}
	if a.Service != nil {
		a.Service.Approvals().Wait()
	}
	if a.Queue != nil {
		if err := a.Queue.Close(); err != nil {
			a.Logger.Warn("关闭队列客户端失败", zap.Error(err))
		}
	}
	if a.LoginLimiter != nil {
		a.LoginLimiter.Stop()
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			a.Logger.Warn("关闭 Redis 失败", zap.Error(err))
		}
	}
	if a.DB != nil {
		if err := infra.CloseDatabase(a.DB); err != nil {
			a.Logger.Warn("关闭数据库失败", zap.Error(err))
		}
	}
}
