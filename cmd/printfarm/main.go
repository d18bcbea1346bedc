package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/3D-MAGE/app3dmage/internal/config"
	"github.com/3D-MAGE/app3dmage/internal/middleware"
	"github.com/3D-MAGE/app3dmage/internal/production/changefeed"
	"github.com/3D-MAGE/app3dmage/internal/production/entity"
	"github.com/3D-MAGE/app3dmage/internal/production/handler"
	"github.com/3D-MAGE/app3dmage/internal/production/repository"
	"github.com/3D-MAGE/app3dmage/internal/production/service"
	"github.com/3D-MAGE/app3dmage/internal/production/sse"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	Version   = "1.0.0"
	BuildTime = "unknown"
)

var rootCmd = &cobra.Command{
	Use:           "printfarm",
	Short:         "3D print shop production and cost accounting server",
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd.Context())
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update tables and seed default settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, zapLogger, db, err := bootstrap()
		if err != nil {
			return err
		}
		defer zapLogger.Sync()
		if err := prepare(cmd.Context(), db, cfg, zapLogger); err != nil {
			return err
		}
		zapLogger.Info("Migration completed")
		return nil
	},
}

func main() {
	// 加载 .env 文件（如果存在）
	_ = godotenv.Load(config.GetEnvOrDefault("ENV_FILE", ".env"))

	rootCmd.AddCommand(serveCmd, migrateCmd)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func bootstrap() (*config.Config, *zap.Logger, *gorm.DB, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	zapLogger, err := initLogger(cfg.Log)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to init logger: %w", err)
	}

	db, err := initDatabase(cfg.Database, cfg.Log)
	if err != nil {
		zapLogger.Error("Failed to connect to database", zap.Error(err))
		return nil, nil, nil, err
	}
	zapLogger.Info("Database connected", zap.String("driver", cfg.Database.Driver))
	return cfg, zapLogger, db, nil
}

// prepare 建表并写入默认设置与版本号行
func prepare(ctx context.Context, db *gorm.DB, cfg *config.Config, zapLogger *zap.Logger) error {
	if err := entity.AutoMigrate(db); err != nil {
		return fmt.Errorf("failed to migrate: %w", err)
	}
	svc := service.NewServices(db, repository.NewRepositories(db), cfg.Production, nil, zapLogger)
	if err := svc.Settings.EnsureDefaults(ctx); err != nil {
		return err
	}
	return svc.Version.EnsureInitialized(ctx)
}

func serve(ctx context.Context) error {
	cfg, zapLogger, db, err := bootstrap()
	if err != nil {
		return err
	}
	defer zapLogger.Sync()

	if err := prepare(ctx, db, cfg, zapLogger); err != nil {
		zapLogger.Error("Failed to prepare database", zap.Error(err))
		return err
	}

	hub := sse.NewHub(zapLogger)
	var notifier changefeed.Notifier = changefeed.NewHubNotifier(hub)
	var relay *changefeed.RedisRelay
	if cfg.Redis.Channel != "" {
		rdb := initRedis(cfg.Redis)
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			zapLogger.Warn("Redis not reachable, relay will retry on subscribe", zap.Error(err))
		}
		relay = changefeed.NewRedisRelay(rdb, cfg.Redis.Channel, notifier, zapLogger)
		notifier = relay
	}

	svc := service.NewServices(db, repository.NewRepositories(db), cfg.Production, notifier, zapLogger)
	handlers := handler.NewHandlers(svc, hub)

	gin.SetMode(cfg.Server.Mode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.Logger(zapLogger))
	router.Use(middleware.CORS())
	router.Use(middleware.RequestID())
	router.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/api/v1/events"})))

	registerRoutes(router, handlers, cfg)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		zapLogger.Info("Starting server", zap.Int("port", cfg.Server.Port), zap.String("version", Version))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	if relay != nil {
		g.Go(func() error {
			return relay.Run(gctx)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		zapLogger.Info("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		zapLogger.Error("Server stopped with error", zap.Error(err))
		return err
	}
	zapLogger.Info("Server exited")
	return nil
}

func initLogger(cfg config.LogConfig) (*zap.Logger, error) {
	var zapCfg zap.Config

	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
	}

	switch cfg.Level {
	case "debug":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	}

	return zapCfg.Build()
}

func initDatabase(cfg config.DatabaseConfig, logCfg config.LogConfig) (*gorm.DB, error) {
	level := logger.Warn
	if logCfg.Level == "debug" {
		level = logger.Info
	}
	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(level),
	}

	var dialector gorm.Dialector
	switch strings.ToLower(cfg.Driver) {
	case "sqlite":
		dialector = sqlite.Open(cfg.SQLiteDSN())
	case "postgres", "":
		dialector = postgres.Open(cfg.DSN())
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}

	db, err := gorm.Open(dialector, gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}

	if strings.EqualFold(cfg.Driver, "sqlite") {
		// SQLite 单写者
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	return db, nil
}

func initRedis(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
}

func registerRoutes(r *gin.Engine, h *handler.Handlers, cfg *config.Config) {
	// 健康检查
	r.GET("/health/live", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/health/ready", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// 版本信息
	r.GET("/version", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"version":    Version,
			"build_time": BuildTime,
		})
	})

	api := r.Group("/api/v1", middleware.JWTAuth(cfg.JWT.Secret))
	h.RegisterRoutes(api)
}
