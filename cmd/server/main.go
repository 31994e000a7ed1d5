package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	jwtpkg "leomail/backend/internal/auth/jwt"
	"leomail/backend/internal/config"
	"leomail/backend/internal/events"
	"leomail/backend/internal/health"
	"leomail/backend/internal/identity"
	"leomail/backend/internal/logger"
	"leomail/backend/internal/monitoring"
	"leomail/backend/internal/scheduler"
	"leomail/backend/internal/security"
	"leomail/backend/internal/service"
	"leomail/backend/internal/smtp"
	"leomail/backend/internal/storage"
	"leomail/backend/internal/storage/filesystem"
	"leomail/backend/internal/storage/hybrid"
	"leomail/backend/internal/storage/memory"
	"leomail/backend/internal/storage/postgres"
	"leomail/backend/internal/storage/redis"
	"leomail/backend/internal/storage/s3store"
	httptransport "leomail/backend/internal/transport/http"
	"leomail/backend/internal/websocket"
)

// main 启动 HTTP API、定时发送与可选的本地收信服务。
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer func() { _ = log.Sync() }()
	log.Info("starting leomail server",
		zap.String("log_level", cfg.Log.Level),
		zap.Bool("development", cfg.Log.Development),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics := monitoring.NewMetrics()
	healthChecker := health.NewHealthChecker(log)

	// 存储层
	var (
		store      storage.Store
		sqlStore   *postgres.Store
		redisCache *redis.Client
	)
	if cfg.Database.Type != "" && cfg.Database.DSN != "" {
		sqlStore, err = postgres.Open(cfg.Database)
		if err != nil {
			log.Fatal("failed to initialize database storage", zap.Error(err))
		}
		store = sqlStore
		log.Info("using database storage", zap.String("type", cfg.Database.Type))
	} else {
		store = memory.NewStore()
		log.Info("using memory storage (development mode)")
	}
	defer store.Close()
	healthChecker.AddReadiness("database", store.Health)

	if cfg.Redis.Enabled {
		redisCache, err = redis.New(cfg.Redis, log)
		if err != nil {
			log.Fatal("failed to connect redis", zap.Error(err))
		}
		defer redisCache.Close()
		store = hybrid.NewStore(store, redis.NewCache(redisCache, cfg.Redis.TemplateTTL), log)
		healthChecker.AddPinger("redis", redisCache)
	}

	objects, err := newObjectStore(ctx, cfg, healthChecker, log)
	if err != nil {
		log.Fatal("failed to initialize attachment storage", zap.Error(err))
	}

	cipher, err := security.NewCredentialCipher(cfg.Crypto.Passphrase)
	if err != nil {
		log.Fatal("failed to initialize credential cipher", zap.Error(err))
	}

	// 身份提供方
	var (
		idp      service.IdentityProvider
		idClient *identity.Client
	)
	if cfg.IdentityEnabled() {
		idClient, err = identity.NewClient(cfg.Identity, log)
		if err != nil {
			log.Fatal("failed to initialize identity client", zap.Error(err))
		}
		idp = idClient
	} else {
		log.Warn("identity provider not configured, unknown contacts will be skipped")
	}

	// 事件发布
	var publisher service.EventPublisher
	if cfg.NATS.URL != "" {
		natsPublisher, err := events.Connect(cfg.NATS, log)
		if err != nil {
			log.Fatal("failed to connect nats", zap.Error(err))
		}
		defer natsPublisher.Close()
		publisher = natsPublisher
	}

	// 服务层
	permissionService := service.NewPermissionService(store)
	templateService := service.NewTemplateService(store, security.NewContentFilter(), log)
	if err := templateService.EnsureDefaultGreetings(); err != nil {
		log.Fatal("failed to seed greetings", zap.Error(err))
	}
	sendService := service.NewSendService(service.SendServiceDeps{
		Store:     store,
		Resolver:  service.NewResolver(store, store, idp, log),
		Transport: smtp.NewTransport(cfg.SMTP, log),
		Cipher:    cipher,
		Objects:   objects,
		Events:    publisher,
		Metrics:   metrics,
		ClaimTTL:  cfg.Scheduler.ClaimTTL,
		Logger:    log,
	})
	sendJobService := service.NewSendJobService(store, objects, log)
	attachmentService := service.NewAttachmentService(store, objects,
		security.NewAttachmentPolicy(security.DefaultMaxAttachmentSize), permissionService, metrics, log)
	importStatus := service.NewImportStatus()

	jwtManager := jwtpkg.NewManager(cfg.JWT)
	log.Info("JWT configuration",
		zap.String("issuer", cfg.JWT.Issuer),
		zap.Duration("access_expiry", cfg.JWT.AccessExpiry),
	)

	wsHub := websocket.NewHub(cfg.CORS.AllowedOrigins, jwtManager, importStatus, log)
	cancelSubscription := importStatus.Subscribe(wsHub.NotifyImportStatus)
	defer cancelSubscription()

	// 定时发送
	lease, err := newSchedulerLease(ctx, cfg, redisCache, log)
	if err != nil {
		log.Fatal("failed to initialize scheduler lease", zap.Error(err))
	}
	sched := scheduler.New(cfg.Scheduler, store, sendService, lease, metrics, log)

	router := httptransport.NewRouter(httptransport.RouterDependencies{
		Config:            cfg,
		SendService:       sendService,
		SendJobService:    sendJobService,
		TemplateService:   templateService,
		AttachmentService: attachmentService,
		PermissionService: permissionService,
		ImportStatus:      importStatus,
		JWTManager:        jwtManager,
		WebSocketHub:      wsHub,
		Health:            healthChecker,
		Metrics:           metrics,
		Logger:            log,
	})

	httpAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	httpServer := &http.Server{
		Addr:              httpAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      5 * time.Minute, // 立即发送时在请求内投递
		IdleTimeout:       120 * time.Second,
	}

	var sink *smtp.Sink
	if cfg.SMTP.SinkEnabled {
		sink = smtp.NewSink(cfg.SMTP.SinkAddr, cfg.SMTP.SinkDomain, cfg.SMTP.MaxMessageSize, nil, log)
	}

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		log.Info("starting HTTP server", zap.String("address", httpAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server error", zap.Error(err))
			return err
		}
		return nil
	})

	if sink != nil {
		group.Go(func() error {
			log.Info("starting SMTP sink",
				zap.String("address", cfg.SMTP.SinkAddr),
				zap.String("domain", cfg.SMTP.SinkDomain),
			)
			if err := sink.ListenAndServe(); err != nil && groupCtx.Err() == nil {
				log.Error("SMTP sink error", zap.Error(err))
				return err
			}
			return nil
		})
	}

	group.Go(func() error {
		log.Info("starting WebSocket hub")
		wsHub.Run(groupCtx)
		return nil
	})

	group.Go(func() error {
		if err := sched.Start(groupCtx); err != nil {
			return fmt.Errorf("start scheduler: %w", err)
		}
		<-groupCtx.Done()
		sched.Stop()
		return nil
	})

	if idClient != nil && cfg.Identity.ImportOnStartup {
		importer := service.NewImportService(idClient, store, importStatus, metrics, cfg.Identity.PageSize, log)
		group.Go(func() error {
			result, err := importer.Run(groupCtx)
			if err != nil {
				log.Error("user import failed", zap.Error(err))
				return nil
			}
			log.Info("user import finished",
				zap.Int("imported", result.Imported),
				zap.Int("skipped", result.Skipped))
			return nil
		})
	}

	// 系统指标
	group.Go(func() error {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-groupCtx.Done():
				return nil
			case <-ticker.C:
				var mem runtime.MemStats
				runtime.ReadMemStats(&mem)
				metrics.UpdateMemoryUsage(int64(mem.Alloc))
				if sqlStore != nil {
					metrics.UpdateDatabaseConnections(sqlStore.OpenConnections())
				}
				if redisCache != nil {
					metrics.UpdateRedisConnections(redisCache.TotalConns())
				}
			}
		}
	})

	// 优雅关闭
	group.Go(func() error {
		<-groupCtx.Done()
		log.Info("shutdown signal received, gracefully shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error("HTTP server shutdown error", zap.Error(err))
		}
		if sink != nil {
			if err := sink.Close(); err != nil {
				log.Warn("SMTP sink close warning", zap.Error(err))
			}
		}

		log.Info("servers stopped")
		return nil
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal("server error", zap.Error(err))
	}

	log.Info("server exited cleanly")
}

// newObjectStore 按配置创建附件存储
func newObjectStore(ctx context.Context, cfg *config.Config, hc *health.HealthChecker, log *zap.Logger) (storage.ObjectStore, error) {
	switch cfg.Storage.Driver {
	case "s3":
		store, err := s3store.NewStore(cfg.Storage)
		if err != nil {
			return nil, err
		}
		if err := store.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		log.Info("attachment storage initialized",
			zap.String("driver", "s3"),
			zap.String("bucket", cfg.Storage.Bucket))
		return store, nil
	default:
		path := cfg.Storage.LocalPath
		if path == "" {
			path = "./data/attachments"
		}
		store, err := filesystem.NewStore(path, cfg.Storage.MaxObjectSize)
		if err != nil {
			return nil, err
		}
		hc.AddReadiness("attachments", func() error {
			_, err := store.GetStorageStats()
			return err
		})
		log.Info("attachment storage initialized",
			zap.String("driver", "filesystem"),
			zap.String("path", path))
		return store, nil
	}
}

// newSchedulerLease 多实例部署时选择调度租约：优先 Redis，否则使用 PostgreSQL 行租约
func newSchedulerLease(ctx context.Context, cfg *config.Config, redisClient *redis.Client, log *zap.Logger) (scheduler.Lease, error) {
	if !cfg.Scheduler.LeaseEnabled {
		return nil, nil
	}
	if redisClient != nil {
		log.Info("scheduler lease backed by redis")
		return redis.NewLease(redisClient, redis.SchedulerLeaseKey), nil
	}
	if cfg.Database.Type == "postgres" || cfg.Database.Type == "postgresql" {
		client, err := postgres.New(cfg.Database, log)
		if err != nil {
			return nil, err
		}
		lease, err := client.NewLease(ctx, "scheduler")
		if err != nil {
			client.Close()
			return nil, err
		}
		log.Info("scheduler lease backed by postgres")
		return lease, nil
	}
	return nil, errors.New("scheduler.lease_enabled requires redis or postgres")
}
