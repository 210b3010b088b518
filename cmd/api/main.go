package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "backoffice/api/swagger" // swagger docs
	"backoffice/internal/authz"
	"backoffice/internal/cache"
	"backoffice/internal/config"
	"backoffice/internal/database"
	"backoffice/internal/handler"
	"backoffice/internal/logger"
	"backoffice/internal/middleware"
	"backoffice/internal/observability"
	"backoffice/internal/repository"
	"backoffice/internal/service"
	"backoffice/internal/storage"
	"backoffice/internal/websocket"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"golang.org/x/sync/errgroup"
)

// @title           Publishing Back Office API
// @version         1.0
// @description     Media library, posts, taxonomy and comment moderation behind a role gate.
// @host            localhost:8080
// @BasePath        /
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log := logger.New(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal().Err(err).Msg("server stopped")
	}
	log.Info().Msg("server stopped")
}

func run(ctx context.Context, cfg *config.Config, log zerolog.Logger) error {
	db, err := database.NewConnection(cfg.DB.DSN(), log)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	log.Info().Str("host", cfg.DB.Host).Msg("connected to PostgreSQL")

	metrics := observability.NewMetrics()
	gate := authz.NewGate(authz.NewRegistry(nil))

	backend, err := newBackend(ctx, cfg)
	if err != nil {
		return err
	}
	roleCache, err := newRoleCache(cfg, log)
	if err != nil {
		return err
	}

	hub := websocket.NewHub(log)
	deps := service.Deps{Log: log, Metrics: metrics, Notifier: hub}
	tx := repository.NewTransactionManager(db)

	// Set up dependencies (Repository -> Service -> Handler)
	userRepo := repository.NewUserRepository(db)
	roleRepo := repository.NewRoleRepository(db)
	assetRepo := repository.NewAssetRepository(db)
	postRepo := repository.NewPostRepository(db)
	categoryRepo := repository.NewCategoryRepository(db)
	tagRepo := repository.NewTagRepository(db)
	commentRepo := repository.NewCommentRepository(db)
	auditRepo := repository.NewAuditRepository(db)

	pipeline := storage.NewPipeline(backend, storage.ImagingThumbnailer{}, cfg.ThumbnailSize, log, metrics)
	resolver := service.NewPrincipalResolver(userRepo, roleCache)
	sweeper := service.NewSweeper(assetRepo, backend, cfg.SweepGrace, deps)

	roleService := service.NewRoleService(roleRepo, userRepo, auditRepo, tx, resolver, gate, deps)
	userService := service.NewUserService(userRepo, roleRepo, auditRepo, tx, resolver, gate, deps, cfg.Secret(), cfg.JWTTTL)
	assetService := service.NewAssetService(assetRepo, auditRepo, tx, pipeline, sweeper, gate, deps)
	postService := service.NewPostService(postRepo, assetRepo, categoryRepo, tagRepo, commentRepo, auditRepo, tx, pipeline, gate, deps, cfg.TagPolicy)
	taxonomyService := service.NewTaxonomyService(categoryRepo, tagRepo, postRepo, auditRepo, tx, gate, deps)
	commentService := service.NewCommentService(commentRepo, postRepo, auditRepo, tx, gate, deps)
	auditService := service.NewAuditService(auditRepo, gate, deps)

	if err := roleService.SeedDefaults(ctx); err != nil {
		return fmt.Errorf("failed to seed roles: %w", err)
	}
	if err := roleService.LoadRegistry(ctx); err != nil {
		return err
	}

	gin.SetMode(cfg.GinMode)
	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestLogger(log), middleware.Metrics(metrics))

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = cfg.CORSOrigins
	corsConfig.AllowCredentials = true
	corsConfig.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization", "Accept"}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	router.Use(cors.New(corsConfig))
	router.MaxMultipartMemory = cfg.MaxUploadBytes

	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{})))
	router.GET("/ws", websocket.ServeWs(hub, cfg.Secret(), resolver, gate))

	api := router.Group("", middleware.Authenticate(cfg.Secret(), resolver, log))
	handler.NewHealthHandler(db).RegisterRoutes(api)
	handler.NewUserHandler(userService, cfg.JWTTTL, cfg.IsRelease()).RegisterRoutes(api)
	handler.NewRoleHandler(roleService).RegisterRoutes(api)
	handler.NewAssetHandler(assetService, cfg.MaxUploadBytes).RegisterRoutes(api)
	handler.NewPostHandler(postService, commentService, cfg.MaxUploadBytes).RegisterRoutes(api)
	handler.NewTaxonomyHandler(taxonomyService).RegisterRoutes(api)
	handler.NewCommentHandler(commentService).RegisterRoutes(api)
	handler.NewAuditHandler(auditService).RegisterRoutes(api)

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		return runSweeper(gctx, cfg.SweepSchedule, sweeper, log)
	})
	g.Go(func() error {
		log.Info().Str("addr", server.Addr).Msg("server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func newBackend(ctx context.Context, cfg *config.Config) (storage.Backend, error) {
	if cfg.Storage.Backend == config.StorageS3 {
		client, err := storage.NewS3Client(ctx, storage.S3Options{
			Bucket:    cfg.Storage.S3Bucket,
			Region:    cfg.Storage.S3Region,
			Endpoint:  cfg.Storage.S3Endpoint,
			AccessKey: cfg.Storage.S3AccessKey,
			SecretKey: cfg.Storage.S3SecretKey,
			Prefix:    cfg.Storage.S3Prefix,
		})
		if err != nil {
			return nil, err
		}
		return storage.NewS3Backend(client, cfg.Storage.S3Bucket, cfg.Storage.S3Prefix), nil
	}

	backend, err := storage.NewFSBackend(cfg.Storage.Root)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare storage root: %w", err)
	}
	return backend, nil
}

func newRoleCache(cfg *config.Config, log zerolog.Logger) (cache.RoleCache, error) {
	if cfg.RedisURL == "" {
		return cache.NewLRURoleCache(cfg.RoleCacheSize, cfg.RoleCacheTTL), nil
	}
	client, err := cache.NewRedisClient(cfg.RedisURL)
	if err != nil {
		return nil, err
	}
	return cache.NewRedisRoleCache(client, cfg.RoleCacheTTL, log), nil
}

// runSweeper runs the orphan sweep on schedule until ctx ends. An empty
// schedule disables it.
func runSweeper(ctx context.Context, schedule string, sweeper *service.Sweeper, log zerolog.Logger) error {
	if schedule == "" {
		return nil
	}
	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		if _, err := sweeper.Run(ctx); err != nil {
			log.Error().Err(err).Msg("scheduled orphan sweep failed")
		}
	})
	if err != nil {
		return fmt.Errorf("invalid SWEEP_SCHEDULE %q: %w", schedule, err)
	}

	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}
