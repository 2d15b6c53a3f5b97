package main

import (
	"fmt"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/noah-isme/academico-api/api/swagger"
	"github.com/noah-isme/academico-api/internal/handler"
	"github.com/noah-isme/academico-api/internal/middleware"
	"github.com/noah-isme/academico-api/internal/models"
	"github.com/noah-isme/academico-api/internal/repository"
	"github.com/noah-isme/academico-api/internal/service"
	"github.com/noah-isme/academico-api/pkg/cache"
	"github.com/noah-isme/academico-api/pkg/config"
	"github.com/noah-isme/academico-api/pkg/database"
	"github.com/noah-isme/academico-api/pkg/export"
	"github.com/noah-isme/academico-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/academico-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/academico-api/pkg/middleware/requestid"
	"github.com/noah-isme/academico-api/pkg/storage"
)

// @title Academico API
// @version 1.0.0
// @description Enrollment lifecycle and global reenrollment backend
// @BasePath /api/v1
// @schemes http

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close() //nolint:errcheck

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Warnw("redis unavailable, caching disabled", "error", err)
		redisClient = nil
	}
	cacheRepo := repository.NewCacheRepository(redisClient, logr)
	defer cacheRepo.Close() //nolint:errcheck

	contractStorage, err := storage.NewLocalStorage(cfg.Contracts.StorageDir)
	if err != nil {
		logr.Sugar().Fatalw("failed to prepare contract storage", "error", err)
	}
	signer := storage.NewSignedURLSigner(cfg.Contracts.SignedURLSecret, cfg.Contracts.SignedURLTTL)

	validate := validator.New()

	enrollmentRepo := repository.NewEnrollmentRepository(db)
	contractRepo := repository.NewContractRepository(db)
	documentRepo := repository.NewDocumentRepository(db)
	studentRepo := repository.NewStudentRepository(db)
	courseRepo := repository.NewCourseRepository(db)
	userRepo := repository.NewUserRepository(db)
	auditRepo := repository.NewAuditRepository(db)

	metricsSvc := service.NewMetricsService()
	authSvc := service.NewAuthService(userRepo, validate, logr, cfg.JWT.Secret, cfg.JWT.Expiration)
	contractSvc := service.NewContractService(contractRepo, enrollmentRepo, export.NewContractRenderer(), contractStorage, signer, cfg.Contracts.InstitutionName, logr)
	enrollmentSvc := service.NewEnrollmentService(enrollmentRepo, studentRepo, courseRepo, contractSvc, documentRepo, auditRepo, metricsSvc, cacheRepo, validate, logr)
	reenrollmentSvc := service.NewReenrollmentService(enrollmentRepo, contractSvc, authSvc, auditRepo, metricsSvc, cacheRepo, validate, logr, cfg.Reenrollment.BatchTimeout)
	summarySvc := service.NewSummaryService(enrollmentRepo, cacheRepo, cfg.Summary.CacheTTL, logr)

	authHandler := handler.NewAuthHandler(authSvc)
	enrollmentHandler := handler.NewEnrollmentHandler(enrollmentSvc)
	reenrollmentHandler := handler.NewReenrollmentHandler(reenrollmentSvc)
	contractHandler := handler.NewContractHandler(contractSvc)
	summaryHandler := handler.NewSummaryHandler(summarySvc)
	metricsHandler := handler.NewMetricsHandler(metricsSvc)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", func(c *gin.Context) {
		if err := db.Ping(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	api.POST("/auth/login", authHandler.Login)
	api.GET("/contracts/download", contractHandler.Download)

	authed := api.Group("")
	authed.Use(middleware.JWT(authSvc))
	authed.GET("/auth/me", authHandler.Me)
	authed.GET("/contracts/:id/download-url", contractHandler.DownloadURL)

	staff := middleware.RequireRoles(models.RoleAdmin, models.RoleSecretary)
	adminOnly := middleware.RequireRoles(models.RoleAdmin)

	enrollments := authed.Group("/enrollments")
	enrollments.GET("", staff, enrollmentHandler.List)
	enrollments.GET("/summary", staff, summaryHandler.StatusSummary)
	enrollments.GET("/:id", enrollmentHandler.Get)
	enrollments.POST("", staff, enrollmentHandler.Create)
	enrollments.PUT("/:id/accept-contract", enrollmentHandler.AcceptContract)
	enrollments.PUT("/:id/activate", staff, enrollmentHandler.Activate)
	enrollments.PUT("/:id/cancel", staff, enrollmentHandler.Cancel)
	enrollments.PUT("/:id/advance", staff, enrollmentHandler.AdvanceSemester)
	enrollments.DELETE("/:id", adminOnly, enrollmentHandler.Delete)
	enrollments.POST("/reenrollment", adminOnly, reenrollmentHandler.Process)

	addr := fmt.Sprintf(":%d", cfg.Port)
	logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
	if err := r.Run(addr); err != nil {
		logr.Sugar().Fatalw("server failed", "error", err)
	}
}
