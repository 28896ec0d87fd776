package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/sma-enrollment-api/api/swagger"
	"github.com/noah-isme/sma-enrollment-api/internal/handler"
	"github.com/noah-isme/sma-enrollment-api/internal/middleware"
	"github.com/noah-isme/sma-enrollment-api/internal/repository"
	"github.com/noah-isme/sma-enrollment-api/internal/service"
	"github.com/noah-isme/sma-enrollment-api/pkg/cache"
	"github.com/noah-isme/sma-enrollment-api/pkg/config"
	"github.com/noah-isme/sma-enrollment-api/pkg/database"
	"github.com/noah-isme/sma-enrollment-api/pkg/jobs"
	"github.com/noah-isme/sma-enrollment-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/sma-enrollment-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/sma-enrollment-api/pkg/middleware/requestid"
)

// @title SMA Enrollment API
// @version 1.0.0
// @description Tenant-scoped school enrollment core: catalog, students, attendance and course enrollments.
// @BasePath /api/v1
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

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
		logr.Fatal("failed to connect database", zap.Error(err))
	}
	defer db.Close() //nolint:errcheck

	if cfg.Database.AutoMigrate {
		migrateCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err := database.Migrate(migrateCtx, db)
		cancel()
		if err != nil {
			logr.Fatal("failed to migrate database", zap.Error(err))
		}
	}

	// Redis backs the student code sequence, so it is required even with the stats cache disabled.
	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Fatal("failed to connect redis", zap.Error(err))
	}
	defer redisClient.Close() //nolint:errcheck

	metrics := service.NewMetricsService()
	validate := validator.New()

	schools := repository.NewSchoolRepository(db)
	departments := repository.NewDepartmentRepository(db)
	years := repository.NewAcademicYearRepository(db)
	classes := repository.NewClassRepository(db)
	courses := repository.NewCourseRepository(db)
	students := repository.NewStudentRepository(db)
	enrollments := repository.NewEnrollmentRepository(db)
	attendance := repository.NewAttendanceRepository(db)
	invoices := repository.NewInvoiceRepository(db)
	followUps := repository.NewFollowUpRepository(db)

	cacheSvc := service.NewCacheService(repository.NewCacheRepository(redisClient, logr), metrics, cfg.Stats.CacheTTL, logr, cfg.Stats.CacheEnabled)
	sequence := repository.NewSequenceRepository(redisClient)

	followUpQueue := jobs.NewQueue("follow-ups", service.FollowUpHandler(followUps, metrics), jobs.QueueConfig{
		Workers:    cfg.Notifications.Workers,
		BufferSize: cfg.Notifications.BufferSize,
		MaxRetries: cfg.Notifications.MaxRetries,
		Logger:     logr,
	})
	queueCtx, stopQueue := context.WithCancel(context.Background())
	defer stopQueue()
	followUpQueue.Start(queueCtx)

	notifier := service.NewQueueNotifier(followUpQueue, metrics, logr)
	billing := service.NewLedgerBilling(invoices, cfg.Billing.DefaultRevenueAccount, metrics, logr)

	catalogSvc := service.NewCatalogService(db, schools, departments, years, classes, courses, metrics, validate, logr)
	studentSvc := service.NewStudentService(service.StudentServiceParams{
		DB:          db,
		Students:    students,
		Classes:     classes,
		Departments: departments,
		Schools:     schools,
		Courses:     courses,
		Enrollments: enrollments,
		Attendance:  attendance,
		Billing:     billing,
		Sequence:    sequence,
		Notifier:    notifier,
		Cache:       cacheSvc,
		Metrics:     metrics,
		Validator:   validate,
		Logger:      logr,
		Config: service.StudentServiceConfig{
			MinAge:                  cfg.Students.MinAge,
			GraduationMinAttendance: cfg.Students.GraduationMinAttendance,
			CodePrefix:              cfg.Students.CodePrefix,
		},
	})
	attendanceSvc := service.NewAttendanceService(db, attendance, students, classes, enrollments, cacheSvc, metrics, validate, logr)
	enrollmentSvc := service.NewEnrollmentService(service.EnrollmentServiceParams{
		DB:          db,
		Enrollments: enrollments,
		Students:    students,
		Courses:     courses,
		Billing:     billing,
		Notifier:    notifier,
		Cache:       cacheSvc,
		Metrics:     metrics,
		Validator:   validate,
		Logger:      logr,
		Config: service.EnrollmentServiceConfig{
			MinAttendancePercentage: cfg.Enrollment.MinAttendancePercentage,
			GenerateInvoice:         cfg.Enrollment.GenerateInvoice,
			AutoGrade:               cfg.Enrollment.AutoGrade,
		},
	})
	bulkSvc := service.NewBulkService(db, attendanceSvc, studentSvc, attendance, classes, students, notifier, cacheSvc, metrics, logr)

	ops := handler.NewMetricsHandler(metrics, map[string]handler.ReadinessCheck{
		"postgres": db.PingContext,
		"redis":    func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
	})

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metrics))

	r.GET("/health", ops.Health)
	r.GET("/ready", ops.Ready)
	r.GET("/metrics", ops.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	handler.RegisterRoutes(r.Group(cfg.APIPrefix), middleware.NewTokenValidator(cfg.JWT.Secret), handler.Handlers{
		Catalog:     handler.NewCatalogHandler(catalogSvc),
		Students:    handler.NewStudentHandler(studentSvc, bulkSvc),
		Attendance:  handler.NewAttendanceHandler(attendanceSvc, bulkSvc),
		Enrollments: handler.NewEnrollmentHandler(enrollmentSvc),
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("server shutdown failed", zap.Error(err))
	}
	followUpQueue.Stop()
	logr.Info("server stopped")
}
