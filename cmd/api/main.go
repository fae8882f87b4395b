package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/meetwise/booking-api/internal/handler"
	"github.com/meetwise/booking-api/internal/middleware"
	"github.com/meetwise/booking-api/internal/repository"
	"github.com/meetwise/booking-api/internal/service"
	"github.com/meetwise/booking-api/pkg/cache"
	"github.com/meetwise/booking-api/pkg/config"
	"github.com/meetwise/booking-api/pkg/database"
	"github.com/meetwise/booking-api/pkg/logger"
	corsmiddleware "github.com/meetwise/booking-api/pkg/middleware/cors"
	reqidmiddleware "github.com/meetwise/booking-api/pkg/middleware/requestid"
)

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

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Warnw("redis unavailable, slot cache disabled", "error", err)
		redisClient = nil
	}

	// Repositories.
	teacherRepo := repository.NewTeacherRepository(db)
	availabilityRepo := repository.NewAvailabilityRepository(db)
	appointmentRepo := repository.NewAppointmentRepository(db)
	waitlistRepo := repository.NewWaitlistRepository(db)
	quotaRepo := repository.NewQuotaRepository(db)
	outboxRepo := repository.NewOutboxRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)
	bookingUnit := repository.NewBookingUnit(db)

	// Services.
	metricsSvc := service.NewMetricsService()
	slotCache := service.NewSlotCacheService(cacheRepo, metricsSvc, cfg.Slots.CacheTTL, cfg.Slots.CacheEnabled, logr)
	authSvc := service.NewAuthService(cfg.JWT, logr)
	teacherSvc := service.NewTeacherService(teacherRepo, slotCache, logr)
	availabilitySvc := service.NewAvailabilityService(teacherRepo, availabilityRepo, appointmentRepo, slotCache, cfg.Slots, logr)
	quotaSvc := service.NewQuotaService(quotaRepo, cfg.Quota, logr)
	bookingSvc := service.NewBookingService(bookingUnit, teacherRepo, appointmentRepo, outboxRepo, quotaSvc, slotCache, metricsSvc, cfg.Booking, logr)
	waitlistSvc := service.NewWaitlistService(waitlistRepo, bookingSvc, outboxRepo, cfg.Waitlist, logr)
	notificationSvc := service.NewNotificationService(outboxRepo, service.NewLogSender(logr), cfg.Notifications, logr)
	exportSvc := service.NewScheduleExportService(teacherRepo, appointmentRepo, logr)

	bookingSvc.OnNotificationEnqueued(notificationSvc.Kick)
	bookingSvc.OnSlotFreed(func(ctx context.Context, teacherID string, slotStart time.Time) {
		if _, err := waitlistSvc.PromoteHead(ctx, teacherID, slotStart); err != nil {
			logr.Sugar().Warnw("waitlist promotion failed", "teacher_id", teacherID, "error", err)
		}
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	notificationSvc.Start(ctx)
	defer notificationSvc.Stop()

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	handler.RegisterRoutes(r, cfg.APIPrefix, authSvc, handler.Handlers{
		Teachers:     handler.NewTeacherHandler(teacherSvc),
		Availability: handler.NewAvailabilityHandler(availabilitySvc),
		Slots:        handler.NewSlotHandler(availabilitySvc),
		Appointments: handler.NewAppointmentHandler(bookingSvc),
		Waitlist:     handler.NewWaitlistHandler(waitlistSvc),
		Quota:        handler.NewQuotaHandler(quotaSvc),
		Exports:      handler.NewExportHandler(exportSvc),
		Metrics:      handler.NewMetricsHandler(metricsSvc),
	})

	addr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{Addr: addr, Handler: r}

	go func() {
		logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Sugar().Infow("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("server shutdown failed", "error", err)
	}
}
