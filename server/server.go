package server

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/ext"
	"gorm.io/gorm"

	"github.com/mailwatchhq/mailwatch/api"
	"github.com/mailwatchhq/mailwatch/config"
	"github.com/mailwatchhq/mailwatch/internal/cron"
	"github.com/mailwatchhq/mailwatch/internal/logger"
	"github.com/mailwatchhq/mailwatch/internal/repository"
	"github.com/mailwatchhq/mailwatch/internal/tracing"
	"github.com/mailwatchhq/mailwatch/services"
)

type Server struct {
	config       *config.Config
	log          logger.Logger
	httpServer   *http.Server
	router       *gin.Engine
	services     *services.Services
	repositories *repository.Repositories
	cronManager  *cron.CronManager
	tracerCloser io.Closer
}

func NewServer(cfg *config.Config, db *gorm.DB, clustered bool) (*Server, error) {
	// Initialize logger
	appLogger := logger.NewAppLogger(cfg.Logger)
	appLogger.InitLogger()

	// Initialize tracing
	tracer, closer, err := tracing.NewJaegerTracer(cfg.Tracing, appLogger)
	if err != nil {
		log.Fatalf("Could not initialize jaeger tracer: %s", err.Error())
	}
	opentracing.SetGlobalTracer(tracer)

	// Initialize repositories
	repos := repository.InitRepositories(db)

	// Initialize services
	svcs, err := services.InitServices(cfg, appLogger, repos, clustered)
	if err != nil {
		return nil, err
	}

	cronManager := cron.NewCronManager(
		cfg,
		appLogger,
		repos.DeliveryRepository,
		repos.LeaseRepository,
		repos.MessageRepository,
		svcs.Coordinator.IsLeader,
	)

	// Initialize Gin
	gin.SetMode(gin.ReleaseMode)
	router := gin.Default()

	return &Server{
		config:       cfg,
		log:          appLogger,
		router:       router,
		services:     svcs,
		repositories: repos,
		cronManager:  cronManager,
		tracerCloser: closer,
		httpServer: &http.Server{
			Addr:    ":" + cfg.AppConfig.APIPort,
			Handler: router,
		},
	}, nil
}

func (s *Server) recoverWithJaeger(name string) {
	if r := recover(); r != nil {
		span := opentracing.GlobalTracer().StartSpan(
			fmt.Sprintf("panic.%s", name),
		)
		defer span.Finish()

		ext.Error.Set(span, true)
		span.LogKV(
			"event", "panic",
			"process", name,
			"error", fmt.Sprintf("%v", r),
			"stack", string(debug.Stack()),
		)

		s.log.Errorf("Panic in %s: %v\n%s", name, r, debug.Stack())
	}
}

func (s *Server) wrapGoroutine(name string, fn func()) {
	defer s.recoverWithJaeger(name)
	fn()
}

func (s *Server) Run() error {
	// Root context for the sync and dispatch loops
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	api.RegisterRoutes(s.router, s.services, s.repositories, s.config.AppConfig.APIKey)

	s.log.Info("Starting webhook dispatcher...")
	s.services.Dispatcher.Start(ctx)

	s.log.Info("Starting sync worker...")
	if err := s.services.Worker.Start(ctx); err != nil {
		return err
	}

	s.log.Info("Starting coordinator...")
	s.services.Coordinator.Start(ctx)

	s.cronManager.StartCron()

	go s.wrapGoroutine("http_server", func() {
		s.log.Infof("Starting HTTP server on :%s", s.config.AppConfig.APIPort)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Errorf("HTTP server error: %v", err)
		}
	})

	s.log.Info("MailWatch is now running. Press Ctrl+C to exit.")
	return s.waitForShutdown(cancel)
}

func (s *Server) waitForShutdown(cancel context.CancelFunc) error {
	defer s.recoverWithJaeger("shutdown")

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	s.log.Info("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	// Stop taking new API traffic first
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.log.Errorf("HTTP server shutdown error: %v", err)
	}

	// Wind down in dependency order: no new leader actions, then the sync
	// worker (which releases its lease), then the dispatcher and jobs.
	s.services.Coordinator.Stop()

	cancel()

	stopDone := make(chan struct{})
	go s.wrapGoroutine("worker_shutdown", func() {
		defer close(stopDone)
		s.services.Worker.Stop()
	})
	select {
	case <-stopDone:
		s.log.Info("Sync worker stopped gracefully")
	case <-time.After(s.config.ClusterConfig.ShutdownGrace + 5*time.Second):
		s.log.Warn("Sync worker stop timed out, forcing exit")
	}

	s.services.Dispatcher.Stop()
	s.cronManager.Stop()
	s.services.SessionPool.Close()

	if s.tracerCloser != nil {
		s.tracerCloser.Close()
	}

	s.log.Info("Shutdown complete")
	return nil
}
