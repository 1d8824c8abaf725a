// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/unclebandit/supportmail-backend/internal/app"
	"github.com/unclebandit/supportmail-backend/internal/config"
	"github.com/unclebandit/supportmail-backend/internal/controller"
	"github.com/unclebandit/supportmail-backend/internal/db"
	"github.com/unclebandit/supportmail-backend/internal/handler"
	"github.com/unclebandit/supportmail-backend/internal/logger"
	"github.com/unclebandit/supportmail-backend/internal/metrics"
	"github.com/unclebandit/supportmail-backend/internal/queue"
	"github.com/unclebandit/supportmail-backend/internal/service"
)

func main() {
	// Load .env
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️ No .env file found, relying on OS environment variables")
	}

	cfg := config.Get()
	lg := logger.New(cfg)
	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, err := db.Connect(cfg.DSN())
	if err != nil {
		lg.WithError(err).Fatal("❌ database unavailable")
	}
	defer conn.Close()
	if err := db.Migrate(conn); err != nil {
		lg.WithError(err).Fatal("❌ migration failed")
	}

	// Prefer RabbitMQ so a separate worker can consume; otherwise send in-process.
	var q queue.Queue
	var local *queue.InMemoryQueue
	if amqpQueue, err := queue.DialAMQP(cfg.AMQPURL, cfg.SendConcurrency, logger.Named(lg, "amqp")); err == nil {
		defer amqpQueue.Close()
		q = amqpQueue
	} else {
		lg.WithError(err).Warn("⚠️ RabbitMQ unavailable, using in-memory queue")
		local = queue.NewInMemoryQueue(cfg.SendConcurrency, logger.Named(lg, "queue"))
		q = local
	}

	a := app.New(cfg, lg, conn, q)
	defer a.Templates.Stop()

	if local != nil {
		if err := service.StartSubscribers(ctx, local, a.Tracker, a.Analytics, lg); err != nil {
			lg.WithError(err).Fatal("❌ failed to start subscribers")
		}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := conn.PingContext(r.Context()); err != nil {
			http.Error(w, "db unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	unsubscribe := &handler.UnsubscribeHandler{
		Service:      a.Unsubscribe,
		PlatformName: cfg.PlatformName,
		APIKeys:      cfg.APIKeys,
		Log:          logger.Named(lg, "http"),
	}
	unsubscribe.Routes(r)

	httpLog := logger.Named(lg, "http")
	controller.Mount(r, a.Users, httpLog,
		&controller.CampaignController{CampaignService: a.Campaigns, Log: httpLog},
		&controller.AnalyticsController{CampaignService: a.Campaigns, AnalyticsService: a.Analytics, Log: httpLog},
		&controller.TemplateController{Templates: a.Templates, Log: httpLog},
	)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: r}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	lg.Infof("🚀 Server running on %s", cfg.HTTPAddr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		lg.WithError(err).Fatal("❌ server stopped")
	}
	if local != nil {
		local.Wait()
	}
}
