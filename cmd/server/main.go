// cmd/server/main.go
package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/unclebandit/campaign-dispatch/internal/config"
	"github.com/unclebandit/campaign-dispatch/internal/controller"
	"github.com/unclebandit/campaign-dispatch/internal/db"
	"github.com/unclebandit/campaign-dispatch/internal/dispatch"
	"github.com/unclebandit/campaign-dispatch/internal/logger"
	"github.com/unclebandit/campaign-dispatch/internal/model"
	"github.com/unclebandit/campaign-dispatch/internal/queue"
	"github.com/unclebandit/campaign-dispatch/internal/repository"
	"github.com/unclebandit/campaign-dispatch/internal/scheduler"
	"github.com/unclebandit/campaign-dispatch/internal/sender"
	"github.com/unclebandit/campaign-dispatch/internal/service"
)

func main() {
	cfg := config.Load()

	zl, err := logger.New(cfg.LogLevel, cfg.Env)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer zl.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stores, closeStore, err := openStores(ctx, cfg, zl)
	if err != nil {
		zl.Fatal("failed to open store", zap.Error(err))
	}
	defer closeStore()

	q, err := openQueue(cfg, zl)
	if err != nil {
		zl.Fatal("failed to open queue", zap.Error(err))
	}

	lifecycle := service.NewLifecycle(stores.Campaigns, zl.Named("lifecycle"))

	// With the in-memory queue this process also runs the dispatch worker;
	// with AMQP the cmd/worker binary consumes the hand-offs.
	if cfg.QueueBackend != "amqp" {
		senders := sender.NewRegistry().
			Register(model.ChannelEmail, sender.NewEmailSender(stores.Providers, cfg.AttachmentDir, cfg.SMTPTimeout, zl.Named("email"))).
			Register(model.ChannelWhatsApp, sender.NewWhatsAppSender(stores.Providers, cfg.WhatsApp.APIURL, cfg.WhatsApp.UserName,
				cfg.WhatsApp.CountryCode, cfg.WhatsApp.LocalLength, zl.Named("whatsapp")))
		dispatcher := dispatch.New(cfg.Dispatch.BatchSize, cfg.Dispatch.Pacing, cfg.Dispatch.SendTimeout, zl.Named("dispatch"))
		pipeline := service.NewPipeline(stores, senders, dispatcher, lifecycle, zl.Named("pipeline"))
		// in-flight passes drain on shutdown instead of failing every remaining send
		if err := service.NewWorker(pipeline, zl.Named("worker")).Start(context.WithoutCancel(ctx), q, cfg.AMQPQueue); err != nil {
			zl.Fatal("failed to start worker", zap.Error(err))
		}
	}

	campaignService := &service.CampaignService{
		CampaignRepo: stores.Campaigns,
		CustomerRepo: stores.Customers,
		Lifecycle:    lifecycle,
		Queue:        q,
		Topic:        cfg.AMQPQueue,
		Clock:        scheduler.RealClock{},
		Logger:       zl.Named("campaigns"),
	}

	sched := scheduler.New(cfg.SchedulerInterval, scheduler.RealClock{}, stores.Campaigns, lifecycle,
		campaignService.Handoff, zl.Named("scheduler"))
	if err := sched.Start(ctx); err != nil {
		zl.Fatal("failed to start scheduler", zap.Error(err))
	}

	campaignController := &controller.CampaignController{
		CampaignService: campaignService,
		Logger:          zl.Named("http"),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", controller.Healthz)
	// Campaign routes
	campaignController.Routes(r)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		zl.Info("🚀 Server running", zap.String("addr", cfg.HTTPAddr), zap.String("store", cfg.Store), zap.String("queue", cfg.QueueBackend))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zl.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	zl.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		zl.Warn("http shutdown", zap.Error(err))
	}
	sched.Stop(shutdownCtx)
	if err := q.Close(); err != nil {
		zl.Warn("queue close", zap.Error(err))
	}
}

func openStores(ctx context.Context, cfg config.AppConfig, zl *zap.Logger) (repository.Stores, func(), error) {
	if cfg.Store == "memory" {
		zl.Warn("using in-memory store; data is lost on restart")
		return repository.NewMemoryStore().Stores(), func() {}, nil
	}

	conn, err := db.Open(ctx, cfg.DB.DSN(), zl)
	if err != nil {
		return repository.Stores{}, nil, err
	}
	return repository.NewPostgresStores(conn), func() { closeDB(conn, zl) }, nil
}

func closeDB(conn *sql.DB, zl *zap.Logger) {
	if err := conn.Close(); err != nil {
		zl.Warn("db close", zap.Error(err))
	}
}

func openQueue(cfg config.AppConfig, zl *zap.Logger) (queue.Queue, error) {
	if cfg.QueueBackend == "amqp" {
		return queue.DialAMQP(cfg.AMQPURL, cfg.AMQPPrefetch, zl.Named("amqp"))
	}
	return queue.NewInMemoryQueue(zl.Named("queue")), nil
}
