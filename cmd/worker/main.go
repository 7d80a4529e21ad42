package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/unclebandit/campaign-dispatch/internal/config"
	"github.com/unclebandit/campaign-dispatch/internal/db"
	"github.com/unclebandit/campaign-dispatch/internal/dispatch"
	"github.com/unclebandit/campaign-dispatch/internal/logger"
	"github.com/unclebandit/campaign-dispatch/internal/model"
	"github.com/unclebandit/campaign-dispatch/internal/queue"
	"github.com/unclebandit/campaign-dispatch/internal/repository"
	"github.com/unclebandit/campaign-dispatch/internal/sender"
	"github.com/unclebandit/campaign-dispatch/internal/service"
)

// The worker consumes claimed campaign IDs from RabbitMQ and runs the
// dispatch pipeline against Postgres.
func main() {
	cfg := config.Load()

	zl, err := logger.New(cfg.LogLevel, cfg.Env)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer zl.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Connect to DB
	conn, err := db.Open(ctx, cfg.DB.DSN(), zl)
	if err != nil {
		zl.Fatal("failed to connect to DB", zap.Error(err))
	}
	defer conn.Close()
	stores := repository.NewPostgresStores(conn)

	// Connect to RabbitMQ
	q, err := queue.DialAMQP(cfg.AMQPURL, cfg.AMQPPrefetch, zl.Named("amqp"))
	if err != nil {
		zl.Fatal("failed to connect to RabbitMQ", zap.Error(err))
	}

	senders := sender.NewRegistry().
		Register(model.ChannelEmail, sender.NewEmailSender(stores.Providers, cfg.AttachmentDir, cfg.SMTPTimeout, zl.Named("email"))).
		Register(model.ChannelWhatsApp, sender.NewWhatsAppSender(stores.Providers, cfg.WhatsApp.APIURL, cfg.WhatsApp.UserName,
			cfg.WhatsApp.CountryCode, cfg.WhatsApp.LocalLength, zl.Named("whatsapp")))
	dispatcher := dispatch.New(cfg.Dispatch.BatchSize, cfg.Dispatch.Pacing, cfg.Dispatch.SendTimeout, zl.Named("dispatch"))
	lifecycle := service.NewLifecycle(stores.Campaigns, zl.Named("lifecycle"))
	pipeline := service.NewPipeline(stores, senders, dispatcher, lifecycle, zl.Named("pipeline"))

	// passes run to the end on shutdown; Close stops consuming and waits for them
	if err := service.NewWorker(pipeline, zl.Named("worker")).Start(context.WithoutCancel(ctx), q, cfg.AMQPQueue); err != nil {
		zl.Fatal("failed to register consumer", zap.Error(err))
	}

	zl.Info("Worker running, waiting for campaigns...", zap.String("queue", cfg.AMQPQueue))
	<-ctx.Done()

	zl.Info("worker shutting down, waiting for running campaigns")
	if err := q.Close(); err != nil {
		zl.Warn("queue close", zap.Error(err))
	}
}
