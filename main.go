package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/waops/wadispatch/config"
	"github.com/waops/wadispatch/contacts"
	"github.com/waops/wadispatch/services"
	"github.com/waops/wadispatch/storage"
	"github.com/waops/wadispatch/whatsapp"
)

func main() {
	log := logrus.New()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(level)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics := services.NewMetrics()

	pool, err := pgxpool.New(ctx, cfg.Postgres.DSN)
	if err != nil {
		log.Fatalf("failed to init postgres pool: %v", err)
	}
	defer pool.Close()

	primary, err := storage.New(cfg.Storage.Primary)
	if err != nil {
		log.Fatalf("failed to init primary storage: %v", err)
	}
	var fallback storage.Provider
	if cfg.Storage.Fallback.Enabled() {
		fallback, err = storage.New(cfg.Storage.Fallback)
		if err != nil {
			log.Fatalf("failed to init fallback storage: %v", err)
		}
	}
	mediaManager := storage.NewManager(primary, fallback, log, metrics.ManagerMetrics())

	rabbitService, err := services.NewRabbitMQService(cfg.AMQP)
	if err != nil {
		log.Fatalf("failed to init RabbitMQ: %v", err)
	}
	defer rabbitService.Close()

	client := whatsapp.NewClient(cfg.WhatsApp, nil)
	resolver := contacts.NewResolver(pool)
	dispatcher := services.NewDispatcher(client, resolver, mediaManager, log)
	worker := services.NewWorker(cfg.Worker, rabbitService, dispatcher, rabbitService, metrics, log)

	go func() {
		http.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(cfg.Metrics.ListenAddr, nil); err != nil {
			log.WithError(err).Error("metrics server stopped")
		}
	}()

	log.Info("Waiting for jobs...")
	if err := worker.Run(ctx); err != nil {
		log.Fatalf("failed to consume messages: %v", err)
	}
}
