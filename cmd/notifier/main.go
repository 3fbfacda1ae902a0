package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/example/ec-checkout/internal/config"
	"github.com/example/ec-checkout/internal/email"
	"github.com/example/ec-checkout/internal/infrastructure/kafka"
	"github.com/example/ec-checkout/internal/infrastructure/rabbitmq"
	"github.com/example/ec-checkout/internal/notification"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[Notifier] Failed to load configuration: %v", err)
	}

	log.Println("[Notifier] ========================================")
	log.Println("[Notifier] EC Checkout - Payment Confirmation Mailer")
	log.Println("[Notifier] ========================================")
	log.Printf("[Notifier] Event bus: %s", cfg.Bus.Backend)
	log.Printf("[Notifier] SMTP: %s:%s", cfg.SMTP.Host, cfg.SMTP.Port)
	log.Printf("[Notifier] From: %s", cfg.SMTP.From)

	emailSvc := email.NewService(cfg.SMTP.Host, cfg.SMTP.Port, cfg.SMTP.From).
		WithAuth(cfg.SMTP.Username, cfg.SMTP.Password)
	handler := notification.NewHandler(emailSvc)

	done := make(chan struct{})
	switch cfg.Bus.Backend {
	case config.BusKafka:
		consumer := kafka.NewConsumer(cfg.Bus.KafkaBrokers, cfg.Bus.KafkaTopic, cfg.Bus.KafkaGroup, notification.HandledTypes...)
		defer consumer.Close()

		go func() {
			defer close(done)
			log.Printf("[Notifier] Listening to Kafka topic %s as %s", cfg.Bus.KafkaTopic, cfg.Bus.KafkaGroup)
			if err := consumer.Consume(ctx, handler.HandleEvent); err != nil && ctx.Err() == nil {
				log.Printf("[Notifier] Consumer error: %v", err)
			}
		}()

	case config.BusRabbitMQ:
		consumer, err := rabbitmq.NewConsumer(cfg.Bus.RabbitMQURL, cfg.Bus.Prefetch)
		if err != nil {
			log.Fatalf("[Notifier] %v", err)
		}
		defer consumer.Close()

		go func() {
			defer close(done)
			if err := consumer.ConsumeQueue(ctx, cfg.Bus.RabbitMQQueue, handler.HandleMessage); err != nil && ctx.Err() == nil {
				log.Printf("[Notifier] Consumer error: %v", err)
			}
		}()

	default:
		log.Fatalf("[Notifier] EVENT_BUS must be %s or %s, got %q", config.BusKafka, config.BusRabbitMQ, cfg.Bus.Backend)
	}

	// Wait for shutdown signal or consumer exit
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
	case <-done:
	}

	log.Println("[Notifier] Shutting down...")
	cancel()
	<-done
}
