package main

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/example/ec-checkout/internal/api"
	apimw "github.com/example/ec-checkout/internal/api/middleware"
	"github.com/example/ec-checkout/internal/auth"
	"github.com/example/ec-checkout/internal/checkout"
	"github.com/example/ec-checkout/internal/config"
	"github.com/example/ec-checkout/internal/domain/cart"
	"github.com/example/ec-checkout/internal/domain/coupon"
	"github.com/example/ec-checkout/internal/domain/order"
	"github.com/example/ec-checkout/internal/domain/product"
	"github.com/example/ec-checkout/internal/infrastructure/cache"
	"github.com/example/ec-checkout/internal/infrastructure/kafka"
	"github.com/example/ec-checkout/internal/infrastructure/rabbitmq"
	"github.com/example/ec-checkout/internal/infrastructure/store"
	"github.com/example/ec-checkout/internal/infrastructure/stripe"
	"github.com/example/ec-checkout/internal/webhook"
)

// closerFunc adapts cleanup functions to io.Closer.
type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[API] Failed to load configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("[API] %v", err)
	}

	log.Println("[API] ========================================")
	log.Println("[API] EC Checkout - Cart & Payment Sessions")
	log.Println("[API] ========================================")
	log.Printf("[API] Store: %s", cfg.Store.Backend)
	log.Printf("[API] Event bus: %s", cfg.Bus.Backend)
	log.Printf("[API] Currency: %s", cfg.Currency)

	var closers []io.Closer
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i].Close(); err != nil {
				log.Printf("[API] Error during cleanup: %v", err)
			}
		}
	}()

	// Initialize the collection store
	s, closer, err := openStore(ctx, cfg.Store)
	if err != nil {
		log.Fatalf("[API] Failed to open %s store: %v", cfg.Store.Backend, err)
	}
	if closer != nil {
		closers = append(closers, closer)
	}

	// Initialize the order event publisher
	publisher, closer, err := openPublisher(cfg.Bus)
	if err != nil {
		log.Fatalf("[API] Failed to connect event bus: %v", err)
	}
	if closer != nil {
		closers = append(closers, closer)
	}

	// Initialize domain services
	products := product.NewService(s)
	coupons := coupon.NewService(s)
	orders := order.NewService(s, publisher)
	seed(ctx, "products", cfg.ProductsSeedFile, products.SeedFromFile)
	seed(ctx, "coupons", cfg.CouponsSeedFile, coupons.SeedFromFile)

	cartOpts := []cart.Option{
		cart.WithCoupons(coupon.NewValidator(coupons)),
		cart.WithCurrency(cfg.Currency),
	}
	if cfg.Redis.Addr != "" {
		rdb, err := cache.Connect(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			log.Fatalf("[API] Failed to connect to Redis: %v", err)
		}
		closers = append(closers, rdb)
		cartOpts = append(cartOpts, cart.WithCache(cache.NewRedisCartCache(rdb, cfg.Redis.TTL)))
		log.Printf("[API] Cart cache: redis %s", cfg.Redis.Addr)
	}
	carts := cart.NewService(s, products, cartOpts...)

	if cfg.Stripe.SecretKey == "" {
		log.Println("[API] WARNING: STRIPE_SECRET_KEY is empty, checkout sessions will fail")
	}
	provider := stripe.NewProvider(cfg.Stripe.SecretKey, stripe.BreakerSettings{
		MaxFailures: cfg.Stripe.BreakerMaxFailures,
		OpenTimeout: cfg.Stripe.BreakerTimeout,
	})

	checkoutSvc := checkout.NewService(products, orders, provider, checkout.Config{
		Currency:          cfg.Currency,
		DefaultSuccessURL: cfg.Checkout.SuccessURL,
		DefaultCancelURL:  cfg.Checkout.CancelURL,
	})
	processor := webhook.NewProcessor(s, provider, orders, webhook.Config{
		Secret:             cfg.Stripe.WebhookSecret,
		InsecureSkipVerify: cfg.Stripe.InsecureSkipVerify,
	})

	var jwtService *auth.JWTService
	if cfg.JWTSecret != "" {
		jwtService = auth.NewJWTService(cfg.JWTSecret, 15*time.Minute)
	}

	router := api.NewRouter(api.RouterConfig{
		Handlers:        api.NewHandlers(carts, checkoutSvc, processor, orders),
		JWTService:      jwtService,
		AllowedOrigins:  cfg.HTTP.AllowedOrigins,
		CheckoutLimiter: apimw.NewRateLimiter(cfg.Checkout.RatePerSec, cfg.Checkout.RateBurst),
	})

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      45 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		log.Printf("[API] Server started on :%s", cfg.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("[API] Server error: %v", err)
		}
	}()

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("[API] Shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("[API] Forced shutdown: %v", err)
	}
}

func openStore(ctx context.Context, cfg config.StoreConfig) (store.CollectionStore, io.Closer, error) {
	switch cfg.Backend {
	case config.StoreFile:
		fs, err := store.NewFileStore(cfg.DataDir)
		return fs, nil, err

	case config.StorePostgres:
		db, err := store.ConnectPostgres(cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		if err := store.RunMigrations(db); err != nil {
			db.Close()
			return nil, nil, err
		}
		log.Println("[API] Connected to PostgreSQL, migrations applied")
		return store.NewPostgresStore(db), db, nil

	case config.StoreMongo:
		client, db, err := store.ConnectMongo(ctx, cfg.MongoURI, cfg.MongoDB)
		if err != nil {
			return nil, nil, err
		}
		log.Printf("[API] Connected to MongoDB database %s", cfg.MongoDB)
		return store.NewMongoStore(db), closerFunc(func() error {
			return client.Disconnect(context.Background())
		}), nil

	case config.StoreDynamo:
		client, err := store.NewDynamoClient(ctx, cfg.AWSRegion, cfg.AWSEndpoint)
		if err != nil {
			return nil, nil, err
		}
		log.Printf("[API] Using DynamoDB table %s", cfg.DynamoTable)
		return store.NewDynamoStore(client, cfg.DynamoTable), nil, nil

	default:
		log.Println("[API] WARNING: in-memory store, data is lost on restart")
		return store.NewMemoryStore(), nil, nil
	}
}

func openPublisher(cfg config.BusConfig) (order.Publisher, io.Closer, error) {
	switch cfg.Backend {
	case config.BusKafka:
		producer := kafka.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		log.Printf("[API] Publishing order events to Kafka %v topic %s", cfg.KafkaBrokers, cfg.KafkaTopic)
		return producer, producer, nil

	case config.BusRabbitMQ:
		publisher, err := rabbitmq.NewPublisher(cfg.RabbitMQURL, cfg.RabbitMQQueue)
		if err != nil {
			return nil, nil, err
		}
		log.Printf("[API] Publishing order events to RabbitMQ queue %s", cfg.RabbitMQQueue)
		return publisher, closerFunc(func() error {
			publisher.Close()
			return nil
		}), nil

	default:
		return order.NopPublisher{}, nil, nil
	}
}

func seed(ctx context.Context, name, path string, load func(context.Context, string) (int, error)) {
	if path == "" {
		return
	}
	n, err := load(ctx, path)
	if err != nil {
		log.Fatalf("[API] Failed to seed %s from %s: %v", name, path, err)
	}
	log.Printf("[API] Seeded %d %s from %s", n, name, path)
}
