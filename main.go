package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/sirupsen/logrus"
	"github.com/streadway/amqp"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"libreria/internal/config"
	"libreria/internal/database"
	"libreria/internal/handlers"
	"libreria/internal/locking"
	"libreria/internal/middleware"
	"libreria/internal/models"
	"libreria/internal/payments"
	"libreria/internal/repositories"
	"libreria/internal/services"
	"libreria/pkg/kafka"
	"libreria/pkg/rabbitmq"
)

// App is the wired store backend: HTTP server plus background workers.
type App struct {
	cfg        *config.Config
	logger     *logrus.Logger
	db         *gorm.DB
	fiber      *fiber.App
	dispatcher *services.OutboxDispatcher
	returns    *services.ReturnService
	mqClient   *rabbitmq.Client
	closers    []func() error
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}
	logger := config.NewLogger(cfg.LogLevel)

	// Graceful shutdown handling
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := NewApp(ctx, cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("failed to start")
	}
	defer app.Close()

	logger.WithField("port", cfg.AppPort).Info("starting server")
	if err := app.Run(ctx); err != nil {
		logger.WithError(err).Error("server stopped with error")
		return
	}
	logger.Info("server gracefully stopped")
}

// NewApp connects every backing service and registers the HTTP routes.
func NewApp(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*App, error) {
	a := &App{cfg: cfg, logger: logger}

	db, err := database.Open(cfg.DBDriver, cfg.DatabaseDSN, logger)
	if err != nil {
		return nil, err
	}
	a.db = db
	a.closers = append(a.closers, func() error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	})
	store := repositories.NewGORMStore(db)

	locker, err := a.newLocker(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	publisher, err := a.newPublisher()
	if err != nil {
		a.Close()
		return nil, err
	}

	a.dispatcher = services.NewOutboxDispatcher(store.Outbox(), publisher, logger, services.OutboxConfig{
		PollInterval: cfg.OutboxPollInterval,
		BatchSize:    cfg.OutboxBatchSize,
		MaxAttempts:  cfg.OutboxMaxAttempts,
	})
	deps := services.Deps{
		UoW:         store,
		Locker:      locker,
		Logger:      logger,
		Outbox:      a.dispatcher,
		MaxAttempts: cfg.TxMaxAttempts,
	}

	// --- Initialize Services ---
	processor := payments.NewSimulatedProcessor()
	authService := services.NewAuthService(store.Users(), cfg.JWTSecret)
	instrumentService := services.NewInstrumentService(deps)
	productService := services.NewProductService(deps)
	checkoutService := services.NewCheckoutService(deps, instrumentService, processor, models.Money(cfg.HomeDeliveryFee))
	orderService := services.NewOrderService(deps, instrumentService, processor)
	a.returns = services.NewReturnService(deps, services.ReturnPolicy{Window: cfg.ReturnWindow, ShippingDays: cfg.ReturnShippingDays})
	refundService := services.NewRefundService(deps, instrumentService, processor)
	trackingService := services.NewTrackingService(deps)

	if cfg.AdminUsername != "" {
		if err := authService.EnsureAdmin(ctx, cfg.AdminUsername, cfg.AdminEmail, cfg.AdminPassword); err != nil {
			a.Close()
			return nil, err
		}
	}

	// --- Initialize Fiber App ---
	a.fiber = fiber.New(fiber.Config{DisableStartupMessage: true})
	a.fiber.Use(fiberlogger.New())
	a.fiber.Get("/health", a.handleHealth)

	apiV1 := a.fiber.Group("/api/v1")
	handlers.NewAuthHandler(authService, logger).RegisterRoutes(apiV1)
	handlers.NewTrackingHandler(trackingService, logger).RegisterRoutes(apiV1)
	productHandler := handlers.NewProductHandler(productService, logger)
	productHandler.RegisterRoutes(apiV1)

	// Protected routes (require JWT authentication)
	protected := apiV1.Group("", middleware.AuthRequired(authService, logger))
	productHandler.RegisterAdminRoutes(protected)
	handlers.NewCheckoutHandler(checkoutService, logger).RegisterRoutes(protected)
	handlers.NewOrderHandler(orderService, logger).RegisterRoutes(protected)
	handlers.NewReturnHandler(a.returns, refundService, logger).RegisterRoutes(protected)
	handlers.NewInstrumentHandler(instrumentService, logger).RegisterRoutes(protected)

	return a, nil
}

func (a *App) newLocker(ctx context.Context) (locking.Locker, error) {
	if a.cfg.RedisAddress == "" {
		return locking.NewMemoryLocker(), nil
	}
	rdb, err := locking.NewRedisClient(ctx, a.cfg.RedisAddress)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, rdb.Close)
	return locking.NewRedisLocker(rdb, a.cfg.LockTTL), nil
}

func (a *App) newPublisher() (services.Publisher, error) {
	switch a.cfg.EventBroker {
	case "rabbitmq":
		client, err := rabbitmq.NewClient(rabbitmq.Config{URL: a.cfg.RabbitMQURL, Exchange: a.cfg.RabbitMQExchange})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize RabbitMQ client: %w", err)
		}
		a.mqClient = client
		a.closers = append(a.closers, client.Close)
		return client, nil
	case "kafka":
		publisher := kafka.NewPublisher(kafka.Config{Brokers: a.cfg.KafkaBrokers, Topic: a.cfg.KafkaTopic})
		a.closers = append(a.closers, publisher.Close)
		return publisher, nil
	default:
		return services.LogPublisher{Logger: a.logger}, nil
	}
}

// Run serves HTTP and runs the outbox dispatcher and the return sweep until
// ctx is cancelled or one of them fails.
func (a *App) Run(ctx context.Context) error {
	if a.mqClient != nil {
		notifier := services.Notifier{Logger: a.logger}
		err := a.mqClient.Consume(a.cfg.NotificationQueue, "notification.#", func(msg amqp.Delivery) error {
			return notifier.Handle(msg.RoutingKey, msg.Body)
		})
		if err != nil {
			return fmt.Errorf("failed to start notification consumer: %w", err)
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.dispatcher.Run(ctx) })
	g.Go(func() error { return a.returns.RunSweep(ctx, a.cfg.ReturnSweepInterval) })
	g.Go(func() error {
		if err := a.fiber.Listen(a.cfg.AppPort); err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		a.logger.Info("shutting down server")
		return a.fiber.ShutdownWithTimeout(10 * time.Second)
	})
	return g.Wait()
}

// Close releases every connection in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.WithError(err).Warn("error during shutdown")
		}
	}
	a.closers = nil
}

func (a *App) handleHealth(c *fiber.Ctx) error {
	status, code := "healthy", fiber.StatusOK
	dbStatus := "connected"
	sqlDB, err := a.db.DB()
	if err == nil {
		err = sqlDB.PingContext(c.UserContext())
	}
	if err != nil {
		status, code, dbStatus = "degraded", fiber.StatusServiceUnavailable, err.Error()
	}
	return c.Status(code).JSON(fiber.Map{
		"status":   status,
		"time":     time.Now().Format(time.RFC3339),
		"database": dbStatus,
		"broker":   a.cfg.EventBroker,
	})
}
