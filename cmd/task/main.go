package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/zllovesuki/seatplan/auth"
	"github.com/zllovesuki/seatplan/billing"
	"github.com/zllovesuki/seatplan/broker"
	"github.com/zllovesuki/seatplan/db"
	"github.com/zllovesuki/seatplan/external"
	"github.com/zllovesuki/seatplan/organization"
	"github.com/zllovesuki/seatplan/subscription"
	"github.com/zllovesuki/seatplan/task"

	"github.com/TheZeroSlave/zapsentry"
	"github.com/getsentry/sentry-go"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Build-time injected variables
var (
	Version = ""
)

func main() {
	var logger *zap.Logger
	var authEnvironment auth.Environment
	var dotFile string
	var err error

	// Determine running environment and initialize structural logger
	env := os.Getenv("ENV")
	if "production" == env {
		dotFile = ".env.production"
		authEnvironment = auth.EnvProduction
		logger, err = zap.NewProduction()
	} else {
		dotFile = ".env.development"
		authEnvironment = auth.EnvDevelopment
		logger, err = zap.NewDevelopment()
	}

	if err != nil {
		log.Fatalf("Cannot initialize logger: %v\n", err)
	}
	logger = logger.With(zap.String("Version", Version))

	// Initialize sentry for error reporting
	if err := sentry.Init(sentry.ClientOptions{
		Environment: string(authEnvironment),
		Debug:       authEnvironment == auth.EnvDevelopment,
	}); err != nil {
		logger.Fatal("Cannot initialize sentry",
			zap.Error(err),
		)
	}
	defer sentry.Flush(time.Second * 2)

	// Attach sentry to zap so we can do automatic error capturing
	cfg := zapsentry.Configuration{
		Level: zapcore.ErrorLevel,
		Tags: map[string]string{
			"component": "task",
		},
	}
	core, err := zapsentry.NewCore(cfg, zapsentry.NewSentryClientFromClient(sentry.CurrentHub().Client()))
	if err != nil {
		logger.Fatal("Cannot attach sentry to logger",
			zap.Error(err),
		)
	}
	logger = zapsentry.AttachCoreToLogger(core, logger)

	defer logger.Sync()

	// Load configurations from dotFile
	if err := godotenv.Load(dotFile); err != nil {
		logger.Fatal("Cannot load configurations from .env",
			zap.Error(err),
		)
	}

	// Initialize backend connections
	db, err := db.New(db.Options{
		URI:    os.Getenv("POSTGRES_URI"),
		Logger: logger,
	})
	if err != nil {
		logger.Fatal("Cannot connect to Postgres",
			zap.Error(err),
		)
	}

	amqpBroker, err := broker.NewAMQPBroker(os.Getenv("AMQP_URI"))
	if err != nil {
		logger.Fatal("Cannot connect to Broker",
			zap.Error(err),
		)
	}
	defer amqpBroker.Close()

	organizationManager, err := organization.NewManager(organization.ManagerOptions{
		DB:     db,
		Logger: logger,
	})
	if err != nil {
		logger.Fatal("Cannot initialize OrganizationManager",
			zap.Error(err),
		)
	}

	subscriptionManager, err := subscription.NewManager(subscription.ManagerOptions{
		DB:     db,
		Logger: logger,
	})
	if err != nil {
		logger.Fatal("Cannot initialize SubscriptionManager",
			zap.Error(err),
		)
	}

	stripeProvider, err := billing.NewStripeProvider(external.NewStripeClient(os.Getenv("STRIPE_KEY"), logger), logger)
	if err != nil {
		logger.Fatal("Cannot initialize Stripe provider",
			zap.Error(err),
		)
	}

	processor, err := billing.NewProcessor(billing.ProcessorOptions{
		Organizations: organizationManager,
		Subscriptions: subscriptionManager,
		Provider:      stripeProvider,
		Logger:        logger,
	})
	if err != nil {
		logger.Fatal("Cannot initialize webhook Processor",
			zap.Error(err),
		)
	}

	webhookTask, err := task.NewWebhookTask(task.WebhookOptions{
		Processor: processor,
		Consumer:  amqpBroker,
		Logger:    logger,
	})
	if err != nil {
		logger.Fatal("Cannot get webhook task",
			zap.Error(err),
		)
	}

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	ctx, cancel := context.WithCancel(context.Background())

	if err := webhookTask.HandleEvents(ctx); err != nil {
		logger.Fatal("Cannot handle webhook events",
			zap.Error(err),
		)
	}

	logger.Info("Webhook task started")

	<-c
	cancel()
}
