package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"net/http/pprof"
	"net/smtp"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/zllovesuki/seatplan/auth"
	"github.com/zllovesuki/seatplan/billing"
	"github.com/zllovesuki/seatplan/broker"
	"github.com/zllovesuki/seatplan/db"
	"github.com/zllovesuki/seatplan/external"
	"github.com/zllovesuki/seatplan/invite"
	"github.com/zllovesuki/seatplan/organization"
	"github.com/zllovesuki/seatplan/subscription"
	"github.com/zllovesuki/seatplan/user"

	"github.com/TheZeroSlave/zapsentry"
	"github.com/getsentry/sentry-go"
	"github.com/go-chi/chi"
	"github.com/go-chi/cors"
	"github.com/go-redis/redis/v7"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
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
			"component": "api",
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

	siteURL := os.Getenv("SITE_URL")

	trialLifetime := time.Duration(0)
	if days := os.Getenv("TRIAL_DAYS"); days != "" {
		n, err := strconv.Atoi(days)
		if err != nil || n <= 0 {
			logger.Fatal("TRIAL_DAYS must be a positive number",
				zap.String("TRIAL_DAYS", days),
			)
		}
		trialLifetime = time.Hour * 24 * time.Duration(n)
	}

	listenAddr := os.Getenv("LISTEN_ADDR")
	if listenAddr == "" {
		listenAddr = ":42069"
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

	rdb := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    []string{os.Getenv("REDIS_URI")},
		Password: os.Getenv("REDIS_PW"),
		DB:       0,
	})
	if _, err := rdb.Ping().Result(); err != nil {
		logger.Fatal("Cannot connect to Redis",
			zap.Error(err),
		)
	}
	defer rdb.Close()

	smtpAuth := smtp.PlainAuth("", os.Getenv("SMTP_USERNAME"), os.Getenv("SMTP_PASSWORD"), os.Getenv("SMTP_HOST"))

	authenticator, err := auth.New(auth.Options{
		Redis:  rdb,
		Logger: logger,

		JWTSigningKey: os.Getenv("JWT_SIGNING_KEY"),

		Environment: authEnvironment,
		SMTPAuth:    smtpAuth,
		From:        os.Getenv("SMTP_FROM"),
		Hostname:    os.Getenv("SMTP_HOST") + ":" + os.Getenv("SMTP_PORT"),
		EmailOption: auth.EmailOption{
			Name: os.Getenv("SITE_NAME"),
			LinkGenerator: func(uid, token string) string {
				return fmt.Sprintf("%s/login/%s/%s", siteURL, uid, token)
			},
		},
	})
	if err != nil {
		logger.Fatal("Cannot initialize Auth",
			zap.Error(err),
		)
	}

	userManager, err := user.NewManager(user.ManagerOptions{
		DB:     db,
		Logger: logger,
	})
	if err != nil {
		logger.Fatal("Cannot initialize UserManager",
			zap.Error(err),
		)
	}

	organizationManager, err := organization.NewManager(organization.ManagerOptions{
		DB:            db,
		Logger:        logger,
		TrialLifetime: trialLifetime,
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

	inviteManager, err := invite.NewManager(invite.ManagerOptions{
		DB:     db,
		Logger: logger,
	})
	if err != nil {
		logger.Fatal("Cannot initialize InviteManager",
			zap.Error(err),
		)
	}

	stripeProvider, err := billing.NewStripeProvider(external.NewStripeClient(os.Getenv("STRIPE_KEY"), logger), logger)
	if err != nil {
		logger.Fatal("Cannot initialize Stripe provider",
			zap.Error(err),
		)
	}

	// Make sure the plans for purchase exist on Stripe before serving the billing page
	plans, err := subscription.LoadPlansFromFile(os.Getenv("PLANS_JSON"))
	if err != nil {
		logger.Fatal("Cannot load plans",
			zap.Error(err),
		)
	}
	syncCtx, syncCancel := context.WithTimeout(context.Background(), time.Minute)
	if err := subscriptionManager.SyncCatalog(syncCtx, stripeProvider, plans); err != nil {
		logger.Fatal("Cannot sync plans with Stripe",
			zap.Error(err),
		)
	}
	syncCancel()

	billingService, err := billing.NewService(billing.Options{
		Organizations: organizationManager,
		Subscriptions: subscriptionManager,
		Provider:      stripeProvider,
		Logger:        logger,
		SiteURL:       siteURL,
	})
	if err != nil {
		logger.Fatal("Cannot initialize Billing Service Router",
			zap.Error(err),
		)
	}

	inviteService, err := invite.NewService(invite.Options{
		Auth:          authenticator,
		Manager:       inviteManager,
		Organizations: organizationManager,
		Seats:         billingService,
		Logger:        logger,
		SiteURL:       siteURL,
	})
	if err != nil {
		logger.Fatal("Cannot initialize Invite Service Router",
			zap.Error(err),
		)
	}

	organizationService, err := organization.NewService(organization.Options{
		Auth:    authenticator,
		Manager: organizationManager,
		Logger:  logger,
		Mounts: map[string]http.Handler{
			"/billing": billingService.Router(),
			"/invites": inviteService.Router(),
		},
	})
	if err != nil {
		logger.Fatal("Cannot initialize Organization Service Router",
			zap.Error(err),
		)
	}

	userService, err := user.NewService(user.Options{
		Auth:          authenticator,
		UserManager:   userManager,
		Organizations: organizationManager,
		Logger:        logger,
	})
	if err != nil {
		logger.Fatal("Cannot initialize User Service Router",
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

	webhookOptions := billing.WebhookOptions{
		Secret:    os.Getenv("STRIPE_WEBHOOK_SECRET"),
		Processor: processor,
		Logger:    logger,
	}

	// With a broker the webhooks are handed to the task, otherwise they are processed inline
	if amqpURI := os.Getenv("AMQP_URI"); amqpURI != "" {
		amqpBroker, err := broker.NewAMQPBroker(amqpURI)
		if err != nil {
			logger.Fatal("Cannot connect to Broker",
				zap.Error(err),
			)
		}
		defer amqpBroker.Close()
		webhookOptions.Producer = amqpBroker
		logger.Info("Webhook events will be queued")
	}

	webhookHandler, err := billing.NewWebhookHandler(webhookOptions)
	if err != nil {
		logger.Fatal("Cannot initialize webhook handler",
			zap.Error(err),
		)
	}

	rootRouter := chi.NewRouter()

	rootRouter.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{siteURL},
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	rootRouter.Mount("/users", userService.Router())
	rootRouter.Mount("/organizations", organizationService.Router())
	rootRouter.Mount("/invites", inviteService.PublicRouter())
	rootRouter.Method(http.MethodPost, "/webhooks/stripe", webhookHandler)
	rootRouter.Handle("/metrics", promhttp.Handler())

	rootRouter.HandleFunc("/pprof/*", pprof.Index)
	rootRouter.HandleFunc("/pprof/cmdline", pprof.Cmdline)
	rootRouter.HandleFunc("/pprof/profile", pprof.Profile)
	rootRouter.HandleFunc("/pprof/symbol", pprof.Symbol)
	rootRouter.HandleFunc("/pprof/trace", pprof.Trace)

	srv := &http.Server{
		Handler: rootRouter,
		Addr:    listenAddr,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Cannot serve API",
				zap.Error(err),
			)
		}
	}()

	logger.Info("API started",
		zap.String("Addr", listenAddr),
	)

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	<-c

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Cannot shutdown API gracefully",
			zap.Error(err),
		)
	}
}
