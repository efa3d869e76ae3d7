package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"
	gormpostgres "gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/credmart/credmart/internal"
	"github.com/credmart/credmart/internal/auth"
	authpostgres "github.com/credmart/credmart/internal/auth/postgres"
	ordermodel "github.com/credmart/credmart/internal/core/datamodel/order"
	productmodel "github.com/credmart/credmart/internal/core/datamodel/product"
	usermodel "github.com/credmart/credmart/internal/core/datamodel/user"
	"github.com/credmart/credmart/internal/core/events"
	"github.com/credmart/credmart/internal/gateway"
	"github.com/credmart/credmart/internal/notification"
	"github.com/credmart/credmart/internal/order"
	orderpostgres "github.com/credmart/credmart/internal/order/postgres"
	"github.com/credmart/credmart/internal/payment"
	"github.com/credmart/credmart/internal/product"
	productpostgres "github.com/credmart/credmart/internal/product/postgres"
	"github.com/credmart/credmart/internal/signature"
	"github.com/credmart/credmart/internal/stats"
	"github.com/credmart/credmart/internal/transport"
	"github.com/credmart/credmart/internal/transport/rest"
	"github.com/credmart/credmart/pkg/logger"
)

var httpServerCmd = &cobra.Command{
	Use:   "server",
	Short: "Start HTTP server",
	Long:  `Start the HTTP server and the background reconciliation and delivery workers.`,
	Run: func(cmd *cobra.Command, args []string) {
		startHTTPServer()
	},
}

type Dependencies struct {
	Config *internal.Config
	SQLDB  *sqlx.DB
	GormDB *gorm.DB
	Router *chi.Mux
	Logger *slog.Logger

	OrderService *order.Service
	Dispatcher   *notification.Dispatcher
	Poller       *order.Poller
	Handlers     rest.Handlers
	AuthService  auth.ServiceAPI
}

func startHTTPServer() {
	deps, err := initializeDependencies()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize dependencies: %v\n", err)
		os.Exit(1)
	}

	var healthDB *sql.DB
	if deps.SQLDB != nil {
		healthDB = deps.SQLDB.DB
	}

	rest.RegisterAllRoutes(deps.Router, healthDB, deps.Handlers, deps.AuthService,
		deps.Config.Gateway.AllowSimulate, deps.Logger)

	// Background workers share the server's lifetime.
	workerCtx, stopWorkers := context.WithCancel(context.Background())
	go deps.Poller.Run(workerCtx)
	go deps.Dispatcher.Run(workerCtx)

	addr := fmt.Sprintf(":%d", deps.Config.Server.Port)
	slog.Info("Starting HTTP server", "address", addr)

	server := &http.Server{
		Addr:         addr,
		Handler:      deps.Router,
		ReadTimeout:  deps.Config.Server.ReadTimeout,
		WriteTimeout: deps.Config.Server.WriteTimeout,
		IdleTimeout:  deps.Config.Server.IdleTimeout,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	serverErrChan := make(chan error, 1)
	go func() {
		serverErrChan <- server.ListenAndServe()
	}()

	select {
	case sig := <-sigChan:
		slog.Info("Received signal, shutting down...", "signal", sig)
		stopWorkers()
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}
		if deps.SQLDB != nil {
			if err := deps.SQLDB.Close(); err != nil {
				slog.Error("Database close error", "error", err)
			}
		}
	case err := <-serverErrChan:
		stopWorkers()
		if err != nil && err != http.ErrServerClosed {
			slog.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}

	slog.Info("Server stopped")
}

func initializeDependencies() (*Dependencies, error) {
	config, err := loadConfig(".")
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger.Init(os.Getenv("APP_ENV"), config.Observability.Logging.Level)
	lg := logger.L()

	sqlDB, gormDB, err := initStores(config.Database, lg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	orderRepo := orderpostgres.NewOrderRepository(gormDB)
	productRepo := productpostgres.NewProductRepository(gormDB)
	userRepo := authpostgres.NewUserRepository(gormDB)

	verifiers, err := buildVerifiers(config.Gateway)
	if err != nil {
		return nil, fmt.Errorf("failed to configure signature schemes: %w", err)
	}

	gatewayClient := gateway.NewClient(gateway.Config{
		APIURL:     config.Gateway.APIURL,
		MerchantID: config.Gateway.MerchantID,
		MD5Key:     config.Gateway.MD5Key,
		NotifyURL:  config.Gateway.NotifyURL,
		Timeout:    config.Gateway.Timeout,
	}, lg)

	eventBus := events.NewEventBus(lg)

	productService := product.NewService(productRepo, lg)
	orderService := order.NewService(orderRepo, gatewayClient, productService, verifiers, eventBus, lg)

	var mailer notification.Mailer
	if config.SMTP.Host != "" {
		mailer = notification.NewSMTPMailer(config.SMTP)
	} else {
		lg.Warn("no SMTP host configured, credential emails will be logged only")
		mailer = &notification.LogMailer{Logger: lg}
	}

	dispatcher := notification.NewDispatcher(orderRepo, mailer, notification.DispatcherConfig{
		SweepInterval:  config.Notification.SweepInterval,
		InitialBackoff: config.Notification.InitialBackoff,
		MaxBackoff:     config.Notification.MaxBackoff,
		MaxAttempts:    config.Notification.MaxAttempts,
	}, lg)
	dispatcher.Subscribe(eventBus)

	poller := order.NewPoller(orderService, orderRepo,
		config.Reconcile.PollInterval, config.Reconcile.MinOrderAge,
		config.Reconcile.ExpireAfter, lg)

	tokenGen := auth.NewJWTTokenGenerator(
		config.Security.AccessTokenSecret, config.Security.RefreshTokenSecret,
		config.Security.AccessTokenDuration, config.Security.RefreshTokenDuration)
	authService := auth.NewService(userRepo, tokenGen, config.Security.BCryptCost, lg)

	statsService := stats.NewService(orderRepo, stats.MockMetrics{}, lg)

	return &Dependencies{
		Config:       config,
		SQLDB:        sqlDB,
		GormDB:       gormDB,
		Router:       chi.NewRouter(),
		Logger:       lg,
		OrderService: orderService,
		Dispatcher:   dispatcher,
		Poller:       poller,
		AuthService:  authService,
		Handlers: rest.Handlers{
			Auth:    auth.NewHandler(authService, lg),
			Product: product.NewHandler(productService, lg),
			Order:   order.NewHandler(orderService, lg),
			Payment: payment.NewHandler(orderService, lg),
			Webhook: order.NewWebhookHandler(transport.NewBaseHandler(lg), orderService, lg),
			Stats:   stats.NewHandler(statsService, lg),
		},
	}, nil
}

// initStores opens the configured backend. "postgres" uses sqlx over pgx for
// the connection plus gorm on the same pool; "memory" runs gorm on an
// in-memory SQLite database with the schema auto-migrated.
func initStores(cfg internal.DatabaseConfig, lg *slog.Logger) (*sqlx.DB, *gorm.DB, error) {
	switch cfg.Backend {
	case "postgres":
		sqlDB, err := sqlx.Connect("pgx", cfg.Source)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open db connection: %w", err)
		}
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
		sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

		if err := sqlDB.Ping(); err != nil {
			_ = sqlDB.Close()
			return nil, nil, fmt.Errorf("failed to ping database: %w", err)
		}

		gormDB, err := gorm.Open(gormpostgres.New(gormpostgres.Config{Conn: sqlDB.DB}), &gorm.Config{})
		if err != nil {
			_ = sqlDB.Close()
			return nil, nil, fmt.Errorf("failed to initialize orm: %w", err)
		}
		return sqlDB, gormDB, nil

	case "memory":
		gormDB, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open in-memory database: %w", err)
		}
		if err := gormDB.AutoMigrate(&usermodel.User{}, &productmodel.VirtualProduct{}, &ordermodel.Order{}); err != nil {
			return nil, nil, fmt.Errorf("failed to migrate in-memory schema: %w", err)
		}
		for _, p := range product.SeedProducts() {
			if err := gormDB.Create(p).Error; err != nil {
				return nil, nil, fmt.Errorf("failed to seed in-memory catalog: %w", err)
			}
		}
		lg.Info("using in-memory storage backend, data will not survive a restart")
		return nil, gormDB, nil

	default:
		return nil, nil, fmt.Errorf("unknown database backend %q", cfg.Backend)
	}
}

// buildVerifiers assembles the accepted notification signature schemes. MD5
// is mandatory; RSA2 joins only when a public key is configured.
func buildVerifiers(cfg internal.GatewayConfig) (map[string]signature.Signer, error) {
	verifiers := map[string]signature.Signer{
		signature.SignTypeMD5: signature.NewMD5Signer(cfg.MD5Key),
	}
	if cfg.RSAPublicKey != "" {
		pub, err := cfg.GetRSAPublicKey()
		if err != nil {
			return nil, err
		}
		verifiers[signature.SignTypeRSA2] = signature.NewRSAVerifier(pub)
	}
	return verifiers, nil
}
