package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/MarkoPoloResearchLab/storefront/internal/cache"
	"github.com/MarkoPoloResearchLab/storefront/internal/paymob"
	"github.com/MarkoPoloResearchLab/storefront/internal/store/gormstore"
	"github.com/MarkoPoloResearchLab/storefront/internal/webapi"
	"github.com/MarkoPoloResearchLab/storefront/pkg/storefront"
	"github.com/glebarez/sqlite"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

const (
	flagDatabaseURL        = "database-url"
	flagListenAddr         = "listen-addr"
	flagAllowedOrigins     = "allowed-origins"
	flagJWTSigningKey      = "jwt-signing-key"
	flagJWTIssuer          = "jwt-issuer"
	flagJWTCookieName      = "jwt-cookie-name"
	flagRedisAddr          = "redis-addr"
	flagRedisPassword      = "redis-password"
	flagRedisDB            = "redis-db"
	flagPaymobAPIKey       = "paymob-api-key"
	flagPaymobIntegration  = "paymob-integration-id"
	flagPaymobIframeID     = "paymob-iframe-id"
	flagPaymobHMACSecret   = "paymob-hmac-secret"
	flagPaymobBaseURL      = "paymob-base-url"
	defaultDatabaseURL     = "sqlite:///tmp/storefront.db"
	defaultHTTPListenAddr  = ":8080"
	redisCacheKeyPrefix    = "storefront"
	defaultSQLiteStorePath = "storefront.db"
)

type runtimeConfig struct {
	DatabaseURL       string
	ListenAddr        string
	AllowedOrigins    string
	JWTSigningKey     string
	JWTIssuer         string
	JWTCookieName     string
	RedisAddr         string
	RedisPassword     string
	RedisDB           int
	PaymobAPIKey      string
	PaymobIntegration int64
	PaymobIframeID    int64
	PaymobHMACSecret  string
	PaymobBaseURL     string
}

func main() {
	_ = godotenv.Load()
	rootCmd := newRootCommand()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "storefrontd: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := &runtimeConfig{}
	cmd := &cobra.Command{
		Use:           "storefrontd",
		Short:         "Storefront HTTP server selling access credentials",
		SilenceUsage:  true,
		SilenceErrors: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, cfg)
		},
	}

	cmd.Flags().String(flagDatabaseURL, defaultDatabaseURL, "database connection string (postgres:// or sqlite://)")
	cmd.Flags().String(flagListenAddr, defaultHTTPListenAddr, "HTTP listen address")
	cmd.Flags().String(flagAllowedOrigins, "", "comma-separated list of allowed CORS origins")
	cmd.Flags().String(flagJWTSigningKey, "", "TAuth JWT signing key (required)")
	cmd.Flags().String(flagJWTIssuer, "", "expected JWT issuer")
	cmd.Flags().String(flagJWTCookieName, "", "JWT cookie name")
	cmd.Flags().String(flagRedisAddr, "", "redis address for the response cache (empty selects the in-process cache)")
	cmd.Flags().String(flagRedisPassword, "", "redis password")
	cmd.Flags().Int(flagRedisDB, 0, "redis database number")
	cmd.Flags().String(flagPaymobAPIKey, "", "Paymob API key (empty disables gateway checkouts)")
	cmd.Flags().Int64(flagPaymobIntegration, 0, "Paymob card integration id")
	cmd.Flags().Int64(flagPaymobIframeID, 0, "Paymob iframe id")
	cmd.Flags().String(flagPaymobHMACSecret, "", "Paymob HMAC secret for webhook verification")
	cmd.Flags().String(flagPaymobBaseURL, "", "Paymob API base URL override")

	return cmd
}

func loadConfig(cmd *cobra.Command, cfg *runtimeConfig) error {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	bindings := []struct {
		flag string
		env  string
	}{
		{flagDatabaseURL, "DATABASE_URL"},
		{flagListenAddr, "LISTEN_ADDR"},
		{flagAllowedOrigins, "ALLOWED_ORIGINS"},
		{flagJWTSigningKey, "JWT_SIGNING_KEY"},
		{flagJWTIssuer, "JWT_ISSUER"},
		{flagJWTCookieName, "JWT_COOKIE_NAME"},
		{flagRedisAddr, "REDIS_ADDR"},
		{flagRedisPassword, "REDIS_PASSWORD"},
		{flagRedisDB, "REDIS_DB"},
		{flagPaymobAPIKey, "PAYMOB_API_KEY"},
		{flagPaymobIntegration, "PAYMOB_CARD_INTEGRATION_ID"},
		{flagPaymobIframeID, "PAYMOB_IFRAME_ID"},
		{flagPaymobHMACSecret, "PAYMOB_HMAC_SECRET"},
		{flagPaymobBaseURL, "PAYMOB_BASE_URL"},
	}
	for _, binding := range bindings {
		if err := v.BindEnv(binding.flag, binding.env); err != nil {
			return err
		}
		if err := v.BindPFlag(binding.flag, cmd.Flags().Lookup(binding.flag)); err != nil {
			return err
		}
	}

	cfg.DatabaseURL = strings.TrimSpace(v.GetString(flagDatabaseURL))
	cfg.ListenAddr = strings.TrimSpace(v.GetString(flagListenAddr))
	cfg.AllowedOrigins = v.GetString(flagAllowedOrigins)
	cfg.JWTSigningKey = v.GetString(flagJWTSigningKey)
	cfg.JWTIssuer = strings.TrimSpace(v.GetString(flagJWTIssuer))
	cfg.JWTCookieName = strings.TrimSpace(v.GetString(flagJWTCookieName))
	cfg.RedisAddr = strings.TrimSpace(v.GetString(flagRedisAddr))
	cfg.RedisPassword = v.GetString(flagRedisPassword)
	cfg.RedisDB = v.GetInt(flagRedisDB)
	cfg.PaymobAPIKey = strings.TrimSpace(v.GetString(flagPaymobAPIKey))
	cfg.PaymobIntegration = v.GetInt64(flagPaymobIntegration)
	cfg.PaymobIframeID = v.GetInt64(flagPaymobIframeID)
	cfg.PaymobHMACSecret = v.GetString(flagPaymobHMACSecret)
	cfg.PaymobBaseURL = strings.TrimSpace(v.GetString(flagPaymobBaseURL))

	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = defaultDatabaseURL
	}
	if cfg.JWTSigningKey == "" {
		return fmt.Errorf("%s is required", flagJWTSigningKey)
	}
	return nil
}

func runServer(ctx context.Context, cfg *runtimeConfig) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	gormDB, cleanup, driver, err := openDatabase(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database open: %w", err)
	}
	defer func() { _ = cleanup() }()

	if err := prepareSchema(gormDB, driver); err != nil {
		return err
	}

	store := gormstore.New(gormDB)
	clock := func() int64 { return time.Now().UTC().Unix() }

	options := []storefront.ServiceOption{
		storefront.WithOperationLogger(zapOperationLogger{logger: logger}),
	}
	var verifier webapi.PaymentVerifier
	if cfg.PaymobAPIKey != "" {
		gatewayClient, err := paymob.NewClient(paymob.Config{
			APIKey:            cfg.PaymobAPIKey,
			CardIntegrationID: cfg.PaymobIntegration,
			IframeID:          cfg.PaymobIframeID,
			HMACSecret:        cfg.PaymobHMACSecret,
			BaseURL:           cfg.PaymobBaseURL,
		}, logger)
		if err != nil {
			return fmt.Errorf("paymob client init: %w", err)
		}
		options = append(options, storefront.WithPaymentGateway(gatewayClient))
		verifier = gatewayClient
	} else {
		logger.Warn("paymob credentials not configured; gateway checkouts disabled")
	}

	service, err := storefront.NewService(store, clock, options...)
	if err != nil {
		return fmt.Errorf("storefront service init: %w", err)
	}

	var responseCache cache.Cache
	if cfg.RedisAddr != "" {
		redisCache, err := cache.NewRedisCache(cache.RedisConfig{
			Addr:      cfg.RedisAddr,
			Password:  cfg.RedisPassword,
			DB:        cfg.RedisDB,
			KeyPrefix: redisCacheKeyPrefix,
		})
		if err != nil {
			return fmt.Errorf("redis connect: %w", err)
		}
		defer func() { _ = redisCache.Close() }()
		responseCache = redisCache
		logger.Info("response cache backed by redis", zap.String("addr", cfg.RedisAddr))
	} else {
		memoryCache := cache.NewMemoryCache()
		defer func() { _ = memoryCache.Close() }()
		responseCache = memoryCache
	}

	return webapi.Run(ctx, webapi.Config{
		ListenAddr:        cfg.ListenAddr,
		AllowedOrigins:    webapi.ParseAllowedOrigins(cfg.AllowedOrigins),
		SessionSigningKey: cfg.JWTSigningKey,
		SessionIssuer:     cfg.JWTIssuer,
		SessionCookieName: cfg.JWTCookieName,
	}, webapi.Dependencies{
		Service:  service,
		Verifier: verifier,
		Cache:    responseCache,
		Logger:   logger,
	})
}

func openDatabase(ctx context.Context, dsn string) (*gorm.DB, func() error, string, error) {
	driver, sqlitePath, err := resolveDriver(dsn)
	if err != nil {
		return nil, nil, "", err
	}

	var db *gorm.DB
	gormConfig := &gorm.Config{}
	switch driver {
	case "postgres":
		db, err = gorm.Open(postgres.Open(dsn), gormConfig)
	case "sqlite":
		db, err = gorm.Open(sqlite.Open(sqlitePath), gormConfig)
	default:
		return nil, nil, "", fmt.Errorf("unsupported database scheme %q", driver)
	}
	if err != nil {
		return nil, nil, "", err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, "", err
	}
	cleanup := func() error { return sqlDB.Close() }
	return db.WithContext(ctx), cleanup, driver, nil
}

func resolveDriver(dsn string) (string, string, error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return "postgres", "", nil
	}
	if strings.HasPrefix(dsn, "sqlite://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return "", "", fmt.Errorf("parse sqlite url: %w", err)
		}
		path := u.Path
		if path == "" {
			path = u.Host
		}
		if path == "" || path == "/" {
			path = defaultSQLiteStorePath
		}
		sqlitePath, err := normalizeSQLitePath(path)
		return "sqlite", sqlitePath, err
	}
	// Treat everything else as a direct sqlite path.
	sqlitePath, err := normalizeSQLitePath(dsn)
	return "sqlite", sqlitePath, err
}

func normalizeSQLitePath(path string) (string, error) {
	if path == ":memory:" {
		return path, nil
	}
	if strings.HasPrefix(path, "/") {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return "", err
		}
		return path, nil
	}
	abs := filepath.Join(".", path)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", err
	}
	return abs, nil
}

func prepareSchema(db *gorm.DB, driver string) error {
	if driver != "sqlite" {
		return nil
	}
	if err := db.AutoMigrate(gormstore.Models()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}

type zapOperationLogger struct {
	logger *zap.Logger
}

func (operationLogger zapOperationLogger) LogOperation(ctx context.Context, entry storefront.OperationLog) {
	fields := make([]zap.Field, 0, 8)
	fields = append(fields,
		zap.String("operation", entry.Operation),
		zap.String("status", entry.Status),
	)
	if entry.BuyerID.String() != "" {
		fields = append(fields, zap.String("buyer_id", entry.BuyerID.String()))
	}
	if entry.Category.String() != "" {
		fields = append(fields, zap.String("category", entry.Category.String()))
	}
	if entry.Mode != "" {
		fields = append(fields, zap.String("mode", string(entry.Mode)))
	}
	if entry.MerchantOrderID.String() != "" {
		fields = append(fields, zap.String("merchant_order_id", entry.MerchantOrderID.String()))
	}
	if entry.ItemID != 0 {
		fields = append(fields, zap.Int64("item_id", entry.ItemID))
	}
	if entry.Amount.Int64() != 0 {
		fields = append(fields, zap.Int64("amount_cents", entry.Amount.Int64()))
	}
	if entry.Error != nil {
		fields = append(fields, zap.Error(entry.Error))
		operationLogger.logger.Error("storefront operation", fields...)
		return
	}
	operationLogger.logger.Info("storefront operation", fields...)
}
