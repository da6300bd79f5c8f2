package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/tyemirov/authsession/internal/config"
	"github.com/tyemirov/authsession/internal/devapi"
	"github.com/tyemirov/authsession/pkg/authclient"
	"go.uber.org/zap"
)

var serveHTTP = func(server *http.Server) error {
	return server.ListenAndServe()
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "devapi",
		Short:   "Development auth API with password login, portal roles, and rotating refresh tokens",
		PreRunE: prepareServerConfig,
		RunE:    runServer,
	}

	rootCmd.Flags().String("env_file", ".env", "Optional .env file loaded before reading the environment")
	rootCmd.Flags().String("listen_addr", ":8000", "HTTP listen address")
	rootCmd.Flags().String("cookie_domain", "", "Cookie domain; empty for host-only")
	rootCmd.Flags().String("jwt_signing_key", "", "HS256 signing secret for access tokens")
	rootCmd.Flags().String("jwt_issuer", "authsession-devapi", "Issuer claim of access tokens")
	rootCmd.Flags().Duration("access_ttl", 15*time.Minute, "Access token TTL")
	rootCmd.Flags().Duration("refresh_ttl", 7*24*time.Hour, "Refresh token TTL")
	rootCmd.Flags().Bool("dev_insecure_http", false, "Allow insecure HTTP for local dev")
	rootCmd.Flags().String("database_url", "", "Database URL for refresh tokens (postgres:// or sqlite://; leave empty for in-memory store)")
	rootCmd.Flags().String("refresh_store_driver", "gorm", "Refresh token store driver for database_url (gorm|pgx); pgx requires postgres://")
	rootCmd.Flags().Bool("enable_cors", false, "Enable CORS for a browser portal on another origin")
	rootCmd.Flags().StringSlice("cors_allowed_origins", []string{}, "Allowed origins when CORS is enabled (required if enable_cors is true)")
	rootCmd.Flags().Int("lockout_threshold", 5, "Failed logins before an account is locked; 0 disables lockout")
	rootCmd.Flags().Duration("lockout_window", 15*time.Minute, "Window for counting failed logins and lock duration")
	rootCmd.Flags().StringSlice("seed_users", []string{}, "Accounts created at startup as username:password:role")
	rootCmd.Flags().Int("bcrypt_cost", 0, "bcrypt cost for password hashes; 0 uses the library default")

	for _, key := range []string{
		"env_file", "listen_addr", "cookie_domain", "jwt_signing_key", "jwt_issuer", "access_ttl",
		"refresh_ttl", "dev_insecure_http", "database_url", "refresh_store_driver", "enable_cors", "cors_allowed_origins",
		"lockout_threshold", "lockout_window", "seed_users", "bcrypt_cost",
	} {
		_ = viper.BindPFlag(key, rootCmd.Flags().Lookup(key))
	}

	viper.SetEnvPrefix("DEVAPI")
	viper.AutomaticEnv()

	return rootCmd
}

const (
	configCodeMissingJWTSigningKey    = "config.missing_jwt_signing_key"
	configCodeInvalidAccessTTL        = "config.invalid_access_ttl"
	configCodeInvalidRefreshTTL       = "config.invalid_refresh_ttl"
	configCodeInvalidLockout          = "config.invalid_lockout"
	configCodeInvalidSeedUser         = "config.invalid_seed_user"
	configCodeMissingCORSOrigins      = "config.missing_cors_allowed_origins"
	configCodeUninitializedServerConf = "config.uninitialized_server_config"
	configCodeInvalidStoreDriver      = "config.invalid_refresh_store_driver"
)

type contextKey string

const serverConfigContextKey contextKey = "serverConfig"

func prepareServerConfig(command *cobra.Command, arguments []string) error {
	if err := config.LoadDotEnv(viper.GetString("env_file")); err != nil {
		return err
	}
	serverConfig, loadErr := LoadServerConfig()
	if loadErr != nil {
		return loadErr
	}
	existingContext := command.Context()
	if existingContext == nil {
		existingContext = context.Background()
	}
	command.SetContext(context.WithValue(existingContext, serverConfigContextKey, serverConfig))
	return nil
}

func configError(code, message string) error {
	return fmt.Errorf("%s: %s", code, message)
}

// LoadServerConfig validates the bound flags and environment.
func LoadServerConfig() (devapi.ServerConfig, error) {
	jwtSigningKey := viper.GetString("jwt_signing_key")
	if jwtSigningKey == "" {
		return devapi.ServerConfig{}, configError(configCodeMissingJWTSigningKey, "jwt_signing_key must be provided")
	}

	accessTTL := viper.GetDuration("access_ttl")
	if accessTTL <= 0 {
		return devapi.ServerConfig{}, configError(configCodeInvalidAccessTTL, "access_ttl must be greater than zero")
	}

	refreshTTL := viper.GetDuration("refresh_ttl")
	if refreshTTL <= accessTTL {
		return devapi.ServerConfig{}, configError(configCodeInvalidRefreshTTL, "refresh_ttl must be greater than access_ttl")
	}

	lockoutThreshold := viper.GetInt("lockout_threshold")
	lockoutWindow := viper.GetDuration("lockout_window")
	if lockoutThreshold < 0 || (lockoutThreshold > 0 && lockoutWindow <= 0) {
		return devapi.ServerConfig{}, configError(configCodeInvalidLockout, "lockout_threshold must not be negative and lockout_window must be positive")
	}

	issuer := viper.GetString("jwt_issuer")
	if issuer == "" {
		issuer = "authsession-devapi"
	}

	return devapi.ServerConfig{
		SigningKey:        []byte(jwtSigningKey),
		Issuer:            issuer,
		CookieDomain:      viper.GetString("cookie_domain"),
		AccessCookieName:  devapi.DefaultAccessCookieName,
		RefreshCookieName: devapi.DefaultRefreshCookieName,
		AccessTTL:         accessTTL,
		RefreshTTL:        refreshTTL,
		LockoutThreshold:  lockoutThreshold,
		LockoutWindow:     lockoutWindow,
	}, nil
}

func seedUsers(ctx context.Context, users devapi.UserStore, entries []string) error {
	for _, entry := range entries {
		trimmed := strings.TrimSpace(entry)
		if trimmed == "" {
			continue
		}
		parts := strings.SplitN(trimmed, ":", 3)
		if len(parts) != 3 || !devapi.ValidRole(parts[2]) {
			return configError(configCodeInvalidSeedUser, "seed_users entries must look like username:password:role")
		}
		if _, err := users.Create(ctx, devapi.Registration{Username: parts[0], Password: parts[1], FullName: parts[0], Role: parts[2]}); err != nil {
			return fmt.Errorf("%s: %s: %w", configCodeInvalidSeedUser, parts[0], err)
		}
	}
	return nil
}

func openRefreshStore(ctx context.Context, logger *zap.Logger, databaseURL string, driver string) (devapi.RefreshTokenStore, error) {
	if databaseURL == "" {
		logger.Info("using in-memory refresh token store")
		return devapi.NewMemoryRefreshTokenStore(), nil
	}
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "gorm":
		persistentStore, storeErr := devapi.NewDatabaseRefreshTokenStore(ctx, databaseURL)
		if storeErr != nil {
			return nil, storeErr
		}
		logger.Info("using persistent refresh token store", zap.String("driver", persistentStore.Driver()))
		return persistentStore, nil
	case "pgx":
		pool, poolErr := devapi.BuildPool(ctx, databaseURL)
		if poolErr != nil {
			return nil, poolErr
		}
		if schemaErr := devapi.EnsureRefreshTokenSchema(ctx, pool); schemaErr != nil {
			pool.Close()
			return nil, schemaErr
		}
		logger.Info("using persistent refresh token store", zap.String("driver", "pgx"))
		return devapi.NewPostgresRefreshTokenStore(pool), nil
	default:
		return nil, configError(configCodeInvalidStoreDriver, "refresh_store_driver must be gorm or pgx")
	}
}

func runServer(command *cobra.Command, arguments []string) error {
	logger, loggerErr := zap.NewProduction()
	if loggerErr != nil {
		return loggerErr
	}
	defer func() { _ = logger.Sync() }()

	commandContext := command.Context()
	var contextValue any
	if commandContext != nil {
		contextValue = commandContext.Value(serverConfigContextKey)
	}
	serverConfig, ok := contextValue.(devapi.ServerConfig)
	if !ok {
		return configError(configCodeUninitializedServerConf, "server configuration not prepared; PreRunE must execute before RunE")
	}

	listenAddr := viper.GetString("listen_addr")
	databaseURL := viper.GetString("database_url")
	enableCORS := viper.GetBool("enable_cors")
	corsAllowedOrigins := viper.GetStringSlice("cors_allowed_origins")

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(zapLoggerMiddleware(logger))

	serverConfig.AllowInsecureHTTP = viper.GetBool("dev_insecure_http")
	serverConfig.SameSiteMode = http.SameSiteStrictMode
	if enableCORS {
		if len(corsAllowedOrigins) == 0 {
			return configError(configCodeMissingCORSOrigins, "cors_allowed_origins must be provided when enable_cors is true")
		}
		corsMiddleware, corsErr := devapi.ConfigureCORS(logger, corsAllowedOrigins)
		if corsErr != nil {
			return corsErr
		}
		router.Use(corsMiddleware)
		serverConfig.SameSiteMode = http.SameSiteNoneMode
	}

	userStore := devapi.NewInMemoryUsers(viper.GetInt("bcrypt_cost"))
	if err := seedUsers(context.Background(), userStore, viper.GetStringSlice("seed_users")); err != nil {
		return err
	}

	refreshStore, storeErr := openRefreshStore(context.Background(), logger, databaseURL, viper.GetString("refresh_store_driver"))
	if storeErr != nil {
		return storeErr
	}

	registry := prometheus.NewRegistry()
	metricsRecorder := authclient.NewPrometheusMetrics("devapi")
	if err := metricsRecorder.RegisterCollectors(registry); err != nil {
		return fmt.Errorf("metrics.register: %w", err)
	}
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	mountErr := devapi.MountAuthRoutes(router, serverConfig, devapi.Dependencies{
		Users:         userStore,
		RefreshTokens: refreshStore,
		Lockout:       devapi.NewLoginLockout(serverConfig.LockoutThreshold, serverConfig.LockoutWindow),
		Metrics:       metricsRecorder,
		Logger:        logger,
	})
	if mountErr != nil {
		return mountErr
	}

	server := &http.Server{
		Addr:              listenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	shutdownCtx, shutdownCancel := context.WithCancel(context.Background())
	defer shutdownCancel()

	go func() {
		stopSignals := make(chan os.Signal, 1)
		signal.Notify(stopSignals, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(stopSignals)
		select {
		case <-stopSignals:
		case <-shutdownCtx.Done():
			return
		}
		graceCtx, graceCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer graceCancel()
		if err := server.Shutdown(graceCtx); err != nil {
			logger.Error("server shutdown error", zap.Error(err))
		}
	}()

	logger.Info("listening", zap.String("addr", listenAddr))
	if err := serveHTTP(server); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen error: %w", err)
	}
	return nil
}

func zapLoggerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(contextGin *gin.Context) {
		startTime := time.Now()
		contextGin.Next()
		logger.Info("http",
			zap.String("method", contextGin.Request.Method),
			zap.String("path", contextGin.Request.URL.Path),
			zap.Int("status", contextGin.Writer.Status()),
			zap.String("ip", contextGin.ClientIP()),
			zap.String("request_id", contextGin.GetHeader("X-Request-ID")),
			zap.Duration("elapsed", time.Since(startTime)),
		)
	}
}
