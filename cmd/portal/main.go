package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/tyemirov/authsession/internal/config"
	"github.com/tyemirov/authsession/pkg/authclient"
	"github.com/tyemirov/authsession/pkg/credstore"
	"github.com/tyemirov/authsession/pkg/routeguard"
	"go.uber.org/zap"
)

const metricsNamespace = "portal"

var errPortalNotInitialized = errors.New("portal.not_initialized")

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

// portalApp holds the session wiring shared by every subcommand.
type portalApp struct {
	configuration *viper.Viper
	logger        *zap.Logger
	backend       credstore.Backend
	session       *authclient.Session
	guard         *routeguard.Guard
	router        *routeguard.Router
	metrics       *authclient.PrometheusMetrics
	registry      *prometheus.Registry
}

func newRootCommand() *cobra.Command {
	app := &portalApp{configuration: viper.New()}

	rootCmd := &cobra.Command{
		Use:          "portal",
		Short:        "Portal client keeping an authenticated session against the remote API",
		SilenceUsage: true,
		PersistentPreRunE: func(command *cobra.Command, arguments []string) error {
			if command.Name() == "help" {
				return nil
			}
			return app.open(command.Context())
		},
		PersistentPostRunE: func(command *cobra.Command, arguments []string) error {
			return app.close()
		},
	}

	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.PersistentFlags().String("env_file", ".env", "Optional .env file loaded before reading the environment")
	rootCmd.PersistentFlags().Bool("verbose", false, "Log at debug level in development format")
	_ = app.configuration.BindPFlag("env_file", rootCmd.PersistentFlags().Lookup("env_file"))
	_ = app.configuration.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	if err := config.RegisterFlags(rootCmd.PersistentFlags(), app.configuration); err != nil {
		panic(err)
	}

	rootCmd.AddCommand(
		newLoginCommand(app),
		newLogoutCommand(app),
		newWhoAmICommand(app),
		newRequestCommand(app),
		newServeCommand(app),
	)
	return rootCmd
}

func (app *portalApp) open(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := config.LoadDotEnv(app.configuration.GetString("env_file")); err != nil {
		return err
	}
	portalConfig, loadErr := config.Load(app.configuration)
	if loadErr != nil {
		return loadErr
	}

	logger, loggerErr := newLogger(app.configuration.GetBool("verbose"))
	if loggerErr != nil {
		return loggerErr
	}
	app.logger = logger

	backend, backendErr := credstore.OpenBackend(ctx, portalConfig.StorageURL)
	if backendErr != nil {
		return backendErr
	}
	app.backend = backend
	store, storeErr := credstore.NewStore(portalConfig.CredentialMode, backend, credstore.WithLogger(logger))
	if storeErr != nil {
		return storeErr
	}

	app.registry = prometheus.NewRegistry()
	app.metrics = authclient.NewPrometheusMetrics(metricsNamespace)
	if err := app.metrics.RegisterCollectors(app.registry); err != nil {
		return fmt.Errorf("metrics.register: %w", err)
	}

	authSession, sessionErr := authclient.NewSession(ctx, portalConfig.Client, authclient.Dependencies{
		Store:   store,
		Logger:  logger,
		Metrics: app.metrics,
	})
	if sessionErr != nil {
		return sessionErr
	}
	guard, guardErr := routeguard.NewGuard(authSession, routeguard.DefaultRoutes())
	if guardErr != nil {
		return guardErr
	}
	router, routerErr := routeguard.NewRouter(guard, logger)
	if routerErr != nil {
		return routerErr
	}
	authSession.SetNavigator(router)

	app.session = authSession
	app.guard = guard
	app.router = router
	logger.Debug("portal session ready",
		zap.String("api_base_url", portalConfig.Client.BaseURL),
		zap.String("credential_mode", string(portalConfig.CredentialMode)))
	return nil
}

func (app *portalApp) close() error {
	var closeErr error
	if app.backend != nil {
		closeErr = app.backend.Close()
		app.backend = nil
	}
	if app.logger != nil {
		_ = app.logger.Sync()
	}
	return closeErr
}

func (app *portalApp) ready() error {
	if app.session == nil {
		return errPortalNotInitialized
	}
	return nil
}

func newLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
