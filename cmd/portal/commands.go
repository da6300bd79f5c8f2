package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/tyemirov/authsession/internal/web"
	"github.com/tyemirov/authsession/pkg/routeguard"
	"go.uber.org/zap"
)

var (
	errMissingLoginInput = errors.New("portal.login.missing_credentials")
	errNotSignedIn       = errors.New("portal.not_signed_in")
	errInvalidRequestArg = errors.New("portal.request.invalid_arguments")
)

var serveHTTP = func(server *http.Server) error {
	return server.ListenAndServe()
}

func newLoginCommand(app *portalApp) *cobra.Command {
	loginCmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and persist the session",
		Args:  cobra.NoArgs,
		RunE: func(command *cobra.Command, arguments []string) error {
			if err := app.ready(); err != nil {
				return err
			}
			username := strings.TrimSpace(app.configuration.GetString("username"))
			password := app.configuration.GetString("password")
			if username == "" || password == "" {
				return fmt.Errorf("%w: username and password must be provided", errMissingLoginInput)
			}
			user, loginErr := app.session.Login(command.Context(), username, password)
			if loginErr != nil {
				return loginErr
			}
			return writeJSON(command.OutOrStdout(), user)
		},
	}
	loginCmd.Flags().String("username", "", "Account username (PORTAL_USERNAME)")
	loginCmd.Flags().String("password", "", "Account password (PORTAL_PASSWORD)")
	_ = app.configuration.BindPFlag("username", loginCmd.Flags().Lookup("username"))
	_ = app.configuration.BindPFlag("password", loginCmd.Flags().Lookup("password"))
	return loginCmd
}

func newLogoutCommand(app *portalApp) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and forget the stored session",
		Args:  cobra.NoArgs,
		RunE: func(command *cobra.Command, arguments []string) error {
			if err := app.ready(); err != nil {
				return err
			}
			if err := app.session.Logout(command.Context()); err != nil {
				return err
			}
			_, err := fmt.Fprintln(command.OutOrStdout(), "signed out")
			return err
		},
	}
}

func newWhoAmICommand(app *portalApp) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Verify the session with the server and print the current user",
		Args:  cobra.NoArgs,
		RunE: func(command *cobra.Command, arguments []string) error {
			if err := app.ready(); err != nil {
				return err
			}
			if !app.session.CheckAuth(command.Context()) {
				return errNotSignedIn
			}
			return writeJSON(command.OutOrStdout(), app.session.State().User())
		},
	}
}

func newRequestCommand(app *portalApp) *cobra.Command {
	requestCmd := &cobra.Command{
		Use:   "request METHOD PATH",
		Short: "Call a protected API endpoint with the session credentials",
		Args:  cobra.ExactArgs(2),
		RunE: func(command *cobra.Command, arguments []string) error {
			if err := app.ready(); err != nil {
				return err
			}
			method := strings.ToUpper(strings.TrimSpace(arguments[0]))
			path := strings.TrimSpace(arguments[1])
			if method == "" || !strings.HasPrefix(path, "/") {
				return fmt.Errorf("%w: expected METHOD /path", errInvalidRequestArg)
			}
			var payload any
			data, _ := command.Flags().GetString("data")
			if strings.TrimSpace(data) != "" {
				if !json.Valid([]byte(data)) {
					return fmt.Errorf("%w: --data must be valid JSON", errInvalidRequestArg)
				}
				payload = json.RawMessage(data)
			}
			var body json.RawMessage
			if err := app.session.Client().Do(command.Context(), method, path, payload, &body); err != nil {
				return err
			}
			if len(body) == 0 {
				return nil
			}
			return writeJSON(command.OutOrStdout(), body)
		},
	}
	requestCmd.Flags().String("data", "", "JSON request body")
	return requestCmd
}

func newServeCommand(app *portalApp) *cobra.Command {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the portal web shell on a local address",
		Args:  cobra.NoArgs,
		RunE: func(command *cobra.Command, arguments []string) error {
			if err := app.ready(); err != nil {
				return err
			}
			listenAddr, _ := command.Flags().GetString("listen_addr")
			return app.serve(listenAddr)
		},
	}
	serveCmd.Flags().String("listen_addr", "127.0.0.1:8080", "HTTP listen address of the web shell")
	return serveCmd
}

func (app *portalApp) serve(listenAddr string) error {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(zapLoggerMiddleware(app.logger))

	shell, shellErr := web.NewShell(app.session, app.guard, app.logger)
	if shellErr != nil {
		return shellErr
	}
	shell.Mount(engine)
	engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(app.registry, promhttp.HandlerOpts{})))

	app.router.OnNavigate(func(from routeguard.Route, to routeguard.Route) {
		app.logger.Debug("portal route changed",
			zap.String("from", from.Name),
			zap.String("to", to.Name))
	})

	server := &http.Server{
		Addr:              listenAddr,
		Handler:           engine,
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
			app.logger.Error("server shutdown error", zap.Error(err))
		}
	}()

	app.logger.Info("portal shell listening", zap.String("addr", listenAddr))
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
			zap.Duration("elapsed", time.Since(startTime)),
		)
	}
}

func writeJSON(writer io.Writer, value any) error {
	encoder := json.NewEncoder(writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}
