package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/acqdocs/internal/api"
	"github.com/sells-group/acqdocs/internal/catalog"
	"github.com/sells-group/acqdocs/internal/monitoring"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if servePort != 0 {
			cfg.Server.Port = servePort
		}

		env, err := initApp(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		startBackground(ctx, env)

		srv := api.New(ctx, env.Store, env.Refiner, env.Catalog, monitoring.NewCollector(env.Store), api.Options{
			Threshold:   cfg.Refinement.QualityThreshold,
			CORSOrigins: cfg.Server.CORSOrigins,
			Breakers:    env.Breakers,
		})
		return listen(ctx, srv, cfg.Server.Port)
	},
}

// startBackground launches the catalog watcher and quality checker when
// configured. Both stop with ctx.
func startBackground(ctx context.Context, env *appEnv) {
	if cfg.Catalog.Watch && cfg.Catalog.Path != "" {
		go func() {
			if err := catalog.Watch(ctx, cfg.Catalog.Path, env.Catalog); err != nil {
				zap.L().Error("catalog watcher stopped", zap.Error(err))
			}
		}()
	}

	if cfg.Monitoring.Enabled && len(cfg.Monitoring.Programs) > 0 {
		checker := monitoring.NewChecker(
			monitoring.NewCollector(env.Store),
			monitoring.NewAlerter(cfg.Monitoring),
			cfg.Monitoring,
			cfg.Refinement.QualityThreshold,
		)
		go checker.Run(ctx)
	}
}

// listen serves until ctx is cancelled, then drains in-flight requests and
// background generations.
func listen(ctx context.Context, srv *api.Server, port int) error {
	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		zap.L().Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		_ = httpSrv.Shutdown(shutdownCtx)
	}()

	zap.L().Info("starting server", zap.Int("port", port))
	if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return eris.Wrap(err, "server listen")
	}

	srv.Wait()
	return nil
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
