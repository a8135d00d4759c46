package cli

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/alexanderramin/defectlens/internal/config"
	"github.com/alexanderramin/defectlens/internal/httpapi"
	"github.com/alexanderramin/defectlens/internal/worker"
)

const shutdownGrace = 15 * time.Second

func newServeCmd(app *App) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := app.Config
			if addr != "" {
				cfg.Server.Addr = addr
			}
			if err := cfg.ValidateServer(); err != nil {
				return err
			}
			analyzer, err := app.NewAnalyzer(nil)
			if err != nil {
				return err
			}

			if cfg.App.Env == "production" {
				gin.SetMode(gin.ReleaseMode)
			}
			router := httpapi.NewRouter(httpapi.Deps{
				Analyzer:         analyzer,
				Taxonomy:         app.Taxonomy,
				Gate:             cfg.ImageGate,
				Logger:           app.Logger,
				Registry:         app.Registry,
				Version:          app.Version,
				ModelVersion:     cfg.LLM.ModelVersion,
				BatchConcurrency: cfg.Server.BatchConcurrency,
				MaxBatchSize:     cfg.Server.MaxBatchSize,
				Now:              app.Now,
				Ingest:           ingestProducer(cfg, app.Logger),
			})
			srv := &http.Server{
				Addr:              cfg.Server.Addr,
				Handler:           router,
				ReadTimeout:       cfg.Server.ReadTimeout,
				ReadHeaderTimeout: 10 * time.Second,
				WriteTimeout:      cfg.Server.WriteTimeout,
			}
			return serveUntilDone(cmd.Context(), srv, app.Logger)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from server.addr)")
	return cmd
}

// serveUntilDone runs srv until it fails or ctx is done, then drains
// in-flight requests.
func serveUntilDone(ctx context.Context, srv *http.Server, log *zap.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info("http server listening", zap.String("addr", srv.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Info("http server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownGrace)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// ingestProducer enables POST /api/v1/ingest once queue credentials are set.
func ingestProducer(cfg *config.Config, log *zap.Logger) httpapi.Enqueuer {
	if cfg.Lmstfy.Host == "" || cfg.Lmstfy.Token == "" {
		return nil
	}
	q := worker.NewLmstfyQueue(cfg.Lmstfy.Host, cfg.Lmstfy.Port, cfg.Lmstfy.Namespace, cfg.Lmstfy.Token, cfg.Lmstfy.Tries)
	return worker.NewProducer(cfg.Worker, q, log)
}
