package cli

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/alexanderramin/defectlens/internal/worker"
)

func newWorkerCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Consume analysis jobs from the queue",
		Long: `Pulls jobs from the lmstfy queue, analyzes each image and stores the record
in redis, publishing a notification per finished job. Malformed jobs, gate
rejections and fatal pipeline errors go to the dead-letter queue; transient
failures are released for a later retry.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := app.Config
			if err := cfg.ValidateWorker(); err != nil {
				return err
			}
			analyzer, err := app.NewAnalyzer(nil)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			store, err := worker.NewRedisStore(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.Channel, cfg.Redis.ResultTTL)
			if err != nil {
				return err
			}
			defer store.Close()

			queue := worker.NewLmstfyQueue(cfg.Lmstfy.Host, cfg.Lmstfy.Port, cfg.Lmstfy.Namespace, cfg.Lmstfy.Token, cfg.Lmstfy.Tries)
			w := worker.New(cfg.Worker, queue, store, analyzer, cfg.ImageGate, app.Logger)

			if err := w.Run(ctx); err != nil {
				return err
			}
			stats := w.Stats()
			app.Logger.Info("worker finished",
				zap.Int64("completed", stats.Completed),
				zap.Int64("abandoned", stats.Abandoned),
				zap.Int64("dead_lettered", stats.DeadLettered),
			)
			return nil
		},
	}
}
