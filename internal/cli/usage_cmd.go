package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/alexanderramin/defectlens/internal/cli/formatter"
)

func newUsageCmd(app *App) *cobra.Command {
	var (
		since   time.Duration
		prune   bool
		jsonOut bool
	)

	cmd := &cobra.Command{
		Use:   "usage",
		Short: "Summarize model calls and token spend from the usage ledger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			repo, err := app.ledgerRepo()
			if err != nil {
				return err
			}
			if repo == nil {
				return errors.New("usage ledger is disabled (ledger.enabled is false)")
			}
			if since <= 0 {
				return errors.New("--since must be positive")
			}
			ctx := cmd.Context()
			now := app.Now()

			if prune {
				before := now.Add(-app.Config.Ledger.Retention)
				n, err := repo.Prune(ctx, before)
				if err != nil {
					return err
				}
				app.Logger.Info("pruned usage ledger", zap.Int64("rows", n), zap.Time("before", before))
				fmt.Fprintf(cmd.ErrOrStderr(), "Pruned %d call(s) older than %s.\n", n, formatter.Window(app.Config.Ledger.Retention))
			}

			rows, err := repo.Summarize(ctx, now.Add(-since))
			if err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(cmd.OutOrStdout(), rows)
			}
			fmt.Fprintln(cmd.OutOrStdout(), formatter.FormatUsage(rows, since))
			return nil
		},
	}

	cmd.Flags().DurationVar(&since, "since", 24*time.Hour, "lookback window")
	cmd.Flags().BoolVar(&prune, "prune", false, "delete calls older than ledger.retention first")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "print as JSON")
	return cmd
}
