package cli

import (
	"github.com/spf13/cobra"

	"github.com/alexanderramin/defectlens/internal/mcpserver"
)

func newMCPCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the analysis tools over MCP on stdio",
		Long: `Exposes analyze_image, get_taxonomy and shift_report as Model Context
Protocol tools. Logs go to stderr so stdout stays reserved for the protocol.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			analyzer, err := app.NewAnalyzer(nil)
			if err != nil {
				return err
			}
			srv := mcpserver.NewServer(analyzer, app.Taxonomy, app.Config.ImageGate, app.Version, app.Logger)
			return srv.Run(cmd.Context())
		},
	}
}
