package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/alexanderramin/defectlens/internal/cli/formatter"
	"github.com/alexanderramin/defectlens/internal/domain"
	"github.com/alexanderramin/defectlens/internal/imagegate"
	"github.com/alexanderramin/defectlens/internal/pipeline"
)

type batchItem struct {
	Image  string                       `json:"image"`
	Record *domain.DefectAnalysisRecord `json:"record,omitempty"`
	Error  string                       `json:"error,omitempty"`
}

type batchOutput struct {
	Results []batchItem         `json:"results"`
	Summary *domain.ShiftReport `json:"summary"`
}

func newBatchCmd(app *App) *cobra.Command {
	var (
		sku         string
		facility    string
		concurrency int
		targetRate  float64
		jsonOut     bool
	)

	cmd := &cobra.Command{
		Use:   "batch <image>...",
		Short: "Analyze several images of one SKU and summarize the shift",
		Long: `Runs the pipeline on every image with bounded concurrency. Images that fail
the upload checks or quality gate are reported and never reach the model.
The command exits non-zero when any image failed.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > app.Config.Server.MaxBatchSize {
				return fmt.Errorf("at most %d images per batch", app.Config.Server.MaxBatchSize)
			}
			details, err := app.resolveDetails(sku, facility)
			if err != nil {
				return err
			}
			if concurrency <= 0 {
				concurrency = app.Config.Server.BatchConcurrency
			}

			items := make([]batchItem, len(args))
			var (
				reqs  []pipeline.Request
				index []int
			)
			for i, path := range args {
				items[i].Image = path
				req, err := app.loadImage(path)
				if err != nil {
					items[i].Error = batchLoadError(err)
					continue
				}
				req.ProductSKU = details.SKU
				req.Facility = details.facility()
				reqs = append(reqs, req)
				index = append(index, i)
			}

			var results []pipeline.BatchResult
			if len(reqs) > 0 {
				analyzer, err := app.NewAnalyzer(nil)
				if err != nil {
					return err
				}
				var spin *formatter.Spinner
				if app.IsTerminalOutput() && !jsonOut {
					spin = formatter.NewSpinner(cmd.ErrOrStderr(), fmt.Sprintf("Analyzing %d image(s)...", len(reqs)))
					spin.Start()
				}
				results = analyzer.Batch(cmd.Context(), reqs, concurrency)
				if spin != nil {
					spin.Stop()
				}
			}

			failed := 0
			for j, res := range results {
				item := &items[index[j]]
				if res.Err != nil {
					item.Error = res.Err.Error()
					continue
				}
				item.Record = res.Record
			}
			rows := make([]formatter.BatchRow, len(items))
			for i, item := range items {
				if item.Error != "" {
					failed++
				}
				rows[i] = formatter.BatchRow{Image: item.Image, Record: item.Record, Err: item.Error}
			}

			summary := domain.BuildShiftReport(pipeline.Records(results), app.Now(), targetRate)
			if summary.ModelVersion == "" {
				summary.ModelVersion = app.Config.LLM.ModelVersion
			}

			out := cmd.OutOrStdout()
			if jsonOut {
				if err := writeJSON(out, batchOutput{Results: items, Summary: summary}); err != nil {
					return err
				}
			} else {
				fmt.Fprint(out, formatter.FormatBatch(rows))
				fmt.Fprintln(out)
				fmt.Fprintln(out, formatter.FormatShiftReport(summary))
			}

			if failed > 0 {
				return fmt.Errorf("%d of %d image(s) failed", failed, len(items))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&sku, "sku", "", "product SKU shared by every image")
	cmd.Flags().StringVar(&facility, "facility", "", "hongkong, shenzhen or yangjiang (default yangjiang)")
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "images analyzed at once (default from server.batch_concurrency)")
	cmd.Flags().Float64Var(&targetRate, "target-rate", domain.DefaultTargetDefectRate, "defect rate target in percent")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "print results and summary as JSON")

	return cmd
}

// batchLoadError shortens quality gate rejections to their reason.
func batchLoadError(err error) string {
	var rejected *imagegate.RejectedError
	if errors.As(err, &rejected) {
		return string(rejected.Result.Reason)
	}
	return err.Error()
}
