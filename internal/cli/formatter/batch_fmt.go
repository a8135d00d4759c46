package formatter

import (
	"fmt"

	"github.com/alexanderramin/defectlens/internal/domain"
)

// BatchRow is one image of a batch run. Exactly one of Record and Err is set.
type BatchRow struct {
	Image  string
	Record *domain.DefectAnalysisRecord
	Err    string
}

// FormatBatch renders one line per image followed by a failure count.
func FormatBatch(rows []BatchRow) string {
	table := Table{
		Headers: []string{"IMAGE", "RESULT", "TYPE", "SEVERITY", "CONFIDENCE", "TOKENS"},
		Right:   map[int]bool{4: true, 5: true},
	}
	failed := 0
	for _, r := range rows {
		if r.Record == nil {
			failed++
			table.Rows = append(table.Rows, []string{r.Image, StyleRed.Render("✖ " + r.Err)})
			continue
		}
		rec := r.Record
		result := StyleGreen.Render("✔ clean")
		if rec.DefectDetected {
			result = SeverityStyle(rec.Severity).Render("● defect")
		}
		table.Rows = append(table.Rows, []string{
			r.Image,
			result,
			OrDash(Deref(rec.DefectType)),
			OrDash(Deref(rec.Severity)),
			fmt.Sprintf("%.2f", rec.Confidence),
			Tokens(rec.ReasoningTokensUsed),
		})
	}

	out := table.Render()
	if failed > 0 {
		out += "\n" + StyleRed.Render(fmt.Sprintf("%d of %d image(s) failed", failed, len(rows))) + "\n"
	}
	return out
}
