package formatter

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/alexanderramin/defectlens/internal/domain"
)

// FormatUsage renders per-task ledger totals for the window ending now.
func FormatUsage(rows []domain.TaskUsage, window time.Duration) string {
	if len(rows) == 0 {
		return Dim(fmt.Sprintf("No model calls recorded in the last %s.", Window(window))) + "\n"
	}

	table := Table{
		Headers: []string{"TASK", "CALLS", "FAILED", "PROMPT", "COMPLETION", "REASONING", "AVG LATENCY"},
		Right:   map[int]bool{1: true, 2: true, 3: true, 4: true, 5: true, 6: true},
	}
	var total domain.TaskUsage
	for _, u := range rows {
		failed := strconv.Itoa(u.Failures)
		if u.Failures > 0 {
			failed = StyleRed.Render(failed)
		}
		table.Rows = append(table.Rows, []string{
			Bold(string(u.Task)),
			strconv.Itoa(u.Calls),
			failed,
			Tokens(u.PromptTokens),
			Tokens(u.CompletionTokens),
			Tokens(u.ReasoningTokens),
			formatLatency(u.AvgLatencyMs),
		})
		total.Calls += u.Calls
		total.Failures += u.Failures
		total.PromptTokens += u.PromptTokens
		total.CompletionTokens += u.CompletionTokens
		total.ReasoningTokens += u.ReasoningTokens
	}

	var b strings.Builder
	b.WriteString(table.Render())
	b.WriteString("\n" + Dim(fmt.Sprintf("%d calls, %s tokens in the last %s",
		total.Calls, Tokens(total.TotalTokens()), Window(window))) + "\n")
	return RenderBox("Model usage", b.String())
}

func formatLatency(ms float64) string {
	if ms >= 1000 {
		return fmt.Sprintf("%.1fs", ms/1000)
	}
	return fmt.Sprintf("%.0fms", ms)
}

// Window renders a lookback duration in its largest whole unit, e.g. "7d".
func Window(d time.Duration) string {
	const day = 24 * time.Hour
	switch {
	case d <= 0:
		return d.String()
	case d%day == 0:
		return fmt.Sprintf("%dd", int64(d/day))
	case d%time.Hour == 0:
		return fmt.Sprintf("%dh", int64(d/time.Hour))
	case d%time.Minute == 0:
		return fmt.Sprintf("%dm", int64(d/time.Minute))
	default:
		return d.String()
	}
}
