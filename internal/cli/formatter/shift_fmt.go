package formatter

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/alexanderramin/defectlens/internal/domain"
)

const rateBarWidth = 20

// FormatShiftReport renders a shift summary: the rate verdict, breakdowns
// and the defects that need attention.
func FormatShiftReport(rep *domain.ShiftReport) string {
	var b strings.Builder

	b.WriteString(Label("Inspected", strconv.Itoa(rep.TotalInspected)) + "\n")
	b.WriteString(Label("Defects", strconv.Itoa(rep.TotalDefects)) + "\n")
	b.WriteString(Label("Rate", fmt.Sprintf("%s  %s  target %s  %s",
		Bold(Percent(rep.DefectRatePercent)),
		RateBar(rep.DefectRatePercent, rep.TargetRatePercent, rateBarWidth),
		Percent(rep.TargetRatePercent),
		RateBadge(rep.RateStatus))) + "\n")

	if rep.RequiresLineStop {
		b.WriteString("\n" + StyleRed.Render(fmt.Sprintf("■ LINE STOP: %d critical defect(s)", rep.CriticalCount)) + "\n")
	} else if rep.MajorCount > 0 {
		b.WriteString("\n" + StyleYellow.Render(fmt.Sprintf("▲ %d major defect(s)", rep.MajorCount)) + "\n")
	}

	if len(rep.ByDefectType) > 0 {
		b.WriteString("\n" + Header("By defect type") + "\n")
		b.WriteString(countTable("TYPE", rep.ByDefectType))
	}
	if len(rep.BySeverity) > 0 {
		b.WriteString("\n" + Header("By severity") + "\n")
		rows := make([][]string, 0, len(rep.BySeverity))
		for _, sev := range domain.Severities {
			if n := rep.BySeverity[sev]; n > 0 {
				rows = append(rows, []string{SeverityBadge(&sev), strconv.Itoa(n)})
			}
		}
		b.WriteString(Table{Headers: []string{"SEVERITY", "COUNT"}, Rows: rows, Right: map[int]bool{1: true}}.Render())
	}
	if len(rep.ByProductionStage) > 0 {
		b.WriteString("\n" + Header("By production stage") + "\n")
		rows := make([][]string, 0, len(rep.ByProductionStage))
		for _, st := range domain.ProductionStages {
			n := rep.ByProductionStage[st]
			if n == 0 {
				continue
			}
			name := string(st)
			if rep.TopProblematicStage != nil && *rep.TopProblematicStage == st {
				name = StyleRed.Render(name + " ◀ top")
			}
			rows = append(rows, []string{name, strconv.Itoa(n)})
		}
		b.WriteString(Table{Headers: []string{"STAGE", "COUNT"}, Rows: rows, Right: map[int]bool{1: true}}.Render())
	}
	if len(rep.UniqueRootCauses) > 0 {
		b.WriteString("\n" + Header("Root causes") + "\n")
		b.WriteString(Bullets(rep.UniqueRootCauses))
	}

	b.WriteString("\n" + Dim(fmt.Sprintf("%s reasoning tokens (avg %s per analysis)",
		Tokens(rep.TotalReasoningTokens), Tokens(int(rep.AvgReasoningTokensPerAnalysis)))))
	if rep.ModelVersion != "" {
		b.WriteString(Dim(" · model " + rep.ModelVersion))
	}
	b.WriteString("\n")

	return RenderBox("Shift summary", b.String())
}

// countTable renders a count map sorted by count, ties by key.
func countTable[K ~string](header string, counts map[K]int) string {
	keys := make([]K, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if counts[keys[i]] != counts[keys[j]] {
			return counts[keys[i]] > counts[keys[j]]
		}
		return keys[i] < keys[j]
	})
	rows := make([][]string, 0, len(keys))
	for _, k := range keys {
		rows = append(rows, []string{string(k), strconv.Itoa(counts[k])})
	}
	return Table{Headers: []string{header, "COUNT"}, Rows: rows, Right: map[int]bool{1: true}}.Render()
}
