package formatter

import (
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexanderramin/defectlens/internal/domain"
	"github.com/alexanderramin/defectlens/internal/taxonomy"
)

var ansiPattern = regexp.MustCompile(`\x1b\[[0-9;]*[a-zA-Z]`)

func stripANSI(s string) string {
	return ansiPattern.ReplaceAllString(s, "")
}

func ptr[T any](v T) *T { return &v }

func defectRecord() *domain.DefectAnalysisRecord {
	return &domain.DefectAnalysisRecord{
		DefectID:       "DEF-20250615-3F2A9C1B",
		Timestamp:      time.Date(2025, 6, 15, 10, 30, 0, 0, time.UTC),
		Facility:       domain.FacilityYangjiang,
		ProductSKU:     "WK-KN-200",
		ImageRef:       "knife-0042.png",
		DefectDetected: true,
		DefectType:     ptr(domain.DefectBladeChip),
		Severity:       ptr(domain.SeverityMajor),
		Confidence:     0.91,
		Description:    "Chip on the cutting edge near the tip",
		AffectedArea:   ptr(domain.AreaEdge),
		BoundingBox:    &domain.BoundingBox{X: 10, Y: 20, Width: 30, Height: 40},
		ProbableStage:  ptr(domain.StageCuttingEdgeHoning),
		RootCause:      ptr("Worn honing wheel"),
		FiveWhyChain:   []string{"Edge chipped", "Wheel worn"},
		IshikawaAnalysis: map[domain.IshikawaCategory]*string{
			domain.IshikawaMachine: ptr("Honing wheel past service life"),
			domain.IshikawaMan:     nil,
		},
		ContributingFactors: []string{"High line speed"},
		CorrectiveActions:   []string{"IMMEDIATE: regrind edge"},
		PreventiveActions:   []string{"Shorten wheel replacement interval"},
		EscalationRequired:  true,
		EscalationReason:    "Repeat defect on line 3",
		ReasoningTokensUsed: 6700,
		ModelVersion:        "gpt-5.2",
	}
}

func TestTable_Alignment(t *testing.T) {
	out := stripANSI(Table{
		Headers: []string{"A", "N"},
		Rows:    [][]string{{"x", "5"}, {"longer", "12"}},
		Right:   map[int]bool{1: true},
	}.Render())

	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "x        5", lines[2])
	assert.Equal(t, "longer  12", lines[3])
	assert.Equal(t, "──────  ──", lines[1])
}

func TestRenderTable_NoHeaders(t *testing.T) {
	assert.Empty(t, RenderTable(nil, [][]string{{"x"}}))
}

func TestConfidenceBar(t *testing.T) {
	tests := []struct {
		conf float64
		want string
	}{
		{0.5, "[██░░] 0.50"},
		{1.5, "[████] 1.00"},
		{-1, "[░░░░] 0.00"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, stripANSI(ConfidenceBar(tt.conf, 4)))
	}
}

func TestRateBar(t *testing.T) {
	assert.Equal(t, "[░░░░░│░░░░]", stripANSI(RateBar(0, 0.18, 10)))
	assert.Equal(t, "[█████│████]", stripANSI(RateBar(0.36, 0.18, 10)))
}

func TestNumberHelpers(t *testing.T) {
	assert.Equal(t, "6,700", Tokens(6700))
	assert.Equal(t, "0.18%", Percent(0.18))
	assert.Equal(t, "50%", Percent(50))
	assert.Equal(t, "24h", Window(24*time.Hour))
	assert.Equal(t, "7d", Window(7*24*time.Hour))
	assert.Equal(t, "90m", Window(90*time.Minute))
}

func TestFormatRecord_Defect(t *testing.T) {
	out := stripANSI(FormatRecord(defectRecord()))

	for _, want := range []string{
		"DEFECT ANALYSIS",
		"DEF-20250615-3F2A9C1B",
		"knife-0042.png",
		"● MAJOR",
		"blade_chip",
		"x=10 y=20 w=30 h=40",
		"cutting_edge_honing",
		"ROOT CAUSE",
		"Worn honing wheel",
		"1. Edge chipped",
		"2. Wheel worn",
		"Honing wheel past service life",
		"• IMMEDIATE: regrind edge",
		"ESCALATION REQUIRED: Repeat defect on line 3",
		"model gpt-5.2 · 6,700 reasoning tokens",
	} {
		assert.Contains(t, out, want)
	}
	assert.NotContains(t, out, "man ", "nil ishikawa entries are skipped")
}

func TestFormatRecord_Clean(t *testing.T) {
	rec := &domain.DefectAnalysisRecord{
		DefectID:            "DEF-20250615-00000001",
		Facility:            domain.FacilityShenzhen,
		ProductSKU:          "WK-FK-100",
		Confidence:          0.97,
		ReasoningTokensUsed: 550,
		ModelVersion:        "gpt-5.2",
	}
	out := stripANSI(FormatRecord(rec))

	assert.Contains(t, out, "No defect detected")
	assert.Contains(t, out, "shenzhen")
	assert.NotContains(t, out, "ROOT CAUSE")
	assert.NotContains(t, out, "ESCALATION")
}

func TestFormatShiftReport(t *testing.T) {
	critical := defectRecord()
	critical.Severity = ptr(domain.SeverityCritical)
	critical.DefectType = ptr(domain.DefectRustSpot)
	clean := &domain.DefectAnalysisRecord{DefectID: "DEF-2", ReasoningTokensUsed: 550, ModelVersion: "gpt-5.2"}

	rep := domain.BuildShiftReport([]*domain.DefectAnalysisRecord{critical, clean},
		time.Date(2025, 6, 15, 18, 0, 0, 0, time.UTC), domain.DefaultTargetDefectRate)
	out := stripANSI(FormatShiftReport(rep))

	for _, want := range []string{
		"SHIFT SUMMARY",
		"50%",
		"target 0.18%",
		"✖ FAIL",
		"LINE STOP: 1 critical",
		"rust_spot",
		"● CRITICAL",
		"cutting_edge_honing ◀ top",
		"• Worn honing wheel",
		"7,250 reasoning tokens (avg 3,625 per analysis)",
	} {
		assert.Contains(t, out, want)
	}
}

func TestFormatShiftReport_Pass(t *testing.T) {
	rep := domain.BuildShiftReport(nil, time.Now(), 5)
	out := stripANSI(FormatShiftReport(rep))
	assert.Contains(t, out, "✔ PASS")
	assert.NotContains(t, out, "LINE STOP")
	assert.NotContains(t, out, "BY DEFECT TYPE")
}

func TestFormatBatch(t *testing.T) {
	out := stripANSI(FormatBatch([]BatchRow{
		{Image: "a.png", Record: defectRecord()},
		{Image: "b.png", Err: "too_dark"},
		{Image: "c.png", Record: &domain.DefectAnalysisRecord{Confidence: 0.99, ReasoningTokensUsed: 550}},
	}))

	assert.Contains(t, out, "● defect")
	assert.Contains(t, out, "✖ too_dark")
	assert.Contains(t, out, "✔ clean")
	assert.Contains(t, out, "6,700")
	assert.Contains(t, out, "1 of 3 image(s) failed")
}

func TestFormatUsage(t *testing.T) {
	out := stripANSI(FormatUsage([]domain.TaskUsage{
		{Task: "classification", Calls: 3, Failures: 1, PromptTokens: 1000, CompletionTokens: 200, ReasoningTokens: 600, AvgLatencyMs: 2000},
		{Task: "report", Calls: 1, PromptTokens: 400, CompletionTokens: 100, AvgLatencyMs: 350},
	}, 24*time.Hour))

	assert.Contains(t, out, "MODEL USAGE")
	assert.Contains(t, out, "classification")
	assert.Contains(t, out, "2.0s")
	assert.Contains(t, out, "350ms")
	assert.Contains(t, out, "4 calls, 2,300 tokens in the last 24h")
}

func TestFormatUsage_Empty(t *testing.T) {
	assert.Equal(t, "No model calls recorded in the last 7d.\n", stripANSI(FormatUsage(nil, 7*24*time.Hour)))
}

func TestTaxonomyFormatters(t *testing.T) {
	tax := taxonomy.Default()

	types := stripANSI(FormatDefectTypes(tax))
	assert.Contains(t, types, "blade_chip")
	assert.Contains(t, types, "● CRITICAL")

	stages := stripANSI(FormatStages(tax))
	assert.Less(t, strings.Index(stages, "blade_stamp"), strings.Index(stages, "packaging"))

	facilities := stripANSI(FormatFacilities(tax))
	for _, f := range tax.Facilities() {
		assert.Contains(t, facilities, string(f.Code))
	}
}
