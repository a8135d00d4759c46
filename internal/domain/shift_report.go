package domain

import (
	"math"
	"time"
)

// DefaultTargetDefectRate is the line's defect-rate goal in percent.
const DefaultTargetDefectRate = 0.18

type RateStatus string

const (
	RatePass RateStatus = "PASS"
	RateFail RateStatus = "FAIL"
)

// ShiftReport aggregates the records produced during one shift.
type ShiftReport struct {
	ReportTimestamp time.Time `json:"report_timestamp"`
	ReportType      string    `json:"report_type"`
	ModelVersion    string    `json:"model_version,omitempty"`

	TotalInspected    int        `json:"total_inspected"`
	TotalDefects      int        `json:"total_defects"`
	DefectRatePercent float64    `json:"defect_rate_percent"`
	TargetRatePercent float64    `json:"target_rate_percent"`
	RateStatus        RateStatus `json:"rate_status"`
	RateVariance      float64    `json:"rate_variance"`

	ByDefectType      map[DefectType]int      `json:"by_defect_type"`
	BySeverity        map[Severity]int        `json:"by_severity"`
	ByProductionStage map[ProductionStage]int `json:"by_production_stage"`

	CriticalCount    int  `json:"critical_count"`
	MajorCount       int  `json:"major_count"`
	RequiresLineStop bool `json:"requires_line_stop"`

	UniqueRootCauses    []string         `json:"unique_root_causes"`
	TopProblematicStage *ProductionStage `json:"top_problematic_stage"`

	TotalReasoningTokens          int     `json:"total_reasoning_tokens"`
	AvgReasoningTokensPerAnalysis float64 `json:"avg_reasoning_tokens_per_analysis"`

	DefectDetails []*DefectAnalysisRecord `json:"defect_details"`
}

// BuildShiftReport summarises records against targetRate (percent). The
// most frequent stage wins the top spot; ties go to the stage earliest on
// the line.
func BuildShiftReport(records []*DefectAnalysisRecord, now time.Time, targetRate float64) *ShiftReport {
	r := &ShiftReport{
		ReportTimestamp:   now.UTC(),
		ReportType:        "shift_summary",
		TotalInspected:    len(records),
		TargetRatePercent: targetRate,
		ByDefectType:      map[DefectType]int{},
		BySeverity:        map[Severity]int{},
		ByProductionStage: map[ProductionStage]int{},
		UniqueRootCauses:  []string{},
		DefectDetails:     []*DefectAnalysisRecord{},
	}

	seenCause := map[string]bool{}
	for _, rec := range records {
		if rec == nil {
			continue
		}
		r.TotalReasoningTokens += rec.ReasoningTokensUsed
		if r.ModelVersion == "" {
			r.ModelVersion = rec.ModelVersion
		}
		if !rec.DefectDetected {
			continue
		}
		r.TotalDefects++
		r.DefectDetails = append(r.DefectDetails, rec)
		if rec.DefectType != nil {
			r.ByDefectType[*rec.DefectType]++
		}
		if rec.Severity != nil {
			r.BySeverity[*rec.Severity]++
		}
		if rec.ProbableStage != nil {
			r.ByProductionStage[*rec.ProbableStage]++
		}
		if rec.RootCause != nil && *rec.RootCause != "" && !seenCause[*rec.RootCause] {
			seenCause[*rec.RootCause] = true
			r.UniqueRootCauses = append(r.UniqueRootCauses, *rec.RootCause)
		}
	}

	var rate float64
	if r.TotalInspected > 0 {
		rate = float64(r.TotalDefects) / float64(r.TotalInspected) * 100
		r.AvgReasoningTokensPerAnalysis = math.Round(float64(r.TotalReasoningTokens) / float64(r.TotalInspected))
	}
	r.DefectRatePercent = round3(rate)
	r.RateVariance = round3(rate - targetRate)
	r.RateStatus = RatePass
	if rate > targetRate {
		r.RateStatus = RateFail
	}

	r.CriticalCount = r.BySeverity[SeverityCritical]
	r.MajorCount = r.BySeverity[SeverityMajor]
	r.RequiresLineStop = r.CriticalCount > 0

	best := 0
	for _, st := range ProductionStages {
		if n := r.ByProductionStage[st]; n > best {
			best = n
			top := st
			r.TopProblematicStage = &top
		}
	}
	return r
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
