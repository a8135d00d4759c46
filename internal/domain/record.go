package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefectAnalysisRecord is the single output of one full pipeline run.
// It is created once and never modified afterwards.
type DefectAnalysisRecord struct {
	DefectID   string    `json:"defect_id"`
	Timestamp  time.Time `json:"timestamp"`
	Facility   Facility  `json:"facility"`
	ProductSKU string    `json:"product_sku"`
	ImageRef   string    `json:"image_ref,omitempty"`

	DefectDetected bool          `json:"defect_detected"`
	DefectType     *DefectType   `json:"defect_type"`
	Severity       *Severity     `json:"severity"`
	Confidence     float64       `json:"confidence"`
	Description    string        `json:"description"`
	AffectedArea   *AffectedArea `json:"affected_area"`
	BoundingBox    *BoundingBox  `json:"bounding_box"`

	ProbableStage       *ProductionStage             `json:"probable_stage"`
	RootCause           *string                      `json:"root_cause"`
	FiveWhyChain        []string                     `json:"five_why_chain"`
	IshikawaAnalysis    map[IshikawaCategory]*string `json:"ishikawa_analysis"`
	ContributingFactors []string                     `json:"contributing_factors"`

	CorrectiveActions  []string `json:"corrective_actions"`
	PreventiveActions  []string `json:"preventive_actions"`
	EscalationRequired bool     `json:"escalation_required"`
	EscalationReason   string   `json:"escalation_reason,omitempty"`

	ReasoningTokensUsed int    `json:"reasoning_tokens_used"`
	ModelVersion        string `json:"model_version"`
}

// RecordParts gathers everything needed to assemble a record.
type RecordParts struct {
	DefectID        string
	Timestamp       time.Time
	Facility        Facility
	ProductSKU      string
	ImageRef        string
	Classification  ClassificationResult
	RootCause       *RootCauseResult
	Report          ReportResult
	ReasoningTokens int
	ModelVersion    string
}

// NewDefectAnalysisRecord assembles a record from stage outputs. When no
// defect was detected every defect, root-cause and corrective field is
// cleared regardless of what the stages produced.
func NewDefectAnalysisRecord(p RecordParts) *DefectAnalysisRecord {
	cls := p.Classification
	cls.ClearDefectFields()

	rec := &DefectAnalysisRecord{
		DefectID:            p.DefectID,
		Timestamp:           p.Timestamp.UTC(),
		Facility:            p.Facility,
		ProductSKU:          p.ProductSKU,
		ImageRef:            p.ImageRef,
		DefectDetected:      cls.DefectDetected,
		DefectType:          cls.DefectType,
		Severity:            cls.Severity,
		Confidence:          cls.Confidence,
		Description:         cls.Description,
		AffectedArea:        cls.AffectedArea,
		BoundingBox:         cls.BoundingBox,
		CorrectiveActions:   cloneStrings(p.Report.CorrectiveActions),
		PreventiveActions:   cloneStrings(p.Report.PreventiveActions),
		EscalationRequired:  p.Report.EscalationRequired,
		EscalationReason:    p.Report.EscalationReason,
		ReasoningTokensUsed: p.ReasoningTokens,
		ModelVersion:        p.ModelVersion,
	}

	if cls.DefectDetected && p.RootCause != nil {
		rc := p.RootCause
		cause := rc.RootCause
		rec.ProbableStage = rc.ProbableStage
		rec.RootCause = &cause
		rec.FiveWhyChain = cloneStrings(rc.FiveWhyChain)
		rec.ContributingFactors = cloneStrings(rc.ContributingFactors)
		rec.IshikawaAnalysis = make(map[IshikawaCategory]*string, len(rc.IshikawaAnalysis))
		for k, v := range rc.IshikawaAnalysis {
			rec.IshikawaAnalysis[k] = v
		}
	}

	if !cls.DefectDetected {
		rec.CorrectiveActions = []string{}
		rec.EscalationRequired = false
		rec.EscalationReason = ""
	}
	return rec
}

// NewDefectID formats an identifier as DEF-YYYYMMDD-XXXXXXXX, taking the
// eight hex characters from the leading bytes of id.
func NewDefectID(at time.Time, id uuid.UUID) string {
	return "DEF-" + at.UTC().Format("20060102") + "-" + strings.ToUpper(id.String()[:8])
}

func cloneStrings(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	return out
}
