package domain

// BoundingBox locates a defect in image pixel coordinates.
type BoundingBox struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// ClassificationResult is the visual determination made for one image.
type ClassificationResult struct {
	DefectDetected bool          `json:"defect_detected"`
	DefectType     *DefectType   `json:"defect_type"`
	Severity       *Severity     `json:"severity"`
	Confidence     float64       `json:"confidence"`
	Description    string        `json:"description"`
	AffectedArea   *AffectedArea `json:"affected_area"`
	BoundingBox    *BoundingBox  `json:"bounding_box,omitempty"`
}

// ClearDefectFields drops every defect-specific field when no defect was
// detected, so a clean item never carries a type or severity.
func (c *ClassificationResult) ClearDefectFields() {
	if c.DefectDetected {
		return
	}
	c.DefectType = nil
	c.Severity = nil
	c.AffectedArea = nil
	c.BoundingBox = nil
}

// MaxFiveWhyEntries caps the causal chain kept from a root-cause analysis.
const MaxFiveWhyEntries = 7

// RootCauseResult traces a detected defect back to a production stage.
type RootCauseResult struct {
	ProbableStage       *ProductionStage             `json:"probable_stage"`
	RootCause           string                       `json:"root_cause"`
	FiveWhyChain        []string                     `json:"five_why_chain"`
	IshikawaAnalysis    map[IshikawaCategory]*string `json:"ishikawa_analysis"`
	ContributingFactors []string                     `json:"contributing_factors"`
}

// ReportResult carries the recommended follow-up actions. Both lists are
// always non-nil.
type ReportResult struct {
	CorrectiveActions  []string `json:"corrective_actions"`
	PreventiveActions  []string `json:"preventive_actions"`
	EscalationRequired bool     `json:"escalation_required"`
	EscalationReason   string   `json:"escalation_reason,omitempty"`
}
