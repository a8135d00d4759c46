package contract

import "github.com/alexanderramin/defectlens/internal/domain"

func tokens[T ~string](vals []T) []string {
	out := make([]string, len(vals))
	for i, v := range vals {
		out[i] = string(v)
	}
	return out
}

// ClassificationSchema is the contract for the visual classification stage.
var ClassificationSchema = Schema{
	Name: "classification",
	Fields: []Field{
		{Name: "defect_detected", Kind: KindBool, Required: true},
		{Name: "defect_type", Kind: KindEnum, Enum: tokens(domain.DefectTypes), Fallback: string(domain.DefectUnknown)},
		{Name: "severity", Kind: KindEnum, Enum: tokens(domain.Severities), Fallback: string(domain.SeverityUnknown)},
		{Name: "confidence", Kind: KindNumber, Required: true, Min: bound(0), Max: bound(1)},
		{Name: "description", Kind: KindString},
		{Name: "affected_area", Kind: KindEnum, Enum: tokens(domain.AffectedAreas), Fallback: string(domain.AreaUnknown)},
		{Name: "bounding_box", Kind: KindObject, Fields: []Field{
			{Name: "x", Kind: KindNumber, Required: true, Min: bound(0)},
			{Name: "y", Kind: KindNumber, Required: true, Min: bound(0)},
			{Name: "width", Kind: KindNumber, Required: true, Min: bound(0)},
			{Name: "height", Kind: KindNumber, Required: true, Min: bound(0)},
		}},
	},
}

// RootCauseSchema is the contract for the root-cause stage.
var RootCauseSchema = Schema{
	Name: "root_cause",
	Fields: []Field{
		{Name: "probable_stage", Kind: KindEnum, Enum: tokens(domain.ProductionStages), Fallback: string(domain.StageUnknown)},
		{Name: "root_cause", Kind: KindString},
		{Name: "five_why_chain", Kind: KindStringList, MinItems: 1, MaxItems: domain.MaxFiveWhyEntries},
		{Name: "ishikawa_analysis", Kind: KindStringMap, Keys: tokens(domain.IshikawaCategories)},
		{Name: "contributing_factors", Kind: KindStringList},
	},
}

// ReportSchema is the contract for the reporting stage.
var ReportSchema = Schema{
	Name: "report",
	Fields: []Field{
		{Name: "corrective_actions", Kind: KindStringList},
		{Name: "preventive_actions", Kind: KindStringList},
		{Name: "escalation_required", Kind: KindBool},
		{Name: "escalation_reason", Kind: KindString},
	},
}
