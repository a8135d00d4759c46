package domain

import "strings"

type DefectType string

const (
	DefectBladeScratch         DefectType = "blade_scratch"
	DefectBladeChip            DefectType = "blade_chip"
	DefectEdgeIrregularity     DefectType = "edge_irregularity"
	DefectHandleCrack          DefectType = "handle_crack"
	DefectHandleDiscoloration  DefectType = "handle_discoloration"
	DefectWeld                 DefectType = "weld_defect"
	DefectPolish               DefectType = "polish_defect"
	DefectRustSpot             DefectType = "rust_spot"
	DefectDimensionalError     DefectType = "dimensional_error"
	DefectAssemblyMisalignment DefectType = "assembly_misalignment"
	DefectSurfaceContamination DefectType = "surface_contamination"
	DefectHeatTreatment        DefectType = "heat_treatment_defect"
	DefectUnknown              DefectType = "unknown"
)

// DefectTypes lists every defect type in taxonomy order, unknown last.
var DefectTypes = []DefectType{
	DefectBladeScratch, DefectBladeChip, DefectEdgeIrregularity,
	DefectHandleCrack, DefectHandleDiscoloration, DefectWeld,
	DefectPolish, DefectRustSpot, DefectDimensionalError,
	DefectAssemblyMisalignment, DefectSurfaceContamination,
	DefectHeatTreatment, DefectUnknown,
}

type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityMajor    Severity = "major"
	SeverityMinor    Severity = "minor"
	SeverityCosmetic Severity = "cosmetic"
	SeverityUnknown  Severity = "unknown"
)

var Severities = []Severity{
	SeverityCritical, SeverityMajor, SeverityMinor, SeverityCosmetic, SeverityUnknown,
}

type AffectedArea string

const (
	AreaBlade   AffectedArea = "blade"
	AreaEdge    AffectedArea = "edge"
	AreaHandle  AffectedArea = "handle"
	AreaBolster AffectedArea = "bolster"
	AreaRivet   AffectedArea = "rivet"
	AreaOverall AffectedArea = "overall"
	AreaUnknown AffectedArea = "unknown"
)

var AffectedAreas = []AffectedArea{
	AreaBlade, AreaEdge, AreaHandle, AreaBolster, AreaRivet, AreaOverall, AreaUnknown,
}

type ProductionStage string

const (
	StageBladeStamp        ProductionStage = "blade_stamp"
	StageBolsterWelding    ProductionStage = "bolster_welding"
	StageBackEdgePolishing ProductionStage = "back_edge_polishing"
	StageTaperGrinding     ProductionStage = "taper_grinding"
	StageHeatTreatment     ProductionStage = "heat_treatment"
	StageVacuumQuench      ProductionStage = "vacuum_quench"
	StageHandleInjection   ProductionStage = "handle_injection"
	StageRivetAssembly     ProductionStage = "rivet_assembly"
	StageHandlePolishing   ProductionStage = "handle_polishing"
	StageBladeGlazing      ProductionStage = "blade_glazing"
	StageCuttingEdgeHoning ProductionStage = "cutting_edge_honing"
	StageLogoPrint         ProductionStage = "logo_print"
	StageInspection        ProductionStage = "inspection"
	StagePackaging         ProductionStage = "packaging"
	StageUnknown           ProductionStage = "unknown"
)

// ProductionStages lists the line stages in production order, unknown last.
var ProductionStages = []ProductionStage{
	StageBladeStamp, StageBolsterWelding, StageBackEdgePolishing,
	StageTaperGrinding, StageHeatTreatment, StageVacuumQuench,
	StageHandleInjection, StageRivetAssembly, StageHandlePolishing,
	StageBladeGlazing, StageCuttingEdgeHoning, StageLogoPrint,
	StageInspection, StagePackaging, StageUnknown,
}

// Order returns the 1-based position of s on the production line.
// Unknown stages sort after every real stage.
func (s ProductionStage) Order() int {
	for i, st := range ProductionStages {
		if st == s && s != StageUnknown {
			return i + 1
		}
	}
	return len(ProductionStages)
}

type Facility string

const (
	FacilityHongKong  Facility = "hongkong"
	FacilityShenzhen  Facility = "shenzhen"
	FacilityYangjiang Facility = "yangjiang"
	FacilityUnknown   Facility = "unknown"
)

var Facilities = []Facility{
	FacilityHongKong, FacilityShenzhen, FacilityYangjiang, FacilityUnknown,
}

// IshikawaCategory is one bone of the fishbone diagram. The set is fixed
// and has no fallback value.
type IshikawaCategory string

const (
	IshikawaMan         IshikawaCategory = "man"
	IshikawaMachine     IshikawaCategory = "machine"
	IshikawaMaterial    IshikawaCategory = "material"
	IshikawaMethod      IshikawaCategory = "method"
	IshikawaMeasurement IshikawaCategory = "measurement"
	IshikawaEnvironment IshikawaCategory = "environment"
)

var IshikawaCategories = []IshikawaCategory{
	IshikawaMan, IshikawaMachine, IshikawaMaterial,
	IshikawaMethod, IshikawaMeasurement, IshikawaEnvironment,
}

// NormalizeToken lowercases and trims s and folds spaces and hyphens into
// underscores, yielding the canonical token shape used by every enum here.
func NormalizeToken(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.Map(func(r rune) rune {
		if r == ' ' || r == '-' {
			return '_'
		}
		return r
	}, s)
}

func parseToken[T ~string](s string, known []T, fallback T) T {
	tok := NormalizeToken(s)
	for _, k := range known {
		if string(k) == tok {
			return k
		}
	}
	return fallback
}

// ParseDefectType maps free text to a DefectType, falling back to unknown.
func ParseDefectType(s string) DefectType {
	return parseToken(s, DefectTypes, DefectUnknown)
}

// ParseSeverity maps free text to a Severity, falling back to unknown.
func ParseSeverity(s string) Severity {
	return parseToken(s, Severities, SeverityUnknown)
}

// ParseAffectedArea maps free text to an AffectedArea, falling back to unknown.
func ParseAffectedArea(s string) AffectedArea {
	return parseToken(s, AffectedAreas, AreaUnknown)
}

// ParseProductionStage maps free text to a ProductionStage, falling back to unknown.
func ParseProductionStage(s string) ProductionStage {
	return parseToken(s, ProductionStages, StageUnknown)
}

// ParseFacility maps free text to a Facility, falling back to unknown.
func ParseFacility(s string) Facility {
	return parseToken(s, Facilities, FacilityUnknown)
}

// ParseIshikawaCategory reports whether s names one of the six categories.
func ParseIshikawaCategory(s string) (IshikawaCategory, bool) {
	tok := NormalizeToken(s)
	for _, c := range IshikawaCategories {
		if string(c) == tok {
			return c, true
		}
	}
	return "", false
}
