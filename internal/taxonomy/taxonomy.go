// Package taxonomy holds the immutable reference tables the pipeline and
// its adapters share: defect types, severities, production stages and
// facilities. Tables are loaded once from YAML and never mutated.
package taxonomy

import (
	_ "embed"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/alexanderramin/defectlens/internal/domain"
)

//go:embed default.yaml
var defaultYAML []byte

type DefectTypeInfo struct {
	Code        domain.DefectType `yaml:"code" json:"code"`
	Description string            `yaml:"description" json:"description"`
}

type SeverityInfo struct {
	Code        domain.Severity `yaml:"code" json:"code"`
	Description string          `yaml:"description" json:"description"`
}

type StageInfo struct {
	Code  domain.ProductionStage `yaml:"code" json:"code"`
	Name  string                 `yaml:"name" json:"name"`
	Order int                    `yaml:"order" json:"order"`
	Notes string                 `yaml:"notes" json:"-"`
}

type FacilityInfo struct {
	Code      domain.Facility `yaml:"code" json:"code"`
	Name      string          `yaml:"name" json:"name"`
	Location  string          `yaml:"location" json:"location"`
	Role      string          `yaml:"role" json:"role"`
	Functions []string        `yaml:"functions" json:"functions"`
	Capacity  string          `yaml:"capacity" json:"capacity,omitempty"`
	FloorArea string          `yaml:"floor_area" json:"floor_area,omitempty"`
}

type document struct {
	DefectTypes      []DefectTypeInfo                               `yaml:"defect_types"`
	Severities       []SeverityInfo                                 `yaml:"severities"`
	AffectedAreas    []domain.AffectedArea                          `yaml:"affected_areas"`
	ProductionStages []StageInfo                                    `yaml:"production_stages"`
	Facilities       []FacilityInfo                                 `yaml:"facilities"`
	StageHints       map[domain.DefectType][]domain.ProductionStage `yaml:"stage_hints"`
	QualityStandards []string                                       `yaml:"quality_standards"`
}

// Taxonomy is a read-only view over the reference tables. Accessors return
// copies so callers cannot mutate shared state.
type Taxonomy struct {
	doc document
}

var (
	defaultOnce sync.Once
	defaultTax  *Taxonomy
)

// Default returns the embedded taxonomy. It panics if the embedded file is
// invalid, which only a broken build can cause.
func Default() *Taxonomy {
	defaultOnce.Do(func() {
		t, err := Parse(defaultYAML)
		if err != nil {
			panic(fmt.Sprintf("embedded taxonomy: %v", err))
		}
		defaultTax = t
	})
	return defaultTax
}

// Load reads a taxonomy override from path. An empty path yields Default().
func Load(path string) (*Taxonomy, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading taxonomy %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes and validates a taxonomy document.
func Parse(data []byte) (*Taxonomy, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decoding taxonomy: %w", err)
	}
	if err := validate(doc); err != nil {
		return nil, err
	}
	return &Taxonomy{doc: doc}, nil
}

func validate(doc document) error {
	if len(doc.DefectTypes) == 0 || len(doc.ProductionStages) == 0 || len(doc.Facilities) == 0 {
		return fmt.Errorf("taxonomy: defect_types, production_stages and facilities are required")
	}
	seen := map[string]bool{}
	for _, d := range doc.DefectTypes {
		if domain.ParseDefectType(string(d.Code)) != d.Code {
			return fmt.Errorf("taxonomy: unknown defect type %q", d.Code)
		}
		if seen["d:"+string(d.Code)] {
			return fmt.Errorf("taxonomy: duplicate defect type %q", d.Code)
		}
		seen["d:"+string(d.Code)] = true
	}
	for _, s := range doc.Severities {
		if domain.ParseSeverity(string(s.Code)) != s.Code || s.Code == domain.SeverityUnknown {
			return fmt.Errorf("taxonomy: unknown severity %q", s.Code)
		}
	}
	for _, a := range doc.AffectedAreas {
		if domain.ParseAffectedArea(string(a)) != a || a == domain.AreaUnknown {
			return fmt.Errorf("taxonomy: unknown affected area %q", a)
		}
	}
	prevOrder := 0
	for _, st := range doc.ProductionStages {
		if domain.ParseProductionStage(string(st.Code)) != st.Code || st.Code == domain.StageUnknown {
			return fmt.Errorf("taxonomy: unknown production stage %q", st.Code)
		}
		if st.Order <= prevOrder {
			return fmt.Errorf("taxonomy: stage %q out of order", st.Code)
		}
		prevOrder = st.Order
	}
	for _, f := range doc.Facilities {
		if domain.ParseFacility(string(f.Code)) != f.Code || f.Code == domain.FacilityUnknown {
			return fmt.Errorf("taxonomy: unknown facility %q", f.Code)
		}
	}
	for dt, stages := range doc.StageHints {
		if domain.ParseDefectType(string(dt)) != dt {
			return fmt.Errorf("taxonomy: stage hint for unknown defect type %q", dt)
		}
		for _, st := range stages {
			if domain.ParseProductionStage(string(st)) != st {
				return fmt.Errorf("taxonomy: stage hint %q references unknown stage %q", dt, st)
			}
		}
	}
	return nil
}

func (t *Taxonomy) DefectTypes() []DefectTypeInfo {
	return append([]DefectTypeInfo(nil), t.doc.DefectTypes...)
}

func (t *Taxonomy) Severities() []SeverityInfo {
	return append([]SeverityInfo(nil), t.doc.Severities...)
}

func (t *Taxonomy) AffectedAreas() []domain.AffectedArea {
	return append([]domain.AffectedArea(nil), t.doc.AffectedAreas...)
}

// ProductionStages returns the stages in line order.
func (t *Taxonomy) ProductionStages() []StageInfo {
	return append([]StageInfo(nil), t.doc.ProductionStages...)
}

func (t *Taxonomy) Facilities() []FacilityInfo {
	out := make([]FacilityInfo, len(t.doc.Facilities))
	for i, f := range t.doc.Facilities {
		f.Functions = append([]string(nil), f.Functions...)
		out[i] = f
	}
	return out
}

func (t *Taxonomy) QualityStandards() []string {
	return append([]string(nil), t.doc.QualityStandards...)
}

// StageHints returns the stages most often responsible for dt.
func (t *Taxonomy) StageHints(dt domain.DefectType) []domain.ProductionStage {
	return append([]domain.ProductionStage(nil), t.doc.StageHints[dt]...)
}

// HintedDefectTypes returns the defect types that carry stage hints, in
// taxonomy order.
func (t *Taxonomy) HintedDefectTypes() []domain.DefectType {
	var out []domain.DefectType
	for _, d := range t.doc.DefectTypes {
		if len(t.doc.StageHints[d.Code]) > 0 {
			out = append(out, d.Code)
		}
	}
	return out
}

func (t *Taxonomy) Facility(code domain.Facility) (FacilityInfo, bool) {
	for _, f := range t.Facilities() {
		if f.Code == code {
			return f, true
		}
	}
	return FacilityInfo{}, false
}

func (t *Taxonomy) Stage(code domain.ProductionStage) (StageInfo, bool) {
	for _, s := range t.doc.ProductionStages {
		if s.Code == code {
			return s, true
		}
	}
	return StageInfo{}, false
}
