// Package intelligence implements the model-backed pipeline stages. Each
// stage makes exactly one invocation per call and validates the completion
// against its output contract; sequencing and retries belong to the caller.
package intelligence

import (
	"encoding/json"

	"github.com/alexanderramin/defectlens/internal/domain"
)

// Input is the per-item context every stage sees.
type Input struct {
	Image          []byte
	ImageMIME      string
	ProductSKU     string
	Facility       domain.Facility
	ProductionData json.RawMessage // optional, opaque
}

// productionDataText renders optional production data for prompts.
func (in Input) productionDataText(missing string) string {
	if len(in.ProductionData) == 0 || string(in.ProductionData) == "null" {
		return missing
	}
	var v any
	if err := json.Unmarshal(in.ProductionData, &v); err != nil {
		return string(in.ProductionData)
	}
	pretty, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return string(in.ProductionData)
	}
	return string(pretty)
}

func indentJSON(v any) string {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(b)
}
