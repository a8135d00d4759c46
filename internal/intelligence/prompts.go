package intelligence

import (
	"fmt"
	"strings"

	"github.com/alexanderramin/defectlens/internal/domain"
	"github.com/alexanderramin/defectlens/internal/taxonomy"
)

const manufacturingContextTemplate = `<manufacturing_context>
You are analyzing defects for a premium cutlery and cookware manufacturer.

FACILITIES:
%FACILITIES%

PRODUCTION LINE (in order):
%STAGES%

QUALITY STANDARDS:
%STANDARDS%

DEFECT-TO-STAGE CORRELATION PATTERNS:
%HINTS%
</manufacturing_context>`

const classificationSystemPromptTemplate = `%CONTEXT%

<agent_role>
You are a VISION + CLASSIFICATION agent for quality control.

TASK: Analyze the product image and provide:
1. Defect detection (present/absent)
2. Defect type classification
3. Severity assessment
4. Location identification
</agent_role>

<defect_types>
%DEFECT_TYPES%
</defect_types>

<severity_guide>
%SEVERITIES%
</severity_guide>

<output_format>
Respond ONLY with valid JSON:
{
  "defect_detected": true/false,
  "defect_type": "type_from_list or null",
  "severity": "%SEVERITY_CODES% or null",
  "confidence": 0.0-1.0,
  "description": "Detailed description of finding",
  "affected_area": "%AREA_CODES% or null",
  "bounding_box": {"x": int, "y": int, "width": int, "height": int} or null
}
</output_format>

CRITICAL RULES:
1. Use ONLY the defect type, severity and area codes listed above.
2. If no defect is visible, set defect_detected to false and defect_type, severity, affected_area and bounding_box to null.
3. confidence is your own probability that the determination is correct.
4. Output ONLY the JSON object, no markdown fences, no text before or after.`

const rootCauseSystemPromptTemplate = `%CONTEXT%

<agent_role>
You are a ROOT CAUSE ANALYSIS expert for the production line.
Use maximum reasoning depth to trace defects to their source.
</agent_role>

<methodology>
1. DEFECT-TO-STAGE MAPPING: map the defect type to the most likely production stage.
2. 5-WHY ANALYSIS: drill down five levels of "why" to find the root cause.
   Example for a rust spot:
   - Why rust? Chromium depleted in surface layer
   - Why depleted? Chromium carbide formed during cooling
   - Why carbide? Slow cooling allowed carbon-chromium reaction
   - Why slow cooling? Vacuum chamber pressure loss
   - Why pressure loss? Seal degradation (ROOT CAUSE)
3. ISHIKAWA ANALYSIS across six categories: man, machine, material, method, measurement, environment.
4. PRODUCTION DATA CORRELATION: if provided, correlate with batch, shift or equipment data.
</methodology>

<output_format>
Respond ONLY with valid JSON:
{
  "probable_stage": "%STAGE_CODES%",
  "root_cause": "Clear root cause statement",
  "five_why_chain": ["Why 1: ...", "Why 2: ...", "Why 3: ...", "Why 4: ...", "Why 5: ..."],
  "contributing_factors": ["factor1", "factor2"],
  "ishikawa_analysis": {
    "man": "...", "machine": "...", "material": "...",
    "method": "...", "measurement": "...", "environment": "..."
  }
}
</output_format>

CRITICAL RULES:
1. probable_stage MUST be one of the stage codes above.
2. five_why_chain MUST contain between 1 and 7 entries, most direct cause first.
3. Use null for an Ishikawa category with no relevant factor.
4. Output ONLY the JSON object, no markdown fences, no text before or after.`

const reportSystemPromptTemplate = `%CONTEXT%

<agent_role>
You are a QUALITY IMPROVEMENT specialist generating actionable recommendations.

Your recommendations must be:
- Specific to the line's equipment and processes
- Immediately actionable (corrective) or plannable (preventive)
- Measurable where possible
- Prioritized by impact
</agent_role>

<output_format>
Respond ONLY with valid JSON:
{
  "corrective_actions": ["IMMEDIATE: [specific action with responsible party]"],
  "preventive_actions": ["LONG-TERM: [specific prevention measure]"],
  "escalation_required": true/false,
  "escalation_reason": "Why escalation is needed (empty if not)"
}
</output_format>

CRITICAL RULES:
1. When no defect was detected, corrective_actions MUST be an empty list; preventive_actions may hold general quality recommendations.
2. Order each list by impact, highest first.
3. Output ONLY the JSON object, no markdown fences, no text before or after.`

// PromptBuilder renders stage prompts from the reference taxonomy.
type PromptBuilder struct {
	tax     *taxonomy.Taxonomy
	context string
}

// NewPromptBuilder pre-renders the shared manufacturing context.
func NewPromptBuilder(tax *taxonomy.Taxonomy) *PromptBuilder {
	return &PromptBuilder{tax: tax, context: renderContext(tax)}
}

func renderContext(tax *taxonomy.Taxonomy) string {
	var facilities, stages, standards, hints strings.Builder
	for _, f := range tax.Facilities() {
		fmt.Fprintf(&facilities, "- %s: %s, %s (%s)", f.Code, f.Name, f.Location, f.Role)
		if f.Capacity != "" {
			fmt.Fprintf(&facilities, ", capacity %s", f.Capacity)
		}
		facilities.WriteByte('\n')
	}
	for _, s := range tax.ProductionStages() {
		fmt.Fprintf(&stages, "%d. %s: %s", s.Order, strings.ToUpper(string(s.Code)), s.Name)
		if s.Notes != "" {
			fmt.Fprintf(&stages, " (%s)", s.Notes)
		}
		stages.WriteByte('\n')
	}
	for _, q := range tax.QualityStandards() {
		fmt.Fprintf(&standards, "- %s\n", q)
	}
	for _, dt := range tax.HintedDefectTypes() {
		fmt.Fprintf(&hints, "- %s -> %s\n", dt, joinTokens(tax.StageHints(dt), " or "))
	}
	return strings.NewReplacer(
		"%FACILITIES%", strings.TrimRight(facilities.String(), "\n"),
		"%STAGES%", strings.TrimRight(stages.String(), "\n"),
		"%STANDARDS%", strings.TrimRight(standards.String(), "\n"),
		"%HINTS%", strings.TrimRight(hints.String(), "\n"),
	).Replace(manufacturingContextTemplate)
}

// ClassificationSystem returns the system prompt for visual classification.
func (b *PromptBuilder) ClassificationSystem() string {
	var types, sevs strings.Builder
	for _, d := range b.tax.DefectTypes() {
		fmt.Fprintf(&types, "- %s: %s\n", d.Code, d.Description)
	}
	sevCodes := make([]string, 0, len(b.tax.Severities()))
	for _, s := range b.tax.Severities() {
		fmt.Fprintf(&sevs, "- %s: %s\n", s.Code, s.Description)
		sevCodes = append(sevCodes, string(s.Code))
	}
	return strings.NewReplacer(
		"%CONTEXT%", b.context,
		"%DEFECT_TYPES%", strings.TrimRight(types.String(), "\n"),
		"%SEVERITIES%", strings.TrimRight(sevs.String(), "\n"),
		"%SEVERITY_CODES%", strings.Join(sevCodes, "/"),
		"%AREA_CODES%", joinTokens(b.tax.AffectedAreas(), "/"),
	).Replace(classificationSystemPromptTemplate)
}

// RootCauseSystem returns the system prompt for root-cause analysis.
func (b *PromptBuilder) RootCauseSystem() string {
	codes := make([]string, 0, len(b.tax.ProductionStages()))
	for _, s := range b.tax.ProductionStages() {
		codes = append(codes, string(s.Code))
	}
	return strings.NewReplacer(
		"%CONTEXT%", b.context,
		"%STAGE_CODES%", strings.Join(codes, "/"),
	).Replace(rootCauseSystemPromptTemplate)
}

// ReportSystem returns the system prompt for report synthesis.
func (b *PromptBuilder) ReportSystem() string {
	return strings.Replace(reportSystemPromptTemplate, "%CONTEXT%", b.context, 1)
}

// FacilityLabel names a facility for prompts, falling back to its code.
func (b *PromptBuilder) FacilityLabel(f domain.Facility) string {
	if info, ok := b.tax.Facility(f); ok {
		return info.Name
	}
	return string(f)
}

func joinTokens[T ~string](vals []T, sep string) string {
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = string(v)
	}
	return strings.Join(parts, sep)
}
