package intelligence

import (
	"context"
	"fmt"

	"github.com/alexanderramin/defectlens/internal/contract"
	"github.com/alexanderramin/defectlens/internal/domain"
	"github.com/alexanderramin/defectlens/internal/llm"
)

// ReportService turns classification and root-cause output into actions.
type ReportService interface {
	// Synthesize makes one call. rc is nil when root-cause analysis was not
	// run. The returned lists are never nil.
	Synthesize(ctx context.Context, cls domain.ClassificationResult, rc *domain.RootCauseResult, in Input) (*domain.ReportResult, llm.Usage, error)
}

type reportService struct {
	client  llm.ModelClient
	prompts *PromptBuilder
}

// NewReportService creates a ReportService backed by a model client.
func NewReportService(client llm.ModelClient, prompts *PromptBuilder) ReportService {
	return &reportService{client: client, prompts: prompts}
}

func (s *reportService) Synthesize(ctx context.Context, cls domain.ClassificationResult, rc *domain.RootCauseResult, in Input) (*domain.ReportResult, llm.Usage, error) {
	rcText := "Root-cause analysis was not performed."
	switch {
	case !cls.DefectDetected:
		rcText = "No defect detected - provide general quality recommendations."
	case rc != nil:
		rcText = indentJSON(rc)
	}

	user := fmt.Sprintf(`PRODUCT: %s

DEFECT CLASSIFICATION:
%s

ROOT CAUSE ANALYSIS:
%s

Generate specific, actionable recommendations for %s.`,
		in.ProductSKU, indentJSON(cls), rcText, s.prompts.FacilityLabel(in.Facility))

	resp, err := s.client.Invoke(ctx, llm.InvokeRequest{
		Task:         llm.TaskReport,
		SystemPrompt: s.prompts.ReportSystem(),
		UserPrompt:   user,
		Format:       llm.FormatJSON,
	})
	if err != nil {
		return nil, llm.Usage{}, err
	}

	fields, err := contract.Validate(resp.Text, contract.ReportSchema)
	if err != nil {
		return nil, resp.Usage, err
	}

	report := &domain.ReportResult{
		CorrectiveActions:  fields.StringList("corrective_actions"),
		PreventiveActions:  fields.StringList("preventive_actions"),
		EscalationRequired: fields.Bool("escalation_required"),
		EscalationReason:   fields.String("escalation_reason"),
	}
	if !cls.DefectDetected {
		report.CorrectiveActions = []string{}
		report.EscalationRequired = false
		report.EscalationReason = ""
	}
	return report, resp.Usage, nil
}
