package intelligence

import (
	"context"
	"fmt"

	"github.com/alexanderramin/defectlens/internal/contract"
	"github.com/alexanderramin/defectlens/internal/domain"
	"github.com/alexanderramin/defectlens/internal/llm"
)

// RootCauseService traces a classified defect to a production stage.
type RootCauseService interface {
	// Analyze makes one reasoning call. A chain with no entries fails with
	// contract.IncompleteChain; more than seven entries are truncated.
	Analyze(ctx context.Context, cls domain.ClassificationResult, in Input) (*domain.RootCauseResult, llm.Usage, error)
}

type rootCauseService struct {
	client  llm.ModelClient
	prompts *PromptBuilder
}

// NewRootCauseService creates a RootCauseService backed by a model client.
func NewRootCauseService(client llm.ModelClient, prompts *PromptBuilder) RootCauseService {
	return &rootCauseService{client: client, prompts: prompts}
}

func (s *rootCauseService) Analyze(ctx context.Context, cls domain.ClassificationResult, in Input) (*domain.RootCauseResult, llm.Usage, error) {
	user := fmt.Sprintf(`PRODUCT: %s at %s

DEFECT ANALYSIS TO INVESTIGATE:
%s

PRODUCTION DATA:
%s

Perform comprehensive root cause analysis using 5-Why and Ishikawa methodology.`,
		in.ProductSKU, s.prompts.FacilityLabel(in.Facility),
		indentJSON(cls),
		in.productionDataText("Not provided - base analysis on defect type patterns only"))

	resp, err := s.client.Invoke(ctx, llm.InvokeRequest{
		Task:         llm.TaskRootCause,
		SystemPrompt: s.prompts.RootCauseSystem(),
		UserPrompt:   user,
		Format:       llm.FormatJSON,
	})
	if err != nil {
		return nil, llm.Usage{}, err
	}

	fields, err := contract.Validate(resp.Text, contract.RootCauseSchema)
	if err != nil {
		return nil, resp.Usage, err
	}
	return decodeRootCause(fields), resp.Usage, nil
}

func decodeRootCause(fs contract.Fields) *domain.RootCauseResult {
	rc := &domain.RootCauseResult{
		RootCause:           fs.String("root_cause"),
		FiveWhyChain:        fs.StringList("five_why_chain"),
		ContributingFactors: fs.StringList("contributing_factors"),
		IshikawaAnalysis:    make(map[domain.IshikawaCategory]*string, len(domain.IshikawaCategories)),
	}
	if v := fs.Enum("probable_stage"); v != nil {
		st := domain.ProductionStage(*v)
		rc.ProbableStage = &st
	}
	for _, cat := range domain.IshikawaCategories {
		rc.IshikawaAnalysis[cat] = nil
	}
	for key, v := range fs.StringMap("ishikawa_analysis") {
		if cat, ok := domain.ParseIshikawaCategory(key); ok {
			rc.IshikawaAnalysis[cat] = v
		}
	}
	return rc
}
