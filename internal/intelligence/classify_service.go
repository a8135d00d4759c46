package intelligence

import (
	"context"
	"fmt"
	"math"

	"github.com/alexanderramin/defectlens/internal/contract"
	"github.com/alexanderramin/defectlens/internal/domain"
	"github.com/alexanderramin/defectlens/internal/llm"
)

// ClassificationService determines whether an image shows a defect.
type ClassificationService interface {
	// Classify makes one vision call. Usage is returned even when the
	// completion fails its contract.
	Classify(ctx context.Context, in Input) (*domain.ClassificationResult, llm.Usage, error)
}

type classificationService struct {
	client  llm.ModelClient
	prompts *PromptBuilder
}

// NewClassificationService creates a ClassificationService backed by a model client.
func NewClassificationService(client llm.ModelClient, prompts *PromptBuilder) ClassificationService {
	return &classificationService{client: client, prompts: prompts}
}

func (s *classificationService) Classify(ctx context.Context, in Input) (*domain.ClassificationResult, llm.Usage, error) {
	user := fmt.Sprintf("Inspect this %s product from %s for manufacturing defects. Provide comprehensive analysis.",
		in.ProductSKU, s.prompts.FacilityLabel(in.Facility))
	if data := in.productionDataText(""); data != "" {
		user += "\n\nPRODUCTION DATA:\n" + data
	}

	resp, err := s.client.Invoke(ctx, llm.InvokeRequest{
		Task:         llm.TaskClassification,
		SystemPrompt: s.prompts.ClassificationSystem(),
		UserPrompt:   user,
		Image:        &llm.Image{Data: in.Image, MIMEType: in.ImageMIME},
		Format:       llm.FormatJSON,
	})
	if err != nil {
		return nil, llm.Usage{}, err
	}

	fields, err := contract.Validate(resp.Text, contract.ClassificationSchema)
	if err != nil {
		return nil, resp.Usage, err
	}
	return decodeClassification(fields), resp.Usage, nil
}

// decodeClassification maps validated fields onto the domain type. A
// detected defect always carries a type and severity, unknown if the model
// left them null.
func decodeClassification(fs contract.Fields) *domain.ClassificationResult {
	c := &domain.ClassificationResult{
		DefectDetected: fs.Bool("defect_detected"),
		Confidence:     fs.Number("confidence"),
		Description:    fs.String("description"),
	}
	if v := fs.Enum("defect_type"); v != nil {
		dt := domain.DefectType(*v)
		c.DefectType = &dt
	}
	if v := fs.Enum("severity"); v != nil {
		sev := domain.Severity(*v)
		c.Severity = &sev
	}
	if v := fs.Enum("affected_area"); v != nil {
		area := domain.AffectedArea(*v)
		c.AffectedArea = &area
	}
	if box := fs.Object("bounding_box"); box != nil {
		c.BoundingBox = &domain.BoundingBox{
			X:      int(math.Round(box.Number("x"))),
			Y:      int(math.Round(box.Number("y"))),
			Width:  int(math.Round(box.Number("width"))),
			Height: int(math.Round(box.Number("height"))),
		}
	}

	if c.DefectDetected {
		if c.DefectType == nil {
			dt := domain.DefectUnknown
			c.DefectType = &dt
		}
		if c.Severity == nil {
			sev := domain.SeverityUnknown
			c.Severity = &sev
		}
	}
	c.ClearDefectFields()
	return c
}
