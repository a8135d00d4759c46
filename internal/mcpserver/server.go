// Package mcpserver exposes defect analysis as Model Context Protocol tools.
package mcpserver

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/alexanderramin/defectlens/internal/domain"
	"github.com/alexanderramin/defectlens/internal/imagegate"
	"github.com/alexanderramin/defectlens/internal/pipeline"
	"github.com/alexanderramin/defectlens/internal/taxonomy"
)

// Analyzer runs one analysis.
type Analyzer interface {
	Run(ctx context.Context, req pipeline.Request) (*domain.DefectAnalysisRecord, error)
}

// Server wraps the MCP SDK server with the defectlens tools registered.
type Server struct {
	MCPServer *sdkmcp.Server

	analyzer Analyzer
	tax      *taxonomy.Taxonomy
	gate     imagegate.Config
	now      func() time.Time
	log      *zap.Logger
}

// NewServer creates a server. Call Run to serve over stdio.
func NewServer(analyzer Analyzer, tax *taxonomy.Taxonomy, gate imagegate.Config, version string, log *zap.Logger) *Server {
	if tax == nil {
		tax = taxonomy.Default()
	}
	s := &Server{
		MCPServer: sdkmcp.NewServer(&sdkmcp.Implementation{Name: "defectlens", Version: version}, nil),
		analyzer:  analyzer,
		tax:       tax,
		gate:      gate,
		now:       time.Now,
		log:       log.Named("mcp"),
	}
	s.registerTools()
	return s
}

// Run serves until ctx is done or the client disconnects.
func (s *Server) Run(ctx context.Context) error {
	return s.MCPServer.Run(ctx, &sdkmcp.StdioTransport{})
}

func (s *Server) registerTools() {
	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "analyze_image",
		Description: "Run the full defect analysis pipeline (classification, root cause, report) on one cutlery image. Returns the defect analysis record.",
	}, s.handleAnalyzeImage)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "get_taxonomy",
		Description: "List defect types, severities, production stages in line order, and facilities.",
	}, s.handleGetTaxonomy)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "shift_report",
		Description: "Aggregate defect analysis records into a shift summary with defect rate against target.",
	}, s.handleShiftReport)
}

// --- Tool input types ---

type analyzeImageInput struct {
	ImagePath      string         `json:"image_path,omitempty" jsonschema:"path to a png, jpeg or webp file readable by the server"`
	ImageBase64    string         `json:"image_base64,omitempty" jsonschema:"base64-encoded image, used when image_path is empty"`
	ProductSKU     string         `json:"product_sku" jsonschema:"product SKU, e.g. WK-KN-200"`
	Facility       string         `json:"facility,omitempty" jsonschema:"hongkong, shenzhen or yangjiang (default yangjiang)"`
	ProductionData map[string]any `json:"production_data,omitempty" jsonschema:"optional batch, shift or sensor data passed to root-cause analysis"`
}

type getTaxonomyInput struct {
	Section string `json:"section,omitempty" jsonschema:"defect_types, production_stages, facilities or empty for all"`
}

type shiftReportInput struct {
	Analyses          []map[string]any `json:"analyses" jsonschema:"defect analysis records as returned by analyze_image"`
	TargetRatePercent float64          `json:"target_rate_percent,omitempty" jsonschema:"defect rate target in percent (default 0.18)"`
}

// --- Handlers ---

func (s *Server) handleAnalyzeImage(ctx context.Context, _ *sdkmcp.CallToolRequest, input analyzeImageInput) (*sdkmcp.CallToolResult, any, error) {
	if input.ProductSKU == "" {
		return nil, nil, errors.New("product_sku is required")
	}
	data, ref, err := s.readImage(input)
	if err != nil {
		return nil, nil, err
	}
	gate, err := s.gate.Require(data)
	if err != nil {
		return nil, nil, fmt.Errorf("analyze_image: %w", err)
	}

	req := pipeline.Request{
		Image:      data,
		ImageMIME:  gate.MIMEType,
		ImageRef:   ref,
		ProductSKU: input.ProductSKU,
	}
	if input.Facility != "" {
		req.Facility = domain.ParseFacility(input.Facility)
		if req.Facility == domain.FacilityUnknown {
			return nil, nil, fmt.Errorf("unknown facility %q", input.Facility)
		}
	}
	if len(input.ProductionData) > 0 {
		raw, err := json.Marshal(input.ProductionData)
		if err != nil {
			return nil, nil, fmt.Errorf("encoding production_data: %w", err)
		}
		req.ProductionData = raw
	}

	rec, err := s.analyzer.Run(ctx, req)
	if err != nil {
		s.log.Warn("analyze_image failed", zap.String("sku", input.ProductSKU), zap.Error(err))
		return nil, nil, fmt.Errorf("analyze_image: %w", err)
	}
	s.log.Info("analyze_image", zap.String("defect_id", rec.DefectID), zap.Bool("defect_detected", rec.DefectDetected))
	return jsonResult(rec)
}

func (s *Server) handleGetTaxonomy(_ context.Context, _ *sdkmcp.CallToolRequest, input getTaxonomyInput) (*sdkmcp.CallToolResult, any, error) {
	out := map[string]any{}
	switch input.Section {
	case "", "defect_types":
		out["defect_types"] = s.tax.DefectTypes()
		out["severities"] = s.tax.Severities()
		out["affected_areas"] = s.tax.AffectedAreas()
		if input.Section != "" {
			break
		}
		fallthrough
	case "production_stages":
		out["production_stages"] = s.tax.ProductionStages()
		if input.Section != "" {
			break
		}
		fallthrough
	case "facilities":
		out["facilities"] = s.tax.Facilities()
	default:
		return nil, nil, fmt.Errorf("unknown taxonomy section %q", input.Section)
	}
	return jsonResult(out)
}

func (s *Server) handleShiftReport(_ context.Context, _ *sdkmcp.CallToolRequest, input shiftReportInput) (*sdkmcp.CallToolResult, any, error) {
	records := make([]*domain.DefectAnalysisRecord, 0, len(input.Analyses))
	for i, a := range input.Analyses {
		raw, err := json.Marshal(a)
		if err != nil {
			return nil, nil, fmt.Errorf("analyses[%d]: %w", i, err)
		}
		var rec domain.DefectAnalysisRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, nil, fmt.Errorf("analyses[%d] is not a defect analysis record: %w", i, err)
		}
		records = append(records, &rec)
	}
	target := domain.DefaultTargetDefectRate
	if input.TargetRatePercent > 0 {
		target = input.TargetRatePercent
	}
	return jsonResult(domain.BuildShiftReport(records, s.now(), target))
}

func (s *Server) readImage(input analyzeImageInput) ([]byte, string, error) {
	switch {
	case input.ImagePath != "":
		info, err := os.Stat(input.ImagePath)
		if err != nil {
			return nil, "", fmt.Errorf("reading image: %w", err)
		}
		if info.Size() > imagegate.MaxUploadBytes {
			return nil, "", imagegate.ErrTooLarge
		}
		data, err := os.ReadFile(input.ImagePath)
		if err != nil {
			return nil, "", fmt.Errorf("reading image: %w", err)
		}
		return data, filepath.Base(input.ImagePath), nil
	case input.ImageBase64 != "":
		data, err := base64.StdEncoding.DecodeString(input.ImageBase64)
		if err != nil {
			return nil, "", fmt.Errorf("image_base64 is not valid base64: %w", err)
		}
		return data, "", nil
	default:
		return nil, "", errors.New("one of image_path or image_base64 is required")
	}
}

func jsonResult(v any) (*sdkmcp.CallToolResult, any, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, nil, fmt.Errorf("encoding result: %w", err)
	}
	return &sdkmcp.CallToolResult{
		Content: []sdkmcp.Content{&sdkmcp.TextContent{Text: string(b)}},
	}, nil, nil
}
