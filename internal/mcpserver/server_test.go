package mcpserver

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/alexanderramin/defectlens/internal/domain"
	"github.com/alexanderramin/defectlens/internal/imagegate"
	"github.com/alexanderramin/defectlens/internal/llm"
	"github.com/alexanderramin/defectlens/internal/pipeline"
	"github.com/alexanderramin/defectlens/internal/taxonomy"
)

type stubAnalyzer struct {
	last *pipeline.Request
	err  error
}

func (s *stubAnalyzer) Run(_ context.Context, req pipeline.Request) (*domain.DefectAnalysisRecord, error) {
	s.last = &req
	if s.err != nil {
		return nil, s.err
	}
	dt, sev := domain.DefectBladeChip, domain.SeverityMajor
	return &domain.DefectAnalysisRecord{
		DefectID:            "DEF-20250615-3F2A9C1B",
		Timestamp:           time.Date(2025, 6, 15, 10, 30, 0, 0, time.UTC),
		Facility:            domain.FacilityYangjiang,
		ProductSKU:          req.ProductSKU,
		ImageRef:            req.ImageRef,
		DefectDetected:      true,
		DefectType:          &dt,
		Severity:            &sev,
		Confidence:          0.91,
		CorrectiveActions:   []string{"IMMEDIATE: regrind edge"},
		PreventiveActions:   []string{},
		ReasoningTokensUsed: 4100,
		ModelVersion:        "gpt-5.2",
	}, nil
}

func sharpPNG(t *testing.T, sharp bool) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			if sharp && (x+y)%2 == 0 {
				img.SetGray(x, y, color.Gray{Y: 255})
			}
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func connectInMemory(t *testing.T, srv *Server) *sdkmcp.ClientSession {
	t.Helper()
	ctx := context.Background()
	t1, t2 := sdkmcp.NewInMemoryTransports()
	_, err := srv.MCPServer.Connect(ctx, t1, nil)
	require.NoError(t, err)
	client := sdkmcp.NewClient(&sdkmcp.Implementation{Name: "test-client", Version: "v0.0.1"}, nil)
	session, err := client.Connect(ctx, t2, nil)
	require.NoError(t, err)
	t.Cleanup(func() { session.Close() })
	return session
}

func newTestServer(t *testing.T, a Analyzer) (*Server, *sdkmcp.ClientSession) {
	t.Helper()
	srv := NewServer(a, taxonomy.Default(), imagegate.DefaultConfig(), "test", zap.NewNop())
	srv.now = func() time.Time { return time.Date(2025, 6, 15, 18, 0, 0, 0, time.UTC) }
	return srv, connectInMemory(t, srv)
}

func callTool(t *testing.T, session *sdkmcp.ClientSession, name string, args map[string]any) (string, bool) {
	t.Helper()
	res, err := session.CallTool(context.Background(), &sdkmcp.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		return err.Error(), true
	}
	for _, c := range res.Content {
		if tc, ok := c.(*sdkmcp.TextContent); ok {
			return tc.Text, res.IsError
		}
	}
	t.Fatalf("no text content in %s result", name)
	return "", false
}

func TestServer_ListTools(t *testing.T) {
	_, session := newTestServer(t, &stubAnalyzer{})

	tools, err := session.ListTools(context.Background(), nil)
	require.NoError(t, err)
	var names []string
	for _, tool := range tools.Tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{"analyze_image", "get_taxonomy", "shift_report"}, names)
}

func TestAnalyzeImage_Base64(t *testing.T) {
	a := &stubAnalyzer{}
	_, session := newTestServer(t, a)

	text, isErr := callTool(t, session, "analyze_image", map[string]any{
		"image_base64":    base64.StdEncoding.EncodeToString(sharpPNG(t, true)),
		"product_sku":     "WK-KN-200",
		"facility":        "shenzhen",
		"production_data": map[string]any{"batch": "B-17"},
	})
	require.False(t, isErr, text)

	var rec domain.DefectAnalysisRecord
	require.NoError(t, json.Unmarshal([]byte(text), &rec))
	assert.Equal(t, "DEF-20250615-3F2A9C1B", rec.DefectID)
	assert.Equal(t, domain.DefectBladeChip, *rec.DefectType)

	require.NotNil(t, a.last)
	assert.Equal(t, domain.FacilityShenzhen, a.last.Facility)
	assert.Equal(t, "image/png", a.last.ImageMIME)
	assert.JSONEq(t, `{"batch":"B-17"}`, string(a.last.ProductionData))
}

func TestAnalyzeImage_Path(t *testing.T) {
	a := &stubAnalyzer{}
	_, session := newTestServer(t, a)

	path := filepath.Join(t.TempDir(), "knife-0042.png")
	require.NoError(t, os.WriteFile(path, sharpPNG(t, true), 0o600))

	text, isErr := callTool(t, session, "analyze_image", map[string]any{"image_path": path, "product_sku": "WK-KN-200"})
	require.False(t, isErr, text)
	require.NotNil(t, a.last)
	assert.Equal(t, "knife-0042.png", a.last.ImageRef)
	assert.Equal(t, domain.Facility(""), a.last.Facility)
}

func TestAnalyzeImage_Errors(t *testing.T) {
	tests := []struct {
		name     string
		analyzer *stubAnalyzer
		args     map[string]any
		want     string
	}{
		{
			name:     "no image",
			analyzer: &stubAnalyzer{},
			args:     map[string]any{"product_sku": "WK-KN-200"},
			want:     "image_path or image_base64",
		},
		{
			name:     "bad base64",
			analyzer: &stubAnalyzer{},
			args:     map[string]any{"product_sku": "WK-KN-200", "image_base64": "%%%"},
			want:     "not valid base64",
		},
		{
			name:     "dark image",
			analyzer: &stubAnalyzer{},
			args:     map[string]any{"product_sku": "WK-KN-200", "image_base64": base64.StdEncoding.EncodeToString(sharpPNG(t, false))},
			want:     "too_dark",
		},
		{
			name:     "unknown facility",
			analyzer: &stubAnalyzer{},
			args:     map[string]any{"product_sku": "WK-KN-200", "facility": "osaka", "image_base64": base64.StdEncoding.EncodeToString(sharpPNG(t, true))},
			want:     "unknown facility",
		},
		{
			name: "pipeline failure",
			analyzer: &stubAnalyzer{err: &pipeline.PipelineError{
				Stage: pipeline.StageRootCause,
				Err:   &llm.InvocationError{Kind: llm.KindAuth, StatusCode: 403},
			}},
			args: map[string]any{"product_sku": "WK-KN-200", "image_base64": base64.StdEncoding.EncodeToString(sharpPNG(t, true))},
			want: "stage root_cause failed",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, session := newTestServer(t, tt.analyzer)
			text, isErr := callTool(t, session, "analyze_image", tt.args)
			assert.True(t, isErr)
			assert.Contains(t, text, tt.want)
		})
	}
}

func TestGetTaxonomy(t *testing.T) {
	_, session := newTestServer(t, &stubAnalyzer{})

	text, isErr := callTool(t, session, "get_taxonomy", map[string]any{})
	require.False(t, isErr, text)
	var all map[string]json.RawMessage
	require.NoError(t, json.Unmarshal([]byte(text), &all))
	for _, key := range []string{"defect_types", "severities", "affected_areas", "production_stages", "facilities"} {
		assert.Contains(t, all, key)
	}

	text, isErr = callTool(t, session, "get_taxonomy", map[string]any{"section": "production_stages"})
	require.False(t, isErr, text)
	var one map[string]json.RawMessage
	require.NoError(t, json.Unmarshal([]byte(text), &one))
	assert.Len(t, one, 1)
	assert.Contains(t, one, "production_stages")

	text, isErr = callTool(t, session, "get_taxonomy", map[string]any{"section": "suppliers"})
	assert.True(t, isErr)
	assert.Contains(t, text, "unknown taxonomy section")
}

func TestShiftReport(t *testing.T) {
	a := &stubAnalyzer{}
	_, session := newTestServer(t, a)

	rec, err := a.Run(context.Background(), pipeline.Request{ProductSKU: "WK-KN-200"})
	require.NoError(t, err)
	raw, err := json.Marshal(rec)
	require.NoError(t, err)
	var asMap map[string]any
	require.NoError(t, json.Unmarshal(raw, &asMap))

	text, isErr := callTool(t, session, "shift_report", map[string]any{
		"analyses":            []any{asMap},
		"target_rate_percent": 5.0,
	})
	require.False(t, isErr, text)

	var rep domain.ShiftReport
	require.NoError(t, json.Unmarshal([]byte(text), &rep))
	assert.Equal(t, 1, rep.TotalInspected)
	assert.Equal(t, 1, rep.TotalDefects)
	assert.Equal(t, 5.0, rep.TargetRatePercent)
	assert.Equal(t, domain.RateFail, rep.RateStatus)
	assert.Equal(t, 1, rep.MajorCount)
	assert.Equal(t, 4100, rep.TotalReasoningTokens)
}
