package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/alexanderramin/defectlens/internal/contract"
	"github.com/alexanderramin/defectlens/internal/domain"
	"github.com/alexanderramin/defectlens/internal/llm"
	"github.com/alexanderramin/defectlens/internal/taxonomy"
)

var (
	testNow = time.Date(2025, 6, 15, 10, 30, 0, 0, time.UTC)
	testID  = uuid.MustParse("3f2a9c1b-7d4e-4000-8000-000000000000")
)

const (
	noDefectJSON     = `{"defect_detected": false, "confidence": 0.97, "description": "clean blade"}`
	rustSpotJSON     = `{"defect_detected": true, "defect_type": "rust_spot", "severity": "critical", "confidence": 0.88, "description": "oxidation near heel", "affected_area": "blade"}`
	vacuumQuenchJSON = `{"probable_stage": "vacuum_quench", "root_cause": "vacuum seal degradation",
		"five_why_chain": ["Why 1: chromium depleted", "Why 2: carbide formed", "Why 3: slow cooling", "Why 4: pressure loss", "Why 5: seal degradation"],
		"contributing_factors": ["seal age"], "ishikawa_analysis": {"machine": "worn seal"}}`
	correctiveJSON = `{"corrective_actions": ["IMMEDIATE: quarantine batch"], "preventive_actions": ["LONG-TERM: quarterly seal replacement"], "escalation_required": true, "escalation_reason": "critical rust"}`
	genericQCJSON  = `{"corrective_actions": [], "preventive_actions": ["Continue 1-in-50 sampling"]}`
)

type step struct {
	text      string
	reasoning int
	err       error
	hook      func()
}

func reply(text string, reasoning int) step { return step{text: text, reasoning: reasoning} }

func fail(err error) step { return step{err: err} }

// scriptedClient replays a fixed sequence of completions per task.
type scriptedClient struct {
	mu    sync.Mutex
	steps map[llm.TaskType][]step
	calls map[llm.TaskType]int
}

func newScriptedClient(steps map[llm.TaskType][]step) *scriptedClient {
	return &scriptedClient{steps: steps, calls: map[llm.TaskType]int{}}
}

func (c *scriptedClient) Invoke(ctx context.Context, req llm.InvokeRequest) (*llm.InvokeResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	i := c.calls[req.Task]
	c.calls[req.Task]++
	queue := c.steps[req.Task]
	c.mu.Unlock()

	if i >= len(queue) {
		return nil, fmt.Errorf("unexpected call %d to %s", i+1, req.Task)
	}
	s := queue[i]
	if s.hook != nil {
		s.hook()
	}
	if s.err != nil {
		return nil, s.err
	}
	return &llm.InvokeResponse{Text: s.text, Usage: llm.Usage{PromptTokens: 100, ReasoningTokens: s.reasoning}}, nil
}

func (c *scriptedClient) callCount(task llm.TaskType) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[task]
}

type sleepLog struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepLog) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return ctx.Err()
}

func newTestPipeline(client llm.ModelClient, opts ...Option) (*Pipeline, *Recorder, *sleepLog) {
	rec := &Recorder{}
	sl := &sleepLog{}
	base := []Option{
		WithClock(func() time.Time { return testNow }),
		WithIDSource(func() uuid.UUID { return testID }),
		WithModelVersion("gpt-5.2"),
		WithObserver(rec),
	}
	p := NewFromClient(client, taxonomy.Default(), append(base, opts...)...)
	p.sleep = sl.sleep
	return p, rec, sl
}

func testRequest() Request {
	return Request{
		Image:      []byte("\xff\xd8\xff\xe0fake-jpeg"),
		ImageRef:   "knife_001.jpg",
		ProductSKU: "WK-KN-200",
		Facility:   domain.FacilityYangjiang,
	}
}

func TestRun_NoDefect(t *testing.T) {
	client := newScriptedClient(map[llm.TaskType][]step{
		llm.TaskClassification: {reply(noDefectJSON, 400)},
		llm.TaskReport:         {reply(genericQCJSON, 150)},
	})
	p, rec, _ := newTestPipeline(client)

	record, err := p.Run(context.Background(), testRequest())
	require.NoError(t, err)

	assert.False(t, record.DefectDetected)
	assert.Nil(t, record.DefectType)
	assert.Nil(t, record.Severity)
	assert.Nil(t, record.RootCause)
	assert.Nil(t, record.ProbableStage)
	assert.Equal(t, []string{}, record.CorrectiveActions)
	assert.Equal(t, []string{"Continue 1-in-50 sampling"}, record.PreventiveActions)
	assert.Equal(t, 550, record.ReasoningTokensUsed)
	assert.Equal(t, 0, client.callCount(llm.TaskRootCause))
	assert.Equal(t, []State{StateClassifying, StateSkippingRootCause, StateReporting, StateCompleted}, rec.States("knife_001.jpg"))
}

func TestRun_CriticalDefectEndToEnd(t *testing.T) {
	client := newScriptedClient(map[llm.TaskType][]step{
		llm.TaskClassification: {reply(rustSpotJSON, 1200)},
		llm.TaskRootCause:      {reply(vacuumQuenchJSON, 5200)},
		llm.TaskReport:         {reply(correctiveJSON, 300)},
	})
	p, rec, _ := newTestPipeline(client)

	record, err := p.Run(context.Background(), testRequest())
	require.NoError(t, err)

	machine := "worn seal"
	cause := "vacuum seal degradation"
	want := &domain.DefectAnalysisRecord{
		DefectID:       "DEF-20250615-3F2A9C1B",
		Timestamp:      testNow,
		Facility:       domain.FacilityYangjiang,
		ProductSKU:     "WK-KN-200",
		ImageRef:       "knife_001.jpg",
		DefectDetected: true,
		DefectType:     ptr(domain.DefectRustSpot),
		Severity:       ptr(domain.SeverityCritical),
		Confidence:     0.88,
		Description:    "oxidation near heel",
		AffectedArea:   ptr(domain.AreaBlade),
		ProbableStage:  ptr(domain.StageVacuumQuench),
		RootCause:      &cause,
		FiveWhyChain: []string{
			"Why 1: chromium depleted", "Why 2: carbide formed", "Why 3: slow cooling",
			"Why 4: pressure loss", "Why 5: seal degradation",
		},
		IshikawaAnalysis: map[domain.IshikawaCategory]*string{
			domain.IshikawaMan: nil, domain.IshikawaMachine: &machine, domain.IshikawaMaterial: nil,
			domain.IshikawaMethod: nil, domain.IshikawaMeasurement: nil, domain.IshikawaEnvironment: nil,
		},
		ContributingFactors: []string{"seal age"},
		CorrectiveActions:   []string{"IMMEDIATE: quarantine batch"},
		PreventiveActions:   []string{"LONG-TERM: quarterly seal replacement"},
		EscalationRequired:  true,
		EscalationReason:    "critical rust",
		ReasoningTokensUsed: 6700,
		ModelVersion:        "gpt-5.2",
	}
	if diff := cmp.Diff(want, record); diff != "" {
		t.Errorf("record mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, []State{StateClassifying, StateRootCauseAnalyzing, StateReporting, StateCompleted}, rec.States("knife_001.jpg"))
}

func TestRun_LogsUsageOfEveryAttempt(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	client := newScriptedClient(map[llm.TaskType][]step{
		llm.TaskClassification: {reply("not json at all", 90), reply(noDefectJSON, 400)},
		llm.TaskReport:         {reply(genericQCJSON, 150)},
	})
	p, _, _ := newTestPipeline(client, WithLogger(zap.New(core)))

	record, err := p.Run(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, 640, record.ReasoningTokensUsed)

	entries := logs.FilterMessage("analysis completed").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.EqualValues(t, 300, fields["prompt_tokens"])
	assert.EqualValues(t, 0, fields["completion_tokens"])
	assert.EqualValues(t, 640, fields["reasoning_tokens"])
	assert.Equal(t, "DEF-20250615-3F2A9C1B", fields["defect_id"])
}

func TestRun_MalformedClassificationTwice(t *testing.T) {
	prose := "The knife looks fine to me, no obvious problems."
	client := newScriptedClient(map[llm.TaskType][]step{
		llm.TaskClassification: {reply(prose, 90), reply(prose, 80)},
	})
	p, rec, _ := newTestPipeline(client)

	record, err := p.Run(context.Background(), testRequest())
	assert.Nil(t, record)

	var pe *PipelineError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, StageClassification, pe.Stage)
	kind, found := contract.KindOf(err)
	require.True(t, found)
	assert.Equal(t, contract.MalformedJSON, kind)
	assert.Equal(t, "malformed_json", pe.Reason())

	assert.Equal(t, 2, client.callCount(llm.TaskClassification))
	assert.Equal(t, 0, client.callCount(llm.TaskReport))
	assert.Equal(t, []State{StateClassifying, StateFailed}, rec.States("knife_001.jpg"))
}

func TestRun_AuthFailureIsNeverRetried(t *testing.T) {
	auth := &llm.InvocationError{Kind: llm.KindAuth, StatusCode: 401}

	tests := []struct {
		name  string
		steps map[llm.TaskType][]step
		stage Stage
		task  llm.TaskType
	}{
		{
			name:  "classification",
			steps: map[llm.TaskType][]step{llm.TaskClassification: {fail(auth)}},
			stage: StageClassification,
			task:  llm.TaskClassification,
		},
		{
			name: "root cause",
			steps: map[llm.TaskType][]step{
				llm.TaskClassification: {reply(rustSpotJSON, 10)},
				llm.TaskRootCause:      {fail(auth)},
			},
			stage: StageRootCause,
			task:  llm.TaskRootCause,
		},
		{
			name: "report",
			steps: map[llm.TaskType][]step{
				llm.TaskClassification: {reply(noDefectJSON, 10)},
				llm.TaskReport:         {fail(auth)},
			},
			stage: StageReport,
			task:  llm.TaskReport,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newScriptedClient(tt.steps)
			p, _, sl := newTestPipeline(client)

			record, err := p.Run(context.Background(), testRequest())
			assert.Nil(t, record)
			var pe *PipelineError
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, tt.stage, pe.Stage)
			assert.False(t, pe.Retryable())
			assert.Equal(t, 1, client.callCount(tt.task))
			assert.Empty(t, sl.delays)
		})
	}
}

func TestRun_RetryIsInvisibleInRecord(t *testing.T) {
	transport := &llm.InvocationError{Kind: llm.KindTransport, StatusCode: 503}

	clean := newScriptedClient(map[llm.TaskType][]step{
		llm.TaskClassification: {reply(rustSpotJSON, 1000)},
		llm.TaskRootCause:      {reply(vacuumQuenchJSON, 4000)},
		llm.TaskReport:         {reply(correctiveJSON, 200)},
	})
	flaky := newScriptedClient(map[llm.TaskType][]step{
		llm.TaskClassification: {fail(transport), reply(rustSpotJSON, 1000)},
		llm.TaskRootCause:      {reply("{\"root_cause\": \"x\", \"five_why_chain\": []}", 700), reply(vacuumQuenchJSON, 4000)},
		llm.TaskReport:         {reply(correctiveJSON, 200)},
	})

	p1, _, _ := newTestPipeline(clean)
	p2, _, sl := newTestPipeline(flaky)

	want, err := p1.Run(context.Background(), testRequest())
	require.NoError(t, err)
	got, err := p2.Run(context.Background(), testRequest())
	require.NoError(t, err)

	if diff := cmp.Diff(want, got, cmpopts.IgnoreFields(domain.DefectAnalysisRecord{}, "ReasoningTokensUsed")); diff != "" {
		t.Errorf("retried run differs (-clean +flaky):\n%s", diff)
	}
	assert.Equal(t, 5200, want.ReasoningTokensUsed)
	assert.Equal(t, 5900, got.ReasoningTokensUsed, "tokens of the failed contract attempt still count")
	assert.Equal(t, []time.Duration{500 * time.Millisecond, 0}, sl.delays)
}

func TestRun_RetryBudgetsArePerFailureClass(t *testing.T) {
	client := newScriptedClient(map[llm.TaskType][]step{
		llm.TaskClassification: {
			fail(&llm.InvocationError{Kind: llm.KindRateLimited, StatusCode: 429, RetryAfter: 3 * time.Second}),
			reply("not json", 5),
			reply(noDefectJSON, 50),
		},
		llm.TaskReport: {reply(genericQCJSON, 5)},
	})
	p, _, sl := newTestPipeline(client)

	record, err := p.Run(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, 60, record.ReasoningTokensUsed)
	assert.Equal(t, 3, client.callCount(llm.TaskClassification))
	assert.Equal(t, []time.Duration{3 * time.Second, 0}, sl.delays)
}

func TestRun_TransportExhausted(t *testing.T) {
	transport := &llm.InvocationError{Kind: llm.KindTransport, Err: llm.ErrTimeout}
	client := newScriptedClient(map[llm.TaskType][]step{
		llm.TaskClassification: {reply(noDefectJSON, 10)},
		llm.TaskReport:         {fail(transport), fail(transport)},
	})
	p, _, sl := newTestPipeline(client)

	_, err := p.Run(context.Background(), testRequest())
	var pe *PipelineError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, StageReport, pe.Stage)
	assert.ErrorIs(t, err, llm.ErrTimeout)
	assert.True(t, pe.Retryable())
	assert.Equal(t, "transport", pe.Reason())
	assert.Equal(t, 2, client.callCount(llm.TaskReport))
	assert.Equal(t, []time.Duration{500 * time.Millisecond}, sl.delays)
}

func TestRun_CancelDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := newScriptedClient(map[llm.TaskType][]step{
		llm.TaskClassification: {{err: &llm.InvocationError{Kind: llm.KindTransport, StatusCode: 502}}},
	})
	policy := DefaultPolicy()
	policy.Retry.TransportBackoff = time.Hour
	p, rec, _ := newTestPipeline(client, WithPolicy(policy))
	p.sleep = sleepContext

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := p.Run(ctx, testRequest())
	assert.Less(t, time.Since(start), 5*time.Second)

	var pe *PipelineError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, StageClassification, pe.Stage)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, "canceled", pe.Reason())
	assert.Equal(t, 1, client.callCount(llm.TaskClassification))
	assert.Equal(t, []State{StateClassifying, StateFailed}, rec.States("knife_001.jpg"))
}

func TestRun_CancelDuringInvocationIsNotRetried(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	client := newScriptedClient(map[llm.TaskType][]step{
		llm.TaskClassification: {reply(rustSpotJSON, 10)},
		llm.TaskRootCause: {{
			hook: cancel,
			err:  &llm.InvocationError{Kind: llm.KindTransport},
		}},
	})
	p, _, sl := newTestPipeline(client)

	_, err := p.Run(ctx, testRequest())
	var pe *PipelineError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, StageRootCause, pe.Stage)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, sl.delays)
	assert.Equal(t, 0, client.callCount(llm.TaskReport))
}

func TestRun_LowConfidenceDefectStillAnalyzed(t *testing.T) {
	client := newScriptedClient(map[llm.TaskType][]step{
		llm.TaskClassification: {reply(`{"defect_detected": true, "defect_type": "polish_defect", "severity": "cosmetic", "confidence": 0.21}`, 10)},
		llm.TaskRootCause:      {reply(`{"probable_stage": "blade_glazing", "root_cause": "worn wheel", "five_why_chain": ["Why 1: swirl marks"]}`, 10)},
		llm.TaskReport:         {reply(correctiveJSON, 10)},
	})
	p, _, _ := newTestPipeline(client)

	record, err := p.Run(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, 1, client.callCount(llm.TaskRootCause))
	assert.Equal(t, domain.StageBladeGlazing, *record.ProbableStage)
}

func TestRun_AlwaysRunRootCause(t *testing.T) {
	client := newScriptedClient(map[llm.TaskType][]step{
		llm.TaskClassification: {reply(noDefectJSON, 100)},
		llm.TaskRootCause:      {reply(vacuumQuenchJSON, 900)},
		llm.TaskReport:         {reply(genericQCJSON, 50)},
	})
	policy := DefaultPolicy()
	policy.AlwaysRunRootCause = true
	p, rec, _ := newTestPipeline(client, WithPolicy(policy))

	record, err := p.Run(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, 1, client.callCount(llm.TaskRootCause))
	assert.Equal(t, 1050, record.ReasoningTokensUsed)
	assert.Nil(t, record.RootCause, "no defect never carries a root cause")
	assert.Nil(t, record.FiveWhyChain)
	assert.Contains(t, rec.States("knife_001.jpg"), StateRootCauseAnalyzing)
}

func TestRun_InvalidRequest(t *testing.T) {
	client := newScriptedClient(nil)
	p, rec, _ := newTestPipeline(client)

	req := testRequest()
	req.ProductSKU = ""
	_, err := p.Run(context.Background(), req)

	var pe *PipelineError
	require.ErrorAs(t, err, &pe)
	assert.ErrorIs(t, err, ErrInvalidRequest)
	assert.Equal(t, "invalid_request", pe.Reason())
	assert.Equal(t, 0, client.callCount(llm.TaskClassification))
	assert.Equal(t, []State{StateFailed}, rec.States("knife_001.jpg"))

	req = testRequest()
	req.ProductionData = []byte(`{"batch":`)
	_, err = p.Run(context.Background(), req)
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestRun_DefaultsFacility(t *testing.T) {
	client := newScriptedClient(map[llm.TaskType][]step{
		llm.TaskClassification: {reply(noDefectJSON, 1)},
		llm.TaskReport:         {reply(genericQCJSON, 1)},
	})
	p, _, _ := newTestPipeline(client)

	req := testRequest()
	req.Facility = ""
	record, err := p.Run(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, domain.FacilityYangjiang, record.Facility)
}

// funcClient answers based on the request so concurrent runs stay deterministic.
type funcClient func(req llm.InvokeRequest) (*llm.InvokeResponse, error)

func (f funcClient) Invoke(_ context.Context, req llm.InvokeRequest) (*llm.InvokeResponse, error) {
	return f(req)
}

func TestBatch_PreservesOrderAndIsolatesFailures(t *testing.T) {
	client := funcClient(func(req llm.InvokeRequest) (*llm.InvokeResponse, error) {
		if strings.Contains(req.UserPrompt, "SKU-BAD") {
			return nil, &llm.InvocationError{Kind: llm.KindRejected, StatusCode: 400}
		}
		switch req.Task {
		case llm.TaskClassification:
			if strings.Contains(req.UserPrompt, "SKU-RUST") {
				return &llm.InvokeResponse{Text: rustSpotJSON}, nil
			}
			return &llm.InvokeResponse{Text: noDefectJSON}, nil
		case llm.TaskRootCause:
			return &llm.InvokeResponse{Text: vacuumQuenchJSON}, nil
		default:
			return &llm.InvokeResponse{Text: correctiveJSON}, nil
		}
	})
	p, _, _ := newTestPipeline(client)

	var reqs []Request
	for i, sku := range []string{"SKU-OK", "SKU-BAD", "SKU-RUST", "SKU-OK", "SKU-OK"} {
		req := testRequest()
		req.ProductSKU = sku
		req.ImageRef = fmt.Sprintf("img_%d.jpg", i)
		reqs = append(reqs, req)
	}

	results := p.Batch(context.Background(), reqs, 3)
	require.Len(t, results, 5)
	for i, r := range results {
		assert.Equal(t, fmt.Sprintf("img_%d.jpg", i), r.Ref)
		if i == 1 {
			assert.Nil(t, r.Record)
			var pe *PipelineError
			assert.True(t, errors.As(r.Err, &pe))
			continue
		}
		require.NoError(t, r.Err)
		assert.Equal(t, reqs[i].ProductSKU, r.Record.ProductSKU)
	}
	assert.True(t, results[2].Record.DefectDetected)

	records := Records(results)
	assert.Len(t, records, 4)
}

func TestBatch_ZeroConcurrencyRunsSequentially(t *testing.T) {
	client := funcClient(func(req llm.InvokeRequest) (*llm.InvokeResponse, error) {
		if req.Task == llm.TaskClassification {
			return &llm.InvokeResponse{Text: noDefectJSON}, nil
		}
		return &llm.InvokeResponse{Text: genericQCJSON}, nil
	})
	p, _, _ := newTestPipeline(client)

	results := p.Batch(context.Background(), []Request{testRequest(), testRequest()}, 0)
	require.Len(t, results, 2)
	assert.NoError(t, results[0].Err)
	assert.NoError(t, results[1].Err)
}

func ptr[T any](v T) *T { return &v }
