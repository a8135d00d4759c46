package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC)

func ptr[T any](v T) *T { return &v }

func TestNewDefectID(t *testing.T) {
	id := uuid.MustParse("3f2a9c1b-0000-4000-8000-000000000000")
	assert.Equal(t, "DEF-20250615-3F2A9C1B", NewDefectID(testNow, id))
}

func TestNewDefectAnalysisRecord_NoDefectClearsEverything(t *testing.T) {
	rec := NewDefectAnalysisRecord(RecordParts{
		DefectID:  "DEF-20250615-AAAAAAAA",
		Timestamp: testNow,
		Facility:  FacilityYangjiang,
		Classification: ClassificationResult{
			DefectDetected: false,
			DefectType:     ptr(DefectBladeScratch),
			Severity:       ptr(SeverityMinor),
			Confidence:     0.97,
		},
		RootCause: &RootCauseResult{RootCause: "should not appear", FiveWhyChain: []string{"why"}},
		Report: ReportResult{
			CorrectiveActions: []string{"fix it"},
			PreventiveActions: []string{"keep sampling"},
		},
	})

	assert.False(t, rec.DefectDetected)
	assert.Nil(t, rec.DefectType)
	assert.Nil(t, rec.Severity)
	assert.Nil(t, rec.RootCause)
	assert.Nil(t, rec.FiveWhyChain)
	assert.Nil(t, rec.IshikawaAnalysis)
	assert.NotNil(t, rec.CorrectiveActions)
	assert.Empty(t, rec.CorrectiveActions)
	assert.Equal(t, []string{"keep sampling"}, rec.PreventiveActions)

	raw, err := json.Marshal(rec)
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(raw, &m))
	assert.Nil(t, m["defect_type"])
	assert.Nil(t, m["root_cause"])
	assert.Equal(t, []any{}, m["corrective_actions"])
}

func TestNewDefectAnalysisRecord_CopiesRootCause(t *testing.T) {
	note := "seal wear"
	rc := &RootCauseResult{
		ProbableStage:    ptr(StageVacuumQuench),
		RootCause:        "vacuum seal degradation",
		FiveWhyChain:     []string{"a", "b"},
		IshikawaAnalysis: map[IshikawaCategory]*string{IshikawaMachine: &note, IshikawaMan: nil},
	}
	rec := NewDefectAnalysisRecord(RecordParts{
		Timestamp: testNow.In(time.FixedZone("HKT", 8*3600)),
		Classification: ClassificationResult{
			DefectDetected: true,
			DefectType:     ptr(DefectRustSpot),
			Severity:       ptr(SeverityCritical),
		},
		RootCause: rc,
		Report:    ReportResult{CorrectiveActions: []string{}, PreventiveActions: []string{}},
	})

	require.NotNil(t, rec.RootCause)
	assert.Equal(t, "vacuum seal degradation", *rec.RootCause)
	assert.Equal(t, StageVacuumQuench, *rec.ProbableStage)
	assert.Equal(t, time.UTC, rec.Timestamp.Location())
	assert.Empty(t, rec.ContributingFactors)

	rc.FiveWhyChain[0] = "mutated"
	assert.Equal(t, "a", rec.FiveWhyChain[0])
}
