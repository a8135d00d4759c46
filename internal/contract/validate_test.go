package contract

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate_Classification_NormalizesEnums(t *testing.T) {
	raw := `{"defect_detected": true, "defect_type": " Blade_Scratch ", "severity": "MAJOR",
		"confidence": 0.91, "description": "long scratch", "affected_area": "Blade"}`

	fs, err := Validate(raw, ClassificationSchema)
	require.NoError(t, err)
	assert.True(t, fs.Bool("defect_detected"))
	assert.Equal(t, "blade_scratch", *fs.Enum("defect_type"))
	assert.Equal(t, "major", *fs.Enum("severity"))
	assert.Equal(t, "blade", *fs.Enum("affected_area"))
	assert.Equal(t, 0.91, fs.Number("confidence"))
	assert.Nil(t, fs.Object("bounding_box"))
}

func TestValidate_UnknownEnumFallsBack(t *testing.T) {
	fs, err := Validate(`{"defect_detected":true,"defect_type":"glitter","confidence":0.5}`, ClassificationSchema)
	require.NoError(t, err)
	assert.Equal(t, "unknown", *fs.Enum("defect_type"))
	assert.Nil(t, fs.Enum("severity"))
}

func TestValidate_ConfidenceClampedAndParsedFromString(t *testing.T) {
	fs, err := Validate(`{"defect_detected":true,"confidence":1.7}`, ClassificationSchema)
	require.NoError(t, err)
	assert.Equal(t, 1.0, fs.Number("confidence"))

	fs, err = Validate(`{"defect_detected":true,"confidence":-3}`, ClassificationSchema)
	require.NoError(t, err)
	assert.Equal(t, 0.0, fs.Number("confidence"))

	fs, err = Validate(`{"defect_detected":"yes","confidence":" 0.4 "}`, ClassificationSchema)
	require.NoError(t, err)
	assert.True(t, fs.Bool("defect_detected"))
	assert.Equal(t, 0.4, fs.Number("confidence"))
}

func TestValidate_NonNumericConfidenceFails(t *testing.T) {
	_, err := Validate(`{"defect_detected":true,"confidence":"very high"}`, ClassificationSchema)
	require.ErrorIs(t, err, ErrContract)
	kind, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, InvalidField, kind)
}

func TestValidate_MissingRequired(t *testing.T) {
	for _, raw := range []string{`{"confidence":0.5}`, `{"defect_detected":null,"confidence":0.5}`} {
		_, err := Validate(raw, ClassificationSchema)
		kind, ok := KindOf(err)
		require.True(t, ok, raw)
		assert.Equal(t, MissingRequiredField, kind, raw)
	}
}

func TestValidate_Malformed(t *testing.T) {
	_, err := Validate("The knife shows no visible issues.", ClassificationSchema)
	kind, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, MalformedJSON, kind)
}

func TestValidate_CommentBeforeClosingBrace(t *testing.T) {
	fs, err := Validate("{\"defect_detected\": true, \"confidence\": 0.9 // done }\n}", ClassificationSchema)
	require.NoError(t, err)
	assert.True(t, fs.Bool("defect_detected"))
	assert.InDelta(t, 0.9, fs.Number("confidence"), 1e-9)
}

func TestValidate_BoundingBox(t *testing.T) {
	fs, err := Validate(`{"defect_detected":true,"confidence":0.9,"bounding_box":{"x":10,"y":-4,"width":30,"height":12}}`, ClassificationSchema)
	require.NoError(t, err)
	box := fs.Object("bounding_box")
	require.NotNil(t, box)
	assert.Equal(t, 10.0, box.Number("x"))
	assert.Equal(t, 0.0, box.Number("y"))

	fs, err = Validate(`{"defect_detected":true,"confidence":0.9,"bounding_box":{"x":"left"}}`, ClassificationSchema)
	require.NoError(t, err)
	assert.Nil(t, fs.Object("bounding_box"))
}

func TestValidate_RootCause_TruncatesChain(t *testing.T) {
	raw := `{"probable_stage":"VACUUM_QUENCH","root_cause":"seal wear",
		"five_why_chain":["1","2","3","4","5","6","7","8","9"],
		"ishikawa_analysis":{"Machine":"seal","material":null,"budget":"n/a"}}`

	fs, err := Validate(raw, RootCauseSchema)
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2", "3", "4", "5", "6", "7"}, fs.StringList("five_why_chain"))
	assert.Equal(t, "vacuum_quench", *fs.Enum("probable_stage"))

	ish := fs.StringMap("ishikawa_analysis")
	assert.Len(t, ish, 6)
	require.NotNil(t, ish["machine"])
	assert.Equal(t, "seal", *ish["machine"])
	assert.Nil(t, ish["material"])
	assert.NotContains(t, ish, "budget")
	assert.Equal(t, []string{}, fs.StringList("contributing_factors"))
}

func TestValidate_RootCause_EmptyChainIsIncomplete(t *testing.T) {
	for _, raw := range []string{
		`{"root_cause":"x","five_why_chain":[]}`,
		`{"root_cause":"x"}`,
		`{"root_cause":"x","five_why_chain":["", null]}`,
	} {
		_, err := Validate(raw, RootCauseSchema)
		kind, ok := KindOf(err)
		require.True(t, ok, raw)
		assert.Equal(t, IncompleteChain, kind, raw)
	}
}

func TestValidate_Report_NeverNilLists(t *testing.T) {
	fs, err := Validate(`{}`, ReportSchema)
	require.NoError(t, err)
	assert.NotNil(t, fs.StringList("corrective_actions"))
	assert.NotNil(t, fs.StringList("preventive_actions"))
	assert.False(t, fs.Bool("escalation_required"))
}

func TestValidate_Idempotent(t *testing.T) {
	cases := []struct {
		raw    string
		schema Schema
	}{
		{`{"defect_detected":true,"defect_type":" Rust_Spot","severity":"Critical","confidence":.88,"affected_area":"x","bounding_box":{"x":1,"y":2,"width":3,"height":4}}`, ClassificationSchema},
		{`{"defect_detected":false,"confidence":0.97}`, ClassificationSchema},
		{`{"probable_stage":"Vacuum_Quench","five_why_chain":["a","b","c","d","e","f","g","h"],"ishikawa_analysis":{"MAN":" tired "}}`, RootCauseSchema},
		{`{"corrective_actions":["IMMEDIATE: stop line"],"preventive_actions":"LONG-TERM: replace seals"}`, ReportSchema},
	}
	for _, tc := range cases {
		first, err := Validate(tc.raw, tc.schema)
		require.NoError(t, err, tc.raw)

		encoded, err := json.Marshal(first)
		require.NoError(t, err)

		second, err := Validate(string(encoded), tc.schema)
		require.NoError(t, err)
		assert.Equal(t, first, second, tc.raw)
	}
}
