package validator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SergioIvanCamposROblesGRIMA/Revision-Facturas-Comercial/internal/model"
	"github.com/SergioIvanCamposROblesGRIMA/Revision-Facturas-Comercial/internal/resilience"
)

func TestCleanJSON(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "plain object",
			input: `{"supplier":"ACME"}`,
			want:  `{"supplier":"ACME"}`,
		},
		{
			name:  "json fence",
			input: "```json\n{\"supplier\":\"ACME\"}\n```",
			want:  `{"supplier":"ACME"}`,
		},
		{
			name:  "bare fence",
			input: "```\n{\"supplier\":\"ACME\"}\n```",
			want:  `{"supplier":"ACME"}`,
		},
		{
			name:  "surrounding prose",
			input: "Here is the result:\n{\"supplier\":\"ACME\"}\nLet me know if you need more.",
			want:  `{"supplier":"ACME"}`,
		},
		{
			name:  "nested braces kept",
			input: `prefix {"a":{"b":1}} suffix`,
			want:  `{"a":{"b":1}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, cleanJSON(tt.input))
		})
	}
}

func TestParseExtraction_Valid(t *testing.T) {
	text := "```json\n" + `{
		"supplier": "ACME SA DE CV",
		"grand_total": 11600.00,
		"currency": "MXN",
		"receiver": "GRIMA",
		"folio": "F-1234"
	}` + "\n```"

	ex, err := ParseExtraction(text)
	require.NoError(t, err)
	assert.Equal(t, "ACME SA DE CV", ex.Supplier)
	assert.Equal(t, "11600", ex.GrandTotal.String())
	assert.Equal(t, "MXN", ex.Currency)
	assert.Equal(t, "F-1234", ex.Folio)
}

func TestParseExtraction_Malformed(t *testing.T) {
	_, err := ParseExtraction("I could not read the document, sorry.")
	require.Error(t, err)
	assert.True(t, resilience.IsPermanent(err))
	assert.False(t, resilience.IsTransient(err))
}

func TestParseExtraction_Empty(t *testing.T) {
	_, err := ParseExtraction(`{"supplier":"","grand_total":0}`)
	require.Error(t, err)
	assert.True(t, resilience.IsPermanent(err))
}

func TestParseComparison_Valid(t *testing.T) {
	cmp, err := ParseComparison(`{
		"verdict": "ok",
		"matched_order_ids": ["OC-1"],
		"findings": []
	}`)
	require.NoError(t, err)
	assert.Equal(t, model.VerdictOK, cmp.Verdict)
	assert.Equal(t, []string{"OC-1"}, cmp.MatchedOrderIDs)
	assert.Empty(t, cmp.Findings)
}

func TestParseComparison_UnknownVerdict(t *testing.T) {
	cmp, err := ParseComparison(`{"verdict":"maybe"}`)
	require.NoError(t, err)
	assert.Equal(t, model.VerdictDiscrepancy, cmp.Verdict)
}

func TestParseComparison_Malformed(t *testing.T) {
	_, err := ParseComparison("not json at all")
	require.Error(t, err)
	assert.True(t, resilience.IsPermanent(err))
}
