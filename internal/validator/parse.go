package validator

import (
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/SergioIvanCamposROblesGRIMA/Revision-Facturas-Comercial/internal/model"
	"github.com/SergioIvanCamposROblesGRIMA/Revision-Facturas-Comercial/internal/resilience"
)

// cleanJSON strips markdown fences and surrounding prose from a model
// response, keeping the outermost JSON object.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "```json") {
		text = strings.TrimPrefix(text, "```json")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	} else if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}

	return strings.TrimSpace(text)
}

// ParseExtraction decodes the extraction response. A response that is not
// valid JSON is a permanent failure: retrying the same document through
// the same model will not fix it mid-run.
func ParseExtraction(text string) (*model.ExtractionResult, error) {
	var ex model.ExtractionResult
	if err := json.Unmarshal([]byte(cleanJSON(text)), &ex); err != nil {
		return nil, resilience.NewPermanentError(
			eris.Wrap(err, "parse extraction response"), "malformed response")
	}
	if ex.Supplier == "" && ex.GrandTotal.IsZero() {
		return nil, resilience.NewPermanentError(
			eris.New("extraction response has no supplier and no total"), "empty extraction")
	}
	return &ex, nil
}

// ParseComparison decodes the comparison response and normalizes the
// verdict. Unknown verdicts are treated as discrepancies rather than
// silently passing.
func ParseComparison(text string) (*model.ComparisonResult, error) {
	var cmp model.ComparisonResult
	if err := json.Unmarshal([]byte(cleanJSON(text)), &cmp); err != nil {
		return nil, resilience.NewPermanentError(
			eris.Wrap(err, "parse comparison response"), "malformed response")
	}

	switch cmp.Verdict {
	case model.VerdictOK, model.VerdictDiscrepancy:
	default:
		cmp.Verdict = model.VerdictDiscrepancy
	}
	return &cmp, nil
}
