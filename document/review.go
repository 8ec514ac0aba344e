package document

import (
	"fmt"

	ijson "github.com/richinex/tsgpipe/internal/json"
)

// Review is the reviewer's verdict on a draft.
type Review struct {
	Approved           bool     `json:"approved"`
	StructureIssues    []string `json:"structure_issues"`
	AccuracyIssues     []string `json:"accuracy_issues"`
	CompletenessIssues []string `json:"completeness_issues"`
	FormatIssues       []string `json:"format_issues"`
	Suggestions        []string `json:"suggestions"`
	CorrectedTSG       string   `json:"corrected_tsg,omitempty"`
}

// HasFeedback reports whether the review carries anything for the next
// iteration to act on.
func (r *Review) HasFeedback() bool {
	if r == nil {
		return false
	}
	return len(r.AccuracyIssues) > 0 || len(r.Suggestions) > 0 || len(r.CompletenessIssues) > 0
}

// Warnings returns the non-structural issues, which never block completion.
func (r *Review) Warnings() []string {
	if r == nil {
		return nil
	}
	var out []string
	out = append(out, r.AccuracyIssues...)
	out = append(out, r.CompletenessIssues...)
	out = append(out, r.FormatIssues...)
	for _, s := range r.Suggestions {
		out = append(out, "Suggestion: "+s)
	}
	return out
}

// ParseReview decodes a reviewer response. The JSON object may be wrapped
// in review markers or code fences.
func ParseReview(raw string) (*Review, error) {
	r, err := ijson.ExtractBetween[Review](raw, ReviewBegin, ReviewEnd)
	if err != nil {
		return nil, fmt.Errorf("failed to parse review: %w", err)
	}
	return &r, nil
}
