package json

import (
	"strings"
	"testing"
)

type verdict struct {
	Approved bool     `json:"approved"`
	Issues   []string `json:"issues"`
}

func TestExtractJSONFromResponse(t *testing.T) {
	tests := []struct {
		name     string
		response string
	}{
		{"pure", `{"approved": true, "issues": ["a"]}`},
		{"prefix", `Here is the verdict: {"approved": true, "issues": ["a"]}`},
		{"suffix", `{"approved": true, "issues": ["a"]} That's all.`},
		{"fenced", "```json\n{\"approved\": true, \"issues\": [\"a\"]}\n```"},
		{"bare fence", "```\n{\"approved\": true, \"issues\": [\"a\"]}\n```"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := ExtractJSONFromResponse[verdict](tt.response)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !v.Approved || len(v.Issues) != 1 {
				t.Errorf("unexpected result %+v", v)
			}
		})
	}
}

func TestExtractBetweenMarkers(t *testing.T) {
	response := `Notes {"approved": false}
<!-- REVIEW_BEGIN -->
{"approved": true, "issues": []}
<!-- REVIEW_END -->
trailing {}`

	v, err := ExtractBetween[verdict](response, "<!-- REVIEW_BEGIN -->", "<!-- REVIEW_END -->")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !v.Approved {
		t.Error("expected the object inside the markers")
	}
}

func TestExtractBetweenFallsBack(t *testing.T) {
	v, err := ExtractBetween[verdict](`{"approved": true}`, "<!-- A -->", "<!-- B -->")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !v.Approved {
		t.Error("expected whole response to be searched without markers")
	}
}

func TestNoJSON(t *testing.T) {
	_, err := ExtractJSONFromResponse[verdict]("This is just plain text without any JSON.")
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !strings.Contains(err.Error(), "failed to extract valid JSON") {
		t.Errorf("expected 'failed to extract valid JSON' in error, got: %v", err)
	}
}

func TestInvalidJSON(t *testing.T) {
	if _, err := ExtractJSONFromResponse[verdict](`{"approved": true, issues: }`); err == nil {
		t.Fatal("expected error, got nil")
	}
}
