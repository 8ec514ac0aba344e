package document

import (
	"fmt"
	"regexp"
	"strings"
)

var placeholderPattern = regexp.MustCompile(`\{\{MISSING::([^:}]+)::([^}]*)\}\}`)

// Placeholder marks missing information inside a draft.
type Placeholder struct {
	Section string `json:"section"`
	Hint    string `json:"hint"`
	Token   string `json:"token"`
}

// Validation is the structural verdict on a raw writer response.
type Validation struct {
	Valid     bool
	Issues    []string
	Content   string // between the TSG markers, trimmed; "" if not extractable
	Questions string // between the QUESTIONS markers, trimmed
}

// FindPlaceholders returns every placeholder in text, in order of appearance.
func FindPlaceholders(text string) []Placeholder {
	matches := placeholderPattern.FindAllStringSubmatch(text, -1)
	out := make([]Placeholder, 0, len(matches))
	for _, m := range matches {
		out = append(out, Placeholder{
			Section: strings.TrimSpace(m[1]),
			Hint:    strings.TrimSpace(m[2]),
			Token:   m[0],
		})
	}
	return out
}

// Validate checks a raw writer response against the document contract.
func Validate(raw string) Validation {
	var issues []string

	markers := []struct {
		name   string
		marker string
	}{
		{"TSG_BEGIN", TSGBegin},
		{"TSG_END", TSGEnd},
		{"QUESTIONS_BEGIN", QuestionsBegin},
		{"QUESTIONS_END", QuestionsEnd},
	}
	for _, m := range markers {
		if !strings.Contains(raw, m.marker) {
			issues = append(issues, fmt.Sprintf("Missing %s marker (%s)", m.name, m.marker))
		}
	}

	content, contentOK := between(raw, TSGBegin, TSGEnd)
	questions, questionsOK := between(raw, QuestionsBegin, QuestionsEnd)

	if !contentOK && strings.Contains(raw, TSGBegin) && strings.Contains(raw, TSGEnd) {
		issues = append(issues, "TSG_END marker appears before TSG_BEGIN")
	}
	if !questionsOK && strings.Contains(raw, QuestionsBegin) && strings.Contains(raw, QuestionsEnd) {
		issues = append(issues, "QUESTIONS_END marker appears before QUESTIONS_BEGIN")
	}

	if contentOK {
		if !strings.HasPrefix(content, RequiredTOC) {
			issues = append(issues, fmt.Sprintf("TSG must start with the table of contents marker %s", RequiredTOC))
		}
		for _, h := range RequiredHeadings {
			if !strings.Contains(content, h) {
				issues = append(issues, fmt.Sprintf("Missing required heading: %s", h))
			}
		}
		if !strings.Contains(content, RequiredDiagnosisLine) {
			issues = append(issues, "Missing required diagnosis line in the Diagnosis section")
		}

		if questionsOK {
			placeholders := FindPlaceholders(content)
			switch {
			case len(placeholders) == 0 && questions != NoMissing:
				issues = append(issues, "Questions block is not NO_MISSING but the TSG has no {{MISSING::...}} placeholders")
			case len(placeholders) > 0 && questions == NoMissing:
				issues = append(issues, fmt.Sprintf("TSG has %d {{MISSING::...}} placeholder(s) but the questions block says NO_MISSING", len(placeholders)))
			case len(placeholders) > 0 && !strings.Contains(questions, "{{MISSING::"):
				issues = append(issues, "Questions block doesn't list the {{MISSING::...}} placeholders from the TSG")
			}
		}
	}

	if !contentOK {
		content = ""
	}
	if !questionsOK {
		questions = ""
	}

	return Validation{
		Valid:     len(issues) == 0,
		Issues:    issues,
		Content:   content,
		Questions: questions,
	}
}

// between returns the trimmed text between the first begin and the first
// end marker. ok is false when either is absent or they are out of order.
func between(s, begin, end string) (string, bool) {
	i := strings.Index(s, begin)
	j := strings.Index(s, end)
	if i == -1 || j == -1 || j <= i {
		return "", false
	}
	return strings.TrimSpace(s[i+len(begin) : j]), true
}
