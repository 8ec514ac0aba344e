package document

import (
	"strings"
)

// Question asks the author for one piece of missing information.
type Question struct {
	Placeholder Placeholder `json:"placeholder"`
	Text        string      `json:"text"`
}

// Draft is a parsed writer response.
type Draft struct {
	Content   string        `json:"content"`
	Questions []Question    `json:"questions"`
	Missing   []Placeholder `json:"missing"`
}

// Complete reports whether the draft needs no further input.
func (d Draft) Complete() bool {
	return len(d.Missing) == 0
}

// Finalize returns the content with the signature appended.
func (d Draft) Finalize() string {
	if d.Content == "" {
		return ""
	}
	return d.Content + Signature
}

// Parse validates raw and extracts the draft.
func Parse(raw string) (Draft, Validation) {
	v := Validate(raw)
	d := Draft{
		Content:   v.Content,
		Missing:   FindPlaceholders(v.Content),
		Questions: parseQuestions(v.Questions),
	}
	return d, v
}

// parseQuestions reads lines of the form
//
//   - {{MISSING::<SECTION>::<HINT>}} -> <question>
//
// Lines without a placeholder are kept as free-form questions.
func parseQuestions(block string) []Question {
	if block == "" || block == NoMissing {
		return nil
	}

	var out []Question
	for _, line := range strings.Split(block, "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimLeft(line, "-*• ")
		line = strings.TrimSpace(line)
		if line == "" || line == NoMissing {
			continue
		}

		q := Question{Text: line}
		if ps := FindPlaceholders(line); len(ps) > 0 {
			q.Placeholder = ps[0]
			rest := strings.TrimSpace(strings.Replace(line, ps[0].Token, "", 1))
			rest = strings.TrimSpace(strings.TrimPrefix(rest, "->"))
			if rest != "" {
				q.Text = rest
			} else {
				q.Text = ps[0].Hint
			}
		}
		out = append(out, q)
	}
	return out
}

// ExtractResearch returns the report between the research markers, or the
// whole response when the markers are absent.
func ExtractResearch(raw string) string {
	if block, ok := between(raw, ResearchBegin, ResearchEnd); ok && block != "" {
		return block
	}
	return strings.TrimSpace(raw)
}

// FormatQuestions renders questions for display.
func FormatQuestions(qs []Question) string {
	var b strings.Builder
	for i, q := range qs {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString("- ")
		if q.Placeholder.Section != "" {
			b.WriteString("[" + q.Placeholder.Section + "] ")
		}
		b.WriteString(q.Text)
	}
	return b.String()
}
