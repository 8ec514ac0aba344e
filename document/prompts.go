package document

import (
	"encoding/json"
	"fmt"
	"strings"
)

// PriorResearchUnavailable stands in for research on follow-ups that have none.
const PriorResearchUnavailable = "(Prior research not available for this follow-up)"

// WriterInput feeds the WRITE stage.
type WriterInput struct {
	Notes       string
	Research    string
	PriorDraft  string
	Answers     string
	PriorReview *Review
}

// ReviewInput feeds the REVIEW stage.
type ReviewInput struct {
	Draft       string
	Research    string
	Notes       string
	PriorReview *Review
	Answers     string
}

type reviewFeedback struct {
	AccuracyIssues     []string `json:"accuracy_issues"`
	CompletenessIssues []string `json:"completeness_issues"`
	Suggestions        []string `json:"suggestions"`
}

func feedbackJSON(r *Review) string {
	fb := reviewFeedback{
		AccuracyIssues:     nonNil(r.AccuracyIssues),
		CompletenessIssues: nonNil(r.CompletenessIssues),
		Suggestions:        nonNil(r.Suggestions),
	}
	data, err := json.MarshalIndent(fb, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(data)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func tag(b *strings.Builder, name, body string) {
	fmt.Fprintf(b, "<%s>\n%s\n</%s>\n\n", name, strings.TrimSpace(body), name)
}

// ResearchPrompt asks the researcher to gather references for notes.
func ResearchPrompt(notes string, images int) string {
	var b strings.Builder
	b.WriteString("Research the issue described in the notes below before any guide is written.\n\n")
	tag(&b, "notes", notes)
	if images > 0 {
		fmt.Fprintf(&b, "%d screenshot(s) are attached. Use any error text visible in them as search terms.\n\n", images)
	}
	b.WriteString("Wrap your report between " + ResearchBegin + " and " + ResearchEnd + ".\n")
	return b.String()
}

// WriterPrompt builds the WRITE stage prompt.
func WriterPrompt(in WriterInput) string {
	var b strings.Builder
	b.WriteString("Transform the notes into the guide template using the research report.\n\n")
	tag(&b, "notes", in.Notes)
	tag(&b, "research", in.Research)

	if in.PriorDraft != "" {
		tag(&b, "prior_tsg", in.PriorDraft)
	}

	withFeedback := in.PriorReview.HasFeedback()
	if withFeedback {
		tag(&b, "prior_review_feedback", feedbackJSON(in.PriorReview))
	}

	if in.Answers != "" {
		tag(&b, "answers", in.Answers)
		if withFeedback {
			b.WriteString("The user's answers respond both to the {{MISSING::...}} questions and to the reviewer's suggestions in <prior_review_feedback>. ")
			b.WriteString("Replace {{MISSING::...}} placeholders with the matching answers, apply suggestions the user accepted, and leave unchanged anything the user dismissed.\n")
		} else {
			b.WriteString("Replace {{MISSING::...}} placeholders with these answers.\n")
		}
	}

	b.WriteString("\nRemember the output rules: the guide between " + TSGBegin + " and " + TSGEnd +
		", then the follow-up questions between " + QuestionsBegin + " and " + QuestionsEnd + ".\n")
	return b.String()
}

// ReviewPrompt builds the REVIEW stage prompt.
func ReviewPrompt(in ReviewInput) string {
	var b strings.Builder
	b.WriteString("Review the draft guide below for structure, accuracy, completeness and format.\n\n")
	tag(&b, "draft", in.Draft)
	tag(&b, "research", in.Research)
	tag(&b, "notes", in.Notes)

	if in.PriorReview.HasFeedback() && in.Answers != "" {
		tag(&b, "prior_review", feedbackJSON(in.PriorReview))
		tag(&b, "user_response_to_review", in.Answers)
		b.WriteString("This draft is a follow-up iteration. Do NOT re-raise suggestions the user explicitly dismissed in <user_response_to_review>. ")
		b.WriteString("Only flag NEW issues or prior issues the user asked to fix that remain unfixed.\n\n")
	}

	b.WriteString("Respond with a single JSON object between " + ReviewBegin + " and " + ReviewEnd + ".\n")
	return b.String()
}

// FixPrompt asks the writer to regenerate a draft that failed validation.
func FixPrompt(issues []string, notes, research, draft string) string {
	var b strings.Builder
	b.WriteString("Your TSG had structure issues:\n")
	for _, issue := range issues {
		b.WriteString("- " + issue + "\n")
	}
	b.WriteString("\nPlease fix these issues and regenerate the TSG with correct format.\n\n")
	tag(&b, "template", Template)
	tag(&b, "notes", notes)
	tag(&b, "research", research)
	tag(&b, "prior_tsg", draft)
	return b.String()
}

// Instructions returns the system instructions for a stage.
func Instructions(stage string) string {
	switch stage {
	case "research":
		return researchInstructions
	case "write":
		return writerInstructions + "\n=== TEMPLATE (use verbatim) ===\n" + Template + "=== END TEMPLATE ===\n"
	case "review":
		return reviewInstructions
	}
	return ""
}

const researchInstructions = `You are a senior support engineer researching a technical issue before a troubleshooting guide (TSG) is written.

Use your tools to find official documentation, known issues, community discussions and workarounds related to the notes. Search for error messages, error codes and exception names verbatim.

Produce a concise research report with:
- Key findings relevant to the issue
- Likely causes and known mitigations
- Every useful URL, each with a one-line summary

Never invent sources. Wrap the report between <!-- RESEARCH_BEGIN --> and <!-- RESEARCH_END -->.`

const writerInstructions = `You are a senior support engineer who transforms raw troubleshooting notes into precise, production-quality Technical Support Guides (TSGs) using a strict markdown template.

CRITICAL OUTPUT RULES
1) Output the filled TSG template reproduced VERBATIM (same headings, capitalization, punctuation, underscores, checkboxes), with content inserted under each section.
2) Preserve this exact line in the Diagnosis section: "Don't Remove This Text: Results of the Diagnosis should be attached in the Case notes/ICM."
3) If notes are incomplete, insert inline placeholders exactly where content is missing using this syntax:
   {{MISSING::<SECTION>::<CONCISE_HINT>}}
   Example: {{MISSING::Cause::Describe the underlying root cause}}
4) Wrap the TSG between <!-- TSG_BEGIN --> and <!-- TSG_END -->.
5) After the TSG, provide follow-up questions for missing items between <!-- QUESTIONS_BEGIN --> and <!-- QUESTIONS_END -->.
6) Do not add any text outside the two marked blocks. No code fences, no preamble, no epilogue.

FOLLOW-UP QUESTIONS POLICY
- If there are ZERO placeholders, the questions block must contain exactly the single token NO_MISSING.
- Otherwise ask ONE question per placeholder, formatted as:
  - {{MISSING::<SECTION>::<CONCISE_HINT>}} -> <targeted question>
- The "# **Questions to Ask the Customer**" section belongs inside the TSG and is not the follow-up block.

FILLING STRATEGY
- Fill what the notes and research support. Never invent facts; use placeholders instead.
- Every relevant URL from the research belongs in "Related Information".
- On follow-up turns, replace answered placeholders and drop questions that are no longer needed.`

const reviewInstructions = `You are a meticulous reviewer of Technical Support Guides (TSGs).

Check the draft for:
- structure_issues: missing markers, headings, table of contents, the required Diagnosis line, or a questions block that does not match the {{MISSING::...}} placeholders
- accuracy_issues: claims not supported by the notes or research
- completeness_issues: important details from the notes or research that were left out
- format_issues: markdown problems

Set "approved" to true whenever there are no structure_issues, even if other issues exist. Other issues are reported to the author as warnings.
If there are structure issues you can fix, put the complete corrected response (both marked blocks) in "corrected_tsg"; otherwise use null.

Respond with exactly one JSON object between <!-- REVIEW_BEGIN --> and <!-- REVIEW_END -->:
{"approved": bool, "structure_issues": [], "accuracy_issues": [], "completeness_issues": [], "format_issues": [], "suggestions": [], "corrected_tsg": null}`
