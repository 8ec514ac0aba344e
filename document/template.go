// Package document defines the troubleshooting-guide contract: the template,
// the output markers, structural validation, parsing, review decoding and
// the prompts sent to each stage.
//
// Information Hiding:
// - Raw marker text never leaves this package
// - Placeholder syntax hidden behind Placeholder
// - Prompt layout hidden behind the builder functions

package document

// Version is stamped into the signature appended to finished documents.
const Version = "1.0.0"

// Output markers.
const (
	TSGBegin       = "<!-- TSG_BEGIN -->"
	TSGEnd         = "<!-- TSG_END -->"
	QuestionsBegin = "<!-- QUESTIONS_BEGIN -->"
	QuestionsEnd   = "<!-- QUESTIONS_END -->"
	ResearchBegin  = "<!-- RESEARCH_BEGIN -->"
	ResearchEnd    = "<!-- RESEARCH_END -->"
	ReviewBegin    = "<!-- REVIEW_BEGIN -->"
	ReviewEnd      = "<!-- REVIEW_END -->"

	NoMissing = "NO_MISSING"
)

// Required content.
const (
	RequiredTOC           = "[[_TOC_]]"
	RequiredDiagnosisLine = "Don't Remove This Text: Results of the Diagnosis should be attached in the Case notes/ICM."
)

// Signature is appended to every finished document.
const Signature = "\n\n---\n*Drafted with tsgpipe v" + Version + "*"

// RequiredHeadings lists the template headings in order.
var RequiredHeadings = []string{
	"# **Title**",
	"# **Issue Description / Symptoms**",
	"# **When does the TSG not Apply**",
	"# **Diagnosis**",
	"# **Questions to Ask the Customer**",
	"# **Cause**",
	"# **Mitigation or Resolution**",
	"# **Root Cause to be shared with Customer**",
	"# **Related Information**",
	"# **Tags or Prompts**",
}

// Template is the document skeleton the writer must reproduce verbatim.
const Template = `[[_TOC_]]

# **Title**
_Include, ideally, Error Message/ Error code or Scenario with keywords._
_For example_ **'message': 'ScriptExecutionException was caused by StreamAccessException.\n StreamAccessException was caused by AuthenticationException.** OR
**Datareference to ADLSGen2 Datastore fails.**

# **Issue Description / Symptoms**
_Describe what the Customer/CSS Engineer would see as an issue. This would include the error message and the stack trace (if available)_
- **What** is the issue?
- **Who** does this affect?
- **Where** does the issue occur? Where does it not occur?
- **When** does it occur?

# **When does the TSG not Apply**
_For example the TSG might not apply to Private Endpoint workspace etc._

# **Diagnosis**
_How can I debug further and mitigate this issue? Add more details on how to diagnose this issue._
- [ ] _Put quick steps to check before doing any deep dives._
- [ ] _This section can include Kusto queries, Acis commands or ASC actions (preferable) for getting more diagnostic information_
- [ ] _If is a common query link to a separate How-To Page containing the entire Kusto query, Acis Command or ASC action._

Don't Remove This Text: Results of the Diagnosis should be attached in the Case notes/ICM.

# **Questions to Ask the Customer**
_If there is no diagnostic information available or to further drill into the issue, list down any questions you can ask the customer.-

# **Cause**
_**Why** does the issue occur? Include both internal and external details about the cause, if possible._

# **Mitigation or Resolution**
_How can I fix this issue? Add more details on how to fix this issue once it has been identified._
- _This should be a short step by step guide.
- _This section can include Acis commands or scripts/ adhoc steps to perform resolution operations_
- _Create a script file if possible and place a link to the script file (parameterize the script to take in user specific inputs.)_
- _For inline scripts, please give entire script and don't give instructions_
- _Put a link to a How-To Page that contains the above for common steps_

# **Root Cause to be shared with Customer**
_**Why** does the issue occur? If applicable, list a short root cause that can be shared with customer.Include both internal and external details about the cause, if possible_

# **Related Information**
_Where can I find more information about this issue? Add links to related content here._
_This could be links to other TSGs, ICMs, AVA threads, Bugs, Known Issues._
_If there is a Public Documentation about this issue, link that here too and make sure you also update the public doc._

# **Tags or Prompts**
_Add common tags or prompts statements that can improve the searchability and copilot recommendation of this TSG._
(E.g.: This TSG helps answer _<prompt>_)
`
