package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/richinex/tsgpipe/gate"
	"github.com/richinex/tsgpipe/orchestration"
	"github.com/richinex/tsgpipe/stage"
	"github.com/richinex/tsgpipe/stream"
)

// Printer renders run events, either as text or one JSON object per line.
type Printer struct {
	w       io.Writer
	json    bool
	verbose bool
}

// NewPrinter creates a printer writing to w.
func NewPrinter(w io.Writer, asJSON, verbose bool) *Printer {
	return &Printer{w: w, json: asJSON, verbose: verbose}
}

// Event prints one live event.
func (p *Printer) Event(ev stream.Event) {
	if p.json {
		p.encode(ev)
		return
	}

	switch ev.Type {
	case stream.EventKeepalive, stream.EventResult, stream.EventDone:
		return
	case stream.EventDebugInfo:
		if p.verbose {
			fmt.Fprintf(p.w, "  [debug] %s %v\n", ev.Stage, ev.Data)
		}
		return
	case stream.EventRunStarted:
		fmt.Fprintf(p.w, "Run %s (session %v)\n", ev.RunID, ev.Data["session_id"])
		return
	case stream.EventStageStart:
		fmt.Fprintf(p.w, "\n== %s\n", message(ev))
		return
	case stream.EventError:
		fmt.Fprintf(p.w, "Error: %s\n", message(ev))
		if hint, _ := ev.Data["hint"].(string); hint != "" {
			fmt.Fprintf(p.w, "  Hint: %s\n", hint)
		}
		return
	case stream.EventCancelled:
		fmt.Fprintf(p.w, "\n%s\n", message(ev))
		return
	}
	fmt.Fprintf(p.w, "  %s\n", message(ev))
}

// Result prints the outcome of a finished run.
func (p *Printer) Result(res orchestration.PipelineResult) {
	if p.json {
		return
	}
	fmt.Fprintln(p.w)
	fmt.Fprintf(p.w, "Session: %s\n", res.SessionID)
	fmt.Fprintf(p.w, "State:   %s\n", res.State)

	for _, w := range res.Warnings {
		fmt.Fprintf(p.w, "Warning: %s\n", w)
	}

	if len(res.Questions) > 0 {
		fmt.Fprintln(p.w, "\nOpen questions:")
		for i, q := range res.Questions {
			fmt.Fprintf(p.w, "  %d. %s\n", i+1, q.Text)
		}
		fmt.Fprintf(p.w, "\nAnswer with: tsgpipe answer --session %s answers.txt\n", res.SessionID)
	}

	printStageStats(p.w, res)
}

// PII prints a gate verdict.
func (p *Printer) PII(res gate.Result) {
	if p.json {
		p.encode(res)
		return
	}
	switch {
	case res.Error != "":
		fmt.Fprintf(p.w, "Error: %s\n", res.Error)
		if res.Hint != "" {
			fmt.Fprintf(p.w, "  Hint: %s\n", res.Hint)
		}
	case res.PIIDetected:
		fmt.Fprintf(p.w, "PII detected (%d finding(s)):\n", len(res.Findings))
		for _, f := range res.Findings {
			fmt.Fprintf(p.w, "  %-24s %.2f  %q at %d\n", f.Category, f.Confidence, f.Text, f.Offset)
		}
		fmt.Fprintf(p.w, "\nRedacted:\n%s\n", res.RedactedText)
	default:
		fmt.Fprintln(p.w, "No PII detected.")
	}
}

func (p *Printer) encode(v any) {
	enc := json.NewEncoder(p.w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

func message(ev stream.Event) string {
	if msg, ok := ev.Data["message"].(string); ok && msg != "" {
		return msg
	}
	return string(ev.Type)
}

func printStageStats(w io.Writer, res orchestration.PipelineResult) {
	if len(res.StageStats) == 0 {
		return
	}
	fmt.Fprintln(w, "\n--- Token Usage ---")
	for _, s := range []stage.Stage{stage.StageResearch, stage.StageWrite, stage.StageReview} {
		st, ok := res.StageStats[s]
		if !ok {
			continue
		}
		fmt.Fprintf(w, "  %-9s %6d tokens  %5.1fs  %d attempt(s)\n",
			s.String()+":", st.Usage.TotalTokens, st.Duration.Seconds(), st.Attempts)
	}
	fmt.Fprintf(w, "  %-9s %6d tokens\n", "total:", res.Usage().TotalTokens)
}
