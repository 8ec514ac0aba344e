package orchestration

import (
	"fmt"
	"strings"
	"time"

	"github.com/richinex/tsgpipe/document"
	"github.com/richinex/tsgpipe/llm"
	"github.com/richinex/tsgpipe/stage"
)

// StageStat aggregates every successful call of one stage within a run.
// Calls counts stage invocations; a structural regeneration is a second
// WRITE call.
type StageStat struct {
	Duration time.Duration  `json:"duration"`
	Usage    llm.TokenUsage `json:"usage"`
	Attempts int            `json:"attempts"`
	Calls    int            `json:"calls"`
}

// PipelineResult is the final outcome of a run.
type PipelineResult struct {
	RunID          string                    `json:"run_id"`
	SessionID      string                    `json:"session_id"`
	ConversationID string                    `json:"conversation_id,omitempty"`
	State          State                     `json:"state"`
	Document       string                    `json:"document"`
	Questions      []document.Question       `json:"questions,omitempty"`
	Missing        []document.Placeholder    `json:"missing,omitempty"`
	Warnings       []string                  `json:"warnings,omitempty"`
	StageStats     map[stage.Stage]StageStat `json:"stage_stats"`
	Complete       bool                      `json:"complete"`
	Approved       bool                      `json:"approved"`
	Retries        int                       `json:"retries"`
}

// Usage sums token usage across stages.
func (r PipelineResult) Usage() llm.TokenUsage {
	var u llm.TokenUsage
	for _, s := range r.StageStats {
		u = u.Add(s.Usage)
	}
	return u
}

// eventData is the payload of the result event.
func (r PipelineResult) eventData() map[string]any {
	stats := make(map[string]any, len(r.StageStats))
	for s, st := range r.StageStats {
		stats[s.String()] = map[string]any{
			"duration_ms":   st.Duration.Milliseconds(),
			"total_tokens":  st.Usage.TotalTokens,
			"prompt_tokens": st.Usage.PromptTokens,
			"attempts":      st.Attempts,
			"calls":         st.Calls,
		}
	}
	return map[string]any{
		"run_id":          r.RunID,
		"session_id":      r.SessionID,
		"conversation_id": r.ConversationID,
		"state":           string(r.State),
		"document":        r.Document,
		"questions":       r.Questions,
		"missing":         r.Missing,
		"warnings":        r.Warnings,
		"stage_stats":     stats,
		"complete":        r.Complete,
		"approved":        r.Approved,
		"retries":         r.Retries,
	}
}

// stageStats tracks per-stage totals in first-seen order.
type stageStats struct {
	byStage map[stage.Stage]*StageStat
	order   []stage.Stage
}

func newStageStats() *stageStats {
	return &stageStats{byStage: make(map[stage.Stage]*StageStat)}
}

func (s *stageStats) record(res stage.Result) {
	st, ok := s.byStage[res.Stage]
	if !ok {
		st = &StageStat{}
		s.byStage[res.Stage] = st
		s.order = append(s.order, res.Stage)
	}
	st.Duration += res.Duration
	st.Usage = st.Usage.Add(res.Usage)
	st.Attempts += res.Attempts
	st.Calls++
}

func (s *stageStats) snapshot() map[stage.Stage]StageStat {
	out := make(map[stage.Stage]StageStat, len(s.byStage))
	for k, v := range s.byStage {
		out[k] = *v
	}
	return out
}

func (s *stageStats) summary() string {
	if len(s.order) == 0 {
		return "no stages run"
	}
	parts := make([]string, 0, len(s.order))
	for _, name := range s.order {
		st := s.byStage[name]
		parts = append(parts, fmt.Sprintf("%s %.1fs/%d tokens", name, st.Duration.Seconds(), st.Usage.TotalTokens))
	}
	return strings.Join(parts, ", ")
}
