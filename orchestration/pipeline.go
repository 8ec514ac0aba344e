package orchestration

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/richinex/tsgpipe/document"
	"github.com/richinex/tsgpipe/failure"
	"github.com/richinex/tsgpipe/llm"
	"github.com/richinex/tsgpipe/stage"
	"github.com/richinex/tsgpipe/storage"
	"github.com/richinex/tsgpipe/stream"
)

// plan describes what a run should do.
type plan struct {
	images   []llm.Image
	followUp bool
	answers  string
	skip     bool
}

// execution is the state of one run. It is owned by the run goroutine.
type execution struct {
	o     *Orchestrator
	run   *Run
	sess  *storage.Session
	plan  plan
	stats *stageStats
	log   *zap.Logger

	target State // settled state on success
	result PipelineResult
	err    error
}

func (x *execution) emit(t stream.EventType, st stage.Stage, data map[string]any) {
	x.run.emit(stream.NewEvent(t, st.String(), data))
}

func (x *execution) checkpoint() error {
	if x.run.cancel.Cancelled() {
		return failure.ErrCancelled
	}
	return nil
}

// advance moves the session to next and persists it.
func (x *execution) advance(ctx context.Context, next State) error {
	if err := transition(State(x.sess.State), next); err != nil {
		return err
	}
	x.sess.State = string(next)
	x.sess.UpdatedAt = x.o.now()
	if err := x.o.store.Save(ctx, x.sess); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

func (x *execution) runStage(ctx context.Context, req stage.Request) (stage.Result, error) {
	if err := x.checkpoint(); err != nil {
		return stage.Result{}, err
	}
	res, err := x.o.runner.Run(ctx, req, x.run.cancel, x.run.emit)
	if err != nil {
		return stage.Result{}, err
	}
	x.stats.record(res)
	return res, nil
}

func (x *execution) execute(ctx context.Context) (PipelineResult, error) {
	x.log.Info("run started", zap.Bool("follow_up", x.plan.followUp), zap.Bool("skip", x.plan.skip))
	x.emit(stream.EventRunStarted, "", map[string]any{
		"run_id":     x.run.ID,
		"session_id": x.sess.ID,
		"follow_up":  x.plan.followUp,
	})

	if x.plan.skip {
		return x.forceComplete(), nil
	}

	text := x.sess.Notes
	if x.plan.followUp {
		text = x.plan.answers
	}
	if err := x.preflight(ctx, text); err != nil {
		return PipelineResult{}, err
	}

	research, err := x.research(ctx)
	if err != nil {
		return PipelineResult{}, err
	}

	raw, err := x.write(ctx, research)
	if err != nil {
		return PipelineResult{}, err
	}

	if err := x.checkpoint(); err != nil {
		return PipelineResult{}, err
	}
	if err := x.advance(ctx, StateReview); err != nil {
		return PipelineResult{}, err
	}
	x.emit(stream.EventStageStart, stage.StageReview, map[string]any{"message": "Review: Validating structure and accuracy..."})
	out, err := x.review(ctx, raw, research)
	if err != nil {
		return PipelineResult{}, err
	}

	return x.finalize(out), nil
}

// preflight blocks the run when the gate finds personal information or
// cannot vouch for the text.
func (x *execution) preflight(ctx context.Context, text string) error {
	res := x.o.CheckForPII(ctx, text)
	if !res.Blocked() {
		return nil
	}

	var c failure.Classification
	var err error
	if res.Error != "" {
		c = failure.Classification{
			Kind:        failure.KindContentGateService,
			UserMessage: res.Error,
			Hint:        res.Hint,
		}
		err = &failure.Error{Stage: "gate", Classification: c, Err: errors.New(res.Error)}
	} else {
		c = failure.Classification{
			Kind:        failure.KindInvalidInput,
			UserMessage: fmt.Sprintf("Personal information detected in input (%d finding(s)).", len(res.Findings)),
			Hint:        "Remove or redact the highlighted items, or use the redacted text, and try again.",
		}
		err = fmt.Errorf("%w: %d finding(s)", failure.ErrPIIDetected, len(res.Findings))
	}

	x.log.Warn("content gate blocked run", zap.Bool("pii_detected", res.PIIDetected), zap.String("gate_error", res.Error))
	ev := stream.ErrorEvent("", c, true)
	ev.Data["pii_detected"] = res.PIIDetected
	ev.Data["findings"] = res.Findings
	ev.Data["redacted_text"] = res.RedactedText
	if res.PIIDetected {
		ev.Data["error_type"] = "pii_detected"
	}
	x.run.emit(ev)
	return err
}

func (x *execution) research(ctx context.Context) (string, error) {
	if x.plan.followUp {
		research := x.sess.Research
		if research == "" {
			research = document.PriorResearchUnavailable
		}
		x.emit(stream.EventStageComplete, stage.StageResearch, map[string]any{
			"message": "Research: Using previous research (follow-up)",
			"skipped": true,
		})
		return research, nil
	}

	if err := x.checkpoint(); err != nil {
		return "", err
	}
	if err := x.advance(ctx, StateResearch); err != nil {
		return "", err
	}
	x.emit(stream.EventStageStart, stage.StageResearch, map[string]any{"message": "Research: Gathering documentation and references..."})

	res, err := x.runStage(ctx, stage.Request{
		Stage:        stage.StageResearch,
		Instructions: document.Instructions(stage.StageResearch.String()),
		Prompt:       document.ResearchPrompt(x.sess.Notes, len(x.plan.images)),
		Images:       x.plan.images,
		UseTools:     true,
	})
	if err != nil {
		return "", err
	}

	research := document.ExtractResearch(res.Output)
	x.sess.Research = research
	x.emit(stream.EventStageComplete, stage.StageResearch, map[string]any{
		"message":     "Research: Found documentation and references",
		"has_content": research != "",
		"duration_ms": res.Duration.Milliseconds(),
	})
	return research, nil
}

func (x *execution) write(ctx context.Context, research string) (string, error) {
	if err := x.checkpoint(); err != nil {
		return "", err
	}
	if err := x.advance(ctx, StateWrite); err != nil {
		return "", err
	}
	x.emit(stream.EventStageStart, stage.StageWrite, map[string]any{"message": "Write: Drafting from notes and research..."})

	in := document.WriterInput{Notes: x.sess.Notes, Research: research}
	if x.plan.followUp {
		in.PriorDraft = x.sess.Draft
		in.Answers = x.plan.answers
		in.PriorReview = x.sess.Review
	}
	res, err := x.runStage(ctx, stage.Request{
		Stage:        stage.StageWrite,
		Instructions: document.Instructions(stage.StageWrite.String()),
		Prompt:       document.WriterPrompt(in),
	})
	if err != nil {
		return "", err
	}

	x.sess.ConversationID = res.ConversationID
	x.emit(stream.EventStageComplete, stage.StageWrite, map[string]any{
		"message":     "Write: Draft complete",
		"duration_ms": res.Duration.Milliseconds(),
	})
	return res.Output, nil
}

// reviewOutcome is the accepted draft and the verdict that accepted it.
type reviewOutcome struct {
	raw      string
	review   *document.Review
	warnings []string
	retries  int
}

// review validates and reviews raw until a structurally valid draft is
// accepted or the structural budget runs out.
func (x *execution) review(ctx context.Context, raw, research string) (reviewOutcome, error) {
	maxRetries := x.o.cfg.StructureMaxRetries
	in := document.ReviewInput{Research: research, Notes: x.sess.Notes}
	if x.plan.followUp {
		in.PriorReview = x.sess.Review
		in.Answers = x.plan.answers
	}

	var issues []string
	for retry := 0; retry <= maxRetries; retry++ {
		if err := x.checkpoint(); err != nil {
			return reviewOutcome{}, err
		}

		v := document.Validate(raw)
		if !v.Valid {
			issues = v.Issues
			if retry == maxRetries {
				break
			}
			x.log.Info("regenerating invalid draft", zap.Int("retry", retry+1), zap.Strings("issues", v.Issues))
			x.emit(stream.EventStatus, stage.StageReview, map[string]any{
				"message": fmt.Sprintf("Review: Fixing structure issues (attempt %d)...", retry+1),
				"issues":  v.Issues,
			})
			res, err := x.runStage(ctx, stage.Request{
				Stage:          stage.StageWrite,
				Instructions:   document.Instructions(stage.StageWrite.String()),
				Prompt:         document.FixPrompt(v.Issues, x.sess.Notes, research, raw),
				ConversationID: x.sess.ConversationID,
			})
			if err != nil {
				return reviewOutcome{}, err
			}
			raw = res.Output
			continue
		}

		in.Draft = v.Content
		res, err := x.runStage(ctx, stage.Request{
			Stage:        stage.StageReview,
			Instructions: document.Instructions(stage.StageReview.String()),
			Prompt:       document.ReviewPrompt(in),
		})
		if err != nil {
			return reviewOutcome{}, err
		}

		review, perr := document.ParseReview(res.Output)
		if perr != nil {
			x.log.Warn("review response not parseable", zap.Error(perr))
			return reviewOutcome{
				raw:      raw,
				warnings: []string{"The review response could not be parsed; the draft was accepted without review."},
				retries:  retry,
			}, nil
		}

		switch {
		case review.Approved:
			return reviewOutcome{raw: raw, review: review, warnings: review.Warnings(), retries: retry}, nil

		case review.CorrectedTSG != "":
			corrected := document.Validate(review.CorrectedTSG)
			if corrected.Valid {
				x.emit(stream.EventStatus, stage.StageReview, map[string]any{
					"message": "Review: Applied the reviewer's corrected draft",
					"issues":  append(append([]string{}, review.StructureIssues...), review.AccuracyIssues...),
				})
				return reviewOutcome{raw: review.CorrectedTSG, review: review, warnings: review.Warnings(), retries: retry}, nil
			}
			issues = corrected.Issues
			x.emit(stream.EventStatus, stage.StageReview, map[string]any{
				"message": fmt.Sprintf("Review: Corrected draft is still invalid, reviewing again (attempt %d)...", retry+1),
				"issues":  corrected.Issues,
			})

		default:
			x.emit(stream.EventStatus, stage.StageReview, map[string]any{
				"message": "Review: Found issues (included as warnings)",
				"issues":  review.Warnings(),
			})
			return reviewOutcome{raw: raw, review: review, warnings: review.Warnings(), retries: retry}, nil
		}
	}

	return reviewOutcome{}, &failure.Error{
		Stage:          stage.StageReview.String(),
		Classification: failure.Classify(stage.StageReview.String(), &failure.StructuralError{Issues: issues}),
		Attempts:       maxRetries + 1,
		Err:            &failure.StructuralError{Issues: issues},
	}
}

// finalize parses the accepted draft into the session and builds the result.
func (x *execution) finalize(out reviewOutcome) PipelineResult {
	draft, _ := document.Parse(out.raw)

	x.sess.PriorReview = x.sess.Review
	x.sess.Review = out.review
	x.sess.Draft = draft.Content
	x.sess.Questions = draft.Questions
	x.sess.Missing = draft.Missing

	x.target = StateComplete
	if !draft.Complete() {
		x.target = StateAwaitingAnswers
	}

	approved := out.review != nil && out.review.Approved
	x.emit(stream.EventStageComplete, stage.StageReview, map[string]any{
		"message":  "Review complete",
		"approved": approved,
		"retries":  out.retries,
	})

	return PipelineResult{
		Document:  draft.Finalize(),
		Questions: draft.Questions,
		Missing:   draft.Missing,
		Warnings:  out.warnings,
		Complete:  draft.Complete(),
		Approved:  approved,
		Retries:   out.retries,
	}
}

// forceComplete ends the iteration with whatever the session holds.
func (x *execution) forceComplete() PipelineResult {
	x.target = StateComplete
	d := document.Draft{Content: x.sess.Draft}
	return PipelineResult{
		Document: d.Finalize(),
		Missing:  x.sess.Missing,
		Warnings: x.sess.Review.Warnings(),
		Complete: true,
		Approved: x.sess.Review != nil && x.sess.Review.Approved,
	}
}

// conclude persists the session and emits the terminal events. Exactly one
// of result+done, error+done or cancelled ends the feed.
func (x *execution) conclude(ctx context.Context, res PipelineResult, err error) {
	if !errors.Is(err, failure.ErrCancelled) && !x.run.settle() {
		err = failure.ErrCancelled
	}

	x.sess.ActiveRunID = ""
	x.sess.UpdatedAt = x.o.now()

	switch {
	case errors.Is(err, failure.ErrCancelled):
		if inFlight(State(x.sess.State)) {
			x.sess.State = string(StateCancelled)
		}
		x.save(ctx)
		x.log.Info("run cancelled", zap.String("stats", x.stats.summary()))
		x.run.send(stream.NewEvent(stream.EventCancelled, "", map[string]any{"message": "Run cancelled"}))
		x.err = failure.ErrCancelled

	case err != nil:
		if inFlight(State(x.sess.State)) {
			x.sess.State = string(StateFailed)
		}
		x.save(ctx)
		x.log.Warn("run failed", zap.Error(err), zap.String("stats", x.stats.summary()))
		if !x.run.fatalSent {
			x.run.send(fatalEvent(err))
		}
		x.run.send(stream.NewEvent(stream.EventDone, "", nil))
		x.err = err

	default:
		if terr := transition(State(x.sess.State), x.target); terr != nil {
			x.log.Error("unexpected final transition", zap.Error(terr))
		}
		x.sess.State = string(x.target)
		x.save(ctx)

		res.RunID = x.run.ID
		res.SessionID = x.sess.ID
		res.ConversationID = x.sess.ConversationID
		res.State = x.target
		res.StageStats = x.stats.snapshot()
		x.log.Info("run finished",
			zap.String("state", string(x.target)),
			zap.Int("missing", len(res.Missing)),
			zap.String("stats", x.stats.summary()),
		)
		x.run.send(stream.NewEvent(stream.EventResult, "", res.eventData()))
		x.run.send(stream.NewEvent(stream.EventDone, "", nil))
		x.result = res
	}
}

func (x *execution) save(ctx context.Context) {
	if err := x.o.store.Save(ctx, x.sess); err != nil {
		x.log.Warn("failed to save session", zap.Error(err))
	}
}

// fatalEvent describes a terminal error that no stage has reported yet.
func fatalEvent(err error) stream.Event {
	var fe *failure.Error
	var c failure.Classification
	st := ""
	if errors.As(err, &fe) {
		c = fe.Classification
		st = fe.Stage
	} else {
		c = failure.Classify("", err)
	}
	ev := stream.ErrorEvent(st, c, true)
	var se *failure.StructuralError
	if errors.As(err, &se) {
		ev.Data["issues"] = se.Issues
	}
	return ev
}
