// Package orchestration drives the research, write and review stages for a
// session and iterates with the user until nothing is missing.
//
// Information Hiding:
// - Stage state machine and review loop hidden behind RunPipeline/SubmitAnswers
// - Run registry and single-run-per-session policy hidden
// - Session persistence hidden behind storage.SessionStore

package orchestration

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/richinex/tsgpipe/failure"
	"github.com/richinex/tsgpipe/gate"
	"github.com/richinex/tsgpipe/internal/logging"
	"github.com/richinex/tsgpipe/llm"
	"github.com/richinex/tsgpipe/stage"
	"github.com/richinex/tsgpipe/storage"
)

// ActivePolicy decides what happens when a run is requested for a session
// that already has one.
type ActivePolicy int

const (
	// RejectActive fails the new request with failure.ErrRunActive.
	RejectActive ActivePolicy = iota
	// CancelActive cancels the old run and waits for it to finish.
	CancelActive
)

// Config controls the orchestrator.
type Config struct {
	// StructureMaxRetries bounds structural regenerations and re-reviews.
	StructureMaxRetries int
	OnActive            ActivePolicy
	EventBuffer         int
}

// DefaultConfig returns production settings.
func DefaultConfig() Config {
	return Config{
		StructureMaxRetries: 2,
		OnActive:            RejectActive,
		EventBuffer:         256,
	}
}

// Gate scans text for personal information before any stage runs.
type Gate interface {
	Check(ctx context.Context, text string) gate.Result
}

// Deps are the collaborators of an Orchestrator.
type Deps struct {
	Runner stage.Runner
	Gate   Gate
	Store  storage.SessionStore
	Logger *zap.Logger
	Config Config
}

// Orchestrator runs pipelines. It is safe for concurrent use; runs on
// different sessions are independent.
type Orchestrator struct {
	runner stage.Runner
	gate   Gate
	store  storage.SessionStore
	logger *zap.Logger
	cfg    Config
	now    func() time.Time

	mu     sync.Mutex
	runs   map[string]*Run // by run id
	active map[string]*Run // by session id
}

// New creates an orchestrator.
func New(deps Deps) (*Orchestrator, error) {
	if deps.Runner == nil {
		return nil, errors.New("orchestration: a stage runner is required")
	}
	if deps.Store == nil {
		return nil, errors.New("orchestration: a session store is required")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	cfg := deps.Config
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = DefaultConfig().EventBuffer
	}
	if cfg.StructureMaxRetries < 0 {
		cfg.StructureMaxRetries = 0
	}
	return &Orchestrator{
		runner: deps.Runner,
		gate:   deps.Gate,
		store:  deps.Store,
		logger: deps.Logger,
		cfg:    cfg,
		now:    time.Now,
		runs:   make(map[string]*Run),
		active: make(map[string]*Run),
	}, nil
}

// SubmitAnswersOptions modifies SubmitAnswers.
type SubmitAnswersOptions struct {
	// Skip forces the session to COMPLETE without running any stage.
	Skip bool
}

// RunPipeline starts a new session for notes and runs it asynchronously.
// Cancelling ctx cancels the run.
func (o *Orchestrator) RunPipeline(ctx context.Context, notes string, images []llm.Image) (*Run, error) {
	now := o.now()
	sess := &storage.Session{
		ID:        uuid.NewString(),
		State:     string(StateInit),
		Notes:     notes,
		CreatedAt: now,
		UpdatedAt: now,
	}

	run, err := o.acquire(ctx, sess.ID)
	if err != nil {
		return nil, err
	}
	sess.ActiveRunID = run.ID
	if err := o.store.Save(ctx, sess); err != nil {
		o.release(run)
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	o.start(ctx, run, sess, plan{images: images})
	return run, nil
}

// SubmitAnswers continues a session with the user's answers. Empty answers
// or opts.Skip force COMPLETE.
func (o *Orchestrator) SubmitAnswers(ctx context.Context, sessionID, answers string, opts SubmitAnswersOptions) (*Run, error) {
	run, err := o.acquire(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	sess, err := o.store.Get(ctx, sessionID)
	if err != nil {
		o.release(run)
		return nil, err
	}
	if !resumable(sess) {
		o.release(run)
		return nil, fmt.Errorf("session %s is in state %s and cannot take answers", sessionID, sess.State)
	}

	sess.ActiveRunID = run.ID
	sess.UpdatedAt = o.now()
	if err := o.store.Save(ctx, sess); err != nil {
		o.release(run)
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	o.start(ctx, run, sess, plan{
		followUp: true,
		answers:  answers,
		skip:     opts.Skip || answers == "",
	})
	return run, nil
}

// CancelRun requests cancellation of an active run. It returns true if the
// run was active and this call cancelled it.
func (o *Orchestrator) CancelRun(runID string) bool {
	o.mu.Lock()
	run, ok := o.runs[runID]
	o.mu.Unlock()
	if !ok {
		return false
	}
	return run.Cancel()
}

// ActiveRun returns the run currently owning sessionID, if any.
func (o *Orchestrator) ActiveRun(sessionID string) (*Run, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	run, ok := o.active[sessionID]
	return run, ok
}

// CheckForPII scans text with the content gate. Without a gate every
// check fails closed.
func (o *Orchestrator) CheckForPII(ctx context.Context, text string) gate.Result {
	if o.gate == nil {
		return gate.New(nil, gate.Options{}, o.logger).Check(ctx, text)
	}
	return o.gate.Check(ctx, text)
}

func resumable(sess *storage.Session) bool {
	switch State(sess.State) {
	case StateAwaitingAnswers, StateComplete:
		return true
	case StateFailed, StateCancelled:
		return sess.Draft != ""
	}
	return false
}

// acquire registers a new run as the owner of sessionID.
func (o *Orchestrator) acquire(ctx context.Context, sessionID string) (*Run, error) {
	for {
		o.mu.Lock()
		old, busy := o.active[sessionID]
		if !busy {
			run := newRun(uuid.NewString(), sessionID, o.cfg.EventBuffer)
			o.active[sessionID] = run
			o.runs[run.ID] = run
			o.mu.Unlock()
			return run, nil
		}
		o.mu.Unlock()

		if o.cfg.OnActive != CancelActive {
			return nil, fmt.Errorf("session %s: %w", sessionID, failure.ErrRunActive)
		}
		o.logger.Info("cancelling active run",
			zap.String(logging.FieldSessionID, sessionID),
			zap.String(logging.FieldRunID, old.ID),
		)
		old.Cancel()
		select {
		case <-old.Done():
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (o *Orchestrator) release(run *Run) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.runs, run.ID)
	if o.active[run.SessionID] == run {
		delete(o.active, run.SessionID)
	}
}

// start runs the pipeline in its own goroutine. Cancelling ctx cancels the
// run; the stages themselves only observe the run's canceller.
func (o *Orchestrator) start(ctx context.Context, run *Run, sess *storage.Session, p plan) {
	runCtx := context.WithoutCancel(ctx)
	go func() {
		select {
		case <-ctx.Done():
			run.Cancel()
		case <-run.Done():
		}
	}()

	go func() {
		log := o.logger.With(
			zap.String(logging.FieldRunID, run.ID),
			zap.String(logging.FieldSessionID, sess.ID),
		)
		x := &execution{o: o, run: run, sess: sess, plan: p, stats: newStageStats(), log: log}
		res, err := x.execute(runCtx)
		x.conclude(runCtx, res, err)
		o.release(run)
		run.finish(x.result, x.err)
	}()
}
