package stage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/richinex/tsgpipe/failure"
	"github.com/richinex/tsgpipe/internal/logging"
	"github.com/richinex/tsgpipe/stream"
)

// Budgets holds the retry budget per stage. Attempts are budget+1.
type Budgets struct {
	Research int
	Write    int
	Review   int
}

// DefaultBudgets returns the production retry budgets.
func DefaultBudgets() Budgets {
	return Budgets{Research: 3, Write: 2, Review: 2}
}

// For returns the retry budget for s.
func (b Budgets) For(s Stage) int {
	switch s {
	case StageResearch:
		return b.Research
	case StageWrite:
		return b.Write
	case StageReview:
		return b.Review
	}
	return 0
}

// RetryConfig controls the backoff schedule.
type RetryConfig struct {
	Budgets       Budgets
	BackoffBase   time.Duration
	BackoffMax    time.Duration
	RateLimitBase time.Duration
}

// DefaultRetryConfig returns production retry settings.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		Budgets:       DefaultBudgets(),
		BackoffBase:   2 * time.Second,
		BackoffMax:    60 * time.Second,
		RateLimitBase: 30 * time.Second,
	}
}

// Attempter runs one attempt of a request.
type Attempter interface {
	Execute(ctx context.Context, req Request, cancel *stream.Canceller, emit func(stream.Event)) (Result, error)
}

// Retrier retries retryable stage failures with capped exponential backoff.
type Retrier struct {
	exec   Attempter
	cfg    RetryConfig
	sleep  func(ctx context.Context, d time.Duration) error
	logger *zap.Logger
}

// NewRetrier creates a retrier around exec. A nil logger disables logging.
func NewRetrier(exec Attempter, cfg RetryConfig, logger *zap.Logger) *Retrier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Retrier{exec: exec, cfg: cfg, sleep: sleepContext, logger: logger}
}

// WithSleep replaces the wait between attempts.
func (r *Retrier) WithSleep(sleep func(ctx context.Context, d time.Duration) error) *Retrier {
	r.sleep = sleep
	return r
}

// Backoff returns the wait before retry n (n >= 1) for a failure c.
func (r *Retrier) Backoff(n int, c failure.Classification) time.Duration {
	base := r.cfg.BackoffBase
	if c.Kind == failure.KindRateLimit && r.cfg.RateLimitBase > 0 {
		base = r.cfg.RateLimitBase
	}
	limit := r.cfg.BackoffMax
	if limit < base {
		limit = base
	}

	d := base
	for i := 1; i < n; i++ {
		if d >= limit/2 {
			return limit
		}
		d *= 2
	}
	if d > limit {
		d = limit
	}
	return d
}

// Run executes req until it succeeds, fails terminally, exhausts its budget
// or is cancelled. Terminal failures emit exactly one fatal error event.
// Cancellation returns failure.ErrCancelled without emitting anything.
func (r *Retrier) Run(ctx context.Context, req Request, cancel *stream.Canceller, emit func(stream.Event)) (Result, error) {
	maxAttempts := r.cfg.Budgets.For(req.Stage) + 1
	log := r.logger.With(zap.String(logging.FieldStage, req.Stage.String()))

	for n := 1; ; n++ {
		if cancel.Cancelled() {
			return Result{}, failure.ErrCancelled
		}

		req.Attempt = Attempt{N: n, Max: maxAttempts, Started: time.Now()}
		res, err := r.exec.Execute(ctx, req, cancel, emit)
		if err == nil {
			res.Attempts = n
			return res, nil
		}
		if errors.Is(err, failure.ErrCancelled) || cancel.Cancelled() {
			return Result{}, failure.ErrCancelled
		}

		fe := asStageError(req.Stage, n, err)
		c := fe.Classification
		if !c.Retryable || n >= maxAttempts {
			log.Warn("stage failed",
				zap.Int(logging.FieldAttempt, n),
				zap.String("kind", string(c.Kind)),
				zap.Bool("retryable", c.Retryable),
				zap.Error(fe.Err),
			)
			emit(stream.ErrorEvent(req.Stage.String(), c, true))
			return Result{}, fe
		}

		wait := r.Backoff(n, c)
		log.Info("retrying stage",
			zap.Int(logging.FieldAttempt, n),
			zap.Duration("wait", wait),
			zap.String("kind", string(c.Kind)),
		)
		emit(stream.NewEvent(stream.EventProgress, req.Stage.String(), map[string]any{
			"message": fmt.Sprintf("%s Waiting %ds, retrying (attempt %d/%d)...",
				withStage(req.Stage, c.UserMessage), int(wait.Seconds()), n+1, maxAttempts),
			"wait_seconds": int(wait.Seconds()),
			"attempt":      n + 1,
			"max_attempts": maxAttempts,
			"retryable":    true,
		}))

		if err := r.wait(ctx, cancel, wait); err != nil {
			return Result{}, err
		}
	}
}

func (r *Retrier) wait(ctx context.Context, cancel *stream.Canceller, d time.Duration) error {
	sleepCtx, stop := context.WithCancel(ctx)
	defer stop()
	go func() {
		select {
		case <-cancel.Done():
			stop()
		case <-sleepCtx.Done():
		}
	}()

	err := r.sleep(sleepCtx, d)
	if cancel.Cancelled() {
		return failure.ErrCancelled
	}
	if err != nil {
		return fmt.Errorf("retry wait interrupted: %w", err)
	}
	return nil
}

func asStageError(s Stage, n int, err error) *failure.Error {
	var fe *failure.Error
	if errors.As(err, &fe) {
		return fe
	}
	return &failure.Error{Stage: s.String(), Classification: failure.Classify(s.String(), err), Attempts: n, Err: err}
}

// withStage prefixes msg with the stage title unless the classifier already did.
func withStage(s Stage, msg string) string {
	p := s.Title() + ":"
	if len(msg) >= len(p) && msg[:len(p)] == p {
		return msg
	}
	return p + " " + msg
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
