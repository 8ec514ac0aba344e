package stage

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/richinex/tsgpipe/failure"
	"github.com/richinex/tsgpipe/internal/logging"
	"github.com/richinex/tsgpipe/stream"
)

// Executor runs a single attempt of a stage.
type Executor struct {
	factory    SourceFactory
	translator *stream.Translator
	logger     *zap.Logger
}

// NewExecutor creates an executor. A nil logger disables logging.
func NewExecutor(factory SourceFactory, cfg stream.Config, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		factory:    factory,
		translator: stream.NewTranslator(cfg, logger),
		logger:     logger,
	}
}

// Execute runs req once. Failures come back as *failure.Error.
func (e *Executor) Execute(ctx context.Context, req Request, cancel *stream.Canceller, emit func(stream.Event)) (Result, error) {
	start := time.Now()
	log := e.logger.With(
		zap.String(logging.FieldStage, req.Stage.String()),
		zap.Int(logging.FieldAttempt, req.Attempt.N),
	)

	out, err := e.translator.Run(ctx, req.Stage.String(), e.factory.NewSource(req), cancel, emit)
	elapsed := time.Since(start)
	if err != nil {
		var fe *failure.Error
		if !errors.As(err, &fe) {
			fe = &failure.Error{Stage: req.Stage.String(), Classification: failure.Classify(req.Stage.String(), err), Err: err}
		}
		fe.Attempts = req.Attempt.N
		log.Debug("stage attempt failed",
			zap.Duration("elapsed", elapsed),
			zap.String("kind", string(fe.Classification.Kind)),
			zap.Bool("retryable", fe.Classification.Retryable),
			zap.Error(err),
		)
		return Result{}, fe
	}

	log.Debug("stage attempt completed",
		zap.Duration("elapsed", elapsed),
		zap.Int("chars", len(out.Text)),
		zap.Int("events", out.Events),
	)

	conversationID := out.ConversationID
	if conversationID == "" {
		conversationID = req.ConversationID
	}
	return Result{
		Stage:          req.Stage,
		Output:         out.Text,
		Usage:          out.Usage,
		Duration:       elapsed,
		ConversationID: conversationID,
		Attempts:       req.Attempt.N,
	}, nil
}
