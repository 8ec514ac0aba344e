// Package agent runs one stage request against an LLM provider and reports
// progress as stream.ProviderEvents.
//
// Information Hiding:
// - Tool-call loop internals hidden
// - Conversation history persistence hidden
// - Provider error extraction hidden behind the failed event
package agent

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/richinex/tsgpipe/internal/logging"
	"github.com/richinex/tsgpipe/llm"
	"github.com/richinex/tsgpipe/stage"
	"github.com/richinex/tsgpipe/storage"
	"github.com/richinex/tsgpipe/stream"
	"github.com/richinex/tsgpipe/tools"
)

// ConversationPrefix starts every conversation handle the service mints.
const ConversationPrefix = "conv_"

// Request is one call into the agent.
type Request struct {
	Stage          string
	Instructions   string
	Prompt         string
	Images         []llm.Image
	ConversationID string
	UseTools       bool
}

// Service is an in-process agent backed by an llm.Provider.
type Service struct {
	provider llm.Provider
	registry *tools.Registry
	executor *tools.Executor
	store    storage.ConversationStorage
	logger   *zap.Logger
	config   Config
}

// NewSource implements stage.SourceFactory.
func (s *Service) NewSource(req stage.Request) stream.Source {
	r := Request{
		Stage:          req.Stage.String(),
		Instructions:   req.Instructions,
		Prompt:         req.Prompt,
		Images:         req.Images,
		ConversationID: req.ConversationID,
		UseTools:       req.UseTools,
	}
	return stream.SourceFunc(func(ctx context.Context, events chan<- stream.ProviderEvent) error {
		return s.Stream(ctx, r, events)
	})
}

// Stream runs the request to completion, pushing provider events.
func (s *Service) Stream(ctx context.Context, req Request, events chan<- stream.ProviderEvent) error {
	log := s.logger.With(zap.String(logging.FieldStage, req.Stage), zap.String("provider", s.provider.Name()))

	convID := req.ConversationID
	var history []llm.ChatMessage
	if convID == "" {
		convID = ConversationPrefix + uuid.NewString()
	} else {
		loaded, err := s.store.Load(ctx, convID)
		if err != nil {
			return fmt.Errorf("failed to load conversation %s: %w", convID, err)
		}
		history = loaded
	}

	if err := stream.Send(ctx, events, stream.ProviderEvent{Type: stream.ProviderCreated, ConversationID: convID}); err != nil {
		return err
	}

	messages := history
	if len(messages) == 0 && req.Instructions != "" {
		messages = append(messages, llm.SystemMessage(req.Instructions))
	}
	messages = append(messages, llm.UserMessage(req.Prompt, req.Images...))

	var defs []llm.ToolDefinition
	if req.UseTools && s.registry.Len() > 0 {
		defs = s.registry.Definitions()
	}

	var usage llm.TokenUsage
	var final llm.LLMResponse
	for round := 0; ; round++ {
		resp, err := s.chat(ctx, messages, defs, events)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Warn("provider call failed", zap.Int("round", round), zap.Error(err))
			return s.fail(ctx, events, err)
		}
		usage = usage.Add(resp.Usage)
		messages = append(messages, llm.ChatMessage{Role: "assistant", Content: resp.Content, ToolCalls: resp.ToolCalls})
		final = resp

		if len(resp.ToolCalls) == 0 {
			break
		}
		log.Debug("tool round", zap.Int("round", round), zap.Int("calls", len(resp.ToolCalls)))

		for _, call := range resp.ToolCalls {
			result, err := s.runTool(ctx, call, events)
			if err != nil {
				return err
			}
			messages = append(messages, llm.ToolMessage(call.ID, call.Name, result.Text()))
		}

		if round+1 >= s.config.MaxToolRounds {
			defs = nil
		}
	}

	if err := s.store.Save(ctx, convID, messages); err != nil {
		log.Warn("failed to save conversation", zap.String("conversation_id", convID), zap.Error(err))
	}

	return stream.Send(ctx, events, stream.ProviderEvent{
		Type:  stream.ProviderCompleted,
		Text:  final.Content,
		Usage: usage,
	})
}

// chat makes one provider call, forwarding text chunks as output deltas.
func (s *Service) chat(ctx context.Context, messages []llm.ChatMessage, defs []llm.ToolDefinition, events chan<- stream.ProviderEvent) (llm.LLMResponse, error) {
	chunks := make(chan string, 64)
	forwarded := make(chan struct{})
	go func() {
		defer close(forwarded)
		for c := range chunks {
			if err := stream.Send(ctx, events, stream.ProviderEvent{Type: stream.ProviderOutputDelta, Delta: c}); err != nil {
				for range chunks {
				}
				return
			}
		}
	}()

	resp, err := s.provider.StreamChat(ctx, messages, defs, chunks)
	close(chunks)
	<-forwarded
	return resp, err
}

// runTool executes one call. Tool failures are returned to the model as
// text; only cancellation of the run aborts the request.
func (s *Service) runTool(ctx context.Context, call llm.ToolCall, events chan<- stream.ProviderEvent) (tools.ToolResult, error) {
	if err := stream.Send(ctx, events, stream.ProviderEvent{Type: stream.ProviderToolStart, ToolID: call.ID, ToolName: call.Name}); err != nil {
		return tools.ToolResult{}, err
	}

	var result tools.ToolResult
	tool, ok := s.registry.Get(call.Name)
	if !ok {
		result = tools.FailureResultf("unknown tool %q", call.Name)
	} else {
		r, err := s.executor.ExecuteWithTimeout(ctx, tool, call.Arguments, s.config.ToolTimeout)
		switch {
		case err != nil && ctx.Err() != nil:
			return tools.ToolResult{}, ctx.Err()
		case err != nil:
			r = tools.FailureResult(err)
		}
		result = r
	}

	done := stream.ProviderEvent{Type: stream.ProviderToolComplete, ToolID: call.ID, ToolName: call.Name}
	if result.Error != nil {
		done.ToolErr = result.Error.Error()
	}
	if err := stream.Send(ctx, events, done); err != nil {
		return tools.ToolResult{}, err
	}
	return result, nil
}

// fail reports a provider error. API errors become a failed event so their
// structured fields survive; anything else is returned as is and keeps its
// type for classification.
func (s *Service) fail(ctx context.Context, events chan<- stream.ProviderEvent, err error) error {
	apiErr, ok := llm.AsAPIError(err)
	if !ok {
		return err
	}
	ev := stream.ProviderEvent{
		Type:    stream.ProviderFailed,
		Code:    apiErr.Code,
		Message: apiErr.Message,
		Param:   apiErr.Param,
		Status:  apiErr.Status,
	}
	if sendErr := stream.Send(ctx, events, ev); sendErr != nil {
		return errors.Join(err, sendErr)
	}
	return err
}

var _ stage.SourceFactory = (*Service)(nil)
