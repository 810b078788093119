package handoff

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/conductor/agent/registry"
	"github.com/BaSui01/conductor/internal/metrics"
	"github.com/BaSui01/conductor/sharedctx"
	"github.com/BaSui01/conductor/store"
	"github.com/BaSui01/conductor/types"
)

// DefaultRequestTimeout bounds each messaging attempt.
const DefaultRequestTimeout = 30 * time.Second

const maxAttempts = 2 // initial attempt plus exactly one timeout retry

// Messenger performs synchronous inter-agent request/response calls.
// Each attempt runs under its own timeout window; a timed-out attempt
// is retried exactly once, while a caller-cancelled request is never
// retried.
type Messenger struct {
	router    *registry.Router
	messages  store.MessageStore
	timeout   time.Duration
	collector *metrics.Collector
	logger    *zap.Logger
}

// Option configures a Messenger.
type Option func(*Messenger)

// WithMetrics wires the Prometheus collector.
func WithMetrics(c *metrics.Collector) Option {
	return func(m *Messenger) { m.collector = c }
}

// NewMessenger creates a messenger over the given router and message
// history store. A timeout of 0 selects DefaultRequestTimeout.
func NewMessenger(router *registry.Router, messages store.MessageStore, timeout time.Duration, logger *zap.Logger, opts ...Option) *Messenger {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	m := &Messenger{
		router:   router,
		messages: messages,
		timeout:  timeout,
		logger:   logger.With(zap.String("component", "agent_messenger")),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

type attemptResult struct {
	resp *types.AgentResponse
	err  error
}

// RequestFromAgent sends a request to the target agent and waits for
// its response. The attempt sequence is an explicit state machine:
// Attempt1 -> onTimeout -> Attempt2 -> onTimeout -> Timeout failure.
// Every attempt is logged with a generated message id regardless of
// outcome; successful responses are appended to the workflow's message
// history.
func (m *Messenger) RequestFromAgent(ctx context.Context, sourceAgent, targetAgentID string, req *types.AgentRequest, sctx *sharedctx.Context, timeout time.Duration) (*types.AgentResponse, error) {
	if req == nil {
		return nil, types.NewError(types.ErrValidation, "request is required")
	}
	if timeout <= 0 {
		timeout = m.timeout
	}

	handler, err := m.router.Resolve(targetAgentID)
	if err != nil {
		return nil, types.NewErrorf(types.ErrTargetNotFound, "target agent %q is not registered", targetAgentID)
	}

	// The shared context rides along read-only. Dispatch a copy of the
	// request so the caller's payload stays untouched and the handler
	// only sees a snapshot of engine state.
	dispatch := req
	if sctx != nil {
		clone := *req
		clone.Payload = mergeContextPayload(req.Payload, sctx)
		dispatch = &clone
	}

	start := time.Now()
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		messageID := uuid.New().String()
		m.logger.Info("agent request attempt",
			zap.String("message_id", messageID),
			zap.String("source", sourceAgent),
			zap.String("target", targetAgentID),
			zap.String("request_type", req.RequestType),
			zap.Int("attempt", attempt),
		)

		resp, err := m.runAttempt(ctx, handler, dispatch, timeout)
		switch {
		case err == nil:
			m.collector.RecordAgentRequest(targetAgentID, "success", time.Since(start))
			m.recordSuccess(ctx, messageID, sourceAgent, targetAgentID, req, resp)
			return resp, nil

		case types.IsCode(err, types.ErrCancelled):
			// Cancelled by the caller: never retried.
			m.logger.Warn("agent request cancelled",
				zap.String("message_id", messageID),
				zap.String("target", targetAgentID),
			)
			m.collector.RecordAgentRequest(targetAgentID, "cancelled", time.Since(start))
			return nil, err

		case types.IsCode(err, types.ErrTimeout):
			m.logger.Warn("agent request timed out",
				zap.String("message_id", messageID),
				zap.String("target", targetAgentID),
				zap.Int("attempt", attempt),
			)
			if attempt == maxAttempts {
				m.collector.RecordAgentRequest(targetAgentID, "timeout", time.Since(start))
				return nil, types.NewErrorf(types.ErrTimeout, "agent %q did not respond within %s after %d attempts", targetAgentID, timeout, maxAttempts)
			}
			// Fresh timeout window for the single retry.

		default:
			m.logger.Warn("agent request failed",
				zap.String("message_id", messageID),
				zap.String("target", targetAgentID),
				zap.Error(err),
			)
			m.collector.RecordAgentRequest(targetAgentID, "error", time.Since(start))
			return nil, err
		}
	}
	// Unreachable: the loop always returns.
	return nil, types.NewError(types.ErrTimeout, "agent request exhausted attempts")
}

// runAttempt executes one bounded attempt. The attempt context links
// the caller's cancellation with the per-attempt deadline so the two
// outcomes stay distinguishable.
func (m *Messenger) runAttempt(ctx context.Context, handler registry.Handler, req *types.AgentRequest, timeout time.Duration) (*types.AgentResponse, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resultCh := make(chan attemptResult, 1)
	go func() {
		resp, err := handler.Execute(attemptCtx, req)
		resultCh <- attemptResult{resp: resp, err: err}
	}()

	select {
	case res := <-resultCh:
		if res.err != nil {
			// Handlers that propagate their context error race the
			// Done branch below; normalize both paths.
			switch {
			case ctx.Err() != nil:
				return nil, types.NewError(types.ErrCancelled, "request cancelled by caller").WithCause(ctx.Err())
			case errors.Is(res.err, context.DeadlineExceeded):
				return nil, types.NewError(types.ErrTimeout, "attempt deadline exceeded").WithRetryable(true)
			}
			return nil, res.err
		}
		if res.resp == nil {
			return nil, types.NewError(types.ErrValidation, "agent returned no response")
		}
		return res.resp, nil

	case <-attemptCtx.Done():
		if ctx.Err() != nil {
			return nil, types.NewError(types.ErrCancelled, "request cancelled by caller").WithCause(ctx.Err())
		}
		return nil, types.NewError(types.ErrTimeout, "attempt deadline exceeded").WithRetryable(true)
	}
}

func (m *Messenger) recordSuccess(ctx context.Context, messageID, sourceAgent, targetAgentID string, req *types.AgentRequest, resp *types.AgentResponse) {
	msg := &types.AgentMessage{
		ID:                 messageID,
		WorkflowInstanceID: req.WorkflowInstanceID,
		SourceAgent:        sourceAgent,
		TargetAgent:        targetAgentID,
		RequestType:        req.RequestType,
		Response:           resp.Output,
		Timestamp:          time.Now().UTC(),
	}
	if err := m.messages.AddMessage(ctx, msg); err != nil {
		// History is best-effort on the success path; the response
		// already belongs to the caller.
		m.logger.Warn("persist message history failed",
			zap.String("message_id", messageID),
			zap.Error(err),
		)
	}
}

// GetMessageHistory returns the workflow's successful exchanges in
// insertion order. Histories are isolated per workflow instance.
func (m *Messenger) GetMessageHistory(ctx context.Context, workflowID string) ([]*types.AgentMessage, error) {
	msgs, err := m.messages.ListMessages(ctx, workflowID)
	if err != nil {
		return nil, types.NewError(types.ErrStoreError, "list messages").WithCause(err)
	}
	return msgs, nil
}

func mergeContextPayload(payload types.Document, sctx *sharedctx.Context) types.Document {
	out := payload.Clone()
	if out == nil {
		out = types.Document{}
	}
	outputs := make(map[string]any, len(sctx.StepOutputs))
	for id, doc := range sctx.StepOutputs {
		outputs[id] = map[string]any(doc.Clone())
	}
	out["sharedContext"] = map[string]any{
		"version":         sctx.Version,
		"stepOutputs":     outputs,
		"userPreferences": sctx.UserPreferences,
	}
	return out
}
