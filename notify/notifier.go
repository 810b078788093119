// Package notify provides the fire-and-forget notification collaborator.
// The engine publishes orchestration events opportunistically; a failed
// publish never fails the operation that produced it, so Publish has no
// error return and implementations swallow and log their own failures.
package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/BaSui01/conductor/types"
)

// Event types published by the engine.
const (
	EventWorkflowStarted         = "workflow.started"
	EventWorkflowCompleted       = "workflow.completed"
	EventWorkflowCancelled       = "workflow.cancelled"
	EventStepCompleted           = "workflow.step.completed"
	EventStepFailed              = "workflow.step.failed"
	EventAgentHandoff            = "agent.handoff"
	EventApprovalRequested       = "approval.requested"
	EventApprovalResolved        = "approval.resolved"
	EventApprovalReminder        = "approval.reminder"
	EventApprovalTimedOut        = "approval.timed_out"
	EventCheckpointCreated       = "checkpoint.created"
	EventCheckpointRestored      = "checkpoint.restored"
	EventDecisionConflict        = "decision.conflict.detected"
	EventDecisionApproved        = "decision.approved"
	EventDecisionChangesRequired = "decision.changes_requested"
	EventInputConflict           = "input.conflict.detected"
)

// Notifier publishes orchestration events to interested consumers.
type Notifier interface {
	Publish(ctx context.Context, eventType string, payload types.Document)
}

// Nop discards every event.
type Nop struct{}

// NewNop creates a no-op notifier.
func NewNop() Nop { return Nop{} }

// Publish implements Notifier.
func (Nop) Publish(context.Context, string, types.Document) {}

// Logger publishes events to the process log, rate limited so a hot
// loop cannot flood the log output.
type Logger struct {
	logger  *zap.Logger
	limiter *rate.Limiter
}

// NewLogger creates a log-backed notifier. An eventsPerSecond of 0
// disables rate limiting.
func NewLogger(logger *zap.Logger, eventsPerSecond float64) *Logger {
	if logger == nil {
		logger = zap.NewNop()
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if eventsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(eventsPerSecond), int(eventsPerSecond)+1)
	}
	return &Logger{
		logger:  logger.With(zap.String("component", "notifier")),
		limiter: limiter,
	}
}

// Publish implements Notifier.
func (l *Logger) Publish(_ context.Context, eventType string, payload types.Document) {
	if !l.limiter.Allow() {
		return
	}
	l.logger.Info("event published",
		zap.String("event_type", eventType),
		zap.String("payload", payload.String()),
	)
}

// Redis publishes events on a Redis pub/sub channel so out-of-process
// consumers (the push hub, schedulers) can react.
type Redis struct {
	client  *redis.Client
	channel string
	logger  *zap.Logger
}

// NewRedis creates a redis-backed notifier publishing to channel.
func NewRedis(client *redis.Client, channel string, logger *zap.Logger) *Redis {
	if logger == nil {
		logger = zap.NewNop()
	}
	if channel == "" {
		channel = "conductor:events"
	}
	return &Redis{
		client:  client,
		channel: channel,
		logger:  logger.With(zap.String("component", "redis_notifier")),
	}
}

type envelope struct {
	EventType string         `json:"eventType"`
	Payload   types.Document `json:"payload"`
	Timestamp time.Time      `json:"timestamp"`
}

// Publish implements Notifier. Publish errors are logged and dropped.
func (r *Redis) Publish(ctx context.Context, eventType string, payload types.Document) {
	raw, err := json.Marshal(envelope{
		EventType: eventType,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		r.logger.Warn("encode event failed", zap.String("event_type", eventType), zap.Error(err))
		return
	}
	if err := r.client.Publish(ctx, r.channel, raw).Err(); err != nil {
		r.logger.Warn("publish event failed", zap.String("event_type", eventType), zap.Error(err))
	}
}
