// Package conductor wires the multi-agent workflow orchestration engine:
// versioned shared context, checkpointing, agent registry and routing,
// handoff tracking, inter-agent messaging, human approval gating,
// decision governance, and multi-user input conflict detection.
//
// Usage:
//
//	import "github.com/BaSui01/conductor"
//
//	eng, err := conductor.New(cfg, store,
//		conductor.WithLogger(logger),
//		conductor.WithNotifier(notifier),
//	)
//	inst, err := eng.Workflows.CreateWorkflow(ctx, "doc-pipeline", ownerID)
//
// The Engine is a composition root: each subsystem is usable on its own,
// this package just assembles them from one config and one store.
package conductor

import (
	"github.com/BaSui01/conductor/agent/handoff"
	"github.com/BaSui01/conductor/agent/hitl"
	"github.com/BaSui01/conductor/agent/registry"
	"github.com/BaSui01/conductor/checkpoint"
	"github.com/BaSui01/conductor/collab"
	"github.com/BaSui01/conductor/config"
	"github.com/BaSui01/conductor/decision"
	"github.com/BaSui01/conductor/internal/metrics"
	"github.com/BaSui01/conductor/notify"
	"github.com/BaSui01/conductor/store"
	"github.com/BaSui01/conductor/types"
	"github.com/BaSui01/conductor/workflow"

	"go.uber.org/zap"
)

// Engine is the assembled orchestration engine. Subsystems are exported
// directly; there is deliberately no method forwarding layer.
type Engine struct {
	Store       store.Store
	Registry    *registry.Registry
	Router      *registry.Router
	Handoffs    *handoff.Tracker
	Messenger   *handoff.Messenger
	Gate        *hitl.Gate
	Decisions   *decision.Service
	Collab      *collab.Detector
	Checkpoints *checkpoint.Manager
	Workflows   *workflow.Executor

	cfg    *config.Config
	logger *zap.Logger
}

// Option configures the Engine under construction.
type Option func(*engineOptions)

type engineOptions struct {
	logger    *zap.Logger
	notifier  notify.Notifier
	collector *metrics.Collector
}

// WithLogger sets the engine-wide logger. Subsystems derive component
// loggers from it.
func WithLogger(l *zap.Logger) Option {
	return func(o *engineOptions) { o.logger = l }
}

// WithNotifier sets the event notifier shared by all subsystems.
func WithNotifier(n notify.Notifier) Option {
	return func(o *engineOptions) { o.notifier = n }
}

// WithMetrics wires a Prometheus collector into the subsystems that
// record engine metrics.
func WithMetrics(c *metrics.Collector) Option {
	return func(o *engineOptions) { o.collector = c }
}

// New assembles an Engine from configuration and a backing store. The
// agent catalog and workflow definitions come from cfg; handlers are
// registered on eng.Router afterwards.
func New(cfg *config.Config, st store.Store, opts ...Option) (*Engine, error) {
	if cfg == nil {
		return nil, types.NewError(types.ErrValidation, "config is required")
	}
	if st == nil {
		return nil, types.NewError(types.ErrValidation, "store is required")
	}

	o := &engineOptions{
		logger:   zap.NewNop(),
		notifier: notify.NewNop(),
	}
	for _, opt := range opts {
		opt(o)
	}

	reg := registry.NewRegistry(cfg.Agents)
	router := registry.NewRouter(reg, o.logger)
	tracker := handoff.NewTracker(st, o.notifier, o.logger)
	messenger := handoff.NewMessenger(router, st, cfg.Engine.MessageTimeout, o.logger,
		handoff.WithMetrics(o.collector),
	)

	gate := hitl.NewGate(st, o.notifier, o.logger,
		hitl.WithConfidenceThreshold(cfg.Engine.ConfidenceThreshold),
		hitl.WithReminderAfter(cfg.Engine.ApprovalReminderAfter),
		hitl.WithTimeoutAfter(cfg.Engine.ApprovalTimeoutAfter),
		hitl.WithMetrics(o.collector),
	)
	decisions := decision.NewService(st, o.notifier, o.logger,
		decision.WithMetrics(o.collector),
	)
	detector := collab.NewDetector(st, o.notifier, o.logger)
	checkpoints := checkpoint.NewManager(st, st, st, o.notifier, o.logger)

	executor := workflow.NewExecutor(st, st, cfg, router, tracker, o.notifier, o.logger,
		workflow.WithGate(gate),
		workflow.WithCheckpointManager(checkpoints),
		workflow.WithCheckpointOnCompletion(cfg.Engine.CheckpointOnStepCompletion),
		workflow.WithMetrics(o.collector),
	)

	return &Engine{
		Store:       st,
		Registry:    reg,
		Router:      router,
		Handoffs:    tracker,
		Messenger:   messenger,
		Gate:        gate,
		Decisions:   decisions,
		Collab:      detector,
		Checkpoints: checkpoints,
		Workflows:   executor,
		cfg:         cfg,
		logger:      o.logger.With(zap.String("component", "engine")),
	}, nil
}

// Config returns the configuration the engine was built with.
func (e *Engine) Config() *config.Config { return e.cfg }

// Close releases the backing store.
func (e *Engine) Close() error {
	e.logger.Info("engine shutting down")
	return e.Store.Close()
}
