// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器
type Collector struct {
	// 工作流指标
	workflowsTotal        *prometheus.CounterVec
	stepExecutionsTotal   *prometheus.CounterVec
	stepExecutionDuration *prometheus.HistogramVec

	// Agent 指标
	handoffsTotal        *prometheus.CounterVec
	agentRequestsTotal   *prometheus.CounterVec
	agentRequestDuration *prometheus.HistogramVec

	// 审批指标
	approvalsTotal   *prometheus.CounterVec
	approvalsPending prometheus.Gauge

	// 决策指标
	decisionConflictsTotal *prometheus.CounterVec

	// 数据库指标
	dbConnectionsOpen *prometheus.GaugeVec
	dbConnectionsIdle *prometheus.GaugeVec
	dbQueryDuration   *prometheus.HistogramVec

	logger *zap.Logger
}

// NewCollector 创建指标收集器
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// 工作流指标
	c.workflowsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflows_total",
			Help:      "Total number of workflow state transitions",
		},
		[]string{"definition_id", "status"},
	)

	c.stepExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "step_executions_total",
			Help:      "Total number of step executions",
		},
		[]string{"step_id", "agent_id", "status"},
	)

	c.stepExecutionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "step_execution_duration_seconds",
			Help:      "Step execution duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"step_id", "agent_id"},
	)

	// Agent 指标
	c.handoffsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_handoffs_total",
			Help:      "Total number of agent handoffs",
		},
		[]string{"from_agent", "to_agent"},
	)

	c.agentRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_requests_total",
			Help:      "Total number of inter-agent requests",
		},
		[]string{"target_agent", "status"},
	)

	c.agentRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "agent_request_duration_seconds",
			Help:      "Inter-agent request duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"target_agent"},
	)

	// 审批指标
	c.approvalsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "approvals_total",
			Help:      "Total number of resolved approval requests",
		},
		[]string{"status"},
	)

	c.approvalsPending = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "approvals_pending",
			Help:      "Number of approval requests awaiting a human response",
		},
	)

	// 决策指标
	c.decisionConflictsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decision_conflicts_total",
			Help:      "Total number of detected decision conflicts",
		},
		[]string{"conflict_type", "severity"},
	)

	// 数据库指标
	c.dbConnectionsOpen = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_open",
			Help:      "Number of open database connections",
		},
		[]string{"database"},
	)

	c.dbConnectionsIdle = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_idle",
			Help:      "Number of idle database connections",
		},
		[]string{"database"},
	)

	c.dbQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "db_query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"database", "operation"},
	)

	logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// =============================================================================
// 🔁 工作流指标记录
// =============================================================================

// RecordWorkflowTransition 记录工作流状态转换
func (c *Collector) RecordWorkflowTransition(definitionID, status string) {
	if c == nil {
		return
	}
	c.workflowsTotal.WithLabelValues(definitionID, status).Inc()
}

// RecordStepExecution 记录步骤执行
func (c *Collector) RecordStepExecution(stepID, agentID, status string, duration time.Duration) {
	if c == nil {
		return
	}
	c.stepExecutionsTotal.WithLabelValues(stepID, agentID, status).Inc()
	c.stepExecutionDuration.WithLabelValues(stepID, agentID).Observe(duration.Seconds())
}

// =============================================================================
// 🤝 Agent 指标记录
// =============================================================================

// RecordHandoff 记录 Agent 交接
func (c *Collector) RecordHandoff(fromAgent, toAgent string) {
	if c == nil {
		return
	}
	c.handoffsTotal.WithLabelValues(fromAgent, toAgent).Inc()
}

// RecordAgentRequest 记录 Agent 间请求
func (c *Collector) RecordAgentRequest(targetAgent, status string, duration time.Duration) {
	if c == nil {
		return
	}
	c.agentRequestsTotal.WithLabelValues(targetAgent, status).Inc()
	c.agentRequestDuration.WithLabelValues(targetAgent).Observe(duration.Seconds())
}

// =============================================================================
// ✅ 审批指标记录
// =============================================================================

// RecordApprovalResolved 记录审批结果
func (c *Collector) RecordApprovalResolved(status string) {
	if c == nil {
		return
	}
	c.approvalsTotal.WithLabelValues(status).Inc()
}

// SetApprovalsPending 设置待审批数量
func (c *Collector) SetApprovalsPending(n int) {
	if c == nil {
		return
	}
	c.approvalsPending.Set(float64(n))
}

// =============================================================================
// ⚖️ 决策指标记录
// =============================================================================

// RecordDecisionConflict 记录决策冲突
func (c *Collector) RecordDecisionConflict(conflictType, severity string) {
	if c == nil {
		return
	}
	c.decisionConflictsTotal.WithLabelValues(conflictType, severity).Inc()
}

// =============================================================================
// 💾 数据库指标记录
// =============================================================================

// SetDBConnections 设置数据库连接数
func (c *Collector) SetDBConnections(database string, open, idle int) {
	if c == nil {
		return
	}
	c.dbConnectionsOpen.WithLabelValues(database).Set(float64(open))
	c.dbConnectionsIdle.WithLabelValues(database).Set(float64(idle))
}

// RecordDBQuery 记录数据库查询耗时
func (c *Collector) RecordDBQuery(database, operation string, duration time.Duration) {
	if c == nil {
		return
	}
	c.dbQueryDuration.WithLabelValues(database, operation).Observe(duration.Seconds())
}
