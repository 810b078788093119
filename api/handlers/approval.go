package handlers

import (
	"net/http"

	"github.com/BaSui01/conductor/agent/hitl"
	"github.com/BaSui01/conductor/types"
	"github.com/BaSui01/conductor/workflow"
	"go.uber.org/zap"
)

// =============================================================================
// ✅ 人工审批处理器
// =============================================================================

// ApprovalHandler 暴露人工审批请求的查询与响应接口。
// 审批通过后调用方负责 Resume 工作流；Approve/Modify 响应里
// 附带恢复所需的 workflow_instance_id。
type ApprovalHandler struct {
	gate     *hitl.Gate
	executor *workflow.Executor
	logger   *zap.Logger
}

// NewApprovalHandler 创建审批处理器。executor 可以为 nil，
// 此时审批响应不会自动恢复工作流。
func NewApprovalHandler(gate *hitl.Gate, executor *workflow.Executor, logger *zap.Logger) *ApprovalHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ApprovalHandler{
		gate:     gate,
		executor: executor,
		logger:   logger.With(zap.String("component", "approval_handler")),
	}
}

// RegisterRoutes 注册审批路由
func (h *ApprovalHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/approvals/{id}", h.HandleGet)
	mux.HandleFunc("POST /api/v1/approvals/{id}/approve", h.HandleApprove)
	mux.HandleFunc("POST /api/v1/approvals/{id}/modify", h.HandleModify)
	mux.HandleFunc("POST /api/v1/approvals/{id}/reject", h.HandleReject)
}

// =============================================================================
// 📋 请求结构
// =============================================================================

// ApproveRequest 批准请求
type ApproveRequest struct {
	UserID string `json:"user_id"`
}

// ModifyRequest 修改后批准请求
type ModifyRequest struct {
	UserID      string         `json:"user_id"`
	Replacement types.Document `json:"replacement"`
}

// RejectRequest 拒绝请求
type RejectRequest struct {
	UserID string `json:"user_id"`
	Reason string `json:"reason"`
}

// =============================================================================
// 🎯 HTTP 处理程序
// =============================================================================

// HandleGet 查询审批请求
func (h *ApprovalHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	req, err := h.gate.GetRequest(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, req)
}

// HandleApprove 按原样接受建议响应
func (h *ApprovalHandler) HandleApprove(w http.ResponseWriter, r *http.Request) {
	var body ApproveRequest
	if err := DecodeJSONBody(w, r, &body, h.logger); err != nil {
		return
	}
	if body.UserID == "" {
		WriteErrorMessage(w, types.ErrValidation, "user_id is required", h.logger)
		return
	}

	h.respond(w, r, func(id string) (bool, error) {
		return h.gate.Approve(r.Context(), id, body.UserID)
	})
}

// HandleModify 以替换响应接受
func (h *ApprovalHandler) HandleModify(w http.ResponseWriter, r *http.Request) {
	var body ModifyRequest
	if err := DecodeJSONBody(w, r, &body, h.logger); err != nil {
		return
	}
	if body.UserID == "" {
		WriteErrorMessage(w, types.ErrValidation, "user_id is required", h.logger)
		return
	}

	h.respond(w, r, func(id string) (bool, error) {
		return h.gate.Modify(r.Context(), id, body.UserID, body.Replacement)
	})
}

// HandleReject 拒绝建议响应
func (h *ApprovalHandler) HandleReject(w http.ResponseWriter, r *http.Request) {
	var body RejectRequest
	if err := DecodeJSONBody(w, r, &body, h.logger); err != nil {
		return
	}
	if body.UserID == "" {
		WriteErrorMessage(w, types.ErrValidation, "user_id is required", h.logger)
		return
	}

	h.respond(w, r, func(id string) (bool, error) {
		return h.gate.Reject(r.Context(), id, body.UserID, body.Reason)
	})
}

// respond 执行一次审批响应；请求已非 Pending 时返回 409。
// 接受类响应成功后，若注入了 executor，则自动 Resume 对应工作流，
// 使其可以继续推进到下一步。
func (h *ApprovalHandler) respond(w http.ResponseWriter, r *http.Request, fn func(id string) (bool, error)) {
	id := r.PathValue("id")
	applied, err := fn(id)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	if !applied {
		WriteErrorMessage(w, types.ErrInvalidState, "approval request is no longer pending", h.logger)
		return
	}

	req, err := h.gate.GetRequest(r.Context(), id)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}

	if h.executor != nil && (req.Status == types.ApprovalStatusApproved || req.Status == types.ApprovalStatusModified) {
		if _, err := h.executor.ResumeAfterApproval(r.Context(), req.ID); err != nil {
			h.logger.Warn("failed to resume workflow after approval",
				zap.String("workflow_id", req.WorkflowInstanceID),
				zap.String("approval_id", req.ID),
				zap.Error(err),
			)
		}
	}

	WriteSuccess(w, req)
}
