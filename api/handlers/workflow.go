package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/BaSui01/conductor/checkpoint"
	"github.com/BaSui01/conductor/types"
	"github.com/BaSui01/conductor/workflow"
	"go.uber.org/zap"
)

// =============================================================================
// 🔄 工作流处理器
// =============================================================================

// WorkflowHandler 暴露工作流生命周期与步骤执行的 HTTP 接口
type WorkflowHandler struct {
	executor    *workflow.Executor
	checkpoints *checkpoint.Manager
	logger      *zap.Logger
}

// NewWorkflowHandler 创建工作流处理器。checkpoints 可以为 nil，
// 此时检查点相关路由不注册。
func NewWorkflowHandler(executor *workflow.Executor, checkpoints *checkpoint.Manager, logger *zap.Logger) *WorkflowHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WorkflowHandler{
		executor:    executor,
		checkpoints: checkpoints,
		logger:      logger.With(zap.String("component", "workflow_handler")),
	}
}

// RegisterRoutes 注册工作流路由
func (h *WorkflowHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/workflows", h.HandleCreate)
	mux.HandleFunc("GET /api/v1/workflows/{id}", h.HandleGet)
	mux.HandleFunc("GET /api/v1/workflows/{id}/history", h.HandleHistory)
	mux.HandleFunc("POST /api/v1/workflows/{id}/start", h.HandleStart)
	mux.HandleFunc("POST /api/v1/workflows/{id}/pause", h.HandlePause)
	mux.HandleFunc("POST /api/v1/workflows/{id}/resume", h.HandleResume)
	mux.HandleFunc("POST /api/v1/workflows/{id}/cancel", h.HandleCancel)
	mux.HandleFunc("POST /api/v1/workflows/{id}/steps", h.HandleExecuteStep)
	mux.HandleFunc("POST /api/v1/workflows/{id}/steps/stream", h.HandleExecuteStepStream)

	if h.checkpoints != nil {
		mux.HandleFunc("GET /api/v1/workflows/{id}/checkpoints", h.HandleListCheckpoints)
		mux.HandleFunc("POST /api/v1/workflows/{id}/checkpoints/{checkpointID}/restore", h.HandleRestoreCheckpoint)
	}
}

// =============================================================================
// 📋 请求结构
// =============================================================================

// CreateWorkflowRequest 创建工作流请求
type CreateWorkflowRequest struct {
	DefinitionID string `json:"definition_id"`
	OwnerID      string `json:"owner_id"`
}

// ExecuteStepRequest 执行步骤请求
type ExecuteStepRequest struct {
	UserInput string `json:"user_input,omitempty"`
}

// RestoreCheckpointRequest 恢复检查点请求
type RestoreCheckpointRequest struct {
	TriggeredBy string `json:"triggered_by"`
}

// =============================================================================
// 🎯 生命周期处理程序
// =============================================================================

// HandleCreate 创建工作流实例
func (h *WorkflowHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req CreateWorkflowRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if req.DefinitionID == "" {
		WriteErrorMessage(w, types.ErrValidation, "definition_id is required", h.logger)
		return
	}

	inst, err := h.executor.CreateWorkflow(r.Context(), req.DefinitionID, req.OwnerID)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteJSON(w, http.StatusCreated, Response{Success: true, Data: inst, Timestamp: inst.CreatedAt})
}

// HandleGet 查询工作流实例
func (h *WorkflowHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	inst, err := h.executor.GetWorkflow(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, inst)
}

// HandleHistory 查询步骤执行历史
func (h *WorkflowHandler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	history, err := h.executor.GetStepHistory(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, history)
}

func (h *WorkflowHandler) HandleStart(w http.ResponseWriter, r *http.Request) {
	h.handleTransition(w, r, h.executor.Start)
}

func (h *WorkflowHandler) HandlePause(w http.ResponseWriter, r *http.Request) {
	h.handleTransition(w, r, h.executor.Pause)
}

func (h *WorkflowHandler) HandleResume(w http.ResponseWriter, r *http.Request) {
	h.handleTransition(w, r, h.executor.Resume)
}

func (h *WorkflowHandler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	h.handleTransition(w, r, h.executor.Cancel)
}

func (h *WorkflowHandler) handleTransition(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, instanceID string) (*types.WorkflowInstance, error)) {
	inst, err := fn(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, inst)
}

// =============================================================================
// ⚙️ 步骤执行
// =============================================================================

// HandleExecuteStep 同步执行当前步骤
func (h *WorkflowHandler) HandleExecuteStep(w http.ResponseWriter, r *http.Request) {
	var req ExecuteStepRequest
	if r.ContentLength > 0 {
		if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
			return
		}
	}

	inst, err := h.executor.ExecuteStep(r.Context(), r.PathValue("id"), req.UserInput)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, inst)
}

// HandleExecuteStepStream 以 SSE 流式执行当前步骤，
// 每个进度事件作为一条 data 帧推送。
func (h *WorkflowHandler) HandleExecuteStepStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		WriteErrorMessage(w, types.ErrValidation, "streaming not supported by connection", h.logger)
		return
	}

	var req ExecuteStepRequest
	if r.ContentLength > 0 {
		if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
			return
		}
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	events := h.executor.ExecuteStepWithStreaming(r.Context(), r.PathValue("id"), req.UserInput)
	for ev := range events {
		payload, err := json.Marshal(ev)
		if err != nil {
			h.logger.Warn("failed to marshal progress event", zap.Error(err))
			continue
		}
		fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Stage, payload)
		flusher.Flush()
	}
}

// =============================================================================
// 💾 检查点
// =============================================================================

// HandleListCheckpoints 分页查询检查点
func (h *WorkflowHandler) HandleListCheckpoints(w http.ResponseWriter, r *http.Request) {
	page := queryInt(r, "page", 1)
	pageSize := queryInt(r, "page_size", 20)

	checkpoints, total, err := h.checkpoints.GetCheckpoints(r.Context(), r.PathValue("id"), page, pageSize)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, map[string]interface{}{
		"checkpoints": checkpoints,
		"total":       total,
		"page":        page,
		"page_size":   pageSize,
	})
}

// HandleRestoreCheckpoint 从检查点恢复工作流
func (h *WorkflowHandler) HandleRestoreCheckpoint(w http.ResponseWriter, r *http.Request) {
	var req RestoreCheckpointRequest
	if r.ContentLength > 0 {
		if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
			return
		}
	}

	inst, err := h.checkpoints.RestoreCheckpoint(r.Context(), r.PathValue("id"), r.PathValue("checkpointID"), req.TriggeredBy)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, inst)
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
