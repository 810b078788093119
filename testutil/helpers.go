// =============================================================================
// 🧪 测试辅助函数
// =============================================================================
// 提供通用的测试辅助函数与引擎测试夹具
//
// 使用方法:
//
//	ctx := testutil.TestContext(t)
//	cfg := testutil.EngineConfig(testutil.TwoStepDefinition())
// =============================================================================
package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/BaSui01/conductor/config"
	"github.com/BaSui01/conductor/types"
)

// =============================================================================
// 🎯 上下文辅助
// =============================================================================

// TestContext 返回带超时的测试上下文
func TestContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// CancelledContext 返回已取消的上下文
func CancelledContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	return ctx
}

// =============================================================================
// 🧩 引擎夹具
// =============================================================================

// Agents 返回一组标准测试 Agent 定义
func Agents() []types.AgentDefinition {
	return []types.AgentDefinition{
		{AgentID: "writer", Name: "Writer", Capabilities: []string{"writing"}},
		{AgentID: "reviewer", Name: "Reviewer", Capabilities: []string{"review"}},
	}
}

// TwoStepDefinition 返回一个两步工作流定义（起草 → 评审）
func TwoStepDefinition() types.WorkflowDefinition {
	return types.WorkflowDefinition{
		ID:   "doc-pipeline",
		Name: "Document Pipeline",
		Steps: []types.StepDefinition{
			{ID: "draft", Name: "Draft", AgentID: "writer"},
			{ID: "review", Name: "Review", AgentID: "reviewer"},
		},
	}
}

// EngineConfig 返回注入了测试 Agent 与给定定义的完整配置
func EngineConfig(defs ...types.WorkflowDefinition) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Agents = Agents()
	cfg.Definitions = defs
	return cfg
}

// StaticResponse 返回固定输出与置信度的 Agent 响应
func StaticResponse(output types.Document, confidence float64) *types.AgentResponse {
	return &types.AgentResponse{Output: output, Confidence: confidence}
}
