// Copyright (c) Conductor Authors.
// Licensed under the MIT License.

/*
Package handlers 提供 Conductor HTTP API 的请求处理器实现。

# 概述

handlers 包实现了编排引擎对外暴露的薄 API 层：工作流生命周期、
步骤执行（同步与 SSE 流式）、人工审批响应以及健康检查，
并提供统一的响应/错误处理。所有 Handler 均遵循标准 net/http 接口。

# 核心类型

  - WorkflowHandler  — 工作流创建、生命周期转换、步骤执行与检查点恢复
  - ApprovalHandler  — 人工审批查询与 approve/modify/reject 响应
  - HealthHandler    — 服务健康检查（/health, /healthz, /ready）
  - Response         — 统一 JSON 响应结构（success + data + error + timestamp）
  - ErrorInfo        — 结构化错误信息，含 code、message、retryable 标记
  - ResponseWriter   — 包装 http.ResponseWriter 以捕获状态码
  - HealthCheck      — 可插拔健康检查接口（存储 Ping 等）

# 主要能力

  - 统一响应格式：WriteSuccess / WriteError / WriteJSON 辅助函数
  - 请求验证：DecodeJSONBody（严格模式，拒绝未知字段）
  - ErrorCode → HTTP 状态码自动映射（4xx/5xx）
  - SSE 流式输出：HandleExecuteStepStream 支持 text/event-stream
  - 审批后自动推进：接受类审批响应通过 ResumeAfterApproval 恢复工作流
*/
package handlers
