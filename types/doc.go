// Copyright (c) Conductor Authors.
// Licensed under the MIT License.

/*
Package types 提供 Conductor 编排引擎的全局共享类型定义。

# 概述

types 是引擎最底层的公共包，不依赖任何内部包，为 workflow、decision、
checkpoint、agent 等上层模块提供统一的类型契约。跨包共享的错误码和
结构化文档类型均定义于此，以避免循环依赖。

# 核心类型

  - Error / ErrorCode — 结构化错误体系，含 Retryable 标记与错误链
  - Document          — 不透明 JSON 文档，支持按路径读取与比较
  - CompareOperator   — 冲突规则比较运算符（> < >= <= == !=）

# 错误分类

  - NOT_FOUND / HANDLER_NOT_FOUND / TARGET_NOT_FOUND — 查找与配置错误，不重试
  - INVALID_STATE / INVALID_TRANSITION — 状态机拒绝操作，调用方需重新检查状态
  - VERSION_CONFLICT — 乐观并发版本不匹配，调用方重新加载后重试
  - TIMEOUT / CANCELLED — 代理消息超时与取消（超时自动重试一次，取消不重试）
*/
package types
