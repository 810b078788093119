// Copyright (c) Conductor Authors.
// Licensed under the MIT License.

/*
Package main 提供 Conductor 服务端程序入口。

# 概述

cmd/conductor 是编排引擎的可执行入口，提供 HTTP API 服务、
数据库迁移、健康检查和版本查询等子命令。程序支持 YAML 配置文件加载、
结构化日志（zap）、Prometheus 指标采集以及 OpenTelemetry 追踪。

# 核心类型

  - Server     — 主服务进程，管理引擎、HTTP、Metrics 双端口及优雅关闭
  - Middleware — HTTP 中间件函数签名 func(http.Handler) http.Handler

# 主要能力

  - 子命令：serve（启动服务）、migrate（数据库迁移）、version、health
  - 中间件链：Recovery、RequestID、SecurityHeaders、RequestLogger、OTelTracing
  - 存储选择：数据库可用时使用 GORM 存储，否则回退内存存储
  - 通知发布：Redis 启用时推送 pub/sub，否则日志记录
  - Metrics 服务器：独立端口暴露 /metrics（Prometheus）
  - 优雅关闭：信号监听 → 关闭 HTTP → 关闭 Metrics → 关闭引擎/存储/遥测
  - 构建注入：Version、BuildTime、GitCommit 通过 ldflags 设置
*/
package main
