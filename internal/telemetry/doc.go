// Package telemetry 封装 OpenTelemetry 链路追踪初始化，
// 为 Conductor 提供集中式的 TracerProvider 配置。指标不走 OTLP，
// 由 internal/metrics 经 Prometheus 导出。
// 当遥测功能禁用时，使用 noop 实现，不连接任何外部服务。
package telemetry
