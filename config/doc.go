// Package config 提供 Conductor 的配置管理功能。
//
// 包含配置加载与校验，支持从 YAML 文件和环境变量加载配置，
// 以及静态 Agent 目录与工作流定义的注入。
package config
