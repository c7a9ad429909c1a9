// Copyright (c) AgentFleet Authors.
// Licensed under the MIT License.

/*
Package main 提供 AgentFleet 服务端程序入口。

# 概述

cmd/agentfleet 是调度引擎的可执行入口，提供 HTTP API 服务、数据库迁移、
健康检查和版本查询等子命令。程序从 YAML 配置文件与 AGENTFLEET_ 环境变量
加载配置，使用 zap 结构化日志，独立端口暴露 Prometheus 指标。

# 核心类型

  - Server     ：主服务器，按存储后端创建 Redis/数据库连接，启动引擎与 API、Metrics 双端口
  - Middleware ：HTTP 中间件函数签名 func(http.Handler) http.Handler

# 主要能力

  - 子命令：serve、migrate、version、health
  - 中间件链：Recovery、RequestID、OTelTracing、SecurityHeaders、Metrics、
    RequestLogger、CORS、RateLimiter（基于 IP）
  - 运维接口（重置 Agent、修改恢复开关）经 JWTAuth 校验 HS256 令牌，sub 记为操作人
  - 优雅关闭：信号 → 关闭 API → 排空引擎 → 关闭 Metrics → 关闭存储连接 → 刷新遥测
  - 构建注入：Version、BuildTime、GitCommit 通过 ldflags 设置
*/
package main
