// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package handlers 提供 AgentFleet HTTP API 的请求处理器实现。

# 概述

handlers 包实现了调度引擎对外的 HTTP 端点：任务提交与结果查询、
Agent 异步回报结果、舰队状态、Agent 注册、心跳推送（JSON 与 WebSocket 流）
以及运维操作（重置 Agent、启停自动恢复）。所有 Handler 均遵循标准
net/http 接口，路径参数通过 Go 1.22 ServeMux 模式读取。

# 核心类型

  - TaskHandler     ：提交、查询、外部完成、分配决策历史
  - AgentHandler    ：状态、Agent 注册/注销、心跳、运维接口
  - HealthHandler   ：服务健康检查（/health, /healthz, /ready）
  - Response        ：统一 JSON 响应结构（success + data + error + timestamp）
  - ErrorInfo       ：结构化错误信息，含 code、message、retryable 标记
  - ResponseWriter  ：包装 http.ResponseWriter 以捕获状态码
  - HealthCheck     ：可插拔健康检查接口（引擎、Database、Redis 等）

# 主要能力

  - 统一响应格式：WriteSuccess / WriteError / WriteErr / WriteJSON 辅助函数
  - 请求验证：DecodeJSONBody（1 MB 限制 + 严格模式）、ValidateContentType
  - types.ErrorCode → HTTP 状态码映射
*/
package handlers
