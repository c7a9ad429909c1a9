// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package types 提供 agentfleet 调度引擎的全局共享类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包。调度、健康检查、故障恢复、
HTTP API 等上层模块通过这里的 Error / ErrorCode 共享统一的错误契约。

# 核心类型

  - Error / ErrorCode：结构化错误，含 HTTP 状态码、Retryable、AgentID
  - IsCode / GetErrorCode / IsRetryable：沿 error 链提取错误信息
*/
package types
