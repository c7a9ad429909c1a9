// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 metrics 提供基于 Prometheus 的指标采集能力，覆盖 HTTP、任务调度、
Agent 健康与故障恢复四个维度。

# 概述

本包通过 Collector 统一注册和记录 Prometheus 指标，使用 promauto
自动注册机制。所有指标按 namespace 隔离。Collector 同时实现
scheduler.Observer，可直接挂到调度器上。

# 主要能力

  - HTTP 指标：请求总数、耗时、请求/响应体大小，状态码归类为 2xx/3xx/4xx/5xx。
  - 调度指标：提交数、按结果分类的完成数、执行耗时、分配决策数与决策耗时、队列长度。
  - Agent 指标：当前负载、各可用性状态的 Agent 数、可用性转换次数、心跳计数。
  - 恢复指标：按事件类型统计的故障恢复事件。
*/
package metrics
