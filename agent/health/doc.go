/*
Package health 根据心跳推导 Agent 的可用性。

状态机：

  - Available → Degraded：心跳超过 interval 但未超过 timeout
  - Degraded → Available：收到新的心跳
  - Available/Degraded → Unavailable：心跳超过 timeout，或 Agent 报告 error/stopped/offline
  - Unavailable → Available：收到 running/idle 心跳（重连确认）

Monitor 按固定周期（默认 10s）扫描，与调度互不阻塞；调度器通过 Eligible
直接检查心跳年龄，因此超时的 Agent 即使在下一次扫描前也不会被选中。
心跳既可以推送（Heartbeat），也可以通过 Source 轮询（如 EndpointPoller）。
*/
package health
