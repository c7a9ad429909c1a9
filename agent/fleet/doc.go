/*
Package fleet 定义调度引擎的核心数据模型。

Task / TaskResult 描述一次工作请求及其唯一结果；AgentRecord 是调度视角下的
Agent 视图；PerformanceStat 按 (agent, capability) 记录运行统计；
AllocationDecision 记录一次调度轮次的选择。

Roster 保存共享的 AgentRecord 集合，每个字段只有一个写入方：
健康监控写 availability / last_heartbeat，故障恢复写 restart_count / excluded，
调度器写 current_load。
*/
package fleet
