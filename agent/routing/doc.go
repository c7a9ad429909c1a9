/*
Package routing 实现候选 Agent 的评分与排序策略。

  - BestMatch      ：0.4·能力匹配 + 0.3·优先级匹配 + 0.2·(1−负载) + 0.1·(1−延迟)
  - FastestResponse：平均响应时间最低；均无历史时回退 BestMatch
  - LowestCost     ：声明成本最低；均未声明或成本相同时由 BestMatch 决定
  - RoundRobin     ：last_used 最早（或从未使用）优先
  - LoadBalanced   ：当前负载最低，平局时比较平均响应时间

所有策略都是纯函数：只读取 AgentRecord 与 PerformanceStat 快照，不产生副作用。
Degraded 的 Agent 不会被排除，只会降低排名。
*/
package routing
