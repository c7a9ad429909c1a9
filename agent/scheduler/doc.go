/*
Package scheduler 实现任务调度器：优先级队列、路由循环、并发派发与结果记录。

# 流程

Submit 校验任务后入队。单个路由循环按优先级（Urgent > High > Normal > Low，
同级先进先出）出队，对每个任务：

 1. 通过 CandidateSource 解析声明该能力的 Agent
 2. 过滤出健康且未满载的 Agent
 3. 调用配置的 routing.Strategy 打分
 4. 占用负载槽位后交给派发工作池；若派发瞬间已满载则同轮重新打分
 5. 等待结果、外部 Complete 或任务超时，释放槽位，写入结果并更新统计

没有候选 Agent 时任务立即以 NO_AVAILABLE_AGENT 失败，调度器本身不重试。

# 幂等

每个任务只有一个结果。结果存储的 PutIfAbsent 决定谁是第一个结果，
后到的结果不会进入性能统计。
*/
package scheduler
