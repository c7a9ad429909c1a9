/*
Package performance 按 (agent, capability) 维护运行统计。

Tracker 是统计的唯一写入方：首次观测直接作为平均延迟与成功率，
之后使用增量均值更新延迟、按 successful/total 精确计算成功率。
未见过的组合返回零值（视为中性 0.5 适配度），不会报错。

Store 可选地持久化统计，使重启后的引擎保留历史：
MemoryStore、RedisStore（每个 Agent 一个 Hash）与 GormStore（performance_stats 表）。
*/
package performance
