// Package engine 组装 AgentFleet 调度引擎。
//
// Engine 在进程启动时构造一次，持有 Agent 名册、能力索引、性能追踪器、
// 健康监视器、故障恢复与调度器，并对外暴露提交任务、查询结果、
// 外部完成、心跳推送和运维操作等接口。引擎没有任何全局单例状态，
// 调用方通过引用传递同一个实例。
package engine
