/*
Package discovery 负责发现 Agent 及其声明的能力。

# 核心组件

  - Registry        ：外部 Agent 注册表接口（ListAgents / Start / Stop）
  - MemoryRegistry  ：进程内注册表，启动/停止委托给 Lifecycle
  - HTTPLifecycle   ：通过 POST {endpoint}/lifecycle/{start|stop} 控制远程 Agent
  - CapabilityIndex ：能力到 Agent 的索引，每次查询前同步刷新注册表

CapabilityIndex 区分两种情况：能力从未被声明过返回 CAPABILITY_NOT_FOUND；
声明过但当前没有可用 Agent 则返回空集合，由调度器转为 NO_AVAILABLE_AGENT。
*/
package discovery
