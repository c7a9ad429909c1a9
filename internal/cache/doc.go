// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 cache 管理 Redis 连接。统计存储（performance.RedisStore）与
结果存储（persistence.RedisResultStore）共享同一个客户端，
客户端的生命周期由 Manager 负责。

# 核心类型

  - Manager：持有 go-redis 客户端，提供 Client、Ping、Stats、Close。
  - Config：地址、认证、连接池与健康检查间隔，ConfigFrom 由
    config.RedisConfig 生成。
  - Stats：连接池命中、超时与连接数统计。

# 主要能力

  - 启动探活：NewManager 在超时内 Ping，失败时关闭客户端并返回错误。
  - 健康检查：后台定时探活，Close 时退出。
*/
package cache
