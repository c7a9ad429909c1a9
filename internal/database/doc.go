// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 database 管理统计存储使用的 GORM 连接：按驱动打开连接、
配置连接池、后台探活与事务重试。

# 核心类型

  - PoolManager：持有 GORM DB 与底层 sql.DB，提供 DB、Ping、
    Stats、Close 与事务方法。
  - PoolConfig：连接池参数、健康检查间隔与事务重试次数，
    PoolConfigFrom 由 config.DatabaseConfig 生成。
  - PoolStats：连接池运行指标。

# 主要能力

  - 多驱动：Open/Dialector 支持 postgres、mysql 与纯 Go 的 sqlite。
  - 健康检查：后台定时 PingContext 探活，Close 时退出。
  - 事务管理：WithTransactionRetry 对死锁、序列化失败、
    连接中断等错误使用 internal/retry 指数退避重试。
*/
package database
