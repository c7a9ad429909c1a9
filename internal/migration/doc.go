// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 migration 管理统计存储的数据库 Schema，基于 golang-migrate，
支持 PostgreSQL、MySQL 与 SQLite。

# 概述

各方言的 SQL 迁移文件内嵌于 migrations/<driver>/ 目录，当前包含
performance_stats 表及其 last_used 索引，与 performance.GormStore
的模型保持一致。SQLite 使用纯 Go 驱动，无需 cgo。

# 核心接口与类型

  - Migrator：Up/Down/DownAll/Steps/Goto/Force/Version/Status/Info/Close。
  - DefaultMigrator：封装 golang-migrate 实例与数据库连接，日志输出到 zap。
  - Config：数据库类型、迁移 URL（config.DatabaseConfig.MigrationURL）、
    迁移表名与锁超时。
  - CLI：agentfleet migrate 子命令的分发与格式化输出。

# 工厂函数

NewMigratorFromConfig / NewMigratorFromDatabaseConfig / NewMigratorFromURL
分别从应用配置、数据库配置与显式 URL 创建迁移器。
*/
package migration
