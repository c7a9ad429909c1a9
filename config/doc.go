// Package config 提供 AgentFleet 的配置加载功能。
//
// 配置来源按优先级依次为默认值、YAML 文件和环境变量，
// 加载后通过 Validate 校验调度、健康检查与恢复参数。
package config
