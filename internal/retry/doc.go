// Package retry 提供带指数退避与抖动的通用重试器，
// 用于统计持久化写入与 Agent 生命周期调用。
package retry
