/*
Package recovery 实现有界的自动重启。

当健康监控报告 Agent 从 Available/Degraded 变为 Unavailable 时触发：
每次尝试依次执行 stop、等待 restart_delay、start，最多 max_restart_attempts 次（默认 3）。
成功后 restart_count 归零，可用性留给健康监控在下一次心跳时重新评估；
全部失败后 Agent 被永久排除，直到运维调用 Reset。
*/
package recovery
