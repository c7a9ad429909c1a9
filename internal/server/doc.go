// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 server 管理 AgentFleet 的 HTTP 监听生命周期：API 端口与 metrics 端口
各由一个 Manager 持有。

# 核心类型

  - Manager：封装 net/http.Server 与 net.Listener，提供非阻塞 Start、
    幂等 Shutdown 与异步错误通道 Errors。
  - Config：监听地址、超时、请求头上限与可选 TLS 证书。
    FromServerConfig 由 config.ServerConfig 生成。

# 主要能力

  - TLS：证书与私钥同时配置时以 HTTPS 启动，TLS 参数来自
    internal/tlsutil。
  - 随机端口：Addr 返回实际监听地址，便于测试使用 ":0"。
  - 等待退出：WaitForShutdown 同时监听 SIGINT/SIGTERM、上下文与
    所有 Manager 的异步错误，返回触发原因。
*/
package server
