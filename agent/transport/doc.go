/*
Package transport 提供任务派发到 Agent 的执行通道。

# 概述

Dispatcher 接口只有一个方法：把任务交给指定 Agent 并返回其 TaskResult。
调度器不关心结果是本地函数、HTTP 调用还是稍后由外部回调送达。

# 实现

  - LocalDispatcher: 进程内处理函数，按 agent_id 注册
  - HTTPDispatcher: 以 JSON POST 到 {endpoint}/tasks
  - Multi: 优先本地处理函数，否则走远程

当远端以 202 Accepted 应答时，Dispatch 返回 ErrDeferred，结果需通过
引擎的 Complete 送达。
*/
package transport
