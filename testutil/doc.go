// Copyright 2026 AgentFleet Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license.

/*
Package testutil 提供 AgentFleet 测试的共享工具和辅助函数。

# 概述

testutil 包为调度、健康、恢复等包的单元测试提供统一的辅助能力，
避免各包重复实现相似的测试基础设施。

# 核心能力

  - 上下文辅助: TestContext / TestContextWithTimeout / CancelledContext，
    自动注册 Cleanup 防止泄漏
  - 异步断言: AssertEventuallyTrue / AssertEventuallyEqual，
    支持超时轮询等待条件满足
  - 等待工具: WaitFor / WaitForChannel
  - 数据工具: MustJSON / AssertJSONEqual

# 子包

  - testutil/mocks: MockDispatcher（按 Agent 编排派发结果、延迟完成与错误注入）、
    MockLifecycle（记录 start/stop 调用并可注入失败）
  - testutil/fixtures: 测试数据工厂，提供预置 Agent、任务与结果样例

# 使用示例

	ctx := testutil.TestContext(t)
	d := mocks.NewMockDispatcher().WithFailure("agent-b", types.ErrTimeout, "slow")
	res, err := d.Dispatch(ctx, fixtures.Agent("agent-b", "translate"), fixtures.Task("translate"))
*/
package testutil
