package handlers

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/agentfleet/agent/fleet"
	"github.com/BaSui01/agentfleet/agent/scheduler"
	"github.com/BaSui01/agentfleet/types"
)

func TestAgentHandler_RegisterListUnregister(t *testing.T) {
	api := newTestAPI(t)
	priority := 0.8

	resp, body := api.do(t, http.MethodPost, "/v1/agents", RegisterAgentRequest{
		AgentID:        "vision-1",
		Capabilities:   []string{"ocr", "caption"},
		Endpoint:       "http://127.0.0.1:1",
		MaxConcurrency: 4,
		CostTier:       fleet.CostPremium,
		Priority:       &priority,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var rec fleet.AgentRecord
	decodeData(t, body.Data, &rec)
	assert.Equal(t, "vision-1", rec.ID)
	assert.Equal(t, 4, rec.MaxConcurrency)
	assert.Equal(t, 0.8, rec.Priority)

	require.NoError(t, api.engine.RegisterLocalAgent(context.Background(),
		fleet.AgentRecord{ID: "text-1", Capabilities: []string{"translate"}}, echoHandler))

	resp, body = api.do(t, http.MethodGet, "/v1/agents?capability=ocr", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var agents []scheduler.AgentStatus
	decodeData(t, body.Data, &agents)
	require.Len(t, agents, 1)
	assert.Equal(t, "vision-1", agents[0].AgentID)

	resp, body = api.do(t, http.MethodGet, "/v1/capabilities", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var caps []string
	decodeData(t, body.Data, &caps)
	assert.ElementsMatch(t, []string{"caption", "ocr", "translate"}, caps)

	resp, _ = api.do(t, http.MethodDelete, "/v1/agents/vision-1", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, body = api.do(t, http.MethodGet, "/v1/agents/vision-1", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, string(types.ErrAgentNotFound), body.Error.Code)
	assert.Equal(t, "agent_id=vision-1", body.Error.Details)

	resp, body = api.do(t, http.MethodGet, "/v1/status", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var st scheduler.Status
	decodeData(t, body.Data, &st)
	assert.Len(t, st.Agents, 1)
	assert.Equal(t, fleet.StrategyBestMatch, st.Strategy)
}

func TestAgentHandler_RegisterRejectsInvalid(t *testing.T) {
	api := newTestAPI(t)

	resp, body := api.do(t, http.MethodPost, "/v1/agents", RegisterAgentRequest{AgentID: "bare"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, string(types.ErrInvalidRequest), body.Error.Code)

	resp, _ = api.do(t, http.MethodDelete, "/v1/agents/ghost", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAgentHandler_Heartbeat(t *testing.T) {
	api := newTestAPI(t)
	require.NoError(t, api.engine.RegisterLocalAgent(context.Background(),
		fleet.AgentRecord{ID: "a", Capabilities: []string{"ocr"}}, echoHandler))

	resp, _ := api.do(t, http.MethodPost, "/v1/agents/a/heartbeat", HeartbeatRequest{Status: "error"})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	rec, err := api.engine.Agent("a")
	require.NoError(t, err)
	assert.Equal(t, fleet.Unavailable, rec.Availability)

	resp, body := api.do(t, http.MethodPost, "/v1/agents/a/heartbeat", HeartbeatRequest{AgentID: "b"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, string(types.ErrInvalidRequest), body.Error.Code)

	resp, body = api.do(t, http.MethodPost, "/v1/agents/ghost/heartbeat", HeartbeatRequest{})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, string(types.ErrAgentNotFound), body.Error.Code)

	resp, _ = api.do(t, http.MethodPost, "/v1/agents/a/heartbeat", HeartbeatRequest{Status: "running"})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	rec, _ = api.engine.Agent("a")
	assert.Equal(t, fleet.Available, rec.Availability)
}

func TestAgentHandler_HeartbeatStream(t *testing.T) {
	api := newTestAPI(t)
	require.NoError(t, api.engine.RegisterLocalAgent(context.Background(),
		fleet.AgentRecord{ID: "a", Capabilities: []string{"ocr"}}, echoHandler))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(api.server.URL, "http") + "/v1/agents/heartbeats/stream"
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	exchange := func(req HeartbeatRequest) HeartbeatAck {
		require.NoError(t, wsjson.Write(ctx, conn, req))
		var ack HeartbeatAck
		require.NoError(t, wsjson.Read(ctx, conn, &ack))
		return ack
	}

	ack := exchange(HeartbeatRequest{AgentID: "a", Status: "offline"})
	assert.True(t, ack.Accepted)
	rec, _ := api.engine.Agent("a")
	assert.Equal(t, fleet.Unavailable, rec.Availability)

	ack = exchange(HeartbeatRequest{AgentID: "ghost"})
	assert.False(t, ack.Accepted)
	assert.Contains(t, ack.Error, "AGENT_NOT_FOUND")

	ack = exchange(HeartbeatRequest{})
	assert.False(t, ack.Accepted)
	assert.Equal(t, "agent_id is required", ack.Error)

	ack = exchange(HeartbeatRequest{AgentID: "a", Status: "idle"})
	assert.True(t, ack.Accepted)
	rec, _ = api.engine.Agent("a")
	assert.Equal(t, fleet.Available, rec.Availability)

	require.NoError(t, conn.Close(websocket.StatusNormalClosure, ""))
}

func TestAgentHandler_OperatorEndpoints(t *testing.T) {
	api := newTestAPI(t)
	require.NoError(t, api.engine.RegisterLocalAgent(context.Background(),
		fleet.AgentRecord{ID: "a", Capabilities: []string{"ocr"}}, echoHandler))

	resp, body := api.do(t, http.MethodPut, "/v1/agents/a/recovery", RecoveryToggleRequest{Enabled: false})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	rec, _ := api.engine.Agent("a")
	assert.True(t, rec.RecoveryDisabled)

	resp, body = api.do(t, http.MethodPost, "/v1/agents/a/reset", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decodeData(t, body.Data, &rec)
	assert.Equal(t, 0, rec.RestartCount)
	assert.False(t, rec.Excluded)

	resp, _ = api.do(t, http.MethodPost, "/v1/agents/ghost/reset", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body = api.do(t, http.MethodGet, "/v1/recovery", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var toggle map[string]bool
	decodeData(t, body.Data, &toggle)
	assert.True(t, toggle["enabled"])

	resp, body = api.do(t, http.MethodPut, "/v1/recovery", RecoveryToggleRequest{Enabled: false})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decodeData(t, body.Data, &toggle)
	assert.False(t, toggle["enabled"])
	assert.False(t, api.engine.RecoveryEnabled())
}

func TestAgentHandler_AutoStartEndpoints(t *testing.T) {
	api := newTestAPI(t)

	resp, body := api.do(t, http.MethodPost, "/v1/agents", RegisterAgentRequest{
		AgentID:      "worker-1",
		Capabilities: []string{"ocr"},
		Endpoint:     "http://127.0.0.1:1",
		AutoStart:    true,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var rec fleet.AgentRecord
	decodeData(t, body.Data, &rec)
	assert.True(t, rec.AutoStart)

	resp, body = api.do(t, http.MethodGet, "/v1/autostart", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var toggle map[string]bool
	decodeData(t, body.Data, &toggle)
	assert.True(t, toggle["enabled"])

	// 新注册的 Agent 尚未上报状态，按已停止处理
	resp, body = api.do(t, http.MethodPost, "/v1/autostart/run", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var run map[string]int
	decodeData(t, body.Data, &run)
	assert.Equal(t, 1, run["started"])

	resp, body = api.do(t, http.MethodPut, "/v1/autostart", RecoveryToggleRequest{Enabled: false})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decodeData(t, body.Data, &toggle)
	assert.False(t, toggle["enabled"])
	assert.False(t, api.engine.AutoStartEnabled())

	resp, body = api.do(t, http.MethodPost, "/v1/autostart/run", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decodeData(t, body.Data, &run)
	assert.Zero(t, run["started"])
}
