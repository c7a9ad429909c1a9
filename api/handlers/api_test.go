package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/BaSui01/agentfleet/agent/discovery"
	"github.com/BaSui01/agentfleet/agent/engine"
	"github.com/BaSui01/agentfleet/agent/fleet"
	"github.com/BaSui01/agentfleet/config"
)

// testAPI 真实引擎 + 与 serve 命令一致的路由
type testAPI struct {
	engine *engine.Engine
	server *httptest.Server
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	logger := zaptest.NewLogger(t)

	eng, err := engine.New(config.DefaultConfig(), logger, engine.WithLifecycle(discovery.NoopLifecycle{}))
	require.NoError(t, err)
	require.NoError(t, eng.Start(context.Background()))

	tasks := NewTaskHandler(eng, logger)
	agents := NewAgentHandler(eng, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/tasks", tasks.HandleSubmit)
	mux.HandleFunc("GET /v1/tasks/{id}", tasks.HandleResult)
	mux.HandleFunc("POST /v1/tasks/{id}/result", tasks.HandleComplete)
	mux.HandleFunc("GET /v1/decisions", tasks.HandleDecisions)
	mux.HandleFunc("GET /v1/status", agents.HandleStatus)
	mux.HandleFunc("GET /v1/capabilities", agents.HandleCapabilities)
	mux.HandleFunc("GET /v1/agents", agents.HandleListAgents)
	mux.HandleFunc("POST /v1/agents", agents.HandleRegister)
	mux.HandleFunc("GET /v1/agents/heartbeats/stream", agents.HandleHeartbeatStream)
	mux.HandleFunc("GET /v1/agents/{id}", agents.HandleGetAgent)
	mux.HandleFunc("DELETE /v1/agents/{id}", agents.HandleUnregister)
	mux.HandleFunc("POST /v1/agents/{id}/heartbeat", agents.HandleHeartbeat)
	mux.HandleFunc("POST /v1/agents/{id}/reset", agents.HandleReset)
	mux.HandleFunc("PUT /v1/agents/{id}/recovery", agents.HandleSetAgentRecovery)
	mux.HandleFunc("GET /v1/recovery", agents.HandleRecovery)
	mux.HandleFunc("PUT /v1/recovery", agents.HandleRecovery)
	mux.HandleFunc("GET /v1/autostart", agents.HandleAutoStart)
	mux.HandleFunc("PUT /v1/autostart", agents.HandleAutoStart)
	mux.HandleFunc("POST /v1/autostart/run", agents.HandleRunAutoStart)

	srv := httptest.NewServer(mux)
	t.Cleanup(func() {
		srv.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = eng.Stop(ctx)
	})
	return &testAPI{engine: eng, server: srv}
}

func (a *testAPI) do(t *testing.T, method, path string, body any) (*http.Response, Response) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, a.server.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out Response
	if resp.StatusCode != http.StatusNoContent {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	}
	return resp, out
}

// decodeData 把 Response.Data 转成具体类型
func decodeData(t *testing.T, data any, dst any) {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, dst))
}

func echoHandler(ctx context.Context, task fleet.Task) ([]byte, error) {
	return task.Input, nil
}
