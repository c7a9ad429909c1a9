package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/BaSui01/agentfleet/api/handlers"
	"github.com/BaSui01/agentfleet/config"
	"github.com/BaSui01/agentfleet/internal/metrics"
)

// promauto 注册到全局 registry，整个测试进程只能创建一次
var testCollector = metrics.NewCollector("agentfleet_test", nil)

const testSecret = "operator-secret"

func startTestServer(t *testing.T, mutate func(*config.Config)) (*Server, string) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Server.HTTPPort = 0
	cfg.Server.MetricsPort = 0
	cfg.Server.RateLimitRPS = 0
	cfg.Server.JWTSecret = testSecret
	cfg.Recovery.Enabled = false
	if mutate != nil {
		mutate(cfg)
	}

	srv := NewServer(cfg, zaptest.NewLogger(t))
	srv.metricsCollector = testCollector
	require.NoError(t, srv.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	})

	_, port, err := net.SplitHostPort(srv.httpManager.Addr())
	require.NoError(t, err)
	return srv, fmt.Sprintf("http://127.0.0.1:%s", port)
}

func call(t *testing.T, method, url, token string, body any) (int, handlers.Response) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out handlers.Response
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}

func operatorToken(t *testing.T) string {
	return signToken(t, testSecret, jwt.RegisteredClaims{
		Subject:   "ops",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
}

func TestServer_HealthAndReady(t *testing.T) {
	_, base := startTestServer(t, nil)

	status, _ := call(t, http.MethodGet, base+"/health", "", nil)
	assert.Equal(t, http.StatusOK, status)

	status, _ = call(t, http.MethodGet, base+"/ready", "", nil)
	assert.Equal(t, http.StatusOK, status)

	status, out := call(t, http.MethodGet, base+"/version", "", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.True(t, out.Success)
}

func TestServer_OperatorRoutesRequireJWT(t *testing.T) {
	_, base := startTestServer(t, nil)

	status, _ := call(t, http.MethodPost, base+"/v1/agents", "", map[string]any{
		"agent_id":     "summarizer-1",
		"capabilities": []string{"summarize"},
	})
	require.Equal(t, http.StatusCreated, status)

	status, out := call(t, http.MethodPost, base+"/v1/agents/summarizer-1/reset", "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	require.NotNil(t, out.Error)
	assert.Equal(t, "UNAUTHORIZED", out.Error.Code)

	status, _ = call(t, http.MethodPost, base+"/v1/agents/summarizer-1/reset", operatorToken(t), nil)
	assert.Equal(t, http.StatusOK, status)

	// 读取恢复开关不需要认证，修改需要
	status, _ = call(t, http.MethodGet, base+"/v1/recovery", "", nil)
	assert.Equal(t, http.StatusOK, status)
	status, _ = call(t, http.MethodPut, base+"/v1/recovery", "", map[string]bool{"enabled": true})
	assert.Equal(t, http.StatusUnauthorized, status)
	status, _ = call(t, http.MethodPut, base+"/v1/recovery", operatorToken(t), map[string]bool{"enabled": true})
	assert.Equal(t, http.StatusOK, status)

	status, _ = call(t, http.MethodGet, base+"/v1/autostart", "", nil)
	assert.Equal(t, http.StatusOK, status)
	status, _ = call(t, http.MethodPut, base+"/v1/autostart", "", map[string]bool{"enabled": false})
	assert.Equal(t, http.StatusUnauthorized, status)
	status, _ = call(t, http.MethodPost, base+"/v1/autostart/run", "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	status, _ = call(t, http.MethodPost, base+"/v1/autostart/run", operatorToken(t), nil)
	assert.Equal(t, http.StatusOK, status)
}

func TestServer_RequestIDEchoed(t *testing.T) {
	_, base := startTestServer(t, nil)

	req, err := http.NewRequest(http.MethodGet, base+"/v1/status", nil)
	require.NoError(t, err)
	req.Header.Set("X-Request-ID", "trace-me")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "trace-me", resp.Header.Get("X-Request-ID"))
}

func TestServer_RedisBackends(t *testing.T) {
	mr := miniredis.RunT(t)
	srv, base := startTestServer(t, func(cfg *config.Config) {
		cfg.Storage.StatsBackend = "redis"
		cfg.Storage.ResultsBackend = "redis"
		cfg.Redis.Addr = mr.Addr()
	})
	require.NotNil(t, srv.redis)

	status, out := call(t, http.MethodGet, base+"/ready", "", nil)
	assert.Equal(t, http.StatusOK, status, "%+v", out)
}

func TestServer_StartFailsWithoutRedis(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Server.HTTPPort = 0
	cfg.Server.MetricsPort = 0
	cfg.Storage.StatsBackend = "redis"
	cfg.Redis.Addr = "127.0.0.1:1"

	srv := NewServer(cfg, zaptest.NewLogger(t))
	srv.metricsCollector = testCollector
	err := srv.Start(context.Background())
	require.Error(t, err)
	assert.Nil(t, srv.engine)
	assert.Nil(t, srv.httpManager)
}

func TestServer_StartFailsWithoutMongo(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Server.HTTPPort = 0
	cfg.Server.MetricsPort = 0
	cfg.Storage.ResultsBackend = "mongo"
	cfg.Mongo.URI = "mongodb://127.0.0.1:1/?serverSelectionTimeoutMS=200"
	cfg.Mongo.ConnectTimeout = 200 * time.Millisecond

	srv := NewServer(cfg, zaptest.NewLogger(t))
	srv.metricsCollector = testCollector
	err := srv.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mongo")
	assert.Nil(t, srv.mongo)
	assert.Nil(t, srv.engine)
}

func TestServer_WaitForShutdownOnContext(t *testing.T) {
	srv, _ := startTestServer(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, srv.WaitForShutdown(ctx))
}
