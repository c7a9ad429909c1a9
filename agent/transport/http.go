package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/agentfleet/agent/fleet"
	"github.com/BaSui01/agentfleet/internal/tlsutil"
	"github.com/BaSui01/agentfleet/types"
)

// HTTPConfig configures the HTTP dispatcher.
type HTTPConfig struct {
	// Timeout caps one request; the task context usually expires first.
	Timeout time.Duration     `json:"timeout" yaml:"timeout"`
	Headers map[string]string `json:"headers,omitempty" yaml:"headers"`
	// Transport tunes the connection pool.
	Transport tlsutil.TransportOptions `json:"-" yaml:"-"`
}

// TaskRequest is the body POSTed to {endpoint}/tasks.
type TaskRequest struct {
	TaskID       string            `json:"task_id"`
	CapabilityID string            `json:"capability_id"`
	Input        json.RawMessage   `json:"input,omitempty"`
	Priority     fleet.Priority    `json:"priority"`
	TimeoutMS    int64             `json:"timeout_ms"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// TaskResponse is the synchronous answer of an agent.
type TaskResponse struct {
	Success bool            `json:"success"`
	Output  json.RawMessage `json:"output,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// HTTPDispatcher dispatches tasks over HTTP/JSON. It does not retry:
// re-submission belongs to the task submitter.
type HTTPDispatcher struct {
	client  *http.Client
	headers map[string]string
	logger  *zap.Logger
}

func NewHTTPDispatcher(cfg HTTPConfig, logger *zap.Logger) *HTTPDispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}
	return &HTTPDispatcher{
		client:  tlsutil.NewHTTPClient(cfg.Timeout, cfg.Transport),
		headers: cfg.Headers,
		logger:  logger.With(zap.String("component", "http_dispatcher")),
	}
}

func (d *HTTPDispatcher) Dispatch(ctx context.Context, agent fleet.AgentRecord, task fleet.Task) (fleet.TaskResult, error) {
	if agent.Endpoint == "" {
		return fleet.TaskResult{}, types.Errorf(types.ErrDispatchError, "agent %s has no endpoint", agent.ID).
			WithAgent(agent.ID)
	}

	body, err := json.Marshal(TaskRequest{
		TaskID:       task.ID,
		CapabilityID: task.CapabilityID,
		Input:        task.Input,
		Priority:     task.Priority,
		TimeoutMS:    task.Timeout.Milliseconds(),
		Metadata:     task.Metadata,
	})
	if err != nil {
		return fleet.TaskResult{}, types.NewError(types.ErrInvalidTask, "failed to encode task").WithCause(err)
	}

	url := strings.TrimRight(agent.Endpoint, "/") + "/tasks"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fleet.TaskResult{}, d.dispatchError(agent.ID, "failed to create request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Task-ID", task.ID)
	for k, v := range d.headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := d.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return fleet.TaskResult{}, ctx.Err()
		}
		return fleet.TaskResult{}, d.dispatchError(agent.ID, "request failed", err)
	}
	defer resp.Body.Close()
	elapsed := time.Since(start)

	switch {
	case resp.StatusCode == http.StatusAccepted:
		d.logger.Debug("task accepted asynchronously",
			zap.String("task_id", task.ID),
			zap.String("agent_id", agent.ID),
		)
		return fleet.TaskResult{}, ErrDeferred
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fleet.TaskResult{}, d.dispatchError(agent.ID,
			fmt.Sprintf("agent returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))), nil)
	}

	var out TaskResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 32<<20)).Decode(&out); err != nil {
		return fleet.TaskResult{}, d.dispatchError(agent.ID, "failed to decode response", err)
	}

	result := fleet.TaskResult{
		TaskID:        task.ID,
		Success:       out.Success,
		Output:        out.Output,
		Error:         out.Error,
		ExecutionTime: elapsed,
		AgentID:       agent.ID,
		CompletedAt:   time.Now(),
	}
	if !out.Success && result.Error == "" {
		result.Error = "agent reported failure"
	}
	return result, nil
}

func (d *HTTPDispatcher) dispatchError(agentID, msg string, cause error) error {
	e := types.NewError(types.ErrDispatchError, msg).WithAgent(agentID)
	if cause != nil {
		e = e.WithCause(cause)
	}
	return e
}

var _ Dispatcher = (*HTTPDispatcher)(nil)
