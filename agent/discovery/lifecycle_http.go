package discovery

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/agentfleet/agent/fleet"
	"github.com/BaSui01/agentfleet/internal/retry"
	"github.com/BaSui01/agentfleet/internal/tlsutil"
)

// HTTPLifecycle starts and stops agents by POSTing to
// {endpoint}/lifecycle/start and {endpoint}/lifecycle/stop.
type HTTPLifecycle struct {
	client  *http.Client
	retryer *retry.Retryer
	logger  *zap.Logger
}

// NewHTTPLifecycle creates a lifecycle client. Transient failures (network
// errors and 5xx) are retried with policy.
func NewHTTPLifecycle(timeout time.Duration, policy retry.Policy, logger *zap.Logger) *HTTPLifecycle {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	policy.ShouldRetry = isTransient
	return &HTTPLifecycle{
		client:  tlsutil.NewHTTPClient(timeout, tlsutil.TransportOptions{}),
		retryer: retry.New(policy, logger),
		logger:  logger.With(zap.String("component", "http_lifecycle")),
	}
}

// statusError is a non-2xx lifecycle response.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("lifecycle request failed with status %d: %s", e.code, e.body)
}

func isTransient(err error) bool {
	if se, ok := err.(*statusError); ok {
		return se.code >= 500
	}
	return true
}

func (l *HTTPLifecycle) Start(ctx context.Context, agent fleet.AgentRecord) error {
	return l.call(ctx, agent, "start")
}

func (l *HTTPLifecycle) Stop(ctx context.Context, agent fleet.AgentRecord) error {
	return l.call(ctx, agent, "stop")
}

func (l *HTTPLifecycle) call(ctx context.Context, agent fleet.AgentRecord, action string) error {
	if agent.Endpoint == "" {
		return fmt.Errorf("agent %s has no endpoint", agent.ID)
	}
	url := strings.TrimRight(agent.Endpoint, "/") + "/lifecycle/" + action

	return l.retryer.Do(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
		if err != nil {
			return err
		}
		resp, err := l.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return &statusError{code: resp.StatusCode, body: strings.TrimSpace(string(body))}
		}
		l.logger.Debug("lifecycle call succeeded",
			zap.String("agent_id", agent.ID),
			zap.String("action", action),
		)
		return nil
	})
}

var _ Lifecycle = (*HTTPLifecycle)(nil)
