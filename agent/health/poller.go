package health

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/agentfleet/agent/fleet"
	"github.com/BaSui01/agentfleet/internal/tlsutil"
)

// EndpointPoller is a Source that probes GET {endpoint}/health for every
// agent with an endpoint. A successful probe yields a heartbeat; a failed one
// yields nothing, so the agent's heartbeat simply ages.
type EndpointPoller struct {
	roster      *fleet.Roster
	client      *http.Client
	concurrency int
	logger      *zap.Logger
}

// NewEndpointPoller creates a poller with a per-probe timeout.
func NewEndpointPoller(roster *fleet.Roster, timeout time.Duration, concurrency int, logger *zap.Logger) *EndpointPoller {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if concurrency <= 0 {
		concurrency = 8
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EndpointPoller{
		roster:      roster,
		client:      tlsutil.NewHTTPClient(timeout, tlsutil.TransportOptions{}),
		concurrency: concurrency,
		logger:      logger.With(zap.String("component", "endpoint_poller")),
	}
}

type probeResponse struct {
	Status string `json:"status"`
}

// Poll implements Source.
func (p *EndpointPoller) Poll(ctx context.Context) ([]Beat, error) {
	var (
		mu    sync.Mutex
		beats []Beat
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for _, rec := range p.roster.Snapshot() {
		if rec.Endpoint == "" {
			continue
		}
		g.Go(func() error {
			status, ok := p.probe(gctx, rec)
			if !ok {
				return nil
			}
			mu.Lock()
			beats = append(beats, Beat{AgentID: rec.ID, Timestamp: time.Now(), Status: status})
			mu.Unlock()
			return nil
		})
	}
	err := g.Wait()
	return beats, err
}

func (p *EndpointPoller) probe(ctx context.Context, rec fleet.AgentRecord) (fleet.ReportedStatus, bool) {
	url := strings.TrimRight(rec.Endpoint, "/") + "/health"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		p.logger.Debug("health probe failed", zap.String("agent_id", rec.ID), zap.Error(err))
		return "", false
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return fleet.StatusError, true
	}
	if resp.StatusCode != http.StatusOK {
		return "", false
	}

	var body probeResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fleet.StatusRunning, true
	}
	return fleet.ParseReportedStatus(body.Status), true
}

var _ Source = (*EndpointPoller)(nil)
