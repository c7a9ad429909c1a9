// Package api documents the AgentFleet HTTP API.
//
// Handlers live in api/handlers and are mounted by the serve command in
// cmd/agentfleet.
//
// # API Overview
//
// AgentFleet exposes a JSON API for:
//   - Submitting tasks and polling or completing their results
//   - Registering, listing and removing agents
//   - Pushing heartbeats, one at a time or over a WebSocket stream
//   - Inspecting fleet status and recent allocation decisions
//   - Operator controls for fault recovery
//   - Health probes and Prometheus metrics
//
// # Endpoints
//
//	POST   /v1/tasks                      submit a task (202, Location header)
//	GET    /v1/tasks/{id}                 task state and result
//	POST   /v1/tasks/{id}/result          asynchronous result from an agent
//	GET    /v1/decisions?limit=N          recent allocation decisions
//	GET    /v1/status                     fleet status
//	GET    /v1/capabilities               known capability ids
//	GET    /v1/agents?capability=X        agent list
//	POST   /v1/agents                     register an agent
//	GET    /v1/agents/{id}                one agent
//	DELETE /v1/agents/{id}                unregister an agent
//	POST   /v1/agents/{id}/heartbeat      push a heartbeat
//	GET    /v1/agents/heartbeats/stream   WebSocket heartbeat stream
//
// Operator endpoints require a bearer JWT when server.jwt_secret is set:
//
//	POST   /v1/agents/{id}/reset          clear restart count and exclusion
//	PUT    /v1/agents/{id}/recovery       per-agent recovery switch
//	GET    /v1/recovery                   fleet-wide recovery switch
//	PUT    /v1/recovery
//
// # Response Envelope
//
// Every JSON response uses the same envelope:
//
//	{"success": true, "data": {...}, "timestamp": "..."}
//	{"success": false, "error": {"code": "TASK_NOT_FOUND", "message": "..."}}
//
// # Base URL
//
// The default base URL for the API is:
//
//	http://localhost:8080
//
// Metrics are served separately on the metrics port (default 9091) at /metrics.
package api
