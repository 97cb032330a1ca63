// Package http provides the REST API.
//
// The server exposes endpoints for:
//   - Workflow creation, inspection and cancellation
//   - Direct task submission and queue statistics
//   - Event history and correlation chains
//   - Agent routing status
//   - Health checks and Prometheus metrics
package http
