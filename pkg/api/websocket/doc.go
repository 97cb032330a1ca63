// Package websocket provides real-time event streaming via WebSocket.
//
// Clients connect to /api/v1/workflows/:id/ws to receive every event
// correlated with the workflow as JSON text frames.
package websocket
