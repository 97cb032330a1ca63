// Package grpc serves the standard gRPC health checking protocol
// (grpc.health.v1) for load balancers and orchestrators. The serving
// status follows the worker pool and store health.
package grpc
