// Package llm provides agent executor implementations.
//
// The factory creates executors based on provider configuration:
//   - anthropic: Claude through the Messages API. Routed models from other
//     vendors are served by a fallback Claude model.
//   - static: deterministic outputs, for local runs and tests.
//
// Every executor is wrapped by Limited, which applies the requests per
// minute rate, the concurrency bound and the per-call timeout.
package llm
