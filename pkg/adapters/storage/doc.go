// Package storage provides task store and workflow storage implementations.
//
// Implementations:
//   - redis: sorted-set ready index popped with ZPOPMIN, JSON records
//     updated under WATCH, workflow snapshots with TTL
//   - memory: process-local, for tests and development
package storage
