// Package workers implements a bounded pool of goroutines that pull jobs
// from a Source.
//
// Each worker loops on Source.Next and runs the returned job. Stop stops
// acquisition, lets in-flight jobs finish within a grace period and then
// cancels their context. A fatal Source error stops acquisition for the
// whole pool.
//
// A health monitor samples worker states on an interval, records pool
// metrics and flags workers whose job has run past the stall threshold.
package workers
