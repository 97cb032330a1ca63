// Package events holds adapters that carry bus events between processes.
//
// The redis subpackage mirrors every local event to a Redis stream per
// namespace and relays events published by other processes into the
// local bus. Each process reads through its own consumer group.
package events
