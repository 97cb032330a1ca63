// Package agentmemory keeps what agents learn across workflows.
//
// Memories are keyed by (category, key) and typed as short-term,
// long-term, episodic, semantic or procedural. Short-term memories
// expire; the rest live until deleted unless stored with a TTL. Each
// project has a context holding its stack, conventions, architecture
// decisions and code patterns; decisions and patterns are also kept as
// memories so that they show up in searches.
//
// The orchestrator records every completed step as a memory of the agent
// that produced it and every finished workflow as an episodic memory.
package agentmemory
