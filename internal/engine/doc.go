// Package engine is the boundary to the external multi-agent consultation graph.
//
// The graph itself (specialist routing, node set, state transitions) lives
// outside the gateway. This package only knows how to start or resume a
// turn, read a thread's paused state and merge values into it.
//
// # Implementations
//
//   - RemoteEngine: HTTP client for a LangGraph-compatible server. Runs are
//     streamed with stream_mode "values" and parsed as SSE frames.
//   - ScriptedEngine: in-memory engine played by a Script function, used by
//     tests and by the "echo" engine mode for local development.
//
// # Snapshots
//
// Every streamed item is a full state snapshot, validated against a JSON
// Schema before its message lists are decoded. Message lists are keyed by
// name (messages, specialist_messages, patho_messages, radio_messages) and
// current_agent tags which specialist produced the latest step.
package engine
