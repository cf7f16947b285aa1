// Package gateway orchestrates the consult-gateway server components.
//
// # Overview
//
// The gateway package is the central coordinator of the consult-gateway
// server. It owns the data store, the graph engine client, the thread
// registry and the HTTP, gRPC and Tailscale listeners.
//
// # Gateway Struct
//
// The Gateway struct is the main entry point:
//
//	type Gateway struct {
//	    config      *config.Config
//	    store       store.Store
//	    engine      engine.Engine
//	    bridge      *bridge.Bridge
//	    threads     threads.Registry
//	    tokens      *auth.JWTService
//	    grpcServer  *grpc.Server
//	    httpServer  *http.Server
//	    // ... and more
//	}
//
// New builds every dependency from config. NewWithDeps takes a prebuilt
// store, engine and registry, which is how the tests run it.
//
// # HTTP API
//
//   - POST /users - Register a patient
//   - POST /login - Exchange form credentials for a bearer token
//   - GET /users/me - The authenticated patient
//   - GET /doctors - Static specialist list
//   - GET /graph/start/stream - Start a consultation (SSE)
//   - GET /graph/resume/stream - Answer a paused consultation (SSE)
//   - GET /consultations - The caller's consultations
//   - GET /consultations/{id} - One consultation with lab orders and reports
//   - GET /consultations/{id}/events - The consultation's event ledger
//   - GET /health - Liveness check
//   - GET /health/ready - Readiness check
//
// Errors are JSON bodies of the form {"detail": "..."}.
//
// # SSE Streaming
//
// The stream endpoints authenticate with a token query parameter, since
// browsers cannot set headers on an EventSource:
//
//	event: thread
//	data: {"thread_id": "..."}
//
//	event: message
//	data: {"thread_id": "...", "speaker": "GP", "content": "..."}
//
//	event: ask_user
//	data: {"thread_id": "...", "question": "...", "current_agent": "GP"}
//
// Event types: thread, tool, message, ask_user, final, error. Each turn
// ends with exactly one of ask_user, final or error unless the client
// disconnects first. Every event is also written to the consultation's
// ledger.
//
// # gRPC
//
// When server.grpc_addr is set the gateway serves the standard gRPC health
// service and reflection. There is no application gRPC API.
//
// # Lifecycle
//
//	gw, err := gateway.New(cfg, logger)
//	err = gw.Run(ctx) // blocks until ctx is done, then shuts down
//
// # Key Files
//
//   - gateway.go: Gateway struct, initialization, Run/Shutdown
//   - users.go: registration, login and /users/me
//   - stream.go: start and resume SSE handlers
//   - consultations.go: consultation, ledger and doctor views
//   - events.go: ledger writes and status transitions
//   - api.go: response types, JSON and SSE helpers
//   - grpc.go: health service
package gateway
