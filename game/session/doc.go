// Package session provides connection and session management for the kart
// race server.
//
// The session package implements:
//   - A thread-safe registry of live sessions
//   - Best-effort fan-out of protocol lines to a set of sessions
//   - Liveness sweeping of silent connections
//   - The per-connection session state machine
//   - The accept loop that turns listener connections into sessions
//
// Core Types:
//
// Registry tracks every live Session by ID. Server owns the registry and the
// lobby and match coordinators and runs one Session per accepted Conn.
// Session holds the connection, the authenticated identity, the lobby slot and
// the state:
//
//	CONNECTING -> AUTHENTICATING -> AUTHENTICATED -> IN_LOBBY -> IN_MATCH -> CLOSED
//
// Session Identifiers:
//
// Sessions are identified by random UUIDs assigned on accept.
//
// Concurrency:
//
// Every session runs one reader goroutine that decodes and handles commands
// in order, and one writer goroutine that drains a buffered outbound queue.
// Enqueueing never blocks: a full queue drops the line and logs it. All
// teardown paths (END_CONNECTION, I/O errors, liveness sweep, admin kick and
// shutdown) go through Session.Close, which is idempotent.
//
// Usage:
//
//	reg := session.NewRegistry(log)
//	m := match.NewCoordinator(match.Options{}, reg, st, log)
//	l := lobby.NewCoordinator(lobby.Options{}, reg, m, log)
//	srv := session.NewServer(session.Options{}, reg, l, m, st, log)
//
//	go reg.RunSweeper(ctx, 5*time.Second, 5*time.Minute)
//	err := srv.Serve(ctx, listener)
package session
