// Package mcp provides the Model Context Protocol interface of the kart race
// server.
//
// The mcp package implements:
//   - An MCP server for operator tooling and AI agents
//   - Tool definitions that proxy the admin REST API
//   - Plain-text formatting of server, lobby and match state
//
// MCP Tools:
//   - server_status: Session counts, lobby and match summary
//   - list_sessions: Connected sessions with optional state filter
//   - lobby_state: Seats, vehicles, readiness and map
//   - match_state: Running match roster
//   - player_stats: Wins and races for one account
//   - leaderboard: Top players by wins
//   - recent_races: Finished races with their outcome
//   - kick_session: Disconnect a session
//
// Transport Modes:
//
// The same Client serves two modes:
//   - Stdio: the "mcp" command runs server.ServeStdio against a remote server
//   - HTTP: the "serve" command mounts GetMCPServer().HandleMessage on POST /mcp
//
// Usage:
//
//	client := mcp.NewClient("http://localhost:8080")
//	server.ServeStdio(client.GetMCPServer())
package mcp
