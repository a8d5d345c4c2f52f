// Package service provides the administration layer of the kart race server.
//
// The service package implements:
//   - Server status reporting
//   - Session listing, inspection and kicking
//   - Lobby and match snapshots
//   - Player statistics, the leaderboard and race history
//
// Core Interfaces:
//
// AdminService is the interface consumed by the HTTP API and the MCP tools.
// SessionDirectory, LobbyView, MatchView and RecordStore are the narrow views
// of the session server, the coordinators and the store it is built from.
//
// Architecture:
//
// The service layer sits between the admin transports (HTTP/MCP) and the live
// game state. It never mutates lobby or match state; the only write it
// performs is closing a session on request.
//
// Usage:
//
//	admin := service.NewAdminService(srv, lobbyCoord, matchCoord, st)
//	status, err := admin.Status(ctx)
package service
