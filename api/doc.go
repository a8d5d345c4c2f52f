// Package api provides the HTTP admin API of the kart race server.
//
// The api package implements:
//   - Read-only views of server, lobby and match state
//   - Session inspection and operator kicks
//   - Player statistics, the leaderboard and race history
//   - Mounting of the WebSocket game transport
//
// Endpoints:
//
// Server:
//   - GET /api/health - Liveness probe
//   - GET /api/status - Session counts, lobby and match summary
//
// Sessions:
//   - GET /api/sessions - List live sessions (optional ?state=IN_LOBBY)
//   - GET /api/sessions/{id} - Get one session
//   - DELETE /api/sessions/{id} - Kick a session
//
// Game state:
//   - GET /api/lobby - Seats, free slots and the shared map
//   - GET /api/match - Active match roster
//
// Players:
//   - GET /api/players/{name} - Wins and races played
//   - GET /api/leaderboard - Top players by wins (optional ?limit=N)
//   - GET /api/races - Recent race records, newest first (optional ?limit=N)
//
// Game transport:
//   - /ws - The line protocol over WebSocket text frames
//
// Request/Response Format:
//
// All endpoints return JSON. Errors are returned as
//
//	{"error": "message"}
//
// with 404 for unknown sessions or players and 500 for storage failures.
//
// Usage:
//
//	admin := service.NewAdminService(srv, lobbyCoord, matchCoord, st)
//	apiServer := api.NewServer(admin, wsAcceptor)
//	http.ListenAndServe(":8080", apiServer)
package api
