package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/wricardo/kartrace/game/lobby"
	"github.com/wricardo/kartrace/game/match"
	"github.com/wricardo/kartrace/game/race"
	"github.com/wricardo/kartrace/game/service"
	"github.com/wricardo/kartrace/game/session"
	"github.com/wricardo/kartrace/game/store"
)

// Client is a thin MCP client that proxies to the admin REST API
type Client struct {
	baseURL    string
	httpClient *http.Client
	mcpServer  *server.MCPServer
}

// NewClient creates a new MCP client that calls the REST API
func NewClient(baseURL string) *Client {
	c := &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}

	c.initMCPServer()
	return c
}

// initMCPServer initializes the MCP server with all tools
func (c *Client) initMCPServer() {
	c.mcpServer = server.NewMCPServer(
		"Kart Race Server",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions(`Kart Race Server - MCP Admin Interface

This is a thin client that proxies all requests to the server's admin REST API.
Players connect over TCP or WebSocket, gather in a shared lobby, ready up and race.

AVAILABLE TOOLS:
- server_status: Session counts, lobby occupancy and whether a match is running
- list_sessions: Every connected client with its protocol state and slot
- lobby_state: Seats, vehicles, readiness and the shared map choice
- match_state: The roster of the running match
- player_stats: Wins and races played for one account
- leaderboard: Top players by wins
- recent_races: Finished races with their winners
- kick_session: Disconnect a client (it leaves the lobby or match as if it dropped)`),
	)

	c.registerTools()
}

// registerTools registers all MCP tools
func (c *Client) registerTools() {
	empty := mcp.ToolInputSchema{
		Type:       "object",
		Properties: map[string]interface{}{},
	}

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "server_status",
		Description: "Get a summary of sessions, the lobby and the current match",
		InputSchema: empty,
	}, c.handleServerStatus)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "list_sessions",
		Description: "List connected sessions, optionally filtered by protocol state",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"state": map[string]interface{}{
					"type":        "string",
					"enum":        []string{"CONNECTING", "AUTHENTICATING", "AUTHENTICATED", "IN_LOBBY", "IN_MATCH"},
					"description": "Only list sessions in this state",
				},
			},
		},
	}, c.handleListSessions)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "lobby_state",
		Description: "Get lobby seats, free slots and the shared map",
		InputSchema: empty,
	}, c.handleLobbyState)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "match_state",
		Description: "Get the roster of the running match",
		InputSchema: empty,
	}, c.handleMatchState)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "player_stats",
		Description: "Get wins and races played for one player",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"name": map[string]interface{}{
					"type":        "string",
					"description": "Player username",
				},
			},
			Required: []string{"name"},
		},
	}, c.handlePlayerStats)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "leaderboard",
		Description: "List the top players by wins",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"limit": map[string]interface{}{
					"type":        "number",
					"description": "Number of players to return (default 10)",
				},
			},
		},
	}, c.handleLeaderboard)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "recent_races",
		Description: "List recently finished races, newest first",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"limit": map[string]interface{}{
					"type":        "number",
					"description": "Number of races to return (default 20)",
				},
			},
		},
	}, c.handleRecentRaces)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "kick_session",
		Description: "Disconnect a session",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"session_id": map[string]interface{}{
					"type":        "string",
					"description": "Session ID to disconnect",
				},
			},
			Required: []string{"session_id"},
		},
	}, c.handleKickSession)
}

// GetMCPServer returns the underlying MCP server
func (c *Client) GetMCPServer() *server.MCPServer {
	return c.mcpServer
}

// Helper methods for API calls

func (c *Client) apiCall(ctx context.Context, method, path string, body interface{}, result interface{}) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewBuffer(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return err
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var errResp map[string]string
		json.NewDecoder(resp.Body).Decode(&errResp)
		if msg, ok := errResp["error"]; ok {
			return fmt.Errorf("%s", msg)
		}
		return fmt.Errorf("API error: %d", resp.StatusCode)
	}

	if result != nil {
		return json.NewDecoder(resp.Body).Decode(result)
	}

	return nil
}

// Tool handlers

func (c *Client) handleServerStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var status service.ServerStatus
	if err := c.apiCall(ctx, "GET", "/api/status", nil, &status); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(formatStatus(&status)), nil
}

func (c *Client) handleListSessions(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path := "/api/sessions"
	if state, _ := request.GetArguments()["state"].(string); state != "" {
		path += "?state=" + url.QueryEscape(state)
	}

	var response struct {
		Count    int            `json:"count"`
		Sessions []session.Info `json:"sessions"`
	}
	if err := c.apiCall(ctx, "GET", path, nil, &response); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	result := fmt.Sprintf("Sessions (%d):\n\n", response.Count)
	for _, s := range response.Sessions {
		result += formatSession(&s) + "\n"
	}
	return mcp.NewToolResultText(result), nil
}

func (c *Client) handleLobbyState(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var state lobby.State
	if err := c.apiCall(ctx, "GET", "/api/lobby", nil, &state); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(formatLobby(&state)), nil
}

func (c *Client) handleMatchState(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var state match.State
	if err := c.apiCall(ctx, "GET", "/api/match", nil, &state); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(formatMatch(&state)), nil
}

func (c *Client) handlePlayerStats(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, _ := request.GetArguments()["name"].(string)
	if name == "" {
		return mcp.NewToolResultError("name is required"), nil
	}

	var stats store.PlayerStats
	if err := c.apiCall(ctx, "GET", "/api/players/"+url.PathEscape(name), nil, &stats); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	result := fmt.Sprintf("Player: %s\nWins: %d\nRaces played: %d\n", stats.Username, stats.Wins, stats.RacesPlayed)
	if !stats.CreatedAt.IsZero() {
		result += fmt.Sprintf("Registered: %s\n", stats.CreatedAt.Format(time.RFC3339))
	}
	return mcp.NewToolResultText(result), nil
}

func (c *Client) handleLeaderboard(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path := "/api/leaderboard"
	if limit, ok := request.GetArguments()["limit"].(float64); ok && limit > 0 {
		path += fmt.Sprintf("?limit=%d", int(limit))
	}

	var response struct {
		Players []store.PlayerStats `json:"players"`
	}
	if err := c.apiCall(ctx, "GET", path, nil, &response); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	if len(response.Players) == 0 {
		return mcp.NewToolResultText("No players yet"), nil
	}
	var b strings.Builder
	b.WriteString("Leaderboard:\n\n")
	for i, p := range response.Players {
		fmt.Fprintf(&b, "%2d. %-16s %d wins / %d races\n", i+1, p.Username, p.Wins, p.RacesPlayed)
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (c *Client) handleRecentRaces(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path := "/api/races"
	if limit, ok := request.GetArguments()["limit"].(float64); ok && limit > 0 {
		path += fmt.Sprintf("?limit=%d", int(limit))
	}

	var response struct {
		Races []race.Record `json:"races"`
	}
	if err := c.apiCall(ctx, "GET", path, nil, &response); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	if len(response.Races) == 0 {
		return mcp.NewToolResultText("No races recorded yet"), nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Recent races (%d):\n\n", len(response.Races))
	for _, r := range response.Races {
		b.WriteString(formatRace(&r))
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (c *Client) handleKickSession(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, _ := request.GetArguments()["session_id"].(string)
	if sessionID == "" {
		return mcp.NewToolResultError("session_id is required"), nil
	}

	if err := c.apiCall(ctx, "DELETE", "/api/sessions/"+url.PathEscape(sessionID), nil, nil); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Session %s kicked", sessionID)), nil
}

// Formatting helpers

func formatStatus(s *service.ServerStatus) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Uptime: %s\n", s.Uptime)
	fmt.Fprintf(&b, "Sessions: %d\n", s.Sessions)
	for state, n := range s.SessionsByState {
		fmt.Fprintf(&b, "  %s: %d\n", state, n)
	}
	if len(s.Online) > 0 {
		fmt.Fprintf(&b, "Online: %s\n", strings.Join(s.Online, ", "))
	}
	fmt.Fprintf(&b, "Lobby: %d occupants, map %d\n", s.LobbyOccupants, s.LobbyMap)
	if s.MatchActive {
		fmt.Fprintf(&b, "Match: %s running with %d racers\n", s.MatchID, s.RosterSize)
	} else {
		b.WriteString("Match: none\n")
	}
	return b.String()
}

func formatSession(s *session.Info) string {
	line := fmt.Sprintf("- %s [%s] from %s", s.ID, s.State, s.Remote)
	if s.User != "" {
		line += fmt.Sprintf(" user=%s", s.User)
	}
	if s.Slot != 0 {
		line += fmt.Sprintf(" slot=%d", s.Slot)
	}
	return line
}

func formatLobby(l *lobby.State) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Map: %d\n", l.Map)
	fmt.Fprintf(&b, "Seats (%d):\n", len(l.Seats))
	for _, seat := range l.Seats {
		ready := "not ready"
		if seat.Ready {
			ready = "ready"
		}
		fmt.Fprintf(&b, "  slot %d: %s (%d wins) vehicle %d, %s\n", seat.Slot, seat.Name, seat.Wins, seat.Vehicle, ready)
	}
	fmt.Fprintf(&b, "Free slots: %v\n", l.Free)
	return b.String()
}

func formatMatch(m *match.State) string {
	if !m.Active {
		return "No match is running"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Match %s on map %d, started %s\n", m.ID, m.Map, m.StartedAt.Format("15:04:05"))
	if m.WinnerDeclared {
		b.WriteString("Winner declared\n")
	}
	fmt.Fprintf(&b, "Roster (%d):\n", len(m.Roster))
	for _, p := range m.Roster {
		fmt.Fprintf(&b, "  slot %d: %s vehicle %d\n", p.Slot, p.Name, p.Vehicle)
	}
	return b.String()
}

func formatRace(r *race.Record) string {
	names := make([]string, 0, len(r.Participants))
	for _, p := range r.Participants {
		names = append(names, p.Name)
	}

	result := fmt.Sprintf("- %s map %d, %s, %s [%s]",
		r.ID, r.Map, r.FinishedAt.Sub(r.StartedAt).Round(time.Second), r.Outcome, strings.Join(names, ", "))
	if r.Winner != "" {
		result += fmt.Sprintf(" winner %s (slot %d)", r.Winner, r.WinnerSlot)
	}
	return result + "\n"
}
