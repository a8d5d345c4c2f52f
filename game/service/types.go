package service

import "time"

// ServerStatus summarizes the running server
type ServerStatus struct {
	StartedAt       time.Time      `json:"started_at"`
	Uptime          string         `json:"uptime"`
	Sessions        int            `json:"sessions"`
	SessionsByState map[string]int `json:"sessions_by_state"`
	Online          []string       `json:"online"`
	LobbyOccupants  int            `json:"lobby_occupants"`
	LobbyMap        int            `json:"lobby_map"`
	MatchActive     bool           `json:"match_active"`
	MatchID         string         `json:"match_id,omitempty"`
	RosterSize      int            `json:"roster_size"`
}
