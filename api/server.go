package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/bradenaw/juniper/xslices"
	"github.com/gorilla/mux"

	"github.com/wricardo/kartrace/game/service"
	"github.com/wricardo/kartrace/game/session"
	"github.com/wricardo/kartrace/game/store"
)

// Server represents the admin REST API server
type Server struct {
	service service.AdminService
	ws      http.Handler
	router  *mux.Router
}

// NewServer creates a new API server. ws serves the game protocol on /ws and
// may be nil when the WebSocket transport is disabled.
func NewServer(adminService service.AdminService, ws http.Handler) *Server {
	s := &Server{
		service: adminService,
		ws:      ws,
		router:  mux.NewRouter(),
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()

	api.HandleFunc("/health", s.handleHealth).Methods("GET")
	api.HandleFunc("/status", s.handleStatus).Methods("GET")

	// Sessions
	api.HandleFunc("/sessions", s.handleListSessions).Methods("GET")
	api.HandleFunc("/sessions/{id}", s.handleGetSession).Methods("GET")
	api.HandleFunc("/sessions/{id}", s.handleKickSession).Methods("DELETE")

	// Game state
	api.HandleFunc("/lobby", s.handleLobby).Methods("GET")
	api.HandleFunc("/match", s.handleMatch).Methods("GET")

	// Players
	api.HandleFunc("/players/{name}", s.handlePlayer).Methods("GET")
	api.HandleFunc("/leaderboard", s.handleLeaderboard).Methods("GET")
	api.HandleFunc("/races", s.handleRaces).Methods("GET")

	if s.ws != nil {
		s.router.Handle("/ws", s.ws)
	}
}

// Router exposes the underlying router so callers can mount extra routes
func (s *Server) Router() *mux.Router {
	return s.router
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Response helpers
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// respondServiceError maps service errors onto HTTP status codes
func respondServiceError(w http.ResponseWriter, err error) {
	if errors.Is(err, service.ErrNotFound) {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	respondError(w, http.StatusInternalServerError, err.Error())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.service.Status(r.Context())
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, status)
}

// Session Handlers

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.service.ListSessions(r.Context())
	if err != nil {
		respondServiceError(w, err)
		return
	}

	// Optional state filter, e.g. ?state=IN_MATCH
	if raw := r.URL.Query().Get("state"); raw != "" {
		var state session.State
		if err := state.UnmarshalText([]byte(raw)); err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		sessions = xslices.Filter(sessions, func(info session.Info) bool {
			return info.State == state
		})
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"count":    len(sessions),
		"sessions": sessions,
	})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["id"]

	info, err := s.service.GetSession(r.Context(), sessionID)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, info)
}

func (s *Server) handleKickSession(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["id"]

	if err := s.service.KickSession(r.Context(), sessionID); err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"message": fmt.Sprintf("Session %s kicked", sessionID),
	})
}

// Game State Handlers

func (s *Server) handleLobby(w http.ResponseWriter, r *http.Request) {
	state, err := s.service.LobbyState(r.Context())
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, state)
}

func (s *Server) handleMatch(w http.ResponseWriter, r *http.Request) {
	state, err := s.service.MatchState(r.Context())
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, state)
}

// Player Handlers

func (s *Server) handlePlayer(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	stats, err := s.service.PlayerStats(r.Context(), name)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r, store.DefaultLeaderboardSize)
	if !ok {
		return
	}

	board, err := s.service.Leaderboard(r.Context(), limit)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"limit":   limit,
		"players": board,
	})
}

func (s *Server) handleRaces(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r, store.DefaultRaceHistory)
	if !ok {
		return
	}

	races, err := s.service.RecentRaces(r.Context(), limit)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"count": len(races),
		"races": races,
	})
}

// parseLimit reads ?limit=N, writing a 400 response when it is invalid
func parseLimit(w http.ResponseWriter, r *http.Request, def int) (int, bool) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return def, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		respondError(w, http.StatusBadRequest, "limit must be a positive integer")
		return 0, false
	}
	return n, true
}
