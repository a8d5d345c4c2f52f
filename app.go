package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.ngrok.com/ngrok"
	ngrokConfig "golang.ngrok.com/ngrok/config"

	"github.com/wricardo/kartrace/api"
	"github.com/wricardo/kartrace/game/config"
	"github.com/wricardo/kartrace/game/lobby"
	"github.com/wricardo/kartrace/game/match"
	"github.com/wricardo/kartrace/game/service"
	"github.com/wricardo/kartrace/game/session"
	"github.com/wricardo/kartrace/game/store"
	"github.com/wricardo/kartrace/transport/mcp"
	"github.com/wricardo/kartrace/transport/tcp"
	"github.com/wricardo/kartrace/transport/websocket"
)

// gameServer wires the store, the coordinators, the session server and every
// listener of one running instance.
type gameServer struct {
	cfg *config.Config
	log *logrus.Entry

	store    store.Store
	registry *session.Registry
	lobby    *lobby.Coordinator
	match    *match.Coordinator
	sessions *session.Server
	admin    service.AdminService
	ws       *websocket.Acceptor

	tcpLn      *tcp.Listener
	httpLn     net.Listener
	httpServer *http.Server

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// newGameServer opens the store and builds the component graph. Nothing
// listens until start is called.
func newGameServer(cfg *config.Config, log *logrus.Entry) (*gameServer, error) {
	st, err := store.New(cfg.StoreDriver, cfg.StoreDSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	registry := session.NewRegistry(log)
	matchCoord := match.NewCoordinator(match.Options{
		TelemetryEpsilon:   cfg.TelemetryEpsilon,
		CollisionTolerance: cfg.CollisionTolerance.Std(),
		CollisionRetention: cfg.CollisionRetention.Std(),
	}, registry, st, log)
	lobbyCoord := lobby.NewCoordinator(lobby.Options{
		Slots:          cfg.Slots,
		VehicleOptions: cfg.VehicleOptions,
		MinPlayers:     cfg.MinPlayers,
	}, registry, matchCoord, log)
	sessions := session.NewServer(session.Options{
		SendBuffer:     cfg.SendBuffer,
		TelemetryRate:  cfg.TelemetryRate,
		TelemetryBurst: cfg.TelemetryBurst,
	}, registry, lobbyCoord, matchCoord, st, log)

	return &gameServer{
		cfg:      cfg,
		log:      log,
		store:    st,
		registry: registry,
		lobby:    lobbyCoord,
		match:    matchCoord,
		sessions: sessions,
		admin:    service.NewAdminService(sessions, lobbyCoord, matchCoord, st),
		ws:       websocket.NewAcceptor("/ws", log),
	}, nil
}

// start opens the TCP listener and, when an HTTP address is configured, the
// admin API with the WebSocket transport and the /mcp endpoint.
func (g *gameServer) start(ctx context.Context) error {
	ctx, g.cancel = context.WithCancel(ctx)

	tcpLn, err := tcp.Listen(g.cfg.ListenAddr)
	if err != nil {
		g.cancel()
		return err
	}
	g.tcpLn = tcpLn

	if g.cfg.HTTPAddr != "" {
		httpLn, err := net.Listen("tcp", g.cfg.HTTPAddr)
		if err != nil {
			g.cancel()
			tcpLn.Close()
			return fmt.Errorf("failed to listen on %s: %w", g.cfg.HTTPAddr, err)
		}
		g.httpLn = httpLn
		g.httpServer = &http.Server{
			Handler:     g.handler(),
			ReadTimeout: 15 * time.Second,
			IdleTimeout: 60 * time.Second,
		}
	}

	g.goServe("tcp", func() error { return g.sessions.Serve(ctx, g.tcpLn) })
	if g.httpServer != nil {
		g.goServe("websocket", func() error { return g.sessions.Serve(ctx, g.ws) })
		g.goServe("http", func() error {
			if err := g.httpServer.Serve(g.httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}

	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		g.registry.RunSweeper(ctx, g.cfg.SweepInterval.Std(), g.cfg.LivenessTimeout.Std())
	}()

	fields := logrus.Fields{"tcp": g.tcpLn.Addr()}
	if g.httpLn != nil {
		fields["http"] = g.httpURL()
	}
	g.log.WithFields(fields).Info("Server started")
	return nil
}

func (g *gameServer) goServe(name string, serve func() error) {
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		if err := serve(); err != nil {
			g.log.WithError(err).WithField("listener", name).Error("Listener failed")
		}
	}()
}

// handler returns the admin API router with /mcp mounted on it
func (g *gameServer) handler() http.Handler {
	apiServer := api.NewServer(g.admin, g.ws)
	mcpClient := mcp.NewClient(g.httpURL())
	apiServer.Router().HandleFunc("/mcp", mcpHandler(mcpClient)).Methods("POST")
	return apiServer
}

// httpURL is the loopback URL of the HTTP listener
func (g *gameServer) httpURL() string {
	if g.httpLn == nil {
		return ""
	}
	return "http://" + loopbackAddr(g.httpLn.Addr())
}

// shutdown stops accepting, closes every session and the store.
func (g *gameServer) shutdown(ctx context.Context) error {
	var errs []error
	if g.httpServer != nil {
		if err := g.httpServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
	}
	g.ws.Close()
	if g.tcpLn != nil {
		g.tcpLn.Close()
	}
	if g.cancel != nil {
		g.cancel()
	}

	g.sessions.Shutdown()
	g.wg.Wait()

	if err := g.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("store close: %w", err))
	}
	g.log.Info("Server stopped")
	return errors.Join(errs...)
}

// mcpHandler serves MCP JSON-RPC messages over plain HTTP POST
func mcpHandler(client *mcp.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "Failed to read request", http.StatusBadRequest)
			return
		}
		defer r.Body.Close()

		response := client.GetMCPServer().HandleMessage(r.Context(), body)

		w.Header().Set("Content-Type", "application/json")
		responseData, err := json.Marshal(response)
		if err != nil {
			http.Error(w, "Failed to marshal response", http.StatusInternalServerError)
			return
		}
		w.Write(responseData)
	}
}

// tunnelOptions configures the optional ngrok tunnel
type tunnelOptions struct {
	AuthToken string
	Domain    string
}

// runTunnel exposes handler through ngrok until ctx is cancelled.
func runTunnel(ctx context.Context, opts tunnelOptions, handler http.Handler, log *logrus.Entry) {
	log = log.WithField("component", "ngrok")
	if opts.AuthToken == "" {
		log.Warn("Ngrok enabled but no auth token provided (use --ngrok-auth or NGROK_AUTHTOKEN)")
		return
	}

	var tunnel ngrokConfig.Tunnel
	if opts.Domain != "" {
		tunnel = ngrokConfig.HTTPEndpoint(ngrokConfig.WithDomain(opts.Domain))
	} else {
		tunnel = ngrokConfig.HTTPEndpoint()
	}

	tun, err := ngrok.Listen(ctx, tunnel, ngrok.WithAuthtoken(opts.AuthToken))
	if err != nil {
		log.WithError(err).Error("Failed to start ngrok tunnel")
		return
	}
	stop := context.AfterFunc(ctx, func() { tun.Close() })
	defer stop()

	url := tun.URL()
	log.WithFields(logrus.Fields{
		"url":       url,
		"api":       url + "/api",
		"websocket": url + "/ws",
		"mcp":       url + "/mcp",
	}).Info("Ngrok tunnel established")

	if err := http.Serve(tun, handler); err != nil && !errors.Is(err, http.ErrServerClosed) && ctx.Err() == nil {
		log.WithError(err).Error("Ngrok server error")
	}
	log.Info("Ngrok tunnel closed")
}

// loopbackAddr turns a wildcard listen address into one a local client can dial.
func loopbackAddr(addr net.Addr) string {
	host, port, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	if ip := net.ParseIP(host); host == "" || (ip != nil && ip.IsUnspecified()) {
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, port)
}
