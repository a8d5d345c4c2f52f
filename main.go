// Command kartrace runs the kart race session server.
//
// Commands:
//  1. "serve" (default) – accepts game clients over TCP and WebSocket and
//     exposes the admin REST API and an /mcp HTTP endpoint
//  2. "mcp" – runs an MCP stdio server against a running instance, or an
//     in-process one when none answers
//  3. "register", "wins" – account maintenance against the configured store
//  4. "check-config" – prints the effective configuration
//
// Configuration comes from an optional JSON file, .env, KART_* variables and
// flags, in increasing precedence.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/pkg/profile"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v3"

	"github.com/wricardo/kartrace/game/config"
	"github.com/wricardo/kartrace/game/store"
	"github.com/wricardo/kartrace/transport/mcp"
)

// Version information
const (
	Version = "1.0.0"
	AppName = "Kart Race Server"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp().Run(ctx, os.Args); err != nil {
		logrus.WithError(err).Fatal("kartrace failed")
	}
}

func newApp() *cli.Command {
	return &cli.Command{
		Name:    "kartrace",
		Usage:   "multiplayer kart race session server",
		Version: Version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to a JSON configuration file",
				Sources: cli.EnvVars("KART_CONFIG"),
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "enable debug logging",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "log level (trace, debug, info, warn, error)",
			},
			&cli.StringFlag{
				Name:  "store-driver",
				Usage: "persistence driver (sqlite3, postgres, memory)",
			},
			&cli.StringFlag{
				Name:  "store-dsn",
				Usage: "persistence data source name",
			},
		},
		DefaultCommand: "serve",
		Commands: []*cli.Command{
			serveCommand(),
			mcpCommand(),
			registerCommand(),
			winsCommand(),
			checkConfigCommand(),
		},
	}
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "run the game server with the admin API",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "listen", Usage: "TCP address for game clients"},
			&cli.StringFlag{Name: "http", Usage: "HTTP address for the admin API, /ws and /mcp (empty disables)"},
			&cli.BoolFlag{Name: "ngrok", Usage: "expose the HTTP listener through an ngrok tunnel", Sources: cli.EnvVars("NGROK_ENABLED")},
			&cli.StringFlag{Name: "ngrok-auth", Usage: "ngrok auth token", Sources: cli.EnvVars("NGROK_AUTHTOKEN", "NGROK_AUTH_TOKEN")},
			&cli.StringFlag{Name: "ngrok-domain", Usage: "custom ngrok domain", Sources: cli.EnvVars("NGROK_DOMAIN")},
			&cli.BoolFlag{Name: "profile-cpu", Usage: "enable CPU profiling"},
			&cli.BoolFlag{Name: "profile-mem", Usage: "enable memory profiling"},
			&cli.BoolFlag{Name: "profile-lock", Usage: "enable lock profiling"},
			&cli.StringFlag{Name: "profile-path", Usage: "directory for profile data"},
		},
		Action: runServe,
	}
}

func mcpCommand() *cli.Command {
	return &cli.Command{
		Name:  "mcp",
		Usage: "run an MCP stdio server for the admin API",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "api-url",
				Usage: "admin API of a running server",
				Value: "http://localhost:8080",
			},
		},
		Action: runStdioMCP,
	}
}

func registerCommand() *cli.Command {
	return &cli.Command{
		Name:      "register",
		Usage:     "create a player account",
		ArgsUsage: "<username> <password>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.Args().Len() != 2 {
				return fmt.Errorf("expected <username> <password>")
			}
			user, pass := cmd.Args().Get(0), cmd.Args().Get(1)

			return withStore(cmd, func(st store.Store) error {
				ok, err := st.Register(ctx, user, pass)
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("username %q is taken or invalid", user)
				}
				fmt.Fprintf(cmd.Root().Writer, "Registered %s\n", user)
				return nil
			})
		},
	}
}

func winsCommand() *cli.Command {
	return &cli.Command{
		Name:      "wins",
		Usage:     "show a player's statistics, or the leaderboard without arguments",
		ArgsUsage: "[username]",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return withStore(cmd, func(st store.Store) error {
				out := cmd.Root().Writer
				if cmd.Args().Present() {
					stats, err := st.Player(ctx, cmd.Args().First())
					if err != nil {
						return err
					}
					fmt.Fprintf(out, "%s: %d wins, %d races\n", stats.Username, stats.Wins, stats.RacesPlayed)
					return nil
				}

				board, err := st.Leaderboard(ctx, store.DefaultLeaderboardSize)
				if err != nil {
					return err
				}
				for i, p := range board {
					fmt.Fprintf(out, "%2d. %s: %d wins, %d races\n", i+1, p.Username, p.Wins, p.RacesPlayed)
				}
				return nil
			})
		},
	}
}

func checkConfigCommand() *cli.Command {
	return &cli.Command{
		Name:  "check-config",
		Usage: "validate and print the effective configuration",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.Root().Writer)
			enc.SetIndent("", "  ")
			return enc.Encode(cfg)
		},
	}
}

// loadConfig layers flags over config.Load and validates the result.
func loadConfig(cmd *cli.Command) (*config.Config, error) {
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return nil, err
	}

	override := func(flag string, dst *string) {
		if cmd.IsSet(flag) {
			*dst = cmd.String(flag)
		}
	}
	override("store-driver", &cfg.StoreDriver)
	override("store-dsn", &cfg.StoreDSN)
	override("log-level", &cfg.LogLevel)
	override("listen", &cfg.ListenAddr)
	override("http", &cfg.HTTPAddr)
	if cmd.Bool("debug") {
		cfg.LogLevel = "debug"
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setupLogging applies the configured level and returns the root entry
func setupLogging(cfg *config.Config) *logrus.Entry {
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logrus.SetLevel(level)
	}
	if logrus.IsLevelEnabled(logrus.DebugLevel) {
		logrus.SetReportCaller(true)
	}
	return logrus.WithField("app", "kartrace")
}

func withStore(cmd *cli.Command, fn func(store.Store) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	st, err := store.New(cfg.StoreDriver, cfg.StoreDSN)
	if err != nil {
		return err
	}
	defer st.Close()
	return fn(st)
}

// runServe runs the server until the context is cancelled by a signal.
func runServe(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	log := setupLogging(cfg)

	// pkg/profile allows one profile per process; cpu wins over mem over lock
	profilePath := profile.ProfilePath(cmd.String("profile-path"))
	switch {
	case cmd.Bool("profile-cpu"):
		defer profile.Start(profile.CPUProfile, profilePath, profile.NoShutdownHook).Stop()
	case cmd.Bool("profile-mem"):
		defer profile.Start(profile.MemProfile, profile.MemProfileAllocs, profilePath, profile.NoShutdownHook).Stop()
	case cmd.Bool("profile-lock"):
		defer profile.Start(profile.MutexProfile, profilePath, profile.NoShutdownHook).Stop()
	}

	log.WithFields(logrus.Fields{
		"version": Version,
		"store":   cfg.StoreDriver,
	}).Infof("Starting %s", AppName)

	g, err := newGameServer(cfg, log)
	if err != nil {
		return err
	}
	if err := g.start(ctx); err != nil {
		g.store.Close()
		return err
	}

	if cmd.Bool("ngrok") && g.httpServer != nil {
		go runTunnel(ctx, tunnelOptions{
			AuthToken: cmd.String("ngrok-auth"),
			Domain:    cmd.String("ngrok-domain"),
		}, g.httpServer.Handler, log)
	}

	<-ctx.Done()
	log.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return g.shutdown(shutdownCtx)
}

// runStdioMCP serves MCP over stdio. It uses the admin API at --api-url when
// it answers and otherwise starts an in-process server on loopback ports.
func runStdioMCP(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	// stdout carries the MCP stream
	logrus.SetOutput(os.Stderr)
	log := setupLogging(cfg)

	baseURL := cmd.String("api-url")
	if !apiAvailable(baseURL) {
		log.WithField("api", baseURL).Info("No running server found, starting an internal one")

		cfg.ListenAddr = "127.0.0.1:0"
		cfg.HTTPAddr = "127.0.0.1:0"
		g, err := newGameServer(cfg, log)
		if err != nil {
			return err
		}
		if err := g.start(ctx); err != nil {
			g.store.Close()
			return err
		}
		defer g.shutdown(context.Background())
		baseURL = g.httpURL()
	}

	log.WithField("api", baseURL).Info("MCP stdio server ready")
	if err := server.ServeStdio(mcp.NewClient(baseURL).GetMCPServer()); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("MCP stdio server error: %w", err)
	}
	return nil
}

func apiAvailable(baseURL string) bool {
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(baseURL + "/api/health")
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
