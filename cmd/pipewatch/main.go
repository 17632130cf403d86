// pipewatch — headless client for the agent pipeline server: follows the
// live event stream, reconciles state over REST, and serves a local
// read-only status API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/oklog/run"

	"github.com/codeready-toolchain/pipewatch/pkg/client"
	"github.com/codeready-toolchain/pipewatch/pkg/config"
	"github.com/codeready-toolchain/pipewatch/pkg/protocol"
	"github.com/codeready-toolchain/pipewatch/pkg/reconcile"
	"github.com/codeready-toolchain/pipewatch/pkg/render"
	"github.com/codeready-toolchain/pipewatch/pkg/restapi"
	"github.com/codeready-toolchain/pipewatch/pkg/session"
	"github.com/codeready-toolchain/pipewatch/pkg/session/store"
	"github.com/codeready-toolchain/pipewatch/pkg/statusapi"
	"github.com/codeready-toolchain/pipewatch/pkg/stream"
	"github.com/codeready-toolchain/pipewatch/pkg/transport"
	"github.com/codeready-toolchain/pipewatch/pkg/version"
)

const startupTimeout = 30 * time.Second

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "pipewatch.yaml"
	}
	return filepath.Join(home, ".pipewatch", "config.yaml")
}

func main() {
	configPath := flag.String("config",
		getEnv("PIPEWATCH_CONFIG", defaultConfigPath()),
		"Path to configuration file")
	envPath := flag.String("env", ".env", "Path to .env file")
	watch := flag.String("watch", "", "Comma-separated pipeline ids to follow")
	ticket := flag.String("ticket", "", "Ticket key to open a tab for")
	flag.Parse()

	if err := godotenv.Load(*envPath); err != nil {
		slog.Debug("No .env file loaded, continuing with existing environment",
			"path", *envPath, "error", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.Default()
	slog.Info("Starting pipewatch",
		"version", version.Full(),
		"api_url", cfg.APIURL,
		"socket_url", cfg.SocketURL,
		"auth_configured", cfg.Auth.Configured())

	ctx := context.Background()

	// Local session persistence (SQLite).
	persistence, err := store.Open(ctx, cfg.Session.DBPath, logger)
	if err != nil {
		slog.Error("Failed to open session store", "path", cfg.Session.DBPath, "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := persistence.Close(); err != nil {
			slog.Error("Error closing session store", "error", err)
		}
	}()

	api := restapi.NewClient(cfg.APIURL, cfg.Auth.Token())
	pipelines := stream.NewStore(logger)
	coordinator := reconcile.NewCoordinator(api, pipelines, logger)
	sessions := session.NewManager(persistence, api, logger)

	// Restore the session before opening the socket. An unreachable server
	// is non-fatal here: the transport will keep retrying and the persisted
	// session stays in effect.
	restoreCtx, cancel := context.WithTimeout(ctx, startupTimeout)
	if err := sessions.Restore(restoreCtx); err != nil {
		slog.Warn("Session restore failed, continuing with local session", "error", err)
	}
	cancel()

	if *ticket != "" {
		if err := sessions.OpenTab(ctx, *ticket, ""); err != nil {
			slog.Warn("Could not open tab", "ticket", *ticket, "error", err)
		}
	}

	c := client.New(pipelines, sessions, coordinator, client.Options{
		SocketURL:         cfg.SocketURL,
		HeartbeatInterval: cfg.Transport.Heartbeat(),
		ReconnectDelay:    cfg.Transport.Reconnect(),
		Logger:            logger,
		OnEvent:           printEvent,
		OnStatus: func(st transport.Status) {
			fmt.Fprintln(os.Stderr, render.ConnBadge(st))
		},
	})

	var group run.Group

	group.Add(run.SignalHandler(ctx, os.Interrupt))

	// Socket lifecycle: connect, then hold until shutdown.
	socketDone := make(chan struct{})
	group.Add(func() error {
		c.Start()
		for _, id := range splitList(*watch) {
			watchCtx, cancel := context.WithTimeout(ctx, startupTimeout)
			if err := c.Watch(watchCtx, id); err != nil {
				slog.Warn("Initial reconciliation failed, live events will still apply",
					"pipeline_id", id, "error", err)
			}
			cancel()
		}
		<-socketDone
		return nil
	}, func(error) {
		close(socketDone)
		c.Close()
	})

	if cfg.StatusAPI.On() {
		statusServer := statusapi.NewServer(pipelines, sessions, c.Status)
		group.Add(func() error {
			slog.Info("Status API listening", "addr", cfg.StatusAPI.ListenAddr)
			return statusServer.Run(cfg.StatusAPI.ListenAddr)
		}, func(error) {
			shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			if err := statusServer.Shutdown(shutdownCtx); err != nil {
				slog.Error("Status API shutdown error", "error", err)
			}
		})
	}

	err = group.Run()
	var sigErr run.SignalError
	if err != nil && !errors.As(err, &sigErr) {
		slog.Error("Shutdown with error", "error", err)
		os.Exit(1)
	}
	slog.Info("Shutdown complete")
}

// printEvent writes live activity to stdout. Tokens are streamed raw so the
// step output appears as it is generated; everything else gets one line.
func printEvent(evt protocol.Event) {
	if tok, ok := evt.(protocol.Token); ok {
		fmt.Print(tok.Content)
		return
	}
	if line := render.EventLine(evt); line != "" {
		fmt.Println(line)
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
