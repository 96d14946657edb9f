// Command diverterd is the controller daemon: it loads configuration,
// recovers any stale state from a previous instance, serves the IPC
// surface, and composes the strategy/firewall/worker triad for start/stop
// requests.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"diverter/internal/config"
	"diverter/internal/firewall"
	"diverter/internal/ipc"
	"diverter/internal/logging"
	"diverter/internal/session"
)

func main() {
	configPath := flag.String("config", "", "configuration file path")
	socketOverride := flag.String("socket", "", "override the configured socket path")
	jsonLogs := flag.Bool("json-logs", false, "emit logs as JSON instead of the console format")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "diverterd: loading config: %v\n", err)
		os.Exit(1)
	}

	logging.SetDefault(logging.New(logging.Config{
		Level: logging.ParseLevel(cfg.LogLevel),
		JSON:  *jsonLogs,
	}))
	log := logging.WithComponent("daemon")

	socketPath := cfg.SocketPath
	if *socketOverride != "" {
		socketPath = *socketOverride
	}

	fwManager, err := firewall.NewManager()
	if err != nil {
		log.Error("selecting firewall backend failed", "error", err)
		os.Exit(1)
	}
	log.Info("selected firewall backend", "kind", fwManager.Kind())

	ctrl := session.New(cfg, fwManager)
	ctrl.Recover()

	if err := writePIDFile(cfg.PIDFile); err != nil {
		log.Warn("writing pid file failed", "error", err)
	}
	defer os.Remove(cfg.PIDFile)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	server := ipc.NewServer(socketPath)
	registerCommands(server, ctrl)

	if err := server.Start(ctx); err != nil {
		log.Error("starting ipc server failed", "error", err)
		os.Exit(1)
	}
	defer server.Close()
	log.Info("daemon ready", "socket", socketPath)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info("received shutdown signal", "signal", sig.String())
	cancel()

	if ctrl.State() != session.Idle {
		if err := ctrl.Stop(); err != nil {
			log.Warn("shutdown stop reported an error", "error", err)
		}
	}
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	return os.WriteFile(path, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0644)
}

func registerCommands(server *ipc.Server, ctrl *session.Controller) {
	server.Register("status", func(ctx context.Context, params map[string]any) (any, error) {
		return ctrl.Status()
	})
	server.Register("start", func(ctx context.Context, params map[string]any) (any, error) {
		return nil, ctrl.Start()
	})
	server.Register("stop", func(ctx context.Context, params map[string]any) (any, error) {
		return nil, ctrl.Stop()
	})
	server.Register("restart", func(ctx context.Context, params map[string]any) (any, error) {
		return nil, ctrl.Restart()
	})
	server.Register("config", func(ctx context.Context, params map[string]any) (any, error) {
		return ctrl.Config(), nil
	})
	server.Register("firewall", func(ctx context.Context, params map[string]any) (any, error) {
		return ctrl.FirewallStatus()
	})
	server.Register("processes", func(ctx context.Context, params map[string]any) (any, error) {
		return ctrl.WorkerStatus(), nil
	})
}
