package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/invtrack/syncq/internal/daemon"
	"github.com/invtrack/syncq/internal/dashboard"
	"github.com/invtrack/syncq/internal/ui"
)

var daemonCmd = &cobra.Command{
	Use:     "daemon",
	GroupID: "sync",
	Short:   "Keep the queue draining (foreground)",
	Long: `Run the sync daemon in the foreground.

The daemon drives the queue:
  1. at startup
  2. whenever another process queues a write
  3. when the server becomes reachable again
  4. when a backed-off retry comes due
  5. on SIGUSR1 (an app returning to the foreground)

SIGHUP reopens the log file. Records older than sync.purge_ttl are purged
every sync.purge_interval.`,
	Run: func(cmd *cobra.Command, args []string) {
		withDashboard, _ := cmd.Flags().GetBool("dashboard")
		port, _ := cmd.Flags().GetInt("port")
		runDaemon(cmd.Context(), withDashboard, port)
	},
}

var dashboardCmd = &cobra.Command{
	Use:     "dashboard",
	GroupID: "sync",
	Short:   "Run the daemon with a live WebSocket dashboard",
	Long: `Run the sync daemon together with a WebSocket dashboard that streams
every queue change and sync outcome.

Endpoints:
  ws://localhost:8080/ws     event stream (mutation, sync and stats messages)
  http://localhost:8080/status  queue counts
  http://localhost:8080/health  liveness`,
	Run: func(cmd *cobra.Command, args []string) {
		port, _ := cmd.Flags().GetInt("port")
		runDaemon(cmd.Context(), true, port)
	},
}

func runDaemon(parent context.Context, withDashboard bool, port int) {
	ctx, cancel := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	s, err := openSession(ctx)
	if err != nil {
		fatal("%v", err)
	}
	defer s.Close()

	d, err := daemon.NewWithConfig(s.engine, s.remote, &daemon.Config{
		PingInterval:  cfg.Sync.PingInterval,
		PurgeInterval: cfg.Sync.PurgeInterval,
		PurgeTTL:      cfg.Sync.PurgeTTL,
		Logger:        sink.Logger("daemon"),
	})
	if err != nil {
		fatal("failed to create daemon: %v", err)
	}

	if withDashboard {
		if port == 0 {
			port = cfg.Dashboard.Port
		}
		server := dashboard.NewServer(&dashboard.Config{
			Addr:   fmt.Sprintf(":%d", port),
			Status: s.engine.Counts,
			Logger: sink.Logger("dashboard"),
		})
		if err := server.Start(); err != nil {
			fatal("failed to start dashboard: %v", err)
		}
		detach := dashboard.NewHandler(server, sink.Logger("dashboard")).Attach(s.engine.Bus())
		defer func() {
			detach()
			_ = server.Stop()
		}()
		fmt.Printf("Dashboard: http://localhost:%d (WebSocket ws://localhost:%d/ws)\n", port, port)
	}

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGUSR1, syscall.SIGHUP)
	defer signal.Stop(signals)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case sig := <-signals:
				switch sig {
				case syscall.SIGUSR1:
					d.NotifyVisible()
				case syscall.SIGHUP:
					if err := sink.Rotate(); err != nil {
						fmt.Fprintf(os.Stderr, "Error rotating log: %v\n", err)
					}
				}
			}
		}
	}()

	fmt.Printf("%s Starting sync daemon...\n", ui.RenderAccent("🚀"))
	fmt.Printf("   Queue: %s\n", cfg.DB.Path)
	if cfg.Remote.BaseURL != "" {
		fmt.Printf("   Server: %s\n", cfg.Remote.BaseURL)
	}
	fmt.Printf("\nPress Ctrl+C to stop\n\n")

	// Start blocks until ctx is cancelled.
	if err := d.Start(ctx); err != nil && ctx.Err() == nil {
		fatal("daemon stopped with error: %v", err)
	}

	report, at := d.LastReport()
	if !at.IsZero() {
		fmt.Printf("\nLast cycle: %d synced, %d remaining\n", report.Synced, report.Remaining)
	}
	fmt.Println("Daemon stopped")
}

func init() {
	daemonCmd.Flags().Bool("dashboard", false, "Also serve the WebSocket dashboard")
	daemonCmd.Flags().IntP("port", "p", 0, "Dashboard port (default: dashboard.port)")
	dashboardCmd.Flags().IntP("port", "p", 0, "Port to listen on (default: dashboard.port)")

	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(dashboardCmd)
}
