package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/akarpov/earshot/internal/api"
	"github.com/akarpov/earshot/internal/config"
	"github.com/akarpov/earshot/internal/export"
	"github.com/akarpov/earshot/internal/pipeline"
	"github.com/akarpov/earshot/internal/scheduler"
	"github.com/akarpov/earshot/internal/storage"
	"github.com/akarpov/earshot/internal/summarizer"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the earshot server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running earshot server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show earshot system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "earshot.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

func parseDurationOr(value string, fallback time.Duration, name string) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		slog.Warn("invalid duration, using default", "key", name, "value", value, "default", fallback, "error", err)
		return fallback
	}
	return d
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "earshot version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Initialize structured logging.
	logLevel := slog.LevelInfo
	if strings.EqualFold(cfg.Log.Level, "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	// Ensure the API bearer token exists in the platform secret store.
	apiToken := cfg.Server.APIToken
	if apiToken == "" {
		apiToken, err = config.GetAPIToken(config.NewKeychain())
		if err != nil {
			return fmt.Errorf("initializing API token: %w", err)
		}
	}
	slog.Info("API bearer token available")

	// Write PID file. Check if server is already running via health endpoint.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("earshot is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("earshot is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Open storage.
	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	// Build the summarization pipeline.
	generator := summarizer.New(cfg.OpenAI.APIKey, cfg.OpenAI.SummaryModel, cfg.OpenAI.FactCheckModel)

	var exporter pipeline.Exporter
	if cfg.Reflect.GraphID != "" && cfg.Reflect.AccessToken != "" {
		exporter = export.NewClient(cfg.Reflect.GraphID, cfg.Reflect.AccessToken)
		slog.Info("Reflect export enabled", "graph_id", cfg.Reflect.GraphID)
	} else {
		slog.Warn("Reflect export disabled (graph ID or access token not configured)")
	}

	proc := pipeline.New(store, generator, exporter, pipeline.Options{
		ChunkSize:   time.Duration(cfg.Summarizer.ChunkMinutes) * time.Minute,
		MinTextLen:  cfg.Summarizer.MinTextLen,
		MaxAttempts: cfg.Summarizer.MaxAttempts,
	})

	sched := scheduler.New(store, proc, scheduler.Options{
		SummarizeEvery: parseDurationOr(cfg.Scheduler.SummarizeInterval, 5*time.Minute, "scheduler.summarize_interval"),
		CleanupEvery:   parseDurationOr(cfg.Scheduler.CleanupInterval, 15*time.Minute, "scheduler.cleanup_interval"),
		LockTimeout:    parseDurationOr(cfg.Scheduler.LockTimeout, 30*time.Minute, "scheduler.lock_timeout"),
	})
	sched.Start(ctx)
	defer sched.Stop()

	// Build HTTP handler and server.
	handler := api.NewHandler(api.Deps{
		Store:  store,
		Ticker: sched,
		Token:  apiToken,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	// Build and start MCP server (stdio transport in a goroutine).
	mcpSrv := api.NewMCPServer(api.MCPDeps{
		Store:  store,
		Ticker: sched,
	})
	stdioSrv := server.NewStdioServer(mcpSrv)
	go func() {
		if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("MCP stdio server error", "error", err)
		}
	}()
	slog.Info("MCP server started (stdio transport)")

	// Start server in a goroutine.
	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "earshot listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for signal or server error.
	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	// Graceful shutdown with timeout.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("earshot is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop earshot (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to earshot (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		// Still show partial status even if config fails.
		printError("config error: %v", err)
		return nil
	}

	// Check server health.
	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	client := &http.Client{Timeout: 2 * time.Second}

	resp, err := client.Get(serverURL + "/health")
	running := false
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == 200 {
			running = true
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	printStatus("Summary model", "%s", cfg.OpenAI.SummaryModel)
	printStatus("Fact check model", "%s", cfg.OpenAI.FactCheckModel)
	if cfg.Reflect.GraphID != "" {
		printStatus("Reflect export", "graph %s", cfg.Reflect.GraphID)
	} else {
		printStatus("Reflect export", "disabled")
	}

	// Show backlog if the server is running.
	if running {
		if c, cErr := newAPIClient(); cErr == nil {
			if resp, bErr := c.get(context.Background(), "/admin/backlog?limit=1"); bErr == nil {
				var backlog struct {
					ByUser []struct {
						UserID  string `json:"user_id"`
						Pending int    `json:"pending"`
					} `json:"backlog_by_user"`
				}
				if decodeJSON(resp, &backlog) == nil {
					total := 0
					for _, b := range backlog.ByUser {
						total += b.Pending
					}
					printStatus("Pending fragments", "%d across %d user(s)", total, len(backlog.ByUser))
				}
			}
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}
