// Package daemonrun hosts the creeld process runtime: logger setup,
// store initialization, IPC socket exposure, and signal-driven
// shutdown. Both the standalone creeld binary and `creel daemon` reuse
// it.
package daemonrun

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"creel/internal/config"
	"creel/internal/daemon"
	"creel/internal/deps"
	"creel/internal/ipc"
	"creel/internal/logging"
	"creel/internal/recording"
	"creel/internal/tasks"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel string
}

// Run starts the creel daemon runtime loop and blocks until a
// termination signal arrives.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	level := opts.LogLevel
	if level == "" {
		level = cfg.Logging.Level
	}
	logger, err := logging.NewForDaemon(level, cfg.Logging.Format, cfg.LogDir)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	for _, status := range deps.CheckBinaries(deps.Requirements(cfg)) {
		if status.Available {
			continue
		}
		if status.Optional {
			logger.Warn("optional binary unavailable",
				logging.String("name", status.Name),
				logging.String("detail", status.Detail))
			continue
		}
		logger.Error("required binary unavailable",
			logging.String("name", status.Name),
			logging.String("detail", status.Detail))
		return fmt.Errorf("missing required binary %s: %s", status.Name, status.Detail)
	}

	pidPath := filepath.Join(cfg.LogDir, "creeld.pid")
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	store, err := recording.Open(cfg.DatabasePath())
	if err != nil {
		logger.Error("open job store", logging.Error(err))
		return err
	}
	defer store.Close()

	taskStore, err := tasks.Open(cfg.DatabasePath(), tasks.WithBackoff(
		time.Duration(cfg.Tasks.BackoffBase)*time.Second,
		time.Duration(cfg.Tasks.BackoffCap)*time.Second))
	if err != nil {
		logger.Error("open task store", logging.Error(err))
		return err
	}
	defer taskStore.Close()

	d, err := daemon.New(cfg, store, taskStore, logger, daemon.Options{})
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	ipcServer, err := ipc.NewServer(signalCtx, cfg.SocketPath, d, logger)
	if err != nil {
		return fmt.Errorf("start IPC server: %w", err)
	}
	defer ipcServer.Close()
	ipcServer.Serve()

	if err := d.Start(signalCtx); err != nil {
		logger.Warn("daemon start failed",
			logging.Error(err),
			logging.String(logging.FieldEventType, "daemon_start_failed"),
		)
	}

	<-signalCtx.Done()
	logger.Info("creel daemon shutting down")
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}
