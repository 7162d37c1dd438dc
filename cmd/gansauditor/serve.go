package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/DRCubix/gansauditor/internal/config"
	"github.com/DRCubix/gansauditor/internal/types"
)

// serveCmd runs the JSONL stdio loop: one thought per input line, one
// result per output line.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve audits over stdio (one JSON thought per line)",
	Long: `Reads thought JSON documents line by line from stdin and writes one
result JSON per line to stdout. Malformed lines produce an error object
instead of killing the loop. The config file is watched and hot-reloaded
for audit-level settings.`,
	RunE: runServe,
}

// errorLine is emitted for input the loop cannot process.
type errorLine struct {
	Error string `json:"error"`
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	rt, err := buildRuntime(cfg)
	if err != nil {
		return err
	}
	defer rt.close()

	// Hot-reload only adjusts the orchestrator-level toggles; capacity
	// changes require a restart.
	watcher, err := config.NewWatcher(configPath, func(next *config.Config) {
		rt.auditor.SetDisabled(next.Audit.Disabled)
		logger.Info("applied config reload",
			zap.Bool("disabled", next.Audit.Disabled))
	}, logger)
	if err == nil {
		if err := watcher.Start(); err != nil {
			logger.Warn("config watch unavailable", zap.Error(err))
		} else {
			defer watcher.Stop()
		}
	} else {
		logger.Warn("config watch unavailable", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	logger.Info("serving audits on stdio")

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	out := json.NewEncoder(os.Stdout)

	for scanner.Scan() {
		if ctx.Err() != nil {
			break
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var thought types.Thought
		if err := json.Unmarshal(line, &thought); err != nil {
			_ = out.Encode(errorLine{Error: fmt.Sprintf("invalid thought JSON: %v", err)})
			continue
		}

		result, err := rt.auditor.AuditThought(ctx, &thought, "")
		if err != nil {
			_ = out.Encode(errorLine{Error: err.Error()})
			continue
		}
		_ = out.Encode(result)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("stdin read failed: %w", err)
	}
	logger.Info("stdio loop finished")
	return nil
}
