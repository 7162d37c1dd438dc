package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/DRCubix/gansauditor/internal/auditor"
	"github.com/DRCubix/gansauditor/internal/cache"
	"github.com/DRCubix/gansauditor/internal/completion"
	"github.com/DRCubix/gansauditor/internal/config"
	"github.com/DRCubix/gansauditor/internal/judge"
	"github.com/DRCubix/gansauditor/internal/queue"
	"github.com/DRCubix/gansauditor/internal/session"
	"github.com/DRCubix/gansauditor/internal/store"
	"github.com/DRCubix/gansauditor/internal/types"
)

const version = "1.0.0"

var (
	// Global flags
	verbose    bool
	configPath string

	// Logger
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "gansauditor",
	Short: "gansauditor - iterative adversarial code review",
	Long: `gansauditor runs candidate code through an audit pipeline: static
analysis, a staged review workflow, and one or more judges, looping until
the candidate clears a tiered completion bar or the session is stopped.

Thoughts arrive as JSON (one per audit); each carries free text with fenced
code blocks and an optional inline gan-config block.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg := zap.NewProductionConfig()
		cfg.Encoding = "console"
		level := os.Getenv("AUDIT_LOG_LEVEL")
		if verbose {
			level = "debug"
		}
		if level != "" {
			if parsed, err := zapcore.ParseLevel(level); err == nil {
				cfg.Level = zap.NewAtomicLevelAt(parsed)
			}
		}
		var err error
		logger, err = cfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// auditCmd audits a single thought and prints the result as JSON.
var auditCmd = &cobra.Command{
	Use:   "audit [file]",
	Short: "Audit one thought (JSON from a file, or stdin with -)",
	Long: `Reads a thought JSON document and runs it through the audit
pipeline once. The result, including the review and completion status, is
printed as JSON on stdout.

Example:
  echo '{"thoughtNumber":1,"thought":"..."}' | gansauditor audit -`,
	Args: cobra.MaximumNArgs(1),
	RunE: runAudit,
}

// sessionsCmd groups session maintenance subcommands.
var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Inspect and maintain persisted audit sessions",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List persisted session IDs",
	RunE:  runSessionsList,
}

var auditSessionID string

var (
	cleanupOlderThan time.Duration

	sessionsCleanupCmd = &cobra.Command{
		Use:   "cleanup",
		Short: "Remove sessions idle longer than --older-than",
		RunE:  runSessionsCleanup,
	}
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the gansauditor version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("gansauditor %s\n", version)
	},
}

// runtime bundles one fully wired pipeline plus its teardown.
type runtime struct {
	cfg      *config.Config
	auditor  *auditor.Auditor
	sessions *session.Manager
	archive  *store.SQLiteStore // nil for the file store
}

func (r *runtime) close() {
	r.auditor.Destroy()
	r.sessions.Destroy()
	if r.archive != nil {
		_ = r.archive.Close()
	}
}

// buildRuntime wires the pipeline from configuration.
func buildRuntime(cfg *config.Config) (*runtime, error) {
	var persist session.Persistence
	var archive *store.SQLiteStore
	switch cfg.Session.Store {
	case "sqlite":
		st, err := store.NewSQLiteStore(cfg.Session.DatabasePath, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open session store: %w", err)
		}
		persist = st
		archive = st
	default:
		fs, err := session.NewFileStore(cfg.Session.Dir, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open session dir: %w", err)
		}
		persist = fs
	}

	sessions := session.NewManager(persist, types.DefaultSessionConfig(), logger)

	eval, err := completion.NewEvaluator(cfg.Completion, logger)
	if err != nil {
		if archive != nil {
			_ = archive.Close()
		}
		return nil, err
	}

	j, err := buildJudge(cfg)
	if err != nil {
		if archive != nil {
			_ = archive.Close()
		}
		return nil, err
	}

	aud, err := auditor.New(auditor.Config{
		Disabled:     cfg.Audit.Disabled,
		AuditTimeout: cfg.GetAuditTimeout(),
		Logger:       logger,
	}, auditor.Deps{
		Cache: cache.New(cache.Config{
			MaxEntries: cfg.Cache.MaxEntries,
			MaxBytes:   cfg.Cache.MaxBytes,
			MaxAge:     cfg.GetCacheMaxAge(),
			Logger:     logger,
		}),
		Sessions:  sessions,
		Evaluator: eval,
		Judge:     j,
		Queue: queue.Config{
			MaxConcurrent:     cfg.Queue.MaxConcurrent,
			MaxQueueSize:      cfg.Queue.MaxQueueSize,
			DefaultTimeout:    cfg.GetQueueTimeout(),
			DefaultMaxRetries: cfg.Queue.MaxRetries,
			EnableStats:       true,
			Logger:            logger,
		},
	})
	if err != nil {
		if archive != nil {
			_ = archive.Close()
		}
		return nil, err
	}

	return &runtime{cfg: cfg, auditor: aud, sessions: sessions, archive: archive}, nil
}

// buildJudge assembles the judge ensemble: the static analyzer always, the
// Gemini and codex judges when configured. Remote judges sit behind a
// circuit breaker.
func buildJudge(cfg *config.Config) (judge.Judge, error) {
	members := map[string]judge.Judge{
		"static": judge.NewStatic(logger),
	}

	breakerSettings := judge.BreakerSettings{
		MaxFailures: cfg.Judges.BreakerMaxFailures,
		OpenTimeout: cfg.GetBreakerOpenTimeout(),
	}

	if cfg.Judges.GeminiAPIKey != "" {
		g, err := judge.NewGenAI(context.Background(), cfg.Judges.GeminiAPIKey, cfg.Judges.GeminiModel, logger)
		if err != nil {
			logger.Warn("gemini judge unavailable", zap.Error(err))
		} else {
			members["gemini"] = judge.NewBreaker(g, "gemini", breakerSettings, logger)
		}
	}
	if cfg.Judges.CodexBin != "" {
		c := judge.NewCodex(cfg.Judges.CodexBin, nil, logger)
		members["codex"] = judge.NewBreaker(c, "codex", breakerSettings, logger)
	}

	if len(members) == 1 {
		return members["static"], nil
	}
	return judge.NewEnsemble(members, logger)
}

func runAudit(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	var in io.Reader = os.Stdin
	if len(args) == 1 && args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("failed to open thought file: %w", err)
		}
		defer f.Close()
		in = f
	}

	var thought types.Thought
	if err := json.NewDecoder(in).Decode(&thought); err != nil {
		return fmt.Errorf("failed to parse thought JSON: %w", err)
	}

	rt, err := buildRuntime(cfg)
	if err != nil {
		return err
	}
	defer rt.close()

	result, err := rt.auditor.AuditThought(cmd.Context(), &thought, auditSessionID)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		return err
	}
	if !result.Success {
		os.Exit(1)
	}
	return nil
}

func runSessionsList(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	rt, err := buildRuntime(cfg)
	if err != nil {
		return err
	}
	defer rt.close()

	ids := rt.sessions.SessionIDs()
	if len(ids) == 0 {
		fmt.Println("No sessions.")
		return nil
	}
	for _, id := range ids {
		state, err := rt.sessions.GetSession(id)
		if err != nil {
			fmt.Println(id)
			continue
		}
		status := "in progress"
		if state.IsComplete {
			status = "complete"
		}
		fmt.Printf("%s\tloops=%d\t%s\tupdated=%s\n",
			id, state.CurrentLoop, status, state.UpdatedAt.Format(time.RFC3339))
	}
	return nil
}

func runSessionsCleanup(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	rt, err := buildRuntime(cfg)
	if err != nil {
		return err
	}
	defer rt.close()

	removed := rt.sessions.CleanupSessions(cleanupOlderThan)
	fmt.Printf("Removed %d session(s) older than %s.\n", removed, cleanupOlderThan)
	return nil
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", ".gansauditor/config.yaml", "Path to the config file")

	auditCmd.Flags().StringVar(&auditSessionID, "session", "", "Session ID to audit under (defaults to the thought's branch, then a generated one)")
	sessionsCleanupCmd.Flags().DurationVar(&cleanupOlderThan, "older-than", 24*time.Hour, "Remove sessions idle longer than this")

	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsCleanupCmd)

	rootCmd.AddCommand(auditCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
