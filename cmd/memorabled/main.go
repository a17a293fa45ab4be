package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/alanchelmickjr/memoRable-sub004/internal/config"
	"github.com/alanchelmickjr/memoRable-sub004/internal/daemon"
	"github.com/alanchelmickjr/memoRable-sub004/internal/engine"
	"github.com/alanchelmickjr/memoRable-sub004/internal/extract"
	"github.com/alanchelmickjr/memoRable-sub004/internal/logging"
	"github.com/alanchelmickjr/memoRable-sub004/internal/store"
)

var (
	// Global flags
	verbose    bool
	configPath string

	// Logger
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "memorabled",
	Short: "memoRable - attention and salience core daemon",
	Long: `memorabled runs the attention and salience core of the memoRable
personal memory system: salience scoring, the per-owner attention window,
storage tiering, temporal pattern detection, the context gate, and the
proactive event daemon.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
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
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

// serveCmd runs the daemon until interrupted
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the memory core daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

// maintenanceCmd runs the operator sweep for one owner
var maintenanceCmd = &cobra.Command{
	Use:   "maintenance <owner-id>",
	Short: "Run tier demotion, attention pruning, and tombstone purge for an owner",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, _, st, err := buildEngine()
		if err != nil {
			return err
		}
		defer st.Close()

		moved, err := eng.Maintenance(args[0])
		if err != nil {
			return err
		}
		fmt.Printf("maintenance complete: %d tier moves\n", moved)
		return nil
	},
}

func buildEngine() (*engine.Engine, *config.Provider, *store.Store, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := logging.Initialize(cfg.StateDir, cfg.Logging.DebugMode, cfg.Logging.Level); err != nil {
		return nil, nil, nil, err
	}

	st, err := store.Open(fmt.Sprintf("%s/memorable.db", cfg.StateDir))
	if err != nil {
		return nil, nil, nil, err
	}

	provider := config.NewProvider(cfg)
	pipeline := extract.NewPipeline(nil, "", 2*time.Second)
	eng := engine.New(provider, st, pipeline, nil)
	return eng, provider, st, nil
}

func runServe(ctx context.Context) error {
	eng, provider, st, err := buildEngine()
	if err != nil {
		return err
	}
	defer st.Close()
	defer logging.Close()

	// Hot reload: config edits publish a fresh snapshot without restart.
	if err := provider.Watch(configPath); err != nil {
		logger.Warn("config watch unavailable", zap.Error(err))
	}
	defer provider.Close()

	sink := daemon.SinkFunc(func(_ context.Context, a daemon.Action) error {
		logger.Info("action",
			zap.String("owner", a.OwnerID),
			zap.String("kind", string(a.Kind)),
			zap.String("reason", a.Reason))
		return nil
	})
	d := daemon.New(provider.Current().Daemon, sink, st, logger)
	d.SetPatterns(eng)
	d.SetRecorder(daemon.RecorderFunc(func(ctx context.Context, ownerID string, content []byte, tags []string) error {
		_, err := eng.Store(ctx, engine.StoreRequest{OwnerID: ownerID, Content: content, Tags: tags})
		return err
	}))

	runCtx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger.Info("memorabled serving", zap.String("state_dir", provider.Current().StateDir))
	return d.Run(runCtx)
}

func main() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "memorable.yaml", "config file path")
	rootCmd.AddCommand(serveCmd, maintenanceCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
