package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"tangle-core/config"
	"tangle-core/db"
	"tangle-core/handlers"
	"tangle-core/logger"
	"tangle-core/metrics"
	"tangle-core/models"
	"tangle-core/node"
	"tangle-core/repository"
	"tangle-core/routers"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "tangle-node",
	Short: "runs a tangle node with milestone based white-flag confirmation",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return run(configFile)
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "config/config.yaml", "path to the YAML config file")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func parameters(cfg *config.Config) (node.Parameters, error) {
	keyRanges, err := cfg.KeyRanges()
	if err != nil {
		return node.Parameters{}, err
	}
	seps, err := cfg.SolidEntryPoints()
	if err != nil {
		return node.Parameters{}, err
	}
	genesis, err := cfg.GenesisBalances()
	if err != nil {
		return node.Parameters{}, err
	}

	return node.Parameters{
		MinThreshold:     cfg.Milestones.MinThreshold,
		KeyRanges:        keyRanges,
		SolidEntryPoints: seps,
		LedgerIndex:      models.MilestoneIndex(cfg.Snapshot.LedgerIndex),
		Genesis:          genesis,
		RoundRetries:     cfg.Milestones.RoundRetries,
		RoundRetryDelay:  time.Duration(cfg.Milestones.RoundRetryDelayMs) * time.Millisecond,
	}, nil
}

func run(path string) error {
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Println("Config file error:", err)
		return err
	}

	if err := logger.InitLogger(cfg.Log.AppLogFile, cfg.Log.Level); err != nil {
		fmt.Println("Failed to initialize logger:", err)
		return err
	}
	defer func() { _ = logger.Logger.Sync() }()

	logger.Logger.Info("Starting tangle node...")

	params, err := parameters(cfg)
	if err != nil {
		logger.Logger.Error("Invalid node parameters", zap.Error(err))
		return err
	}

	// Connect to LevelDB
	ldb, err := db.NewLevelDB(cfg.LevelDB.Path)
	if err != nil {
		logger.Logger.Error("Failed to open leveldb", zap.Error(err))
		return err
	}
	defer ldb.Close()

	m := metrics.New()

	n, err := node.New(params, node.WithRepository(repository.NewRepository(ldb)), node.WithMetrics(m))
	if err != nil {
		logger.Logger.Error("Failed to start node", zap.Error(err))
		return err
	}

	h := handlers.NewHandler(n, m.Handler())

	r := mux.NewRouter()
	routers.RegisterRoutes(r, h)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Logger.Error("Server stopped", zap.Error(err))
		}
	}()

	logger.Logger.Info("Server running on port", zap.Int("port", cfg.Server.Port))

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	<-sigCh
	logger.Logger.Info("Shutdown signal received, exiting...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Logger.Warn("Failed to shut down server", zap.Error(err))
	}
	n.Shutdown()

	return nil
}
