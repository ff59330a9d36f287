package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"repovec/internal/config"
	"repovec/internal/execution"
	"repovec/internal/logging"
	"repovec/internal/store"
	"repovec/internal/walker"
)

var (
	flagRoot     string
	flagBranch   string
	flagRevision string
	flagDB       string
	flagJSONLog  bool
)

var rootCmd = &cobra.Command{
	Use:   "repovec",
	Short: "Semantic code index and retrieval over a local vector store",
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagRoot, "root", ".", "repository root to operate on")
	rootCmd.PersistentFlags().StringVar(&flagBranch, "branch", "", "branch to index or query (default from config)")
	rootCmd.PersistentFlags().StringVar(&flagRevision, "revision", "", "git revision to read files from (default: working tree)")
	rootCmd.PersistentFlags().StringVar(&flagDB, "db", "", "database path (default <root>/.repovec/index.db)")
	rootCmd.PersistentFlags().BoolVar(&flagJSONLog, "json-log", false, "emit JSON logs instead of console output")
}

func newLogger() *zap.Logger {
	return logging.New(flagJSONLog)
}

// buildExecution assembles the run context from environment config plus
// command-line overrides.
func buildExecution(cfg *config.Config) execution.Execution {
	branch := flagBranch
	if branch == "" {
		branch = cfg.Branch
	}

	exec := execution.New(execution.Scope{Owner: cfg.Owner, Repo: cfg.Repo}, branch)
	exec.Branches = execution.Branches{Main: cfg.MainBranch, Development: cfg.DevelopmentBranch}
	exec.Store = &execution.StoreConfig{Path: dbPath(cfg), EmbeddingDim: cfg.EmbeddingDim}
	exec.Server = execution.ServerConfig{
		Name:     cfg.ServerName,
		Host:     cfg.ServerHost,
		Port:     cfg.ServerPort,
		BuildDir: cfg.ServerBuildDir,
	}
	exec.AI = execution.AIConfig{BaseURL: cfg.AIBaseURL, Model: cfg.AIModel, APIKey: cfg.AIKey}
	exec.IgnorePatterns = cfg.IgnorePatterns
	exec.MentionToken = cfg.MentionToken
	exec.ShuffleChunks = cfg.ShuffleChunks
	return exec
}

func dbPath(cfg *config.Config) string {
	if flagDB != "" {
		return flagDB
	}
	if filepath.IsAbs(cfg.StorePath) {
		return cfg.StorePath
	}
	return filepath.Join(flagRoot, cfg.StorePath)
}

// openStore opens the vector store at the configured path, creating the
// parent directory on first use.
func openStore(exec execution.Execution) (*store.SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(exec.Store.Path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}
	return store.Open(exec.Store.Path, exec.Store.EmbeddingDim)
}

func newTree(exec execution.Execution) *walker.Tree {
	return &walker.Tree{
		Root:           flagRoot,
		Revision:       flagRevision,
		IgnorePatterns: exec.IgnorePatterns,
	}
}

// report prints each result and returns an error when any executed step
// failed, so cobra exits nonzero.
func report(results []execution.Result) error {
	failed := false
	for _, r := range results {
		for _, step := range r.Steps {
			fmt.Println(step)
		}
		for _, e := range r.Errors {
			fmt.Fprintf(os.Stderr, "%s: %s\n", r.ID, e)
		}
		if r.Executed && !r.Success {
			failed = true
		}
	}
	if failed {
		return fmt.Errorf("run finished with errors")
	}
	return nil
}
