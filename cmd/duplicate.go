package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"repovec/internal/config"
)

var duplicateCmd = &cobra.Command{
	Use:   "duplicate <source-branch> <target-branch>",
	Short: "Copy indexed chunks from one branch to another without re-embedding",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		source, target := args[0], args[1]
		if source == target {
			return fmt.Errorf("source and target branch are the same")
		}

		cfg := config.Load()
		exec := buildExecution(cfg)

		st, err := openStore(exec)
		if err != nil {
			return err
		}
		defer st.Close()

		ctx := cmd.Context()
		if err := st.DeleteByBranch(ctx, exec.Scope, target); err != nil {
			return fmt.Errorf("clear %s: %w", target, err)
		}
		if err := st.DuplicateBranch(ctx, exec.Scope, source, target); err != nil {
			return fmt.Errorf("duplicate %s -> %s: %w", source, target, err)
		}

		fmt.Printf("Duplicated chunks from %s to %s.\n", source, target)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(duplicateCmd)
}
