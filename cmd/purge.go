package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"repovec/internal/config"
)

var flagPurgePath string

var purgeCmd = &cobra.Command{
	Use:   "purge <branch>",
	Short: "Remove indexed chunks for a branch, or a single path with --path",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		branch := args[0]

		cfg := config.Load()
		exec := buildExecution(cfg)

		st, err := openStore(exec)
		if err != nil {
			return err
		}
		defer st.Close()

		ctx := cmd.Context()
		if flagPurgePath != "" {
			if err := st.DeleteByPath(ctx, exec.Scope, branch, flagPurgePath); err != nil {
				return fmt.Errorf("purge %s on %s: %w", flagPurgePath, branch, err)
			}
			fmt.Printf("Removed chunks for %s on %s.\n", flagPurgePath, branch)
			return nil
		}

		if err := st.DeleteByBranch(ctx, exec.Scope, branch); err != nil {
			return fmt.Errorf("purge %s: %w", branch, err)
		}
		fmt.Printf("Removed all chunks on %s.\n", branch)
		return nil
	},
}

func init() {
	purgeCmd.Flags().StringVar(&flagPurgePath, "path", "", "purge only this path instead of the whole branch")
	rootCmd.AddCommand(purgeCmd)
}
