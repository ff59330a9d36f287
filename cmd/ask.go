package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"repovec/internal/ask"
	"repovec/internal/config"
	"repovec/internal/llm"
	"repovec/internal/modelserver"
)

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask a question about the indexed repository",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		log := newLogger()
		defer log.Sync()

		cfg := config.Load()
		exec := buildExecution(cfg)

		st, err := openStore(exec)
		if err != nil {
			return err
		}
		defer st.Close()

		server := modelserver.New(modelserver.DockerRuntime{}, exec.Server, log)
		chat := llm.NewChat(exec.AI)
		orch := ask.New(server, st, newTree(exec), chat, log)

		// The orchestrator only answers comments addressed to the mention
		// token; on the CLI the question is always meant for us.
		comment := strings.Join(args, " ")
		if !strings.Contains(comment, exec.MentionToken) {
			comment = exec.MentionToken + " " + comment
		}

		answer, results := orch.Run(cmd.Context(), exec, comment)
		if answer != "" {
			fmt.Println(answer)
		}
		return report(results)
	},
}

func init() {
	rootCmd.AddCommand(askCmd)
}
