package cmd

import (
	"github.com/spf13/cobra"

	"repovec/internal/config"
	"repovec/internal/ingest"
	"repovec/internal/modelserver"
)

var flagDuplicateToDev bool

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Index the repository into the vector store",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		log := newLogger()
		defer log.Sync()

		cfg := config.Load()
		exec := buildExecution(cfg)
		exec.DuplicateToDev = flagDuplicateToDev

		st, err := openStore(exec)
		if err != nil {
			return err
		}
		defer st.Close()

		server := modelserver.New(modelserver.DockerRuntime{}, exec.Server, log)
		orch := ingest.New(server, st, newTree(exec), log)

		return report(orch.Run(cmd.Context(), exec))
	},
}

func init() {
	indexCmd.Flags().BoolVar(&flagDuplicateToDev, "duplicate-to-dev", false, "copy the indexed chunks to the development branch afterwards")
	rootCmd.AddCommand(indexCmd)
}
