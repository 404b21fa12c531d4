package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "modelstore",
	Short: "building-model ingestion and versioning tool",
	Example: `modelstore version create -p <project-id> -n <model-name>
modelstore ingest -v <version-id> -f <model-dump.json>
modelstore status -v <version-id>
modelstore publish -v <version-id>
modelstore unpublish -v <version-id>
modelstore version list -p <project-id> -n <model-name>
modelstore version delete -v <version-id>`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(dbCmd)
	rootCmd.SetHelpCommand(&cobra.Command{Use: "no-help", Hidden: true})

	rootCmd.CompletionOptions.HiddenDefaultCmd = true
	cobra.EnableCommandSorting = false
}
