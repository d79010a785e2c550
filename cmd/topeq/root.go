package main

import (
	"encoding/json"
	"io"
	"os"

	"github.com/spf13/cobra"
)

// RootOptions 是所有子命令共享的全局参数。
type RootOptions struct {
	ConfigPath string
}

// NewRootCommand 创建 topeq 根命令。
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:           "topeq",
		Short:         "TopEquations curation toolkit",
		Long:          "Intake, scoring, promotion, certificate export, ledger publishing and drift checks for the equation leaderboard.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", os.Getenv("TOPEQ_CONFIG"),
		"config file (json, yaml or toml); defaults to built-in settings rooted at the working directory")

	cmd.AddCommand(
		newSubmitCommand(opts),
		newImportCommand(opts),
		newPromptCommand(opts),
		newScoreCommand(opts),
		newPromoteCommand(opts),
		newExportCommand(opts),
		newPublishCommand(opts),
		newCronCommand(opts),
		newReceiptCommand(opts),
		newWalletCommand(opts),
		newReconcileCommand(opts),
		newServeCommand(opts),
		newEnqueueCommand(opts),
		newMCPCommand(opts),
	)
	return cmd
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}
