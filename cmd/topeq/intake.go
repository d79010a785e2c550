package main

import (
	"os"

	"github.com/spf13/cobra"

	"TopEquations/internal/curation"
	xerrors "TopEquations/internal/errors"
	"TopEquations/internal/intake"
)

func newSubmitCommand(root *RootOptions) *cobra.Command {
	var (
		in   intake.Submission
		file string
	)
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Record a new submission from flags or an intake JSON file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var (
				sub intake.Submission
				err error
			)
			if file != "" {
				data, readErr := os.ReadFile(file)
				if readErr != nil {
					return xerrors.Wrap(xerrors.CodeInvalidArgument, readErr, "读取投稿文件失败")
				}
				sub, err = intake.ParseWith(string(data), intake.ManualDefaults)
			} else {
				sub, err = intake.Normalize(in, intake.ManualDefaults)
			}
			if err != nil {
				return err
			}

			a, err := openApp(cmd.Context(), root, false)
			if err != nil {
				return err
			}
			defer a.Close()
			entry, err := a.curation.Submit(cmd.Context(), sub)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), entry)
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&file, "file", "", "intake JSON file (optionally fenced)")
	flags.StringVar(&in.Name, "name", "", "equation name")
	flags.StringVar(&in.Equation, "equation", "", "LaTeX source")
	flags.StringVar(&in.Description, "description", "", "what the equation describes")
	flags.StringVar(&in.Source, "source", "", "origin label")
	flags.StringVar(&in.Submitter, "submitter", "", "submitter handle")
	flags.StringVar(&in.Units, "units", "", "OK, TBD or WARN")
	flags.StringVar(&in.Theory, "theory", "", "PASS, PASS-WITH-ASSUMPTIONS, TBD or FAIL")
	flags.StringArrayVar(&in.Assumptions, "assumption", nil, "assumption, repeatable")
	flags.StringArrayVar(&in.Evidence, "evidence", nil, "evidence reference, repeatable")
	cmd.MarkFlagsMutuallyExclusive("file", "name")
	return cmd
}

func newImportCommand(root *RootOptions) *cobra.Command {
	var opts curation.ImportOptions
	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Import a JSON array of submissions; invalid entries are skipped",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "读取导入文件失败")
			}
			subs, errs, err := intake.ParseBatch(data, intake.BatchDefaults)
			if err != nil {
				return err
			}
			a, err := openApp(cmd.Context(), root, opts.UseLLM)
			if err != nil {
				return err
			}
			defer a.Close()
			report, err := a.curation.Import(cmd.Context(), subs, errs, opts)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), report)
		},
	}
	cmd.Flags().BoolVar(&opts.Score, "score", false, "score imported entries")
	cmd.Flags().BoolVar(&opts.UseLLM, "llm", false, "blend in the LLM advisory score")
	cmd.Flags().BoolVar(&opts.Promote, "promote", false, "promote entries that reach ready")
	return cmd
}

func newPromptCommand(root *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "prompt <submission-id>",
		Short: "Print the advisory prompt for a submission without calling the model",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), root, false)
			if err != nil {
				return err
			}
			defer a.Close()
			prompt, err := a.curation.Prompt(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), prompt)
		},
	}
}
