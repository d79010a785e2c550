package main

import (
	"github.com/spf13/cobra"

	"TopEquations/internal/curation"
	xerrors "TopEquations/internal/errors"
)

func newScoreCommand(root *RootOptions) *cobra.Command {
	var (
		req         curation.ScoreRequest
		manualScore int
		threshold   int
	)
	cmd := &cobra.Command{
		Use:   "score",
		Short: "Score one submission or every pending submission",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if req.SubmissionID == "" && !req.AllPending {
				return xerrors.New(xerrors.CodeInvalidArgument, "需要 --submission-id 或 --all-pending")
			}
			if cmd.Flags().Changed("manual-score") {
				req.ManualScore = &manualScore
			}
			if cmd.Flags().Changed("threshold") {
				req.Threshold = &threshold
			}
			a, err := openApp(cmd.Context(), root, req.UseLLM)
			if err != nil {
				return err
			}
			defer a.Close()
			report, err := a.curation.Score(cmd.Context(), req)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), report)
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&req.SubmissionID, "submission-id", "", "submission to score")
	flags.BoolVar(&req.AllPending, "all-pending", false, "score every pending and needs-review submission")
	flags.BoolVar(&req.IncludePromoted, "include-promoted", false, "rescore promoted submissions too")
	flags.BoolVar(&req.SyncEquations, "sync-equations", false, "copy new scores onto ranked records")
	flags.BoolVar(&req.UseLLM, "llm", false, "blend in the LLM advisory score")
	flags.IntVar(&manualScore, "manual-score", 0, "override the final score (0-100)")
	flags.IntVar(&threshold, "threshold", 0, "ready threshold for this run")
	cmd.MarkFlagsMutuallyExclusive("submission-id", "all-pending")
	return cmd
}

func newPromoteCommand(root *RootOptions) *cobra.Command {
	var (
		req         curation.PromoteRequest
		manual      curation.ManualScores
		manualScore int
	)
	cmd := &cobra.Command{
		Use:   "promote",
		Short: "Promote a submission into the ranked set",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			flags := cmd.Flags()
			if flags.Changed("manual-score") {
				req.ManualScore = &manualScore
			}
			for _, name := range []string{"tractability", "plausibility", "validation", "artifact-completeness", "novelty"} {
				if flags.Changed(name) {
					req.Manual = &manual
					break
				}
			}
			a, err := openApp(cmd.Context(), root, false)
			if err != nil {
				return err
			}
			defer a.Close()
			outcome, err := a.curation.Promote(cmd.Context(), req)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), outcome)
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&req.SubmissionID, "submission-id", "", "submission to promote")
	flags.BoolVar(&req.FromReview, "from-review", false, "use the scores stored in the latest review")
	flags.StringVar(&req.EquationID, "equation-id", "", "explicit ranked record id")
	flags.IntVar(&manualScore, "manual-score", 0, "override the final score (0-100)")
	flags.IntVar(&manual.Tractability, "tractability", 0, "manual tractability (0-20)")
	flags.IntVar(&manual.Plausibility, "plausibility", 0, "manual plausibility (0-20)")
	flags.IntVar(&manual.Validation, "validation", 0, "manual validation (0-20)")
	flags.IntVar(&manual.ArtifactCompleteness, "artifact-completeness", 0, "manual artifact completeness (0-10)")
	flags.IntVar(&manual.Novelty, "novelty", 0, "manual novelty (0-30)")
	_ = cmd.MarkFlagRequired("submission-id")
	return cmd
}
