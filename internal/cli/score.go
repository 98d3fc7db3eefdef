package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/stemlink/internal/score"
)

// ScoreSummary wraps the confusion report for text output.
type ScoreSummary struct {
	score.Report
}

func (s ScoreSummary) String() string {
	return fmt.Sprintf("threshold %.2f: precision %.4f, recall %.4f, F1 %.4f (tp=%d fp=%d fn=%d)",
		s.Threshold, s.Precision, s.Recall, s.F1,
		s.TruePositives, s.FalsePositives, s.FalseNegatives)
}

// NewScoreCommand creates the score command.
func NewScoreCommand(rootOpts *RootOptions) *cobra.Command {
	var threshold float64

	cmd := &cobra.Command{
		Use:   "score <posterior.json> <truth.json>",
		Short: "Score a fitted posterior against known truth",
		Long: `Threshold a link posterior and score the resulting hard links against a
known truth set, as produced by synth.`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScore(rootOpts, args[0], args[1], threshold, cmd)
		},
	}

	cmd.Flags().Float64Var(&threshold, "threshold", score.DefaultThreshold, "posterior probability cutoff")

	return cmd
}

func runScore(opts *RootOptions, posteriorPath, truthPath string, threshold float64, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	post, err := loadPosterior(posteriorPath)
	if err != nil {
		formatter.Error(ErrCodeInput, err.Error(), nil)
		return WrapExitError(ExitCommandError, "load posterior", err)
	}

	truth, err := loadPairs(truthPath)
	if err != nil {
		formatter.Error(ErrCodeInput, err.Error(), nil)
		return WrapExitError(ExitCommandError, "load truth", err)
	}

	formatter.VerboseLog("scoring %d posterior pairs against %d true links", len(post), len(truth))

	return formatter.Success(ScoreSummary{Report: score.Evaluate(post, truth, threshold)})
}
