package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/stemlink/internal/compiler"
	"github.com/roach88/stemlink/internal/params"
	"github.com/roach88/stemlink/internal/record"
	"github.com/roach88/stemlink/internal/stem"
	"github.com/roach88/stemlink/internal/store"
)

// FitSummary reports a finished fit.
type FitSummary struct {
	RunToken       string `json:"runToken"`
	Iterations     int    `json:"iterations"`
	PosteriorDraws int    `json:"posteriorDraws"`
	PosteriorPairs int    `json:"posteriorPairs"`
	Out            string `json:"out,omitempty"`
	Database       string `json:"database,omitempty"`
}

func (s FitSummary) String() string {
	return fmt.Sprintf("run %s: %d iterations, %d qualifying draws, %d candidate pairs",
		s.RunToken, s.Iterations, s.PosteriorDraws, s.PosteriorPairs)
}

// progressObserver reports outer-iteration progress in verbose mode.
type progressObserver struct {
	formatter *OutputFormatter
}

func (o progressObserver) AfterIteration(info stem.IterationInfo) {
	o.formatter.VerboseLog("iteration %d/%d: %d linked pairs",
		info.Iteration, info.Total, info.Linked)
}

// NewFitCommand creates the fit command.
func NewFitCommand(rootOpts *RootOptions) *cobra.Command {
	var outPath, dbPath string

	cmd := &cobra.Command{
		Use:   "fit <model.cue> <a.json> <b.json>",
		Short: "Fit the linkage model to a pair of record files",
		Long: `Run the full estimation on two coded record files and write the link
posterior. With --db, per-iteration parameter snapshots and the final
posterior are also persisted to SQLite.`,
		Args:          cobra.ExactArgs(3),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFit(rootOpts, args[0], args[1], args[2], outPath, dbPath, cmd)
		},
	}

	cmd.Flags().StringVar(&outPath, "out", "posterior.json", "posterior output path")
	cmd.Flags().StringVar(&dbPath, "db", "", "SQLite database for chain persistence (optional)")

	return cmd
}

func runFit(opts *RootOptions, modelPath, aPath, bPath, outPath, dbPath string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	m, rc, err := compiler.LoadModelFile(modelPath)
	if err != nil {
		formatter.Error(ErrCodeInput, err.Error(), nil)
		return WrapExitError(ExitCommandError, "compile failed", err)
	}

	fileA, err := loadRecords(aPath, record.SourceA)
	if err != nil {
		formatter.Error(ErrCodeInput, err.Error(), nil)
		return WrapExitError(ExitCommandError, "load A-records", err)
	}
	fileB, err := loadRecords(bPath, record.SourceB)
	if err != nil {
		formatter.Error(ErrCodeInput, err.Error(), nil)
		return WrapExitError(ExitCommandError, "load B-records", err)
	}

	cfg := stem.Config{
		Model:    m,
		FileA:    fileA,
		FileB:    fileB,
		Run:      *rc,
		Observer: progressObserver{formatter},
	}

	var db *store.Store
	if dbPath != "" {
		db, err = store.Open(dbPath)
		if err != nil {
			formatter.Error(ErrCodeInput, err.Error(), nil)
			return WrapExitError(ExitCommandError, "open database", err)
		}
		defer db.Close()

		// Snapshots reference the run row, so the token is generated up
		// front and registered before the fit starts streaming.
		token := stem.UUIDv7Generator{}.Generate()
		if err := db.WriteRun(cmd.Context(), token, m); err != nil {
			formatter.Error(ErrCodeEstimation, err.Error(), nil)
			return WrapExitError(ExitFailure, "persist run", err)
		}
		cfg.Tokens = stem.NewFixedGenerator(token)

		sink := store.NewAsyncSink(db, 0)
		defer sink.Close()
		cfg.Sink = sink
	}

	formatter.VerboseLog("fitting %d x %d records, %d PIV(s)",
		fileA.NumRecords(), fileB.NumRecords(), len(m.PIVs))

	res, err := stem.Fit(cmd.Context(), cfg)
	if err != nil {
		formatter.Error(ErrCodeEstimation, err.Error(), nil)
		return WrapExitError(ExitFailure, "fit failed", err)
	}

	if opts.Verbose && res.Estimate != nil {
		for j := range m.PIVs {
			q := res.Chains.Quantiles(rc.StEMBurnin,
				func(st *params.State) float64 { return st.PhiA[j] },
				0.05, 0.5, 0.95)
			if q == nil {
				break
			}
			formatter.VerboseLog("%s: phi median %.4f, 90%% interval [%.4f, %.4f]",
				m.PIVs[j].Name, q[1], q[0], q[2])
		}
	}

	if db != nil {
		if err := db.WritePosterior(cmd.Context(), res.RunToken, res.Posterior); err != nil {
			formatter.Error(ErrCodeEstimation, err.Error(), nil)
			return WrapExitError(ExitFailure, "persist posterior", err)
		}
	}

	if err := writePosterior(outPath, res.Posterior); err != nil {
		formatter.Error(ErrCodeInput, err.Error(), nil)
		return WrapExitError(ExitCommandError, "write posterior", err)
	}

	return formatter.Success(FitSummary{
		RunToken:       res.RunToken,
		Iterations:     res.Completed,
		PosteriorDraws: res.PosteriorDraws,
		PosteriorPairs: len(res.Posterior),
		Out:            outPath,
		Database:       dbPath,
	})
}
