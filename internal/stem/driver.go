// Package stem implements the outer Stochastic Expectation-Maximization
// loop: it alternates a sampling phase (delegated to the Gibbs sampler)
// with a stochastic parameter update, manages the two burn-in levels, and
// accumulates the final linkage posterior.
//
// The driver owns the parameter state and the link state exclusively; both
// are passed by reference into the sampler for the duration of one phase
// and never aliased elsewhere. Outer iterations are strictly sequential,
// since each depends on the previous iteration's parameter estimate, so
// there is no parallelism at this level.
package stem

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"

	"github.com/roach88/stemlink/internal/linkage"
	"github.com/roach88/stemlink/internal/params"
	"github.com/roach88/stemlink/internal/record"
	"github.com/roach88/stemlink/internal/sampler"
	"github.com/roach88/stemlink/internal/schema"
)

// Observer is notified between outer iterations. It is a pure side channel:
// implementations must not mutate anything the fit owns, and the sampler
// never sees it. The zero-value fit uses a no-op observer.
type Observer interface {
	AfterIteration(info IterationInfo)
}

// IterationInfo is the progress snapshot handed to an Observer.
type IterationInfo struct {
	RunToken  string
	Iteration int // 1-based outer iteration
	Total     int
	Linked    int // linked pairs in the last Gibbs draw
}

// ChainSink receives per-iteration parameter snapshots for persistence.
// Implementations must be best-effort and non-blocking: a slow or failing
// sink must never stall or perturb the sampler (see the store package for
// the sqlite-backed implementation).
type ChainSink interface {
	WriteSnapshot(runToken string, iteration int, st *params.State)
}

// Config is the single input object for a fit.
type Config struct {
	Model *schema.Model
	FileA *record.File
	FileB *record.File
	Run   schema.RunConfig

	// Observer, Sink, and Tokens are optional; nil selects no-op
	// implementations (and UUIDv7 tokens).
	Observer Observer
	Sink     ChainSink
	Tokens   TokenGenerator
}

// Result is the outcome of a fit: the sparse link posterior, the full
// parameter chains, and their post-burn-in mean as a point estimate.
type Result struct {
	RunToken string

	// Posterior maps each candidate pair ever sampled as linked (in a
	// qualifying draw) to its posterior linkage probability. Callers
	// typically threshold at 0.5 for a hard decision.
	Posterior linkage.Posterior

	// PosteriorDraws is the number of qualifying draws behind Posterior:
	// (StEMIter - StEMBurnin) * (GibbsIter - GibbsBurnin) for a full run.
	PosteriorDraws int

	// Chains holds one parameter snapshot per completed outer iteration.
	Chains *params.Chain

	// Estimate is the post-burn-in chain mean, nil when burn-in swallowed
	// every completed iteration (e.g. an early-terminated run).
	Estimate *params.State

	// Completed is the number of outer iterations that ran; less than
	// StEMIter only when the context was cancelled.
	Completed int
}

type noopObserver struct{}

func (noopObserver) AfterIteration(IterationInfo) {}

type noopSink struct{}

func (noopSink) WriteSnapshot(string, int, *params.State) {}

// Fit runs the full StEM estimation. Configuration errors and estimability
// failures surface before any iteration runs; numerical instability aborts
// the fit with full context.
//
// Cancellation is honored between outer iterations only; there is no safe
// preemption point inside a phase. A cancelled fit returns the partial
// Result accumulated so far alongside ctx.Err().
func Fit(ctx context.Context, cfg Config) (*Result, error) {
	if errs := schema.Validate(cfg.Model); len(errs) > 0 {
		return nil, fmt.Errorf("invalid model: %w", errs[0])
	}
	if err := schema.ValidateRun(cfg.Run); err != nil {
		return nil, err
	}
	if err := schema.Guard(cfg.Model, cfg.Run); err != nil {
		return nil, err
	}
	if err := cfg.FileA.Check(cfg.Model); err != nil {
		return nil, err
	}
	if err := cfg.FileB.Check(cfg.Model); err != nil {
		return nil, err
	}

	obs := cfg.Observer
	if obs == nil {
		obs = noopObserver{}
	}
	sink := cfg.Sink
	if sink == nil {
		sink = noopSink{}
	}
	tokens := cfg.Tokens
	if tokens == nil {
		tokens = UUIDv7Generator{}
	}

	token := tokens.Generate()
	rng := rand.New(rand.NewPCG(cfg.Run.Seed, cfg.Run.Seed^0x9e3779b97f4a7c15))

	state := params.Init(cfg.Model)
	match := linkage.NewMatching(cfg.FileA.NumRecords(), cfg.FileB.NumRecords())
	acc := linkage.NewAccumulator()
	gibbs := sampler.New(cfg.Model, cfg.FileA, cfg.FileB, rng)

	res := &Result{
		RunToken: token,
		Chains:   &params.Chain{},
	}

	slog.Info("stem fit starting",
		"run", token,
		"records_a", cfg.FileA.NumRecords(),
		"records_b", cfg.FileB.NumRecords(),
		"pivs", cfg.Model.NumPIVs(),
		"stem_iter", cfg.Run.StEMIter,
		"gibbs_iter", cfg.Run.GibbsIter,
	)

	for t := 1; t <= cfg.Run.StEMIter; t++ {
		select {
		case <-ctx.Done():
			slog.Info("stem fit cancelled", "run", token, "completed", res.Completed)
			res.finish(acc, cfg.Run)
			return res, ctx.Err()
		default:
		}

		spec := sampler.Spec{
			Iters:          cfg.Run.GibbsIter,
			Burnin:         cfg.Run.GibbsBurnin,
			Accumulate:     t > cfg.Run.StEMBurnin,
			OuterIteration: t,
		}
		stats, err := gibbs.Run(state, match, acc, spec)
		if err != nil {
			slog.Error("sampling phase failed", "run", token, "iteration", t, "error", err)
			return nil, err
		}

		if err := state.Update(cfg.Model, stats, rng, t); err != nil {
			slog.Error("parameter update failed", "run", token, "iteration", t, "error", err)
			return nil, err
		}

		res.Chains.Append(state)
		res.Completed = t
		sink.WriteSnapshot(token, t, res.Chains.At(t))

		slog.Debug("stem iteration complete",
			"run", token,
			"iteration", t,
			"linked", match.Count(),
		)
		obs.AfterIteration(IterationInfo{
			RunToken:  token,
			Iteration: t,
			Total:     cfg.Run.StEMIter,
			Linked:    match.Count(),
		})
	}

	res.finish(acc, cfg.Run)
	slog.Info("stem fit complete",
		"run", token,
		"posterior_pairs", len(res.Posterior),
		"posterior_draws", res.PosteriorDraws,
	)
	return res, nil
}

// finish assembles the posterior and point estimate from whatever has been
// accumulated so far.
func (r *Result) finish(acc *linkage.Accumulator, rc schema.RunConfig) {
	r.Posterior = acc.Posterior()
	r.PosteriorDraws = acc.Draws()
	r.Estimate = r.Chains.Mean(rc.StEMBurnin)
}
