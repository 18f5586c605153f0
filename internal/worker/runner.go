package worker

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-image-sourcer/internal/progress"
	"github.com/JakeFAU/catalog-image-sourcer/internal/sourcing"
)

// ItemProcessor handles one catalog item within a run.
type ItemProcessor interface {
	Process(ctx context.Context, run *Run, item sourcing.CatalogItem) (sourcing.Outcome, error)
}

// RunOptions tweak a single invocation of Runner.Run.
type RunOptions struct {
	Publish bool
	// Observe, when set, receives every terminal outcome in item order.
	Observe func(sourcing.Outcome)
}

// Runner drives a catalog through the processor, resuming from the ledger.
type Runner struct {
	processor ItemProcessor
	ledger    sourcing.Ledger
	store     sourcing.ImageStore
	ids       sourcing.IDGenerator
	clock     sourcing.Clock
	logger    *zap.Logger
}

// NewRunner constructs a Runner.
func NewRunner(
	processor ItemProcessor,
	ledger sourcing.Ledger,
	store sourcing.ImageStore,
	ids sourcing.IDGenerator,
	clock sourcing.Clock,
	logger *zap.Logger,
) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		processor: processor,
		ledger:    ledger,
		store:     store,
		ids:       ids,
		clock:     clock,
		logger:    logger,
	}
}

// Run processes items in order and returns the tally. It stops between items
// once ctx is done and returns the context error alongside the partial summary.
func (r *Runner) Run(
	ctx context.Context,
	items []sourcing.CatalogItem,
	emit progress.Emitter,
	opts RunOptions,
) (Summary, error) {
	runID, err := r.ids.NewRunID()
	if err != nil {
		return Summary{}, fmt.Errorf("new run id: %w", err)
	}
	summary := Summary{RunID: runID}
	logger := r.logger.With(zap.String("run_id", runID.String()))

	state, err := r.ledger.Load(ctx)
	if err != nil {
		logger.Warn("ledger unreadable, starting fresh", zap.Error(err))
		state = sourcing.NewResumeState()
	}
	if state.Completed == nil || state.Claimed == nil {
		fresh := sourcing.NewResumeState()
		for sku := range state.Completed {
			fresh.Completed[sku] = struct{}{}
		}
		for file, sku := range state.Claimed {
			fresh.Claimed[file] = sku
		}
		state = fresh
	}
	if err := r.store.EnsureDir(); err != nil {
		logger.Error("output directory unavailable", zap.Error(err))
	}

	run := &Run{
		ID:      runID,
		State:   state,
		Emitter: emit,
		Publish: opts.Publish,
		Clock:   r.clock,
	}
	logger.Info("run started",
		zap.Int("items", len(items)),
		zap.Int("already_completed", len(state.Completed)),
		zap.Bool("publish", opts.Publish),
	)

	for _, item := range items {
		if err := ctx.Err(); err != nil {
			logger.Info("run cancelled", zap.Any("summary", summary))
			return summary, fmt.Errorf("run cancelled: %w", err)
		}
		outcome, err := r.processor.Process(ctx, run, item)
		if outcome.Status != "" {
			summary.add(outcome)
			if opts.Observe != nil {
				opts.Observe(outcome)
			}
		}
		if err != nil {
			logger.Info("run cancelled", zap.Any("summary", summary))
			return summary, err
		}
	}

	logger.Info("run finished",
		zap.Int("total", summary.Total),
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("failed", summary.Failed),
		zap.Int("skipped", summary.Skipped),
		zap.Int("published", summary.Published),
	)
	return summary, nil
}
