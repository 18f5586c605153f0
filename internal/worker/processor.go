package worker

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-image-sourcer/internal/pacing"
	"github.com/JakeFAU/catalog-image-sourcer/internal/progress"
	"github.com/JakeFAU/catalog-image-sourcer/internal/sourcing"
)

var tracer = otel.Tracer("github.com/JakeFAU/catalog-image-sourcer/internal/worker")

// Skip messages.
const (
	skipAlreadyProcessed = "Already processed"
	skipAlreadyHasImage  = "Already has image"
	skipImageExists      = "Image already exists"
	skipMissingSKU       = "Missing SKU"
	unknownError         = "Unknown error"
)

// ProcessorConfig controls Processor behavior.
type ProcessorConfig struct {
	// Strategies are expanded per item; DefaultStrategies when empty.
	Strategies []sourcing.StrategyTemplate
	// SkipItemsWithImages skips catalog rows already flagged as having an image.
	SkipItemsWithImages bool
}

// Processor applies the skip policy, drives retrieval, publishes, records
// the outcome and paces the next item.
type Processor struct {
	cfg       ProcessorConfig
	retriever Retriever
	store     sourcing.ImageStore
	ledger    sourcing.Ledger
	mirrors   []sourcing.Mirror
	publisher sourcing.Publisher
	pacer     *pacing.Policy
	clock     sourcing.Clock
	logger    *zap.Logger
}

// NewProcessor constructs a Processor. publisher may be nil when publication
// is disabled; mirrors may be empty.
func NewProcessor(
	cfg ProcessorConfig,
	retriever Retriever,
	store sourcing.ImageStore,
	ledger sourcing.Ledger,
	mirrors []sourcing.Mirror,
	publisher sourcing.Publisher,
	pacer *pacing.Policy,
	clock sourcing.Clock,
	logger *zap.Logger,
) *Processor {
	if len(cfg.Strategies) == 0 {
		cfg.Strategies = sourcing.DefaultStrategies()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{
		cfg:       cfg,
		retriever: retriever,
		store:     store,
		ledger:    ledger,
		mirrors:   mirrors,
		publisher: publisher,
		pacer:     pacer,
		clock:     clock,
		logger:    logger,
	}
}

// Process handles one catalog item. The returned error is non-nil only when
// ctx ends; an item interrupted before its ledger append has no ledger row.
func (p *Processor) Process(ctx context.Context, run *Run, item sourcing.CatalogItem) (sourcing.Outcome, error) {
	item = normalizeItem(item)
	emit := run.reporter(item)
	logger := p.logger.With(zap.String("sku", item.SKU))

	ctx, span := tracer.Start(ctx, "sourcing.process_item", trace.WithAttributes(attribute.String("sku", item.SKU)))
	defer span.End()

	if reason, skip := p.skipReason(run, item); skip {
		emitPhase(emit, progress.PhaseSkipped, reason)
		logger.Debug("item skipped", zap.String("reason", reason))
		return sourcing.Outcome{SKU: item.SKU, Name: item.Name, Status: sourcing.StatusSkipped, Message: reason}, nil
	}

	strategies := sourcing.Plan(p.cfg.Strategies, item)
	outcome, err := p.retriever.Retrieve(ctx, item, strategies, emit)
	if err != nil {
		return sourcing.Outcome{}, fmt.Errorf("retrieve %s: %w", item.SKU, err)
	}
	if outcome.Status != sourcing.StatusSuccess && outcome.Status != sourcing.StatusFailed {
		logger.Error("retrieval produced no terminal outcome")
		outcome = sourcing.Outcome{Status: sourcing.StatusFailed, Message: unknownError}
		emitPhase(emit, progress.PhaseFailed, unknownError)
	}
	outcome.SKU = item.SKU
	outcome.Name = item.Name

	if outcome.Status == sourcing.StatusSuccess {
		run.State.Claimed[outcome.SavedFilename] = item.SKU
		run.State.Completed[item.SKU] = struct{}{}
		if run.Publish && p.publisher != nil {
			outcome.Publication = p.publish(ctx, item, outcome, emit, logger)
		}
	}

	span.SetAttributes(attribute.String("status", string(outcome.Status)))
	p.record(ctx, run, outcome, logger)

	delay := p.pacer.Next(pacing.InterItem)
	emitPhase(emit, progress.PhaseWaiting, fmt.Sprintf("Cooling down for %.1fs...", delay.Seconds()))
	if err := p.pacer.Wait(ctx, delay); err != nil {
		return outcome, err
	}
	return outcome, nil
}

func normalizeItem(item sourcing.CatalogItem) sourcing.CatalogItem {
	item.SKU = strings.TrimSpace(item.SKU)
	item.Name = strings.TrimSpace(item.Name)
	if strings.EqualFold(item.Name, "nan") {
		item.Name = ""
	}
	return item
}

func (p *Processor) skipReason(run *Run, item sourcing.CatalogItem) (string, bool) {
	switch {
	case item.SKU == "":
		return skipMissingSKU, true
	case run.State.IsCompleted(item.SKU):
		return skipAlreadyProcessed, true
	case item.HasImage && p.cfg.SkipItemsWithImages:
		return skipAlreadyHasImage, true
	}
	if file, ok := p.existingImage(run, item); ok {
		return fmt.Sprintf("%s (%s)", skipImageExists, file), true
	}
	return "", false
}

// existingImage looks for <sku>, <name>_<sku> or <name> with a known image
// extension. A bare <name> file owned by another SKU does not count.
func (p *Processor) existingImage(run *Run, item sourcing.CatalogItem) (string, bool) {
	sku := sourcing.SanitizeFilename(item.SKU)
	name := sourcing.SanitizeFilename(item.Name)
	for _, ext := range sourcing.ImageExtensions {
		var names []string
		if sku != "" {
			names = append(names, sku+ext)
			if name != "" {
				names = append(names, name+"_"+sku+ext)
			}
		}
		for _, candidate := range names {
			if p.store.Exists(candidate) {
				return candidate, true
			}
		}
		if name == "" {
			continue
		}
		bare := name + ext
		if !p.store.Exists(bare) {
			continue
		}
		if owner, claimed := run.State.Claimed[bare]; !claimed || owner == item.SKU {
			return bare, true
		}
	}
	return "", false
}

func (p *Processor) publish(
	ctx context.Context,
	item sourcing.CatalogItem,
	outcome sourcing.Outcome,
	emit progress.Emitter,
	logger *zap.Logger,
) sourcing.PublicationResult {
	result := sourcing.PublicationResult{Attempted: true}
	fail := func(step string, err error) sourcing.PublicationResult {
		logger.Warn("publication failed", zap.String("step", step), zap.Error(err))
		emitPhase(emit, progress.PhaseError, fmt.Sprintf("Publication error during %s: %v", step, err))
		result.Status = sourcing.PublicationErrorStatus(err)
		return result
	}

	emitPhase(emit, progress.PhaseCheckingDuplicate, "Checking for existing media...")
	mediaID, duplicate, err := p.publisher.CheckDuplicate(ctx, item.SKU, outcome.SavedFilename)
	if err != nil {
		return fail("duplicate check", err)
	}
	if duplicate {
		result.MediaID = mediaID
		result.Duplicate = true
		result.Status = sourcing.PublicationDuplicate
		return result
	}

	title := item.Name
	if title == "" {
		title = item.SKU
	}
	emitPhase(emit, progress.PhaseUploading, "Uploading image...")
	mediaID, err = p.publisher.UploadMedia(ctx, p.store.Path(outcome.SavedFilename), sourcing.MediaMeta{
		Title:       title,
		AltText:     title,
		Caption:     title,
		Description: "Product image for " + title,
	})
	if err != nil {
		return fail("upload", err)
	}
	if mediaID == 0 {
		result.Status = sourcing.PublicationUploadFailed
		return result
	}
	result.MediaID = mediaID

	emitPhase(emit, progress.PhaseAssigning, "Assigning image to product...")
	recordID, found, err := p.publisher.FindCatalogRecord(ctx, item.SKU, item.Name)
	if err != nil {
		return fail("product lookup", err)
	}
	if !found {
		result.Status = sourcing.PublicationRecordNotFound
		return result
	}
	assigned, err := p.publisher.SetPrimaryImage(ctx, recordID, mediaID)
	if err != nil {
		return fail("assign", err)
	}
	if !assigned {
		result.Status = sourcing.PublicationAssignFailed
		return result
	}
	result.Status = sourcing.PublicationAssigned
	logger.Info("image published", zap.Int64("media_id", mediaID), zap.Int64("record_id", recordID))
	return result
}

// record appends the ledger row and forwards it to the mirrors. Failures
// are logged and never abort the run.
func (p *Processor) record(ctx context.Context, run *Run, outcome sourcing.Outcome, logger *zap.Logger) {
	if err := p.ledger.Append(ctx, sourcing.NewLedgerEntry(outcome)); err != nil {
		logger.Error("ledger append failed", zap.Error(err))
	}
	if len(p.mirrors) == 0 {
		return
	}
	rec := sourcing.MirrorRecord{
		RunID:   run.ID.String(),
		Outcome: outcome,
	}
	if p.clock != nil {
		rec.RecordedAt = p.clock.Now()
	}
	if outcome.Status == sourcing.StatusSuccess {
		rec.LocalPath = p.store.Path(outcome.SavedFilename)
	}
	for _, m := range p.mirrors {
		if err := m.Mirror(ctx, rec); err != nil {
			logger.Warn("outcome mirror failed", zap.Error(err))
		}
	}
}
