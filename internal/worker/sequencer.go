package worker

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-image-sourcer/internal/pacing"
	"github.com/JakeFAU/catalog-image-sourcer/internal/progress"
	"github.com/JakeFAU/catalog-image-sourcer/internal/sourcing"
)

// maxFilenameAttempts bounds the numeric suffixes tried on collision.
const maxFilenameAttempts = 1000

// Retriever produces a terminal outcome for one item.
type Retriever interface {
	Retrieve(
		ctx context.Context,
		item sourcing.CatalogItem,
		strategies []sourcing.Strategy,
		emit progress.Emitter,
	) (sourcing.Outcome, error)
}

// Sequencer walks the strategy list for an item until one yields a saved image.
type Sequencer struct {
	searchers  map[sourcing.Backend]sourcing.Searcher
	ranker     *sourcing.Ranker
	downloader sourcing.Downloader
	store      sourcing.ImageStore
	hasher     sourcing.Hasher
	pacer      *pacing.Policy
	logger     *zap.Logger
}

// NewSequencer constructs a Sequencer. hasher may be nil.
func NewSequencer(
	searchers map[sourcing.Backend]sourcing.Searcher,
	ranker *sourcing.Ranker,
	downloader sourcing.Downloader,
	store sourcing.ImageStore,
	hasher sourcing.Hasher,
	pacer *pacing.Policy,
	logger *zap.Logger,
) *Sequencer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sequencer{
		searchers:  searchers,
		ranker:     ranker,
		downloader: downloader,
		store:      store,
		hasher:     hasher,
		pacer:      pacer,
		logger:     logger,
	}
}

// Retrieve attempts each strategy in order. Provider, download and write
// failures abandon the current strategy; only context cancellation is
// returned as an error.
func (s *Sequencer) Retrieve(
	ctx context.Context,
	item sourcing.CatalogItem,
	strategies []sourcing.Strategy,
	emit progress.Emitter,
) (sourcing.Outcome, error) {
	logger := s.logger.With(zap.String("sku", item.SKU))
	total := len(strategies)

	for k, strategy := range strategies {
		emitPhase(emit, progress.PhaseSearching, fmt.Sprintf("Attempt %d/%d: %s...", k+1, total, strategy.Description))
		if err := s.pacer.Pause(ctx, pacing.PreSearch); err != nil {
			return sourcing.Outcome{}, err
		}

		attemptLog := logger.With(zap.String("backend", string(strategy.Backend)), zap.String("query", strategy.Query))
		candidates, err := s.search(ctx, strategy)
		if err != nil {
			if ctx.Err() != nil {
				return sourcing.Outcome{}, fmt.Errorf("search %s: %w", strategy.Backend, ctx.Err())
			}
			attemptLog.Warn("search failed", zap.Error(err))
			continue
		}
		if len(candidates) == 0 {
			attemptLog.Info("search returned no results")
			continue
		}

		best, ok := s.ranker.Pick(item.Name, candidates)
		if !ok {
			attemptLog.Info("no candidate cleared threshold", zap.Int("candidates", len(candidates)))
			continue
		}

		emit.Emit(progress.Event{
			Phase:     progress.PhaseDownloading,
			Message:   fmt.Sprintf("Downloading (Score: %d%%)", best.Score),
			Score:     best.Score,
			SourceURL: best.ImageURL,
		})
		if err := s.pacer.Pause(ctx, pacing.PreDownload); err != nil {
			return sourcing.Outcome{}, err
		}

		filename, digest, err := s.save(ctx, item, best)
		if err != nil {
			if ctx.Err() != nil {
				return sourcing.Outcome{}, fmt.Errorf("save image: %w", ctx.Err())
			}
			attemptLog.Warn("image save failed", zap.String("url", best.ImageURL), zap.Error(err))
			continue
		}

		message := fmt.Sprintf("Saved %s (Score: %d%%)", filename, best.Score)
		emit.Emit(progress.Event{
			Phase:         progress.PhaseSuccess,
			Message:       message,
			Score:         best.Score,
			SourceURL:     best.ImageURL,
			SavedFilename: filename,
		})
		attemptLog.Info("image saved", zap.String("file", filename), zap.Int("score", best.Score))
		return sourcing.Outcome{
			SKU:           item.SKU,
			Name:          item.Name,
			Status:        sourcing.StatusSuccess,
			Score:         best.Score,
			HasScore:      true,
			SourceURL:     best.ImageURL,
			SavedFilename: filename,
			Message:       message,
			ContentHash:   digest,
		}, nil
	}

	const message = "All attempts failed"
	emitPhase(emit, progress.PhaseFailed, message)
	logger.Info("no image found", zap.Int("strategies", total))
	return sourcing.Outcome{
		SKU:     item.SKU,
		Name:    item.Name,
		Status:  sourcing.StatusFailed,
		Message: message,
	}, nil
}

func (s *Sequencer) search(ctx context.Context, strategy sourcing.Strategy) ([]sourcing.Candidate, error) {
	searcher, ok := s.searchers[strategy.Backend]
	if !ok || searcher == nil {
		return nil, fmt.Errorf("%w: %s", sourcing.ErrNoSearcher, strategy.Backend)
	}
	candidates, err := searcher.Search(ctx, strategy.Query)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", strategy.Backend, err)
	}
	return candidates, nil
}

func (s *Sequencer) save(
	ctx context.Context,
	item sourcing.CatalogItem,
	candidate sourcing.Candidate,
) (string, string, error) {
	img, err := s.downloader.Download(ctx, candidate.ImageURL)
	if err != nil {
		return "", "", fmt.Errorf("download image: %w", err)
	}
	if len(img.Body) == 0 {
		return "", "", sourcing.ErrEmptyBody
	}

	ext := sourcing.ExtensionFor(candidate.ImageURL, img.ContentType)
	filename, err := s.create(ctx, item, ext, img.Body)
	if err != nil {
		return "", "", err
	}

	digest := ""
	if s.hasher != nil {
		if digest, err = s.hasher.Hash(img.Body); err != nil {
			s.logger.Warn("hash image failed", zap.String("file", filename), zap.Error(err))
			digest = ""
		}
	}
	return filename, digest, nil
}

// create writes body under the first free name in the collision sequence.
func (s *Sequencer) create(ctx context.Context, item sourcing.CatalogItem, ext string, body []byte) (string, error) {
	base := sourcing.BaseName(item.Name, item.SKU)
	for attempt := 0; attempt < maxFilenameAttempts; attempt++ {
		name := CollisionName(base, item.SKU, ext, attempt)
		_, err := s.store.Create(ctx, name, body)
		if err == nil {
			return name, nil
		}
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		return "", fmt.Errorf("write image %s: %w", name, err)
	}
	return "", fmt.Errorf("write image: no free filename for %q", base)
}

// CollisionName returns the attempt-th filename for base: base.ext, then
// base_SKU.ext, then base_SKU_2.ext, base_SKU_3.ext and so on.
func CollisionName(base, sku, ext string, attempt int) string {
	tag := sourcing.SanitizeFilename(sku)
	if tag == "" {
		tag = "item"
	}
	switch attempt {
	case 0:
		return base + ext
	case 1:
		return base + "_" + tag + ext
	default:
		return fmt.Sprintf("%s_%s_%d%s", base, tag, attempt, ext)
	}
}
