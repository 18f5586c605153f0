// Package catalogsync brings storefront products up to date. Products with
// no image get one through the image pipeline and uncategorized products get
// a category predicted from their name. The store is only written to when a
// sync runs with Apply set.
package catalogsync

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-image-sourcer/internal/progress"
	"github.com/JakeFAU/catalog-image-sourcer/internal/sourcing"
	"github.com/JakeFAU/catalog-image-sourcer/internal/worker"
)

// Defaults for Config.
const (
	DefaultLimit    = 10
	DefaultPageSize = 100
)

// Image and category statuses reported per product.
const (
	ImageHasImage       = "Has Image"
	ImageNotProcessed   = "Not Processed"
	ImageFound          = "Found"
	ImageFoundDryRun    = "Found (Dry Run)"
	ImageNotFound       = "Not Found"
	CategoryCategorized = "Categorized"
	CategoryUpdateFail  = "Update Failed"
)

// ErrNoCategories is returned when the store lists no categories, which
// usually means the credentials lack catalog access.
var ErrNoCategories = errors.New("storefront returned no categories")

// Config tunes catalog sync.
type Config struct {
	// Limit caps how many products needing attention one sync handles.
	Limit int `mapstructure:"limit"`
	// PageSize is the product listing page size; WooCommerce allows at most 100.
	PageSize int `mapstructure:"page_size"`
	// MinConfidence is the prediction confidence needed to set a category.
	MinConfidence int `mapstructure:"min_confidence"`
}

// Options select how one sync behaves. A zero Limit falls back to Config.
type Options struct {
	Limit int
	Apply bool
}

// ImageSourcer runs the image pipeline over items and reports each terminal
// outcome to observe.
type ImageSourcer interface {
	SourceImages(
		ctx context.Context,
		items []sourcing.CatalogItem,
		publish bool,
		emit progress.Emitter,
		observe func(sourcing.Outcome),
	) (worker.Summary, error)
}

// Result is the sync outcome for one product.
type Result struct {
	ProductID     int64
	SKU           string
	Name          string
	OldCategories []string

	ImageStatus   string
	ImageSourced  bool
	SavedFilename string

	CategoryStatus string
	NewCategory    string
	Confidence     int
	Predicted      bool
}

// Report collects the results of one sync.
type Report struct {
	Apply   bool
	Results []Result
	Images  worker.Summary
}

// ImagesSourced counts products that got an image.
func (r Report) ImagesSourced() int {
	n := 0
	for _, res := range r.Results {
		if res.ImageSourced {
			n++
		}
	}
	return n
}

// CategoriesPredicted counts products whose prediction cleared the
// confidence bar.
func (r Report) CategoriesPredicted() int {
	n := 0
	for _, res := range r.Results {
		if res.Predicted {
			n++
		}
	}
	return n
}

// Syncer runs catalog syncs against one store.
type Syncer struct {
	cfg    Config
	store  sourcing.Storefront
	images ImageSourcer
	logger *zap.Logger
}

// New constructs a Syncer. Zero config values take the package defaults.
func New(cfg Config, store sourcing.Storefront, images ImageSourcer, logger *zap.Logger) *Syncer {
	if cfg.Limit <= 0 {
		cfg.Limit = DefaultLimit
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	if cfg.MinConfidence <= 0 {
		cfg.MinConfidence = DefaultMinConfidence
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Syncer{cfg: cfg, store: store, images: images, logger: logger}
}

// Run collects up to the limit of products that lack an image or a real
// category, sources images for the former and predicts categories for the
// latter. Image progress is forwarded to emit.
func (s *Syncer) Run(ctx context.Context, opts Options, emit progress.Emitter) (Report, error) {
	report := Report{Apply: opts.Apply}
	limit := opts.Limit
	if limit <= 0 {
		limit = s.cfg.Limit
	}

	categories, err := s.store.ListCategories(ctx)
	if err != nil {
		return report, fmt.Errorf("fetch categories: %w", err)
	}
	if len(categories) == 0 {
		return report, ErrNoCategories
	}
	products, err := s.collect(ctx, limit)
	if err != nil {
		return report, err
	}
	s.logger.Info("sync started",
		zap.Int("categories", len(categories)),
		zap.Int("products", len(products)),
		zap.Bool("apply", opts.Apply),
	)

	report.Results = make([]Result, len(products))
	bySKU := make(map[string][]int)
	var items []sourcing.CatalogItem
	for i, p := range products {
		report.Results[i] = newResult(p)
		if !p.NeedsImage() {
			continue
		}
		sku := p.CatalogSKU()
		if _, seen := bySKU[sku]; !seen {
			items = append(items, sourcing.CatalogItem{SKU: sku, Name: p.Name})
		}
		bySKU[sku] = append(bySKU[sku], i)
	}

	if len(items) > 0 {
		summary, err := s.images.SourceImages(ctx, items, opts.Apply, emit, func(o sourcing.Outcome) {
			for _, i := range bySKU[o.SKU] {
				report.Results[i].recordImage(o, opts.Apply)
			}
		})
		report.Images = summary
		if err != nil {
			return report, fmt.Errorf("source images: %w", err)
		}
	}

	predictor := NewPredictor(categories)
	for i, p := range products {
		if !p.NeedsCategory() {
			continue
		}
		if err := ctx.Err(); err != nil {
			return report, fmt.Errorf("sync cancelled: %w", err)
		}
		s.categorize(ctx, predictor, p, &report.Results[i], opts.Apply)
	}

	s.logger.Info("sync finished",
		zap.Int("images_sourced", report.ImagesSourced()),
		zap.Int("categories_predicted", report.CategoriesPredicted()),
	)
	return report, nil
}

// collect pages through the store until limit products needing attention
// are found or the listing runs out.
func (s *Syncer) collect(ctx context.Context, limit int) ([]sourcing.StoreProduct, error) {
	var out []sourcing.StoreProduct
	for page := 1; len(out) < limit; page++ {
		batch, err := s.store.ListProducts(ctx, page, s.cfg.PageSize)
		if err != nil {
			return nil, fmt.Errorf("collect products: %w", err)
		}
		for _, p := range batch {
			if p.NeedsImage() || p.NeedsCategory() {
				out = append(out, p)
				if len(out) == limit {
					break
				}
			}
		}
		if len(batch) < s.cfg.PageSize {
			break
		}
	}
	return out, nil
}

func (s *Syncer) categorize(ctx context.Context, predictor *Predictor, p sourcing.StoreProduct, res *Result, apply bool) {
	logger := s.logger.With(zap.Int64("product_id", p.ID), zap.String("name", p.Name))
	pred, ok := predictor.Predict(p.Name)
	res.Confidence = pred.Confidence
	if !ok || pred.Confidence < s.cfg.MinConfidence {
		res.CategoryStatus = fmt.Sprintf("Low Confidence (%d%%)", pred.Confidence)
		logger.Debug("category confidence too low", zap.Int("confidence", pred.Confidence))
		return
	}
	res.NewCategory = pred.Category.Name
	res.Predicted = true
	if !apply {
		res.CategoryStatus = fmt.Sprintf("Would Set: %s (%d%%)", pred.Category.Name, pred.Confidence)
		return
	}

	updated, err := s.store.SetCategory(ctx, p.ID, pred.Category.ID)
	switch {
	case err != nil:
		logger.Warn("category update failed", zap.Error(err))
		res.CategoryStatus = CategoryUpdateFail
	case !updated:
		res.CategoryStatus = CategoryUpdateFail
	default:
		logger.Info("category set", zap.String("category", pred.Category.Name), zap.Int("confidence", pred.Confidence))
		res.CategoryStatus = "Set to " + pred.Category.Name
	}
}

func newResult(p sourcing.StoreProduct) Result {
	res := Result{
		ProductID:      p.ID,
		SKU:            p.CatalogSKU(),
		Name:           p.Name,
		ImageStatus:    ImageHasImage,
		CategoryStatus: CategoryCategorized,
	}
	for _, c := range p.Categories {
		res.OldCategories = append(res.OldCategories, c.Name)
	}
	if p.NeedsImage() {
		res.ImageStatus = ImageNotProcessed
	}
	return res
}

func (r *Result) recordImage(o sourcing.Outcome, apply bool) {
	switch o.Status {
	case sourcing.StatusSuccess:
		r.ImageSourced = true
		r.SavedFilename = o.SavedFilename
		switch {
		case o.Publication.Attempted:
			r.ImageStatus = o.Publication.Status
		case apply:
			r.ImageStatus = ImageFound
		default:
			r.ImageStatus = ImageFoundDryRun
		}
	case sourcing.StatusFailed:
		r.ImageStatus = ImageNotFound
	case sourcing.StatusSkipped:
		r.ImageStatus = "Skipped: " + o.Message
	}
}
