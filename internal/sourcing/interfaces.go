package sourcing

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Searcher queries one image-search backend. Implementations swallow provider
// failures (logging them) and return an empty slice; only context errors are
// returned.
type Searcher interface {
	Search(ctx context.Context, query string) ([]Candidate, error)
}

// Image is a downloaded candidate body.
type Image struct {
	URL         string
	ContentType string
	Body        []byte
}

// Downloader fetches the binary content behind a candidate URL.
type Downloader interface {
	Download(ctx context.Context, url string) (Image, error)
}

// ImageStore is the output location for sourced images.
type ImageStore interface {
	EnsureDir() error
	Exists(filename string) bool
	// Create writes data under filename and fails with fs.ErrExist rather
	// than overwriting.
	Create(ctx context.Context, filename string, data []byte) (string, error)
	Path(filename string) string
}

// Ledger is the append-only audit record of per-item outcomes.
type Ledger interface {
	Load(ctx context.Context) (ResumeState, error)
	Append(ctx context.Context, entry LedgerEntry) error
}

// MirrorRecord is handed to secondary outcome sinks after the ledger append.
type MirrorRecord struct {
	RunID      string
	RecordedAt time.Time
	Outcome    Outcome
	// LocalPath is the saved image path, empty unless the outcome succeeded.
	LocalPath string
}

// Mirror copies outcomes to secondary systems (database, bucket, topic).
type Mirror interface {
	Mirror(ctx context.Context, rec MirrorRecord) error
}

// MediaMeta describes an uploaded image in the remote catalog system.
type MediaMeta struct {
	Title       string
	AltText     string
	Caption     string
	Description string
}

// Publisher is the remote content-management boundary. A zero media ID from
// UploadMedia means the upload was rejected; a false from SetPrimaryImage
// means the assignment was rejected.
type Publisher interface {
	CheckDuplicate(ctx context.Context, sku, filename string) (int64, bool, error)
	UploadMedia(ctx context.Context, path string, meta MediaMeta) (int64, error)
	FindCatalogRecord(ctx context.Context, sku, name string) (int64, bool, error)
	SetPrimaryImage(ctx context.Context, recordID, mediaID int64) (bool, error)
}

// Storefront lists products and categories and updates a product's
// category. Pages are 1-based; an empty page ends the listing. A false from
// SetCategory means the update was rejected.
type Storefront interface {
	ListProducts(ctx context.Context, page, perPage int) ([]StoreProduct, error)
	ListCategories(ctx context.Context) ([]StoreCategory, error)
	SetCategory(ctx context.Context, productID, categoryID int64) (bool, error)
}

// Hasher computes digests of downloaded images.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewRunID() (uuid.UUID, error)
}
