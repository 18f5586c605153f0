// Package sourcing defines the domain types, interfaces and pure policies
// (filename sanitising, candidate ranking, strategy planning) shared by the
// image sourcing pipeline.
package sourcing

import (
	"errors"
	"strconv"
	"strings"
)

// Status is the terminal state of one catalog item within a run.
type Status string

// Outcome statuses. Only Success and Failed are written to the ledger.
const (
	StatusSuccess Status = "Success"
	StatusFailed  Status = "Failed"
	StatusSkipped Status = "Skipped"
)

// Backend identifies a search provider.
type Backend string

// Supported search backends.
const (
	BackendDuckDuckGo Backend = "duckduckgo"
	BackendBing       Backend = "bing"
	BackendYahoo      Backend = "yahoo"
)

// DefaultMaxCandidates caps the number of candidates a backend returns per query.
const DefaultMaxCandidates = 5

// DefaultThreshold is the minimum similarity score for a candidate to be accepted.
const DefaultThreshold = 70

// Sentinel errors surfaced by downloaders and the sequencer.
var (
	ErrEmptyBody   = errors.New("empty response body")
	ErrNoCandidate = errors.New("no acceptable candidate")
	ErrNoSearcher  = errors.New("no searcher registered for backend")
)

// CatalogItem is one row of the input catalog.
type CatalogItem struct {
	SKU      string `json:"SKU"`
	Name     string `json:"Name"`
	HasImage bool   `json:"HasImage"`
}

// Candidate is an image returned by a search backend for one query.
type Candidate struct {
	ImageURL string
	Title    string
	Score    int
	// Rank is the provider's ordering, 0 for the first result.
	Rank int
}

// Usable reports whether both mandatory fields are present.
func (c Candidate) Usable() bool {
	return c.ImageURL != "" && c.Title != ""
}

// Strategy is one (backend, query) attempt in the per-item fallback sequence.
type Strategy struct {
	Backend     Backend
	Query       string
	Description string
}

// Publication statuses recorded in the ledger.
const (
	PublicationDuplicate       = "Duplicate (Reused)"
	PublicationAssigned        = "Uploaded & Assigned"
	PublicationAssignFailed    = "Uploaded (Assign Failed)"
	PublicationRecordNotFound  = "Uploaded (Product Not Found)"
	PublicationUploadFailed    = "Upload Failed"
	publicationErrorStatusStem = "Error: "
)

// PublicationErrorStatus formats the status recorded when the adapter fails.
func PublicationErrorStatus(err error) string {
	return publicationErrorStatusStem + err.Error()
}

// PublicationResult records what the publication step did for an item.
type PublicationResult struct {
	Attempted bool
	MediaID   int64
	Status    string
	Duplicate bool
}

// Published reports whether the remote system now holds media for the item.
func (r PublicationResult) Published() bool {
	return r.Attempted && r.MediaID > 0
}

// Outcome is the terminal result for one processed item.
type Outcome struct {
	SKU           string
	Name          string
	Status        Status
	Score         int
	HasScore      bool
	SourceURL     string
	SavedFilename string
	Message       string
	ContentHash   string
	Publication   PublicationResult
}

// LedgerEntry is the persisted form of an Outcome.
type LedgerEntry struct {
	SKU               string
	Name              string
	SourceURL         string
	SavedFilename     string
	Status            Status
	MediaID           int64
	PublicationStatus string
	Duplicate         string
}

// NewLedgerEntry converts an outcome into its ledger row.
func NewLedgerEntry(o Outcome) LedgerEntry {
	entry := LedgerEntry{
		SKU:           o.SKU,
		Name:          o.Name,
		SourceURL:     o.SourceURL,
		SavedFilename: o.SavedFilename,
		Status:        o.Status,
	}
	if o.Publication.Attempted {
		entry.MediaID = o.Publication.MediaID
		entry.PublicationStatus = o.Publication.Status
		entry.Duplicate = "No"
		if o.Publication.Duplicate {
			entry.Duplicate = "Yes"
		}
	}
	return entry
}

// ResumeState is what the run loop learns from a prior ledger.
type ResumeState struct {
	// Completed holds SKUs that must not be processed again.
	Completed map[string]struct{}
	// Claimed maps a saved filename to the SKU that produced it.
	Claimed map[string]string
}

// NewResumeState returns an empty state.
func NewResumeState() ResumeState {
	return ResumeState{
		Completed: make(map[string]struct{}),
		Claimed:   make(map[string]string),
	}
}

// IsCompleted reports whether sku already has a recorded success.
func (s ResumeState) IsCompleted(sku string) bool {
	_, ok := s.Completed[sku]
	return ok
}

// StoreCategory is a product category defined in the storefront.
type StoreCategory struct {
	ID   int64
	Name string
}

// StoreProduct is a storefront listing as read by catalog sync.
type StoreProduct struct {
	ID         int64
	SKU        string
	Name       string
	ImageCount int
	Categories []StoreCategory
}

// CatalogSKU is the SKU used for ledger and image naming, falling back to
// the storefront ID for products without one.
func (p StoreProduct) CatalogSKU() string {
	if sku := strings.TrimSpace(p.SKU); sku != "" {
		return sku
	}
	return strconv.FormatInt(p.ID, 10)
}

// NeedsImage reports whether the product has no images at all.
func (p StoreProduct) NeedsImage() bool {
	return p.ImageCount == 0
}

// NeedsCategory reports whether the product has no categories or only
// "Uncategorized" ones.
func (p StoreProduct) NeedsCategory() bool {
	for _, c := range p.Categories {
		if !strings.Contains(strings.ToLower(c.Name), "uncategorized") {
			return false
		}
	}
	return true
}
