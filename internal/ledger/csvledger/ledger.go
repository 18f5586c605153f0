// Package csvledger persists per-item outcomes to an append-only CSV file and
// rebuilds the resume state from it.
package csvledger

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/JakeFAU/catalog-image-sourcer/internal/sourcing"
)

// Column names, in file order.
const (
	ColSKU               = "SKU"
	ColName              = "Original Name"
	ColSourceURL         = "Image Source URL"
	ColSavedFilename     = "Saved Filename"
	ColStatus            = "Status"
	ColMediaID           = "WP Media ID"
	ColPublicationStatus = "WP Upload Status"
	ColDuplicate         = "WP Duplicate"
)

// Header is the row written when the ledger file is created.
var Header = []string{
	ColSKU, ColName, ColSourceURL, ColSavedFilename, ColStatus,
	ColMediaID, ColPublicationStatus, ColDuplicate,
}

const utf8BOM = "\ufeff"

// Ledger is a CSV-backed sourcing.Ledger. It assumes a single writer.
type Ledger struct {
	path string
	mu   sync.Mutex
}

// New returns a Ledger for path.
func New(path string) (*Ledger, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("ledger path is required")
	}
	return &Ledger{path: path}, nil
}

// Path returns the ledger file location.
func (l *Ledger) Path() string {
	return l.path
}

// Load reads the ledger. A missing file yields an empty state. Rows that
// fail to parse or lack a SKU are skipped. When the file has no Status
// column every recorded SKU counts as completed.
func (l *Ledger) Load(_ context.Context) (sourcing.ResumeState, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	state := sourcing.NewResumeState()
	f, err := os.Open(l.path)
	if errors.Is(err, fs.ErrNotExist) {
		return state, nil
	}
	if err != nil {
		return state, fmt.Errorf("open ledger: %w", err)
	}
	defer func() { _ = f.Close() }()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.ReuseRecord = true

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return state, nil
	}
	if err != nil {
		return state, fmt.Errorf("read ledger header: %w", err)
	}
	cols := indexColumns(header)
	skuCol, ok := cols[strings.ToLower(ColSKU)]
	if !ok {
		return state, fmt.Errorf("ledger %s has no %s column", l.path, ColSKU)
	}
	statusCol, hasStatus := cols[strings.ToLower(ColStatus)]
	fileCol, hasFile := cols[strings.ToLower(ColSavedFilename)]

	for {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		var parseErr *csv.ParseError
		if errors.As(err, &parseErr) {
			continue
		}
		if err != nil {
			return sourcing.NewResumeState(), fmt.Errorf("read ledger row: %w", err)
		}
		sku := field(row, skuCol)
		if sku == "" {
			continue
		}
		if hasStatus && !strings.EqualFold(field(row, statusCol), string(sourcing.StatusSuccess)) {
			continue
		}
		state.Completed[sku] = struct{}{}
		if hasFile {
			if file := field(row, fileCol); file != "" {
				state.Claimed[file] = sku
			}
		}
	}
	return state, nil
}

// Append writes one row, creating the file and header on first write. An
// existing file keeps its own header: the entry is written under matching
// column names and columns the entry does not know stay empty. A header
// without SKU and Status columns is refused so later loads still resume.
func (l *Ledger) Append(_ context.Context, entry sourcing.LedgerEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	header, err := l.existingHeader()
	if err != nil {
		return err
	}
	row := toRow(entry)
	if header != nil {
		cols := indexColumns(header)
		_, hasSKU := cols[strings.ToLower(ColSKU)]
		_, hasStatus := cols[strings.ToLower(ColStatus)]
		if !hasSKU || !hasStatus {
			return fmt.Errorf("ledger %s header lacks %s or %s column; refusing to append", l.path, ColSKU, ColStatus)
		}
		row = alignRow(row, header)
	}

	// #nosec G304 -- ledger path comes from operator configuration.
	f, err := os.OpenFile(l.path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o640)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}

	w := csv.NewWriter(f)
	if header == nil {
		if err := w.Write(Header); err != nil {
			_ = f.Close()
			return fmt.Errorf("write ledger header: %w", err)
		}
	}
	if err := w.Write(row); err != nil {
		_ = f.Close()
		return fmt.Errorf("write ledger row: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		_ = f.Close()
		return fmt.Errorf("flush ledger: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close ledger: %w", err)
	}
	return nil
}

// existingHeader returns the header of a non-empty ledger file, or nil when
// the file is missing or empty.
func (l *Ledger) existingHeader() ([]string, error) {
	// #nosec G304 -- ledger path comes from operator configuration.
	f, err := os.Open(l.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	defer func() { _ = f.Close() }()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read ledger header: %w", err)
	}
	return header, nil
}

// alignRow reorders a row laid out as Header onto another header by column
// name.
func alignRow(row, header []string) []string {
	values := make(map[string]string, len(Header))
	for i, name := range Header {
		values[strings.ToLower(name)] = row[i]
	}
	out := make([]string, len(header))
	for name, idx := range indexColumns(header) {
		out[idx] = values[name]
	}
	return out
}

func toRow(e sourcing.LedgerEntry) []string {
	mediaID := ""
	if e.MediaID > 0 {
		mediaID = strconv.FormatInt(e.MediaID, 10)
	}
	return []string{
		e.SKU,
		e.Name,
		e.SourceURL,
		e.SavedFilename,
		string(e.Status),
		mediaID,
		e.PublicationStatus,
		e.Duplicate,
	}
}

func indexColumns(header []string) map[string]int {
	cols := make(map[string]int, len(header))
	for i, h := range header {
		if i == 0 {
			h = strings.TrimPrefix(h, utf8BOM)
		}
		key := strings.ToLower(strings.TrimSpace(h))
		if _, dup := cols[key]; !dup {
			cols[key] = i
		}
	}
	return cols
}

func field(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}
