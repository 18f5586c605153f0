// Package catalog reads product catalogs from CSV and XLSX files.
package catalog

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/JakeFAU/catalog-image-sourcer/internal/sourcing"
)

var (
	// ErrMissingSKU is returned when no column is named sku.
	ErrMissingSKU = errors.New("missing required column: SKU")
	// ErrUnsupportedFormat is returned for extensions other than .csv, .xls and .xlsx.
	ErrUnsupportedFormat = errors.New("unsupported catalog format")
)

const utf8BOM = "\ufeff"

// Load reads the catalog at path, choosing the parser by extension.
func Load(path string) ([]sourcing.CatalogItem, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	defer f.Close()
	return Read(f, filepath.Base(path))
}

// Read parses r, using filename only to select the format.
func Read(r io.Reader, filename string) ([]sourcing.CatalogItem, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".csv":
		return ReadCSV(r)
	case ".xlsx", ".xls":
		return ReadXLSX(r)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, filename)
	}
}

// ReadCSV parses a comma-separated catalog with a header row.
func ReadCSV(r io.Reader) ([]sourcing.CatalogItem, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	return fromRows(rows)
}

// ReadXLSX parses the first worksheet of a workbook.
func ReadXLSX(r io.Reader) ([]sourcing.CatalogItem, error) {
	book, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer book.Close()

	sheets := book.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("workbook has no sheets")
	}
	rows, err := book.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheets[0], err)
	}
	return fromRows(rows)
}

type columns struct {
	sku, name, image int
}

func mapColumns(header []string) (columns, error) {
	cols := columns{sku: -1, name: -1, image: -1}
	imageCol, imagesCol := -1, -1
	for i, h := range header {
		if i == 0 {
			h = strings.TrimPrefix(h, utf8BOM)
		}
		switch strings.ToLower(strings.TrimSpace(h)) {
		case "sku":
			if cols.sku < 0 {
				cols.sku = i
			}
		case "name":
			if cols.name < 0 {
				cols.name = i
			}
		case "images":
			if imagesCol < 0 {
				imagesCol = i
			}
		case "image":
			if imageCol < 0 {
				imageCol = i
			}
		}
	}
	if cols.sku < 0 {
		return cols, ErrMissingSKU
	}
	cols.image = imagesCol
	if cols.image < 0 {
		cols.image = imageCol
	}
	return cols, nil
}

func fromRows(rows [][]string) ([]sourcing.CatalogItem, error) {
	if len(rows) == 0 {
		return nil, ErrMissingSKU
	}
	cols, err := mapColumns(rows[0])
	if err != nil {
		return nil, err
	}

	items := make([]sourcing.CatalogItem, 0, len(rows)-1)
	for _, row := range rows[1:] {
		if blank(row) {
			continue
		}
		items = append(items, sourcing.CatalogItem{
			SKU:      cell(row, cols.sku),
			Name:     cell(row, cols.name),
			HasImage: HasImage(cell(row, cols.image)),
		})
	}
	return items, nil
}

// HasImage reports whether an image cell names an existing image. Blank
// cells and the literal "nan" mean no image.
func HasImage(value string) bool {
	v := strings.TrimSpace(value)
	return v != "" && !strings.EqualFold(v, "nan")
}

func cell(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}

func blank(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
