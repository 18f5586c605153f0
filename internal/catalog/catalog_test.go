package catalog

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/JakeFAU/catalog-image-sourcer/internal/sourcing"
)

func TestReadCSV(t *testing.T) {
	t.Parallel()

	in := "\ufeff Name ,SKU,Price,Image\n" +
		"Red Apple Juice 1L,A1,2.50,\n" +
		"Green Tea 500g,B2,4.00,https://shop.example/b2.jpg\n" +
		",C3,1.00,nan\n" +
		"\n" +
		"Short row,D4\n"

	items, err := ReadCSV(strings.NewReader(in))
	require.NoError(t, err)
	assert.Equal(t, []sourcing.CatalogItem{
		{SKU: "A1", Name: "Red Apple Juice 1L"},
		{SKU: "B2", Name: "Green Tea 500g", HasImage: true},
		{SKU: "C3"},
		{SKU: "D4", Name: "Short row"},
	}, items)
}

func TestReadCSVPrefersImagesColumn(t *testing.T) {
	t.Parallel()

	in := "sku,image,IMAGES\nA1,x.jpg,\nB2,,y.jpg\n"
	items, err := ReadCSV(strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.False(t, items[0].HasImage)
	assert.True(t, items[1].HasImage)
}

func TestReadCSVWithoutNameOrImage(t *testing.T) {
	t.Parallel()

	items, err := ReadCSV(strings.NewReader("SKU\nA1\n"))
	require.NoError(t, err)
	assert.Equal(t, []sourcing.CatalogItem{{SKU: "A1"}}, items)
}

func TestReadCSVMissingSKU(t *testing.T) {
	t.Parallel()

	_, err := ReadCSV(strings.NewReader("name,image\nApple,\n"))
	require.ErrorIs(t, err, ErrMissingSKU)

	_, err = ReadCSV(strings.NewReader(""))
	require.ErrorIs(t, err, ErrMissingSKU)
}

func TestReadXLSX(t *testing.T) {
	t.Parallel()

	book := excelize.NewFile()
	sheet := "Sheet1"
	rows := [][]any{
		{"SKU", "Name", "Images"},
		{"A1", "Red Apple Juice 1L", ""},
		{1002, "Numeric SKU", "NaN"},
		{"B2", "Green Tea 500g", "https://shop.example/b2.jpg"},
	}
	for r, values := range rows {
		for c, v := range values {
			name, err := excelize.CoordinatesToCellName(c+1, r+1)
			require.NoError(t, err)
			require.NoError(t, book.SetCellValue(sheet, name, v))
		}
	}
	var buf bytes.Buffer
	require.NoError(t, book.Write(&buf))

	items, err := Read(bytes.NewReader(buf.Bytes()), "catalog.XLSX")
	require.NoError(t, err)
	assert.Equal(t, []sourcing.CatalogItem{
		{SKU: "A1", Name: "Red Apple Juice 1L"},
		{SKU: "1002", Name: "Numeric SKU"},
		{SKU: "B2", Name: "Green Tea 500g", HasImage: true},
	}, items)
}

func TestReadXLSXRejectsGarbage(t *testing.T) {
	t.Parallel()

	_, err := ReadXLSX(strings.NewReader("not a zip"))
	require.Error(t, err)
}

func TestReadUnsupported(t *testing.T) {
	t.Parallel()

	_, err := Read(strings.NewReader(""), "catalog.json")
	require.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestLoad(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "catalog.csv")
	require.NoError(t, os.WriteFile(path, []byte("sku,name\nA1,Apple\n"), 0o600))

	items, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []sourcing.CatalogItem{{SKU: "A1", Name: "Apple"}}, items)

	_, err = Load(filepath.Join(t.TempDir(), "missing.csv"))
	require.Error(t, err)
}

func TestHasImage(t *testing.T) {
	t.Parallel()

	assert.False(t, HasImage(""))
	assert.False(t, HasImage("  "))
	assert.False(t, HasImage("nan"))
	assert.False(t, HasImage("NaN"))
	assert.True(t, HasImage("x.jpg"))
}
