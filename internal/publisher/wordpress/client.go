// Package wordpress publishes sourced images to a WordPress media library and
// assigns them to WooCommerce products over the REST API, authenticating
// with an application password. The same client lists products and
// categories for catalog sync.
package wordpress

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-image-sourcer/internal/metrics"
	"github.com/JakeFAU/catalog-image-sourcer/internal/sourcing"
)

const (
	defaultTimeout       = 15 * time.Second
	defaultUploadTimeout = 60 * time.Second
	searchPageSize       = 10
	categoryPageSize     = 100
	errorBodyPreview     = 200
)

// ErrNotConfigured is returned by New when the site URL or credentials are
// missing.
var ErrNotConfigured = errors.New("wordpress publisher is not configured")

// Config holds the site endpoint and credentials.
type Config struct {
	BaseURL       string        `mapstructure:"url"`
	User          string        `mapstructure:"user"`
	AppPassword   string        `mapstructure:"app_password"`
	Timeout       time.Duration `mapstructure:"timeout"`
	UploadTimeout time.Duration `mapstructure:"upload_timeout"`
}

// Configured reports whether all connection settings are present.
func (c Config) Configured() bool {
	return c.BaseURL != "" && c.User != "" && c.AppPassword != ""
}

// Client implements sourcing.Publisher.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *zap.Logger
}

var (
	_ sourcing.Publisher  = (*Client)(nil)
	_ sourcing.Storefront = (*Client)(nil)
)

// New builds a Client. A nil httpClient gets an instrumented default.
func New(cfg Config, httpClient *http.Client, logger *zap.Logger) (*Client, error) {
	if !cfg.Configured() {
		return nil, ErrNotConfigured
	}
	if _, err := url.ParseRequestURI(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("parse wordpress url: %w", err)
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.UploadTimeout <= 0 {
		cfg.UploadTimeout = defaultUploadTimeout
	}
	if httpClient == nil {
		httpClient = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{cfg: cfg, http: httpClient, logger: logger}, nil
}

type mediaItem struct {
	ID    int64 `json:"id"`
	Title struct {
		Rendered string `json:"rendered"`
	} `json:"title"`
	AltText   string `json:"alt_text"`
	SourceURL string `json:"source_url"`
}

type product struct {
	ID int64 `json:"id"`
}

type category struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type listedProduct struct {
	ID         int64      `json:"id"`
	Name       string     `json:"name"`
	SKU        string     `json:"sku"`
	Images     []struct{} `json:"images"`
	Categories []category `json:"categories"`
}

// CheckDuplicate searches the media library for the SKU and then for the
// saved file's base name. A match is any item whose title, alt text or
// source URL contains the SKU, case-insensitively. A search that answers
// with a non-200 status is skipped.
func (c *Client) CheckDuplicate(ctx context.Context, sku, filename string) (id int64, found bool, err error) {
	defer func() { metrics.ObservePublication("check_duplicate", err) }()

	terms := []string{sku}
	if filename != "" {
		base := strings.TrimSuffix(filename, filepath.Ext(filename))
		if base != sku {
			terms = append(terms, base)
		}
	}
	needle := strings.ToLower(sku)

	for _, term := range terms {
		q := url.Values{}
		q.Set("search", term)
		q.Set("per_page", strconv.Itoa(searchPageSize))
		var items []mediaItem
		ok, err := c.getJSON(ctx, "/wp-json/wp/v2/media?"+q.Encode(), &items)
		if err != nil {
			return 0, false, fmt.Errorf("search media: %w", err)
		}
		if !ok {
			continue
		}
		for _, item := range items {
			if strings.Contains(strings.ToLower(item.Title.Rendered), needle) ||
				strings.Contains(strings.ToLower(item.AltText), needle) ||
				strings.Contains(strings.ToLower(item.SourceURL), needle) {
				c.logger.Info("duplicate media found", zap.String("sku", sku), zap.Int64("media_id", item.ID))
				return item.ID, true, nil
			}
		}
	}
	return 0, false, nil
}

// UploadMedia posts the raw file bytes and then updates the item's
// metadata. A non-201 answer is a rejection (zero ID, nil error). Metadata
// update failures are logged only.
func (c *Client) UploadMedia(ctx context.Context, path string, meta sourcing.MediaMeta) (id int64, err error) {
	defer func() { metrics.ObservePublication("upload", err) }()

	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read image: %w", err)
	}
	filename := filepath.Base(path)
	contentType := mime.TypeByExtension(strings.ToLower(filepath.Ext(filename)))
	if contentType == "" {
		contentType = "image/jpeg"
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.UploadTimeout)
	defer cancel()
	req, err := c.newRequest(ctx, http.MethodPost, "/wp-json/wp/v2/media", bytes.NewReader(data))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": filename}))

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("upload media: %w", err)
	}
	defer drain(resp.Body)
	if resp.StatusCode != http.StatusCreated {
		c.logger.Warn("media upload rejected",
			zap.String("file", filename),
			zap.Int("status", resp.StatusCode),
			zap.String("body", preview(resp.Body)),
		)
		return 0, nil
	}
	var created mediaItem
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return 0, fmt.Errorf("decode upload response: %w", err)
	}
	c.logger.Info("media uploaded", zap.String("file", filename), zap.Int64("media_id", created.ID))

	if err := c.updateMeta(ctx, created.ID, meta); err != nil {
		c.logger.Warn("media metadata update failed", zap.Int64("media_id", created.ID), zap.Error(err))
	}
	return created.ID, nil
}

func (c *Client) updateMeta(ctx context.Context, mediaID int64, meta sourcing.MediaMeta) error {
	body := map[string]string{
		"title":       meta.Title,
		"alt_text":    firstNonEmpty(meta.AltText, meta.Title),
		"caption":     firstNonEmpty(meta.Caption, meta.Title),
		"description": firstNonEmpty(meta.Description, "Product image for "+meta.Title),
	}
	status, err := c.sendJSON(ctx, http.MethodPost, "/wp-json/wp/v2/media/"+strconv.FormatInt(mediaID, 10), body)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("update media: unexpected status %d", status)
	}
	return nil
}

// FindCatalogRecord looks the product up by SKU, then by name.
func (c *Client) FindCatalogRecord(ctx context.Context, sku, name string) (id int64, found bool, err error) {
	defer func() { metrics.ObservePublication("find_product", err) }()

	lookups := []url.Values{{"sku": {sku}}}
	if strings.TrimSpace(name) != "" {
		lookups = append(lookups, url.Values{"search": {name}})
	}
	for _, q := range lookups {
		var products []product
		ok, err := c.getJSON(ctx, "/wp-json/wc/v3/products?"+q.Encode(), &products)
		if err != nil {
			return 0, false, fmt.Errorf("search products: %w", err)
		}
		if ok && len(products) > 0 {
			return products[0].ID, true, nil
		}
	}
	return 0, false, nil
}

// SetPrimaryImage makes mediaID the product's first image.
func (c *Client) SetPrimaryImage(ctx context.Context, recordID, mediaID int64) (ok bool, err error) {
	defer func() { metrics.ObservePublication("set_image", err) }()

	body := map[string]any{
		"images": []map[string]int64{{"id": mediaID, "position": 0}},
	}
	status, err := c.sendJSON(ctx, http.MethodPut, "/wp-json/wc/v3/products/"+strconv.FormatInt(recordID, 10), body)
	if err != nil {
		return false, fmt.Errorf("assign image: %w", err)
	}
	if status != http.StatusOK {
		c.logger.Warn("image assignment rejected", zap.Int64("record_id", recordID), zap.Int("status", status))
		return false, nil
	}
	return true, nil
}

// ListProducts returns one page of WooCommerce products.
func (c *Client) ListProducts(ctx context.Context, page, perPage int) (out []sourcing.StoreProduct, err error) {
	defer func() { metrics.ObservePublication("list_products", err) }()

	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("per_page", strconv.Itoa(perPage))
	var listed []listedProduct
	ok, err := c.getJSON(ctx, "/wp-json/wc/v3/products?"+q.Encode(), &listed)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("list products: page %d was not served", page)
	}
	out = make([]sourcing.StoreProduct, 0, len(listed))
	for _, p := range listed {
		out = append(out, sourcing.StoreProduct{
			ID:         p.ID,
			SKU:        p.SKU,
			Name:       p.Name,
			ImageCount: len(p.Images),
			Categories: toCategories(p.Categories),
		})
	}
	return out, nil
}

// ListCategories returns every product category, following pagination.
func (c *Client) ListCategories(ctx context.Context) (out []sourcing.StoreCategory, err error) {
	defer func() { metrics.ObservePublication("list_categories", err) }()

	for page := 1; ; page++ {
		q := url.Values{}
		q.Set("page", strconv.Itoa(page))
		q.Set("per_page", strconv.Itoa(categoryPageSize))
		var batch []category
		ok, err := c.getJSON(ctx, "/wp-json/wc/v3/products/categories?"+q.Encode(), &batch)
		if err != nil {
			return nil, fmt.Errorf("list categories: %w", err)
		}
		if !ok {
			return nil, fmt.Errorf("list categories: page %d was not served", page)
		}
		out = append(out, toCategories(batch)...)
		if len(batch) < categoryPageSize {
			return out, nil
		}
	}
}

// SetCategory replaces the product's categories with categoryID.
func (c *Client) SetCategory(ctx context.Context, productID, categoryID int64) (ok bool, err error) {
	defer func() { metrics.ObservePublication("set_category", err) }()

	body := map[string]any{
		"categories": []map[string]int64{{"id": categoryID}},
	}
	status, err := c.sendJSON(ctx, http.MethodPut, "/wp-json/wc/v3/products/"+strconv.FormatInt(productID, 10), body)
	if err != nil {
		return false, fmt.Errorf("set category: %w", err)
	}
	if status != http.StatusOK {
		c.logger.Warn("category update rejected", zap.Int64("product_id", productID), zap.Int("status", status))
		return false, nil
	}
	return true, nil
}

func toCategories(in []category) []sourcing.StoreCategory {
	out := make([]sourcing.StoreCategory, 0, len(in))
	for _, c := range in {
		out = append(out, sourcing.StoreCategory{ID: c.ID, Name: c.Name})
	}
	return out
}

// getJSON decodes a 200 response into out. ok is false for other statuses.
func (c *Client) getJSON(ctx context.Context, path string, out any) (ok bool, err error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return false, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return false, fmt.Errorf("get %s: %w", path, err)
	}
	defer drain(resp.Body)
	if resp.StatusCode != http.StatusOK {
		c.logger.Debug("wordpress lookup returned non-200", zap.String("path", path), zap.Int("status", resp.StatusCode))
		return false, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return false, fmt.Errorf("decode %s: %w", path, err)
	}
	return true, nil
}

func (c *Client) sendJSON(ctx context.Context, method, path string, body any) (int, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return 0, fmt.Errorf("marshal body: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()
	req, err := c.newRequest(ctx, method, path, bytes.NewReader(payload))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%s %s: %w", strings.ToLower(method), path, err)
	}
	defer drain(resp.Body)
	return resp.StatusCode, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.SetBasicAuth(c.cfg.User, c.cfg.AppPassword)
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func drain(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, 64<<10))
	_ = body.Close()
}

func preview(body io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(body, errorBodyPreview))
	return string(b)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
