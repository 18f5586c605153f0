// Package storage copies sourced images to a blob store after they are
// recorded locally.
package storage

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-image-sourcer/internal/sourcing"
)

// Provider defines the common interface for a blob storage provider.
type Provider interface {
	// Save uploads data to objectName and returns the object's URI.
	Save(ctx context.Context, objectName, contentType string, data []byte) (string, error)
}

// ImageMirror implements sourcing.Mirror by uploading each successfully
// saved image to a Provider.
type ImageMirror struct {
	provider Provider
	prefix   string
	logger   *zap.Logger
}

var _ sourcing.Mirror = (*ImageMirror)(nil)

// NewImageMirror builds a mirror writing objects under prefix.
func NewImageMirror(provider Provider, prefix string, logger *zap.Logger) *ImageMirror {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ImageMirror{provider: provider, prefix: strings.Trim(prefix, "/"), logger: logger}
}

// ObjectName maps a saved filename to its object key.
func (m *ImageMirror) ObjectName(filename string) string {
	if m.prefix == "" {
		return filename
	}
	return path.Join(m.prefix, filename)
}

// Mirror uploads the image behind a successful outcome. Other outcomes are
// ignored.
func (m *ImageMirror) Mirror(ctx context.Context, rec sourcing.MirrorRecord) error {
	if rec.Outcome.Status != sourcing.StatusSuccess || rec.LocalPath == "" {
		return nil
	}
	data, err := os.ReadFile(rec.LocalPath)
	if err != nil {
		return fmt.Errorf("read image: %w", err)
	}
	filename := rec.Outcome.SavedFilename
	if filename == "" {
		filename = filepath.Base(rec.LocalPath)
	}
	contentType := mime.TypeByExtension(strings.ToLower(filepath.Ext(filename)))
	uri, err := m.provider.Save(ctx, m.ObjectName(filename), contentType, data)
	if err != nil {
		return fmt.Errorf("mirror image: %w", err)
	}
	m.logger.Debug("image mirrored", zap.String("sku", rec.Outcome.SKU), zap.String("uri", uri))
	return nil
}
