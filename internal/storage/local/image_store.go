// Package local implements the image output directory on the local filesystem.
package local

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Config captures the parameters for the local image store.
type Config struct {
	// BaseDir is the directory sourced images are written to.
	BaseDir string `mapstructure:"base_dir" yaml:"base_dir"`
}

// ImageStore writes sourced images to a directory, never overwriting.
type ImageStore struct {
	baseDir string
}

// New creates an ImageStore. The directory is not touched until EnsureDir.
func New(cfg Config) (*ImageStore, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}
	return &ImageStore{baseDir: filepath.Clean(cfg.BaseDir)}, nil
}

// EnsureDir creates the directory if needed and checks it is writable.
func (s *ImageStore) EnsureDir() error {
	info, err := os.Stat(s.baseDir)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if mkErr := os.MkdirAll(s.baseDir, 0o750); mkErr != nil {
			return fmt.Errorf("create output directory: %w", mkErr)
		}
	case err != nil:
		return fmt.Errorf("stat output directory: %w", err)
	case !info.IsDir():
		return fmt.Errorf("output path %s is not a directory", s.baseDir)
	}

	tmp, err := os.CreateTemp(s.baseDir, ".writable-*")
	if err != nil {
		return fmt.Errorf("output directory is not writable: %w", err)
	}
	name := tmp.Name()
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Remove(name); err != nil {
		return fmt.Errorf("remove temp file: %w", err)
	}
	return nil
}

// Exists reports whether filename is present in the directory.
func (s *ImageStore) Exists(filename string) bool {
	full, err := s.resolve(filename)
	if err != nil {
		return false
	}
	_, err = os.Stat(full)
	return err == nil
}

// Create writes data to filename with O_EXCL. It fails with an error
// wrapping fs.ErrExist when the file is already present.
func (s *ImageStore) Create(_ context.Context, filename string, data []byte) (string, error) {
	full, err := s.resolve(filename)
	if err != nil {
		return "", err
	}
	// #nosec G304 -- path is confined to baseDir by resolve.
	f, err := os.OpenFile(full, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
	if err != nil {
		return "", fmt.Errorf("create image file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		closeErr := f.Close()
		removeErr := os.Remove(full)
		return "", fmt.Errorf("write image file: %w", errors.Join(err, closeErr, removeErr))
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close image file: %w", err)
	}
	return full, nil
}

// Path returns the full path for filename.
func (s *ImageStore) Path(filename string) string {
	return filepath.Join(s.baseDir, filename)
}

// Dir returns the configured base directory.
func (s *ImageStore) Dir() string {
	return s.baseDir
}

func (s *ImageStore) resolve(filename string) (string, error) {
	if strings.TrimSpace(filename) == "" {
		return "", fmt.Errorf("filename is required")
	}
	full := filepath.Join(s.baseDir, filename)
	if !strings.HasPrefix(full, s.baseDir+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal detected")
	}
	return full, nil
}
