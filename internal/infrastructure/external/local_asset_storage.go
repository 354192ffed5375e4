package external

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/personal/banner-lifecycle/internal/domain/asset"
)

// LocalAssetStorage stores banner images on the local filesystem and serves
// them under a public base URL
type LocalAssetStorage struct {
	baseDir       string
	publicBaseURL string
}

// NewLocalAssetStorage creates a storage rooted at baseDir
func NewLocalAssetStorage(baseDir, publicBaseURL string) (*LocalAssetStorage, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create asset dir: %w", err)
	}
	return &LocalAssetStorage{
		baseDir:       baseDir,
		publicBaseURL: strings.TrimRight(publicBaseURL, "/"),
	}, nil
}

// BaseDir returns the directory served as the public asset root
func (s *LocalAssetStorage) BaseDir() string {
	return s.baseDir
}

// Upload writes the file under a generated name
func (s *LocalAssetStorage) Upload(ctx context.Context, file *asset.File, pathPrefix string) (*asset.Location, error) {
	if file == nil || file.Content == nil {
		return nil, asset.ErrEmptyFile
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", asset.ErrUploadFailed, err)
	}

	dir := filepath.Join(s.baseDir, filepath.FromSlash(pathPrefix))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create dir: %v", asset.ErrUploadFailed, err)
	}

	filename := uuid.NewString() + strings.ToLower(filepath.Ext(file.Name))
	target := filepath.Join(dir, filename)

	out, err := os.OpenFile(target, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", asset.ErrUploadFailed, err)
	}

	written, err := io.Copy(out, file.Content)
	closeErr := out.Close()
	if err == nil {
		err = closeErr
	}
	if err == nil && written == 0 {
		err = asset.ErrEmptyFile
	}
	if err != nil {
		os.Remove(target)
		if errors.Is(err, asset.ErrEmptyFile) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", asset.ErrUploadFailed, err)
	}

	return &asset.Location{
		Filename: filename,
		Prefix:   pathPrefix,
		URL:      s.URL(filename, pathPrefix),
	}, nil
}

// Remove deletes a stored file. Removing a missing file succeeds.
func (s *LocalAssetStorage) Remove(ctx context.Context, filename, pathPrefix string) error {
	if filename == "" {
		return nil
	}

	target := filepath.Join(s.baseDir, filepath.FromSlash(pathPrefix), filepath.Base(filename))
	if err := os.Remove(target); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove asset %s: %w", filename, err)
	}
	return nil
}

// URL returns the public address of a stored file
func (s *LocalAssetStorage) URL(filename, pathPrefix string) string {
	if filename == "" {
		return ""
	}
	return s.publicBaseURL + "/" + path.Join(pathPrefix, url.PathEscape(filename))
}
