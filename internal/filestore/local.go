package filestore

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// LocalMediaCache implements MediaCache on the local filesystem, fanning
// entries out over two-character prefix directories.
type LocalMediaCache struct {
	root string
}

func NewLocalMediaCache(root string) (*LocalMediaCache, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create media cache directory: %w", err)
	}
	return &LocalMediaCache{root: root}, nil
}

// Key derives the cache key for a media URL.
func Key(url string) string {
	sum := sha256.Sum256([]byte(url))
	return hex.EncodeToString(sum[:])
}

func (c *LocalMediaCache) Path(key string) string {
	if len(key) < 2 {
		return filepath.Join(c.root, key)
	}
	return filepath.Join(c.root, key[:2], key)
}

func (c *LocalMediaCache) Save(r io.Reader, key string) error {
	path := c.Path(key)
	if _, err := os.Stat(path); err == nil {
		// Keys are content-derived, an existing entry already holds the
		// right bytes.
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}

	// Stage under a temporary name; a partial download must never become
	// visible under the final one.
	tmp, err := os.CreateTemp(filepath.Dir(path), ".partial-*")
	if err != nil {
		return fmt.Errorf("failed to stage media file: %w", err)
	}
	tmpName := tmp.Name()

	_, copyErr := io.Copy(tmp, r)
	closeErr := tmp.Close()
	if copyErr != nil || closeErr != nil {
		_ = os.Remove(tmpName)
		if copyErr != nil {
			return fmt.Errorf("failed to write media data: %w", copyErr)
		}
		return fmt.Errorf("failed to flush media file: %w", closeErr)
	}

	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to finalize media file: %w", err)
	}
	return nil
}

func (c *LocalMediaCache) Open(key string) (io.ReadCloser, error) {
	f, err := os.Open(c.Path(key))
	if err != nil {
		return nil, fmt.Errorf("media %s not cached: %w", key, err)
	}
	return f, nil
}
