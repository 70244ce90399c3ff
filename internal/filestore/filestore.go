package filestore

import (
	"io"
)

// MediaCache stores downloaded attachment bytes by content key so a media
// file is fetched from the server at most once.
type MediaCache interface {
	// Save stores the content under key. It is idempotent: if the key is
	// already cached it returns nil without reading r.
	Save(r io.Reader, key string) error

	// Open returns the cached content for key.
	Open(key string) (io.ReadCloser, error)

	// Path returns the on-disk location for key, whether or not it exists
	// yet.
	Path(key string) string
}
