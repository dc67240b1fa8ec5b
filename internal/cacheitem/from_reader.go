package cacheitem

import (
	"io"
	"os"

	"github.com/taskmesh/taskmesh/internal/turbopath"
)

// FromReader materializes a CacheItem from an in-memory artifact stream,
// such as an HTTP response body, by spooling it to a temporary file so the
// same Restore logic Open uses for on-disk artifacts applies uniformly to
// remote-cache downloads.
func FromReader(r io.Reader, compressed bool) *CacheItem {
	tmp, err := os.CreateTemp("", "cacheitem-*.tar")
	if err != nil {
		return &CacheItem{compressed: compressed}
	}
	if _, err := io.Copy(tmp, r); err != nil {
		_ = tmp.Close()
		return &CacheItem{compressed: compressed}
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		_ = tmp.Close()
		return &CacheItem{compressed: compressed}
	}
	return &CacheItem{
		Path:       turbopath.AbsoluteSystemPath(tmp.Name()),
		handle:     tmp,
		compressed: compressed,
	}
}
