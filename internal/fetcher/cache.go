package fetcher

import (
	"errors"
	"io/fs"
	"os"

	"github.com/tedstreete/six-degrees/internal/digest"
)

// The disk cache stores raw upstream bodies, not parsed entries. Paths fan
// out over digest octets 2/1/0 so no directory collects more than a sliver
// of the titles.

// readCache returns the cached body for a title, or ok=false when the title
// has never been cached.
func readCache(root, title string) ([]byte, bool, error) {
	body, err := os.ReadFile(digest.CachePath(root, title))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, &Error{Kind: KindIO, Err: err}
	}
	return body, true, nil
}

// writeCache stores an upstream body for a title, creating the directory
// fan-out as needed. Whole-file replace; no intermediate state.
func writeCache(root, title string, body []byte) error {
	d := digest.Sum(title)
	if err := os.MkdirAll(d.CacheDir(root), 0755); err != nil {
		return &Error{Kind: KindIO, Err: err}
	}
	if err := os.WriteFile(digest.CachePath(root, title), body, 0644); err != nil {
		return &Error{Kind: KindIO, Err: err}
	}
	return nil
}
