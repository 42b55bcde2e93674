package downloader

import (
	"fmt"
	"net/url"
	"path"
	"strings"
)

// validateURL checks that a playlist URL is something we can fetch.
func validateURL(raw string) (*url.URL, error) {
	parsed, err := url.Parse(raw)
	if err != nil {
		return nil, wrapCategory(CategoryInvalidURL, fmt.Errorf("invalid URL: %w", err))
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, wrapCategory(CategoryInvalidURL, fmt.Errorf("invalid URL: missing scheme or host"))
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, wrapCategory(CategoryInvalidURL, fmt.Errorf("unsupported URL scheme: %s", parsed.Scheme))
	}
	return parsed, nil
}

// outputName derives a default file name from the playlist URL: the basename
// with query and the .m3u8 extension stripped.
func outputName(playlistURL *url.URL) string {
	base := path.Base(playlistURL.Path)
	base = strings.TrimSuffix(base, path.Ext(base))
	if base == "" || base == "." || base == "/" {
		return "stream"
	}
	return sanitize(base)
}
