// Package fetcher downloads panel datasets from HTTP and FTP mirrors with
// per-host rate limits, retries, and conditional-GET support.
package fetcher

import (
	"context"
	"io"
)

// Fetcher retrieves remote dataset files.
type Fetcher interface {
	// Download fetches the URL and returns the response body.
	Download(ctx context.Context, url string) (io.ReadCloser, error)

	// DownloadToFile fetches the URL and writes it to the given path. Returns bytes written.
	DownloadToFile(ctx context.Context, url string, path string) (int64, error)

	// HeadETag performs a HEAD request and returns the ETag header value.
	HeadETag(ctx context.Context, url string) (string, error)

	// DownloadIfChanged fetches the URL only if its ETag differs from the one
	// given. Returns (body, newETag, changed, error); when the mirror reports
	// 304 Not Modified, body is nil and changed is false.
	DownloadIfChanged(ctx context.Context, url string, etag string) (io.ReadCloser, string, bool, error)
}
