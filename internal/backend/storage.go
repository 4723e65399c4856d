package backend

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"xevivu-client/internal/errs"
	"xevivu-client/internal/logger"
)

// Storage is the client for the backend's binary object store. Uploads are
// create-only: the store rejects overwrites, which the caller sidesteps by
// always generating fresh timestamped paths.
type Storage struct {
	client *Client
	tokens TokenSource
}

func NewStorage(client *Client, tokens TokenSource) *Storage {
	return &Storage{client: client, tokens: tokens}
}

// Upload performs an authenticated binary PUT of body to bucket/path.
// Requires an active session; non-2xx responses become an UploadError with
// a body snippet kept for diagnostics.
func (s *Storage) Upload(ctx context.Context, bucket, path, contentType string, body io.Reader) error {
	token, ok := s.tokens.AccessToken()
	if !ok {
		return errs.ErrNoSession
	}

	objectPath := "/storage/v1/object/" + url.PathEscape(bucket) + "/" + EncodePath(path)
	logger.BackendCall("storage", "upload", "bucket", bucket, "path", path)
	resp, err := s.client.do(ctx, http.MethodPut, objectPath, nil, token, body, map[string]string{
		"Content-Type": contentType,
		"x-upsert":     "false",
	})
	if err != nil {
		logger.BackendResult("storage", "upload", err, "path", path)
		return &errs.UploadError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		uerr := &errs.UploadError{Status: resp.StatusCode, Body: snippet(resp.Body)}
		logger.BackendResult("storage", "upload", uerr, "path", path)
		return uerr
	}
	logger.BackendResult("storage", "upload", nil, "path", path)
	return nil
}

// Download fetches a remote object over plain HTTP(S). Used by the upload
// orchestrator to round-trip externally hosted images into the store.
func (s *Storage) Download(ctx context.Context, rawURL string, dst io.Writer) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("failed to build download request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("download failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download failed: HTTP %d", resp.StatusCode)
	}
	if _, err := io.Copy(dst, resp.Body); err != nil {
		return fmt.Errorf("download failed: %w", err)
	}
	return nil
}

// EncodePath percent-encodes each segment of a storage path, leaving the
// slashes that separate them intact.
func EncodePath(path string) string {
	segments := strings.Split(path, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return strings.Join(segments, "/")
}
