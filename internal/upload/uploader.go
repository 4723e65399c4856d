package upload

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"xevivu-client/internal/backend"
	"xevivu-client/internal/errs"
	"xevivu-client/internal/logger"
)

// Uploader turns raw image references into stored object paths. It is not
// idempotent: every call generates a fresh millisecond-timestamped path, so
// retries create new objects instead of overwriting.
type Uploader struct {
	store    *backend.Storage
	cars     *Normalizer
	slips    *Normalizer
	cacheDir string
}

func NewUploader(store *backend.Storage, cars, slips *Normalizer, cacheDir string) *Uploader {
	return &Uploader{store: store, cars: cars, slips: slips, cacheDir: cacheDir}
}

// AcquireStoredPath resolves a local or remote image reference to a path in
// the cars bucket. Remote sources are downloaded to a scratch file first and
// uploaded from there; the scratch file is removed on every exit path.
//
// Failure policy: an upload error for a remote source falls back to the
// original URL (usedFallbackURL=true) so the submission flow is never
// blocked by a transient network error. For local sources the error
// propagates — there is no safe fallback for unreachable local bytes.
func (u *Uploader) AcquireStoredPath(ctx context.Context, ref, ownerID string) (path string, usedFallbackURL bool, err error) {
	kind := Classify(ref)
	switch kind {
	case RefInvalid, RefStoragePath:
		return "", false, &errs.ValidationError{Field: "image", Reason: "not an uploadable reference"}
	}

	// MIME comes from the original reference, not from a temp cache name.
	mime := MIMEFromRef(ref)
	isRemote := kind == RefRemoteHTTP

	localPath := localFilePath(ref)
	if isRemote {
		tmp := filepath.Join(u.cacheDir, "xevivu_"+uuid.NewString())
		if err := u.downloadTo(ctx, ref, tmp); err != nil {
			logger.Warn("Remote image download failed, falling back to direct URL", "url", ref, "error", err)
			return ref, true, nil
		}
		defer os.Remove(tmp)
		localPath = tmp
	}

	dest := fmt.Sprintf("u_%s/%d.%s", ownerID, time.Now().UnixMilli(), ExtFromMIME(mime))
	if err := u.uploadFile(ctx, u.cars.bucket, dest, mime, localPath); err != nil {
		if isRemote {
			logger.Warn("Image upload failed, falling back to direct URL", "url", ref, "error", err)
			return ref, true, nil
		}
		return "", false, err
	}
	return dest, false, nil
}

// AcquireSlipURL stores a bank-transfer receipt and returns a renderable
// public URL. Remote references pass through unchanged; upload failures for
// local receipts propagate — a payment flow must not silently lose its
// proof of transfer.
func (u *Uploader) AcquireSlipURL(ctx context.Context, ref, userID string) (string, error) {
	switch Classify(ref) {
	case RefInvalid:
		return "", nil
	case RefRemoteHTTP:
		return strings.TrimSpace(ref), nil
	case RefStoragePath:
		return "", &errs.ValidationError{Field: "slip", Reason: "not an uploadable reference"}
	}

	dest := fmt.Sprintf("slips/%s/%d.jpg", userID, time.Now().UnixMilli())
	if err := u.uploadFile(ctx, u.slips.bucket, dest, "image/jpeg", localFilePath(ref)); err != nil {
		return "", err
	}
	return u.slips.objectURL(dest), nil
}

func (u *Uploader) uploadFile(ctx context.Context, bucket, dest, mime, localPath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return &errs.UploadError{Err: fmt.Errorf("failed to read local image: %w", err)}
	}
	defer f.Close()
	return u.store.Upload(ctx, bucket, dest, mime, f)
}

func (u *Uploader) downloadTo(ctx context.Context, rawURL, dst string) error {
	f, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("failed to create cache file: %w", err)
	}
	if err := u.store.Download(ctx, rawURL, f); err != nil {
		f.Close()
		os.Remove(dst)
		return err
	}
	return f.Close()
}

func localFilePath(ref string) string {
	return strings.TrimPrefix(strings.TrimSpace(ref), "file://")
}
