// Package upload implements the image acquisition pipeline: reference
// classification, public-URL construction, content-type inference, and the
// download-then-upload orchestration with its direct-URL fallback.
package upload

import (
	"strings"

	"xevivu-client/internal/backend"
)

// RefKind classifies an image reference.
type RefKind int

const (
	RefInvalid     RefKind = iota // empty or blank
	RefRemoteHTTP                 // absolute http(s) URL
	RefLocalFile                  // device file (file:// or content://)
	RefStoragePath                // storage-relative object key
)

// Classify decides how an image reference should be handled. Anything that
// is neither an absolute URL nor a device file is treated as a
// storage-relative path; call sites decide whether that is acceptable.
func Classify(ref string) RefKind {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return RefInvalid
	}
	lower := strings.ToLower(ref)
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		return RefRemoteHTTP
	}
	if strings.HasPrefix(lower, "file://") || strings.HasPrefix(lower, "content://") {
		return RefLocalFile
	}
	return RefStoragePath
}

// Normalizer builds public object URLs from storage-relative paths for one
// bucket.
type Normalizer struct {
	baseURL string
	bucket  string
}

func NewNormalizer(baseURL, bucket string) *Normalizer {
	return &Normalizer{baseURL: strings.TrimRight(baseURL, "/"), bucket: bucket}
}

// PublicURL resolves an image reference to something renderable. Absolute
// URLs pass through untouched, which keeps the function safe to apply
// twice; storage-relative paths are prefixed with the bucket when missing,
// percent-encoded per segment, and joined under the public-object base.
// Empty input yields "".
func (n *Normalizer) PublicURL(ref string) string {
	switch Classify(ref) {
	case RefInvalid:
		return ""
	case RefRemoteHTTP:
		return strings.TrimSpace(ref)
	}

	cleaned := strings.TrimLeft(strings.TrimSpace(ref), "/")
	if !strings.HasPrefix(cleaned, n.bucket+"/") {
		cleaned = n.bucket + "/" + cleaned
	}
	return n.baseURL + "/storage/v1/object/public/" + backend.EncodePath(cleaned)
}

// objectURL joins a known object path under the bucket unconditionally.
// Unlike PublicURL it applies no prefix heuristic, so paths whose first
// segment happens to equal the bucket name still resolve to the right
// object.
func (n *Normalizer) objectURL(path string) string {
	return n.baseURL + "/storage/v1/object/public/" + backend.EncodePath(n.bucket+"/"+path)
}

// MIMEFromRef infers an image content type from the reference's extension.
// Defaults to JPEG, matching what device image pickers produce.
func MIMEFromRef(ref string) string {
	lower := strings.ToLower(ref)
	switch {
	case strings.HasSuffix(lower, ".png"):
		return "image/png"
	case strings.HasSuffix(lower, ".webp"):
		return "image/webp"
	case strings.HasSuffix(lower, ".heic"), strings.HasSuffix(lower, ".heif"):
		return "image/heic"
	case strings.HasSuffix(lower, ".gif"):
		return "image/gif"
	default:
		return "image/jpeg"
	}
}

// ExtFromMIME derives the upload file extension from a MIME subtype,
// stripped of anything that is not alphanumeric.
func ExtFromMIME(mime string) string {
	_, sub, ok := strings.Cut(mime, "/")
	if !ok || sub == "" {
		return "jpg"
	}
	var b strings.Builder
	for _, r := range sub {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "jpg"
	}
	return b.String()
}
