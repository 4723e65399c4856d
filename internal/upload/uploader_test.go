package upload

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xevivu-client/internal/backend"
	"xevivu-client/internal/backendtest"
	"xevivu-client/internal/errs"
)

type staticToken string

func (s staticToken) AccessToken() (string, bool) { return string(s), s != "" }

type uploaderFixture struct {
	srv      *backendtest.Server
	uploader *Uploader
	cacheDir string
}

func newUploaderFixture(t *testing.T) *uploaderFixture {
	t.Helper()
	srv := backendtest.New()
	t.Cleanup(srv.Close)

	client := backend.NewClient(srv.URL(), srv.AnonKey())
	storage := backend.NewStorage(client, staticToken("test-token"))
	cars := NewNormalizer(srv.URL(), "cars")
	slips := NewNormalizer(srv.URL(), "slips")
	cacheDir := t.TempDir()

	return &uploaderFixture{
		srv:      srv,
		uploader: NewUploader(storage, cars, slips, cacheDir),
		cacheDir: cacheDir,
	}
}

func writeTempImage(t *testing.T, name string, content []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, content, 0o600))
	return path
}

func TestAcquireStoredPathLocalFile(t *testing.T) {
	f := newUploaderFixture(t)
	local := writeTempImage(t, "pick.png", []byte("png-bytes"))

	path, usedFallback, err := f.uploader.AcquireStoredPath(context.Background(), "file://"+local, "u1")

	require.NoError(t, err)
	assert.False(t, usedFallback)
	assert.True(t, strings.HasPrefix(path, "u_u1/"), "path %q should carry the owner prefix", path)
	assert.True(t, strings.HasSuffix(path, ".png"), "path %q should keep the source extension", path)

	stored, ok := f.srv.Object("cars", path)
	require.True(t, ok, "object should exist in the cars bucket")
	assert.Equal(t, []byte("png-bytes"), stored)
}

func TestAcquireStoredPathRemoteURL(t *testing.T) {
	f := newUploaderFixture(t)
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("remote-bytes"))
	}))
	t.Cleanup(origin.Close)

	path, usedFallback, err := f.uploader.AcquireStoredPath(context.Background(), origin.URL+"/photo.webp", "u2")

	require.NoError(t, err)
	assert.False(t, usedFallback)
	assert.True(t, strings.HasSuffix(path, ".webp"))

	stored, ok := f.srv.Object("cars", path)
	require.True(t, ok)
	assert.Equal(t, []byte("remote-bytes"), stored)

	// The scratch download must not outlive the call.
	entries, err := os.ReadDir(f.cacheDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestAcquireStoredPathRemoteUploadFailureFallsBack(t *testing.T) {
	f := newUploaderFixture(t)
	f.srv.FailUploads(http.StatusInternalServerError)
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("remote-bytes"))
	}))
	t.Cleanup(origin.Close)
	ref := origin.URL + "/photo.jpg"

	path, usedFallback, err := f.uploader.AcquireStoredPath(context.Background(), ref, "u3")

	require.NoError(t, err)
	assert.True(t, usedFallback)
	assert.Equal(t, ref, path)

	entries, err := os.ReadDir(f.cacheDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestAcquireStoredPathRemoteDownloadFailureFallsBack(t *testing.T) {
	f := newUploaderFixture(t)
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	t.Cleanup(origin.Close)
	ref := origin.URL + "/photo.jpg"

	path, usedFallback, err := f.uploader.AcquireStoredPath(context.Background(), ref, "u4")

	require.NoError(t, err)
	assert.True(t, usedFallback)
	assert.Equal(t, ref, path)
}

func TestAcquireStoredPathLocalUploadFailurePropagates(t *testing.T) {
	f := newUploaderFixture(t)
	f.srv.FailUploads(http.StatusInternalServerError)
	local := writeTempImage(t, "pick.jpg", []byte("x"))

	_, usedFallback, err := f.uploader.AcquireStoredPath(context.Background(), "file://"+local, "u5")

	assert.False(t, usedFallback)
	var uerr *errs.UploadError
	require.ErrorAs(t, err, &uerr)
	assert.Equal(t, http.StatusInternalServerError, uerr.Status)
}

func TestAcquireStoredPathMissingLocalFile(t *testing.T) {
	f := newUploaderFixture(t)

	_, _, err := f.uploader.AcquireStoredPath(context.Background(), "file:///nonexistent/pick.jpg", "u6")

	var uerr *errs.UploadError
	require.ErrorAs(t, err, &uerr)
}

func TestAcquireStoredPathRejectsNonUploadableRefs(t *testing.T) {
	f := newUploaderFixture(t)

	for _, ref := range []string{"", "   ", "u_1/already-stored.jpg"} {
		_, _, err := f.uploader.AcquireStoredPath(context.Background(), ref, "u7")
		assert.True(t, errs.IsValidation(err), "ref %q should be rejected", ref)
	}
}

func TestAcquireSlipURL(t *testing.T) {
	f := newUploaderFixture(t)

	t.Run("empty ref yields empty url", func(t *testing.T) {
		u, err := f.uploader.AcquireSlipURL(context.Background(), "", "u1")
		require.NoError(t, err)
		assert.Empty(t, u)
	})

	t.Run("remote ref passes through", func(t *testing.T) {
		u, err := f.uploader.AcquireSlipURL(context.Background(), "https://cdn.example.com/slip.jpg", "u1")
		require.NoError(t, err)
		assert.Equal(t, "https://cdn.example.com/slip.jpg", u)
	})

	t.Run("storage path is rejected", func(t *testing.T) {
		_, err := f.uploader.AcquireSlipURL(context.Background(), "slips/u1/1700.jpg", "u1")
		assert.True(t, errs.IsValidation(err))
	})

	t.Run("local receipt is uploaded and resolved", func(t *testing.T) {
		local := writeTempImage(t, "slip.jpg", []byte("slip-bytes"))

		u, err := f.uploader.AcquireSlipURL(context.Background(), "file://"+local, "u1")
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(u, f.srv.URL()+"/storage/v1/object/public/slips/slips/u1/"), "url %q", u)
		assert.True(t, strings.HasSuffix(u, ".jpg"))

		// The URL's bucket-relative path must name the stored object.
		rel := strings.TrimPrefix(u, f.srv.URL()+"/storage/v1/object/public/slips/")
		stored, ok := f.srv.Object("slips", rel)
		require.True(t, ok)
		assert.Equal(t, []byte("slip-bytes"), stored)
	})

	t.Run("local upload failure propagates", func(t *testing.T) {
		f.srv.FailUploads(http.StatusInternalServerError)
		defer f.srv.FailUploads(0)
		local := writeTempImage(t, "slip.jpg", []byte("x"))

		_, err := f.uploader.AcquireSlipURL(context.Background(), "file://"+local, "u1")
		var uerr *errs.UploadError
		require.ErrorAs(t, err, &uerr)
	})
}
