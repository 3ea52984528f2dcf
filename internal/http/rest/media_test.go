package rest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/italolelis/media_downloader/internal/downloader"
	"github.com/italolelis/media_downloader/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockDownloader struct {
	downloadFunc func(ctx context.Context, req downloader.Request) (*downloader.Result, error)
	lastRequest  downloader.Request
	active       int
	muxer        bool
}

func (m *mockDownloader) Download(ctx context.Context, req downloader.Request) (*downloader.Result, error) {
	m.lastRequest = req
	if m.downloadFunc != nil {
		return m.downloadFunc(ctx, req)
	}

	return &downloader.Result{}, nil
}

func (m *mockDownloader) ActiveDownloads() int { return m.active }

func (m *mockDownloader) MuxerAvailable() bool { return m.muxer }

type mockHistory struct {
	records  []storage.HistoryRecord
	clearErr error
	cleared  bool
}

func (m *mockHistory) Load(context.Context) []storage.HistoryRecord {
	if m.records == nil {
		return []storage.HistoryRecord{}
	}

	return m.records
}

func (m *mockHistory) Clear(context.Context) error {
	m.cleared = true

	return m.clearErr
}

func serve(t *testing.T, h *MediaHandler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}

	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, httptest.NewRequest(method, target, reader))

	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()

	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))

	return out
}

func TestHandleDownload(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		result     *downloader.Result
		err        error
		wantStatus int
		wantError  string
	}{
		{
			name: "success",
			body: `{"url": "https://example.com/v", "choice": "audio"}`,
			result: &downloader.Result{
				Title:    "Song",
				Filename: "Song.mp3",
				Filesize: 1048576,
				Uploader: "Band",
			},
			wantStatus: http.StatusOK,
		},
		{
			name:       "undecodable body",
			body:       `{"url": `,
			wantStatus: http.StatusBadRequest,
			wantError:  "Invalid URL or choice",
		},
		{
			name:       "validation error",
			body:       `{"url": "", "choice": "audio"}`,
			err:        &downloader.ValidationError{Field: "url", Reason: "failed required check"},
			wantStatus: http.StatusBadRequest,
			wantError:  "Invalid URL or choice",
		},
		{
			name:       "already downloading",
			body:       `{"url": "https://example.com/v", "choice": "video"}`,
			err:        &downloader.DuplicateInFlightError{URL: "https://example.com/v"},
			wantStatus: http.StatusBadRequest,
			wantError:  "This URL is already downloading",
		},
		{
			name:       "file not found",
			body:       `{"url": "https://example.com/v", "choice": "video"}`,
			err:        &downloader.EngineFault{Operation: "locate", Reason: downloader.FileNotFoundReason, Err: downloader.ErrFileNotFound},
			wantStatus: http.StatusInternalServerError,
			wantError:  "Downloaded file not found",
		},
		{
			name:       "engine failure",
			body:       `{"url": "https://example.com/v", "choice": "both"}`,
			err:        &downloader.EngineFault{Operation: "fetch", Reason: "ERROR: Unsupported URL"},
			wantStatus: http.StatusInternalServerError,
			wantError:  "ERROR: Unsupported URL",
		},
		{
			name:       "unexpected failure",
			body:       `{"url": "https://example.com/v", "choice": "both"}`,
			err:        errors.New("something else"),
			wantStatus: http.StatusInternalServerError,
			wantError:  "something else",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &mockDownloader{downloadFunc: func(context.Context, downloader.Request) (*downloader.Result, error) {
				return tt.result, tt.err
			}}
			h := NewMediaHandler(d, &mockHistory{}, t.TempDir())

			rec := serve(t, h, http.MethodPost, "/download", tt.body)

			require.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

			out := decode(t, rec)

			if tt.wantError != "" {
				assert.Equal(t, tt.wantError, out["error"])

				return
			}

			assert.Equal(t, true, out["success"])
			assert.Equal(t, "Song", out["title"])
			assert.Equal(t, "Song.mp3", out["file"])
			assert.Equal(t, "/files/Song.mp3", out["download_url"])
			assert.Equal(t, "1.0 MB", out["filesize"])
			assert.Equal(t, "Band", out["uploader"])
			assert.Equal(t, "https://example.com/v", d.lastRequest.URL)
			assert.Equal(t, "audio", d.lastRequest.Choice)
		})
	}
}

func TestHandleFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "My_Video.mp4"), []byte("video-bytes"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested"), 0o755))

	outside := filepath.Join(filepath.Dir(dir), "secret.txt")
	require.NoError(t, os.WriteFile(outside, []byte("secret"), 0o644))
	t.Cleanup(func() { os.Remove(outside) })

	h := NewMediaHandler(&mockDownloader{}, &mockHistory{}, dir)

	t.Run("serves file as attachment", func(t *testing.T) {
		rec := serve(t, h, http.MethodGet, "/files/My_Video.mp4", "")

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "video-bytes", rec.Body.String())
		assert.Equal(t, `attachment; filename=My_Video.mp4`, rec.Header().Get("Content-Disposition"))
	})

	for _, target := range []string{
		"/files/missing.mp4",
		"/files/nested",
		"/files/..%2Fsecret.txt",
		"/files/%2E%2E",
	} {
		t.Run("not found "+target, func(t *testing.T) {
			rec := serve(t, h, http.MethodGet, target, "")

			require.Equal(t, http.StatusNotFound, rec.Code)
			assert.Equal(t, "File not found", decode(t, rec)["error"])
		})
	}
}

func TestHandleHistory(t *testing.T) {
	dir := t.TempDir()
	present := filepath.Join(dir, "present.mp3")
	require.NoError(t, os.WriteFile(present, []byte("x"), 0o644))

	t.Run("empty history is an empty array", func(t *testing.T) {
		h := NewMediaHandler(&mockDownloader{}, &mockHistory{}, dir)

		rec := serve(t, h, http.MethodGet, "/history", "")

		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, "[]", rec.Body.String())
	})

	t.Run("entries are enriched", func(t *testing.T) {
		hist := &mockHistory{records: []storage.HistoryRecord{
			{Title: "present", Filename: "old.mp3", Filepath: present, URL: "u1", Choice: "audio", Filesize: 1048576, Date: "2024-05-01 10:00:00"},
			{Title: "gone", Filename: "gone.mp4", Filepath: filepath.Join(dir, "gone.mp4"), URL: "u2", Choice: "video", Filesize: 10},
		}}
		h := NewMediaHandler(&mockDownloader{}, hist, dir)

		rec := serve(t, h, http.MethodGet, "/history", "")
		require.Equal(t, http.StatusOK, rec.Code)

		var out []map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
		require.Len(t, out, 2)

		assert.Equal(t, true, out[0]["file_exists"])
		assert.Equal(t, "1.0 MB", out[0]["filesize_formatted"])
		assert.Equal(t, "present.mp3", out[0]["filename"])
		assert.Equal(t, "2024-05-01 10:00:00", out[0]["date"])

		assert.Equal(t, false, out[1]["file_exists"])
		assert.Equal(t, "File not found", out[1]["filesize_formatted"])
	})
}

func TestHandleClearHistory(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		hist := &mockHistory{}
		h := NewMediaHandler(&mockDownloader{}, hist, t.TempDir())

		rec := serve(t, h, http.MethodPost, "/clear_history", "")

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, true, decode(t, rec)["success"])
		assert.True(t, hist.cleared)
	})

	t.Run("persistence failure", func(t *testing.T) {
		hist := &mockHistory{clearErr: &storage.PersistenceError{Operation: "save", Path: "h.json", Err: errors.New("read-only")}}
		h := NewMediaHandler(&mockDownloader{}, hist, t.TempDir())

		rec := serve(t, h, http.MethodPost, "/clear_history", "")

		require.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Equal(t, "Failed to clear history", decode(t, rec)["error"])
	})

	t.Run("method not allowed", func(t *testing.T) {
		h := NewMediaHandler(&mockDownloader{}, &mockHistory{}, t.TempDir())

		rec := serve(t, h, http.MethodGet, "/clear_history", "")

		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	})
}

func TestHandleHealth(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.mp3"), make([]byte, 1500), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.mp4"), make([]byte, 500), 0o644))

	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	h := NewMediaHandler(&mockDownloader{active: 2, muxer: true}, &mockHistory{}, dir)
	h.now = func() time.Time { return now }

	rec := serve(t, h, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	out := decode(t, rec)

	assert.Equal(t, "healthy", out["status"])
	assert.Equal(t, true, out["ffmpeg_installed"])
	assert.Equal(t, dir, out["download_dir"])
	assert.InDelta(t, 2, out["files_count"], 0)
	assert.Equal(t, "2.0 KB", out["total_size"])
	assert.InDelta(t, 2, out["active_downloads"], 0)
	assert.Equal(t, "2024-05-01T10:00:00Z", out["timestamp"])
	assert.Equal(t, runtime.GOOS, out["platform"])
}

func TestHandleHealth_MissingDirectory(t *testing.T) {
	h := NewMediaHandler(&mockDownloader{}, &mockHistory{}, filepath.Join(t.TempDir(), "nope"))

	rec := serve(t, h, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	out := decode(t, rec)
	assert.InDelta(t, 0, out["files_count"], 0)
	assert.Equal(t, "Unknown size", out["total_size"])
}
