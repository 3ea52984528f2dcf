package rest

import (
	"context"
	"encoding/json"
	"errors"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/italolelis/media_downloader/internal/downloader"
	"github.com/italolelis/media_downloader/internal/history"
	"github.com/italolelis/media_downloader/internal/logctx"
	"github.com/italolelis/media_downloader/internal/storage"
)

const (
	msgInvalidRequest   = "Invalid URL or choice"
	msgAlreadyInFlight  = "This URL is already downloading"
	msgFileNotFound     = "File not found"
	msgClearFailed      = "Failed to clear history"
	maxRequestBodyBytes = 1 << 20
)

// Downloader runs download requests.
type Downloader interface {
	Download(ctx context.Context, req downloader.Request) (*downloader.Result, error)
	ActiveDownloads() int
	MuxerAvailable() bool
}

// HistoryStore exposes the download history.
type HistoryStore interface {
	Load(ctx context.Context) []storage.HistoryRecord
	Clear(ctx context.Context) error
}

type downloadResponse struct {
	Success     bool   `json:"success"`
	Title       string `json:"title"`
	File        string `json:"file"`
	DownloadURL string `json:"download_url"`
	Filesize    string `json:"filesize"`
	Uploader    string `json:"uploader"`
}

type healthResponse struct {
	Status          string `json:"status"`
	FFmpegInstalled bool   `json:"ffmpeg_installed"`
	DownloadDir     string `json:"download_dir"`
	FilesCount      int    `json:"files_count"`
	TotalSize       string `json:"total_size"`
	ActiveDownloads int    `json:"active_downloads"`
	Timestamp       string `json:"timestamp"`
	Platform        string `json:"platform"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type successResponse struct {
	Success bool `json:"success"`
}

// MediaHandler serves the download API and the produced files.
type MediaHandler struct {
	downloader  Downloader
	history     HistoryStore
	downloadDir string
	now         func() time.Time
}

// NewMediaHandler creates a new media handler.
func NewMediaHandler(d Downloader, h HistoryStore, downloadDir string) *MediaHandler {
	return &MediaHandler{
		downloader:  d,
		history:     h,
		downloadDir: downloadDir,
		now:         time.Now,
	}
}

func (h *MediaHandler) Routes() http.Handler {
	r := chi.NewRouter()

	r.Post("/download", h.HandleDownload)
	r.Get("/files/{filename}", h.HandleFile)
	r.Get("/history", h.HandleHistory)
	r.Post("/clear_history", h.HandleClearHistory)
	r.Get("/health", h.HandleHealth)

	return r
}

// HandleDownload downloads the requested URL and answers once the file is ready.
func (h *MediaHandler) HandleDownload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logctx.LoggerFromContext(ctx)

	var req downloader.Request

	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)).Decode(&req); err != nil {
		logger.WarnContext(ctx, "failed to decode download request", "err", err)
		writeJSON(ctx, w, http.StatusBadRequest, errorResponse{Error: msgInvalidRequest})

		return
	}

	res, err := h.downloader.Download(ctx, req)
	if err != nil {
		status, msg := classifyError(err)
		writeJSON(ctx, w, status, errorResponse{Error: msg})

		return
	}

	writeJSON(ctx, w, http.StatusOK, downloadResponse{
		Success:     true,
		Title:       res.Title,
		File:        res.Filename,
		DownloadURL: "/files/" + url.PathEscape(res.Filename),
		Filesize:    history.FormatSize(res.Filesize),
		Uploader:    res.Uploader,
	})
}

// HandleFile serves a produced file as an attachment. Only plain file names inside the
// download directory are served.
func (h *MediaHandler) HandleFile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	name, err := url.PathUnescape(chi.URLParam(r, "filename"))
	if err != nil || !isPlainName(name) {
		writeJSON(ctx, w, http.StatusNotFound, errorResponse{Error: msgFileNotFound})

		return
	}

	path := filepath.Join(h.downloadDir, name)

	f, err := os.Open(path)
	if err != nil {
		writeJSON(ctx, w, http.StatusNotFound, errorResponse{Error: msgFileNotFound})

		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || !info.Mode().IsRegular() {
		writeJSON(ctx, w, http.StatusNotFound, errorResponse{Error: msgFileNotFound})

		return
	}

	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	http.ServeContent(w, r, name, info.ModTime(), f)
}

// HandleHistory returns the history annotated with the state of each file.
func (h *MediaHandler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	writeJSON(ctx, w, http.StatusOK, history.Enrich(h.history.Load(ctx)))
}

// HandleClearHistory empties the history. Files on disk are kept.
func (h *MediaHandler) HandleClearHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := h.history.Clear(ctx); err != nil {
		logctx.LoggerFromContext(ctx).ErrorContext(ctx, "failed to clear history", "err", err)
		writeJSON(ctx, w, http.StatusInternalServerError, errorResponse{Error: msgClearFailed})

		return
	}

	writeJSON(ctx, w, http.StatusOK, successResponse{Success: true})
}

// HandleHealth reports the state of the service and of the download directory.
func (h *MediaHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	count, total := h.scanDownloadDir(ctx)

	writeJSON(ctx, w, http.StatusOK, healthResponse{
		Status:          "healthy",
		FFmpegInstalled: h.downloader.MuxerAvailable(),
		DownloadDir:     h.downloadDir,
		FilesCount:      count,
		TotalSize:       history.FormatSize(total),
		ActiveDownloads: h.downloader.ActiveDownloads(),
		Timestamp:       h.now().Format(time.RFC3339),
		Platform:        runtime.GOOS,
	})
}

func (h *MediaHandler) scanDownloadDir(ctx context.Context) (int, int64) {
	entries, err := os.ReadDir(h.downloadDir)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			logctx.LoggerFromContext(ctx).ErrorContext(ctx, "failed to read download directory", "dir", h.downloadDir, "err", err)
		}

		return 0, 0
	}

	var total int64

	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}

		if info, err := entry.Info(); err == nil {
			total += info.Size()
		}
	}

	return len(entries), total
}

// classifyError maps download errors to a status code and a client facing message.
func classifyError(err error) (int, string) {
	var (
		verr  *downloader.ValidationError
		dup   *downloader.DuplicateInFlightError
		fault *downloader.EngineFault
	)

	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest, msgInvalidRequest
	case errors.As(err, &dup):
		return http.StatusBadRequest, msgAlreadyInFlight
	case errors.As(err, &fault):
		return http.StatusInternalServerError, fault.Reason
	default:
		return http.StatusInternalServerError, err.Error()
	}
}

func isPlainName(name string) bool {
	return name != "" && name != "." && name != ".." && name == filepath.Base(name)
}

func writeJSON(ctx context.Context, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		logctx.LoggerFromContext(ctx).ErrorContext(ctx, "failed to encode response", "err", err)
	}
}
