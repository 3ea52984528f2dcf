package downloader

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/italolelis/media_downloader/internal/admission"
	"github.com/italolelis/media_downloader/internal/fetch"
	"github.com/italolelis/media_downloader/internal/history"
	"github.com/italolelis/media_downloader/internal/logctx"
	"github.com/italolelis/media_downloader/internal/storage"
	"github.com/italolelis/media_downloader/internal/telemetry"
	"golang.org/x/sync/semaphore"
)

const eventBuffer = 32

// Request is a download request as received from a client.
type Request struct {
	URL        string `json:"url" validate:"required"`
	Choice     string `json:"choice" validate:"required,choice"`
	Resolution string `json:"resolution" validate:"omitempty,numeric"`
}

// Result describes a finished download.
type Result struct {
	URL      string
	Choice   string
	Title    string
	Filename string
	Filepath string
	Filesize int64
	Uploader string
}

// Failure describes a download that did not produce a file.
type Failure struct {
	URL    string
	Choice string
	Err    error
}

// Options configures a Downloader.
type Options struct {
	DownloadDir      string
	MaxParallel      int
	Timeout          time.Duration
	RecentFileWindow time.Duration
}

// Downloader admits download requests, runs them through the engine and records the
// outcome in the history.
type Downloader struct {
	engine    fetch.Engine
	tracker   *admission.Tracker
	history   *history.Store
	locator   fetch.Locator
	slots     *semaphore.Weighted
	timeout   time.Duration
	validate  *validator.Validate
	telemetry *telemetry.Telemetry

	mu     sync.RWMutex
	closed bool

	OnDownloadFinished chan *Result
	OnDownloadFailed   chan *Failure
}

func NewDownloader(
	engine fetch.Engine,
	tracker *admission.Tracker,
	store *history.Store,
	tel *telemetry.Telemetry,
	opts Options,
) *Downloader {
	if tel == nil {
		tel = &telemetry.Telemetry{}
	}

	maxParallel := opts.MaxParallel
	if maxParallel <= 0 {
		maxParallel = 1
	}

	return &Downloader{
		engine:             engine,
		tracker:            tracker,
		history:            store,
		locator:            fetch.Locator{Dir: opts.DownloadDir, Window: opts.RecentFileWindow},
		slots:              semaphore.NewWeighted(int64(maxParallel)),
		timeout:            opts.Timeout,
		validate:           newValidator(),
		telemetry:          tel,
		OnDownloadFinished: make(chan *Result, eventBuffer),
		OnDownloadFailed:   make(chan *Failure, eventBuffer),
	}
}

// Close stops event delivery and closes the event channels.
func (d *Downloader) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return
	}

	d.closed = true

	close(d.OnDownloadFinished)
	close(d.OnDownloadFailed)
}

// ActiveDownloads returns the number of URLs currently being downloaded.
func (d *Downloader) ActiveDownloads() int {
	return d.tracker.Count()
}

// MuxerAvailable reports whether the engine can use ffmpeg.
func (d *Downloader) MuxerAvailable() bool {
	return d.engine.MuxerAvailable()
}

// Download validates req, downloads it and records it in the history. A URL can only be
// downloaded once at a time; concurrent requests for it get a DuplicateInFlightError.
func (d *Downloader) Download(ctx context.Context, req Request) (*Result, error) {
	req = normalize(req)

	if err := d.validateRequest(req); err != nil {
		return nil, err
	}

	ctx = logctx.WithAttrs(ctx, slog.String("url", req.URL), slog.String("choice", req.Choice))
	logger := logctx.LoggerFromContext(ctx)

	var result *Result

	err := d.tracker.Do(req.URL, func() error {
		var err error
		result, err = d.download(ctx, req)

		return err
	})
	if errors.Is(err, admission.ErrAlreadyReserved) {
		logger.WarnContext(ctx, "download rejected, url already in flight")
		d.telemetry.RecordAdmissionRejected(ctx)

		return nil, &DuplicateInFlightError{URL: req.URL}
	}

	if err != nil {
		logger.ErrorContext(ctx, "download failed", "err", err)
		d.emitFailed(&Failure{URL: req.URL, Choice: req.Choice, Err: err})

		return nil, err
	}

	logger.InfoContext(ctx, "download completed", "file", result.Filename, "size", result.Filesize)
	d.emitFinished(result)

	return result, nil
}

func (d *Downloader) download(ctx context.Context, req Request) (*Result, error) {
	if err := d.slots.Acquire(ctx, 1); err != nil {
		return nil, &EngineFault{Operation: "acquire_slot", Reason: "download cancelled while waiting for a free slot", Err: err}
	}
	defer d.slots.Release(1)

	if d.timeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	choice := fetch.Choice(req.Choice)

	var out *fetch.Result

	err := d.telemetry.InstrumentDownload(ctx, req.Choice, func(ctx context.Context) error {
		var err error
		out, err = d.engine.Fetch(ctx, fetch.Request{URL: req.URL, Choice: choice, Resolution: req.Resolution})

		return err
	})
	if err != nil {
		return nil, &EngineFault{Operation: "fetch", Reason: err.Error(), Err: err}
	}

	path, ok := d.locator.Locate(out.Filepath, choice, d.engine.MuxerAvailable())
	if !ok {
		return nil, &EngineFault{Operation: "locate", Reason: FileNotFoundReason, Err: ErrFileNotFound}
	}

	var size int64
	if info, err := os.Stat(path); err == nil {
		size = info.Size()
	}

	result := &Result{
		URL:      req.URL,
		Choice:   req.Choice,
		Title:    out.Title,
		Filename: filepath.Base(path),
		Filepath: path,
		Filesize: size,
		Uploader: out.Uploader,
	}

	// The file is on disk, so it is recorded even when the request context is already done.
	d.history.Append(context.WithoutCancel(ctx), storage.HistoryRecord{
		Title:      result.Title,
		Filename:   result.Filename,
		Filepath:   result.Filepath,
		URL:        result.URL,
		Choice:     result.Choice,
		Resolution: req.Resolution,
		Filesize:   result.Filesize,
		Uploader:   result.Uploader,
	})

	return result, nil
}

func normalize(req Request) Request {
	req.URL = strings.TrimSpace(req.URL)
	req.Choice = strings.TrimSpace(req.Choice)
	req.Resolution = strings.TrimSpace(req.Resolution)

	if req.Resolution == "" {
		req.Resolution = fetch.DefaultResolution
	}

	return req
}

func newValidator() *validator.Validate {
	v := validator.New()

	if err := v.RegisterValidation("choice", func(fl validator.FieldLevel) bool {
		return fetch.Choice(fl.Field().String()).Valid()
	}); err != nil {
		panic(err)
	}

	return v
}

func (d *Downloader) validateRequest(req Request) error {
	err := d.validate.Struct(req)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]

		return &ValidationError{Field: strings.ToLower(fe.Field()), Reason: "failed " + fe.Tag() + " check", Err: err}
	}

	return &ValidationError{Field: "request", Reason: err.Error(), Err: err}
}

func (d *Downloader) emitFinished(r *Result) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return
	}

	select {
	case d.OnDownloadFinished <- r:
	default:
	}
}

func (d *Downloader) emitFailed(f *Failure) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return
	}

	select {
	case d.OnDownloadFailed <- f:
	default:
	}
}
