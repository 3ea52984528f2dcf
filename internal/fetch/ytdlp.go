package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/italolelis/media_downloader/internal/logctx"
	"github.com/lrstanley/go-ytdlp"
)

const (
	outputTemplate   = "%(title)s.%(ext)s"
	reportTemplate   = "after_move:%(.{title,uploader,filepath})j"
	progressInterval = 5 * time.Second
)

// YtdlpEngine runs yt-dlp through go-ytdlp, writing into a single output directory.
type YtdlpEngine struct {
	outputDir string
	muxer     bool
}

// NewYtdlpEngine creates an engine writing to outputDir. ffmpeg is detected once.
func NewYtdlpEngine(outputDir string) *YtdlpEngine {
	return &YtdlpEngine{
		outputDir: outputDir,
		muxer:     HasFFmpeg(),
	}
}

func (e *YtdlpEngine) MuxerAvailable() bool {
	return e.muxer
}

// Fetch downloads req.URL and reports its metadata and final path.
func (e *YtdlpEngine) Fetch(ctx context.Context, req Request) (*Result, error) {
	logger := logctx.LoggerFromContext(ctx)

	format := SelectFormat(req.Choice, req.Resolution, e.muxer)
	cmd := e.command(format)

	cmd.ProgressFunc(progressInterval, func(update ytdlp.ProgressUpdate) {
		logProgress(ctx, update)
	})

	logger.InfoContext(ctx, "starting download", "format", format.Selector, "ffmpeg", e.muxer)

	res, err := cmd.Run(ctx, req.URL)
	if err != nil {
		return nil, fmt.Errorf("yt-dlp failed: %w", err)
	}

	result := parseReport(res.Stdout)

	logger.InfoContext(ctx, "download finished", "title", result.Title, "reported_path", result.Filepath)

	return result, nil
}

// command builds the yt-dlp invocation for format. Files keep their local mtime so the
// recent-file fallback in Locate can find them.
func (e *YtdlpEngine) command(format Format) *ytdlp.Command {
	cmd := ytdlp.New().
		NoPlaylist().
		NoMtime().
		RestrictFilenames().
		WindowsFilenames().
		Output(filepath.Join(e.outputDir, outputTemplate)).
		Format(format.Selector).
		Print(reportTemplate)

	if format.ExtractAudio {
		cmd = cmd.ExtractAudio().
			AudioFormat(format.AudioFormat).
			AudioQuality(format.AudioQuality)
	}

	if format.MergeOutputFormat != "" {
		cmd = cmd.MergeOutputFormat(format.MergeOutputFormat)
	}

	return cmd
}

func logProgress(ctx context.Context, update ytdlp.ProgressUpdate) {
	attrs := []any{
		"downloaded", humanize.Bytes(uint64(max(update.DownloadedBytes, 0))),
	}

	if update.TotalBytes > 0 {
		attrs = append(attrs,
			"total", humanize.Bytes(uint64(update.TotalBytes)),
			"percent", humanize.FtoaWithDigits(float64(update.DownloadedBytes)*100/float64(update.TotalBytes), 2),
		)
	}

	if eta := update.ETA(); eta > 0 {
		attrs = append(attrs, "eta", eta.Round(time.Second).String())
	}

	if update.Info != nil && update.Info.Title != nil {
		attrs = append(attrs, "title", *update.Info.Title)
	}

	logctx.LoggerFromContext(ctx).DebugContext(ctx, "download progress", attrs...)
}

type report struct {
	Title    string `json:"title"`
	Uploader string `json:"uploader"`
	Filepath string `json:"filepath"`
}

// parseReport extracts the last after_move report printed on stdout. Lines that are not
// JSON objects are ignored.
func parseReport(stdout string) *Result {
	result := &Result{Title: unknownTitle, Uploader: unknownUploader}

	for _, line := range strings.Split(stdout, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "{") {
			continue
		}

		var r report
		if err := json.Unmarshal([]byte(line), &r); err != nil {
			continue
		}

		result.Title = orDefault(r.Title, unknownTitle)
		result.Uploader = orDefault(r.Uploader, unknownUploader)
		result.Filepath = r.Filepath
	}

	return result
}

// EnsureInstalled makes sure a yt-dlp binary is available, downloading one if needed.
func EnsureInstalled(ctx context.Context) error {
	resolved, err := ytdlp.Install(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to install yt-dlp: %w", err)
	}

	logctx.LoggerFromContext(ctx).InfoContext(ctx, "yt-dlp available", "path", resolved.Executable, "version", resolved.Version)

	return nil
}
