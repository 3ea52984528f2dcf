// Package fetch drives the external media engine (yt-dlp) and finds the files it produces.
package fetch

import (
	"context"
	"os/exec"
	"strings"
)

// Choice selects what is extracted from a media URL.
type Choice string

const (
	ChoiceAudio Choice = "audio"
	ChoiceVideo Choice = "video"
	ChoiceBoth  Choice = "both"
)

// DefaultResolution is the target height used when none is requested.
const DefaultResolution = "1080"

const (
	unknownTitle    = "Unknown Title"
	unknownUploader = "Unknown"
)

// Valid reports whether c is one of the supported choices.
func (c Choice) Valid() bool {
	switch c {
	case ChoiceAudio, ChoiceVideo, ChoiceBoth:
		return true
	default:
		return false
	}
}

// Request describes a single fetch.
type Request struct {
	URL        string
	Choice     Choice
	Resolution string
}

// Result is what the engine reports about a finished fetch. Filepath may be empty or stale,
// callers should go through Locate before trusting it.
type Result struct {
	Title    string
	Uploader string
	Filepath string
}

// Engine performs extraction and download of a media URL.
type Engine interface {
	Fetch(ctx context.Context, req Request) (*Result, error)
	// MuxerAvailable reports whether ffmpeg can be used for merging and audio extraction.
	MuxerAvailable() bool
}

// Format holds the engine options derived from a request.
type Format struct {
	Selector          string
	ExtractAudio      bool
	AudioFormat       string
	AudioQuality      string
	MergeOutputFormat string
}

// SelectFormat returns the format options for choice at the given resolution. Without a muxer
// only single-file formats can be requested.
func SelectFormat(choice Choice, resolution string, muxer bool) Format {
	if resolution == "" {
		resolution = DefaultResolution
	}

	if choice == ChoiceAudio {
		f := Format{Selector: "bestaudio/best"}

		if muxer {
			f.ExtractAudio = true
			f.AudioFormat = "mp3"
			f.AudioQuality = "192"
		}

		return f
	}

	if muxer {
		return Format{
			Selector:          "bestvideo[height<=" + resolution + "]+bestaudio/best[height<=" + resolution + "]",
			MergeOutputFormat: "mp4",
		}
	}

	return Format{Selector: "best[height<=" + resolution + "]"}
}

// HasFFmpeg reports whether ffmpeg is on the PATH.
func HasFFmpeg() bool {
	_, err := exec.LookPath("ffmpeg")

	return err == nil
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}

	return v
}
