package fetch

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChoice_Valid(t *testing.T) {
	assert.True(t, ChoiceAudio.Valid())
	assert.True(t, ChoiceVideo.Valid())
	assert.True(t, ChoiceBoth.Valid())
	assert.False(t, Choice("").Valid())
	assert.False(t, Choice("Audio").Valid())
	assert.False(t, Choice("playlist").Valid())
}

func TestSelectFormat(t *testing.T) {
	tests := []struct {
		name       string
		choice     Choice
		resolution string
		muxer      bool
		want       Format
	}{
		{
			name:   "audio with ffmpeg",
			choice: ChoiceAudio,
			muxer:  true,
			want:   Format{Selector: "bestaudio/best", ExtractAudio: true, AudioFormat: "mp3", AudioQuality: "192"},
		},
		{
			name:   "audio without ffmpeg",
			choice: ChoiceAudio,
			want:   Format{Selector: "bestaudio/best"},
		},
		{
			name:       "video with ffmpeg",
			choice:     ChoiceVideo,
			resolution: "720",
			muxer:      true,
			want: Format{
				Selector:          "bestvideo[height<=720]+bestaudio/best[height<=720]",
				MergeOutputFormat: "mp4",
			},
		},
		{
			name:       "both without ffmpeg",
			choice:     ChoiceBoth,
			resolution: "480",
			want:       Format{Selector: "best[height<=480]"},
		},
		{
			name:   "default resolution",
			choice: ChoiceVideo,
			want:   Format{Selector: "best[height<=1080]"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SelectFormat(tt.choice, tt.resolution, tt.muxer))
		})
	}
}

func TestYtdlpEngine_Command(t *testing.T) {
	e := &YtdlpEngine{outputDir: "/downloads"}

	t.Run("video keeps local mtime", func(t *testing.T) {
		flags := e.command(SelectFormat(ChoiceVideo, "720", true)).GetFlagConfig()

		require.NotNil(t, flags.Filesystem.NoMtime)
		assert.True(t, *flags.Filesystem.NoMtime)
		assert.Nil(t, flags.Filesystem.Mtime)
		require.NotNil(t, flags.VideoSelection.NoPlaylist)
		assert.True(t, *flags.VideoSelection.NoPlaylist)
		require.NotNil(t, flags.Filesystem.Output)
		assert.Equal(t, filepath.Join("/downloads", outputTemplate), *flags.Filesystem.Output)
		require.NotNil(t, flags.VideoFormat.MergeOutputFormat)
		assert.Nil(t, flags.PostProcessing.ExtractAudio)
	})

	t.Run("audio extracts", func(t *testing.T) {
		flags := e.command(SelectFormat(ChoiceAudio, "", true)).GetFlagConfig()

		require.NotNil(t, flags.Filesystem.NoMtime)
		assert.True(t, *flags.Filesystem.NoMtime)
		require.NotNil(t, flags.PostProcessing.ExtractAudio)
		assert.True(t, *flags.PostProcessing.ExtractAudio)
	})
}

func TestParseReport(t *testing.T) {
	tests := []struct {
		name   string
		stdout string
		want   Result
	}{
		{
			name:   "empty output",
			stdout: "",
			want:   Result{Title: "Unknown Title", Uploader: "Unknown"},
		},
		{
			name:   "report among noise",
			stdout: "[download] 100%\n{\"title\": \"Song\", \"uploader\": \"Band\", \"filepath\": \"/d/Song.mp3\"}\n",
			want:   Result{Title: "Song", Uploader: "Band", Filepath: "/d/Song.mp3"},
		},
		{
			name:   "missing fields use defaults",
			stdout: "{\"filepath\": \"/d/x.mp4\", \"uploader\": null}",
			want:   Result{Title: "Unknown Title", Uploader: "Unknown", Filepath: "/d/x.mp4"},
		},
		{
			name:   "malformed json is skipped",
			stdout: "{not json\n",
			want:   Result{Title: "Unknown Title", Uploader: "Unknown"},
		},
		{
			name:   "last report wins",
			stdout: "{\"title\": \"a\", \"filepath\": \"/d/a\"}\n{\"title\": \"b\", \"filepath\": \"/d/b\"}",
			want:   Result{Title: "b", Uploader: "Unknown", Filepath: "/d/b"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseReport(tt.stdout)
			require.NotNil(t, got)
			assert.Equal(t, tt.want, *got)
		})
	}
}

func writeFile(t *testing.T, path string, mod time.Time) {
	t.Helper()

	require.NoError(t, os.WriteFile(path, []byte("data"), 0o644))
	require.NoError(t, os.Chtimes(path, mod, mod))
}

func TestLocator_ReportedPathWins(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()

	reported := filepath.Join(dir, "reported.mp4")
	writeFile(t, reported, now.Add(-time.Hour))
	writeFile(t, filepath.Join(dir, "newer.mp4"), now)

	got, ok := Locator{Dir: dir, Window: 2 * time.Minute}.Locate(reported, ChoiceVideo, true)

	require.True(t, ok)
	assert.Equal(t, reported, got)
}

func TestLocator_AudioExtensionSwap(t *testing.T) {
	dir := t.TempDir()

	mp3 := filepath.Join(dir, "song.mp3")
	writeFile(t, mp3, time.Now().Add(-time.Hour))

	l := Locator{Dir: dir, Window: 2 * time.Minute}

	got, ok := l.Locate(filepath.Join(dir, "song.webm"), ChoiceAudio, true)
	require.True(t, ok)
	assert.Equal(t, mp3, got)

	_, ok = l.Locate(filepath.Join(dir, "song.webm"), ChoiceAudio, false)
	assert.False(t, ok, "no swap without ffmpeg and the file is outside the window")
}

func TestLocator_NewestWithinWindow(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()

	writeFile(t, filepath.Join(dir, "old.mp4"), now.Add(-10*time.Minute))
	writeFile(t, filepath.Join(dir, "recent.mp4"), now.Add(-30*time.Second))
	writeFile(t, filepath.Join(dir, "newest.mp4"), now.Add(-5*time.Second))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "subdir"), 0o755))

	l := Locator{Dir: dir, Window: 2 * time.Minute, Now: func() time.Time { return now }}

	got, ok := l.Locate("", ChoiceVideo, false)
	require.True(t, ok)
	assert.Equal(t, filepath.Join(dir, "newest.mp4"), got)
}

func TestLocator_NothingFound(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()

	writeFile(t, filepath.Join(dir, "old.mp4"), now.Add(-10*time.Minute))

	_, ok := Locator{Dir: dir, Window: 2 * time.Minute}.Locate(filepath.Join(dir, "missing.mp4"), ChoiceVideo, true)
	assert.False(t, ok)

	_, ok = Locator{Dir: filepath.Join(dir, "does-not-exist"), Window: time.Minute}.Locate("", ChoiceAudio, true)
	assert.False(t, ok)
}
