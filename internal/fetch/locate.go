package fetch

import (
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Locator finds the file produced by a fetch.
type Locator struct {
	Dir    string
	Window time.Duration
	Now    func() time.Time
}

// Locate returns the produced file for a fetch that reported path. The reported path wins
// when it exists. Audio extracted by ffmpeg may still be reported with the source extension,
// so the .mp3 sibling is tried next. As a last resort the most recently modified regular
// file in Dir younger than Window is used.
func (l Locator) Locate(reported string, choice Choice, muxer bool) (string, bool) {
	if reported != "" {
		if isRegular(reported) {
			return reported, true
		}

		if choice == ChoiceAudio && muxer {
			mp3 := strings.TrimSuffix(reported, filepath.Ext(reported)) + ".mp3"
			if isRegular(mp3) {
				return mp3, true
			}
		}
	}

	return l.newest()
}

func (l Locator) newest() (string, bool) {
	entries, err := os.ReadDir(l.Dir)
	if err != nil {
		return "", false
	}

	now := time.Now
	if l.Now != nil {
		now = l.Now
	}

	cutoff := now().Add(-l.Window)

	var (
		best    string
		bestMod time.Time
	)

	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}

		mod := info.ModTime()
		if mod.Before(cutoff) {
			continue
		}

		if best == "" || mod.After(bestMod) {
			best = filepath.Join(l.Dir, entry.Name())
			bestMod = mod
		}
	}

	return best, best != ""
}

func isRegular(path string) bool {
	info, err := os.Stat(path)

	return err == nil && info.Mode().IsRegular()
}
