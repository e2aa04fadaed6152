package molds

import (
	"fmt"
	"os"
	"path/filepath"
)

// Genres are the folders a mold library is organized into.
var Genres = []string{
	"pop", "rock", "r&b", "house", "trap", "reggaeton",
	"afrobeat", "brasil funk", "funk", "soul", "jazz",
}

// Library is a directory holding one folder of molds per genre.
type Library struct {
	Root string
}

// DefaultLibraryRoot returns the "genres" folder next to the running
// executable, or in the working directory when that cannot be resolved.
func DefaultLibraryRoot() string {
	exe, err := os.Executable()
	if err != nil {
		return "genres"
	}
	return filepath.Join(filepath.Dir(exe), "genres")
}

// EnsureDirs creates the root and every genre folder.
func (l Library) EnsureDirs() error {
	for _, g := range Genres {
		if err := os.MkdirAll(filepath.Join(l.Root, g), 0o755); err != nil {
			return err
		}
	}
	return nil
}

// Dir returns the folder for genre.
func (l Library) Dir(genre string) string {
	return filepath.Join(l.Root, genre)
}

// Files lists the audio files directly inside the genre folder, creating
// the folder if it is missing.
func (l Library) Files(genre string) ([]string, error) {
	if !knownGenre(genre) {
		return nil, fmt.Errorf("unknown genre %q", genre)
	}
	dir := l.Dir(genre)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return ScanDir(dir, false)
}

func knownGenre(g string) bool {
	for _, known := range Genres {
		if g == known {
			return true
		}
	}
	return false
}
