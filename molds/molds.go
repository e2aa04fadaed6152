// Package molds finds, picks and names the reference clips used as
// envelope molds.
package molds

import (
	"fmt"
	"io/fs"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"unicode"
)

// AudioExts are the file extensions treated as audio when scanning folders.
var AudioExts = map[string]bool{
	".wav":  true,
	".mp3":  true,
	".flac": true,
	".ogg":  true,
	".m4a":  true,
	".aiff": true,
	".aif":  true,
}

// IsAudioFile reports whether path names a regular file with an audio
// extension.
func IsAudioFile(path string) bool {
	if !AudioExts[strings.ToLower(filepath.Ext(path))] {
		return false
	}
	st, err := os.Stat(path)
	return err == nil && st.Mode().IsRegular()
}

// Collect expands mold arguments: directories become their audio files
// (recursively, sorted), other paths are kept as given. The result has no
// duplicates and keeps first-seen order.
func Collect(args []string) ([]string, error) {
	var out []string
	seen := make(map[string]bool)
	add := func(p string) {
		key := filepath.Clean(p)
		if !seen[key] {
			seen[key] = true
			out = append(out, p)
		}
	}
	for _, arg := range args {
		st, err := os.Stat(arg)
		if err != nil || !st.IsDir() {
			add(arg)
			continue
		}
		files, err := ScanDir(arg, true)
		if err != nil {
			return nil, err
		}
		for _, f := range files {
			add(f)
		}
	}
	return out, nil
}

// ScanDir lists the audio files in dir, sorted by path. With recursive set
// it descends into subdirectories.
func ScanDir(dir string, recursive bool) ([]string, error) {
	var files []string
	if !recursive {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			p := filepath.Join(dir, e.Name())
			if !e.IsDir() && IsAudioFile(p) {
				files = append(files, p)
			}
		}
		sort.Strings(files)
		return files, nil
	}

	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && IsAudioFile(p) {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", dir, err)
	}
	sort.Strings(files)
	return files, nil
}

// Pick returns n files chosen at random without repetition, or all of them
// (in order) when there are no more than n. n below 1 is treated as 1.
func Pick(files []string, n int, rng *rand.Rand) []string {
	n = max(1, n)
	if len(files) <= n {
		return append([]string(nil), files...)
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(rand.Int63()))
	}
	perm := rng.Perm(len(files))
	out := make([]string, n)
	for i := range out {
		out[i] = files[perm[i]]
	}
	return out
}

// Slug lowercases s, replaces every rune that is not a letter, digit, '_',
// '-' or '+' with '-', collapses repeated '-', cuts the result to maxLen
// runes and trims '-' and '_' from both ends.
func Slug(s string, maxLen int) string {
	s = strings.ToLower(strings.TrimSpace(s))
	var b strings.Builder
	prevDash := false
	for _, r := range s {
		if !(unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '-' || r == '+') {
			r = '-'
		}
		if r == '-' {
			if prevDash {
				continue
			}
			prevDash = true
		} else {
			prevDash = false
		}
		b.WriteRune(r)
	}
	runes := []rune(b.String())
	if len(runes) > maxLen {
		runes = runes[:maxLen]
	}
	return strings.Trim(string(runes), "-_")
}

const (
	destSlugLen   = 20
	moldSlugLen   = 12
	moldTagLen    = 4
	moldPartLen   = 40
	fallbackTag   = "xxxx"
	defaultOutExt = ".wav"
)

// AutoName builds "<dest>__<m1+m2+...><ext>" from the destination and mold
// file names. The directory is that of out, or of dest when out is empty;
// the extension is taken from out and defaults to .wav.
func AutoName(dest string, molds []string, out string) string {
	dir := filepath.Dir(dest)
	ext := defaultOutExt
	if out != "" {
		dir = filepath.Dir(out)
		if e := filepath.Ext(out); e != "" {
			ext = e
		}
	}

	tags := make([]string, len(molds))
	for i, m := range molds {
		tag := []rune(Slug(stem(m), moldSlugLen))
		if len(tag) > moldTagLen {
			tag = tag[:moldTagLen]
		}
		tags[i] = string(tag)
		if tags[i] == "" {
			tags[i] = fallbackTag
		}
	}
	part := []rune(strings.Join(tags, "+"))
	if len(part) > moldPartLen {
		part = part[:moldPartLen]
	}
	name := Slug(stem(dest), destSlugLen) + "__" + string(part) + ext
	return filepath.Join(dir, name)
}

func stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// ParseWeights parses comma-separated numbers such as "1,0.8,1.2". Blank
// input yields nil.
func ParseWeights(text string) ([]float64, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}
	parts := strings.Split(text, ",")
	out := make([]float64, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid weight %q: use comma-separated numbers, e.g. 1,0.8,1.2", strings.TrimSpace(p))
		}
		out[i] = v
	}
	return out, nil
}
