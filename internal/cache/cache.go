// Package cache persists an index snapshot next to the issues it was built
// from, keyed by the modification time of every issue file.
package cache

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/natefinch/atomic"

	"github.com/calvinalkan/kanbus/internal/fs"
	"github.com/calvinalkan/kanbus/internal/index"
	"github.com/calvinalkan/kanbus/internal/issue"
)

// LockTimeout bounds how long Write waits for the cache lock before writing
// without it.
const LockTimeout = 500 * time.Millisecond

const lockSuffix = ".lock"

// Manifest maps issue file names to their mtime in fractional seconds since
// the epoch.
type Manifest map[string]float64

// Equal reports whether both manifests hold the same files with identical
// mtimes.
func (m Manifest) Equal(other Manifest) bool {
	return maps.Equal(m, other)
}

// Entry is the on-disk cache document.
type Entry struct {
	Index      *index.Index `json:"index"`
	FileMtimes Manifest     `json:"file_mtimes"`
}

// FileMtimes returns the manifest of the *.json files directly in dir.
// A missing directory yields an empty manifest.
func FileMtimes(dir string) (Manifest, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Manifest{}, nil
		}

		return nil, fmt.Errorf("reading issues directory: %w", err)
	}

	manifest := make(Manifest, len(entries))

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), issue.FileExt) {
			continue
		}

		info, infoErr := entry.Info()
		if infoErr != nil {
			// Removed between ReadDir and Info; the next manifest will differ anyway.
			if errors.Is(infoErr, os.ErrNotExist) {
				continue
			}

			return nil, fmt.Errorf("stat %s: %w", entry.Name(), infoErr)
		}

		manifest[entry.Name()] = mtimeSeconds(info.ModTime())
	}

	return manifest, nil
}

func mtimeSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

// Write stores idx and its manifest at cachePath, creating parent directories.
//
// The file is replaced atomically. Writers serialize on <cachePath>.lock; if the
// lock cannot be taken within LockTimeout the write proceeds anyway, since the
// rename keeps readers safe and the content is derived.
func Write(idx *index.Index, cachePath string, mtimes Manifest) error {
	if mtimes == nil {
		mtimes = Manifest{}
	}

	data, err := json.Marshal(Entry{Index: idx, FileMtimes: mtimes})
	if err != nil {
		return fmt.Errorf("encoding cache: %w", err)
	}

	err = os.MkdirAll(filepath.Dir(cachePath), 0o750)
	if err != nil {
		return fmt.Errorf("creating cache directory: %w", err)
	}

	lock, lockErr := fs.NewLocker().LockWithTimeout(cachePath+lockSuffix, LockTimeout)
	if lockErr == nil {
		defer lock.Close()
	}

	err = atomic.WriteFile(cachePath, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("writing cache: %w", err)
	}

	return nil
}

// Read decodes the cache file at cachePath without validating it.
func Read(cachePath string) (*Entry, error) {
	data, err := os.ReadFile(cachePath)
	if err != nil {
		return nil, fmt.Errorf("reading cache: %w", err)
	}

	var entry Entry

	err = json.Unmarshal(data, &entry)
	if err != nil {
		return nil, fmt.Errorf("decoding cache: %w", err)
	}

	if entry.Index == nil {
		return nil, errors.New("decoding cache: missing index")
	}

	if entry.FileMtimes == nil {
		entry.FileMtimes = Manifest{}
	}

	return &entry, nil
}

// LoadIfValid returns the cached index when its manifest equals the current
// manifest of issuesDir. Any read, decode or mismatch is a miss.
func LoadIfValid(cachePath, issuesDir string) (*index.Index, bool) {
	entry, err := Read(cachePath)
	if err != nil {
		return nil, false
	}

	current, err := FileMtimes(issuesDir)
	if err != nil || !current.Equal(entry.FileMtimes) {
		return nil, false
	}

	return entry.Index, true
}

// LoadOrBuild returns a valid cached index or builds a fresh one and caches
// it. A failed cache write is ignored.
//
// The manifest is taken before building, so an issue changed mid-build makes
// the written cache stale rather than wrong.
func LoadOrBuild(cachePath, issuesDir string, opts ...index.Option) (*index.Index, error) {
	idx, _, err := Refresh(cachePath, issuesDir, opts...)

	return idx, err
}

// Refresh is LoadOrBuild that also returns the manifest the index matches.
func Refresh(cachePath, issuesDir string, opts ...index.Option) (*index.Index, Manifest, error) {
	entry, err := Read(cachePath)

	current, manifestErr := FileMtimes(issuesDir)
	if manifestErr != nil {
		return nil, nil, manifestErr
	}

	if err == nil && current.Equal(entry.FileMtimes) {
		return entry.Index, current, nil
	}

	var idx *index.Index

	// A project without an issues directory has no issues yet.
	if _, statErr := os.Stat(issuesDir); errors.Is(statErr, os.ErrNotExist) {
		idx, err = index.New(nil)
	} else {
		idx, err = index.Build(issuesDir, opts...)
	}

	if err != nil {
		return nil, nil, err
	}

	_ = Write(idx, cachePath, current)

	return idx, current, nil
}
