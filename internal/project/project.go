// Package project locates a project's issue, cache and daemon files below a
// repository root.
package project

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/zeebo/blake3"
	"gopkg.in/yaml.v3"
)

// File and directory names inside a repository.
const (
	MarkerFileName = ".kanbus.yml"
	IssuesDirName  = "issues"
	CacheDirName   = ".cache"
	CacheFileName  = "index.json"
	LockFileName   = "daemon.lock"
	LogFileName    = "daemon.log"

	projectDirName = "project"
	localDirName   = "project-local"
)

// maxSocketPathLen keeps socket paths below sun_path (104 on darwin, 108 on linux).
const maxSocketPathLen = 100

// Discovery errors.
var (
	ErrNotInitialized   = errors.New("project not initialized")
	ErrMultipleProjects = errors.New("multiple projects found")
	ErrMarkerInvalid    = errors.New("invalid project marker")
	ErrProjectDirAbsent = errors.New("project directory not found")
)

// Marker is the optional .kanbus.yml file at the repository root.
type Marker struct {
	ProjectDir string `yaml:"project_dir"`
}

// Paths holds every location derived from one repository root.
type Paths struct {
	Root      string // canonical repository root
	Project   string // project directory
	Issues    string // <project>/issues
	Cache     string // <project>/.cache
	CacheFile string // <project>/.cache/index.json
	Socket    string // daemon socket, see SocketPath
	Lock      string // <project>/.cache/daemon.lock
	Log       string // <project>/.cache/daemon.log
}

// Resolve discovers the project below root and derives all paths.
// Returns an error wrapping ErrNotInitialized when no project can be found.
func Resolve(root string) (Paths, error) {
	canonical, err := Canonical(root)
	if err != nil {
		return Paths{}, err
	}

	projectDir, err := Dir(canonical)
	if err != nil {
		return Paths{}, err
	}

	cacheDir := filepath.Join(projectDir, CacheDirName)

	return Paths{
		Root:      canonical,
		Project:   projectDir,
		Issues:    filepath.Join(projectDir, IssuesDirName),
		Cache:     cacheDir,
		CacheFile: filepath.Join(cacheDir, CacheFileName),
		Socket:    socketPath(canonical, cacheDir),
		Lock:      filepath.Join(cacheDir, LockFileName),
		Log:       filepath.Join(cacheDir, LogFileName),
	}, nil
}

// SocketPath returns the daemon socket path for root.
func SocketPath(root string) (string, error) {
	paths, err := Resolve(root)
	if err != nil {
		return "", err
	}

	return paths.Socket, nil
}

// Canonical returns the absolute, symlink-free form of root.
func Canonical(root string) (string, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolving root %s: %w", root, err)
	}

	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrNotInitialized, root)
		}

		return "", fmt.Errorf("resolving root %s: %w", root, err)
	}

	return resolved, nil
}

// Dir returns the single project directory below root.
//
// A .kanbus.yml marker at root wins. Without a marker, every directory named
// "project" below root (hidden directories and "project-local" excluded) is a
// candidate, and exactly one must exist.
func Dir(root string) (string, error) {
	markerPath := filepath.Join(root, MarkerFileName)

	data, err := os.ReadFile(markerPath)
	if err == nil {
		return dirFromMarker(root, markerPath, data)
	}

	if !errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("reading %s: %w", markerPath, err)
	}

	var found []string

	walkErr := filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if !entry.IsDir() || path == root {
			return nil
		}

		name := entry.Name()

		switch {
		case strings.HasPrefix(name, "."), name == localDirName:
			return filepath.SkipDir
		case name == projectDirName:
			found = append(found, path)

			return filepath.SkipDir
		}

		return nil
	})
	if walkErr != nil {
		return "", fmt.Errorf("discovering project in %s: %w", root, walkErr)
	}

	switch len(found) {
	case 0:
		return "", ErrNotInitialized
	case 1:
		return found[0], nil
	default:
		return "", fmt.Errorf("%w: %s", ErrMultipleProjects, strings.Join(found, ", "))
	}
}

func dirFromMarker(root, markerPath string, data []byte) (string, error) {
	var marker Marker

	err := yaml.Unmarshal(data, &marker)
	if err != nil {
		return "", fmt.Errorf("%w %s: %w", ErrMarkerInvalid, markerPath, err)
	}

	if marker.ProjectDir == "" {
		return "", fmt.Errorf("%w %s: project_dir is empty", ErrMarkerInvalid, markerPath)
	}

	dir := marker.ProjectDir
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(root, dir)
	}

	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return "", fmt.Errorf("%w: %s", ErrProjectDirAbsent, dir)
	}

	return dir, nil
}

// socketPath names the socket after a hash of the canonical root so two
// checkouts sharing a project directory (bind mounts, symlinked caches) never
// share a daemon.
func socketPath(canonicalRoot, cacheDir string) string {
	sum := blake3.Sum256([]byte(canonicalRoot))
	name := "kanbus-" + hex.EncodeToString(sum[:8]) + ".sock"

	path := filepath.Join(cacheDir, name)
	if len(path) > maxSocketPathLen {
		path = filepath.Join(os.TempDir(), name)
	}

	return path
}

// WriteMarker writes a .kanbus.yml marker pointing at projectDir.
func WriteMarker(root, projectDir string) error {
	data, err := yaml.Marshal(Marker{ProjectDir: projectDir})
	if err != nil {
		return fmt.Errorf("encoding marker: %w", err)
	}

	err = os.WriteFile(filepath.Join(root, MarkerFileName), data, 0o644)
	if err != nil {
		return fmt.Errorf("writing marker: %w", err)
	}

	return nil
}
