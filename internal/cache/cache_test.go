package cache_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/calvinalkan/kanbus/internal/cache"
	"github.com/calvinalkan/kanbus/internal/index"
	"github.com/calvinalkan/kanbus/internal/issue"
)

func writeIssue(t *testing.T, dir, id, status string) {
	t.Helper()

	iss := &issue.Issue{ID: id, Title: "Title " + id, Type: "task", Status: status, Labels: []string{"x"}}

	data, err := issue.Marshal(iss)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, id+".json"), data, 0o600))
}

// setup returns (issuesDir, cachePath) with two issues on disk.
func setup(t *testing.T) (string, string) {
	t.Helper()

	project := t.TempDir()
	issuesDir := filepath.Join(project, "issues")
	require.NoError(t, os.Mkdir(issuesDir, 0o750))

	writeIssue(t, issuesDir, "tsk-1", "open")
	writeIssue(t, issuesDir, "tsk-2", "closed")

	return issuesDir, filepath.Join(project, ".cache", "index.json")
}

func buildAndWrite(t *testing.T, issuesDir, cachePath string) *index.Index {
	t.Helper()

	idx, err := index.Build(issuesDir)
	require.NoError(t, err)

	mtimes, err := cache.FileMtimes(issuesDir)
	require.NoError(t, err)
	require.NoError(t, cache.Write(idx, cachePath, mtimes))

	return idx
}

func Test_LoadIfValid_Returns_Index_When_Nothing_Changed(t *testing.T) {
	t.Parallel()

	issuesDir, cachePath := setup(t)
	built := buildAndWrite(t, issuesDir, cachePath)

	loaded, ok := cache.LoadIfValid(cachePath, issuesDir)
	require.True(t, ok)
	require.Equal(t, built.Len(), loaded.Len())
	require.Len(t, loaded.ByStatus["open"], 1)
	require.Equal(t, "tsk-1", loaded.ByStatus["open"][0].ID)
	require.Same(t, loaded.ByID["tsk-1"], loaded.ByLabel["x"][0])
}

func Test_LoadIfValid_Misses_When_Issue_Added(t *testing.T) {
	t.Parallel()

	issuesDir, cachePath := setup(t)
	buildAndWrite(t, issuesDir, cachePath)

	writeIssue(t, issuesDir, "tsk-3", "open")

	_, ok := cache.LoadIfValid(cachePath, issuesDir)
	require.False(t, ok)
}

func Test_LoadIfValid_Misses_When_Issue_Removed(t *testing.T) {
	t.Parallel()

	issuesDir, cachePath := setup(t)
	buildAndWrite(t, issuesDir, cachePath)

	require.NoError(t, os.Remove(filepath.Join(issuesDir, "tsk-2.json")))

	_, ok := cache.LoadIfValid(cachePath, issuesDir)
	require.False(t, ok)
}

func Test_LoadIfValid_Misses_When_Issue_Modified(t *testing.T) {
	t.Parallel()

	issuesDir, cachePath := setup(t)
	buildAndWrite(t, issuesDir, cachePath)

	later := time.Now().Add(5 * time.Second)
	require.NoError(t, os.Chtimes(filepath.Join(issuesDir, "tsk-1.json"), later, later))

	_, ok := cache.LoadIfValid(cachePath, issuesDir)
	require.False(t, ok)
}

func Test_LoadIfValid_Ignores_Non_JSON_Files_When_Comparing(t *testing.T) {
	t.Parallel()

	issuesDir, cachePath := setup(t)
	buildAndWrite(t, issuesDir, cachePath)

	require.NoError(t, os.WriteFile(filepath.Join(issuesDir, "README.md"), []byte("hi"), 0o600))

	_, ok := cache.LoadIfValid(cachePath, issuesDir)
	require.True(t, ok)
}

func Test_LoadIfValid_Misses_When_Cache_Absent_Or_Broken(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		setup func(t *testing.T, cachePath string)
	}{
		{name: "absent", setup: func(*testing.T, string) {}},
		{name: "directory", setup: func(t *testing.T, cachePath string) {
			t.Helper()
			require.NoError(t, os.MkdirAll(cachePath, 0o750))
		}},
		{name: "unparsable", setup: func(t *testing.T, cachePath string) {
			t.Helper()
			require.NoError(t, os.MkdirAll(filepath.Dir(cachePath), 0o750))
			require.NoError(t, os.WriteFile(cachePath, []byte("{not json"), 0o600))
		}},
		{name: "missing index", setup: func(t *testing.T, cachePath string) {
			t.Helper()
			require.NoError(t, os.MkdirAll(filepath.Dir(cachePath), 0o750))
			require.NoError(t, os.WriteFile(cachePath, []byte(`{"file_mtimes":{}}`), 0o600))
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			issuesDir, cachePath := setup(t)
			tt.setup(t, cachePath)

			idx, ok := cache.LoadIfValid(cachePath, issuesDir)
			require.False(t, ok)
			require.Nil(t, idx)
		})
	}
}

func Test_LoadIfValid_Misses_When_Manifest_Keys_Differ(t *testing.T) {
	t.Parallel()

	issuesDir, cachePath := setup(t)

	idx, err := index.Build(issuesDir)
	require.NoError(t, err)

	mtimes, err := cache.FileMtimes(issuesDir)
	require.NoError(t, err)

	mtimes["ghost.json"] = 1
	require.NoError(t, cache.Write(idx, cachePath, mtimes))

	_, ok := cache.LoadIfValid(cachePath, issuesDir)
	require.False(t, ok)
}

func Test_FileMtimes_Returns_Empty_When_Directory_Missing(t *testing.T) {
	t.Parallel()

	mtimes, err := cache.FileMtimes(filepath.Join(t.TempDir(), "missing"))
	require.NoError(t, err)
	require.Empty(t, mtimes)
	require.NotNil(t, mtimes)
}

func Test_FileMtimes_Uses_Fractional_Seconds_When_Listing(t *testing.T) {
	t.Parallel()

	issuesDir, _ := setup(t)

	when := time.Unix(1_700_000_000, 250_000_000)
	require.NoError(t, os.Chtimes(filepath.Join(issuesDir, "tsk-1.json"), when, when))

	mtimes, err := cache.FileMtimes(issuesDir)
	require.NoError(t, err)
	require.Len(t, mtimes, 2)
	require.InDelta(t, 1_700_000_000.25, mtimes["tsk-1.json"], 1e-6)
}

func Test_Write_Replaces_Existing_Cache_When_Rewritten(t *testing.T) {
	t.Parallel()

	issuesDir, cachePath := setup(t)
	buildAndWrite(t, issuesDir, cachePath)

	writeIssue(t, issuesDir, "tsk-3", "open")
	buildAndWrite(t, issuesDir, cachePath)

	loaded, ok := cache.LoadIfValid(cachePath, issuesDir)
	require.True(t, ok)
	require.Equal(t, 3, loaded.Len())

	_, err := os.Stat(cachePath + ".lock")
	require.NoError(t, err, "writer lock file expected next to the cache")
}

func Test_LoadOrBuild_Builds_And_Caches_When_Cache_Missing(t *testing.T) {
	t.Parallel()

	issuesDir, cachePath := setup(t)

	idx, err := cache.LoadOrBuild(cachePath, issuesDir, index.WithWorkers(2))
	require.NoError(t, err)
	require.Equal(t, 2, idx.Len())

	_, ok := cache.LoadIfValid(cachePath, issuesDir)
	require.True(t, ok, "LoadOrBuild should leave a valid cache behind")
}

func Test_LoadOrBuild_Returns_Empty_Index_When_Issues_Directory_Missing(t *testing.T) {
	t.Parallel()

	project := t.TempDir()

	idx, err := cache.LoadOrBuild(filepath.Join(project, ".cache", "index.json"), filepath.Join(project, "issues"))
	require.NoError(t, err)
	require.Equal(t, 0, idx.Len())
}

func Test_LoadOrBuild_Fails_When_Issue_Malformed(t *testing.T) {
	t.Parallel()

	issuesDir, cachePath := setup(t)
	require.NoError(t, os.WriteFile(filepath.Join(issuesDir, "bad.json"), []byte(`{"id":"bad"}`), 0o600))

	_, err := cache.LoadOrBuild(cachePath, issuesDir)
	require.ErrorIs(t, err, issue.ErrMissingField)
}
