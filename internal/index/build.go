package index

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/calvinalkan/kanbus/internal/issue"
)

type readFunc func(path string) (*issue.Issue, error)

type options struct {
	workers int
	read    readFunc
}

// Option configures Build.
type Option func(*options)

// WithWorkers sets the number of parse workers. Values < 1 fall back to
// GOMAXPROCS.
func WithWorkers(n int) Option {
	return func(o *options) {
		o.workers = n
	}
}

// Build scans dir for *.json issue files and returns a fresh index.
//
// Files are sorted by name and split into contiguous chunks, one goroutine per
// chunk. Workers only read and parse; the fold into the index happens on the
// calling goroutine in file order. Any read or parse error, or a panicking
// worker, fails the whole build.
func Build(dir string, opts ...Option) (*Index, error) {
	o := options{read: issue.ReadFile}
	for _, opt := range opts {
		opt(&o)
	}

	if o.workers < 1 {
		o.workers = runtime.GOMAXPROCS(0)
	}

	paths, err := issueFiles(dir)
	if err != nil {
		return nil, err
	}

	issues, err := parseAll(paths, o.workers, o.read)
	if err != nil {
		return nil, err
	}

	return New(issues)
}

// issueFiles lists the *.json regular files in dir. os.ReadDir returns
// entries sorted by filename, which fixes the chunk partitioning.
func issueFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading issues directory: %w", err)
	}

	paths := make([]string, 0, len(entries))

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), issue.FileExt) {
			continue
		}

		paths = append(paths, filepath.Join(dir, entry.Name()))
	}

	return paths, nil
}

func parseAll(paths []string, workers int, read readFunc) ([]*issue.Issue, error) {
	if workers <= 1 || len(paths) <= 1 {
		return parseChunk(context.Background(), paths, read)
	}

	chunkSize := (len(paths) + workers - 1) / workers
	batches := make([][]*issue.Issue, (len(paths)+chunkSize-1)/chunkSize)

	group, ctx := errgroup.WithContext(context.Background())

	for n := range batches {
		start := n * chunkSize
		end := min(start+chunkSize, len(paths))

		group.Go(func() error {
			batch, err := parseChunk(ctx, paths[start:end], read)
			if err != nil {
				return err
			}

			batches[n] = batch

			return nil
		})
	}

	err := group.Wait()
	if err != nil {
		return nil, err
	}

	merged := make([]*issue.Issue, 0, len(paths))
	for _, batch := range batches {
		merged = append(merged, batch...)
	}

	return merged, nil
}

// parseChunk reads paths in order. A panic in read is returned as an error
// wrapping ErrWorkerPanic.
func parseChunk(ctx context.Context, paths []string, read readFunc) (batch []*issue.Issue, err error) {
	defer func() {
		if r := recover(); r != nil {
			batch = nil
			err = fmt.Errorf("%w: %v", ErrWorkerPanic, r)
		}
	}()

	batch = make([]*issue.Issue, 0, len(paths))

	for _, path := range paths {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		iss, readErr := read(path)
		if readErr != nil {
			return nil, readErr
		}

		batch = append(batch, iss)
	}

	return batch, nil
}
