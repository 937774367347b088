// Package listing loads the issue index for read-only commands, through the
// project daemon when daemon mode is on and directly from disk otherwise.
package listing

import (
	"context"
	"fmt"
	"os"

	"github.com/calvinalkan/kanbus/internal/cache"
	"github.com/calvinalkan/kanbus/internal/config"
	"github.com/calvinalkan/kanbus/internal/daemon"
	"github.com/calvinalkan/kanbus/internal/index"
	"github.com/calvinalkan/kanbus/internal/project"
)

// Options controls how Load obtains the index.
type Options struct {
	Config config.Config
	// Getenv is consulted for KANBUS_NO_DAEMON. Defaults to os.Getenv.
	Getenv func(string) string
	// Client holds extra options for the daemon client.
	Client []daemon.ClientOption
}

// UseDaemon reports whether Load will go through the daemon.
func (o Options) UseDaemon() bool {
	return o.Config.Daemon && daemon.Enabled(o.getenv())
}

func (o Options) getenv() func(string) string {
	if o.Getenv == nil {
		return os.Getenv
	}

	return o.Getenv
}

// Load returns the index for the project below root.
func Load(ctx context.Context, root string, opts Options) (*index.Index, error) {
	if opts.UseDaemon() {
		return loadFromDaemon(ctx, root, opts)
	}

	paths, err := project.Resolve(root)
	if err != nil {
		return nil, err
	}

	return cache.LoadOrBuild(paths.CacheFile, paths.Issues, index.WithWorkers(opts.Config.IndexWorkers))
}

func loadFromDaemon(ctx context.Context, root string, opts Options) (*index.Index, error) {
	clientOpts := []daemon.ClientOption{
		daemon.WithGetenv(opts.getenv()),
		daemon.WithSpawnPoll(opts.Config.DaemonSpawnRetries, opts.Config.SpawnInterval()),
	}
	clientOpts = append(clientOpts, opts.Client...)

	client, err := daemon.NewClient(root, clientOpts...)
	if err != nil {
		return nil, err
	}

	issues, err := client.IndexList(ctx)
	if err != nil {
		return nil, err
	}

	idx, err := index.New(issues)
	if err != nil {
		return nil, fmt.Errorf("indexing daemon reply: %w", err)
	}

	return idx, nil
}
