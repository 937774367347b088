package daemon

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/time/rate"

	"github.com/calvinalkan/kanbus/internal/issue"
)

// rebuildInterval is the minimum gap between watcher-triggered rebuilds.
const rebuildInterval = 250 * time.Millisecond

// watchIssues rebuilds the index shortly after issue files change, so the
// next request finds it warm. Requests still compare manifests themselves;
// a missed or failed watch only costs latency.
func (s *Server) watchIssues(ctx context.Context) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		s.logger.Warn("file watcher unavailable", "error", err)

		return
	}

	defer watcher.Close()

	err = watcher.Add(s.paths.Issues)
	if err != nil {
		s.logger.Warn("cannot watch issues directory", "path", s.paths.Issues, "error", err)

		return
	}

	limiter := rate.NewLimiter(rate.Every(rebuildInterval), 1)

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}

			if filepath.Ext(event.Name) != issue.FileExt || event.Op == fsnotify.Chmod {
				continue
			}

			// Coalesce bursts: wait out the limiter, drop what queued meanwhile.
			if limiter.Wait(ctx) != nil {
				return
			}

			drain(watcher.Events)

			_, err := s.Index()
			if err != nil {
				s.logger.Warn("background rebuild failed", "error", err)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}

			s.logger.Warn("watcher error", "error", err)
		}
	}
}

func drain(events <-chan fsnotify.Event) {
	for {
		select {
		case _, ok := <-events:
			if !ok {
				return
			}
		default:
			return
		}
	}
}
