package server

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/ppiankov/spendgate/internal/logging"
	"github.com/ppiankov/spendgate/internal/policy"
)

// RuleReplacer accepts a freshly loaded rules config. *workflow.Service implements it.
type RuleReplacer interface {
	ReplaceRules(cfg *policy.PolicyConfig, hash string) error
}

// Reloader watches the rules file and swaps the rule set on change.
type Reloader struct {
	watcher  *fsnotify.Watcher
	target   RuleReplacer
	path     string
	log      *zap.Logger
	debounce time.Duration
}

// NewReloader creates a file watcher for the rules file at path.
// A missing file is not watched.
func NewReloader(target RuleReplacer, path string, logger *zap.Logger) (*Reloader, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := watcher.Add(path); err != nil {
				watcher.Close()
				return nil, fmt.Errorf("failed to watch %q: %w", path, err)
			}
		}
	}

	return &Reloader{
		watcher:  watcher,
		target:   target,
		path:     path,
		log:      logging.OrNop(logger),
		debounce: 500 * time.Millisecond,
	}, nil
}

// Reload loads the rules file and hands it to the target.
func (r *Reloader) Reload() error {
	cfg, hash, err := policy.LoadConfigWithHash(r.path)
	if err != nil {
		return err
	}
	return r.target.ReplaceRules(cfg, hash)
}

// Run watches for file changes and reloads rules. Blocks until ctx is cancelled.
func (r *Reloader) Run(ctx context.Context) error {
	defer r.watcher.Close()

	// Debounce: wait after the last write before reloading
	var debounce *time.Timer

	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			return nil

		case event, ok := <-r.watcher.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(r.debounce, func() {
					if err := r.Reload(); err != nil {
						r.log.Error("hot-reload failed, keeping current rules", zap.String("path", r.path), zap.Error(err))
					} else {
						r.log.Info("hot-reload: rules reloaded", zap.String("path", r.path))
					}
				})
			}

		case err, ok := <-r.watcher.Errors:
			if !ok {
				return nil
			}
			r.log.Warn("file watcher error", zap.Error(err))
		}
	}
}
