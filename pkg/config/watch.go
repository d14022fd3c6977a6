package config

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch re-reads config.toml whenever it changes and invokes onChange
// with the freshly loaded Config. Sweep thresholds picked up this way
// apply from the next sweep; in-flight operations keep the tuning they
// started with. Watch blocks until ctx is canceled.
func (c *Configer) Watch(ctx context.Context, onChange func(*Config)) error {
	if c.targetPath == "" {
		return errors.New("cannot watch without a resolved config path")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating config watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory, not the file: editors replace config.toml by
	// rename, which drops a file-level watch.
	if err := watcher.Add(filepath.Dir(c.targetPath)); err != nil {
		return fmt.Errorf("watching config dir: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(c.targetPath) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}

			cfg, err := c.LoadConfig()
			if err != nil {
				// Half-written file mid-save; the next event re-reads it.
				continue
			}
			onChange(cfg)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("config watcher: %w", err)
		}
	}
}
