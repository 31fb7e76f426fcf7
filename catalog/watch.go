package catalog

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads the catalog whenever a definition below the agents or
// channels directory changes. It returns once the watcher is installed and
// stops when ctx is done or Close is called.
func (c *Catalog) Watch(ctx context.Context) error {
	c.watchMu.Lock()
	if c.watcher != nil {
		c.watchMu.Unlock()
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		c.watchMu.Unlock()
		return err
	}
	c.watcher = watcher
	c.watchMu.Unlock()

	for _, root := range []string{c.layout.AgentsDir(), c.layout.ChannelsDir()} {
		if err := os.MkdirAll(root, 0o755); err != nil {
			c.opts.Logger.Warn("create watch root", "path", root, "error", err)
			continue
		}
		c.addTree(watcher, root)
	}

	c.watchWg.Add(1)
	go c.watchLoop(ctx, watcher)
	return nil
}

// addTree watches root and its direct subdirectories; definitions never
// live deeper.
func (c *Catalog) addTree(watcher *fsnotify.Watcher, root string) {
	if err := watcher.Add(root); err != nil {
		c.opts.Logger.Warn("watch directory", "path", root, "error", err)
		return
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		return
	}
	for _, e := range entries {
		if e.IsDir() {
			_ = watcher.Add(filepath.Join(root, e.Name()))
		}
	}
}

func (c *Catalog) watchLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	defer c.watchWg.Done()

	var mu sync.Mutex
	var timer *time.Timer
	scheduleReload := func() {
		mu.Lock()
		defer mu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(c.opts.Debounce, func() {
			if err := c.Reload(); err != nil {
				c.opts.Logger.Warn("catalog reload failed", "error", err)
			}
		})
	}
	defer func() {
		mu.Lock()
		if timer != nil {
			timer.Stop()
		}
		mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			_ = c.stopWatcher()
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					_ = watcher.Add(event.Name)
				}
			}
			scheduleReload()
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			c.opts.Logger.Warn("catalog watch error", "error", err)
		}
	}
}

// Close stops the watcher started by Watch and waits for its loop to exit.
func (c *Catalog) Close() error {
	err := c.stopWatcher()
	c.watchWg.Wait()
	return err
}

func (c *Catalog) stopWatcher() error {
	c.watchMu.Lock()
	watcher := c.watcher
	c.watcher = nil
	c.watchMu.Unlock()
	if watcher == nil {
		return nil
	}
	return watcher.Close()
}
