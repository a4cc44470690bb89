package channel

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Channel owns one live Chunk Store plus the filesystem watch that feeds
// it.
type Channel struct {
	cfg     Config
	store   *ChunkStore
	watcher *fsnotify.Watcher
	logger  *slog.Logger
	done    chan struct{}
}

// New creates a channel, scans its <output>/ready tree for already-present
// files, and starts a watcher for future move-ins. The startup scan and
// the watcher share Channel.IngestFile, so a race between them can only
// double-report, never double-insert.
func New(cfg Config, logger *slog.Logger) (*Channel, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher for channel %s: %w", cfg.Name, err)
	}

	c := &Channel{
		cfg:    cfg,
		logger: logger.With("channel", cfg.Name),
		done:   make(chan struct{}),
	}
	c.store = NewChunkStore(cfg, c.onIngestError)
	c.watcher = watcher

	readyDir := filepath.Join(cfg.Output, "ready")
	dirs, err := watchedDirs(readyDir, cfg)
	if err != nil {
		watcher.Close()
		return nil, err
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			c.logger.Warn("failed to create watch directory", "dir", dir, "error", err)
			continue
		}
		if err := watcher.Add(dir); err != nil {
			c.logger.Warn("failed to watch directory, skipping", "dir", dir, "error", err)
			continue
		}
		if err := c.scanDir(dir); err != nil {
			c.logger.Warn("startup scan failed", "dir", dir, "error", err)
		}
	}

	go c.watchLoop()
	return c, nil
}

func watchedDirs(readyDir string, cfg Config) ([]string, error) {
	var dirs []string
	for _, vf := range cfg.VideoFormats {
		dirs = append(dirs, filepath.Join(readyDir, vf.String()))
		dirs = append(dirs, filepath.Join(readyDir, vf.String()+"-ssim"))
	}
	for _, af := range cfg.AudioFormats {
		dirs = append(dirs, filepath.Join(readyDir, af.String()))
	}
	return dirs, nil
}

func (c *Channel) scanDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		// Directory not created yet by the encoder pipeline; the watcher
		// will still pick up files once it appears, as long as Add
		// succeeded against a parent that exists. Missing leaf dirs are
		// not fatal at startup.
		return nil
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		c.IngestFile(filepath.Join(dir, e.Name()))
	}
	return nil
}

func (c *Channel) watchLoop() {
	for {
		select {
		case event, ok := <-c.watcher.Events:
			if !ok {
				return
			}
			// Only move-in (rename-into-directory) events admit a file;
			// fsnotify surfaces that as Create on the
			// destination watch when the source and destination share a
			// filesystem, and as Write when they don't (e.g. network
			// mounts performing copy+rename). Accept both; the shared
			// ingest function is idempotent.
			if event.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				c.IngestFile(event.Name)
			}
		case err, ok := <-c.watcher.Errors:
			if !ok {
				return
			}
			c.logger.Error("watcher error", "error", err)
		case <-c.done:
			return
		}
	}
}

func (c *Channel) onIngestError(path string, err error) {
	c.logger.Warn("ingest error, skipping file", "path", path, "error", err)
}

// Store returns the channel's Chunk Store.
func (c *Channel) Store() *ChunkStore { return c.store }

// Name returns the channel's configured name.
func (c *Channel) Name() string { return c.cfg.Name }

// Config returns the channel's static config.
func (c *Channel) Config() Config { return c.cfg }

// Close stops the watcher goroutine and releases its fsnotify handle.
func (c *Channel) Close() error {
	close(c.done)
	return c.watcher.Close()
}
