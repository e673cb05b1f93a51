// Package photo watches a directory for new image files and batches them
// per poll tick.
package photo

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/verdant-labs/verdant/collect"
	"github.com/verdant-labs/verdant/errors"
)

// File describes one photo discovered since the previous poll.
type File struct {
	Path       string    `json:"path"`
	SizeBytes  int64     `json:"size_bytes"`
	ModifiedAt time.Time `json:"modified_at"`
}

// Batch is the payload for one poll tick.
type Batch struct {
	WatchDir string `json:"watch_dir"`
	Files    []File `json:"files"`
}

var imageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".heic": true,
	".webp": true,
}

// Collector buffers filesystem events between polls; Collect drains the
// buffer into one batch. Implements collect.Collector.
type Collector struct {
	log *zap.SugaredLogger

	mu       sync.Mutex
	watchDir string
	watcher  *fsnotify.Watcher
	pending  map[string]bool // path set, deduped across events
	events   int64
	batches  int64
	done     chan struct{}
}

// New creates an unconfigured photo collector.
func New(log *zap.SugaredLogger) *Collector {
	return &Collector{
		log:     log.Named("photo"),
		pending: make(map[string]bool),
	}
}

// Configure starts watching the directory in settings key "watch_dir".
// Reconfiguring replaces the watcher.
func (c *Collector) Configure(cfg collect.CollectorConfig) error {
	dir := cfg.Settings["watch_dir"]
	if dir == "" {
		return errors.WithHint(
			errors.New("photo collector requires watch_dir setting"),
			"set collection.photo.watch_dir in verdant.toml")
	}
	info, err := os.Stat(dir)
	if err != nil {
		return errors.Wrapf(err, "watch_dir %s", dir)
	}
	if !info.IsDir() {
		return errors.Newf("watch_dir is not a directory: %s", dir)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "create filesystem watcher")
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return errors.Wrapf(err, "watch %s", dir)
	}

	c.mu.Lock()
	c.closeWatcherLocked()
	c.watchDir = dir
	c.watcher = watcher
	c.done = make(chan struct{})
	done := c.done
	c.mu.Unlock()

	go c.watchLoop(watcher, done)
	return nil
}

// watchLoop buffers create/write events until the next poll drains them.
func (c *Collector) watchLoop(watcher *fsnotify.Watcher, done chan struct{}) {
	for {
		select {
		case <-done:
			return
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			c.mu.Lock()
			c.pending[ev.Name] = true
			c.events++
			c.mu.Unlock()
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			c.log.Warnw("Watcher error", "error", err)
		}
	}
}

// Collect drains the pending file buffer into one batch. An empty batch is a
// valid result: no new photos since the last poll.
func (c *Collector) Collect(ctx context.Context, cfg collect.CollectorConfig) (*collect.CollectionResult, error) {
	c.mu.Lock()
	if c.watcher == nil {
		c.mu.Unlock()
		return nil, errors.New("photo collector is not configured")
	}
	dir := c.watchDir
	paths := make([]string, 0, len(c.pending))
	for p := range c.pending {
		paths = append(paths, p)
	}
	c.pending = make(map[string]bool)
	c.batches++
	c.mu.Unlock()

	start := time.Now()
	batch := Batch{WatchDir: dir}
	statted, images := 0, 0
	var totalSize int64
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			continue // deleted between event and poll
		}
		statted++
		if imageExtensions[strings.ToLower(filepath.Ext(p))] {
			images++
		}
		batch.Files = append(batch.Files, File{
			Path:       p,
			SizeBytes:  info.Size(),
			ModifiedAt: info.ModTime(),
		})
		totalSize += info.Size()
	}

	payload, err := json.Marshal(batch)
	if err != nil {
		return nil, errors.Wrap(err, "encode photo batch")
	}

	completeness, validity := 1.0, 1.0
	if len(paths) > 0 {
		completeness = float64(statted) / float64(len(paths))
		if statted > 0 {
			validity = float64(images) / float64(statted)
		} else {
			validity = 0
		}
	}

	return &collect.CollectionResult{
		SourceID:     dir,
		SourceType:   collect.SourcePhoto,
		Timestamp:    time.Now(),
		PayloadKind:  collect.PayloadKindPhotoBatch,
		Payload:      payload,
		QualityScore: collect.Quality(1.0, completeness, validity),
		Metadata: collect.ResultMetadata{
			SizeBytes: totalSize,
			Duration:  time.Since(start),
		},
	}, nil
}

// closeWatcherLocked stops the active watcher. REQUIRES: c.mu held.
func (c *Collector) closeWatcherLocked() {
	if c.watcher != nil {
		close(c.done)
		c.watcher.Close()
		c.watcher = nil
	}
}

// Disconnect stops the filesystem watcher.
func (c *Collector) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeWatcherLocked()
	return nil
}

// IsHealthy reports whether a watcher is active.
func (c *Collector) IsHealthy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.watcher != nil
}

// HealthStatus reports watcher state; the watcher either runs or it doesn't.
func (c *Collector) HealthStatus() collect.HealthStatus {
	healthy := c.IsHealthy()
	rate := 0.0
	if healthy {
		rate = 1.0
	}
	return collect.HealthStatus{Healthy: healthy, SuccessRate: rate}
}

// Metrics returns per-collector counters.
func (c *Collector) Metrics() map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return map[string]any{
		"filesystem_events": c.events,
		"batches":           c.batches,
		"pending_files":     len(c.pending),
	}
}
