// Package manualentry collects user-submitted entries from device inboxes
// and resolves cross-device conflicts once per sync cycle.
package manualentry

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/verdant-labs/verdant/collect"
	"github.com/verdant-labs/verdant/errors"
	"github.com/verdant-labs/verdant/manual"
)

// Batch is the payload for one sync cycle: the drained entries plus the
// conflicts the resolver found among them.
type Batch struct {
	Entries   []*manual.Entry   `json:"entries"`
	Conflicts []manual.Conflict `json:"conflicts,omitempty"`
}

// EntryStore persists entries across restarts. May be nil, in which case
// the inbox is memory-only.
type EntryStore interface {
	SaveEntry(ctx context.Context, e *manual.Entry) error
	ListUnsyncedEntries(ctx context.Context, limit int) ([]*manual.Entry, error)
}

// Collector is the device inbox. Devices submit entries at any time; each
// poll tick drains the inbox, runs conflict resolution, and advances sync
// state. Implements collect.Collector.
type Collector struct {
	resolver       *manual.Resolver
	devicePriority []string
	entries        EntryStore
	log            *zap.SugaredLogger

	mu         sync.Mutex
	inbox      []*manual.Entry
	submitted  int64
	cycles     int64
	conflicts  int64
	configured bool
}

// New creates a manual-entry collector. devicePriority lists device ids in
// trust order, most-trusted first. entries may be nil for a memory-only
// inbox.
func New(resolver *manual.Resolver, devicePriority []string, entries EntryStore, log *zap.SugaredLogger) *Collector {
	return &Collector{
		resolver:       resolver,
		devicePriority: devicePriority,
		entries:        entries,
		log:            log.Named("manualentry"),
	}
}

// Configure validates the collector's wiring and reloads any entries still
// awaiting sync from a previous run. No settings are required.
func (c *Collector) Configure(cfg collect.CollectorConfig) error {
	if c.resolver == nil {
		return errors.New("manualentry collector requires a conflict resolver")
	}

	var reloaded []*manual.Entry
	if c.entries != nil {
		var err error
		reloaded, err = c.entries.ListUnsyncedEntries(context.Background(), 0)
		if err != nil {
			return errors.Wrap(err, "reload unsynced entries")
		}
	}

	c.mu.Lock()
	c.inbox = append(reloaded, c.inbox...)
	c.configured = true
	c.mu.Unlock()

	if len(reloaded) > 0 {
		c.log.Infow("Reloaded unsynced entries", "count", len(reloaded))
	}
	return nil
}

// Submit adds an entry to the inbox for the next sync cycle.
func (c *Collector) Submit(entry *manual.Entry) error {
	if entry == nil {
		return errors.New("entry cannot be nil")
	}
	if !manual.IsValidEntryType(entry.EntryType) {
		return errors.Newf("invalid entry type: %s", entry.EntryType)
	}

	c.mu.Lock()
	c.inbox = append(c.inbox, entry)
	c.submitted++
	pending := len(c.inbox)
	c.mu.Unlock()

	c.log.Debugw("Entry submitted",
		"entry_id", entry.ID,
		"device_id", entry.DeviceID,
		"pending", pending)
	return nil
}

// Pending returns how many entries await the next sync cycle.
func (c *Collector) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.inbox)
}

// Collect drains the inbox, resolves conflicts, and marks sync state.
// Winning and conflict-free entries are marked synced; losing entries stay
// un-synced and consume a retry, until their retries are exhausted.
func (c *Collector) Collect(ctx context.Context, cfg collect.CollectorConfig) (*collect.CollectionResult, error) {
	c.mu.Lock()
	if !c.configured {
		c.mu.Unlock()
		return nil, errors.New("manualentry collector is not configured")
	}
	entries := c.inbox
	c.inbox = nil
	c.cycles++
	c.mu.Unlock()

	start := time.Now()
	conflicts := c.resolver.Resolve(entries, c.devicePriority)

	c.mu.Lock()
	c.conflicts += int64(len(conflicts))
	c.mu.Unlock()

	for _, e := range entries {
		if e.HasConflicts() {
			if !e.RecordSyncFailure() {
				c.log.Warnw("Entry permanently failed after retries",
					"entry_id", e.ID,
					"attempts", e.Sync.SyncAttempts)
			}
			continue
		}
		if e.Sync.NeedsSync {
			e.MarkSynced(e.DeviceID)
		}
	}

	c.persist(ctx, entries)

	payload, err := json.Marshal(Batch{Entries: entries, Conflicts: conflicts})
	if err != nil {
		return nil, errors.Wrap(err, "encode manual batch")
	}

	return &collect.CollectionResult{
		SourceID:     "manual-entries",
		SourceType:   collect.SourceManual,
		Timestamp:    time.Now(),
		PayloadKind:  collect.PayloadKindManualBatch,
		Payload:      payload,
		QualityScore: collect.Quality(1.0, completeness(entries), validity(entries)),
		Metadata: collect.ResultMetadata{
			SizeBytes: int64(len(payload)),
			Duration:  time.Since(start),
		},
	}, nil
}

// persist saves each entry's post-resolution state. Persistence failures
// are logged, not fatal; the batch result still carries the entries.
func (c *Collector) persist(ctx context.Context, entries []*manual.Entry) {
	if c.entries == nil {
		return
	}
	for _, e := range entries {
		if err := c.entries.SaveEntry(ctx, e); err != nil {
			c.log.Warnw("Failed to persist entry", "entry_id", e.ID, "error", err)
		}
	}
}

// completeness is the fraction of entries marked complete by validation.
// An empty cycle is complete by definition.
func completeness(entries []*manual.Entry) float64 {
	if len(entries) == 0 {
		return 1
	}
	complete := 0
	for _, e := range entries {
		if e.Validation.IsComplete {
			complete++
		}
	}
	return float64(complete) / float64(len(entries))
}

// validity is the fraction of entries without validation errors.
func validity(entries []*manual.Entry) float64 {
	if len(entries) == 0 {
		return 1
	}
	valid := 0
	for _, e := range entries {
		if !e.Validation.HasErrors {
			valid++
		}
	}
	return float64(valid) / float64(len(entries))
}

// Disconnect is a no-op; the inbox lives in memory.
func (c *Collector) Disconnect() error { return nil }

// IsHealthy reports whether the collector is wired and configured.
func (c *Collector) IsHealthy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.configured
}

// HealthStatus reports inbox state.
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
		"submitted":   c.submitted,
		"sync_cycles": c.cycles,
		"conflicts":   c.conflicts,
		"pending":     len(c.inbox),
	}
}
