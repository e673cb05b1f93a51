package manual

import (
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/verdant-labs/verdant/collect"
)

// Conflict describes one resolved conflict set: multiple devices submitted
// the same kind of entry inside one time window.
type Conflict struct {
	GroupKey  string   `json:"group_key"`
	WinnerID  string   `json:"winner_id"`
	LoserIDs  []string `json:"loser_ids"`
	DeviceIDs []string `json:"device_ids"`
}

// Resolver detects and resolves duplicate entries submitted from different
// devices. Resolution is deterministic: the same entries and the same
// priority order always pick the same winners.
type Resolver struct {
	window  time.Duration
	emitter *collect.Emitter
	log     *zap.SugaredLogger
}

// NewResolver creates a resolver using the given conflict window. The
// emitter may be nil.
func NewResolver(window time.Duration, emitter *collect.Emitter, log *zap.SugaredLogger) *Resolver {
	if window <= 0 {
		window = 30 * time.Minute
	}
	return &Resolver{
		window:  window,
		emitter: emitter,
		log:     log.Named("resolver"),
	}
}

// identityKey groups entries that describe the same real-world action.
// Missing zone or culture collapses to the literal "none".
func identityKey(e *Entry) string {
	zone := e.ZoneID
	if zone == "" {
		zone = "none"
	}
	culture := e.CultureID
	if culture == "" {
		culture = "none"
	}
	return fmt.Sprintf("%s:%s:%s", e.EntryType, zone, culture)
}

// Resolve processes one sync cycle's entries. Entries are sorted by
// timestamp and partitioned into windows wherever the gap to the previous
// entry exceeds the configured window size; within a window, entries sharing
// an identity key and spanning more than one device form a conflict set. The
// highest-priority device wins (devices absent from priorityOrder rank last,
// earlier-listed devices first, ties keep timestamp order) and every loser
// is marked with the winner's id.
//
// Losing entries are mutated in place; the returned conflicts describe what
// was marked.
func (r *Resolver) Resolve(entries []*Entry, priorityOrder []string) []Conflict {
	if len(entries) < 2 {
		return nil
	}

	sorted := make([]*Entry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	rank := make(map[string]int, len(priorityOrder))
	for i, deviceID := range priorityOrder {
		rank[deviceID] = i
	}

	var conflicts []Conflict
	for _, window := range partitionWindows(sorted, r.window) {
		for _, key := range groupKeys(window) {
			group := groupByKey(window, key)
			if len(group) < 2 || distinctDevices(group) < 2 {
				continue
			}
			conflicts = append(conflicts, r.resolveGroup(key, group, rank, len(priorityOrder)))
		}
	}

	for _, c := range conflicts {
		r.log.Infow("Resolved cross-device conflict",
			"group_key", c.GroupKey,
			"winner", c.WinnerID,
			"losers", c.LoserIDs)
		if r.emitter != nil {
			r.emitter.Publish(collect.ConflictsDetected{GroupKey: c.GroupKey, DeviceIDs: c.DeviceIDs})
		}
	}
	return conflicts
}

// partitionWindows splits timestamp-sorted entries into windows. A new
// window starts whenever the gap to the previous entry exceeds window.
func partitionWindows(sorted []*Entry, window time.Duration) [][]*Entry {
	var out [][]*Entry
	var current []*Entry
	for i, e := range sorted {
		if i > 0 && e.Timestamp.Sub(sorted[i-1].Timestamp) > window {
			out = append(out, current)
			current = nil
		}
		current = append(current, e)
	}
	if len(current) > 0 {
		out = append(out, current)
	}
	return out
}

// groupKeys returns the identity keys present in a window, in first-seen
// order so resolution output is deterministic.
func groupKeys(window []*Entry) []string {
	seen := make(map[string]bool)
	var keys []string
	for _, e := range window {
		key := identityKey(e)
		if !seen[key] {
			seen[key] = true
			keys = append(keys, key)
		}
	}
	return keys
}

func groupByKey(window []*Entry, key string) []*Entry {
	var group []*Entry
	for _, e := range window {
		if identityKey(e) == key {
			group = append(group, e)
		}
	}
	return group
}

func distinctDevices(group []*Entry) int {
	devices := make(map[string]bool)
	for _, e := range group {
		devices[e.DeviceID] = true
	}
	return len(devices)
}

// resolveGroup picks the winner of one conflict set and marks the losers.
func (r *Resolver) resolveGroup(key string, group []*Entry, rank map[string]int, unknownRank int) Conflict {
	ordered := make([]*Entry, len(group))
	copy(ordered, group)
	sort.SliceStable(ordered, func(i, j int) bool {
		return deviceRank(ordered[i], rank, unknownRank) < deviceRank(ordered[j], rank, unknownRank)
	})

	winner := ordered[0]
	conflict := Conflict{GroupKey: key, WinnerID: winner.ID}

	deviceSeen := make(map[string]bool)
	for _, e := range group {
		if !deviceSeen[e.DeviceID] {
			deviceSeen[e.DeviceID] = true
			conflict.DeviceIDs = append(conflict.DeviceIDs, e.DeviceID)
		}
	}

	for _, loser := range ordered[1:] {
		loser.markConflict(winner.ID)
		conflict.LoserIDs = append(conflict.LoserIDs, loser.ID)
	}
	return conflict
}

func deviceRank(e *Entry, rank map[string]int, unknownRank int) int {
	if idx, ok := rank[e.DeviceID]; ok {
		return idx
	}
	return unknownRank
}
