package manual

import (
	"encoding/json"
	"time"

	"github.com/verdant-labs/verdant/errors"
)

// EntryType classifies what kind of manual observation an entry records.
type EntryType string

const (
	EntryIntervention EntryType = "intervention"
	EntryObservation  EntryType = "observation"
	EntryQuickNote    EntryType = "quick_note"
	EntryMeasurement  EntryType = "measurement"
)

// IsValidEntryType reports whether t is a known entry type.
func IsValidEntryType(t EntryType) bool {
	switch t {
	case EntryIntervention, EntryObservation, EntryQuickNote, EntryMeasurement:
		return true
	}
	return false
}

// DefaultMaxSyncRetries bounds cross-device sync attempts before an entry is
// marked permanently failed.
const DefaultMaxSyncRetries = 3

// Validation carries completeness and conflict state for an entry.
// Entries with a non-empty ConflictsWith set always have HasErrors true.
type Validation struct {
	IsComplete    bool            `json:"is_complete"`
	HasErrors     bool            `json:"has_errors"`
	ConflictsWith map[string]bool `json:"conflicts_with,omitempty"`
	Issues        []string        `json:"issues,omitempty"`
}

// SyncState tracks cross-device propagation of an entry.
type SyncState struct {
	NeedsSync     bool            `json:"needs_sync"`
	SyncedDevices map[string]bool `json:"synced_devices,omitempty"`
	SyncAttempts  int             `json:"sync_attempts"`
	MaxRetries    int             `json:"max_retries"`
}

// Entry is a user-submitted observation from one device. Entries are created
// at collection time and mutated only by the conflict resolver; they are
// never deleted, only marked.
type Entry struct {
	ID          string          `json:"id"`
	DeviceID    string          `json:"device_id"`
	UserID      string          `json:"user_id"`
	EntryType   EntryType       `json:"entry_type"`
	Timestamp   time.Time       `json:"timestamp"`
	SubmittedAt time.Time       `json:"submitted_at"`
	ZoneID      string          `json:"zone_id,omitempty"`
	CultureID   string          `json:"culture_id,omitempty"`
	Data        json.RawMessage `json:"data,omitempty"`
	Confidence  float64         `json:"confidence"`
	Validation  Validation      `json:"validation"`
	Sync        SyncState       `json:"sync"`
}

// NewEntry builds an entry with sync defaults applied.
func NewEntry(id, deviceID, userID string, entryType EntryType, timestamp time.Time) (*Entry, error) {
	if id == "" {
		return nil, errors.New("entry id cannot be empty")
	}
	if deviceID == "" {
		return nil, errors.New("entry deviceID cannot be empty")
	}
	if !IsValidEntryType(entryType) {
		return nil, errors.Newf("invalid entry type: %s", entryType)
	}
	return &Entry{
		ID:          id,
		DeviceID:    deviceID,
		UserID:      userID,
		EntryType:   entryType,
		Timestamp:   timestamp,
		SubmittedAt: time.Now(),
		Confidence:  1.0,
		Validation:  Validation{IsComplete: true},
		Sync: SyncState{
			NeedsSync:     true,
			SyncedDevices: make(map[string]bool),
			MaxRetries:    DefaultMaxSyncRetries,
		},
	}, nil
}

// markConflict records that e lost a conflict against winnerID.
func (e *Entry) markConflict(winnerID string) {
	if e.Validation.ConflictsWith == nil {
		e.Validation.ConflictsWith = make(map[string]bool)
	}
	e.Validation.ConflictsWith[winnerID] = true
	e.Validation.HasErrors = true
	e.Validation.Issues = append(e.Validation.Issues, "Duplicate entry from different device")
}

// HasConflicts reports whether the resolver flagged this entry.
func (e *Entry) HasConflicts() bool {
	return len(e.Validation.ConflictsWith) > 0
}

// MarkSynced records a successful sync to deviceID and clears NeedsSync.
func (e *Entry) MarkSynced(deviceID string) {
	if e.Sync.SyncedDevices == nil {
		e.Sync.SyncedDevices = make(map[string]bool)
	}
	e.Sync.SyncedDevices[deviceID] = true
	e.Sync.NeedsSync = false
}

// RecordSyncFailure counts a failed sync attempt. Returns true while the
// entry is still eligible for retry.
func (e *Entry) RecordSyncFailure() bool {
	e.Sync.SyncAttempts++
	return !e.PermanentlyFailed()
}

// PermanentlyFailed reports whether the entry exhausted its sync retries.
func (e *Entry) PermanentlyFailed() bool {
	max := e.Sync.MaxRetries
	if max <= 0 {
		max = DefaultMaxSyncRetries
	}
	return e.Sync.SyncAttempts >= max
}
