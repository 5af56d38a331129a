// Package overlay owns the durable mapping of course id to locally-curated
// workflow flags. Fetched catalog records are ephemeral; the overlay is the
// only persistent state and must survive refreshes, partial views and
// malformed input.
package overlay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrImport marks a user-supplied overlay blob that failed structural
	// validation. The active store is left untouched.
	ErrImport = errors.New("overlay import failed")

	// ErrVersionConflict is returned by stores with optimistic concurrency
	// when the persisted version moved between Load and Save.
	ErrVersionConflict = errors.New("overlay version conflict")
)

// KnownFlags are the flags the current deployment edits. Persisted entries
// may carry additional flags; those are preserved verbatim on load, merge
// and save so a newer schema can round-trip through an older build.
var KnownFlags = []string{"published", "designed"}

// Flags is one overlay entry: a set of named booleans keyed by flag name.
type Flags map[string]bool

// NewFlags returns the synthesized default entry for an id with no
// persisted state: every known flag false. Defaults are never written to
// the store until first edited.
func NewFlags() Flags {
	f := make(Flags, len(KnownFlags))
	for _, name := range KnownFlags {
		f[name] = false
	}
	return f
}

// Clone returns an independent copy of the entry.
func (f Flags) Clone() Flags {
	if f == nil {
		return nil
	}
	out := make(Flags, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// Origin says how a loaded snapshot came to be. Absent and Corrupt both
// yield an empty mapping; callers warn differently for each.
type Origin string

const (
	OriginLoaded  Origin = "loaded"
	OriginAbsent  Origin = "absent"
	OriginCorrupt Origin = "corrupt"
)

// Snapshot is the full overlay mapping as read from (or destined for) a
// backing store. Version is the optimistic-concurrency stamp of stores
// that support one; the file store leaves it zero.
type Snapshot struct {
	Entries map[string]Flags
	Origin  Origin
	Version int64
}

// Store abstracts the single backing file/blob. Only this package reads or
// writes overlay state; everything else goes through Load, Merge and Save.
type Store interface {
	// Load never fails on malformed persisted state: an unreadable or
	// unparsable source yields an empty mapping with OriginCorrupt so the
	// tool keeps functioning. I/O setup errors unrelated to content (for
	// the postgres store, a dead connection) are still returned.
	Load(ctx context.Context) (Snapshot, error)

	// Save persists the full mapping atomically with respect to partial
	// writes. On success the snapshot's Version is advanced in place.
	Save(ctx context.Context, snap *Snapshot) error
}

// Merge combines an edited subset into a previous full mapping. The result
// starts as a copy of prev; entries present in edited replace their
// counterparts; everything else is carried through unchanged. This is what
// protects entries outside the currently filtered view.
func Merge(prev, edited map[string]Flags) map[string]Flags {
	out := make(map[string]Flags, len(prev)+len(edited))
	for id, f := range prev {
		out[id] = f.Clone()
	}
	for id, f := range edited {
		out[id] = f.Clone()
	}
	return out
}

// Decode parses a serialized overlay mapping. The shape is strict: a JSON
// object whose keys are stringified course ids and whose values are objects
// of named booleans. Anything else fails with ErrImport.
func Decode(blob []byte) (map[string]Flags, error) {
	var entries map[string]Flags
	if err := json.Unmarshal(blob, &entries); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrImport, err)
	}
	// A top-level null unmarshals into a nil map without an error. Letting
	// it through would make Import("null") wipe the store.
	if entries == nil {
		return nil, fmt.Errorf("%w: top-level value must be an object", ErrImport)
	}
	for id, f := range entries {
		if f == nil {
			entries[id] = Flags{}
		}
	}
	return entries, nil
}

// Encode serializes the full mapping in the persistence shape: pretty
// printed, keys in sorted order. Repeated calls over the same mapping are
// byte-identical, so an export doubles as a stable manual backup.
func Encode(entries map[string]Flags) ([]byte, error) {
	if entries == nil {
		entries = map[string]Flags{}
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode overlay: %w", err)
	}
	return data, nil
}
