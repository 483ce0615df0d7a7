package session

import (
	"fmt"
	"time"

	"github.com/starford/folio/internal/apperr"
	"github.com/starford/folio/internal/form"
	"github.com/starford/folio/internal/meta"
)

// State is the synchronization state of an open document.
type State uint8

const (
	// StateClean means memory matches the last known disk content.
	StateClean State = iota
	// StateDirty means an edit is pending.
	StateDirty
	// StateSaving means a write is in flight.
	StateSaving
	// StateConflictPending means the file changed on disk while edits
	// were pending. Nothing is written until the caller resolves it.
	StateConflictPending
	// StateClosed is terminal.
	StateClosed
)

var stateNames = [...]string{"clean", "dirty", "saving", "conflict", "closed"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", s)
}

// MarshalText renders the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name.
func (s *State) UnmarshalText(b []byte) error {
	for i, name := range stateNames {
		if name == string(b) {
			*s = State(i)
			return nil
		}
	}
	return fmt.Errorf("session: unknown state %q", b)
}

// EventKind classifies session events.
type EventKind string

const (
	EventState      EventKind = "state"
	EventSaved      EventKind = "saved"
	EventSaveFailed EventKind = "save_failed"
	EventReconciled EventKind = "reconciled"
	EventReloaded   EventKind = "reloaded"
	EventConflict   EventKind = "conflict"
	EventDeleted    EventKind = "deleted"
	EventClosed     EventKind = "closed"
)

// Event is emitted from the session loop. Handlers run on that loop and
// must not call back into the session.
type Event struct {
	Kind  EventKind `json:"kind"`
	Path  string    `json:"path"`
	State State     `json:"state"`
	Err   error     `json:"-"`
}

// Resolution picks how a conflict is settled.
type Resolution uint8

const (
	// KeepMine keeps the in-memory version; the next save overwrites disk.
	KeepMine Resolution = iota
	// TakeTheirs discards pending edits and loads the disk version.
	TakeTheirs
	// Merge combines both versions key by key against the last synced
	// metadata. Keys changed on both sides keep the in-memory value.
	Merge
)

// ParseResolution maps a name to a Resolution.
func ParseResolution(s string) (Resolution, error) {
	switch s {
	case "keep_mine", "mine":
		return KeepMine, nil
	case "take_theirs", "theirs":
		return TakeTheirs, nil
	case "merge":
		return Merge, nil
	}
	return KeepMine, fmt.Errorf("session: unknown resolution %q", s)
}

// Entry is a point-in-time copy of an open document.
type Entry struct {
	Path       string    `json:"path"`
	Collection string    `json:"collection,omitempty"`
	State      State     `json:"state"`
	// Meta is nil while the form holds a hard validation failure.
	Meta        *meta.Map              `json:"meta"`
	Body        string                 `json:"body"`
	Unknown     []string               `json:"unknown,omitempty"`
	SyncedSum   string                 `json:"synced_sum"`
	SyncedAt    time.Time              `json:"synced_at"`
	DecodeError string                 `json:"decode_error,omitempty"`
	Errors      []form.ValidationError `json:"errors,omitempty"`
}

// Dirty reports whether memory differs from the last synced disk content.
func (e Entry) Dirty() bool {
	return e.State == StateDirty || e.State == StateConflictPending
}

// Version is one side of a conflict.
type Version struct {
	Text    string    `json:"text"`
	Meta    *meta.Map `json:"meta"`
	Body    string    `json:"body"`
	Sum     string    `json:"sum,omitempty"`
	Deleted bool      `json:"deleted,omitempty"`
}

// Conflict exposes both versions of a conflicted document.
type Conflict struct {
	Mine   Version `json:"mine"`
	Theirs Version `json:"theirs"`
}

// FormView is a copy of the form for readers outside the session loop.
type FormView struct {
	Collection string                 `json:"collection,omitempty"`
	Fields     []*form.FieldState     `json:"fields"`
	Errors     []form.ValidationError `json:"errors,omitempty"`
	Valid      bool                   `json:"valid"`
}

// SaveError reports a failed write. The document stays dirty.
type SaveError struct {
	Path string
	Err  error
}

func (e *SaveError) Error() string {
	return fmt.Sprintf("session: save %s: %v", e.Path, e.Err)
}

func (e *SaveError) Unwrap() []error { return []error{apperr.ErrSave, e.Err} }
