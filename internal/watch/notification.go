// Package watch turns file-system activity into debounced change
// notifications for content files and the schema source.
package watch

import (
	"time"
)

// Op is the kind of change a notification reports.
type Op uint8

const (
	OpWrite Op = iota
	OpCreate
	OpRemove
)

func (o Op) String() string {
	switch o {
	case OpCreate:
		return "created"
	case OpRemove:
		return "deleted"
	default:
		return "updated"
	}
}

// Notification is one external change to a file. Path is relative to the
// watched root with forward slashes. Sum is empty for removals. At is when
// the change was observed.
type Notification struct {
	Path    string
	Sum     string
	ModTime time.Time
	Op      Op
	At      time.Time
}

// Coalesce collapses bursts of notifications for the same path. Events are
// taken in arrival order; an event that follows the previous one for its
// path by at most window replaces it. Each burst keeps the position of its
// first event and carries its last event.
func Coalesce(events []Notification, window time.Duration) []Notification {
	open := make(map[string]int)
	var out []Notification
	for _, ev := range events {
		if i, ok := open[ev.Path]; ok && ev.At.Sub(out[i].At) <= window {
			out[i] = ev
			continue
		}
		open[ev.Path] = len(out)
		out = append(out, ev)
	}
	return out
}
