package movelog

import (
	"time"

	"wikimoves/internal/mediawiki"
)

const DefaultSpan = 7 * 24 * time.Hour

// MoveEvent is one page rename taken from the primary wiki's move log.
type MoveEvent struct {
	LogID     int64     `json:"logId"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Timestamp time.Time `json:"timestamp"`
	Comment   string    `json:"comment,omitempty"`
	User      string    `json:"user,omitempty"`
}

// Window is scanned backwards, from Start (newest) down to End (oldest).
// Both ends are inclusive.
type Window struct {
	Start time.Time
	End   time.Time
}

func NewWindow(now time.Time, span time.Duration) Window {
	if span <= 0 {
		span = DefaultSpan
	}
	now = now.UTC().Truncate(time.Second)
	return Window{Start: now, End: now.Add(-span)}
}

func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.End) && !t.After(w.Start)
}

func fromRaw(e mediawiki.LogEvent) (MoveEvent, bool) {
	if e.Title == "" || e.Params.TargetTitle == "" {
		return MoveEvent{}, false
	}
	ts, err := time.Parse(time.RFC3339, e.Timestamp)
	if err != nil {
		return MoveEvent{}, false
	}
	return MoveEvent{
		LogID:     e.LogID,
		From:      e.Title,
		To:        e.Params.TargetTitle,
		Timestamp: ts.UTC(),
		Comment:   e.Comment,
		User:      e.User,
	}, true
}
