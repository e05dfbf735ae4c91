package sync

import "time"

// EventKind names a step of a sync.
type EventKind string

const (
	EventRunStarted     EventKind = "run_started"
	EventPageCommitted  EventKind = "page_committed"
	EventRunFinished    EventKind = "run_finished"
	EventBatchCommitted EventKind = "batch_committed"
	EventCacheRefreshed EventKind = "cache_refreshed"
)

// Event reports the progress of a sync to observers.
type Event struct {
	Kind     EventKind `json:"kind"`
	RunID    string    `json:"run_id,omitempty"`
	Resource string    `json:"resource,omitempty"`
	Mode     string    `json:"mode,omitempty"`
	Page     int       `json:"page,omitempty"`
	Inserted int       `json:"inserted,omitempty"`
	Updated  int       `json:"updated,omitempty"`
	Rows     int64     `json:"rows,omitempty"`
	Total    int       `json:"total,omitempty"`
	Error    string    `json:"error,omitempty"`
	Time     time.Time `json:"time"`
}

// Observer receives sync events. Observe is called synchronously from the
// syncing goroutine and must not block.
type Observer interface {
	Observe(e Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(e Event)

func (f ObserverFunc) Observe(e Event) { f(e) }

type observers []Observer

func (os observers) emit(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}
	for _, o := range os {
		o.Observe(e)
	}
}
