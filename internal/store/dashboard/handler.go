package dashboard

import (
	"encoding/json"
	"log"
	"os"
	"sync"
	"time"

	storesync "github.com/kaoslabsinc/remote-resources/internal/store/sync"
)

// StatsData contains running sync totals since the handler started
type StatsData struct {
	Runs           int       `json:"runs"`
	FailedRuns     int       `json:"failed_runs"`
	Pages          int       `json:"pages"`
	Inserted       int       `json:"inserted"`
	Updated        int       `json:"updated"`
	ItemsProcessed int64     `json:"items_processed"`
	CacheRefreshes int       `json:"cache_refreshes"`
	LastRunID      string    `json:"last_run_id,omitempty"`
	LastEventAt    time.Time `json:"last_event_at,omitempty"`
}

// Handler observes sync events and broadcasts them as dashboard messages.
type Handler struct {
	server *Server
	logger *log.Logger

	mu        sync.Mutex
	stats     StatsData
	committed int64
}

var _ storesync.Observer = (*Handler)(nil)

// NewHandler creates a handler connected to a dashboard server. New clients
// are greeted with the current totals.
func NewHandler(server *Server, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.New(os.Stderr, "[dashboard] ", log.LstdFlags)
	}
	h := &Handler{server: server, logger: logger}
	server.SetWelcome(h.statsMessage)
	return h
}

// Observe implements sync.Observer.
func (h *Handler) Observe(e storesync.Event) {
	h.record(e)

	data, err := json.Marshal(e)
	if err != nil {
		h.logger.Printf("Failed to marshal event: %v", err)
		return
	}
	h.server.Broadcast(Message{Type: MessageTypeSyncEvent, Timestamp: e.Time, Data: data})

	switch e.Kind {
	case storesync.EventRunFinished, storesync.EventBatchCommitted, storesync.EventCacheRefreshed:
		h.server.Broadcast(h.statsMessage())
	}
}

func (h *Handler) record(e storesync.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.stats.LastEventAt = e.Time
	switch e.Kind {
	case storesync.EventRunStarted:
		h.stats.Runs++
		h.stats.LastRunID = e.RunID
	case storesync.EventPageCommitted:
		h.stats.Pages++
		h.stats.Inserted += e.Inserted
		h.stats.Updated += e.Updated
	case storesync.EventRunFinished:
		if e.Error != "" {
			h.stats.FailedRuns++
		}
	case storesync.EventBatchCommitted:
		// Rows is cumulative within one Process call; Page is the batch
		if e.Page == 1 {
			h.committed = 0
		}
		h.stats.ItemsProcessed += e.Rows - h.committed
		h.committed = e.Rows
	case storesync.EventCacheRefreshed:
		h.stats.CacheRefreshes++
	}
}

// Stats returns a copy of the running totals.
func (h *Handler) Stats() StatsData {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stats
}

func (h *Handler) statsMessage() Message {
	data, err := json.Marshal(h.Stats())
	if err != nil {
		h.logger.Printf("Failed to marshal stats: %v", err)
	}
	return Message{Type: MessageTypeStats, Timestamp: time.Now(), Data: data}
}
