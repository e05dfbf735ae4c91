package dashboard

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"testing"
	"time"

	"github.com/coder/websocket"

	storesync "github.com/kaoslabsinc/remote-resources/internal/store/sync"
)

func startServer(t *testing.T) *Server {
	t.Helper()
	server := NewServer(&Config{
		Host:   "127.0.0.1",
		Port:   0, // random available port
		Logger: log.New(io.Discard, "", 0),
	})
	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	t.Cleanup(func() { server.Stop() })
	return server
}

func dial(t *testing.T, ctx context.Context, server *Server) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.Dial(ctx, "ws://"+server.Addr()+"/ws", nil)
	if err != nil {
		t.Fatalf("Failed to connect WebSocket: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func readMessage(t *testing.T, ctx context.Context, conn *websocket.Conn) Message {
	t.Helper()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Failed to read message: %v", err)
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("Failed to unmarshal message: %v", err)
	}
	return msg
}

func waitForClients(t *testing.T, server *Server, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for server.ClientCount() != n {
		if time.Now().After(deadline) {
			t.Fatalf("Expected %d clients, got %d", n, server.ClientCount())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestServerStartStop(t *testing.T) {
	server := NewServer(&Config{Host: "127.0.0.1", Port: 0, Logger: log.New(io.Discard, "", 0)})
	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	if addr := server.Addr(); addr == "" || addr == "127.0.0.1:0" {
		t.Errorf("Addr() = %q, want the bound address", addr)
	}
	if err := server.Stop(); err != nil {
		t.Fatalf("Failed to stop server: %v", err)
	}
}

func TestHealth(t *testing.T) {
	server := startServer(t)

	resp, err := http.Get("http://" + server.Addr() + "/health")
	if err != nil {
		t.Fatalf("GET /health failed: %v", err)
	}
	defer resp.Body.Close()

	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("Failed to decode health: %v", err)
	}
	if body["status"] != "ok" || body["clients"] != float64(0) {
		t.Errorf("health = %v", body)
	}
}

func TestWebSocket_WelcomeAndEvents(t *testing.T) {
	server := startServer(t)
	handler := NewHandler(server, log.New(io.Discard, "", 0))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn := dial(t, ctx, server)

	if msg := readMessage(t, ctx, conn); msg.Type != MessageTypeStats {
		t.Errorf("Expected welcome message type %s, got %s", MessageTypeStats, msg.Type)
	}
	waitForClients(t, server, 1)

	handler.Observe(storesync.Event{Kind: storesync.EventRunStarted, RunID: "run-1", Resource: "posts"})
	handler.Observe(storesync.Event{Kind: storesync.EventPageCommitted, RunID: "run-1", Resource: "posts", Page: 1, Inserted: 3})
	handler.Observe(storesync.Event{Kind: storesync.EventRunFinished, RunID: "run-1", Resource: "posts", Page: 1, Inserted: 3})

	var kinds []storesync.EventKind
	for range 3 {
		msg := readMessage(t, ctx, conn)
		if msg.Type != MessageTypeSyncEvent {
			t.Fatalf("Expected %s, got %s", MessageTypeSyncEvent, msg.Type)
		}
		var e storesync.Event
		if err := json.Unmarshal(msg.Data, &e); err != nil {
			t.Fatalf("Failed to unmarshal event: %v", err)
		}
		kinds = append(kinds, e.Kind)
	}
	want := []storesync.EventKind{storesync.EventRunStarted, storesync.EventPageCommitted, storesync.EventRunFinished}
	for i := range want {
		if kinds[i] != want[i] {
			t.Errorf("event %d = %s, want %s", i, kinds[i], want[i])
		}
	}

	msg := readMessage(t, ctx, conn)
	if msg.Type != MessageTypeStats {
		t.Fatalf("Expected stats after run_finished, got %s", msg.Type)
	}
	var stats StatsData
	if err := json.Unmarshal(msg.Data, &stats); err != nil {
		t.Fatalf("Failed to unmarshal stats: %v", err)
	}
	if stats.Runs != 1 || stats.Pages != 1 || stats.Inserted != 3 || stats.LastRunID != "run-1" {
		t.Errorf("stats = %+v", stats)
	}
}

func TestMultipleClients(t *testing.T) {
	server := startServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conns := []*websocket.Conn{dial(t, ctx, server), dial(t, ctx, server)}
	for _, c := range conns {
		readMessage(t, ctx, c)
	}
	waitForClients(t, server, 2)

	server.Broadcast(Message{Type: MessageTypeSyncEvent, Data: json.RawMessage(`{"kind":"cache_refreshed"}`)})
	for i, c := range conns {
		if msg := readMessage(t, ctx, c); msg.Type != MessageTypeSyncEvent || msg.Timestamp.IsZero() {
			t.Errorf("client %d got %+v", i, msg)
		}
	}

	conns[0].Close(websocket.StatusNormalClosure, "")
	waitForClients(t, server, 1)
}

func TestHandler_Stats(t *testing.T) {
	server := NewServer(&Config{Logger: log.New(io.Discard, "", 0)})
	h := NewHandler(server, log.New(io.Discard, "", 0))

	events := []storesync.Event{
		{Kind: storesync.EventRunStarted, RunID: "a"},
		{Kind: storesync.EventPageCommitted, Inserted: 2, Updated: 1},
		{Kind: storesync.EventPageCommitted, Inserted: 1},
		{Kind: storesync.EventRunFinished, Error: "boom"},
		{Kind: storesync.EventBatchCommitted, Page: 1, Rows: 2, Total: 5},
		{Kind: storesync.EventBatchCommitted, Page: 2, Rows: 4, Total: 5},
		{Kind: storesync.EventBatchCommitted, Page: 1, Rows: 1, Total: 1},
		{Kind: storesync.EventCacheRefreshed, Rows: 10},
	}
	for _, e := range events {
		h.record(e)
	}

	got := h.Stats()
	want := StatsData{Runs: 1, FailedRuns: 1, Pages: 2, Inserted: 3, Updated: 1, ItemsProcessed: 5, CacheRefreshes: 1, LastRunID: "a"}
	if got != want {
		t.Errorf("Stats() = %+v, want %+v", got, want)
	}
}

func TestStop_DisconnectsWatchers(t *testing.T) {
	server := NewServer(&Config{Host: "127.0.0.1", Logger: log.New(io.Discard, "", 0)})
	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := dial(t, ctx, server)
	readMessage(t, ctx, conn)
	waitForClients(t, server, 1)

	closed := make(chan error, 1)
	go func() {
		_, _, err := conn.Read(ctx)
		closed <- err
	}()

	if err := server.Stop(); err != nil {
		t.Fatalf("Failed to stop server: %v", err)
	}
	if n := server.ClientCount(); n != 0 {
		t.Errorf("ClientCount() after Stop = %d, want 0", n)
	}
	select {
	case err := <-closed:
		if err == nil {
			t.Error("Expected the watcher connection to end after Stop")
		}
	case <-ctx.Done():
		t.Fatal("Watcher connection still open after Stop")
	}

	// Broadcasting after Stop must not block.
	for range queueSize + 1 {
		server.Broadcast(Message{Type: MessageTypeSyncEvent})
	}
}
