package websocket

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/dukerupert/mealmood/internal/model"
)

// mockClient creates a Client with a send channel but no real connection.
func mockClient(hub *Hub, owner int64) *Client {
	return &Client{
		hub:   hub,
		conn:  nil,
		owner: owner,
		send:  make(chan []byte, sendBufferSize),
	}
}

func TestRegisterUnregister(t *testing.T) {
	hub := NewHub(slog.Default())
	c1 := mockClient(hub, 1)
	c2 := mockClient(hub, 2)

	hub.Register(c1)
	hub.Register(c2)
	if got := hub.ClientCount(); got != 2 {
		t.Fatalf("expected 2 clients, got %d", got)
	}

	hub.Unregister(c1)
	if got := hub.ClientCount(); got != 1 {
		t.Fatalf("expected 1 client after unregister, got %d", got)
	}

	hub.Unregister(c2)
	if got := hub.ClientCount(); got != 0 {
		t.Fatalf("expected 0 clients, got %d", got)
	}
}

func TestDoubleUnregister(t *testing.T) {
	hub := NewHub(slog.Default())
	c := mockClient(hub, 1)
	hub.Register(c)
	hub.Unregister(c)
	// Should not panic
	hub.Unregister(c)
	if got := hub.ClientCount(); got != 0 {
		t.Fatalf("expected 0 clients, got %d", got)
	}
}

func TestSendOnlyReachesOwner(t *testing.T) {
	hub := NewHub(slog.Default())
	mine1 := mockClient(hub, 1)
	mine2 := mockClient(hub, 1)
	theirs := mockClient(hub, 2)
	for _, c := range []*Client{mine1, mine2, theirs} {
		hub.Register(c)
	}

	hub.EntryChanged(1, "macros_edited", &model.Entry{ID: "abc", Totals: model.MacroTotals{Calories: 999}})

	for _, c := range []*Client{mine1, mine2} {
		select {
		case data := <-c.send:
			var got Message
			if err := json.Unmarshal(data, &got); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if got.Type != "entry" {
				t.Errorf("type = %q, want %q", got.Type, "entry")
			}
			if got.Action != "macros_edited" {
				t.Errorf("action = %q, want %q", got.Action, "macros_edited")
			}
			if got.ID != "abc" {
				t.Errorf("id = %q, want %q", got.ID, "abc")
			}
			if got.Entry == nil || got.Entry.Totals.Calories != 999 {
				t.Errorf("entry = %+v, want calories 999", got.Entry)
			}
		case <-time.After(100 * time.Millisecond):
			t.Fatal("timeout waiting for message")
		}
	}

	select {
	case <-theirs.send:
		t.Error("another owner's client received the message")
	default:
	}
}

func TestSendNoClients(t *testing.T) {
	hub := NewHub(slog.Default())
	// Should not panic
	hub.Send(1, NewMessage("deleted", &model.Entry{ID: "x"}))
}

func TestSendFullBuffer(t *testing.T) {
	hub := NewHub(slog.Default())
	c := mockClient(hub, 1)
	hub.Register(c)

	// Fill the send buffer
	for i := 0; i < sendBufferSize; i++ {
		hub.Send(1, NewMessage("text_edited", nil))
	}

	// This should drop the message, not panic or block
	hub.Send(1, NewMessage("dropped", nil))

	count := 0
	for len(c.send) > 0 {
		<-c.send
		count++
	}
	if count != sendBufferSize {
		t.Errorf("expected %d messages, got %d", sendBufferSize, count)
	}

	hub.Unregister(c)
}

func TestNewMessage(t *testing.T) {
	msg := NewMessage("reanalyzed", &model.Entry{ID: "e1"})
	if msg.Type != "entry" {
		t.Errorf("expected type entry, got %s", msg.Type)
	}
	if msg.Action != "reanalyzed" {
		t.Errorf("expected action reanalyzed, got %s", msg.Action)
	}
	if msg.ID != "e1" {
		t.Errorf("expected id e1, got %s", msg.ID)
	}
}

func TestCloseAll(t *testing.T) {
	hub := NewHub(slog.Default())
	clients := []*Client{mockClient(hub, 1), mockClient(hub, 1), mockClient(hub, 2)}
	for _, c := range clients {
		hub.Register(c)
	}

	hub.CloseAll()

	if got := hub.ClientCount(); got != 0 {
		t.Fatalf("expected 0 clients, got %d", got)
	}
	for _, c := range clients {
		if _, ok := <-c.send; ok {
			t.Error("expected send channel to be closed")
		}
	}
}

func TestConcurrentAccess(t *testing.T) {
	hub := NewHub(slog.Default())
	var wg sync.WaitGroup

	// Spawn goroutines that register, send, and unregister concurrently
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(owner int64) {
			defer wg.Done()
			c := mockClient(hub, owner)
			hub.Register(c)
			hub.Send(owner, NewMessage("text_edited", nil))
			// Drain any messages
			for {
				select {
				case <-c.send:
				default:
					hub.Unregister(c)
					return
				}
			}
		}(int64(i % 3))
	}

	wg.Wait()
	if got := hub.ClientCount(); got != 0 {
		t.Errorf("expected 0 clients after concurrent test, got %d", got)
	}
}

func TestHandleWebSocketRequiresUser(t *testing.T) {
	hub := NewHub(slog.Default())
	req := httptest.NewRequest("GET", "/ws", nil)
	rec := httptest.NewRecorder()

	HandleWebSocket(hub)(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestOnCountChange(t *testing.T) {
	hub := NewHub(slog.Default())
	var counts []int
	hub.OnCountChange(func(n int) { counts = append(counts, n) })

	c1 := mockClient(hub, 1)
	c2 := mockClient(hub, 1)
	hub.Register(c1)
	hub.Register(c2)
	hub.Register(c2)
	hub.Unregister(c1)
	hub.CloseAll()

	want := []int{1, 2, 1, 0}
	if len(counts) != len(want) {
		t.Fatalf("counts = %v, want %v", counts, want)
	}
	for i := range want {
		if counts[i] != want[i] {
			t.Fatalf("counts = %v, want %v", counts, want)
		}
	}
}
