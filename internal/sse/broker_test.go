package sse

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestSubscribeUnsubscribe(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()
	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients")
	}
	ch := b.Subscribe()
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client")
	}
	b.Unsubscribe(ch)
	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients after unsub")
	}
}

func TestPublishDelivery(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	b.Publish(Event{Type: "annotation.added", Data: map[string]string{"document": "corpus/a", "after": "T1\tP 0 1\ta"}})

	select {
	case msg := <-ch:
		s := string(msg)
		if !strings.Contains(s, "event: annotation.added") {
			t.Errorf("missing event type in %q", s)
		}
		if !strings.Contains(s, `"document":"corpus/a"`) {
			t.Errorf("missing data in %q", s)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func TestPublishDocumentEvent_ListThrottle(t *testing.T) {
	b := NewBroker(500 * time.Millisecond)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	b.PublishDocumentEvent("created", "a")
	b.PublishDocumentEvent("deleted", "b")
	b.PublishDocumentEvent("updated", "c")
	b.PublishDocumentEvent("renamed", "d")

	time.Sleep(50 * time.Millisecond)
	listCount := 0
	var docEvents []string
loop:
	for {
		select {
		case msg := <-ch:
			s := string(msg)
			if strings.Contains(s, "documents.changed") {
				listCount++
			} else {
				docEvents = append(docEvents, strings.Split(s, "\n")[1])
			}
		default:
			break loop
		}
	}

	want := []string{"event: document.created", "event: document.deleted", "event: document.updated"}
	if strings.Join(docEvents, ",") != strings.Join(want, ",") {
		t.Errorf("document events = %v, want %v", docEvents, want)
	}
	if listCount != 1 {
		t.Errorf("documents.changed = %d, want 1 (throttled)", listCount)
	}
}

func TestSubscribeDocument_Filters(t *testing.T) {
	b := NewBroker(time.Hour)
	defer b.Close()
	only := b.SubscribeDocument("corpus/a")
	defer b.Unsubscribe(only)
	all := b.Subscribe()
	defer b.Unsubscribe(all)

	b.Publish(Event{Type: "annotation.added", Data: map[string]string{"document": "corpus/b"}, Document: "corpus/b"})
	b.Publish(Event{Type: "annotation.deleted", Data: map[string]string{"document": "corpus/a"}, Document: "corpus/a"})
	b.PublishDocumentEvent("updated", "corpus/b")

	time.Sleep(50 * time.Millisecond)
	drain := func(ch chan []byte) []string {
		var out []string
		for {
			select {
			case msg := <-ch:
				out = append(out, string(msg))
			default:
				return out
			}
		}
	}

	got := drain(only)
	if len(got) != 1 || !strings.Contains(got[0], "event: annotation.deleted") {
		t.Errorf("filtered client got %q", got)
	}
	if n := len(drain(all)); n != 3 {
		t.Errorf("unfiltered client got %d events, want 3", n)
	}
}

func TestEventIDsIncrease(t *testing.T) {
	b := NewBroker(time.Hour)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	b.Publish(Event{Type: "x", Data: map[string]string{}})
	b.Publish(Event{Type: "y", Data: map[string]string{}})

	for _, want := range []string{"id: 1\n", "id: 2\n"} {
		select {
		case msg := <-ch:
			if !strings.HasPrefix(string(msg), want) {
				t.Errorf("message %q does not start with %q", msg, want)
			}
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for message")
		}
	}
}

func TestSSEHandler(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()

	// Start handler in background.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req := httptest.NewRequest(http.MethodGet, "/api/events", nil)
	req = req.WithContext(ctx)
	w := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		b.ServeHTTP(w, req)
		close(done)
	}()

	// Give handler time to subscribe.
	time.Sleep(50 * time.Millisecond)
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client from handler")
	}

	b.PublishDocumentEvent("updated", "x")
	time.Sleep(50 * time.Millisecond)

	// Cancel context to disconnect.
	cancel()
	<-done

	body := w.Body.String()
	if !strings.Contains(body, "event: document.updated") || !strings.Contains(body, `"document":"x"`) {
		t.Errorf("handler output missing event: %q", body)
	}

	// Client should be cleaned up.
	time.Sleep(50 * time.Millisecond)
	if b.ClientCount() != 0 {
		t.Errorf("client not cleaned up after disconnect")
	}
}

func TestPublishDropsOnFullBuffer(t *testing.T) {
	b := NewBroker(time.Second)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	// Fill buffer (capacity 64) and then one more should not block.
	for i := 0; i < 70; i++ {
		b.Publish(Event{Type: "test", Data: map[string]string{"i": "x"}})
	}
	// If we reach here without deadlock, the test passes.
}

func TestCloseClosesSubscribersAndStopsOperations(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	ch := b.Subscribe()
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client")
	}

	b.Close()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected subscriber channel to be closed")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for channel close")
	}

	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients after close")
	}

	// Should be safe no-op after close.
	b.Publish(Event{Type: "annotation.deleted", Data: map[string]string{"document": "x"}})
	b.PublishDocumentEvent("updated", "x")
}
