package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestPublishNeverBlocksWhileDisconnected(t *testing.T) {
	c := New("ws://127.0.0.1:1/relay", time.Second) // nothing listens here

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < queueSize*3; i++ {
			c.Publish(map[string]string{"n": "x"})
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Publish blocked while disconnected")
	}
}

func TestDisabledClientDropsEverything(t *testing.T) {
	c := New("", time.Second)
	if c.Enabled() {
		t.Fatalf("empty URL should disable the client")
	}
	if c.Publish("event") {
		t.Fatalf("disabled client should report drops")
	}
}

func TestRunDeliversQueuedEvents(t *testing.T) {
	received := make(chan map[string]string, 1)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var msg map[string]string
		if json.Unmarshal(raw, &msg) == nil {
			received <- msg
		}
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	c := New(url, 100*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	if !c.Publish(map[string]string{"type": "notification", "message": "hi"}) {
		t.Fatalf("Publish should queue while connecting")
	}

	select {
	case msg := <-received:
		if msg["message"] != "hi" {
			t.Fatalf("relay received %v", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("queued event never reached the relay")
	}
}
