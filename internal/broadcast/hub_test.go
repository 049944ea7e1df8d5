package broadcast

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"fxgateway/models"
)

func dialTestHub(t *testing.T, hub *Hub) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(hub.Handler())
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("failed to dial hub: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func waitForClients(t *testing.T, hub *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() != n {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d clients, have %d", n, hub.ClientCount())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestBroadcastTickReachesClient(t *testing.T) {
	hub := NewHub("")
	hub.running = true
	defer hub.Stop()

	conn := dialTestHub(t, hub)
	waitForClients(t, hub, 1)

	tick := models.Tick{Instrument: "EUR/USD", Time: 42, Ask: 1.1001, Bid: 1.1000}
	hub.BroadcastTick(tick)

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("failed to read broadcast: %v", err)
	}

	var envelope struct {
		Type string      `json:"type"`
		Data models.Tick `json:"data"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil {
		t.Fatalf("failed to unmarshal broadcast: %v", err)
	}
	if envelope.Type != "tick" || envelope.Data.Instrument != "EUR/USD" || envelope.Data.Ask != 1.1001 {
		t.Fatalf("unexpected broadcast payload: %+v", envelope)
	}
}

func TestClientDisconnectIsNoticed(t *testing.T) {
	hub := NewHub("")
	hub.running = true
	defer hub.Stop()

	conn := dialTestHub(t, hub)
	waitForClients(t, hub, 1)

	_ = conn.Close()
	waitForClients(t, hub, 0)

	// Broadcasting with no clients must not block or panic.
	hub.BroadcastTick(models.Tick{Instrument: "EUR/USD", Time: 1, Ask: 1, Bid: 1})
}

func TestBroadcastWithMultipleClients(t *testing.T) {
	hub := NewHub("")
	hub.running = true
	defer hub.Stop()

	first := dialTestHub(t, hub)
	second := dialTestHub(t, hub)
	waitForClients(t, hub, 2)

	hub.BroadcastTick(models.Tick{Instrument: "GBP/USD", Time: 7, Ask: 1.25, Bid: 1.2498})

	for _, conn := range []*websocket.Conn{first, second} {
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, payload, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("client did not receive broadcast: %v", err)
		}
		if !strings.Contains(string(payload), "GBP/USD") {
			t.Fatalf("unexpected payload: %s", payload)
		}
	}
}
