package websocket

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jogardn/delivery-tracker/pkg/models"
	"github.com/sirupsen/logrus"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

type rawMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// readUntil reads frames until one contains a message of type want.
func readUntil(t *testing.T, conn *websocket.Conn, want string) rawMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("Failed waiting for %s: %v", want, err)
		}
		for _, line := range bytes.Split(data, []byte{'\n'}) {
			var msg rawMessage
			if err := json.Unmarshal(line, &msg); err != nil {
				t.Fatalf("Invalid message %s: %v", line, err)
			}
			if msg.Type == want {
				return msg
			}
		}
	}
}

func TestHubReplaysAndBroadcasts(t *testing.T) {
	hub := NewHub(testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	server := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	defer server.Close()

	if hub.Ready() {
		t.Fatal("Expected hub not to be ready without clients")
	}

	hub.RenderMap([]models.Marker{
		{Kind: models.MarkerPickup, Location: models.Location{Lat: 1, Lng: 2}},
	}, &models.Route{Polyline: "abc", DistanceMeters: 100})
	time.Sleep(20 * time.Millisecond)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http"), nil)
	if err != nil {
		t.Fatalf("Failed to dial: %v", err)
	}
	defer conn.Close()

	replayed := readUntil(t, conn, TypeMapUpdate)
	var update MapUpdate
	if err := json.Unmarshal(replayed.Data, &update); err != nil {
		t.Fatalf("Invalid map update: %v", err)
	}
	if update.Polyline != "abc" || len(update.Markers) != 1 || update.Markers[0].Kind != models.MarkerPickup {
		t.Errorf("Unexpected map update %+v", update)
	}
	if !hub.Ready() {
		t.Error("Expected hub to be ready with a client attached")
	}

	hub.PublishState(map[string]string{"view": "active"})
	state := readUntil(t, conn, TypeState)
	if !strings.Contains(string(state.Data), `"active"`) {
		t.Errorf("Unexpected state payload %s", state.Data)
	}
}

func TestRenderMapWithoutRoute(t *testing.T) {
	hub := NewHub(testLogger())
	hub.RenderMap(nil, nil)

	message := <-hub.broadcast
	update, ok := message.Data.(MapUpdate)
	if !ok {
		t.Fatalf("Expected MapUpdate data, got %T", message.Data)
	}
	if update.Polyline != "" {
		t.Errorf("Expected empty polyline, got %s", update.Polyline)
	}
	if message.Source != source {
		t.Errorf("Expected source %s, got %s", source, message.Source)
	}
}
