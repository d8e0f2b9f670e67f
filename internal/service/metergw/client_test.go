package metergw

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"GridCast/internal/domain/models"
)

var upgrader = websocket.Upgrader{}

func TestClient_SubscribeAndFanOut(t *testing.T) {
	ts := time.Date(2025, 6, 2, 9, 30, 0, 0, time.UTC)
	subscribed := make(chan string, 4)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("token") != "secret" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		for i := 0; i < 2; i++ {
			var msg map[string]string
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			subscribed <- msg["entity"]
		}

		// Non-telemetry frames are ignored by the client.
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"heartbeat"}`))
		frame := map[string]any{
			"type": "telemetry",
			"data": []map[string]any{
				{
					"entity_id": "meter-1",
					"t":         ts.UnixMilli(),
					"metrics":   map[string]float64{"power": 5.5, "voltage": 231.2},
				},
				{
					"entity_id": "ws-1",
					"t":         ts.UnixMilli(),
					"metrics":   map[string]float64{"temperature": 19.5},
					"quality":   "estimated",
				},
			},
		}
		_ = conn.WriteJSON(frame)

		// Hold the connection open until the client is done reading.
		_, _, _ = conn.ReadMessage()
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	client := New("secret", wsURL, []string{"meter-1", "ws-1"}, 10*time.Millisecond, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, client.Connect(ctx))
	defer client.Close()
	require.True(t, client.IsConnected())
	require.NoError(t, client.Subscribe(ctx))

	require.Equal(t, "meter-1", <-subscribed)
	require.Equal(t, "ws-1", <-subscribed)

	readings, errs := client.Read(ctx)

	got := make(map[string]models.Reading)
	deadline := time.After(2 * time.Second)
	for len(got) < 3 {
		select {
		case r := <-readings:
			require.NotNil(t, r)
			got[r.EntityID+"/"+r.Signal] = *r
		case err := <-errs:
			t.Fatalf("unexpected stream error: %v", err)
		case <-deadline:
			t.Fatalf("timed out with %d readings", len(got))
		}
	}

	power := got["meter-1/power"]
	require.InDelta(t, 5.5, power.Value, 1e-9)
	require.Equal(t, ts, power.Timestamp)
	require.Equal(t, models.QualityGood, power.Quality)

	voltage := got["meter-1/voltage"]
	require.InDelta(t, 231.2, voltage.Value, 1e-9)

	temp := got["ws-1/temperature"]
	require.InDelta(t, 19.5, temp.Value, 1e-9)
	require.Equal(t, models.QualityEstimated, temp.Quality)
}

func TestClient_SubscribeRequiresConnection(t *testing.T) {
	client := New("", "ws://127.0.0.1:1", []string{"meter-1"}, time.Millisecond, time.Minute)
	require.Error(t, client.Subscribe(context.Background()))
	require.False(t, client.IsConnected())
}

func TestClient_CloseMarksDisconnected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_, _, _ = conn.ReadMessage()
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	client := New("", wsURL, nil, 10*time.Millisecond, time.Minute)

	require.NoError(t, client.Connect(context.Background()))
	require.True(t, client.IsConnected())
	require.NoError(t, client.Close())
	require.False(t, client.IsConnected())
}
