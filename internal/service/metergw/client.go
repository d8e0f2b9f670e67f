package metergw

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"GridCast/internal/domain/models"
	drepo "GridCast/internal/domain/repository"

	"github.com/gorilla/websocket"
)

// Client implements a TelemetryStream backed by the meter gateway WebSocket.
// One frame carries one or more samples; each sample fans out into one
// Reading per signal.
type Client struct {
	apiKey         string
	websocketURL   string
	entities       []string
	reconnectDelay time.Duration
	pingInterval   time.Duration

	conn      *websocket.Conn
	connected atomic.Bool
}

// New creates a TelemetryStream for the given entity subscriptions.
func New(apiKey, websocketURL string, entities []string, reconnectDelay, pingInterval time.Duration) drepo.TelemetryStream {
	return &Client{
		apiKey:         apiKey,
		websocketURL:   websocketURL,
		entities:       entities,
		reconnectDelay: reconnectDelay,
		pingInterval:   pingInterval,
	}
}

// Connect establishes the WebSocket connection.
func (c *Client) Connect(ctx context.Context) error {
	u := c.websocketURL
	if c.apiKey != "" {
		u = fmt.Sprintf("%s?token=%s", c.websocketURL, c.apiKey)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u, nil)
	if err != nil {
		return fmt.Errorf("metergw connect: %w", err)
	}
	c.conn = conn
	c.connected.Store(true)
	log.Printf("metergw: connected")
	return nil
}

// Subscribe registers interest in the configured entities.
func (c *Client) Subscribe(ctx context.Context) error {
	if c.conn == nil || !c.connected.Load() {
		return fmt.Errorf("metergw not connected")
	}
	for _, id := range c.entities {
		msg := map[string]string{"type": "subscribe", "entity": id}
		if err := c.conn.WriteJSON(msg); err != nil {
			return fmt.Errorf("subscribe %s: %w", id, err)
		}
		log.Printf("metergw: subscribed %s", id)
	}
	return nil
}

type gwSample struct {
	EntityID string             `json:"entity_id"`
	T        int64              `json:"t"` // ms
	Metrics  map[string]float64 `json:"metrics"`
	Quality  string             `json:"quality,omitempty"`
}

type gwMessage struct {
	Type string     `json:"type"`
	Data []gwSample `json:"data"`
}

// Read streams Reading events and errors.
func (c *Client) Read(ctx context.Context) (<-chan *models.Reading, <-chan error) {
	readings := make(chan *models.Reading, 1024)
	errs := make(chan error, 1)

	// ping loop
	go func() {
		ticker := time.NewTicker(c.pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if c.conn != nil {
					_ = c.conn.WriteMessage(websocket.PingMessage, nil)
				}
			}
		}
	}()

	// read loop
	go func() {
		defer close(readings)
		defer close(errs)
		for {
			select {
			case <-ctx.Done():
				return
			default:
				if c.conn == nil {
					errs <- fmt.Errorf("metergw conn nil")
					return
				}
				_, b, err := c.conn.ReadMessage()
				if err != nil {
					errs <- fmt.Errorf("metergw read: %w", err)
					return
				}
				var m gwMessage
				if err := json.Unmarshal(b, &m); err != nil {
					// ignore non-telemetry frames
					continue
				}
				if m.Type != "telemetry" {
					continue
				}
				for _, d := range m.Data {
					ts := time.Unix(d.T/1000, (d.T%1000)*int64(time.Millisecond)).UTC()
					quality := models.Quality(d.Quality)
					if quality == "" {
						quality = models.QualityGood
					}
					for signal, value := range d.Metrics {
						r := &models.Reading{
							EntityID:  d.EntityID,
							Signal:    signal,
							Timestamp: ts,
							Value:     value,
							Quality:   quality,
						}
						select {
						case readings <- r:
						default:
							// drop on backpressure
						}
					}
				}
			}
		}
	}()

	return readings, errs
}

// Reconnect closes and reconnects.
func (c *Client) Reconnect(ctx context.Context) error {
	_ = c.Close()
	time.Sleep(c.reconnectDelay)
	if err := c.Connect(ctx); err != nil {
		return err
	}
	return c.Subscribe(ctx)
}

// Close closes the WS connection.
func (c *Client) Close() error {
	c.connected.Store(false)
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// IsConnected indicates status.
func (c *Client) IsConnected() bool { return c.connected.Load() }
