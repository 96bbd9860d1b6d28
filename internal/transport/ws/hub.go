package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"f1-telemetry/stream-processor/internal/domain"
)

const (
	writeWait    = 5 * time.Second
	clientBuffer = 64
)

// Frame is what dashboard clients receive for every processed record.
type Frame struct {
	CarID     string                `json:"car_id"`
	Driver    string                `json:"driver"`
	Lap       int                   `json:"lap"`
	Timestamp time.Time             `json:"timestamp"`
	SpeedKmh  float64               `json:"speed_kmh"`
	TireWear  float64               `json:"tire_wear_pct"`
	Anomalies []domain.AnomalyEvent `json:"anomalies"`
	Score     float64               `json:"pitstop_score"`
	Urgency   string                `json:"urgency"`
	Message   string                `json:"recommendation"`
}

func newFrame(res *domain.Result) Frame {
	anomalies := res.Anomalies
	if anomalies == nil {
		anomalies = []domain.AnomalyEvent{}
	}
	return Frame{
		CarID:     res.Record.CarID,
		Driver:    res.Record.Driver,
		Lap:       res.Record.Lap,
		Timestamp: res.Record.Timestamp,
		SpeedKmh:  res.Record.SpeedKmh,
		TireWear:  res.Record.TireWearPct,
		Anomalies: anomalies,
		Score:     res.PitStop.Score,
		Urgency:   string(res.PitStop.Urgency),
		Message:   res.PitStop.Recommendation,
	}
}

type client struct {
	conn *websocket.Conn
	send chan []byte
	// car filters frames to one car when set via ?car_id=.
	car string
}

// Hub broadcasts processed results to websocket subscribers. A client that
// cannot keep up is disconnected rather than slowing the others down.
type Hub struct {
	in       <-chan *domain.Result
	log      *slog.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}
}

func NewHub(in <-chan *domain.Result, log *slog.Logger) *Hub {
	return &Hub{
		in:  in,
		log: log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		clients: make(map[*client]struct{}),
	}
}

// Run drains the result channel until it is closed or ctx ends, then
// disconnects every client.
func (h *Hub) Run(ctx context.Context) error {
	defer h.closeAll()
	for {
		select {
		case <-ctx.Done():
			return nil
		case res, ok := <-h.in:
			if !ok {
				return nil
			}
			h.broadcast(res)
		}
	}
}

func (h *Hub) broadcast(res *domain.Result) {
	payload, err := json.Marshal(newFrame(res))
	if err != nil {
		h.log.Error("failed to encode websocket frame", slog.Any("error", err))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if c.car != "" && c.car != res.Record.CarID {
			continue
		}
		select {
		case c.send <- payload:
		default:
			h.log.Warn("dropping slow websocket client", slog.String("remote", c.conn.RemoteAddr().String()))
			h.removeLocked(c)
		}
	}
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied to the client.
		h.log.Debug("websocket upgrade failed", slog.Any("error", err))
		return
	}

	c := &client{
		conn: conn,
		send: make(chan []byte, clientBuffer),
		car:  r.URL.Query().Get("car_id"),
	}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	go h.writePump(c)
	go h.readPump(c)
}

func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) writePump(c *client) {
	defer c.conn.Close()
	for payload := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			h.remove(c)
			return
		}
	}
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
}

// readPump only exists to notice the client going away.
func (h *Hub) readPump(c *client) {
	defer h.remove(c)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	h.removeLocked(c)
	h.mu.Unlock()
}

func (h *Hub) removeLocked(c *client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		h.removeLocked(c)
	}
}
