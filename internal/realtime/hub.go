package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

var hubClients = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Name: "realtime_hub_clients",
	Help: "WebSocket subscribers currently registered, per hub.",
}, []string{"hub"})

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Hub maintains the set of active subscribers and broadcasts frames to them.
type Hub struct {
	name string
	log  zerolog.Logger

	clients    map[*Subscriber]bool
	broadcast  chan []byte
	register   chan *Subscriber
	unregister chan *Subscriber
	done       chan struct{}
	mu         sync.RWMutex

	// OnRegister runs on the hub goroutine for each new subscriber, before
	// any broadcast reaches it. Typically used to queue an initial state.
	OnRegister func(*Subscriber)
	// OnMessage receives frames sent by subscribers.
	OnMessage func(*Subscriber, []byte)
}

func NewHub(name string, logger zerolog.Logger) *Hub {
	return &Hub{
		name:       name,
		log:        logger.With().Str("hub", name).Logger(),
		clients:    make(map[*Subscriber]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Subscriber),
		unregister: make(chan *Subscriber),
		done:       make(chan struct{}),
	}
}

// Run serves registrations and broadcasts until ctx is cancelled, then
// closes every subscriber.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for s := range h.clients {
				delete(h.clients, s)
				close(s.send)
			}
			h.mu.Unlock()
			hubClients.WithLabelValues(h.name).Set(0)
			return

		case s := <-h.register:
			h.mu.Lock()
			h.clients[s] = true
			n := len(h.clients)
			h.mu.Unlock()
			hubClients.WithLabelValues(h.name).Set(float64(n))
			h.log.Debug().Str("remote", s.remote).Msg("subscriber registered")
			if h.OnRegister != nil {
				h.OnRegister(s)
			}

		case s := <-h.unregister:
			h.remove(s, "subscriber unregistered")

		case msg := <-h.broadcast:
			h.mu.Lock()
			for s := range h.clients {
				select {
				case s.send <- msg:
				default:
					// Slow or gone; drop it rather than stall everyone else.
					delete(h.clients, s)
					close(s.send)
					h.log.Warn().Str("remote", s.remote).Msg("subscriber send buffer full, removing")
				}
			}
			n := len(h.clients)
			h.mu.Unlock()
			hubClients.WithLabelValues(h.name).Set(float64(n))
		}
	}
}

func (h *Hub) remove(s *Subscriber, msg string) {
	h.mu.Lock()
	_, ok := h.clients[s]
	if ok {
		delete(h.clients, s)
		close(s.send)
	}
	n := len(h.clients)
	h.mu.Unlock()
	if ok {
		hubClients.WithLabelValues(h.name).Set(float64(n))
		h.log.Debug().Str("remote", s.remote).Msg(msg)
	}
}

// Len reports the number of registered subscribers.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast queues a raw frame for every subscriber. It returns false once
// the hub has stopped.
func (h *Hub) Broadcast(frame []byte) bool {
	select {
	case h.broadcast <- frame:
		return true
	case <-h.done:
		return false
	}
}

// BroadcastJSON marshals v and broadcasts it.
func (h *Hub) BroadcastJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	h.Broadcast(data)
	return nil
}

// ServeHTTP upgrades the request and pumps frames until either side goes away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	select {
	case <-h.done:
		http.Error(w, "hub stopped", http.StatusServiceUnavailable)
		return
	default:
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("websocket upgrade failed")
		return
	}
	s := &Subscriber{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, 256),
		remote: conn.RemoteAddr().String(),
	}
	select {
	case h.register <- s:
	case <-h.done:
		conn.Close()
		return
	}

	go s.writePump()
	s.readPump()
}

// Subscriber is a middleman between one websocket connection and the hub.
type Subscriber struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	remote string
}

// Enqueue queues a frame for this subscriber alone. Only safe from hub
// callbacks, which run on the hub goroutine.
func (s *Subscriber) Enqueue(frame []byte) bool {
	select {
	case s.send <- frame:
		return true
	default:
		return false
	}
}

func (s *Subscriber) Remote() string { return s.remote }

func (s *Subscriber) readPump() {
	defer func() {
		select {
		case s.hub.unregister <- s:
		case <-s.hub.done:
		}
		s.conn.Close()
	}()
	s.conn.SetReadLimit(maxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error { s.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, message, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.hub.log.Warn().Err(err).Str("remote", s.remote).Msg("websocket read error")
			}
			return
		}
		if s.hub.OnMessage != nil {
			s.hub.OnMessage(s, message)
		}
	}
}

func (s *Subscriber) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()
	for {
		select {
		case message, ok := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			// One frame per message: consumers decode each frame as a
			// single JSON document.
			if err := s.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				s.hub.log.Debug().Err(err).Str("remote", s.remote).Msg("websocket write failed")
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
