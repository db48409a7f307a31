package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/pv/telemetry-recorder/internal/logging"
	"github.com/pv/telemetry-recorder/internal/session"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
	wsSendBuffer   = 64
)

type wsMessage struct {
	Type     string         `json:"type"`
	Event    string         `json:"event,omitempty"`
	Key      string         `json:"key,omitempty"`
	Handle   string         `json:"handle,omitempty"`
	Sessions []session.Info `json:"sessions,omitempty"`
}

// SessionLister отдаёт снимок сессий.
type SessionLister interface {
	Sessions() []session.Info
}

// SessionStreamer рассылает события жизненного цикла сессий клиентам WebSocket.
// Подключается к реестру как session.Observer.
type SessionStreamer struct {
	sessions SessionLister
	upgrader websocket.Upgrader
	log      zerolog.Logger

	mu      sync.Mutex
	clients map[*wsClient]struct{}
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

var _ session.Observer = (*SessionStreamer)(nil)

func NewSessionStreamer(sessions SessionLister, logger *zerolog.Logger) *SessionStreamer {
	return &SessionStreamer{
		sessions: sessions,
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(*http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		log:     logging.Component(logging.OrNop(logger), "ws"),
		clients: map[*wsClient]struct{}{},
	}
}

// SessionEvent публикует событие всем подключённым клиентам.
func (s *SessionStreamer) SessionEvent(e session.Event) {
	s.broadcast(wsMessage{Type: "event", Event: e.Type.String(), Key: e.Key, Handle: string(e.Handle)})
}

// Clients возвращает число подключённых клиентов.
func (s *SessionStreamer) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// ServeWS обрабатывает подключение клиента. Первым сообщением отправляется снимок сессий.
func (s *SessionStreamer) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade уже ответил клиенту
		s.log.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}
	c := &wsClient{conn: conn, send: make(chan []byte, wsSendBuffer)}
	if err := s.register(c); err != nil {
		s.log.Error().Err(err).Msg("marshal session snapshot")
		_ = conn.Close()
		return
	}

	go s.writePump(c)
	go s.readPump(c)
}

// register ставит снимок первым в очередь клиента и добавляет клиента в рассылку.
// Оба шага выполняются под s.mu, поэтому событие не может попасть между ними.
func (s *SessionStreamer) register(c *wsClient) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := wsMessage{Type: "snapshot", Sessions: []session.Info{}}
	if s.sessions != nil {
		snapshot.Sessions = s.sessions.Sessions()
	}
	data, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	c.send <- data
	s.clients[c] = struct{}{}
	return nil
}

// Close отключает всех клиентов.
func (s *SessionStreamer) Close() {
	s.mu.Lock()
	all := make([]*wsClient, 0, len(s.clients))
	for c := range s.clients {
		all = append(all, c)
	}
	s.mu.Unlock()
	for _, c := range all {
		s.remove(c)
	}
}

func (s *SessionStreamer) broadcast(msg wsMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		s.log.Error().Err(err).Msg("marshal websocket message")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		select {
		case c.send <- data:
		default:
			// клиент не успевает читать
			go s.remove(c)
		}
	}
}

func (s *SessionStreamer) remove(c *wsClient) {
	s.mu.Lock()
	_, ok := s.clients[c]
	delete(s.clients, c)
	s.mu.Unlock()
	if ok {
		c.once.Do(func() { close(c.send) })
	}
	_ = c.conn.Close()
}

func (s *SessionStreamer) writePump(c *wsClient) {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()
	defer s.remove(c)
	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump нужен только для обработки close и pong от клиента.
func (s *SessionStreamer) readPump(c *wsClient) {
	defer s.remove(c)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
