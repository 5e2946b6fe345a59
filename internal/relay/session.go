package relay

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/mmeshcher/restopos-system/internal/identity"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBufferSize = 64
)

// Session — одно аутентифицированное websocket-подключение.
// Медленный получатель не тормозит раздачу: при переполнении
// исходящего буфера кадры отбрасываются.
type Session struct {
	hub       *Hub
	conn      *websocket.Conn
	namespace string
	tenant    string
	principal *identity.Principal
	send      chan []byte
	rooms     map[string]struct{}
	logger    *zap.Logger
	closeOnce sync.Once
}

func newSession(hub *Hub, conn *websocket.Conn, namespace, tenant string, p *identity.Principal, logger *zap.Logger) *Session {
	return &Session{
		hub:       hub,
		conn:      conn,
		namespace: namespace,
		tenant:    tenant,
		principal: p,
		send:      make(chan []byte, sendBufferSize),
		rooms:     make(map[string]struct{}),
		logger:    logger,
	}
}

func (s *Session) enqueue(frame []byte) {
	select {
	case s.send <- frame:
	default:
		s.logger.Warn("slow session, frame dropped",
			zap.String("namespace", s.namespace),
			zap.String("user", s.principal.Email))
	}
}

// Клиентский управляющий кадр: подписка на комнату или отписка.
type controlFrame struct {
	Type string `json:"type"`
	Room string `json:"room"`
}

// readPump читает управляющие кадры клиента. Подписка допускается
// только на комнаты собственного арендатора; чужие комнаты молча
// игнорируются.
func (s *Session) readPump() {
	defer func() {
		s.hub.Unregister(s)
		s.close()
	}()

	s.conn.SetReadLimit(maxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug("session read error", zap.Error(err))
			}
			return
		}

		var f controlFrame
		if err := json.Unmarshal(raw, &f); err != nil {
			s.logger.Debug("malformed control frame", zap.Error(err))
			continue
		}

		switch f.Type {
		case "subscribe":
			if !strings.HasPrefix(f.Room, s.tenant+":") {
				s.logger.Warn("cross-tenant subscribe refused",
					zap.String("tenant", s.tenant), zap.String("room", f.Room))
				continue
			}
			s.hub.Join(s, f.Room)
		case "unsubscribe":
			s.hub.Leave(s, f.Room)
		}
	}
}

// writePump отправляет кадры из очереди и поддерживает соединение
// ping-кадрами.
func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.close()
	}()

	for {
		select {
		case frame, ok := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = s.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Session) close() {
	s.closeOnce.Do(func() {
		_ = s.conn.Close()
	})
}
