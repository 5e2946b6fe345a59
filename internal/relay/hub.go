// Package relay реализует шлюз реального времени: события ленты
// документов из брокера раздаются подключённым websocket-сессиям
// с изоляцией по арендаторам.
package relay

import (
	"encoding/json"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/mmeshcher/restopos-system/internal/events"
)

// Hub хранит активные сессии, их пространства имён и комнаты и
// раздаёт входящие события. Каждый арендатор обслуживается двумя
// пространствами: основным "{tenant}" и зеркальным "app/{tenant}".
type Hub struct {
	mu         sync.RWMutex
	namespaces map[string]map[*Session]struct{}
	rooms      map[string]map[*Session]struct{}
	logger     *zap.Logger
}

// NewHub создаёт пустой хаб.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		namespaces: make(map[string]map[*Session]struct{}),
		rooms:      make(map[string]map[*Session]struct{}),
		logger:     logger,
	}
}

// Register добавляет аутентифицированную сессию в её пространство имён.
func (h *Hub) Register(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ns, ok := h.namespaces[s.namespace]
	if !ok {
		ns = make(map[*Session]struct{})
		h.namespaces[s.namespace] = ns
	}
	ns[s] = struct{}{}
}

// Unregister удаляет сессию из пространства имён и всех её комнат.
func (h *Hub) Unregister(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if ns, ok := h.namespaces[s.namespace]; ok {
		delete(ns, s)
		if len(ns) == 0 {
			delete(h.namespaces, s.namespace)
		}
	}
	for room := range s.rooms {
		h.leaveLocked(s, room)
	}
}

// Join подписывает сессию на комнату.
func (h *Hub) Join(s *Session, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	members, ok := h.rooms[room]
	if !ok {
		members = make(map[*Session]struct{})
		h.rooms[room] = members
	}
	members[s] = struct{}{}
	s.rooms[room] = struct{}{}
}

// Leave отписывает сессию от комнаты.
func (h *Hub) Leave(s *Session, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(s, room)
}

func (h *Hub) leaveLocked(s *Session, room string) {
	if members, ok := h.rooms[room]; ok {
		delete(members, s)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	delete(s.rooms, room)
}

// Кадр, уходящий клиентам. Namespace события наружу не транслируется.
type outFrame struct {
	Event   string          `json:"event"`
	Message json.RawMessage `json:"message"`
	Room    string          `json:"room,omitempty"`
}

// Dispatch разбирает сырое событие ленты и доставляет его сессиям
// арендатора: сначала в основное пространство имён, затем в зеркальное
// "app/{tenant}". Событие без определимого арендатора или с битым JSON
// логируется и отбрасывается.
func (h *Hub) Dispatch(raw []byte) {
	var m events.Message
	if err := json.Unmarshal(raw, &m); err != nil {
		h.logger.Warn("malformed event dropped", zap.Error(err))
		return
	}
	if m.Event == "" {
		h.logger.Warn("event without name dropped")
		return
	}

	tenant := m.Tenant()
	if tenant == "" {
		h.logger.Warn("event without tenant dropped", zap.String("event", m.Event))
		return
	}

	frame, err := json.Marshal(outFrame{Event: m.Event, Message: m.Message, Room: m.Room})
	if err != nil {
		h.logger.Warn("event marshal failed", zap.Error(err))
		return
	}

	h.deliver(tenant, m.Room, frame)
	h.deliver("app/"+tenant, m.Room, frame)
}

func (h *Hub) deliver(namespace, room string, frame []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var targets map[*Session]struct{}
	if room != "" {
		targets = h.rooms[room]
	} else {
		targets = h.namespaces[namespace]
	}

	for s := range targets {
		if s.namespace != namespace {
			continue
		}
		s.enqueue(frame)
	}
}

// Run потребляет события из подписки брокера до закрытия канала
// доставок. Останов выполняется закрытием подписки: уже принятые
// события дораздаются, а не теряются.
func (h *Hub) Run(deliveries <-chan amqp.Delivery) {
	for d := range deliveries {
		h.Dispatch(d.Body)
	}
}

// Close закрывает все активные сессии. Вызывается после остановки
// слушателя и подписки брокера.
func (h *Hub) Close() {
	h.mu.Lock()
	var all []*Session
	for _, ns := range h.namespaces {
		for s := range ns {
			all = append(all, s)
		}
	}
	h.mu.Unlock()

	for _, s := range all {
		s.close()
	}
}
