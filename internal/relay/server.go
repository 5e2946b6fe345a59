package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/mmeshcher/restopos-system/internal/events"
	"github.com/mmeshcher/restopos-system/internal/identity"
)

// Resolver описывает проверку токена у эндпоинта идентификации.
type Resolver interface {
	Resolve(ctx context.Context, tenant, token string) (*identity.Principal, error)
}

// Server принимает websocket-подключения шлюза. Два маршрута на
// арендатора: основной "/{tenant}" и зеркальный "/app/{tenant}".
type Server struct {
	hub         *Hub
	resolver    Resolver
	authTimeout time.Duration
	upgrader    websocket.Upgrader
	logger      *zap.Logger
}

// NewServer создаёт сервер шлюза поверх готового хаба.
func NewServer(hub *Hub, resolver Resolver, authTimeout time.Duration, logger *zap.Logger) *Server {
	return &Server{
		hub:         hub,
		resolver:    resolver,
		authTimeout: authTimeout,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Шлюз обслуживает браузерные клиенты разных происхождений;
			// авторизация выполняется токеном, не cookie.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger: logger,
	}
}

// SetupRouter настраивает маршруты websocket-шлюза.
func (s *Server) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Get("/app/{tenant}", func(w http.ResponseWriter, req *http.Request) {
		tenant := chi.URLParam(req, "tenant")
		s.serveWS(w, req, "app/"+tenant, tenant)
	})
	r.Get("/{tenant}", func(w http.ResponseWriter, req *http.Request) {
		tenant := chi.URLParam(req, "tenant")
		s.serveWS(w, req, tenant, tenant)
	})

	return r
}

// serveWS аутентифицирует подключение и запускает сессию. Токен из
// заголовка Authorization проверяется до апгрейда: синтаксически
// некорректный заголовок отклоняется без обращения к эндпоинту
// идентификации. Без заголовка аутентификация переносится в первый
// кадр соединения.
func (s *Server) serveWS(w http.ResponseWriter, r *http.Request, namespace, tenant string) {
	var p *identity.Principal

	if header := r.Header.Get("Authorization"); header != "" {
		token, err := identity.TokenFromHeader(header)
		if err != nil {
			http.Error(w, authFailureMessage(err), http.StatusUnauthorized)
			return
		}
		p, err = s.resolver.Resolve(r.Context(), tenant, token)
		if err != nil {
			http.Error(w, authFailureMessage(err), http.StatusUnauthorized)
			return
		}
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("upgrade failed", zap.Error(err))
		return
	}

	if p == nil {
		p, err = s.authenticate(conn, tenant)
		if err != nil {
			reject(conn, authFailureMessage(err))
			return
		}
	}

	sess := newSession(s.hub, conn, namespace, tenant, p, s.logger)
	s.hub.Register(sess)
	s.hub.Join(sess, events.UserRoom(tenant, p.Email))

	go sess.writePump()
	go sess.readPump()
}

// Первый кадр неаутентифицированного подключения.
type authFrame struct {
	Auth *struct {
		Token string `json:"token"`
		Site  string `json:"site"`
	} `json:"auth"`
}

// authenticate ждёт кадр с учётными данными не дольше authTimeout.
func (s *Server) authenticate(conn *websocket.Conn, tenant string) (*identity.Principal, error) {
	_ = conn.SetReadDeadline(time.Now().Add(s.authTimeout))
	defer conn.SetReadDeadline(time.Time{})

	_, raw, err := conn.ReadMessage()
	if err != nil {
		return nil, identity.ErrMissingToken
	}

	var f authFrame
	if err := json.Unmarshal(raw, &f); err != nil || f.Auth == nil {
		return nil, identity.ErrMissingToken
	}

	token, err := identity.NormalizeToken(f.Auth.Token)
	if err != nil {
		return nil, err
	}

	site := tenant
	if f.Auth.Site != "" {
		site = f.Auth.Site
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.authTimeout)
	defer cancel()

	return s.resolver.Resolve(ctx, site, token)
}

func reject(conn *websocket.Conn, msg string) {
	deadline := time.Now().Add(writeWait)
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, msg), deadline)
	_ = conn.Close()
}

func authFailureMessage(err error) string {
	switch {
	case err == identity.ErrMissingToken:
		return "Authentication required. Provide an auth token or Authorization header."
	case err == identity.ErrMalformedToken:
		return "Invalid token format. Expected: 'Bearer <token>'"
	default:
		return "Unauthorized: " + err.Error()
	}
}
