// internal/realtime/hub.go
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	appErrors "github.com/unclebandit/voicereach-engine/internal/errors"
	"github.com/unclebandit/voicereach-engine/internal/model"
	"github.com/unclebandit/voicereach-engine/internal/ratelimit"
)

// Authenticator resolves a bearer token to a user.
type Authenticator interface {
	VerifyToken(ctx context.Context, token string) (*model.TokenClaims, error)
	GetUserByID(ctx context.Context, id string) (*model.User, error)
}

type Config struct {
	HandshakeTimeout time.Duration
	// At most ConnLimit new connections per user within ConnWindow.
	ConnLimit  int
	ConnWindow time.Duration
	// Per-connection command throttle.
	CommandRate  float64
	CommandBurst int
	WriteTimeout time.Duration
	PingInterval time.Duration
	SendBuffer   int
}

func DefaultConfig() Config {
	return Config{
		HandshakeTimeout: 10 * time.Second,
		ConnLimit:        5,
		ConnWindow:       60 * time.Second,
		CommandRate:      10,
		CommandBurst:     20,
		WriteTimeout:     10 * time.Second,
		PingInterval:     30 * time.Second,
		SendBuffer:       64,
	}
}

// Message is the envelope of every server -> client frame.
type Message struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// Hub authenticates websocket connections, tracks room membership and fans
// events out to rooms, users, roles or everyone.
type Hub struct {
	cfg      Config
	auth     Authenticator
	log      zerolog.Logger
	admit    *ratelimit.Keyed
	upgrader websocket.Upgrader
	now      func() time.Time

	mu     sync.RWMutex
	conns  map[string]*Conn
	byUser map[string]map[*Conn]struct{}
	rooms  map[string]map[*Conn]struct{}
}

// Conn is one authenticated websocket client.
type Conn struct {
	ID   string
	User model.User

	ws      *websocket.Conn
	send    chan []byte
	limiter *rate.Limiter
	rooms   map[string]struct{} // guarded by Hub.mu
	closing sync.Once
}

func NewHub(auth Authenticator, cfg Config, log zerolog.Logger) *Hub {
	def := DefaultConfig()
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = def.HandshakeTimeout
	}
	if cfg.ConnLimit <= 0 {
		cfg.ConnLimit = def.ConnLimit
	}
	if cfg.ConnWindow <= 0 {
		cfg.ConnWindow = def.ConnWindow
	}
	if cfg.CommandRate <= 0 {
		cfg.CommandRate = def.CommandRate
	}
	if cfg.CommandBurst <= 0 {
		cfg.CommandBurst = def.CommandBurst
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = def.PingInterval
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = def.SendBuffer
	}
	return &Hub{
		cfg:   cfg,
		auth:  auth,
		log:   log.With().Str("comp", "hub").Logger(),
		admit: ratelimit.NewKeyed(cfg.ConnLimit, cfg.ConnWindow),
		upgrader: websocket.Upgrader{
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
			HandshakeTimeout: cfg.HandshakeTimeout,
			CheckOrigin:      func(r *http.Request) bool { return true },
		},
		now:    time.Now,
		conns:  make(map[string]*Conn),
		byUser: make(map[string]map[*Conn]struct{}),
		rooms:  make(map[string]map[*Conn]struct{}),
	}
}

// Run sweeps idle admission windows until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	tk := time.NewTicker(h.cfg.ConnWindow)
	defer tk.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tk.C:
			h.admit.Sweep()
		}
	}
}

func bearerToken(r *http.Request) string {
	if v := r.Header.Get("Authorization"); v != "" {
		if tok, ok := strings.CutPrefix(v, "Bearer "); ok {
			return strings.TrimSpace(tok)
		}
	}
	return r.URL.Query().Get("token")
}

// authenticate runs token verification and user lookup under the handshake timeout.
func (h *Hub) authenticate(r *http.Request) (*model.User, error) {
	token := bearerToken(r)
	if token == "" {
		return nil, appErrors.NewAuth("authentication token required")
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.cfg.HandshakeTimeout)
	defer cancel()

	claims, err := h.auth.VerifyToken(ctx, token)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, appErrors.NewAuth("handshake timed out")
		}
		return nil, appErrors.NewAuth("invalid token")
	}
	user, err := h.auth.GetUserByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, appErrors.NewAuth("handshake timed out")
		}
		return nil, appErrors.NewAuth("user not found")
	}
	if !user.Active {
		return nil, appErrors.NewAuth("user inactive")
	}
	return user, nil
}

func (h *Hub) reject(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(model.ErrorEvent{Message: msg, Code: code, Timestamp: h.now().UTC()})
}

// ServeHTTP admits and upgrades a websocket connection.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	user, err := h.authenticate(r)
	if err != nil {
		h.log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("connection rejected")
		h.reject(w, http.StatusUnauthorized, model.CodeAuthentication, err.Error())
		return
	}
	if !h.admit.Allow(user.ID) {
		err := appErrors.NewRateLimit(user.ID)
		h.log.Warn().Str("user", user.ID).Msg("connection rate limited")
		h.reject(w, http.StatusTooManyRequests, model.CodeRateLimited, err.Error())
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("upgrade failed")
		return
	}
	c := &Conn{
		ID:      uuid.NewString(),
		User:    *user,
		ws:      ws,
		send:    make(chan []byte, h.cfg.SendBuffer),
		limiter: rate.NewLimiter(rate.Limit(h.cfg.CommandRate), h.cfg.CommandBurst),
		rooms:   make(map[string]struct{}),
	}
	h.register(c)
	h.log.Info().Str("conn", c.ID).Str("user", user.ID).Str("role", string(user.Role)).Msg("client connected")

	go h.writeLoop(c)
	h.readLoop(c)
}

func (h *Hub) register(c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[c.ID] = c
	set := h.byUser[c.User.ID]
	if set == nil {
		set = make(map[*Conn]struct{})
		h.byUser[c.User.ID] = set
	}
	set[c] = struct{}{}
}

// unregister removes c from the registry and every room it joined.
func (h *Hub) unregister(c *Conn) {
	h.mu.Lock()
	if _, ok := h.conns[c.ID]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.conns, c.ID)
	if set := h.byUser[c.User.ID]; set != nil {
		delete(set, c)
		if len(set) == 0 {
			delete(h.byUser, c.User.ID)
		}
	}
	for room := range c.rooms {
		h.leaveLocked(c, room)
	}
	close(c.send)
	h.mu.Unlock()
	h.log.Info().Str("conn", c.ID).Str("user", c.User.ID).Msg("client disconnected")
}

func (h *Hub) readLoop(c *Conn) {
	defer func() {
		h.unregister(c)
		c.close()
	}()
	c.ws.SetReadLimit(4096)
	wait := 2 * h.cfg.PingInterval
	c.ws.SetReadDeadline(h.now().Add(wait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(h.now().Add(wait))
	})
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Debug().Err(err).Str("conn", c.ID).Msg("read failed")
			}
			return
		}
		c.ws.SetReadDeadline(h.now().Add(wait))
		if !c.limiter.Allow() {
			h.sendError(c, model.CodeRateLimited, "too many commands")
			continue
		}
		var cmd Command
		if err := json.Unmarshal(data, &cmd); err != nil {
			h.sendError(c, "", "malformed command")
			continue
		}
		if err := h.handleCommand(c, cmd); err != nil {
			h.sendError(c, "", err.Error())
		}
	}
}

func (h *Hub) writeLoop(c *Conn) {
	ping := time.NewTicker(h.cfg.PingInterval)
	defer func() {
		ping.Stop()
		c.close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			c.ws.SetWriteDeadline(h.now().Add(h.cfg.WriteTimeout))
			if !ok {
				c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ping.C:
			c.ws.SetWriteDeadline(h.now().Add(h.cfg.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Conn) close() {
	c.closing.Do(func() { c.ws.Close() })
}

func (h *Hub) sendError(c *Conn, code, msg string) {
	data, err := json.Marshal(Message{Event: model.EventError, Data: model.ErrorEvent{Message: msg, Code: code, Timestamp: h.now().UTC()}})
	if err != nil {
		return
	}
	h.mu.RLock()
	h.deliverLocked(c, data)
	h.mu.RUnlock()
}

// deliverLocked queues data for c without blocking. A client that cannot keep
// up is disconnected. Callers hold h.mu (read or write).
func (h *Hub) deliverLocked(c *Conn, data []byte) {
	if _, ok := h.conns[c.ID]; !ok {
		return
	}
	select {
	case c.send <- data:
	default:
		h.log.Warn().Str("conn", c.ID).Msg("send buffer full, dropping client")
		go c.close()
	}
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.RLock()
	conns := make([]*Conn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.RUnlock()
	for _, c := range conns {
		c.close()
	}
}

// ConnCount returns the live connections of a user.
func (h *Hub) ConnCount(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byUser[userID])
}

// RoomSize returns how many connections are in room.
func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}
