// Server implements §4.7/§6's IPC surface over a websocket connection per
// component, grounded on the teacher pack's ipiton-alert-history-service
// WebSocketHub (register/unregister/broadcast channels, ping/pong
// keepalive, readPump) and gorilla/mux for the upgrade route. Each managed
// component dials a single long-lived connection, authenticates with the
// bearer token minted at service startup (see token.go), and exchanges
// framed JSON requests/responses for the four operations named in §4.7:
// SubscribeToComponentUpdates, DeferComponentUpdate,
// SubscribeToValidateConfigurationUpdates, SendConfigurationValidityReport.
// A fifth, set_runtime_value, lets a component persist into its own
// runtime_store namespace per §4.5; the server only carries the bytes,
// leaving the ERRORED-gated rollback-safe marking (property R2) to
// whatever RuntimeStoreWriter is wired in (pkg/engine's).
//
// The server also implements lifecycle.UpdateNotifier and
// configstore.ValidationClient, so pkg/lifecycle and pkg/configstore never
// import pkg/ipc directly (avoiding the import cycle those packages'
// interfaces exist to break).
package ipc

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/fleetedge/deployd/pkg/configstore"
	"github.com/fleetedge/deployd/pkg/configtree"
	"github.com/fleetedge/deployd/pkg/lifecycle"
	"github.com/fleetedge/deployd/pkg/metrics"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// FrameType enumerates the wire operations carried over the socket, both
// directions.
type FrameType string

const (
	FrameSubscribeComponentUpdates FrameType = "SubscribeToComponentUpdates"
	FrameSubscribeValidateUpdates  FrameType = "SubscribeToValidateConfigurationUpdates"
	FrameDeferComponentUpdate      FrameType = "DeferComponentUpdate"
	FrameValidityReport            FrameType = "SendConfigurationValidityReport"
	FramePreUpdate                 FrameType = "pre_update"
	FramePostUpdate                FrameType = "post_update"
	FrameValidateConfiguration     FrameType = "validate_configuration"
	FrameSetRuntimeValue           FrameType = "set_runtime_value"
	FrameAck                       FrameType = "ack"
)

// Frame is the envelope for every message exchanged over the IPC socket.
type Frame struct {
	Type         FrameType              `json:"type"`
	DeploymentID string                 `json:"deploymentId,omitempty"`
	RecheckMS    int64                  `json:"recheckAfterMs,omitempty"`
	Message      string                 `json:"message,omitempty"`
	Accepted     bool                   `json:"accepted,omitempty"`
	Proposed     *configtree.Value      `json:"proposedConfiguration,omitempty"`
	Path         []string               `json:"path,omitempty"`
	Extra        map[string]interface{} `json:"extra,omitempty"`
}

// RuntimeStoreWriter lets a connected component persist a value into its
// own runtime_store namespace (§4.5). Implementations are responsible for
// marking the write rollback-safe when the component is currently in
// state ERRORED (property R2); the IPC layer only carries the bytes.
type RuntimeStoreWriter interface {
	SetRuntimeValue(componentName string, path []string, value *configtree.Value) error
}

type client struct {
	componentName string
	conn          *websocket.Conn
	send          chan Frame

	mu                   sync.Mutex
	subscribedUpdates    bool
	subscribedValidation bool
}

func (c *client) isSubscribedUpdates() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subscribedUpdates
}

func (c *client) isSubscribedValidation() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subscribedValidation
}

// pendingWait tracks one outstanding request awaiting a component's reply,
// keyed by (componentName, deploymentID).
type pendingWait struct {
	replies chan Frame
}

// Server is the IPC surface's process: one websocket connection per
// connected component, a token manager for auth, and the pending-wait
// table used to implement the two synchronous round trips (pre_update
// defer polling and validate_configuration).
type Server struct {
	logger zerolog.Logger
	tokens *TokenManager

	mu      sync.RWMutex
	clients map[string]*client // componentName -> client

	waitMu sync.Mutex
	waits  map[string]*pendingWait // componentName+"/"+deploymentID -> wait

	runtimeStore RuntimeStoreWriter
}

// SetRuntimeStoreWriter wires the handler for set_runtime_value frames.
// Left nil, a connected component's writes are rejected rather than
// silently dropped.
func (s *Server) SetRuntimeStoreWriter(w RuntimeStoreWriter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runtimeStore = w
}

// NewServer constructs an IPC Server. Call Router to obtain the mux.Router
// to mount (typically under a Unix domain socket listener).
func NewServer(tokens *TokenManager, logger zerolog.Logger) *Server {
	return &Server{
		logger:  logger.With().Str("component", "ipc").Logger(),
		tokens:  tokens,
		clients: make(map[string]*client),
		waits:   make(map[string]*pendingWait),
	}
}

// Router returns a mux.Router exposing the single websocket upgrade
// endpoint. componentName is resolved from the bearer token, never from a
// client-supplied field, so a component cannot impersonate another.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/v1/ipc", s.handleUpgrade).Methods(http.MethodGet)
	return r
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	token := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(token) > len(prefix) && token[:len(prefix)] == prefix {
		token = token[len(prefix):]
	}
	componentName, ok := s.tokens.Validate(token)
	if !ok {
		http.Error(w, "invalid or missing bearer token", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Str("service", componentName).Msg("websocket upgrade failed")
		return
	}

	c := &client{componentName: componentName, conn: conn, send: make(chan Frame, 32)}
	s.mu.Lock()
	if old, exists := s.clients[componentName]; exists {
		close(old.send)
	}
	s.clients[componentName] = c
	count := len(s.clients)
	s.mu.Unlock()
	metrics.IPCConnectedComponents.Set(float64(count))

	s.logger.Info().Str("service", componentName).Msg("ipc client connected")

	go s.writePump(c)
	s.readPump(c)
}

// Disconnect drops any connection held for componentName, called by the
// engine when a service is removed or ends BROKEN so its subscriptions
// don't leak.
func (s *Server) Disconnect(componentName string) {
	s.mu.Lock()
	c, ok := s.clients[componentName]
	if ok {
		delete(s.clients, componentName)
	}
	count := len(s.clients)
	s.mu.Unlock()
	if ok {
		metrics.IPCConnectedComponents.Set(float64(count))
		close(c.send)
		_ = c.conn.Close()
	}
}

func (s *Server) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case frame, open := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !open {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) readPump(c *client) {
	defer func() {
		s.mu.Lock()
		if s.clients[c.componentName] == c {
			delete(s.clients, c.componentName)
		}
		count := len(s.clients)
		s.mu.Unlock()
		metrics.IPCConnectedComponents.Set(float64(count))
	}()

	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var frame Frame
		if err := c.conn.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.logger.Warn().Err(err).Str("service", c.componentName).Msg("ipc read error")
			}
			return
		}
		s.handleFrame(c, frame)
	}
}

func (s *Server) handleFrame(c *client, frame Frame) {
	switch frame.Type {
	case FrameSubscribeComponentUpdates:
		c.mu.Lock()
		c.subscribedUpdates = true
		c.mu.Unlock()
		c.send <- Frame{Type: FrameAck}

	case FrameSubscribeValidateUpdates:
		c.mu.Lock()
		c.subscribedValidation = true
		c.mu.Unlock()
		c.send <- Frame{Type: FrameAck}

	case FrameDeferComponentUpdate:
		s.deliverReply(c.componentName, frame.DeploymentID, frame)

	case FrameValidityReport:
		s.deliverReply(c.componentName, frame.DeploymentID, frame)

	case FrameSetRuntimeValue:
		s.mu.RLock()
		writer := s.runtimeStore
		s.mu.RUnlock()
		if writer == nil {
			c.send <- Frame{Type: FrameAck, Accepted: false, Message: "runtime store not configured"}
			return
		}
		if err := writer.SetRuntimeValue(c.componentName, frame.Path, frame.Proposed); err != nil {
			c.send <- Frame{Type: FrameAck, Accepted: false, Message: err.Error()}
			return
		}
		c.send <- Frame{Type: FrameAck, Accepted: true}

	default:
		s.logger.Debug().Str("service", c.componentName).Str("type", string(frame.Type)).Msg("unrecognized ipc frame")
	}
}

func (s *Server) deliverReply(componentName, deploymentID string, frame Frame) {
	key := componentName + "/" + deploymentID
	s.waitMu.Lock()
	w, ok := s.waits[key]
	s.waitMu.Unlock()
	if !ok {
		return
	}
	select {
	case w.replies <- frame:
	default:
	}
}

func (s *Server) register(componentName, deploymentID string) chan Frame {
	key := componentName + "/" + deploymentID
	replies := make(chan Frame, 1)
	s.waitMu.Lock()
	s.waits[key] = &pendingWait{replies: replies}
	s.waitMu.Unlock()
	return replies
}

func (s *Server) unregister(componentName, deploymentID string) {
	key := componentName + "/" + deploymentID
	s.waitMu.Lock()
	delete(s.waits, key)
	s.waitMu.Unlock()
}

func (s *Server) lookup(componentName string) (*client, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.clients[componentName]
	return c, ok
}

// IsSubscribed reports whether componentName has an open
// subscribe_component_updates channel. Implements lifecycle.UpdateNotifier.
func (s *Server) IsSubscribed(componentName string) bool {
	c, ok := s.lookup(componentName)
	return ok && c.isSubscribedUpdates()
}

// NotifyPreUpdate publishes pre_update and waits up to timeout for a
// defer reply. A disconnected client or elapsed timeout is "no deferral",
// per §4.7. Implements lifecycle.UpdateNotifier.
func (s *Server) NotifyPreUpdate(ctx context.Context, componentName, deploymentID string, timeout time.Duration) (lifecycle.DeferResponse, error) {
	c, ok := s.lookup(componentName)
	if !ok {
		return lifecycle.DeferResponse{}, nil
	}

	replies := s.register(componentName, deploymentID)
	defer s.unregister(componentName, deploymentID)

	select {
	case c.send <- Frame{Type: FramePreUpdate, DeploymentID: deploymentID}:
	default:
		return lifecycle.DeferResponse{}, nil
	}

	select {
	case frame := <-replies:
		return lifecycle.DeferResponse{
			Defer:        frame.RecheckMS > 0,
			RecheckAfter: time.Duration(frame.RecheckMS) * time.Millisecond,
			Message:      frame.Message,
		}, nil
	case <-time.After(timeout):
		return lifecycle.DeferResponse{}, nil
	case <-ctx.Done():
		return lifecycle.DeferResponse{}, ctx.Err()
	}
}

// NotifyPostUpdate publishes post_update; it does not wait for a reply.
// Implements lifecycle.UpdateNotifier.
func (s *Server) NotifyPostUpdate(ctx context.Context, componentName, deploymentID string) error {
	c, ok := s.lookup(componentName)
	if !ok {
		return nil
	}
	select {
	case c.send <- Frame{Type: FramePostUpdate, DeploymentID: deploymentID}:
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	return nil
}

// ValidationAdapter exposes Server as a configstore.ValidationClient. A
// separate type is needed because ValidationClient and UpdateNotifier both
// declare an IsSubscribed(string) bool method with different meanings
// (subscribed-to-validation vs. subscribed-to-updates); Server itself
// satisfies UpdateNotifier directly, and this adapter carries the other.
type ValidationAdapter struct {
	*Server
}

// Validator returns s wrapped as a configstore.ValidationClient.
func (s *Server) Validator() ValidationAdapter { return ValidationAdapter{s} }

// IsSubscribed reports whether componentName has an open
// subscribe_validate_configuration_updates channel.
func (v ValidationAdapter) IsSubscribed(componentName string) bool {
	c, ok := v.lookup(componentName)
	return ok && c.isSubscribedValidation()
}

// Validate publishes validate_configuration and blocks for a reply or
// timeout.
func (v ValidationAdapter) Validate(ctx context.Context, componentName, deploymentID string, proposed *configtree.Value, timeout time.Duration) (configstore.ValidationOutcome, error) {
	c, ok := v.lookup(componentName)
	if !ok {
		return configstore.ValidationOutcome{Accepted: false}, nil
	}

	replies := v.register(componentName, deploymentID)
	defer v.unregister(componentName, deploymentID)

	select {
	case c.send <- Frame{Type: FrameValidateConfiguration, DeploymentID: deploymentID, Proposed: proposed}:
	default:
		return configstore.ValidationOutcome{Accepted: false}, nil
	}

	select {
	case frame := <-replies:
		return configstore.ValidationOutcome{Accepted: frame.Accepted, Message: frame.Message}, nil
	case <-time.After(timeout):
		return configstore.ValidationOutcome{Accepted: false, Message: "validation timed out"}, nil
	case <-ctx.Done():
		return configstore.ValidationOutcome{}, ctx.Err()
	}
}

// ConnectedComponents returns the names of every component with an open
// IPC connection.
func (s *Server) ConnectedComponents() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.clients))
	for name := range s.clients {
		names = append(names, name)
	}
	return names
}
