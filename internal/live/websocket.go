package live

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/ashureev/timetalks/internal/middleware"
	"github.com/ashureev/timetalks/internal/session"
	"github.com/coder/websocket"
	"github.com/google/uuid"
)

// Session is the part of session.Controller a live connection drives.
type Session interface {
	ID() string
	SelectCharacter(index int) error
	SelectCharacterByID(id int) error
	SetDraft(text string)
	Submit(text string) error
	Subscribe() (<-chan session.Projection, func())
}

// Client message types.
const (
	TypeSelect = "select"
	TypeSubmit = "submit"
	TypeDraft  = "draft"
	TypePing   = "ping"
)

// Server message types.
const (
	TypeProjection = "projection"
	TypeError      = "error"
	TypePong       = "pong"
)

// ClientMessage is a command sent by the browser.
type ClientMessage struct {
	Type  string `json:"type"`
	Index *int   `json:"index,omitempty"`
	ID    *int   `json:"id,omitempty"`
	Text  string `json:"text,omitempty"`
}

// ServerMessage is pushed to the browser.
type ServerMessage struct {
	Type       string              `json:"type"`
	Projection *session.Projection `json:"projection,omitempty"`
	Command    string              `json:"command,omitempty"`
	Error      string              `json:"error,omitempty"`
}

// WebSocketHandler serves the live session channel.
type WebSocketHandler struct {
	session        Session
	hub            *Hub
	allowedOrigins []string
	isDev          bool
	logger         *slog.Logger
}

// NewWebSocketHandler creates a new WebSocket handler.
func NewWebSocketHandler(s Session, hub *Hub, allowedOrigins []string, isDev bool, logger *slog.Logger) *WebSocketHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebSocketHandler{
		session:        s,
		hub:            hub,
		allowedOrigins: allowedOrigins,
		isDev:          isDev,
		logger:         logger,
	}
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	connID := uuid.NewString()
	sessionID := h.session.ID()
	h.logger.Info("WebSocket connection request", "conn_id", connID, "session_id", sessionID, "ip", r.RemoteAddr)

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// Origin is checked above.
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.logger.Error("Failed to accept WebSocket", "error", err, "conn_id", connID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			h.logger.Debug("Failed to close websocket", "error", closeErr, "conn_id", connID)
		}
	}()

	h.hub.Register(connID, ws)
	defer h.hub.Unregister(connID, ws)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	updates, unsubscribe := h.session.Subscribe()
	defer unsubscribe()

	var wg sync.WaitGroup
	wg.Add(2)

	// Input loop: commands -> session.
	go func() {
		defer wg.Done()
		defer cancel()
		h.inputLoop(ctx, ws, connID)
	}()

	// Output loop: projections -> WebSocket.
	go func() {
		defer wg.Done()
		defer cancel()
		h.outputLoop(ctx, ws, updates, connID)
	}()

	wg.Wait()
	h.logger.Info("Live connection ended", "conn_id", connID)
}

func (h *WebSocketHandler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if middleware.OriginAllowed(h.allowedOrigins, origin) {
		return true
	}
	h.logger.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigins)
	return false
}

func (h *WebSocketHandler) inputLoop(ctx context.Context, ws *websocket.Conn, connID string) {
	h.logger.Debug("Starting input loop", "conn_id", connID)
	for {
		_, message, err := ws.Read(ctx)
		if err != nil {
			switch {
			case websocket.CloseStatus(err) != -1:
				h.logger.Debug("WebSocket closed by client", "conn_id", connID)
			case errors.Is(err, context.Canceled):
			default:
				h.logger.Warn("WebSocket read error", "error", err, "conn_id", connID)
			}
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			h.sendError(ctx, ws, "", "invalid message")
			continue
		}

		if err := h.dispatch(ctx, ws, msg); err != nil {
			h.sendError(ctx, ws, msg.Type, err.Error())
		}
	}
}

func (h *WebSocketHandler) dispatch(ctx context.Context, ws *websocket.Conn, msg ClientMessage) error {
	switch msg.Type {
	case TypeSelect:
		switch {
		case msg.Index != nil && msg.ID != nil:
			return errors.New("provide either index or id, not both")
		case msg.Index != nil:
			return h.session.SelectCharacter(*msg.Index)
		case msg.ID != nil:
			return h.session.SelectCharacterByID(*msg.ID)
		default:
			return errors.New("index or id is required")
		}
	case TypeSubmit:
		return h.session.Submit(msg.Text)
	case TypeDraft:
		h.session.SetDraft(msg.Text)
		return nil
	case TypePing:
		if err := h.writeJSON(ctx, ws, ServerMessage{Type: TypePong}); err != nil {
			h.logger.Debug("Failed to send pong", "error", err)
		}
		return nil
	default:
		return errors.New("unknown message type")
	}
}

func (h *WebSocketHandler) outputLoop(ctx context.Context, ws *websocket.Conn, updates <-chan session.Projection, connID string) {
	for {
		select {
		case <-ctx.Done():
			return
		case p, ok := <-updates:
			if !ok {
				h.logger.Debug("Session closed, ending live connection", "conn_id", connID)
				_ = ws.Close(websocket.StatusNormalClosure, "session closed")
				return
			}
			if err := h.writeJSON(ctx, ws, ServerMessage{Type: TypeProjection, Projection: &p}); err != nil {
				if ctx.Err() == nil {
					h.logger.Debug("WebSocket write error", "error", err, "conn_id", connID)
				}
				return
			}
		}
	}
}

func (h *WebSocketHandler) sendError(ctx context.Context, ws *websocket.Conn, command, message string) {
	if err := h.writeJSON(ctx, ws, ServerMessage{Type: TypeError, Command: command, Error: message}); err != nil {
		h.logger.Debug("Failed to send error", "error", err)
	}
}

func (h *WebSocketHandler) writeJSON(ctx context.Context, ws *websocket.Conn, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return ws.Write(ctx, websocket.MessageText, data)
}
