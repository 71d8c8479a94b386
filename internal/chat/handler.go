// Package chat exposes the conversation session over HTTP: commands as JSON
// requests and projection updates as a server-sent event stream.
package chat

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/ashureev/timetalks/internal/api"
	"github.com/ashureev/timetalks/internal/session"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

const (
	defaultMaxRequestBodySize = 1 << 20
	defaultKeepaliveInterval  = 10 * time.Second
	defaultRetryDelay         = 5 * time.Second
)

// Session is the part of session.Controller the HTTP layer drives.
type Session interface {
	ID() string
	Snapshot() session.Projection
	SelectCharacter(index int) error
	SelectCharacterByID(id int) error
	SetDraft(text string)
	Submit(text string) error
	Subscribe() (<-chan session.Projection, func())
}

var _ Session = (*session.Controller)(nil)

// Options tunes the handler. Zero values use defaults.
type Options struct {
	MaxRequestBodySize int64
	KeepaliveInterval  time.Duration
	RetryDelay         time.Duration
	Logger             *slog.Logger
}

// Handler serves the session endpoints.
type Handler struct {
	session     Session
	maxBodySize int64
	keepalive   time.Duration
	retryDelay  time.Duration
	logger      *slog.Logger

	eventCounter atomic.Int64
}

// NewHandler creates a session handler.
func NewHandler(s Session, opts Options) *Handler {
	if opts.MaxRequestBodySize <= 0 {
		opts.MaxRequestBodySize = defaultMaxRequestBodySize
	}
	if opts.KeepaliveInterval <= 0 {
		opts.KeepaliveInterval = defaultKeepaliveInterval
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = defaultRetryDelay
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Handler{
		session:     s,
		maxBodySize: opts.MaxRequestBodySize,
		keepalive:   opts.KeepaliveInterval,
		retryDelay:  opts.RetryDelay,
		logger:      opts.Logger,
	}
}

// RegisterRoutes registers the session routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api/session", func(r chi.Router) {
		r.Get("/", h.HandleSnapshot)
		r.Post("/select", h.HandleSelect)
		r.Put("/draft", h.HandleDraft)
		r.Post("/messages", h.HandleSubmit)
		r.Get("/stream", h.HandleStream)
	})
}

// SelectRequest picks a character by catalog index or by id. Exactly one
// must be set.
type SelectRequest struct {
	Index *int `json:"index,omitempty"`
	ID    *int `json:"id,omitempty"`
}

// TextRequest carries user input for the draft and message endpoints.
type TextRequest struct {
	Text string `json:"text"`
}

// HandleSnapshot handles GET /api/session.
func (h *Handler) HandleSnapshot(w http.ResponseWriter, _ *http.Request) {
	api.JSON(w, http.StatusOK, h.session.Snapshot())
}

// HandleSelect handles POST /api/session/select.
func (h *Handler) HandleSelect(w http.ResponseWriter, r *http.Request) {
	var req SelectRequest
	if err := api.DecodeJSON(w, r, h.maxBodySize, &req); err != nil {
		api.Error(w, statusForDecodeError(err), err.Error())
		return
	}

	var err error
	switch {
	case req.Index != nil && req.ID != nil:
		api.Error(w, http.StatusBadRequest, "provide either index or id, not both")
		return
	case req.Index != nil:
		err = h.session.SelectCharacter(*req.Index)
	case req.ID != nil:
		err = h.session.SelectCharacterByID(*req.ID)
	default:
		api.Error(w, http.StatusBadRequest, "index or id is required")
		return
	}
	if err != nil {
		h.writeSessionError(w, r, err)
		return
	}

	api.JSON(w, http.StatusOK, h.session.Snapshot())
}

// HandleDraft handles PUT /api/session/draft.
func (h *Handler) HandleDraft(w http.ResponseWriter, r *http.Request) {
	var req TextRequest
	if err := api.DecodeJSON(w, r, h.maxBodySize, &req); err != nil {
		api.Error(w, statusForDecodeError(err), err.Error())
		return
	}
	h.session.SetDraft(req.Text)
	api.JSON(w, http.StatusOK, h.session.Snapshot())
}

// HandleSubmit handles POST /api/session/messages. It answers 202 once the
// user's message is in the transcript; the reply arrives on the stream.
func (h *Handler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	var req TextRequest
	if err := api.DecodeJSON(w, r, h.maxBodySize, &req); err != nil {
		api.Error(w, statusForDecodeError(err), err.Error())
		return
	}

	if err := h.session.Submit(req.Text); err != nil {
		h.writeSessionError(w, r, err)
		return
	}

	h.logger.Info("Message accepted",
		"session_id", h.session.ID(),
		"request_id", chiMiddleware.GetReqID(r.Context()),
		"message_length", len(req.Text),
	)
	api.JSON(w, http.StatusAccepted, h.session.Snapshot())
}

func (h *Handler) writeSessionError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, session.ErrUnknownCharacter):
		status = http.StatusBadRequest
	case errors.Is(err, session.ErrCycleInFlight):
		status = http.StatusConflict
	case errors.Is(err, session.ErrEmptyMessage), errors.Is(err, session.ErrNoCharacter):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, session.ErrClosed):
		status = http.StatusServiceUnavailable
	}
	h.logger.Debug("Session command rejected",
		"path", r.URL.Path,
		"status", status,
		"error", err,
	)
	api.Error(w, status, err.Error())
}

func statusForDecodeError(err error) int {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return http.StatusRequestEntityTooLarge
	}
	return http.StatusBadRequest
}

// HandleStream handles GET /api/session/stream. Every projection change is
// sent as a "projection" event; the first one is the current state.
func (h *Handler) HandleStream(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		api.Error(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	sessionID := h.session.ID()

	// Configure client retry behavior
	if _, err := io.WriteString(w, fmt.Sprintf("retry: %d\n\n", h.retryDelay.Milliseconds())); err != nil {
		h.logger.Warn("failed to write SSE retry header", "error", err, "session_id", sessionID)
		return
	}
	flusher.Flush()

	updates, cancel := h.session.Subscribe()
	defer cancel()

	connectedData := fmt.Sprintf(`{"status":"connected","session_id":%q}`, sessionID)
	if err := writeSSEWithID(w, h.eventCounter.Add(1), "connected", connectedData); err != nil {
		h.logger.Warn("failed to write SSE connected event", "error", err, "session_id", sessionID)
		return
	}
	flusher.Flush()

	h.logger.Info("SSE connection established", "session_id", sessionID)
	defer h.logger.Info("SSE connection closed", "session_id", sessionID)

	keepalive := time.NewTicker(h.keepalive)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case p, ok := <-updates:
			if !ok {
				_ = writeSSE(w, "closed", `{"status":"closed"}`)
				flusher.Flush()
				return
			}
			data, err := json.Marshal(p)
			if err != nil {
				h.logger.Error("failed to serialize projection", "error", err, "session_id", sessionID)
				continue
			}
			if err := writeSSEWithID(w, h.eventCounter.Add(1), "projection", string(data)); err != nil {
				h.logger.Warn("failed to write SSE projection", "error", err, "session_id", sessionID)
				return
			}
			flusher.Flush()
		case <-keepalive.C:
			if err := writeSSE(w, "ping", `{"status":"alive"}`); err != nil {
				h.logger.Warn("failed to write SSE keepalive ping", "error", err, "session_id", sessionID)
				return
			}
			flusher.Flush()
		}
	}
}

func writeSSE(w io.Writer, event, data string) error {
	_, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}

func writeSSEWithID(w io.Writer, id int64, event, data string) error {
	_, err := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", id, event, data)
	return err
}
