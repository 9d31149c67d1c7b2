package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/RichardoC/padchat/internal/chat"
	"github.com/RichardoC/padchat/internal/models"
	"github.com/RichardoC/padchat/internal/render"
)

const (
	maxUploadBytes   = 20 << 20
	defaultTurnLimit = 20
	maxTurnLimit     = 500
)

// TurnLedger is the read side of the turn log.
type TurnLedger interface {
	RecentTurns(ctx context.Context, limit int) ([]models.TurnRecord, error)
	TurnCounts(ctx context.Context) (map[models.TurnStatus]int, error)
}

type Handler struct {
	chat   *chat.Controller
	turns  TurnLedger
	logger *zap.Logger
}

// NewHandler wires the HTTP surface. turns may be nil when the ledger is
// disabled.
func NewHandler(controller *chat.Controller, turns TurnLedger, logger *zap.Logger) *Handler {
	return &Handler{
		chat:   controller,
		turns:  turns,
		logger: logger,
	}
}

func (h *Handler) Routes() http.Handler {
	r := mux.NewRouter()
	r.Use(h.withLogging)

	r.HandleFunc("/healthz", h.Health).Methods(http.MethodGet)
	r.HandleFunc("/api/conversation", h.GetConversation).Methods(http.MethodGet)
	r.HandleFunc("/api/message", h.HandleMessage).Methods(http.MethodPost)
	r.HandleFunc("/api/events", h.Events).Methods(http.MethodGet)
	r.HandleFunc("/api/reset", h.Reset).Methods(http.MethodPost)
	r.HandleFunc("/api/turns", h.GetTurns).Methods(http.MethodGet)
	r.PathPrefix("/").Handler(staticHandler()).Methods(http.MethodGet)

	return r
}

type MessageRequest struct {
	Content string `json:"content"`
}

type ConversationResponse struct {
	Model     string           `json:"model,omitempty"`
	Available bool             `json:"available"`
	Busy      bool             `json:"busy"`
	Error     chat.Banner      `json:"error"`
	Messages  []models.Message `json:"messages"`
	HTML      string           `json:"html"`
}

// FrameEvent is the payload of every SSE "frame" event.
type FrameEvent struct {
	Busy  bool        `json:"busy"`
	Error chat.Banner `json:"error"`
	HTML  string      `json:"html"`
}

type DoneEvent struct {
	Outcome string      `json:"outcome"`
	Error   chat.Banner `json:"error"`
}

type TurnsResponse struct {
	Turns  []models.TurnRecord       `json:"turns"`
	Counts map[models.TurnStatus]int `json:"counts"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) GetConversation(w http.ResponseWriter, r *http.Request) {
	frame := h.chat.State()
	html, err := render.HTML(render.Render(frame))
	if err != nil {
		h.logger.Error("Failed to render conversation", zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, ConversationResponse{
		Model:     h.chat.Model(),
		Available: h.chat.Available(),
		Busy:      frame.Busy,
		Error:     frame.Error,
		Messages:  frame.Conversation.Messages,
		HTML:      html,
	})
}

// HandleMessage submits one turn and streams every resulting frame as
// Server-Sent Events. A blank turn, or one sent while another is in
// flight, gets 204 and no stream.
func (h *Handler) HandleMessage(w http.ResponseWriter, r *http.Request) {
	turn, err := h.parseTurn(w, r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	if turn.Image != nil {
		if c, ok := turn.Image.Reader.(io.Closer); ok {
			defer c.Close()
		}
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	sse := &eventWriter{w: w, flusher: flusher}
	turn.Observe = func(f chat.Frame) {
		if err := h.writeFrame(sse, f); err != nil {
			h.logger.Debug("Failed to write frame", zap.Error(err))
		}
	}

	// A turn runs to completion even if the client goes away; later frame
	// writes just fail.
	outcome := h.chat.SendTurn(context.WithoutCancel(r.Context()), *turn)
	if !sse.started {
		switch outcome {
		case chat.OutcomeUnavailable:
			writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: h.chat.State().Error.Message})
		default:
			w.WriteHeader(http.StatusNoContent)
		}
		return
	}

	if err := sse.send("done", DoneEvent{Outcome: outcome.String(), Error: h.chat.State().Error}); err != nil {
		h.logger.Debug("Failed to write done event", zap.Error(err))
	}
}

func (h *Handler) parseTurn(w http.ResponseWriter, r *http.Request) (*chat.Turn, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		var req MessageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return nil, errors.New("invalid request body")
		}
		return &chat.Turn{Text: req.Content}, nil
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		return nil, fmt.Errorf("invalid form: %w", err)
	}

	turn := &chat.Turn{Text: r.FormValue("text")}
	if turn.Text == "" {
		turn.Text = r.FormValue("content")
	}
	if r.MultipartForm == nil {
		return turn, nil
	}

	files := r.MultipartForm.File["image"]
	switch len(files) {
	case 0:
		return turn, nil
	case 1:
	default:
		return nil, errors.New("only one image per turn is supported")
	}
	f, err := files[0].Open()
	if err != nil {
		return nil, fmt.Errorf("open upload: %w", err)
	}
	turn.Image = &chat.Image{Reader: f, MIMEType: files[0].Header.Get("Content-Type")}
	return turn, nil
}

func (h *Handler) writeFrame(sse *eventWriter, f chat.Frame) error {
	html, err := render.HTML(render.Render(f))
	if err != nil {
		return err
	}
	return sse.send("frame", FrameEvent{Busy: f.Busy, Error: f.Error, HTML: html})
}

// Events streams frames from every turn until the client goes away, so
// other open pages follow along. Slow clients only see the latest frame.
func (h *Handler) Events(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	latest := make(chan chat.Frame, 1)
	unsubscribe := h.chat.Subscribe(func(f chat.Frame) {
		for {
			select {
			case latest <- f:
				return
			default:
			}
			select {
			case <-latest:
			default:
			}
		}
	})
	defer unsubscribe()

	sse := &eventWriter{w: w, flusher: flusher}
	if err := h.writeFrame(sse, h.chat.State()); err != nil {
		h.logger.Debug("Failed to write frame", zap.Error(err))
		return
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case f := <-latest:
			if err := h.writeFrame(sse, f); err != nil {
				h.logger.Debug("Event stream closed", zap.Error(err))
				return
			}
		}
	}
}

func (h *Handler) Reset(w http.ResponseWriter, r *http.Request) {
	err := h.chat.Reset(r.Context())
	switch {
	case errors.Is(err, chat.ErrBusy):
		writeJSON(w, http.StatusConflict, errorResponse{Error: "a message is still being answered"})
		return
	case errors.Is(err, chat.ErrUnavailable):
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: h.chat.State().Error.Message})
		return
	case err != nil:
		h.logger.Error("Failed to reset conversation", zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	h.GetConversation(w, r)
}

func (h *Handler) GetTurns(w http.ResponseWriter, r *http.Request) {
	if h.turns == nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "turn ledger is disabled"})
		return
	}

	limit := defaultTurnLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Invalid limit"})
			return
		}
		limit = min(n, maxTurnLimit)
	}

	turns, err := h.turns.RecentTurns(r.Context(), limit)
	if err != nil {
		h.logger.Error("Failed to get turns", zap.Error(err), zap.Int("limit", limit))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	counts, err := h.turns.TurnCounts(r.Context())
	if err != nil {
		h.logger.Error("Failed to count turns", zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, TurnsResponse{Turns: turns, Counts: counts})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// eventWriter writes SSE events, sending the stream headers with the first one.
type eventWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	started bool
}

func (e *eventWriter) send(event string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if !e.started {
		hdr := e.w.Header()
		hdr.Set("Content-Type", "text/event-stream")
		hdr.Set("Cache-Control", "no-cache")
		hdr.Set("Connection", "keep-alive")
		hdr.Set("X-Accel-Buffering", "no")
		e.w.WriteHeader(http.StatusOK)
		e.started = true
	}
	if _, err := fmt.Fprintf(e.w, "event: %s\ndata: %s\n\n", event, strings.TrimSpace(string(data))); err != nil {
		return err
	}
	e.flusher.Flush()
	return nil
}
