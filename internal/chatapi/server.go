package chatapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/ent0n29/tasknest/internal/config"
	"github.com/ent0n29/tasknest/internal/dialog"
	"github.com/ent0n29/tasknest/internal/observability"
	"github.com/ent0n29/tasknest/internal/protocol"
	"github.com/ent0n29/tasknest/internal/taskstore"
)

// DialogEngine is the conversation state machine the gateway feeds events to.
type DialogEngine interface {
	HandleText(ctx context.Context, ownerKey, displayName, text string) []dialog.Reply
	HandleButton(ctx context.Context, ownerKey, data string) []dialog.Reply
}

// Server exposes the chat websocket, a small REST read surface and the
// operational endpoints. It also implements remind.Notifier by pushing
// reminder frames to the owner's live connections.
type Server struct {
	cfg      config.Config
	engine   DialogEngine
	store    taskstore.Store
	metrics  *observability.Metrics
	upgrader websocket.Upgrader

	mu    sync.RWMutex
	conns map[string]map[*client]struct{}
}

type client struct {
	outbound chan any
}

func New(cfg config.Config, engine DialogEngine, store taskstore.Store, metrics *observability.Metrics) *Server {
	return &Server{
		cfg:     cfg,
		engine:  engine,
		store:   store,
		metrics: metrics,
		conns:   make(map[string]map[*client]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only same-origin browser connections unless explicitly
				// opened up; other sites must not drive a user's dialog.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Get("/v1/chat/ws", s.handleChatWS)
	r.Get("/v1/users/{id}/tasks", s.handleListUserTasks)
	r.Get("/v1/users/{id}/tags", s.handleListUserTags)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"connections": s.connectionCount(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func (s *Server) handleChatWS(w http.ResponseWriter, r *http.Request) {
	ownerKey := strings.TrimSpace(r.URL.Query().Get("user_id"))
	if ownerKey == "" {
		respondError(w, http.StatusBadRequest, "missing_user_id", "query parameter user_id is required")
		return
	}
	displayName := strings.TrimSpace(r.URL.Query().Get("display_name"))

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	c := &client{outbound: make(chan any, 64)}
	s.register(ownerKey, c)
	defer s.unregister(ownerKey, c)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-c.outbound:
				if !ok {
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
				if err := conn.WriteJSON(msg); err != nil {
					cancel()
					return
				}
				s.countMessage("outbound", msg)
			}
		}
	}()

	conn.SetReadLimit(64 << 10)
	_ = conn.SetReadDeadline(time.Now().Add(10 * time.Minute))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(10 * time.Minute))
		return nil
	})

	// One read loop per connection; dispatching inline preserves arrival
	// order for this user's events.
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}
		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			s.queue(c, protocol.ErrorEvent{
				Type:   protocol.TypeErrorEvent,
				Code:   "invalid_client_message",
				Detail: err.Error(),
			})
			continue
		}
		s.countMessage("inbound", parsed)

		var replies []dialog.Reply
		switch msg := parsed.(type) {
		case protocol.ClientMessage:
			if msg.UserID != ownerKey {
				s.queue(c, protocol.ErrorEvent{Type: protocol.TypeErrorEvent, Code: "user_mismatch", Detail: "user_id does not match this connection"})
				continue
			}
			name := msg.DisplayName
			if name == "" {
				name = displayName
			}
			replies = s.engine.HandleText(ctx, ownerKey, name, msg.Text)
		case protocol.ClientButton:
			if msg.UserID != ownerKey {
				s.queue(c, protocol.ErrorEvent{Type: protocol.TypeErrorEvent, Code: "user_mismatch", Detail: "user_id does not match this connection"})
				continue
			}
			replies = s.engine.HandleButton(ctx, ownerKey, msg.Data)
		}
		for _, reply := range replies {
			s.queue(c, botMessage(reply))
		}
	}

	cancel()
	<-writerDone
}

// Notify pushes a reminder to every live connection of the owner. Satisfies
// remind.Notifier; an offline user is a delivery failure so the send flag
// stays unset and the reminder can retry while still inside the window.
func (s *Server) Notify(_ context.Context, ownerKey, text string) error {
	s.mu.RLock()
	targets := make([]*client, 0, 2)
	for c := range s.conns[ownerKey] {
		targets = append(targets, c)
	}
	s.mu.RUnlock()

	if len(targets) == 0 {
		return errors.New("user has no live connection")
	}
	frame := protocol.Reminder{Type: protocol.TypeReminder, Text: text}
	delivered := false
	for _, c := range targets {
		if s.queue(c, frame) {
			delivered = true
		}
	}
	if !delivered {
		return errors.New("all connections saturated")
	}
	return nil
}

func (s *Server) handleListUserTasks(w http.ResponseWriter, r *http.Request) {
	ownerKey := chi.URLParam(r, "id")
	filter := taskstore.TaskFilter{OwnerKey: ownerKey}
	switch strings.ToLower(strings.TrimSpace(r.URL.Query().Get("status"))) {
	case "":
	case "active":
		done := false
		filter.Done = &done
	case "done":
		done := true
		filter.Done = &done
	default:
		respondError(w, http.StatusBadRequest, "invalid_status", "status must be active or done")
		return
	}

	tasks, err := s.store.ListTasks(r.Context(), filter)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"tasks": tasks})
}

func (s *Server) handleListUserTags(w http.ResponseWriter, r *http.Request) {
	tags, err := s.store.ListTags(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"tags": tags})
}

func (s *Server) register(ownerKey string, c *client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conns[ownerKey]; !ok {
		s.conns[ownerKey] = make(map[*client]struct{})
	}
	s.conns[ownerKey][c] = struct{}{}
}

func (s *Server) unregister(ownerKey string, c *client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if set, ok := s.conns[ownerKey]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(s.conns, ownerKey)
		}
	}
}

func (s *Server) connectionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, set := range s.conns {
		count += len(set)
	}
	return count
}

// queue keeps websocket writes single-threaded; drops when the outbound
// buffer is saturated rather than blocking the caller.
func (s *Server) queue(c *client, msg any) bool {
	select {
	case c.outbound <- msg:
		return true
	default:
		return false
	}
}

func (s *Server) countMessage(direction string, msg any) {
	if s.metrics == nil {
		return
	}
	if t, ok := messageTypeOf(msg); ok {
		s.metrics.WSMessages.WithLabelValues(direction, string(t)).Inc()
	}
}

func messageTypeOf(v any) (protocol.MessageType, bool) {
	switch m := v.(type) {
	case protocol.ClientMessage:
		return m.Type, true
	case protocol.ClientButton:
		return m.Type, true
	case protocol.BotMessage:
		return m.Type, true
	case protocol.Reminder:
		return m.Type, true
	case protocol.ErrorEvent:
		return m.Type, true
	default:
		return "", false
	}
}

func botMessage(reply dialog.Reply) protocol.BotMessage {
	msg := protocol.BotMessage{Type: protocol.TypeBotMessage, Text: reply.Text}
	for _, b := range reply.Buttons {
		msg.Buttons = append(msg.Buttons, protocol.BotButton{Label: b.Label, Data: b.Data})
	}
	return msg
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
