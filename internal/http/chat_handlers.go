package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/example/cab-dispatch/internal/apperr"
	"github.com/example/cab-dispatch/internal/chat"
	"github.com/example/cab-dispatch/internal/live"
)

const (
	wsReadTimeout = 60 * time.Second
	// must stay below wsReadTimeout
	wsPingInterval = 50 * time.Second
)

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())
	var req chat.SendRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	m, err := s.deps.Chat.Send(r.Context(), p, req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleInbox(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())
	ms, err := s.deps.Chat.Inbox(r.Context(), p)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(ms))
}

func (s *Server) handleConversation(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())
	with := strings.TrimSpace(r.URL.Query().Get("withEmail"))
	if with == "" {
		s.writeError(w, r, apperr.Invalid("withEmail is required"))
		return
	}
	ms, err := s.deps.Chat.Conversation(r.Context(), p, with)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(ms))
}

func (s *Server) handleMarkMessageRead(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.deps.Chat.MarkRead(r.Context(), p, id); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "read"})
}

func (s *Server) handleContacts(w http.ResponseWriter, r *http.Request) {
	cs, err := s.deps.Chat.ContactsByRole(r.Context(), r.URL.Query().Get("role"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(cs))
}

func (s *Server) handleContactsForMe(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())
	cs, err := s.deps.Chat.ContactsFor(r.Context(), p)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cs)
}

func (s *Server) handleTripMessages(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())
	tripID, err := pathID(r, "tripId")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	ms, err := s.deps.Chat.TripMessages(r.Context(), p, tripID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(ms))
}

func (s *Server) handleTripSend(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())
	tripID, err := pathID(r, "tripId")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req chat.SendRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	m, err := s.deps.Chat.SendTrip(r.Context(), p, tripID, req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleTripMessageRead(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())
	tripID, err := pathID(r, "tripId")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	msgID, err := pathID(r, "messageId")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.deps.Chat.MarkTripMessageRead(r.Context(), p, tripID, msgID); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "read"})
}

// handleWS authenticates with ?token= (browsers cannot set headers on a
// websocket handshake) and subscribes the connection to the caller's inbox
// and role topics until the client goes away.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if s.deps.Live == nil {
		http.NotFound(w, r)
		return
	}
	p, err := s.deps.Tokens.Validate(r.URL.Query().Get("token"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the handshake error
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	stop := s.deps.Live.Attach(conn, s.pingInterval, live.InboxTopic(p.Email), live.RoleTopic(p.Role.String()))
	defer stop()

	conn.SetReadLimit(4096)
	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	}
}
