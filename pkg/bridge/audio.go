package bridge

import (
	"log/slog"
	"net/http"

	"github.com/google/uuid"
)

// handleAudio owns one audio-egress connection: wait for the session, attach
// as a broadcast consumer, then idle on keep-alives until disconnect. A
// consumer may connect slightly before its text producer, hence the bounded
// wait.
func (s *Server) handleAudio(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session_id")
	if sessionID == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	conn, ok := s.upgrade(w, r)
	if !ok {
		return
	}

	log := slog.With(slog.String("session_id", sessionID))
	log.Info("audio consumer connected")

	sess, found := s.registry.Await(r.Context(), sessionID, s.sessionWait(), 0)
	if !found {
		log.Warn("no session appeared within wait budget, closing audio egress")
		_ = conn.Close()
		return
	}

	consumer := newWSConsumer(uuid.NewString(), conn)
	sess.Broadcaster().Attach(consumer)
	defer func() {
		sess.Broadcaster().Detach(consumer.ID())
		_ = consumer.Close()
		log.Info("audio consumer detached")
	}()

	// Server-to-client only: drain keep-alive pings until the peer goes away.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
