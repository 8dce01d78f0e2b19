package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/voxkit/voxbridge/pkg/adapters/synth"
	"github.com/voxkit/voxbridge/pkg/frames"
	"github.com/voxkit/voxbridge/pkg/session"
)

// sessionConfig is the first message on every text-ingest connection.
type sessionConfig struct {
	Credential   string `json:"credential"`
	VoiceID      string `json:"voice_id"`
	ModelID      string `json:"model_id"`
	OutputFormat string `json:"output_format"`
}

// textEvent is every subsequent message: a delta or the end marker.
type textEvent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

const (
	eventTextDelta = "text_delta"
	eventEnd       = "end"
)

// handleText owns one text-ingest connection. The first message must be a
// valid configuration or the connection dies with no session created; after
// that every message is enqueued in order until end or disconnect.
func (s *Server) handleText(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session_id")
	if sessionID == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	conn, ok := s.upgrade(w, r)
	if !ok {
		return
	}
	defer conn.Close()

	traceID := uuid.NewString()
	log := slog.With(
		slog.String("session_id", sessionID),
		slog.String("trace_id", traceID))

	cfg, err := s.readConfig(conn)
	if err != nil {
		log.Warn("invalid configuration message, closing text ingest",
			slog.String("error", err.Error()))
		return
	}

	sess, isNew, err := s.registry.GetOrCreate(sessionID, cfg)
	if err != nil {
		log.Error("session lookup failed", slog.String("error", err.Error()))
		return
	}
	if isNew {
		log.Info("session created",
			slog.String("voice_id", cfg.VoiceID),
			slog.String("model_id", cfg.ModelID))
	}
	s.ensureDriver(sess)

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			log.Debug("text ingest disconnected", slog.String("error", err.Error()))
			return
		}
		var evt textEvent
		if err := json.Unmarshal(msg, &evt); err != nil {
			log.Warn("undecodable text event skipped", slog.String("error", err.Error()))
			continue
		}
		switch evt.Type {
		case eventTextDelta:
			if evt.Text == "" {
				continue
			}
			f := frames.NewTextFrame(sessionID, time.Now().UnixNano(), evt.Text,
				map[string]string{frames.MetaTraceID: traceID, frames.MetaSource: "ingest"})
			if err := sess.Enqueue(f); err != nil {
				log.Warn("delta rejected", slog.String("error", err.Error()))
			}
		case eventEnd:
			f := frames.NewControlFrame(sessionID, time.Now().UnixNano(), frames.ControlEndOfInput,
				map[string]string{frames.MetaTraceID: traceID, frames.MetaSource: "ingest"})
			if err := sess.Enqueue(f); err != nil {
				log.Warn("end rejected", slog.String("error", err.Error()))
			}
			log.Info("text stream ended")
			return
		default:
			log.Warn("unknown text event type skipped", slog.String("type", evt.Type))
		}
	}
}

// readConfig reads and validates the mandatory first message.
func (s *Server) readConfig(conn *websocket.Conn) (*session.Config, error) {
	_, first, err := conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	var raw sessionConfig
	if err := json.Unmarshal(first, &raw); err != nil {
		return nil, err
	}
	if strings.TrimSpace(raw.Credential) == "" {
		return nil, errConfigField("credential")
	}
	if strings.TrimSpace(raw.VoiceID) == "" {
		return nil, errConfigField("voice_id")
	}
	if raw.ModelID == "" {
		raw.ModelID = s.cfg.DefaultModelID
	}
	return &session.Config{
		Credential:   raw.Credential,
		VoiceID:      raw.VoiceID,
		ModelID:      raw.ModelID,
		OutputFormat: raw.OutputFormat,
	}, nil
}

// ensureDriver starts the synthesis driver if the session has none yet. A
// terminated driver is never restarted.
func (s *Server) ensureDriver(sess *session.Session) {
	if sess.Driver() != nil {
		return
	}
	cfg := sess.Config()
	syn := s.factory(sess.ID, synth.Config{
		Credential:   cfg.Credential,
		VoiceID:      cfg.VoiceID,
		ModelID:      cfg.ModelID,
		OutputFormat: cfg.OutputFormat,
	})
	drv := session.NewDriver(sess, syn, s.observer)
	if err := sess.AttachDriver(drv); err != nil {
		// Lost the race to a concurrent ingest connection; its driver serves.
		return
	}
	drv.Start(context.Background())
}

func errConfigField(field string) error {
	return fmt.Errorf("missing required config field %q", field)
}
