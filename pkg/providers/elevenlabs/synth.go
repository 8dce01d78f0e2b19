package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/voxkit/voxbridge/pkg/adapters/synth"
	"github.com/voxkit/voxbridge/pkg/errorsx"
	"github.com/voxkit/voxbridge/pkg/frames"
)

const (
	// DefaultBaseURL is the ElevenLabs realtime endpoint. Overridable for tests.
	DefaultBaseURL = "wss://api.elevenlabs.io"

	// pcmOutputFormat is always requested upstream regardless of the
	// session's configured output format: raw PCM can be relayed to
	// consumers chunk by chunk without container framing.
	pcmOutputFormat = "pcm_24000"
	pcmSampleRate   = 24000

	keepAliveInterval = 15 * time.Second
)

type Config struct {
	APIKey          string
	VoiceID         string
	ModelID         string
	SessionID       string
	BaseURL         string
	Stability       float64
	SimilarityBoost float64
}

// Synthesizer drives one stream-input websocket connection to ElevenLabs.
type Synthesizer struct {
	cfg     Config
	conn    *websocket.Conn
	out     chan frames.AudioFrame
	writeCh chan outMessage
	ctx     context.Context
	cancel  context.CancelFunc

	writeMu sync.Mutex
	errMu   sync.Mutex
	readErr error
}

type outMessage struct {
	text string
	eos  bool
}

func New(cfg Config) *Synthesizer {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Stability == 0 {
		cfg.Stability = 0.5
	}
	if cfg.SimilarityBoost == 0 {
		cfg.SimilarityBoost = 0.8
	}
	return &Synthesizer{
		cfg:     cfg,
		out:     make(chan frames.AudioFrame, 256),
		writeCh: make(chan outMessage, 256),
	}
}

func (s *Synthesizer) Name() string { return "elevenlabs" }

func (s *Synthesizer) Start(ctx context.Context) error {
	if s.cfg.APIKey == "" || s.cfg.VoiceID == "" {
		return errorsx.Wrap(errors.New("missing elevenlabs credential or voice id"), errorsx.ReasonConfigInvalid)
	}
	if ctx == nil {
		ctx = context.Background()
	}
	s.ctx, s.cancel = context.WithCancel(ctx)

	u := s.buildURL()
	slog.Debug("connecting to ElevenLabs",
		slog.String("session_id", s.cfg.SessionID),
		slog.String("voice_id", s.cfg.VoiceID),
		slog.String("model_id", s.cfg.ModelID))

	dialer := websocket.Dialer{Proxy: http.ProxyFromEnvironment}
	conn, resp, err := dialer.DialContext(s.ctx, u, http.Header{
		"xi-api-key": []string{s.cfg.APIKey},
	})
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusTooManyRequests {
			slog.Error("ElevenLabs rate limit exceeded",
				slog.String("session_id", s.cfg.SessionID),
				slog.String("status", resp.Status))
			return errorsx.Wrap(err, errorsx.ReasonSynthRateLimit)
		}
		slog.Error("failed to connect to ElevenLabs",
			slog.String("session_id", s.cfg.SessionID),
			slog.String("error", err.Error()))
		return errorsx.Wrap(err, errorsx.ReasonSynthConnect)
	}
	s.conn = conn
	slog.Info("connected to ElevenLabs",
		slog.String("session_id", s.cfg.SessionID))

	// Beginning-of-stream message carries the voice parameters.
	if err := s.send(map[string]any{
		"text": " ",
		"voice_settings": map[string]any{
			"stability":        s.cfg.Stability,
			"similarity_boost": s.cfg.SimilarityBoost,
		},
		"generation_config": map[string]any{
			"chunk_length_schedule": []int{120, 160, 250, 290},
		},
	}); err != nil {
		_ = conn.Close()
		return errorsx.Wrap(err, errorsx.ReasonSynthConnect)
	}

	go s.readLoop()
	go s.writeLoop()
	return nil
}

func (s *Synthesizer) SendChunk(text string) error {
	if s.conn == nil {
		return errorsx.Wrap(errors.New("not connected"), errorsx.ReasonSynthSend)
	}
	if text == "" {
		return nil
	}
	select {
	case s.writeCh <- outMessage{text: text}:
		return nil
	case <-s.ctx.Done():
		return errorsx.Wrap(s.ctx.Err(), errorsx.ReasonSynthSend)
	}
}

func (s *Synthesizer) End() error {
	if s.conn == nil {
		return errorsx.Wrap(errors.New("not connected"), errorsx.ReasonSynthSend)
	}
	select {
	case s.writeCh <- outMessage{eos: true}:
		return nil
	case <-s.ctx.Done():
		return errorsx.Wrap(s.ctx.Err(), errorsx.ReasonSynthSend)
	}
}

func (s *Synthesizer) Frames() <-chan frames.AudioFrame { return s.out }

func (s *Synthesizer) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.readErr
}

func (s *Synthesizer) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
	if s.conn != nil {
		s.writeMu.Lock()
		_ = s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		s.writeMu.Unlock()
		return s.conn.Close()
	}
	return nil
}

func (s *Synthesizer) buildURL() string {
	base := s.cfg.BaseURL + "/v1/text-to-speech/" + s.cfg.VoiceID + "/stream-input"
	q := url.Values{}
	if s.cfg.ModelID != "" {
		q.Set("model_id", s.cfg.ModelID)
	}
	q.Set("output_format", pcmOutputFormat)
	return base + "?" + q.Encode()
}

// writeLoop serializes all outbound protocol messages and keeps the
// connection alive during pauses in generation. It exits after the
// end-of-stream marker has been sent; the service closes the connection
// once remaining audio is flushed.
func (s *Synthesizer) writeLoop() {
	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case msg := <-s.writeCh:
			if msg.eos {
				if err := s.send(map[string]any{"text": ""}); err != nil {
					slog.Error("failed to send end-of-stream",
						slog.String("session_id", s.cfg.SessionID),
						slog.String("error", err.Error()))
				}
				return
			}
			if err := s.send(map[string]any{"text": msg.text, "try_trigger_generation": true}); err != nil {
				slog.Error("failed to send text chunk",
					slog.String("session_id", s.cfg.SessionID),
					slog.String("error", err.Error()))
				return
			}
		case <-ticker.C:
			// ElevenLabs drops idle stream-input connections after 20s.
			_ = s.send(map[string]any{"text": " "})
		}
	}
}

func (s *Synthesizer) readLoop() {
	defer close(s.out)
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if !isExpectedClose(err) && s.ctx.Err() == nil {
				s.setErr(errorsx.Wrap(err, errorsx.ReasonSynthStream))
				slog.Error("ElevenLabs read loop error",
					slog.String("session_id", s.cfg.SessionID),
					slog.String("error", err.Error()))
			} else {
				slog.Debug("ElevenLabs connection closed",
					slog.String("session_id", s.cfg.SessionID))
			}
			return
		}
		s.handleMessage(data)
	}
}

func (s *Synthesizer) handleMessage(data []byte) {
	var msg struct {
		Audio   string          `json:"audio"`
		IsFinal bool            `json:"isFinal"`
		Error   json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		slog.Warn("undecodable ElevenLabs message skipped",
			slog.String("session_id", s.cfg.SessionID),
			slog.String("error", err.Error()))
		return
	}
	if len(msg.Error) > 0 {
		slog.Error("ElevenLabs reported error",
			slog.String("session_id", s.cfg.SessionID),
			slog.String("detail", string(msg.Error)))
		return
	}
	if msg.Audio == "" {
		if msg.IsFinal {
			slog.Debug("ElevenLabs final message received",
				slog.String("session_id", s.cfg.SessionID))
		}
		return
	}
	raw, err := base64.StdEncoding.DecodeString(msg.Audio)
	if err != nil {
		slog.Error("audio payload decode error",
			slog.String("session_id", s.cfg.SessionID),
			slog.String("error", err.Error()))
		return
	}
	meta := map[string]string{
		frames.MetaSource:  "elevenlabs",
		frames.MetaVoiceID: s.cfg.VoiceID,
	}
	f := frames.NewAudioFrame(s.cfg.SessionID, time.Now().UnixNano(), raw, pcmSampleRate, 1, meta)
	select {
	case s.out <- f:
	case <-s.ctx.Done():
	}
}

func (s *Synthesizer) setErr(err error) {
	s.errMu.Lock()
	if s.readErr == nil {
		s.readErr = err
	}
	s.errMu.Unlock()
}

func (s *Synthesizer) send(payload map[string]any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, b)
}

func isExpectedClose(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
}

var _ synth.StreamingSynthesizer = (*Synthesizer)(nil)
