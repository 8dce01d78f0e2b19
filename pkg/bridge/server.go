package bridge

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/voxkit/voxbridge/pkg/adapters/synth"
	"github.com/voxkit/voxbridge/pkg/metrics"
	"github.com/voxkit/voxbridge/pkg/session"
)

type Config struct {
	ServerAddr     string   `mapstructure:"server_addr"`
	TextPath       string   `mapstructure:"text_path"`
	AudioPath      string   `mapstructure:"audio_path"`
	SessionWaitMS  int      `mapstructure:"session_wait_ms"`
	AllowAnyOrigin bool     `mapstructure:"allow_any_origin"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	DefaultModelID string   `mapstructure:"default_model_id"`
}

func (c Config) withDefaults() Config {
	if c.ServerAddr == "" {
		c.ServerAddr = ":8000"
	}
	if c.TextPath == "" {
		c.TextPath = "/ws/text"
	}
	if c.AudioPath == "" {
		c.AudioPath = "/ws/audio"
	}
	if c.SessionWaitMS <= 0 {
		c.SessionWaitMS = 5000
	}
	if c.DefaultModelID == "" {
		c.DefaultModelID = "eleven_flash_v2_5"
	}
	if !c.AllowAnyOrigin && len(c.AllowedOrigins) == 0 {
		c.AllowAnyOrigin = true
	}
	return c
}

// Server exposes the per-session text-ingest and audio-egress websocket
// endpoints and glues them to the registry and the synthesis drivers.
type Server struct {
	cfg      Config
	registry *session.Registry
	factory  synth.Factory
	observer metrics.Observer
	upgrader websocket.Upgrader
	server   *http.Server

	draining atomic.Bool
}

func New(cfg Config, registry *session.Registry, factory synth.Factory, observer metrics.Observer) *Server {
	cfg = cfg.withDefaults()
	s := &Server{
		cfg:      cfg,
		registry: registry,
		factory:  factory,
		observer: observer,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
	s.upgrader.CheckOrigin = s.checkOrigin
	return s
}

func (s *Server) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.server = &http.Server{
		Addr:              s.cfg.ServerAddr,
		ReadHeaderTimeout: 5 * time.Second,
		Handler:           s.Handler(),
	}
	go func() {
		<-ctx.Done()
		_ = s.server.Close()
	}()
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("bridge server error", "error", err.Error())
		}
	}()
	slog.Info("bridge server listening",
		slog.String("addr", s.cfg.ServerAddr),
		slog.String("text_path", s.cfg.TextPath),
		slog.String("audio_path", s.cfg.AudioPath))
	return nil
}

// Handler builds the route table; split out so tests can mount it on
// httptest servers.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+s.cfg.TextPath+"/{session_id}", s.handleText)
	mux.HandleFunc("GET "+s.cfg.AudioPath+"/{session_id}", s.handleAudio)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

// Stop drains: new upgrades are refused, then every session is torn down.
func (s *Server) Stop() error {
	s.draining.Store(true)
	if s.server != nil {
		_ = s.server.Close()
	}
	s.registry.CloseAll()
	return nil
}

func (s *Server) upgrade(w http.ResponseWriter, r *http.Request) (*websocket.Conn, bool) {
	if s.draining.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		return nil, false
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, false
	}
	return conn, true
}

func (s *Server) sessionWait() time.Duration {
	return time.Duration(s.cfg.SessionWaitMS) * time.Millisecond
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if s.cfg.AllowAnyOrigin {
		return true
	}
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	origin = strings.TrimRight(origin, "/")
	originHost := strings.TrimPrefix(origin, "https://")
	originHost = strings.TrimPrefix(originHost, "http://")
	for _, allowed := range s.cfg.AllowedOrigins {
		a := strings.TrimSpace(allowed)
		if a == "" {
			continue
		}
		a = strings.TrimRight(a, "/")
		if strings.HasPrefix(a, "http://") || strings.HasPrefix(a, "https://") {
			if strings.EqualFold(a, origin) {
				return true
			}
			continue
		}
		if strings.EqualFold(a, originHost) {
			return true
		}
	}
	return false
}
