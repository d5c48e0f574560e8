// Package adminhttp exposes the runtime's administrative command surface
// (rebind/refresh config) plus a read-only status and live-event surface,
// over HTTP. Grounded on the control-plane router family used elsewhere in
// the retrieval pack (go-chi/chi) and the teacher's API-token bearer-auth
// convention, adapted here to JWT.
package adminhttp

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/gillohner/pubky-bot-builder-telegram-sub000/internal/bundlestore"
	"github.com/gillohner/pubky-bot-builder-telegram-sub000/internal/configstore"
	"github.com/gillohner/pubky-bot-builder-telegram-sub000/internal/hashutil"
	"github.com/gillohner/pubky-bot-builder-telegram-sub000/internal/snapshot"
	"github.com/gillohner/pubky-bot-builder-telegram-sub000/pkg/logger"
)

// Server is the admin HTTP surface.
type Server struct {
	router *chi.Mux
	events *broadcaster

	builder *snapshot.Builder
	configs *configstore.Store
	bundles *bundlestore.Store
	log     *logger.Logger
}

// Config configures Server.
type Config struct {
	JWTSecret string
}

// New constructs the admin HTTP surface's router.
func New(cfg Config, builder *snapshot.Builder, configs *configstore.Store, bundles *bundlestore.Store, log *logger.Logger) *Server {
	if log == nil {
		log = logger.NewDefault("adminhttp")
	}
	s := &Server{
		router:  chi.NewRouter(),
		events:  newBroadcaster(),
		builder: builder,
		configs: configs,
		bundles: bundles,
		log:     log,
	}

	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(10 * time.Second))
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST"},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
	}))

	s.router.Get("/healthz", s.handleHealth)

	s.router.Group(func(r chi.Router) {
		if cfg.JWTSecret != "" {
			r.Use(jwtAuth(cfg.JWTSecret))
		}
		r.Post("/admin/chats/{chatId}/rebind", s.handleRebind)
		r.Post("/admin/chats/{chatId}/refresh", s.handleRefresh)
		r.Get("/admin/bundles/stats", s.handleBundleStats)
		r.Get("/admin/events", s.handleEvents)
	})

	return s
}

// Handler returns the server's root http.Handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// MountMetrics exposes handler (typically promhttp.Handler()) at /metrics.
func (s *Server) MountMetrics(handler http.Handler) {
	s.router.Handle("/metrics", handler)
}

// PublishEvent broadcasts ev to every connected /admin/events subscriber.
func (s *Server) PublishEvent(ev Event) {
	s.events.publish(ev)
}

type rebindRequest struct {
	ConfigID  string         `json:"configId"`
	Overrides map[string]any `json:"overrides,omitempty"`
}

func (s *Server) handleRebind(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "chatId")
	var body rebindRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.ConfigID == "" {
		writeError(w, http.StatusBadRequest, "configId is required")
		return
	}

	configJSON, err := json.Marshal(body.Overrides)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid overrides")
		return
	}
	configHash, err := hashutil.SumJSON(body.Overrides)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if err := s.configs.UpsertChatConfig(r.Context(), configstore.ChatConfig{
		ChatID:     chatID,
		ConfigID:   body.ConfigID,
		ConfigJSON: string(configJSON),
		ConfigHash: configHash,
	}); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	snap, err := s.builder.Build(r.Context(), chatID, snapshot.BuildOptions{Force: true})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.events.publish(Event{Kind: "rebind", Subject: chatID, Detail: body.ConfigID})
	writeJSON(w, http.StatusOK, map[string]any{"configHash": snap.ConfigHash})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "chatId")
	snap, err := s.builder.Build(r.Context(), chatID, snapshot.BuildOptions{Force: true})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.events.publish(Event{Kind: "refresh", Subject: chatID})
	writeJSON(w, http.StatusOK, map[string]any{"configHash": snap.ConfigHash})
}

func (s *Server) handleBundleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.bundles.Metrics(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{"ok": true}
	if vm, err := mem.VirtualMemory(); err == nil {
		status["memUsedPercent"] = vm.UsedPercent
	}
	if avg, err := load.Avg(); err == nil {
		status["load1"] = avg.Load1
	}
	writeJSON(w, http.StatusOK, status)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithField("err", err.Error()).Warn("websocket upgrade failed")
		return
	}
	defer conn.Close()

	ch := s.events.subscribe()
	defer s.events.unsubscribe(ch)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
