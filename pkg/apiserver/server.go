// Package apiserver is the management surface: a small HTTP API over the
// configuration store plus the websocket notification hubs. Every mutation
// broadcasts strictly after its transaction commits.
package apiserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/small-frappuccino/galactica/pkg/guildconfig"
	"github.com/small-frappuccino/galactica/pkg/hub"
	"github.com/small-frappuccino/galactica/pkg/log"
	"github.com/small-frappuccino/galactica/pkg/storage"
)

const defaultMaxBodyBytes = 64 * 1024

// Server serves the configuration API and the notification hubs.
type Server struct {
	addr       string
	store      *storage.Store
	guilds     *guildconfig.Service
	hub        *hub.Hub
	httpServer *http.Server
	listener   net.Listener
}

// NewServer wires the API routes and hub endpoints. Returns nil if addr is
// empty.
func NewServer(addr string, store *storage.Store, guilds *guildconfig.Service, h *hub.Hub) *Server {
	addr = strings.TrimSpace(addr)
	if addr == "" || store == nil {
		return nil
	}

	s := &Server{
		addr:   addr,
		store:  store,
		guilds: guilds,
		hub:    h,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Route("/api", func(r chi.Router) {
		r.Get("/botconfig", s.handleGetBotConfig)
		r.Post("/botconfig", s.handleUpdateBotConfig)
		r.Get("/guilds/{guildID}/modlogs", s.handleGetGuildModLogs)
		r.Put("/guilds/{guildID}/modlogs", s.handleUpdateGuildModLogs)
	})
	r.Get("/hubs/botconfig", h.HandleBotConfig)
	r.Get("/hubs/guildconfig", h.HandleGuildConfig)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Start opens the listening socket and serves in the background.
func (s *Server) Start() error {
	if s == nil {
		return nil
	}

	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("bind api server: %w", err)
	}
	s.listener = ln

	log.APILogger().Info("API server listening", "addr", ln.Addr().String())

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.APILogger().Error("API server stopped unexpectedly", "err", err)
		}
	}()

	return nil
}

// Stop drains the server and closes hub connections.
func (s *Server) Stop(ctx context.Context) error {
	if s == nil || s.httpServer == nil {
		return nil
	}

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	// Drop hub subscribers first so their handlers return and Shutdown can
	// drain instead of waiting out the timeout.
	if s.hub != nil {
		s.hub.Close()
	}
	if err := s.httpServer.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("shutdown api server: %w", err)
	}

	log.APILogger().Info("API server stopped", "addr", s.addr)
	return nil
}

// Addr returns the bound listen address, valid after Start.
func (s *Server) Addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// botConfigBody is the wire form of the singleton presence configuration.
type botConfigBody struct {
	Status       string    `json:"status"`
	ActivityText string    `json:"activityText"`
	ActivityKind string    `json:"activityKind"`
	LastUpdated  time.Time `json:"lastUpdated,omitempty"`
}

func botConfigToBody(cfg storage.BotConfiguration) botConfigBody {
	return botConfigBody{
		Status:       string(cfg.Status),
		ActivityText: cfg.ActivityText,
		ActivityKind: string(cfg.ActivityKind),
		LastUpdated:  cfg.LastUpdated,
	}
}

func (s *Server) handleGetBotConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.store.GetBotConfiguration(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load configuration")
		log.APILogger().Error("Get bot configuration failed", "err", err)
		return
	}
	writeJSON(w, http.StatusOK, botConfigToBody(cfg))
}

func (s *Server) handleUpdateBotConfig(w http.ResponseWriter, r *http.Request) {
	var body botConfigBody
	if !decodeBody(w, r, &body) {
		return
	}

	cfg, err := s.store.ReplaceBotConfiguration(r.Context(), storage.BotConfiguration{
		Status:       storage.PresenceStatus(body.Status),
		ActivityText: body.ActivityText,
		ActivityKind: storage.ActivityKind(body.ActivityKind),
	})
	if err != nil {
		if errors.Is(err, storage.ErrInvalidConfig) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to store configuration")
		log.APILogger().Error("Update bot configuration failed", "err", err)
		return
	}

	// Broadcast only after the transaction is durable; subscribers re-read
	// the store, so the event carries no payload.
	if s.hub != nil {
		s.hub.BroadcastConfigUpdated()
	}
	log.APILogger().Info("Bot configuration updated",
		"status", cfg.Status, "activity_kind", cfg.ActivityKind)

	writeJSON(w, http.StatusOK, botConfigToBody(cfg))
}

// modLogsBody is the wire form of a guild's moderation-log settings. The
// concurrency token is opaque to clients and round-trips verbatim.
type modLogsBody struct {
	GuildID          string    `json:"guildId,omitempty"`
	ModLogsEnabled   bool      `json:"modLogsEnabled"`
	ModLogsChannelID *string   `json:"modLogsChannelId"`
	LastUpdated      time.Time `json:"lastUpdated,omitempty"`
	ConcurrencyToken string    `json:"concurrencyToken"`
}

func guildConfigToBody(cfg storage.GuildConfiguration) modLogsBody {
	p := guildconfig.NewPayload(cfg)
	return modLogsBody{
		GuildID:          p.GuildID,
		ModLogsEnabled:   p.ModLogsEnabled,
		ModLogsChannelID: p.ModLogsChannelID,
		LastUpdated:      p.LastUpdated,
		ConcurrencyToken: p.ConcurrencyToken,
	}
}

func (s *Server) handleGetGuildModLogs(w http.ResponseWriter, r *http.Request) {
	guildID := chi.URLParam(r, "guildID")
	if !validSnowflake(guildID) {
		writeError(w, http.StatusBadRequest, "invalid guild id")
		return
	}

	cfg, err := s.guilds.Get(r.Context(), guildID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "guild not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load guild configuration")
		log.APILogger().Error("Get guild configuration failed", "guild_id", guildID, "err", err)
		return
	}
	writeJSON(w, http.StatusOK, guildConfigToBody(cfg))
}

func (s *Server) handleUpdateGuildModLogs(w http.ResponseWriter, r *http.Request) {
	guildID := chi.URLParam(r, "guildID")
	if !validSnowflake(guildID) {
		writeError(w, http.StatusBadRequest, "invalid guild id")
		return
	}

	var body modLogsBody
	if !decodeBody(w, r, &body) {
		return
	}
	token, err := strconv.ParseInt(body.ConcurrencyToken, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid concurrency token")
		return
	}
	if body.ModLogsEnabled && (body.ModLogsChannelID == nil || !validSnowflake(*body.ModLogsChannelID)) {
		writeError(w, http.StatusBadRequest, "enabling mod logs requires a valid channel id")
		return
	}

	cfg, err := s.guilds.UpdateModLogs(r.Context(), guildID, body.ModLogsEnabled, body.ModLogsChannelID, token)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrNotFound):
			writeError(w, http.StatusNotFound, "guild not found")
		case errors.Is(err, storage.ErrConcurrencyConflict):
			writeError(w, http.StatusConflict, "configuration was modified concurrently; re-read and retry")
		default:
			writeError(w, http.StatusInternalServerError, "failed to update guild configuration")
			log.APILogger().Error("Update guild configuration failed", "guild_id", guildID, "err", err)
		}
		return
	}
	writeJSON(w, http.StatusOK, guildConfigToBody(cfg))
}

// validSnowflake accepts the decimal form of a Discord snowflake.
func validSnowflake(id string) bool {
	if id == "" || len(id) > 20 {
		return false
	}
	_, err := strconv.ParseUint(id, 10, 64)
	return err == nil
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, defaultMaxBodyBytes)
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid payload: %v", err))
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.APILogger().Error("Failed to encode response", "err", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
