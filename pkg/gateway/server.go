// Package gateway exposes the negotiation engine over HTTP: immediate
// and batched chat endpoints, session lifecycle and a TTL janitor.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/adhocore/gronx"
	"github.com/google/uuid"

	"github.com/cobrance/lucia/pkg/batch"
	"github.com/cobrance/lucia/pkg/config"
	"github.com/cobrance/lucia/pkg/logger"
	"github.com/cobrance/lucia/pkg/negotiation"
	"github.com/cobrance/lucia/pkg/providers"
	"github.com/cobrance/lucia/pkg/sessions"
)

const sessionCookie = "lucia_session"

// EngineProcessor adapts the per-request engine factory into the batch
// coordinator's processor: restore the batch's latest snapshot, run one
// turn on the combined message and hand back the outcome plus the
// snapshot the caller should persist.
func EngineProcessor(newEngine func() *negotiation.Orchestrator) batch.Processor {
	return func(ctx context.Context, combined string, snap negotiation.Snapshot) (*batch.Result, error) {
		eng := newEngine()
		eng.Restore(snap)
		outcome, err := eng.ProcessMessage(ctx, combined)
		if err != nil {
			return nil, err
		}
		return &batch.Result{Outcome: outcome, Snapshot: eng.Snapshot()}, nil
	}
}

const overloadedReply = "Estamos enfrentando um pico de alta demanda no momento. Por favor, aguarde alguns instantes e tente novamente. 🙏"

type chatRequest struct {
	Message string `json:"mensagem"`
}

// Server routes chat traffic to per-session negotiation engines. Each
// request rebuilds the engine from the stored snapshot, so the server
// itself stays stateless and any backend in pkg/sessions can sit behind
// it.
type Server struct {
	cfg         config.GatewayConfig
	store       sessions.Store
	coordinator *batch.Coordinator
	newEngine   func() *negotiation.Orchestrator
	limiter     *RateLimiter

	httpServer  *http.Server
	janitorStop chan struct{}
}

func NewServer(cfg config.GatewayConfig, store sessions.Store, coordinator *batch.Coordinator, newEngine func() *negotiation.Orchestrator) *Server {
	requests := cfg.RateLimitRequests
	if requests <= 0 {
		requests = 30
	}
	seconds := cfg.RateLimitSeconds
	if seconds <= 0 {
		seconds = 60
	}

	return &Server{
		cfg:         cfg,
		store:       store,
		coordinator: coordinator,
		newEngine:   newEngine,
		limiter:     NewRateLimiter(requests, time.Duration(seconds)*time.Second),
		janitorStop: make(chan struct{}),
	}
}

// Handler builds the route table wrapped in the rate limiter.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/chat", s.handleChat)
	mux.HandleFunc("POST /api/chat-lote", s.handleChatBatch)
	mux.HandleFunc("POST /api/limpar-sessao", s.handleClearSession)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	return RateLimitMiddleware(s.limiter, mux)
}

// Start blocks serving HTTP until Shutdown is called.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
	}

	logger.InfoCF("gateway", "listening", map[string]any{"addr": addr})
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests and stops the janitor and limiter.
func (s *Server) Shutdown(ctx context.Context) error {
	close(s.janitorStop)
	s.limiter.Stop()

	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// StartJanitor reaps idle sessions whenever the configured cron
// expression fires. The expression is checked once per minute, which is
// the finest granularity standard cron supports.
func (s *Server) StartJanitor() {
	go func() {
		gron := gronx.New()
		ttl := time.Duration(s.cfg.SessionTTLHours) * time.Hour
		if ttl <= 0 {
			ttl = 24 * time.Hour
		}

		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				due, err := gron.IsDue(s.cfg.CleanupSchedule, time.Now())
				if err != nil {
					logger.WarnCF("gateway", "invalid cleanup schedule", map[string]any{"schedule": s.cfg.CleanupSchedule, "error": err})
					continue
				}
				if !due {
					continue
				}
				ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				removed, err := s.store.DeleteExpired(ctx, ttl)
				cancel()
				if err != nil {
					logger.ErrorCF("gateway", "session cleanup failed", map[string]any{"error": err})
					continue
				}
				if removed > 0 {
					logger.InfoCF("gateway", "expired sessions removed", map[string]any{"count": removed})
				}
			case <-s.janitorStop:
				return
			}
		}
	}()
}

// sessionID returns the caller's session id, minting a cookie on first
// contact.
func (s *Server) sessionID(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(sessionCookie); err == nil && c.Value != "" {
		return c.Value
	}

	id := uuid.NewString()
	ttlHours := s.cfg.SessionTTLHours
	if ttlHours <= 0 {
		ttlHours = 24
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    id,
		Path:     "/",
		MaxAge:   ttlHours * 3600,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return id
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	sessionID := s.sessionID(w, r)

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Message == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"erro": "Mensagem inválida"})
		return
	}

	snap, found, err := s.store.Get(r.Context(), sessionID)
	if err != nil {
		logger.ErrorCF("gateway", "session load failed", map[string]any{"session": sessionID, "error": err})
		writeJSON(w, http.StatusInternalServerError, map[string]string{"erro": "Erro ao carregar sessão"})
		return
	}

	eng := s.newEngine()
	if found {
		eng.Restore(snap)
	}

	result, err := eng.ProcessMessage(r.Context(), req.Message)
	if err != nil {
		s.writeProcessError(w, sessionID, err)
		return
	}

	if err := s.store.Put(r.Context(), sessionID, eng.Snapshot()); err != nil {
		logger.WarnCF("gateway", "session save failed", map[string]any{"session": sessionID, "error": err})
	}

	writeJSON(w, http.StatusOK, result)
}

// handleChatBatch funnels the message through the debounce coordinator,
// so rapid-fire fragments from the same session resolve into one reply.
func (s *Server) handleChatBatch(w http.ResponseWriter, r *http.Request) {
	sessionID := s.sessionID(w, r)

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Message == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"erro": "Mensagem inválida"})
		return
	}

	snap, _, err := s.store.Get(r.Context(), sessionID)
	if err != nil {
		logger.ErrorCF("gateway", "session load failed", map[string]any{"session": sessionID, "error": err})
		writeJSON(w, http.StatusInternalServerError, map[string]string{"erro": "Erro ao carregar sessão"})
		return
	}

	res, err := s.coordinator.Enqueue(r.Context(), sessionID, req.Message, snap)
	if err != nil {
		if errors.Is(err, batch.ErrSessionTerminated) {
			writeJSON(w, http.StatusConflict, map[string]string{"erro": "Sessão encerrada"})
			return
		}
		s.writeProcessError(w, sessionID, err)
		return
	}

	if err := s.store.Put(r.Context(), sessionID, res.Snapshot); err != nil {
		logger.WarnCF("gateway", "session save failed", map[string]any{"session": sessionID, "error": err})
	}

	writeJSON(w, http.StatusOK, res.Outcome)
}

func (s *Server) handleClearSession(w http.ResponseWriter, r *http.Request) {
	c, err := r.Cookie(sessionCookie)
	if err != nil || c.Value == "" {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}

	s.coordinator.Cancel(c.Value)
	if err := s.store.Delete(r.Context(), c.Value); err != nil {
		logger.ErrorCF("gateway", "session delete failed", map[string]any{"session": c.Value, "error": err})
		writeJSON(w, http.StatusInternalServerError, map[string]string{"erro": "Erro ao limpar sessão"})
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"status":    "ok",
		"timestamp": time.Now().Format(time.RFC3339),
	}

	if c, err := r.Cookie(sessionCookie); err == nil && c.Value != "" {
		if snap, found, err := s.store.Get(r.Context(), c.Value); err == nil && found {
			body["sessao"] = map[string]any{
				"estado":    snap.State,
				"mensagens": len(snap.History),
				"pendentes": s.coordinator.Pending(c.Value),
			}
		}
	}

	writeJSON(w, http.StatusOK, body)
}

// writeProcessError maps provider overload to a retryable 503 with a
// user-facing reply and everything else to a 500.
func (s *Server) writeProcessError(w http.ResponseWriter, sessionID string, err error) {
	if errors.Is(err, providers.ErrOverloaded) {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"resposta": overloadedReply,
			"status":   "erro_temporario",
		})
		return
	}

	logger.ErrorCF("gateway", "message processing failed", map[string]any{"session": sessionID, "error": err})
	writeJSON(w, http.StatusInternalServerError, map[string]string{
		"erro":     "Erro ao processar mensagem",
		"detalhes": err.Error(),
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
