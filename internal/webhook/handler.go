// Package webhook exposes the HTTP surface the messaging provider calls:
// the Meta verification handshake and the message delivery endpoint.
//
// Every delivery is acknowledged with 200 no matter what happened inside;
// a non-success status would make the provider retry-storm the endpoint.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/facturabot/facturabot/internal/engine"
	apperrors "github.com/facturabot/facturabot/internal/errors"
	"github.com/facturabot/facturabot/internal/idempotency"
	"github.com/facturabot/facturabot/internal/ratelimit"
	"github.com/facturabot/facturabot/pkg/metrics"
)

const dedupTTL = 24 * time.Hour

// MessageHandler is the engine-side contract the webhook drives.
type MessageHandler interface {
	HandleMessage(ctx context.Context, from, text string) error
}

// Handler serves the webhook endpoints.
type Handler struct {
	engine      MessageHandler
	verifyToken string
	limiter     ratelimit.Limiter
	limit       int
	window      time.Duration
	deduper     idempotency.Deduper
	errHandler  *apperrors.Handler
	log         *slog.Logger
}

// Config carries the webhook policy knobs.
type Config struct {
	VerifyToken string
	RateLimit   int
	RateWindow  time.Duration
}

// NewHandler builds a Handler. limiter and deduper may be nil, which
// disables the respective guard.
func NewHandler(eng MessageHandler, cfg Config, limiter ratelimit.Limiter, deduper idempotency.Deduper, errHandler *apperrors.Handler, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}

	return &Handler{
		engine:      eng,
		verifyToken: cfg.VerifyToken,
		limiter:     limiter,
		limit:       cfg.RateLimit,
		window:      cfg.RateWindow,
		deduper:     deduper,
		errHandler:  errHandler,
		log:         log,
	}
}

// Register mounts the webhook routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /webhook", h.Verify)
	mux.HandleFunc("POST /webhook", h.Receive)
}

// Verify answers the Meta subscription handshake: echo hub.challenge when
// the verify token matches, 403 otherwise.
func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	mode := query.Get("hub.mode")
	token := query.Get("hub.verify_token")
	challenge := query.Get("hub.challenge")

	if mode == "subscribe" && token == h.verifyToken && h.verifyToken != "" {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(challenge))
		return
	}

	h.log.Warn("webhook verification rejected", slog.String("mode", mode))
	w.WriteHeader(http.StatusForbidden)
}

// Receive processes one delivery and always acknowledges 200.
func (h *Handler) Receive(w http.ResponseWriter, r *http.Request) {
	defer w.WriteHeader(http.StatusOK)

	var payload Payload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.log.Warn("undecodable webhook payload", slog.Any("error", err))
		metrics.RecordMessage("undecodable")
		return
	}

	msg, ok := payload.FirstMessage()
	if !ok || msg.From == "" || msg.Body() == "" {
		// status updates and non-text events are a successful no-op
		metrics.RecordMessage("no_text")
		return
	}

	ctx := r.Context()

	if !h.allow(ctx, msg.From) {
		metrics.RecordMessage("rate_limited")
		return
	}

	if !h.firstDelivery(ctx, msg.ID) {
		metrics.RecordMessage("duplicate")
		return
	}

	if err := h.engine.HandleMessage(ctx, msg.From, msg.Body()); err != nil {
		if errors.Is(err, engine.ErrConversationLocked) {
			h.log.Warn("dropped colliding delivery", slog.String("from", msg.From))
			metrics.RecordMessage("collision")
			return
		}

		if h.errHandler != nil {
			h.errHandler.Handle(ctx, err)
		} else {
			h.log.Error("turn failed", slog.String("from", msg.From), slog.Any("error", err))
		}
		metrics.RecordMessage("failed")
		return
	}

	metrics.RecordMessage("handled")
}

func (h *Handler) allow(ctx context.Context, from string) bool {
	if h.limiter == nil || h.limit <= 0 {
		return true
	}

	result, err := h.limiter.Check(ctx, from, h.limit, h.window)
	if err != nil {
		if errors.Is(err, ratelimit.ErrLimitExceeded) {
			h.log.Warn("sender rate limited", slog.String("from", from))
			return false
		}

		// limiter trouble must not take the flow down
		h.log.Warn("rate limiter error", slog.String("from", from), slog.Any("error", err))
		return true
	}

	if !result.Allowed {
		h.log.Warn("sender rate limited", slog.String("from", from))
		return false
	}

	return true
}

func (h *Handler) firstDelivery(ctx context.Context, messageID string) bool {
	if h.deduper == nil || messageID == "" {
		return true
	}

	first, err := h.deduper.FirstDelivery(ctx, messageID, dedupTTL)
	if err != nil {
		// fail open: a dedup outage should not drop real messages
		h.log.Warn("dedup check failed", slog.String("message_id", messageID), slog.Any("error", err))
		return true
	}

	if !first {
		h.log.Info("duplicate delivery dropped", slog.String("message_id", messageID))
	}

	return first
}
