package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/capitalize-ai/conversation-orchestrator/internal/apperr"
	"github.com/capitalize-ai/conversation-orchestrator/internal/middleware"
	"github.com/capitalize-ai/conversation-orchestrator/internal/model"
	"github.com/capitalize-ai/conversation-orchestrator/internal/tenant"
	"github.com/capitalize-ai/conversation-orchestrator/pkg/logger"
)

// OpsStore is the read/control surface exposed to operators.
type OpsStore interface {
	GetConversation(ctx context.Context, schema, participantID string) (*model.Conversation, error)
	RecentMessages(ctx context.Context, schema, conversationID string, limit int) ([]model.Message, error)
	TransferToHuman(ctx context.Context, schema, participantID string) error
	CloseConversation(ctx context.Context, schema, participantID string, now time.Time) error
	MarkInactive(ctx context.Context, schema, participantID string) error
}

// OpsHandler exposes the operator API: conversation inspection and manual
// lifecycle control. All routes sit behind JWT auth; the tenant comes from
// the token, never the URL.
type OpsHandler struct {
	store    OpsStore
	resolver *tenant.Resolver
	logger   *logger.Logger
}

// NewOpsHandler creates a new ops handler.
func NewOpsHandler(store OpsStore, resolver *tenant.Resolver, log *logger.Logger) *OpsHandler {
	return &OpsHandler{store: store, resolver: resolver, logger: log}
}

func (h *OpsHandler) tenantConfig(w http.ResponseWriter, r *http.Request) *model.TenantConfig {
	tenantID := middleware.GetTenantID(r.Context())
	if err := middleware.ValidateTenantID(tenantID); err != nil {
		writeError(w, http.StatusForbidden, "unknown tenant")
		return nil
	}
	cfg, err := h.resolver.ByID(r.Context(), tenantID)
	if err != nil {
		if apperr.IsNotFound(err) {
			writeError(w, http.StatusForbidden, "unknown tenant")
		} else {
			h.logger.Error("tenant resolve failed", zap.String("tenant_id", tenantID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to resolve tenant")
		}
		return nil
	}
	return cfg
}

// GetConversation handles GET /api/v1/conversations/{participantID}
func (h *OpsHandler) GetConversation(w http.ResponseWriter, r *http.Request) {
	cfg := h.tenantConfig(w, r)
	if cfg == nil {
		return
	}

	participantID := chi.URLParam(r, "participantID")
	if err := middleware.ValidateParticipantID(participantID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	conv, err := h.store.GetConversation(r.Context(), cfg.Schema, participantID)
	if err != nil {
		h.logger.Error("failed to get conversation", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to get conversation")
		return
	}
	if conv == nil {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}

	writeJSON(w, http.StatusOK, conv)
}

// GetMessages handles GET /api/v1/conversations/{participantID}/messages
func (h *OpsHandler) GetMessages(w http.ResponseWriter, r *http.Request) {
	cfg := h.tenantConfig(w, r)
	if cfg == nil {
		return
	}

	participantID := chi.URLParam(r, "participantID")
	if err := middleware.ValidateParticipantID(participantID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	conv, err := h.store.GetConversation(r.Context(), cfg.Schema, participantID)
	if err != nil {
		h.logger.Error("failed to get conversation", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to get conversation")
		return
	}
	if conv == nil {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}

	limit := 20
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 100 {
			limit = parsed
		}
	}

	messages, err := h.store.RecentMessages(r.Context(), cfg.Schema, conv.ID, limit)
	if err != nil {
		h.logger.Error("failed to list messages", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list messages")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"conversation_id": conv.ID,
		"messages":        messages,
	})
}

// Transfer handles POST /api/v1/conversations/{participantID}/transfer
func (h *OpsHandler) Transfer(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, func(ctx context.Context, schema, participantID string) error {
		return h.store.TransferToHuman(ctx, schema, participantID)
	}, string(model.StatusWithHuman))
}

// Close handles POST /api/v1/conversations/{participantID}/close
func (h *OpsHandler) Close(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, func(ctx context.Context, schema, participantID string) error {
		return h.store.CloseConversation(ctx, schema, participantID, time.Now().UTC())
	}, string(model.StatusClosed))
}

// MarkInactive handles POST /api/v1/conversations/{participantID}/inactive
func (h *OpsHandler) MarkInactive(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, func(ctx context.Context, schema, participantID string) error {
		return h.store.MarkInactive(ctx, schema, participantID)
	}, string(model.StatusInactive))
}

func (h *OpsHandler) lifecycle(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, schema, participantID string) error, status string) {
	cfg := h.tenantConfig(w, r)
	if cfg == nil {
		return
	}

	participantID := chi.URLParam(r, "participantID")
	if err := middleware.ValidateParticipantID(participantID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := op(r.Context(), cfg.Schema, participantID); err != nil {
		if apperr.IsNotFound(err) {
			writeError(w, http.StatusNotFound, "conversation not found")
			return
		}
		h.logger.Error("lifecycle update failed",
			zap.String("participant_id", participantID),
			zap.String("actor", middleware.GetUserID(r.Context())),
			zap.String("status", status),
			zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to update conversation")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": status})
}
