package delivery

import (
	"context"
	"errors"
	"net/http"

	"github.com/Vovarama1992/alphasnap/internal/convert"
	"github.com/Vovarama1992/alphasnap/internal/quota"
	"github.com/Vovarama1992/go-utils/logger"
	json "github.com/goccy/go-json"
)

type QuotaService interface {
	Status(ctx context.Context, identity string) (quota.Status, error)
	Unlock(ctx context.Context, identity, credential string) error
}

type QuotaHandler struct {
	quota QuotaService
	log   *logger.ZapLogger
}

func NewQuotaHandler(q QuotaService, log *logger.ZapLogger) *QuotaHandler {
	return &QuotaHandler{quota: q, log: log}
}

func (h *QuotaHandler) Status(w http.ResponseWriter, r *http.Request) {
	st, err := h.quota.Status(r.Context(), Identity(r.Context()))
	if err != nil {
		h.log.Log(logger.LogEntry{Level: "error", Message: "quota status", Error: err})
		writeJSON(w, http.StatusInternalServerError, errorBody{
			Status: convert.StatusFailed, Code: convert.CodeSystemError, Message: "Внутренняя ошибка сервера.",
		})
		return
	}
	writeJSON(w, http.StatusOK, newQuotaView(st))
}

func (h *QuotaHandler) Unlock(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	id := Identity(r.Context())
	err := h.quota.Unlock(r.Context(), id, req.Password)
	switch {
	case errors.Is(err, quota.ErrUnauthorized):
		writeJSON(w, http.StatusUnauthorized, errorBody{
			Status: convert.StatusDenied, Code: convert.CodeAuthorizationFailed, Message: "Неверный пароль.",
		})
		return
	case errors.Is(err, quota.ErrUnlockUnavailable):
		writeJSON(w, http.StatusServiceUnavailable, errorBody{
			Status: convert.StatusDenied, Code: convert.CodeUnlockUnavailable, Message: "Разблокировка недоступна.",
		})
		return
	case err != nil:
		h.log.Log(logger.LogEntry{Level: "error", Message: "unlock", Error: err})
		writeJSON(w, http.StatusInternalServerError, errorBody{
			Status: convert.StatusFailed, Code: convert.CodeSystemError, Message: "Внутренняя ошибка сервера.",
		})
		return
	}

	st, err := h.quota.Status(r.Context(), id)
	if err != nil {
		h.log.Log(logger.LogEntry{Level: "warn", Message: "status after unlock", Error: err})
	}
	view := newQuotaView(st)
	writeJSON(w, http.StatusOK, map[string]any{"status": convert.StatusOK, "quota": view})
}
