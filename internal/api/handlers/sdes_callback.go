// sdes_callback.go — входящий endpoint уведомлений SDES о результате
// обработки файла. Защищён статическим internal-токеном.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	apierrors "github.com/burns238/dms-submission/internal/api/errors"
	"github.com/burns238/dms-submission/internal/domain/status"
	"github.com/burns238/dms-submission/internal/repository"
	"github.com/burns238/dms-submission/internal/service"
)

// SdesCallbackHandler — обработчик POST /sdes-callback.
type SdesCallbackHandler struct {
	svc    SubmissionService
	logger *slog.Logger
}

// NewSdesCallbackHandler создаёт обработчик уведомлений SDES.
func NewSdesCallbackHandler(svc SubmissionService, logger *slog.Logger) *SdesCallbackHandler {
	return &SdesCallbackHandler{
		svc:    svc,
		logger: logger.With(slog.String("component", "sdes_callback_handler")),
	}
}

// sdesCallbackRequest — тело уведомления SDES.
type sdesCallbackRequest struct {
	CorrelationID string  `json:"correlationId"`
	Status        string  `json:"status"`
	FailureReason *string `json:"failureReason,omitempty"`
}

// HandleCallback обрабатывает POST /sdes-callback.
// 200 — статус применён, 404 — correlation id неизвестен,
// 409 — переход статуса недопустим.
func (h *SdesCallbackHandler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	var req sdesCallbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.ValidationError(w, fmt.Sprintf("Некорректный JSON: %s", err.Error()))
		return
	}

	if req.CorrelationID == "" {
		apierrors.ValidationError(w, "Поле correlationId обязательно")
		return
	}
	target := status.Status(req.Status)
	if target != status.StatusProcessed && target != status.StatusFailed {
		apierrors.ValidationError(w, fmt.Sprintf("Недопустимый статус %q, допустимые: Processed, Failed", req.Status))
		return
	}

	item, err := h.svc.ApplySdesOutcome(r.Context(), req.CorrelationID, target, req.FailureReason)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			apierrors.NotFound(w, fmt.Sprintf("Заявка с correlation id %q не найдена", req.CorrelationID))
		case errors.Is(err, service.ErrInvalidTransition):
			apierrors.InvalidTransition(w, err.Error())
		default:
			h.logger.Error("Ошибка применения уведомления SDES",
				slog.String("correlation_id", req.CorrelationID),
				slog.String("error", err.Error()),
			)
			apierrors.InternalError(w, "Внутренняя ошибка при обновлении статуса")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"correlationId": item.SdesCorrelationID,
		"status":        item.Status,
	})
}
