// Пакет handlers — HTTP handlers сервиса dms-submission.
package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/burns238/dms-submission/internal/domain/model"
	"github.com/burns238/dms-submission/internal/domain/status"
	"github.com/burns238/dms-submission/internal/repository"
	"github.com/burns238/dms-submission/internal/service"
)

// SubmissionService — сервисный слой, используемый handlers.
// Выделен в интерфейс для подстановки фейка в тестах.
type SubmissionService interface {
	Submit(ctx context.Context, owner string, req service.SubmitRequest, pdf io.Reader) (*service.SubmitResult, error)
	ApplySdesOutcome(ctx context.Context, correlationID string, target status.Status, failureReason *string) (*model.SubmissionItem, error)
	Get(ctx context.Context, owner, id string) (*model.SubmissionItem, error)
	List(ctx context.Context, owner string, filters repository.ListFilters, limit, offset int) ([]*model.SubmissionItem, int, error)
}

// apiSubmission — представление заявки в ответах API.
type apiSubmission struct {
	ID                string              `json:"id"`
	Status            status.Status       `json:"status"`
	SdesCorrelationID string              `json:"sdesCorrelationId"`
	CallbackURL       string              `json:"callbackUrl"`
	ObjectSummary     model.ObjectSummary `json:"objectSummary"`
	FailureReason     *string             `json:"failureReason,omitempty"`
	FailureCount      int                 `json:"failureCount"`
	Created           time.Time           `json:"created"`
	LastUpdated       time.Time           `json:"lastUpdated"`
}

// domainToAPISubmission преобразует доменную заявку в API-формат.
func domainToAPISubmission(item *model.SubmissionItem) apiSubmission {
	return apiSubmission{
		ID:                item.ID,
		Status:            item.Status,
		SdesCorrelationID: item.SdesCorrelationID,
		CallbackURL:       item.CallbackURL,
		ObjectSummary:     item.ObjectSummary,
		FailureReason:     item.FailureReason,
		FailureCount:      item.FailureCount,
		Created:           item.Created,
		LastUpdated:       item.LastUpdated,
	}
}

// writeJSON записывает JSON-ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(body)
}
