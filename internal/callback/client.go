// Пакет callback — исходящие уведомления клиентов о терминальном
// статусе заявки. POST на callbackUrl, указанный при приёме заявки.
package callback

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/burns238/dms-submission/internal/domain/model"
	"github.com/burns238/dms-submission/internal/domain/status"
)

// Notification — тело callback-уведомления клиенту.
type Notification struct {
	ID            string               `json:"id"`
	Status        status.Status        `json:"status"`
	ObjectSummary *model.ObjectSummary `json:"objectSummary,omitempty"`
	FailureReason *string              `json:"failureReason,omitempty"`
}

// Client — HTTP-клиент callback-уведомлений.
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
}

// New создаёт callback-клиент с таймаутом одного запроса.
func New(timeout time.Duration, logger *slog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.With(slog.String("component", "callback_client")),
	}
}

// Notify отправляет уведомление на callbackUrl заявки.
// Доставленным считается только ответ 200; любой другой статус
// или сетевая ошибка — отказ доставки.
func (c *Client) Notify(ctx context.Context, item *model.SubmissionItem) error {
	notification := Notification{
		ID:            item.ID,
		Status:        item.Status,
		FailureReason: item.FailureReason,
	}
	// Сводка объекта только для успешно обработанных заявок
	if item.Status == status.StatusProcessed {
		summary := item.ObjectSummary
		notification.ObjectSummary = &summary
	}

	body, err := json.Marshal(notification)
	if err != nil {
		return fmt.Errorf("сериализация уведомления: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, item.CallbackURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("создание запроса: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("callback-запрос: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("callback вернул %d, ожидался 200", resp.StatusCode)
	}

	c.logger.Debug("Клиент уведомлён",
		slog.String("id", item.ID),
		slog.String("status", string(item.Status)),
		slog.String("callback_url", item.CallbackURL),
	)

	return nil
}
