// Пакет sdes — HTTP-клиент уведомлений SDES о готовности файла.
// SDES забирает zip-архив из object store по location из уведомления
// и асинхронно сообщает результат обработки на /sdes-callback.
package sdes

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/burns238/dms-submission/internal/config"
	"github.com/burns238/dms-submission/internal/domain/model"
)

// FileReadyNotification — тело уведомления SDES.
type FileReadyNotification struct {
	InformationType string   `json:"informationType"`
	File            FileInfo `json:"file"`
	Audit           Audit    `json:"audit"`
}

// FileInfo — описание файла в уведомлении.
type FileInfo struct {
	RecipientOrSender string   `json:"recipientOrSender"`
	Name              string   `json:"name"`
	Location          string   `json:"location"`
	Checksum          Checksum `json:"checksum"`
	Size              int64    `json:"size"`
}

// Checksum — контрольная сумма файла.
type Checksum struct {
	Algorithm string `json:"algorithm"`
	Value     string `json:"value"`
}

// Audit — аудит-секция уведомления; correlation id связывает
// уведомление с заявкой.
type Audit struct {
	CorrelationID string `json:"correlationID"`
}

// Client — HTTP-клиент SDES.
type Client struct {
	httpClient        *http.Client
	baseURL           string
	clientID          string
	informationType   string
	recipientOrSender string
	locationPrefix    string
	logger            *slog.Logger
}

// New создаёт SDES-клиент с таймаутом из конфигурации.
func New(cfg *config.Config, logger *slog.Logger) *Client {
	return &Client{
		httpClient:        &http.Client{Timeout: cfg.SdesTimeout},
		baseURL:           strings.TrimRight(cfg.SdesURL, "/"),
		clientID:          cfg.SdesClientID,
		informationType:   cfg.SdesInformationType,
		recipientOrSender: cfg.SdesRecipientOrSender,
		locationPrefix:    cfg.SdesLocationPrefix,
		logger:            logger.With(slog.String("component", "sdes_client")),
	}
}

// Notify отправляет SDES уведомление о готовности файла заявки.
// POST {baseURL}/notification/fileready. Успех — 2xx.
func (c *Client) Notify(ctx context.Context, item *model.SubmissionItem) error {
	location := item.ObjectSummary.Location
	if c.locationPrefix != "" {
		location = strings.TrimRight(c.locationPrefix, "/") + "/" + location
	}

	notification := FileReadyNotification{
		InformationType: c.informationType,
		File: FileInfo{
			RecipientOrSender: c.recipientOrSender,
			Name:              item.SdesCorrelationID + ".zip",
			Location:          location,
			Checksum: Checksum{
				Algorithm: "md5",
				Value:     item.ObjectSummary.ContentMd5,
			},
			Size: item.ObjectSummary.ContentLength,
		},
		Audit: Audit{
			CorrelationID: item.SdesCorrelationID,
		},
	}

	body, err := json.Marshal(notification)
	if err != nil {
		return fmt.Errorf("сериализация уведомления: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/notification/fileready", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("создание запроса: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.clientID != "" {
		req.Header.Set("x-client-id", c.clientID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("запрос к SDES: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("SDES вернул %d: %s", resp.StatusCode, string(respBody))
	}

	c.logger.Debug("SDES уведомлён",
		slog.String("correlation_id", item.SdesCorrelationID),
		slog.String("location", location),
	)

	return nil
}

// Ping выполняет GET {baseURL}/ping. Ошибка возвращается только при
// сетевом сбое; код ответа не проверяется.
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/ping", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return nil
}
