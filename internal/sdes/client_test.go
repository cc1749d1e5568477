package sdes

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/burns238/dms-submission/internal/config"
	"github.com/burns238/dms-submission/internal/domain/model"
	"github.com/burns238/dms-submission/internal/domain/status"
)

func testItem() *model.SubmissionItem {
	return &model.SubmissionItem{
		ID:                "ref-1",
		Owner:             "hmrc-forms",
		SdesCorrelationID: "corr-123",
		Status:            status.StatusSubmitted,
		ObjectSummary: model.ObjectSummary{
			Location:      "dms-submission/corr-123.zip",
			ContentLength: 2048,
			ContentMd5:    "vyGp6PvFo4RvsFtPoIWeCQ==",
			LastModified:  time.Now().UTC(),
		},
	}
}

func newClient(url string) *Client {
	cfg := &config.Config{
		SdesURL:               url,
		SdesClientID:          "client-abc",
		SdesInformationType:   "1655",
		SdesRecipientOrSender: "dms-recipient",
		SdesLocationPrefix:    "sdes",
		SdesTimeout:           5 * time.Second,
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(cfg, logger)
}

func TestNotify(t *testing.T) {
	var got FileReadyNotification
	var gotPath, gotClientID string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotClientID = r.Header.Get("x-client-id")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("декодирование тела: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := newClient(srv.URL)
	if err := c.Notify(context.Background(), testItem()); err != nil {
		t.Fatalf("Notify() ошибка: %v", err)
	}

	if gotPath != "/notification/fileready" {
		t.Errorf("path = %q, хотели /notification/fileready", gotPath)
	}
	if gotClientID != "client-abc" {
		t.Errorf("x-client-id = %q, хотели client-abc", gotClientID)
	}
	if got.InformationType != "1655" {
		t.Errorf("informationType = %q, хотели 1655", got.InformationType)
	}
	if got.File.Name != "corr-123.zip" {
		t.Errorf("file.name = %q, хотели corr-123.zip", got.File.Name)
	}
	if got.File.Location != "sdes/dms-submission/corr-123.zip" {
		t.Errorf("file.location = %q, хотели префикс sdes/", got.File.Location)
	}
	if got.File.Checksum.Algorithm != "md5" || got.File.Checksum.Value != "vyGp6PvFo4RvsFtPoIWeCQ==" {
		t.Errorf("checksum = %+v, некорректна", got.File.Checksum)
	}
	if got.Audit.CorrelationID != "corr-123" {
		t.Errorf("audit.correlationID = %q, хотели corr-123", got.Audit.CorrelationID)
	}
}

func TestNotifyServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "internal", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newClient(srv.URL)
	if err := c.Notify(context.Background(), testItem()); err == nil {
		t.Fatal("Notify() при 500 должен вернуть ошибку")
	}
}

func TestNotifyConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close() // сервер уже остановлен

	c := newClient(srv.URL)
	if err := c.Notify(context.Background(), testItem()); err == nil {
		t.Fatal("Notify() при недоступном SDES должен вернуть ошибку")
	}
}

func TestNotifyContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// net/http отслеживает разрыв соединения клиентом только после
		// прочтения тела запроса; без этого контекст не снимется никогда
		_, _ = io.Copy(io.Discard, r.Body)
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	c := newClient(srv.URL)
	if err := c.Notify(ctx, testItem()); err == nil {
		t.Fatal("Notify() при отменённом контексте должен вернуть ошибку")
	}
}
