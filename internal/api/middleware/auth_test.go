package middleware

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestInternalAuth(t *testing.T) {
	var reached bool
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		reached = true
		w.WriteHeader(http.StatusOK)
	})
	handler := InternalAuth("secret-token", testLogger())(next)

	tests := []struct {
		name       string
		authHeader string
		wantStatus int
	}{
		{"корректный токен", "Bearer secret-token", http.StatusOK},
		{"неверный токен", "Bearer wrong", http.StatusForbidden},
		{"без заголовка", "", http.StatusUnauthorized},
		{"не Bearer", "Basic secret-token", http.StatusUnauthorized},
		{"пустой токен", "Bearer ", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reached = false
			req := httptest.NewRequest(http.MethodPost, "/sdes-callback", nil)
			if tt.authHeader != "" {
				req.Header.Set("Authorization", tt.authHeader)
			}

			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("статус = %d, хотели %d", rec.Code, tt.wantStatus)
			}
			if (tt.wantStatus == http.StatusOK) != reached {
				t.Errorf("reached = %v при статусе %d", reached, rec.Code)
			}
		})
	}
}

func TestOwnerFromContext(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if owner := OwnerFromContext(req.Context()); owner != "" {
		t.Errorf("владелец без аутентификации = %q, хотели пустую строку", owner)
	}
}
