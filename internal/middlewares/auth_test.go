package middlewares

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/onurcolak/sms-dispatch/pkg/response"
)

func TestOpsAPIKeyAuth(t *testing.T) {
	cases := []struct {
		name       string
		serverKey  string
		headers    map[string]string
		wantStatus int
		wantNext   bool
	}{
		{
			name:       "server key not configured",
			serverKey:  "",
			headers:    map[string]string{APIKeyHeader: "anything"},
			wantStatus: http.StatusInternalServerError,
		},
		{
			name:       "no key presented",
			serverKey:  "secret",
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "wrong key",
			serverKey:  "secret",
			headers:    map[string]string{APIKeyHeader: "wrong-key"},
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "ops header",
			serverKey:  "secret",
			headers:    map[string]string{APIKeyHeader: "secret"},
			wantStatus: http.StatusOK,
			wantNext:   true,
		},
		{
			name:       "bearer token, case-insensitive scheme",
			serverKey:  "secret",
			headers:    map[string]string{echo.HeaderAuthorization: "bearer secret"},
			wantStatus: http.StatusOK,
			wantNext:   true,
		},
		{
			name:      "ops header wins over bearer",
			serverKey: "secret",
			headers: map[string]string{
				APIKeyHeader:             "wrong-key",
				echo.HeaderAuthorization: "Bearer secret",
			},
			wantStatus: http.StatusUnauthorized,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/reconcile", nil)
			for k, v := range tc.headers {
				req.Header.Set(k, v)
			}
			rec := httptest.NewRecorder()
			c := echo.New().NewContext(req, rec)

			nextCalled := false
			handler := OpsAPIKeyAuth(tc.serverKey)(func(c echo.Context) error {
				nextCalled = true
				return c.NoContent(http.StatusOK)
			})

			if err := handler(c); err != nil {
				t.Fatalf("handler returned error: %v", err)
			}
			if rec.Code != tc.wantStatus {
				t.Fatalf("expected status %d, got %d", tc.wantStatus, rec.Code)
			}
			if nextCalled != tc.wantNext {
				t.Fatalf("next handler called = %v, want %v", nextCalled, tc.wantNext)
			}

			if tc.wantNext {
				return
			}
			var body response.ErrorResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("failed to unmarshal response: %v", err)
			}
			if body.Success || body.Error == "" {
				t.Errorf("expected an error envelope, got %+v", body)
			}
		})
	}
}
