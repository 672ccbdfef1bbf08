package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/onurcolak/sms-dispatch/environments"
	"github.com/onurcolak/sms-dispatch/internal/domain"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return NewClient(environments.ProviderConfig{
		BaseURL:          srv.URL,
		APIKey:           "secret",
		TrafficAccountID: "acct-1",
		Sender:           "Brand",
		Timeout:          2 * time.Second,
	})
}

func TestSendSingle_Success(t *testing.T) {
	var got sendRequest
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != sendPath {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get(APIKeyHeader) != "secret" {
			t.Errorf("missing api key header")
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"messages":[{"messageId":"p-1","trafficAccountId":"acct-1"}]}`))
	})

	res, err := client.SendSingle(context.Background(), Outbound{Destination: "+306900000001", Text: "hi"})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if res.ProviderMessageID != "p-1" {
		t.Fatalf("expected p-1, got %s", res.ProviderMessageID)
	}
	if got.TrafficAccountID != "acct-1" || got.SMS.Sender != "Brand" || got.SMS.Text != "hi" {
		t.Fatalf("unexpected request body: %+v", got)
	}
}

func TestSendBulk_PreservesOrder(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body bulkRequest
		_ = json.NewDecoder(r.Body).Decode(&body)
		if len(body.Messages) != 2 {
			t.Errorf("expected 2 messages, got %d", len(body.Messages))
		}
		_, _ = w.Write([]byte(`{"bulkId":"b-1","messages":[{"messageId":"p-1"},{"messageId":"","error":"invalid destination"}]}`))
	})

	res, err := client.SendBulk(context.Background(), []Outbound{
		{Destination: "+306900000001", Text: "a"},
		{Destination: "+306900000002", Text: "b"},
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if res.BulkID != "b-1" {
		t.Fatalf("expected bulk id b-1, got %s", res.BulkID)
	}
	if res.Messages[0].ProviderMessageID != "p-1" || res.Messages[1].ProviderMessageID != "" {
		t.Fatalf("unexpected entries: %+v", res.Messages)
	}
	if res.Messages[1].Error != "invalid destination" {
		t.Fatalf("expected per-entry error to be kept, got %q", res.Messages[1].Error)
	}
}

func TestSendBulk_ProtocolViolations(t *testing.T) {
	cases := map[string]string{
		"count mismatch": `{"bulkId":"b-1","messages":[{"messageId":"p-1"}]}`,
		"missing bulkId": `{"messages":[{"messageId":"p-1"},{"messageId":"p-2"}]}`,
		"duplicate ids":  `{"bulkId":"b-1","messages":[{"messageId":"p-1"},{"messageId":"p-1"}]}`,
		"not json":       `<html>ok</html>`,
	}

	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(body))
			})

			_, err := client.SendBulk(context.Background(), []Outbound{{Destination: "a"}, {Destination: "b"}})
			if !IsProtocol(err) {
				t.Fatalf("expected ProtocolError, got %v", err)
			}
			if IsRetryable(err) {
				t.Fatalf("protocol errors must not be retryable")
			}
		})
	}
}

func TestErrorClassification(t *testing.T) {
	cases := []struct {
		status    int
		retryable bool
	}{
		{http.StatusInternalServerError, true},
		{http.StatusBadGateway, true},
		{http.StatusTooManyRequests, true},
		{http.StatusBadRequest, false},
		{http.StatusUnauthorized, false},
	}

	for _, tc := range cases {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
		})

		_, err := client.SendSingle(context.Background(), Outbound{Destination: "a"})
		if err == nil {
			t.Fatalf("status %d: expected error", tc.status)
		}
		if IsRetryable(err) != tc.retryable {
			t.Fatalf("status %d: expected retryable=%v, got %v (%v)", tc.status, tc.retryable, IsRetryable(err), err)
		}
	}
}

func TestTimeoutIsNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	client := NewClient(environments.ProviderConfig{BaseURL: srv.URL, Timeout: 20 * time.Millisecond})

	_, err := client.SendSingle(context.Background(), Outbound{Destination: "a"})
	var netErr *NetworkError
	if !errors.As(err, &netErr) {
		t.Fatalf("expected NetworkError, got %v", err)
	}
	if !IsRetryable(err) {
		t.Fatalf("timeouts must be retryable")
	}
}

func TestGetStatus(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/Messages/p-1":
			_, _ = w.Write([]byte(`{"messageId":"p-1","deliveryStatus":"Delivered","updatedAt":"2024-05-01T10:00:00Z"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	report, err := client.GetStatus(context.Background(), "p-1")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if report.DeliveryState != "Delivered" || report.UpdatedAt.IsZero() {
		t.Fatalf("unexpected report: %+v", report)
	}

	_, err = client.GetStatus(context.Background(), "missing")
	if !IsNotFound(err) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
	if IsRetryable(err) {
		t.Fatalf("not found must not be retryable")
	}
}

func TestGetStatus_EscapesIDOnce(t *testing.T) {
	paths := make(chan string, 1)
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		paths <- r.URL.EscapedPath()
		_, _ = w.Write([]byte(`{"messageId":"ab cd/ef","deliveryStatus":"Pending"}`))
	})

	if _, err := client.GetStatus(context.Background(), "ab cd/ef"); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if got := <-paths; got != "/Messages/ab%20cd%2Fef" {
		t.Fatalf("expected a singly escaped path, got %q", got)
	}
}

func TestMapDeliveryState(t *testing.T) {
	cases := []struct {
		state  string
		want   domain.MessageStatus
		wantOK bool
	}{
		{"Delivered", domain.StatusSent, true},
		{"ENROUTE", domain.StatusSent, true},
		{"undelivered", domain.StatusFailed, true},
		{"Unknown_Subscriber", domain.StatusFailed, true},
		{"expired", domain.StatusFailed, true},
		{"pending", "", false},
		{"Buffered", "", false},
		{"mystery", domain.StatusSent, true},
	}

	for _, tc := range cases {
		got, ok := MapDeliveryState(tc.state)
		if got != tc.want || ok != tc.wantOK {
			t.Errorf("MapDeliveryState(%q) = (%q, %v), want (%q, %v)", tc.state, got, ok, tc.want, tc.wantOK)
		}
	}
}
