package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/onurcolak/sms-dispatch/environments"
	"github.com/onurcolak/sms-dispatch/pkg/logger"
)

const (
	APIKeyHeader = "X-Mitto-API-Key"

	sendPath   = "/Messages/send"
	bulkPath   = "/Messages/sendmessagesbulk"
	statusPath = "/Messages/{messageId}"

	maxErrorBody = 512
)

// Outbound is one message handed to the provider.
type Outbound struct {
	Destination string
	Text        string
	Sender      string
}

type SendResult struct {
	ProviderMessageID string
}

// BulkEntry is the provider's answer for one input of a bulk submit, in input order.
// An empty ProviderMessageID means the provider refused that single message.
type BulkEntry struct {
	ProviderMessageID string
	Error             string
}

type BulkResult struct {
	BulkID   string
	Messages []BulkEntry
}

type DeliveryReport struct {
	ProviderMessageID string
	DeliveryState     string
	UpdatedAt         time.Time
}

type smsBody struct {
	Text   string `json:"text"`
	Sender string `json:"sender"`
}

type sendRequest struct {
	TrafficAccountID string  `json:"trafficAccountId"`
	Destination      string  `json:"destination"`
	SMS              smsBody `json:"sms"`
}

type responseMessage struct {
	MessageID        string `json:"messageId"`
	TrafficAccountID string `json:"trafficAccountId,omitempty"`
	Error            string `json:"error,omitempty"`
}

type sendResponse struct {
	Messages []responseMessage `json:"messages"`
}

type bulkRequest struct {
	Messages []sendRequest `json:"messages"`
}

type bulkResponse struct {
	BulkID   string            `json:"bulkId"`
	Messages []responseMessage `json:"messages"`
}

type statusResponse struct {
	MessageID      string `json:"messageId"`
	DeliveryStatus string `json:"deliveryStatus"`
	UpdatedAt      string `json:"updatedAt"`
}

type Client struct {
	httpClient       *resty.Client
	baseURL          string
	trafficAccountID string
	defaultSender    string
}

// NewClient builds the provider client. Retries are left to the job queue, so the
// HTTP layer never resends a request on its own.
func NewClient(cfg environments.ProviderConfig) *Client {
	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetRetryCount(0).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetHeader(APIKeyHeader, cfg.APIKey)

	return &Client{
		httpClient:       client,
		baseURL:          cfg.BaseURL,
		trafficAccountID: cfg.TrafficAccountID,
		defaultSender:    cfg.Sender,
	}
}

func (c *Client) GetURL() string {
	return c.baseURL
}

func (c *Client) toRequest(msg Outbound) sendRequest {
	sender := msg.Sender
	if sender == "" {
		sender = c.defaultSender
	}
	return sendRequest{
		TrafficAccountID: c.trafficAccountID,
		Destination:      msg.Destination,
		SMS:              smsBody{Text: msg.Text, Sender: sender},
	}
}

func (c *Client) SendSingle(ctx context.Context, msg Outbound) (*SendResult, error) {
	const op = "send"

	var out sendResponse
	if err := c.do(ctx, op, http.MethodPost, sendPath, c.toRequest(msg), nil, &out); err != nil {
		return nil, err
	}

	if len(out.Messages) != 1 {
		return nil, &ProtocolError{Op: op, Reason: fmt.Sprintf("expected 1 message in response, got %d", len(out.Messages))}
	}
	if out.Messages[0].MessageID == "" {
		return nil, &ProtocolError{Op: op, Reason: "response is missing messageId"}
	}

	return &SendResult{ProviderMessageID: out.Messages[0].MessageID}, nil
}

// SendBulk submits msgs in one request. The response must correlate one entry per
// input in the same order; anything else is a ProtocolError.
func (c *Client) SendBulk(ctx context.Context, msgs []Outbound) (*BulkResult, error) {
	const op = "send bulk"

	if len(msgs) == 0 {
		return &BulkResult{}, nil
	}

	body := bulkRequest{Messages: make([]sendRequest, 0, len(msgs))}
	for _, m := range msgs {
		body.Messages = append(body.Messages, c.toRequest(m))
	}

	var out bulkResponse
	if err := c.do(ctx, op, http.MethodPost, bulkPath, body, nil, &out); err != nil {
		return nil, err
	}

	if out.BulkID == "" {
		return nil, &ProtocolError{Op: op, Reason: "response is missing bulkId"}
	}
	if len(out.Messages) != len(msgs) {
		return nil, &ProtocolError{
			Op:     op,
			Reason: fmt.Sprintf("sent %d messages but response has %d entries (bulkId %s)", len(msgs), len(out.Messages), out.BulkID),
		}
	}

	result := &BulkResult{BulkID: out.BulkID, Messages: make([]BulkEntry, len(out.Messages))}
	seen := make(map[string]struct{}, len(out.Messages))
	for i, m := range out.Messages {
		if m.MessageID != "" {
			if _, dup := seen[m.MessageID]; dup {
				return nil, &ProtocolError{Op: op, Reason: fmt.Sprintf("duplicate messageId %s in bulk %s", m.MessageID, out.BulkID)}
			}
			seen[m.MessageID] = struct{}{}
		}
		result.Messages[i] = BulkEntry{ProviderMessageID: m.MessageID, Error: m.Error}
	}

	return result, nil
}

func (c *Client) GetStatus(ctx context.Context, providerMessageID string) (*DeliveryReport, error) {
	const op = "get status"

	var out statusResponse
	err := c.do(ctx, op, http.MethodGet, statusPath, nil, map[string]string{"messageId": providerMessageID}, &out)
	if err != nil {
		var ce *ClientError
		if errors.As(err, &ce) && ce.StatusCode == http.StatusNotFound {
			return nil, &NotFoundError{ProviderMessageID: providerMessageID}
		}
		return nil, err
	}

	if out.DeliveryStatus == "" {
		return nil, &ProtocolError{Op: op, Reason: fmt.Sprintf("response for %s is missing deliveryStatus", providerMessageID)}
	}

	report := &DeliveryReport{ProviderMessageID: providerMessageID, DeliveryState: out.DeliveryStatus}
	if out.MessageID != "" {
		report.ProviderMessageID = out.MessageID
	}
	if out.UpdatedAt != "" {
		if ts, perr := time.Parse(time.RFC3339, out.UpdatedAt); perr == nil {
			report.UpdatedAt = ts
		} else {
			logger.Debugf("Unparseable updatedAt %q for provider message %s", out.UpdatedAt, providerMessageID)
		}
	}

	return report, nil
}

func (c *Client) do(ctx context.Context, op, method, path string, body any, pathParams map[string]string, out any) error {
	req := c.httpClient.R().SetContext(ctx)
	if body != nil {
		req.SetBody(body)
	}
	// SetPathParams escapes each value itself.
	req.SetPathParams(pathParams)

	startTime := time.Now()
	resp, err := req.Execute(method, path)
	duration := time.Since(startTime)

	if err != nil {
		return &NetworkError{Op: op, Err: err}
	}

	logger.Debugf("Provider %s completed in %v (status: %d)", op, duration, resp.StatusCode())

	status := resp.StatusCode()
	switch {
	case status == http.StatusTooManyRequests || status >= 500:
		return &ServerError{Op: op, StatusCode: status, Body: truncate(resp.String())}
	case status >= 400:
		return &ClientError{Op: op, StatusCode: status, Body: truncate(resp.String())}
	case status < 200 || status >= 300:
		return &ProtocolError{Op: op, Reason: fmt.Sprintf("unexpected status code %d", status)}
	}

	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return &ProtocolError{Op: op, Reason: fmt.Sprintf("undecodable response body: %v", err)}
	}
	return nil
}

func truncate(s string) string {
	if len(s) <= maxErrorBody {
		return s
	}
	return s[:maxErrorBody] + "..."
}
