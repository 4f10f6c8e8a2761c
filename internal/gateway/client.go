// ABOUTME: HTTP client for the external messaging gateway (sendText/sendMedia)
// ABOUTME: A response is success only if it carries a recognizable provider message id

package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/praxiahq/chat-gateway/internal/store"
)

// ErrUnavailable is returned for transport failures and unclassifiable HTTP
// errors. The gateway may never have seen the request.
var ErrUnavailable = errors.New("gateway unavailable")

// ErrRejected is returned when the gateway answered but refused the message:
// a parseable error body, or a 2xx response without a provider message id.
var ErrRejected = errors.New("gateway rejected message")

const defaultTimeout = 30 * time.Second

// Client talks to the messaging gateway's HTTP API. Endpoint, API key and
// instance come from the Account being dispatched through.
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
}

// New creates a gateway client. Pass nil httpClient for a default with a
// 30 second timeout; the gateway call has unbounded latency otherwise.
func New(httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		httpClient: httpClient,
		logger:     logger.With("component", "gateway"),
	}
}

// textPayload is the sendText request body.
type textPayload struct {
	Number string `json:"number"`
	Text   string `json:"text"`
}

// mediaPayload is the sendMedia request body. Caption is used for image and
// video, FileName for documents.
type mediaPayload struct {
	Number    string `json:"number"`
	MediaType string `json:"mediatype"`
	Media     string `json:"media"`
	Caption   string `json:"caption,omitempty"`
	FileName  string `json:"fileName,omitempty"`
}

// sendResponse covers the provider message id fields the gateway is known to
// answer with.
type sendResponse struct {
	Key struct {
		ID string `json:"id"`
	} `json:"key"`
	MessageID string `json:"messageId"`
	Error     string `json:"error"`
	Message   string `json:"message"`
}

// SendText dispatches a text message through the gateway. Returns the
// provider message id on success.
func (c *Client) SendText(ctx context.Context, account *store.Account, number, text string) (string, error) {
	payload := textPayload{Number: number, Text: text}
	return c.post(ctx, account, "sendText", payload)
}

// SendMedia dispatches an image, document, video or audio message. mediaType
// is one of the gateway's mediatype values; mediaURL must be publicly
// fetchable by the gateway.
func (c *Client) SendMedia(ctx context.Context, account *store.Account, number, mediaType, mediaURL, caption, fileName string) (string, error) {
	payload := mediaPayload{
		Number:    number,
		MediaType: mediaType,
		Media:     mediaURL,
		Caption:   caption,
		FileName:  fileName,
	}
	return c.post(ctx, account, "sendMedia", payload)
}

// post performs the gateway call and classifies the outcome. Network errors
// and unparseable failures are ErrUnavailable; anything the gateway answered
// with but did not accept is ErrRejected.
func (c *Client) post(ctx context.Context, account *store.Account, operation string, payload any) (string, error) {
	url := fmt.Sprintf("%s/message/%s/%s",
		strings.TrimRight(account.Endpoint, "/"), operation, account.Instance)

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshaling %s payload: %w", operation, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("building %s request: %w", operation, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", account.APIKey)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("gateway call failed",
			"operation", operation,
			"instance", account.Instance,
			"error", err)
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	// Responses are small; cap the read defensively anyway.
	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("%w: reading response: %v", ErrUnavailable, err)
	}

	var parsed sendResponse
	parseErr := json.Unmarshal(respBody, &parsed)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if parseErr == nil && (parsed.Error != "" || parsed.Message != "") {
			detail := parsed.Error
			if detail == "" {
				detail = parsed.Message
			}
			return "", fmt.Errorf("%w: %s (status %d)", ErrRejected, detail, resp.StatusCode)
		}
		return "", fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	messageID := parsed.Key.ID
	if messageID == "" {
		messageID = parsed.MessageID
	}
	if parseErr != nil || messageID == "" {
		return "", fmt.Errorf("%w: no provider message id in response", ErrRejected)
	}

	c.logger.Debug("gateway call succeeded",
		"operation", operation,
		"instance", account.Instance,
		"gateway_message_id", messageID,
		"duration", time.Since(start))
	return messageID, nil
}
