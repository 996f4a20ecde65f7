package bank

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

// DefaultTimeout bounds every outbound provider call. A timeout is treated as
// a transient failure eligible for retry.
const DefaultTimeout = 30 * time.Second

// Client is a thin JSON HTTP client shared by all adapters. It classifies
// response status codes into the bank error taxonomy so the retry executor
// can decide what to do without knowing provider specifics.
type Client struct {
	bankName string
	baseURL  string
	http     *http.Client
	logger   *log.Logger
}

// NewClient creates a provider HTTP client with the default request timeout
func NewClient(bankName, baseURL string, logger *log.Logger) *Client {
	return &Client{
		bankName: bankName,
		baseURL:  baseURL,
		http:     &http.Client{Timeout: DefaultTimeout},
		logger:   logger,
	}
}

// Request describes one provider call. Body is JSON-encoded unless Form is
// set, in which case the request is form-encoded.
type Request struct {
	Method  string
	Path    string
	Query   url.Values
	Body    any
	Form    url.Values
	Headers map[string]string
	Token   string
}

// Do issues the request and decodes a JSON response into out (when out is
// non-nil). Transport failures and 5xx/408/429 responses come back as
// transient errors, 401/403 as authentication failures, and other 4xx as
// provider rejections carrying the raw response body.
func (c *Client) Do(ctx context.Context, req Request, out any) error {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return fmt.Errorf("invalid base URL: %w", err)
	}
	u = u.JoinPath(req.Path)
	if len(req.Query) > 0 {
		u.RawQuery = req.Query.Encode()
	}

	var body io.Reader
	contentType := "application/json"
	switch {
	case req.Form != nil:
		body = strings.NewReader(req.Form.Encode())
		contentType = "application/x-www-form-urlencoded"
	case req.Body != nil:
		jsonBody, err := json.Marshal(req.Body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		body = bytes.NewReader(jsonBody)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, u.String(), body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Accept", "application/json")
	if req.Token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+req.Token)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	c.logger.Debug("Bank API request", "bank", c.bankName, "method", req.Method, "path", req.Path)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return &Error{Kind: KindTransient, Bank: c.bankName, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &Error{Kind: KindTransient, Bank: c.bankName, Err: err}
	}

	c.logger.Debug("Bank API response", "bank", c.bankName, "path", req.Path, "status", resp.StatusCode)

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return Errorf(KindAuthFailed, c.bankName, "provider returned status %d: %s", resp.StatusCode, truncate(respBody))
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode == http.StatusTooManyRequests:
		return Errorf(KindTransient, c.bankName, "provider returned status %d: %s", resp.StatusCode, truncate(respBody))
	case resp.StatusCode >= 400:
		return Errorf(KindProviderRejected, c.bankName, "provider returned status %d: %s", resp.StatusCode, truncate(respBody))
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			c.logger.Debug("Failed to unmarshal provider response", "bank", c.bankName, "body", string(respBody), "error", err)
			return Errorf(KindInvalidFormat, c.bankName, "failed to decode provider response: %v", err)
		}
	}
	return nil
}

func truncate(body []byte) string {
	const max = 512
	if len(body) > max {
		return string(body[:max]) + "..."
	}
	return string(body)
}

// Sign computes the base64 HMAC-SHA256 signature providers require on
// authentication payloads
func Sign(data, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(data))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
