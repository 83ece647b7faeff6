package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	x402 "github.com/openfacilitator/openfacilitator/go"
	"github.com/openfacilitator/openfacilitator/go/types"
)

// HTTPFacilitatorClient talks to a remote facilitator over HTTP.
type HTTPFacilitatorClient struct {
	url          string
	httpClient   *http.Client
	authProvider AuthProvider
}

// AuthProvider generates authentication headers for facilitator requests
type AuthProvider interface {
	GetAuthHeaders(ctx context.Context) (AuthHeaders, error)
}

// AuthHeaders contains authentication headers per endpoint
type AuthHeaders struct {
	Settle    map[string]string
	Supported map[string]string
}

// FacilitatorConfig configures the HTTP facilitator client
type FacilitatorConfig struct {
	// URL is the base URL of the facilitator service
	URL string

	// HTTPClient is the HTTP client to use (optional)
	HTTPClient *http.Client

	// AuthProvider provides authentication headers (optional)
	AuthProvider AuthProvider

	// Timeout for requests (optional, defaults to DefaultSettleTimeout)
	Timeout time.Duration
}

// DefaultFacilitatorURL is the address of a facilitator running locally
// with the default port.
const DefaultFacilitatorURL = "http://localhost:3000"

// getSupportedRetries is the number of attempts for GetSupported on 429
// rate limit errors
const getSupportedRetries = 3

var getSupportedRetryBaseDelay = 1 * time.Second

func NewHTTPFacilitatorClient(config *FacilitatorConfig) *HTTPFacilitatorClient {
	if config == nil {
		config = &FacilitatorConfig{}
	}

	url := config.URL
	if url == "" {
		url = DefaultFacilitatorURL
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		timeout := config.Timeout
		if timeout == 0 {
			timeout = DefaultSettleTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &HTTPFacilitatorClient{
		url:          url,
		httpClient:   httpClient,
		authProvider: config.AuthProvider,
	}
}

// Settle submits a wire payment for settlement. A settlement that ran and
// failed is returned as a result with Success=false and a nil error; a
// non-nil error means the facilitator rejected or never received the
// request.
func (c *HTTPFacilitatorClient) Settle(ctx context.Context, payloadBytes, requirementsBytes []byte) (*x402.SettlementResult, error) {
	version, err := types.DetectVersion(payloadBytes, requirementsBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to detect version: %w", err)
	}

	body, err := json.Marshal(x402.SettleRequest{
		X402Version:         version,
		PaymentPayload:      payloadBytes,
		PaymentRequirements: requirementsBytes,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal settle request: %w", err)
	}

	status, responseBody, err := c.send(ctx, http.MethodPost, "/settle", body, settleHeaders)
	if err != nil {
		return nil, err
	}

	var result x402.SettlementResult
	if err := json.Unmarshal(responseBody, &result); err != nil {
		return nil, fmt.Errorf("facilitator settle failed (%d): %s", status, string(responseBody))
	}

	if status != http.StatusOK {
		if result.ErrorReason != "" {
			return nil, x402.NewPaymentError(result.ErrorReason, result.ErrorMessage, map[string]interface{}{
				"status": status,
			})
		}
		return nil, fmt.Errorf("facilitator settle failed (%d): %s", status, string(responseBody))
	}

	return &result, nil
}

// GetSupported fetches the supported payment kinds. Retries with
// exponential backoff on 429 responses.
func (c *HTTPFacilitatorClient) GetSupported(ctx context.Context) (x402.SupportedResponse, error) {
	var lastErr error

	for attempt := range getSupportedRetries {
		status, responseBody, err := c.send(ctx, http.MethodGet, "/supported", nil, supportedHeaders)
		if err != nil {
			return x402.SupportedResponse{}, err
		}

		if status == http.StatusOK {
			var supported x402.SupportedResponse
			if err := json.Unmarshal(responseBody, &supported); err != nil {
				return x402.SupportedResponse{}, fmt.Errorf("failed to decode supported response: %w", err)
			}
			return supported, nil
		}

		lastErr = fmt.Errorf("facilitator supported failed (%d): %s", status, string(responseBody))

		if status == http.StatusTooManyRequests && attempt < getSupportedRetries-1 {
			delay := getSupportedRetryBaseDelay * time.Duration(1<<uint(attempt))
			select {
			case <-time.After(delay):
				continue
			case <-ctx.Done():
				return x402.SupportedResponse{}, ctx.Err()
			}
		}

		return x402.SupportedResponse{}, lastErr
	}

	return x402.SupportedResponse{}, lastErr
}

func settleHeaders(h AuthHeaders) map[string]string    { return h.Settle }
func supportedHeaders(h AuthHeaders) map[string]string { return h.Supported }

// send performs one request against the facilitator and returns the status
// and the fully read body.
func (c *HTTPFacilitatorClient) send(ctx context.Context, method, path string, body []byte, pick func(AuthHeaders) map[string]string) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.url+path, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create %s request: %w", path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if c.authProvider != nil {
		headers, err := c.authProvider.GetAuthHeaders(ctx)
		if err != nil {
			return 0, nil, fmt.Errorf("failed to get auth headers: %w", err)
		}
		for k, v := range pick(headers) {
			req.Header.Set(k, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("%s request failed: %w", path, err)
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return resp.StatusCode, responseBody, nil
}
