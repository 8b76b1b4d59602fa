/**
 * @description
 * HTTP client for the external bundling/relaying service.
 * The bundler submits our signed forward requests on-chain and fronts the gas;
 * we hand it a batch of {chain, target, data, value} records and get back a
 * bundle identifier to track.
 *
 * @dependencies
 * - net/http
 * - backend/internal/config
 *
 * @notes
 * - Auth: HMAC-signed headers (X-BUNDLER-KEY / X-BUNDLER-SIGNATURE /
 *   X-BUNDLER-TIMESTAMP) over timestamp + method + path + body.
 * - Non-2xx responses are surfaced with the upstream status and message.
 */

package relayer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mejango/juicy-vision-sub002/internal/config"
)

const DefaultTimeout = 30 * time.Second

type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	APIKey     string
	APISecret  string
}

func NewClient(cfg *config.Config) *Client {
	return &Client{
		BaseURL:   strings.TrimRight(cfg.Bundler.URL, "/"),
		APIKey:    cfg.Bundler.APIKey,
		APISecret: cfg.Bundler.APISecret,
		HTTPClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}
}

// BundleTransaction is one relayed transaction within a bundle
type BundleTransaction struct {
	ChainID uint64 `json:"chain"`
	Target  string `json:"target"`
	Data    string `json:"data"`  // 0x-prefixed calldata
	Value   string `json:"value"` // wei, decimal string
}

// BundleRequest is the payload for POST /bundles
type BundleRequest struct {
	Transactions []BundleTransaction `json:"transactions"`
}

// BundleResponse is the response from /bundles
type BundleResponse struct {
	BundleID string `json:"bundleId"`
	State    string `json:"state"` // PENDING, SUBMITTED, etc.
}

// BundlerError represents an error response from the bundler
type BundlerError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// SubmitBundle sends a batch of relayed transactions to the bundler.
func (c *Client) SubmitBundle(ctx context.Context, txs []BundleTransaction) (*BundleResponse, error) {
	if len(txs) == 0 {
		return nil, fmt.Errorf("bundle cannot be empty")
	}

	data, err := json.Marshal(BundleRequest{Transactions: txs})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	u := fmt.Sprintf("%s/bundles", c.BaseURL)

	req, err := http.NewRequestWithContext(ctx, "POST", u, bytes.NewBuffer(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if err := c.setHeaders(req, data); err != nil {
		return nil, fmt.Errorf("failed to sign bundler request: %w", err)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("bundler request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		// Read error body for better error messages
		body, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return nil, fmt.Errorf("bundler returned status %d (failed to read error body: %v)", resp.StatusCode, readErr)
		}

		// Try to parse as JSON error
		var bundlerErr BundlerError
		if jsonErr := json.Unmarshal(body, &bundlerErr); jsonErr == nil && bundlerErr.Message != "" {
			return nil, fmt.Errorf("bundler error (status %d): %s", resp.StatusCode, bundlerErr.Message)
		}

		// Fallback to raw body if not JSON
		return nil, fmt.Errorf("bundler returned status %d: %s", resp.StatusCode, string(body))
	}

	var result BundleResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return &result, nil
}

func (c *Client) setHeaders(req *http.Request, body []byte) error {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "JuicyVision-Custody/1.0")

	if c.APIKey == "" || c.APISecret == "" {
		return fmt.Errorf("bundler credentials are not configured")
	}

	// Ensure we have just the path portion for signing (e.g., /bundles)
	path := req.URL.Path
	if path == "" {
		path = "/"
	}

	method := strings.ToUpper(req.Method)
	timestamp := time.Now().Unix()

	sig, err := buildBundlerSignature(c.APISecret, timestamp, method, path, body)
	if err != nil {
		return err
	}

	req.Header.Set("X-BUNDLER-KEY", c.APIKey)
	req.Header.Set("X-BUNDLER-SIGNATURE", sig)
	req.Header.Set("X-BUNDLER-TIMESTAMP", strconv.FormatInt(timestamp, 10))

	return nil
}
