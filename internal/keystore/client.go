/**
 * @description
 * HTTP client for the signing-key store service.
 * The key store owns encryption-at-rest; this client only asks "does user X
 * have a managed signing key, and if so hand it over".
 *
 * @dependencies
 * - net/http
 * - github.com/ethereum/go-ethereum/crypto
 * - backend/internal/config
 *
 * @notes
 * - A missing key is not an error: callers fall back to the reserves key.
 * - Keys are fetched per operation and never cached here; the secret lives in
 *   the store, not in this process.
 */

package keystore

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/mejango/juicy-vision-sub002/internal/config"
)

const DefaultTimeout = 10 * time.Second

type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

func NewClient(cfg *config.Config) *Client {
	return &Client{
		BaseURL: strings.TrimRight(cfg.Signing.KeystoreURL, "/"),
		HTTPClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}
}

type keyResponse struct {
	PrivateKey string `json:"private_key"`
}

// GetSigningKey returns the user's managed signing key, or nil when the store
// has none for this user.
func (c *Client) GetSigningKey(ctx context.Context, userID string) (*ecdsa.PrivateKey, error) {
	if c.BaseURL == "" {
		// No key store configured: every user falls back to the reserves key.
		return nil, nil
	}

	u := fmt.Sprintf("%s/keys/%s", c.BaseURL, url.PathEscape(userID))
	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("key store request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("key store returned status %d: %s", resp.StatusCode, string(body))
	}

	var result keyResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode key store response: %w", err)
	}
	if result.PrivateKey == "" {
		return nil, nil
	}

	key, err := crypto.HexToECDSA(strings.TrimPrefix(result.PrivateKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("key store returned an invalid key: %w", err)
	}
	return key, nil
}
