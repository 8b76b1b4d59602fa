package relayer

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strings"
)

// buildBundlerSignature computes the bundler API's request signature.
// signature = base64url( HMAC_SHA256( base64Decode(secret), timestamp + method + path + body ) )
// We keep trailing '=' padding per the bundler docs.
func buildBundlerSignature(secret string, timestamp int64, method, requestPath string, body []byte) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("bundler secret missing")
	}

	normalizedSecret := strings.TrimSpace(secret)

	var decodedSecret []byte
	var err error

	// The secret is base64; dashboards emit URL-safe variants, so try those first.
	decodedSecret, err = base64.RawURLEncoding.DecodeString(normalizedSecret)
	if err != nil {
		decodedSecret, err = base64.URLEncoding.DecodeString(normalizedSecret)
	}
	if err != nil {
		decodedSecret, err = base64.RawStdEncoding.DecodeString(normalizedSecret)
		if err != nil {
			decodedSecret, err = base64.StdEncoding.DecodeString(normalizedSecret)
		}
	}
	if err != nil {
		// As a last resort, treat it as raw bytes.
		decodedSecret = []byte(normalizedSecret)
	}

	payload := fmt.Sprintf("%d%s%s", timestamp, strings.ToUpper(method), requestPath)
	if len(body) > 0 {
		payload += string(body)
	}

	mac := hmac.New(sha256.New, decodedSecret)
	if _, err := mac.Write([]byte(payload)); err != nil {
		return "", fmt.Errorf("failed to compute signature: %w", err)
	}

	sig := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	// Make URL-safe while preserving padding
	sig = strings.ReplaceAll(sig, "+", "-")
	sig = strings.ReplaceAll(sig, "/", "_")

	return sig, nil
}
