// Package okx is the boundary layer to the OKX v5 API: a signed REST
// client for candles and orders, and a websocket worker streaming
// tickers into the market hub.
package okx

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"time"
)

// Signer produces OKX v5 API authentication headers.
type Signer struct {
	apiKey     string
	secretKey  string
	passphrase string
	simulated  bool
}

// NewSigner creates a signer. With simulated set, requests carry the
// paper-trading header.
func NewSigner(apiKey, secretKey, passphrase string, simulated bool) *Signer {
	return &Signer{
		apiKey:     apiKey,
		secretKey:  secretKey,
		passphrase: passphrase,
		simulated:  simulated,
	}
}

// GenerateHeaders signs one request. OKX v5 signs
// timestamp + method + requestPath + body with HMAC-SHA256 over the
// secret, base64 encoded; the timestamp is ISO8601 with milliseconds.
// requestPath must include the query string.
func (s *Signer) GenerateHeaders(method, requestPath, body string) map[string]string {
	timestamp := time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
	payload := timestamp + method + requestPath + body

	headers := map[string]string{
		"OK-ACCESS-KEY":        s.apiKey,
		"OK-ACCESS-SIGN":       computeHmacSha256(payload, s.secretKey),
		"OK-ACCESS-TIMESTAMP":  timestamp,
		"OK-ACCESS-PASSPHRASE": s.passphrase,
		"Content-Type":         "application/json",
	}
	if s.simulated {
		headers["x-simulated-trading"] = "1"
	}
	return headers
}

func computeHmacSha256(message, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(message))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}
