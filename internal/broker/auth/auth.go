// Package auth implements the HMAC-SHA256 request signing scheme
// common to broker REST APIs: sign "timestamp + method + path [+ body]"
// with an API secret and attach the signature, timestamp, and key as
// headers. Brokers here issue API key/secret pairs directly, so there
// is no wallet-signing or key-derivation layer to speak of.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"time"
)

// Signer holds one broker's API credentials and signs outgoing
// requests.
type Signer struct {
	apiKey string
	secret string
}

// New builds a Signer from a broker's API key/secret pair.
func New(apiKey, secret string) *Signer {
	return &Signer{apiKey: apiKey, secret: secret}
}

// Headers returns the signed headers for one REST request.
func (s *Signer) Headers(method, path, body string) (map[string]string, error) {
	timestamp := strconv.FormatInt(time.Now().Unix(), 10)
	sig, err := s.sign(timestamp, method, path, body)
	if err != nil {
		return nil, fmt.Errorf("sign request: %w", err)
	}
	return map[string]string{
		"X-API-KEY":       s.apiKey,
		"X-API-SIGNATURE": sig,
		"X-API-TIMESTAMP": timestamp,
	}, nil
}

// sign computes the HMAC-SHA256 signature over
// timestamp+method+path[+body], base64url-encoded. The secret is tried
// against the encodings brokers commonly issue secrets in.
func (s *Signer) sign(timestamp, method, path, body string) (string, error) {
	decoders := []*base64.Encoding{
		base64.URLEncoding,
		base64.RawURLEncoding,
		base64.StdEncoding,
		base64.RawStdEncoding,
	}

	var secretBytes []byte
	var err error
	for _, dec := range decoders {
		secretBytes, err = dec.DecodeString(s.secret)
		if err == nil {
			break
		}
	}
	if err != nil {
		// Not every broker issues base64 secrets; fall back to the raw
		// secret bytes rather than failing signing outright.
		secretBytes = []byte(s.secret)
	}

	message := timestamp + method + path
	if body != "" {
		message += body
	}

	mac := hmac.New(sha256.New, secretBytes)
	mac.Write([]byte(message))
	return base64.URLEncoding.EncodeToString(mac.Sum(nil)), nil
}
