package middleware

import (
	"bytes"
	"crypto/hmac"
	"crypto/subtle"
	"encoding/hex"
	"hash"
	"io"
	"net/http"
	"strings"
)

// maxWebhookBody bounds the body read for signature checks.
const maxWebhookBody = 1 << 20

// VerifySignature checks that header carries the hex HMAC of the raw request
// body under secret. The body is read once and restored so the handler can
// decode it. An empty secret rejects every request.
func VerifySignature(header string, newHash func() hash.Hash, secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret == "" {
				http.Error(w, `{"error":"webhook secret not configured"}`, http.StatusServiceUnavailable)
				return
			}
			bodyBytes, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
			r.Body.Close()
			if err != nil {
				http.Error(w, `{"error":"failed to read body"}`, http.StatusBadRequest)
				return
			}
			// Restore body for the handler.
			r.Body = io.NopCloser(bytes.NewReader(bodyBytes))

			given, err := hex.DecodeString(strings.TrimSpace(r.Header.Get(header)))
			if err != nil || len(given) == 0 {
				http.Error(w, `{"error":"missing or malformed signature"}`, http.StatusUnauthorized)
				return
			}
			if !hmac.Equal(given, Sign(newHash, secret, bodyBytes)) {
				http.Error(w, `{"error":"invalid signature"}`, http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Sign returns the raw HMAC of body under secret.
func Sign(newHash func() hash.Hash, secret string, body []byte) []byte {
	mac := hmac.New(newHash, []byte(secret))
	mac.Write(body)
	return mac.Sum(nil)
}

// RequireToken guards callbacks that arrive unsigned, such as M-Pesa C2B
// confirmations. The shared token is registered in the callback URL and
// must come back in the query parameter param. An empty token rejects every
// request.
func RequireToken(param, token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				http.Error(w, `{"error":"callback token not configured"}`, http.StatusServiceUnavailable)
				return
			}
			given := r.URL.Query().Get(param)
			if subtle.ConstantTimeCompare([]byte(given), []byte(token)) != 1 {
				http.Error(w, `{"error":"invalid callback token"}`, http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
