package main

import (
	"crypto/sha256"
	"crypto/sha512"
	"net/http"

	"github.com/Stellar-cadet-s/kazi-trust/internal/config"
	"github.com/Stellar-cadet-s/kazi-trust/internal/middleware"
	"github.com/Stellar-cadet-s/kazi-trust/internal/repository"
	"github.com/Stellar-cadet-s/kazi-trust/internal/webhook"
)

// dashboardStore joins the user and escrow repositories for the dashboard.
type dashboardStore struct {
	*repository.UserRepo
	*repository.EscrowRepo
}

// RegisterWebhookRoutes adds the deposit webhooks to the given mux.
// Middleware chain: RateLimiter -> VerifySignature (or RequireToken) -> handler.
func RegisterWebhookRoutes(mux *http.ServeMux, h *webhook.Handler, cfg config.Config) {
	limiter := middleware.NewRateLimiter(cfg.WebhookRatePerMinute, cfg.WebhookBurst)

	// POST /webhooks/deposits/paystack: HMAC-SHA512 in x-paystack-signature
	paystack := middleware.VerifySignature("x-paystack-signature", sha512.New, cfg.PaystackSecret)
	mux.Handle("POST /webhooks/deposits/paystack", limiter.Middleware(paystack(http.HandlerFunc(h.Paystack))))

	// POST /webhooks/deposits/mpesa?token=...: C2B confirmations are unsigned
	mpesa := middleware.RequireToken("token", cfg.MpesaCallbackToken)
	mux.Handle("POST /webhooks/deposits/mpesa", limiter.Middleware(mpesa(http.HandlerFunc(h.Mpesa))))

	// POST /webhooks/deposits: HMAC-SHA256 in X-Signature
	generic := middleware.VerifySignature("X-Signature", sha256.New, cfg.DepositWebhookSecret)
	mux.Handle("POST /webhooks/deposits", limiter.Middleware(generic(http.HandlerFunc(h.Deposit))))
}
