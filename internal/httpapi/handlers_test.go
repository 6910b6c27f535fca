package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"callwallet/internal/auth"
	"callwallet/internal/calls"
	"callwallet/internal/config"
	"callwallet/internal/payments"
	"callwallet/internal/payments/gateway"
	"callwallet/internal/pricing"
	"callwallet/internal/reporting"
	"callwallet/internal/wallet"

	"github.com/gin-gonic/gin"
)

type approveAll struct{}

func (approveAll) Initiate(_ context.Context, _ int64, method string) (gateway.InitiateResult, error) {
	return gateway.InitiateResult{ExternalReference: "ONEPIPE_HTTP", Provider: gateway.ProviderFor(method)}, nil
}

func (approveAll) Verify(context.Context, string) (gateway.VerifyResult, error) {
	return gateway.VerifyResult{Success: true, Message: "Payment verified successfully"}, nil
}

func newTestServer(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	m, err := auth.NewManager(config.AuthConfig{
		JWTSecret:       "test-secret",
		AccessTokenTTL:  time.Minute,
		RefreshTokenTTL: time.Hour,
	})
	if err != nil {
		t.Fatalf("auth: %v", err)
	}

	wallets := wallet.NewService(wallet.NewMemoryStore(), "NGN", nil)
	callSvc := calls.NewService(calls.Deps{
		Store:  calls.NewMemoryStore(),
		Ledger: wallets,
		Rates:  pricing.NewService(pricing.NewStaticRates("NGN", 10, 10)),
	}, calls.Options{MinBalanceMinor: 10})
	paySvc := payments.NewService(payments.Deps{
		Store:   payments.NewMemoryStore(),
		Ledger:  wallets,
		Gateway: approveAll{},
	}, payments.Options{Currency: "NGN", MinAmountMinor: 100})

	h := Handlers{
		Auth:      m,
		Wallet:    wallets,
		Calls:     callSvc,
		Payments:  paySvc,
		Reporting: reporting.NewService(reporting.ServiceRepo{Calls: callSvc, Wallets: wallets, Payments: paySvc}),
	}

	r := gin.New()
	h.RegisterPublic(r, true)
	v1 := r.Group("/v1")
	v1.Use(auth.RequireAccessToken(m))
	h.RegisterProtected(v1)
	return r
}

func do(t *testing.T, r http.Handler, method, path, token string, body any) (int, map[string]any) {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	out := map[string]any{}
	if w.Body.Len() > 0 {
		if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
			t.Fatalf("%s %s: response is not a json object: %s", method, path, w.Body.String())
		}
	}
	return w.Code, out
}

func tokenFor(t *testing.T, r http.Handler, userID string) string {
	t.Helper()
	code, body := do(t, r, http.MethodPost, "/auth/token", "", map[string]string{"user_id": userID})
	if code != http.StatusOK {
		t.Fatalf("token: expected 200, got %d (%v)", code, body)
	}
	tok, _ := body["access_token"].(string)
	if tok == "" {
		t.Fatalf("token: empty access token")
	}
	return tok
}

func TestHealthAndAuth(t *testing.T) {
	r := newTestServer(t)

	if code, _ := do(t, r, http.MethodGet, "/healthz", "", nil); code != http.StatusOK {
		t.Fatalf("healthz: expected 200, got %d", code)
	}
	if code, _ := do(t, r, http.MethodGet, "/v1/wallet/balance", "", nil); code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", code)
	}
	if code, _ := do(t, r, http.MethodPost, "/auth/token", "", map[string]string{}); code != http.StatusBadRequest {
		t.Fatalf("expected 400 without user_id, got %d", code)
	}

	_, pair := do(t, r, http.MethodPost, "/auth/token", "", map[string]string{"user_id": "alice"})
	code, refreshed := do(t, r, http.MethodPost, "/auth/refresh", "", map[string]any{"refresh_token": pair["refresh_token"]})
	if code != http.StatusOK || refreshed["access_token"] == nil {
		t.Fatalf("refresh: expected 200 with token, got %d (%v)", code, refreshed)
	}
	if code, _ := do(t, r, http.MethodPost, "/auth/refresh", "", map[string]any{"refresh_token": pair["access_token"]}); code != http.StatusUnauthorized {
		t.Fatalf("refresh with access token: expected 401, got %d", code)
	}
}

func TestDevTokensDisabled(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	Handlers{}.RegisterPublic(r, false)
	if code, _ := do(t, r, http.MethodPost, "/auth/token", "", map[string]string{"user_id": "x"}); code != http.StatusNotFound {
		t.Fatalf("expected 404 when dev tokens are off, got %d", code)
	}
}

func TestWalletTopUpAndCallFlow(t *testing.T) {
	r := newTestServer(t)
	alice := tokenFor(t, r, "alice")
	bob := tokenFor(t, r, "bob")
	carol := tokenFor(t, r, "carol")

	if code, _ := do(t, r, http.MethodPost, "/v1/wallet", alice, nil); code != http.StatusCreated {
		t.Fatalf("create wallet: expected 201, got %d", code)
	}
	if code, _ := do(t, r, http.MethodPost, "/v1/wallet", alice, nil); code != http.StatusConflict {
		t.Fatalf("duplicate wallet: expected 409, got %d", code)
	}
	if code, _ := do(t, r, http.MethodGet, "/v1/wallet/balance", bob, nil); code != http.StatusNotFound {
		t.Fatalf("missing wallet: expected 404, got %d", code)
	}

	// Empty wallet cannot place a call.
	code, _ := do(t, r, http.MethodPost, "/v1/calls/initiate", alice, map[string]string{"receiver_id": "bob", "call_type": "voice"})
	if code != http.StatusPaymentRequired {
		t.Fatalf("initiate with empty wallet: expected 402, got %d", code)
	}

	if code, _ := do(t, r, http.MethodPost, "/v1/payments/initiate", alice, map[string]any{"amount": 50, "payment_method": "card"}); code != http.StatusBadRequest {
		t.Fatalf("small top-up: expected 400, got %d", code)
	}
	code, body := do(t, r, http.MethodPost, "/v1/payments/initiate", alice, map[string]any{"amount": 500, "payment_method": "card"})
	if code != http.StatusCreated {
		t.Fatalf("initiate payment: expected 201, got %d (%v)", code, body)
	}
	ref := body["payment"].(map[string]any)["reference"].(string)

	if code, _ := do(t, r, http.MethodGet, "/v1/payments/"+ref, bob, nil); code != http.StatusNotFound {
		t.Fatalf("foreign payment: expected 404, got %d", code)
	}
	for i := 0; i < 2; i++ {
		code, body = do(t, r, http.MethodPost, "/v1/payments/verify", alice, map[string]string{"reference": ref})
		if code != http.StatusOK || body["message"] != "Payment verified successfully" {
			t.Fatalf("verify %d: unexpected %d %v", i, code, body)
		}
	}
	_, body = do(t, r, http.MethodGet, "/v1/wallet/balance", alice, nil)
	if body["balance"] != float64(500) || body["currency"] != "NGN" {
		t.Fatalf("unexpected balance after double verify: %v", body)
	}

	code, body = do(t, r, http.MethodPost, "/v1/calls/initiate", alice, map[string]string{"receiver_id": "bob", "call_type": "voice"})
	if code != http.StatusCreated {
		t.Fatalf("initiate call: expected 201, got %d (%v)", code, body)
	}
	sid := body["call_session"].(map[string]any)["session_id"].(string)

	if code, _ := do(t, r, http.MethodGet, "/v1/calls/"+sid, carol, nil); code != http.StatusForbidden {
		t.Fatalf("non-participant: expected 403, got %d", code)
	}
	if code, _ := do(t, r, http.MethodPost, "/v1/calls/update-status", bob, map[string]string{"session_id": sid, "status": "hold"}); code != http.StatusBadRequest {
		t.Fatalf("unknown status: expected 400, got %d", code)
	}

	code, body = do(t, r, http.MethodPost, "/v1/calls/signal", bob, map[string]any{
		"session_id": sid, "signal_type": "answer", "signal_data": map[string]string{"sdp": "v=0"},
	})
	if code != http.StatusOK {
		t.Fatalf("signal: expected 200, got %d (%v)", code, body)
	}

	_, body = do(t, r, http.MethodGet, "/v1/calls/active", bob, nil)
	if body["active_call"] == nil {
		t.Fatalf("expected an active call for the receiver")
	}

	code, body = do(t, r, http.MethodPost, "/v1/calls/update-status", alice, map[string]string{"session_id": sid, "status": "ended"})
	if code != http.StatusOK {
		t.Fatalf("end: expected 200, got %d (%v)", code, body)
	}
	if got := body["call_session"].(map[string]any)["status"]; got != string(calls.CallStatusMissed) {
		t.Fatalf("never-connected call: expected missed, got %v", got)
	}
	if code, _ := do(t, r, http.MethodPost, "/v1/calls/update-status", alice, map[string]string{"session_id": sid, "status": "ringing"}); code != http.StatusConflict {
		t.Fatalf("ringing after missed: expected 409, got %d", code)
	}

	_, body = do(t, r, http.MethodGet, "/v1/calls/active", alice, nil)
	if body["active_call"] != nil {
		t.Fatalf("expected no active call, got %v", body["active_call"])
	}

	_, body = do(t, r, http.MethodGet, "/v1/calls/history", bob, nil)
	if n := len(body["calls"].([]any)); n != 1 {
		t.Fatalf("expected 1 call in history, got %d", n)
	}
	_, body = do(t, r, http.MethodGet, "/v1/wallet/transactions", alice, nil)
	if n := len(body["transactions"].([]any)); n != 1 {
		t.Fatalf("expected only the top-up transaction, got %d", n)
	}
	if code, _ := do(t, r, http.MethodGet, "/v1/wallet/transactions?limit=x", alice, nil); code != http.StatusBadRequest {
		t.Fatalf("bad limit: expected 400, got %d", code)
	}

	_, body = do(t, r, http.MethodGet, "/v1/payments/history", alice, nil)
	if n := len(body["payments"].([]any)); n != 1 {
		t.Fatalf("expected 1 payment (the rejected attempt is not stored), got %d", n)
	}
}

func TestReports(t *testing.T) {
	r := newTestServer(t)
	alice := tokenFor(t, r, "alice")
	do(t, r, http.MethodPost, "/v1/wallet", alice, nil)

	code, body := do(t, r, http.MethodGet, "/v1/reports/spend", alice, nil)
	if code != http.StatusOK || body["user_id"] != "alice" {
		t.Fatalf("spend: unexpected %d %v", code, body)
	}
	code, _ = do(t, r, http.MethodGet, "/v1/reports/usage?from=2025-01-02T00:00:00Z&to=2025-01-01T00:00:00Z", alice, nil)
	if code != http.StatusBadRequest {
		t.Fatalf("inverted range: expected 400, got %d", code)
	}
	code, _ = do(t, r, http.MethodGet, "/v1/reports/usage?from=yesterday", alice, nil)
	if code != http.StatusBadRequest {
		t.Fatalf("bad from: expected 400, got %d", code)
	}
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{wallet.ErrNotFound, http.StatusNotFound},
		{calls.ErrNotFound, http.StatusNotFound},
		{payments.ErrNotFound, http.StatusNotFound},
		{calls.ErrUnauthorized, http.StatusForbidden},
		{fmt.Errorf("%w: minimum is 100", payments.ErrInvalidAmount), http.StatusBadRequest},
		{reporting.ErrInvalidRequest, http.StatusBadRequest},
		{fmt.Errorf("%w: balance 0", wallet.ErrInsufficientBalance), http.StatusPaymentRequired},
		{calls.ErrInvalidTransition, http.StatusConflict},
		{calls.ErrActiveCallExists, http.StatusConflict},
		{wallet.ErrWalletInactive, http.StatusConflict},
		{fmt.Errorf("%w: %w", wallet.ErrLedgerFault, errors.New("conn reset")), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := statusFor(tc.err); got != tc.want {
			t.Errorf("statusFor(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}
