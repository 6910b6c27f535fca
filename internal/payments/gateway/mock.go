package gateway

import (
	"context"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	verifiedMessage = "Payment verified successfully"
	declinedMessage = "Payment verification failed - Insufficient funds or declined by bank"

	mockAuthorizationURL = "https://mock-payment-gateway.com/authorize"
)

var providers = map[string]string{
	"card":          "Paystack",
	"bank_transfer": "Flutterwave",
	"ussd":          "Interswitch",
}

// ProviderFor maps a payment method to the provider the mock routes it to.
func ProviderFor(method string) string {
	if p, ok := providers[method]; ok {
		return p
	}
	return "Generic Provider"
}

// MockGateway simulates an aggregator with latency and a fixed success rate.
type MockGateway struct {
	InitiateDelay time.Duration
	VerifyDelay   time.Duration
	// SuccessRate is the probability in [0,1] that Verify succeeds.
	SuccessRate float64

	mu   sync.Mutex
	rng  *rand.Rand
	refs map[string]struct{}
}

// NewMockGateway returns a gateway that succeeds 90% of the time after a short delay.
func NewMockGateway() *MockGateway {
	return &MockGateway{
		InitiateDelay: 500 * time.Millisecond,
		VerifyDelay:   300 * time.Millisecond,
		SuccessRate:   0.9,
		rng:           rand.New(rand.NewSource(time.Now().UnixNano())),
		refs:          map[string]struct{}{},
	}
}

func (g *MockGateway) Initiate(ctx context.Context, amountMinor int64, method string) (InitiateResult, error) {
	if err := sleep(ctx, g.InitiateDelay); err != nil {
		return InitiateResult{}, err
	}

	ref := "ONEPIPE_" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:12])

	g.mu.Lock()
	g.refs[ref] = struct{}{}
	g.mu.Unlock()

	return InitiateResult{
		ExternalReference: ref,
		Provider:          ProviderFor(method),
		AuthorizationURL:  mockAuthorizationURL,
	}, nil
}

func (g *MockGateway) Verify(ctx context.Context, externalReference string) (VerifyResult, error) {
	if err := sleep(ctx, g.VerifyDelay); err != nil {
		return VerifyResult{}, err
	}

	g.mu.Lock()
	_, known := g.refs[externalReference]
	ok := g.rng.Float64() < g.SuccessRate
	g.mu.Unlock()

	if !known {
		return VerifyResult{}, ErrUnknownReference
	}
	if ok {
		return VerifyResult{Success: true, Message: verifiedMessage}, nil
	}
	return VerifyResult{Success: false, Message: declinedMessage}, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
