// Package gateway defines the payment gateway contract and a mock implementation.
package gateway

import (
	"context"
	"errors"
)

// InitiateResult is the gateway's acknowledgement of a new collection.
type InitiateResult struct {
	ExternalReference string
	Provider          string
	AuthorizationURL  string
}

// VerifyResult is the gateway's verdict on a collection.
type VerifyResult struct {
	Success bool
	Message string
}

// Gateway is implemented by payment provider adapters. Timeouts and retries belong to the
// adapter; callers only pass a context.
type Gateway interface {
	Initiate(ctx context.Context, amountMinor int64, method string) (InitiateResult, error)
	Verify(ctx context.Context, externalReference string) (VerifyResult, error)
}

var ErrUnknownReference = errors.New("gateway: unknown reference")
