package payments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"callwallet/internal/payments/gateway"
	"callwallet/internal/wallet"
	"callwallet/pkg/ids"
)

// Service settles wallet top-ups through the payment gateway.
//
// Settlement invariant: a payment credits the wallet at most once. The credit uses the
// payment reference as the ledger reference, so a retried or concurrent verify cannot
// double-credit. No wallet lock is held while the gateway is called.
type Service struct {
	store   Store
	ledger  Ledger
	gateway gateway.Gateway
	audit   SettlementAuditor
	log     *slog.Logger
	options Options
	// clock is injectable for deterministic tests.
	clock func() time.Time
}

// Ledger is the subset of the wallet service used for settlement.
type Ledger interface {
	GetWallet(ctx context.Context, userID string) (wallet.Wallet, error)
	Credit(ctx context.Context, userID string, p wallet.Posting) (wallet.Transaction, error)
	FindByReference(ctx context.Context, userID, reference string) (wallet.Transaction, bool, error)
}

type SettlementAuditor interface {
	LogPaymentSettled(ctx context.Context, userID, reference string, amountMinor int64) error
	LogPaymentFailed(ctx context.Context, userID, reference string, amountMinor int64, reason string) error
}

type Options struct {
	Currency       string
	MinAmountMinor int64
}

type Deps struct {
	Store   Store
	Ledger  Ledger
	Gateway gateway.Gateway
	// Audit is optional.
	Audit SettlementAuditor
	Log   *slog.Logger
}

const defaultHistoryLimit = 20

var (
	ErrNotFound        = errors.New("payment not found")
	ErrInvalidAmount   = errors.New("invalid payment amount")
	ErrInvalidArgument = errors.New("invalid argument")

	errStatusConflict     = errors.New("payment status changed concurrently")
	errDuplicateReference = errors.New("duplicate payment reference")
)

func NewService(d Deps, opts Options) *Service {
	log := d.Log
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		store:   d.Store,
		ledger:  d.Ledger,
		gateway: d.Gateway,
		audit:   d.Audit,
		log:     log,
		options: opts,
		clock:   time.Now,
	}
}

type InitiateRequest struct {
	AmountMinor int64  `json:"amount"`
	Method      Method `json:"payment_method"`
}

// InitiatePayment registers a top-up with the gateway. A gateway error does not fail the
// request: the payment is stored as failed with the gateway's message.
func (s *Service) InitiatePayment(ctx context.Context, userID string, req InitiateRequest) (Payment, error) {
	if userID == "" || !req.Method.Valid() {
		return Payment{}, ErrInvalidArgument
	}
	if req.AmountMinor < s.options.MinAmountMinor || req.AmountMinor <= 0 {
		return Payment{}, fmt.Errorf("%w: minimum is %d", ErrInvalidAmount, s.options.MinAmountMinor)
	}
	if _, err := s.ledger.GetWallet(ctx, userID); err != nil {
		return Payment{}, err
	}

	now := s.clock().UTC()
	p := Payment{
		ID:          ids.New(ids.PrefixPayment),
		UserID:      userID,
		AmountMinor: req.AmountMinor,
		Currency:    s.options.Currency,
		Method:      req.Method,
		Status:      PaymentStatusProcessing,
		Reference:   ids.Reference("PAY", now),
		Metadata: PaymentMetadata{
			PaymentMethod: req.Method,
			InitiatedAt:   now,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	res, err := s.gateway.Initiate(ctx, req.AmountMinor, string(req.Method))
	if err != nil {
		s.log.Warn("gateway initiate failed",
			"reference", p.Reference,
			"user_id", userID,
			"error", err.Error(),
		)
		p.Status = PaymentStatusFailed
		p.ErrorMessage = err.Error()
		p.Provider = gateway.ProviderFor(string(req.Method))
	} else {
		p.ExternalReference = res.ExternalReference
		p.Provider = res.Provider
		p.AuthorizationURL = res.AuthorizationURL
	}

	if err := s.store.Insert(ctx, p); err != nil {
		return Payment{}, err
	}
	if p.Status == PaymentStatusFailed {
		s.auditFailed(ctx, p)
	}

	s.log.Info("payment initiated",
		"reference", p.Reference,
		"user_id", userID,
		"amount", p.AmountMinor,
		"status", string(p.Status),
	)
	return p, nil
}

// VerifyPayment asks the gateway for a verdict and settles the payment.
//
// A completed or failed payment is returned unchanged. If the gateway confirms but the
// wallet credit fails, the error is returned and the payment stays processing so a later
// verify can settle it. A processing payment whose credit is already on the ledger is
// completed without asking the gateway again.
func (s *Service) VerifyPayment(ctx context.Context, reference, userID string) (Payment, error) {
	p, err := s.GetPayment(ctx, reference, userID)
	if err != nil {
		return Payment{}, err
	}
	if p.Status != PaymentStatusProcessing {
		return p, nil
	}

	if txn, ok, err := s.ledger.FindByReference(ctx, userID, p.Reference); err != nil {
		return Payment{}, err
	} else if ok {
		return s.complete(ctx, p, txn)
	}

	verdict, err := s.gateway.Verify(ctx, p.ExternalReference)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Payment{}, ctxErr
		}
		verdict = gateway.VerifyResult{Success: false, Message: err.Error()}
	}

	if !verdict.Success {
		next := p
		next.Status = PaymentStatusFailed
		next.ErrorMessage = verdict.Message
		next.UpdatedAt = s.clock().UTC()
		out, won, err := s.transition(ctx, next, PaymentStatusProcessing)
		if err != nil {
			return Payment{}, err
		}
		if won {
			s.log.Warn("payment failed", "reference", reference, "user_id", userID, "message", verdict.Message)
			s.auditFailed(ctx, out)
		}
		return out, nil
	}

	txn, err := s.ledger.Credit(ctx, userID, wallet.Posting{
		AmountMinor: p.AmountMinor,
		Description: "Wallet Top-up",
		Reference:   p.Reference,
		Metadata: wallet.TopUpMeta(wallet.TopUpMetadata{
			PaymentReference: p.Reference,
			PaymentMethod:    string(p.Method),
			Provider:         p.Provider,
		}),
	})
	if err != nil {
		s.log.Error("payment credit failed", "reference", reference, "user_id", userID, "error", err.Error())
		return Payment{}, err
	}

	return s.complete(ctx, p, txn)
}

// complete records a credited payment as completed. The credit has already landed, so
// the write runs even if the caller has gone away.
func (s *Service) complete(ctx context.Context, p Payment, txn wallet.Transaction) (Payment, error) {
	ctx = context.WithoutCancel(ctx)
	now := s.clock().UTC()
	next := p
	next.Status = PaymentStatusCompleted
	next.CompletedAt = &now
	next.UpdatedAt = now
	next.ErrorMessage = ""
	next.Metadata.CreditTransactionID = txn.ID
	out, won, err := s.transition(ctx, next, PaymentStatusProcessing)
	if err == nil && !won && out.Status == PaymentStatusFailed {
		// A concurrent verify recorded a decline after this credit landed; the credit stands.
		out, won, err = s.transition(ctx, next, PaymentStatusFailed)
	}
	if err != nil {
		return Payment{}, err
	}
	if !won {
		return out, nil
	}

	s.log.Info("payment settled", "reference", p.Reference, "user_id", p.UserID, "amount", p.AmountMinor)
	if s.audit != nil {
		if aerr := s.audit.LogPaymentSettled(ctx, p.UserID, p.Reference, p.AmountMinor); aerr != nil {
			s.log.Error("audit append failed", "reference", p.Reference, "error", aerr.Error())
		}
	}
	return out, nil
}

// transition writes next if the payment is still in from; otherwise the concurrent
// winner's state is returned with won == false.
func (s *Service) transition(ctx context.Context, next Payment, from PaymentStatus) (Payment, bool, error) {
	err := s.store.Transition(ctx, next, from)
	if errors.Is(err, errStatusConflict) {
		cur, err := s.store.GetByReference(ctx, next.Reference, next.UserID)
		return cur, false, err
	}
	if err != nil {
		return Payment{}, false, err
	}
	return next, true, nil
}

func (s *Service) auditFailed(ctx context.Context, p Payment) {
	if s.audit == nil {
		return
	}
	if err := s.audit.LogPaymentFailed(ctx, p.UserID, p.Reference, p.AmountMinor, p.ErrorMessage); err != nil {
		s.log.Error("audit append failed", "reference", p.Reference, "error", err.Error())
	}
}

// History returns the user's payments, newest first. limit <= 0 means 20.
func (s *Service) History(ctx context.Context, userID string, limit int) ([]Payment, error) {
	if userID == "" {
		return nil, ErrInvalidArgument
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	return s.store.ListByUser(ctx, userID, limit)
}

// PaymentsBetween returns the user's payments created in [from, to).
func (s *Service) PaymentsBetween(ctx context.Context, userID string, from, to time.Time) ([]Payment, error) {
	if userID == "" {
		return nil, ErrInvalidArgument
	}
	return s.store.ListByUserBetween(ctx, userID, from, to)
}

// GetPayment returns ErrNotFound for references the user does not own.
func (s *Service) GetPayment(ctx context.Context, reference, userID string) (Payment, error) {
	if reference == "" || userID == "" {
		return Payment{}, ErrInvalidArgument
	}
	return s.store.GetByReference(ctx, reference, userID)
}
