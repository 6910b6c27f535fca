package calls

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"callwallet/internal/pricing"
	"callwallet/internal/wallet"
	"callwallet/pkg/ids"
)

// Service runs the call session state machine and bills completed calls.
//
// State machine:
//
//	initiated -> ringing -> connected -> ended
//	initiated|ringing|connected -> failed
//	initiated|ringing + "ended" -> missed (never billed)
//
// Billing invariant: a session is debited at most once, by the writer that moved it to
// ended, with the session id as the wallet reference.
type Service struct {
	store   Store
	ledger  Ledger
	rates   RateSource
	audit   ChargeAuditor
	guard   ActiveCallGuard
	log     *slog.Logger
	options Options
	// clock is injectable for deterministic tests.
	clock func() time.Time
}

// Ledger is the subset of the wallet service used for billing.
type Ledger interface {
	GetWallet(ctx context.Context, userID string) (wallet.Wallet, error)
	Debit(ctx context.Context, userID string, p wallet.Posting) (wallet.Transaction, error)
}

type RateSource interface {
	RateFor(ctx context.Context, callType string) (pricing.MinuteRate, error)
}

// ChargeAuditor records end-of-call debits that could not be applied.
type ChargeAuditor interface {
	LogCallChargeFailed(ctx context.Context, userID, sessionID string, amountMinor int64, reason string) error
}

type Options struct {
	// MinBalanceMinor is the balance a caller needs to start a call.
	MinBalanceMinor int64
	// SingleActive rejects a new call while the caller has one in progress.
	SingleActive bool
}

type Deps struct {
	Store  Store
	Ledger Ledger
	Rates  RateSource
	// Audit and Guard are optional.
	Audit ChargeAuditor
	Guard ActiveCallGuard
	Log   *slog.Logger
}

const (
	defaultHistoryLimit = 50
	maxWriteAttempts    = 5

	defaultEndReason    = "Call ended normally"
	defaultFailedReason = "Call failed"
)

var (
	ErrNotFound          = errors.New("call session not found")
	ErrUnauthorized      = errors.New("not a participant of this call")
	ErrInvalidTransition = errors.New("invalid call status transition")
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrActiveCallExists  = errors.New("caller already has an active call")

	errVersionConflict  = errors.New("call session version conflict")
	errDuplicateSession = errors.New("duplicate session id")
)

func NewService(d Deps, opts Options) *Service {
	log := d.Log
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		store:   d.Store,
		ledger:  d.Ledger,
		rates:   d.Rates,
		audit:   d.Audit,
		guard:   d.Guard,
		log:     log,
		options: opts,
		clock:   time.Now,
	}
}

type InitiateRequest struct {
	ReceiverID string            `json:"receiver_id"`
	CallType   CallType          `json:"call_type"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

type UpdateRequest struct {
	Status    CallStatus `json:"status"`
	EndReason string     `json:"end_reason,omitempty"`
}

// InitiateCall opens a session for callerID after checking the caller can afford at least
// the minimum balance.
func (s *Service) InitiateCall(ctx context.Context, callerID string, req InitiateRequest) (CallSession, error) {
	if callerID == "" || req.ReceiverID == "" || req.ReceiverID == callerID {
		return CallSession{}, ErrInvalidArgument
	}
	if !req.CallType.Valid() {
		return CallSession{}, ErrInvalidArgument
	}

	w, err := s.ledger.GetWallet(ctx, callerID)
	if err != nil {
		return CallSession{}, err
	}
	if w.BalanceMinor < s.options.MinBalanceMinor {
		return CallSession{}, fmt.Errorf("%w: balance %d below minimum %d", wallet.ErrInsufficientBalance, w.BalanceMinor, s.options.MinBalanceMinor)
	}

	rate, err := s.rates.RateFor(ctx, string(req.CallType))
	if err != nil {
		return CallSession{}, err
	}

	now := s.clock().UTC()
	sess := CallSession{
		ID:                 ids.New(ids.PrefixCallSession),
		SessionID:          ids.Reference("CALL", now),
		CallerID:           callerID,
		ReceiverID:         req.ReceiverID,
		CallType:           req.CallType,
		Status:             CallStatusInitiated,
		StartedAt:          now,
		RatePerMinuteMinor: rate.RatePerMinuteMinor,
		Metadata:           SessionMetadata{Client: req.Metadata},
		Version:            1,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	if s.options.SingleActive {
		if _, ok, err := s.store.FindActiveByParticipant(ctx, callerID); err != nil {
			return CallSession{}, err
		} else if ok {
			return CallSession{}, ErrActiveCallExists
		}
		if s.guard != nil {
			acquired, err := s.guard.Acquire(ctx, callerID, sess.SessionID)
			if err != nil {
				return CallSession{}, err
			}
			if !acquired {
				return CallSession{}, ErrActiveCallExists
			}
		}
	}

	if err := s.store.Insert(ctx, sess); err != nil {
		s.releaseSlot(ctx, sess)
		return CallSession{}, err
	}

	s.log.Info("call initiated",
		"session_id", sess.SessionID,
		"caller_id", callerID,
		"receiver_id", req.ReceiverID,
		"call_type", string(req.CallType),
	)
	return sess, nil
}

// UpdateStatus applies a participant's status report.
//
// Re-applying the current status is a no-op, as is "ended" on an ended or missed call and
// "failed" on a failed call. Any other backward move, or a move out of a terminal status,
// is ErrInvalidTransition. Re-applying "ended" to an ended call whose charge never landed
// retries the charge under the same reference.
func (s *Service) UpdateStatus(ctx context.Context, sessionID, userID string, req UpdateRequest) (CallSession, error) {
	switch req.Status {
	case CallStatusRinging, CallStatusConnected, CallStatusEnded, CallStatusFailed:
	default:
		return CallSession{}, ErrInvalidArgument
	}

	var lastErr error
	for attempt := 0; attempt < maxWriteAttempts; attempt++ {
		cur, err := s.loadForParticipant(ctx, sessionID, userID)
		if err != nil {
			return CallSession{}, err
		}

		next, changed, err := s.transition(cur, req)
		if err != nil {
			return cur, err
		}
		if !changed {
			if unbilled(cur) && req.Status == CallStatusEnded {
				return s.charge(ctx, cur), nil
			}
			return cur, nil
		}

		err = s.store.Update(ctx, next, cur.Version)
		if errors.Is(err, errVersionConflict) {
			lastErr = err
			continue
		}
		if err != nil {
			return CallSession{}, err
		}

		s.log.Info("call status updated",
			"session_id", sessionID,
			"from", string(cur.Status),
			"to", string(next.Status),
		)

		if next.Status.Terminal() {
			s.releaseSlot(context.WithoutCancel(ctx), next)
		}
		if next.Status == CallStatusEnded && next.CostMinor > 0 {
			return s.charge(ctx, next), nil
		}
		return next, nil
	}
	return CallSession{}, lastErr
}

// unbilled reports whether an ended call carries a cost with no recorded debit.
func unbilled(sess CallSession) bool {
	return sess.Status == CallStatusEnded && sess.CostMinor > 0 && sess.Metadata.DebitTransactionID == ""
}

func (s *Service) transition(cur CallSession, req UpdateRequest) (CallSession, bool, error) {
	if cur.Status == req.Status {
		return cur, false, nil
	}
	if cur.Status.Terminal() {
		if req.Status == CallStatusEnded && cur.Status == CallStatusMissed {
			return cur, false, nil
		}
		return cur, false, ErrInvalidTransition
	}

	now := s.clock().UTC()
	next := cur
	next.Version = cur.Version + 1
	next.UpdatedAt = now

	switch req.Status {
	case CallStatusRinging, CallStatusConnected:
		if req.Status.rank() < cur.Status.rank() {
			return cur, false, ErrInvalidTransition
		}
		next.Status = req.Status
		if req.Status == CallStatusConnected {
			next.ConnectedAt = &now
		}
	case CallStatusFailed:
		next.Status = CallStatusFailed
		next.EndedAt = &now
		next.EndReason = orDefault(req.EndReason, defaultFailedReason)
	case CallStatusEnded:
		next.EndedAt = &now
		next.EndReason = orDefault(req.EndReason, defaultEndReason)
		if cur.ConnectedAt == nil {
			next.Status = CallStatusMissed
			break
		}
		next.Status = CallStatusEnded
		next.DurationSeconds = int(now.Sub(*cur.ConnectedAt) / time.Second)
		cost := pricing.Quote(next.DurationSeconds, pricing.MinuteRate{
			RatePerMinuteMinor:      cur.RatePerMinuteMinor,
			BillingIncrementSeconds: 60,
		})
		next.CostMinor = cost.TotalMinor
		next.Metadata.BilledMinutes = cost.BillableMinutes
	}
	return next, true, nil
}

// charge debits the caller for an ended session and records the outcome on the session.
// Debit failures are recorded, never returned: the call itself has already ended.
// The ended status is already committed, so the caller's cancellation does not reach the
// debit or the write that records it.
func (s *Service) charge(ctx context.Context, sess CallSession) CallSession {
	ctx = context.WithoutCancel(ctx)
	txn, err := s.ledger.Debit(ctx, sess.CallerID, wallet.Posting{
		AmountMinor: sess.CostMinor,
		Description: "Call charges - " + sess.SessionID,
		Reference:   sess.SessionID,
		Metadata: wallet.CallChargeMeta(wallet.CallChargeMetadata{
			SessionID:       sess.SessionID,
			CallType:        string(sess.CallType),
			DurationSeconds: sess.DurationSeconds,
			ReceiverID:      sess.ReceiverID,
		}),
	})

	mark := func(m *SessionMetadata) {
		if err != nil {
			m.PaymentFailed = true
			m.PaymentError = err.Error()
			return
		}
		m.DebitTransactionID = txn.ID
		m.PaymentFailed = false
		m.PaymentError = ""
	}

	if err != nil {
		s.log.Warn("call charge failed",
			"session_id", sess.SessionID,
			"caller_id", sess.CallerID,
			"amount", sess.CostMinor,
			"error", err.Error(),
		)
		if s.audit != nil {
			if aerr := s.audit.LogCallChargeFailed(ctx, sess.CallerID, sess.SessionID, sess.CostMinor, err.Error()); aerr != nil {
				s.log.Error("audit append failed", "session_id", sess.SessionID, "error", aerr.Error())
			}
		}
	} else {
		s.log.Info("call charged",
			"session_id", sess.SessionID,
			"caller_id", sess.CallerID,
			"amount", sess.CostMinor,
			"transaction_id", txn.ID,
		)
	}

	out, uerr := s.mutate(ctx, sess.SessionID, func(cs *CallSession) bool {
		mark(&cs.Metadata)
		return true
	})
	if uerr != nil {
		s.log.Error("record call charge outcome failed", "session_id", sess.SessionID, "error", uerr.Error())
		mark(&sess.Metadata)
		return sess
	}
	return out
}

// StoreSignal keeps the latest payload per signal type. Last write wins.
func (s *Service) StoreSignal(ctx context.Context, sessionID, userID, signalType string, data json.RawMessage) (CallSession, error) {
	if signalType == "" {
		return CallSession{}, ErrInvalidArgument
	}
	if len(data) > 0 && !json.Valid(data) {
		return CallSession{}, ErrInvalidArgument
	}
	if _, err := s.loadForParticipant(ctx, sessionID, userID); err != nil {
		return CallSession{}, err
	}

	now := s.clock().UTC()
	return s.mutate(ctx, sessionID, func(cs *CallSession) bool {
		if cs.Signaling == nil {
			cs.Signaling = map[string]Signal{}
		}
		cs.Signaling[signalType] = Signal{UserID: userID, Data: data, Timestamp: now}
		return true
	})
}

// mutate applies fn to the latest stored session and writes it back, retrying on version
// conflicts. fn must be safe to apply more than once.
func (s *Service) mutate(ctx context.Context, sessionID string, fn func(*CallSession) bool) (CallSession, error) {
	var lastErr error
	for attempt := 0; attempt < maxWriteAttempts; attempt++ {
		cur, err := s.store.GetBySessionID(ctx, sessionID)
		if err != nil {
			return CallSession{}, err
		}
		next := clone(cur)
		if !fn(&next) {
			return cur, nil
		}
		next.Version = cur.Version + 1
		next.UpdatedAt = s.clock().UTC()

		err = s.store.Update(ctx, next, cur.Version)
		if err == nil {
			return next, nil
		}
		if !errors.Is(err, errVersionConflict) {
			return CallSession{}, err
		}
		lastErr = err
	}
	return CallSession{}, lastErr
}

// GetSession returns a session visible to one of its participants.
func (s *Service) GetSession(ctx context.Context, sessionID, userID string) (CallSession, error) {
	return s.loadForParticipant(ctx, sessionID, userID)
}

// History returns sessions the user placed or received, newest first. limit <= 0 means 50.
func (s *Service) History(ctx context.Context, userID string, limit int) ([]CallSession, error) {
	if userID == "" {
		return nil, ErrInvalidArgument
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	return s.store.ListByParticipant(ctx, userID, limit)
}

// SessionsBetween returns the user's sessions started in [from, to).
func (s *Service) SessionsBetween(ctx context.Context, userID string, from, to time.Time) ([]CallSession, error) {
	if userID == "" {
		return nil, ErrInvalidArgument
	}
	return s.store.ListByParticipantBetween(ctx, userID, from, to)
}

// GetActiveCall returns the user's call in progress, or nil when there is none.
func (s *Service) GetActiveCall(ctx context.Context, userID string) (*CallSession, error) {
	if userID == "" {
		return nil, ErrInvalidArgument
	}
	sess, ok, err := s.store.FindActiveByParticipant(ctx, userID)
	if err != nil || !ok {
		return nil, err
	}
	return &sess, nil
}

func (s *Service) loadForParticipant(ctx context.Context, sessionID, userID string) (CallSession, error) {
	if sessionID == "" {
		return CallSession{}, ErrInvalidArgument
	}
	sess, err := s.store.GetBySessionID(ctx, sessionID)
	if err != nil {
		return CallSession{}, err
	}
	if !sess.IsParticipant(userID) {
		return CallSession{}, ErrUnauthorized
	}
	return sess, nil
}

func (s *Service) releaseSlot(ctx context.Context, sess CallSession) {
	if s.guard == nil || !s.options.SingleActive {
		return
	}
	if err := s.guard.Release(ctx, sess.CallerID, sess.SessionID); err != nil {
		s.log.Warn("release active call slot failed", "session_id", sess.SessionID, "error", err.Error())
	}
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
