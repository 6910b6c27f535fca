package calls

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"callwallet/internal/audit"
	"callwallet/internal/pricing"
	"callwallet/internal/wallet"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	svc     *Service
	store   *MemoryStore
	wallets *wallet.Service
	audit   *audit.MemoryRepo
	clock   *fakeClock
}

func newHarness(t *testing.T, opts Options, guard ActiveCallGuard) *harness {
	t.Helper()
	clock := &fakeClock{now: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
	wallets := wallet.NewService(wallet.NewMemoryStore(), "NGN", nil)
	auditRepo := audit.NewMemoryRepo()
	store := NewMemoryStore()

	svc := NewService(Deps{
		Store:  store,
		Ledger: wallets,
		Rates:  pricing.NewService(pricing.NewStaticRates("NGN", 10, 20)),
		Audit:  audit.NewService(auditRepo),
		Guard:  guard,
	}, opts)
	svc.clock = clock.Now

	return &harness{svc: svc, store: store, wallets: wallets, audit: auditRepo, clock: clock}
}

func (h *harness) fund(t *testing.T, userID string, amount int64) {
	t.Helper()
	ctx := context.Background()
	_, err := h.wallets.CreateWallet(ctx, userID)
	require.NoError(t, err)
	if amount > 0 {
		_, err = h.wallets.Credit(ctx, userID, wallet.Posting{AmountMinor: amount, Description: "seed", Reference: "SEED_" + userID})
		require.NoError(t, err)
	}
}

func (h *harness) balance(t *testing.T, userID string) int64 {
	t.Helper()
	w, err := h.wallets.GetWallet(context.Background(), userID)
	require.NoError(t, err)
	return w.BalanceMinor
}

func (h *harness) debits(t *testing.T, userID string) []wallet.Transaction {
	t.Helper()
	all, err := h.wallets.History(context.Background(), userID, 1000)
	require.NoError(t, err)
	out := make([]wallet.Transaction, 0)
	for _, e := range all {
		if e.Direction == wallet.DirectionDebit {
			out = append(out, e)
		}
	}
	return out
}

// connectedCall initiates a voice call from alice to bob and connects it.
func (h *harness) connectedCall(t *testing.T) CallSession {
	t.Helper()
	ctx := context.Background()
	sess, err := h.svc.InitiateCall(ctx, "alice", InitiateRequest{ReceiverID: "bob", CallType: CallTypeVoice})
	require.NoError(t, err)
	_, err = h.svc.UpdateStatus(ctx, sess.SessionID, "bob", UpdateRequest{Status: CallStatusRinging})
	require.NoError(t, err)
	sess, err = h.svc.UpdateStatus(ctx, sess.SessionID, "bob", UpdateRequest{Status: CallStatusConnected})
	require.NoError(t, err)
	require.NotNil(t, sess.ConnectedAt)
	return sess
}

func TestInitiateCall(t *testing.T) {
	h := newHarness(t, Options{MinBalanceMinor: 10}, nil)
	h.fund(t, "alice", 100)
	ctx := context.Background()

	sess, err := h.svc.InitiateCall(ctx, "alice", InitiateRequest{
		ReceiverID: "bob",
		CallType:   CallTypeVideo,
		Metadata:   map[string]string{"device": "ios"},
	})
	require.NoError(t, err)
	assert.Equal(t, CallStatusInitiated, sess.Status)
	assert.Equal(t, int64(20), sess.RatePerMinuteMinor)
	assert.Regexp(t, `^CALL_\d+_[0-9A-F]{32}$`, sess.SessionID)
	assert.Equal(t, "ios", sess.Metadata.Client["device"])
	assert.Equal(t, h.clock.Now(), sess.StartedAt)
}

func TestInitiateCallValidation(t *testing.T) {
	h := newHarness(t, Options{MinBalanceMinor: 10}, nil)
	h.fund(t, "alice", 5)
	ctx := context.Background()

	_, err := h.svc.InitiateCall(ctx, "alice", InitiateRequest{ReceiverID: "alice", CallType: CallTypeVoice})
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = h.svc.InitiateCall(ctx, "alice", InitiateRequest{ReceiverID: "bob", CallType: "fax"})
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = h.svc.InitiateCall(ctx, "alice", InitiateRequest{ReceiverID: "bob", CallType: CallTypeVoice})
	assert.ErrorIs(t, err, wallet.ErrInsufficientBalance)
	_, err = h.svc.InitiateCall(ctx, "nobody", InitiateRequest{ReceiverID: "bob", CallType: CallTypeVoice})
	assert.ErrorIs(t, err, wallet.ErrNotFound)
}

func TestEndCallBillsRoundedUpMinutes(t *testing.T) {
	h := newHarness(t, Options{MinBalanceMinor: 10}, nil)
	h.fund(t, "alice", 100)
	sess := h.connectedCall(t)

	h.clock.Advance(61 * time.Second)
	ended, err := h.svc.UpdateStatus(context.Background(), sess.SessionID, "alice", UpdateRequest{Status: CallStatusEnded})
	require.NoError(t, err)

	assert.Equal(t, CallStatusEnded, ended.Status)
	assert.Equal(t, 61, ended.DurationSeconds)
	assert.Equal(t, 2, ended.Metadata.BilledMinutes)
	assert.Equal(t, int64(20), ended.CostMinor)
	assert.Equal(t, defaultEndReason, ended.EndReason)
	assert.Equal(t, int64(80), h.balance(t, "alice"))
}

func TestEndCallDebitsOnceWithSessionReference(t *testing.T) {
	h := newHarness(t, Options{MinBalanceMinor: 10}, nil)
	h.fund(t, "alice", 100)
	sess := h.connectedCall(t)
	ctx := context.Background()

	h.clock.Advance(125 * time.Second)
	ended, err := h.svc.UpdateStatus(ctx, sess.SessionID, "alice", UpdateRequest{Status: CallStatusEnded, EndReason: "hangup"})
	require.NoError(t, err)
	assert.Equal(t, int64(30), ended.CostMinor)
	assert.Equal(t, "hangup", ended.EndReason)

	again, err := h.svc.UpdateStatus(ctx, sess.SessionID, "bob", UpdateRequest{Status: CallStatusEnded})
	require.NoError(t, err)
	assert.Equal(t, CallStatusEnded, again.Status)

	debits := h.debits(t, "alice")
	require.Len(t, debits, 1)
	assert.Equal(t, sess.SessionID, debits[0].Reference)
	assert.Equal(t, "Call charges - "+sess.SessionID, debits[0].Description)
	assert.Equal(t, int64(100), debits[0].BalanceBefore)
	assert.Equal(t, int64(70), debits[0].BalanceAfter)
	require.NotNil(t, debits[0].Metadata.CallCharge)
	assert.Equal(t, 125, debits[0].Metadata.CallCharge.DurationSeconds)
	assert.Equal(t, debits[0].ID, again.Metadata.DebitTransactionID)
	assert.Equal(t, int64(70), h.balance(t, "alice"))
}

func TestNeverConnectedIsMissed(t *testing.T) {
	h := newHarness(t, Options{MinBalanceMinor: 10}, nil)
	h.fund(t, "alice", 100)
	ctx := context.Background()

	sess, err := h.svc.InitiateCall(ctx, "alice", InitiateRequest{ReceiverID: "bob", CallType: CallTypeVoice})
	require.NoError(t, err)
	_, err = h.svc.UpdateStatus(ctx, sess.SessionID, "bob", UpdateRequest{Status: CallStatusRinging})
	require.NoError(t, err)

	h.clock.Advance(30 * time.Second)
	ended, err := h.svc.UpdateStatus(ctx, sess.SessionID, "alice", UpdateRequest{Status: CallStatusEnded})
	require.NoError(t, err)
	assert.Equal(t, CallStatusMissed, ended.Status)
	assert.Zero(t, ended.CostMinor)
	assert.Empty(t, h.debits(t, "alice"))

	// Ending a missed call again is a no-op.
	again, err := h.svc.UpdateStatus(ctx, sess.SessionID, "alice", UpdateRequest{Status: CallStatusEnded})
	require.NoError(t, err)
	assert.Equal(t, CallStatusMissed, again.Status)
}

func TestFailedDebitStillEndsCall(t *testing.T) {
	h := newHarness(t, Options{MinBalanceMinor: 10}, nil)
	h.fund(t, "alice", 100)
	sess := h.connectedCall(t)

	h.clock.Advance(11 * time.Minute)
	ended, err := h.svc.UpdateStatus(context.Background(), sess.SessionID, "alice", UpdateRequest{Status: CallStatusEnded})
	require.NoError(t, err)

	assert.Equal(t, CallStatusEnded, ended.Status)
	assert.Equal(t, int64(110), ended.CostMinor)
	assert.True(t, ended.Metadata.PaymentFailed)
	assert.Contains(t, ended.Metadata.PaymentError, wallet.ErrInsufficientBalance.Error())
	assert.Equal(t, int64(100), h.balance(t, "alice"))

	stored, err := h.svc.GetSession(context.Background(), sess.SessionID, "bob")
	require.NoError(t, err)
	assert.True(t, stored.Metadata.PaymentFailed)

	events := h.audit.Events()
	require.Len(t, events, 1)
	assert.Equal(t, audit.EventTypeCallChargeFailed, events[0].Type)
	assert.Equal(t, sess.SessionID, events[0].SessionID)
}

func TestZeroSecondCallIsNotCharged(t *testing.T) {
	h := newHarness(t, Options{MinBalanceMinor: 10}, nil)
	h.fund(t, "alice", 100)
	sess := h.connectedCall(t)

	ended, err := h.svc.UpdateStatus(context.Background(), sess.SessionID, "alice", UpdateRequest{Status: CallStatusEnded})
	require.NoError(t, err)
	assert.Equal(t, CallStatusEnded, ended.Status)
	assert.Zero(t, ended.CostMinor)
	assert.Empty(t, h.debits(t, "alice"))
}

func TestTransitionRules(t *testing.T) {
	h := newHarness(t, Options{MinBalanceMinor: 10}, nil)
	h.fund(t, "alice", 100)
	ctx := context.Background()
	sess := h.connectedCall(t)

	same, err := h.svc.UpdateStatus(ctx, sess.SessionID, "alice", UpdateRequest{Status: CallStatusConnected})
	require.NoError(t, err)
	assert.Equal(t, sess.ConnectedAt, same.ConnectedAt)

	_, err = h.svc.UpdateStatus(ctx, sess.SessionID, "alice", UpdateRequest{Status: CallStatusRinging})
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = h.svc.UpdateStatus(ctx, sess.SessionID, "alice", UpdateRequest{Status: "initiated"})
	assert.ErrorIs(t, err, ErrInvalidArgument)

	failed, err := h.svc.UpdateStatus(ctx, sess.SessionID, "alice", UpdateRequest{Status: CallStatusFailed})
	require.NoError(t, err)
	assert.Equal(t, defaultFailedReason, failed.EndReason)
	require.NotNil(t, failed.EndedAt)

	again, err := h.svc.UpdateStatus(ctx, sess.SessionID, "alice", UpdateRequest{Status: CallStatusFailed})
	require.NoError(t, err)
	assert.Equal(t, failed.Version, again.Version)

	_, err = h.svc.UpdateStatus(ctx, sess.SessionID, "alice", UpdateRequest{Status: CallStatusEnded})
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Empty(t, h.debits(t, "alice"))
}

func TestParticipantChecks(t *testing.T) {
	h := newHarness(t, Options{MinBalanceMinor: 10}, nil)
	h.fund(t, "alice", 100)
	ctx := context.Background()
	sess, err := h.svc.InitiateCall(ctx, "alice", InitiateRequest{ReceiverID: "bob", CallType: CallTypeVoice})
	require.NoError(t, err)

	_, err = h.svc.UpdateStatus(ctx, sess.SessionID, "mallory", UpdateRequest{Status: CallStatusRinging})
	assert.ErrorIs(t, err, ErrUnauthorized)
	_, err = h.svc.GetSession(ctx, sess.SessionID, "mallory")
	assert.ErrorIs(t, err, ErrUnauthorized)
	_, err = h.svc.StoreSignal(ctx, sess.SessionID, "mallory", "offer", json.RawMessage(`{}`))
	assert.ErrorIs(t, err, ErrUnauthorized)
	_, err = h.svc.UpdateStatus(ctx, "CALL_missing", "alice", UpdateRequest{Status: CallStatusRinging})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStoreSignalLastWriteWins(t *testing.T) {
	h := newHarness(t, Options{MinBalanceMinor: 10}, nil)
	h.fund(t, "alice", 100)
	ctx := context.Background()
	sess, err := h.svc.InitiateCall(ctx, "alice", InitiateRequest{ReceiverID: "bob", CallType: CallTypeVoice})
	require.NoError(t, err)

	_, err = h.svc.StoreSignal(ctx, sess.SessionID, "alice", "offer", json.RawMessage(`{"sdp":"v1"}`))
	require.NoError(t, err)
	_, err = h.svc.StoreSignal(ctx, sess.SessionID, "bob", "answer", json.RawMessage(`{"sdp":"a1"}`))
	require.NoError(t, err)
	got, err := h.svc.StoreSignal(ctx, sess.SessionID, "alice", "offer", json.RawMessage(`{"sdp":"v2"}`))
	require.NoError(t, err)

	require.Len(t, got.Signaling, 2)
	assert.JSONEq(t, `{"sdp":"v2"}`, string(got.Signaling["offer"].Data))
	assert.Equal(t, "bob", got.Signaling["answer"].UserID)

	_, err = h.svc.StoreSignal(ctx, sess.SessionID, "alice", "", nil)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = h.svc.StoreSignal(ctx, sess.SessionID, "alice", "offer", json.RawMessage(`{broken`))
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestHistoryAndActiveCall(t *testing.T) {
	h := newHarness(t, Options{MinBalanceMinor: 10}, nil)
	h.fund(t, "alice", 100)
	ctx := context.Background()

	active, err := h.svc.GetActiveCall(ctx, "alice")
	require.NoError(t, err)
	assert.Nil(t, active)

	first, err := h.svc.InitiateCall(ctx, "alice", InitiateRequest{ReceiverID: "bob", CallType: CallTypeVoice})
	require.NoError(t, err)
	_, err = h.svc.UpdateStatus(ctx, first.SessionID, "alice", UpdateRequest{Status: CallStatusFailed})
	require.NoError(t, err)

	h.clock.Advance(time.Minute)
	second, err := h.svc.InitiateCall(ctx, "alice", InitiateRequest{ReceiverID: "carol", CallType: CallTypeVoice})
	require.NoError(t, err)

	active, err = h.svc.GetActiveCall(ctx, "alice")
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, second.SessionID, active.SessionID)

	history, err := h.svc.History(ctx, "alice", 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, second.SessionID, history[0].SessionID)

	bobHistory, err := h.svc.History(ctx, "bob", 10)
	require.NoError(t, err)
	assert.Len(t, bobHistory, 1)
}

type recordingGuard struct {
	mu       sync.Mutex
	holders  map[string]string
	released []string
}

func (g *recordingGuard) Acquire(_ context.Context, userID, sessionID string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.holders == nil {
		g.holders = map[string]string{}
	}
	if h, ok := g.holders[userID]; ok && h != sessionID {
		return false, nil
	}
	g.holders[userID] = sessionID
	return true, nil
}

func (g *recordingGuard) Release(_ context.Context, userID, sessionID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.holders[userID] == sessionID {
		delete(g.holders, userID)
	}
	g.released = append(g.released, sessionID)
	return nil
}

func TestSingleActiveCall(t *testing.T) {
	guard := &recordingGuard{}
	h := newHarness(t, Options{MinBalanceMinor: 10, SingleActive: true}, guard)
	h.fund(t, "alice", 100)
	ctx := context.Background()

	first, err := h.svc.InitiateCall(ctx, "alice", InitiateRequest{ReceiverID: "bob", CallType: CallTypeVoice})
	require.NoError(t, err)

	_, err = h.svc.InitiateCall(ctx, "alice", InitiateRequest{ReceiverID: "carol", CallType: CallTypeVoice})
	assert.ErrorIs(t, err, ErrActiveCallExists)

	_, err = h.svc.UpdateStatus(ctx, first.SessionID, "bob", UpdateRequest{Status: CallStatusEnded})
	require.NoError(t, err)
	assert.Equal(t, []string{first.SessionID}, guard.released)

	_, err = h.svc.InitiateCall(ctx, "alice", InitiateRequest{ReceiverID: "carol", CallType: CallTypeVoice})
	assert.NoError(t, err)
}

// racingStore lets another writer move the session right before the first Update lands.
type racingStore struct {
	*MemoryStore
	race func(cur CallSession) CallSession
	once sync.Once
}

func (r *racingStore) Update(ctx context.Context, s CallSession, expectedVersion int64) error {
	r.once.Do(func() {
		cur, err := r.MemoryStore.GetBySessionID(ctx, s.SessionID)
		if err != nil {
			return
		}
		winner := r.race(clone(cur))
		winner.Version = cur.Version + 1
		_ = r.MemoryStore.Update(ctx, winner, cur.Version)
	})
	return r.MemoryStore.Update(ctx, s, expectedVersion)
}

func TestLosingWriterRereadsWinnerSession(t *testing.T) {
	h := newHarness(t, Options{MinBalanceMinor: 10}, nil)
	h.fund(t, "alice", 100)
	ctx := context.Background()

	sess, err := h.svc.InitiateCall(ctx, "alice", InitiateRequest{ReceiverID: "bob", CallType: CallTypeVoice})
	require.NoError(t, err)

	h.svc.store = &racingStore{MemoryStore: h.store, race: func(cur CallSession) CallSession {
		cur.Status = CallStatusFailed
		cur.EndReason = "network"
		return cur
	}}
	got, err := h.svc.UpdateStatus(ctx, sess.SessionID, "bob", UpdateRequest{Status: CallStatusConnected})
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, CallStatusFailed, got.Status)
	assert.Equal(t, "network", got.EndReason)
}

func TestEndedRetriesAfterConcurrentConnect(t *testing.T) {
	h := newHarness(t, Options{MinBalanceMinor: 10}, nil)
	h.fund(t, "alice", 100)
	ctx := context.Background()

	sess, err := h.svc.InitiateCall(ctx, "alice", InitiateRequest{ReceiverID: "bob", CallType: CallTypeVoice})
	require.NoError(t, err)
	_, err = h.svc.UpdateStatus(ctx, sess.SessionID, "bob", UpdateRequest{Status: CallStatusRinging})
	require.NoError(t, err)

	h.clock.Advance(125 * time.Second)
	connectedAt := h.clock.Now().Add(-125 * time.Second)
	h.svc.store = &racingStore{MemoryStore: h.store, race: func(cur CallSession) CallSession {
		cur.Status = CallStatusConnected
		cur.ConnectedAt = &connectedAt
		return cur
	}}

	ended, err := h.svc.UpdateStatus(ctx, sess.SessionID, "alice", UpdateRequest{Status: CallStatusEnded})
	require.NoError(t, err)
	assert.Equal(t, CallStatusEnded, ended.Status)
	assert.Equal(t, 125, ended.DurationSeconds)
	assert.Equal(t, int64(30), ended.CostMinor)
	assert.NotEmpty(t, ended.Metadata.DebitTransactionID)

	require.Len(t, h.debits(t, "alice"), 1)
	assert.Equal(t, int64(70), h.balance(t, "alice"))
}

func TestCancelledContextStillBillsEndedCall(t *testing.T) {
	h := newHarness(t, Options{MinBalanceMinor: 10}, nil)
	h.fund(t, "alice", 100)
	sess := h.connectedCall(t)

	h.clock.Advance(125 * time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ended, err := h.svc.UpdateStatus(ctx, sess.SessionID, "alice", UpdateRequest{Status: CallStatusEnded})
	require.NoError(t, err)
	assert.Equal(t, CallStatusEnded, ended.Status)
	assert.False(t, ended.Metadata.PaymentFailed)

	again, err := h.svc.UpdateStatus(context.Background(), sess.SessionID, "alice", UpdateRequest{Status: CallStatusEnded})
	require.NoError(t, err)
	assert.False(t, again.Metadata.PaymentFailed)
	assert.NotEmpty(t, again.Metadata.DebitTransactionID)

	require.Len(t, h.debits(t, "alice"), 1)
	assert.Equal(t, int64(70), h.balance(t, "alice"))
}

// flakyLedger fails the first debit with a transport error.
type flakyLedger struct {
	Ledger
	failed bool
}

func (l *flakyLedger) Debit(ctx context.Context, userID string, p wallet.Posting) (wallet.Transaction, error) {
	if !l.failed {
		l.failed = true
		return wallet.Transaction{}, errors.New("connection reset")
	}
	return l.Ledger.Debit(ctx, userID, p)
}

func TestRepeatedEndedRetriesUnbilledCharge(t *testing.T) {
	h := newHarness(t, Options{MinBalanceMinor: 10}, nil)
	h.fund(t, "alice", 100)
	sess := h.connectedCall(t)
	h.svc.ledger = &flakyLedger{Ledger: h.wallets}
	ctx := context.Background()

	h.clock.Advance(125 * time.Second)
	ended, err := h.svc.UpdateStatus(ctx, sess.SessionID, "alice", UpdateRequest{Status: CallStatusEnded})
	require.NoError(t, err)
	assert.True(t, ended.Metadata.PaymentFailed)
	assert.Equal(t, int64(100), h.balance(t, "alice"))

	again, err := h.svc.UpdateStatus(ctx, sess.SessionID, "bob", UpdateRequest{Status: CallStatusEnded})
	require.NoError(t, err)
	assert.Equal(t, CallStatusEnded, again.Status)
	assert.False(t, again.Metadata.PaymentFailed)
	assert.Empty(t, again.Metadata.PaymentError)
	assert.NotEmpty(t, again.Metadata.DebitTransactionID)

	// Once billed, further reports leave the ledger alone.
	_, err = h.svc.UpdateStatus(ctx, sess.SessionID, "alice", UpdateRequest{Status: CallStatusEnded})
	require.NoError(t, err)

	debits := h.debits(t, "alice")
	require.Len(t, debits, 1)
	assert.Equal(t, sess.SessionID, debits[0].Reference)
	assert.Equal(t, int64(70), h.balance(t, "alice"))
}
