package calls

import (
	"context"
	"time"
)

// Store persists call sessions.
//
// Update is a compare-and-swap on Version: it writes s only if the stored version equals
// expectedVersion, otherwise it returns errVersionConflict.
type Store interface {
	Insert(ctx context.Context, s CallSession) error
	GetBySessionID(ctx context.Context, sessionID string) (CallSession, error)
	Update(ctx context.Context, s CallSession, expectedVersion int64) error

	// ListByParticipant returns sessions where the user is caller or receiver, newest first.
	ListByParticipant(ctx context.Context, userID string, limit int) ([]CallSession, error)
	// ListByParticipantBetween returns sessions started in [from, to), oldest first.
	ListByParticipantBetween(ctx context.Context, userID string, from, to time.Time) ([]CallSession, error)
	// FindActiveByParticipant returns the newest session in an active status.
	FindActiveByParticipant(ctx context.Context, userID string) (CallSession, bool, error)
}
