package calls

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for local runs and tests.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]CallSession // session id -> session
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: map[string]CallSession{}}
}

func (r *MemoryStore) Insert(_ context.Context, s CallSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[s.SessionID]; ok {
		return errDuplicateSession
	}
	r.sessions[s.SessionID] = clone(s)
	return nil
}

func (r *MemoryStore) GetBySessionID(_ context.Context, sessionID string) (CallSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		return CallSession{}, ErrNotFound
	}
	return clone(s), nil
}

func (r *MemoryStore) Update(_ context.Context, s CallSession, expectedVersion int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.sessions[s.SessionID]
	if !ok {
		return ErrNotFound
	}
	if cur.Version != expectedVersion {
		return errVersionConflict
	}
	r.sessions[s.SessionID] = clone(s)
	return nil
}

func (r *MemoryStore) ListByParticipant(_ context.Context, userID string, limit int) ([]CallSession, error) {
	out := r.filter(func(s CallSession) bool { return s.IsParticipant(userID) })
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryStore) ListByParticipantBetween(_ context.Context, userID string, from, to time.Time) ([]CallSession, error) {
	out := r.filter(func(s CallSession) bool {
		return s.IsParticipant(userID) && !s.StartedAt.Before(from) && s.StartedAt.Before(to)
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}

func (r *MemoryStore) FindActiveByParticipant(ctx context.Context, userID string) (CallSession, bool, error) {
	out := r.filter(func(s CallSession) bool { return s.IsParticipant(userID) && s.Status.Active() })
	if len(out) == 0 {
		return CallSession{}, false, nil
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out[0], true, nil
}

func (r *MemoryStore) filter(keep func(CallSession) bool) []CallSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]CallSession, 0)
	for _, s := range r.sessions {
		if keep(s) {
			out = append(out, clone(s))
		}
	}
	return out
}

// clone copies the maps so callers never alias stored state.
func clone(s CallSession) CallSession {
	if s.Metadata.Client != nil {
		m := make(map[string]string, len(s.Metadata.Client))
		for k, v := range s.Metadata.Client {
			m[k] = v
		}
		s.Metadata.Client = m
	}
	if s.Signaling != nil {
		m := make(map[string]Signal, len(s.Signaling))
		for k, v := range s.Signaling {
			m[k] = v
		}
		s.Signaling = m
	}
	return s
}
