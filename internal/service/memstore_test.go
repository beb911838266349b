package service

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/navigapp/navigapp-server-go/internal/database"
	"github.com/navigapp/navigapp-server-go/internal/model"
	"github.com/navigapp/navigapp-server-go/internal/repository"
)

// memStore is an in-memory stand-in for the three auth tables. Transactions
// are serialized and roll back to a snapshot when fn fails.
type memStore struct {
	txMu sync.Mutex
	mu   sync.Mutex

	users    map[string]model.User
	requests map[string]model.AuthRequest
	sessions map[string]model.AuthSession

	failSessionCreate error
}

func newMemStore() *memStore {
	return &memStore{
		users:    map[string]model.User{},
		requests: map[string]model.AuthRequest{},
		sessions: map[string]model.AuthSession{},
	}
}

func (s *memStore) WithTx(ctx context.Context, fn database.TxFunc) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	users, requests, sessions := cloneMap(s.users), cloneMap(s.requests), cloneMap(s.sessions)
	s.mu.Unlock()

	if err := fn(nil); err != nil {
		s.mu.Lock()
		s.users, s.requests, s.sessions = users, requests, sessions
		s.mu.Unlock()
		return err
	}
	return nil
}

func cloneMap[T any](m map[string]T) map[string]T {
	out := make(map[string]T, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (s *memStore) userRepo() repository.UserRepository           { return memUsers{s} }
func (s *memStore) requestRepo() repository.AuthRequestRepository { return memRequests{s} }
func (s *memStore) sessionRepo() repository.AuthSessionRepository { return memSessions{s} }

func (s *memStore) request(hash string) model.AuthRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[hash]
}

func (s *memStore) session(id string) model.AuthSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[id]
}

func (s *memStore) counts() (users, sessions int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.users), len(s.sessions)
}

type memUsers struct{ s *memStore }

func (r memUsers) WithTx(*sqlx.Tx) repository.UserRepository { return r }

func (r memUsers) FindByID(_ context.Context, id string) (*model.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.users[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (r memUsers) FindByTelegramID(_ context.Context, telegramID int64) (*model.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, u := range r.s.users {
		if u.TelegramID == telegramID {
			return &u, nil
		}
	}
	return nil, nil
}

func (r memUsers) Upsert(_ context.Context, p model.UpsertUserParams) (*model.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var u model.User
	for _, existing := range r.s.users {
		if existing.TelegramID == p.TelegramID {
			u = existing
		}
	}
	if u.ID == "" {
		u = model.User{ID: uuid.NewString(), TelegramID: p.TelegramID, SubscriptionType: model.SubscriptionFree, CreatedAt: p.AuthAt}
	}
	u.FirstName = keep(p.FirstName, u.FirstName)
	u.LastName = keep(p.LastName, u.LastName)
	u.Username = keep(p.Username, u.Username)
	u.LanguageCode = keep(p.LanguageCode, u.LanguageCode)
	if p.IsPremium != nil {
		u.IsPremium = *p.IsPremium
	}
	method := p.AuthMethod
	u.AuthPreference = &method
	if p.AuthMethod == model.AuthMethodBot {
		at := p.AuthAt
		u.LastBotAuthAt = &at
	}
	active := p.AuthAt
	u.LastActiveAt = &active
	u.UpdatedAt = p.AuthAt

	r.s.users[u.ID] = u
	return &u, nil
}

func keep(next, current *string) *string {
	if next != nil {
		return next
	}
	return current
}

func (r memUsers) TouchLastActive(_ context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if u, ok := r.s.users[id]; ok {
		now := time.Now()
		u.LastActiveAt = &now
		r.s.users[id] = u
	}
	return nil
}

type memRequests struct{ s *memStore }

func (r memRequests) WithTx(*sqlx.Tx) repository.AuthRequestRepository { return r }

func (r memRequests) Create(_ context.Context, p model.CreateAuthRequestParams) (*model.AuthRequest, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	req := model.AuthRequest{
		ID:         uuid.NewString(),
		AuthHash:   p.AuthHash,
		TelegramID: p.TelegramID,
		UserData:   p.UserData,
		ExpiresAt:  p.ExpiresAt,
		IPAddress:  p.IPAddress,
		UserAgent:  p.UserAgent,
		CreatedAt:  time.Now(),
	}
	r.s.requests[p.AuthHash] = req
	return &req, nil
}

func (r memRequests) FindActiveByHash(_ context.Context, hash string, now time.Time) (*model.AuthRequest, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	req, ok := r.s.requests[hash]
	if !ok || req.IsCompleted || now.After(req.ExpiresAt) {
		return nil, nil
	}
	return &req, nil
}

func (r memRequests) Claim(_ context.Context, hash string, now time.Time) (*model.AuthRequest, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	req, ok := r.s.requests[hash]
	if !ok || req.IsCompleted || now.After(req.ExpiresAt) {
		return nil, nil
	}
	req.IsCompleted = true
	req.CompletedAt = &now
	r.s.requests[hash] = req
	return &req, nil
}

func (r memRequests) DeleteExpired(_ context.Context, olderThan time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for hash, req := range r.s.requests {
		if req.ExpiresAt.Before(olderThan) {
			delete(r.s.requests, hash)
			n++
		}
	}
	return n, nil
}

type memSessions struct{ s *memStore }

func (r memSessions) WithTx(*sqlx.Tx) repository.AuthSessionRepository { return r }

func (r memSessions) FindByID(_ context.Context, id string) (*model.AuthSession, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	sess, ok := r.s.sessions[id]
	if !ok {
		return nil, nil
	}
	return &sess, nil
}

func (r memSessions) FindByRefreshTokenHash(_ context.Context, hash string) (*model.AuthSession, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, sess := range r.s.sessions {
		if sess.RefreshTokenHash == hash {
			return &sess, nil
		}
	}
	return nil, nil
}

func (r memSessions) Create(_ context.Context, p model.CreateAuthSessionParams) (*model.AuthSession, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.failSessionCreate != nil {
		return nil, r.s.failSessionCreate
	}
	now := time.Now()
	sess := model.AuthSession{
		ID:                p.ID,
		UserID:            p.UserID,
		AccessTokenHash:   p.AccessTokenHash,
		RefreshTokenHash:  p.RefreshTokenHash,
		BotAuthHash:       p.BotAuthHash,
		SessionType:       p.SessionType,
		ExpiresAt:         p.ExpiresAt,
		RefreshExpiresAt:  p.RefreshExpiresAt,
		IPAddress:         p.IPAddress,
		UserAgent:         p.UserAgent,
		DeviceFingerprint: p.DeviceFingerprint,
		IsActive:          true,
		CreatedAt:         now,
		LastUsedAt:        now,
	}
	r.s.sessions[p.ID] = sess
	return &sess, nil
}

func (r memSessions) Rotate(_ context.Context, p model.RotateAuthSessionParams) (*model.AuthSession, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	sess, ok := r.s.sessions[p.ID]
	if !ok || !sess.IsActive {
		return nil, nil
	}
	sess.AccessTokenHash = p.AccessTokenHash
	sess.RefreshTokenHash = p.RefreshTokenHash
	sess.ExpiresAt = p.ExpiresAt
	sess.RefreshExpiresAt = p.RefreshExpiresAt
	sess.LastUsedAt = p.UsedAt
	r.s.sessions[p.ID] = sess
	return &sess, nil
}

func (r memSessions) Deactivate(_ context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if sess, ok := r.s.sessions[id]; ok {
		sess.IsActive = false
		r.s.sessions[id] = sess
	}
	return nil
}

func (r memSessions) DeleteExpired(_ context.Context) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for id, sess := range r.s.sessions {
		if !sess.IsActive || sess.RefreshExpiresAt.Before(time.Now()) {
			delete(r.s.sessions, id)
			n++
		}
	}
	return n, nil
}
