package identity

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/arkline/identity-api/internal/apperr"
	"github.com/arkline/identity-api/internal/user"
)

// memStore keeps committed aggregates in memory and stages writes the way a
// transaction would: fn operates on a copy, a failed fn (or a forced commit
// failure) discards it.
type memStore struct {
	mu         sync.Mutex
	users      map[uuid.UUID]*user.Aggregate
	failCommit bool
}

func newMemStore() *memStore {
	return &memStore{users: make(map[uuid.UUID]*user.Aggregate)}
}

func (s *memStore) InTx(ctx context.Context, fn func(ctx context.Context, ops user.Ops) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	staged := make(map[uuid.UUID]*user.Aggregate, len(s.users))
	for id, agg := range s.users {
		staged[id] = cloneAggregate(agg)
	}

	if err := fn(ctx, &memOps{users: staged}); err != nil {
		return err
	}
	if s.failCommit {
		return errors.New("commit failed")
	}
	s.users = staged
	return nil
}

func (s *memStore) Get(ctx context.Context, id uuid.UUID) (*user.Aggregate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	agg, ok := s.users[id]
	if !ok {
		return nil, apperr.NotFound("user not found")
	}
	return cloneAggregate(agg), nil
}

func (s *memStore) LookupVerificationToken(ctx context.Context, token uuid.UUID) (*user.VerificationClaim, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, agg := range s.users {
		st := agg.Settings
		if st.EmailVerificationToken != nil && *st.EmailVerificationToken == token && st.EmailVerificationTokenExpiresAt != nil {
			return &user.VerificationClaim{
				UserID:    agg.Identifier,
				Token:     token,
				ExpiresAt: *st.EmailVerificationTokenExpiresAt,
			}, nil
		}
	}
	return nil, apperr.NotFound("verification token not found")
}

func (s *memStore) ListUsers(ctx context.Context, page user.Page) ([]*user.Aggregate, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := make([]*user.Aggregate, 0, len(s.users))
	for _, agg := range s.users {
		all = append(all, cloneAggregate(agg))
	}
	return all, len(all), nil
}

// mutateCommitted edits committed state directly, bypassing transactions.
// Tests use it to set up scenarios like an already expired token.
func (s *memStore) mutateCommitted(id uuid.UUID, fn func(agg *user.Aggregate)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.users[id])
}

type memOps struct {
	users map[uuid.UUID]*user.Aggregate
}

func (o *memOps) get(id uuid.UUID) (*user.Aggregate, error) {
	agg, ok := o.users[id]
	if !ok {
		return nil, apperr.NotFound("user not found")
	}
	return agg, nil
}

func (o *memOps) Get(ctx context.Context, id uuid.UUID) (*user.Aggregate, error) {
	agg, err := o.get(id)
	if err != nil {
		return nil, err
	}
	return cloneAggregate(agg), nil
}

func (o *memOps) Create(ctx context.Context, agg *user.Aggregate) error {
	o.users[agg.Identifier] = cloneAggregate(agg)
	return nil
}

func (o *memOps) SetRefreshToken(ctx context.Context, id uuid.UUID, token string, expiresAt time.Time) error {
	agg, err := o.get(id)
	if err != nil {
		return err
	}
	agg.Keys.RefreshToken = token
	exp := expiresAt
	agg.Keys.RefreshTokenExpiresAt = &exp
	return nil
}

func (o *memOps) SetProfile(ctx context.Context, id uuid.UUID, p user.ProfileUpdate) error {
	agg, err := o.get(id)
	if err != nil {
		return err
	}
	agg.FirstName = p.FirstName
	agg.LastName = p.LastName
	agg.Communication.Email = p.Email
	agg.Communication.MobileNo = p.MobileNo
	agg.Credentials.Username = p.Email
	return nil
}

func (o *memOps) SetStatusAll(ctx context.Context, id uuid.UUID, status user.Status) error {
	agg, err := o.get(id)
	if err != nil {
		return err
	}
	agg.Status = status
	agg.Communication.Status = status
	agg.Credentials.Status = status
	agg.Keys.Status = status
	agg.Settings.Status = status
	return nil
}

func (o *memOps) ConsumeVerification(ctx context.Context, id uuid.UUID) error {
	agg, err := o.get(id)
	if err != nil {
		return err
	}
	agg.Settings.EmailVerificationToken = nil
	agg.Settings.EmailVerificationTokenExpiresAt = nil
	agg.Settings.IsEmailVerified = true
	return nil
}

func (o *memOps) ReissueVerification(ctx context.Context, id uuid.UUID, token uuid.UUID, expiresAt time.Time) error {
	agg, err := o.get(id)
	if err != nil {
		return err
	}
	tok := token
	exp := expiresAt
	agg.Settings.EmailVerificationToken = &tok
	agg.Settings.EmailVerificationTokenExpiresAt = &exp
	return nil
}

func (o *memOps) BumpVersion(ctx context.Context, id uuid.UUID) error {
	agg, err := o.get(id)
	if err != nil {
		return err
	}
	agg.Version++
	return nil
}

// memCache is an in-memory stand-in for the Redis projection, implementing
// both the read interface and the coordinator's write surface.
type memCache struct {
	mu       sync.Mutex
	byID     map[uuid.UUID]*user.Aggregate
	byEmail  map[string]*user.Aggregate
	byClient map[uuid.UUID]*user.Aggregate
}

func newMemCache() *memCache {
	return &memCache{
		byID:     make(map[uuid.UUID]*user.Aggregate),
		byEmail:  make(map[string]*user.Aggregate),
		byClient: make(map[uuid.UUID]*user.Aggregate),
	}
}

func (c *memCache) Put(ctx context.Context, agg *user.Aggregate) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := cloneAggregate(agg)
	c.byID[cp.Identifier] = cp
	c.byEmail[cp.Communication.Email] = cp
	c.byClient[cp.ClientID] = cp
	return nil
}

func (c *memCache) Delete(ctx context.Context, agg *user.Aggregate) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.byID, agg.Identifier)
	delete(c.byEmail, agg.Communication.Email)
	delete(c.byClient, agg.ClientID)
	return nil
}

func (c *memCache) DeleteEmail(ctx context.Context, email string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.byEmail, email)
	return nil
}

func (c *memCache) GetByIdentifier(ctx context.Context, id uuid.UUID) (*user.Aggregate, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if agg, ok := c.byID[id]; ok {
		return cloneAggregate(agg), nil
	}
	return nil, apperr.NotFound("user not found")
}

func (c *memCache) GetByEmail(ctx context.Context, email string) (*user.Aggregate, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if agg, ok := c.byEmail[email]; ok {
		return cloneAggregate(agg), nil
	}
	return nil, apperr.NotFound("user not found")
}

func (c *memCache) GetByClientID(ctx context.Context, clientID uuid.UUID) (*user.Aggregate, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if agg, ok := c.byClient[clientID]; ok {
		return cloneAggregate(agg), nil
	}
	return nil, apperr.NotFound("user not found")
}

// memQueue records enqueued jobs.
type memQueue struct {
	mu   sync.Mutex
	jobs []queuedJob
}

type queuedJob struct {
	name    string
	payload any
}

func (q *memQueue) Enqueue(ctx context.Context, name string, payload any) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, queuedJob{name: name, payload: payload})
	return nil
}

func (q *memQueue) byName(name string) []queuedJob {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []queuedJob
	for _, job := range q.jobs {
		if job.name == name {
			out = append(out, job)
		}
	}
	return out
}

func cloneAggregate(agg *user.Aggregate) *user.Aggregate {
	cp := *agg
	if agg.Keys.RefreshTokenExpiresAt != nil {
		exp := *agg.Keys.RefreshTokenExpiresAt
		cp.Keys.RefreshTokenExpiresAt = &exp
	}
	if agg.Settings.EmailVerificationToken != nil {
		tok := *agg.Settings.EmailVerificationToken
		cp.Settings.EmailVerificationToken = &tok
	}
	if agg.Settings.EmailVerificationTokenExpiresAt != nil {
		exp := *agg.Settings.EmailVerificationTokenExpiresAt
		cp.Settings.EmailVerificationTokenExpiresAt = &exp
	}
	return &cp
}
