package memory

import (
	"sync"
	"time"

	"eventhub/internal/domain"
	"eventhub/internal/repository"
)

// PendingSignupStore is an in-process, session keyed store of unconfirmed
// signups. Records older than the retention window are dropped lazily on
// access; no background sweeping is needed for correctness.
type PendingSignupStore struct {
	mu        sync.Mutex
	retention time.Duration
	now       func() time.Time
	records   map[string]domain.PendingSignup
}

func NewPendingSignupStore(retention time.Duration) *PendingSignupStore {
	return &PendingSignupStore{
		retention: retention,
		now:       time.Now,
		records:   make(map[string]domain.PendingSignup),
	}
}

func (s *PendingSignupStore) Put(p domain.PendingSignup) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purgeLocked()
	s.records[p.SessionHandle] = p
}

func (s *PendingSignupStore) Get(sessionHandle string) (domain.PendingSignup, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.lookupLocked(sessionHandle)
	return p, ok
}

func (s *PendingSignupStore) Consume(sessionHandle string, check func(p *domain.PendingSignup) error) (domain.PendingSignup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.lookupLocked(sessionHandle)
	if !ok {
		return domain.PendingSignup{}, repository.ErrNotFound
	}
	if err := check(&p); err != nil {
		s.records[sessionHandle] = p
		return domain.PendingSignup{}, err
	}
	p.Consumed = true
	s.records[sessionHandle] = p
	return p, nil
}

func (s *PendingSignupStore) Release(sessionHandle string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.records[sessionHandle]; ok {
		p.Consumed = false
		s.records[sessionHandle] = p
	}
}

func (s *PendingSignupStore) Seal(sessionHandle string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.records[sessionHandle]
	if !ok || !p.Consumed {
		return
	}
	s.records[sessionHandle] = domain.PendingSignup{
		SessionHandle: p.SessionHandle,
		Username:      p.Username,
		IssuedAt:      p.IssuedAt,
		Consumed:      true,
	}
}

// Len returns the number of retained records.
func (s *PendingSignupStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

func (s *PendingSignupStore) lookupLocked(sessionHandle string) (domain.PendingSignup, bool) {
	p, ok := s.records[sessionHandle]
	if !ok {
		return domain.PendingSignup{}, false
	}
	if s.retention > 0 && s.now().Sub(p.IssuedAt) > s.retention {
		delete(s.records, sessionHandle)
		return domain.PendingSignup{}, false
	}
	return p, true
}

func (s *PendingSignupStore) purgeLocked() {
	if s.retention <= 0 {
		return
	}
	now := s.now()
	for handle, p := range s.records {
		if now.Sub(p.IssuedAt) > s.retention {
			delete(s.records, handle)
		}
	}
}

var _ repository.PendingSignupStore = (*PendingSignupStore)(nil)
