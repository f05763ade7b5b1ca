package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"bluecarbon/internal/identity/models"
	id "bluecarbon/pkg/domain"
	"bluecarbon/pkg/platform/sentinel"
)

type emailClaim struct {
	kind id.AccountKind
	id   id.AccountID
}

// InMemoryStore keeps the three account variants in disjoint maps with a shared
// email index. Callers receive copies; mutation goes through Execute.
type InMemoryStore struct {
	mu       sync.RWMutex
	accounts map[id.AccountKind]map[id.AccountID]*models.Account
	emails   map[string]emailClaim
	seq      map[id.AccountKind]id.AccountID
}

func NewInMemory() *InMemoryStore {
	return &InMemoryStore{
		accounts: map[id.AccountKind]map[id.AccountID]*models.Account{
			id.KindPublic:   {},
			id.KindIndustry: {},
			id.KindVerifier: {},
		},
		emails: make(map[string]emailClaim),
		seq:    make(map[id.AccountKind]id.AccountID),
	}
}

// Create assigns the next id of the account's kind and stores it.
// Returns sentinel.ErrAlreadyUsed when any variant already holds the email.
func (s *InMemoryStore) Create(_ context.Context, account *models.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	table, ok := s.accounts[account.Kind]
	if !ok {
		return fmt.Errorf("unknown account kind %q", account.Kind)
	}
	if _, taken := s.emails[account.Email]; taken {
		return sentinel.ErrAlreadyUsed
	}
	s.seq[account.Kind]++
	account.ID = s.seq[account.Kind]
	table[account.ID] = account.Clone()
	s.emails[account.Email] = emailClaim{kind: account.Kind, id: account.ID}
	return nil
}

func (s *InMemoryStore) FindByEmail(_ context.Context, email string) (*models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	claim, ok := s.emails[email]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return s.accounts[claim.kind][claim.id].Clone(), nil
}

func (s *InMemoryStore) FindByID(_ context.Context, kind id.AccountKind, accountID id.AccountID) (*models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accounts[kind][accountID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return a.Clone(), nil
}

// Execute runs validate and mutate against the stored account while holding the
// write lock. Nothing is written when validate fails.
func (s *InMemoryStore) Execute(_ context.Context, kind id.AccountKind, accountID id.AccountID, validate func(*models.Account) error, mutate func(*models.Account)) (*models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.accounts[kind][accountID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	working := current.Clone()
	if err := validate(working); err != nil {
		return nil, err
	}
	mutate(working)
	s.accounts[kind][accountID] = working
	return working.Clone(), nil
}

func (s *InMemoryStore) CountAdmins(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, a := range s.accounts[id.KindVerifier] {
		if a.IsAdmin() {
			n++
		}
	}
	return n, nil
}

// ListPending returns pending industries then pending verifiers, oldest first
// within each kind.
func (s *InMemoryStore) ListPending(_ context.Context) ([]*models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Account
	for _, kind := range []id.AccountKind{id.KindIndustry, id.KindVerifier} {
		var batch []*models.Account
		for _, a := range s.accounts[kind] {
			if status, _ := a.ApprovalStatus(); status == models.StatusPending {
				batch = append(batch, a.Clone())
			}
		}
		sort.Slice(batch, func(i, j int) bool { return batch[i].ID < batch[j].ID })
		out = append(out, batch...)
	}
	return out, nil
}
