package accounts

import (
	"fmt"
	"sync"
	"time"

	"github.com/dkroy/hallchat/pkg/model"
)

// MemoryStore is the default in-process account registry: mutex-guarded
// maps with the account cap enforced as policy rather than array size.
type MemoryStore struct {
	mu sync.RWMutex

	now func() time.Time

	policy      model.Policy
	maxAccounts int

	byHandle map[string]*model.Account
	ordered  []*model.Account
}

// NewMemory creates a MemoryStore using time.Now().UTC().
// maxAccounts <= 0 means unlimited.
func NewMemory(policy model.Policy, maxAccounts int) *MemoryStore {
	return NewMemoryWithClock(policy, maxAccounts, func() time.Time { return time.Now().UTC() })
}

// NewMemoryWithClock creates a MemoryStore with a custom clock.
func NewMemoryWithClock(policy model.Policy, maxAccounts int, now func() time.Time) *MemoryStore {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &MemoryStore{
		now:         now,
		policy:      policy,
		maxAccounts: maxAccounts,
		byHandle:    make(map[string]*model.Account),
	}
}

// Register creates an account after checking the policy, uniqueness and
// the account cap. Nothing is mutated on failure.
func (s *MemoryStore) Register(studentID, handle, password string) error {
	if err := s.policy.ValidateHandle(handle); err != nil {
		return fmt.Errorf("%w: %w", ErrPolicyViolation, err)
	}
	if err := s.policy.ValidatePassword(password); err != nil {
		return fmt.Errorf("%w: %w", ErrPolicyViolation, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byHandle[handle]; exists {
		return ErrDuplicateHandle
	}
	if s.maxAccounts > 0 && len(s.ordered) >= s.maxAccounts {
		return ErrStoreFull
	}
	acct := &model.Account{
		StudentID: studentID,
		Handle:    handle,
		Password:  password,
		CreatedAt: s.now().UTC(),
	}
	s.byHandle[handle] = acct
	s.ordered = append(s.ordered, acct)
	return nil
}

// Authenticate checks credentials and returns a copy of the account.
func (s *MemoryStore) Authenticate(handle, password string) (*model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acct, ok := s.byHandle[handle]
	if !ok {
		return nil, ErrUnknownHandle
	}
	if acct.Password != password {
		return nil, ErrWrongPassword
	}
	copyAcct := *acct
	return &copyAcct, nil
}

// Count returns the number of registered accounts.
func (s *MemoryStore) Count() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.ordered), nil
}

// List returns all accounts in registration order.
func (s *MemoryStore) List() ([]model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]model.Account, 0, len(s.ordered))
	for _, a := range s.ordered {
		result = append(result, *a)
	}
	return result, nil
}

// Close is a no-op for MemoryStore.
func (s *MemoryStore) Close() error {
	return nil
}
