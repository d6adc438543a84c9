// Package accounts implements the account registry: sign-up with a
// configurable handle/password policy, and credential checks.
package accounts

import (
	"errors"

	"github.com/dkroy/hallchat/pkg/model"
)

var (
	ErrDuplicateHandle = errors.New("accounts: handle already registered")
	ErrPolicyViolation = errors.New("accounts: policy violation")
	ErrStoreFull       = errors.New("accounts: account table full")
	ErrUnknownHandle   = errors.New("accounts: unknown handle")
	ErrWrongPassword   = errors.New("accounts: wrong password")
)

// Store is the account registry. Implementations must be safe for
// concurrent use and must not mutate any state on a failed Register.
//
// ErrUnknownHandle and ErrWrongPassword stay distinct: callers render
// them as different failure lines.
type Store interface {
	// Register creates an account. Fails with ErrDuplicateHandle,
	// ErrPolicyViolation (wrapping the concrete policy failure) or
	// ErrStoreFull.
	Register(studentID, handle, password string) error

	// Authenticate checks credentials and returns the account.
	Authenticate(handle, password string) (*model.Account, error)

	// Count returns the number of registered accounts.
	Count() (int, error)

	// List returns all accounts ordered by creation.
	List() ([]model.Account, error)

	Close() error
}
