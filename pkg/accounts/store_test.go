package accounts_test

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/dkroy/hallchat/pkg/accounts"
	"github.com/dkroy/hallchat/pkg/model"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

const testMaxAccounts = 4

// forEachBackend runs a subtest against both Store implementations so
// they stay behaviourally identical.
func forEachBackend(t *testing.T, fn func(t *testing.T, st accounts.Store)) {
	t.Helper()

	t.Run("memory", func(t *testing.T) {
		t.Parallel()
		st := accounts.NewMemory(model.DefaultPolicy(), testMaxAccounts)
		t.Cleanup(func() { _ = st.Close() })
		fn(t, st)
	})

	t.Run("sqlite", func(t *testing.T) {
		t.Parallel()
		dbPath := filepath.Join(t.TempDir(), "test.db")
		st, err := accounts.NewSQLite(dbPath, model.DefaultPolicy(), testMaxAccounts)
		if err != nil {
			t.Fatalf("NewSQLite: %v", err)
		}
		t.Cleanup(func() { _ = st.Close() })
		fn(t, st)
	})
}

func TestRegisterAndAuthenticate(t *testing.T) {
	t.Parallel()

	forEachBackend(t, func(t *testing.T, st accounts.Store) {
		if err := st.Register("1001", "alice_01", "Passw0rd!"); err != nil {
			t.Fatalf("Register: %v", err)
		}

		acct, err := st.Authenticate("alice_01", "Passw0rd!")
		if err != nil {
			t.Fatalf("Authenticate: %v", err)
		}
		want := model.Account{StudentID: "1001", Handle: "alice_01", Password: "Passw0rd!"}
		if diff := cmp.Diff(want, *acct, cmpopts.IgnoreFields(model.Account{}, "CreatedAt")); diff != "" {
			t.Errorf("Authenticate mismatch (-want +got):\n%s", diff)
		}
	})
}

func TestAuthenticateDistinguishesFailures(t *testing.T) {
	t.Parallel()

	forEachBackend(t, func(t *testing.T, st accounts.Store) {
		if err := st.Register("1001", "alice_01", "Passw0rd!"); err != nil {
			t.Fatalf("Register: %v", err)
		}

		// Wrong password on a known handle must never read as an
		// unknown handle, and vice versa.
		if _, err := st.Authenticate("alice_01", "nope"); !errors.Is(err, accounts.ErrWrongPassword) {
			t.Fatalf("Authenticate wrong password err = %v, want ErrWrongPassword", err)
		}
		if _, err := st.Authenticate("nobody99", "Passw0rd!"); !errors.Is(err, accounts.ErrUnknownHandle) {
			t.Fatalf("Authenticate unknown handle err = %v, want ErrUnknownHandle", err)
		}
	})
}

func TestRegisterDuplicateHandle(t *testing.T) {
	t.Parallel()

	forEachBackend(t, func(t *testing.T, st accounts.Store) {
		if err := st.Register("1001", "alice_01", "Passw0rd!"); err != nil {
			t.Fatalf("Register: %v", err)
		}
		err := st.Register("1002", "alice_01", "0therPwd!X")
		if !errors.Is(err, accounts.ErrDuplicateHandle) {
			t.Fatalf("Register duplicate err = %v, want ErrDuplicateHandle", err)
		}

		n, err := st.Count()
		if err != nil {
			t.Fatalf("Count: %v", err)
		}
		if n != 1 {
			t.Fatalf("Count = %d after failed duplicate register, want 1", n)
		}

		// The original registration is untouched.
		acct, err := st.Authenticate("alice_01", "Passw0rd!")
		if err != nil {
			t.Fatalf("Authenticate after duplicate attempt: %v", err)
		}
		if acct.StudentID != "1001" {
			t.Fatalf("StudentID = %q, want 1001", acct.StudentID)
		}
	})
}

func TestRegisterPolicyViolations(t *testing.T) {
	t.Parallel()

	type tcase struct {
		studentID string
		handle    string
		password  string
		wantInner error
	}

	tcases := map[string]tcase{
		"short_password":    {studentID: "1", handle: "alice_01", password: "Aa!", wantInner: model.ErrPasswordLength},
		"no_uppercase":      {studentID: "1", handle: "alice_01", password: "passw0rd!", wantInner: model.ErrPasswordNoUpper},
		"no_symbol":         {studentID: "1", handle: "alice_01", password: "Passw0rd1", wantInner: model.ErrPasswordNoSymbol},
		"short_handle":      {studentID: "1", handle: "al", password: "Passw0rd!", wantInner: model.ErrHandleLength},
		"bad_handle_chars":  {studentID: "1", handle: "alice ???", password: "Passw0rd!", wantInner: model.ErrHandleInvalidChars},
		"overlong_password": {studentID: "1", handle: "alice_01", password: "Passw0rd!Passw0rd!", wantInner: model.ErrPasswordLength},
	}

	for name, tc := range tcases {
		tc := tc
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			forEachBackend(t, func(t *testing.T, st accounts.Store) {
				err := st.Register(tc.studentID, tc.handle, tc.password)
				if !errors.Is(err, accounts.ErrPolicyViolation) {
					t.Fatalf("Register err = %v, want ErrPolicyViolation", err)
				}
				if !errors.Is(err, tc.wantInner) {
					t.Fatalf("Register err = %v, want wrapped %v", err, tc.wantInner)
				}
				n, err := st.Count()
				if err != nil {
					t.Fatalf("Count: %v", err)
				}
				if n != 0 {
					t.Fatalf("Count = %d after policy failure, want 0", n)
				}
			})
		})
	}
}

func TestRegisterStoreFull(t *testing.T) {
	t.Parallel()

	forEachBackend(t, func(t *testing.T, st accounts.Store) {
		for i := 0; i < testMaxAccounts; i++ {
			handle := fmt.Sprintf("student_%02d", i)
			if err := st.Register("1000", handle, "Passw0rd!"); err != nil {
				t.Fatalf("Register %s: %v", handle, err)
			}
		}
		err := st.Register("1000", "one_more_0", "Passw0rd!")
		if !errors.Is(err, accounts.ErrStoreFull) {
			t.Fatalf("Register over cap err = %v, want ErrStoreFull", err)
		}
		n, err := st.Count()
		if err != nil {
			t.Fatalf("Count: %v", err)
		}
		if n != testMaxAccounts {
			t.Fatalf("Count = %d, want %d", n, testMaxAccounts)
		}
	})
}

func TestRegisterConcurrentRespectsCap(t *testing.T) {
	t.Parallel()

	forEachBackend(t, func(t *testing.T, st accounts.Store) {
		const attempts = 2 * testMaxAccounts

		var wg sync.WaitGroup
		errs := make([]error, attempts)
		for i := 0; i < attempts; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				errs[i] = st.Register("1000", fmt.Sprintf("racer_%03d", i), "Passw0rd!")
			}(i)
		}
		wg.Wait()

		var full int
		for i, err := range errs {
			switch {
			case err == nil:
			case errors.Is(err, accounts.ErrStoreFull):
				full++
			default:
				t.Fatalf("Register racer_%03d: %v", i, err)
			}
		}
		if full != attempts-testMaxAccounts {
			t.Fatalf("ErrStoreFull count = %d, want %d", full, attempts-testMaxAccounts)
		}

		n, err := st.Count()
		if err != nil {
			t.Fatalf("Count: %v", err)
		}
		if n != testMaxAccounts {
			t.Fatalf("Count = %d after concurrent registers, want %d", n, testMaxAccounts)
		}
	})
}

func TestListPreservesRegistrationOrder(t *testing.T) {
	t.Parallel()

	forEachBackend(t, func(t *testing.T, st accounts.Store) {
		handles := []string{"alice_01", "bob_smith", "carol_03"}
		for i, h := range handles {
			if err := st.Register(fmt.Sprintf("100%d", i), h, "Passw0rd!"); err != nil {
				t.Fatalf("Register %s: %v", h, err)
			}
		}

		got, err := st.List()
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		var gotHandles []string
		for _, a := range got {
			gotHandles = append(gotHandles, a.Handle)
		}
		if diff := cmp.Diff(handles, gotHandles); diff != "" {
			t.Errorf("List order mismatch (-want +got):\n%s", diff)
		}
	})
}

func TestMemoryClockStampsCreation(t *testing.T) {
	t.Parallel()

	fixed := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	st := accounts.NewMemoryWithClock(model.DefaultPolicy(), 0, func() time.Time { return fixed })
	if err := st.Register("1001", "alice_01", "Passw0rd!"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	acct, err := st.Authenticate("alice_01", "Passw0rd!")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if !acct.CreatedAt.Equal(fixed) {
		t.Fatalf("CreatedAt = %v, want %v", acct.CreatedAt, fixed)
	}
}
