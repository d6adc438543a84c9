package model

import (
	"errors"
	"testing"
)

func TestValidatePassword(t *testing.T) {
	t.Parallel()

	type tcase struct {
		policy   Policy
		password string
		wantErr  error
	}

	tcases := map[string]tcase{
		"strict_ok": {
			policy:   DefaultPolicy(),
			password: "Passw0rd!",
			wantErr:  nil,
		},
		"strict_too_short": {
			policy:   DefaultPolicy(),
			password: "Pw0rd!",
			wantErr:  ErrPasswordLength,
		},
		"strict_too_long": {
			policy:   DefaultPolicy(),
			password: "Passw0rd!Passw0rd!",
			wantErr:  ErrPasswordLength,
		},
		"strict_no_upper": {
			policy:   DefaultPolicy(),
			password: "passw0rd!",
			wantErr:  ErrPasswordNoUpper,
		},
		"strict_no_symbol": {
			policy:   DefaultPolicy(),
			password: "Passw0rd1",
			wantErr:  ErrPasswordNoSymbol,
		},
		"legacy_plain_ok": {
			policy:   LegacyPolicy(),
			password: "abcdef",
			wantErr:  nil,
		},
		"legacy_too_short": {
			policy:   LegacyPolicy(),
			password: "abcde",
			wantErr:  ErrPasswordLength,
		},
	}

	for name, tc := range tcases {
		tc := tc
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			err := tc.policy.ValidatePassword(tc.password)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("ValidatePassword(%q) = %v, want %v", tc.password, err, tc.wantErr)
			}
		})
	}
}

func TestValidateHandle(t *testing.T) {
	t.Parallel()

	type tcase struct {
		handle  string
		wantErr error
	}

	tcases := map[string]tcase{
		"ok":            {handle: "alice_01", wantErr: nil},
		"ok_hyphen":     {handle: "bob-smith", wantErr: nil},
		"empty":         {handle: "", wantErr: ErrHandleEmpty},
		"too_short":     {handle: "bob", wantErr: ErrHandleLength},
		"too_long":      {handle: "averyveryverylonghandle", wantErr: ErrHandleLength},
		"invalid_chars": {handle: "alice !!!", wantErr: ErrHandleInvalidChars},
	}

	policy := DefaultPolicy()
	for name, tc := range tcases {
		tc := tc
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			err := policy.ValidateHandle(tc.handle)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("ValidateHandle(%q) = %v, want %v", tc.handle, err, tc.wantErr)
			}
		})
	}
}

func TestPolicyValidate(t *testing.T) {
	t.Parallel()

	if err := DefaultPolicy().Validate(); err != nil {
		t.Fatalf("DefaultPolicy().Validate() = %v", err)
	}
	bad := Policy{MinLen: 10, MaxLen: 5}
	if err := bad.Validate(); err == nil {
		t.Fatal("Validate() accepted inverted length bounds")
	}
}
