// Package model defines the core domain types for hallchat.
package model

import "time"

// Account represents a registered account.
//
// Accounts are immutable once created; there is no deletion or password
// change in scope. The password is stored as given, for behavioural
// parity with the lab deployments this server replaces.
type Account struct {
	StudentID string    `json:"student_id" yaml:"student_id"`
	Handle    string    `json:"handle" yaml:"handle"`
	Password  string    `json:"-" yaml:"-"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
}
