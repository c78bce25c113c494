package account

import (
	"errors"
	"fmt"
)

var (
	// ErrNotInitialized is returned by every operation until Initialize succeeds.
	ErrNotInitialized = errors.New("account: service not initialized")
	// ErrInvalidArgument wraps input rejected before any storage call.
	ErrInvalidArgument = errors.New("account: invalid argument")
	// ErrAccountNotFound is returned by targeted updates that matched no row.
	ErrAccountNotFound = errors.New("account: not found")
	// ErrCorruptRecord means a row exists but violates an invariant.
	ErrCorruptRecord = errors.New("account: corrupt record")
	// ErrStorage wraps a failed gateway call.
	ErrStorage = errors.New("account: storage error")
)

// Unique fields that can collide on create.
const (
	FieldUsername = "username"
	FieldEmail    = "email"
	FieldSteamID  = "steam_id"
)

// ConflictError reports which unique field already belongs to another account.
// Field is empty when the storage layer reported a collision that could not
// be attributed.
type ConflictError struct {
	Field string
	Err   error
}

func (e *ConflictError) Error() string {
	if e.Field == "" {
		return "account: duplicate account"
	}
	return fmt.Sprintf("account: %s already taken", e.Field)
}

func (e *ConflictError) Unwrap() error { return e.Err }

func invalid(msg string) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, msg)
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStorage, op, err)
}
