package services

import (
	"errors"
	"fmt"

	"fieldops/inquiry/internal/store"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrValidation   = errors.New("validation failed")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	// ErrConflict is resolved inside the chat service and never returned to callers.
	ErrConflict = errors.New("conflict")
	ErrInternal = errors.New("internal error")
)

// storeErr translates a store error into a service sentinel.
func storeErr(what string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrNotFound):
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	case errors.Is(err, store.ErrDuplicate):
		return fmt.Errorf("%s: %w", what, ErrConflict)
	case errors.Is(err, store.ErrTransitionRejected):
		return fmt.Errorf("%s: status is final: %w", what, ErrValidation)
	default:
		return fmt.Errorf("%s: %v: %w", what, err, ErrInternal)
	}
}
