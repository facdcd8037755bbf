package database

import (
	"strings"

	"github.com/lib/pq"

	"github.com/dispatchd/dispatch-backend/pkg/errors"
)

// MapPQError converts a PostgreSQL error to an AppError with meaningful messages.
// Returns nil if the error is not a pq.Error.
func MapPQError(err error) *errors.AppError {
	pqErr, ok := err.(*pq.Error)
	if !ok {
		return nil
	}

	switch pqErr.Code {
	// Check constraint violation (23514)
	case "23514":
		return errors.BadRequest("data validation failed: " + pqErr.Constraint)

	// Unique constraint violation (23505)
	case "23505":
		return errors.Conflict(formatConstraintMessage(pqErr))

	// Foreign key violation (23503)
	case "23503":
		return errors.BadRequest("referenced record does not exist")

	// Not null violation (23502)
	case "23502":
		col := pqErr.Column
		if col == "" {
			col = "required field"
		}
		return errors.Validation(map[string]string{
			col: "must not be empty",
		})

	default:
		return nil
	}
}

// WrapError maps a PostgreSQL error when possible and passes everything else
// through unchanged. Repositories return this so constraint violations surface
// as structured conflicts instead of raw driver errors.
func WrapError(err error) error {
	if err == nil {
		return nil
	}
	if appErr := MapPQError(err); appErr != nil {
		return appErr
	}
	return err
}

// formatConstraintMessage creates a user-friendly message for unique constraint violations.
func formatConstraintMessage(pqErr *pq.Error) string {
	constraint := pqErr.Constraint

	switch {
	case strings.Contains(constraint, "username"):
		return "username already taken"
	case strings.Contains(constraint, "invite") && strings.Contains(constraint, "code"):
		return "invite code already exists"
	case strings.Contains(constraint, "invite") && strings.Contains(constraint, "driver"):
		return "an active invite already exists for this driver"
	case strings.Contains(constraint, "branch"):
		return "a branch with this name already exists"
	case strings.Contains(constraint, "role"):
		return "a role with this name already exists"
	default:
		return "a record with these values already exists"
	}
}
