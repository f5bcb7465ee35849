package domain

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrReservationExists is returned when a reservation id is already recorded.
var ErrReservationExists = errors.New("reservation already exists")

// NotFoundError reports a missing product or reservation.
type NotFoundError struct {
	Entity string
	ID     string
}

func NewNotFoundError(entity, id string) *NotFoundError {
	return &NotFoundError{Entity: entity, ID: id}
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

// InsufficientInventoryError is a reservation the fulfillment policy refused.
type InsufficientInventoryError struct {
	ProductID string
	Available int
	Requested int
	Active    bool
}

func (e *InsufficientInventoryError) Error() string {
	if !e.Active {
		return fmt.Sprintf("product %s is not active", e.ProductID)
	}
	return fmt.Sprintf("insufficient stock for product %s: available %d, requested %d", e.ProductID, e.Available, e.Requested)
}

// ValidationError reports malformed product or command input.
type ValidationError struct {
	Field   string
	Message string
}

func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Message)
}

func IsNotFound(err error) bool {
	var target *NotFoundError
	return errors.As(err, &target)
}

func IsInsufficientInventory(err error) bool {
	var target *InsufficientInventoryError
	return errors.As(err, &target)
}

func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}
