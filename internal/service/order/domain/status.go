// internal/service/order/domain/status.go
package domain

import "github.com/pkg/errors"

// Status is the order lifecycle state.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusConfirmed  Status = "CONFIRMED"
	StatusProcessing Status = "PROCESSING"
	StatusShipped    Status = "SHIPPED"
	StatusDelivered  Status = "DELIVERED"
	StatusCancelled  Status = "CANCELLED"
	StatusFailed     Status = "FAILED"
)

// transitions is the complete status graph. A status missing here has no way out.
var transitions = map[Status][]Status{
	StatusPending:    {StatusConfirmed, StatusCancelled, StatusFailed},
	StatusConfirmed:  {StatusProcessing, StatusCancelled},
	StatusProcessing: {StatusShipped, StatusCancelled},
	StatusShipped:    {StatusDelivered},
}

var allStatuses = []Status{
	StatusPending, StatusConfirmed, StatusProcessing, StatusShipped,
	StatusDelivered, StatusCancelled, StatusFailed,
}

// CanTransitionTo reports whether target is reachable from s in one step.
func (s Status) CanTransitionTo(target Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == target {
			return true
		}
	}
	return false
}

// AllowedTargets returns a copy of the legal next statuses.
func (s Status) AllowedTargets() []Status {
	return append([]Status(nil), transitions[s]...)
}

func (s Status) IsTerminal() bool {
	return len(transitions[s]) == 0
}

func (s Status) String() string { return string(s) }

// ParseStatus accepts the exact upper-case status names.
func ParseStatus(v string) (Status, error) {
	for _, s := range allStatuses {
		if string(s) == v {
			return s, nil
		}
	}
	return "", errors.Errorf("unknown order status %q", v)
}
