package triage

import "errors"

// ErrDenied is returned when a caller is not the operator.
var ErrDenied = errors.New("access denied")

// Guard authorizes operator-triggered operations for the single operator.
type Guard struct {
	operator int64
}

// NewGuard returns a guard admitting only operator.
func NewGuard(operator int64) Guard {
	return Guard{operator: operator}
}

// Authorize returns ErrDenied unless caller is the operator.
func (g Guard) Authorize(caller int64) error {
	if g.operator == 0 || caller != g.operator {
		return ErrDenied
	}
	return nil
}

// Operator returns the admitted operator id.
func (g Guard) Operator() int64 {
	return g.operator
}
