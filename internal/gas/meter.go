// Package gas implements the gas meter and the cost schedule that prices
// every guest-observable operation.
package gas

import (
	"errors"
	"fmt"
)

// ErrOutOfGas is returned by a charge that exceeds the remaining budget.
var ErrOutOfGas = errors.New("gas: out of gas")

// Meter tracks consumption against a fixed limit for one call frame.
// used never exceeds limit. A Meter is owned by exactly one frame and is not
// safe for concurrent use.
type Meter struct {
	limit     uint64
	used      uint64
	exhausted bool
	refunded  bool
	parent    *Meter
}

// NewMeter returns a root meter with the given limit.
func NewMeter(limit uint64) *Meter {
	return &Meter{limit: limit}
}

// Limit returns the budget the meter was created with.
func (m *Meter) Limit() uint64 { return m.limit }

// Used returns the gas consumed so far.
func (m *Meter) Used() uint64 { return m.used }

// Remaining returns the gas still available.
func (m *Meter) Remaining() uint64 { return m.limit - m.used }

// OutOfGas reports whether a charge has been rejected. The state is terminal.
func (m *Meter) OutOfGas() bool { return m.exhausted }

// Charge deducts amount from the remaining budget. If amount exceeds the
// remaining budget nothing is deducted, the meter enters the out-of-gas
// state and ErrOutOfGas is returned. Every later charge also fails.
func (m *Meter) Charge(amount uint64) error {
	if m.exhausted {
		return ErrOutOfGas
	}
	if amount > m.limit-m.used {
		m.exhausted = true
		return ErrOutOfGas
	}
	m.used += amount
	return nil
}

// Exhaust consumes the remaining budget. A frame that ends out of gas has
// spent everything it was given.
func (m *Meter) Exhaust() {
	m.used = m.limit
	m.exhausted = true
}

// Split reserves forwarded gas from m and returns a sub-meter bounded by
// exactly that amount. The reservation takes effect immediately; unused gas
// returns to m through Refund.
func (m *Meter) Split(forwarded uint64) (*Meter, error) {
	if m.exhausted {
		return nil, ErrOutOfGas
	}
	if forwarded > m.limit-m.used {
		return nil, fmt.Errorf("%w: forwarded %d exceeds remaining %d", ErrOutOfGas, forwarded, m.limit-m.used)
	}
	m.used += forwarded
	return &Meter{limit: forwarded, parent: m}, nil
}

// Refund returns the unused portion of child to its parent m. It runs once
// per child; later calls are no-ops.
func (m *Meter) Refund(child *Meter) error {
	if child == nil || child.refunded {
		return nil
	}
	if child.parent != m {
		return errors.New("gas: refund to a meter that is not the parent")
	}
	child.refunded = true
	m.used -= child.Remaining()
	return nil
}
