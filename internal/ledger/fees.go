package ledger

import (
	"fmt"

	"github.com/echenim/Bedrock/contracts/internal/types"
	"github.com/holiman/uint256"
)

// FeeCharger converts gas to balance at the edges of a top-level dispatch.
// It works on the ledger of the dispatch, so fee movements commit or vanish
// together with the rest of it.
type FeeCharger interface {
	// WithdrawFee takes the fee for gasLimit from origin up front.
	WithdrawFee(l Ledger, origin types.Address, gasLimit uint64) error
	// RefundFee settles the fee once gasUsed is known and returns the
	// unused part to origin.
	RefundFee(l Ledger, origin types.Address, gasLimit, gasUsed uint64) error
}

// GasFees charges price per unit of gas. The prepaid amount is reserved on
// the origin, so value transfers made during execution cannot spend it. On
// settlement the consumed part goes to the collector.
type GasFees struct {
	price     *uint256.Int
	collector types.Address
}

var _ FeeCharger = (*GasFees)(nil)

// NewGasFees returns a fee charger. A zero price disables fees.
func NewGasFees(price uint64, collector types.Address) *GasFees {
	return &GasFees{price: uint256.NewInt(price), collector: collector}
}

func (f *GasFees) fee(gas uint64) (*uint256.Int, error) {
	v, overflow := new(uint256.Int).MulOverflow(f.price, uint256.NewInt(gas))
	if overflow {
		return nil, fmt.Errorf("%w: fee overflows", ErrInsufficientBalance)
	}
	return v, nil
}

// WithdrawFee implements FeeCharger.
func (f *GasFees) WithdrawFee(l Ledger, origin types.Address, gasLimit uint64) error {
	if f.price.IsZero() {
		return nil
	}
	fee, err := f.fee(gasLimit)
	if err != nil {
		return err
	}
	return l.Reserve(origin, fee)
}

// RefundFee implements FeeCharger.
func (f *GasFees) RefundFee(l Ledger, origin types.Address, gasLimit, gasUsed uint64) error {
	if f.price.IsZero() {
		return nil
	}
	if gasUsed > gasLimit {
		return fmt.Errorf("ledger: gas used %d exceeds limit %d", gasUsed, gasLimit)
	}
	prepaid, err := f.fee(gasLimit)
	if err != nil {
		return err
	}
	spent, err := f.fee(gasUsed)
	if err != nil {
		return err
	}
	if err := l.Unreserve(origin, prepaid); err != nil {
		return err
	}
	if err := l.Transfer(origin, f.collector, spent); err != nil {
		return fmt.Errorf("ledger: settle fee: %w", err)
	}
	return nil
}
