package sandbox

import (
	"github.com/echenim/Bedrock/contracts/internal/types"
	"github.com/holiman/uint256"
)

// Ext is the environment a running frame talks to. The dispatcher
// implements it once per frame. Guest-level outcomes are returned as values;
// a non-nil error is an infrastructure fault and aborts the whole dispatch.
type Ext interface {
	// GetStorage reads key from the frame's contract storage. Absent keys
	// return nil.
	GetStorage(key []byte) ([]byte, error)
	// SetStorage writes key. A nil value clears it.
	SetStorage(key, value []byte) error

	// Call runs a nested call forwarding exactly gasLimit from the frame's
	// meter.
	Call(dest types.Address, gasLimit uint64, value *uint256.Int, input []byte) (types.ExecResult, error)
	// Instantiate deploys a nested contract. On success it returns the new
	// address alongside the deploy output.
	Instantiate(codeHash types.Hash, gasLimit uint64, endowment *uint256.Int, input []byte) (types.Address, types.ExecResult, error)
	// Transfer moves value from the frame's contract to dest. It reports
	// false when the balance is too low.
	Transfer(dest types.Address, value *uint256.Int) (bool, error)
	// Terminate removes the frame's contract and sends its whole balance to
	// beneficiary. TrapNone means success.
	Terminate(beneficiary types.Address) (types.TrapReason, error)
	// DepositEvent records an event that surfaces if every enclosing frame
	// succeeds.
	DepositEvent(topics []types.Hash, data []byte) error

	Caller() types.Address
	Address() types.Address
	ValueTransferred() *uint256.Int
	Balance() (*uint256.Int, error)
	BlockNumber() uint64
	Now() uint64
	RentAllowance() (*uint256.Int, error)
	SetRentAllowance(v *uint256.Int) error
}
