package execution

import (
	"fmt"

	"github.com/echenim/Bedrock/contracts/internal/gas"
	"github.com/echenim/Bedrock/contracts/internal/ledger"
	"github.com/echenim/Bedrock/contracts/internal/overlay"
	"github.com/echenim/Bedrock/contracts/internal/sandbox"
	"github.com/echenim/Bedrock/contracts/internal/types"
	"github.com/holiman/uint256"
)

// frameState is the lifecycle of a call frame.
type frameState uint8

const (
	stateCreated frameState = iota
	stateRunning
	stateCommitted
	stateReverted
)

func (s frameState) String() string {
	switch s {
	case stateCreated:
		return "created"
	case stateRunning:
		return "running"
	case stateCommitted:
		return "committed"
	case stateReverted:
		return "reverted"
	default:
		return fmt.Sprintf("frameState(%d)", s)
	}
}

// scope is what a frame leaves behind for its parent: buffered storage and
// balances, and deposited events. The dispatch root is a scope without a
// frame.
type scope struct {
	ov     *overlay.Overlay
	ledger ledger.Ledger
	events []types.Event
}

func newScope(ov *overlay.Overlay) *scope {
	return &scope{ov: ov, ledger: ledger.New(ov)}
}

// covers reports whether addr can pay value out of this scope.
func (s *scope) covers(addr types.Address, value *uint256.Int) (bool, error) {
	if value.IsZero() {
		return true, nil
	}
	bal, err := s.ledger.BalanceOf(addr)
	if err != nil {
		return false, fmt.Errorf("execution: balance of %s: %w", addr, err)
	}
	return !bal.Lt(value), nil
}

// frame is one executing contract. It implements sandbox.Ext for the guest.
type frame struct {
	scope

	d      *dispatch
	parent *scope
	state  frameState
	depth  int

	caller types.Address
	self   types.Address
	value  *uint256.Int
	meter  *gas.Meter
}

var _ sandbox.Ext = (*frame)(nil)

func (f *frame) transition(to frameState) error {
	ok := false
	switch f.state {
	case stateCreated:
		ok = to == stateRunning || to == stateReverted
	case stateRunning:
		ok = to == stateCommitted || to == stateReverted
	}
	if !ok {
		return fmt.Errorf("execution: frame %s: invalid transition %s -> %s", f.self, f.state, to)
	}
	f.state = to
	return nil
}

// open moves the frame to Running with a child scope of its parent.
func (f *frame) open() error {
	if err := f.transition(stateRunning); err != nil {
		return err
	}
	ov, err := f.parent.ov.Child()
	if err != nil {
		return fmt.Errorf("execution: open scope: %w", err)
	}
	f.scope = *newScope(ov)
	return nil
}

// commit merges the frame's effects into its parent.
func (f *frame) commit() error {
	if err := f.transition(stateCommitted); err != nil {
		return err
	}
	if err := f.ov.Commit(); err != nil {
		return fmt.Errorf("execution: commit frame %s: %w", f.self, err)
	}
	f.parent.events = append(f.parent.events, f.events...)
	return nil
}

// revert drops the frame's buffered writes and transfers. It is safe to call
// on a frame that never opened.
func (f *frame) revert() error {
	if err := f.transition(stateReverted); err != nil {
		return err
	}
	if f.ov != nil {
		if err := f.ov.Discard(); err != nil {
			return fmt.Errorf("execution: discard frame %s: %w", f.self, err)
		}
	}
	f.events = nil
	return nil
}

// info returns the live contract record of the frame's own account.
func (f *frame) info() (*types.ContractInfo, error) {
	info, err := f.ov.ContractInfo(f.self)
	if err != nil {
		return nil, fmt.Errorf("execution: contract info %s: %w", f.self, err)
	}
	if info == nil {
		return nil, fmt.Errorf("execution: contract %s has no record", f.self)
	}
	return info, nil
}

// --- sandbox.Ext ---

func (f *frame) GetStorage(key []byte) ([]byte, error) {
	info, err := f.info()
	if err != nil {
		return nil, err
	}
	return f.ov.GetStorage(info.TrieID, key)
}

// SetStorage writes key and keeps the record's size and write height in step.
func (f *frame) SetStorage(key, value []byte) error {
	info, err := f.info()
	if err != nil {
		return err
	}
	old, err := f.ov.GetStorage(info.TrieID, key)
	if err != nil {
		return err
	}

	size := info.StorageSize
	if old != nil {
		size -= uint64(len(key) + len(old))
	}
	if value != nil {
		size += uint64(len(key) + len(value))
		err = f.ov.SetStorage(info.TrieID, key, value)
	} else {
		err = f.ov.RemoveStorage(info.TrieID, key)
	}
	if err != nil {
		return err
	}

	info.StorageSize = size
	info.LastWriteHeight = f.d.block.CurrentHeight()
	return f.ov.SetContractInfo(f.self, info)
}

func (f *frame) Call(dest types.Address, gasLimit uint64, value *uint256.Int, input []byte) (types.ExecResult, error) {
	return f.d.call(&f.scope, f.self, dest, value, input, f.depth+1, f.meter, gasLimit)
}

func (f *frame) Instantiate(codeHash types.Hash, gasLimit uint64, endowment *uint256.Int, input []byte) (types.Address, types.ExecResult, error) {
	return f.d.instantiate(&f.scope, f.self, codeHash, endowment, input, nil, f.depth+1, f.meter, gasLimit)
}

func (f *frame) Transfer(dest types.Address, value *uint256.Int) (bool, error) {
	return transfer(f.ledger, f.self, dest, value)
}

// Terminate removes the contract and sends its balance to beneficiary. A
// contract that is still executing further up the stack cannot go away.
func (f *frame) Terminate(beneficiary types.Address) (types.TrapReason, error) {
	if f.d.onStack(f.self) > 1 {
		return types.TrapReentrantTermination, nil
	}
	if beneficiary == f.self {
		return types.TrapInvalidArgument, nil
	}
	bal, err := f.ledger.BalanceOf(f.self)
	if err != nil {
		return types.TrapNone, fmt.Errorf("execution: balance of %s: %w", f.self, err)
	}
	ok, err := transfer(f.ledger, f.self, beneficiary, bal)
	if err != nil {
		return types.TrapNone, err
	}
	if !ok {
		return types.TrapBalanceTooLow, nil
	}
	if err := f.ov.RemoveContract(f.self); err != nil {
		return types.TrapNone, fmt.Errorf("execution: remove %s: %w", f.self, err)
	}
	return types.TrapNone, nil
}

func (f *frame) DepositEvent(topics []types.Hash, data []byte) error {
	f.events = append(f.events, types.Event{Address: f.self, Topics: topics, Data: data})
	return nil
}

func (f *frame) Caller() types.Address          { return f.caller }
func (f *frame) Address() types.Address         { return f.self }
func (f *frame) ValueTransferred() *uint256.Int { return new(uint256.Int).Set(f.value) }
func (f *frame) BlockNumber() uint64            { return f.d.block.CurrentHeight() }
func (f *frame) Now() uint64                    { return f.d.block.CurrentTimestamp() }

func (f *frame) Balance() (*uint256.Int, error) {
	return f.ledger.BalanceOf(f.self)
}

func (f *frame) RentAllowance() (*uint256.Int, error) {
	info, err := f.info()
	if err != nil {
		return nil, err
	}
	if info.RentAllowance == nil {
		return maxAllowance(), nil
	}
	return info.RentAllowance, nil
}

func (f *frame) SetRentAllowance(v *uint256.Int) error {
	info, err := f.info()
	if err != nil {
		return err
	}
	info.RentAllowance = new(uint256.Int).Set(v)
	return f.ov.SetContractInfo(f.self, info)
}

// payRent settles the rent owed by the frame's contract up to the current
// height. It reports false when the rent cannot be paid.
func (f *frame) payRent() (bool, error) {
	info, err := f.info()
	if err != nil {
		return false, err
	}
	height := f.d.block.CurrentHeight()
	due := rentDue(f.d.e.engine.Schedule(), info, height)
	if due.IsZero() {
		if info.DeductHeight < height {
			info.DeductHeight = height
			return true, f.ov.SetContractInfo(f.self, info)
		}
		return true, nil
	}

	bal, err := f.ledger.BalanceOf(f.self)
	if err != nil {
		return false, fmt.Errorf("execution: balance of %s: %w", f.self, err)
	}
	if !rentPayable(info, due, bal) {
		return false, nil
	}
	paid, err := transfer(f.ledger, f.self, f.d.e.rentCollector, due)
	if err != nil || !paid {
		return paid, err
	}
	if info.RentAllowance != nil {
		info.RentAllowance = new(uint256.Int).Sub(info.RentAllowance, due)
	}
	info.DeductHeight = height
	return true, f.ov.SetContractInfo(f.self, info)
}
