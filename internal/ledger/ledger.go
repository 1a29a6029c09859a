// Package ledger implements the balance collaborator used by the executive:
// free balances, value transfers, fee reservations and fee settlement.
package ledger

import (
	"errors"
	"fmt"
	"sync"

	"github.com/echenim/Bedrock/contracts/internal/types"
	"github.com/holiman/uint256"
)

// ErrInsufficientBalance is returned when an account cannot cover an amount.
var ErrInsufficientBalance = errors.New("ledger: insufficient balance")

// Ledger moves value between accounts.
type Ledger interface {
	// BalanceOf returns the free balance of addr.
	BalanceOf(addr types.Address) (*uint256.Int, error)
	// Transfer moves value from one account to another. It fails with
	// ErrInsufficientBalance and changes nothing if from cannot cover value.
	Transfer(from, to types.Address, value *uint256.Int) error
	// Reserve moves value out of the free balance of addr into a hold.
	Reserve(addr types.Address, value *uint256.Int) error
	// Unreserve returns held value to the free balance of addr.
	Unreserve(addr types.Address, value *uint256.Int) error
}

// BalanceStore holds free balances. storage.Store and overlay scopes satisfy it.
type BalanceStore interface {
	Balance(addr types.Address) (*uint256.Int, error)
	SetBalance(addr types.Address, v *uint256.Int) error
}

// Accounts is a Ledger over a BalanceStore. Reservations are held in memory;
// they only live for the duration of a single top-level dispatch.
type Accounts struct {
	mu       sync.Mutex
	balances BalanceStore
	reserved map[types.Address]*uint256.Int
}

var _ Ledger = (*Accounts)(nil)

// New returns a ledger over the given balance store.
func New(balances BalanceStore) *Accounts {
	return &Accounts{
		balances: balances,
		reserved: make(map[types.Address]*uint256.Int),
	}
}

// NewMemory returns a ledger with purely in-memory balances.
func NewMemory() *Accounts {
	return New(&memBalances{m: make(map[types.Address]*uint256.Int)})
}

// BalanceOf implements Ledger.
func (a *Accounts) BalanceOf(addr types.Address) (*uint256.Int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.balance(addr)
}

// Reserved returns the amount currently held for addr.
func (a *Accounts) Reserved(addr types.Address) *uint256.Int {
	a.mu.Lock()
	defer a.mu.Unlock()
	if r, ok := a.reserved[addr]; ok {
		return new(uint256.Int).Set(r)
	}
	return new(uint256.Int)
}

// SetBalance overwrites the free balance of addr. It is used for genesis
// funding and tests.
func (a *Accounts) SetBalance(addr types.Address, v *uint256.Int) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.balances.SetBalance(addr, v)
}

// Transfer implements Ledger.
func (a *Accounts) Transfer(from, to types.Address, value *uint256.Int) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	fromBal, err := a.balance(from)
	if err != nil {
		return err
	}
	if fromBal.Lt(value) {
		return fmt.Errorf("%w: %s has %s, needs %s", ErrInsufficientBalance, from, fromBal, value)
	}
	if from == to || value.IsZero() {
		return nil
	}
	toBal, err := a.balance(to)
	if err != nil {
		return err
	}
	newTo, overflow := new(uint256.Int).AddOverflow(toBal, value)
	if overflow {
		return fmt.Errorf("ledger: balance overflow for %s", to)
	}
	if err := a.balances.SetBalance(from, new(uint256.Int).Sub(fromBal, value)); err != nil {
		return fmt.Errorf("ledger: debit %s: %w", from, err)
	}
	if err := a.balances.SetBalance(to, newTo); err != nil {
		return fmt.Errorf("ledger: credit %s: %w", to, err)
	}
	return nil
}

// Reserve implements Ledger.
func (a *Accounts) Reserve(addr types.Address, value *uint256.Int) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	bal, err := a.balance(addr)
	if err != nil {
		return err
	}
	if bal.Lt(value) {
		return fmt.Errorf("%w: %s has %s, needs %s", ErrInsufficientBalance, addr, bal, value)
	}
	if err := a.balances.SetBalance(addr, new(uint256.Int).Sub(bal, value)); err != nil {
		return fmt.Errorf("ledger: reserve %s: %w", addr, err)
	}
	r, ok := a.reserved[addr]
	if !ok {
		r = new(uint256.Int)
		a.reserved[addr] = r
	}
	r.Add(r, value)
	return nil
}

// Unreserve implements Ledger. Unreserving more than is held is an error.
func (a *Accounts) Unreserve(addr types.Address, value *uint256.Int) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	r, ok := a.reserved[addr]
	if !ok || r.Lt(value) {
		return fmt.Errorf("ledger: unreserve %s exceeds held amount", value)
	}
	bal, err := a.balance(addr)
	if err != nil {
		return err
	}
	if err := a.balances.SetBalance(addr, new(uint256.Int).Add(bal, value)); err != nil {
		return fmt.Errorf("ledger: unreserve %s: %w", addr, err)
	}
	r.Sub(r, value)
	if r.IsZero() {
		delete(a.reserved, addr)
	}
	return nil
}

func (a *Accounts) balance(addr types.Address) (*uint256.Int, error) {
	bal, err := a.balances.Balance(addr)
	if err != nil {
		return nil, fmt.Errorf("ledger: balance of %s: %w", addr, err)
	}
	return bal, nil
}

type memBalances struct {
	m map[types.Address]*uint256.Int
}

func (b *memBalances) Balance(addr types.Address) (*uint256.Int, error) {
	if v, ok := b.m[addr]; ok {
		return new(uint256.Int).Set(v), nil
	}
	return new(uint256.Int), nil
}

func (b *memBalances) SetBalance(addr types.Address, v *uint256.Int) error {
	if v == nil || v.IsZero() {
		delete(b.m, addr)
		return nil
	}
	b.m[addr] = new(uint256.Int).Set(v)
	return nil
}
