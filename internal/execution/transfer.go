package execution

import (
	"errors"
	"fmt"

	"github.com/echenim/Bedrock/contracts/internal/ledger"
	"github.com/echenim/Bedrock/contracts/internal/types"
	"github.com/holiman/uint256"
)

// transfer moves value on the ledger of a scope. It reports false, changing
// nothing, when from cannot cover value.
func transfer(l ledger.Ledger, from, to types.Address, value *uint256.Int) (bool, error) {
	err := l.Transfer(from, to, value)
	if errors.Is(err, ledger.ErrInsufficientBalance) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("execution: transfer %s -> %s: %w", from, to, err)
	}
	return true, nil
}
