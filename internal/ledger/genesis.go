package ledger

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/echenim/Bedrock/contracts/internal/types"
	"github.com/holiman/uint256"
)

const genesisMarker = "genesis_applied"

// MetaStore records node-local markers. storage.Store satisfies it.
type MetaStore interface {
	Meta(name string) ([]byte, error)
	SetMeta(name string, v []byte) error
}

// ApplyGenesis funds the given accounts once. It returns false when genesis
// was already applied to meta.
func ApplyGenesis(meta MetaStore, l *Accounts, balances map[types.Address]*uint256.Int) (bool, error) {
	done, err := meta.Meta(genesisMarker)
	if err != nil {
		return false, fmt.Errorf("ledger: read genesis marker: %w", err)
	}
	if done != nil {
		return false, nil
	}

	addrs := make([]types.Address, 0, len(balances))
	for a := range balances {
		addrs = append(addrs, a)
	}
	sort.Slice(addrs, func(i, j int) bool { return bytes.Compare(addrs[i][:], addrs[j][:]) < 0 })

	for _, a := range addrs {
		if err := l.SetBalance(a, balances[a]); err != nil {
			return false, fmt.Errorf("ledger: fund %s: %w", a, err)
		}
	}
	if err := meta.SetMeta(genesisMarker, []byte{1}); err != nil {
		return false, fmt.Errorf("ledger: write genesis marker: %w", err)
	}
	return true, nil
}
