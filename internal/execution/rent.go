package execution

import (
	"github.com/echenim/Bedrock/contracts/internal/gas"
	"github.com/echenim/Bedrock/contracts/internal/types"
	"github.com/holiman/uint256"
)

// rentDue returns the rent a contract owes at height:
//
//	(height - DeductHeight) * RentByteFee * max(0, StorageSize - FreeStorageBytes)
//
// The three factors are 64-bit, so the product always fits in 256 bits.
func rentDue(s *gas.Schedule, info *types.ContractInfo, height uint64) *uint256.Int {
	due := new(uint256.Int)
	if height <= info.DeductHeight || info.StorageSize <= s.FreeStorageBytes || s.RentByteFee == 0 {
		return due
	}
	due.Mul(uint256.NewInt(height-info.DeductHeight), uint256.NewInt(s.RentByteFee))
	return due.Mul(due, uint256.NewInt(info.StorageSize-s.FreeStorageBytes))
}

// rentPayable reports whether a contract holding balance can settle due
// within its allowance.
func rentPayable(info *types.ContractInfo, due, balance *uint256.Int) bool {
	if info.RentAllowance != nil && info.RentAllowance.Lt(due) {
		return false
	}
	return !balance.Lt(due)
}

// maxAllowance is the allowance of a contract that never set one.
func maxAllowance() *uint256.Int {
	return new(uint256.Int).SetAllOne()
}
