package sandbox

import (
	"github.com/bytecodealliance/wasmtime-go/v29"
	"github.com/echenim/Bedrock/contracts/internal/gas"
)

// HostModule is the import module every host function lives under.
const HostModule = "env"

// Entry points a contract must export.
const (
	EntryCall   = "call"
	EntryDeploy = "deploy"
	ExportMem   = "memory"
)

// Return codes of ext_call and ext_instantiate as seen by the guest.
const (
	CodeSuccess       int32 = 0
	CodeTrapped       int32 = 1
	CodeOutOfGas      int32 = 2
	CodeDepthExceeded int32 = 3
	CodeNotFound      int32 = 4
	CodeBalanceTooLow int32 = 5
)

// Return codes of ext_get_storage.
const (
	StorageFound  int32 = 0
	StorageAbsent int32 = 1
)

// HostFunc identifies one function of the host ABI. The set is closed:
// a module importing anything else is rejected at upload.
type HostFunc uint8

const (
	FnGetStorage HostFunc = iota
	FnSetStorage
	FnClearStorage
	FnCall
	FnInstantiate
	FnTransfer
	FnReturn
	FnTerminate
	FnGasLeft
	FnCaller
	FnAddress
	FnValueTransferred
	FnInput
	FnBalance
	FnBlockNumber
	FnNow
	FnScratchSize
	FnScratchRead
	FnDepositEvent
	FnRentAllowance
	FnSetRentAllowance

	numHostFuncs
)

// hostSpec is the import name, signature and base operation of a host function.
type hostSpec struct {
	name    string
	params  []wasmtime.ValKind
	results []wasmtime.ValKind
	op      gas.OperationKind
}

var (
	i32 = wasmtime.KindI32
	i64 = wasmtime.KindI64
)

var hostTable = [numHostFuncs]hostSpec{
	FnGetStorage:       {"ext_get_storage", kinds(i32, i32), kinds(i32), gas.OpGetStorage},
	FnSetStorage:       {"ext_set_storage", kinds(i32, i32, i32, i32), nil, gas.OpSetStorage},
	FnClearStorage:     {"ext_clear_storage", kinds(i32, i32), nil, gas.OpRemoveStorage},
	FnCall:             {"ext_call", kinds(i32, i32, i64, i32, i32, i32, i32), kinds(i32), gas.OpCall},
	FnInstantiate:      {"ext_instantiate", kinds(i32, i32, i64, i32, i32, i32, i32), kinds(i32), gas.OpInstantiate},
	FnTransfer:         {"ext_transfer", kinds(i32, i32, i32, i32), kinds(i32), gas.OpTransfer},
	FnReturn:           {"ext_return", kinds(i32, i32), nil, gas.OpReturn},
	FnTerminate:        {"ext_terminate", kinds(i32, i32), nil, gas.OpTerminate},
	FnGasLeft:          {"ext_gas_left", nil, kinds(i64), gas.OpGasLeft},
	FnCaller:           {"ext_caller", nil, nil, gas.OpCaller},
	FnAddress:          {"ext_address", nil, nil, gas.OpAddress},
	FnValueTransferred: {"ext_value_transferred", nil, nil, gas.OpValueTransferred},
	FnInput:            {"ext_input", nil, nil, gas.OpInput},
	FnBalance:          {"ext_balance", nil, nil, gas.OpBalance},
	FnBlockNumber:      {"ext_block_number", nil, kinds(i64), gas.OpBlockNumber},
	FnNow:              {"ext_now", nil, kinds(i64), gas.OpNow},
	FnScratchSize:      {"ext_scratch_size", nil, kinds(i32), gas.OpScratchSize},
	FnScratchRead:      {"ext_scratch_read", kinds(i32, i32, i32), nil, gas.OpScratchRead},
	FnDepositEvent:     {"ext_deposit_event", kinds(i32, i32, i32, i32), nil, gas.OpDepositEvent},
	FnRentAllowance:    {"ext_rent_allowance", nil, nil, gas.OpRentAllowance},
	FnSetRentAllowance: {"ext_set_rent_allowance", kinds(i32, i32), nil, gas.OpSetRentAllowance},
}

var hostByName = func() map[string]HostFunc {
	m := make(map[string]HostFunc, numHostFuncs)
	for fn := HostFunc(0); fn < numHostFuncs; fn++ {
		m[hostTable[fn].name] = fn
	}
	return m
}()

// Name returns the import name of fn.
func (fn HostFunc) Name() string {
	if fn < numHostFuncs {
		return hostTable[fn].name
	}
	return "unknown"
}

// LookupHostFunc resolves an import name.
func LookupHostFunc(name string) (HostFunc, bool) {
	fn, ok := hostByName[name]
	return fn, ok
}

func kinds(k ...wasmtime.ValKind) []wasmtime.ValKind { return k }
