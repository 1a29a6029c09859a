package gas

import (
	"errors"
	"fmt"
	"math/bits"
)

// OperationKind is a guest-observable operation priced by the Schedule.
// The set is closed; adding a kind requires adding its cost.
type OperationKind uint8

const (
	OpInstruction OperationKind = iota
	OpSandboxInstantiate
	OpGetStorage
	OpSetStorage
	OpRemoveStorage
	OpCall
	OpInstantiate
	OpTransfer
	OpReturn
	OpScratchSize
	OpScratchRead
	OpGasLeft
	OpCaller
	OpAddress
	OpValueTransferred
	OpInput
	OpBalance
	OpBlockNumber
	OpNow
	OpDepositEvent
	OpEventTopic
	OpTerminate
	OpRentAllowance
	OpSetRentAllowance

	numOperations
)

var opNames = [numOperations]string{
	OpInstruction:        "instruction",
	OpSandboxInstantiate: "sandbox_instantiate",
	OpGetStorage:         "get_storage",
	OpSetStorage:         "set_storage",
	OpRemoveStorage:      "remove_storage",
	OpCall:               "call",
	OpInstantiate:        "instantiate",
	OpTransfer:           "transfer",
	OpReturn:             "return",
	OpScratchSize:        "scratch_size",
	OpScratchRead:        "scratch_read",
	OpGasLeft:            "gas_left",
	OpCaller:             "caller",
	OpAddress:            "address",
	OpValueTransferred:   "value_transferred",
	OpInput:              "input",
	OpBalance:            "balance",
	OpBlockNumber:        "block_number",
	OpNow:                "now",
	OpDepositEvent:       "deposit_event",
	OpEventTopic:         "event_topic",
	OpTerminate:          "terminate",
	OpRentAllowance:      "rent_allowance",
	OpSetRentAllowance:   "set_rent_allowance",
}

// String returns the snake_case name of the operation.
func (op OperationKind) String() string {
	if op < numOperations {
		return opNames[op]
	}
	return fmt.Sprintf("op(%d)", uint8(op))
}

// Schedule holds all costs and limits. It is loaded once from configuration
// and never mutated during execution.
type Schedule struct {
	// Costs. Per-byte costs apply on top of the base cost.
	InstructionCost            uint64 `toml:"instruction_cost"`
	SandboxInstantiateBaseCost uint64 `toml:"sandbox_instantiate_base_cost"`
	SandboxInstantiateByteCost uint64 `toml:"sandbox_instantiate_byte_cost"`
	GetStorageBaseCost         uint64 `toml:"get_storage_base_cost"`
	GetStorageByteCost         uint64 `toml:"get_storage_byte_cost"`
	SetStorageBaseCost         uint64 `toml:"set_storage_base_cost"`
	SetStorageByteCost         uint64 `toml:"set_storage_byte_cost"`
	RemoveStorageCost          uint64 `toml:"remove_storage_cost"`
	CallBaseCost               uint64 `toml:"call_base_cost"`
	InstantiateBaseCost        uint64 `toml:"instantiate_base_cost"`
	TransferCost               uint64 `toml:"transfer_cost"`
	ReturnByteCost             uint64 `toml:"return_byte_cost"`
	ScratchReadByteCost        uint64 `toml:"scratch_read_byte_cost"`
	InputByteCost              uint64 `toml:"input_byte_cost"`
	ContextReadCost            uint64 `toml:"context_read_cost"`
	DepositEventBaseCost       uint64 `toml:"deposit_event_base_cost"`
	DepositEventByteCost       uint64 `toml:"deposit_event_byte_cost"`
	EventTopicCost             uint64 `toml:"event_topic_cost"`
	TerminateCost              uint64 `toml:"terminate_cost"`
	SetRentAllowanceCost       uint64 `toml:"set_rent_allowance_cost"`

	// Limits.
	MaxDepth         uint32 `toml:"max_depth"`
	MaxCodeSize      uint32 `toml:"max_code_size"`
	MaxKeySize       uint32 `toml:"max_key_size"`
	MaxValueSize     uint32 `toml:"max_value_size"`
	MaxMemoryPages   uint32 `toml:"max_memory_pages"`
	MaxEventTopics   uint32 `toml:"max_event_topics"`
	MaxEventDataSize uint32 `toml:"max_event_data_size"`
	MaxInputSize     uint32 `toml:"max_input_size"`
	// MaxWasmStack is the native stack, in bytes, one frame's guest code may
	// use. Nested frames share a host thread, so MaxDepth+1 of them must fit
	// in HostStackBudget.
	MaxWasmStack uint64 `toml:"max_wasm_stack"`

	// Rent.
	RentByteFee      uint64 `toml:"rent_byte_fee"`
	FreeStorageBytes uint64 `toml:"free_storage_bytes"`
}

// DefaultSchedule returns the schedule used when no configuration overrides it.
func DefaultSchedule() Schedule {
	return Schedule{
		InstructionCost:            1,
		SandboxInstantiateBaseCost: 2_000,
		SandboxInstantiateByteCost: 1,
		GetStorageBaseCost:         100,
		GetStorageByteCost:         1,
		SetStorageBaseCost:         1_000,
		SetStorageByteCost:         10,
		RemoveStorageCost:          500,
		CallBaseCost:               1_000,
		InstantiateBaseCost:        5_000,
		TransferCost:               500,
		ReturnByteCost:             1,
		ScratchReadByteCost:        1,
		InputByteCost:              1,
		ContextReadCost:            10,
		DepositEventBaseCost:       200,
		DepositEventByteCost:       2,
		EventTopicCost:             100,
		TerminateCost:              1_000,
		SetRentAllowanceCost:       100,

		MaxDepth:         32,
		MaxCodeSize:      512 * 1024,
		MaxKeySize:       128,
		MaxValueSize:     16 * 1024,
		MaxMemoryPages:   16,
		MaxEventTopics:   4,
		MaxEventDataSize: 16 * 1024,
		MaxInputSize:     64 * 1024,
		MaxWasmStack:     96 * 1024,

		RentByteFee:      1,
		FreeStorageBytes: 1024,
	}
}

// HostStackBudget bounds the native stack all nested guest frames of one
// dispatch may claim together.
const HostStackBudget = 4 << 20

// Validate checks the schedule for values that would break metering.
func (s *Schedule) Validate() error {
	var errs []error
	if s.InstructionCost == 0 {
		errs = append(errs, errors.New("schedule: instruction_cost must be > 0"))
	}
	if s.MaxDepth == 0 {
		errs = append(errs, errors.New("schedule: max_depth must be > 0"))
	}
	if s.MaxCodeSize == 0 {
		errs = append(errs, errors.New("schedule: max_code_size must be > 0"))
	}
	if s.MaxKeySize == 0 {
		errs = append(errs, errors.New("schedule: max_key_size must be > 0"))
	}
	if s.MaxMemoryPages == 0 || s.MaxMemoryPages > 65536 {
		errs = append(errs, errors.New("schedule: max_memory_pages must be in [1, 65536]"))
	}
	if s.MaxWasmStack == 0 {
		errs = append(errs, errors.New("schedule: max_wasm_stack must be > 0"))
	} else if hi, total := bits.Mul64(uint64(s.MaxDepth)+1, s.MaxWasmStack); hi != 0 || total > HostStackBudget {
		errs = append(errs, fmt.Errorf("schedule: (max_depth+1) * max_wasm_stack must be <= %d bytes", HostStackBudget))
	}
	return errors.Join(errs...)
}

// Cost returns the price of op over n bytes. The result is a pure function
// of its arguments; an overflow returns ErrOutOfGas since no meter can pay it.
func (s *Schedule) Cost(op OperationKind, n uint64) (uint64, error) {
	var base, perByte uint64
	switch op {
	case OpInstruction:
		base = s.InstructionCost
	case OpSandboxInstantiate:
		base, perByte = s.SandboxInstantiateBaseCost, s.SandboxInstantiateByteCost
	case OpGetStorage:
		base, perByte = s.GetStorageBaseCost, s.GetStorageByteCost
	case OpSetStorage:
		base, perByte = s.SetStorageBaseCost, s.SetStorageByteCost
	case OpRemoveStorage:
		base = s.RemoveStorageCost
	case OpCall:
		base = s.CallBaseCost
	case OpInstantiate:
		base = s.InstantiateBaseCost
	case OpTransfer:
		base = s.TransferCost
	case OpReturn:
		perByte = s.ReturnByteCost
	case OpScratchRead:
		base, perByte = s.ContextReadCost, s.ScratchReadByteCost
	case OpInput:
		base, perByte = s.ContextReadCost, s.InputByteCost
	case OpScratchSize, OpGasLeft, OpCaller, OpAddress, OpValueTransferred,
		OpBalance, OpBlockNumber, OpNow, OpRentAllowance:
		base = s.ContextReadCost
	case OpDepositEvent:
		base, perByte = s.DepositEventBaseCost, s.DepositEventByteCost
	case OpEventTopic:
		base = s.EventTopicCost
	case OpTerminate:
		base = s.TerminateCost
	case OpSetRentAllowance:
		base = s.SetRentAllowanceCost
	default:
		return 0, fmt.Errorf("schedule: unknown operation %s", op)
	}

	hi, variable := bits.Mul64(perByte, n)
	if hi != 0 {
		return 0, fmt.Errorf("%w: %s cost overflows", ErrOutOfGas, op)
	}
	total, carry := bits.Add64(base, variable, 0)
	if carry != 0 {
		return 0, fmt.Errorf("%w: %s cost overflows", ErrOutOfGas, op)
	}
	return total, nil
}

// ChargeOp prices op over n bytes and charges it to m.
func (s *Schedule) ChargeOp(m *Meter, op OperationKind, n uint64) error {
	cost, err := s.Cost(op, n)
	if err != nil {
		if errors.Is(err, ErrOutOfGas) {
			m.exhausted = true
		}
		return err
	}
	return m.Charge(cost)
}
