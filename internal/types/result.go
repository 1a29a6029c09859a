package types

import "fmt"

// ResultKind classifies how a contract frame ended.
type ResultKind uint8

const (
	ResultSuccess ResultKind = iota
	ResultTrap
	ResultOutOfGas
)

// String returns the lowercase name of the result kind.
func (k ResultKind) String() string {
	switch k {
	case ResultSuccess:
		return "success"
	case ResultTrap:
		return "trap"
	case ResultOutOfGas:
		return "out_of_gas"
	default:
		return fmt.Sprintf("result(%d)", uint8(k))
	}
}

// TrapReason explains why a frame trapped.
type TrapReason uint8

const (
	TrapNone TrapReason = iota
	TrapUnreachable
	TrapMemoryAccess
	TrapStackOverflow
	TrapNumeric
	TrapIndirectCall
	TrapInvalidArgument
	TrapDepthExceeded
	TrapCodeNotFound
	TrapBalanceTooLow
	TrapStorageValueTooLarge
	TrapContractExists
	TrapReentrantTermination
	TrapRentExhausted
	TrapOther
)

var trapNames = map[TrapReason]string{
	TrapNone:                 "none",
	TrapUnreachable:          "unreachable",
	TrapMemoryAccess:         "memory_access",
	TrapStackOverflow:        "stack_overflow",
	TrapNumeric:              "numeric",
	TrapIndirectCall:         "indirect_call",
	TrapInvalidArgument:      "invalid_argument",
	TrapDepthExceeded:        "depth_exceeded",
	TrapCodeNotFound:         "code_not_found",
	TrapBalanceTooLow:        "balance_too_low",
	TrapStorageValueTooLarge: "storage_value_too_large",
	TrapContractExists:       "contract_exists",
	TrapReentrantTermination: "reentrant_termination",
	TrapRentExhausted:        "rent_exhausted",
	TrapOther:                "other",
}

// String returns the snake_case name of the reason.
func (r TrapReason) String() string {
	if s, ok := trapNames[r]; ok {
		return s
	}
	return fmt.Sprintf("trap(%d)", uint8(r))
}

// ExecResult is the outcome of one frame. Guest-level failures are values
// of this type, never Go errors.
type ExecResult struct {
	Kind   ResultKind
	Data   []byte
	Reason TrapReason
}

// Success returns a successful result carrying the returned data.
func Success(data []byte) ExecResult {
	return ExecResult{Kind: ResultSuccess, Data: data}
}

// Trap returns a trapped result with the given reason.
func Trap(reason TrapReason) ExecResult {
	return ExecResult{Kind: ResultTrap, Reason: reason}
}

// OutOfGas returns an out-of-gas result.
func OutOfGas() ExecResult {
	return ExecResult{Kind: ResultOutOfGas}
}

// IsSuccess reports whether the frame completed normally.
func (r ExecResult) IsSuccess() bool { return r.Kind == ResultSuccess }

// String returns a short human-readable form.
func (r ExecResult) String() string {
	if r.Kind == ResultTrap {
		return "trap(" + r.Reason.String() + ")"
	}
	return r.Kind.String()
}

// Event is a log record deposited by a contract. Events surface only when
// every enclosing frame succeeds.
type Event struct {
	Address Address
	Topics  []Hash
	Data    []byte
}

// BlockContext exposes the block values readable by contracts.
type BlockContext interface {
	CurrentHeight() uint64
	CurrentTimestamp() uint64
}

// Block is a plain BlockContext.
type Block struct {
	Height    uint64
	Timestamp uint64
}

// CurrentHeight implements BlockContext.
func (b Block) CurrentHeight() uint64 { return b.Height }

// CurrentTimestamp implements BlockContext.
func (b Block) CurrentTimestamp() uint64 { return b.Timestamp }
