package sandbox

import (
	"errors"
	"fmt"

	"github.com/bytecodealliance/wasmtime-go/v29"
	"github.com/echenim/Bedrock/contracts/internal/gas"
	"github.com/echenim/Bedrock/contracts/internal/types"
	"github.com/holiman/uint256"
)

const (
	wasmPageSize     = 64 * 1024
	maxTableElements = 10_000
)

// frame is the per-run state shared by every host function of one instance.
type frame struct {
	engine   *Engine
	sched    *gas.Schedule
	store    *wasmtime.Store
	ext      Ext
	meter    *gas.Meter
	input    []byte
	scratch  []byte
	fuelLeft uint64 // fuel most recently handed to the store

	// Outcome flags set by host functions before they unwind the guest.
	returned   bool
	output     []byte
	terminated bool
	outOfGas   bool
	reason     types.TrapReason
	fatal      error
}

// Run executes entry ("call" or "deploy") of m with input, charging every
// instruction and host function to meter. Guest failures are reported in
// the result; a non-nil error is an infrastructure fault raised by ext.
// A result of kind OutOfGas leaves meter exhausted.
func (e *Engine) Run(m *Module, ext Ext, meter *gas.Meter, entry string, input []byte) (types.ExecResult, error) {
	if entry != EntryCall && entry != EntryDeploy {
		return types.ExecResult{}, fmt.Errorf("sandbox: unknown entry point %q", entry)
	}

	store := wasmtime.NewStore(e.engine)
	store.Limiter(int64(e.schedule.MaxMemoryPages)*wasmPageSize, maxTableElements, 1, 1, 1)

	f := &frame{
		engine: e,
		sched:  &e.schedule,
		store:  store,
		ext:    ext,
		meter:  meter,
		input:  input,
	}
	if t := f.refuel(); t != nil {
		return f.finish(t)
	}

	linker := wasmtime.NewLinker(e.engine)
	for fn := HostFunc(0); fn < numHostFuncs; fn++ {
		if err := f.define(linker, fn); err != nil {
			return types.ExecResult{}, fmt.Errorf("sandbox: define %s: %w", fn.Name(), err)
		}
	}

	inst, err := linker.Instantiate(store, m.module)
	if err != nil {
		return f.finish(err)
	}
	run := inst.GetFunc(store, entry)
	if run == nil {
		return types.ExecResult{}, fmt.Errorf("sandbox: module %s has no %q export", m.Hash, entry)
	}
	_, err = run.Call(store)
	return f.finish(err)
}

// finish converts the end state of the instance into a result.
func (f *frame) finish(callErr error) (types.ExecResult, error) {
	if f.fatal != nil {
		return types.ExecResult{}, f.fatal
	}
	if !f.outOfGas {
		f.sync()
		if f.fatal != nil {
			return types.ExecResult{}, f.fatal
		}
	}

	switch {
	case f.outOfGas:
		f.meter.Exhaust()
		return types.OutOfGas(), nil
	case f.returned:
		return types.Success(f.output), nil
	case f.terminated:
		return types.Success(nil), nil
	case f.reason != types.TrapNone:
		return types.Trap(f.reason), nil
	case callErr == nil:
		return types.Success(nil), nil
	}

	var trap *wasmtime.Trap
	if errors.As(callErr, &trap) {
		if code := trap.Code(); code != nil {
			if *code == wasmtime.OutOfFuel {
				f.meter.Exhaust()
				return types.OutOfGas(), nil
			}
			return types.Trap(trapReason(*code)), nil
		}
	}
	return types.Trap(types.TrapOther), nil
}

func trapReason(code wasmtime.TrapCode) types.TrapReason {
	switch code {
	case wasmtime.UnreachableCodeReached:
		return types.TrapUnreachable
	case wasmtime.MemoryOutOfBounds, wasmtime.HeapMisaligned, wasmtime.TableOutOfBounds:
		return types.TrapMemoryAccess
	case wasmtime.StackOverflow:
		return types.TrapStackOverflow
	case wasmtime.IntegerOverflow, wasmtime.IntegerDivisionByZero, wasmtime.BadConversionToInteger:
		return types.TrapNumeric
	case wasmtime.IndirectCallToNull, wasmtime.BadSignature:
		return types.TrapIndirectCall
	default:
		return types.TrapOther
	}
}

// --- Fuel accounting ---

// sync charges the fuel burned since the last refuel to the meter.
func (f *frame) sync() *wasmtime.Trap {
	fuel, err := f.store.GetFuel()
	if err != nil {
		return f.fail(fmt.Errorf("sandbox: read fuel: %w", err))
	}
	burned := f.fuelLeft - fuel
	f.fuelLeft = fuel
	if burned == 0 {
		return nil
	}
	// burned <= remaining/InstructionCost, so the product cannot overflow.
	if err := f.meter.Charge(burned * f.sched.InstructionCost); err != nil {
		return f.exhausted()
	}
	return nil
}

// refuel hands the meter's remaining budget back to the store as fuel.
func (f *frame) refuel() *wasmtime.Trap {
	fuel := f.meter.Remaining() / f.sched.InstructionCost
	if err := f.store.SetFuel(fuel); err != nil {
		return f.fail(fmt.Errorf("sandbox: set fuel: %w", err))
	}
	f.fuelLeft = fuel
	return nil
}

// host wraps a host function body with fuel synchronisation on both sides.
func (f *frame) host(body func() *wasmtime.Trap) *wasmtime.Trap {
	if t := f.sync(); t != nil {
		return t
	}
	if t := body(); t != nil {
		return t
	}
	return f.refuel()
}

func (f *frame) charge(op gas.OperationKind, n uint64) *wasmtime.Trap {
	if err := f.sched.ChargeOp(f.meter, op, n); err != nil {
		if errors.Is(err, gas.ErrOutOfGas) {
			return f.exhausted()
		}
		return f.fail(err)
	}
	return nil
}

// --- Unwinding ---

func (f *frame) trap(r types.TrapReason) *wasmtime.Trap {
	if f.reason == types.TrapNone {
		f.reason = r
	}
	return wasmtime.NewTrap(r.String())
}

func (f *frame) exhausted() *wasmtime.Trap {
	f.outOfGas = true
	return wasmtime.NewTrap("out of gas")
}

func (f *frame) fail(err error) *wasmtime.Trap {
	if f.fatal == nil {
		f.fatal = err
	}
	return wasmtime.NewTrap("host failure")
}

func halt() *wasmtime.Trap {
	return wasmtime.NewTrap("halt")
}

// --- Guest memory ---

func memoryOf(c *wasmtime.Caller) []byte {
	ext := c.GetExport(ExportMem)
	if ext == nil || ext.Memory() == nil {
		return nil
	}
	return ext.Memory().UnsafeData(c)
}

// read copies n bytes at ptr out of guest memory.
func (f *frame) read(c *wasmtime.Caller, ptr, n int32) ([]byte, *wasmtime.Trap) {
	mem := memoryOf(c)
	start, size := uint64(uint32(ptr)), uint64(uint32(n))
	if start+size > uint64(len(mem)) {
		return nil, f.trap(types.TrapMemoryAccess)
	}
	out := make([]byte, size)
	copy(out, mem[start:start+size])
	return out, nil
}

// write copies data into guest memory at ptr.
func (f *frame) write(c *wasmtime.Caller, ptr int32, data []byte) *wasmtime.Trap {
	mem := memoryOf(c)
	start := uint64(uint32(ptr))
	if start+uint64(len(data)) > uint64(len(mem)) {
		return f.trap(types.TrapMemoryAccess)
	}
	copy(mem[start:], data)
	return nil
}

func (f *frame) readAddress(c *wasmtime.Caller, ptr, n int32) (types.Address, *wasmtime.Trap) {
	if n != types.AddressSize {
		return types.ZeroAddress, f.trap(types.TrapInvalidArgument)
	}
	b, t := f.read(c, ptr, n)
	if t != nil {
		return types.ZeroAddress, t
	}
	a, _ := types.AddressFromBytes(b)
	return a, nil
}

func (f *frame) readHash(c *wasmtime.Caller, ptr, n int32) (types.Hash, *wasmtime.Trap) {
	a, t := f.readAddress(c, ptr, n)
	return types.Hash(a), t
}

// readValue decodes a big-endian balance of at most 32 bytes.
func (f *frame) readValue(c *wasmtime.Caller, ptr, n int32) (*uint256.Int, *wasmtime.Trap) {
	if uint32(n) > types.BalanceSize {
		return nil, f.trap(types.TrapInvalidArgument)
	}
	b, t := f.read(c, ptr, n)
	if t != nil {
		return nil, t
	}
	v, _ := types.DecodeBalance(b)
	return v, nil
}

func (f *frame) readKey(c *wasmtime.Caller, ptr, n int32) ([]byte, *wasmtime.Trap) {
	if uint32(n) > f.sched.MaxKeySize {
		return nil, f.trap(types.TrapInvalidArgument)
	}
	return f.read(c, ptr, n)
}

func (f *frame) readInput(c *wasmtime.Caller, ptr, n int32) ([]byte, *wasmtime.Trap) {
	if uint32(n) > f.sched.MaxInputSize {
		return nil, f.trap(types.TrapInvalidArgument)
	}
	return f.read(c, ptr, n)
}

func (f *frame) setScratch(b []byte) {
	f.scratch = b
}

// callCode maps a nested frame result to the guest-visible return code.
func callCode(r types.ExecResult) int32 {
	switch r.Kind {
	case types.ResultSuccess:
		return CodeSuccess
	case types.ResultOutOfGas:
		return CodeOutOfGas
	}
	switch r.Reason {
	case types.TrapDepthExceeded:
		return CodeDepthExceeded
	case types.TrapCodeNotFound:
		return CodeNotFound
	case types.TrapBalanceTooLow:
		return CodeBalanceTooLow
	default:
		return CodeTrapped
	}
}
