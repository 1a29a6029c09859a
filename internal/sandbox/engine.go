// Package sandbox runs untrusted contract code in wasmtime under fuel
// metering and exposes the closed host-function ABI to it.
package sandbox

import (
	"errors"
	"fmt"

	"github.com/bytecodealliance/wasmtime-go/v29"
	"github.com/echenim/Bedrock/contracts/internal/gas"
	"github.com/echenim/Bedrock/contracts/internal/types"
	"go.uber.org/zap"
)

// ErrInvalidCode is returned when a code blob fails validation.
var ErrInvalidCode = errors.New("sandbox: invalid code")

// Engine owns the wasmtime engine shared by all frames. It is safe for
// concurrent use; stores and instances are created per frame.
type Engine struct {
	engine   *wasmtime.Engine
	schedule gas.Schedule
	logger   *zap.Logger
}

// Module is a validated, compiled contract.
type Module struct {
	Hash    types.Hash
	CodeLen int
	module  *wasmtime.Module
}

// NewEngine creates an engine with fuel metering enabled and every
// nondeterministic or unbounded proposal disabled.
func NewEngine(schedule gas.Schedule, logger *zap.Logger) (*Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := schedule.Validate(); err != nil {
		return nil, fmt.Errorf("sandbox: %w", err)
	}

	cfg := wasmtime.NewConfig()
	cfg.SetConsumeFuel(true)
	cfg.SetWasmThreads(false)
	cfg.SetWasmSIMD(false)
	cfg.SetWasmMultiMemory(false)
	cfg.SetWasmMemory64(false)
	cfg.SetCraneliftOptLevel(wasmtime.OptLevelSpeed)
	cfg.SetCraneliftFlag("enable_nan_canonicalization", "true")
	cfg.SetMaxWasmStack(int(schedule.MaxWasmStack))

	return &Engine{
		engine:   wasmtime.NewEngineWithConfig(cfg),
		schedule: schedule,
		logger:   logger,
	}, nil
}

// Schedule returns the cost schedule the engine meters with.
func (e *Engine) Schedule() *gas.Schedule { return &e.schedule }

// Compile validates code and compiles it. This is the only place contract
// code is validated.
func (e *Engine) Compile(hash types.Hash, code []byte) (*Module, error) {
	if len(code) == 0 {
		return nil, fmt.Errorf("%w: empty code", ErrInvalidCode)
	}
	if uint64(len(code)) > uint64(e.schedule.MaxCodeSize) {
		return nil, fmt.Errorf("%w: code size %d exceeds limit %d", ErrInvalidCode, len(code), e.schedule.MaxCodeSize)
	}
	if err := wasmtime.ModuleValidate(e.engine, code); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCode, err)
	}
	m, err := wasmtime.NewModule(e.engine, code)
	if err != nil {
		return nil, fmt.Errorf("%w: compile: %v", ErrInvalidCode, err)
	}
	if err := e.checkImports(m); err != nil {
		return nil, err
	}
	if err := e.checkExports(m); err != nil {
		return nil, err
	}
	e.logger.Debug("module compiled",
		zap.String("code_hash", hash.String()),
		zap.Int("code_len", len(code)),
	)
	return &Module{Hash: hash, CodeLen: len(code), module: m}, nil
}

// Serialize returns the engine-native artifact of m.
func (e *Engine) Serialize(m *Module) ([]byte, error) {
	b, err := m.module.Serialize()
	if err != nil {
		return nil, fmt.Errorf("sandbox: serialize module: %w", err)
	}
	return b, nil
}

// Load restores a module from an artifact produced by Serialize. The
// artifact must come from code that already passed Compile.
func (e *Engine) Load(hash types.Hash, codeLen int, artifact []byte) (*Module, error) {
	m, err := wasmtime.NewModuleDeserialize(e.engine, artifact)
	if err != nil {
		return nil, fmt.Errorf("sandbox: deserialize module: %w", err)
	}
	return &Module{Hash: hash, CodeLen: codeLen, module: m}, nil
}

func (e *Engine) checkImports(m *wasmtime.Module) error {
	for _, imp := range m.Imports() {
		name := ""
		if n := imp.Name(); n != nil {
			name = *n
		}
		if imp.Module() != HostModule {
			return fmt.Errorf("%w: import %s.%s outside module %q", ErrInvalidCode, imp.Module(), name, HostModule)
		}
		fn, ok := LookupHostFunc(name)
		if !ok {
			return fmt.Errorf("%w: unknown host function %q", ErrInvalidCode, name)
		}
		ft := imp.Type().FuncType()
		if ft == nil {
			return fmt.Errorf("%w: import %q is not a function", ErrInvalidCode, name)
		}
		spec := hostTable[fn]
		if !sameKinds(ft.Params(), spec.params) || !sameKinds(ft.Results(), spec.results) {
			return fmt.Errorf("%w: host function %q has wrong signature", ErrInvalidCode, name)
		}
	}
	return nil
}

func (e *Engine) checkExports(m *wasmtime.Module) error {
	var haveCall, haveDeploy, haveMemory bool
	for _, exp := range m.Exports() {
		switch exp.Name() {
		case EntryCall, EntryDeploy:
			ft := exp.Type().FuncType()
			if ft == nil || len(ft.Params()) != 0 || len(ft.Results()) != 0 {
				return fmt.Errorf("%w: export %q must be a function of type () -> ()", ErrInvalidCode, exp.Name())
			}
			if exp.Name() == EntryCall {
				haveCall = true
			} else {
				haveDeploy = true
			}
		case ExportMem:
			mt := exp.Type().MemoryType()
			if mt == nil {
				return fmt.Errorf("%w: export %q must be a memory", ErrInvalidCode, ExportMem)
			}
			if mt.Minimum() > uint64(e.schedule.MaxMemoryPages) {
				return fmt.Errorf("%w: initial memory of %d pages exceeds limit %d", ErrInvalidCode, mt.Minimum(), e.schedule.MaxMemoryPages)
			}
			haveMemory = true
		}
	}
	if !haveCall || !haveDeploy {
		return fmt.Errorf("%w: module must export %q and %q", ErrInvalidCode, EntryCall, EntryDeploy)
	}
	if !haveMemory {
		return fmt.Errorf("%w: module must export %q", ErrInvalidCode, ExportMem)
	}
	return nil
}

func sameKinds(got []*wasmtime.ValType, want []wasmtime.ValKind) bool {
	if len(got) != len(want) {
		return false
	}
	for i, vt := range got {
		if vt.Kind() != want[i] {
			return false
		}
	}
	return true
}
