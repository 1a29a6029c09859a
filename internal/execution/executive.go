// Package execution dispatches contract calls and instantiations. Every
// frame runs in its own storage scope with a gas budget forwarded by its
// caller; a frame's storage writes, value transfers and events reach its
// parent only when the frame succeeds. A top-level dispatch, fees included,
// reaches the store as a single change set.
package execution

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/echenim/Bedrock/contracts/internal/codecache"
	"github.com/echenim/Bedrock/contracts/internal/crypto"
	"github.com/echenim/Bedrock/contracts/internal/gas"
	"github.com/echenim/Bedrock/contracts/internal/ledger"
	"github.com/echenim/Bedrock/contracts/internal/overlay"
	"github.com/echenim/Bedrock/contracts/internal/sandbox"
	"github.com/echenim/Bedrock/contracts/internal/storage"
	"github.com/echenim/Bedrock/contracts/internal/telemetry"
	"github.com/echenim/Bedrock/contracts/internal/types"
	"github.com/holiman/uint256"
	"go.uber.org/zap"
)

// CallRequest is a top-level call of an existing account.
type CallRequest struct {
	Origin   types.Address
	Dest     types.Address
	Value    *uint256.Int
	GasLimit uint64
	Data     []byte
}

// InstantiateRequest deploys uploaded code as a new contract.
type InstantiateRequest struct {
	Origin    types.Address
	CodeHash  types.Hash
	Endowment *uint256.Int
	GasLimit  uint64
	Data      []byte
	// RentAllowance caps the rent the new contract pays. Nil means unlimited.
	RentAllowance *uint256.Int
}

// Outcome is the result of a top-level dispatch.
type Outcome struct {
	Result  types.ExecResult
	GasUsed uint64
	// Address is the new contract of a successful instantiation.
	Address types.Address
	// Events are the events of every frame that took effect.
	Events []types.Event
}

// Deps are the collaborators of an Executive. Balances are read from and
// written back to State.
type Deps struct {
	Engine *sandbox.Engine
	Code   *codecache.Cache
	State  storage.State
	Fees   ledger.FeeCharger
	// RentCollector receives rent paid by contracts.
	RentCollector types.Address
}

// Executive runs top-level dispatches one at a time.
type Executive struct {
	engine        *sandbox.Engine
	code          *codecache.Cache
	state         storage.State
	fees          ledger.FeeCharger
	rentCollector types.Address

	logger  *zap.Logger
	metrics *telemetry.Metrics

	mu sync.Mutex
}

// New creates an executive.
func New(deps Deps, logger *zap.Logger, metrics *telemetry.Metrics) (*Executive, error) {
	if deps.Engine == nil || deps.Code == nil || deps.State == nil {
		return nil, errors.New("execution: engine, code cache and state are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = telemetry.NopMetrics()
	}
	fees := deps.Fees
	if fees == nil {
		fees = ledger.NewGasFees(0, types.ZeroAddress)
	}
	return &Executive{
		engine:        deps.Engine,
		code:          deps.Code,
		state:         deps.State,
		fees:          fees,
		rentCollector: deps.RentCollector,
		logger:        logger,
		metrics:       metrics,
	}, nil
}

// Schedule returns the cost schedule in force.
func (e *Executive) Schedule() *gas.Schedule { return e.engine.Schedule() }

// UploadCode validates and stores code, returning its hash.
func (e *Executive) UploadCode(code []byte) (types.Hash, error) {
	return e.code.Upload(code)
}

// ContractInfo returns the committed record of addr, or nil.
func (e *Executive) ContractInfo(addr types.Address) (*types.ContractInfo, error) {
	return e.state.ContractInfo(addr)
}

// GetStorage returns the committed value of key in the storage of addr.
func (e *Executive) GetStorage(addr types.Address, key []byte) ([]byte, error) {
	info, err := e.state.ContractInfo(addr)
	if err != nil || info == nil {
		return nil, err
	}
	return e.state.Storage(info.TrieID, key)
}

// BalanceOf returns the committed free balance of addr.
func (e *Executive) BalanceOf(addr types.Address) (*uint256.Int, error) {
	return e.state.Balance(addr)
}

// Call runs a top-level call. Guest failures are reported in the outcome;
// an error means an infrastructure fault, after which no effect of the
// dispatch remains and no fee is charged.
func (e *Executive) Call(block types.BlockContext, req CallRequest) (*Outcome, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	value := orZero(req.Value)
	return e.dispatch(block, req.Origin, "call", req.GasLimit, value, func(d *dispatch, meter *gas.Meter) (types.Address, types.ExecResult, error) {
		res, err := d.call(d.root, req.Origin, req.Dest, value, req.Data, 0, meter, req.GasLimit)
		return req.Dest, res, err
	})
}

// Instantiate deploys a new contract from uploaded code.
func (e *Executive) Instantiate(block types.BlockContext, req InstantiateRequest) (*Outcome, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	m, err := e.code.Get(req.CodeHash)
	if err != nil {
		return nil, err
	}
	if m == nil {
		e.observe("instantiate", types.Trap(types.TrapCodeNotFound), 0, 0, time.Now())
		return &Outcome{Result: types.Trap(types.TrapCodeNotFound)}, nil
	}

	value := orZero(req.Endowment)
	return e.dispatch(block, req.Origin, "instantiate", req.GasLimit, value, func(d *dispatch, meter *gas.Meter) (types.Address, types.ExecResult, error) {
		return d.instantiate(d.root, req.Origin, req.CodeHash, value, req.Data, req.RentAllowance, 0, meter, req.GasLimit)
	})
}

type entryFunc func(d *dispatch, meter *gas.Meter) (types.Address, types.ExecResult, error)

// dispatch wraps one top-level entry with fee handling, the root scope and
// final commit or rollback. Everything happens inside txn, which is
// committed once at the end; until then nothing is visible in the store.
func (e *Executive) dispatch(block types.BlockContext, origin types.Address, entry string, gasLimit uint64, value *uint256.Int, run entryFunc) (*Outcome, error) {
	start := time.Now()
	txn := overlay.New(e.state)
	accounts := ledger.New(txn)

	if err := e.fees.WithdrawFee(accounts, origin, gasLimit); err != nil {
		if errors.Is(err, ledger.ErrInsufficientBalance) {
			return e.refuse(txn, entry, start), nil
		}
		return nil, e.abandon(txn, fmt.Errorf("execution: withdraw fee: %w", err))
	}
	bal, err := accounts.BalanceOf(origin)
	if err != nil {
		return nil, e.abandon(txn, fmt.Errorf("execution: balance of %s: %w", origin, err))
	}
	if bal.Lt(value) {
		return e.refuse(txn, entry, start), nil
	}

	ov, err := txn.Child()
	if err != nil {
		return nil, e.abandon(txn, fmt.Errorf("execution: open root scope: %w", err))
	}
	d := &dispatch{e: e, block: block, root: newScope(ov)}
	meter := gas.NewMeter(gasLimit)

	addr, res, err := run(d, meter)
	if err != nil {
		e.logger.Warn("dispatch aborted",
			zap.String("entry", entry),
			zap.String("origin", origin.String()),
			zap.Error(err),
		)
		return nil, e.abandon(txn, err)
	}

	if res.IsSuccess() {
		err = d.root.ov.Commit()
	} else {
		err = d.root.ov.Discard()
	}
	if err != nil {
		return nil, e.abandon(txn, fmt.Errorf("execution: close root scope: %w", err))
	}

	used := meter.Used()
	if err := e.fees.RefundFee(accounts, origin, gasLimit, used); err != nil {
		return nil, e.abandon(txn, fmt.Errorf("execution: settle fee: %w", err))
	}
	if err := txn.Commit(); err != nil {
		return nil, fmt.Errorf("execution: commit: %w", err)
	}

	out := &Outcome{Result: res, GasUsed: used}
	if res.IsSuccess() {
		out.Events = d.root.events
		if entry == "instantiate" {
			out.Address = addr
		}
	}

	e.observe(entry, res, used, d.maxDepth, start)
	e.logger.Debug("dispatch finished",
		zap.String("entry", entry),
		zap.String("origin", origin.String()),
		zap.String("dest", addr.String()),
		zap.Uint64("gas_limit", gasLimit),
		zap.Uint64("gas_used", used),
		zap.Stringer("result", res),
	)
	return out, nil
}

// refuse drops txn, prepaid fee included, and reports BalanceTooLow.
func (e *Executive) refuse(txn *overlay.Overlay, entry string, start time.Time) *Outcome {
	e.abandon(txn, nil)
	out := &Outcome{Result: types.Trap(types.TrapBalanceTooLow)}
	e.observe(entry, out.Result, 0, 0, start)
	return out
}

// abandon drops txn and passes err through. A scope that never committed
// has no effect on the store, so a scope still blocked by an open child is
// fine to leave behind.
func (e *Executive) abandon(txn *overlay.Overlay, err error) error {
	if derr := txn.Discard(); derr != nil && !errors.Is(derr, overlay.ErrChildOpen) {
		e.logger.Warn("discard dispatch scope", zap.Error(derr))
	}
	return err
}

func (e *Executive) observe(entry string, res types.ExecResult, used uint64, depth int, start time.Time) {
	e.metrics.CallsTotal.WithLabelValues(entry, res.Kind.String()).Inc()
	if res.Kind == types.ResultTrap {
		e.metrics.TrapsTotal.WithLabelValues(res.Reason.String()).Inc()
	}
	e.metrics.GasUsed.Observe(float64(used))
	e.metrics.CallDepth.Observe(float64(depth))
	e.metrics.ExecutionLatency.Observe(time.Since(start).Seconds())
}

// Evict removes the contract at addr if it can no longer pay its rent at
// the block height. Its balance stays with the account. It reports whether
// the contract was removed.
func (e *Executive) Evict(block types.BlockContext, addr types.Address) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	info, err := e.state.ContractInfo(addr)
	if err != nil {
		return false, fmt.Errorf("execution: contract info %s: %w", addr, err)
	}
	if info == nil {
		return false, nil
	}
	due := rentDue(e.engine.Schedule(), info, block.CurrentHeight())
	bal, err := e.state.Balance(addr)
	if err != nil {
		return false, fmt.Errorf("execution: balance of %s: %w", addr, err)
	}
	if rentPayable(info, due, bal) {
		return false, nil
	}

	ov := overlay.New(e.state)
	if err := ov.RemoveContract(addr); err != nil {
		return false, fmt.Errorf("execution: evict %s: %w", addr, err)
	}
	if err := ov.Commit(); err != nil {
		return false, fmt.Errorf("execution: evict %s: %w", addr, err)
	}
	e.metrics.Evictions.Inc()
	e.logger.Info("contract evicted",
		zap.String("address", addr.String()),
		zap.Uint64("height", block.CurrentHeight()),
	)
	return true, nil
}

// --- Dispatch ---

// dispatch is the state of one top-level entry: the block it runs in, the
// root scope and the stack of executing contracts.
type dispatch struct {
	e        *Executive
	block    types.BlockContext
	root     *scope
	stack    []types.Address
	maxDepth int
}

func (d *dispatch) onStack(addr types.Address) int {
	n := 0
	for _, a := range d.stack {
		if a == addr {
			n++
		}
	}
	return n
}

// call enters dest from caller. Checks run in a fixed order: depth, target
// kind, code, caller balance, gas split. Only after all of them pass does the
// frame start costing anything.
func (d *dispatch) call(parent *scope, caller, dest types.Address, value *uint256.Int, input []byte, depth int, from *gas.Meter, gasLimit uint64) (types.ExecResult, error) {
	sched := d.e.engine.Schedule()
	if depth > int(sched.MaxDepth) {
		return types.Trap(types.TrapDepthExceeded), nil
	}

	info, err := parent.ov.ContractInfo(dest)
	if err != nil {
		return types.ExecResult{}, fmt.Errorf("execution: contract info %s: %w", dest, err)
	}
	if info == nil {
		// A plain account only receives the value.
		ok, err := transfer(parent.ledger, caller, dest, value)
		if err != nil {
			return types.ExecResult{}, err
		}
		if !ok {
			return types.Trap(types.TrapBalanceTooLow), nil
		}
		return types.Success(nil), nil
	}

	module, err := d.e.code.Get(info.CodeHash)
	if err != nil {
		return types.ExecResult{}, err
	}
	if module == nil {
		return types.Trap(types.TrapCodeNotFound), nil
	}
	if ok, err := parent.covers(caller, value); err != nil || !ok {
		return types.Trap(types.TrapBalanceTooLow), err
	}

	meter, err := from.Split(gasLimit)
	if err != nil {
		return types.OutOfGas(), nil
	}
	f := &frame{
		d:      d,
		parent: parent,
		depth:  depth,
		caller: caller,
		self:   dest,
		value:  value,
		meter:  meter,
	}
	res, err := d.run(f, module, sandbox.EntryCall, input, nil)
	if rerr := from.Refund(meter); rerr != nil && err == nil {
		err = rerr
	}
	return res, err
}

// instantiate deploys codeHash on behalf of deployer.
func (d *dispatch) instantiate(parent *scope, deployer types.Address, codeHash types.Hash, value *uint256.Int, input []byte, allowance *uint256.Int, depth int, from *gas.Meter, gasLimit uint64) (types.Address, types.ExecResult, error) {
	sched := d.e.engine.Schedule()
	if depth > int(sched.MaxDepth) {
		return types.ZeroAddress, types.Trap(types.TrapDepthExceeded), nil
	}

	module, err := d.e.code.Get(codeHash)
	if err != nil {
		return types.ZeroAddress, types.ExecResult{}, err
	}
	if module == nil {
		return types.ZeroAddress, types.Trap(types.TrapCodeNotFound), nil
	}
	if ok, err := parent.covers(deployer, value); err != nil || !ok {
		return types.ZeroAddress, types.Trap(types.TrapBalanceTooLow), err
	}

	nonce, err := parent.ov.Nonce(deployer)
	if err != nil {
		return types.ZeroAddress, types.ExecResult{}, err
	}
	if err := parent.ov.SetNonce(deployer, nonce+1); err != nil {
		return types.ZeroAddress, types.ExecResult{}, err
	}
	addr := crypto.ContractAddress(deployer, codeHash, nonce)
	existing, err := parent.ov.ContractInfo(addr)
	if err != nil {
		return types.ZeroAddress, types.ExecResult{}, err
	}
	if existing != nil {
		return types.ZeroAddress, types.Trap(types.TrapContractExists), nil
	}

	meter, err := from.Split(gasLimit)
	if err != nil {
		return types.ZeroAddress, types.OutOfGas(), nil
	}
	if allowance == nil {
		allowance = maxAllowance()
	}
	info := &types.ContractInfo{
		CodeHash:        codeHash,
		TrieID:          crypto.TrieIDFor(addr, nonce),
		RentAllowance:   new(uint256.Int).Set(allowance),
		LastWriteHeight: d.block.CurrentHeight(),
		DeductHeight:    d.block.CurrentHeight(),
	}
	f := &frame{
		d:      d,
		parent: parent,
		depth:  depth,
		caller: deployer,
		self:   addr,
		value:  value,
		meter:  meter,
	}
	res, err := d.run(f, module, sandbox.EntryDeploy, input, info)
	if rerr := from.Refund(meter); rerr != nil && err == nil {
		err = rerr
	}
	if err != nil || !res.IsSuccess() {
		return types.ZeroAddress, res, err
	}
	return addr, res, nil
}

// run drives a frame from Created to Committed or Reverted. A non-nil info
// is the record of a contract being deployed by this frame.
func (d *dispatch) run(f *frame, module *sandbox.Module, entry string, input []byte, info *types.ContractInfo) (types.ExecResult, error) {
	if err := d.e.engine.Schedule().ChargeOp(f.meter, gas.OpSandboxInstantiate, uint64(module.CodeLen)); err != nil {
		f.meter.Exhaust()
		return types.OutOfGas(), f.revert()
	}
	if err := f.open(); err != nil {
		return types.ExecResult{}, err
	}

	d.stack = append(d.stack, f.self)
	if f.depth > d.maxDepth {
		d.maxDepth = f.depth
	}
	defer func() { d.stack = d.stack[:len(d.stack)-1] }()

	res, err := d.enter(f, module, entry, input, info)
	if err != nil {
		if rerr := f.revert(); rerr != nil {
			err = errors.Join(err, rerr)
		}
		return types.ExecResult{}, err
	}
	if res.IsSuccess() {
		return res, f.commit()
	}
	return res, f.revert()
}

// enter performs the frame's own work once its scope is open.
func (d *dispatch) enter(f *frame, module *sandbox.Module, entry string, input []byte, info *types.ContractInfo) (types.ExecResult, error) {
	if info != nil {
		if err := f.ov.SetContractInfo(f.self, info); err != nil {
			return types.ExecResult{}, err
		}
	}
	ok, err := transfer(f.ledger, f.caller, f.self, f.value)
	if err != nil {
		return types.ExecResult{}, err
	}
	if !ok {
		return types.Trap(types.TrapBalanceTooLow), nil
	}
	if info == nil {
		paid, err := f.payRent()
		if err != nil {
			return types.ExecResult{}, err
		}
		if !paid {
			return types.Trap(types.TrapRentExhausted), nil
		}
	}
	return d.e.engine.Run(module, f, f.meter, entry, input)
}

func orZero(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return v
}
