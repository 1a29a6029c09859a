package execution

import (
	"encoding/binary"
	"testing"

	"github.com/bytecodealliance/wasmtime-go/v29"
	"github.com/echenim/Bedrock/contracts/internal/codecache"
	"github.com/echenim/Bedrock/contracts/internal/gas"
	"github.com/echenim/Bedrock/contracts/internal/ledger"
	"github.com/echenim/Bedrock/contracts/internal/sandbox"
	"github.com/echenim/Bedrock/contracts/internal/storage"
	"github.com/echenim/Bedrock/contracts/internal/types"
	"github.com/holiman/uint256"
)

// --- Contracts ---

// kvWAT stores its deploy input under "key". A call with empty input
// returns the stored value. Any other input is stored and deposited as an
// event; a leading 0xff byte then traps.
const kvWAT = `(module
  (import "env" "ext_get_storage" (func $get (param i32 i32) (result i32)))
  (import "env" "ext_set_storage" (func $set (param i32 i32 i32 i32)))
  (import "env" "ext_input" (func $input))
  (import "env" "ext_scratch_size" (func $ssize (result i32)))
  (import "env" "ext_scratch_read" (func $sread (param i32 i32 i32)))
  (import "env" "ext_return" (func $ret (param i32 i32)))
  (import "env" "ext_deposit_event" (func $event (param i32 i32 i32 i32)))
  (memory (export "memory") 1)
  (data (i32.const 0) "key")
  (func (export "deploy")
    (local $n i32)
    (call $input)
    (local.set $n (call $ssize))
    (call $sread (i32.const 64) (i32.const 0) (local.get $n))
    (call $set (i32.const 0) (i32.const 3) (i32.const 64) (local.get $n)))
  (func (export "call")
    (local $n i32)
    (call $input)
    (local.set $n (call $ssize))
    (if (i32.eqz (local.get $n))
      (then
        (if (i32.eqz (call $get (i32.const 0) (i32.const 3)))
          (then
            (local.set $n (call $ssize))
            (call $sread (i32.const 64) (i32.const 0) (local.get $n))
            (call $ret (i32.const 64) (local.get $n))))
        (return)))
    (call $sread (i32.const 64) (i32.const 0) (local.get $n))
    (call $set (i32.const 0) (i32.const 3) (i32.const 64) (local.get $n))
    (call $event (i32.const 0) (i32.const 0) (i32.const 64) (local.get $n))
    (if (i32.eq (i32.load8_u (i32.const 64)) (i32.const 255))
      (then unreachable))))`

// proxyWAT forwards a call described by its input:
//
//	[0,32) dest  [32,40) gas, little endian  [40,48) value, big endian
//	[48] trap after the call when non-zero   [49,...) payload
//
// It records the nested return code under "p" and returns the code followed
// by the nested output.
const proxyWAT = `(module
  (import "env" "ext_call" (func $call (param i32 i32 i64 i32 i32 i32 i32) (result i32)))
  (import "env" "ext_set_storage" (func $set (param i32 i32 i32 i32)))
  (import "env" "ext_input" (func $input))
  (import "env" "ext_scratch_size" (func $ssize (result i32)))
  (import "env" "ext_scratch_read" (func $sread (param i32 i32 i32)))
  (import "env" "ext_return" (func $ret (param i32 i32)))
  (memory (export "memory") 1)
  (data (i32.const 1000) "p")
  (func (export "deploy"))
  (func (export "call")
    (local $n i32) (local $m i32)
    (call $input)
    (local.set $n (call $ssize))
    (call $sread (i32.const 0) (i32.const 0) (local.get $n))
    (i32.store8 (i32.const 2000)
      (call $call (i32.const 0) (i32.const 32) (i64.load (i32.const 32))
        (i32.const 40) (i32.const 8)
        (i32.const 49) (i32.sub (local.get $n) (i32.const 49))))
    (call $set (i32.const 1000) (i32.const 1) (i32.const 2000) (i32.const 1))
    (if (i32.load8_u (i32.const 48)) (then unreachable))
    (local.set $m (call $ssize))
    (call $sread (i32.const 2001) (i32.const 0) (local.get $m))
    (call $ret (i32.const 2000) (i32.add (local.get $m) (i32.const 1)))))`

const loopWAT = `(module
  (memory (export "memory") 1)
  (func (export "deploy"))
  (func (export "call") (loop $l (br $l))))`

// terminatorWAT removes itself in favour of the 32-byte address in its input.
const terminatorWAT = `(module
  (import "env" "ext_terminate" (func $term (param i32 i32)))
  (import "env" "ext_input" (func $input))
  (import "env" "ext_scratch_read" (func $sread (param i32 i32 i32)))
  (memory (export "memory") 1)
  (func (export "deploy"))
  (func (export "call")
    (call $input)
    (call $sread (i32.const 0) (i32.const 0) (i32.const 32))
    (call $term (i32.const 0) (i32.const 32))))`

// recursorWAT calls itself with half its remaining gas. A failing nested
// call returns its code; otherwise the nested output is passed up.
const recursorWAT = `(module
  (import "env" "ext_call" (func $call (param i32 i32 i64 i32 i32 i32 i32) (result i32)))
  (import "env" "ext_address" (func $addr))
  (import "env" "ext_gas_left" (func $gas (result i64)))
  (import "env" "ext_scratch_size" (func $ssize (result i32)))
  (import "env" "ext_scratch_read" (func $sread (param i32 i32 i32)))
  (import "env" "ext_return" (func $ret (param i32 i32)))
  (memory (export "memory") 1)
  (func (export "deploy"))
  (func (export "call")
    (local $code i32) (local $m i32)
    (call $addr)
    (call $sread (i32.const 0) (i32.const 0) (i32.const 32))
    (local.set $code
      (call $call (i32.const 0) (i32.const 32) (i64.div_u (call $gas) (i64.const 2))
        (i32.const 0) (i32.const 0) (i32.const 0) (i32.const 0)))
    (if (local.get $code)
      (then
        (i32.store8 (i32.const 100) (local.get $code))
        (call $ret (i32.const 100) (i32.const 1))))
    (local.set $m (call $ssize))
    (call $sread (i32.const 100) (i32.const 0) (local.get $m))
    (call $ret (i32.const 100) (local.get $m))))`

// diverWAT recurses 500 levels natively before calling itself with all but
// 30000 of its gas, forwarding its one-byte input. The frame that first sees
// depth exceeded (code 3) recurses without bound when that byte is set.
const diverWAT = `(module
  (import "env" "ext_call" (func $call (param i32 i32 i64 i32 i32 i32 i32) (result i32)))
  (import "env" "ext_address" (func $addr))
  (import "env" "ext_gas_left" (func $gas (result i64)))
  (import "env" "ext_input" (func $input))
  (import "env" "ext_scratch_size" (func $ssize (result i32)))
  (import "env" "ext_scratch_read" (func $sread (param i32 i32 i32)))
  (import "env" "ext_return" (func $ret (param i32 i32)))
  (memory (export "memory") 1)
  (func $spin (param i32) (result i32)
    (i32.add (call $spin (i32.add (local.get 0) (i32.const 1))) (i32.const 1)))
  (func $nest (result i32)
    (local $g i64)
    (call $addr)
    (call $sread (i32.const 0) (i32.const 0) (i32.const 32))
    (local.set $g (call $gas))
    (if (result i32) (i64.lt_u (local.get $g) (i64.const 30000))
      (then (i32.const 255))
      (else
        (call $call (i32.const 0) (i32.const 32) (i64.sub (local.get $g) (i64.const 30000))
          (i32.const 0) (i32.const 0) (i32.const 32) (i32.const 1)))))
  (func $dive (param $n i32) (result i32)
    (if (result i32) (i32.eqz (local.get $n))
      (then (call $nest))
      (else (i32.add (call $dive (i32.sub (local.get $n) (i32.const 1))) (i32.const 0)))))
  (func (export "deploy"))
  (func (export "call")
    (local $code i32) (local $m i32)
    (call $input)
    (if (call $ssize)
      (then (call $sread (i32.const 32) (i32.const 0) (i32.const 1))))
    (local.set $code (call $dive (i32.const 500)))
    (if (i32.and (i32.eq (local.get $code) (i32.const 3)) (i32.load8_u (i32.const 32)))
      (then (drop (call $spin (i32.const 0)))))
    (if (local.get $code)
      (then
        (i32.store8 (i32.const 100) (local.get $code))
        (call $ret (i32.const 100) (i32.const 1))))
    (local.set $m (call $ssize))
    (call $sread (i32.const 100) (i32.const 0) (local.get $m))
    (call $ret (i32.const 100) (local.get $m))))`

// factoryWAT instantiates the code hash in its input with deploy input "v9"
// and returns the code followed by the new address.
const factoryWAT = `(module
  (import "env" "ext_instantiate" (func $inst (param i32 i32 i64 i32 i32 i32 i32) (result i32)))
  (import "env" "ext_input" (func $input))
  (import "env" "ext_scratch_size" (func $ssize (result i32)))
  (import "env" "ext_scratch_read" (func $sread (param i32 i32 i32)))
  (import "env" "ext_return" (func $ret (param i32 i32)))
  (memory (export "memory") 1)
  (data (i32.const 40) "v9")
  (func (export "deploy"))
  (func (export "call")
    (local $m i32)
    (call $input)
    (call $sread (i32.const 0) (i32.const 0) (i32.const 32))
    (i32.store8 (i32.const 100)
      (call $inst (i32.const 0) (i32.const 32) (i64.const 500000)
        (i32.const 0) (i32.const 0) (i32.const 40) (i32.const 2)))
    (local.set $m (call $ssize))
    (call $sread (i32.const 101) (i32.const 0) (local.get $m))
    (call $ret (i32.const 100) (i32.add (local.get $m) (i32.const 1)))))`

// --- Environment ---

const testGasLimit = 5_000_000

var (
	alice         = testAddr(0xa1)
	bob           = testAddr(0xb0)
	feeCollector  = testAddr(0xc0)
	rentCollector = testAddr(0xe0)
)

func testAddr(b byte) types.Address {
	var a types.Address
	a[0] = b
	a[31] = b
	return a
}

type testEnv struct {
	t      *testing.T
	store  storage.Store
	ledger *ledger.Accounts
	exec   *Executive
	block  types.Block
}

type envOption func(*gas.Schedule, *uint64)

func withSchedule(f func(*gas.Schedule)) envOption {
	return func(s *gas.Schedule, _ *uint64) { f(s) }
}

func withGasPrice(p uint64) envOption {
	return func(_ *gas.Schedule, price *uint64) { *price = p }
}

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()
	sched := gas.DefaultSchedule()
	var price uint64
	for _, o := range opts {
		o(&sched, &price)
	}

	engine, err := sandbox.NewEngine(sched, nil)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	store := storage.NewMemStore()
	cache, err := codecache.New(engine, store, 16, nil, nil)
	if err != nil {
		t.Fatalf("codecache.New: %v", err)
	}
	accounts := ledger.New(store)
	if err := accounts.SetBalance(alice, uint256.NewInt(1_000_000_000_000)); err != nil {
		t.Fatalf("fund alice: %v", err)
	}

	exec, err := New(Deps{
		Engine:        engine,
		Code:          cache,
		State:         store,
		Fees:          ledger.NewGasFees(price, feeCollector),
		RentCollector: rentCollector,
	}, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return &testEnv{
		t:      t,
		store:  store,
		ledger: accounts,
		exec:   exec,
		block:  types.Block{Height: 1, Timestamp: 1_700_000_000},
	}
}

func (e *testEnv) upload(src string) types.Hash {
	e.t.Helper()
	code, err := wasmtime.Wat2Wasm(src)
	if err != nil {
		e.t.Fatalf("wat2wasm: %v", err)
	}
	h, err := e.exec.UploadCode(code)
	if err != nil {
		e.t.Fatalf("UploadCode: %v", err)
	}
	return h
}

func (e *testEnv) deploy(src string, endowment uint64, input []byte) types.Address {
	e.t.Helper()
	out, err := e.exec.Instantiate(e.block, InstantiateRequest{
		Origin:    alice,
		CodeHash:  e.upload(src),
		Endowment: uint256.NewInt(endowment),
		GasLimit:  testGasLimit,
		Data:      input,
	})
	if err != nil {
		e.t.Fatalf("Instantiate: %v", err)
	}
	if !out.Result.IsSuccess() {
		e.t.Fatalf("Instantiate: %s", out.Result)
	}
	return out.Address
}

func (e *testEnv) call(dest types.Address, value uint64, input []byte) *Outcome {
	e.t.Helper()
	out, err := e.exec.Call(e.block, CallRequest{
		Origin:   alice,
		Dest:     dest,
		Value:    uint256.NewInt(value),
		GasLimit: testGasLimit,
		Data:     input,
	})
	if err != nil {
		e.t.Fatalf("Call: %v", err)
	}
	if out.GasUsed > testGasLimit {
		e.t.Fatalf("gas used %d exceeds limit", out.GasUsed)
	}
	return out
}

func (e *testEnv) storageOf(addr types.Address, key string) string {
	e.t.Helper()
	v, err := e.exec.GetStorage(addr, []byte(key))
	if err != nil {
		e.t.Fatalf("GetStorage: %v", err)
	}
	return string(v)
}

func (e *testEnv) balance(addr types.Address) uint64 {
	e.t.Helper()
	b, err := e.exec.BalanceOf(addr)
	if err != nil {
		e.t.Fatalf("BalanceOf: %v", err)
	}
	return b.Uint64()
}

func (e *testEnv) digest() types.Hash {
	e.t.Helper()
	d, err := e.store.Digest()
	if err != nil {
		e.t.Fatalf("Digest: %v", err)
	}
	return d
}

func proxyInput(dest types.Address, gasLimit, value uint64, trap bool, payload []byte) []byte {
	b := make([]byte, 49, 49+len(payload))
	copy(b, dest[:])
	binary.LittleEndian.PutUint64(b[32:], gasLimit)
	binary.BigEndian.PutUint64(b[40:], value)
	if trap {
		b[48] = 1
	}
	return append(b, payload...)
}
