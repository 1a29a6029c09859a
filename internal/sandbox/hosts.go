package sandbox

import (
	"github.com/bytecodealliance/wasmtime-go/v29"
	"github.com/echenim/Bedrock/contracts/internal/gas"
	"github.com/echenim/Bedrock/contracts/internal/types"
)

// define registers the implementation of fn with the linker. Each body
// charges its cost before doing any work.
func (f *frame) define(l *wasmtime.Linker, fn HostFunc) error {
	name := hostTable[fn].name

	switch fn {
	case FnGetStorage:
		return l.FuncWrap(HostModule, name, func(c *wasmtime.Caller, kp, kl int32) (int32, *wasmtime.Trap) {
			code := StorageAbsent
			t := f.host(func() *wasmtime.Trap {
				if uint32(kl) > f.sched.MaxKeySize {
					return f.trap(types.TrapInvalidArgument)
				}
				if t := f.charge(gas.OpGetStorage, uint64(uint32(kl))); t != nil {
					return t
				}
				key, t := f.read(c, kp, kl)
				if t != nil {
					return t
				}
				v, err := f.ext.GetStorage(key)
				if err != nil {
					return f.fail(err)
				}
				f.setScratch(v)
				if v != nil {
					code = StorageFound
				}
				return nil
			})
			return code, t
		})

	case FnSetStorage:
		return l.FuncWrap(HostModule, name, func(c *wasmtime.Caller, kp, kl, vp, vl int32) *wasmtime.Trap {
			return f.host(func() *wasmtime.Trap {
				if uint32(kl) > f.sched.MaxKeySize {
					return f.trap(types.TrapInvalidArgument)
				}
				// Size limits are checked before any gas is spent on the write.
				if uint32(vl) > f.sched.MaxValueSize {
					return f.trap(types.TrapStorageValueTooLarge)
				}
				if t := f.charge(gas.OpSetStorage, uint64(uint32(kl))+uint64(uint32(vl))); t != nil {
					return t
				}
				key, t := f.read(c, kp, kl)
				if t != nil {
					return t
				}
				value, t := f.read(c, vp, vl)
				if t != nil {
					return t
				}
				if err := f.ext.SetStorage(key, value); err != nil {
					return f.fail(err)
				}
				return nil
			})
		})

	case FnClearStorage:
		return l.FuncWrap(HostModule, name, func(c *wasmtime.Caller, kp, kl int32) *wasmtime.Trap {
			return f.host(func() *wasmtime.Trap {
				if t := f.charge(gas.OpRemoveStorage, 0); t != nil {
					return t
				}
				key, t := f.readKey(c, kp, kl)
				if t != nil {
					return t
				}
				if err := f.ext.SetStorage(key, nil); err != nil {
					return f.fail(err)
				}
				return nil
			})
		})

	case FnCall:
		return l.FuncWrap(HostModule, name, func(c *wasmtime.Caller, dp, dl int32, g int64, vp, vl, ip, il int32) (int32, *wasmtime.Trap) {
			var code int32
			t := f.host(func() *wasmtime.Trap {
				if t := f.charge(gas.OpCall, 0); t != nil {
					return t
				}
				dest, t := f.readAddress(c, dp, dl)
				if t != nil {
					return t
				}
				value, t := f.readValue(c, vp, vl)
				if t != nil {
					return t
				}
				input, t := f.readInput(c, ip, il)
				if t != nil {
					return t
				}
				res, err := f.ext.Call(dest, uint64(g), value, input)
				if err != nil {
					return f.fail(err)
				}
				f.setScratch(res.Data)
				code = callCode(res)
				return nil
			})
			return code, t
		})

	case FnInstantiate:
		return l.FuncWrap(HostModule, name, func(c *wasmtime.Caller, hp, hl int32, g int64, vp, vl, ip, il int32) (int32, *wasmtime.Trap) {
			var code int32
			t := f.host(func() *wasmtime.Trap {
				if t := f.charge(gas.OpInstantiate, 0); t != nil {
					return t
				}
				codeHash, t := f.readHash(c, hp, hl)
				if t != nil {
					return t
				}
				value, t := f.readValue(c, vp, vl)
				if t != nil {
					return t
				}
				input, t := f.readInput(c, ip, il)
				if t != nil {
					return t
				}
				addr, res, err := f.ext.Instantiate(codeHash, uint64(g), value, input)
				if err != nil {
					return f.fail(err)
				}
				if res.IsSuccess() {
					f.setScratch(append(addr.Bytes(), res.Data...))
				} else {
					f.setScratch(nil)
				}
				code = callCode(res)
				return nil
			})
			return code, t
		})

	case FnTransfer:
		return l.FuncWrap(HostModule, name, func(c *wasmtime.Caller, dp, dl, vp, vl int32) (int32, *wasmtime.Trap) {
			var code int32
			t := f.host(func() *wasmtime.Trap {
				if t := f.charge(gas.OpTransfer, 0); t != nil {
					return t
				}
				dest, t := f.readAddress(c, dp, dl)
				if t != nil {
					return t
				}
				value, t := f.readValue(c, vp, vl)
				if t != nil {
					return t
				}
				ok, err := f.ext.Transfer(dest, value)
				if err != nil {
					return f.fail(err)
				}
				if !ok {
					code = 1
				}
				return nil
			})
			return code, t
		})

	case FnReturn:
		return l.FuncWrap(HostModule, name, func(c *wasmtime.Caller, p, n int32) *wasmtime.Trap {
			return f.host(func() *wasmtime.Trap {
				if t := f.charge(gas.OpReturn, uint64(uint32(n))); t != nil {
					return t
				}
				data, t := f.read(c, p, n)
				if t != nil {
					return t
				}
				f.returned = true
				f.output = data
				return halt()
			})
		})

	case FnTerminate:
		return l.FuncWrap(HostModule, name, func(c *wasmtime.Caller, bp, bl int32) *wasmtime.Trap {
			return f.host(func() *wasmtime.Trap {
				if t := f.charge(gas.OpTerminate, 0); t != nil {
					return t
				}
				beneficiary, t := f.readAddress(c, bp, bl)
				if t != nil {
					return t
				}
				reason, err := f.ext.Terminate(beneficiary)
				if err != nil {
					return f.fail(err)
				}
				if reason != types.TrapNone {
					return f.trap(reason)
				}
				f.terminated = true
				return halt()
			})
		})

	case FnGasLeft:
		return l.FuncWrap(HostModule, name, func() (int64, *wasmtime.Trap) {
			var left int64
			t := f.host(func() *wasmtime.Trap {
				if t := f.charge(gas.OpGasLeft, 0); t != nil {
					return t
				}
				left = int64(f.meter.Remaining())
				return nil
			})
			return left, t
		})

	case FnCaller, FnAddress, FnValueTransferred, FnInput, FnBalance, FnRentAllowance:
		return l.FuncWrap(HostModule, name, func() *wasmtime.Trap {
			return f.host(func() *wasmtime.Trap { return f.contextToScratch(fn) })
		})

	case FnBlockNumber, FnNow:
		return l.FuncWrap(HostModule, name, func() (int64, *wasmtime.Trap) {
			var v int64
			t := f.host(func() *wasmtime.Trap {
				if t := f.charge(hostTable[fn].op, 0); t != nil {
					return t
				}
				if fn == FnBlockNumber {
					v = int64(f.ext.BlockNumber())
				} else {
					v = int64(f.ext.Now())
				}
				return nil
			})
			return v, t
		})

	case FnScratchSize:
		return l.FuncWrap(HostModule, name, func() (int32, *wasmtime.Trap) {
			var size int32
			t := f.host(func() *wasmtime.Trap {
				if t := f.charge(gas.OpScratchSize, 0); t != nil {
					return t
				}
				size = int32(len(f.scratch))
				return nil
			})
			return size, t
		})

	case FnScratchRead:
		return l.FuncWrap(HostModule, name, func(c *wasmtime.Caller, dest, off, n int32) *wasmtime.Trap {
			return f.host(func() *wasmtime.Trap {
				if t := f.charge(gas.OpScratchRead, uint64(uint32(n))); t != nil {
					return t
				}
				start, size := uint64(uint32(off)), uint64(uint32(n))
				if start+size > uint64(len(f.scratch)) {
					return f.trap(types.TrapInvalidArgument)
				}
				return f.write(c, dest, f.scratch[start:start+size])
			})
		})

	case FnDepositEvent:
		return l.FuncWrap(HostModule, name, func(c *wasmtime.Caller, tp, tl, dp, dl int32) *wasmtime.Trap {
			return f.host(func() *wasmtime.Trap {
				topicBytes := uint32(tl)
				if topicBytes%types.HashSize != 0 || topicBytes/types.HashSize > f.sched.MaxEventTopics {
					return f.trap(types.TrapInvalidArgument)
				}
				if uint32(dl) > f.sched.MaxEventDataSize {
					return f.trap(types.TrapInvalidArgument)
				}
				count := uint64(topicBytes / types.HashSize)
				if t := f.charge(gas.OpDepositEvent, uint64(uint32(dl))); t != nil {
					return t
				}
				for i := uint64(0); i < count; i++ {
					if t := f.charge(gas.OpEventTopic, 0); t != nil {
						return t
					}
				}
				raw, t := f.read(c, tp, tl)
				if t != nil {
					return t
				}
				data, t := f.read(c, dp, dl)
				if t != nil {
					return t
				}
				topics := make([]types.Hash, count)
				for i := range topics {
					copy(topics[i][:], raw[i*types.HashSize:])
				}
				if err := f.ext.DepositEvent(topics, data); err != nil {
					return f.fail(err)
				}
				return nil
			})
		})

	case FnSetRentAllowance:
		return l.FuncWrap(HostModule, name, func(c *wasmtime.Caller, vp, vl int32) *wasmtime.Trap {
			return f.host(func() *wasmtime.Trap {
				if t := f.charge(gas.OpSetRentAllowance, 0); t != nil {
					return t
				}
				v, t := f.readValue(c, vp, vl)
				if t != nil {
					return t
				}
				if err := f.ext.SetRentAllowance(v); err != nil {
					return f.fail(err)
				}
				return nil
			})
		})
	}
	return nil
}

// contextToScratch serves the read-only context functions that place their
// result in the scratch buffer.
func (f *frame) contextToScratch(fn HostFunc) *wasmtime.Trap {
	n := uint64(0)
	if fn == FnInput {
		n = uint64(len(f.input))
	}
	if t := f.charge(hostTable[fn].op, n); t != nil {
		return t
	}
	switch fn {
	case FnCaller:
		f.setScratch(f.ext.Caller().Bytes())
	case FnAddress:
		f.setScratch(f.ext.Address().Bytes())
	case FnValueTransferred:
		f.setScratch(types.EncodeBalance(f.ext.ValueTransferred()))
	case FnInput:
		f.setScratch(append([]byte(nil), f.input...))
	case FnBalance:
		bal, err := f.ext.Balance()
		if err != nil {
			return f.fail(err)
		}
		f.setScratch(types.EncodeBalance(bal))
	case FnRentAllowance:
		v, err := f.ext.RentAllowance()
		if err != nil {
			return f.fail(err)
		}
		f.setScratch(types.EncodeBalance(v))
	}
	return nil
}
