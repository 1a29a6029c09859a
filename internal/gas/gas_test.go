package gas

import (
	"errors"
	"math"
	"testing"
)

// --- Meter ---

func TestChargeWithinBudget(t *testing.T) {
	m := NewMeter(100)
	if err := m.Charge(40); err != nil {
		t.Fatalf("Charge: %v", err)
	}
	if m.Remaining() != 60 || m.Used() != 40 {
		t.Fatalf("remaining=%d used=%d", m.Remaining(), m.Used())
	}
}

func TestChargeRejectsWithoutPartialDeduction(t *testing.T) {
	m := NewMeter(100)
	_ = m.Charge(90)
	err := m.Charge(11)
	if !errors.Is(err, ErrOutOfGas) {
		t.Fatalf("expected ErrOutOfGas, got %v", err)
	}
	if m.Used() != 90 {
		t.Fatalf("partial deduction happened: used=%d", m.Used())
	}
	if !m.OutOfGas() {
		t.Fatal("meter should be in out-of-gas state")
	}
	if err := m.Charge(1); !errors.Is(err, ErrOutOfGas) {
		t.Fatal("out-of-gas state should be terminal")
	}
}

func TestChargeExactRemaining(t *testing.T) {
	m := NewMeter(10)
	if err := m.Charge(10); err != nil {
		t.Fatalf("charging exactly the remainder should succeed: %v", err)
	}
	if m.Remaining() != 0 {
		t.Fatalf("remaining=%d", m.Remaining())
	}
}

func TestSplitReservesImmediately(t *testing.T) {
	parent := NewMeter(1_000_000)
	child, err := parent.Split(10_000)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if parent.Remaining() != 990_000 {
		t.Fatalf("parent remaining=%d, want 990000", parent.Remaining())
	}
	if child.Limit() != 10_000 {
		t.Fatalf("child limit=%d", child.Limit())
	}
}

func TestSplitFailsWhenForwardedExceedsRemaining(t *testing.T) {
	parent := NewMeter(100)
	if _, err := parent.Split(101); !errors.Is(err, ErrOutOfGas) {
		t.Fatalf("expected ErrOutOfGas, got %v", err)
	}
	if parent.Remaining() != 100 {
		t.Fatal("failed split must not reserve")
	}
}

func TestRefundAfterChildExhausted(t *testing.T) {
	parent := NewMeter(1_000_000)
	child, _ := parent.Split(10_000)

	// The child spends its whole allowance and ends out of gas.
	_ = child.Charge(9_999)
	_ = child.Charge(2)
	child.Exhaust()

	if err := parent.Refund(child); err != nil {
		t.Fatalf("Refund: %v", err)
	}
	if parent.Remaining() != 990_000 {
		t.Fatalf("parent remaining=%d, want 990000 (refund 0)", parent.Remaining())
	}
}

func TestRefundReturnsUnused(t *testing.T) {
	parent := NewMeter(1_000)
	child, _ := parent.Split(400)
	_ = child.Charge(150)

	_ = parent.Refund(child)
	if parent.Remaining() != 850 {
		t.Fatalf("parent remaining=%d, want 850", parent.Remaining())
	}

	// A second refund must not credit again.
	_ = parent.Refund(child)
	if parent.Remaining() != 850 {
		t.Fatalf("double refund: remaining=%d", parent.Remaining())
	}
}

func TestRefundRejectsForeignChild(t *testing.T) {
	a := NewMeter(100)
	b := NewMeter(100)
	child, _ := a.Split(10)
	if err := b.Refund(child); err == nil {
		t.Fatal("expected error refunding to a non-parent")
	}
}

// --- Schedule ---

func TestDefaultScheduleValid(t *testing.T) {
	s := DefaultSchedule()
	if err := s.Validate(); err != nil {
		t.Fatalf("default schedule invalid: %v", err)
	}
}

func TestScheduleValidateRejectsZeroInstructionCost(t *testing.T) {
	s := DefaultSchedule()
	s.InstructionCost = 0
	if err := s.Validate(); err == nil {
		t.Fatal("expected error for zero instruction cost")
	}
}

func TestScheduleValidateBoundsNestedStacks(t *testing.T) {
	s := DefaultSchedule()
	s.MaxWasmStack = 0
	if err := s.Validate(); err == nil {
		t.Fatal("expected error for zero max_wasm_stack")
	}

	s = DefaultSchedule()
	s.MaxWasmStack = HostStackBudget / (uint64(s.MaxDepth) + 1)
	if err := s.Validate(); err != nil {
		t.Fatalf("stack filling the budget exactly should pass: %v", err)
	}

	s.MaxWasmStack++
	if err := s.Validate(); err == nil {
		t.Fatal("expected error when nested stacks exceed the host budget")
	}

	s = DefaultSchedule()
	s.MaxDepth = 1 << 31
	s.MaxWasmStack = 1 << 40
	if err := s.Validate(); err == nil {
		t.Fatal("expected error when depth times stack overflows")
	}
}

func TestCostPerByte(t *testing.T) {
	s := DefaultSchedule()
	got, err := s.Cost(OpSetStorage, 32)
	if err != nil {
		t.Fatalf("Cost: %v", err)
	}
	want := s.SetStorageBaseCost + 32*s.SetStorageByteCost
	if got != want {
		t.Fatalf("cost=%d, want %d", got, want)
	}
}

func TestCostOverflow(t *testing.T) {
	s := DefaultSchedule()
	s.SetStorageByteCost = 2
	if _, err := s.Cost(OpSetStorage, math.MaxUint64); !errors.Is(err, ErrOutOfGas) {
		t.Fatalf("expected overflow error, got %v", err)
	}
}

func TestEveryOperationPriced(t *testing.T) {
	s := DefaultSchedule()
	for op := OperationKind(0); op < numOperations; op++ {
		if _, err := s.Cost(op, 1); err != nil {
			t.Errorf("%s: %v", op, err)
		}
	}
	if _, err := s.Cost(numOperations, 0); err == nil {
		t.Fatal("unknown operation should be rejected")
	}
}

func TestChargeOpMarksExhaustedOnOverflow(t *testing.T) {
	s := DefaultSchedule()
	m := NewMeter(1 << 40)
	if err := s.ChargeOp(m, OpSetStorage, math.MaxUint64); err == nil {
		t.Fatal("expected error")
	}
	if !m.OutOfGas() {
		t.Fatal("meter should be exhausted after overflowing charge")
	}
}
