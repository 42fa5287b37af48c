package core

import (
	"errors"
	"testing"

	"github.com/nikolaydubina/fpdecimal"
)

func newIcebergParent(t *testing.T) *Order {
	t.Helper()
	o, err := NewLimitOrder("berg-1", "client-1", "SIM", Buy, KindIceberg, 100, fpdecimal.FromInt(10), 10)
	if err != nil {
		t.Fatalf("NewLimitOrder: %v", err)
	}
	return o
}

func TestNewSlice(t *testing.T) {
	parent := newIcebergParent(t)

	s, err := NewSlice("msg-1", parent, 10)
	if err != nil {
		t.Fatalf("NewSlice: %v", err)
	}
	if s.ParentID() != parent.ID() {
		t.Errorf("parentID = %s", s.ParentID())
	}
	if s.Side() != parent.Side() || !s.Price().Equal(parent.Price()) {
		t.Error("slice did not inherit side/price")
	}

	if _, err := NewSlice("msg-2", parent, 0); !errors.Is(err, ErrInvalidSliceSize) {
		t.Errorf("zero size slice error = %v", err)
	}
	if _, err := NewSlice("msg-3", parent, 101); !errors.Is(err, ErrInvalidSliceSize) {
		t.Errorf("oversized slice error = %v", err)
	}

	simple := newTestOrder(t, 100)
	if _, err := NewSlice("msg-4", simple, 10); !errors.Is(err, ErrInvalidOrder) {
		t.Errorf("slice of simple order error = %v", err)
	}
}

func TestSliceFillLifecycle(t *testing.T) {
	parent := newIcebergParent(t)
	s, err := NewSlice("msg-1", parent, 10)
	if err != nil {
		t.Fatalf("NewSlice: %v", err)
	}
	if err := s.MarkSent(); err != nil {
		t.Fatalf("MarkSent: %v", err)
	}
	if err := s.Acknowledge(); err != nil {
		t.Fatalf("Acknowledge: %v", err)
	}

	applied, err := s.ApplyFill(Fill{EntryID: "msg-1", Quantity: 4, Price: fpdecimal.FromInt(10), Seq: 1})
	if err != nil || !applied {
		t.Fatalf("ApplyFill: applied=%v err=%v", applied, err)
	}
	if s.State() != StatePartiallyFilled || s.Open() != 6 {
		t.Errorf("state=%v open=%d", s.State(), s.Open())
	}

	// Duplicate sequence is dropped.
	applied, err = s.ApplyFill(Fill{EntryID: "msg-1", Quantity: 4, Price: fpdecimal.FromInt(10), Seq: 1})
	if err != nil || applied {
		t.Errorf("replay: applied=%v err=%v", applied, err)
	}

	applied, err = s.ApplyFill(Fill{EntryID: "msg-1", Quantity: 6, Price: fpdecimal.FromInt(10), Seq: 2})
	if err != nil || !applied {
		t.Fatalf("final ApplyFill: applied=%v err=%v", applied, err)
	}
	if s.State() != StateFilled {
		t.Errorf("state = %v, want Filled", s.State())
	}
}

func TestSliceResize(t *testing.T) {
	parent := newIcebergParent(t)
	s, _ := NewSlice("msg-1", parent, 10)
	_ = s.MarkSent()
	_ = s.Acknowledge()
	if _, err := s.ApplyFill(Fill{Quantity: 3, Price: fpdecimal.FromInt(10), Seq: 1}); err != nil {
		t.Fatalf("ApplyFill: %v", err)
	}

	if err := s.Resize(2); !errors.Is(err, ErrInvalidSliceSize) {
		t.Errorf("resize below filled error = %v", err)
	}
	if err := s.Resize(5); err != nil {
		t.Fatalf("Resize(5): %v", err)
	}
	if s.Open() != 2 {
		t.Errorf("open = %d, want 2", s.Open())
	}

	// Shrinking to exactly the filled quantity completes the slice.
	if err := s.Resize(3); err != nil {
		t.Fatalf("Resize(3): %v", err)
	}
	if s.State() != StateFilled {
		t.Errorf("state = %v, want Filled", s.State())
	}
}

func TestSliceCancelIdempotent(t *testing.T) {
	parent := newIcebergParent(t)
	s, _ := NewSlice("msg-1", parent, 10)
	_ = s.MarkSent()
	_ = s.Acknowledge()

	changed, err := s.Cancel()
	if err != nil || !changed {
		t.Fatalf("Cancel: changed=%v err=%v", changed, err)
	}
	changed, err = s.Cancel()
	if err != nil || changed {
		t.Errorf("second Cancel: changed=%v err=%v", changed, err)
	}
}
