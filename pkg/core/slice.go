package core

import (
	"time"

	"github.com/nikolaydubina/fpdecimal"
)

// Slice is the active visible portion of an iceberg order. It is the
// unit actually registered with the matching engine; its message ID is
// the book entry ID. Side and price are inherited from the parent and
// never change for the slice's life.
type Slice struct {
	messageID string
	parentID  string
	side      Side
	price     fpdecimal.Decimal
	size      int64
	filled    int64
	state     State
	lastSeq   uint64
	updatedAt time.Time
}

// NewSlice creates the next slice for an iceberg parent, sized
// min(sliceSize, open quantity) by the caller.
func NewSlice(messageID string, parent *Order, size int64) (*Slice, error) {
	if parent.Kind() != KindIceberg {
		return nil, ErrInvalidOrder
	}
	if size <= 0 || size > parent.Open() {
		return nil, ErrInvalidSliceSize
	}
	return &Slice{
		messageID: messageID,
		parentID:  parent.ID(),
		side:      parent.Side(),
		price:     parent.Price(),
		size:      size,
		state:     StateCreated,
		updatedAt: time.Now(),
	}, nil
}

// MessageID returns the outbound protocol message ID for the slice
func (s *Slice) MessageID() string { return s.messageID }

// ParentID returns the owning iceberg order ID
func (s *Slice) ParentID() string { return s.parentID }

// Side returns the inherited side
func (s *Slice) Side() Side { return s.side }

// Price returns the inherited limit price
func (s *Slice) Price() fpdecimal.Decimal { return s.price }

// Size returns the slice quantity
func (s *Slice) Size() int64 { return s.size }

// Filled returns the filled quantity of this slice
func (s *Slice) Filled() int64 { return s.filled }

// Open returns the unfilled slice quantity
func (s *Slice) Open() int64 { return s.size - s.filled }

// State returns the current slice state
func (s *Slice) State() State { return s.state }

// UpdatedAt returns the time of the last slice mutation
func (s *Slice) UpdatedAt() time.Time { return s.updatedAt }

func (s *Slice) transition(next State) error {
	if !s.state.CanTransition(next) {
		return ErrInvalidState
	}
	s.state = next
	s.updatedAt = time.Now()
	return nil
}

// MarkSent records submission to the matching engine.
func (s *Slice) MarkSent() error { return s.transition(StateSent) }

// Acknowledge records engine registration.
func (s *Slice) Acknowledge() error { return s.transition(StateAcknowledged) }

// Cancel terminates the slice; idempotent like Order.Cancel.
func (s *Slice) Cancel() (bool, error) {
	if s.state.IsTerminal() {
		return false, nil
	}
	if err := s.transition(StateCancelled); err != nil {
		return false, err
	}
	return true, nil
}

// Resize shrinks the open quantity of an active slice in place, used
// when a parent revision reduces total quantity below what the slice
// still exposes. Growing a slice is not supported.
func (s *Slice) Resize(newSize int64) error {
	if s.state.IsTerminal() {
		return ErrInvalidState
	}
	if newSize < s.filled || newSize > s.size {
		return ErrInvalidSliceSize
	}
	s.size = newSize
	s.updatedAt = time.Now()
	if s.Open() == 0 {
		return s.transition(StateFilled)
	}
	return nil
}

// ApplyFill mirrors Order.ApplyFill for the slice, with the same
// ascending-sequence idempotence rule.
func (s *Slice) ApplyFill(f Fill) (bool, error) {
	if f.Seq <= s.lastSeq {
		return false, nil
	}
	if s.state.IsTerminal() {
		return false, ErrInvalidState
	}
	if f.Quantity <= 0 || f.Quantity > s.Open() {
		return false, ErrInvalidQuantity
	}

	s.filled += f.Quantity
	s.lastSeq = f.Seq
	if s.Open() == 0 {
		return true, s.transition(StateFilled)
	}
	return true, s.transition(StatePartiallyFilled)
}
