package exchange

import (
	"context"

	"github.com/google/uuid"
	"github.com/nikolaydubina/fpdecimal"

	"github.com/openexch/simex/pkg/core"
	"github.com/openexch/simex/pkg/logging"
)

// openSlice creates the next slice of an iceberg parent, sized
// min(slice_size, open quantity), and registers its routing. The
// returned entry is ready for engine submission. One active slice per
// parent at a time.
func (e *Exchange) openSlice(b *instrumentBook, parent *core.Order) (*core.BookEntry, error) {
	size := parent.SliceSize()
	if open := parent.Open(); open < size {
		size = open
	}

	slice, err := core.NewSlice(uuid.NewString(), parent, size)
	if err != nil {
		return nil, err
	}
	slice.MarkSent()
	slice.Acknowledge()

	entry, err := core.NewLimitEntry(slice.MessageID(), slice.Side(), slice.Open(), slice.Price())
	if err != nil {
		return nil, err
	}

	b.owner[slice.MessageID()] = parent.ID()
	b.slices[slice.MessageID()] = slice
	b.active[parent.ID()] = slice.MessageID()
	return entry, nil
}

// rolloverSlice submits the next slice after the previous one filled.
// Its matching result feeds back into the caller's work queue.
func (e *Exchange) rolloverSlice(ctx context.Context, b *instrumentBook, parent *core.Order) *core.Execution {
	logger := logging.FromContext(ctx).With().Str("order_id", parent.ID()).Logger()

	entry, err := e.openSlice(b, parent)
	if err != nil {
		logger.Error().Err(err).Msg("Slice rollover failed")
		return nil
	}
	exec, err := b.engine.Submit(entry)
	if err != nil {
		logger.Error().Err(err).Str("entry_id", entry.ID()).Msg("Slice submission failed")
		e.clearEntry(b, entry.ID())
		return nil
	}
	logger.Debug().
		Str("entry_id", entry.ID()).
		Int64("size", entry.Remaining()+exec.Processed()).
		Msg("Rolled over to next slice")
	return exec
}

// reviseIceberg applies a revision to an iceberg parent through its
// active slice. Quantity decreases shrink the active slice in place
// when the parent's open quantity drops below the slice's exposure,
// keeping time priority. A price change replaces the active slice
// with a fresh one at the new price, losing priority. A slice size
// change affects only future slices.
func (e *Exchange) reviseIceberg(ctx context.Context, b *instrumentBook, order *core.Order, old core.State, newQuantity int64, newPrice fpdecimal.Decimal, newSliceSize int64) error {
	entryID, hasSlice := b.active[order.ID()]
	if !hasSlice {
		return core.ErrInvalidState
	}
	slice := b.slices[entryID]

	priceChanged := !newPrice.Equal(fpdecimal.Zero) && !newPrice.Equal(order.Price())
	if priceChanged {
		if err := order.RevisePrice(newPrice); err != nil {
			return err
		}
	}
	if err := order.CompleteRevision(newQuantity, newSliceSize); err != nil {
		return err
	}

	if order.State() == core.StateFilled || order.Open() == 0 {
		// Revised down to the filled quantity; nothing left to expose.
		slice.Cancel()
		b.engine.Cancel(entryID)
		e.clearEntry(b, entryID)
		e.emitStateChanged(order, old)
		e.finalize(ctx, b, order)
		return nil
	}

	if priceChanged {
		slice.Cancel()
		b.engine.Cancel(entryID)
		e.clearEntry(b, entryID)

		entry, err := e.openSlice(b, order)
		if err != nil {
			return err
		}
		exec, err := b.engine.Submit(entry)
		if err != nil {
			e.clearEntry(b, entry.ID())
			return err
		}
		e.applyExecution(ctx, b, exec)
		return nil
	}

	// Shrink the active slice if the parent no longer covers it.
	if slice.Open() > order.Open() {
		newOpen := order.Open()
		if err := slice.Resize(slice.Filled() + newOpen); err != nil {
			return err
		}
		if _, err := b.engine.Revise(entryID, newOpen, fpdecimal.Zero); err != nil {
			return err
		}
	}
	return nil
}
