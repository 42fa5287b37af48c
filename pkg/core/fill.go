package core

import (
	"encoding/json"

	"github.com/nikolaydubina/fpdecimal"
)

// Role represents maker or taker role
type Role string

// Fill roles
const (
	MAKER Role = "MAKER"
	TAKER Role = "TAKER"
)

// Fill is a single execution event against one book entry. Sequence
// numbers are strictly increasing per engine instance and are the
// ordering and de-duplication key for fill application.
type Fill struct {
	EntryID  string
	Quantity int64
	Price    fpdecimal.Decimal
	Seq      uint64
	Role     Role
}

// MarshalJSON implements json.Marshaler
func (f Fill) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		EntryID  string `json:"entry_id"`
		Quantity int64  `json:"quantity"`
		Price    string `json:"price"`
		Seq      uint64 `json:"sequence_number"`
		Role     Role   `json:"role"`
	}{
		EntryID:  f.EntryID,
		Quantity: f.Quantity,
		Price:    f.Price.String(),
		Seq:      f.Seq,
		Role:     f.Role,
	})
}

// Execution is the result of registering one entry with the engine.
type Execution struct {
	// EntryID is the incoming entry the execution belongs to
	EntryID string
	// Fills executed, taker and maker records interleaved in match order
	Fills []Fill
	// Remaining open quantity of the incoming entry after matching
	Remaining int64
	// Rested reports whether the remainder was stored in the book
	Rested bool
	// RemainderRejected reports a market-order remainder dropped for
	// lack of liquidity under the reject policy
	RemainderRejected bool
}

func newExecution(entryID string) *Execution {
	return &Execution{
		EntryID: entryID,
		Fills:   make([]Fill, 0),
	}
}

func (e *Execution) appendFill(entryID string, quantity int64, price fpdecimal.Decimal, seq uint64, role Role) {
	e.Fills = append(e.Fills, Fill{
		EntryID:  entryID,
		Quantity: quantity,
		Price:    price,
		Seq:      seq,
		Role:     role,
	})
}

// Processed returns the total quantity executed for the incoming entry.
func (e *Execution) Processed() int64 {
	var total int64
	for _, f := range e.Fills {
		if f.EntryID == e.EntryID {
			total += f.Quantity
		}
	}
	return total
}

// FillsFor returns the fills belonging to one entry, in match order.
func (e *Execution) FillsFor(entryID string) []Fill {
	fills := make([]Fill, 0)
	for _, f := range e.Fills {
		if f.EntryID == entryID {
			fills = append(fills, f)
		}
	}
	return fills
}
