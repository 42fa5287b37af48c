package main

import (
	"context"
	"fmt"

	"github.com/nikolaydubina/fpdecimal"

	"github.com/openexch/simex/pkg/core"
	"github.com/openexch/simex/pkg/exchange"
)

// printer logs every fill and state change pushed by the exchange.
type printer struct{}

func (printer) OnFill(ev exchange.FillEvent) error {
	fmt.Printf("  -> fill: order=%s qty=%d price=%s role=%s state=%s\n",
		ev.OrderID, ev.Quantity, ev.Price.String(), ev.Role, ev.State)
	return nil
}

func (printer) OnStateChanged(ev exchange.StateChangedEvent) error {
	fmt.Printf("  -> state: order=%s %s -> %s\n", ev.OrderID, ev.OldState, ev.NewState)
	return nil
}

func main() {
	ctx := context.Background()

	ex := exchange.NewExchange(exchange.Options{})
	defer ex.Close()

	unsubscribe := ex.Subscribe("whale", printer{})
	defer unsubscribe()

	fmt.Println("STEP 1: Resting an iceberg buy, 100 total with 30 visible")
	fmt.Println("---------------------------------------------------------")
	parent, err := ex.CreateOrder(ctx, exchange.CreateRequest{
		ClientID:   "whale",
		Instrument: "AAPL",
		Side:       core.Buy,
		Kind:       core.KindIceberg,
		Quantity:   100,
		Price:      fpdecimal.FromFloat(10.0),
		SliceSize:  30,
	})
	if err != nil {
		panic(err)
	}
	printDepth(ex)

	fmt.Println("\nSTEP 2: A sell for 30 consumes the visible slice")
	fmt.Println("------------------------------------------------")
	if _, err := sellAt(ctx, ex, 30); err != nil {
		panic(err)
	}
	printParent(ctx, ex, parent.OrderID)
	printDepth(ex)

	fmt.Println("\nSTEP 3: A sell for 50 eats the next slice and part of the one after")
	fmt.Println("-------------------------------------------------------------------")
	if _, err := sellAt(ctx, ex, 50); err != nil {
		panic(err)
	}
	printParent(ctx, ex, parent.OrderID)
	printDepth(ex)

	fmt.Println("\nSTEP 4: Revising the remainder down keeps its place in the queue")
	fmt.Println("----------------------------------------------------------------")
	revised, err := ex.ReviseOrder(ctx, parent.OrderID, 90, fpdecimal.Zero, 0)
	if err != nil {
		panic(err)
	}
	fmt.Printf("revised: quantity=%d filled=%d state=%s\n", revised.Quantity, revised.Filled, revised.State)
	printDepth(ex)

	fmt.Println("\nSTEP 5: A final sell completes the parent")
	fmt.Println("-----------------------------------------")
	if _, err := sellAt(ctx, ex, 10); err != nil {
		panic(err)
	}
	printParent(ctx, ex, parent.OrderID)
	printDepth(ex)
}

func sellAt(ctx context.Context, ex *exchange.Exchange, quantity int64) (core.View, error) {
	return ex.CreateOrder(ctx, exchange.CreateRequest{
		ClientID:   "seller",
		Instrument: "AAPL",
		Side:       core.Sell,
		Kind:       core.KindSimple,
		Quantity:   quantity,
		Price:      fpdecimal.FromFloat(10.0),
	})
}

func printParent(ctx context.Context, ex *exchange.Exchange, orderID string) {
	view, err := ex.OrderStatus(ctx, orderID)
	if err != nil {
		panic(err)
	}
	fmt.Printf("parent: filled=%d/%d state=%s\n", view.Filled, view.Quantity, view.State)
}

func printDepth(ex *exchange.Exchange) {
	rows := ex.Depth("AAPL")
	if len(rows) == 0 {
		fmt.Println("depth: book is empty")
		return
	}
	for _, row := range rows {
		fmt.Printf("depth: bid %d @ %s | ask %d @ %s\n", row.BidVolume, row.Bid, row.AskVolume, row.Ask)
	}
}
