package main

import (
	"context"
	"fmt"

	"github.com/nikolaydubina/fpdecimal"

	"github.com/openexch/simex/pkg/core"
	"github.com/openexch/simex/pkg/exchange"
)

func main() {
	ctx := context.Background()

	// In-memory exchange with default store, archive, and sender.
	ex := exchange.NewExchange(exchange.Options{})
	defer ex.Close()

	// Rest a sell order.
	sell, err := ex.CreateOrder(ctx, exchange.CreateRequest{
		ClientID:   "seller",
		Instrument: "AAPL",
		Side:       core.Sell,
		Kind:       core.KindSimple,
		Quantity:   10,
		Price:      fpdecimal.FromFloat(10.0),
	})
	if err != nil {
		panic(err)
	}
	fmt.Printf("Created sell order: %s state=%s\n", sell.OrderID, sell.State)

	// Cross it with a smaller buy.
	buy, err := ex.CreateOrder(ctx, exchange.CreateRequest{
		ClientID:   "buyer",
		Instrument: "AAPL",
		Side:       core.Buy,
		Kind:       core.KindSimple,
		Quantity:   5,
		Price:      fpdecimal.FromFloat(10.0),
	})
	if err != nil {
		panic(err)
	}

	fmt.Printf("Buy order: %s state=%s filled=%d\n", buy.OrderID, buy.State, buy.Filled)

	sellNow, err := ex.OrderStatus(ctx, sell.OrderID)
	if err != nil {
		panic(err)
	}
	fmt.Printf("Sell order: %s state=%s filled=%d/%d\n",
		sellNow.OrderID, sellNow.State, sellNow.Filled, sellNow.Quantity)

	fmt.Println("\nRemaining depth:")
	for _, row := range ex.Depth("AAPL") {
		fmt.Printf("- bid %d @ %s | ask %d @ %s\n", row.BidVolume, row.Bid, row.AskVolume, row.Ask)
	}
}
