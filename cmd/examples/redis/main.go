package main

import (
	"context"
	"fmt"

	"github.com/nikolaydubina/fpdecimal"

	"github.com/openexch/simex/pkg/core"
	"github.com/openexch/simex/pkg/exchange"
	"github.com/openexch/simex/pkg/store"
)

const (
	redisAddr = "localhost:6379"
	redisDB   = 0
	prefix    = "simex-example"
)

func main() {
	ctx := context.Background()

	client := store.NewRedisClient(store.RedisOptions{
		Addr: redisAddr,
		DB:   redisDB,
	})
	pong, err := client.Ping(ctx).Result()
	if err != nil {
		panic(fmt.Sprintf("Failed to connect to Redis: %v", err))
	}
	fmt.Printf("Redis connection established: %s\n", pong)

	// Terminal orders land in the Redis archive and survive restarts.
	ex := exchange.NewExchange(exchange.Options{
		Archive: store.NewRedisArchive(client, prefix),
	})
	defer ex.Close()

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
	fmt.Printf("Created sell order: %s\n", sell.OrderID)

	// A matching buy fills completely and gets archived.
	buy, err := ex.CreateOrder(ctx, exchange.CreateRequest{
		ClientID:   "buyer",
		Instrument: "AAPL",
		Side:       core.Buy,
		Kind:       core.KindSimple,
		Quantity:   10,
		Price:      fpdecimal.FromFloat(10.0),
	})
	if err != nil {
		panic(err)
	}
	fmt.Printf("Buy order: %s state=%s filled=%d\n", buy.OrderID, buy.State, buy.Filled)

	fmt.Println("\nOrders stored in Redis:")
	jsonData, err := client.Get(ctx, fmt.Sprintf("%s:order:%s", prefix, buy.OrderID)).Result()
	if err != nil {
		panic(err)
	}
	fmt.Printf("- Buy order archive data: %s\n", jsonData)

	// The archive serves status lookups after the order left the book.
	archived, err := ex.OrderStatus(ctx, sell.OrderID)
	if err != nil {
		panic(err)
	}
	fmt.Printf("\nArchived sell order: %s state=%s filled=%d/%d\n",
		archived.OrderID, archived.State, archived.Filled, archived.Quantity)
}
