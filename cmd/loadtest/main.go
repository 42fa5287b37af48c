package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/openexch/simex/pkg/client"
	"github.com/openexch/simex/pkg/protocol"
)

func main() {
	serverAddr := flag.String("addr", "localhost:8080", "server address in the format host:port")
	instrument := flag.String("instrument", "LOADTEST", "instrument to trade")
	numWorkers := flag.Int("workers", 50, "number of concurrent sessions")
	ordersPerWorker := flag.Int("orders", 100, "orders each session submits")
	maxRate := flag.Int("rate", 500, "aggregate orders per second across all sessions")
	flag.Parse()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt)
	go func() {
		<-sigChan
		log.Println("Received interrupt signal, cleaning up...")
		cancel()
	}()

	url := fmt.Sprintf("ws://%s/ws", *serverAddr)
	limiter := rate.NewLimiter(rate.Limit(*maxRate), *maxRate)

	var (
		wg       sync.WaitGroup
		failures atomic.Int64
		errOnce  sync.Once
		firstErr error
	)
	recordErr := func(err error) {
		failures.Add(1)
		errOnce.Do(func() { firstErr = err })
	}

	start := time.Now()
	log.Printf("Starting %d sessions, %d orders per session...", *numWorkers, *ordersPerWorker)

	for i := 0; i < *numWorkers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()

			c, err := client.Dial(ctx, client.Options{URL: url})
			if err != nil {
				failures.Add(int64(*ordersPerWorker) - 1)
				recordErr(err)
				return
			}
			defer c.Close()

			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))
			for j := 0; j < *ordersPerWorker; j++ {
				if err := limiter.Wait(ctx); err != nil {
					return
				}

				// Fixed price and size keep the cross rate high so the
				// matching path gets exercised, not just the resting path.
				side := "BUY"
				if r.Float64() < 0.5 {
					side = "SELL"
				}
				_, err := c.CreateOrder(ctx, protocol.CreateOrder{
					Instrument: *instrument,
					Side:       side,
					Quantity:   10,
					LimitPrice: "100.00",
				})
				if err != nil {
					recordErr(err)
				}
			}
		}(i)
	}

	wg.Wait()
	duration := time.Since(start)

	total := int64(*numWorkers) * int64(*ordersPerWorker)
	log.Printf("Load test completed in %v", duration)
	log.Printf("Total orders attempted: %d", total)
	log.Printf("Errors encountered: %d", failures.Load())
	log.Printf("Throughput: %.0f orders/sec", float64(total-failures.Load())/duration.Seconds())

	if failures.Load() > 0 {
		log.Printf("First error: %v", firstErr)
		os.Exit(1)
	}
}
