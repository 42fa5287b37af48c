package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/openexch/simex/pkg/client"
	"github.com/openexch/simex/pkg/core"
	"github.com/openexch/simex/pkg/protocol"
)

var (
	serverAddr = flag.String("addr", "localhost:8080", "The server address in the format host:port")
	clientID   = flag.String("client", "", "Client ID to reattach to an earlier session")
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	os.Args = append(os.Args[:1], os.Args[2:]...)
	flag.Parse()
	args := flag.Args()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch command {
	case "create-order":
		createOrder(ctx, args)
	case "revise-order":
		reviseOrder(ctx, args)
	case "cancel-order":
		cancelOrder(ctx, args)
	case "status":
		status(ctx, args)
	case "depth":
		depth(args)
	case "watch":
		watch()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func dial(ctx context.Context) *client.Client {
	c, err := client.Dial(ctx, client.Options{
		URL:      fmt.Sprintf("ws://%s/ws", *serverAddr),
		ClientID: *clientID,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to server")
	}
	return c
}

func createOrder(ctx context.Context, args []string) {
	if len(args) < 4 {
		fmt.Println("Usage: create-order <instrument> <side> <LIMIT|MARKET|ICEBERG> <quantity> [price] [slice_size]")
		os.Exit(1)
	}
	instrument, side, orderType := args[0], strings.ToUpper(args[1]), strings.ToUpper(args[2])
	quantity, err := strconv.ParseInt(args[3], 10, 64)
	if err != nil {
		log.Fatal().Str("quantity", args[3]).Msg("Invalid quantity")
	}

	req := protocol.CreateOrder{
		Instrument: instrument,
		Side:       side,
		Quantity:   quantity,
	}
	switch orderType {
	case "MARKET":
	case "LIMIT":
		if len(args) < 5 {
			log.Fatal().Msg("Limit orders need a price")
		}
		req.LimitPrice = args[4]
	case "ICEBERG":
		if len(args) < 6 {
			log.Fatal().Msg("Iceberg orders need a price and a slice size")
		}
		req.LimitPrice = args[4]
		req.Kind = string(core.KindIceberg)
		sliceSize, err := strconv.ParseInt(args[5], 10, 64)
		if err != nil {
			log.Fatal().Str("slice_size", args[5]).Msg("Invalid slice size")
		}
		req.SliceSize = sliceSize
	default:
		log.Fatal().Str("type", orderType).Msg("Unsupported order type")
	}

	c := dial(ctx)
	defer c.Close()

	view, err := c.CreateOrder(ctx, req)
	if err != nil {
		log.Fatal().Err(err).Msg("CreateOrder failed")
	}
	log.Info().
		Str("order_id", view.OrderID).
		Str("client_id", c.ClientID()).
		Str("state", view.State).
		Int64("filled_quantity", view.Filled).
		Msg("Created order")
}

func reviseOrder(ctx context.Context, args []string) {
	if len(args) < 1 {
		fmt.Println("Usage: revise-order <order_id> [new_quantity] [new_price] [new_slice_size]")
		os.Exit(1)
	}
	req := protocol.ReviseOrder{OrderID: args[0]}
	if len(args) > 1 && args[1] != "-" {
		quantity, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			log.Fatal().Str("quantity", args[1]).Msg("Invalid quantity")
		}
		req.NewQuantity = quantity
	}
	if len(args) > 2 && args[2] != "-" {
		req.NewLimitPrice = args[2]
	}
	if len(args) > 3 && args[3] != "-" {
		sliceSize, err := strconv.ParseInt(args[3], 10, 64)
		if err != nil {
			log.Fatal().Str("slice_size", args[3]).Msg("Invalid slice size")
		}
		req.NewSliceSize = sliceSize
	}

	c := dial(ctx)
	defer c.Close()

	view, err := c.ReviseOrder(ctx, req)
	if err != nil {
		log.Fatal().Err(err).Msg("ReviseOrder failed")
	}
	log.Info().
		Str("order_id", view.OrderID).
		Str("state", view.State).
		Int64("quantity", view.Quantity).
		Int64("filled_quantity", view.Filled).
		Msg("Revised order")
}

func cancelOrder(ctx context.Context, args []string) {
	if len(args) < 1 {
		fmt.Println("Usage: cancel-order <order_id>")
		os.Exit(1)
	}

	c := dial(ctx)
	defer c.Close()

	view, err := c.CancelOrder(ctx, args[0])
	if err != nil {
		log.Fatal().Err(err).Msg("CancelOrder failed")
	}
	log.Info().Str("order_id", view.OrderID).Str("state", view.State).Msg("Cancelled order")
}

func status(ctx context.Context, args []string) {
	c := dial(ctx)
	defer c.Close()

	if len(args) > 0 {
		view, err := c.OrderStatus(ctx, args[0])
		if err != nil {
			log.Fatal().Err(err).Msg("Status failed")
		}
		printOrders("Order", []core.View{view})
		return
	}

	snapshot, err := c.Status(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Status failed")
	}
	printOrders("Pending", snapshot.Pending)
	printOrders("Completed", snapshot.Completed)
}

func printOrders(header string, views []core.View) {
	cyan := color.New(color.FgCyan).SprintfFunc()
	fmt.Println(cyan("%s (%d)", header, len(views)))

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "ORDER ID\tINSTRUMENT\tSIDE\tKIND\tQTY\tFILLED\tPRICE\tSTATE")
	for _, v := range views {
		price := v.Price
		if v.Market {
			price = "MKT"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%s\t%s\n",
			v.OrderID, v.Instrument, v.Side, v.Kind, v.Quantity, v.Filled, price, v.State)
	}
	w.Flush()
}

func depth(args []string) {
	if len(args) < 1 {
		fmt.Println("Usage: depth <instrument>")
		os.Exit(1)
	}

	resp, err := http.Get(fmt.Sprintf("http://%s/depth?instrument=%s", *serverAddr, args[0]))
	if err != nil {
		log.Fatal().Err(err).Msg("Depth request failed")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		log.Fatal().Int("status", resp.StatusCode).Msg("Depth request failed")
	}

	var rows []protocol.DepthRow
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		log.Fatal().Err(err).Msg("Failed to decode depth")
	}

	green := color.New(color.FgGreen).SprintfFunc()
	red := color.New(color.FgRed).SprintfFunc()
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.AlignRight)
	fmt.Fprintf(w, "%s\t%s\t%s\t%s\t\n", green("BID VOL"), green("BID"), red("ASK"), red("ASK VOL"))
	for _, row := range rows {
		fmt.Fprintf(w, "%d\t%s\t%s\t%d\t\n", row.BidVolume, row.Bid, row.Ask, row.AskVolume)
	}
	w.Flush()
}

// watch holds the session open and prints pushed events until
// interrupted.
func watch() {
	ctx := context.Background()
	c, err := client.Dial(ctx, client.Options{
		URL:      fmt.Sprintf("ws://%s/ws", *serverAddr),
		ClientID: *clientID,
		OnFill: func(ev protocol.FillEvent) {
			log.Info().
				Str("order_id", ev.OrderID).
				Int64("quantity", ev.Quantity).
				Str("price", ev.Price).
				Uint64("seq", ev.Seq).
				Str("role", ev.Role).
				Str("state", ev.State).
				Msg("Fill")
		},
		OnStateChanged: func(ev protocol.StateChanged) {
			log.Info().
				Str("order_id", ev.OrderID).
				Str("old_state", ev.OldState).
				Str("new_state", ev.NewState).
				Msg("State changed")
		},
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to server")
	}
	defer c.Close()

	log.Info().Str("client_id", c.ClientID()).Msg("Watching session events")
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
}

func printUsage() {
	fmt.Println("Usage:")
	fmt.Println("  create-order <instrument> <side> <LIMIT|MARKET|ICEBERG> <quantity> [price] [slice_size]")
	fmt.Println("  revise-order <order_id> [new_quantity] [new_price] [new_slice_size]   (use - to keep)")
	fmt.Println("  cancel-order <order_id>")
	fmt.Println("  status [order_id]")
	fmt.Println("  depth <instrument>")
	fmt.Println("  watch")
	fmt.Println("\nExamples:")
	fmt.Println("  create-order AAPL BUY LIMIT 100 10.50")
	fmt.Println("  create-order AAPL SELL MARKET 50")
	fmt.Println("  create-order AAPL BUY ICEBERG 1000 10.00 100")
	fmt.Println("  revise-order <id> 50 - -")
	fmt.Println("  status")
	fmt.Println("  depth AAPL")
}
