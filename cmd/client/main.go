package main

import (
	"flag"
	"fmt"
	"log"
	"net"
	"strings"

	"github.com/google/uuid"

	"huginn/internal/common"
	"huginn/internal/gateway"
)

func main() {
	serverAddr := flag.String("server", "127.0.0.1:9001", "Address of the exchange gateway")
	action := flag.String("action", "tob", "Action to perform: ['limit', 'market', 'cancel', 'tob', 'depth']")

	sideStr := flag.String("side", "buy", "Order side: 'buy' or 'sell'")
	price := flag.Int64("price", 100, "Limit price in ticks")
	qty := flag.Int64("qty", 10, "Quantity")
	ref := flag.String("ref", "", "Order reference (defaults to a fresh uuid)")
	orderID := flag.Uint64("id", 0, "Order id to cancel")
	depth := flag.Uint("depth", 10, "Snapshot depth")

	flag.Parse()

	conn, err := net.Dial("tcp", *serverAddr)
	if err != nil {
		log.Fatalf("failed to connect to %s: %v", *serverAddr, err)
	}
	defer conn.Close()

	side := common.Buy
	if strings.ToLower(*sideStr) == "sell" {
		side = common.Sell
	}
	if *ref == "" {
		*ref = uuid.New().String()
	}

	var request []byte
	switch strings.ToLower(*action) {
	case "limit":
		request = gateway.NewOrderMessage{
			OrderType: common.LimitOrder,
			Side:      side,
			Price:     *price,
			Quantity:  *qty,
			Ref:       *ref,
		}.Encode()
	case "market":
		request = gateway.NewOrderMessage{
			OrderType: common.MarketOrder,
			Side:      side,
			Quantity:  *qty,
			Ref:       *ref,
		}.Encode()
	case "cancel":
		if *orderID == 0 {
			log.Fatal("-id is required for cancellation")
		}
		request = gateway.CancelOrderMessage{OrderID: common.OrderID(*orderID)}.Encode()
	case "tob":
		request = gateway.EncodeTopOfBook()
	case "depth":
		request = gateway.BookDepthMessage{Depth: uint16(*depth)}.Encode()
	default:
		log.Fatalf("unknown action: %s", *action)
	}

	if _, err := conn.Write(request); err != nil {
		log.Fatalf("failed to send request: %v", err)
	}

	buffer := make([]byte, 64*1024)
	n, err := conn.Read(buffer)
	if err != nil {
		log.Fatalf("failed to read reply: %v", err)
	}

	report, err := gateway.ParseReport(buffer[:n])
	if err != nil {
		log.Fatalf("failed to parse reply: %v", err)
	}
	printReport(report)
}

func printReport(report gateway.Report) {
	switch report.Type {
	case gateway.ExecutionReportType:
		exec := report.Execution
		fmt.Printf("executed: %d trade(s), residual=%d, unfilled=%d\n",
			len(exec.Trades), exec.Residual, exec.Unfilled)
		for _, trade := range exec.Trades {
			fmt.Printf("  %s\n", trade)
		}
	case gateway.CancelReportType:
		outcome := "not found"
		if report.Cancel.OK {
			outcome = "cancelled"
		}
		fmt.Printf("order %d: %s\n", report.Cancel.OrderID, outcome)
	case gateway.QuoteReportType:
		fmt.Printf("bid: %s  ask: %s\n",
			formatQuote(report.Quote.Bid), formatQuote(report.Quote.Ask))
	case gateway.DepthReportType:
		fmt.Println("bids:")
		for _, quote := range report.Depth.Bids {
			fmt.Printf("  %s\n", quote)
		}
		fmt.Println("asks:")
		for _, quote := range report.Depth.Asks {
			fmt.Printf("  %s\n", quote)
		}
	case gateway.ErrorReportType:
		fmt.Printf("server error: %s\n", report.Err)
	}
}

func formatQuote(quote *common.Quote) string {
	if quote == nil {
		return "(none)"
	}
	return quote.String()
}
