package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/tradekit/tradeloop/internal/logging"
	"github.com/tradekit/tradeloop/internal/store"
)

func main() {
	var (
		storePath = flag.String("store", "data/tradeloop.db", "Path to the state database")
		timeout   = flag.Duration("timeout", 30*time.Second, "Overall timeout")
	)
	flag.Parse()

	logger, err := logging.NewLogger("reconciler", "info")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("starting reconciler", zap.String("store", *storePath))

	st, err := store.Open(*storePath)
	if err != nil {
		logger.Fatal("failed to open state store", zap.Error(err))
	}
	defer st.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	open, err := st.ListNonTerminal(ctx)
	if err != nil {
		logger.Fatal("failed to list non-terminal orders", zap.Error(err))
	}

	positions, err := st.ListPositions(ctx)
	if err != nil {
		logger.Fatal("failed to list positions", zap.Error(err))
	}

	fmt.Println("\n=== Reconciliation Report ===")
	fmt.Printf("Store: %s\n", *storePath)
	fmt.Printf("Persisted positions: %d\n", len(positions))
	for _, pos := range positions {
		fmt.Printf("  %s qty=%s avg_price=%s realized_pnl=%s\n",
			pos.Symbol,
			pos.Quantity.String(),
			pos.AvgPrice.StringFixed(2),
			pos.RealizedPnL.StringFixed(2),
		)
	}

	fmt.Printf("Non-terminal orders: %d\n", len(open))
	for _, o := range open {
		logger.Warn("order needs reconciliation",
			zap.String("order_id", o.ID),
			zap.String("symbol", o.Symbol),
			zap.String("side", string(o.Direction)),
			zap.Float64("qty", o.Quantity),
			zap.String("status", string(o.Status)),
			zap.Int("attempts", o.Attempts),
		)
		fmt.Printf("  %s %s %s qty=%.4f status=%s attempts=%d\n",
			o.ID, o.Symbol, o.Direction, o.Quantity, o.Status, o.Attempts)
	}

	if len(open) > 0 {
		fmt.Println("\n❌ RECONCILIATION REQUIRED: orders left in non-terminal states")
		os.Exit(1)
	}

	fmt.Println("\n✅ CLEAN: every persisted order reached a terminal state")
}
