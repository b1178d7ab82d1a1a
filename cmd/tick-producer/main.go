package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tradekit/tradeloop/internal/logging"
	"github.com/tradekit/tradeloop/internal/msg"
)

func main() {
	var (
		count    = flag.Int("count", 500, "Number of ticks to produce")
		dupPct   = flag.Int("dup-pct", 0, "Percentage of duplicate ticks (0-100)")
		symbols  = flag.String("symbols", "AAPL,MSFT,TSLA", "Comma-separated symbols")
		seed     = flag.Int64("seed", 42, "Random seed for deterministic generation")
		brokers  = flag.String("brokers", "127.0.0.1:9092", "Kafka broker addresses")
		topic    = flag.String("topic", msg.TopicMarketTicks, "Topic to produce to")
		interval = flag.Duration("interval", 0, "Delay between ticks (0 = as fast as possible)")
	)
	flag.Parse()

	logger, err := logging.NewLogger("tick-producer", "info")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	symbolList := parseList(*symbols)
	brokerList := parseList(*brokers)
	if len(symbolList) == 0 {
		logger.Fatal("at least one symbol is required")
	}

	logger.Info("starting tick producer",
		zap.Int("count", *count),
		zap.Int("dup_pct", *dupPct),
		zap.Strings("symbols", symbolList),
		zap.Int64("seed", *seed),
		zap.Strings("brokers", brokerList),
		zap.String("topic", *topic),
	)

	producer, err := msg.NewProducer(&msg.Config{Brokers: brokerList, ClientID: "tick-producer"}, logger)
	if err != nil {
		logger.Fatal("failed to create producer", zap.Error(err))
	}
	defer producer.Close()

	// Generate ticks up front, deterministically
	rng := rand.New(rand.NewSource(*seed))
	ticks, dupCount := generateTicks(rng, symbolList, *count, *dupPct)

	ctx := context.Background()
	produced := 0
	failed := 0

	for _, tick := range ticks {
		if err := producer.ProduceJSON(ctx, *topic, tick.Symbol, tick); err != nil {
			logger.Error("failed to produce tick",
				zap.String("symbol", tick.Symbol),
				zap.Error(err),
			)
			failed++
			continue
		}

		produced++
		logger.Debug("produced tick",
			zap.String("event_id", tick.EventID),
			zap.String("symbol", tick.Symbol),
			zap.Float64("price", tick.Price),
		)

		if *interval > 0 {
			time.Sleep(*interval)
		}
	}

	logger.Info("tick producer completed",
		zap.Int("total", *count),
		zap.Int("produced", produced),
		zap.Int("failed", failed),
		zap.Int("duplicates", dupCount),
	)

	fmt.Printf("\n=== Tick Producer Summary ===\n")
	fmt.Printf("Total ticks: %d\n", *count)
	fmt.Printf("Produced: %d\n", produced)
	fmt.Printf("Failed: %d\n", failed)
	fmt.Printf("Duplicate ticks: %d\n", dupCount)
	fmt.Printf("Symbols: %s\n", strings.Join(symbolList, ", "))
	fmt.Printf("Topic: %s\n", *topic)
	fmt.Printf("\n")

	if failed > 0 {
		os.Exit(1)
	}
}

// generateTicks builds a deterministic random-walk tick sequence. dupPct of
// the ticks replay an earlier tick verbatim, same event_id, to exercise the
// consumer's duplicate handling.
func generateTicks(rng *rand.Rand, symbols []string, count, dupPct int) ([]msg.TickMsg, int) {
	prices := make(map[string]float64, len(symbols))
	for i, sym := range symbols {
		prices[sym] = 100.0 + float64(i)*50.0
	}

	ticks := make([]msg.TickMsg, 0, count)
	dupCount := 0

	for i := 0; i < count; i++ {
		if dupPct > 0 && len(ticks) > 0 && rng.Intn(100) < dupPct {
			ticks = append(ticks, ticks[rng.Intn(len(ticks))])
			dupCount++
			continue
		}

		sym := symbols[rng.Intn(len(symbols))]
		prices[sym] *= 1 + (rng.Float64()*2-1)*0.02

		ticks = append(ticks, msg.TickMsg{
			EventID:      uuid.New().String(),
			Symbol:       sym,
			Price:        prices[sym],
			Volume:       float64(100 + rng.Intn(900)),
			TsUnixMillis: time.Now().UnixMilli(),
		})
	}

	return ticks, dupCount
}

func parseList(s string) []string {
	parts := make([]string, 0)
	for _, p := range strings.Split(s, ",") {
		trimmed := strings.TrimSpace(p)
		if trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}
