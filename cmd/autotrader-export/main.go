// Command autotrader-export dumps stored minute bars to Parquet files for
// offline analysis.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"autotrader/internal/bars"
	"autotrader/internal/config"
	"autotrader/internal/domain"
	"autotrader/internal/util"
)

func main() {
	tickersFlag := flag.String("tickers", "", "comma-separated tickers to export (defaults to all)")
	startFlag := flag.String("start", "", "start date YYYY-MM-DD (required)")
	endFlag := flag.String("end", "", "end date YYYY-MM-DD (required)")
	outFlag := flag.String("out", "export", "output directory")
	flag.Parse()

	_ = godotenv.Load()

	cfgPath := "config/autotrader.yaml"
	if p := os.Getenv("AUTOTRADER_CONFIG"); p != "" {
		cfgPath = p
	}

	if *startFlag == "" || *endFlag == "" {
		flag.Usage()
		os.Exit(2)
	}
	start, err := time.Parse(domain.DateFormat, *startFlag)
	if err != nil {
		log.Fatalf("invalid -start: %v", err)
	}
	end, err := time.Parse(domain.DateFormat, *endFlag)
	if err != nil {
		log.Fatalf("invalid -end: %v", err)
	}
	// Include the whole final day.
	end = end.Add(24*time.Hour - time.Minute)

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	util.SetDefault(util.NewLogger(cfg.Logging.Level, cfg.Logging.Format))

	store, err := bars.NewStore(cfg.Storage.BarsPath)
	if err != nil {
		log.Fatalf("opening bar store: %v", err)
	}
	defer store.Close()

	ctx := context.Background()

	var tickers []string
	if *tickersFlag != "" {
		for _, t := range strings.Split(*tickersFlag, ",") {
			if t = strings.ToUpper(strings.TrimSpace(t)); t != "" {
				tickers = append(tickers, t)
			}
		}
	} else {
		tickers, err = store.Tickers(ctx)
		if err != nil {
			log.Fatalf("listing tickers: %v", err)
		}
	}

	exported := 0
	for _, ticker := range tickers {
		path, rows, err := store.ExportTicker(ctx, ticker, *outFlag, start, end)
		if err != nil {
			log.Fatalf("exporting %s: %v", ticker, err)
		}
		if rows == 0 {
			fmt.Printf("  %-8s no bars in range, skipped\n", ticker)
			continue
		}
		fmt.Printf("  %-8s %d rows -> %s\n", ticker, rows, path)
		exported++
	}
	fmt.Printf("exported %d of %d tickers\n", exported, len(tickers))
}
