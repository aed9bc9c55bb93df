// Command outcomes-report prints a per-mode and per-symbol summary of
// evaluated pick outcomes over a date range. It reads the same config and
// database as the main service.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/joho/godotenv"

	"arise-trading-engine/config"
	"arise-trading-engine/internal/database"
	"arise-trading-engine/internal/domain"
	"arise-trading-engine/internal/logging"
	"arise-trading-engine/internal/marketclock"
)

type symbolStats struct {
	Symbol   string
	Outcomes int
	Wins     int
	Losses   int
	RetSum   float64
}

func main() {
	days := flag.Int("days", 7, "trailing window in days")
	modeFlag := flag.String("mode", "", "restrict to one mode (Scalping, Intraday, Swing, Options, Futures)")
	flag.Parse()

	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log := logging.New(cfg.LoggingConfig)

	db, err := database.NewDB(cfg.DatabaseConfig, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()
	repo := database.NewRepository(db, cfg.EngineConfig.RetentionDays, log)

	now := time.Now()
	toDate := marketclock.TradeDate(now)
	fromDate := marketclock.TradeDate(now.AddDate(0, 0, -*days))

	modes := domain.AllModes
	if *modeFlag != "" {
		modes = []domain.Mode{domain.ParseMode(*modeFlag)}
	}

	fmt.Printf("Pick outcomes %s to %s\n\n", fromDate, toDate)

	ctx := context.Background()
	for _, mode := range modes {
		horizon := database.HorizonEOD
		if mode == domain.ModeScalping {
			horizon = database.HorizonScalping
		}
		rows, err := repo.OutcomesInRange(ctx, string(mode), fromDate, toDate, horizon)
		if err != nil {
			fmt.Fprintf(os.Stderr, "query %s: %v\n", mode, err)
			os.Exit(1)
		}
		if len(rows) == 0 {
			continue
		}
		printModeReport(mode, rows)
	}
}

func printModeReport(mode domain.Mode, rows []database.PickOutcomeWithContext) {
	bySymbol := make(map[string]*symbolStats)
	var wins, losses int
	var retSum float64
	for _, row := range rows {
		s := bySymbol[row.Symbol]
		if s == nil {
			s = &symbolStats{Symbol: row.Symbol}
			bySymbol[row.Symbol] = s
		}
		s.Outcomes++
		s.RetSum += row.RetClosePct
		retSum += row.RetClosePct
		switch row.OutcomeLabel {
		case database.OutcomeWin:
			wins++
			s.Wins++
		case database.OutcomeLoss:
			losses++
			s.Losses++
		}
	}

	n := float64(len(rows))
	fmt.Printf("%s: %d outcomes, %d wins, %d losses, win rate %.1f%%, avg return %+.2f%%\n",
		mode, len(rows), wins, losses, 100*float64(wins)/n, retSum/n)

	stats := make([]*symbolStats, 0, len(bySymbol))
	for _, s := range bySymbol {
		stats = append(stats, s)
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].RetSum > stats[j].RetSum })

	for _, s := range stats {
		fmt.Printf("  %-12s %3d outcomes  %2d W / %2d L  avg %+.2f%%\n",
			s.Symbol, s.Outcomes, s.Wins, s.Losses, s.RetSum/float64(s.Outcomes))
	}
	fmt.Println()
}
