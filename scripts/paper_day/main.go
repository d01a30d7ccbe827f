package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"trading-engine/internal/engine"
	"trading-engine/internal/plan"
	"trading-engine/internal/schedule"
	"trading-engine/pkg/db"
	"trading-engine/pkg/exchanges/paper"
	"trading-engine/pkg/logger"
)

// paper_day replays one trading date of a plan against the paper venue with a
// scripted BTC path, then prints the action and order journal. It touches
// neither the exchange nor a database file.
//
// Usage:
//   go run ./scripts/paper_day -plan examples/plan.json
//
// The path:
//   1) 16:32 the setup phase arms both breakout legs.
//   2) 16:40 price breaks above the bullish trigger; the bearish leg is pulled.
//   3) 19:00 the first take profit fills.
//   4) 23:00 the time stop flattens the rest.

type step struct {
	at         string
	btc, eth   float64
	annotation string
}

var path = []step{
	{"16:32", 60000, 3000, "arm"},
	{"16:40", 61100, 3010, "breakout"},
	{"17:30", 61500, 3020, "drift"},
	{"19:00", 62050, 3040, "first target"},
	{"22:30", 61800, 3030, "fade"},
	{"23:01", 61700, 3025, "time stop"},
}

func main() {
	planPath := flag.String("plan", "examples/plan.json", "plan file")
	level := flag.String("log", "info", "log level")
	flag.Parse()

	p, err := plan.Load(*planPath)
	if err != nil {
		log.Fatalf("load plan: %v", err)
	}
	cal, err := schedule.NewCalendar(schedule.DefaultZone)
	if err != nil {
		log.Fatalf("calendar: %v", err)
	}
	day, err := time.ParseInLocation(time.DateOnly, p.PlanDate, cal.Location())
	if err != nil {
		log.Fatalf("plan date: %v", err)
	}
	database, err := db.Open(":memory:")
	if err != nil {
		log.Fatalf("open journal: %v", err)
	}
	defer database.Close()

	var now time.Time
	clock := func() time.Time { return now }
	ex := paper.New(10000)
	ex.SetClock(clock)

	eng, err := engine.New(engine.Config{Interval: time.Minute}, engine.Deps{
		Plan: p, Calendar: cal, Conn: ex, DB: database,
		Log: logger.New(logger.Config{Level: *level, Pretty: true}), Clock: clock,
	})
	if err != nil {
		log.Fatalf("engine: %v", err)
	}

	ctx := context.Background()
	for _, s := range path {
		c, err := plan.ParseClock(s.at)
		if err != nil {
			log.Fatalf("step %s: %v", s.at, err)
		}
		now = c.On(day)
		ex.SetPrice("BTCUSDT", s.btc, s.btc)
		ex.SetPrice("ETHUSDT", s.eth, s.eth)
		if err := eng.Tick(ctx); err != nil {
			log.Printf("tick %s: %v", s.at, err)
		}
		st := eng.Status()
		fmt.Printf("%s %-13s btc=%-8.0f pos=%+.4f pnl=%+.2f phase=%s halted=%v\n",
			s.at, s.annotation, s.btc, ex.Position("BTCUSDT"), st.Last.DailyPnL, st.Last.Phase, st.Day.Halted)
	}

	fmt.Println("\nactions:")
	acts, err := eng.Actions(ctx, p.PlanDate)
	if err != nil {
		log.Fatalf("actions: %v", err)
	}
	for _, a := range acts {
		fmt.Printf("  %s %-24s %-12s %s %s\n", a.CreatedAt.In(cal.Location()).Format("15:04"), a.Kind, a.Source, a.Status, a.Reason)
	}
	fmt.Println("\norders:")
	orders, err := eng.Orders(ctx, p.PlanDate)
	if err != nil {
		log.Fatalf("orders: %v", err)
	}
	for _, o := range orders {
		fmt.Printf("  %-8s %-12s %-4s %-20s qty=%.4f stop=%.0f %s\n", o.Symbol, o.Purpose, o.Side, o.Type, o.Qty, o.StopPrice, o.Status)
	}
	if ex.Position("BTCUSDT") != 0 {
		os.Exit(1)
	}
}
