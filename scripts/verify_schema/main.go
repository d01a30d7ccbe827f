package main

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"strings"

	_ "modernc.org/sqlite"
)

// verify_schema checks that an engine journal carries every table and column
// the engine writes.
//
// Usage:
//   go run ./scripts/verify_schema ./data/engine.db

var want = map[string][]string{
	"daily_state": {"date", "payload", "updated_at"},
	"oco_pairs":   {"date", "symbol", "state", "payload"},
	"actions":     {"id", "date", "kind", "source", "status", "error"},
	"orders":      {"id", "exchange_order_id", "date", "purpose", "stop_price", "status"},
}

func main() {
	dbPath := "./data/engine.db"
	if len(os.Args) > 1 {
		dbPath = os.Args[1]
	}
	fmt.Printf("Verifying database at: %s\n", dbPath)

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		log.Fatalf("Failed to open DB: %v", err)
	}
	defer db.Close()

	missing := 0
	for _, table := range []string{"daily_state", "oco_pairs", "actions", "orders"} {
		var schema string
		err := db.QueryRow("SELECT sql FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&schema)
		if err != nil {
			fmt.Printf("❌ %s table MISSING (%v)\n", table, err)
			missing++
			continue
		}
		for _, col := range want[table] {
			if !strings.Contains(schema, col) {
				fmt.Printf("❌ %s.%s MISSING\n", table, col)
				missing++
			}
		}
		fmt.Printf("✓ %s\n", table)
	}
	if missing > 0 {
		os.Exit(1)
	}
	fmt.Println("\nSchema OK")
}
