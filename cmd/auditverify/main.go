// Command auditverify walks every tenant's audit chain in the database and
// reports the first broken link, if any. Run it after restores or when an
// evidence dispute needs an integrity statement.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/solvereign/backend/internal/auditlog"
	"github.com/solvereign/backend/internal/database"
)

func main() {
	_ = godotenv.Load()

	var (
		dbURL   = flag.String("database-url", os.Getenv("DATABASE_URL"), "postgres connection string")
		tenant  = flag.String("tenant", "", "verify a single tenant chain (default: all)")
		timeout = flag.Duration("timeout", 5*time.Minute, "overall deadline")
	)
	flag.Parse()

	if *dbURL == "" {
		log.Fatal("auditverify: DATABASE_URL or -database-url is required")
	}

	db, err := database.Open(*dbURL)
	if err != nil {
		log.Fatalf("auditverify: open database: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	tenants := []string{*tenant}
	if *tenant == "" {
		tenants, err = listChains(ctx, db)
		if err != nil {
			log.Fatalf("auditverify: list chains: %v", err)
		}
	}

	logger := auditlog.NewLogger(auditlog.NewPostgresStore(db))
	broken := 0
	for _, t := range tenants {
		label := t
		if label == "" {
			label = "(platform)"
		}
		idx, ok, err := logger.Verify(ctx, t)
		if err != nil {
			log.Fatalf("auditverify: verify %s: %v", label, err)
		}
		if ok {
			fmt.Printf("%-40s OK\n", label)
			continue
		}
		broken++
		fmt.Printf("%-40s BROKEN at position %d\n", label, idx)
	}

	if broken > 0 {
		fmt.Printf("\n%d of %d chains broken\n", broken, len(tenants))
		os.Exit(1)
	}
	fmt.Printf("\nall %d chains intact\n", len(tenants))
}

// listChains returns every distinct tenant with audit events. Platform-scope
// events (NULL tenant) come back as the empty string.
func listChains(ctx context.Context, db *sql.DB) ([]string, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT DISTINCT COALESCE(tenant_id::text, '') FROM audit_events ORDER BY 1`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
