// Package main is a diagnostic tool for database connectivity. It loads the same configuration
// as the server, reports the schema version and prints row counts for the object log tables.
// It exits non-zero on any failure so it can gate deployments in CI/CD pipelines.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/object-log/object-log/internal/config"
	"github.com/object-log/object-log/internal/db"
)

var tables = []string{"users", "groups", "log_actions", "log_entries", "log_entry_subjects", "api_keys"}

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	database, err := db.Connect(cfg.Database.GetDSN(), 2, 1)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer database.Close()

	version, dirty, err := db.GetMigrationVersion(database.DB)
	if err != nil {
		log.Fatalf("Failed to read schema version: %v", err)
	}
	fmt.Printf("schema version: %d (dirty: %v)\n", version, dirty)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, table := range tables {
		var count int64
		// table names come from the fixed list above
		if err := database.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&count); err != nil {
			log.Fatalf("Query on %s failed: %v", table, err)
		}
		fmt.Printf("%-20s %d\n", table, count)
	}

	var oldest, newest *time.Time
	if err := database.QueryRowContext(ctx, "SELECT MIN(created_at), MAX(created_at) FROM log_entries").Scan(&oldest, &newest); err != nil {
		log.Fatalf("Query on log_entries failed: %v", err)
	}
	if oldest != nil {
		fmt.Printf("entries span %s .. %s\n", oldest.UTC().Format(time.RFC3339), newest.UTC().Format(time.RFC3339))
	}
	if dirty {
		os.Exit(2)
	}
}
