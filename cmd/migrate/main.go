package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"rxgate/config"
	"rxgate/internal/repository"
	"rxgate/pkg/database"
)

const usage = `
rxgate - Database CLI Tool

Usage:
  migrate [command] [flags]

Commands:
  up          Create tables and indexes, then apply raw SQL migrations
  status      Show database connection status and table counts
  reset       Drop all tables and re-run migrations (DANGEROUS)

Flags:
  -migrations string   Path to raw SQL migrations directory (default "migrations")
  -yes                 Confirm destructive commands
`

func main() {
	migrationsDir := flag.String("migrations", "migrations", "Path to migrations directory")
	confirm := flag.Bool("yes", false, "Confirm destructive commands")

	flag.Usage = func() {
		fmt.Print(usage)
	}
	flag.Parse()

	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(1)
	}

	command := flag.Arg(0)

	cfg := config.LoadConfig()
	database.Connect(cfg)
	defer database.Close()

	switch command {
	case "up":
		runMigrationsUp(*migrationsDir)
	case "status":
		showStatus()
	case "reset":
		if !*confirm {
			log.Fatalf("❌ reset drops every table; re-run with -yes")
		}
		runReset(*migrationsDir)
	default:
		fmt.Printf("Unknown command: %s\n", command)
		flag.Usage()
		os.Exit(1)
	}
}

func runMigrationsUp(migrationsDir string) {
	log.Println("🚀 Running migrations UP...")

	if err := repository.InitSchema(database.DB); err != nil {
		log.Fatalf("❌ Migration failed: %v", err)
	}
	if err := database.ApplyRawMigrations(migrationsDir); err != nil {
		log.Fatalf("❌ Raw migration failed: %v", err)
	}

	log.Println("✅ Migrations completed successfully!")
}

func showStatus() {
	log.Println("🔍 Checking database status...")

	if err := database.Ping(); err != nil {
		log.Fatalf("❌ Database connection failed: %v", err)
	}
	log.Println("✅ Database connection: OK")

	tables := []string{"consult_submissions", "consultations", "consult_approvals", "patients", "outbox_events"}
	for _, table := range tables {
		exists, err := database.TableExists(table)
		if err != nil {
			log.Printf("⚠️  Error checking table %s: %v", table, err)
			continue
		}
		if exists {
			count, _ := database.GetTableCount(table)
			log.Printf("✅ Table %-20s exists (%d rows)", table, count)
		} else {
			log.Printf("❌ Table %-20s does not exist", table)
		}
	}

	if err := database.HealthCheck(); err != nil {
		log.Printf("⚠️  Health check warning: %v", err)
	} else {
		log.Println("✅ Health check: PASSED")
	}
}

func runReset(migrationsDir string) {
	log.Println("🗑️  Dropping all tables...")
	if err := repository.DropSchema(database.DB); err != nil {
		log.Fatalf("❌ Failed to drop tables: %v", err)
	}
	runMigrationsUp(migrationsDir)
	log.Println("✅ Database reset completed!")
}
