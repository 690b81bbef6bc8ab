package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"ringline/config"
	"ringline/internal/services"
	"ringline/pkg/database"
)

const usage = `
Ringline - Database CLI Tool

Usage:
  migrate [command]

Commands:
  up          Create or update the call service tables
  status      Show database connection status and table sizes
  seed-dev    Seed development users and print their access tokens

Examples:
  go run cmd/migrate/main.go up
  go run cmd/migrate/main.go seed-dev
`

func main() {
	flag.Usage = func() {
		fmt.Print(usage)
	}
	flag.Parse()

	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(1)
	}

	command := flag.Arg(0)

	// Load config and connect to database
	cfg := config.LoadConfig()
	database.Connect(cfg)
	defer database.Close()

	switch command {
	case "up":
		runMigrationsUp()
	case "status":
		showStatus()
	case "seed-dev":
		runSeedDevelopment(cfg)
	default:
		fmt.Printf("Unknown command: %s\n", command)
		flag.Usage()
		os.Exit(1)
	}
}

func runMigrationsUp() {
	log.Println("🚀 Running migrations UP...")

	if err := database.AutoMigrate(database.DB); err != nil {
		log.Fatalf("❌ Migration failed: %v", err)
	}

	log.Println("✅ Migrations completed successfully!")
}

func showStatus() {
	log.Println("🔍 Checking database status...")

	if err := database.HealthCheck(); err != nil {
		log.Fatalf("❌ Database connection failed: %v", err)
	}
	log.Println("✅ Database connection: OK")

	for _, table := range []string{"users", "calls", "call_participants"} {
		if !database.TableExists(database.DB, table) {
			log.Printf("❌ Table %-20s does not exist", table)
			continue
		}
		count, err := database.GetTableCount(database.DB, table)
		if err != nil {
			log.Printf("⚠️  Error counting table %s: %v", table, err)
			continue
		}
		log.Printf("✅ Table %-20s exists (%d rows)", table, count)
	}
}

func runSeedDevelopment(cfg *config.Config) {
	log.Println("🌱 Seeding database (development mode)...")

	result, err := database.SeedDevelopment()
	if err != nil {
		log.Fatalf("❌ Seeding failed: %v", err)
	}

	auth := services.NewAuthService(cfg)
	log.Println("📊 Seed Summary:")
	for _, u := range result.Users {
		token, err := auth.IssueAccessToken(services.Identity{UserID: u.ID, TenantID: u.TenantID})
		if err != nil {
			log.Fatalf("❌ Failed to issue token for %s: %v", u.ID, err)
		}
		log.Printf("   - %-15s %s tenant=%s", u.DisplayName, u.ID, u.TenantID)
		log.Printf("     token: %s", token)
	}
	log.Println("✅ Development seeding completed!")
}
