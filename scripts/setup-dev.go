package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"apiforge/internal/config"
	"apiforge/internal/db"
	"apiforge/internal/manifest"
)

func main() {
	// Load environment
	_ = config.LoadEnvFile(".env")
	cfg, err := config.Load(config.DefaultPath)
	if err != nil {
		log.Fatal("Invalid configuration:", err)
	}
	if cfg.Database.URL == "" {
		log.Fatal("DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Connect to database
	database, err := db.Connect(ctx, cfg.Database.URL)
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}
	defer database.Close()

	if err := database.Migrate(ctx); err != nil {
		log.Fatal("Failed to create tables:", err)
	}
	fmt.Printf("✅ Created resource_documents table\n")

	m, err := manifest.Default()
	if cfg.Resources.Manifest != "" {
		m, err = manifest.Load(cfg.Resources.Manifest)
	}
	if err != nil {
		log.Fatal("Failed to load manifest:", err)
	}

	for _, name := range m.Names() {
		var count int
		if err := database.GetContext(ctx, &count, "SELECT count(*) FROM resource_documents WHERE resource = $1", name); err != nil {
			log.Fatal("Failed to count documents:", err)
		}
		fmt.Printf("   %-20s %d documents\n", name, count)
	}

	// Show setup instructions
	fmt.Printf("\n🚀 Setup complete! Next steps:\n")
	fmt.Printf("   1. Start API: go run ./cmd/api\n")
	fmt.Printf("   2. Get a token: go run ./cmd/apictl token --subject dev --role admin\n")
	fmt.Printf("   3. Browse docs: curl http://localhost:%s/api/docs/openapi.json\n", cfg.Server.Port)
}
