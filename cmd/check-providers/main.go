// Command check-providers validates the API key of every configured provider.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/bobarin/reelsmith/internal/config"
	"github.com/bobarin/reelsmith/internal/services"
)

func main() {
	timeout := flag.Duration("timeout", 60*time.Second, "overall timeout for all checks")
	flag.Parse()

	cfg := config.FromEnv()
	providers := services.NewProviders(cfg)
	pingers := providers.Pingers()
	if len(pingers) == 0 {
		log.Fatal("No provider API keys configured")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	results := services.NewHealthChecker().CheckProviders(ctx, pingers)

	failed := 0
	for _, r := range results {
		if r.OK {
			fmt.Printf("  OK    %-12s (attempts: %d)\n", r.Provider, r.Attempts)
			continue
		}
		failed++
		fmt.Printf("  FAIL  %-12s (attempts: %d) %s\n", r.Provider, r.Attempts, r.Error)
	}

	if err := cfg.Validate(); err != nil {
		fmt.Printf("\nConfiguration incomplete: %v\n", err)
		failed++
	}

	if failed > 0 {
		os.Exit(1)
	}
	fmt.Println("\nAll providers OK")
}
