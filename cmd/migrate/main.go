package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/briankimutai/dukalink-backend/pkg/config"
	"github.com/briankimutai/dukalink-backend/pkg/migrate"
)

func main() {
	_ = godotenv.Load()

	flag.Parse()
	command := flag.Arg(0)
	if command == "" {
		command = "up"
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	switch command {
	case "up":
		err = migrate.Up(ctx, cfg.DB.DSN)
	case "down":
		err = migrate.Down(ctx, cfg.DB.DSN)
	case "status":
		err = migrate.Status(ctx, cfg.DB.DSN)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q (want up, down, or status)\n", command)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "migrate %s: %v\n", command, err)
		os.Exit(1)
	}
}
