package main

import (
	"context"
	"fmt"
	"os"

	"github.com/DroneTales/GreenHouse/internal/config"
	"github.com/DroneTales/GreenHouse/internal/db"
	"github.com/DroneTales/GreenHouse/internal/logging"
	"github.com/DroneTales/GreenHouse/tools/migrate"
)

const appName = "greenhouse-migrate"

var version = "dev"

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, "usage: %s <command>\n  migrate  apply pending schema migrations\n", os.Args[0])
		os.Exit(1)
	}

	cfg, err := config.LoadFromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg, version, appName)

	switch os.Args[1] {
	case "migrate":
		conn, err := db.Open(cfg, logger)
		if err != nil {
			fmt.Fprintf(os.Stderr, "db open: %v\n", err)
			os.Exit(1)
		}
		err = migrate.Run(context.Background(), conn, migrate.Dialect(cfg.DBDriver), logger)
		if closeErr := db.Close(conn); closeErr != nil {
			logger.Error("db close", "error", closeErr)
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "migrate: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("migrations applied")
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}
}
