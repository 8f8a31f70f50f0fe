// Command migrate applies the PostgreSQL schema migrations.
//
//	migrate up
//	migrate down
//	migrate to <version>
//	migrate version
package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"

	"ms-redemption/internal/config"
	"ms-redemption/internal/database/migrations"
	"ms-redemption/internal/logger"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	dsn := flag.String("dsn", cfg.Database.PostgresDSN, "PostgreSQL connection string")
	flag.Parse()

	log, err := logger.NewLogger("")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if flag.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "usage: migrate [-dsn DSN] up|down|to <version>|version")
		os.Exit(2)
	}

	runner, err := migrations.NewRunner(*dsn, log)
	if err != nil {
		log.Fatal("MIGRATE", err.Error())
	}

	switch flag.Arg(0) {
	case "up":
		err = runner.MigrateUp()
	case "down":
		err = runner.MigrateDown()
	case "to":
		var v uint64
		v, err = strconv.ParseUint(flag.Arg(1), 10, 32)
		if err == nil {
			err = runner.MigrateTo(uint(v))
		}
	case "version":
		var (
			v     uint
			dirty bool
		)
		v, dirty, err = runner.Version()
		if err == nil {
			fmt.Printf("version %d dirty=%t\n", v, dirty)
		}
	default:
		err = fmt.Errorf("unknown command %q", flag.Arg(0))
	}
	if cerr := runner.Close(); cerr != nil {
		log.Warn("MIGRATE", cerr.Error())
	}
	if err != nil {
		log.Error("MIGRATE", err.Error())
		os.Exit(1)
	}
	log.Info("MIGRATE", "done")
}
