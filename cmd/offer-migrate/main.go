// Command offer-migrate prepares the PostgreSQL schema for the saga
// stores and inspects executions that never reached a decision.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/freyr/offer/adapters/store"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]

	dsn := flag.String("dsn", os.Getenv("PG_DSN"), "PostgreSQL connection string")
	olderThan := flag.Duration("older-than", time.Hour, "age threshold for the stale command")
	flag.CommandLine.Parse(os.Args[2:])

	if *dsn == "" {
		fmt.Fprintln(os.Stderr, "error: --dsn or PG_DSN is required")
		os.Exit(1)
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, *dsn)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: connect: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	switch command {
	case "up":
		if err := store.EnsureSchema(ctx, pool); err != nil {
			fmt.Fprintf(os.Stderr, "error: apply schema: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("schema is up to date")
	case "stale":
		ids, err := store.NewPostgresAggregateStore(pool).ListStalePending(ctx, *olderThan)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: list stale executions: %v\n", err)
			os.Exit(1)
		}
		if len(ids) == 0 {
			fmt.Printf("no undecided executions older than %s\n", *olderThan)
			return
		}
		for _, id := range ids {
			fmt.Println(id)
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: offer-migrate <command> [flags]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  up     - Create the saga tables if they do not exist")
	fmt.Println("  stale  - List undecided executions older than --older-than")
	fmt.Println()
	fmt.Println("Flags:")
	fmt.Println("  --dsn         - PostgreSQL connection string (or PG_DSN)")
	fmt.Println("  --older-than  - Age threshold for the stale command (default: 1h)")
}
