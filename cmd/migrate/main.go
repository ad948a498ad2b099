// Command migrate manages the schema of the subscription database.
package main

import (
	"database/sql"
	"flag"
	"fmt"
	"os"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"nexus_bot/migrations"
)

var commands = map[string]func(*sql.DB, string) error{
	"up":      func(db *sql.DB, dir string) error { return goose.Up(db, dir) },
	"up-one":  func(db *sql.DB, dir string) error { return goose.UpByOne(db, dir) },
	"down":    func(db *sql.DB, dir string) error { return goose.Down(db, dir) },
	"status":  func(db *sql.DB, dir string) error { return goose.Status(db, dir) },
	"version": func(db *sql.DB, dir string) error { return goose.Version(db, dir) },
	"reset":   func(db *sql.DB, dir string) error { return goose.Reset(db, dir) },
}

func main() {
	dbPath := flag.String("db", defaultDBPath(), "path to the subscription database")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() != 1 {
		usage()
		os.Exit(2)
	}
	name := flag.Arg(0)
	run, ok := commands[name]
	if !ok {
		fmt.Fprintf(os.Stderr, "migrate: unknown command %q\n", name)
		usage()
		os.Exit(2)
	}

	if err := migrate(*dbPath, run); err != nil {
		fmt.Fprintf(os.Stderr, "migrate: %s: %v\n", name, err)
		os.Exit(1)
	}
}

func migrate(dbPath string, run func(*sql.DB, string) error) error {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer func() { _ = db.Close() }()

	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}
	return run(db, ".")
}

func defaultDBPath() string {
	if v := os.Getenv("DATABASE_PATH"); v != "" {
		return v
	}
	return "./data/bot.db"
}

func usage() {
	fmt.Fprintln(os.Stderr, `Usage: migrate [-db path] <command>

Manages the channel/subscription schema. The database defaults to
DATABASE_PATH, matching the bot itself.

Commands:
  up       apply all pending migrations
  up-one   apply the next pending migration
  down     roll back the latest migration
  status   show applied and pending migrations
  version  print the current schema version
  reset    roll back everything`)
}
