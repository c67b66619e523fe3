package main

import (
	"errors"
	"flag"
	"fmt"
	"net/url"
	"os"
	"strconv"

	"github.com/cassiomorais/payouts/internal/infrastructure/config"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

func main() {
	var (
		direction string
		dbURL     string
		path      string
		steps     int
	)

	flag.StringVar(&direction, "direction", "up", "Migration direction: up, down, steps or version")
	flag.StringVar(&dbURL, "db", "", "Database URL (or set DATABASE_URL env var)")
	flag.StringVar(&path, "path", "internal/repository/postgres/migrations", "Path to migration files")
	flag.IntVar(&steps, "n", 1, "Number of migrations to apply with -direction=steps; negative rolls back")
	flag.Parse()

	if dbURL == "" {
		dbURL = os.Getenv("DATABASE_URL")
	}
	if dbURL == "" {
		cfg, err := config.Load()
		if err != nil {
			fail("Failed to load config: %v", err)
		}
		dbURL = databaseURL(cfg.Database)
	}

	m, err := migrate.New("file://"+path, dbURL)
	if err != nil {
		fail("Failed to create migrate instance: %v", err)
	}
	defer m.Close()

	switch direction {
	case "up":
		if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			fail("Migration up failed: %v", err)
		}
		fmt.Println("Migrations applied successfully")
	case "down":
		if err := m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			fail("Migration down failed: %v", err)
		}
		fmt.Println("Migrations rolled back successfully")
	case "steps":
		if err := m.Steps(steps); err != nil {
			fail("Migration steps %d failed: %v", steps, err)
		}
		fmt.Printf("Applied %d migration steps\n", steps)
	case "version":
		version, dirty, err := m.Version()
		if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
			fail("Failed to read version: %v", err)
		}
		fmt.Printf("version=%d dirty=%s\n", version, strconv.FormatBool(dirty))
	default:
		fail("Unknown direction: %s (use up, down, steps or version)", direction)
	}
}

func databaseURL(db config.DatabaseConfig) string {
	u := url.URL{
		Scheme:   "postgresql",
		User:     url.UserPassword(db.User, db.Password),
		Host:     fmt.Sprintf("%s:%d", db.Host, db.Port),
		Path:     db.Database,
		RawQuery: url.Values{"sslmode": {db.SSLMode}}.Encode(),
	}
	return u.String()
}

func fail(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
