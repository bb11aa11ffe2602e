package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/odyssey-erp/unit4-bridge/internal/platform/db"
)

// Migrator applies schema migrations.
type Migrator interface {
	Up() error
	Down(steps int) error
	Version() (uint, bool, error)
}

// DSNMigrator runs the embedded migrations against a Postgres DSN.
type DSNMigrator string

// Up implements Migrator.
func (m DSNMigrator) Up() error { return db.MigrateUp(string(m)) }

// Down implements Migrator.
func (m DSNMigrator) Down(steps int) error { return db.MigrateDown(string(m), steps) }

// Version implements Migrator.
func (m DSNMigrator) Version() (uint, bool, error) { return db.MigrationVersion(string(m)) }

// MigrateOptions configures the migrate command.
type MigrateOptions struct {
	Direction string
	Steps     int
	Stdout    io.Writer
	Stderr    io.Writer
}

// MigrateCommand runs up, down or version and prints the resulting version.
func MigrateCommand(m Migrator, opts MigrateOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	direction := strings.ToLower(strings.TrimSpace(opts.Direction))
	var err error
	switch direction {
	case "up":
		err = m.Up()
	case "down":
		if opts.Steps <= 0 {
			fmt.Fprintln(opts.Stderr, "migrate: --steps must be positive")
			return ExitError
		}
		err = m.Down(opts.Steps)
	case "version":
	default:
		fmt.Fprintf(opts.Stderr, "migrate: invalid direction %q (expected up, down or version)\n", opts.Direction)
		return ExitError
	}
	if err != nil {
		fmt.Fprintf(opts.Stderr, "migrate %s: %v\n", direction, err)
		return ExitError
	}
	version, dirty, err := m.Version()
	if err != nil {
		fmt.Fprintf(opts.Stderr, "migrate version: %v\n", err)
		return ExitError
	}
	if dirty {
		fmt.Fprintf(opts.Stdout, "schema version %d (dirty)\n", version)
		return ExitError
	}
	fmt.Fprintf(opts.Stdout, "schema version %d\n", version)
	return ExitOK
}
