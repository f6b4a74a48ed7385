package db

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/memohai/crmsync/internal/config"
)

// MigrationStatus is the schema version after a migrate command. Version 0
// means no migration has been applied.
type MigrationStatus struct {
	Version uint
	Dirty   bool
}

func (s MigrationStatus) String() string {
	if s.Dirty {
		return fmt.Sprintf("version %d (dirty)", s.Version)
	}
	return fmt.Sprintf("version %d", s.Version)
}

// RunMigrate applies or rolls back database migrations.
// The migrationsFS should contain .sql files at its root (not in a subdirectory).
// Supported commands: "up", "down", "steps N", "version", "force N".
func RunMigrate(logger *slog.Logger, cfg config.PostgresConfig, migrationsFS fs.FS, command string, args []string) (MigrationStatus, error) {
	var n int
	switch command {
	case "up", "down", "version":
	case "steps", "force":
		if len(args) == 0 {
			return MigrationStatus{}, fmt.Errorf("%s requires a number argument", command)
		}
		v, err := strconv.Atoi(args[0])
		if err != nil {
			return MigrationStatus{}, fmt.Errorf("invalid %s argument %q: %w", command, args[0], err)
		}
		n = v
	default:
		return MigrationStatus{}, fmt.Errorf("unknown migrate command: %s (use: up, down, steps, version, force)", command)
	}
	if logger == nil {
		logger = slog.Default()
	}

	sourceDriver, err := iofs.New(migrationsFS, ".")
	if err != nil {
		return MigrationStatus{}, fmt.Errorf("migration source: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", sourceDriver, DSN(cfg))
	if err != nil {
		return MigrationStatus{}, fmt.Errorf("migrate init: %w", err)
	}
	defer m.Close()
	m.Log = &migrateLogger{logger: logger.With(slog.String("component", "migrate"))}

	switch command {
	case "up":
		err = m.Up()
	case "down":
		err = m.Down()
	case "steps":
		err = m.Steps(n)
	case "force":
		err = m.Force(n)
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return MigrationStatus{}, fmt.Errorf("migrate %s: %w", command, err)
	}

	status, err := currentVersion(m)
	if err != nil {
		return MigrationStatus{}, err
	}
	logger.Info("migrate "+command, slog.Uint64("version", uint64(status.Version)), slog.Bool("dirty", status.Dirty))
	return status, nil
}

func currentVersion(m *migrate.Migrate) (MigrationStatus, error) {
	ver, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return MigrationStatus{}, nil
	}
	if err != nil {
		return MigrationStatus{}, fmt.Errorf("migrate version: %w", err)
	}
	return MigrationStatus{Version: ver, Dirty: dirty}, nil
}

// migrateLogger adapts slog to migrate.Logger.
type migrateLogger struct {
	logger *slog.Logger
}

func (l *migrateLogger) Printf(format string, v ...any) {
	l.logger.Debug(fmt.Sprintf(format, v...))
}

func (l *migrateLogger) Verbose() bool {
	return false
}
