package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	persistence "github.com/goliatone/go-persistence-bun"
	"github.com/goliatone/go-treasury/migrations"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"

	defaultPingTimeout = 5 * time.Second
	defaultOtelName    = "go-treasury"
)

// DatabaseConfig satisfies the go-persistence-bun config contract.
type DatabaseConfig struct {
	Driver         string `koanf:"driver" mapstructure:"driver"`
	DSN            string `koanf:"dsn" mapstructure:"dsn"`
	Debug          bool   `koanf:"debug" mapstructure:"debug"`
	PingTimeoutMS  int    `koanf:"ping_timeout_ms" mapstructure:"ping_timeout_ms"`
	OtelIdentifier string `koanf:"otel_identifier" mapstructure:"otel_identifier"`
	// MaxOpenConns is forced to 1 for in-memory SQLite.
	MaxOpenConns int  `koanf:"max_open_conns" mapstructure:"max_open_conns"`
	AutoMigrate  bool `koanf:"auto_migrate" mapstructure:"auto_migrate"`
}

func (c DatabaseConfig) GetDebug() bool {
	return c.Debug
}

func (c DatabaseConfig) GetDriver() string {
	return normalizeDriver(c.Driver)
}

func (c DatabaseConfig) GetServer() string {
	return c.DSN
}

func (c DatabaseConfig) GetPingTimeout() time.Duration {
	if c.PingTimeoutMS <= 0 {
		return defaultPingTimeout
	}
	return time.Duration(c.PingTimeoutMS) * time.Millisecond
}

func (c DatabaseConfig) GetOtelIdentifier() string {
	if strings.TrimSpace(c.OtelIdentifier) == "" {
		return defaultOtelName
	}
	return c.OtelIdentifier
}

func (c DatabaseConfig) Validate() error {
	switch c.GetDriver() {
	case DriverPostgres, DriverSQLite:
	default:
		return fmt.Errorf("sqlstore: unsupported driver %q", c.Driver)
	}
	if strings.TrimSpace(c.DSN) == "" {
		return fmt.Errorf("sqlstore: dsn is required")
	}
	if c.MaxOpenConns < 0 {
		return fmt.Errorf("sqlstore: max_open_conns must not be negative")
	}
	return nil
}

// Open connects a persistence client for the configured driver and, when
// AutoMigrate is set, applies the treasury schema for that dialect.
func Open(ctx context.Context, cfg DatabaseConfig) (*persistence.Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	sqlDB, err := sql.Open(cfg.GetDriver(), cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open %s: %w", cfg.GetDriver(), err)
	}
	if conns := maxOpenConns(cfg); conns > 0 {
		sqlDB.SetMaxOpenConns(conns)
	}

	client, err := newPersistenceClient(cfg, sqlDB)
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("sqlstore: new persistence client: %w", err)
	}
	if !cfg.AutoMigrate {
		return client, nil
	}

	schema, err := migrations.Load(migrationDialect(cfg.GetDriver()))
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("sqlstore: load schema: %w", err)
	}
	client.RegisterSQLMigrations(schema.FS)
	if err := client.Migrate(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("sqlstore: migrate: %w", err)
	}
	return client, nil
}

func normalizeDriver(driver string) string {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "postgres", "postgresql", "pg":
		return DriverPostgres
	case "sqlite", "sqlite3":
		return DriverSQLite
	default:
		return strings.ToLower(strings.TrimSpace(driver))
	}
}

func newPersistenceClient(cfg DatabaseConfig, sqlDB *sql.DB) (*persistence.Client, error) {
	if cfg.GetDriver() == DriverSQLite {
		return persistence.New(cfg, sqlDB, sqlitedialect.New())
	}
	return persistence.New(cfg, sqlDB, pgdialect.New())
}

func migrationDialect(driver string) string {
	if driver == DriverSQLite {
		return migrations.DialectSQLite
	}
	return migrations.DialectPostgres
}

func maxOpenConns(cfg DatabaseConfig) int {
	if cfg.GetDriver() == DriverSQLite && strings.Contains(cfg.DSN, "mode=memory") {
		return 1
	}
	return cfg.MaxOpenConns
}
