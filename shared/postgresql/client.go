package postgresql

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strconv"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// Supported database/sql driver names
const (
	DriverPostgres = "postgres" // lib/pq
	DriverPgx      = "pgx"      // jackc/pgx stdlib
)

const (
	defaultConnectTimeout = 5 * time.Second
	healthCheckTimeout    = 2 * time.Second
)

// Config holds PostgreSQL connection configuration
type Config struct {
	Driver          string
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	SSLMode         string
	ApplicationName string // reported in pg_stat_activity
	ConnectTimeout  time.Duration
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// DSN returns a postgres:// URL understood by both drivers. Credentials are escaped.
func (c *Config) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.User, c.Password),
		Host:   net.JoinHostPort(c.Host, strconv.Itoa(c.Port)),
		Path:   "/" + c.Database,
	}

	q := url.Values{}
	if c.SSLMode != "" {
		q.Set("sslmode", c.SSLMode)
	}
	if c.ApplicationName != "" {
		q.Set("application_name", c.ApplicationName)
	}
	q.Set("connect_timeout", strconv.Itoa(int(c.connectTimeout().Seconds())))
	u.RawQuery = q.Encode()

	return u.String()
}

func (c *Config) driverName() (string, error) {
	switch c.Driver {
	case "":
		return DriverPostgres, nil
	case DriverPostgres, DriverPgx:
		return c.Driver, nil
	default:
		return "", fmt.Errorf("unsupported PostgreSQL driver: %q", c.Driver)
	}
}

func (c *Config) connectTimeout() time.Duration {
	if c.ConnectTimeout < time.Second {
		return defaultConnectTimeout
	}
	return c.ConnectTimeout
}

// Client owns the sqlx pool shared by the execution store and the session purger
type Client struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewClient opens the pool, applies the pool limits and pings once before returning
func NewClient(config *Config, logger *slog.Logger) (*Client, error) {
	driver, err := config.driverName()
	if err != nil {
		return nil, err
	}

	logger = logger.With(
		slog.String("driver", driver),
		slog.String("host", config.Host),
		slog.String("database", config.Database),
	)

	db, err := sqlx.Open(driver, config.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open PostgreSQL pool: %w", err)
	}
	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), config.connectTimeout())
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		logger.Error("PostgreSQL unreachable", slog.String("error", err.Error()))
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	logger.Info("Connected to PostgreSQL",
		slog.Int("max_open_conns", config.MaxOpenConns),
		slog.Int("max_idle_conns", config.MaxIdleConns),
	)
	return &Client{db: db, logger: logger}, nil
}

// NewClientWithDB wraps an existing connection pool
func NewClientWithDB(db *sqlx.DB, logger *slog.Logger) *Client {
	return &Client{db: db, logger: logger}
}

// GetDB returns the underlying sqlx.DB instance
func (c *Client) GetDB() *sqlx.DB {
	return c.db
}

// Close closes the pool. Calling it again is a no-op.
func (c *Client) Close() error {
	if c.db == nil {
		return nil
	}

	db := c.db
	c.db = nil
	if err := db.Close(); err != nil {
		c.logger.Error("Failed to close PostgreSQL pool", slog.String("error", err.Error()))
		return err
	}
	c.logger.Info("PostgreSQL pool closed")
	return nil
}

// PoolStats reports the pool counters as a log group
func (c *Client) PoolStats() slog.Value {
	if c.db == nil {
		return slog.GroupValue()
	}

	s := c.db.Stats()
	return slog.GroupValue(
		slog.Int("max_open", s.MaxOpenConnections),
		slog.Int("open", s.OpenConnections),
		slog.Int("in_use", s.InUse),
		slog.Int("idle", s.Idle),
		slog.Int64("wait_count", s.WaitCount),
		slog.Duration("wait_duration", s.WaitDuration),
	)
}

// HealthCheck runs SELECT 1 within a short deadline
func (c *Client) HealthCheck(ctx context.Context) error {
	if c.db == nil {
		return fmt.Errorf("database health check failed: client closed")
	}

	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	if err := c.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}

	var one int
	if err := c.db.GetContext(ctx, &one, "SELECT 1"); err != nil {
		return fmt.Errorf("database query health check failed: %w", err)
	}
	return nil
}
