// Package dbcheck verifies that the connection secret of a deployment opens
// a working PostgreSQL session. It is run from the bastion host.
package dbcheck

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/sampleapp-dev/sampleinfra/internal/secretfetch"
)

// DefaultConnectTimeout is used when the connection string sets none.
const DefaultConnectTimeout = 5 * time.Second

var (
	ErrInvalidConnectionString = errors.New("invalid connection string")
	ErrUnreachable             = errors.New("database unreachable")
)

// Result describes a successful check. It never carries the password.
type Result struct {
	Host          string        `json:"host"`
	Port          uint16        `json:"port"`
	Database      string        `json:"database"`
	User          string        `json:"user"`
	ServerVersion string        `json:"serverVersion"`
	Latency       time.Duration `json:"latency"`
}

// Check fetches the named connection secret and pings the database it
// points at.
func Check(ctx context.Context, c secretfetch.Client, secretName string) (*Result, error) {
	dsn, err := secretfetch.Fetch(ctx, c, secretName)
	if err != nil {
		return nil, err
	}
	return Ping(ctx, dsn)
}

// Ping connects with dsn, runs a ping and reads the server version.
func Ping(ctx context.Context, dsn string) (*Result, error) {
	cfg, err := pgx.ParseConfig(dsn)
	if err != nil {
		// pgx errors can echo parts of the string, which holds the password.
		return nil, ErrInvalidConnectionString
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}

	res := &Result{
		Host:     cfg.Host,
		Port:     cfg.Port,
		Database: cfg.Database,
		User:     cfg.User,
	}

	start := time.Now()
	conn, err := pgx.ConnectConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %s:%d: %w", ErrUnreachable, cfg.Host, cfg.Port, unwrapConnectError(err))
	}
	defer func() { _ = conn.Close(context.WithoutCancel(ctx)) }()

	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("%w: ping: %w", ErrUnreachable, err)
	}
	res.Latency = time.Since(start)

	if err := conn.QueryRow(ctx, "SHOW server_version").Scan(&res.ServerVersion); err != nil {
		return nil, fmt.Errorf("read server version: %w", err)
	}
	return res, nil
}

func unwrapConnectError(err error) error {
	if inner := errors.Unwrap(err); inner != nil {
		return inner
	}
	return err
}
