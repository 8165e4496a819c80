package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config configures storage.
//
// Driver values:
//   - "sqlite": Path is the database file (created if missing)
//   - "postgres": DSN is a postgres:// URL
type Config struct {
	Driver      string
	Path        string
	DSN         string
	BusyTimeout time.Duration // sqlite only; 0 means default
	MaxConns    int           // postgres only; 0 means default
}
