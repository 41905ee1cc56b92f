//go:build cgo && sqlite3_cgo

package db

import (
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

const (
	driverID   = "mattn/go-sqlite3"
	driverName = "sqlite3"
)

// fileDSN opens path read-write, creating it, with writers taking the lock up front.
func fileDSN(path string) string {
	return fmt.Sprintf("file:%s?mode=rwc&_txlock=immediate&_busy_timeout=5000", path)
}
