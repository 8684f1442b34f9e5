//go:build cgo

package dpsqlite

import (
	_ "github.com/mattn/go-sqlite3" // Driver for cgo builds.
)

const sqliteDriverType = "sqlite3"
