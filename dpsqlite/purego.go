//go:build !cgo

package dpsqlite

import (
	_ "modernc.org/sqlite" // Driver for non-cgo builds.
)

const sqliteDriverType = "sqlite"
