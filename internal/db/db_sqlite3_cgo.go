//go:build cgo && sqlite3_cgo

package db

// Opt-in cgo driver for builds where the wasm runtime is undesirable.

import _ "github.com/mattn/go-sqlite3"

const (
	driverID   = "mattn/go-sqlite3"
	driverName = "sqlite3"
)
