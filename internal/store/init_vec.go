//go:build sqlite_vec && cgo

package store

import (
	vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
)

func init() {
	// Registers the sqlite-vec extension with the mattn/go-sqlite3 driver.
	// No query in this package uses it: similarity search goes through
	// CosineSimilarity in vector.go with or without this build tag.
	vec.Auto()
}
