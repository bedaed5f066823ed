package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// DefaultName is used when a sink destination names a directory.
const DefaultName = "reports.db"

// Resolve turns a destination path into a database file path. Directories
// (existing, or spelled with a trailing slash) get DefaultName appended.
func Resolve(path string) string {
	if path == "" {
		return DefaultName
	}
	if os.IsPathSeparator(path[len(path)-1]) {
		return filepath.Join(path, DefaultName)
	}
	if fi, err := os.Stat(path); err == nil && fi.IsDir() {
		return filepath.Join(path, DefaultName)
	}
	return path
}

// Open opens the SQLite database with foreign keys on, creating its parent
// directory if missing.
func Open(path string) (*sql.DB, error) {
	path = Resolve(path)
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", path)
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	return conn, nil
}
