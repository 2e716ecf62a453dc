package database

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

const sqlitePrefix = "sqlite://"

// NewDatabase opens postgres for postgres:// URLs and sqlite otherwise, and
// brings the schema up to date.
func NewDatabase(databaseURL string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	isSqlite := false

	switch {
	case strings.HasPrefix(databaseURL, "postgres://"), strings.HasPrefix(databaseURL, "postgresql://"):
		log.Println("Connecting to postgres database...")
		dialector = postgres.Open(databaseURL)
	default:
		path := strings.TrimPrefix(databaseURL, sqlitePrefix)
		if path == "" {
			path = "cracknum.db"
		}
		if path != ":memory:" && !strings.HasPrefix(path, "file:") {
			if err := os.MkdirAll(filepath.Dir(path), os.ModePerm); err != nil {
				return nil, fmt.Errorf("error creating database directory: %w", err)
			}
		}
		log.Printf("Opening sqlite database %s", path)
		dialector = sqlite.Open(path)
		isSqlite = true
	}

	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}

	if isSqlite {
		// The api and the worker share one process in local mode; a single
		// connection serializes their writes instead of failing with SQLITE_BUSY.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("unable to access sqlite connection pool: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}

	if err := GetMigrator(db).Migrate(); err != nil {
		return nil, fmt.Errorf("error migrating database: %w", err)
	}

	return db, nil
}
