package db

import (
	"context"
	"database/sql"
	"log"
	"sync"
	"time"

	"github.com/halvdan/waxwing/util"
	"modernc.org/sqlite"
	sqlitelib "modernc.org/sqlite/lib"
)

// DB is the database struct.
type DB struct {
	db *sql.DB
}

var (
	dbInstance *DB
	dbOnce     sync.Once
)

const DatabaseFileName = "waxwing.db"

// Open opens a sqlite database at the given path and applies the schema.
// Use ":memory:" for tests.
func Open(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	if path == ":memory:" {
		// A pooled in-memory database would be one database per connection
		sqlDB.SetMaxOpenConns(1)
	} else {
		// Configure connection pool for concurrent access
		sqlDB.SetMaxOpenConns(25)
		sqlDB.SetMaxIdleConns(5)
		sqlDB.SetConnMaxLifetime(time.Hour)

		// Try to enable WAL2 mode, fall back to WAL if not supported
		var journalMode string
		err = sqlDB.QueryRow("PRAGMA journal_mode=WAL2").Scan(&journalMode)
		if err != nil || journalMode == "delete" {
			// WAL2 not supported, try regular WAL
			err = sqlDB.QueryRow("PRAGMA journal_mode=WAL").Scan(&journalMode)
			if err != nil {
				log.Printf("Warning: Failed to enable WAL mode: %v", err)
			} else {
				log.Printf("Database journal mode: %s (WAL2 not supported, using WAL)", journalMode)
			}
		} else {
			log.Printf("Database journal mode: %s", journalMode)
		}
	}

	// Optimize PRAGMAs for the concurrent scheduler/delivery workload
	sqlDB.Exec("PRAGMA synchronous = NORMAL")      // Reduces fsync calls
	sqlDB.Exec("PRAGMA cache_size = -64000")       // 64MB cache per connection
	sqlDB.Exec("PRAGMA temp_store = MEMORY")       // Store temp tables in RAM
	sqlDB.Exec("PRAGMA busy_timeout = 5000")       // Wait up to 5s for locks
	sqlDB.Exec("PRAGMA foreign_keys = ON")         // Enable FK constraints
	sqlDB.Exec("PRAGMA auto_vacuum = INCREMENTAL") // Better performance than FULL

	database := &DB{db: sqlDB}
	if err := database.RunMigrations(); err != nil {
		return nil, err
	}
	return database, nil
}

// GetDB returns the shared database instance.
func GetDB() *DB {
	dbOnce.Do(func() {
		database, err := Open(util.ResolveFilePath(DatabaseFileName))
		if err != nil {
			panic(err)
		}
		log.Printf("Database initialized with connection pooling (max 25 connections)")
		dbInstance = database
	})

	return dbInstance
}

// SetDB overrides the shared instance. Tests use it to point the package at
// an in-memory database.
func SetDB(database *DB) {
	dbOnce.Do(func() {})
	dbInstance = database
}

// wrapTransaction runs the given function within a transaction.
func (db *DB) wrapTransaction(f func(tx *sql.Tx) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()
	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		log.Printf("error starting transaction: %s", err)
		return err
	}
	for {
		err = f(tx)
		if err != nil {
			serr, ok := err.(*sqlite.Error)
			if ok && serr.Code() == sqlitelib.SQLITE_BUSY {
				continue
			}
			tx.Rollback()
			log.Printf("error in transaction: %s", err)
			return err
		}
		err = tx.Commit()
		if err != nil {
			log.Printf("error committing transaction: %s", err)
			return err
		}
		break
	}
	return nil
}
