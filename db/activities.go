package db

import (
	"database/sql"

	"github.com/google/uuid"
)

const (
	sqlInsertActivity = `INSERT INTO activities(id, activity_uri, activity_type, actor_uri, object_uri, raw_json, processed, created_at, local)
		VALUES (?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP, ?)`
	sqlCountActivityByURI  = `SELECT COUNT(*) FROM activities WHERE activity_uri = ?`
	sqlMarkActivityHandled = `UPDATE activities SET processed = 1 WHERE activity_uri = ?`
)

// LogActivity records an inbound or outbound activity for deduplication and
// debugging.
func (db *DB) LogActivity(activityURI, activityType, actorURI, objectURI, rawJSON string, local bool) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertActivity,
			uuid.New().String(),
			activityURI,
			activityType,
			actorURI,
			objectURI,
			rawJSON,
			0,
			local,
		)
		return err
	})
}

// HasSeenActivity reports whether an activity id was already logged.
func (db *DB) HasSeenActivity(activityURI string) (bool, error) {
	var count int
	err := db.db.QueryRow(sqlCountActivityByURI, activityURI).Scan(&count)
	return count > 0, err
}

func (db *DB) MarkActivityProcessed(activityURI string) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlMarkActivityHandled, activityURI)
		return err
	})
}
