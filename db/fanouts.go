package db

import (
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/halvdan/waxwing/domain"
)

const (
	sqlInsertFanOut = `INSERT INTO fan_outs(id, type, identity_id, subject_playlist_id, subject_interaction_id, attempts, next_retry_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	sqlSelectFanOutColumns = `id, type, identity_id, subject_playlist_id, subject_interaction_id, attempts, next_retry_at, created_at`

	sqlSelectPendingFanOuts = `SELECT id, type, identity_id, subject_playlist_id, subject_interaction_id, attempts, next_retry_at, created_at
		FROM fan_outs WHERE next_retry_at <= ? ORDER BY next_retry_at ASC LIMIT ?`

	sqlUpdateFanOutAttempt = `UPDATE fan_outs SET attempts = ?, next_retry_at = ? WHERE id = ?`
	sqlDeleteFanOut        = `DELETE FROM fan_outs WHERE id = ?`

	sqlCountFanOutsByInteraction  = `SELECT COUNT(*) FROM fan_outs WHERE subject_interaction_id = ?`
	sqlDeleteFanOutsByInteraction = `DELETE FROM fan_outs WHERE subject_interaction_id = ?`
)

func (db *DB) CreateFanOut(fanOut *domain.FanOut) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		return insertFanOut(tx, fanOut)
	})
}

func insertFanOut(tx *sql.Tx, fanOut *domain.FanOut) error {
	_, err := tx.Exec(sqlInsertFanOut,
		fanOut.Id.String(),
		string(fanOut.Type),
		fanOut.IdentityId.String(),
		fanOut.SubjectPlaylistId.String(),
		fanOut.SubjectInteractionId.String(),
		fanOut.Attempts,
		fanOut.NextRetryAt,
		fanOut.CreatedAt,
	)
	return err
}

// ReadPendingFanOuts returns fan-outs due for delivery, oldest first.
func (db *DB) ReadPendingFanOuts(now time.Time, limit int) (error, *[]domain.FanOut) {
	rows, err := db.db.Query(sqlSelectPendingFanOuts, now, limit)
	if err != nil {
		return err, nil
	}
	defer rows.Close()

	var fanOuts []domain.FanOut
	for rows.Next() {
		err, fanOut := scanFanOut(rows)
		if err != nil {
			return err, &fanOuts
		}
		fanOuts = append(fanOuts, *fanOut)
	}
	if err = rows.Err(); err != nil {
		return err, &fanOuts
	}
	return nil, &fanOuts
}

func (db *DB) ReadFanOutsByInteraction(interactionId uuid.UUID) (error, *[]domain.FanOut) {
	rows, err := db.db.Query(`SELECT `+sqlSelectFanOutColumns+` FROM fan_outs WHERE subject_interaction_id = ?`, interactionId.String())
	if err != nil {
		return err, nil
	}
	defer rows.Close()

	var fanOuts []domain.FanOut
	for rows.Next() {
		err, fanOut := scanFanOut(rows)
		if err != nil {
			return err, &fanOuts
		}
		fanOuts = append(fanOuts, *fanOut)
	}
	if err = rows.Err(); err != nil {
		return err, &fanOuts
	}
	return nil, &fanOuts
}

func scanFanOut(row interface{ Scan(...interface{}) error }) (error, *domain.FanOut) {
	var fanOut domain.FanOut
	var idStr, typeStr, identityIdStr, playlistIdStr, interactionIdStr string
	err := row.Scan(
		&idStr,
		&typeStr,
		&identityIdStr,
		&playlistIdStr,
		&interactionIdStr,
		&fanOut.Attempts,
		&fanOut.NextRetryAt,
		&fanOut.CreatedAt,
	)
	if err != nil {
		return err, nil
	}
	fanOut.Id, _ = uuid.Parse(idStr)
	fanOut.IdentityId, _ = uuid.Parse(identityIdStr)
	fanOut.SubjectPlaylistId, _ = uuid.Parse(playlistIdStr)
	fanOut.SubjectInteractionId, _ = uuid.Parse(interactionIdStr)
	fanOut.Type = domain.FanOutType(typeStr)
	return nil, &fanOut
}

// UpdateFanOutAttempt records a failed delivery and schedules the retry.
func (db *DB) UpdateFanOutAttempt(id uuid.UUID, attempts int, nextRetryAt time.Time) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpdateFanOutAttempt, attempts, nextRetryAt, id.String())
		return err
	})
}

func (db *DB) DeleteFanOut(id uuid.UUID) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDeleteFanOut, id.String())
		return err
	})
}

// CountFanOutsByInteraction counts outstanding deliveries for an interaction.
// Zero means the current fan-out wave is fully delivered.
func (db *DB) CountFanOutsByInteraction(interactionId uuid.UUID) (int, error) {
	var count int
	err := db.db.QueryRow(sqlCountFanOutsByInteraction, interactionId.String()).Scan(&count)
	return count, err
}

// DeleteFanOutsByInteraction drops any undelivered fan-outs for an
// interaction, used when an undo cancels deliveries still in flight.
func (db *DB) DeleteFanOutsByInteraction(interactionId uuid.UUID) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDeleteFanOutsByInteraction, interactionId.String())
		return err
	})
}
