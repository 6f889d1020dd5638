package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/halvdan/waxwing/domain"
	"github.com/halvdan/waxwing/stator"
)

// Tables with stator state columns. The table name is interpolated into SQL,
// so only whitelisted names are accepted.
var statorTables = map[string]bool{
	"playlists":             true,
	"playlist_interactions": true,
}

func statorTable(table string) (string, error) {
	if !statorTables[table] {
		return "", fmt.Errorf("not a stator table: %q", table)
	}
	return table, nil
}

// ReadDueInstances returns instances in the given state whose last attempt is
// older than the cutoff, so freshly attempted rows are skipped until their
// try interval elapses.
func (db *DB) ReadDueInstances(table, state string, cutoff time.Time, limit int) ([]stator.Instance, error) {
	table, err := statorTable(table)
	if err != nil {
		return nil, err
	}
	query := `SELECT id, state, state_changed FROM ` + table + `
		WHERE state = ? AND (state_attempted IS NULL OR state_attempted <= ?)
		ORDER BY state_changed ASC LIMIT ?`
	rows, err := db.db.Query(query, state, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var instances []stator.Instance
	for rows.Next() {
		var instance stator.Instance
		if err := rows.Scan(&instance.Id, &instance.State, &instance.StateChanged); err != nil {
			return instances, err
		}
		instances = append(instances, instance)
	}
	return instances, rows.Err()
}

// ClaimAttempt stamps the attempt timestamp if the row is still in the
// expected state and not freshly attempted. At most one concurrent claimer
// succeeds.
func (db *DB) ClaimAttempt(table, id, state string, cutoff time.Time) (bool, error) {
	table, err := statorTable(table)
	if err != nil {
		return false, err
	}
	var claimed bool
	err = db.wrapTransaction(func(tx *sql.Tx) error {
		result, err := tx.Exec(`UPDATE `+table+` SET state_attempted = ?
			WHERE id = ? AND state = ? AND (state_attempted IS NULL OR state_attempted <= ?)`,
			time.Now(), id, state, cutoff)
		if err != nil {
			return err
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return err
		}
		claimed = affected == 1
		return nil
	})
	return claimed, err
}

// TransitionCAS moves the row from one state to another only if it is still
// in the expected state.
func (db *DB) TransitionCAS(table, id, from, to string) (bool, error) {
	table, err := statorTable(table)
	if err != nil {
		return false, err
	}
	var moved bool
	err = db.wrapTransaction(func(tx *sql.Tx) error {
		var innerErr error
		moved, innerErr = transitionCAS(tx, table, id, from, to)
		return innerErr
	})
	return moved, err
}

func transitionCAS(tx *sql.Tx, table, id, from, to string) (bool, error) {
	result, err := tx.Exec(`UPDATE `+table+` SET state = ?, state_changed = ?, state_attempted = NULL
		WHERE id = ? AND state = ?`, to, time.Now(), id, from)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

func (db *DB) ReadInstanceState(table, id string) (string, error) {
	table, err := statorTable(table)
	if err != nil {
		return "", err
	}
	var state string
	err = db.db.QueryRow(`SELECT state FROM `+table+` WHERE id = ?`, id).Scan(&state)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("%s instance %s: %w", table, id, domain.ErrNotFound)
	}
	return state, err
}

// PurgeOlderThan deletes rows that have sat in a delete-after state past the
// cutoff.
func (db *DB) PurgeOlderThan(table, state string, cutoff time.Time) (int64, error) {
	table, err := statorTable(table)
	if err != nil {
		return 0, err
	}
	var purged int64
	err = db.wrapTransaction(func(tx *sql.Tx) error {
		result, err := tx.Exec(`DELETE FROM `+table+` WHERE state = ? AND state_changed <= ?`, state, cutoff)
		if err != nil {
			return err
		}
		purged, err = result.RowsAffected()
		return err
	})
	return purged, err
}

// TransitionWithFanOuts performs a state transition and materializes the
// fan-out rows in the same transaction, so a crash can never leave the row
// progressed without its deliveries, or deliveries without progression.
func (db *DB) TransitionWithFanOuts(table, id, from, to string, fanOuts []domain.FanOut) error {
	table, err := statorTable(table)
	if err != nil {
		return err
	}
	return db.wrapTransaction(func(tx *sql.Tx) error {
		moved, err := transitionCAS(tx, table, id, from, to)
		if err != nil {
			return err
		}
		if !moved {
			return fmt.Errorf("%s instance %s: %w: no longer in state %s", table, id, domain.ErrInvalidTransition, from)
		}
		for i := range fanOuts {
			if err := insertFanOut(tx, &fanOuts[i]); err != nil {
				return err
			}
		}
		return nil
	})
}
