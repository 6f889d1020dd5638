package db

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/halvdan/waxwing/domain"
)

const (
	sqlInsertInteraction = `INSERT INTO playlist_interactions(id, object_uri, type, identity_id, playlist_id, value, published, state, state_changed, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	sqlUpdateInteractionObjectURI = `UPDATE playlist_interactions SET object_uri = ?, updated_at = ? WHERE id = ?`

	sqlSelectInteractionColumns = `id, object_uri, type, identity_id, playlist_id, value, published, state, state_changed, created_at, updated_at`
)

func (db *DB) CreateInteraction(interaction *domain.PlaylistInteraction) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		return insertInteraction(tx, interaction)
	})
}

func insertInteraction(tx *sql.Tx, interaction *domain.PlaylistInteraction) error {
	_, err := tx.Exec(sqlInsertInteraction,
		interaction.Id.String(),
		nullableString(interaction.ObjectURI),
		string(interaction.Type),
		interaction.IdentityId.String(),
		interaction.PlaylistId.String(),
		interaction.Value,
		interaction.Published,
		interaction.State,
		interaction.StateChanged,
		interaction.CreatedAt,
		interaction.UpdatedAt,
	)
	return err
}

// CreateVoteBatch inserts the vote interactions and, when typeData is set,
// persists the bumped poll payload in the same transaction. Either all votes
// and the new tallies commit or none do.
func (db *DB) CreateVoteBatch(votes []domain.PlaylistInteraction, playlistId uuid.UUID, typeData *domain.QuestionData) error {
	var encoded string
	if typeData != nil {
		var err error
		encoded, err = typeData.ToJSON()
		if err != nil {
			return err
		}
	}
	return db.wrapTransaction(func(tx *sql.Tx) error {
		for i := range votes {
			if err := insertInteraction(tx, &votes[i]); err != nil {
				return err
			}
		}
		if typeData != nil {
			if _, err := tx.Exec(sqlUpdatePlaylistTypeData, encoded, time.Now(), playlistId.String()); err != nil {
				return err
			}
		}
		return nil
	})
}

// UpdateInteractionObjectURI backfills the object uri once a local
// interaction's activity id is minted.
func (db *DB) UpdateInteractionObjectURI(id uuid.UUID, objectURI string) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpdateInteractionObjectURI, nullableString(objectURI), time.Now(), id.String())
		return err
	})
}

func scanInteraction(row interface{ Scan(...interface{}) error }) (error, *domain.PlaylistInteraction) {
	var interaction domain.PlaylistInteraction
	var idStr, identityIdStr, playlistIdStr, typeStr string
	var objectURI sql.NullString
	err := row.Scan(
		&idStr,
		&objectURI,
		&typeStr,
		&identityIdStr,
		&playlistIdStr,
		&interaction.Value,
		&interaction.Published,
		&interaction.State,
		&interaction.StateChanged,
		&interaction.CreatedAt,
		&interaction.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return fmt.Errorf("interaction: %w", domain.ErrNotFound), nil
	}
	if err != nil {
		return err, nil
	}
	interaction.Id, _ = uuid.Parse(idStr)
	interaction.IdentityId, _ = uuid.Parse(identityIdStr)
	interaction.PlaylistId, _ = uuid.Parse(playlistIdStr)
	interaction.ObjectURI = objectURI.String
	interaction.Type, err = domain.ParseInteractionType(typeStr)
	if err != nil {
		return err, nil
	}
	return nil, &interaction
}

func (db *DB) ReadInteractionById(id uuid.UUID) (error, *domain.PlaylistInteraction) {
	row := db.db.QueryRow(`SELECT `+sqlSelectInteractionColumns+` FROM playlist_interactions WHERE id = ?`, id.String())
	return scanInteraction(row)
}

func (db *DB) ReadInteractionByObjectURI(uri string) (error, *domain.PlaylistInteraction) {
	row := db.db.QueryRow(`SELECT `+sqlSelectInteractionColumns+` FROM playlist_interactions WHERE object_uri = ?`, uri)
	return scanInteraction(row)
}

// ReadActiveInteraction returns the live interaction of the given type by the
// identity on the playlist, if any. Undone interactions do not count.
func (db *DB) ReadActiveInteraction(interactionType domain.InteractionType, identityId, playlistId uuid.UUID) (error, *domain.PlaylistInteraction) {
	query := `SELECT ` + sqlSelectInteractionColumns + ` FROM playlist_interactions
		WHERE type = ? AND identity_id = ? AND playlist_id = ? AND state IN ` + activeStatesClause + ` LIMIT 1`
	row := db.db.QueryRow(query, string(interactionType), identityId.String(), playlistId.String())
	return scanInteraction(row)
}

// HasActiveVote reports whether the identity already has any live vote on the
// playlist, regardless of the chosen option.
func (db *DB) HasActiveVote(identityId, playlistId uuid.UUID) (bool, error) {
	query := `SELECT COUNT(*) FROM playlist_interactions
		WHERE type = ? AND identity_id = ? AND playlist_id = ? AND state IN ` + activeStatesClause
	var count int
	err := db.db.QueryRow(query, string(domain.InteractionVote), identityId.String(), playlistId.String()).Scan(&count)
	return count > 0, err
}

// ReadActiveVotes returns the identity's live votes on a playlist, one row
// per chosen option for multi-choice playlists.
func (db *DB) ReadActiveVotes(identityId, playlistId uuid.UUID) (error, *[]domain.PlaylistInteraction) {
	query := `SELECT ` + sqlSelectInteractionColumns + ` FROM playlist_interactions
		WHERE type = ? AND identity_id = ? AND playlist_id = ? AND state IN ` + activeStatesClause + ` ORDER BY created_at ASC`
	rows, err := db.db.Query(query, string(domain.InteractionVote), identityId.String(), playlistId.String())
	if err != nil {
		return err, nil
	}
	defer rows.Close()

	var votes []domain.PlaylistInteraction
	for rows.Next() {
		err, vote := scanInteraction(rows)
		if err != nil {
			return err, &votes
		}
		votes = append(votes, *vote)
	}
	if err = rows.Err(); err != nil {
		return err, &votes
	}
	return nil, &votes
}

// CountVotesByValue tallies live votes per option value for a playlist.
func (db *DB) CountVotesByValue(playlistId uuid.UUID) (map[string]int, error) {
	query := `SELECT value, COUNT(*) FROM playlist_interactions
		WHERE type = ? AND playlist_id = ? AND state IN ` + activeStatesClause + ` GROUP BY value`
	rows, err := db.db.Query(query, string(domain.InteractionVote), playlistId.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var value string
		var count int
		if err := rows.Scan(&value, &count); err != nil {
			return counts, err
		}
		counts[value] = count
	}
	return counts, rows.Err()
}

// CountDistinctVoters counts identities with at least one live vote on the
// playlist.
func (db *DB) CountDistinctVoters(playlistId uuid.UUID) (int, error) {
	query := `SELECT COUNT(DISTINCT identity_id) FROM playlist_interactions
		WHERE type = ? AND playlist_id = ? AND state IN ` + activeStatesClause
	var count int
	err := db.db.QueryRow(query, string(domain.InteractionVote), playlistId.String()).Scan(&count)
	return count, err
}

// CountActivePinsByIdentity counts the identity's live pins across all
// playlists, for the pin limit check.
func (db *DB) CountActivePinsByIdentity(identityId uuid.UUID) (int, error) {
	query := `SELECT COUNT(*) FROM playlist_interactions
		WHERE type = ? AND identity_id = ? AND state IN ` + activeStatesClause
	var count int
	err := db.db.QueryRow(query, string(domain.InteractionPin), identityId.String()).Scan(&count)
	return count, err
}

// CountInteractionsByType tallies all live interactions on a playlist grouped
// by type, for the stats recompute.
func (db *DB) CountInteractionsByType(playlistId uuid.UUID) (map[domain.InteractionType]int, error) {
	query := `SELECT type, COUNT(*) FROM playlist_interactions
		WHERE playlist_id = ? AND state IN ` + activeStatesClause + ` GROUP BY type`
	rows, err := db.db.Query(query, playlistId.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[domain.InteractionType]int)
	for rows.Next() {
		var typeStr string
		var count int
		if err := rows.Scan(&typeStr, &count); err != nil {
			return counts, err
		}
		interactionType, err := domain.ParseInteractionType(typeStr)
		if err != nil {
			continue
		}
		counts[interactionType] = count
	}
	return counts, rows.Err()
}

// activeStatesClause is an IN (...) literal over the live interaction states.
var activeStatesClause = func() string {
	states := domain.ActiveInteractionStates()
	quoted := make([]string, len(states))
	for i, s := range states {
		quoted[i] = "'" + s + "'"
	}
	return "(" + strings.Join(quoted, ", ") + ")"
}()

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
