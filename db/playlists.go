package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/halvdan/waxwing/domain"
)

const (
	sqlInsertPlaylist = `INSERT INTO playlists(id, object_uri, author_id, name, local, public, type_data, stats, state, state_changed, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	sqlUpdatePlaylistTypeData = `UPDATE playlists SET type_data = ?, updated_at = ? WHERE id = ?`
	sqlUpdatePlaylistStats    = `UPDATE playlists SET stats = ?, stats_updated = ?, updated_at = ? WHERE id = ?`
	sqlDeletePlaylist         = `DELETE FROM playlists WHERE id = ?`

	sqlSelectPlaylistColumns = `id, object_uri, author_id, name, local, public, type_data, stats, stats_updated, state, state_changed, created_at, updated_at`

	sqlInsertPlaylistItem = `INSERT INTO playlist_items(id, playlist_id, identity_id, operation, name, artist_name, release_name, number, isrc, upc, isni, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	sqlSelectItemsByPlaylist = `SELECT id, playlist_id, identity_id, operation, name, artist_name, release_name, number, isrc, upc, isni, created_at
		FROM playlist_items WHERE playlist_id = ? ORDER BY created_at ASC`
	sqlSelectItemByISRC = `SELECT id, playlist_id, identity_id, operation, name, artist_name, release_name, number, isrc, upc, isni, created_at
		FROM playlist_items WHERE playlist_id = ? AND isrc = ? AND operation = ? LIMIT 1`
)

func (db *DB) CreatePlaylist(playlist *domain.Playlist) error {
	typeData, err := marshalTypeData(playlist.TypeData)
	if err != nil {
		return err
	}
	stats, err := marshalStats(playlist.Stats)
	if err != nil {
		return err
	}
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertPlaylist,
			playlist.Id.String(),
			playlist.ObjectURI,
			playlist.AuthorId.String(),
			playlist.Name,
			playlist.Local,
			playlist.Public,
			typeData,
			stats,
			playlist.State,
			playlist.StateChanged,
			playlist.CreatedAt,
			playlist.UpdatedAt,
		)
		return err
	})
}

func (db *DB) UpdatePlaylistTypeData(id uuid.UUID, typeData *domain.QuestionData) error {
	encoded, err := marshalTypeData(typeData)
	if err != nil {
		return err
	}
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpdatePlaylistTypeData, encoded, time.Now(), id.String())
		return err
	})
}

func (db *DB) UpdatePlaylistStats(id uuid.UUID, stats map[string]int, at time.Time) error {
	encoded, err := marshalStats(stats)
	if err != nil {
		return err
	}
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpdatePlaylistStats, encoded, at, at, id.String())
		return err
	})
}

// DeletePlaylist removes the playlist; items, interactions and fan-outs go
// with it through the cascades.
func (db *DB) DeletePlaylist(id uuid.UUID) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDeletePlaylist, id.String())
		return err
	})
}

func scanPlaylist(row interface{ Scan(...interface{}) error }) (error, *domain.Playlist) {
	var playlist domain.Playlist
	var idStr, authorIdStr, typeData, stats string
	var statsUpdated sql.NullTime
	err := row.Scan(
		&idStr,
		&playlist.ObjectURI,
		&authorIdStr,
		&playlist.Name,
		&playlist.Local,
		&playlist.Public,
		&typeData,
		&stats,
		&statsUpdated,
		&playlist.State,
		&playlist.StateChanged,
		&playlist.CreatedAt,
		&playlist.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return fmt.Errorf("playlist: %w", domain.ErrNotFound), nil
	}
	if err != nil {
		return err, nil
	}
	playlist.Id, _ = uuid.Parse(idStr)
	playlist.AuthorId, _ = uuid.Parse(authorIdStr)
	if statsUpdated.Valid {
		playlist.StatsUpdated = &statsUpdated.Time
	}
	playlist.TypeData, err = domain.QuestionDataFromJSON(typeData)
	if err != nil {
		return err, nil
	}
	if stats != "" {
		if err := json.Unmarshal([]byte(stats), &playlist.Stats); err != nil {
			return err, nil
		}
	}
	return nil, &playlist
}

func (db *DB) ReadPlaylistByObjectURI(uri string) (error, *domain.Playlist) {
	row := db.db.QueryRow(`SELECT `+sqlSelectPlaylistColumns+` FROM playlists WHERE object_uri = ?`, uri)
	return scanPlaylist(row)
}

func (db *DB) ReadPlaylistById(id uuid.UUID) (error, *domain.Playlist) {
	row := db.db.QueryRow(`SELECT `+sqlSelectPlaylistColumns+` FROM playlists WHERE id = ?`, id.String())
	return scanPlaylist(row)
}

// ReadRecentPlaylists returns the newest public local playlists.
func (db *DB) ReadRecentPlaylists(limit int) (error, *[]domain.Playlist) {
	rows, err := db.db.Query(`SELECT `+sqlSelectPlaylistColumns+` FROM playlists
		WHERE local = 1 AND public = 1 ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return err, nil
	}
	defer rows.Close()

	var playlists []domain.Playlist
	for rows.Next() {
		err, playlist := scanPlaylist(rows)
		if err != nil {
			return err, &playlists
		}
		playlists = append(playlists, *playlist)
	}
	if err = rows.Err(); err != nil {
		return err, &playlists
	}
	return nil, &playlists
}

func (db *DB) CreatePlaylistItem(item *domain.PlaylistItem) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertPlaylistItem,
			item.Id.String(),
			item.PlaylistId.String(),
			item.IdentityId.String(),
			item.Operation,
			item.Name,
			item.ArtistName,
			item.ReleaseName,
			item.Number,
			item.ISRC,
			item.UPC,
			item.ISNI,
			item.CreatedAt,
		)
		return err
	})
}

func (db *DB) ReadItemsByPlaylist(playlistId uuid.UUID) (error, *[]domain.PlaylistItem) {
	rows, err := db.db.Query(sqlSelectItemsByPlaylist, playlistId.String())
	if err != nil {
		return err, nil
	}
	defer rows.Close()

	var items []domain.PlaylistItem
	for rows.Next() {
		err, item := scanPlaylistItem(rows)
		if err != nil {
			return err, &items
		}
		items = append(items, *item)
	}
	if err = rows.Err(); err != nil {
		return err, &items
	}
	return nil, &items
}

// ReadItemByISRC finds an existing item row for the isrc/operation pair so
// item upserts stay idempotent.
func (db *DB) ReadItemByISRC(playlistId uuid.UUID, isrc, operation string) (error, *domain.PlaylistItem) {
	row := db.db.QueryRow(sqlSelectItemByISRC, playlistId.String(), isrc, operation)
	err, item := scanPlaylistItem(row)
	if err == sql.ErrNoRows {
		return fmt.Errorf("playlist item: %w", domain.ErrNotFound), nil
	}
	return err, item
}

func scanPlaylistItem(row interface{ Scan(...interface{}) error }) (error, *domain.PlaylistItem) {
	var item domain.PlaylistItem
	var idStr, playlistIdStr, identityIdStr string
	err := row.Scan(
		&idStr,
		&playlistIdStr,
		&identityIdStr,
		&item.Operation,
		&item.Name,
		&item.ArtistName,
		&item.ReleaseName,
		&item.Number,
		&item.ISRC,
		&item.UPC,
		&item.ISNI,
		&item.CreatedAt,
	)
	if err != nil {
		return err, nil
	}
	item.Id, _ = uuid.Parse(idStr)
	item.PlaylistId, _ = uuid.Parse(playlistIdStr)
	item.IdentityId, _ = uuid.Parse(identityIdStr)
	return nil, &item
}

func marshalTypeData(typeData *domain.QuestionData) (string, error) {
	if typeData == nil {
		return "", nil
	}
	return typeData.ToJSON()
}

func marshalStats(stats map[string]int) (string, error) {
	if stats == nil {
		return "", nil
	}
	buf, err := json.Marshal(stats)
	if err != nil {
		return "", err
	}
	return string(buf), nil
}
