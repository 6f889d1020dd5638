package db

import (
	"database/sql"
	"log"
)

const (
	// Local and remote actors, unified; locality is a flag
	sqlCreateIdentitiesTable = `CREATE TABLE IF NOT EXISTS identities (
		id TEXT NOT NULL PRIMARY KEY,
		username TEXT NOT NULL,
		domain TEXT NOT NULL,
		actor_uri TEXT UNIQUE NOT NULL,
		local INTEGER DEFAULT 0,
		display_name TEXT,
		inbox_uri TEXT,
		shared_inbox_uri TEXT,
		outbox_uri TEXT,
		featured_collection_uri TEXT,
		public_key_pem TEXT,
		private_key_pem TEXT,
		avatar_url TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		last_fetched_at TIMESTAMP,
		UNIQUE(username, domain)
	)`

	sqlCreateIdentitiesIndices = `
		CREATE INDEX IF NOT EXISTS idx_identities_actor_uri ON identities(actor_uri);
		CREATE INDEX IF NOT EXISTS idx_identities_domain ON identities(domain);
	`

	sqlCreateFollowsTable = `CREATE TABLE IF NOT EXISTS follows (
		id TEXT NOT NULL PRIMARY KEY,
		source_id TEXT NOT NULL REFERENCES identities(id) ON DELETE CASCADE,
		target_id TEXT NOT NULL REFERENCES identities(id) ON DELETE CASCADE,
		uri TEXT,
		boosts INTEGER DEFAULT 1,
		accepted INTEGER DEFAULT 0,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(source_id, target_id)
	)`

	sqlCreateFollowsIndices = `
		CREATE INDEX IF NOT EXISTS idx_follows_source_id ON follows(source_id);
		CREATE INDEX IF NOT EXISTS idx_follows_target_id ON follows(target_id);
		CREATE INDEX IF NOT EXISTS idx_follows_uri ON follows(uri);
	`

	sqlCreateBlocksTable = `CREATE TABLE IF NOT EXISTS blocks (
		id TEXT NOT NULL PRIMARY KEY,
		source_id TEXT NOT NULL REFERENCES identities(id) ON DELETE CASCADE,
		target_id TEXT NOT NULL REFERENCES identities(id) ON DELETE CASCADE,
		mute INTEGER DEFAULT 0,
		active INTEGER DEFAULT 1,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(source_id, target_id)
	)`

	sqlCreateBlocksIndices = `
		CREATE INDEX IF NOT EXISTS idx_blocks_source_id ON blocks(source_id);
	`

	sqlCreatePlaylistsTable = `CREATE TABLE IF NOT EXISTS playlists (
		id TEXT NOT NULL PRIMARY KEY,
		object_uri TEXT UNIQUE NOT NULL,
		author_id TEXT NOT NULL REFERENCES identities(id) ON DELETE CASCADE,
		name TEXT,
		local INTEGER DEFAULT 0,
		public INTEGER DEFAULT 1,
		type_data TEXT,
		stats TEXT,
		stats_updated TIMESTAMP,
		state TEXT NOT NULL,
		state_changed TIMESTAMP,
		state_attempted TIMESTAMP,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreatePlaylistsIndices = `
		CREATE INDEX IF NOT EXISTS idx_playlists_object_uri ON playlists(object_uri);
		CREATE INDEX IF NOT EXISTS idx_playlists_author_id ON playlists(author_id);
		CREATE INDEX IF NOT EXISTS idx_playlists_state ON playlists(state, state_attempted);
	`

	sqlCreatePlaylistItemsTable = `CREATE TABLE IF NOT EXISTS playlist_items (
		id TEXT NOT NULL PRIMARY KEY,
		playlist_id TEXT NOT NULL REFERENCES playlists(id) ON DELETE CASCADE,
		identity_id TEXT NOT NULL REFERENCES identities(id) ON DELETE CASCADE,
		operation TEXT NOT NULL,
		name TEXT,
		artist_name TEXT,
		release_name TEXT,
		number INTEGER DEFAULT 0,
		isrc TEXT,
		upc TEXT,
		isni TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreatePlaylistItemsIndices = `
		CREATE INDEX IF NOT EXISTS idx_playlist_items_playlist_id ON playlist_items(playlist_id, created_at);
	`

	sqlCreateInteractionsTable = `CREATE TABLE IF NOT EXISTS playlist_interactions (
		id TEXT NOT NULL PRIMARY KEY,
		object_uri TEXT UNIQUE,
		type TEXT NOT NULL,
		identity_id TEXT NOT NULL REFERENCES identities(id) ON DELETE CASCADE,
		playlist_id TEXT NOT NULL REFERENCES playlists(id) ON DELETE CASCADE,
		value TEXT,
		published TIMESTAMP,
		state TEXT NOT NULL,
		state_changed TIMESTAMP,
		state_attempted TIMESTAMP,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreateInteractionsIndices = `
		CREATE INDEX IF NOT EXISTS idx_interactions_type_identity_playlist ON playlist_interactions(type, identity_id, playlist_id);
		CREATE INDEX IF NOT EXISTS idx_interactions_state ON playlist_interactions(state, state_attempted);
		CREATE INDEX IF NOT EXISTS idx_interactions_playlist_id ON playlist_interactions(playlist_id);
	`

	sqlCreateFanOutsTable = `CREATE TABLE IF NOT EXISTS fan_outs (
		id TEXT NOT NULL PRIMARY KEY,
		type TEXT NOT NULL,
		identity_id TEXT NOT NULL REFERENCES identities(id) ON DELETE CASCADE,
		subject_playlist_id TEXT NOT NULL REFERENCES playlists(id) ON DELETE CASCADE,
		subject_interaction_id TEXT NOT NULL REFERENCES playlist_interactions(id) ON DELETE CASCADE,
		attempts INTEGER DEFAULT 0,
		next_retry_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreateFanOutsIndices = `
		CREATE INDEX IF NOT EXISTS idx_fan_outs_next_retry ON fan_outs(next_retry_at);
		CREATE INDEX IF NOT EXISTS idx_fan_outs_interaction ON fan_outs(subject_interaction_id);
	`

	// Inbound activity log (for deduplication & debugging)
	sqlCreateActivitiesTable = `CREATE TABLE IF NOT EXISTS activities (
		id TEXT NOT NULL PRIMARY KEY,
		activity_uri TEXT UNIQUE NOT NULL,
		activity_type TEXT NOT NULL,
		actor_uri TEXT NOT NULL,
		object_uri TEXT,
		raw_json TEXT NOT NULL,
		processed INTEGER DEFAULT 0,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		local INTEGER DEFAULT 0
	)`

	sqlCreateActivitiesIndices = `
		CREATE INDEX IF NOT EXISTS idx_activities_uri ON activities(activity_uri);
		CREATE INDEX IF NOT EXISTS idx_activities_type ON activities(activity_type);
		CREATE INDEX IF NOT EXISTS idx_activities_created_at ON activities(created_at DESC);
	`
)

// RunMigrations executes all database migrations
func (db *DB) RunMigrations() error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		tables := []struct {
			name string
			sql  string
		}{
			{"identities", sqlCreateIdentitiesTable},
			{"follows", sqlCreateFollowsTable},
			{"blocks", sqlCreateBlocksTable},
			{"playlists", sqlCreatePlaylistsTable},
			{"playlist_items", sqlCreatePlaylistItemsTable},
			{"playlist_interactions", sqlCreateInteractionsTable},
			{"fan_outs", sqlCreateFanOutsTable},
			{"activities", sqlCreateActivitiesTable},
		}
		for _, table := range tables {
			if err := db.createTableIfNotExists(tx, table.sql, table.name); err != nil {
				return err
			}
		}

		indices := map[string]string{
			"identities":            sqlCreateIdentitiesIndices,
			"follows":               sqlCreateFollowsIndices,
			"blocks":                sqlCreateBlocksIndices,
			"playlists":             sqlCreatePlaylistsIndices,
			"playlist_items":        sqlCreatePlaylistItemsIndices,
			"playlist_interactions": sqlCreateInteractionsIndices,
			"fan_outs":              sqlCreateFanOutsIndices,
			"activities":            sqlCreateActivitiesIndices,
		}
		for name, indexSQL := range indices {
			if _, err := tx.Exec(indexSQL); err != nil {
				log.Printf("Warning: Failed to create %s indices: %v", name, err)
			}
		}

		return nil
	})
}

func (db *DB) createTableIfNotExists(tx *sql.Tx, createSQL string, tableName string) error {
	_, err := tx.Exec(createSQL)
	if err != nil {
		log.Printf("Error creating table %s: %v", tableName, err)
		return err
	}
	return nil
}
