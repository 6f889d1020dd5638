package db

import (
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/halvdan/waxwing/domain"
)

const (
	sqlInsertIdentity = `INSERT INTO identities(id, username, domain, actor_uri, local, display_name, inbox_uri, shared_inbox_uri, outbox_uri, featured_collection_uri, public_key_pem, private_key_pem, avatar_url, created_at, last_fetched_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	sqlUpdateIdentity = `UPDATE identities SET display_name = ?, inbox_uri = ?, shared_inbox_uri = ?, outbox_uri = ?, featured_collection_uri = ?, public_key_pem = ?, avatar_url = ?, last_fetched_at = ? WHERE actor_uri = ?`

	sqlSelectIdentityColumns = `id, username, domain, actor_uri, local, display_name, inbox_uri, shared_inbox_uri, outbox_uri, featured_collection_uri, public_key_pem, private_key_pem, avatar_url, created_at, last_fetched_at`
)

func (db *DB) CreateIdentity(identity *domain.Identity) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertIdentity,
			identity.Id.String(),
			identity.Username,
			identity.Domain,
			identity.ActorURI,
			identity.Local,
			identity.DisplayName,
			identity.InboxURI,
			identity.SharedInboxURI,
			identity.OutboxURI,
			identity.FeaturedCollectionURI,
			identity.PublicKeyPem,
			identity.PrivateKeyPem,
			identity.AvatarURL,
			identity.CreatedAt,
			identity.LastFetchedAt,
		)
		return err
	})
}

func (db *DB) UpdateIdentity(identity *domain.Identity) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpdateIdentity,
			identity.DisplayName,
			identity.InboxURI,
			identity.SharedInboxURI,
			identity.OutboxURI,
			identity.FeaturedCollectionURI,
			identity.PublicKeyPem,
			identity.AvatarURL,
			identity.LastFetchedAt,
			identity.ActorURI,
		)
		return err
	})
}

func scanIdentity(row interface{ Scan(...interface{}) error }) (error, *domain.Identity) {
	var identity domain.Identity
	var idStr string
	err := row.Scan(
		&idStr,
		&identity.Username,
		&identity.Domain,
		&identity.ActorURI,
		&identity.Local,
		&identity.DisplayName,
		&identity.InboxURI,
		&identity.SharedInboxURI,
		&identity.OutboxURI,
		&identity.FeaturedCollectionURI,
		&identity.PublicKeyPem,
		&identity.PrivateKeyPem,
		&identity.AvatarURL,
		&identity.CreatedAt,
		&identity.LastFetchedAt,
	)
	if err == sql.ErrNoRows {
		return fmt.Errorf("identity: %w", domain.ErrNotFound), nil
	}
	if err != nil {
		return err, nil
	}
	identity.Id, _ = uuid.Parse(idStr)
	return nil, &identity
}

func (db *DB) ReadIdentityByActorURI(uri string) (error, *domain.Identity) {
	row := db.db.QueryRow(`SELECT `+sqlSelectIdentityColumns+` FROM identities WHERE actor_uri = ?`, uri)
	return scanIdentity(row)
}

func (db *DB) ReadIdentityById(id uuid.UUID) (error, *domain.Identity) {
	row := db.db.QueryRow(`SELECT `+sqlSelectIdentityColumns+` FROM identities WHERE id = ?`, id.String())
	return scanIdentity(row)
}

func (db *DB) ReadIdentityByUsername(username string) (error, *domain.Identity) {
	row := db.db.QueryRow(`SELECT `+sqlSelectIdentityColumns+` FROM identities WHERE username = ? AND local = 1`, username)
	return scanIdentity(row)
}
