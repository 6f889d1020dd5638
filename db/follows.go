package db

import (
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/halvdan/waxwing/domain"
)

const (
	sqlInsertFollow      = `INSERT INTO follows(id, source_id, target_id, uri, boosts, accepted, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`
	sqlSelectFollowByURI = `SELECT id, source_id, target_id, uri, boosts, accepted, created_at FROM follows WHERE uri = ?`
	sqlDeleteFollowByURI = `DELETE FROM follows WHERE uri = ?`

	sqlSelectFollowBySourceTarget = `SELECT id, source_id, target_id, uri, boosts, accepted, created_at FROM follows WHERE source_id = ? AND target_id = ?`

	// Inbound follows of an identity: rows whose target is the identity
	sqlSelectActiveFollowsOfTarget = `SELECT id, source_id, target_id, uri, boosts, accepted, created_at FROM follows
		WHERE target_id = ? AND accepted = 1`

	sqlSelectFollowerIdentities = `SELECT identities.` + sqlSelectIdentityColumnsJoined + ` FROM follows
		INNER JOIN identities ON identities.id = follows.source_id
		WHERE follows.target_id = ? AND follows.accepted = 1`

	sqlInsertBlock = `INSERT INTO blocks(id, source_id, target_id, mute, active, created_at) VALUES (?, ?, ?, ?, ?, ?)`

	sqlSelectBlockedTargets = `SELECT target_id FROM blocks WHERE source_id = ? AND active = 1 AND mute = 0`
)

// Join-qualified column list for follower queries
const sqlSelectIdentityColumnsJoined = `id, identities.username, identities.domain, identities.actor_uri, identities.local, identities.display_name, identities.inbox_uri, identities.shared_inbox_uri, identities.outbox_uri, identities.featured_collection_uri, identities.public_key_pem, identities.private_key_pem, identities.avatar_url, identities.created_at, identities.last_fetched_at`

func (db *DB) CreateFollow(follow *domain.Follow) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertFollow,
			follow.Id.String(),
			follow.SourceId.String(),
			follow.TargetId.String(),
			follow.URI,
			follow.Boosts,
			follow.Accepted,
			follow.CreatedAt,
		)
		return err
	})
}

func (db *DB) ReadFollowByURI(uri string) (error, *domain.Follow) {
	row := db.db.QueryRow(sqlSelectFollowByURI, uri)
	return scanFollow(row)
}

// ReadFollowBySourceTarget returns the follow edge for an identity pair.
// The pair is unique regardless of the follow activity's id.
func (db *DB) ReadFollowBySourceTarget(sourceId, targetId uuid.UUID) (error, *domain.Follow) {
	row := db.db.QueryRow(sqlSelectFollowBySourceTarget, sourceId.String(), targetId.String())
	return scanFollow(row)
}

func (db *DB) DeleteFollowByURI(uri string) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDeleteFollowByURI, uri)
		return err
	})
}

func (db *DB) AcceptFollowByURI(uri string) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(`UPDATE follows SET accepted = 1 WHERE uri = ?`, uri)
		return err
	})
}

func scanFollow(row interface{ Scan(...interface{}) error }) (error, *domain.Follow) {
	var follow domain.Follow
	var idStr, sourceIdStr, targetIdStr string
	err := row.Scan(
		&idStr,
		&sourceIdStr,
		&targetIdStr,
		&follow.URI,
		&follow.Boosts,
		&follow.Accepted,
		&follow.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return fmt.Errorf("follow: %w", domain.ErrNotFound), nil
	}
	if err != nil {
		return err, nil
	}
	follow.Id, _ = uuid.Parse(idStr)
	follow.SourceId, _ = uuid.Parse(sourceIdStr)
	follow.TargetId, _ = uuid.Parse(targetIdStr)
	return nil, &follow
}

// ReadActiveFollowsOfTarget returns the accepted inbound follows of an
// identity (the rows whose source is a follower of the identity).
func (db *DB) ReadActiveFollowsOfTarget(targetId uuid.UUID) (error, *[]domain.Follow) {
	rows, err := db.db.Query(sqlSelectActiveFollowsOfTarget, targetId.String())
	if err != nil {
		return err, nil
	}
	defer rows.Close()

	var follows []domain.Follow
	for rows.Next() {
		var follow domain.Follow
		var idStr, sourceIdStr, targetIdStr string
		if err := rows.Scan(&idStr, &sourceIdStr, &targetIdStr, &follow.URI, &follow.Boosts, &follow.Accepted, &follow.CreatedAt); err != nil {
			return err, &follows
		}
		follow.Id, _ = uuid.Parse(idStr)
		follow.SourceId, _ = uuid.Parse(sourceIdStr)
		follow.TargetId, _ = uuid.Parse(targetIdStr)
		follows = append(follows, follow)
	}
	if err = rows.Err(); err != nil {
		return err, &follows
	}
	return nil, &follows
}

// ReadFollowerIdentities returns the identities of an identity's accepted
// followers, optionally limited to follows that want boosts.
func (db *DB) ReadFollowerIdentities(targetId uuid.UUID, boostsOnly bool) (error, *[]domain.Identity) {
	query := sqlSelectFollowerIdentities
	if boostsOnly {
		query += ` AND follows.boosts = 1`
	}
	rows, err := db.db.Query(query, targetId.String())
	if err != nil {
		return err, nil
	}
	defer rows.Close()

	var identities []domain.Identity
	for rows.Next() {
		err, identity := scanIdentity(rows)
		if err != nil {
			return err, &identities
		}
		identities = append(identities, *identity)
	}
	if err = rows.Err(); err != nil {
		return err, &identities
	}
	return nil, &identities
}

func (db *DB) CreateBlock(block *domain.Block) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertBlock,
			block.Id.String(),
			block.SourceId.String(),
			block.TargetId.String(),
			block.Mute,
			block.Active,
			block.CreatedAt,
		)
		return err
	})
}

// ReadBlockedTargetIds returns the identities hard-blocked by the source.
// Mute blocks are excluded; they only silence, never remove fan-out targets.
func (db *DB) ReadBlockedTargetIds(sourceId uuid.UUID) (error, map[uuid.UUID]bool) {
	rows, err := db.db.Query(sqlSelectBlockedTargets, sourceId.String())
	if err != nil {
		return err, nil
	}
	defer rows.Close()

	blocked := make(map[uuid.UUID]bool)
	for rows.Next() {
		var targetIdStr string
		if err := rows.Scan(&targetIdStr); err != nil {
			return err, blocked
		}
		targetId, err := uuid.Parse(targetIdStr)
		if err != nil {
			continue
		}
		blocked[targetId] = true
	}
	if err = rows.Err(); err != nil {
		return err, blocked
	}
	return nil, blocked
}
