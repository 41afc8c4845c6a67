package db

import (
	"context"
	"database/sql"
	"log"
	"time"

	"github.com/deemkeen/solopub/domain"
	"github.com/google/uuid"
	"modernc.org/sqlite"
	sqlitelib "modernc.org/sqlite/lib"
)

// DB is the database struct.
type DB struct {
	db *sql.DB
}

// Open opens (or creates) the sqlite database at path and runs migrations.
func Open(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	// Configure connection pool for concurrent access
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(time.Hour)

	var journalMode string
	if err := sqlDB.QueryRow("PRAGMA journal_mode=WAL").Scan(&journalMode); err != nil {
		log.Printf("Warning: Failed to enable WAL mode: %v", err)
	} else {
		log.Printf("Database journal mode: %s", journalMode)
	}

	// Optimize PRAGMAs for the concurrent federation workload
	sqlDB.Exec("PRAGMA synchronous = NORMAL")
	sqlDB.Exec("PRAGMA cache_size = -64000")
	sqlDB.Exec("PRAGMA temp_store = MEMORY")
	sqlDB.Exec("PRAGMA busy_timeout = 5000")
	sqlDB.Exec("PRAGMA foreign_keys = ON")

	db := &DB{db: sqlDB}
	if err := db.RunMigrations(); err != nil {
		sqlDB.Close()
		return nil, err
	}

	return db, nil
}

// Close closes the underlying connection pool.
func (db *DB) Close() error {
	return db.db.Close()
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

// isUniqueViolation reports whether err is a sqlite UNIQUE/PK constraint error.
func isUniqueViolation(err error) bool {
	serr, ok := err.(*sqlite.Error)
	if !ok {
		return false
	}
	switch serr.Code() {
	case sqlitelib.SQLITE_CONSTRAINT,
		sqlitelib.SQLITE_CONSTRAINT_UNIQUE,
		sqlitelib.SQLITE_CONSTRAINT_PRIMARYKEY:
		return true
	}
	return false
}

// Remote actor queries
const (
	sqlInsertRemoteActor      = `INSERT INTO remote_actors(id, username, domain, actor_uri, display_name, summary, inbox_uri, outbox_uri, public_key_pem, last_fetched_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	sqlSelectRemoteActorByURI = `SELECT id, username, domain, actor_uri, display_name, summary, inbox_uri, outbox_uri, public_key_pem, last_fetched_at FROM remote_actors WHERE actor_uri = ?`
	sqlUpdateRemoteActor      = `UPDATE remote_actors SET display_name = ?, summary = ?, inbox_uri = ?, outbox_uri = ?, public_key_pem = ?, last_fetched_at = ? WHERE actor_uri = ?`
	sqlDeleteRemoteActorByURI = `DELETE FROM remote_actors WHERE actor_uri = ?`
)

func (db *DB) CreateRemoteActor(actor *domain.RemoteActor) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertRemoteActor,
			actor.Id.String(),
			actor.Username,
			actor.Domain,
			actor.ActorURI,
			actor.DisplayName,
			actor.Summary,
			actor.InboxURI,
			actor.OutboxURI,
			actor.PublicKeyPem,
			actor.LastFetchedAt,
		)
		return err
	})
}

func (db *DB) ReadRemoteActorByURI(uri string) (*domain.RemoteActor, error) {
	row := db.db.QueryRow(sqlSelectRemoteActorByURI, uri)
	var actor domain.RemoteActor
	var idStr string
	err := row.Scan(
		&idStr,
		&actor.Username,
		&actor.Domain,
		&actor.ActorURI,
		&actor.DisplayName,
		&actor.Summary,
		&actor.InboxURI,
		&actor.OutboxURI,
		&actor.PublicKeyPem,
		&actor.LastFetchedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	actor.Id, _ = uuid.Parse(idStr)
	return &actor, nil
}

func (db *DB) UpdateRemoteActor(actor *domain.RemoteActor) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpdateRemoteActor,
			actor.DisplayName,
			actor.Summary,
			actor.InboxURI,
			actor.OutboxURI,
			actor.PublicKeyPem,
			actor.LastFetchedAt,
			actor.ActorURI,
		)
		return err
	})
}

func (db *DB) DeleteRemoteActorByURI(uri string) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDeleteRemoteActorByURI, uri)
		return err
	})
}

// Activity queries
const (
	sqlInsertActivity          = `INSERT INTO activities(id, activity_uri, activity_type, actor_uri, object_uri, raw_json, local, tombstoned, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	sqlSelectActivityByURI     = `SELECT id, activity_uri, activity_type, actor_uri, object_uri, raw_json, local, tombstoned, created_at FROM activities WHERE activity_uri = ?`
	sqlSelectActivityByObjURI  = `SELECT id, activity_uri, activity_type, actor_uri, object_uri, raw_json, local, tombstoned, created_at FROM activities WHERE object_uri = ?`
	sqlTombstoneActivityByURI  = `UPDATE activities SET tombstoned = 1, raw_json = '' WHERE activity_uri = ?`
	sqlDeleteActivityByURI     = `DELETE FROM activities WHERE activity_uri = ?`
	sqlSelectLocalActivities   = `SELECT id, activity_uri, activity_type, actor_uri, object_uri, raw_json, local, tombstoned, created_at FROM activities WHERE local = 1 AND tombstoned = 0 ORDER BY created_at DESC LIMIT ? OFFSET ?`
	sqlCountLocalActivities    = `SELECT COUNT(*) FROM activities WHERE local = 1 AND tombstoned = 0`
)

// CreateActivity inserts an activity record. The activity_uri column is
// UNIQUE, so a concurrent duplicate loses the race inside sqlite itself:
// the returned bool is false when the id was already recorded.
func (db *DB) CreateActivity(activity *domain.Activity) (bool, error) {
	err := db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertActivity,
			activity.Id.String(),
			activity.ActivityURI,
			activity.ActivityType,
			activity.ActorURI,
			activity.ObjectURI,
			activity.RawJSON,
			activity.Local,
			activity.Tombstoned,
			activity.CreatedAt,
		)
		return err
	})
	if err != nil {
		if isUniqueViolation(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (db *DB) scanActivity(row *sql.Row) (*domain.Activity, error) {
	var activity domain.Activity
	var idStr string
	err := row.Scan(
		&idStr,
		&activity.ActivityURI,
		&activity.ActivityType,
		&activity.ActorURI,
		&activity.ObjectURI,
		&activity.RawJSON,
		&activity.Local,
		&activity.Tombstoned,
		&activity.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	activity.Id, _ = uuid.Parse(idStr)
	return &activity, nil
}

func (db *DB) ReadActivityByURI(uri string) (*domain.Activity, error) {
	return db.scanActivity(db.db.QueryRow(sqlSelectActivityByURI, uri))
}

func (db *DB) ReadActivityByObjectURI(uri string) (*domain.Activity, error) {
	return db.scanActivity(db.db.QueryRow(sqlSelectActivityByObjURI, uri))
}

// TombstoneActivityByURI keeps the activity id for future dedup but drops
// the content.
func (db *DB) TombstoneActivityByURI(uri string) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlTombstoneActivityByURI, uri)
		return err
	})
}

// DeleteActivityByURI removes an activity record entirely, so the same id can
// be recorded again. Tombstoning is the right call for deleted content; this
// one exists to unwind a record whose processing never completed.
func (db *DB) DeleteActivityByURI(uri string) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDeleteActivityByURI, uri)
		return err
	})
}

func (db *DB) ReadLocalActivities(limit, offset int) ([]domain.Activity, error) {
	rows, err := db.db.Query(sqlSelectLocalActivities, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var activities []domain.Activity
	for rows.Next() {
		var activity domain.Activity
		var idStr string
		if err := rows.Scan(&idStr, &activity.ActivityURI, &activity.ActivityType, &activity.ActorURI, &activity.ObjectURI, &activity.RawJSON, &activity.Local, &activity.Tombstoned, &activity.CreatedAt); err != nil {
			return activities, err
		}
		activity.Id, _ = uuid.Parse(idStr)
		activities = append(activities, activity)
	}
	return activities, rows.Err()
}

func (db *DB) CountLocalActivities() (int, error) {
	var n int
	err := db.db.QueryRow(sqlCountLocalActivities).Scan(&n)
	return n, err
}

// Note queries
const (
	sqlInsertNote          = `INSERT INTO notes(id, object_uri, content, in_reply_to_uri, tombstoned, created_at) VALUES (?, ?, ?, ?, ?, ?)`
	sqlSelectNoteById      = `SELECT id, object_uri, content, in_reply_to_uri, tombstoned, created_at FROM notes WHERE id = ?`
	sqlSelectNoteByObjURI  = `SELECT id, object_uri, content, in_reply_to_uri, tombstoned, created_at FROM notes WHERE object_uri = ?`
	sqlTombstoneNoteByURI  = `UPDATE notes SET tombstoned = 1, content = '' WHERE object_uri = ?`
	sqlSelectNotes         = `SELECT id, object_uri, content, in_reply_to_uri, tombstoned, created_at FROM notes WHERE tombstoned = 0 ORDER BY created_at DESC LIMIT ? OFFSET ?`
	sqlCountNotes          = `SELECT COUNT(*) FROM notes WHERE tombstoned = 0`
)

func (db *DB) CreateNote(note *domain.Note) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertNote,
			note.Id.String(),
			note.ObjectURI,
			note.Content,
			note.InReplyToURI,
			note.Tombstoned,
			note.CreatedAt,
		)
		return err
	})
}

func (db *DB) scanNote(row *sql.Row) (*domain.Note, error) {
	var note domain.Note
	var idStr string
	err := row.Scan(&idStr, &note.ObjectURI, &note.Content, &note.InReplyToURI, &note.Tombstoned, &note.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	note.Id, _ = uuid.Parse(idStr)
	return &note, nil
}

func (db *DB) ReadNoteById(id uuid.UUID) (*domain.Note, error) {
	return db.scanNote(db.db.QueryRow(sqlSelectNoteById, id.String()))
}

func (db *DB) ReadNoteByObjectURI(uri string) (*domain.Note, error) {
	return db.scanNote(db.db.QueryRow(sqlSelectNoteByObjURI, uri))
}

func (db *DB) TombstoneNoteByObjectURI(uri string) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlTombstoneNoteByURI, uri)
		return err
	})
}

func (db *DB) ReadNotes(limit, offset int) ([]domain.Note, error) {
	rows, err := db.db.Query(sqlSelectNotes, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var notes []domain.Note
	for rows.Next() {
		var note domain.Note
		var idStr string
		if err := rows.Scan(&idStr, &note.ObjectURI, &note.Content, &note.InReplyToURI, &note.Tombstoned, &note.CreatedAt); err != nil {
			return notes, err
		}
		note.Id, _ = uuid.Parse(idStr)
		notes = append(notes, note)
	}
	return notes, rows.Err()
}

func (db *DB) CountNotes() (int, error) {
	var n int
	err := db.db.QueryRow(sqlCountNotes).Scan(&n)
	return n, err
}

// Follow queries
const (
	sqlInsertFollow          = `INSERT INTO follows(id, actor_uri, target_uri, uri, state, created_at) VALUES (?, ?, ?, ?, ?, ?)`
	sqlSelectFollowByURI     = `SELECT id, actor_uri, target_uri, uri, state, created_at FROM follows WHERE uri = ?`
	sqlSelectFollowByPair    = `SELECT id, actor_uri, target_uri, uri, state, created_at FROM follows WHERE actor_uri = ? AND target_uri = ?`
	sqlUpdateFollowState     = `UPDATE follows SET state = ? WHERE uri = ?`
	sqlDeleteFollowByURI     = `DELETE FROM follows WHERE uri = ?`
	sqlDeleteFollowByPair    = `DELETE FROM follows WHERE actor_uri = ? AND target_uri = ?`
	sqlDeleteFollowsByActor  = `DELETE FROM follows WHERE actor_uri = ? OR target_uri = ?`
	sqlSelectFollowsByTarget = `SELECT id, actor_uri, target_uri, uri, state, created_at FROM follows WHERE target_uri = ? AND state = ?`
	sqlSelectFollowsByActor  = `SELECT id, actor_uri, target_uri, uri, state, created_at FROM follows WHERE actor_uri = ? AND state = ?`
)

// CreateFollow inserts a follow edge. The (actor_uri, target_uri) pair is
// UNIQUE; re-requesting an existing edge returns false without touching it.
func (db *DB) CreateFollow(follow *domain.Follow) (bool, error) {
	err := db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertFollow,
			follow.Id.String(),
			follow.ActorURI,
			follow.TargetURI,
			follow.URI,
			follow.State,
			follow.CreatedAt,
		)
		return err
	})
	if err != nil {
		if isUniqueViolation(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (db *DB) scanFollow(row *sql.Row) (*domain.Follow, error) {
	var follow domain.Follow
	var idStr string
	err := row.Scan(&idStr, &follow.ActorURI, &follow.TargetURI, &follow.URI, &follow.State, &follow.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	follow.Id, _ = uuid.Parse(idStr)
	return &follow, nil
}

func (db *DB) ReadFollowByURI(uri string) (*domain.Follow, error) {
	return db.scanFollow(db.db.QueryRow(sqlSelectFollowByURI, uri))
}

func (db *DB) ReadFollowByPair(actorURI, targetURI string) (*domain.Follow, error) {
	return db.scanFollow(db.db.QueryRow(sqlSelectFollowByPair, actorURI, targetURI))
}

func (db *DB) UpdateFollowState(uri, state string) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpdateFollowState, state, uri)
		return err
	})
}

func (db *DB) DeleteFollowByURI(uri string) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDeleteFollowByURI, uri)
		return err
	})
}

func (db *DB) DeleteFollowByPair(actorURI, targetURI string) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDeleteFollowByPair, actorURI, targetURI)
		return err
	})
}

func (db *DB) DeleteFollowsByActorURI(uri string) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDeleteFollowsByActor, uri, uri)
		return err
	})
}

func (db *DB) readFollows(query, uri, state string) ([]domain.Follow, error) {
	rows, err := db.db.Query(query, uri, state)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var follows []domain.Follow
	for rows.Next() {
		var follow domain.Follow
		var idStr string
		if err := rows.Scan(&idStr, &follow.ActorURI, &follow.TargetURI, &follow.URI, &follow.State, &follow.CreatedAt); err != nil {
			return follows, err
		}
		follow.Id, _ = uuid.Parse(idStr)
		follows = append(follows, follow)
	}
	return follows, rows.Err()
}

// ReadFollowers returns edges where targetURI is being followed.
func (db *DB) ReadFollowers(targetURI, state string) ([]domain.Follow, error) {
	return db.readFollows(sqlSelectFollowsByTarget, targetURI, state)
}

// ReadFollowing returns edges where actorURI is the follower.
func (db *DB) ReadFollowing(actorURI, state string) ([]domain.Follow, error) {
	return db.readFollows(sqlSelectFollowsByActor, actorURI, state)
}
