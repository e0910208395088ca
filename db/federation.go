package db

import (
	"database/sql"
	"time"

	"github.com/deemkeen/mammut/domain"
	"github.com/google/uuid"
)

// Canonical URI allocation
const (
	sqlInsertURI        = `INSERT INTO uris(uri, object_kind, object_id) VALUES (?, ?, ?) ON CONFLICT(uri) DO NOTHING`
	sqlDeleteURI        = `DELETE FROM uris WHERE uri = ?`
	sqlSelectURI        = `SELECT uri, object_kind FROM uris WHERE uri = ?`
	sqlInsertHashtag    = `INSERT INTO note_hashtags(note_id, name) VALUES (?, ?) ON CONFLICT DO NOTHING`
	sqlInsertMention    = `INSERT INTO note_mentions(note_id, href) VALUES (?, ?) ON CONFLICT DO NOTHING`
	sqlInsertAttachment = `INSERT INTO note_attachments(id, note_id, url, media_type, created_at) VALUES (?, ?, ?, ?, ?) ON CONFLICT DO NOTHING`
	sqlSelectAttachmentsByNote = `SELECT id, note_id, url, media_type, fetched, created_at FROM note_attachments WHERE note_id = ? ORDER BY created_at ASC`
	sqlSelectAttachmentById    = `SELECT id, note_id, url, media_type, fetched, created_at FROM note_attachments WHERE id = ?`
	sqlMarkAttachmentFetched   = `UPDATE note_attachments SET fetched = 1 WHERE id = ?`
	sqlSelectAnyNoteById = `SELECT id, account_id, account_local, message, summary, uri, in_reply_to_id, in_reply_to_uri, published, created_at FROM notes WHERE id = ?`
)

// IsURIAllocated reports whether this server already materialized an
// object for the given canonical URI.
func (db *DB) IsURIAllocated(uri string) (error, bool) {
	row := db.db.QueryRow(sqlSelectURI, uri)
	var stored, kind string
	err := row.Scan(&stored, &kind)
	if err == sql.ErrNoRows {
		return nil, false
	}
	if err != nil {
		return err, false
	}
	return nil, true
}

// AllocateURI records a canonical URI outside of an object insert, e.g.
// for activity ids that carry no object of their own.
func (db *DB) AllocateURI(uri string, kind string, objectId uuid.UUID) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertURI, uri, kind, objectId.String())
		return err
	})
}

// ReadAnyNoteById reads a note regardless of whether its author is
// local or remote.
func (db *DB) ReadAnyNoteById(id uuid.UUID) (error, *domain.Note) {
	row := db.db.QueryRow(sqlSelectAnyNoteById, id.String())
	var note domain.Note
	var storedURI sql.NullString
	var published sql.NullTime
	var idStr, accountIdStr, inReplyToIdStr string
	var local int
	err := row.Scan(&idStr, &accountIdStr, &local, &note.Message, &note.Summary, &storedURI, &inReplyToIdStr, &note.InReplyToURI, &published, &note.CreatedAt)
	if err != nil {
		return err, nil
	}
	note.Id, _ = uuid.Parse(idStr)
	note.AccountId, _ = uuid.Parse(accountIdStr)
	note.AccountLocal = local == 1
	note.URI = storedURI.String
	note.InReplyToId, _ = uuid.Parse(inReplyToIdStr)
	note.Published = published.Time
	return nil, &note
}

// ReadNoteAttachments lists a note's attachments, oldest first.
func (db *DB) ReadNoteAttachments(noteId uuid.UUID) (error, *[]domain.Attachment) {
	rows, err := db.db.Query(sqlSelectAttachmentsByNote, noteId.String())
	if err != nil {
		return err, nil
	}
	defer rows.Close()

	var attachments []domain.Attachment
	for rows.Next() {
		att, err := scanAttachment(rows.Scan)
		if err != nil {
			return err, &attachments
		}
		attachments = append(attachments, *att)
	}
	if err = rows.Err(); err != nil {
		return err, &attachments
	}
	return nil, &attachments
}

func (db *DB) ReadAttachmentById(id uuid.UUID) (error, *domain.Attachment) {
	row := db.db.QueryRow(sqlSelectAttachmentById, id.String())
	att, err := scanAttachment(row.Scan)
	if err != nil {
		return err, nil
	}
	return nil, att
}

// MarkAttachmentFetched records that the attachment's document was
// dereferenced successfully at least once.
func (db *DB) MarkAttachmentFetched(id uuid.UUID) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlMarkAttachmentFetched, id.String())
		return err
	})
}

func scanAttachment(scan func(dest ...interface{}) error) (*domain.Attachment, error) {
	var att domain.Attachment
	var idStr, noteIdStr string
	var fetched int
	if err := scan(&idStr, &noteIdStr, &att.URL, &att.MediaType, &fetched, &att.CreatedAt); err != nil {
		return nil, err
	}
	att.Id, _ = uuid.Parse(idStr)
	att.NoteId, _ = uuid.Parse(noteIdStr)
	att.Fetched = fetched == 1
	return &att, nil
}

// Remote Accounts queries
const (
	sqlInsertRemoteAccount = `INSERT INTO remote_accounts(id, username, domain, actor_uri, display_name, summary, inbox_uri, outbox_uri, public_key_uri, public_key_pem, last_fetched_at)
                        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?) ON CONFLICT(actor_uri) DO NOTHING`
	sqlSelectRemoteAccount       = `SELECT id, username, domain, actor_uri, display_name, summary, inbox_uri, outbox_uri, public_key_uri, public_key_pem, last_fetched_at FROM remote_accounts`
	sqlSelectRemoteAccountByURI  = sqlSelectRemoteAccount + ` WHERE actor_uri = ?`
	sqlSelectRemoteAccountById   = sqlSelectRemoteAccount + ` WHERE id = ?`
	sqlSelectRemoteAccountByKey  = sqlSelectRemoteAccount + ` WHERE public_key_uri = ?`
	sqlSelectRemoteAccountByAcct = sqlSelectRemoteAccount + ` WHERE username = ? AND domain = ?`
	sqlUpdateRemoteAccount       = `UPDATE remote_accounts SET display_name = ?, summary = ?, inbox_uri = ?, outbox_uri = ?, public_key_uri = ?, public_key_pem = ?, last_fetched_at = ? WHERE actor_uri = ?`
)

// CreateRemoteAccount stores a freshly fetched remote account. A second
// concurrent fetch of the same actor URI loses the insert race and gets
// the stored row back instead.
func (db *DB) CreateRemoteAccount(acc *domain.RemoteAccount) (error, *domain.RemoteAccount) {
	if acc.Id == uuid.Nil {
		acc.Id = uuid.New()
	}
	if acc.LastFetchedAt.IsZero() {
		acc.LastFetchedAt = time.Now()
	}

	var inserted bool
	err := db.wrapTransaction(func(tx *sql.Tx) error {
		res, err := tx.Exec(sqlInsertRemoteAccount,
			acc.Id.String(),
			acc.Username,
			acc.Domain,
			acc.ActorURI,
			acc.DisplayName,
			acc.Summary,
			acc.InboxURI,
			acc.OutboxURI,
			acc.PublicKeyURI,
			acc.PublicKeyPem,
			acc.LastFetchedAt,
		)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		inserted = n > 0
		if inserted {
			_, err = tx.Exec(sqlInsertURI, acc.ActorURI, "actor", acc.Id.String())
		}
		return err
	})
	if err != nil {
		return err, nil
	}

	if !inserted {
		return db.ReadRemoteAccountByURI(acc.ActorURI)
	}
	return nil, acc
}

func (db *DB) ReadRemoteAccountByURI(uri string) (error, *domain.RemoteAccount) {
	return db.readRemoteAccount(sqlSelectRemoteAccountByURI, uri)
}

func (db *DB) ReadRemoteAccountById(id uuid.UUID) (error, *domain.RemoteAccount) {
	return db.readRemoteAccount(sqlSelectRemoteAccountById, id.String())
}

func (db *DB) ReadRemoteAccountByKeyURI(keyUri string) (error, *domain.RemoteAccount) {
	return db.readRemoteAccount(sqlSelectRemoteAccountByKey, keyUri)
}

func (db *DB) ReadRemoteAccountByAcct(username, domainName string) (error, *domain.RemoteAccount) {
	row := db.db.QueryRow(sqlSelectRemoteAccountByAcct, username, domainName)
	return scanRemoteAccount(row)
}

func (db *DB) readRemoteAccount(query string, arg interface{}) (error, *domain.RemoteAccount) {
	row := db.db.QueryRow(query, arg)
	return scanRemoteAccount(row)
}

func scanRemoteAccount(row *sql.Row) (error, *domain.RemoteAccount) {
	var acc domain.RemoteAccount
	var idStr string
	err := row.Scan(
		&idStr,
		&acc.Username,
		&acc.Domain,
		&acc.ActorURI,
		&acc.DisplayName,
		&acc.Summary,
		&acc.InboxURI,
		&acc.OutboxURI,
		&acc.PublicKeyURI,
		&acc.PublicKeyPem,
		&acc.LastFetchedAt,
	)
	if err != nil {
		return err, nil
	}
	acc.Id, _ = uuid.Parse(idStr)
	return nil, &acc
}

func (db *DB) UpdateRemoteAccount(acc *domain.RemoteAccount) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpdateRemoteAccount,
			acc.DisplayName,
			acc.Summary,
			acc.InboxURI,
			acc.OutboxURI,
			acc.PublicKeyURI,
			acc.PublicKeyPem,
			acc.LastFetchedAt,
			acc.ActorURI,
		)
		return err
	})
}

// Follow queries
const (
	sqlInsertFollow = `INSERT INTO follows(id, account_id, account_local, target_account_id, target_local, uri, accepted, created_at)
                        VALUES (?, ?, ?, ?, ?, ?, ?, ?) ON CONFLICT(account_id, target_account_id) DO NOTHING`
	sqlSelectFollow          = `SELECT id, account_id, account_local, target_account_id, target_local, uri, accepted, created_at FROM follows`
	sqlSelectFollowById      = sqlSelectFollow + ` WHERE id = ?`
	sqlSelectFollowByPair    = sqlSelectFollow + ` WHERE account_id = ? AND target_account_id = ?`
	sqlSelectFollowersOf     = sqlSelectFollow + ` WHERE target_account_id = ?`
	sqlSelectFollowingOf     = sqlSelectFollow + ` WHERE account_id = ?`
	sqlDeleteFollowByPair    = `DELETE FROM follows WHERE account_id = ? AND target_account_id = ?`
	sqlAcceptFollowByURI     = `UPDATE follows SET accepted = 1 WHERE uri = ?`
)

// CreateFollow inserts a follow relation; redelivery of the same pair
// returns the existing row.
func (db *DB) CreateFollow(follow *domain.Follow) (error, *domain.Follow) {
	if follow.Id == uuid.Nil {
		follow.Id = uuid.New()
	}
	if follow.CreatedAt.IsZero() {
		follow.CreatedAt = time.Now()
	}

	var inserted bool
	err := db.wrapTransaction(func(tx *sql.Tx) error {
		res, err := tx.Exec(sqlInsertFollow,
			follow.Id.String(),
			follow.AccountId.String(),
			boolToInt(follow.AccountLocal),
			follow.TargetAccountId.String(),
			boolToInt(follow.TargetLocal),
			follow.URI,
			boolToInt(follow.Accepted),
			follow.CreatedAt,
		)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		inserted = n > 0
		if inserted && follow.URI != "" {
			_, err = tx.Exec(sqlInsertURI, follow.URI, "follow", follow.Id.String())
		}
		return err
	})
	if err != nil {
		return err, nil
	}

	if !inserted {
		return db.ReadFollowByPair(follow.AccountId, follow.TargetAccountId)
	}
	return nil, follow
}

func (db *DB) ReadFollowById(id uuid.UUID) (error, *domain.Follow) {
	row := db.db.QueryRow(sqlSelectFollowById, id.String())
	return scanFollow(row)
}

func (db *DB) ReadFollowByPair(accountId, targetId uuid.UUID) (error, *domain.Follow) {
	row := db.db.QueryRow(sqlSelectFollowByPair, accountId.String(), targetId.String())
	return scanFollow(row)
}

func scanFollow(row *sql.Row) (error, *domain.Follow) {
	var follow domain.Follow
	var idStr, accountIdStr, targetIdStr string
	var accountLocal, targetLocal, accepted int
	err := row.Scan(&idStr, &accountIdStr, &accountLocal, &targetIdStr, &targetLocal, &follow.URI, &accepted, &follow.CreatedAt)
	if err != nil {
		return err, nil
	}
	follow.Id, _ = uuid.Parse(idStr)
	follow.AccountId, _ = uuid.Parse(accountIdStr)
	follow.TargetAccountId, _ = uuid.Parse(targetIdStr)
	follow.AccountLocal = accountLocal == 1
	follow.TargetLocal = targetLocal == 1
	follow.Accepted = accepted == 1
	return nil, &follow
}

// ReadFollowersOf lists everyone following the given account.
func (db *DB) ReadFollowersOf(targetId uuid.UUID) (error, *[]domain.Follow) {
	return db.readFollows(sqlSelectFollowersOf, targetId.String())
}

// ReadFollowingOf lists everyone the given account follows.
func (db *DB) ReadFollowingOf(accountId uuid.UUID) (error, *[]domain.Follow) {
	return db.readFollows(sqlSelectFollowingOf, accountId.String())
}

func (db *DB) readFollows(query string, arg interface{}) (error, *[]domain.Follow) {
	rows, err := db.db.Query(query, arg)
	if err != nil {
		return err, nil
	}
	defer rows.Close()

	var followers []domain.Follow
	for rows.Next() {
		var follow domain.Follow
		var idStr, accountIdStr, targetIdStr string
		var accountLocal, targetLocal, accepted int
		if err := rows.Scan(&idStr, &accountIdStr, &accountLocal, &targetIdStr, &targetLocal, &follow.URI, &accepted, &follow.CreatedAt); err != nil {
			return err, &followers
		}
		follow.Id, _ = uuid.Parse(idStr)
		follow.AccountId, _ = uuid.Parse(accountIdStr)
		follow.TargetAccountId, _ = uuid.Parse(targetIdStr)
		follow.AccountLocal = accountLocal == 1
		follow.TargetLocal = targetLocal == 1
		follow.Accepted = accepted == 1
		followers = append(followers, follow)
	}
	if err = rows.Err(); err != nil {
		return err, &followers
	}
	return nil, &followers
}

func (db *DB) DeleteFollowByPair(accountId, targetId uuid.UUID) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDeleteFollowByPair, accountId.String(), targetId.String())
		return err
	})
}

func (db *DB) AcceptFollowByURI(uri string) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlAcceptFollowByURI, uri)
		return err
	})
}

// Like queries
const (
	sqlInsertLike = `INSERT INTO likes(id, account_id, account_local, note_id, uri, created_at)
                        VALUES (?, ?, ?, ?, ?, ?) ON CONFLICT(account_id, note_id) DO NOTHING`
	sqlSelectLikeById     = `SELECT id, account_id, account_local, note_id, uri, created_at FROM likes WHERE id = ?`
	sqlSelectLikeByPair   = `SELECT id, account_id, account_local, note_id, uri, created_at FROM likes WHERE account_id = ? AND note_id = ?`
	sqlDeleteLikeByPair   = `DELETE FROM likes WHERE account_id = ? AND note_id = ?`
)

func (db *DB) CreateLike(like *domain.Like) (error, *domain.Like) {
	if like.Id == uuid.Nil {
		like.Id = uuid.New()
	}
	if like.CreatedAt.IsZero() {
		like.CreatedAt = time.Now()
	}

	var inserted bool
	err := db.wrapTransaction(func(tx *sql.Tx) error {
		res, err := tx.Exec(sqlInsertLike,
			like.Id.String(),
			like.AccountId.String(),
			boolToInt(like.AccountLocal),
			like.NoteId.String(),
			like.URI,
			like.CreatedAt,
		)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		inserted = n > 0
		if inserted && like.URI != "" {
			_, err = tx.Exec(sqlInsertURI, like.URI, "like", like.Id.String())
		}
		return err
	})
	if err != nil {
		return err, nil
	}

	if !inserted {
		return db.readLike(sqlSelectLikeByPair, like.AccountId.String(), like.NoteId.String())
	}
	return nil, like
}

func (db *DB) ReadLikeById(id uuid.UUID) (error, *domain.Like) {
	return db.readLike(sqlSelectLikeById, id.String())
}

func (db *DB) readLike(query string, args ...interface{}) (error, *domain.Like) {
	row := db.db.QueryRow(query, args...)
	var like domain.Like
	var idStr, accountIdStr, noteIdStr string
	var local int
	err := row.Scan(&idStr, &accountIdStr, &local, &noteIdStr, &like.URI, &like.CreatedAt)
	if err != nil {
		return err, nil
	}
	like.Id, _ = uuid.Parse(idStr)
	like.AccountId, _ = uuid.Parse(accountIdStr)
	like.NoteId, _ = uuid.Parse(noteIdStr)
	like.AccountLocal = local == 1
	return nil, &like
}

func (db *DB) DeleteLikeByPair(accountId, noteId uuid.UUID) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDeleteLikeByPair, accountId.String(), noteId.String())
		return err
	})
}

// Announce queries
const (
	sqlInsertAnnounce = `INSERT INTO announces(id, account_id, account_local, note_id, uri, published, tombstoned, created_at)
                        VALUES (?, ?, ?, ?, ?, ?, 0, ?) ON CONFLICT(uri) DO NOTHING`
	sqlSelectAnnounceByURI    = `SELECT id, account_id, account_local, note_id, uri, published, tombstoned, created_at FROM announces WHERE uri = ?`
	sqlSelectAnnounceById     = `SELECT id, account_id, account_local, note_id, uri, published, tombstoned, created_at FROM announces WHERE id = ?`
	sqlTombstoneAnnounce      = `UPDATE announces SET tombstoned = 1 WHERE uri = ? AND account_id = ?`
)

func (db *DB) CreateAnnounce(announce *domain.Announce) (error, *domain.Announce) {
	if announce.Id == uuid.Nil {
		announce.Id = uuid.New()
	}
	if announce.CreatedAt.IsZero() {
		announce.CreatedAt = time.Now()
	}

	var inserted bool
	err := db.wrapTransaction(func(tx *sql.Tx) error {
		var uri interface{}
		if announce.URI != "" {
			uri = announce.URI
		}
		res, err := tx.Exec(sqlInsertAnnounce,
			announce.Id.String(),
			announce.AccountId.String(),
			boolToInt(announce.AccountLocal),
			announce.NoteId.String(),
			uri,
			announce.Published,
			announce.CreatedAt,
		)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		inserted = n > 0
		if inserted && announce.URI != "" {
			_, err = tx.Exec(sqlInsertURI, announce.URI, "announce", announce.Id.String())
		}
		return err
	})
	if err != nil {
		return err, nil
	}

	if !inserted && announce.URI != "" {
		return db.ReadAnnounceByURI(announce.URI)
	}
	return nil, announce
}

func (db *DB) ReadAnnounceByURI(uri string) (error, *domain.Announce) {
	return db.readAnnounce(sqlSelectAnnounceByURI, uri)
}

func (db *DB) ReadAnnounceById(id uuid.UUID) (error, *domain.Announce) {
	return db.readAnnounce(sqlSelectAnnounceById, id.String())
}

func (db *DB) readAnnounce(query string, arg interface{}) (error, *domain.Announce) {
	row := db.db.QueryRow(query, arg)
	var announce domain.Announce
	var idStr, accountIdStr, noteIdStr string
	var storedURI sql.NullString
	var published sql.NullTime
	var local, tombstoned int
	err := row.Scan(&idStr, &accountIdStr, &local, &noteIdStr, &storedURI, &published, &tombstoned, &announce.CreatedAt)
	if err != nil {
		return err, nil
	}
	announce.Id, _ = uuid.Parse(idStr)
	announce.AccountId, _ = uuid.Parse(accountIdStr)
	announce.NoteId, _ = uuid.Parse(noteIdStr)
	announce.AccountLocal = local == 1
	announce.URI = storedURI.String
	announce.Published = published.Time
	announce.Tombstoned = tombstoned == 1
	return nil, &announce
}

// TombstoneAnnounceByURIAndAccount marks a boost deleted without
// removing the row, so a redelivered Undo stays a no-op.
func (db *DB) TombstoneAnnounceByURIAndAccount(uri string, accountId uuid.UUID) (int64, error) {
	var affected int64
	err := db.wrapTransaction(func(tx *sql.Tx) error {
		res, err := tx.Exec(sqlTombstoneAnnounce, uri, accountId.String())
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	return affected, err
}

// Activity log queries
const (
	sqlInsertActivity          = `INSERT INTO activities(id, activity_uri, activity_type, actor_uri, object_uri, raw_json, processed, local, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	sqlUpdateActivity          = `UPDATE activities SET processed = ?, object_uri = ? WHERE id = ?`
	sqlSelectActivityByURI     = `SELECT id, activity_uri, activity_type, actor_uri, object_uri, raw_json, processed, local, created_at FROM activities WHERE activity_uri = ?`
	sqlSelectRecentActivities  = `SELECT id, activity_uri, activity_type, actor_uri, object_uri, raw_json, processed, local, created_at FROM activities ORDER BY created_at DESC LIMIT ?`
)

func (db *DB) CreateActivity(activity *domain.Activity) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertActivity,
			activity.Id.String(),
			activity.ActivityURI,
			activity.ActivityType,
			activity.ActorURI,
			activity.ObjectURI,
			activity.RawJSON,
			boolToInt(activity.Processed),
			boolToInt(activity.Local),
			activity.CreatedAt,
		)
		return err
	})
}

func (db *DB) UpdateActivity(activity *domain.Activity) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpdateActivity,
			boolToInt(activity.Processed),
			activity.ObjectURI,
			activity.Id.String(),
		)
		return err
	})
}

func (db *DB) ReadActivityByURI(uri string) (error, *domain.Activity) {
	row := db.db.QueryRow(sqlSelectActivityByURI, uri)
	return scanActivity(row.Scan)
}

func (db *DB) ReadRecentActivities(limit int) (error, *[]domain.Activity) {
	rows, err := db.db.Query(sqlSelectRecentActivities, limit)
	if err != nil {
		return err, nil
	}
	defer rows.Close()

	var activities []domain.Activity
	for rows.Next() {
		err, activity := scanActivity(rows.Scan)
		if err != nil {
			return err, &activities
		}
		activities = append(activities, *activity)
	}
	if err = rows.Err(); err != nil {
		return err, &activities
	}
	return nil, &activities
}

func scanActivity(scan func(dest ...interface{}) error) (error, *domain.Activity) {
	var activity domain.Activity
	var idStr string
	var processed, local int
	err := scan(&idStr, &activity.ActivityURI, &activity.ActivityType, &activity.ActorURI, &activity.ObjectURI, &activity.RawJSON, &processed, &local, &activity.CreatedAt)
	if err != nil {
		return err, nil
	}
	activity.Id, _ = uuid.Parse(idStr)
	activity.Processed = processed == 1
	activity.Local = local == 1
	return nil, &activity
}

// Inbox timeline queries
const (
	sqlInsertInboxEntry      = `INSERT INTO inboxes(id, account_id, note_id, created_at) VALUES (?, ?, ?, ?) ON CONFLICT(account_id, note_id) DO NOTHING`
	sqlSelectInboxByAccount  = `SELECT id, account_id, note_id, created_at FROM inboxes WHERE account_id = ? ORDER BY created_at DESC LIMIT ?`
)

func (db *DB) InsertIntoInbox(accountId, noteId uuid.UUID) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertInboxEntry, uuid.New().String(), accountId.String(), noteId.String(), time.Now())
		return err
	})
}

func (db *DB) ReadInboxByAccount(accountId uuid.UUID, limit int) (error, *[]domain.InboxEntry) {
	rows, err := db.db.Query(sqlSelectInboxByAccount, accountId.String(), limit)
	if err != nil {
		return err, nil
	}
	defer rows.Close()

	var entries []domain.InboxEntry
	for rows.Next() {
		var entry domain.InboxEntry
		var idStr, accountIdStr, noteIdStr string
		if err := rows.Scan(&idStr, &accountIdStr, &noteIdStr, &entry.CreatedAt); err != nil {
			return err, &entries
		}
		entry.Id, _ = uuid.Parse(idStr)
		entry.AccountId, _ = uuid.Parse(accountIdStr)
		entry.NoteId, _ = uuid.Parse(noteIdStr)
		entries = append(entries, entry)
	}
	if err = rows.Err(); err != nil {
		return err, &entries
	}
	return nil, &entries
}

// Delivery Queue queries
const (
	sqlInsertDeliveryJob       = `INSERT INTO delivery_queue(id, kind, payload, attempts, next_retry_at, created_at) VALUES (?, ?, ?, ?, ?, ?)`
	sqlSelectPendingDeliveries = `SELECT id, kind, payload, attempts, next_retry_at, created_at FROM delivery_queue WHERE next_retry_at <= ? ORDER BY created_at ASC LIMIT ?`
	sqlUpdateDeliveryAttempt   = `UPDATE delivery_queue SET attempts = ?, next_retry_at = ? WHERE id = ?`
	sqlDeleteDelivery          = `DELETE FROM delivery_queue WHERE id = ?`
	sqlCountPendingDeliveries  = `SELECT COUNT(*) FROM delivery_queue`
)

func (db *DB) EnqueueDelivery(job *domain.DeliveryJob) error {
	if job.Id == uuid.Nil {
		job.Id = uuid.New()
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}
	if job.NextRetryAt.IsZero() {
		job.NextRetryAt = time.Now()
	}
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertDeliveryJob,
			job.Id.String(),
			job.Kind,
			job.Payload,
			job.Attempts,
			job.NextRetryAt,
			job.CreatedAt,
		)
		return err
	})
}

func (db *DB) ReadPendingDeliveries(limit int) (error, *[]domain.DeliveryJob) {
	rows, err := db.db.Query(sqlSelectPendingDeliveries, time.Now(), limit)
	if err != nil {
		return err, nil
	}
	defer rows.Close()

	var jobs []domain.DeliveryJob
	for rows.Next() {
		var job domain.DeliveryJob
		var idStr string
		if err := rows.Scan(&idStr, &job.Kind, &job.Payload, &job.Attempts, &job.NextRetryAt, &job.CreatedAt); err != nil {
			return err, &jobs
		}
		job.Id, _ = uuid.Parse(idStr)
		jobs = append(jobs, job)
	}
	if err = rows.Err(); err != nil {
		return err, &jobs
	}
	return nil, &jobs
}

func (db *DB) UpdateDeliveryAttempt(id uuid.UUID, attempts int, nextRetry time.Time) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpdateDeliveryAttempt, attempts, nextRetry, id.String())
		return err
	})
}

func (db *DB) DeleteDelivery(id uuid.UUID) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDeleteDelivery, id.String())
		return err
	})
}

func (db *DB) CountPendingDeliveries() (error, int) {
	row := db.db.QueryRow(sqlCountPendingDeliveries)
	var count int
	if err := row.Scan(&count); err != nil {
		return err, 0
	}
	return nil, count
}
