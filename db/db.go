package db

import (
	"context"
	"database/sql"
	"log"
	"sync"
	"time"

	"github.com/charmbracelet/ssh"
	"github.com/deemkeen/mammut/domain"
	"github.com/deemkeen/mammut/util"
	"github.com/google/uuid"
	"modernc.org/sqlite"
	sqlitelib "modernc.org/sqlite/lib"
)

// DB is the database struct.
type DB struct {
	db *sql.DB
}

var (
	dbInstance *DB
	dbOnce     sync.Once
)

const (
	//Accounts
	sqlCreateUserTable = `CREATE TABLE IF NOT EXISTS accounts(
                        id uuid NOT NULL PRIMARY KEY,
                        username varchar(100) UNIQUE NOT NULL,
                        publickey varchar(1000) UNIQUE,
                        created_at timestamp default current_timestamp,
                        first_time_login int default 1,
                        web_public_key text,
                        web_private_key text
                        )`
	sqlInsertUser            = `INSERT INTO accounts(id, username, publickey, web_public_key, web_private_key, created_at) VALUES (?, ?, ?, ?, ?, ?)`
	sqlUpdateLoginUser       = `UPDATE accounts SET first_time_login = 0, username = ? WHERE publickey = ?`
	sqlSelectUserByPublicKey = `SELECT id, username, publickey, created_at, first_time_login, web_public_key, web_private_key FROM accounts WHERE publickey = ?`
	sqlSelectUserById        = `SELECT id, username, publickey, created_at, first_time_login, web_public_key, web_private_key FROM accounts WHERE id = ?`
	sqlSelectUserByUsername  = `SELECT id, username, publickey, created_at, first_time_login, web_public_key, web_private_key FROM accounts WHERE username = ?`

	//Notes
	sqlCreateNotesTable = `CREATE TABLE IF NOT EXISTS notes(
                        id uuid NOT NULL PRIMARY KEY,
                        account_id uuid NOT NULL,
                        account_local int NOT NULL default 1,
                        message varchar(4000),
                        summary varchar(1000) default '',
                        uri varchar(500) UNIQUE,
                        in_reply_to_id uuid,
                        in_reply_to_uri varchar(500) default '',
                        published timestamp,
                        created_at timestamp default current_timestamp
                        )`
	sqlInsertNote = `INSERT INTO notes(id, account_id, account_local, message, summary, uri, in_reply_to_id, in_reply_to_uri, published, created_at)
                        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?) ON CONFLICT(uri) DO NOTHING`
	sqlSelectNoteById = `SELECT notes.id, accounts.username, notes.message, notes.summary, notes.uri, notes.account_id, notes.account_local, notes.in_reply_to_id, notes.in_reply_to_uri, notes.published, notes.created_at FROM notes
                        INNER JOIN accounts ON accounts.id = notes.account_id
                        WHERE notes.id = ? AND notes.account_local = 1`
	sqlSelectNoteByURI = `SELECT id, account_id, account_local, message, summary, uri, in_reply_to_id, in_reply_to_uri, published, created_at FROM notes WHERE uri = ?`
	sqlSelectNotesByUsername = `SELECT notes.id, accounts.username, notes.message, notes.summary, notes.uri, notes.account_id, notes.account_local, notes.in_reply_to_id, notes.in_reply_to_uri, notes.published, notes.created_at FROM notes
                        INNER JOIN accounts ON accounts.id = notes.account_id
                        WHERE accounts.username = ?
                        ORDER BY notes.created_at DESC`
	sqlDeleteNoteByURIAndAccount = `DELETE FROM notes WHERE uri = ? AND account_id = ?`
	sqlSelectNotesByUsernamePaged = `SELECT notes.id, accounts.username, notes.message, notes.summary, notes.uri, notes.account_id, notes.account_local, notes.in_reply_to_id, notes.in_reply_to_uri, notes.published, notes.created_at FROM notes
                        INNER JOIN accounts ON accounts.id = notes.account_id
                        WHERE accounts.username = ?
                        ORDER BY notes.created_at DESC LIMIT ? OFFSET ?`
	sqlSelectAllNotes = `SELECT notes.id, accounts.username, notes.message, notes.summary, notes.uri, notes.account_id, notes.account_local, notes.in_reply_to_id, notes.in_reply_to_uri, notes.published, notes.created_at FROM notes
                        INNER JOIN accounts ON accounts.id = notes.account_id
                        ORDER BY notes.created_at DESC`
)

func (db *DB) CreateAccount(s ssh.Session, username string) (error, bool) {
	err, found := db.ReadAccBySession(s)
	if err != nil {
		log.Printf("No records for %s found, creating new user..", username)
	}

	if found != nil {
		return nil, true
	}

	keypair := util.GeneratePemKeypair()
	err2 := db.CreateAccByUsername(s, username, keypair)
	if err2 != nil {
		log.Println("Creating new user failed: ", err2)
		return err2, false
	}
	return nil, true
}

func (db *DB) CreateAccByUsername(s ssh.Session, username string, webKeyPair *util.RsaKeyPair) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertUser, uuid.New(), username, util.PkToHash(util.PublicKeyToString(s.PublicKey())), webKeyPair.Public, webKeyPair.Private, time.Now())
		return err
	})
}

// CreateLocalAccount registers a local user without an SSH session,
// used by tests and by provisioning.
func (db *DB) CreateLocalAccount(username string, webKeyPair *util.RsaKeyPair) (error, *domain.Account) {
	id := uuid.New()
	err := db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertUser, id, username, util.PkToHash(util.RandomString(32)), webKeyPair.Public, webKeyPair.Private, time.Now())
		return err
	})
	if err != nil {
		return err, nil
	}
	return db.ReadAccById(id)
}

func (db *DB) UpdateLoginByPkHash(username string, pkHash string) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpdateLoginUser, username, pkHash)
		return err
	})
}

func (db *DB) ReadAccBySession(s ssh.Session) (error, *domain.Account) {
	publicKeyToString := util.PublicKeyToString(s.PublicKey())
	return db.readAccount(sqlSelectUserByPublicKey, util.PkToHash(publicKeyToString))
}

func (db *DB) ReadAccByPkHash(pkHash string) (error, *domain.Account) {
	return db.readAccount(sqlSelectUserByPublicKey, pkHash)
}

func (db *DB) ReadAccById(id uuid.UUID) (error, *domain.Account) {
	return db.readAccount(sqlSelectUserById, id)
}

func (db *DB) ReadAccByUsername(username string) (error, *domain.Account) {
	return db.readAccount(sqlSelectUserByUsername, username)
}

func (db *DB) readAccount(query string, arg interface{}) (error, *domain.Account) {
	row := db.db.QueryRow(query, arg)
	var tempAcc domain.Account
	err := row.Scan(&tempAcc.Id, &tempAcc.Username, &tempAcc.Publickey, &tempAcc.CreatedAt, &tempAcc.FirstTimeLogin, &tempAcc.WebPublicKey, &tempAcc.WebPrivateKey)
	if err != nil {
		return err, nil
	}
	return nil, &tempAcc
}

// CreateNote stores a note and allocates its canonical URI in the same
// transaction. A conflict on the URI means the note already exists; the
// stored row is returned instead of a duplicate.
func (db *DB) CreateNote(note *domain.Note) (error, *domain.Note) {
	if note.Id == uuid.Nil {
		note.Id = uuid.New()
	}
	if note.CreatedAt.IsZero() {
		note.CreatedAt = time.Now()
	}

	var inserted bool
	err := db.wrapTransaction(func(tx *sql.Tx) error {
		var noteURI interface{}
		if note.URI != "" {
			noteURI = note.URI
		}
		res, err := tx.Exec(sqlInsertNote,
			note.Id.String(),
			note.AccountId.String(),
			boolToInt(note.AccountLocal),
			note.Message,
			note.Summary,
			noteURI,
			note.InReplyToId.String(),
			note.InReplyToURI,
			note.Published,
			note.CreatedAt,
		)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		inserted = n > 0
		if !inserted {
			return nil
		}
		if note.URI != "" {
			if _, err := tx.Exec(sqlInsertURI, note.URI, "note", note.Id.String()); err != nil {
				return err
			}
		}
		for _, name := range note.Hashtags {
			if _, err := tx.Exec(sqlInsertHashtag, note.Id.String(), name); err != nil {
				return err
			}
		}
		for _, href := range note.Mentions {
			if _, err := tx.Exec(sqlInsertMention, note.Id.String(), href); err != nil {
				return err
			}
		}
		for i := range note.Attachments {
			att := &note.Attachments[i]
			if att.Id == uuid.Nil {
				att.Id = uuid.New()
			}
			att.NoteId = note.Id
			if att.CreatedAt.IsZero() {
				att.CreatedAt = note.CreatedAt
			}
			if _, err := tx.Exec(sqlInsertAttachment, att.Id.String(), note.Id.String(), att.URL, att.MediaType, att.CreatedAt); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err, nil
	}

	if !inserted && note.URI != "" {
		return db.ReadNoteByURI(note.URI)
	}
	return nil, note
}

func (db *DB) ReadNoteById(id uuid.UUID) (error, *domain.Note) {
	row := db.db.QueryRow(sqlSelectNoteById, id)
	var note domain.Note
	var uri sql.NullString
	var published sql.NullTime
	var idStr, accountIdStr, inReplyToIdStr string
	var local int
	err := row.Scan(&idStr, &note.CreatedBy, &note.Message, &note.Summary, &uri, &accountIdStr, &local, &inReplyToIdStr, &note.InReplyToURI, &published, &note.CreatedAt)
	if err != nil {
		return err, nil
	}
	note.Id, _ = uuid.Parse(idStr)
	note.AccountId, _ = uuid.Parse(accountIdStr)
	note.AccountLocal = local == 1
	note.URI = uri.String
	note.InReplyToId, _ = uuid.Parse(inReplyToIdStr)
	note.Published = published.Time
	return nil, &note
}

func (db *DB) ReadNoteByURI(uri string) (error, *domain.Note) {
	row := db.db.QueryRow(sqlSelectNoteByURI, uri)
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

func (db *DB) ReadNotesByUsername(username string) (error, *[]domain.Note) {
	return db.readNotes(sqlSelectNotesByUsername, username)
}

// ReadNotesByUsernamePaged reads a page of a local user's notes,
// newest first.
func (db *DB) ReadNotesByUsernamePaged(username string, limit, offset int) (error, *[]domain.Note) {
	return db.readNotes(sqlSelectNotesByUsernamePaged, username, limit, offset)
}

// ReadAllNotes reads all notes by local authors, newest first.
func (db *DB) ReadAllNotes() (error, *[]domain.Note) {
	return db.readNotes(sqlSelectAllNotes)
}

func (db *DB) readNotes(query string, args ...interface{}) (error, *[]domain.Note) {
	rows, err := db.db.Query(query, args...)
	if err != nil {
		return err, nil
	}
	defer rows.Close()

	var notes []domain.Note

	for rows.Next() {
		var note domain.Note
		var uri sql.NullString
		var published sql.NullTime
		var idStr, accountIdStr, inReplyToIdStr string
		var local int
		if err := rows.Scan(&idStr, &note.CreatedBy, &note.Message, &note.Summary, &uri, &accountIdStr, &local, &inReplyToIdStr, &note.InReplyToURI, &published, &note.CreatedAt); err != nil {
			return err, &notes
		}
		note.Id, _ = uuid.Parse(idStr)
		note.AccountId, _ = uuid.Parse(accountIdStr)
		note.AccountLocal = local == 1
		note.URI = uri.String
		note.InReplyToId, _ = uuid.Parse(inReplyToIdStr)
		note.Published = published.Time
		notes = append(notes, note)
	}
	if err = rows.Err(); err != nil {
		return err, &notes
	}

	return nil, &notes
}

// DeleteNoteByURIAndAccount removes a note only if the given account
// owns it. Returns the number of rows removed so callers can tell a
// successful delete from an ownership mismatch.
func (db *DB) DeleteNoteByURIAndAccount(uri string, accountId uuid.UUID) (int64, error) {
	var affected int64
	err := db.wrapTransaction(func(tx *sql.Tx) error {
		res, err := tx.Exec(sqlDeleteNoteByURIAndAccount, uri, accountId.String())
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		if err != nil {
			return err
		}
		if affected > 0 {
			_, err = tx.Exec(sqlDeleteURI, uri)
		}
		return err
	})
	return affected, err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func GetDB() *DB {
	dbOnce.Do(func() {
		instance, err := Open("database.db")
		if err != nil {
			panic(err)
		}
		dbInstance = instance
	})

	return dbInstance
}

// Open opens (and if necessary creates) a database at the given path.
// Used by GetDB for the singleton and directly by tests.
func Open(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	// Configure connection pool for concurrent access
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(time.Hour)

	// Try to enable WAL mode
	var journalMode string
	if err := sqlDB.QueryRow("PRAGMA journal_mode=WAL").Scan(&journalMode); err != nil {
		log.Printf("Warning: Failed to enable WAL mode: %v", err)
	} else {
		log.Printf("Database journal mode: %s", journalMode)
	}

	// Optimize PRAGMAs for a concurrent federation workload
	sqlDB.Exec("PRAGMA synchronous = NORMAL")
	sqlDB.Exec("PRAGMA cache_size = -64000")
	sqlDB.Exec("PRAGMA temp_store = MEMORY")
	sqlDB.Exec("PRAGMA busy_timeout = 5000")
	sqlDB.Exec("PRAGMA foreign_keys = ON")

	instance := &DB{db: sqlDB}

	if err := instance.CreateDB(); err != nil {
		return nil, err
	}

	return instance, nil
}

// CreateDB creates the database schema.
func (db *DB) CreateDB() error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		for _, stmt := range migrationStatements {
			if _, err := tx.Exec(stmt); err != nil {
				return err
			}
		}
		return nil
	})
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
			log.Printf("error in transaction: %s", err)
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
