package db

// migrationStatements is executed in order on startup; every statement
// must be safe to re-run.
var migrationStatements = []string{
	sqlCreateUserTable,
	sqlCreateNotesTable,

	`CREATE TABLE IF NOT EXISTS remote_accounts(
		id uuid NOT NULL PRIMARY KEY,
		username varchar(100) NOT NULL,
		domain varchar(255) NOT NULL,
		actor_uri varchar(500) UNIQUE NOT NULL,
		display_name varchar(255) default '',
		summary text default '',
		inbox_uri varchar(500) default '',
		outbox_uri varchar(500) default '',
		public_key_uri varchar(500) default '',
		public_key_pem text default '',
		last_fetched_at timestamp default current_timestamp,
		UNIQUE(username, domain)
	)`,

	`CREATE INDEX IF NOT EXISTS idx_remote_accounts_key_uri ON remote_accounts(public_key_uri)`,

	`CREATE TABLE IF NOT EXISTS follows(
		id uuid NOT NULL PRIMARY KEY,
		account_id uuid NOT NULL,
		account_local int NOT NULL,
		target_account_id uuid NOT NULL,
		target_local int NOT NULL,
		uri varchar(500),
		accepted int default 0,
		created_at timestamp default current_timestamp,
		UNIQUE(account_id, target_account_id)
	)`,

	`CREATE TABLE IF NOT EXISTS likes(
		id uuid NOT NULL PRIMARY KEY,
		account_id uuid NOT NULL,
		account_local int NOT NULL,
		note_id uuid NOT NULL,
		uri varchar(500),
		created_at timestamp default current_timestamp,
		UNIQUE(account_id, note_id)
	)`,

	`CREATE TABLE IF NOT EXISTS announces(
		id uuid NOT NULL PRIMARY KEY,
		account_id uuid NOT NULL,
		account_local int NOT NULL,
		note_id uuid NOT NULL,
		uri varchar(500) UNIQUE,
		published timestamp,
		tombstoned int default 0,
		created_at timestamp default current_timestamp
	)`,

	// Canonical URIs this server has materialized an object for. One row
	// per allocated URI; the unique constraint is what makes re-delivery
	// of the same activity id idempotent.
	`CREATE TABLE IF NOT EXISTS uris(
		uri varchar(500) NOT NULL PRIMARY KEY,
		object_kind varchar(32) NOT NULL,
		object_id uuid
	)`,

	`CREATE TABLE IF NOT EXISTS note_hashtags(
		note_id uuid NOT NULL,
		name varchar(255) NOT NULL,
		UNIQUE(note_id, name)
	)`,

	`CREATE TABLE IF NOT EXISTS note_mentions(
		note_id uuid NOT NULL,
		href varchar(500) NOT NULL,
		UNIQUE(note_id, href)
	)`,

	`CREATE TABLE IF NOT EXISTS note_attachments(
		id uuid NOT NULL PRIMARY KEY,
		note_id uuid NOT NULL,
		url varchar(500) NOT NULL,
		media_type varchar(100) default '',
		fetched int default 0,
		created_at timestamp default current_timestamp,
		UNIQUE(note_id, url)
	)`,

	`CREATE TABLE IF NOT EXISTS activities(
		id uuid NOT NULL PRIMARY KEY,
		activity_uri varchar(500),
		activity_type varchar(50),
		actor_uri varchar(500),
		object_uri varchar(500),
		raw_json text,
		processed int default 0,
		local int default 0,
		created_at timestamp default current_timestamp
	)`,

	`CREATE TABLE IF NOT EXISTS inboxes(
		id uuid NOT NULL PRIMARY KEY,
		account_id uuid NOT NULL,
		note_id uuid NOT NULL,
		created_at timestamp default current_timestamp,
		UNIQUE(account_id, note_id)
	)`,

	`CREATE TABLE IF NOT EXISTS delivery_queue(
		id uuid NOT NULL PRIMARY KEY,
		kind varchar(32) NOT NULL,
		payload text NOT NULL,
		attempts int default 0,
		next_retry_at timestamp,
		created_at timestamp default current_timestamp
	)`,

	`CREATE INDEX IF NOT EXISTS idx_delivery_queue_retry ON delivery_queue(next_retry_at)`,
}
