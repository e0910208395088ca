package domain

import (
	"github.com/google/uuid"
	"time"
)

// RemoteAccount represents a cached federated user
type RemoteAccount struct {
	Id            uuid.UUID
	Username      string
	Domain        string
	ActorURI      string
	DisplayName   string
	Summary       string
	InboxURI      string
	OutboxURI     string
	PublicKeyURI  string
	PublicKeyPem  string
	LastFetchedAt time.Time
}

// Actor is a local or remote identity. Exactly one of Local and Remote
// is set; identity fields are copied out so callers do not have to care
// which side they are looking at.
type Actor struct {
	Username string
	Host     string // empty for local actors
	Local    *Account
	Remote   *RemoteAccount
}

func (a *Actor) IsLocal() bool {
	return a.Local != nil
}

// AccountId returns the primary key of the backing account row.
func (a *Actor) AccountId() uuid.UUID {
	if a.Local != nil {
		return a.Local.Id
	}
	return a.Remote.Id
}

// Follow represents a follow relationship
type Follow struct {
	Id              uuid.UUID
	AccountId       uuid.UUID // the follower, local or remote
	AccountLocal    bool
	TargetAccountId uuid.UUID // the account being followed
	TargetLocal     bool
	URI             string // Follow activity URI (empty for local-origin follows)
	CreatedAt       time.Time
	Accepted        bool
}

// Like represents a like/favorite on a note
type Like struct {
	Id           uuid.UUID
	AccountId    uuid.UUID
	AccountLocal bool
	NoteId       uuid.UUID
	URI          string
	CreatedAt    time.Time
}

// Announce represents a boost of a note
type Announce struct {
	Id           uuid.UUID
	AccountId    uuid.UUID
	AccountLocal bool
	NoteId       uuid.UUID
	URI          string
	Published    time.Time
	Tombstoned   bool
	CreatedAt    time.Time
}

// Activity represents an inbound or outbound ActivityPub activity
// (kept for logging and the admin dashboard)
type Activity struct {
	Id           uuid.UUID
	ActivityURI  string
	ActivityType string // Follow, Create, Like, Announce, Undo, Delete, ..
	ActorURI     string
	ObjectURI    string
	RawJSON      string
	Processed    bool
	CreatedAt    time.Time
	Local        bool // true if originated from this server
}

// Delivery job kinds. Each pending row in the delivery queue carries one
// of these plus a JSON payload the worker decodes.
const (
	JobAccept       = "accept"
	JobPostFollow   = "post_follow"
	JobPostLike     = "post_like"
	JobPostStatus   = "post_status"
	JobProcessInbox = "process_inbox"
	JobUpload       = "upload"
)

// DeliveryJob represents an item in the delivery queue
type DeliveryJob struct {
	Id          uuid.UUID
	Kind        string
	Payload     string // JSON, shape depends on Kind
	Attempts    int
	NextRetryAt time.Time
	CreatedAt   time.Time
}

// InboxEntry is one row of a local account's home timeline
type InboxEntry struct {
	Id        uuid.UUID
	AccountId uuid.UUID
	NoteId    uuid.UUID
	CreatedAt time.Time
}
