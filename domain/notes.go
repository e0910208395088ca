package domain

import (
	"fmt"
	"github.com/google/uuid"
	"time"
)

type SaveNote struct {
	UserId  uuid.UUID
	Message string
}

type Note struct {
	Id        uuid.UUID
	CreatedBy string
	Message   string
	CreatedAt time.Time
	// Federation fields
	AccountId    uuid.UUID // author, local or remote
	AccountLocal bool
	URI          string // canonical object URI (empty until allocated for local notes)
	Summary      string // content warning / subject, empty if none
	InReplyToId  uuid.UUID
	InReplyToURI string
	Hashtags     []string
	Mentions     []string // actor URIs
	Attachments  []Attachment
	Published    time.Time
}

// Attachment is a media document referenced by a note. The server
// keeps the reference and whether it was ever reachable; it never
// stores or transcodes the media itself.
type Attachment struct {
	Id        uuid.UUID
	NoteId    uuid.UUID
	URL       string
	MediaType string
	Fetched   bool
	CreatedAt time.Time
}

func (note *Note) ToString() string {
	return fmt.Sprintf("\n\tId: %s \n\tCreatedBy: %s \n\tMessage: %s \n\tCreatedAt: %s)", note.Id, note.CreatedBy, note.Message, note.CreatedAt)
}
