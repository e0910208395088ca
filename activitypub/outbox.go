package activitypub

import (
	"fmt"
	"time"

	"github.com/deemkeen/mammut/domain"
	"github.com/google/uuid"
)

const activityStreamsContext = "https://www.w3.org/ns/activitystreams"

func (e *Engine) followersURI(username string) string {
	return fmt.Sprintf("https://%s/users/%s/followers", e.domainName(), username)
}

// noteURIOf returns a note's canonical URI, synthesizing the local
// form for notes created before federation was enabled.
func (e *Engine) noteURIOf(note *domain.Note) string {
	if note.URI != "" {
		return note.URI
	}
	return e.LocalNoteURI(note.Id)
}

func (e *Engine) buildAccept(follow *domain.Follow, target *domain.Account, follower *domain.RemoteAccount) map[string]interface{} {
	actorURI := e.LocalActorURI(target.Username)
	return map[string]interface{}{
		"@context": activityStreamsContext,
		"id":       e.activityURI(follow.Id),
		"type":     "Accept",
		"actor":    actorURI,
		"object": map[string]interface{}{
			"id":     follow.URI,
			"type":   "Follow",
			"actor":  follower.ActorURI,
			"object": actorURI,
		},
	}
}

func (e *Engine) buildFollow(follow *domain.Follow, local *domain.Account, remote *domain.RemoteAccount) map[string]interface{} {
	uri := follow.URI
	if uri == "" {
		uri = e.activityURI(follow.Id)
	}
	return map[string]interface{}{
		"@context": activityStreamsContext,
		"id":       uri,
		"type":     "Follow",
		"actor":    e.LocalActorURI(local.Username),
		"object":   remote.ActorURI,
	}
}

func (e *Engine) buildLike(like *domain.Like, local *domain.Account, note *domain.Note) map[string]interface{} {
	uri := like.URI
	if uri == "" {
		uri = e.activityURI(like.Id)
	}
	return map[string]interface{}{
		"@context": activityStreamsContext,
		"id":       uri,
		"type":     "Like",
		"actor":    e.LocalActorURI(local.Username),
		"object":   e.noteURIOf(note),
	}
}

// buildNoteObject renders a note in its ActivityStreams form, shared
// by the Create activity and the /notes document endpoint.
func (e *Engine) buildNoteObject(note *domain.Note, author *domain.Account) map[string]interface{} {
	actorURI := e.LocalActorURI(author.Username)
	published := note.Published
	if published.IsZero() {
		published = note.CreatedAt
	}

	object := map[string]interface{}{
		"id":           e.noteURIOf(note),
		"type":         "Note",
		"attributedTo": actorURI,
		"content":      note.Message,
		"published":    published.Format(time.RFC3339),
		"to":           []string{PublicAudience},
		"cc":           []string{e.followersURI(author.Username)},
	}
	if note.Summary != "" {
		object["summary"] = note.Summary
	}
	if note.InReplyToId != uuid.Nil {
		object["inReplyTo"] = e.LocalNoteURI(note.InReplyToId)
	} else if note.InReplyToURI != "" {
		object["inReplyTo"] = note.InReplyToURI
	}

	var tags []map[string]interface{}
	for _, name := range note.Hashtags {
		tags = append(tags, map[string]interface{}{
			"type": "Hashtag",
			"name": "#" + name,
		})
	}
	for _, href := range note.Mentions {
		tags = append(tags, map[string]interface{}{
			"type": "Mention",
			"href": href,
		})
	}
	if len(tags) > 0 {
		object["tag"] = tags
	}

	attachments := note.Attachments
	if len(attachments) == 0 {
		if err, stored := e.db.ReadNoteAttachments(note.Id); err == nil {
			attachments = *stored
		}
	}
	if len(attachments) > 0 {
		var docs []map[string]interface{}
		for _, att := range attachments {
			doc := map[string]interface{}{
				"type": "Document",
				"url":  att.URL,
			}
			if att.MediaType != "" {
				doc["mediaType"] = att.MediaType
			}
			docs = append(docs, doc)
		}
		object["attachment"] = docs
	}

	return object
}

// NoteObject renders a note in its ActivityStreams object form for the
// HTTP surface.
func (e *Engine) NoteObject(note *domain.Note, author *domain.Account) map[string]interface{} {
	return e.buildNoteObject(note, author)
}

// CreateNoteActivity renders the Create wrapping of a note for the
// outbox collection.
func (e *Engine) CreateNoteActivity(note *domain.Note, author *domain.Account) map[string]interface{} {
	return e.buildCreateNote(note, author)
}

func (e *Engine) buildCreateNote(note *domain.Note, author *domain.Account) map[string]interface{} {
	actorURI := e.LocalActorURI(author.Username)
	object := e.buildNoteObject(note, author)
	return map[string]interface{}{
		"@context":  activityStreamsContext,
		"id":        e.noteURIOf(note) + "/activity",
		"type":      "Create",
		"actor":     actorURI,
		"published": object["published"],
		"to":        []string{PublicAudience},
		"cc":        []string{e.followersURI(author.Username)},
		"object":    object,
	}
}

func (e *Engine) buildAnnounce(announce *domain.Announce, note *domain.Note, author *domain.Account) map[string]interface{} {
	uri := announce.URI
	if uri == "" {
		uri = e.activityURI(announce.Id)
	}
	published := announce.Published
	if published.IsZero() {
		published = announce.CreatedAt
	}
	return map[string]interface{}{
		"@context":  activityStreamsContext,
		"id":        uri,
		"type":      "Announce",
		"actor":     e.LocalActorURI(author.Username),
		"published": published.Format(time.RFC3339),
		"to":        []string{PublicAudience},
		"cc":        []string{e.followersURI(author.Username)},
		"object":    e.noteURIOf(note),
	}
}
