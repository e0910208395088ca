package web

import (
	"encoding/json"
	"fmt"

	"github.com/deemkeen/mammut/activitypub"
	"github.com/deemkeen/mammut/db"
	"github.com/deemkeen/mammut/util"
	"github.com/google/uuid"
)

type action uint

const (
	id action = iota
	inbox
	outbox
	followers
	following
	sharedInbox
)

func getIRI(domain string, username string, a action) string {
	prefix := fmt.Sprintf("https://%s/users/%s", domain, username)
	switch a {
	case inbox:
		return fmt.Sprintf("%s/inbox", prefix)
	case outbox:
		return fmt.Sprintf("%s/outbox", prefix)
	case followers:
		return fmt.Sprintf("%s/followers", prefix)
	case following:
		return fmt.Sprintf("%s/following", prefix)
	case id:
		return prefix
	case sharedInbox:
		return fmt.Sprintf("https://%s/inbox", domain)
	default:
		return ""
	}
}

// GetActor renders the ActivityPub actor document for a local account.
func GetActor(database *db.DB, actor string, conf *util.AppConfig) (error, string) {
	err, acc := database.ReadAccByUsername(actor)
	if err != nil {
		return err, "{}"
	}

	username := acc.Username
	domainName := conf.Conf.SslDomain

	doc := map[string]interface{}{
		"@context": []string{
			"https://www.w3.org/ns/activitystreams",
			"https://w3id.org/security/v1",
		},
		"id":                        getIRI(domainName, username, id),
		"type":                      "Person",
		"preferredUsername":         username,
		"name":                      username,
		"inbox":                     getIRI(domainName, username, inbox),
		"outbox":                    getIRI(domainName, username, outbox),
		"followers":                 getIRI(domainName, username, followers),
		"following":                 getIRI(domainName, username, following),
		"url":                       getIRI(domainName, username, id),
		"manuallyApprovesFollowers": false,
		"discoverable":              true,
		"endpoints": map[string]interface{}{
			"sharedInbox": getIRI(domainName, username, sharedInbox),
		},
		"publicKey": map[string]interface{}{
			"id":           getIRI(domainName, username, id) + "#main-key",
			"owner":        getIRI(domainName, username, id),
			"publicKeyPem": acc.WebPublicKey,
		},
	}

	raw, merr := json.Marshal(doc)
	if merr != nil {
		return merr, "{}"
	}
	return nil, string(raw)
}

// GetNoteObject renders a local note as an ActivityPub object.
func GetNoteObject(database *db.DB, engine *activitypub.Engine, noteId uuid.UUID) (error, string) {
	err, note := database.ReadNoteById(noteId)
	if err != nil {
		return err, "{}"
	}

	err, account := database.ReadAccByUsername(note.CreatedBy)
	if err != nil {
		return err, "{}"
	}

	object := engine.NoteObject(note, account)
	object["@context"] = "https://www.w3.org/ns/activitystreams"

	raw, merr := json.Marshal(object)
	if merr != nil {
		return merr, "{}"
	}
	return nil, string(raw)
}
