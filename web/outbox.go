package web

import (
	"encoding/json"
	"fmt"
	"log"
	"strconv"

	"github.com/deemkeen/mammut/activitypub"
	"github.com/deemkeen/mammut/db"
	"github.com/deemkeen/mammut/util"
	"github.com/google/uuid"
)

const outboxPageSize = 20

// GetOutbox returns an ActivityPub OrderedCollection of a user's
// public posts so remote servers can discover them without following.
func GetOutbox(database *db.DB, engine *activitypub.Engine, actor string, page int, conf *util.AppConfig) (error, string) {
	err, account := database.ReadAccByUsername(actor)
	if err != nil {
		log.Printf("GetOutbox: User %s not found: %v", actor, err)
		return err, "{}"
	}

	outboxURL := fmt.Sprintf("https://%s/users/%s/outbox", conf.Conf.SslDomain, actor)

	if page == 0 {
		err, notes := database.ReadNotesByUsername(actor)
		if err != nil {
			log.Printf("GetOutbox: Failed to count notes for %s: %v", actor, err)
			return err, "{}"
		}
		totalItems := 0
		if notes != nil {
			totalItems = len(*notes)
		}

		collection := map[string]interface{}{
			"@context":   "https://www.w3.org/ns/activitystreams",
			"id":         outboxURL,
			"type":       "OrderedCollection",
			"totalItems": totalItems,
			"first":      fmt.Sprintf("%s?page=1", outboxURL),
		}
		return marshalCollection(collection)
	}

	offset := (page - 1) * outboxPageSize
	err, notes := database.ReadNotesByUsernamePaged(actor, outboxPageSize+1, offset)
	if err != nil {
		log.Printf("GetOutbox: Failed to fetch notes page %d for %s: %v", page, actor, err)
		return err, "{}"
	}

	hasMore := false
	items := []interface{}{}
	if notes != nil {
		pageNotes := *notes
		if len(pageNotes) > outboxPageSize {
			hasMore = true
			pageNotes = pageNotes[:outboxPageSize]
		}
		for _, note := range pageNotes {
			note := note
			items = append(items, engine.CreateNoteActivity(&note, account))
		}
	}

	collectionPage := map[string]interface{}{
		"@context":     "https://www.w3.org/ns/activitystreams",
		"id":           fmt.Sprintf("%s?page=%d", outboxURL, page),
		"type":         "OrderedCollectionPage",
		"partOf":       outboxURL,
		"orderedItems": items,
	}
	if hasMore {
		collectionPage["next"] = fmt.Sprintf("%s?page=%d", outboxURL, page+1)
	}
	if page > 1 {
		collectionPage["prev"] = fmt.Sprintf("%s?page=%d", outboxURL, page-1)
	}
	return marshalCollection(collectionPage)
}

// GetFollowers returns the follower collection of a local account,
// listing remote actor URIs and local actor URIs alike.
func GetFollowers(database *db.DB, engine *activitypub.Engine, actor string, conf *util.AppConfig) (error, string) {
	err, account := database.ReadAccByUsername(actor)
	if err != nil {
		return err, "{}"
	}

	err, follows := database.ReadFollowersOf(account.Id)
	if err != nil {
		return err, "{}"
	}

	items := []string{}
	for _, follow := range *follows {
		if uri := followActorURI(database, engine, follow.AccountId, follow.AccountLocal); uri != "" {
			items = append(items, uri)
		}
	}

	collection := map[string]interface{}{
		"@context":   "https://www.w3.org/ns/activitystreams",
		"id":         fmt.Sprintf("https://%s/users/%s/followers", conf.Conf.SslDomain, actor),
		"type":       "OrderedCollection",
		"totalItems": len(items),
		"orderedItems": items,
	}
	return marshalCollection(collection)
}

// GetFollowing returns the collection of accounts a local user follows.
func GetFollowing(database *db.DB, engine *activitypub.Engine, actor string, conf *util.AppConfig) (error, string) {
	err, account := database.ReadAccByUsername(actor)
	if err != nil {
		return err, "{}"
	}

	err, follows := database.ReadFollowingOf(account.Id)
	if err != nil {
		return err, "{}"
	}

	items := []string{}
	for _, follow := range *follows {
		if uri := followActorURI(database, engine, follow.TargetAccountId, follow.TargetLocal); uri != "" {
			items = append(items, uri)
		}
	}

	collection := map[string]interface{}{
		"@context":   "https://www.w3.org/ns/activitystreams",
		"id":         fmt.Sprintf("https://%s/users/%s/following", conf.Conf.SslDomain, actor),
		"type":       "OrderedCollection",
		"totalItems": len(items),
		"orderedItems": items,
	}
	return marshalCollection(collection)
}

func followActorURI(database *db.DB, engine *activitypub.Engine, accountId uuid.UUID, local bool) string {
	if local {
		err, acc := database.ReadAccById(accountId)
		if err != nil {
			return ""
		}
		return engine.LocalActorURI(acc.Username)
	}
	err, remote := database.ReadRemoteAccountById(accountId)
	if err != nil {
		return ""
	}
	return remote.ActorURI
}

func marshalCollection(collection map[string]interface{}) (error, string) {
	raw, err := json.Marshal(collection)
	if err != nil {
		return err, "{}"
	}
	return nil, string(raw)
}

// ParsePageParam extracts the page parameter from a query string
func ParsePageParam(pageStr string) int {
	if pageStr == "" {
		return 0
	}
	page, err := strconv.Atoi(pageStr)
	if err != nil || page < 0 {
		return 0
	}
	return page
}
