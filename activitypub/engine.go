package activitypub

import (
	"fmt"
	"strings"

	"github.com/deemkeen/mammut/db"
	"github.com/deemkeen/mammut/domain"
	"github.com/deemkeen/mammut/util"
	"github.com/google/uuid"
)

// Engine ties the federation machinery together: fetching, actor
// resolution, activity dispatch and outbound delivery all run through
// one instance.
type Engine struct {
	db      *db.DB
	conf    *util.AppConfig
	fetcher *Fetcher
}

var defaultEngine *Engine

// SetDefault registers the engine used by code that has no handle on
// the instance, like the SSH dashboard commands.
func SetDefault(e *Engine) {
	defaultEngine = e
}

func GetEngine() *Engine {
	return defaultEngine
}

func NewEngine(database *db.DB, conf *util.AppConfig) *Engine {
	userAgent := fmt.Sprintf("mammut/%s (%s)", util.GetVersion(), conf.Conf.SslDomain)
	return &Engine{
		db:      database,
		conf:    conf,
		fetcher: NewFetcher(userAgent),
	}
}

// Fetcher exposes the engine's HTTP client for handlers that construct
// views directly.
func (e *Engine) Fetcher() *Fetcher {
	return e.fetcher
}

func (e *Engine) domainName() string {
	return e.conf.Conf.SslDomain
}

// LocalActorURI returns the canonical URI of a local account.
func (e *Engine) LocalActorURI(username string) string {
	return fmt.Sprintf("https://%s/users/%s", e.domainName(), username)
}

// LocalKeyURI returns the canonical key URI of a local account.
func (e *Engine) LocalKeyURI(username string) string {
	return e.LocalActorURI(username) + "#main-key"
}

// LocalNoteURI returns the canonical URI of a local note.
func (e *Engine) LocalNoteURI(id uuid.UUID) string {
	return fmt.Sprintf("https://%s/notes/%s", e.domainName(), id.String())
}

func (e *Engine) localActorPrefix() string {
	return fmt.Sprintf("https://%s/users/", e.domainName())
}

func (e *Engine) localNotePrefix() string {
	return fmt.Sprintf("https://%s/notes/", e.domainName())
}

// localUsernameOf extracts the username from a local actor URI, or ""
// when the URI does not name a local actor.
func (e *Engine) localUsernameOf(uri string) string {
	rest, found := strings.CutPrefix(uri, e.localActorPrefix())
	if !found || rest == "" || strings.ContainsAny(rest, "/#?") {
		return ""
	}
	return rest
}

// localNoteIdOf extracts the note id from a local note URI.
func (e *Engine) localNoteIdOf(uri string) (uuid.UUID, bool) {
	rest, found := strings.CutPrefix(uri, e.localNotePrefix())
	if !found {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(rest)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

// ActorURI returns the canonical URI of a local or remote actor.
func (e *Engine) ActorURI(actor *domain.Actor) string {
	if actor.IsLocal() {
		return e.LocalActorURI(actor.Local.Username)
	}
	return actor.Remote.ActorURI
}
