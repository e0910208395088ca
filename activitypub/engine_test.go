package activitypub

import (
	"path/filepath"
	"testing"

	"github.com/deemkeen/mammut/db"
	"github.com/deemkeen/mammut/domain"
	"github.com/deemkeen/mammut/util"
	"github.com/google/uuid"
)

const testDomain = "mammut.example"

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	database, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}

	conf := &util.AppConfig{}
	conf.Conf.SslDomain = testDomain
	conf.Conf.WithAp = true

	return NewEngine(database, conf)
}

func newLocalAccount(t *testing.T, e *Engine, username string) *domain.Account {
	t.Helper()
	err, account := e.db.CreateLocalAccount(username, util.GeneratePemKeypair())
	if err != nil {
		t.Fatalf("Failed to create local account: %v", err)
	}
	return account
}

func newRemoteActor(t *testing.T, e *Engine, username, host string) *domain.Actor {
	t.Helper()
	actorURI := "https://" + host + "/users/" + username
	err, remote := e.db.CreateRemoteAccount(&domain.RemoteAccount{
		Username:     username,
		Domain:       host,
		ActorURI:     actorURI,
		InboxURI:     actorURI + "/inbox",
		PublicKeyURI: actorURI + "#main-key",
		PublicKeyPem: "PEM",
	})
	if err != nil {
		t.Fatalf("Failed to create remote account: %v", err)
	}
	return &domain.Actor{Username: username, Host: host, Remote: remote}
}

func TestLocalURIHelpers(t *testing.T) {
	e := newTestEngine(t)

	if got := e.LocalActorURI("alice"); got != "https://mammut.example/users/alice" {
		t.Errorf("Unexpected actor URI: %q", got)
	}
	if got := e.LocalKeyURI("alice"); got != "https://mammut.example/users/alice#main-key" {
		t.Errorf("Unexpected key URI: %q", got)
	}

	noteId := uuid.New()
	noteURI := e.LocalNoteURI(noteId)
	gotId, ok := e.localNoteIdOf(noteURI)
	if !ok || gotId != noteId {
		t.Errorf("Note URI roundtrip failed: %q -> %v %v", noteURI, gotId, ok)
	}
}

func TestLocalUsernameOf(t *testing.T) {
	e := newTestEngine(t)

	if got := e.localUsernameOf("https://mammut.example/users/alice"); got != "alice" {
		t.Errorf("Expected alice, got %q", got)
	}
	if got := e.localUsernameOf("https://mammut.example/users/alice/followers"); got != "" {
		t.Errorf("Sub-path should not count as a username, got %q", got)
	}
	if got := e.localUsernameOf("https://remote.example/users/alice"); got != "" {
		t.Errorf("Foreign host should not count as local, got %q", got)
	}
}

func TestActorURI(t *testing.T) {
	e := newTestEngine(t)
	account := newLocalAccount(t, e, "alice")

	local := &domain.Actor{Username: "alice", Local: account}
	if got := e.ActorURI(local); got != "https://mammut.example/users/alice" {
		t.Errorf("Unexpected local actor URI: %q", got)
	}

	remote := newRemoteActor(t, e, "bob", "remote.example")
	if got := e.ActorURI(remote); got != "https://remote.example/users/bob" {
		t.Errorf("Unexpected remote actor URI: %q", got)
	}
}
