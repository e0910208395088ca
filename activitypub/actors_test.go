package activitypub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
)

// remoteHost spins up a TLS host serving an actor document plus
// WebFinger, and points the engine's fetcher at it.
type remoteHost struct {
	server   *httptest.Server
	hits     int64
	actorURI string
	keyURI   string

	// secondSubject overrides the subject returned when WebFinger is
	// queried by actor URI instead of acct coordinates.
	secondSubject string
}

func newRemoteHost(t *testing.T, e *Engine) *remoteHost {
	t.Helper()
	h := &remoteHost{}

	h.server = httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&h.hits, 1)
		switch {
		case r.URL.Path == "/.well-known/webfinger":
			resource := r.URL.Query().Get("resource")
			subject := "acct:bob@" + h.host()
			if !strings.HasPrefix(resource, "acct:") && h.secondSubject != "" {
				subject = h.secondSubject
			}
			json.NewEncoder(w).Encode(map[string]interface{}{
				"subject": subject,
				"links": []map[string]string{
					{"rel": "self", "type": activityStreamsMediaType, "href": h.actorURI},
				},
			})
		case r.URL.Path == "/users/bob":
			json.NewEncoder(w).Encode(h.actorDocument())
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(h.server.Close)

	h.actorURI = h.server.URL + "/users/bob"
	h.keyURI = h.actorURI + "#main-key"
	e.fetcher.Client = h.server.Client()
	return h
}

func (h *remoteHost) host() string {
	return strings.TrimPrefix(h.server.URL, "https://")
}

func (h *remoteHost) actorDocument() map[string]interface{} {
	return map[string]interface{}{
		"@context": []interface{}{
			"https://www.w3.org/ns/activitystreams",
			"https://w3id.org/security/v1",
		},
		"id":                h.actorURI,
		"type":              "Person",
		"preferredUsername": "bob",
		"name":              "Bob",
		"inbox":             h.actorURI + "/inbox",
		"outbox":            h.actorURI + "/outbox",
		"publicKey": map[string]interface{}{
			"id":           h.keyURI,
			"owner":        h.actorURI,
			"publicKeyPem": "PEM",
		},
		// A previous key generation still reachable by fragment.
		"assertionMethod": map[string]interface{}{
			"id":           h.actorURI + "#old-key",
			"owner":        h.actorURI,
			"publicKeyPem": "OLD-PEM",
		},
	}
}

func TestActorFromViewFetchesAndCaches(t *testing.T) {
	e := newTestEngine(t)
	h := newRemoteHost(t, e)

	view := NewView(e.fetcher, h.actorURI, AnyHost)
	actor, err := e.ActorFromView(context.Background(), view)
	if err != nil {
		t.Fatalf("ActorFromView failed: %v", err)
	}
	if actor.IsLocal() {
		t.Fatal("Expected a remote actor")
	}
	if actor.Remote.Username != "bob" {
		t.Errorf("Unexpected username: %q", actor.Remote.Username)
	}
	if actor.Remote.InboxURI != h.actorURI+"/inbox" {
		t.Errorf("Unexpected inbox: %q", actor.Remote.InboxURI)
	}
	if actor.Remote.PublicKeyURI != h.keyURI {
		t.Errorf("Unexpected key URI: %q", actor.Remote.PublicKeyURI)
	}

	// A fresh cache row answers the second resolution without a fetch.
	before := atomic.LoadInt64(&h.hits)
	if _, err := e.ActorFromView(context.Background(), NewView(e.fetcher, h.actorURI, AnyHost)); err != nil {
		t.Fatalf("Cached resolution failed: %v", err)
	}
	if atomic.LoadInt64(&h.hits) != before {
		t.Error("Cached actor should not have been refetched")
	}
}

func TestActorFromViewRejectsMissingSecurityContext(t *testing.T) {
	e := newTestEngine(t)

	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"@context":          "https://www.w3.org/ns/activitystreams",
			"id":                fmt.Sprintf("https://%s/users/eve", r.Host),
			"type":              "Person",
			"preferredUsername": "eve",
			"inbox":             fmt.Sprintf("https://%s/users/eve/inbox", r.Host),
		})
	}))
	defer server.Close()
	e.fetcher.Client = server.Client()

	view := NewView(e.fetcher, server.URL+"/users/eve", AnyHost)
	if _, err := e.ActorFromView(context.Background(), view); err == nil {
		t.Error("Actor without the security context should be rejected")
	}
}

func TestActorFromKeyURI(t *testing.T) {
	e := newTestEngine(t)
	h := newRemoteHost(t, e)

	actor, err := e.ActorFromKeyURI(context.Background(), h.keyURI)
	if err != nil {
		t.Fatalf("ActorFromKeyURI failed: %v", err)
	}
	if actor.Remote.PublicKeyPem != "PEM" {
		t.Errorf("Unexpected key material: %q", actor.Remote.PublicKeyPem)
	}
}

func TestActorFromKeyURIStaleKeyRejected(t *testing.T) {
	e := newTestEngine(t)
	h := newRemoteHost(t, e)

	// The old key fragment still resolves and names the right owner,
	// but the owner's current key id disagrees, so it must not be
	// vouched for.
	_, err := e.ActorFromKeyURI(context.Background(), h.actorURI+"#old-key")
	var mismatch *IdentityMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("Expected identity mismatch for stale key, got %v", err)
	}
	if mismatch.Expected != h.actorURI+"#old-key" {
		t.Errorf("Unexpected mismatch detail: %+v", mismatch)
	}
}

func TestActorFromUsernameAndHostLocal(t *testing.T) {
	e := newTestEngine(t)
	newLocalAccount(t, e, "alice")

	actor, err := e.ActorFromUsernameAndHost(context.Background(), "alice", "")
	if err != nil {
		t.Fatalf("Local resolution failed: %v", err)
	}
	if !actor.IsLocal() {
		t.Error("Expected a local actor")
	}

	actor, err = e.ActorFromUsernameAndHost(context.Background(), "alice", testDomain)
	if err != nil {
		t.Fatalf("Own-domain resolution failed: %v", err)
	}
	if !actor.IsLocal() {
		t.Error("Own domain should resolve locally")
	}
}

func TestActorFromUsernameAndHostDoubleRoundTrip(t *testing.T) {
	e := newTestEngine(t)
	h := newRemoteHost(t, e)

	actor, err := e.ActorFromUsernameAndHost(context.Background(), "bob", h.host())
	if err != nil {
		t.Fatalf("WebFinger resolution failed: %v", err)
	}
	if actor.Remote.ActorURI != h.actorURI {
		t.Errorf("Unexpected actor URI: %q", actor.Remote.ActorURI)
	}
}

func TestActorFromUsernameAndHostSubjectMismatch(t *testing.T) {
	e := newTestEngine(t)
	h := newRemoteHost(t, e)
	h.secondSubject = "acct:mallory@elsewhere.example"

	_, err := e.ActorFromUsernameAndHost(context.Background(), "bob", h.host())
	var mismatch *IdentityMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("Expected identity mismatch on second round trip, got %v", err)
	}
}
