package activitypub

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"strings"
	"time"

	"github.com/deemkeen/mammut/domain"
	"github.com/deemkeen/mammut/util"
)

// securityContext must appear in an actor document's @context before
// its public key material is trusted.
const securityContext = "https://w3id.org/security/v1"

// remoteAccountTTL is how long a cached remote account is served
// without a refetch.
const remoteAccountTTL = 24 * time.Hour

// webFingerResponse is the subset of RFC 7033 this server consumes.
type webFingerResponse struct {
	Subject string `json:"subject"`
	Links   []struct {
		Rel  string `json:"rel"`
		Type string `json:"type"`
		Href string `json:"href"`
	} `json:"links"`
}

// webFinger fetches the WebFinger document for a resource from the
// given host.
func (e *Engine) webFinger(ctx context.Context, host, resource string) (*webFingerResponse, error) {
	uri := fmt.Sprintf("https://%s/.well-known/webfinger?resource=%s", host, url.QueryEscape(resource))
	raw, err := e.fetcher.Get(ctx, uri)
	if err != nil {
		return nil, err
	}

	var finger webFingerResponse
	if err := json.Unmarshal(raw, &finger); err != nil {
		return nil, fmt.Errorf("failed to parse WebFinger document: %w", err)
	}
	return &finger, nil
}

func selfLink(finger *webFingerResponse) string {
	for _, link := range finger.Links {
		if link.Rel == "self" {
			return link.Href
		}
	}
	return ""
}

// ActorFromUsernameAndHost resolves an actor by acct coordinates. An
// empty or local host is a plain local lookup; anything else goes
// through WebFinger with a double round-trip: the actor document found
// via the first lookup is confirmed by re-fingering its canonical URI
// and requiring the subjects to agree. A peer that controls DNS for
// one name but not the canonical one fails the second leg.
func (e *Engine) ActorFromUsernameAndHost(ctx context.Context, username, host string) (*domain.Actor, error) {
	host = util.NormalizeHost(host)
	if host == "" || host == util.NormalizeHost(e.domainName()) {
		err, account := e.db.ReadAccByUsername(username)
		if err != nil {
			return nil, fmt.Errorf("%w: local account %s", ErrNotFound, username)
		}
		return &domain.Actor{Username: account.Username, Local: account}, nil
	}

	err, cached := e.db.ReadRemoteAccountByAcct(username, host)
	if err == nil && cached != nil && time.Since(cached.LastFetchedAt) < remoteAccountTTL {
		return remoteActor(cached), nil
	}

	firstFinger, ferr := e.webFinger(ctx, host, fmt.Sprintf("acct:%s@%s", username, host))
	if ferr != nil {
		return nil, ferr
	}

	href := selfLink(firstFinger)
	if href == "" {
		return nil, fmt.Errorf("%w: no self link for acct:%s@%s", ErrNotFound, username, host)
	}

	view := NewView(e.fetcher, href, AnyHost)
	account, aerr := e.createFromHostAndView(ctx, hostOfURI(href), view)
	if aerr != nil {
		return nil, aerr
	}

	secondFinger, ferr := e.webFinger(ctx, util.NormalizeHost(account.Domain), account.ActorURI)
	if ferr != nil {
		return nil, ferr
	}
	if secondFinger.Subject != firstFinger.Subject {
		return nil, &IdentityMismatchError{Expected: firstFinger.Subject, Got: secondFinger.Subject}
	}

	return remoteActor(account), nil
}

// ActorFromView resolves an actor referenced by an activity field,
// local by canonical path, remote through the cache or a fresh fetch.
func (e *Engine) ActorFromView(ctx context.Context, view *ActivityView) (*domain.Actor, error) {
	uri, err := view.ID(ctx)
	if err != nil {
		return nil, err
	}

	if username := e.localUsernameOf(uri); username != "" {
		err, account := e.db.ReadAccByUsername(username)
		if err != nil {
			return nil, fmt.Errorf("%w: local account %s", ErrNotFound, username)
		}
		return &domain.Actor{Username: account.Username, Local: account}, nil
	}

	err, cached := e.db.ReadRemoteAccountByURI(uri)
	if err == nil && cached != nil && time.Since(cached.LastFetchedAt) < remoteAccountTTL {
		return remoteActor(cached), nil
	}

	account, aerr := e.createFromHostAndView(ctx, view.NormalizedHost(), view)
	if aerr != nil {
		return nil, aerr
	}
	return remoteActor(account), nil
}

// ActorFromKeyURI resolves the actor owning a signing key. A key URI
// already associated with a cached account short-circuits; otherwise
// the key document's owner is fetched, and the owner's current key id
// must equal the requested URI so a stale or rotated key is never
// vouched for.
func (e *Engine) ActorFromKeyURI(ctx context.Context, keyUri string) (*domain.Actor, error) {
	err, cached := e.db.ReadRemoteAccountByKeyURI(keyUri)
	if err == nil && cached != nil {
		return remoteActor(cached), nil
	}

	keyView := NewView(e.fetcher, keyUri, AnyHost)
	owner, oerr := keyView.Owner(ctx)
	if oerr != nil {
		return nil, oerr
	}
	if owner == nil {
		return nil, fmt.Errorf("%w: key %s has no owner", ErrNotFound, keyUri)
	}

	actor, aerr := e.ActorFromView(ctx, owner)
	if aerr != nil {
		return nil, aerr
	}
	if actor.IsLocal() {
		return nil, fmt.Errorf("%w: key %s claims a local owner", ErrNotFound, keyUri)
	}
	if actor.Remote.PublicKeyURI != keyUri {
		return nil, &IdentityMismatchError{Expected: keyUri, Got: actor.Remote.PublicKeyURI}
	}
	return actor, nil
}

// createFromHostAndView materializes a remote account from an actor
// document, validating the security context and that the advertised
// key belongs to the actor's own host.
func (e *Engine) createFromHostAndView(ctx context.Context, host string, view *ActivityView) (*domain.RemoteAccount, error) {
	contexts, err := view.Context(ctx)
	if err != nil {
		return nil, err
	}
	if !contexts[securityContext] {
		return nil, fmt.Errorf("%w: actor document lacks %s context", ErrTypeNotAllowed, securityContext)
	}

	uri, err := view.ID(ctx)
	if err != nil {
		return nil, err
	}
	actorHost := hostOfURI(uri)
	if host != AnyHost && host != NoHost && actorHost != host {
		return nil, &IdentityMismatchError{Expected: host, Got: actorHost}
	}

	username, err := view.PreferredUsername(ctx)
	if err != nil {
		return nil, err
	}

	inbox, err := view.Inbox(ctx)
	if err != nil {
		return nil, err
	}
	if inbox == nil {
		return nil, fmt.Errorf("%w: actor %s has no inbox", ErrNotFound, uri)
	}
	inboxURI, err := inbox.ID(ctx)
	if err != nil {
		return nil, err
	}

	key, err := view.PublicKey(ctx)
	if err != nil {
		return nil, err
	}
	if key == nil {
		return nil, fmt.Errorf("%w: actor %s has no public key", ErrNotFound, uri)
	}
	keyURI, err := key.ID(ctx)
	if err != nil {
		return nil, err
	}
	if hostOfURI(keyURI) != actorHost {
		return nil, &IdentityMismatchError{Expected: actorHost, Got: hostOfURI(keyURI)}
	}
	keyPem, err := key.PublicKeyPem(ctx)
	if err != nil {
		return nil, err
	}

	displayName, _ := view.Name(ctx)
	summary, _ := view.Summary(ctx)

	outboxURI := ""
	if outbox, oerr := view.child(ctx, "outbox"); oerr == nil && outbox != nil {
		outboxURI, _ = outbox.ID(ctx)
	}

	account := &domain.RemoteAccount{
		Username:      username,
		Domain:        actorHost,
		ActorURI:      uri,
		DisplayName:   displayName,
		Summary:       summary,
		InboxURI:      inboxURI,
		OutboxURI:     outboxURI,
		PublicKeyURI:  keyURI,
		PublicKeyPem:  keyPem,
		LastFetchedAt: time.Now(),
	}

	err, stored := e.db.CreateRemoteAccount(account)
	if err != nil {
		return nil, fmt.Errorf("failed to store remote account: %w", err)
	}

	// A stale cached row loses the insert race; push the fresh fields.
	if stored.PublicKeyURI != account.PublicKeyURI || stored.PublicKeyPem != account.PublicKeyPem ||
		stored.DisplayName != account.DisplayName || stored.InboxURI != account.InboxURI {
		stored.DisplayName = account.DisplayName
		stored.Summary = account.Summary
		stored.InboxURI = account.InboxURI
		stored.OutboxURI = account.OutboxURI
		stored.PublicKeyURI = account.PublicKeyURI
		stored.PublicKeyPem = account.PublicKeyPem
		stored.LastFetchedAt = account.LastFetchedAt
		if uerr := e.db.UpdateRemoteAccount(stored); uerr != nil {
			log.Printf("Actors: Failed to refresh remote account %s: %v", stored.ActorURI, uerr)
		}
	}

	return stored, nil
}

func remoteActor(account *domain.RemoteAccount) *domain.Actor {
	return &domain.Actor{
		Username: account.Username,
		Host:     strings.ToLower(account.Domain),
		Remote:   account,
	}
}
