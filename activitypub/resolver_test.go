package activitypub

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

// documentServer serves canned JSON documents keyed by path and counts
// hits. The docs map may be populated after the server starts, as long
// as it happens before the first request.
func documentServer(t *testing.T) (*httptest.Server, map[string]map[string]interface{}, *int64) {
	t.Helper()
	docs := map[string]map[string]interface{}{}
	var hits int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		doc, ok := docs[r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		atomic.AddInt64(&hits, 1)
		json.NewEncoder(w).Encode(doc)
	}))
	t.Cleanup(server.Close)
	return server, docs, &hits
}

func TestResolveReturnsDocument(t *testing.T) {
	server, docs, _ := documentServer(t)

	uri := server.URL + "/note"
	docs["/note"] = map[string]interface{}{
		"@context": "https://www.w3.org/ns/activitystreams",
		"id":       uri,
		"type":     "Note",
		"content":  "hello",
	}

	resolver := NewResolver(NewFetcher("test-agent"))
	jsonCtx, body, next, err := resolver.Resolve(context.Background(), uri)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if jsonCtx != "https://www.w3.org/ns/activitystreams" {
		t.Errorf("Unexpected context: %v", jsonCtx)
	}
	if body["content"] != "hello" {
		t.Errorf("Unexpected body: %v", body)
	}
	if next == nil {
		t.Fatal("Expected successor resolver")
	}

	// Resolving the same URI through the successor trips the loop guard.
	_, _, _, err = next.Resolve(context.Background(), uri)
	if !errors.Is(err, ErrCircularReference) {
		t.Errorf("Expected circular reference error, got %v", err)
	}
}

func TestResolveSiblingsForkFromParent(t *testing.T) {
	server, docs, _ := documentServer(t)

	shared := server.URL + "/shared"
	docs["/shared"] = map[string]interface{}{"id": shared, "type": "Note"}

	parent := NewResolver(NewFetcher("test-agent"))

	// Two sibling branches fork from the same parent; each may consume
	// the shared URI once without tripping the other's guard.
	_, _, _, err := parent.Resolve(context.Background(), shared)
	if err != nil {
		t.Fatalf("First branch failed: %v", err)
	}
	_, _, _, err = parent.Resolve(context.Background(), shared)
	if err != nil {
		t.Fatalf("Second branch failed: %v", err)
	}
}

func TestResolvePreseededSkipsNetwork(t *testing.T) {
	uri := "https://remote.example/actor"
	resolver := NewResolverWithDocuments(NewFetcher("test-agent"), map[string]map[string]interface{}{
		uri: {
			"@context": "https://www.w3.org/ns/activitystreams",
			"id":       uri,
			"type":     "Person",
		},
	})

	// No server behind the URI; a network attempt would fail.
	_, body, next, err := resolver.Resolve(context.Background(), uri)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if body["type"] != "Person" {
		t.Errorf("Unexpected body: %v", body)
	}

	_, _, _, err = next.Resolve(context.Background(), uri)
	if !errors.Is(err, ErrCircularReference) {
		t.Errorf("Preseeded document should still be consumed once, got %v", err)
	}
}

func TestResolveIdentityMismatch(t *testing.T) {
	server, docs, _ := documentServer(t)

	uri := server.URL + "/actor"
	docs["/actor"] = map[string]interface{}{
		"id":   "https://elsewhere.example/actor",
		"type": "Person",
	}

	resolver := NewResolver(NewFetcher("test-agent"))
	_, _, _, err := resolver.Resolve(context.Background(), uri)

	var mismatch *IdentityMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("Expected identity mismatch, got %v", err)
	}
	if mismatch.Expected != uri {
		t.Errorf("Unexpected mismatch detail: %+v", mismatch)
	}
}

func TestResolveFragment(t *testing.T) {
	server, docs, hits := documentServer(t)

	base := server.URL + "/actor"
	keyURI := base + "#main-key"
	docs["/actor"] = map[string]interface{}{
		"@context": "https://www.w3.org/ns/activitystreams",
		"id":       base,
		"type":     "Person",
		"publicKey": map[string]interface{}{
			"@context":     "https://w3id.org/security/v1",
			"id":           keyURI,
			"owner":        base,
			"publicKeyPem": "PEM",
		},
	}

	resolver := NewResolver(NewFetcher("test-agent"))
	fragCtx, body, next, err := resolver.Resolve(context.Background(), keyURI)
	if err != nil {
		t.Fatalf("Fragment resolve failed: %v", err)
	}
	if body["publicKeyPem"] != "PEM" {
		t.Errorf("Wrong node found: %v", body)
	}
	// The fragment node declares its own context.
	if fragCtx != "https://w3id.org/security/v1" {
		t.Errorf("Fragment context not reassigned: %v", fragCtx)
	}

	// The base document is pre-seeded in the successor, so resolving it
	// costs no second fetch.
	before := atomic.LoadInt64(hits)
	_, baseBody, _, err := next.Resolve(context.Background(), base)
	if err != nil {
		t.Fatalf("Base resolve failed: %v", err)
	}
	if baseBody["type"] != "Person" {
		t.Errorf("Unexpected base body: %v", baseBody)
	}
	if atomic.LoadInt64(hits) != before {
		t.Error("Base document should have been preseeded, not refetched")
	}
}

func TestResolveFragmentNotFound(t *testing.T) {
	server, docs, _ := documentServer(t)

	base := server.URL + "/actor"
	docs["/actor"] = map[string]interface{}{
		"id":   base,
		"type": "Person",
	}

	resolver := NewResolver(NewFetcher("test-agent"))
	_, _, _, err := resolver.Resolve(context.Background(), base+"#missing-key")
	if !errors.Is(err, ErrFragmentNotFound) {
		t.Errorf("Expected fragment not found, got %v", err)
	}
}

func TestFindFragmentBareForm(t *testing.T) {
	doc := map[string]interface{}{
		"id": "https://remote.example/actor",
		"publicKey": map[string]interface{}{
			"id":           "#main-key",
			"publicKeyPem": "PEM",
		},
	}

	_, body := findFragment(doc, doc["@context"], "https://remote.example/actor#main-key", "#main-key")
	if body == nil {
		t.Fatal("Expected bare fragment id to match")
	}
	if body["publicKeyPem"] != "PEM" {
		t.Errorf("Wrong node: %v", body)
	}
}
