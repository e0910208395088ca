package activitypub

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// resolvedDocument is a pre-seeded body waiting to be consumed. A nil
// pointer in the Resolver map means the URI was already consumed in
// this chain.
type resolvedDocument struct {
	context interface{}
	body    map[string]interface{}
}

// Resolver turns a URI (or base#fragment) into a JSON document while
// guaranteeing each reference is consumed at most once per resolution
// chain. Every Resolve call returns a fresh Resolver with the resolved
// URI marked consumed; sibling branches fork from the same parent and
// may therefore each dereference a shared URI once, but a cycle back to
// an ancestor always trips the consumed marker.
type Resolver struct {
	fetcher *Fetcher
	entries map[string]*resolvedDocument
}

func NewResolver(fetcher *Fetcher) *Resolver {
	return &Resolver{fetcher: fetcher, entries: map[string]*resolvedDocument{}}
}

// NewResolverWithDocuments pre-seeds documents already in hand, keyed
// by their URI, so resolving them costs no network call.
func NewResolverWithDocuments(fetcher *Fetcher, docs map[string]map[string]interface{}) *Resolver {
	entries := make(map[string]*resolvedDocument, len(docs))
	for uri, body := range docs {
		entries[uri] = &resolvedDocument{context: body["@context"], body: body}
	}
	return &Resolver{fetcher: fetcher, entries: entries}
}

// fork copies the consumed-set so that marking a URI in the child never
// leaks into siblings that branched off the same parent.
func (r *Resolver) fork() *Resolver {
	entries := make(map[string]*resolvedDocument, len(r.entries)+1)
	for uri, doc := range r.entries {
		entries[uri] = doc
	}
	return &Resolver{fetcher: r.fetcher, entries: entries}
}

// Resolve dereferences uri and returns the effective @context, the
// document body, and the successor Resolver with uri marked consumed.
func (r *Resolver) Resolve(ctx context.Context, uri string) (interface{}, map[string]interface{}, *Resolver, error) {
	if doc, ok := r.entries[uri]; ok {
		if doc == nil {
			return nil, nil, nil, fmt.Errorf("%w: %s", ErrCircularReference, uri)
		}
		next := r.fork()
		next.entries[uri] = nil
		return doc.context, doc.body, next, nil
	}

	base, fragment, hasFragment := strings.Cut(uri, "#")
	if hasFragment && fragment != "" {
		return r.resolveFragment(ctx, uri, base, fragment)
	}

	body, err := r.fetch(ctx, uri)
	if err != nil {
		return nil, nil, nil, err
	}

	if id, ok := body["id"].(string); ok && id != uri {
		return nil, nil, nil, &IdentityMismatchError{Expected: uri, Got: id}
	}

	next := r.fork()
	next.entries[uri] = nil
	return body["@context"], body, next, nil
}

// resolveFragment fetches the base document and searches its subtree
// for a node carrying the fragment id. The base document is pre-seeded
// in the successor Resolver so sibling dereferences of it do not
// refetch.
func (r *Resolver) resolveFragment(ctx context.Context, uri, base, fragment string) (interface{}, map[string]interface{}, *Resolver, error) {
	if doc, ok := r.entries[base]; ok && doc == nil {
		return nil, nil, nil, fmt.Errorf("%w: %s", ErrCircularReference, base)
	}

	body, err := r.fetch(ctx, base)
	if err != nil {
		return nil, nil, nil, err
	}

	if id, ok := body["id"].(string); ok && id != base {
		return nil, nil, nil, &IdentityMismatchError{Expected: base, Got: id}
	}

	fragCtx, fragBody := findFragment(body, body["@context"], uri, "#"+fragment)
	if fragBody == nil {
		return nil, nil, nil, fmt.Errorf("%w: %s", ErrFragmentNotFound, uri)
	}

	next := r.fork()
	next.entries[uri] = nil
	next.entries[base] = &resolvedDocument{context: body["@context"], body: body}
	return fragCtx, fragBody, next, nil
}

// findFragment walks the subtree depth-first, reassigning the effective
// @context whenever a node declares its own, looking for a node whose
// id equals either the full fragment URI or the bare #frag form.
func findFragment(node interface{}, inherited interface{}, fullURI, bareFrag string) (interface{}, map[string]interface{}) {
	switch v := node.(type) {
	case map[string]interface{}:
		effective := inherited
		if declared, ok := v["@context"]; ok {
			effective = declared
		}
		if id, ok := v["id"].(string); ok && (id == fullURI || id == bareFrag) {
			return effective, v
		}
		for _, child := range v {
			if ctx, body := findFragment(child, effective, fullURI, bareFrag); body != nil {
				return ctx, body
			}
		}
	case []interface{}:
		for _, child := range v {
			if ctx, body := findFragment(child, inherited, fullURI, bareFrag); body != nil {
				return ctx, body
			}
		}
	}
	return nil, nil
}

func (r *Resolver) fetch(ctx context.Context, uri string) (map[string]interface{}, error) {
	raw, err := r.fetcher.Get(ctx, uri)
	if err != nil {
		return nil, err
	}

	var body map[string]interface{}
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("failed to parse document at %s: %w", uri, err)
	}
	return body, nil
}
