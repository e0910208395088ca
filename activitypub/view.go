package activitypub

import (
	"context"
	"fmt"
	"net/url"

	"github.com/deemkeen/mammut/util"
)

// Host sentinels for ActivityView construction.
const (
	// AnyHost disables host matching; embedded objects resolve in place
	// regardless of which host their id belongs to.
	AnyHost = "*"

	// NoHost marks a view whose reference carries no resolvable host,
	// e.g. an anonymous embedded public key.
	NoHost = ""
)

// PublicAudience is the ActivityStreams sentinel for the public
// collection. It appears in audience fields and is never dereferenced
// as an actor.
const PublicAudience = "https://www.w3.org/ns/activitystreams#Public"

// viewContent is the resolved state of a view: the document body, its
// effective @context, and the Resolver instance that produced it.
// Child views inherit it so circular-reference state threads through
// the whole document tree.
type viewContent struct {
	resolver *Resolver
	context  interface{}
	body     map[string]interface{}
}

// ActivityView is a lazy, immutable view over a JSON-LD node: an
// inline object, a bare URI string, or an array. Accessors trigger
// Resolver fetches for referenced children on first use; content
// resolves at most once.
type ActivityView struct {
	raw            interface{}
	normalizedHost string
	content        *viewContent // nil until first resolution
	parent         *viewContent
}

// NewView constructs a root view over a raw JSON-LD node with a fresh
// resolution chain.
func NewView(fetcher *Fetcher, body interface{}, normalizedHost string) *ActivityView {
	return newView(body, normalizedHost, &viewContent{resolver: NewResolver(fetcher)})
}

// NewViewWithResolver constructs a root view sharing an existing
// resolution chain, e.g. one pre-seeded with the inbound request body.
func NewViewWithResolver(resolver *Resolver, body interface{}, normalizedHost string) *ActivityView {
	return newView(body, normalizedHost, &viewContent{resolver: resolver})
}

func newView(body interface{}, normalizedHost string, parent *viewContent) *ActivityView {
	view := &ActivityView{raw: body, normalizedHost: normalizedHost, parent: parent}

	switch v := body.(type) {
	case string:
		// A bare string is a remote pointer; its host is normalized up
		// front for later matching.
		view.normalizedHost = hostOfURI(v)
	case map[string]interface{}:
		id, hasId := v["id"].(string)
		if !hasId {
			// Anonymous sub-object, self-contained under the supplied
			// host.
			view.content = resolveInline(v, parent)
			break
		}
		idHost := hostOfURI(id)
		if normalizedHost == AnyHost || idHost == normalizedHost {
			view.normalizedHost = idHost
			view.content = resolveInline(v, parent)
		} else {
			// The document claims content for a foreign host; treat it
			// as a pointer and refetch from the authoritative origin.
			view.normalizedHost = idHost
		}
	case []interface{}:
		view.content = resolveInline(nil, parent)
	}

	return view
}

func resolveInline(body map[string]interface{}, parent *viewContent) *viewContent {
	effective := parent.context
	if body != nil {
		if declared, ok := body["@context"]; ok {
			effective = declared
		}
	}
	return &viewContent{resolver: parent.resolver, context: effective, body: body}
}

// load resolves the view's content, fetching through the parent's
// Resolver when the view is a pointer. Memoized.
func (v *ActivityView) load(ctx context.Context) (*viewContent, error) {
	if v.content != nil {
		return v.content, nil
	}

	uri, err := v.pointerURI()
	if err != nil {
		return nil, err
	}

	docCtx, body, next, err := v.parent.resolver.Resolve(ctx, uri)
	if err != nil {
		return nil, err
	}
	if docCtx == nil {
		docCtx = v.parent.context
	}

	v.content = &viewContent{resolver: next, context: docCtx, body: body}
	return v.content, nil
}

func (v *ActivityView) pointerURI() (string, error) {
	switch raw := v.raw.(type) {
	case string:
		return raw, nil
	case map[string]interface{}:
		if id, ok := raw["id"].(string); ok {
			return id, nil
		}
	}
	return "", fmt.Errorf("%w: reference has no resolvable id", ErrNotFound)
}

// NormalizedHost returns the host this view's reference belongs to, or
// a sentinel.
func (v *ActivityView) NormalizedHost() string {
	return v.normalizedHost
}

// ID returns the canonical URI of the referenced node. For a pointer
// the URI itself is the id, so no fetch happens.
func (v *ActivityView) ID(ctx context.Context) (string, error) {
	switch raw := v.raw.(type) {
	case string:
		return raw, nil
	case map[string]interface{}:
		if id, ok := raw["id"].(string); ok {
			return id, nil
		}
	}

	content, err := v.load(ctx)
	if err != nil {
		return "", err
	}
	id, ok := content.body["id"].(string)
	if !ok {
		return "", fmt.Errorf("%w: node has no id", ErrNotFound)
	}
	return id, nil
}

// Type returns the node's type values as a set; a scalar type counts
// as a one-element set.
func (v *ActivityView) Type(ctx context.Context) (map[string]bool, error) {
	content, err := v.load(ctx)
	if err != nil {
		return nil, err
	}
	return stringSet(content.body["type"]), nil
}

// Context returns the effective @context values as a set, including
// the context inherited from the enclosing document.
func (v *ActivityView) Context(ctx context.Context) (map[string]bool, error) {
	content, err := v.load(ctx)
	if err != nil {
		return nil, err
	}
	set := stringSet(content.context)
	if content.body != nil {
		for value := range stringSet(content.body["@context"]) {
			set[value] = true
		}
	}
	return set, nil
}

func stringSet(value interface{}) map[string]bool {
	set := map[string]bool{}
	switch v := value.(type) {
	case string:
		set[v] = true
	case []interface{}:
		for _, item := range v {
			if s, ok := item.(string); ok {
				set[s] = true
			}
		}
	}
	return set
}

// child wraps a field value in a view inheriting this view's resolved
// content.
func (v *ActivityView) child(ctx context.Context, field string) (*ActivityView, error) {
	content, err := v.load(ctx)
	if err != nil {
		return nil, err
	}
	value, ok := content.body[field]
	if !ok || value == nil {
		return nil, nil
	}
	return newView(value, v.normalizedHost, content), nil
}

// children wraps a scalar-or-array field value as a slice of sibling
// views, each branching independently off this view's resolution
// chain.
func (v *ActivityView) children(ctx context.Context, field string) ([]*ActivityView, error) {
	content, err := v.load(ctx)
	if err != nil {
		return nil, err
	}
	value, ok := content.body[field]
	if !ok || value == nil {
		return nil, nil
	}

	items, ok := value.([]interface{})
	if !ok {
		items = []interface{}{value}
	}

	views := make([]*ActivityView, 0, len(items))
	for _, item := range items {
		views = append(views, newView(item, v.normalizedHost, content))
	}
	return views, nil
}

func (v *ActivityView) Actor(ctx context.Context) (*ActivityView, error) {
	return v.child(ctx, "actor")
}

func (v *ActivityView) Object(ctx context.Context) (*ActivityView, error) {
	return v.child(ctx, "object")
}

func (v *ActivityView) AttributedTo(ctx context.Context) (*ActivityView, error) {
	return v.child(ctx, "attributedTo")
}

func (v *ActivityView) InReplyTo(ctx context.Context) (*ActivityView, error) {
	return v.child(ctx, "inReplyTo")
}

func (v *ActivityView) Inbox(ctx context.Context) (*ActivityView, error) {
	return v.child(ctx, "inbox")
}

func (v *ActivityView) Owner(ctx context.Context) (*ActivityView, error) {
	return v.child(ctx, "owner")
}

func (v *ActivityView) PublicKey(ctx context.Context) (*ActivityView, error) {
	return v.child(ctx, "publicKey")
}

func (v *ActivityView) Tag(ctx context.Context) ([]*ActivityView, error) {
	return v.children(ctx, "tag")
}

// Attachment returns the node's attached documents, inline or as bare
// references.
func (v *ActivityView) Attachment(ctx context.Context) ([]*ActivityView, error) {
	return v.children(ctx, "attachment")
}

// To returns the audience views. The Public sentinel stays a bare
// string reference and is never dereferenced as an actor; callers
// compare its ID against PublicAudience.
func (v *ActivityView) To(ctx context.Context) ([]*ActivityView, error) {
	return v.children(ctx, "to")
}

// Items flattens the view into its constituent activity views: the
// ordered or plain items of a collection, the elements of a raw array,
// or the view itself when it is not a collection at all. The fallback
// lets an inbox accept either a bare activity or a collection of them.
func (v *ActivityView) Items(ctx context.Context) ([]*ActivityView, error) {
	content, err := v.load(ctx)
	if err != nil {
		return nil, err
	}

	if raw, ok := v.raw.([]interface{}); ok {
		views := make([]*ActivityView, 0, len(raw))
		for _, item := range raw {
			views = append(views, newView(item, v.normalizedHost, v.parent))
		}
		return views, nil
	}

	types := stringSet(content.body["type"])
	switch {
	case types["OrderedCollection"]:
		return v.children(ctx, "orderedItems")
	case types["Collection"]:
		return v.children(ctx, "items")
	}
	return []*ActivityView{v}, nil
}

func (v *ActivityView) scalar(ctx context.Context, field string) (string, error) {
	content, err := v.load(ctx)
	if err != nil {
		return "", err
	}
	value, _ := content.body[field].(string)
	return value, nil
}

func (v *ActivityView) Content(ctx context.Context) (string, error) {
	return v.scalar(ctx, "content")
}

func (v *ActivityView) Name(ctx context.Context) (string, error) {
	return v.scalar(ctx, "name")
}

func (v *ActivityView) Summary(ctx context.Context) (string, error) {
	return v.scalar(ctx, "summary")
}

func (v *ActivityView) PreferredUsername(ctx context.Context) (string, error) {
	return v.scalar(ctx, "preferredUsername")
}

func (v *ActivityView) PublicKeyPem(ctx context.Context) (string, error) {
	return v.scalar(ctx, "publicKeyPem")
}

func (v *ActivityView) MediaType(ctx context.Context) (string, error) {
	return v.scalar(ctx, "mediaType")
}

func (v *ActivityView) Published(ctx context.Context) (string, error) {
	return v.scalar(ctx, "published")
}

func (v *ActivityView) Href(ctx context.Context) (string, error) {
	return v.scalar(ctx, "href")
}

// Url returns the node's url as a plain href, normalizing the bare
// string form to the Link form.
func (v *ActivityView) Url(ctx context.Context) (string, error) {
	content, err := v.load(ctx)
	if err != nil {
		return "", err
	}
	switch value := content.body["url"].(type) {
	case string:
		return value, nil
	case map[string]interface{}:
		href, _ := value["href"].(string)
		return href, nil
	}
	return "", nil
}

// hostOfURI extracts and normalizes the host of a URI, or NoHost when
// the value is not a URI with a host.
func hostOfURI(uri string) string {
	parsed, err := url.Parse(uri)
	if err != nil || parsed.Host == "" {
		return NoHost
	}
	return util.NormalizeHost(parsed.Host)
}
