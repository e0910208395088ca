package activitypub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/deemkeen/mammut/domain"
	"github.com/google/uuid"
)

// InboxDelivery is the durable payload of a process_inbox job: enough
// of the original HTTP request to re-verify its signature after the
// job leaves the queue.
type InboxDelivery struct {
	Body       string              `json:"body"`
	Method     string              `json:"method"`
	RequestURI string              `json:"requestUri"`
	Headers    map[string][]string `json:"headers"`
}

// EnqueueInboxDelivery captures an inbound delivery request as a
// durable job. The transport handler calls this and returns 202; all
// verification and dispatch happens in the worker.
func (e *Engine) EnqueueInboxDelivery(r *http.Request, body []byte) error {
	delivery := InboxDelivery{
		Body:       string(body),
		Method:     r.Method,
		RequestURI: fmt.Sprintf("https://%s%s", e.domainName(), r.URL.RequestURI()),
		Headers:    r.Header.Clone(),
	}
	return e.enqueue(domain.JobProcessInbox, delivery)
}

// ProcessInbox verifies and dispatches one inbound delivery. A
// signature that cannot be verified causes the delivery to be silently
// ignored rather than erred: the request was well-formed, only its
// content is distrusted. Each item of a top-level collection is
// applied independently; failures are aggregated after all items
// complete.
func (e *Engine) ProcessInbox(ctx context.Context, payload []byte) error {
	var delivery InboxDelivery
	if err := json.Unmarshal(payload, &delivery); err != nil {
		return fmt.Errorf("failed to parse inbox payload: %w", err)
	}

	req, err := http.NewRequest(delivery.Method, delivery.RequestURI, strings.NewReader(delivery.Body))
	if err != nil {
		return fmt.Errorf("failed to reconstruct request: %w", err)
	}
	req.Header = delivery.Headers

	keyId, err := KeyIdOf(req)
	if err != nil {
		log.Printf("Inbox: Unparseable signature, ignoring delivery: %v", err)
		return nil
	}

	actor, err := e.ActorFromKeyURI(ctx, keyId)
	if err != nil {
		if IsTemporary(err) {
			return err
		}
		log.Printf("Inbox: Failed to resolve key %s, ignoring delivery: %v", keyId, err)
		return nil
	}

	if _, err := VerifyRequest(req, actor.Remote.PublicKeyPem); err != nil {
		log.Printf("Inbox: Signature verification failed for %s, ignoring delivery: %v", keyId, err)
		return nil
	}

	var raw interface{}
	if err := json.Unmarshal([]byte(delivery.Body), &raw); err != nil {
		return fmt.Errorf("failed to parse activity body: %w", err)
	}

	view := NewView(e.fetcher, raw, hostOfURI(keyId))
	items, err := view.Items(ctx)
	if err != nil {
		return err
	}

	// Items apply concurrently; one failure must not abort the rest.
	var wg sync.WaitGroup
	var mu sync.Mutex
	var failures []error
	for _, item := range items {
		wg.Add(1)
		go func(item *ActivityView) {
			defer wg.Done()
			if err := e.processItem(ctx, actor, item); err != nil {
				mu.Lock()
				failures = append(failures, err)
				mu.Unlock()
			}
		}(item)
	}
	wg.Wait()

	return reduceFailures(failures)
}

// processItem dispatches one activity and keeps the activity log
// current around it.
func (e *Engine) processItem(ctx context.Context, actor *domain.Actor, item *ActivityView) error {
	record := activityRecord(e, actor, item)
	if record != nil {
		if err := e.db.CreateActivity(record); err != nil {
			log.Printf("Inbox: Failed to log activity: %v", err)
			record = nil
		}
	}

	id, err := e.Act(ctx, actor, item)
	if err != nil {
		if errors.Is(err, ErrTypeNotAllowed) {
			log.Printf("Inbox: Ignoring unsupported activity from %s", e.ActorURI(actor))
		}
		return err
	}

	if record != nil {
		record.Processed = true
		if id != "" && record.ObjectURI == "" {
			record.ObjectURI = id
		}
		if uerr := e.db.UpdateActivity(record); uerr != nil {
			log.Printf("Inbox: Failed to mark activity processed: %v", uerr)
		}
	}
	return nil
}

// activityRecord extracts log fields from the raw item without
// triggering any resolution. Items that are bare references are not
// logged.
func activityRecord(e *Engine, actor *domain.Actor, item *ActivityView) *domain.Activity {
	body, ok := item.raw.(map[string]interface{})
	if !ok {
		return nil
	}

	record := &domain.Activity{
		Id:        uuid.New(),
		ActorURI:  e.ActorURI(actor),
		CreatedAt: time.Now(),
	}
	record.ActivityURI, _ = body["id"].(string)
	record.ActivityType, _ = body["type"].(string)
	switch obj := body["object"].(type) {
	case string:
		record.ObjectURI = obj
	case map[string]interface{}:
		record.ObjectURI, _ = obj["id"].(string)
	}
	if raw, err := json.Marshal(body); err == nil {
		record.RawJSON = string(raw)
	}
	return record
}

// reduceFailures collapses per-item failures into a single verdict:
// unsupported types are discarded, and the remainder is temporary if
// any constituent was.
func reduceFailures(failures []error) error {
	var remaining []error
	temporary := false
	for _, err := range failures {
		if errors.Is(err, ErrTypeNotAllowed) {
			continue
		}
		if IsTemporary(err) {
			temporary = true
		}
		remaining = append(remaining, err)
	}
	if len(remaining) == 0 {
		return nil
	}

	joined := errors.Join(remaining...)
	if temporary {
		return &TransportError{URI: "inbox batch", Temporary: true, Err: joined}
	}
	return joined
}
