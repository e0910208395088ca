package activitypub

import (
	"context"
	"errors"
	"testing"

	"github.com/deemkeen/mammut/domain"
)

func createActivity(actorURI, activityURI, noteURI, content string) map[string]interface{} {
	return map[string]interface{}{
		"@context": "https://www.w3.org/ns/activitystreams",
		"id":       activityURI,
		"type":     "Create",
		"actor":    actorURI,
		"to":       []interface{}{PublicAudience},
		"object": map[string]interface{}{
			"id":           noteURI,
			"type":         "Note",
			"attributedTo": actorURI,
			"to":           []interface{}{PublicAudience},
			"content":      content,
		},
	}
}

func TestActCreateNoteIdempotent(t *testing.T) {
	e := newTestEngine(t)
	bob := newRemoteActor(t, e, "bob", "remote.example")

	activity := createActivity(
		"https://remote.example/users/bob",
		"https://remote.example/activities/1",
		"https://remote.example/notes/1",
		"hello fediverse")
	view := NewView(e.fetcher, activity, "remote.example")

	id, err := e.Act(context.Background(), bob, view)
	if err != nil {
		t.Fatalf("Act failed: %v", err)
	}
	if id != "https://remote.example/activities/1" {
		t.Errorf("Unexpected activity id: %q", id)
	}

	err, note := e.db.ReadNoteByURI("https://remote.example/notes/1")
	if err != nil {
		t.Fatalf("Note was not stored: %v", err)
	}
	if note.Message != "hello fediverse" {
		t.Errorf("Unexpected note content: %q", note.Message)
	}

	// Redelivery of the same activity id applies nothing and does not
	// fail.
	view2 := NewView(e.fetcher, activity, "remote.example")
	id2, err := e.Act(context.Background(), bob, view2)
	if err != nil {
		t.Fatalf("Redelivery failed: %v", err)
	}
	if id2 != id {
		t.Errorf("Redelivery returned different id: %q", id2)
	}
}

func TestActCreateNoteNonPublicIsNoOp(t *testing.T) {
	e := newTestEngine(t)
	bob := newRemoteActor(t, e, "bob", "remote.example")

	activity := map[string]interface{}{
		"id":    "https://remote.example/activities/dm1",
		"type":  "Create",
		"actor": "https://remote.example/users/bob",
		"to":    []interface{}{"https://remote.example/users/carol"},
		"object": map[string]interface{}{
			"id":           "https://remote.example/notes/dm1",
			"type":         "Note",
			"attributedTo": "https://remote.example/users/bob",
			"to":           []interface{}{"https://remote.example/users/carol"},
			"content":      "secret",
		},
	}
	view := NewView(e.fetcher, activity, "remote.example")

	if _, err := e.Act(context.Background(), bob, view); err != nil {
		t.Fatalf("Act failed: %v", err)
	}

	if err, _ := e.db.ReadNoteByURI("https://remote.example/notes/dm1"); err == nil {
		t.Error("Non-public note should not have been stored")
	}
}

func TestActCreateNoteStoresAttachments(t *testing.T) {
	e := newTestEngine(t)
	bob := newRemoteActor(t, e, "bob", "remote.example")

	activity := createActivity(
		"https://remote.example/users/bob",
		"https://remote.example/activities/media1",
		"https://remote.example/notes/media1",
		"look at this")
	activity["object"].(map[string]interface{})["attachment"] = []interface{}{
		map[string]interface{}{
			"type":      "Document",
			"mediaType": "image/png",
			"url":       "https://remote.example/media/1.png",
		},
	}
	view := NewView(e.fetcher, activity, "remote.example")

	if _, err := e.Act(context.Background(), bob, view); err != nil {
		t.Fatalf("Act failed: %v", err)
	}

	err, note := e.db.ReadNoteByURI("https://remote.example/notes/media1")
	if err != nil {
		t.Fatalf("Note was not stored: %v", err)
	}
	err, attachments := e.db.ReadNoteAttachments(note.Id)
	if err != nil {
		t.Fatalf("ReadNoteAttachments failed: %v", err)
	}
	if len(*attachments) != 1 {
		t.Fatalf("Expected one stored attachment, got %d", len(*attachments))
	}
	if (*attachments)[0].URL != "https://remote.example/media/1.png" {
		t.Errorf("Unexpected attachment url: %q", (*attachments)[0].URL)
	}
	if (*attachments)[0].MediaType != "image/png" {
		t.Errorf("Unexpected media type: %q", (*attachments)[0].MediaType)
	}

	err, jobs := e.db.ReadPendingDeliveries(10)
	if err != nil {
		t.Fatalf("Failed to read queue: %v", err)
	}
	uploads := 0
	for _, job := range *jobs {
		if job.Kind == domain.JobUpload {
			uploads++
		}
	}
	if uploads != 1 {
		t.Fatalf("Expected one upload job, got %d", uploads)
	}

	// Redelivery neither duplicates the attachment nor re-queues the
	// upload.
	view2 := NewView(e.fetcher, activity, "remote.example")
	if _, err := e.Act(context.Background(), bob, view2); err != nil {
		t.Fatalf("Redelivery failed: %v", err)
	}
	err, count := e.db.CountPendingDeliveries()
	if err != nil {
		t.Fatalf("Failed to count queue: %v", err)
	}
	if count != 1 {
		t.Errorf("Redelivery should not enqueue more jobs, queue has %d", count)
	}
}

func TestActCreateNoteGatesOnObjectAudience(t *testing.T) {
	e := newTestEngine(t)
	bob := newRemoteActor(t, e, "bob", "remote.example")

	// Public on the wrapping activity does not make a private note
	// public; only the note's own audience counts.
	activity := map[string]interface{}{
		"id":    "https://remote.example/activities/dm2",
		"type":  "Create",
		"actor": "https://remote.example/users/bob",
		"to":    []interface{}{PublicAudience},
		"object": map[string]interface{}{
			"id":           "https://remote.example/notes/dm2",
			"type":         "Note",
			"attributedTo": "https://remote.example/users/bob",
			"to":           []interface{}{"https://remote.example/users/carol"},
			"content":      "still secret",
		},
	}
	view := NewView(e.fetcher, activity, "remote.example")

	if _, err := e.Act(context.Background(), bob, view); err != nil {
		t.Fatalf("Act failed: %v", err)
	}

	if err, _ := e.db.ReadNoteByURI("https://remote.example/notes/dm2"); err == nil {
		t.Error("Note with a non-public audience should not have been stored")
	}
}

func TestActForgedActorRejected(t *testing.T) {
	e := newTestEngine(t)
	bob := newRemoteActor(t, e, "bob", "remote.example")

	// Authenticated as bob, but the activity claims carol as actor.
	activity := createActivity(
		"https://remote.example/users/carol",
		"https://remote.example/activities/forged",
		"https://remote.example/notes/forged",
		"forged")
	view := NewView(e.fetcher, activity, "remote.example")

	_, err := e.Act(context.Background(), bob, view)
	var mismatch *IdentityMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("Expected identity mismatch, got %v", err)
	}
}

func TestActFollowFromRemoteQueuesAccept(t *testing.T) {
	e := newTestEngine(t)
	alice := newLocalAccount(t, e, "alice")
	bob := newRemoteActor(t, e, "bob", "remote.example")

	activity := map[string]interface{}{
		"id":     "https://remote.example/activities/follow1",
		"type":   "Follow",
		"actor":  "https://remote.example/users/bob",
		"object": "https://mammut.example/users/alice",
	}
	view := NewView(e.fetcher, activity, "remote.example")

	if _, err := e.Act(context.Background(), bob, view); err != nil {
		t.Fatalf("Act failed: %v", err)
	}

	err, followers := e.db.ReadFollowersOf(alice.Id)
	if err != nil {
		t.Fatalf("Failed to read followers: %v", err)
	}
	if len(*followers) != 1 {
		t.Fatalf("Expected 1 follower, got %d", len(*followers))
	}
	if !(*followers)[0].Accepted {
		t.Error("Follow of a local account should be accepted right away")
	}

	err, jobs := e.db.ReadPendingDeliveries(10)
	if err != nil {
		t.Fatalf("Failed to read queue: %v", err)
	}
	if len(*jobs) != 1 || (*jobs)[0].Kind != domain.JobAccept {
		t.Errorf("Expected one accept job, got %+v", *jobs)
	}
}

func TestActDeleteOwnNote(t *testing.T) {
	e := newTestEngine(t)
	bob := newRemoteActor(t, e, "bob", "remote.example")

	create := createActivity(
		"https://remote.example/users/bob",
		"https://remote.example/activities/1",
		"https://remote.example/notes/1",
		"to be deleted")
	if _, err := e.Act(context.Background(), bob, NewView(e.fetcher, create, "remote.example")); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	del := map[string]interface{}{
		"id":     "https://remote.example/activities/2",
		"type":   "Delete",
		"actor":  "https://remote.example/users/bob",
		"object": "https://remote.example/notes/1",
	}
	if _, err := e.Act(context.Background(), bob, NewView(e.fetcher, del, "remote.example")); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	if err, _ := e.db.ReadNoteByURI("https://remote.example/notes/1"); err == nil {
		t.Error("Note should have been deleted")
	}
}

func TestActDeleteForeignNoteFails(t *testing.T) {
	e := newTestEngine(t)
	bob := newRemoteActor(t, e, "bob", "remote.example")
	carol := newRemoteActor(t, e, "carol", "remote.example")

	create := createActivity(
		"https://remote.example/users/bob",
		"https://remote.example/activities/1",
		"https://remote.example/notes/1",
		"bobs note")
	if _, err := e.Act(context.Background(), bob, NewView(e.fetcher, create, "remote.example")); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	del := map[string]interface{}{
		"id":     "https://remote.example/activities/2",
		"type":   "Delete",
		"actor":  "https://remote.example/users/carol",
		"object": "https://remote.example/notes/1",
	}
	if _, err := e.Act(context.Background(), carol, NewView(e.fetcher, del, "remote.example")); err == nil {
		t.Error("Deleting someone else's note should fail")
	}

	if err, _ := e.db.ReadNoteByURI("https://remote.example/notes/1"); err != nil {
		t.Error("Note should have survived the foreign delete")
	}
}

func TestActLikeLocalNote(t *testing.T) {
	e := newTestEngine(t)
	alice := newLocalAccount(t, e, "alice")
	bob := newRemoteActor(t, e, "bob", "remote.example")

	note, err := e.CreateLocalNote(context.Background(), alice, "likeable", "")
	if err != nil {
		t.Fatalf("CreateLocalNote failed: %v", err)
	}

	like := map[string]interface{}{
		"id":     "https://remote.example/activities/like1",
		"type":   "Like",
		"actor":  "https://remote.example/users/bob",
		"object": note.URI,
	}
	if _, err := e.Act(context.Background(), bob, NewView(e.fetcher, like, "remote.example")); err != nil {
		t.Fatalf("Like failed: %v", err)
	}

	// Redelivery stays idempotent.
	if _, err := e.Act(context.Background(), bob, NewView(e.fetcher, like, "remote.example")); err != nil {
		t.Fatalf("Like redelivery failed: %v", err)
	}
}

func TestActUndoFollow(t *testing.T) {
	e := newTestEngine(t)
	alice := newLocalAccount(t, e, "alice")
	bob := newRemoteActor(t, e, "bob", "remote.example")

	follow := map[string]interface{}{
		"id":     "https://remote.example/activities/follow1",
		"type":   "Follow",
		"actor":  "https://remote.example/users/bob",
		"object": "https://mammut.example/users/alice",
	}
	if _, err := e.Act(context.Background(), bob, NewView(e.fetcher, follow, "remote.example")); err != nil {
		t.Fatalf("Follow failed: %v", err)
	}

	undo := map[string]interface{}{
		"id":    "https://remote.example/activities/undo1",
		"type":  "Undo",
		"actor": "https://remote.example/users/bob",
		"object": map[string]interface{}{
			"id":     "https://remote.example/activities/follow1",
			"type":   "Follow",
			"actor":  "https://remote.example/users/bob",
			"object": "https://mammut.example/users/alice",
		},
	}
	if _, err := e.Act(context.Background(), bob, NewView(e.fetcher, undo, "remote.example")); err != nil {
		t.Fatalf("Undo failed: %v", err)
	}

	err, followers := e.db.ReadFollowersOf(alice.Id)
	if err != nil {
		t.Fatalf("Failed to read followers: %v", err)
	}
	if len(*followers) != 0 {
		t.Errorf("Follow should have been removed, got %d", len(*followers))
	}
}

func TestActUndoUnsupportedType(t *testing.T) {
	e := newTestEngine(t)
	bob := newRemoteActor(t, e, "bob", "remote.example")

	undo := map[string]interface{}{
		"id":    "https://remote.example/activities/undo1",
		"type":  "Undo",
		"actor": "https://remote.example/users/bob",
		"object": map[string]interface{}{
			"id":   "https://remote.example/notes/1",
			"type": "Note",
		},
	}
	_, err := e.Act(context.Background(), bob, NewView(e.fetcher, undo, "remote.example"))
	if !errors.Is(err, ErrTypeNotAllowed) {
		t.Errorf("Expected type-not-allowed, got %v", err)
	}
}

func TestActAnnouncePublic(t *testing.T) {
	e := newTestEngine(t)
	alice := newLocalAccount(t, e, "alice")
	bob := newRemoteActor(t, e, "bob", "remote.example")

	note, err := e.CreateLocalNote(context.Background(), alice, "boost me", "")
	if err != nil {
		t.Fatalf("CreateLocalNote failed: %v", err)
	}

	announce := map[string]interface{}{
		"id":     "https://remote.example/activities/boost1",
		"type":   "Announce",
		"actor":  "https://remote.example/users/bob",
		"to":     []interface{}{PublicAudience},
		"object": note.URI,
	}
	if _, err := e.Act(context.Background(), bob, NewView(e.fetcher, announce, "remote.example")); err != nil {
		t.Fatalf("Announce failed: %v", err)
	}

	err, stored := e.db.ReadAnnounceByURI("https://remote.example/activities/boost1")
	if err != nil {
		t.Fatalf("Announce was not stored: %v", err)
	}
	if stored.NoteId != note.Id {
		t.Errorf("Announce points at wrong note: %v", stored.NoteId)
	}
}

func TestActAnnounceNonPublicIsNoOp(t *testing.T) {
	e := newTestEngine(t)
	alice := newLocalAccount(t, e, "alice")
	bob := newRemoteActor(t, e, "bob", "remote.example")

	note, err := e.CreateLocalNote(context.Background(), alice, "quiet", "")
	if err != nil {
		t.Fatalf("CreateLocalNote failed: %v", err)
	}

	announce := map[string]interface{}{
		"id":     "https://remote.example/activities/boost2",
		"type":   "Announce",
		"actor":  "https://remote.example/users/bob",
		"object": note.URI,
	}
	if _, err := e.Act(context.Background(), bob, NewView(e.fetcher, announce, "remote.example")); err != nil {
		t.Fatalf("Announce failed: %v", err)
	}

	if err, _ := e.db.ReadAnnounceByURI("https://remote.example/activities/boost2"); err == nil {
		t.Error("Non-public announce should not have been stored")
	}
}

func TestActUnsupportedActivity(t *testing.T) {
	e := newTestEngine(t)
	bob := newRemoteActor(t, e, "bob", "remote.example")

	move := map[string]interface{}{
		"id":    "https://remote.example/activities/move1",
		"type":  "Move",
		"actor": "https://remote.example/users/bob",
	}
	_, err := e.Act(context.Background(), bob, NewView(e.fetcher, move, "remote.example"))
	if !errors.Is(err, ErrTypeNotAllowed) {
		t.Errorf("Expected type-not-allowed, got %v", err)
	}
}
