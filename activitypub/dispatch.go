package activitypub

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/deemkeen/mammut/domain"
	"github.com/google/uuid"
)

// Act applies one authenticated inbound activity. Delivery over
// federation is at-least-once, so the same activity id may arrive any
// number of times; an id this server already materialized returns
// immediately without reapplying. The supported constructors are tried
// in a fixed priority order, each one signalling "not applicable"
// instead of failing hard, until one of them claims the activity.
func (e *Engine) Act(ctx context.Context, actor *domain.Actor, view *ActivityView) (string, error) {
	id, err := view.ID(ctx)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			return "", err
		}
		// Anonymous inline activities are allowed; they just forgo
		// redelivery protection.
		id = ""
	}

	if id != "" {
		err, allocated := e.db.IsURIAllocated(id)
		if err != nil {
			return "", fmt.Errorf("failed to check uri allocation: %w", err)
		}
		if allocated {
			return id, nil
		}
	}

	// An activity declaring its own actor must agree with the
	// cryptographically authenticated caller.
	actorView, err := view.Actor(ctx)
	if err != nil {
		return "", err
	}
	if actorView != nil {
		declared, err := actorView.ID(ctx)
		if err != nil {
			return "", err
		}
		if declared != e.ActorURI(actor) {
			return "", &IdentityMismatchError{Expected: e.ActorURI(actor), Got: declared}
		}
	}

	handlers := []func(context.Context, *domain.Actor, *ActivityView, string) error{
		e.tryDelete,
		e.tryFollow,
		e.tryLike,
		e.tryUndo,
		e.tryAnnounce,
		e.tryCreateNote,
	}

	for _, handler := range handlers {
		err := handler(ctx, actor, view, id)
		if errors.Is(err, ErrTypeNotAllowed) {
			continue
		}
		if err != nil {
			return "", err
		}
		if id != "" {
			if aerr := e.db.AllocateURI(id, "activity", uuid.Nil); aerr != nil {
				return "", fmt.Errorf("failed to allocate activity uri: %w", aerr)
			}
		}
		return id, nil
	}

	return "", fmt.Errorf("%w: unsupported activity", ErrTypeNotAllowed)
}

func (e *Engine) tryDelete(ctx context.Context, actor *domain.Actor, view *ActivityView, id string) error {
	types, err := view.Type(ctx)
	if err != nil {
		return err
	}
	if !types["Delete"] {
		return ErrTypeNotAllowed
	}

	object, err := view.Object(ctx)
	if err != nil {
		return err
	}
	if object == nil {
		return fmt.Errorf("%w: Delete without object", ErrNotFound)
	}
	objectURI, err := object.ID(ctx)
	if err != nil {
		return err
	}

	// Ownership is enforced in the delete itself; removing a status the
	// caller does not own affects zero rows.
	affected, err := e.db.DeleteNoteByURIAndAccount(objectURI, actor.AccountId())
	if err != nil {
		return fmt.Errorf("failed to delete note: %w", err)
	}
	if affected == 0 {
		affected, err = e.db.TombstoneAnnounceByURIAndAccount(objectURI, actor.AccountId())
		if err != nil {
			return fmt.Errorf("failed to tombstone announce: %w", err)
		}
	}
	if affected == 0 {
		return fmt.Errorf("%w: no owned status at %s", ErrNotFound, objectURI)
	}
	return nil
}

func (e *Engine) tryFollow(ctx context.Context, actor *domain.Actor, view *ActivityView, id string) error {
	types, err := view.Type(ctx)
	if err != nil {
		return err
	}
	if !types["Follow"] {
		return ErrTypeNotAllowed
	}

	object, err := view.Object(ctx)
	if err != nil {
		return err
	}
	if object == nil {
		return fmt.Errorf("%w: Follow without object", ErrNotFound)
	}

	target, err := e.ActorFromView(ctx, object)
	if err != nil {
		return err
	}

	follow := &domain.Follow{
		AccountId:       actor.AccountId(),
		AccountLocal:    actor.IsLocal(),
		TargetAccountId: target.AccountId(),
		TargetLocal:     target.IsLocal(),
		URI:             id,
		// Follows of local accounts are accepted right away; a follow
		// of a remote account stays pending until their Accept arrives.
		Accepted: target.IsLocal(),
	}

	err, stored := e.db.CreateFollow(follow)
	if err != nil {
		return fmt.Errorf("failed to create follow: %w", err)
	}

	if !actor.IsLocal() && target.IsLocal() {
		return e.enqueue(domain.JobAccept, acceptPayload{FollowId: stored.Id})
	}
	if actor.IsLocal() && !target.IsLocal() {
		return e.enqueue(domain.JobPostFollow, postFollowPayload{FollowId: stored.Id})
	}
	return nil
}

func (e *Engine) tryLike(ctx context.Context, actor *domain.Actor, view *ActivityView, id string) error {
	types, err := view.Type(ctx)
	if err != nil {
		return err
	}
	if !types["Like"] {
		return ErrTypeNotAllowed
	}

	object, err := view.Object(ctx)
	if err != nil {
		return err
	}
	if object == nil {
		return fmt.Errorf("%w: Like without object", ErrNotFound)
	}

	note, err := e.resolveNote(ctx, object)
	if err != nil {
		return err
	}

	like := &domain.Like{
		AccountId:    actor.AccountId(),
		AccountLocal: actor.IsLocal(),
		NoteId:       note.Id,
		URI:          id,
	}

	err, stored := e.db.CreateLike(like)
	if err != nil {
		return fmt.Errorf("failed to create like: %w", err)
	}

	if actor.IsLocal() && !note.AccountLocal {
		return e.enqueue(domain.JobPostLike, postLikePayload{LikeId: stored.Id})
	}
	return nil
}

func (e *Engine) tryUndo(ctx context.Context, actor *domain.Actor, view *ActivityView, id string) error {
	types, err := view.Type(ctx)
	if err != nil {
		return err
	}
	if !types["Undo"] {
		return ErrTypeNotAllowed
	}

	object, err := view.Object(ctx)
	if err != nil {
		return err
	}
	if object == nil {
		return fmt.Errorf("%w: Undo without object", ErrNotFound)
	}
	objectTypes, err := object.Type(ctx)
	if err != nil {
		return err
	}

	switch {
	case objectTypes["Follow"]:
		inner, err := object.Object(ctx)
		if err != nil {
			return err
		}
		if inner == nil {
			return fmt.Errorf("%w: Undo Follow without target", ErrNotFound)
		}
		target, err := e.ActorFromView(ctx, inner)
		if err != nil {
			return err
		}
		if err := e.db.DeleteFollowByPair(actor.AccountId(), target.AccountId()); err != nil {
			return fmt.Errorf("failed to delete follow: %w", err)
		}
		return nil

	case objectTypes["Like"]:
		inner, err := object.Object(ctx)
		if err != nil {
			return err
		}
		if inner == nil {
			return fmt.Errorf("%w: Undo Like without target", ErrNotFound)
		}
		note, err := e.resolveNote(ctx, inner)
		if err != nil {
			return err
		}
		if err := e.db.DeleteLikeByPair(actor.AccountId(), note.Id); err != nil {
			return fmt.Errorf("failed to delete like: %w", err)
		}
		return nil

	case objectTypes["Announce"]:
		announceURI, err := object.ID(ctx)
		if err != nil {
			return err
		}
		if _, err := e.db.TombstoneAnnounceByURIAndAccount(announceURI, actor.AccountId()); err != nil {
			return fmt.Errorf("failed to tombstone announce: %w", err)
		}
		return nil
	}

	return fmt.Errorf("%w: Undo of unsupported type", ErrTypeNotAllowed)
}

func (e *Engine) tryAnnounce(ctx context.Context, actor *domain.Actor, view *ActivityView, id string) error {
	types, err := view.Type(ctx)
	if err != nil {
		return err
	}
	if !types["Announce"] {
		return ErrTypeNotAllowed
	}

	// Private boosts are out of scope: a non-public announce resolves
	// to no effect, not an error.
	public, err := e.isPublicAudience(ctx, view)
	if err != nil {
		return err
	}
	if !public {
		return nil
	}

	object, err := view.Object(ctx)
	if err != nil {
		return err
	}
	if object == nil {
		return fmt.Errorf("%w: Announce without object", ErrNotFound)
	}

	note, err := e.resolveNote(ctx, object)
	if err != nil {
		return err
	}

	published := time.Now()
	if raw, perr := view.Published(ctx); perr == nil && raw != "" {
		if parsed, terr := time.Parse(time.RFC3339, raw); terr == nil {
			published = parsed
		}
	}

	announce := &domain.Announce{
		AccountId:    actor.AccountId(),
		AccountLocal: actor.IsLocal(),
		NoteId:       note.Id,
		URI:          id,
		Published:    published,
	}

	err, stored := e.db.CreateAnnounce(announce)
	if err != nil {
		return fmt.Errorf("failed to create announce: %w", err)
	}

	return e.postStatus(ctx, statusAnnounce, stored.Id, actor, note.Id)
}

func (e *Engine) tryCreateNote(ctx context.Context, actor *domain.Actor, view *ActivityView, id string) error {
	types, err := view.Type(ctx)
	if err != nil {
		return err
	}
	if !types["Create"] {
		return ErrTypeNotAllowed
	}

	object, err := view.Object(ctx)
	if err != nil {
		return err
	}
	if object == nil {
		return fmt.Errorf("%w: Create without object", ErrNotFound)
	}
	objectTypes, err := object.Type(ctx)
	if err != nil {
		return err
	}
	if !objectTypes["Note"] {
		return ErrTypeNotAllowed
	}

	// The gate reads the Note's own audience; the wrapping activity's
	// `to` carries no weight.
	public, err := e.isPublicAudience(ctx, object)
	if err != nil {
		return err
	}
	if !public {
		return nil
	}

	attributed, err := object.AttributedTo(ctx)
	if err != nil {
		return err
	}
	if attributed != nil {
		attributedURI, err := attributed.ID(ctx)
		if err != nil {
			return err
		}
		if attributedURI != e.ActorURI(actor) {
			return &IdentityMismatchError{Expected: e.ActorURI(actor), Got: attributedURI}
		}
	}

	note, err := e.createNoteFromView(ctx, actor, object)
	if err != nil {
		return err
	}

	return e.postStatus(ctx, statusNote, note.Id, actor, note.Id)
}

// isPublicAudience reports whether the node's audience includes the
// Public collection. Audience entries stay unresolved references, so
// this never dereferences an actor.
func (e *Engine) isPublicAudience(ctx context.Context, view *ActivityView) (bool, error) {
	audience, err := view.To(ctx)
	if err != nil {
		return false, err
	}
	for _, entry := range audience {
		id, err := entry.ID(ctx)
		if err != nil {
			return false, err
		}
		if id == PublicAudience {
			return true, nil
		}
	}
	return false, nil
}

// resolveNote returns the note an activity points at: a local note by
// its canonical path, a remote note already cached by URI, or a fresh
// note materialized from the resolved document.
func (e *Engine) resolveNote(ctx context.Context, view *ActivityView) (*domain.Note, error) {
	uri, err := view.ID(ctx)
	if err != nil {
		return nil, err
	}

	if noteId, ok := e.localNoteIdOf(uri); ok {
		err, note := e.db.ReadAnyNoteById(noteId)
		if err != nil {
			return nil, fmt.Errorf("%w: local note %s", ErrNotFound, uri)
		}
		return note, nil
	}

	if err, note := e.db.ReadNoteByURI(uri); err == nil && note != nil {
		return note, nil
	}

	attributed, err := view.AttributedTo(ctx)
	if err != nil {
		return nil, err
	}
	if attributed == nil {
		return nil, fmt.Errorf("%w: note %s has no author", ErrNotFound, uri)
	}
	author, err := e.ActorFromView(ctx, attributed)
	if err != nil {
		return nil, err
	}

	return e.createNoteFromView(ctx, author, view)
}

// createNoteFromView materializes a note from a resolved Note
// document. The canonical URI makes the insert idempotent across
// redeliveries.
func (e *Engine) createNoteFromView(ctx context.Context, author *domain.Actor, view *ActivityView) (*domain.Note, error) {
	uri, err := view.ID(ctx)
	if err != nil {
		return nil, err
	}

	content, err := view.Content(ctx)
	if err != nil {
		return nil, err
	}
	summary, err := view.Summary(ctx)
	if err != nil {
		return nil, err
	}

	published := time.Now()
	if raw, perr := view.Published(ctx); perr == nil && raw != "" {
		if parsed, terr := time.Parse(time.RFC3339, raw); terr == nil {
			published = parsed
		}
	}

	note := &domain.Note{
		CreatedBy:    author.Username,
		AccountId:    author.AccountId(),
		AccountLocal: author.IsLocal(),
		URI:          uri,
		Message:      content,
		Summary:      summary,
		Published:    published,
	}

	if inReplyTo, rerr := view.InReplyTo(ctx); rerr != nil {
		return nil, rerr
	} else if inReplyTo != nil {
		replyURI, ierr := inReplyTo.ID(ctx)
		if ierr != nil {
			return nil, ierr
		}
		// Replies to local notes link by id; anything else stays an
		// external URI placeholder.
		if replyId, ok := e.localNoteIdOf(replyURI); ok {
			note.InReplyToId = replyId
		} else {
			note.InReplyToURI = replyURI
		}
	}

	tags, err := view.Tag(ctx)
	if err != nil {
		return nil, err
	}
	for _, tag := range tags {
		tagTypes, terr := tag.Type(ctx)
		if terr != nil {
			return nil, terr
		}
		switch {
		case tagTypes["Hashtag"]:
			name, nerr := tag.Name(ctx)
			if nerr != nil {
				return nil, nerr
			}
			if name != "" {
				note.Hashtags = append(note.Hashtags, strings.TrimPrefix(name, "#"))
			}
		case tagTypes["Mention"]:
			href, herr := tag.Href(ctx)
			if herr != nil {
				return nil, herr
			}
			if href != "" {
				note.Mentions = append(note.Mentions, href)
			}
		}
	}

	docs, err := view.Attachment(ctx)
	if err != nil {
		return nil, err
	}
	for _, doc := range docs {
		ref, aerr := doc.ID(ctx)
		if aerr != nil && !errors.Is(aerr, ErrNotFound) {
			return nil, aerr
		}
		attachment := domain.Attachment{URL: ref}
		// Inline documents carry their location in url rather than id;
		// a bare reference stays the URI itself and is dereferenced by
		// the upload job.
		if ref == "" {
			if attachment.URL, aerr = doc.Url(ctx); aerr != nil {
				return nil, aerr
			}
			if attachment.MediaType, aerr = doc.MediaType(ctx); aerr != nil {
				return nil, aerr
			}
		}
		if attachment.URL == "" {
			continue
		}
		note.Attachments = append(note.Attachments, attachment)
	}

	err, stored := e.db.CreateNote(note)
	if err != nil {
		return nil, fmt.Errorf("failed to create note: %w", err)
	}

	// Attachment ids are only assigned when the note row was actually
	// inserted, so a redelivered note never queues its uploads twice.
	for _, att := range note.Attachments {
		if att.Id == uuid.Nil {
			continue
		}
		if qerr := e.enqueue(domain.JobUpload, uploadPayload{AttachmentId: att.Id}); qerr != nil {
			return nil, qerr
		}
	}
	return stored, nil
}
