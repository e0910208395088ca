package activitypub

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/deemkeen/mammut/domain"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Status kinds carried by post_status payloads.
const (
	statusNote     = "note"
	statusAnnounce = "announce"
)

type acceptPayload struct {
	FollowId uuid.UUID `json:"followId"`
}

type postFollowPayload struct {
	FollowId uuid.UUID `json:"followId"`
}

type uploadPayload struct {
	AttachmentId uuid.UUID `json:"attachmentId"`
}

type postLikePayload struct {
	LikeId uuid.UUID `json:"likeId"`
}

type postStatusPayload struct {
	Kind     string    `json:"kind"`
	StatusId uuid.UUID `json:"statusId"`
	InboxURI string    `json:"inboxUri"`
}

// enqueue serializes a payload and adds a durable job to the delivery
// queue.
func (e *Engine) enqueue(kind string, payload interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", kind, err)
	}
	return e.db.EnqueueDelivery(&domain.DeliveryJob{Kind: kind, Payload: string(raw)})
}

// postStatus fans a freshly created status out to its audience. Local
// followers get a synchronous inbox write; remote followers get one
// queued delivery per distinct inbox URI, since several followers may
// live behind one shared inbox.
func (e *Engine) postStatus(ctx context.Context, kind string, statusId uuid.UUID, author *domain.Actor, noteId uuid.UUID) error {
	err, followers := e.db.ReadFollowersOf(author.AccountId())
	if err != nil {
		return fmt.Errorf("failed to read followers: %w", err)
	}

	if author.IsLocal() {
		if err := e.db.InsertIntoInbox(author.AccountId(), noteId); err != nil {
			return fmt.Errorf("failed to write own inbox: %w", err)
		}
	}

	seenInboxes := map[string]bool{}
	for _, follower := range *followers {
		if follower.AccountLocal {
			if err := e.db.InsertIntoInbox(follower.AccountId, noteId); err != nil {
				return fmt.Errorf("failed to write follower inbox: %w", err)
			}
			continue
		}

		// Remote fan-out only applies to statuses this server authors;
		// a remote status already reached its remote audience.
		if !author.IsLocal() {
			continue
		}

		err, remote := e.db.ReadRemoteAccountById(follower.AccountId)
		if err != nil {
			log.Printf("Delivery: Failed to load remote follower %s: %v", follower.AccountId, err)
			continue
		}
		if remote.InboxURI == "" || seenInboxes[remote.InboxURI] {
			continue
		}
		seenInboxes[remote.InboxURI] = true

		payload := postStatusPayload{Kind: kind, StatusId: statusId, InboxURI: remote.InboxURI}
		if err := e.enqueue(domain.JobPostStatus, payload); err != nil {
			return err
		}
	}

	return nil
}

// PostToInbox delivers one signed activity to a remote inbox. Only the
// response status matters; the body is discarded.
func (e *Engine) PostToInbox(ctx context.Context, sender *domain.Account, inboxURI string, activity map[string]interface{}) error {
	raw, err := json.Marshal(activity)
	if err != nil {
		return fmt.Errorf("failed to marshal activity: %w", err)
	}

	privateKey, err := ParsePrivateKey(sender.WebPrivateKey)
	if err != nil {
		return fmt.Errorf("failed to parse private key: %w", err)
	}

	keyId := e.LocalKeyURI(sender.Username)
	return e.fetcher.Post(ctx, inboxURI, raw, func(req *http.Request) error {
		return SignRequest(req, privateKey, keyId, raw)
	})
}

// CreateLocalNote stores a note authored on this server and fans it
// out.
func (e *Engine) CreateLocalNote(ctx context.Context, account *domain.Account, message, summary string) (*domain.Note, error) {
	note := &domain.Note{
		Id:           uuid.New(),
		CreatedBy:    account.Username,
		AccountId:    account.Id,
		AccountLocal: true,
		Message:      message,
		Summary:      summary,
		Published:    time.Now(),
	}
	note.URI = e.LocalNoteURI(note.Id)

	err, stored := e.db.CreateNote(note)
	if err != nil {
		return nil, fmt.Errorf("failed to create note: %w", err)
	}

	actor := &domain.Actor{Username: account.Username, Local: account}
	if err := e.postStatus(ctx, statusNote, stored.Id, actor, stored.Id); err != nil {
		return nil, err
	}
	return stored, nil
}

// SendFollow follows a remote actor on behalf of a local account. The
// target may be an actor URI or user@host coordinates.
func (e *Engine) SendFollow(ctx context.Context, account *domain.Account, target string) error {
	var remote *domain.Actor
	var err error

	if strings.Contains(target, "@") && !strings.HasPrefix(target, "http") {
		username, host, _ := strings.Cut(strings.TrimPrefix(target, "@"), "@")
		remote, err = e.ActorFromUsernameAndHost(ctx, username, host)
	} else {
		remote, err = e.ActorFromView(ctx, NewView(e.fetcher, target, AnyHost))
	}
	if err != nil {
		return err
	}
	if remote.IsLocal() {
		follow := &domain.Follow{
			AccountId:       account.Id,
			AccountLocal:    true,
			TargetAccountId: remote.AccountId(),
			TargetLocal:     true,
			Accepted:        true,
		}
		err, _ := e.db.CreateFollow(follow)
		return err
	}

	follow := &domain.Follow{
		AccountId:       account.Id,
		AccountLocal:    true,
		TargetAccountId: remote.AccountId(),
		URI:             e.activityURI(uuid.New()),
		Accepted:        false,
	}
	err, stored := e.db.CreateFollow(follow)
	if err != nil {
		return fmt.Errorf("failed to store follow: %w", err)
	}

	return e.enqueue(domain.JobPostFollow, postFollowPayload{FollowId: stored.Id})
}

func (e *Engine) activityURI(id uuid.UUID) string {
	return fmt.Sprintf("https://%s/activities/%s", e.domainName(), id.String())
}

// StartDeliveryWorker starts the background worker draining the
// delivery queue until ctx is cancelled.
func (e *Engine) StartDeliveryWorker(ctx context.Context) {
	log.Println("Starting delivery worker...")

	ticker := time.NewTicker(10 * time.Second)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				e.processDeliveryQueue(ctx)
			}
		}
	}()
}

func (e *Engine) processDeliveryQueue(ctx context.Context) {
	err, jobs := e.db.ReadPendingDeliveries(50)
	if err != nil {
		log.Printf("DeliveryWorker: Failed to read queue: %v", err)
		return
	}
	if jobs == nil || len(*jobs) == 0 {
		return
	}

	log.Printf("DeliveryWorker: Processing %d pending jobs", len(*jobs))

	var group errgroup.Group
	group.SetLimit(8)
	for _, job := range *jobs {
		job := job
		group.Go(func() error {
			e.runJob(ctx, &job)
			return nil
		})
	}
	group.Wait()
}

func (e *Engine) runJob(ctx context.Context, job *domain.DeliveryJob) {
	err := e.handleJob(ctx, job)
	if err == nil {
		log.Printf("DeliveryWorker: Completed %s job %s", job.Kind, job.Id)
		e.db.DeleteDelivery(job.Id)
		return
	}

	if !IsTemporary(err) {
		log.Printf("DeliveryWorker: Dropping %s job %s (permanent): %v", job.Kind, job.Id, err)
		e.db.DeleteDelivery(job.Id)
		return
	}

	job.Attempts++
	if job.Attempts >= 10 {
		log.Printf("DeliveryWorker: Giving up on %s job %s after %d attempts", job.Kind, job.Id, job.Attempts)
		e.db.DeleteDelivery(job.Id)
		return
	}

	backoffMinutes := []int{1, 5, 15, 60, 240, 1440}[min(job.Attempts-1, 5)]
	job.NextRetryAt = time.Now().Add(time.Duration(backoffMinutes) * time.Minute)
	log.Printf("DeliveryWorker: %s job %s failed (attempt %d), retry in %dm: %v",
		job.Kind, job.Id, job.Attempts, backoffMinutes, err)
	e.db.UpdateDeliveryAttempt(job.Id, job.Attempts, job.NextRetryAt)
}

func (e *Engine) handleJob(ctx context.Context, job *domain.DeliveryJob) error {
	switch job.Kind {
	case domain.JobAccept:
		return e.handleAccept(ctx, job.Payload)
	case domain.JobPostFollow:
		return e.handlePostFollow(ctx, job.Payload)
	case domain.JobPostLike:
		return e.handlePostLike(ctx, job.Payload)
	case domain.JobPostStatus:
		return e.handlePostStatus(ctx, job.Payload)
	case domain.JobProcessInbox:
		return e.ProcessInbox(ctx, []byte(job.Payload))
	case domain.JobUpload:
		return e.handleUpload(ctx, job.Payload)
	}
	return fmt.Errorf("unknown job kind: %s", job.Kind)
}

// handleUpload dereferences a stored attachment once and records the
// result. The media itself is never stored or transcoded; the queue
// only tracks that the document was reachable, with the usual
// temporary/permanent retry classification.
func (e *Engine) handleUpload(ctx context.Context, payload string) error {
	var p uploadPayload
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		return fmt.Errorf("failed to parse upload payload: %w", err)
	}

	err, attachment := e.db.ReadAttachmentById(p.AttachmentId)
	if err != nil {
		return fmt.Errorf("failed to read attachment: %w", err)
	}
	if attachment.Fetched {
		return nil
	}

	if _, err := e.fetcher.Get(ctx, attachment.URL); err != nil {
		return err
	}
	return e.db.MarkAttachmentFetched(attachment.Id)
}

func (e *Engine) handleAccept(ctx context.Context, payload string) error {
	var p acceptPayload
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		return fmt.Errorf("failed to parse accept payload: %w", err)
	}

	err, follow := e.db.ReadFollowById(p.FollowId)
	if err != nil {
		return fmt.Errorf("failed to read follow: %w", err)
	}
	err, target := e.db.ReadAccById(follow.TargetAccountId)
	if err != nil {
		return fmt.Errorf("failed to read local account: %w", err)
	}
	err, follower := e.db.ReadRemoteAccountById(follow.AccountId)
	if err != nil {
		return fmt.Errorf("failed to read remote follower: %w", err)
	}

	accept := e.buildAccept(follow, target, follower)
	return e.PostToInbox(ctx, target, follower.InboxURI, accept)
}

func (e *Engine) handlePostFollow(ctx context.Context, payload string) error {
	var p postFollowPayload
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		return fmt.Errorf("failed to parse post_follow payload: %w", err)
	}

	err, follow := e.db.ReadFollowById(p.FollowId)
	if err != nil {
		return fmt.Errorf("failed to read follow: %w", err)
	}
	err, local := e.db.ReadAccById(follow.AccountId)
	if err != nil {
		return fmt.Errorf("failed to read local account: %w", err)
	}
	err, remote := e.db.ReadRemoteAccountById(follow.TargetAccountId)
	if err != nil {
		return fmt.Errorf("failed to read remote target: %w", err)
	}

	activity := e.buildFollow(follow, local, remote)
	return e.PostToInbox(ctx, local, remote.InboxURI, activity)
}

func (e *Engine) handlePostLike(ctx context.Context, payload string) error {
	var p postLikePayload
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		return fmt.Errorf("failed to parse post_like payload: %w", err)
	}

	err, like := e.db.ReadLikeById(p.LikeId)
	if err != nil {
		return fmt.Errorf("failed to read like: %w", err)
	}
	err, local := e.db.ReadAccById(like.AccountId)
	if err != nil {
		return fmt.Errorf("failed to read local account: %w", err)
	}
	err, note := e.db.ReadAnyNoteById(like.NoteId)
	if err != nil {
		return fmt.Errorf("failed to read note: %w", err)
	}
	err, author := e.db.ReadRemoteAccountById(note.AccountId)
	if err != nil {
		return fmt.Errorf("failed to read note author: %w", err)
	}

	activity := e.buildLike(like, local, note)
	return e.PostToInbox(ctx, local, author.InboxURI, activity)
}

func (e *Engine) handlePostStatus(ctx context.Context, payload string) error {
	var p postStatusPayload
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		return fmt.Errorf("failed to parse post_status payload: %w", err)
	}

	switch p.Kind {
	case statusNote:
		err, note := e.db.ReadAnyNoteById(p.StatusId)
		if err != nil {
			return fmt.Errorf("failed to read note: %w", err)
		}
		err, author := e.db.ReadAccById(note.AccountId)
		if err != nil {
			return fmt.Errorf("failed to read author: %w", err)
		}
		return e.PostToInbox(ctx, author, p.InboxURI, e.buildCreateNote(note, author))

	case statusAnnounce:
		err, announce := e.db.ReadAnnounceById(p.StatusId)
		if err != nil {
			return fmt.Errorf("failed to read announce: %w", err)
		}
		err, note := e.db.ReadAnyNoteById(announce.NoteId)
		if err != nil {
			return fmt.Errorf("failed to read boosted note: %w", err)
		}
		err, author := e.db.ReadAccById(announce.AccountId)
		if err != nil {
			return fmt.Errorf("failed to read author: %w", err)
		}
		return e.PostToInbox(ctx, author, p.InboxURI, e.buildAnnounce(announce, note, author))
	}

	return fmt.Errorf("unknown status kind: %s", p.Kind)
}
