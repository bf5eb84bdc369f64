package activitypub

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/davecheney/tube/internal/httpsig"
	"github.com/davecheney/tube/internal/httpx"
	"github.com/davecheney/tube/models"
	gofed "github.com/go-fed/httpsig"
	"github.com/go-json-experiment/json"
	"gorm.io/gorm"
)

// maxActivitySize bounds the body of an inbound activity.
const maxActivitySize = 1 << 20

// InboxPayload is the payload of a JobInbox.
type InboxPayload struct {
	Activity map[string]any `json:"activity"`
	// Signer is the URL of the actor whose key signed the request.
	Signer string `json:"signer"`
}

// Inbox accepts signed activities and queues them for processing.
type Inbox struct {
	db        *gorm.DB
	directory *Directory
	processor *Processor
	logger    *slog.Logger
}

func NewInbox(db *gorm.DB, directory *Directory, processor *Processor, logger *slog.Logger) *Inbox {
	return &Inbox{
		db:        db,
		directory: directory,
		processor: processor,
		logger:    logger,
	}
}

// Create handles a POST to an actor inbox or the shared inbox.
func (i *Inbox) Create(w http.ResponseWriter, r *http.Request) error {
	if typ := httpx.MediaType(r); !httpx.IsActivityType(typ) {
		inboxReceived.WithLabelValues("invalid").Inc()
		return httpx.Error(http.StatusUnsupportedMediaType, fmt.Errorf("unsupported media type: %q", typ))
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxActivitySize+1))
	if err != nil {
		return httpx.Error(http.StatusBadRequest, err)
	}
	if len(body) > maxActivitySize {
		inboxReceived.WithLabelValues("too_large").Inc()
		return httpx.Error(http.StatusRequestEntityTooLarge, errors.New("activity too large"))
	}
	signer, err := i.verify(r, body)
	if err != nil {
		inboxReceived.WithLabelValues("unauthorized").Inc()
		return httpx.Error(http.StatusUnauthorized, err)
	}
	blocked, err := models.NewServers(i.db.WithContext(r.Context())).IsBlocked(hostOf(signer.URL))
	if err != nil {
		return err
	}
	if blocked {
		inboxReceived.WithLabelValues("blocked").Inc()
		return httpx.Error(http.StatusForbidden, fmt.Errorf("%s is blocked", hostOf(signer.URL)))
	}

	var activity map[string]any
	if err := json.Unmarshal(body, &activity); err != nil {
		inboxReceived.WithLabelValues("invalid").Inc()
		return httpx.Error(http.StatusBadRequest, err)
	}
	if _, err := models.NewJobs(i.db.WithContext(r.Context())).Enqueue(models.JobInbox, InboxPayload{
		Activity: activity,
		Signer:   signer.URL,
	}); err != nil {
		return err
	}
	inboxReceived.WithLabelValues("accepted").Inc()
	w.WriteHeader(http.StatusAccepted)
	return nil
}

// verify checks the Digest and Signature headers of r and returns the
// signing actor. If the signature does not verify against the stored key
// the actor is fetched again once, in case the key was rotated.
func (i *Inbox) verify(r *http.Request, body []byte) (*models.Actor, error) {
	if err := httpsig.VerifyDigest(r, body); err != nil {
		return nil, err
	}
	if err := httpsig.CoversRequired(r); err != nil {
		return nil, err
	}
	verifier, err := gofed.NewVerifier(r)
	if err != nil {
		return nil, err
	}
	actor, pub, err := i.directory.ResolveKey(r.Context(), verifier.KeyId())
	if err != nil {
		return nil, fmt.Errorf("resolve key %s: %w", verifier.KeyId(), err)
	}
	if err := verifier.Verify(pub, gofed.RSA_SHA256); err == nil {
		return actor, nil
	}
	if actor.IsLocal() {
		return nil, errors.New("signature does not verify")
	}
	actor, err = i.directory.Refresh(r.Context(), actor.URL)
	if err != nil {
		return nil, err
	}
	pub, err = actor.PubKey()
	if err != nil {
		return nil, err
	}
	if err := verifier.Verify(pub, gofed.RSA_SHA256); err != nil {
		return nil, err
	}
	return actor, nil
}

// Process runs a JobInbox.
func (i *Inbox) Process(ctx context.Context, job *models.Job) error {
	var payload InboxPayload
	if err := job.Decode(&payload); err != nil {
		return Permanent(err)
	}
	activity, err := Decode(payload.Activity)
	if err != nil {
		return Permanent(err)
	}
	if activity.Base().Actor != payload.Signer {
		if activity, err = i.refetch(ctx, activity); err != nil {
			return err
		}
	}
	actor, err := i.directory.Resolve(ctx, activity.Base().Actor)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", activity.Base().Actor, err)
	}
	blocked, err := models.NewServers(i.db.WithContext(ctx)).IsBlocked(hostOf(actor.URL))
	if err != nil {
		return err
	}
	if blocked {
		i.logger.Info("dropping activity from blocked server", "id", activity.Base().ID, "actor", actor.URL)
		return nil
	}
	return i.processor.Process(ctx, activity, actor)
}

// refetch retrieves a forwarded activity from its origin. Only an origin
// copy attributed to an actor on the same host as the activity is trusted.
func (i *Inbox) refetch(ctx context.Context, forwarded Activity) (Activity, error) {
	id := forwarded.Base().ID
	if id == "" {
		return nil, Permanent(fmt.Errorf("forwarded %s activity has no id", forwarded.Base().Type))
	}
	obj, err := i.directory.FetchObject(ctx, id)
	if err != nil {
		return nil, err
	}
	origin, err := Decode(obj)
	if err != nil {
		return nil, Permanent(err)
	}
	if origin.Base().ID != id {
		return nil, Permanent(fmt.Errorf("forwarded activity %s refetched as %s", id, origin.Base().ID))
	}
	if hostOf(origin.Base().Actor) != hostOf(id) {
		return nil, forbidden(origin.Base().Actor, "send", id)
	}
	i.logger.Debug("refetched forwarded activity", "id", id, "actor", origin.Base().Actor)
	return origin, nil
}
