package activitypub

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/davecheney/tube/internal/algorithms"
	"github.com/davecheney/tube/internal/snowflake"
	"github.com/davecheney/tube/models"
	"github.com/go-json-experiment/json"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

// BroadcastPayload is the payload of a JobBroadcast or JobBroadcastParallel.
type BroadcastPayload struct {
	Inboxes          []string       `json:"inboxes"`
	SignatureActorID snowflake.ID   `json:"signatureActorId"`
	Activity         map[string]any `json:"activity"`
}

// UnicastPayload is the payload of a JobUnicast.
type UnicastPayload struct {
	Inbox            string         `json:"inbox"`
	SignatureActorID snowflake.ID   `json:"signatureActorId"`
	Activity         map[string]any `json:"activity"`
}

// Deliverer turns activities into delivery jobs and runs those jobs.
type Deliverer struct {
	db          *gorm.DB
	domain      string
	clients     ClientOptions
	scores      models.Scores
	concurrency int
	logger      *slog.Logger
}

// NewDeliverer returns a Deliverer for the instance at domain. Each
// broadcast job posts to at most concurrency inboxes at once.
func NewDeliverer(db *gorm.DB, domain string, clients ClientOptions, scores models.Scores, concurrency int, logger *slog.Logger) *Deliverer {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Deliverer{
		db:          db,
		domain:      domain,
		clients:     clients,
		scores:      scores,
		concurrency: concurrency,
		logger:      logger,
	}
}

// BroadcastToFollowers enqueues activity for delivery to the followers of
// toActors, signed by byActor. Followers reached through the inbox of any
// actor in exceptions are skipped. The job is only visible to workers
// once tx commits.
func (d *Deliverer) BroadcastToFollowers(tx *gorm.DB, activity map[string]any, byActor *models.Actor, toActors []*models.Actor, exceptions []*models.Actor) error {
	return d.broadcast(tx, models.JobBroadcast, activity, byActor, toActors, exceptions)
}

// BroadcastToFollowersParallel is BroadcastToFollowers on the parallel
// queue, for activities whose relative order does not matter.
func (d *Deliverer) BroadcastToFollowersParallel(tx *gorm.DB, activity map[string]any, byActor *models.Actor, toActors []*models.Actor, exceptions []*models.Actor) error {
	return d.broadcast(tx, models.JobBroadcastParallel, activity, byActor, toActors, exceptions)
}

func (d *Deliverer) broadcast(tx *gorm.DB, typ models.JobType, activity map[string]any, byActor *models.Actor, toActors []*models.Actor, exceptions []*models.Actor) error {
	targets := algorithms.Uniq(algorithms.Map(toActors, func(a *models.Actor) snowflake.ID { return a.ID }))
	inboxes, err := models.NewActorFollows(tx).FollowerInboxes(targets, exceptionInboxes(exceptions))
	if err != nil {
		return err
	}
	if len(inboxes) == 0 {
		d.logger.Debug("no inboxes to broadcast to", "activity", stringFromAny(activity["id"]))
		return nil
	}
	_, err = models.NewJobs(tx).Enqueue(typ, &BroadcastPayload{
		Inboxes:          inboxes,
		SignatureActorID: byActor.ID,
		Activity:         activity,
	})
	return err
}

func exceptionInboxes(exceptions []*models.Actor) []string {
	var inboxes []string
	for _, a := range exceptions {
		inboxes = append(inboxes, a.InboxURL)
		if a.SharedInboxURL != "" {
			inboxes = append(inboxes, a.SharedInboxURL)
		}
	}
	return algorithms.Uniq(inboxes)
}

// Unicast enqueues activity for delivery to a single inbox.
func (d *Deliverer) Unicast(tx *gorm.DB, activity map[string]any, byActor *models.Actor, inbox string) error {
	_, err := models.NewJobs(tx).Enqueue(models.JobUnicast, &UnicastPayload{
		Inbox:            inbox,
		SignatureActorID: byActor.ID,
		Activity:         activity,
	})
	return err
}

// SendVideoRelatedActivity delivers an activity about video by byActor.
// build is called with the audience of the activity. If video is remote
// the activity goes to its owner only; the owner forwards it. Otherwise
// it goes to the followers of every actor involved in the video.
func (d *Deliverer) SendVideoRelatedActivity(tx *gorm.DB, build func(Audience) map[string]any, byActor *models.Actor, video *models.Video) error {
	if !video.IsOwned() {
		owner := video.AccountActor
		if owner == nil {
			var err error
			if owner, err = models.NewActors(tx).FindByID(video.AccountActorID); err != nil {
				return err
			}
		}
		activity := build(GetAudienceFromFollowers([]*models.Actor{owner}, video.IsPublic()))
		return d.Unicast(tx, activity, byActor, owner.Inbox())
	}
	involved, err := models.NewVideos(tx).ActorsInvolved(video)
	if err != nil {
		return err
	}
	involved = append(involved, byActor)
	activity := build(GetAudienceFromFollowers(involved, video.IsPublic()))
	return d.BroadcastToFollowers(tx, activity, byActor, involved, []*models.Actor{byActor})
}

// ForwardVideoRelatedActivity sends activity, as received, to the
// followers of the actors involved in video. Only owned videos are
// forwarded; exceptions must include the actor the activity came from.
func (d *Deliverer) ForwardVideoRelatedActivity(tx *gorm.DB, activity map[string]any, exceptions []*models.Actor, video *models.Video) error {
	if !video.IsOwned() {
		return nil
	}
	involved, err := models.NewVideos(tx).ActorsInvolved(video)
	if err != nil {
		return err
	}
	return d.forward(tx, activity, involved, exceptions)
}

func (d *Deliverer) forward(tx *gorm.DB, activity map[string]any, toActors, exceptions []*models.Actor) error {
	server, err := models.NewActors(tx).ServerActor(d.domain)
	if err != nil {
		return err
	}
	d.logger.Debug("forwarding activity", "activity", stringFromAny(activity["id"]), "except", len(exceptions))
	return d.BroadcastToFollowers(tx, activity, server, toActors, exceptions)
}

// ProcessBroadcast runs a broadcast job. Every inbox is tried once; the
// follows behind successful inboxes are rewarded and those behind failed
// inboxes penalised, in one transaction for the whole batch.
func (d *Deliverer) ProcessBroadcast(ctx context.Context, job *models.Job) error {
	var payload BroadcastPayload
	if err := job.Decode(&payload); err != nil {
		return Permanent(err)
	}
	client, body, err := d.prepare(ctx, payload.SignatureActorID, payload.Activity)
	if err != nil {
		return err
	}

	var mu sync.Mutex
	var good, bad []string
	var g errgroup.Group
	g.SetLimit(d.concurrency)
	for _, inbox := range payload.Inboxes {
		g.Go(func() error {
			err := d.post(ctx, client, inbox, body)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				bad = append(bad, inbox)
			} else {
				good = append(good, inbox)
			}
			return nil
		})
	}
	g.Wait()

	if err := d.adjustScores(ctx, good, bad); err != nil {
		return err
	}
	if len(bad) > 0 {
		return fmt.Errorf("broadcast %s: %d of %d deliveries failed", stringFromAny(payload.Activity["id"]), len(bad), len(payload.Inboxes))
	}
	return nil
}

// ProcessUnicast runs a unicast job.
func (d *Deliverer) ProcessUnicast(ctx context.Context, job *models.Job) error {
	var payload UnicastPayload
	if err := job.Decode(&payload); err != nil {
		return Permanent(err)
	}
	client, body, err := d.prepare(ctx, payload.SignatureActorID, payload.Activity)
	if err != nil {
		return err
	}
	if err := d.post(ctx, client, payload.Inbox, body); err != nil {
		if serr := d.adjustScores(ctx, nil, []string{payload.Inbox}); serr != nil {
			d.logger.Error("failed to penalise inbox", "inbox", payload.Inbox, "err", serr)
		}
		return fmt.Errorf("unicast %s: %w", stringFromAny(payload.Activity["id"]), err)
	}
	return d.adjustScores(ctx, []string{payload.Inbox}, nil)
}

func (d *Deliverer) prepare(ctx context.Context, signer snowflake.ID, activity map[string]any) (*Client, []byte, error) {
	actor, err := models.NewActors(d.db.WithContext(ctx)).FindByID(signer)
	if err != nil {
		return nil, nil, Permanent(fmt.Errorf("signature actor %d: %w", signer, err))
	}
	client, err := NewClient(actor, d.clients)
	if err != nil {
		return nil, nil, Permanent(err)
	}
	body, err := json.Marshal(activity)
	if err != nil {
		return nil, nil, Permanent(err)
	}
	return client, body, nil
}

func (d *Deliverer) post(ctx context.Context, client *Client, inbox string, body []byte) error {
	start := time.Now()
	err := client.Post(ctx, inbox, body)
	status := "ok"
	if err != nil {
		status = "error"
		d.logger.Warn("delivery failed", "inbox", inbox, "err", err)
	}
	deliveries.WithLabelValues(status).Inc()
	deliveryDuration.WithLabelValues(status).Observe(time.Since(start).Seconds())
	return err
}

func (d *Deliverer) adjustScores(ctx context.Context, good, bad []string) error {
	if len(good) == 0 && len(bad) == 0 {
		return nil
	}
	return models.Transaction(ctx, d.db, func(tx *gorm.DB) error {
		follows := models.NewActorFollows(tx).WithScores(d.scores)
		if _, err := follows.UpdateScores(good, d.scores.Bonus); err != nil {
			return err
		}
		_, err := follows.UpdateScores(bad, d.scores.Penalty)
		return err
	})
}
