package activitypub

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/davecheney/tube/internal/algorithms"
	"github.com/davecheney/tube/internal/httpx"
	"github.com/davecheney/tube/internal/to"
	"github.com/davecheney/tube/models"
	"github.com/go-chi/chi/v5"
	"gorm.io/gorm"
)

// collectionPageSize is the number of items in a page of a collection.
const collectionPageSize = 10

// Actors serves the documents and collections of local actors.
type Actors struct {
	db *gorm.DB
}

func NewActors(db *gorm.DB) *Actors {
	return &Actors{db: db}
}

// find returns the local actor named in the URL. Accounts are served
// under /accounts/, channels under /video-channels/.
func (a *Actors) find(r *http.Request, types ...models.ActorType) (*models.Actor, error) {
	actor, err := models.NewActors(a.db.WithContext(r.Context())).FindLocal(chi.URLParam(r, "name"), types...)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, httpx.Error(http.StatusNotFound, fmt.Errorf("actor %q not found", chi.URLParam(r, "name")))
	}
	return actor, err
}

func (a *Actors) ShowAccount(w http.ResponseWriter, r *http.Request) error {
	actor, err := a.find(r, models.Person, models.Application)
	if err != nil {
		return err
	}
	return to.ActivityJSON(w, actorDocument(actor))
}

func (a *Actors) ShowChannel(w http.ResponseWriter, r *http.Request) error {
	actor, err := a.find(r, models.Group)
	if err != nil {
		return err
	}
	return to.ActivityJSON(w, actorDocument(actor))
}

type pageParams struct {
	Page int `schema:"page"`
}

// collection writes an OrderedCollection of total items or, when a page is
// requested, the OrderedCollectionPage produced by items.
func collection(w http.ResponseWriter, r *http.Request, id string, total int64, items func(offset, limit int) ([]any, error)) error {
	var params pageParams
	if err := httpx.Params(r, &params); err != nil {
		return err
	}
	if params.Page < 1 {
		return to.ActivityJSON(w, map[string]any{
			"@context":   activityStreams,
			"id":         id,
			"type":       "OrderedCollection",
			"totalItems": total,
			"first":      fmt.Sprintf("%s?page=1", id),
		})
	}
	page, err := items((params.Page-1)*collectionPageSize, collectionPageSize)
	if err != nil {
		return err
	}
	resp := map[string]any{
		"@context":     activityStreams,
		"id":           fmt.Sprintf("%s?page=%d", id, params.Page),
		"type":         "OrderedCollectionPage",
		"partOf":       id,
		"totalItems":   total,
		"orderedItems": page,
	}
	if params.Page > 1 {
		resp["prev"] = fmt.Sprintf("%s?page=%d", id, params.Page-1)
	}
	if int64(params.Page*collectionPageSize) < total {
		resp["next"] = fmt.Sprintf("%s?page=%d", id, params.Page+1)
	}
	return to.ActivityJSON(w, resp)
}

// Outbox lists the public videos of the actor as Create activities.
func (a *Actors) Outbox(w http.ResponseWriter, r *http.Request) error {
	actor, err := a.find(r)
	if err != nil {
		return err
	}
	videos := models.NewVideos(a.db.WithContext(r.Context()))
	total, err := videos.CountByActor(actor)
	if err != nil {
		return err
	}
	return collection(w, r, actor.OutboxURL, total, func(offset, limit int) ([]any, error) {
		page, err := videos.FindByActor(actor, offset, limit)
		return algorithms.Map(page, func(v *models.Video) any {
			return strip(buildCreate(v.URL+"/activity", actor, videoObject(v), GetAudience(v.ChannelActor, v.IsPublic())))
		}), err
	})
}

func (a *Actors) Followers(w http.ResponseWriter, r *http.Request) error {
	actor, err := a.find(r)
	if err != nil {
		return err
	}
	follows := models.NewActorFollows(a.db.WithContext(r.Context()))
	return collection(w, r, actor.FollowersURL, int64(actor.FollowersCount), func(offset, limit int) ([]any, error) {
		page, err := follows.Followers(actor, offset, limit)
		return algorithms.Map(page, actorURL), err
	})
}

func (a *Actors) Following(w http.ResponseWriter, r *http.Request) error {
	actor, err := a.find(r)
	if err != nil {
		return err
	}
	follows := models.NewActorFollows(a.db.WithContext(r.Context()))
	return collection(w, r, actor.FollowingURL, int64(actor.FollowingCount), func(offset, limit int) ([]any, error) {
		page, err := follows.Following(actor, offset, limit)
		return algorithms.Map(page, actorURL), err
	})
}

func actorURL(a *models.Actor) any { return a.URL }
