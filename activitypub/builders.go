package activitypub

import (
	"fmt"
	"time"

	"github.com/davecheney/tube/models"
	"github.com/google/uuid"
)

// Activity ids minted by this node.

func followURL(follower, target *models.Actor) string {
	return follower.URL + "/follows/" + target.ID.String()
}

func likeURL(actor *models.Actor, video *models.Video, typ models.RateType) string {
	if typ == models.Dislike {
		return actor.URL + "/dislikes/" + video.ID.String()
	}
	return actor.URL + "/likes/" + video.ID.String()
}

func shareURL(actor *models.Actor, video *models.Video) string {
	return video.URL + "/announces/" + actor.ID.String()
}

func undoURL(id string) string {
	return id + "/undo/" + uuid.NewString()
}

func activity(typ, id, actor string, object any) map[string]any {
	return map[string]any{
		"@context": contextValue(),
		"type":     typ,
		"id":       id,
		"actor":    actor,
		"object":   object,
	}
}

// strip removes the fields that only belong on the outermost activity.
func strip(inner map[string]any) map[string]any {
	out := make(map[string]any, len(inner))
	for k, v := range inner {
		if k == "@context" {
			continue
		}
		out[k] = v
	}
	return out
}

func buildFollow(follow *models.ActorFollow, follower, target *models.Actor) map[string]any {
	return activity("Follow", follow.URL, follower.URL, target.URL)
}

func followObject(follow *models.ActorFollow, follower, target *models.Actor) map[string]any {
	return strip(buildFollow(follow, follower, target))
}

func buildAccept(follow *models.ActorFollow, follower, target *models.Actor) map[string]any {
	return activity("Accept", follow.URL+"/accept/"+uuid.NewString(), target.URL, followObject(follow, follower, target))
}

func buildReject(follow *models.ActorFollow, follower, target *models.Actor) map[string]any {
	return activity("Reject", follow.URL+"/reject/"+uuid.NewString(), target.URL, followObject(follow, follower, target))
}

func buildUndo(actor *models.Actor, inner map[string]any, audience Audience) map[string]any {
	undo := activity("Undo", undoURL(stringFromAny(inner["id"])), actor.URL, strip(inner))
	return audience.apply(undo)
}

func buildCreate(id string, actor *models.Actor, object map[string]any, audience Audience) map[string]any {
	return audience.apply(activity("Create", id, actor.URL, object))
}

func buildUpdate(id string, actor *models.Actor, object map[string]any, audience Audience) map[string]any {
	return audience.apply(activity("Update", id, actor.URL, object))
}

func buildAnnounce(id string, actor *models.Actor, video *models.Video, audience Audience) map[string]any {
	return audience.apply(activity("Announce", id, actor.URL, video.URL))
}

func buildLike(actor *models.Actor, video *models.Video, audience Audience) map[string]any {
	return audience.apply(activity("Like", likeURL(actor, video, models.Like), actor.URL, video.URL))
}

// buildDislike wraps the Dislike in a Create, which is how dislikes travel.
func buildDislike(actor *models.Actor, video *models.Video, audience Audience) map[string]any {
	id := likeURL(actor, video, models.Dislike)
	dislike := map[string]any{
		"type":   "Dislike",
		"id":     id,
		"actor":  actor.URL,
		"object": video.URL,
	}
	return buildCreate(id, actor, dislike, audience)
}

func cacheFileObject(r *models.VideoRedundancy, actor *models.Actor, video *models.Video, file *models.VideoFile) map[string]any {
	obj := map[string]any{
		"id":     r.URL,
		"type":   "CacheFile",
		"actor":  actor.URL,
		"object": video.URL,
		"url": map[string]any{
			"type":      "Link",
			"mediaType": file.MediaType,
			"href":      r.FileURL,
			"height":    file.Resolution,
			"size":      file.Size,
		},
	}
	if r.ExpiresOn != nil {
		obj["expires"] = r.ExpiresOn.UTC().Format(time.RFC3339)
	}
	return obj
}

func videoObject(video *models.Video) map[string]any {
	links := make([]any, 0, len(video.Files))
	for _, f := range video.Files {
		links = append(links, map[string]any{
			"type":      "Link",
			"mediaType": f.MediaType,
			"href":      f.FileURL,
			"height":    f.Resolution,
			"size":      f.Size,
		})
	}
	obj := map[string]any{
		"id":              video.URL,
		"type":            "Video",
		"uuid":            video.UUID,
		"name":            video.Name,
		"views":           video.Views,
		"isLiveBroadcast": video.IsLive,
		"published":       video.PublishedAt.UTC().Format(time.RFC3339),
		"url":             links,
	}
	var attributed []any
	if video.AccountActor != nil {
		attributed = append(attributed, map[string]any{"type": "Person", "id": video.AccountActor.URL})
	}
	if video.ChannelActor != nil {
		attributed = append(attributed, map[string]any{"type": "Group", "id": video.ChannelActor.URL})
	}
	obj["attributedTo"] = attributed
	switch video.Privacy {
	case models.Public:
		obj["to"] = []string{PublicCollection}
		if video.ChannelActor != nil {
			obj["cc"] = []string{video.ChannelActor.FollowersURL}
		}
	case models.Unlisted:
		obj["cc"] = []string{PublicCollection}
	}
	return obj
}

func actorDocument(actor *models.Actor) map[string]any {
	doc := map[string]any{
		"@context":          contextValue(),
		"id":                actor.URL,
		"type":              string(actor.Type),
		"preferredUsername": actor.PreferredUsername,
		"name":              actor.Name,
		"inbox":             actor.InboxURL,
		"outbox":            actor.OutboxURL,
		"followers":         actor.FollowersURL,
		"following":         actor.FollowingURL,
		"publicKey": map[string]any{
			"id":           actor.PublicKeyID(),
			"owner":        actor.URL,
			"publicKeyPem": string(actor.PublicKey),
		},
	}
	if actor.SharedInboxURL != "" {
		doc["endpoints"] = map[string]any{"sharedInbox": actor.SharedInboxURL}
	}
	return doc
}

// RedundancyURL is the id of the CacheFile announcing a local mirror of file.
func RedundancyURL(domain string, video *models.Video, file *models.VideoFile) string {
	return fmt.Sprintf("https://%s/redundancy/videos/%s/%d", domain, video.UUID, file.Resolution)
}
