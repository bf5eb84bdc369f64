package activitypub

import (
	"strings"
	"time"

	"github.com/davecheney/tube/models"
)

// Object is the object of a Create or Update. Like Activity the set of
// implementations is closed.
type Object interface {
	object()
}

// VideoObject is a published video.
type VideoObject struct {
	ID        string
	UUID      string
	Name      string
	Privacy   models.VideoPrivacy
	IsLive    bool
	Views     int64
	Published time.Time
	// Account and Channel are the URLs of the Person and Group the video is
	// attributed to.
	Account string
	Channel string
	Files   []FileLink
}

// FileLink is a link to one rendition of a video.
type FileLink struct {
	Href      string
	MediaType string
	Height    int32
	Size      int64
}

// NoteObject is a comment on a video or a reply to another comment.
type NoteObject struct {
	ID           string
	Content      string
	InReplyTo    string
	AttributedTo string
	Published    time.Time
}

// DislikeObject is the object of a Create(Dislike).
type DislikeObject struct {
	ID     string
	Actor  string
	Object string
}

// ViewObject records a view of a video.
type ViewObject struct {
	ID     string
	Actor  string
	Object string
}

// CacheFileObject announces that Actor holds a mirror of one rendition of
// the video at Object.
type CacheFileObject struct {
	ID      string
	Actor   string
	Object  string
	Expires *time.Time
	URL     FileLink
}

// ActorObject is an actor document.
type ActorObject struct {
	Actor *models.Actor
}

// UnknownObject is an object of a type this node does not process.
type UnknownObject struct {
	Type string
	ID   string
}

func (*VideoObject) object()     {}
func (*NoteObject) object()      {}
func (*DislikeObject) object()   {}
func (*ViewObject) object()      {}
func (*CacheFileObject) object() {}
func (*ActorObject) object()     {}
func (*UnknownObject) object()   {}

func objectType(o Object) string {
	switch o := o.(type) {
	case *VideoObject:
		return "Video"
	case *NoteObject:
		return "Note"
	case *DislikeObject:
		return "Dislike"
	case *ViewObject:
		return "View"
	case *CacheFileObject:
		return "CacheFile"
	case *ActorObject:
		return string(o.Actor.Type)
	case *UnknownObject:
		return o.Type
	default:
		return "unknown"
	}
}

// decodeObject converts the object of a Create or Update. actor is the
// actor of the enclosing activity, used when the object omits its own.
func decodeObject(v any, actor string) Object {
	obj := mapFromAny(v)
	if obj == nil {
		return &UnknownObject{ID: idFromAny(v)}
	}
	typ := stringFromAny(obj["type"])
	switch typ {
	case "Video":
		return decodeVideo(obj)
	case "Note":
		return &NoteObject{
			ID:           stringFromAny(obj["id"]),
			Content:      stringFromAny(obj["content"]),
			InReplyTo:    idFromAny(obj["inReplyTo"]),
			AttributedTo: firstString(stringsFromAny(obj["attributedTo"]), actor),
			Published:    timeFromAnyOrZero(obj["published"]),
		}
	case "Dislike":
		return &DislikeObject{
			ID:     stringFromAny(obj["id"]),
			Actor:  firstString([]string{idFromAny(obj["actor"])}, actor),
			Object: idFromAny(obj["object"]),
		}
	case "View":
		return &ViewObject{
			ID:     stringFromAny(obj["id"]),
			Actor:  firstString([]string{idFromAny(obj["actor"])}, actor),
			Object: idFromAny(obj["object"]),
		}
	case "CacheFile":
		cf := &CacheFileObject{
			ID:     stringFromAny(obj["id"]),
			Actor:  firstString([]string{idFromAny(obj["actor"])}, actor),
			Object: idFromAny(obj["object"]),
		}
		if expires, err := timeFromAny(obj["expires"]); err == nil {
			cf.Expires = &expires
		}
		if links := fileLinks(obj["url"]); len(links) > 0 {
			cf.URL = links[0]
		}
		return cf
	case "Person", "Group", "Application", "Service", "Organization":
		return &ActorObject{Actor: decodeActor(obj)}
	default:
		return &UnknownObject{Type: typ, ID: stringFromAny(obj["id"])}
	}
}

func decodeVideo(obj map[string]any) *VideoObject {
	v := &VideoObject{
		ID:        stringFromAny(obj["id"]),
		UUID:      stringFromAny(obj["uuid"]),
		Name:      stringFromAny(obj["name"]),
		IsLive:    boolFromAny(obj["isLiveBroadcast"]),
		Views:     intFromAny(obj["views"]),
		Published: timeFromAnyOrZero(obj["published"]),
		Privacy:   privacyOf(stringsFromAny(obj["to"]), stringsFromAny(obj["cc"])),
	}
	for _, a := range anyToSlice(obj["attributedTo"]) {
		m := mapFromAny(a)
		switch stringFromAny(m["type"]) {
		case "Person":
			v.Account = stringFromAny(m["id"])
		case "Group":
			v.Channel = stringFromAny(m["id"])
		}
	}
	for _, link := range fileLinks(obj["url"]) {
		if strings.HasPrefix(link.MediaType, "video/") {
			v.Files = append(v.Files, link)
		}
	}
	return v
}

// privacyOf derives a video's privacy from its addressing: addressed to
// the public is public, copied to the public is unlisted.
func privacyOf(to, cc []string) models.VideoPrivacy {
	for _, a := range to {
		if a == PublicCollection {
			return models.Public
		}
	}
	for _, a := range cc {
		if a == PublicCollection {
			return models.Unlisted
		}
	}
	return models.Private
}

func fileLinks(v any) []FileLink {
	var links []FileLink
	for _, item := range anyToSlice(v) {
		m := mapFromAny(item)
		if m == nil {
			continue
		}
		href := stringFromAny(m["href"])
		if href == "" {
			continue
		}
		links = append(links, FileLink{
			Href:      href,
			MediaType: stringFromAny(m["mediaType"]),
			Height:    int32(intFromAny(m["height"])),
			Size:      intFromAny(m["size"]),
		})
	}
	return links
}

// decodeActor converts an actor document. The result has no ID and no
// server; Actors.Upsert assigns both.
func decodeActor(obj map[string]any) *models.Actor {
	return &models.Actor{
		URL:               stringFromAny(obj["id"]),
		Type:              models.ActorType(stringFromAny(obj["type"])),
		PreferredUsername: stringFromAny(obj["preferredUsername"]),
		Name:              stringFromAny(obj["name"]),
		InboxURL:          stringFromAny(obj["inbox"]),
		SharedInboxURL:    stringFromAny(mapFromAny(obj["endpoints"])["sharedInbox"]),
		OutboxURL:         stringFromAny(obj["outbox"]),
		FollowersURL:      stringFromAny(obj["followers"]),
		FollowingURL:      stringFromAny(obj["following"]),
		PublicKey:         []byte(stringFromAny(mapFromAny(obj["publicKey"])["publicKeyPem"])),
	}
}

func firstString(candidates []string, fallback string) string {
	for _, s := range candidates {
		if s != "" {
			return s
		}
	}
	return fallback
}
