package activitypub

import (
	"errors"
	"fmt"
)

// Activity is one of the activities this node understands, or *Unknown.
// The set of implementations is closed; switch on the concrete type.
type Activity interface {
	Base() *Envelope
	activity()
}

// Envelope holds the fields common to every activity.
type Envelope struct {
	ID    string
	Type  string
	Actor string
	To    []string
	CC    []string
	// Raw is the activity as received, used when forwarding.
	Raw map[string]any
}

func (e *Envelope) Base() *Envelope { return e }
func (e *Envelope) activity()       {}

// IsPublic reports whether the activity is addressed to the public collection.
func (e *Envelope) IsPublic() bool {
	for _, a := range append(e.To, e.CC...) {
		if a == PublicCollection || a == "as:Public" || a == "Public" {
			return true
		}
	}
	return false
}

type Follow struct {
	Envelope
	// Object is the URL of the actor being followed.
	Object string
}

// Accept carries either the embedded Follow it accepts or only its id.
type Accept struct {
	Envelope
	Follow   *Follow
	ObjectID string
}

type Reject struct {
	Envelope
	Follow   *Follow
	ObjectID string
}

type Create struct {
	Envelope
	Object Object
}

type Update struct {
	Envelope
	Object Object
}

type Delete struct {
	Envelope
	// Object is the URL of the deleted actor, video, or comment.
	Object string
}

type Announce struct {
	Envelope
	Object ObjectRef
}

type Like struct {
	Envelope
	// Object is the URL of the liked video.
	Object string
}

type Dislike struct {
	Envelope
	Object string
}

type Undo struct {
	Envelope
	Object Activity
}

// Unknown is an activity of a type this node does not process.
type Unknown struct {
	Envelope
}

// ObjectRef is a reference to an object by URL, optionally with the object
// embedded.
type ObjectRef struct {
	ID       string
	Embedded map[string]any
}

func refFromAny(v any) ObjectRef {
	ref := ObjectRef{ID: idFromAny(v)}
	if m := mapFromAny(v); m != nil && len(m) > 1 {
		ref.Embedded = m
	}
	return ref
}

// Decode converts a JSON activity into its concrete type. An activity of
// an unrecognised type decodes to *Unknown; only activities without a
// type or actor are an error.
func Decode(obj map[string]any) (Activity, error) {
	env := Envelope{
		ID:    stringFromAny(obj["id"]),
		Type:  stringFromAny(obj["type"]),
		Actor: idFromAny(obj["actor"]),
		To:    stringsFromAny(obj["to"]),
		CC:    stringsFromAny(obj["cc"]),
		Raw:   obj,
	}
	if env.Type == "" {
		return nil, errors.New("activity has no type")
	}
	if env.Actor == "" {
		return nil, fmt.Errorf("%s activity %q has no actor", env.Type, env.ID)
	}
	switch env.Type {
	case "Follow":
		return &Follow{Envelope: env, Object: idFromAny(obj["object"])}, nil
	case "Accept":
		follow, id := decodeFollowRef(obj["object"])
		return &Accept{Envelope: env, Follow: follow, ObjectID: id}, nil
	case "Reject":
		follow, id := decodeFollowRef(obj["object"])
		return &Reject{Envelope: env, Follow: follow, ObjectID: id}, nil
	case "Create":
		return &Create{Envelope: env, Object: decodeObject(obj["object"], env.Actor)}, nil
	case "Update":
		return &Update{Envelope: env, Object: decodeObject(obj["object"], env.Actor)}, nil
	case "Delete":
		return &Delete{Envelope: env, Object: idFromAny(obj["object"])}, nil
	case "Announce":
		return &Announce{Envelope: env, Object: refFromAny(obj["object"])}, nil
	case "Like":
		return &Like{Envelope: env, Object: idFromAny(obj["object"])}, nil
	case "Dislike":
		return &Dislike{Envelope: env, Object: idFromAny(obj["object"])}, nil
	case "Undo":
		inner := mapFromAny(obj["object"])
		if inner == nil {
			return nil, fmt.Errorf("undo %q does not embed the activity it reverses", env.ID)
		}
		if _, ok := inner["actor"]; !ok {
			inner["actor"] = env.Actor
		}
		undone, err := Decode(inner)
		if err != nil {
			return nil, fmt.Errorf("undo %q: %w", env.ID, err)
		}
		return &Undo{Envelope: env, Object: undone}, nil
	default:
		return &Unknown{Envelope: env}, nil
	}
}

// decodeFollowRef returns the Follow embedded in v, if any, and its id.
func decodeFollowRef(v any) (*Follow, string) {
	m := mapFromAny(v)
	if m == nil || stringFromAny(m["type"]) != "Follow" {
		return nil, idFromAny(v)
	}
	a, err := Decode(m)
	if err != nil {
		return nil, idFromAny(v)
	}
	follow, _ := a.(*Follow)
	return follow, idFromAny(v)
}

// kind names the activity for logs and metrics, including the type of the
// object of a Create, Update, or Undo.
func kind(a Activity) string {
	switch a := a.(type) {
	case *Create:
		return "Create/" + objectType(a.Object)
	case *Update:
		return "Update/" + objectType(a.Object)
	case *Undo:
		return "Undo/" + kind(a.Object)
	default:
		return a.Base().Type
	}
}
