package activitypub

import (
	"github.com/davecheney/tube/internal/algorithms"
	"github.com/davecheney/tube/models"
)

// Audience is the addressing of an activity.
type Audience struct {
	To []string
	CC []string
}

func (a Audience) apply(activity map[string]any) map[string]any {
	activity["to"] = nonNil(a.To)
	activity["cc"] = nonNil(a.CC)
	return activity
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// GetAudience returns the audience of an activity by actor.
func GetAudience(actor *models.Actor, isPublic bool) Audience {
	return buildAudience([]string{actor.FollowersURL}, isPublic)
}

// GetAudienceFromFollowers returns the audience of an activity that
// concerns actors: public activities go to everyone, copied to the
// followers of actors; other activities go only to those followers.
func GetAudienceFromFollowers(actors []*models.Actor, isPublic bool) Audience {
	followers := algorithms.Filter(algorithms.Map(actors, func(a *models.Actor) string {
		return a.FollowersURL
	}), func(s string) bool { return s != "" })
	return buildAudience(algorithms.Uniq(followers), isPublic)
}

func buildAudience(followerURLs []string, isPublic bool) Audience {
	if isPublic {
		return Audience{
			To: []string{PublicCollection},
			CC: followerURLs,
		}
	}
	return Audience{To: followerURLs}
}
