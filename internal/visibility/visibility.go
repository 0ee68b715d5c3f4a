// Package visibility classifies the audience of an ActivityPub object.
package visibility

import "fedibot/internal/ap"

// Visibility is the audience class of a message.
type Visibility string

const (
	Public    Visibility = "public"
	Unlisted  Visibility = "unlisted"
	Followers Visibility = "followers"
	Direct    Visibility = "direct"
	Unknown   Visibility = "unknown"
)

// Classify maps an object's to/cc audience onto the visibility lattice.
// Precedence is public > unlisted > followers > direct > unknown; unlisted
// differs from public only in which of to/cc carries the public collection.
// The function is total: it never fails, falling through to Unknown.
func Classify(to, cc []string, actor *ap.Actor, mentioned map[string]bool) Visibility {
	if contains(to, ap.PublicCollection) {
		return Public
	}
	if contains(cc, ap.PublicCollection) {
		return Unlisted
	}
	if actor != nil && actor.Followers != "" {
		if contains(to, actor.Followers) || contains(cc, actor.Followers) {
			return Followers
		}
	}
	if len(to)+len(cc) > 0 && allMentioned(to, mentioned) && allMentioned(cc, mentioned) {
		return Direct
	}
	return Unknown
}

func contains(uris []string, uri string) bool {
	for _, u := range uris {
		if u == uri {
			return true
		}
	}
	return false
}

func allMentioned(uris []string, mentioned map[string]bool) bool {
	for _, u := range uris {
		if !mentioned[u] {
			return false
		}
	}
	return true
}
