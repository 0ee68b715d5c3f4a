// Package federation defines the contract the bot core consumes from the
// federation engine: activity delivery, remote object lookup, and URI
// parsing/minting. HTTP signatures, WebFinger, key management, and inbox
// dispatch registration all live behind this interface.
package federation

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
)

// Recipients selects the audience of a delivery: either the bot's follower
// collection or an explicit list of actor URIs.
type Recipients struct {
	Followers bool
	ActorIDs  []string
}

// ToFollowers addresses a delivery to the bot's followers.
func ToFollowers() Recipients {
	return Recipients{Followers: true}
}

// ToActors addresses a delivery to the given actor URIs.
func ToActors(ids ...string) Recipients {
	return Recipients{ActorIDs: ids}
}

// SendOptions tune a single delivery.
type SendOptions struct {
	// PreferSharedInbox collapses follower fan-out onto shared inboxes.
	PreferSharedInbox bool
	// ExcludeBaseURIs prevents delivery loops back to the given origins.
	ExcludeBaseURIs []string
	// SkipIfUnsigned drops the delivery when forwarding an inbound
	// activity whose signature cannot be relayed.
	SkipIfUnsigned bool
}

// LookupOptions tune a remote object lookup.
type LookupOptions struct {
	// SuppressError turns lookup failures into a nil result instead of
	// an error. Federated peers routinely serve broken references.
	SuppressError bool
}

// URI kinds produced by ParseURI.
const (
	URIActor  = "actor"
	URIObject = "object"
)

// ParsedURI describes a URI hosted by this system. Type is URIActor or
// URIObject; objects additionally carry the object class (Note, Question,
// Announce, Follow...) and the storage id minted when they were published.
type ParsedURI struct {
	Type       string
	Identifier string
	Class      string
	ID         uuid.UUID
}

// Engine is the federation engine as seen by the bot core. Implementations
// must be safe for concurrent use.
type Engine interface {
	// SendActivity signs and delivers activity on behalf of identifier.
	SendActivity(ctx context.Context, identifier string, recipients Recipients, activity any, opts SendOptions) error

	// LookupObject fetches a remote object or actor document by URI.
	// With SuppressError set it returns (nil, nil) on failure.
	LookupObject(ctx context.Context, uri string, opts LookupOptions) (json.RawMessage, error)

	// ParseURI reports whether uri is hosted by this system and what it
	// addresses. Returns nil for foreign URIs.
	ParseURI(uri string) *ParsedURI

	// ActorURI returns the canonical actor URI for a local identifier.
	ActorURI(identifier string) string

	// FollowersURI returns the followers collection URI for a local
	// identifier.
	FollowersURI(identifier string) string

	// ObjectURI mints the canonical URI for a local object of the given
	// class and storage id.
	ObjectURI(identifier, class string, id uuid.UUID) string
}
