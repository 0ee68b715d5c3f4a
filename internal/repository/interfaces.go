// Package repository provides the bot's durable storage abstraction:
// key pairs, published messages, followers, followees, sent follow requests,
// and poll votes. Two implementations exist: an in-memory reference
// implementation and a KV-backed one speaking an optimistic-locking list
// protocol over a flat key-value store.
package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"fedibot/internal/ap"
)

// KeyPair is an opaque serialized signing key pair owned by the federation
// engine. The repository stores it verbatim; it is created once per bot
// identity and never modified afterwards.
type KeyPair struct {
	Type       string          `json:"type"`
	PrivateKey json.RawMessage `json:"privateKey"`
	PublicKey  json.RawMessage `json:"publicKey"`
}

// MessageOrder selects iteration direction over stored messages.
type MessageOrder string

const (
	NewestFirst MessageOrder = "newest"
	OldestFirst MessageOrder = "oldest"
)

// MessageQuery bounds a message enumeration. Message ids are UUIDv7, so
// ordering by id is ordering by publication time.
type MessageQuery struct {
	Order MessageOrder
	// Until excludes messages published after the given instant.
	// The zero value means no bound.
	Until time.Time
	// Offset/Limit window the result. Limit 0 means no limit.
	Offset int
	Limit  int
}

// MessageRecord pairs a stored activity envelope with its storage id.
type MessageRecord struct {
	ID       uuid.UUID
	Activity *ap.Activity
}

// UpdateFunc receives the currently stored activity and returns the value to
// store in its place. Returning an error aborts the update. The repository
// applies it atomically with respect to other writers of the same message.
type UpdateFunc func(current *ap.Activity) (*ap.Activity, error)

// Repository is the storage surface the bot core operates on. All methods
// are safe for concurrent use. Missing entities surface as
// fediboterrors.ErrNotFound; duplicate inserts as ErrAlreadyExists.
type Repository interface {
	// Key pairs: stored once, immutable thereafter.
	StoreKeyPairs(ctx context.Context, pairs []KeyPair) error
	KeyPairs(ctx context.Context) ([]KeyPair, error)

	// Messages: outbound Create/Announce envelopes keyed by UUIDv7.
	AddMessage(ctx context.Context, id uuid.UUID, activity *ap.Activity) error
	GetMessage(ctx context.Context, id uuid.UUID) (*ap.Activity, error)
	// UpdateMessage rewrites a stored message in place. It reports false
	// without error when the message is absent.
	UpdateMessage(ctx context.Context, id uuid.UUID, update UpdateFunc) (bool, error)
	// RemoveMessage deletes a stored message. Removing an absent message
	// is a no-op.
	RemoveMessage(ctx context.Context, id uuid.UUID) error
	Messages(ctx context.Context, q MessageQuery) ([]MessageRecord, error)
	CountMessages(ctx context.Context) (int, error)

	// Followers: actors following this bot, keyed by actor URI.
	AddFollower(ctx context.Context, follower *ap.Actor) error
	// RemoveFollower deletes a follower and returns the stored record.
	RemoveFollower(ctx context.Context, followerID string) (*ap.Actor, error)
	HasFollower(ctx context.Context, followerID string) (bool, error)
	Followers(ctx context.Context, offset, limit int) ([]*ap.Actor, error)
	CountFollowers(ctx context.Context) (int, error)

	// Sent follows: pending outbound follow requests keyed by the follow
	// activity's storage id, valued with the followee's actor URI.
	AddSentFollow(ctx context.Context, id uuid.UUID, followeeID string) error
	GetSentFollow(ctx context.Context, id uuid.UUID) (string, error)
	RemoveSentFollow(ctx context.Context, id uuid.UUID) error

	// Followees: accepted outbound follows keyed by followee URI, storing
	// the original Follow activity for later Undo correlation.
	AddFollowee(ctx context.Context, followeeID string, follow *ap.Activity) error
	GetFollowee(ctx context.Context, followeeID string) (*ap.Activity, error)
	RemoveFollowee(ctx context.Context, followeeID string) error

	// Poll votes: keyed by (poll message id, option), aggregated per
	// voter. AddVote returns ErrAlreadyExists for a repeated
	// (voter, option) pair so double counting never happens.
	AddVote(ctx context.Context, messageID uuid.UUID, voterID, option string) error
	CountVotes(ctx context.Context, messageID uuid.UUID, option string) (int, error)
	CountVoters(ctx context.Context, messageID uuid.UUID) (int, error)
}
