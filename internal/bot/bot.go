// Package bot implements the message, visibility, and activity-routing core
// of a federated bot: materializing typed messages from raw ActivityPub
// objects, dispatching inbound activities to user event handlers, and
// publishing outbound activities through the federation engine.
package bot

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"fedibot/internal/ap"
	"fedibot/internal/federation"
	"fedibot/internal/redis"
	"fedibot/internal/repository"
	fediboterrors "fedibot/pkg/errors"
	"fedibot/pkg/logger"
)

// FollowerPolicy decides what happens to a follow request the user's follow
// handler leaves pending.
type FollowerPolicy string

const (
	PolicyAccept FollowerPolicy = "accept"
	PolicyReject FollowerPolicy = "reject"
	PolicyManual FollowerPolicy = "manual"
)

// Handlers is the set of user event handlers. Every field is optional.
// Handler errors propagate to whatever invoked the router; the core never
// swallows them.
type Handlers struct {
	Follow        func(ctx context.Context, session *Session, request *FollowRequest) error
	Unfollow      func(ctx context.Context, session *Session, follower *ap.Actor) error
	AcceptFollow  func(ctx context.Context, session *Session, followee *ap.Actor) error
	RejectFollow  func(ctx context.Context, session *Session, followee *ap.Actor) error
	Mention       func(ctx context.Context, session *Session, message *Message) error
	Reply         func(ctx context.Context, session *Session, message *Message) error
	Quote         func(ctx context.Context, session *Session, message *Message) error
	Message       func(ctx context.Context, session *Session, message *Message) error
	SharedMessage func(ctx context.Context, session *Session, shared *SharedMessage) error
	Like          func(ctx context.Context, session *Session, like *Like) error
	Unlike        func(ctx context.Context, session *Session, like *Like) error
	React         func(ctx context.Context, session *Session, reaction *Reaction) error
	Unreact       func(ctx context.Context, session *Session, reaction *Reaction) error
	Vote          func(ctx context.Context, session *Session, vote *Vote) error
}

// InboundLimiter throttles inbound deliveries per federated origin.
// *redis.RateLimiter satisfies it.
type InboundLimiter interface {
	AllowInbound(ctx context.Context, origin string) (*redis.RateLimitResult, error)
}

var _ InboundLimiter = (*redis.RateLimiter)(nil)

// Config assembles a Bot.
type Config struct {
	// Identifier is the bot's local identifier, used for URI minting and
	// repository key scoping.
	Identifier string
	// Username is the preferred username shown in the actor document.
	Username string
	Name     string
	Summary  string
	// FollowerPolicy defaults to PolicyAccept.
	FollowerPolicy FollowerPolicy

	Engine     federation.Engine
	Repository repository.Repository
	Logger     *logger.Logger
	Handlers   Handlers
	// Limiter, when set, rate-limits inbound activity per remote origin.
	Limiter InboundLimiter
}

// Bot is a single federated bot instance.
type Bot struct {
	identifier string
	username   string
	name       string
	summary    string
	policy     FollowerPolicy
	engine     federation.Engine
	repo       repository.Repository
	log        *logger.Logger
	handlers   Handlers
	limiter    InboundLimiter

	// The self actor is computed once and never invalidated; profile
	// text is assumed static for the process lifetime.
	selfOnce sync.Once
	self     *ap.Actor
}

// New validates cfg and builds a Bot.
func New(cfg Config) (*Bot, error) {
	if cfg.Identifier == "" {
		return nil, fmt.Errorf("bot identifier is required: %w", fediboterrors.ErrInvalidInput)
	}
	if cfg.Engine == nil {
		return nil, fmt.Errorf("federation engine is required: %w", fediboterrors.ErrInvalidInput)
	}
	if cfg.Repository == nil {
		return nil, fmt.Errorf("repository is required: %w", fediboterrors.ErrInvalidInput)
	}
	policy := cfg.FollowerPolicy
	if policy == "" {
		policy = PolicyAccept
	}
	log := cfg.Logger
	if log == nil {
		log = logger.Nop()
	}
	username := cfg.Username
	if username == "" {
		username = cfg.Identifier
	}
	return &Bot{
		identifier: cfg.Identifier,
		username:   username,
		name:       cfg.Name,
		summary:    cfg.Summary,
		policy:     policy,
		engine:     cfg.Engine,
		repo:       cfg.Repository,
		log:        log,
		handlers:   cfg.Handlers,
		limiter:    cfg.Limiter,
	}, nil
}

// Identifier returns the bot's local identifier.
func (b *Bot) Identifier() string {
	return b.identifier
}

// ActorURI returns the bot's canonical actor URI.
func (b *Bot) ActorURI() string {
	return b.engine.ActorURI(b.identifier)
}

// Self returns the bot's own actor document, built on first use from the
// configured profile and the engine's URI scheme.
func (b *Bot) Self() *ap.Actor {
	b.selfOnce.Do(func() {
		b.self = &ap.Actor{
			ID:                b.ActorURI(),
			Type:              "Service",
			PreferredUsername: b.username,
			Name:              b.name,
			Summary:           b.summary,
			Followers:         b.engine.FollowersURI(b.identifier),
		}
	})
	return b.self
}

// Session returns a per-operation facade over the bot, its repository, and
// the federation engine.
func (b *Bot) Session() *Session {
	return &Session{bot: b, engine: b.engine, repo: b.repo}
}

// Outbox pages through the bot's stored messages, newest first, applying a
// per-viewer visibility filter: public and unlisted messages are always
// included, followers-only messages only for followers, direct messages only
// for addressees. Excluded items do not count against the page size but
// still advance the cursor. The empty cursor starts from the beginning; an
// empty next cursor means no more pages.
func (b *Bot) Outbox(ctx context.Context, viewerID, cursor string, pageSize int) ([]repository.MessageRecord, string, error) {
	if pageSize < 1 {
		return nil, "", fmt.Errorf("page size must be positive: %w", fediboterrors.ErrInvalidInput)
	}
	offset := 0
	if cursor != "" {
		n, err := strconv.Atoi(cursor)
		if err != nil || n < 0 {
			return nil, "", fmt.Errorf("malformed cursor %q: %w", cursor, fediboterrors.ErrInvalidInput)
		}
		offset = n
	}

	var items []repository.MessageRecord
	for {
		page, err := b.repo.Messages(ctx, repository.MessageQuery{
			Order:  repository.NewestFirst,
			Offset: offset,
			Limit:  pageSize,
		})
		if err != nil {
			return nil, "", err
		}
		if len(page) == 0 {
			return items, "", nil
		}
		for _, rec := range page {
			offset++
			visible, err := b.visibleTo(ctx, viewerID, rec.Activity)
			if err != nil {
				return nil, "", err
			}
			if !visible {
				continue
			}
			items = append(items, rec)
			if len(items) == pageSize {
				return items, strconv.Itoa(offset), nil
			}
		}
		if len(page) < pageSize {
			return items, "", nil
		}
	}
}

// visibleTo decides whether a stored activity may be shown to viewerID
// (empty = anonymous).
func (b *Bot) visibleTo(ctx context.Context, viewerID string, activity *ap.Activity) (bool, error) {
	audience := append(append([]string(nil), activity.To...), activity.CC...)
	followersURI := b.engine.FollowersURI(b.identifier)
	followersOnly := false
	for _, uri := range audience {
		switch uri {
		case ap.PublicCollection:
			return true, nil
		case followersURI:
			followersOnly = true
		case viewerID:
			if viewerID != "" {
				return true, nil
			}
		}
	}
	if followersOnly && viewerID != "" {
		return b.repo.HasFollower(ctx, viewerID)
	}
	return false, nil
}

// Followers pages through the bot's follower set.
func (b *Bot) Followers(ctx context.Context, offset, limit int) ([]*ap.Actor, error) {
	return b.repo.Followers(ctx, offset, limit)
}

// CountFollowers returns the follower count.
func (b *Bot) CountFollowers(ctx context.Context) (int, error) {
	return b.repo.CountFollowers(ctx)
}

// CountMessages returns the stored message count.
func (b *Bot) CountMessages(ctx context.Context) (int, error) {
	return b.repo.CountMessages(ctx)
}
