package bot

import (
	"context"
	"time"

	"github.com/google/uuid"

	"fedibot/internal/ap"
	"fedibot/internal/visibility"
)

// SharedMessage wraps an Announce activity: who shared, with what audience,
// and the original message.
type SharedMessage struct {
	session *Session

	// ID is the Announce activity's URI.
	ID         string
	Actor      *ap.Actor
	Visibility visibility.Visibility
	Original   *Message

	raw *ap.Activity
}

// AuthorizedSharedMessage is a share made by the bot itself; it can be
// undone.
type AuthorizedSharedMessage struct {
	*SharedMessage
	storageID uuid.UUID
}

// ShareOptions tune Share.
type ShareOptions struct {
	// Visibility defaults to the shared message's own visibility.
	Visibility visibility.Visibility
}

// Share announces this message: the Announce envelope is persisted and
// delivered both to the bot's followers and, separately, to the original
// author. The two deliveries are independent; a failure of the second leaves
// the first standing.
func (m *Message) Share(ctx context.Context, opts ShareOptions) (*AuthorizedSharedMessage, error) {
	s := m.session
	vis := opts.Visibility
	if vis == "" {
		vis = m.Visibility
	}
	if vis == visibility.Unknown {
		vis = visibility.Direct
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	to, cc := s.audience(vis, []string{m.Actor.ID})
	announce := &ap.Activity{
		Context:   ap.ActivityStreamsContext,
		ID:        s.engine.ObjectURI(s.bot.identifier, ap.TypeAnnounce, id),
		Type:      ap.TypeAnnounce,
		Actor:     s.bot.ActorURI(),
		To:        to,
		CC:        cc,
		Published: &now,
	}
	announce.RefObject(m.ID)

	if err := s.repo.AddMessage(ctx, id, announce); err != nil {
		return nil, err
	}
	if err := s.dualDeliver(ctx, announce, m.Actor.ID); err != nil {
		return nil, err
	}

	return &AuthorizedSharedMessage{
		SharedMessage: &SharedMessage{
			session:    s,
			ID:         announce.ID,
			Actor:      s.bot.Self(),
			Visibility: vis,
			Original:   m,
			raw:        announce,
		},
		storageID: id,
	}, nil
}

// Unshare removes the stored Announce and sends a matching Undo to the same
// two recipient sets the share went to.
func (sm *AuthorizedSharedMessage) Unshare(ctx context.Context) error {
	s := sm.session
	if err := s.repo.RemoveMessage(ctx, sm.storageID); err != nil {
		return err
	}
	undo := &ap.Activity{
		Context: ap.ActivityStreamsContext,
		ID:      sm.raw.ID + "#undo",
		Type:    ap.TypeUndo,
		Actor:   s.bot.ActorURI(),
		To:      sm.raw.To,
		CC:      sm.raw.CC,
	}
	if err := undo.EmbedObject(sm.raw); err != nil {
		return err
	}
	return s.dualDeliver(ctx, undo, sm.Original.Actor.ID)
}

// Like wraps a Like activity.
type Like struct {
	session *Session

	// ID is the Like activity's URI.
	ID      string
	Actor   *ap.Actor
	Message *Message

	raw *ap.Activity
}

// AuthorizedLike is a like made by the bot itself; it can be undone.
type AuthorizedLike struct {
	*Like
}

// Like sends a Like for this message to the bot's followers and to the
// message's author. Likes are ephemeral: they are delivered, not persisted.
func (m *Message) Like(ctx context.Context) (*AuthorizedLike, error) {
	s := m.session
	activity, err := s.engageActivity(m, ap.TypeLike, "", nil)
	if err != nil {
		return nil, err
	}
	if err := s.dualDeliver(ctx, activity, m.Actor.ID); err != nil {
		return nil, err
	}
	return &AuthorizedLike{&Like{
		session: s,
		ID:      activity.ID,
		Actor:   s.bot.Self(),
		Message: m,
		raw:     activity,
	}}, nil
}

// Unlike sends an Undo of the like to the same two recipient sets.
func (l *AuthorizedLike) Unlike(ctx context.Context) error {
	return l.session.undoEngagement(ctx, l.raw, l.Message.Actor.ID)
}

// Reaction wraps an EmojiReact activity.
type Reaction struct {
	session *Session

	// ID is the EmojiReact activity's URI.
	ID      string
	Actor   *ap.Actor
	Message *Message
	Emoji   Emoji

	raw *ap.Activity
}

// AuthorizedReaction is a reaction made by the bot itself; it can be undone.
type AuthorizedReaction struct {
	*Reaction
}

// React sends an EmojiReact for this message. Like likes, reactions are
// delivery-only. Both deliveries carry the identical activity, id included;
// peers that deduplicate by id will collapse them.
func (m *Message) React(ctx context.Context, emoji Emoji) (*AuthorizedReaction, error) {
	s := m.session
	var tags []ap.Tag
	if tag := emoji.Tag(); tag != nil {
		tags = []ap.Tag{*tag}
	}
	activity, err := s.engageActivity(m, ap.TypeEmojiReact, emoji.String(), tags)
	if err != nil {
		return nil, err
	}
	if err := s.dualDeliver(ctx, activity, m.Actor.ID); err != nil {
		return nil, err
	}
	return &AuthorizedReaction{&Reaction{
		session: s,
		ID:      activity.ID,
		Actor:   s.bot.Self(),
		Message: m,
		Emoji:   emoji,
		raw:     activity,
	}}, nil
}

// Unreact sends an Undo of the reaction to the same two recipient sets.
func (r *AuthorizedReaction) Unreact(ctx context.Context) error {
	return r.session.undoEngagement(ctx, r.raw, r.Message.Actor.ID)
}

// engageActivity builds a Like or EmojiReact addressed to the target
// message's author with the follower collection cc'd.
func (s *Session) engageActivity(m *Message, kind, name string, tags []ap.Tag) (*ap.Activity, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	activity := &ap.Activity{
		Context:   ap.ActivityStreamsContext,
		ID:        s.engine.ObjectURI(s.bot.identifier, kind, id),
		Type:      kind,
		Actor:     s.bot.ActorURI(),
		Name:      name,
		To:        []string{m.Actor.ID},
		CC:        []string{s.engine.FollowersURI(s.bot.identifier)},
		Published: &now,
		Tag:       tags,
	}
	activity.RefObject(m.ID)
	return activity, nil
}

// undoEngagement sends an Undo of an ephemeral engagement activity to the
// followers and the original author.
func (s *Session) undoEngagement(ctx context.Context, engaged *ap.Activity, authorID string) error {
	undo := &ap.Activity{
		Context: ap.ActivityStreamsContext,
		ID:      engaged.ID + "#undo",
		Type:    ap.TypeUndo,
		Actor:   s.bot.ActorURI(),
		To:      engaged.To,
		CC:      engaged.CC,
	}
	if err := undo.EmbedObject(engaged); err != nil {
		return err
	}
	return s.dualDeliver(ctx, undo, authorID)
}

// Vote is a recorded poll response.
type Vote struct {
	// Actor is the voter.
	Actor *ap.Actor
	// Message is the poll the vote applies to.
	Message *Message
	// Option is the poll option the voter chose.
	Option string
}
