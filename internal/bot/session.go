package bot

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"

	"fedibot/internal/ap"
	"fedibot/internal/federation"
	"fedibot/internal/repository"
	"fedibot/internal/visibility"
	fediboterrors "fedibot/pkg/errors"
)

// Session is the per-operation facade bundling the bot identity, its
// repository, and the federation engine. It is the surface through which the
// materializer and the activity router operate.
type Session struct {
	bot    *Bot
	engine federation.Engine
	repo   repository.Repository
}

// Bot returns the bot this session operates on.
func (s *Session) Bot() *Bot {
	return s.bot
}

// PollOptions describes a poll attached to a published message.
type PollOptions struct {
	Options []string
	EndTime time.Time
}

// PublishOptions tune Publish.
type PublishOptions struct {
	// Visibility defaults to Public.
	Visibility visibility.Visibility
	// Language is an optional BCP 47 tag for the content.
	Language string
	// Mentions are delivered to individually and added as Mention tags.
	Mentions []*ap.Actor
	// Attachments are copied onto the object verbatim.
	Attachments []ap.Attachment
	// Poll turns the object into a Question.
	Poll *PollOptions

	replyTarget *Message
}

// Publish renders text into a new Note (or Question), persists its Create
// envelope, and delivers it according to its visibility: public, unlisted,
// and followers posts go to the follower collection via shared inboxes;
// mentioned actors are always delivered to individually; direct posts reach
// mentioned actors only.
func (s *Session) Publish(ctx context.Context, text string, opts PublishOptions) (*AuthorizedMessage, error) {
	if text == "" {
		return nil, fmt.Errorf("message content is required: %w", fediboterrors.ErrInvalidInput)
	}
	vis := opts.Visibility
	if vis == "" {
		vis = visibility.Public
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()

	mentionIDs := make([]string, 0, len(opts.Mentions))
	tags := make([]ap.Tag, 0, len(opts.Mentions))
	cached := make(map[string]*ap.Actor, len(opts.Mentions))
	for _, actor := range opts.Mentions {
		mentionIDs = append(mentionIDs, actor.ID)
		name := actor.PreferredUsername
		if name != "" {
			name = "@" + name
		}
		tags = append(tags, ap.Tag{Type: ap.TagMention, Href: actor.ID, Name: name})
		cached[actor.ID] = actor
	}

	to, cc := s.audience(vis, mentionIDs)

	objClass := ap.TypeNote
	if opts.Poll != nil {
		objClass = ap.TypeQuestion
	}
	obj := &ap.Object{
		ID:           s.engine.ObjectURI(s.bot.identifier, objClass, id),
		Type:         objClass,
		AttributedTo: s.bot.ActorURI(),
		Content:      renderHTML(text),
		Published:    &now,
		To:           to,
		CC:           cc,
		Tag:          tags,
		Attachment:   opts.Attachments,
	}
	if opts.Language != "" {
		obj.ContentMap = map[string]string{opts.Language: obj.Content}
	}
	if opts.replyTarget != nil {
		obj.InReplyTo = opts.replyTarget.ID
	}
	if opts.Poll != nil {
		if len(opts.Poll.Options) < 2 {
			return nil, fmt.Errorf("a poll needs at least two options: %w", fediboterrors.ErrInvalidInput)
		}
		end := opts.Poll.EndTime
		obj.EndTime = &end
		for _, option := range opts.Poll.Options {
			obj.OneOf = append(obj.OneOf, ap.QuestionOption{
				Type:    ap.TypeNote,
				Name:    option,
				Replies: &ap.Collection{Type: "Collection", TotalItems: 0},
			})
		}
	}

	create := &ap.Activity{
		Context:   ap.ActivityStreamsContext,
		ID:        s.engine.ObjectURI(s.bot.identifier, ap.TypeCreate, id),
		Type:      ap.TypeCreate,
		Actor:     s.bot.ActorURI(),
		To:        to,
		CC:        cc,
		Published: &now,
		Tag:       tags,
	}
	if err := create.EmbedObject(obj); err != nil {
		return nil, err
	}

	if err := s.repo.AddMessage(ctx, id, create); err != nil {
		return nil, err
	}
	if err := s.deliver(ctx, vis, create, mentionIDs); err != nil {
		return nil, err
	}

	msg, err := s.materialize(ctx, obj, cached, opts.replyTarget, false)
	if err != nil {
		return nil, err
	}
	return &AuthorizedMessage{Message: msg}, nil
}

// audience computes to/cc for a given visibility, mirroring how the
// classifier reads them back: the public collection in to means public, in
// cc means unlisted.
func (s *Session) audience(vis visibility.Visibility, mentionIDs []string) (to, cc []string) {
	followers := s.engine.FollowersURI(s.bot.identifier)
	switch vis {
	case visibility.Public:
		to = append([]string{ap.PublicCollection}, mentionIDs...)
		cc = []string{followers}
	case visibility.Unlisted:
		to = append([]string{followers}, mentionIDs...)
		cc = []string{ap.PublicCollection}
	case visibility.Followers:
		to = append([]string{followers}, mentionIDs...)
	default:
		to = append([]string(nil), mentionIDs...)
	}
	return to, cc
}

// deliver sends an activity to the follower collection (unless direct) and
// individually to the given actors. The two sends are independent; a failure
// of the second does not undo the first.
func (s *Session) deliver(ctx context.Context, vis visibility.Visibility, activity *ap.Activity, actorIDs []string) error {
	if vis == visibility.Public || vis == visibility.Unlisted || vis == visibility.Followers {
		err := s.engine.SendActivity(ctx, s.bot.identifier, federation.ToFollowers(), activity, federation.SendOptions{
			PreferSharedInbox: true,
		})
		if err != nil {
			return err
		}
	}
	if len(actorIDs) > 0 {
		return s.engine.SendActivity(ctx, s.bot.identifier, federation.ToActors(actorIDs...), activity, federation.SendOptions{})
	}
	return nil
}

// dualDeliver implements the share/like/react delivery pattern: one send to
// the follower collection and one to the content's original author. Both
// carry the identical activity; partial failure is not rolled back.
func (s *Session) dualDeliver(ctx context.Context, activity *ap.Activity, authorID string) error {
	err := s.engine.SendActivity(ctx, s.bot.identifier, federation.ToFollowers(), activity, federation.SendOptions{
		PreferSharedInbox: true,
	})
	if err != nil {
		return err
	}
	return s.engine.SendActivity(ctx, s.bot.identifier, federation.ToActors(authorID), activity, federation.SendOptions{})
}

// deliverToAudience re-delivers an activity to the audience recorded in its
// own to/cc: the follower collection when addressed, and every individual
// actor URI listed.
func (s *Session) deliverToAudience(ctx context.Context, activity *ap.Activity) error {
	followersURI := s.engine.FollowersURI(s.bot.identifier)
	toFollowers := false
	var individuals []string
	for _, uri := range append(append([]string(nil), activity.To...), activity.CC...) {
		switch uri {
		case ap.PublicCollection:
			toFollowers = true
		case followersURI:
			toFollowers = true
		default:
			individuals = append(individuals, uri)
		}
	}
	if toFollowers {
		err := s.engine.SendActivity(ctx, s.bot.identifier, federation.ToFollowers(), activity, federation.SendOptions{
			PreferSharedInbox: true,
		})
		if err != nil {
			return err
		}
	}
	if len(individuals) > 0 {
		return s.engine.SendActivity(ctx, s.bot.identifier, federation.ToActors(individuals...), activity, federation.SendOptions{})
	}
	return nil
}

// Follow sends a follow request to the given actor and records it as
// pending until the peer's Accept or Reject arrives.
func (s *Session) Follow(ctx context.Context, actorID string) error {
	if actorID == s.bot.ActorURI() {
		return fmt.Errorf("cannot follow self: %w", fediboterrors.ErrInvalidInput)
	}
	id, err := uuid.NewV7()
	if err != nil {
		return err
	}
	follow := &ap.Activity{
		Context: ap.ActivityStreamsContext,
		ID:      s.engine.ObjectURI(s.bot.identifier, ap.TypeFollow, id),
		Type:    ap.TypeFollow,
		Actor:   s.bot.ActorURI(),
		To:      []string{actorID},
	}
	follow.RefObject(actorID)
	if err := s.repo.AddSentFollow(ctx, id, actorID); err != nil {
		return err
	}
	return s.engine.SendActivity(ctx, s.bot.identifier, federation.ToActors(actorID), follow, federation.SendOptions{})
}

// Unfollow undoes an accepted follow, correlating the Undo with the
// originally sent Follow activity.
func (s *Session) Unfollow(ctx context.Context, actorID string) error {
	follow, err := s.repo.GetFollowee(ctx, actorID)
	if err != nil {
		return err
	}
	undo := &ap.Activity{
		Context: ap.ActivityStreamsContext,
		ID:      follow.ID + "#undo",
		Type:    ap.TypeUndo,
		Actor:   s.bot.ActorURI(),
		To:      []string{actorID},
	}
	if err := undo.EmbedObject(follow); err != nil {
		return err
	}
	if err := s.engine.SendActivity(ctx, s.bot.identifier, federation.ToActors(actorID), undo, federation.SendOptions{}); err != nil {
		return err
	}
	return s.repo.RemoveFollowee(ctx, actorID)
}

// resolveActor fetches an actor document, short-circuiting to the memoized
// self actor for the bot's own URI. Lookup failures are suppressed: the
// result is nil, never an error.
func (s *Session) resolveActor(ctx context.Context, actorID string) *ap.Actor {
	if actorID == "" {
		return nil
	}
	if actorID == s.bot.ActorURI() {
		return s.bot.Self()
	}
	raw, err := s.engine.LookupObject(ctx, actorID, federation.LookupOptions{SuppressError: true})
	if err != nil || raw == nil {
		return nil
	}
	var actor ap.Actor
	if err := json.Unmarshal(raw, &actor); err != nil || actor.ID == "" {
		return nil
	}
	return &actor
}

// resolveObject fetches a content object, dispatching locally when the URI
// is hosted by this system and falling back to a suppressed remote lookup.
func (s *Session) resolveObject(ctx context.Context, uri string) *ap.Object {
	if uri == "" {
		return nil
	}
	if parsed := s.engine.ParseURI(uri); parsed != nil {
		if parsed.Type != federation.URIObject {
			return nil
		}
		stored, err := s.repo.GetMessage(ctx, parsed.ID)
		if err != nil {
			return nil
		}
		var obj ap.Object
		if err := stored.UnmarshalObject(&obj); err != nil || obj.ID == "" {
			return nil
		}
		return &obj
	}
	raw, err := s.engine.LookupObject(ctx, uri, federation.LookupOptions{SuppressError: true})
	if err != nil || raw == nil {
		return nil
	}
	var obj ap.Object
	if err := json.Unmarshal(raw, &obj); err != nil || obj.ID == "" {
		return nil
	}
	return &obj
}

// baseURI returns the scheme://host origin of a URI, used to keep forwarded
// activities from looping back to their origin.
func baseURI(uri string) string {
	u, err := url.Parse(uri)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}

// storageID reverses a locally hosted object URI of the given class back to
// its repository id.
func (s *Session) storageID(uri string, classes ...string) (uuid.UUID, bool) {
	parsed := s.engine.ParseURI(uri)
	if parsed == nil || parsed.Type != federation.URIObject {
		return uuid.UUID{}, false
	}
	for _, class := range classes {
		if parsed.Class == class {
			return parsed.ID, true
		}
	}
	return uuid.UUID{}, false
}
