package bot

import (
	"context"
	"errors"
	"time"

	"fedibot/internal/ap"
	"fedibot/internal/federation"
	"fedibot/internal/visibility"
	fediboterrors "fedibot/pkg/errors"
)

// HandleInbound is the inbox entry point: the federation engine invokes it
// with each verified inbound activity. Dispatch is a closed switch over the
// activity kinds the bot understands; everything else is logged and dropped.
// Handler errors propagate to the engine, which owns retry policy; malformed
// federated content is dropped here, not re-thrown.
func (b *Bot) HandleInbound(ctx context.Context, activity *ap.Activity) error {
	if b.limiter != nil {
		if origin := baseURI(activity.Actor); origin != "" {
			res, err := b.limiter.AllowInbound(ctx, origin)
			if err != nil {
				// Limiter outages fail open.
				b.log.Errorf("inbound rate limit check for %s failed: %v", origin, err)
			} else if !res.Allowed {
				b.log.Warnf("dropping inbound activity %s: origin %s over rate limit", activity.ID, origin)
				return nil
			}
		}
	}
	s := b.Session()
	switch activity.Type {
	case ap.TypeFollow:
		return s.handleFollow(ctx, activity)
	case ap.TypeUndo:
		return s.handleUndo(ctx, activity)
	case ap.TypeAccept:
		return s.handleFollowResponse(ctx, activity, true)
	case ap.TypeReject:
		return s.handleFollowResponse(ctx, activity, false)
	case ap.TypeCreate:
		return s.handleCreate(ctx, activity)
	case ap.TypeAnnounce:
		return s.handleAnnounce(ctx, activity)
	case ap.TypeLike, ap.TypeEmojiReact:
		return s.handleLike(ctx, activity)
	default:
		b.log.Debugf("dropping unhandled inbound activity type %s (%s)", activity.Type, activity.ID)
		return nil
	}
}

func (s *Session) handleFollow(ctx context.Context, activity *ap.Activity) error {
	b := s.bot
	if activity.ObjectID() != b.ActorURI() {
		b.log.Debugf("dropping follow not addressed to this bot: %s", activity.ID)
		return nil
	}
	if activity.Actor == "" || activity.Actor == b.ActorURI() {
		b.log.Debugf("dropping self-follow: %s", activity.ID)
		return nil
	}
	follower := s.resolveActor(ctx, activity.Actor)
	if follower == nil {
		b.log.Warnf("could not resolve follower %s, dropping follow", activity.Actor)
		return nil
	}

	request := newFollowRequest(s, activity, follower)
	if b.handlers.Follow != nil {
		if err := b.handlers.Follow(ctx, s, request); err != nil {
			return err
		}
	}
	if request.state != FollowPending {
		return nil
	}
	switch b.policy {
	case PolicyReject:
		return request.Reject(ctx)
	case PolicyManual:
		return nil
	default:
		return request.Accept(ctx)
	}
}

func (s *Session) handleUndo(ctx context.Context, activity *ap.Activity) error {
	b := s.bot
	var undone ap.Activity
	if err := activity.UnmarshalObject(&undone); err != nil || undone.Type == "" {
		b.log.Debugf("dropping undo with opaque object: %s", activity.ID)
		return nil
	}
	switch undone.Type {
	case ap.TypeFollow:
		return s.handleUnfollow(ctx, activity)
	case ap.TypeLike:
		return s.handleUndoEngagement(ctx, activity, &undone, false)
	case ap.TypeEmojiReact:
		return s.handleUndoEngagement(ctx, activity, &undone, true)
	default:
		b.log.Debugf("dropping undo of unhandled type %s: %s", undone.Type, activity.ID)
		return nil
	}
}

func (s *Session) handleUnfollow(ctx context.Context, activity *ap.Activity) error {
	b := s.bot
	// The undo actor must match the stored follower record.
	removed, err := s.repo.RemoveFollower(ctx, activity.Actor)
	if errors.Is(err, fediboterrors.ErrNotFound) {
		b.log.Debugf("undo follow from non-follower %s, dropping", activity.Actor)
		return nil
	}
	if err != nil {
		return err
	}
	if b.handlers.Unfollow != nil {
		return b.handlers.Unfollow(ctx, s, removed)
	}
	return nil
}

func (s *Session) handleUndoEngagement(ctx context.Context, activity *ap.Activity, undone *ap.Activity, react bool) error {
	b := s.bot
	if react && b.handlers.Unreact == nil {
		return nil
	}
	if !react && b.handlers.Unlike == nil {
		return nil
	}
	msg := s.resolveMessage(ctx, undone.ObjectID())
	if msg == nil {
		b.log.Debugf("undo %s targets unresolvable message %s, dropping", undone.Type, undone.ObjectID())
		return nil
	}
	actor := s.resolveActor(ctx, activity.Actor)
	if actor == nil {
		return nil
	}
	if react {
		emoji, ok := parseReaction(undone.Name, undone.Tag)
		if !ok {
			return nil
		}
		return b.handlers.Unreact(ctx, s, &Reaction{
			session: s, ID: undone.ID, Actor: actor, Message: msg, Emoji: emoji, raw: undone,
		})
	}
	return b.handlers.Unlike(ctx, s, &Like{
		session: s, ID: undone.ID, Actor: actor, Message: msg, raw: undone,
	})
}

// handleFollowResponse processes the Accept or Reject of a follow this bot
// previously sent. A response from an actor other than the follow's target
// is silently ignored so peers cannot spoof follow confirmations.
func (s *Session) handleFollowResponse(ctx context.Context, activity *ap.Activity, accepted bool) error {
	b := s.bot
	followURI := activity.ObjectID()
	id, ok := s.storageID(followURI, ap.TypeFollow)
	if !ok {
		b.log.Debugf("dropping follow response for foreign follow %s", followURI)
		return nil
	}
	followeeID, err := s.repo.GetSentFollow(ctx, id)
	if errors.Is(err, fediboterrors.ErrNotFound) {
		b.log.Debugf("dropping follow response for unknown follow %s", followURI)
		return nil
	}
	if err != nil {
		return err
	}
	if activity.Actor != followeeID {
		return nil
	}

	followee := s.resolveActor(ctx, followeeID)
	if !accepted {
		if err := s.repo.RemoveSentFollow(ctx, id); err != nil {
			return err
		}
		if b.handlers.RejectFollow != nil && followee != nil {
			return b.handlers.RejectFollow(ctx, s, followee)
		}
		return nil
	}

	follow := &ap.Activity{
		Context: ap.ActivityStreamsContext,
		ID:      followURI,
		Type:    ap.TypeFollow,
		Actor:   b.ActorURI(),
		To:      []string{followeeID},
	}
	follow.RefObject(followeeID)
	if err := s.repo.AddFollowee(ctx, followeeID, follow); err != nil && !errors.Is(err, fediboterrors.ErrAlreadyExists) {
		return err
	}
	if err := s.repo.RemoveSentFollow(ctx, id); err != nil {
		return err
	}
	if b.handlers.AcceptFollow != nil && followee != nil {
		return b.handlers.AcceptFollow(ctx, s, followee)
	}
	return nil
}

func (s *Session) handleCreate(ctx context.Context, activity *ap.Activity) error {
	b := s.bot
	var obj ap.Object
	if err := activity.UnmarshalObject(&obj); err != nil || !obj.IsMessage() {
		b.log.Debugf("dropping create of non-message object: %s", activity.ID)
		return nil
	}

	// Poll votes are checked first and return early: a vote reply never
	// also fires reply/mention/message handlers.
	if handled, err := s.handlePollVote(ctx, &obj); handled || err != nil {
		return err
	}

	msg, err := s.materialize(ctx, &obj, nil, nil, true)
	if err != nil {
		// Federated peers routinely send malformed or
		// partially-resolvable objects; drop, don't re-throw.
		b.log.Debugf("dropping unmaterializable inbound message %s: %v", obj.ID, err)
		return nil
	}

	// A note can both reply to and quote local content; followers get the
	// forwarded activity once.
	forwarded := false
	if obj.InReplyTo != "" {
		if _, local := s.storageID(obj.InReplyTo, ap.TypeNote, ap.TypeQuestion); local {
			if err := s.forwardToFollowers(ctx, activity, msg.Visibility); err != nil {
				return err
			}
			forwarded = true
			if b.handlers.Reply != nil {
				if err := b.handlers.Reply(ctx, s, msg); err != nil {
					return err
				}
			}
		}
	}

	if obj.QuoteURL != "" {
		if _, local := s.storageID(obj.QuoteURL, ap.TypeNote, ap.TypeQuestion); local {
			if !forwarded {
				if err := s.forwardToFollowers(ctx, activity, msg.Visibility); err != nil {
					return err
				}
			}
			if b.handlers.Quote != nil {
				if err := b.handlers.Quote(ctx, s, msg); err != nil {
					return err
				}
			}
		}
	}

	if b.handlers.Mention != nil {
		for _, tag := range obj.Tag {
			if tag.Type == ap.TagMention && tag.Href == b.ActorURI() {
				if err := b.handlers.Mention(ctx, s, msg); err != nil {
					return err
				}
				break
			}
		}
	}

	if b.handlers.Message != nil {
		return b.handlers.Message(ctx, s, msg)
	}
	return nil
}

// handlePollVote records a vote reply to a poll this bot authored: the vote
// is counted once per (voter, option), the stored poll is rewritten with
// fresh tallies, the vote handler fires, and an Update of the poll goes back
// out to its original audience.
func (s *Session) handlePollVote(ctx context.Context, obj *ap.Object) (bool, error) {
	b := s.bot
	if obj.InReplyTo == "" || obj.Name == "" {
		return false, nil
	}
	pollID, ok := s.storageID(obj.InReplyTo, ap.TypeQuestion)
	if !ok {
		return false, nil
	}
	stored, err := s.repo.GetMessage(ctx, pollID)
	if errors.Is(err, fediboterrors.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	var poll ap.Object
	if err := stored.UnmarshalObject(&poll); err != nil || poll.Type != ap.TypeQuestion {
		return false, nil
	}
	option := ""
	for _, candidate := range poll.OneOf {
		if candidate.Name == obj.Name {
			option = candidate.Name
			break
		}
	}
	if option == "" {
		return false, nil
	}
	if poll.EndTime != nil && time.Now().After(*poll.EndTime) {
		b.log.Debugf("dropping vote on closed poll %s", poll.ID)
		return true, nil
	}
	if obj.AttributedTo == "" {
		return true, nil
	}

	err = s.repo.AddVote(ctx, pollID, obj.AttributedTo, option)
	if errors.Is(err, fediboterrors.ErrAlreadyExists) {
		return true, nil
	}
	if err != nil {
		return true, err
	}

	voters, err := s.repo.CountVoters(ctx, pollID)
	if err != nil {
		return true, err
	}
	tallies := make(map[string]int, len(poll.OneOf))
	for _, candidate := range poll.OneOf {
		n, err := s.repo.CountVotes(ctx, pollID, candidate.Name)
		if err != nil {
			return true, err
		}
		tallies[candidate.Name] = n
	}

	now := time.Now().UTC()
	var updated ap.Object
	found, err := s.repo.UpdateMessage(ctx, pollID, func(current *ap.Activity) (*ap.Activity, error) {
		var q ap.Object
		if err := current.UnmarshalObject(&q); err != nil {
			return nil, err
		}
		for i := range q.OneOf {
			q.OneOf[i].Replies = &ap.Collection{Type: "Collection", TotalItems: tallies[q.OneOf[i].Name]}
		}
		q.VotersCount = voters
		q.Updated = &now
		if err := current.EmbedObject(&q); err != nil {
			return nil, err
		}
		updated = q
		return current, nil
	})
	if err != nil || !found {
		return true, err
	}

	if b.handlers.Vote != nil {
		voter := s.resolveActor(ctx, obj.AttributedTo)
		pollMsg, merr := s.materialize(ctx, &updated, nil, nil, false)
		if voter != nil && merr == nil {
			if err := b.handlers.Vote(ctx, s, &Vote{Actor: voter, Message: pollMsg, Option: option}); err != nil {
				return true, err
			}
		}
	}

	update := &ap.Activity{
		Context:   ap.ActivityStreamsContext,
		ID:        updated.ID + "#updates/" + now.Format("20060102T150405Z"),
		Type:      ap.TypeUpdate,
		Actor:     b.ActorURI(),
		To:        updated.To,
		CC:        updated.CC,
		Published: &now,
	}
	if err := update.EmbedObject(&updated); err != nil {
		return true, err
	}
	return true, s.deliverToAudience(ctx, update)
}

// forwardToFollowers relays an inbound activity about the bot's own content
// to the bot's followers, so they see replies and quotes to it. Only public
// and unlisted content is forwarded.
func (s *Session) forwardToFollowers(ctx context.Context, activity *ap.Activity, vis visibility.Visibility) error {
	if vis != visibility.Public && vis != visibility.Unlisted {
		return nil
	}
	opts := federation.SendOptions{
		PreferSharedInbox: true,
		SkipIfUnsigned:    true,
	}
	if origin := baseURI(activity.ID); origin != "" {
		opts.ExcludeBaseURIs = []string{origin}
	}
	return s.engine.SendActivity(ctx, s.bot.identifier, federation.ToFollowers(), activity, opts)
}

func (s *Session) handleAnnounce(ctx context.Context, activity *ap.Activity) error {
	b := s.bot
	if b.handlers.SharedMessage == nil {
		return nil
	}
	obj := s.resolveObject(ctx, activity.ObjectID())
	if obj == nil {
		b.log.Debugf("dropping announce of unresolvable object %s", activity.ObjectID())
		return nil
	}
	msg, err := s.materialize(ctx, obj, nil, nil, false)
	if err != nil {
		b.log.Debugf("dropping announce of unmaterializable object %s: %v", obj.ID, err)
		return nil
	}
	sharer := s.resolveActor(ctx, activity.Actor)
	if sharer == nil {
		return nil
	}
	shared := &SharedMessage{
		session:    s,
		ID:         activity.ID,
		Actor:      sharer,
		Visibility: visibility.Classify(activity.To, activity.CC, sharer, nil),
		Original:   msg,
		raw:        activity,
	}
	return b.handlers.SharedMessage(ctx, s, shared)
}

func (s *Session) handleLike(ctx context.Context, activity *ap.Activity) error {
	b := s.bot
	emoji, isReaction := parseReaction(activity.Name, activity.Tag)
	if isReaction && b.handlers.React == nil {
		return nil
	}
	if !isReaction && b.handlers.Like == nil {
		return nil
	}
	msg := s.resolveMessage(ctx, activity.ObjectID())
	if msg == nil {
		b.log.Debugf("dropping %s of unresolvable message %s", activity.Type, activity.ObjectID())
		return nil
	}
	actor := s.resolveActor(ctx, activity.Actor)
	if actor == nil {
		return nil
	}
	if isReaction {
		return b.handlers.React(ctx, s, &Reaction{
			session: s, ID: activity.ID, Actor: actor, Message: msg, Emoji: emoji, raw: activity,
		})
	}
	return b.handlers.Like(ctx, s, &Like{
		session: s, ID: activity.ID, Actor: actor, Message: msg, raw: activity,
	})
}

// resolveMessage materializes the message behind a URI, local-first.
func (s *Session) resolveMessage(ctx context.Context, uri string) *Message {
	obj := s.resolveObject(ctx, uri)
	if obj == nil {
		return nil
	}
	msg, err := s.materialize(ctx, obj, nil, nil, false)
	if err != nil {
		return nil
	}
	return msg
}
