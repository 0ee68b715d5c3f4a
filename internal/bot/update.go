package bot

import (
	"context"
	"time"

	"fedibot/internal/ap"
	"fedibot/internal/federation"
	"fedibot/internal/visibility"
)

// Update rewrites the message's content in place. The stored Create envelope
// is rewritten atomically (the mutator sees the currently stored value, so
// concurrent updates cannot be lost), then an Update activity is delivered
// to the follower collection and to the union of previously and newly
// mentioned actors. Direct messages skip the followers broadcast. Updating a
// message that is no longer stored, or whose URI does not reverse to a
// recognized message class, is a no-op.
func (m *AuthorizedMessage) Update(ctx context.Context, text string, mentions ...*ap.Actor) error {
	s := m.session
	id, ok := s.storageID(m.ID, ap.TypeNote, ap.TypeQuestion)
	if !ok {
		return nil
	}

	newHTML := renderHTML(text)
	now := time.Now().UTC()
	newMentionIDs := make([]string, 0, len(mentions))
	newTags := make([]ap.Tag, 0, len(mentions))
	for _, actor := range mentions {
		newMentionIDs = append(newMentionIDs, actor.ID)
		name := actor.PreferredUsername
		if name != "" {
			name = "@" + name
		}
		newTags = append(newTags, ap.Tag{Type: ap.TagMention, Href: actor.ID, Name: name})
	}

	var updatedObj ap.Object
	var mergedTo, mergedCC []string
	found, err := s.repo.UpdateMessage(ctx, id, func(current *ap.Activity) (*ap.Activity, error) {
		var obj ap.Object
		if err := current.UnmarshalObject(&obj); err != nil {
			return nil, err
		}
		obj.Content = newHTML
		obj.Updated = &now
		if obj.ContentMap != nil {
			for lang := range obj.ContentMap {
				obj.ContentMap[lang] = newHTML
			}
		}
		obj.Tag = mergeTags(obj.Tag, newTags)
		// Recipients grow, never shrink: previously addressed actors
		// still receive the edit. Published stays untouched.
		obj.To = union(obj.To, newMentionIDs)
		current.To = union(current.To, newMentionIDs)
		if err := current.EmbedObject(&obj); err != nil {
			return nil, err
		}
		updatedObj = obj
		mergedTo = current.To
		mergedCC = current.CC
		return current, nil
	})
	if err != nil || !found {
		return err
	}

	update := &ap.Activity{
		Context:   ap.ActivityStreamsContext,
		ID:        m.ID + "#updates/" + now.UTC().Format("20060102T150405Z"),
		Type:      ap.TypeUpdate,
		Actor:     s.bot.ActorURI(),
		To:        mergedTo,
		CC:        mergedCC,
		Published: &now,
	}
	if err := update.EmbedObject(&updatedObj); err != nil {
		return err
	}

	recipients := individualRecipients(mergedTo, mergedCC, s.engine.FollowersURI(s.bot.identifier))
	if m.Visibility != visibility.Direct && m.Visibility != visibility.Unknown {
		err := s.engine.SendActivity(ctx, s.bot.identifier, federation.ToFollowers(), update, federation.SendOptions{
			PreferSharedInbox: true,
		})
		if err != nil {
			return err
		}
	}
	if len(recipients) > 0 {
		err := s.engine.SendActivity(ctx, s.bot.identifier, federation.ToActors(recipients...), update, federation.SendOptions{})
		if err != nil {
			return err
		}
	}

	m.Raw = &updatedObj
	m.HTML = sanitizeHTML(newHTML)
	m.Text = plainText(newHTML)
	m.Updated = &now
	for _, actor := range mentions {
		m.Mentions = appendActor(m.Mentions, actor)
	}
	return nil
}

// Delete removes the message from storage (a no-op when already absent) and
// delivers a Delete carrying a Tombstone to the follower collection and to
// every actor mentioned in the deleted content.
func (m *AuthorizedMessage) Delete(ctx context.Context) error {
	s := m.session
	id, ok := s.storageID(m.ID, ap.TypeNote, ap.TypeQuestion)
	if !ok {
		return nil
	}
	if err := s.repo.RemoveMessage(ctx, id); err != nil {
		return err
	}

	del := &ap.Activity{
		Context: ap.ActivityStreamsContext,
		ID:      m.ID + "#delete",
		Type:    ap.TypeDelete,
		Actor:   s.bot.ActorURI(),
		To:      m.Raw.To,
		CC:      m.Raw.CC,
	}
	if err := del.EmbedObject(&ap.Tombstone{ID: m.ID, Type: "Tombstone", FormerType: m.Raw.Type}); err != nil {
		return err
	}

	if m.Visibility != visibility.Direct && m.Visibility != visibility.Unknown {
		err := s.engine.SendActivity(ctx, s.bot.identifier, federation.ToFollowers(), del, federation.SendOptions{
			PreferSharedInbox: true,
		})
		if err != nil {
			return err
		}
	}
	if len(m.Mentions) > 0 {
		ids := make([]string, 0, len(m.Mentions))
		for _, actor := range m.Mentions {
			ids = append(ids, actor.ID)
		}
		return s.engine.SendActivity(ctx, s.bot.identifier, federation.ToActors(ids...), del, federation.SendOptions{})
	}
	return nil
}

// union appends the members of extra not already present in base.
func union(base, extra []string) []string {
	for _, v := range extra {
		present := false
		for _, b := range base {
			if b == v {
				present = true
				break
			}
		}
		if !present {
			base = append(base, v)
		}
	}
	return base
}

// mergeTags appends new tags, replacing none; duplicate mention hrefs are
// collapsed.
func mergeTags(base, extra []ap.Tag) []ap.Tag {
	for _, tag := range extra {
		present := false
		for _, b := range base {
			if b.Type == tag.Type && b.Href == tag.Href {
				present = true
				break
			}
		}
		if !present {
			base = append(base, tag)
		}
	}
	return base
}

func appendActor(actors []*ap.Actor, actor *ap.Actor) []*ap.Actor {
	for _, a := range actors {
		if a.ID == actor.ID {
			return actors
		}
	}
	return append(actors, actor)
}

// individualRecipients filters collection URIs out of an audience, leaving
// only individually addressable actors.
func individualRecipients(to, cc []string, followersURI string) []string {
	var out []string
	for _, uri := range append(append([]string(nil), to...), cc...) {
		if uri == ap.PublicCollection || uri == followersURI {
			continue
		}
		out = union(out, []string{uri})
	}
	return out
}
