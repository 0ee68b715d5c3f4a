package bot

import (
	"context"
	"fmt"
	"time"

	"fedibot/internal/ap"
	"fedibot/internal/visibility"
	fediboterrors "fedibot/pkg/errors"
)

// Message is a fully resolved view of a federated content object: author,
// audience class, sanitized text and HTML, mentions, hashtags, attachments,
// and the replied-to message when resolvable.
type Message struct {
	session *Session

	// ID is the object's URI.
	ID string
	// Raw is the object the message was materialized from.
	Raw *ap.Object
	// Actor is the resolved author.
	Actor      *ap.Actor
	Visibility visibility.Visibility
	// Language is the content's language tag, when the object carries one.
	Language string
	// Text is the content with all markup stripped.
	Text string
	// HTML is the content reduced to the allowed tag set.
	HTML string
	// ReplyTarget is the message this one replies to, resolved one level
	// deep. Deeper chains are resolved by chaining materializations.
	ReplyTarget *Message
	Mentions    []*ap.Actor
	Hashtags    []ap.Tag
	Attachments []ap.Attachment
	Published   *time.Time
	Updated     *time.Time
}

// AuthorizedMessage is a message owned by the bot; it additionally supports
// Update and Delete.
type AuthorizedMessage struct {
	*Message
}

// materialize reconstructs a Message from a raw federated object. cached
// supplies already-resolved actors so mention resolution can skip network
// round-trips; replyTarget, when non-nil, overrides inReplyTo resolution;
// resolveReply bounds reply-chain recursion to a single level.
//
// Construction fails when the object has no id, no content, or when its
// attribution cannot be resolved. Broken mention targets are omitted rather
// than failing the whole materialization.
func (s *Session) materialize(ctx context.Context, raw *ap.Object, cached map[string]*ap.Actor, replyTarget *Message, resolveReply bool) (*Message, error) {
	if raw.ID == "" {
		return nil, fmt.Errorf("message object has no id: %w", fediboterrors.ErrInvalidInput)
	}
	if raw.Content == "" {
		return nil, fmt.Errorf("message object has no content: %w", fediboterrors.ErrInvalidInput)
	}
	if raw.AttributedTo == "" {
		return nil, fmt.Errorf("message object has no attribution: %w", fediboterrors.ErrInvalidInput)
	}

	author := cached[raw.AttributedTo]
	if author == nil {
		author = s.resolveActor(ctx, raw.AttributedTo)
	}
	if author == nil {
		return nil, fmt.Errorf("failed to resolve attribution %s: %w", raw.AttributedTo, fediboterrors.ErrInvalidInput)
	}

	msg := &Message{
		session:     s,
		ID:          raw.ID,
		Raw:         raw,
		Actor:       author,
		Text:        plainText(raw.Content),
		HTML:        sanitizeHTML(raw.Content),
		Attachments: raw.Attachment,
		Published:   raw.Published,
		Updated:     raw.Updated,
	}
	if len(raw.ContentMap) == 1 {
		for lang := range raw.ContentMap {
			msg.Language = lang
		}
	}

	mentioned := make(map[string]bool)
	for _, tag := range raw.Tag {
		switch tag.Type {
		case ap.TagMention:
			if tag.Href == "" {
				continue
			}
			actor := cached[tag.Href]
			if actor == nil {
				actor = s.resolveActor(ctx, tag.Href)
			}
			if actor == nil {
				// A broken mention never fails the message.
				continue
			}
			msg.Mentions = append(msg.Mentions, actor)
			mentioned[tag.Href] = true
			mentioned[actor.ID] = true
		case ap.TagHashtag:
			msg.Hashtags = append(msg.Hashtags, tag)
		}
	}

	if replyTarget != nil {
		msg.ReplyTarget = replyTarget
	} else if resolveReply && raw.InReplyTo != "" {
		if parent := s.resolveObject(ctx, raw.InReplyTo); parent != nil {
			// One level only; failures leave ReplyTarget nil.
			if parentMsg, err := s.materialize(ctx, parent, cached, nil, false); err == nil {
				msg.ReplyTarget = parentMsg
			}
		}
	}

	msg.Visibility = visibility.Classify(raw.To, raw.CC, author, mentioned)
	return msg, nil
}

// Reply publishes a response to this message. Visibility is inherited from
// the replied-to message unless overridden; an unknown visibility falls back
// to direct.
func (m *Message) Reply(ctx context.Context, text string, opts PublishOptions) (*AuthorizedMessage, error) {
	if opts.Visibility == "" {
		opts.Visibility = m.Visibility
		if opts.Visibility == visibility.Unknown {
			opts.Visibility = visibility.Direct
		}
	}
	opts.replyTarget = m
	return m.session.Publish(ctx, text, opts)
}
