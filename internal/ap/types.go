// Package ap holds the raw ActivityPub vocabulary consumed and produced by
// the bot core. Field names follow the ActivityStreams JSON vocabulary; full
// JSON-LD handling (contexts, signatures, document loading) is the federation
// engine's responsibility, not this package's.
package ap

import (
	"encoding/json"
	"time"
)

// PublicCollection is the well-known "as:Public" audience URI.
const PublicCollection = "https://www.w3.org/ns/activitystreams#Public"

// ActivityStreamsContext is the default @context for outbound activities.
const ActivityStreamsContext = "https://www.w3.org/ns/activitystreams"

// Actor represents an ActivityPub actor (Person, Service, Application...).
type Actor struct {
	Context           any               `json:"@context,omitempty"`
	ID                string            `json:"id"`
	Type              string            `json:"type"`
	PreferredUsername string            `json:"preferredUsername,omitempty"`
	Name              string            `json:"name,omitempty"`
	Summary           string            `json:"summary,omitempty"`
	Inbox             string            `json:"inbox,omitempty"`
	Outbox            string            `json:"outbox,omitempty"`
	Followers         string            `json:"followers,omitempty"`
	Following         string            `json:"following,omitempty"`
	URL               string            `json:"url,omitempty"`
	Endpoints         map[string]string `json:"endpoints,omitempty"`
}

// SharedInbox returns the actor's shared inbox endpoint, if published.
func (a *Actor) SharedInbox() string {
	if a == nil || a.Endpoints == nil {
		return ""
	}
	return a.Endpoints["sharedInbox"]
}

// Tag types used in object tag lists.
const (
	TagMention = "Mention"
	TagHashtag = "Hashtag"
	TagEmoji   = "Emoji"
)

// Tag is a Mention, Hashtag, or custom Emoji entry in an object's tag list.
type Tag struct {
	Type string `json:"type"`
	Href string `json:"href,omitempty"`
	Name string `json:"name,omitempty"`
	Icon *Image `json:"icon,omitempty"`
}

// Image is the icon of a custom emoji tag.
type Image struct {
	Type      string `json:"type"`
	MediaType string `json:"mediaType,omitempty"`
	URL       string `json:"url,omitempty"`
}

// Attachment is a Document attached to an object.
type Attachment struct {
	Type      string `json:"type"`
	MediaType string `json:"mediaType,omitempty"`
	URL       string `json:"url,omitempty"`
	Name      string `json:"name,omitempty"`
}

// Collection is the minimal collection shape used for poll option tallies.
type Collection struct {
	Type       string `json:"type"`
	TotalItems int    `json:"totalItems"`
}

// QuestionOption is one selectable option of a Question (poll).
type QuestionOption struct {
	Type    string      `json:"type"`
	Name    string      `json:"name"`
	Replies *Collection `json:"replies,omitempty"`
}

// Object types recognized as messages by the bot core.
const (
	TypeNote     = "Note"
	TypeArticle  = "Article"
	TypeQuestion = "Question"
)

// Object represents a content object: a Note, Article, or Question.
type Object struct {
	Context      any              `json:"@context,omitempty"`
	ID           string           `json:"id"`
	Type         string           `json:"type"`
	AttributedTo string           `json:"attributedTo,omitempty"`
	Content      string           `json:"content,omitempty"`
	ContentMap   map[string]string `json:"contentMap,omitempty"`
	Name         string           `json:"name,omitempty"`
	Published    *time.Time       `json:"published,omitempty"`
	Updated      *time.Time       `json:"updated,omitempty"`
	To           []string         `json:"to,omitempty"`
	CC           []string         `json:"cc,omitempty"`
	InReplyTo    string           `json:"inReplyTo,omitempty"`
	QuoteURL     string           `json:"quoteUrl,omitempty"`
	Tag          []Tag            `json:"tag,omitempty"`
	Attachment   []Attachment     `json:"attachment,omitempty"`
	EndTime      *time.Time       `json:"endTime,omitempty"`
	OneOf        []QuestionOption `json:"oneOf,omitempty"`
	VotersCount  int              `json:"votersCount,omitempty"`
}

// IsMessage reports whether the object type is one the bot treats as a
// message. Everything else (profiles, collections...) is ignored.
func (o *Object) IsMessage() bool {
	switch o.Type {
	case TypeNote, TypeArticle, TypeQuestion:
		return true
	}
	return false
}

// Tombstone replaces a deleted object.
type Tombstone struct {
	ID         string `json:"id"`
	Type       string `json:"type"`
	FormerType string `json:"formerType,omitempty"`
}

// Activity types handled by the inbox router.
const (
	TypeCreate     = "Create"
	TypeUpdate     = "Update"
	TypeDelete     = "Delete"
	TypeAnnounce   = "Announce"
	TypeLike       = "Like"
	TypeEmojiReact = "EmojiReact"
	TypeFollow     = "Follow"
	TypeAccept     = "Accept"
	TypeReject     = "Reject"
	TypeUndo       = "Undo"
)

// Activity represents an ActivityPub activity. Object may be an embedded
// object, an embedded activity, or a bare URI; use ObjectID/UnmarshalObject.
type Activity struct {
	Context   any             `json:"@context,omitempty"`
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Actor     string          `json:"actor,omitempty"`
	Object    json.RawMessage `json:"object,omitempty"`
	Name      string          `json:"name,omitempty"`
	To        []string        `json:"to,omitempty"`
	CC        []string        `json:"cc,omitempty"`
	Published *time.Time      `json:"published,omitempty"`
	Tag       []Tag           `json:"tag,omitempty"`
}

// ObjectID returns the URI of the activity's object, whether the object is
// embedded or referenced by URI. Returns "" if neither form carries an id.
func (a *Activity) ObjectID() string {
	if len(a.Object) == 0 {
		return ""
	}
	var uri string
	if err := json.Unmarshal(a.Object, &uri); err == nil {
		return uri
	}
	var embedded struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(a.Object, &embedded); err == nil {
		return embedded.ID
	}
	return ""
}

// UnmarshalObject decodes an embedded object into v. It fails if the object
// is a bare URI rather than an embedded document.
func (a *Activity) UnmarshalObject(v any) error {
	return json.Unmarshal(a.Object, v)
}

// EmbedObject sets the activity's object to the JSON encoding of v.
func (a *Activity) EmbedObject(v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	a.Object = raw
	return nil
}

// RefObject sets the activity's object to a bare URI reference.
func (a *Activity) RefObject(uri string) {
	raw, _ := json.Marshal(uri)
	a.Object = raw
}

// Clone returns a deep copy of the activity.
func (a *Activity) Clone() *Activity {
	dup := *a
	dup.To = append([]string(nil), a.To...)
	dup.CC = append([]string(nil), a.CC...)
	dup.Tag = append([]Tag(nil), a.Tag...)
	dup.Object = append(json.RawMessage(nil), a.Object...)
	if a.Published != nil {
		t := *a.Published
		dup.Published = &t
	}
	return &dup
}
