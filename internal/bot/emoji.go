package bot

import (
	"fmt"
	"strings"

	"github.com/rivo/uniseg"

	"fedibot/internal/ap"
	fediboterrors "fedibot/pkg/errors"
)

// Emoji is a reaction value: either a single Unicode grapheme or a custom
// emoji shortcode backed by an Emoji tag.
type Emoji struct {
	native string
	custom *ap.Tag
}

// NewEmoji builds a native emoji from a single Unicode grapheme cluster.
func NewEmoji(s string) (Emoji, error) {
	if uniseg.GraphemeClusterCount(s) != 1 {
		return Emoji{}, fmt.Errorf("emoji must be a single grapheme, got %q: %w", s, fediboterrors.ErrInvalidInput)
	}
	return Emoji{native: s}, nil
}

// CustomEmoji builds an emoji from a custom Emoji tag (":shortcode:" name).
func CustomEmoji(tag ap.Tag) Emoji {
	return Emoji{custom: &tag}
}

// IsCustom reports whether the emoji is a custom emoji reference.
func (e Emoji) IsCustom() bool {
	return e.custom != nil
}

// Tag returns the custom emoji tag, or nil for native emoji.
func (e Emoji) Tag() *ap.Tag {
	return e.custom
}

// String returns the emoji as it appears in an activity name: the grapheme
// itself, or the ":shortcode:" of a custom emoji.
func (e Emoji) String() string {
	if e.custom != nil {
		return e.custom.Name
	}
	return e.native
}

// parseReaction interprets an inbound Like/EmojiReact name. A single
// grapheme is a native emoji; a ":shortcode:" matching an attached Emoji tag
// is a custom emoji. Anything else is not a reaction (plain like).
func parseReaction(name string, tags []ap.Tag) (Emoji, bool) {
	if name == "" {
		return Emoji{}, false
	}
	if strings.HasPrefix(name, ":") && strings.HasSuffix(name, ":") && len(name) > 2 {
		for _, tag := range tags {
			if tag.Type == ap.TagEmoji && tag.Name == name {
				return CustomEmoji(tag), true
			}
		}
		return Emoji{}, false
	}
	if uniseg.GraphemeClusterCount(name) == 1 {
		return Emoji{native: name}, true
	}
	return Emoji{}, false
}
