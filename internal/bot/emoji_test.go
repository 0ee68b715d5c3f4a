package bot

import (
	"errors"
	"testing"

	"fedibot/internal/ap"
	fediboterrors "fedibot/pkg/errors"
)

func TestNewEmoji(t *testing.T) {
	cases := []struct {
		name  string
		in    string
		valid bool
	}{
		{"simple emoji", "👍", true},
		{"skin tone modifier", "👍🏽", true},
		{"zwj sequence", "👩‍💻", true},
		{"flag", "🇰🇷", true},
		{"plain letter", "x", true},
		{"two graphemes", "👍👍", false},
		{"word", "thumbs", false},
		{"empty", "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e, err := NewEmoji(tc.in)
			if tc.valid {
				if err != nil {
					t.Fatalf("NewEmoji(%q) = %v", tc.in, err)
				}
				if e.String() != tc.in {
					t.Fatalf("String() = %q", e.String())
				}
				if e.IsCustom() {
					t.Fatal("native emoji reports custom")
				}
			} else if !errors.Is(err, fediboterrors.ErrInvalidInput) {
				t.Fatalf("NewEmoji(%q) err = %v, want ErrInvalidInput", tc.in, err)
			}
		})
	}
}

func TestCustomEmoji(t *testing.T) {
	tag := ap.Tag{Type: ap.TagEmoji, Name: ":blobcat:"}
	e := CustomEmoji(tag)
	if !e.IsCustom() {
		t.Fatal("custom emoji reports native")
	}
	if e.String() != ":blobcat:" {
		t.Fatalf("String() = %q", e.String())
	}
	if got := e.Tag(); got == nil || got.Name != ":blobcat:" {
		t.Fatalf("Tag() = %+v", got)
	}
}

func TestParseReaction(t *testing.T) {
	blobcat := ap.Tag{Type: ap.TagEmoji, Name: ":blobcat:"}
	cases := []struct {
		name       string
		activity   string
		tags       []ap.Tag
		isReaction bool
		custom     bool
	}{
		{"native emoji", "👍", nil, true, false},
		{"zwj emoji", "👩‍💻", nil, true, false},
		{"shortcode with tag", ":blobcat:", []ap.Tag{blobcat}, true, true},
		{"shortcode without tag", ":blobcat:", nil, false, false},
		{"shortcode with mismatched tag", ":other:", []ap.Tag{blobcat}, false, false},
		{"plain like", "", nil, false, false},
		{"text name", "nice post", nil, false, false},
		{"bare colons", "::", nil, false, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e, ok := parseReaction(tc.activity, tc.tags)
			if ok != tc.isReaction {
				t.Fatalf("parseReaction(%q) ok = %v, want %v", tc.activity, ok, tc.isReaction)
			}
			if ok && e.IsCustom() != tc.custom {
				t.Fatalf("parseReaction(%q) custom = %v, want %v", tc.activity, e.IsCustom(), tc.custom)
			}
		})
	}
}
