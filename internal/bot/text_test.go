package bot

import "testing"

func TestRenderHTML(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"single paragraph", "Hello, world!", "<p>Hello, world!</p>"},
		{"line break", "one\ntwo", "<p>one<br>two</p>"},
		{"paragraphs", "first\n\nsecond", "<p>first</p><p>second</p>"},
		{"windows newlines", "one\r\ntwo\r\n\r\nthree", "<p>one<br>two</p><p>three</p>"},
		{"escaping", `<script>alert("x")</script> & co`, "<p>&lt;script&gt;alert(&#34;x&#34;)&lt;/script&gt; &amp; co</p>"},
		{"blank input", "", ""},
		{"whitespace paragraph skipped", "a\n\n   \n\nb", "<p>a</p><p>b</p>"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := renderHTML(tc.in); got != tc.want {
				t.Fatalf("renderHTML(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestSanitizeHTML(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"allowed markup kept", "<p>hi <strong>there</strong></p>", "<p>hi <strong>there</strong></p>"},
		{"script dropped", "<p>hi</p><script>alert(1)</script>", "<p>hi</p>"},
		{"event handler dropped", `<p onclick="x()">hi</p>`, "<p>hi</p>"},
		{"mention link attrs kept", `<a href="https://remote.test/@alice" class="u-url mention" rel="nofollow">@alice</a>`, `<a href="https://remote.test/@alice" class="u-url mention" rel="nofollow">@alice</a>`},
		{"img dropped", `<p>pic <img src="https://x.test/a.png"> here</p>`, "<p>pic  here</p>"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := sanitizeHTML(tc.in); got != tc.want {
				t.Fatalf("sanitizeHTML(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestPlainText(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"markup stripped", "<p>hi <strong>there</strong></p>", "hi there"},
		{"entities decoded", "<p>fish &amp; chips</p>", "fish & chips"},
		{"plain passthrough", "already plain", "already plain"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := plainText(tc.in); got != tc.want {
				t.Fatalf("plainText(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}
