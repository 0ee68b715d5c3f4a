package bot

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"

	"fedibot/internal/ap"
	"fedibot/internal/federation"
	"fedibot/internal/repository"
)

const testOrigin = "https://bots.test"

// delivery records one SendActivity call.
type delivery struct {
	recipients federation.Recipients
	activity   *ap.Activity
	opts       federation.SendOptions
}

// fakeEngine is an in-memory federation engine: deliveries are recorded,
// lookups are served from a preloaded document map, and URIs follow the
// scheme {origin}/ap/{identifier}/{class}/{uuid}.
type fakeEngine struct {
	mu         sync.Mutex
	deliveries []delivery
	documents  map[string]any
	failSend   bool
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{documents: make(map[string]any)}
}

func (e *fakeEngine) addDocument(uri string, doc any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.documents[uri] = doc
}

func (e *fakeEngine) sent() []delivery {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]delivery(nil), e.deliveries...)
}

func (e *fakeEngine) reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.deliveries = nil
}

func (e *fakeEngine) SendActivity(ctx context.Context, identifier string, recipients federation.Recipients, activity any, opts federation.SendOptions) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.failSend {
		return errors.New("delivery refused")
	}
	raw, err := json.Marshal(activity)
	if err != nil {
		return err
	}
	var act ap.Activity
	if err := json.Unmarshal(raw, &act); err != nil {
		return err
	}
	e.deliveries = append(e.deliveries, delivery{recipients: recipients, activity: &act, opts: opts})
	return nil
}

func (e *fakeEngine) LookupObject(ctx context.Context, uri string, opts federation.LookupOptions) (json.RawMessage, error) {
	e.mu.Lock()
	doc, ok := e.documents[uri]
	e.mu.Unlock()
	if !ok {
		if opts.SuppressError {
			return nil, nil
		}
		return nil, errors.New("unresolvable: " + uri)
	}
	return json.Marshal(doc)
}

func (e *fakeEngine) ParseURI(uri string) *federation.ParsedURI {
	rest, ok := strings.CutPrefix(uri, testOrigin+"/ap/")
	if !ok {
		return nil
	}
	parts := strings.Split(rest, "/")
	if len(parts) == 2 && parts[0] == "actor" {
		return &federation.ParsedURI{Type: federation.URIActor, Identifier: parts[1]}
	}
	if len(parts) != 3 {
		return nil
	}
	id, err := uuid.Parse(parts[2])
	if err != nil {
		return nil
	}
	return &federation.ParsedURI{
		Type:       federation.URIObject,
		Identifier: parts[0],
		Class:      parts[1],
		ID:         id,
	}
}

func (e *fakeEngine) ActorURI(identifier string) string {
	return testOrigin + "/ap/actor/" + identifier
}

func (e *fakeEngine) FollowersURI(identifier string) string {
	return testOrigin + "/ap/actor/" + identifier + "/followers"
}

func (e *fakeEngine) ObjectURI(identifier, class string, id uuid.UUID) string {
	return testOrigin + "/ap/" + identifier + "/" + class + "/" + id.String()
}

var _ federation.Engine = (*fakeEngine)(nil)

func newTestBot(t *testing.T, handlers Handlers, policy FollowerPolicy) (*Bot, *fakeEngine, repository.Repository) {
	t.Helper()
	engine := newFakeEngine()
	repo := repository.NewMemoryRepository()
	b, err := New(Config{
		Identifier:     "greeter",
		Username:       "greeter",
		Name:           "Greeter",
		FollowerPolicy: policy,
		Engine:         engine,
		Repository:     repo,
		Handlers:       handlers,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return b, engine, repo
}

// remoteActor registers a resolvable actor document and returns its URI.
func remoteActor(e *fakeEngine, host, name string) *ap.Actor {
	actor := &ap.Actor{
		ID:                "https://" + host + "/users/" + name,
		Type:              "Person",
		PreferredUsername: name,
		Inbox:             "https://" + host + "/users/" + name + "/inbox",
		Followers:         "https://" + host + "/users/" + name + "/followers",
	}
	e.addDocument(actor.ID, actor)
	return actor
}

func embeddedObject(t *testing.T, activity *ap.Activity) *ap.Object {
	t.Helper()
	var obj ap.Object
	if err := activity.UnmarshalObject(&obj); err != nil {
		t.Fatalf("unmarshal embedded object: %v", err)
	}
	return &obj
}

func TestNewValidation(t *testing.T) {
	engine := newFakeEngine()
	repo := repository.NewMemoryRepository()
	cases := []struct {
		name string
		cfg  Config
	}{
		{"missing identifier", Config{Engine: engine, Repository: repo}},
		{"missing engine", Config{Identifier: "x", Repository: repo}},
		{"missing repository", Config{Identifier: "x", Engine: engine}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := New(tc.cfg); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestSelfActor(t *testing.T) {
	b, engine, _ := newTestBot(t, Handlers{}, "")
	self := b.Self()
	if self.ID != engine.ActorURI("greeter") {
		t.Fatalf("self ID = %q", self.ID)
	}
	if self.Type != "Service" {
		t.Fatalf("self Type = %q", self.Type)
	}
	if self.Followers != engine.FollowersURI("greeter") {
		t.Fatalf("self Followers = %q", self.Followers)
	}
	if b.Self() != self {
		t.Fatal("Self is not memoized")
	}
}

func TestOutboxVisibilityFilter(t *testing.T) {
	ctx := context.Background()
	b, engine, repo := newTestBot(t, Handlers{}, "")
	s := b.Session()
	alice := remoteActor(engine, "remote.test", "alice")

	if _, err := s.Publish(ctx, "public post", PublishOptions{}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Publish(ctx, "followers post", PublishOptions{Visibility: "followers"}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Publish(ctx, "direct post", PublishOptions{
		Visibility: "direct",
		Mentions:   []*ap.Actor{alice},
	}); err != nil {
		t.Fatal(err)
	}

	collect := func(viewerID string) int {
		total := 0
		cursor := ""
		for {
			page, next, err := b.Outbox(ctx, viewerID, cursor, 2)
			if err != nil {
				t.Fatalf("Outbox(%q): %v", viewerID, err)
			}
			total += len(page)
			if next == "" {
				return total
			}
			cursor = next
		}
	}

	if got := collect(""); got != 1 {
		t.Fatalf("anonymous sees %d messages, want 1", got)
	}
	// Alice is mentioned in the direct post but not a follower.
	if got := collect(alice.ID); got != 2 {
		t.Fatalf("addressee sees %d messages, want 2", got)
	}
	if err := repo.AddFollower(ctx, alice); err != nil {
		t.Fatal(err)
	}
	if got := collect(alice.ID); got != 3 {
		t.Fatalf("follower sees %d messages, want 3", got)
	}
}

func TestOutboxCursor(t *testing.T) {
	ctx := context.Background()
	b, _, _ := newTestBot(t, Handlers{}, "")
	s := b.Session()
	for i := 0; i < 5; i++ {
		if _, err := s.Publish(ctx, "post", PublishOptions{}); err != nil {
			t.Fatal(err)
		}
	}

	var pages int
	var total int
	cursor := ""
	for {
		page, next, err := b.Outbox(ctx, "", cursor, 2)
		if err != nil {
			t.Fatal(err)
		}
		pages++
		total += len(page)
		if next == "" {
			break
		}
		cursor = next
	}
	if total != 5 {
		t.Fatalf("paged total = %d, want 5", total)
	}
	if pages < 3 {
		t.Fatalf("pages = %d, want at least 3", pages)
	}

	if _, _, err := b.Outbox(ctx, "", "not-a-cursor", 2); err == nil {
		t.Fatal("expected error for malformed cursor")
	}
	if _, _, err := b.Outbox(ctx, "", "", 0); err == nil {
		t.Fatal("expected error for zero page size")
	}
}
