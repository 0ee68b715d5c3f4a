package bot

import (
	"context"
	"errors"
	"testing"
	"time"

	"fedibot/internal/ap"
	"fedibot/internal/visibility"
	fediboterrors "fedibot/pkg/errors"
)

func TestPublishPublic(t *testing.T) {
	ctx := context.Background()
	b, engine, repo := newTestBot(t, Handlers{}, "")
	s := b.Session()

	msg, err := s.Publish(ctx, "Hello, world!", PublishOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if msg.Visibility != visibility.Public {
		t.Fatalf("visibility = %q, want public", msg.Visibility)
	}
	if msg.HTML != "<p>Hello, world!</p>" {
		t.Fatalf("HTML = %q", msg.HTML)
	}
	if msg.Text != "Hello, world!" {
		t.Fatalf("Text = %q", msg.Text)
	}

	if n, _ := repo.CountMessages(ctx); n != 1 {
		t.Fatalf("stored messages = %d, want 1", n)
	}

	sent := engine.sent()
	if len(sent) != 1 {
		t.Fatalf("deliveries = %d, want 1", len(sent))
	}
	d := sent[0]
	if !d.recipients.Followers {
		t.Fatal("delivery not addressed to followers")
	}
	if !d.opts.PreferSharedInbox {
		t.Fatal("followers delivery should prefer shared inboxes")
	}
	if d.activity.Type != ap.TypeCreate {
		t.Fatalf("activity type = %q", d.activity.Type)
	}

	obj := embeddedObject(t, d.activity)
	if obj.Content != "<p>Hello, world!</p>" {
		t.Fatalf("delivered content = %q", obj.Content)
	}
	found := false
	for _, uri := range obj.To {
		if uri == ap.PublicCollection {
			found = true
		}
	}
	if !found {
		t.Fatal("public collection missing from to")
	}
}

func TestPublishDirect(t *testing.T) {
	ctx := context.Background()
	b, engine, _ := newTestBot(t, Handlers{}, "")
	s := b.Session()
	alice := remoteActor(engine, "remote.test", "alice")

	msg, err := s.Publish(ctx, "psst", PublishOptions{
		Visibility: visibility.Direct,
		Mentions:   []*ap.Actor{alice},
	})
	if err != nil {
		t.Fatal(err)
	}
	if msg.Visibility != visibility.Direct {
		t.Fatalf("visibility = %q, want direct", msg.Visibility)
	}
	if len(msg.Mentions) != 1 || msg.Mentions[0].ID != alice.ID {
		t.Fatalf("mentions = %+v", msg.Mentions)
	}

	sent := engine.sent()
	if len(sent) != 1 {
		t.Fatalf("deliveries = %d, want 1", len(sent))
	}
	d := sent[0]
	if d.recipients.Followers {
		t.Fatal("direct message must not go to followers")
	}
	if len(d.recipients.ActorIDs) != 1 || d.recipients.ActorIDs[0] != alice.ID {
		t.Fatalf("recipients = %+v", d.recipients.ActorIDs)
	}
	obj := embeddedObject(t, d.activity)
	for _, uri := range append(append([]string(nil), obj.To...), obj.CC...) {
		if uri == ap.PublicCollection {
			t.Fatal("direct message addressed to public collection")
		}
	}
	if len(obj.Tag) != 1 || obj.Tag[0].Type != ap.TagMention || obj.Tag[0].Href != alice.ID {
		t.Fatalf("tags = %+v", obj.Tag)
	}
}

func TestPublishUnlistedAudience(t *testing.T) {
	ctx := context.Background()
	b, engine, _ := newTestBot(t, Handlers{}, "")
	s := b.Session()

	msg, err := s.Publish(ctx, "quiet", PublishOptions{Visibility: visibility.Unlisted})
	if err != nil {
		t.Fatal(err)
	}
	if msg.Visibility != visibility.Unlisted {
		t.Fatalf("visibility = %q, want unlisted", msg.Visibility)
	}
	obj := msg.Raw
	for _, uri := range obj.To {
		if uri == ap.PublicCollection {
			t.Fatal("unlisted message carries public collection in to")
		}
	}
	inCC := false
	for _, uri := range obj.CC {
		if uri == ap.PublicCollection {
			inCC = true
		}
	}
	if !inCC {
		t.Fatal("unlisted message missing public collection in cc")
	}
	if sent := engine.sent(); len(sent) != 1 || !sent[0].recipients.Followers {
		t.Fatalf("deliveries = %+v", sent)
	}
}

func TestPublishValidation(t *testing.T) {
	ctx := context.Background()
	b, _, _ := newTestBot(t, Handlers{}, "")
	s := b.Session()

	if _, err := s.Publish(ctx, "", PublishOptions{}); !errors.Is(err, fediboterrors.ErrInvalidInput) {
		t.Fatalf("empty text error = %v", err)
	}
	if _, err := s.Publish(ctx, "pick one", PublishOptions{
		Poll: &PollOptions{Options: []string{"only"}, EndTime: time.Now().Add(time.Hour)},
	}); !errors.Is(err, fediboterrors.ErrInvalidInput) {
		t.Fatalf("one-option poll error = %v", err)
	}
}

func TestPublishPoll(t *testing.T) {
	ctx := context.Background()
	b, engine, _ := newTestBot(t, Handlers{}, "")
	s := b.Session()
	end := time.Now().Add(time.Hour).UTC()

	msg, err := s.Publish(ctx, "tea or coffee?", PublishOptions{
		Poll: &PollOptions{Options: []string{"tea", "coffee"}, EndTime: end},
	})
	if err != nil {
		t.Fatal(err)
	}
	if msg.Raw.Type != ap.TypeQuestion {
		t.Fatalf("object type = %q, want Question", msg.Raw.Type)
	}
	if len(msg.Raw.OneOf) != 2 {
		t.Fatalf("options = %d, want 2", len(msg.Raw.OneOf))
	}
	for _, opt := range msg.Raw.OneOf {
		if opt.Replies == nil || opt.Replies.TotalItems != 0 {
			t.Fatalf("option %q starts with tally %+v", opt.Name, opt.Replies)
		}
	}
	obj := embeddedObject(t, engine.sent()[0].activity)
	if obj.EndTime == nil || !obj.EndTime.Equal(end) {
		t.Fatalf("delivered endTime = %v", obj.EndTime)
	}
}

func TestReplyInheritsVisibility(t *testing.T) {
	ctx := context.Background()
	b, engine, _ := newTestBot(t, Handlers{}, "")
	s := b.Session()
	alice := remoteActor(engine, "remote.test", "alice")

	original, err := s.materialize(ctx, &ap.Object{
		ID:           "https://remote.test/notes/1",
		Type:         ap.TypeNote,
		AttributedTo: alice.ID,
		Content:      "<p>anyone around?</p>",
		To:           []string{alice.Followers},
	}, nil, nil, false)
	if err != nil {
		t.Fatal(err)
	}
	if original.Visibility != visibility.Followers {
		t.Fatalf("original visibility = %q, want followers", original.Visibility)
	}

	reply, err := original.Reply(ctx, "right here", PublishOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if reply.Visibility != visibility.Followers {
		t.Fatalf("reply visibility = %q, want followers", reply.Visibility)
	}
	if reply.Raw.InReplyTo != original.ID {
		t.Fatalf("inReplyTo = %q", reply.Raw.InReplyTo)
	}
}

func TestReplyToUnknownFallsBackToDirect(t *testing.T) {
	ctx := context.Background()
	b, engine, _ := newTestBot(t, Handlers{}, "")
	s := b.Session()
	alice := remoteActor(engine, "remote.test", "alice")

	original, err := s.materialize(ctx, &ap.Object{
		ID:           "https://remote.test/notes/2",
		Type:         ap.TypeNote,
		AttributedTo: alice.ID,
		Content:      "<p>odd addressing</p>",
		To:           []string{"https://elsewhere.test/groups/42"},
	}, nil, nil, false)
	if err != nil {
		t.Fatal(err)
	}
	if original.Visibility != visibility.Unknown {
		t.Fatalf("original visibility = %q, want unknown", original.Visibility)
	}
	reply, err := original.Reply(ctx, "careful now", PublishOptions{Mentions: []*ap.Actor{alice}})
	if err != nil {
		t.Fatal(err)
	}
	if reply.Visibility != visibility.Direct {
		t.Fatalf("reply visibility = %q, want direct", reply.Visibility)
	}
}

func TestFollowAndUnfollow(t *testing.T) {
	ctx := context.Background()
	b, engine, repo := newTestBot(t, Handlers{}, "")
	s := b.Session()
	bob := remoteActor(engine, "remote.test", "bob")

	if err := s.Follow(ctx, b.ActorURI()); !errors.Is(err, fediboterrors.ErrInvalidInput) {
		t.Fatalf("self-follow error = %v", err)
	}

	if err := s.Follow(ctx, bob.ID); err != nil {
		t.Fatal(err)
	}
	sent := engine.sent()
	if len(sent) != 1 {
		t.Fatalf("deliveries = %d, want 1", len(sent))
	}
	follow := sent[0].activity
	if follow.Type != ap.TypeFollow || follow.ObjectID() != bob.ID {
		t.Fatalf("sent activity = %+v", follow)
	}
	id, ok := s.storageID(follow.ID, ap.TypeFollow)
	if !ok {
		t.Fatalf("follow URI %q does not reverse to storage", follow.ID)
	}
	if followee, err := repo.GetSentFollow(ctx, id); err != nil || followee != bob.ID {
		t.Fatalf("GetSentFollow = %q, %v", followee, err)
	}

	// Simulate the accepted state, then undo it.
	if err := repo.AddFollowee(ctx, bob.ID, follow); err != nil {
		t.Fatal(err)
	}
	engine.reset()
	if err := s.Unfollow(ctx, bob.ID); err != nil {
		t.Fatal(err)
	}
	sent = engine.sent()
	if len(sent) != 1 || sent[0].activity.Type != ap.TypeUndo {
		t.Fatalf("undo deliveries = %+v", sent)
	}
	var undone ap.Activity
	if err := sent[0].activity.UnmarshalObject(&undone); err != nil || undone.ID != follow.ID {
		t.Fatalf("undone follow = %+v, %v", undone, err)
	}
	if _, err := repo.GetFollowee(ctx, bob.ID); !errors.Is(err, fediboterrors.ErrNotFound) {
		t.Fatalf("followee after unfollow = %v", err)
	}
}
