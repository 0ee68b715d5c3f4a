package bot

import (
	"context"
	"testing"

	"fedibot/internal/ap"
	"fedibot/internal/visibility"
)

func TestUpdateRewritesStoredMessage(t *testing.T) {
	ctx := context.Background()
	b, engine, repo := newTestBot(t, Handlers{}, "")
	s := b.Session()

	msg, err := s.Publish(ctx, "first draft", PublishOptions{})
	if err != nil {
		t.Fatal(err)
	}
	published := msg.Published
	engine.reset()

	if err := msg.Update(ctx, "final version"); err != nil {
		t.Fatal(err)
	}

	id, _ := s.storageID(msg.ID, ap.TypeNote)
	stored, err := repo.GetMessage(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	obj := embeddedObject(t, stored)
	if obj.Content != "<p>final version</p>" {
		t.Fatalf("stored content = %q", obj.Content)
	}
	if obj.Updated == nil {
		t.Fatal("stored object missing updated timestamp")
	}
	if obj.Published == nil || !obj.Published.Equal(*published) {
		t.Fatalf("published changed: %v, want %v", obj.Published, published)
	}

	if msg.HTML != "<p>final version</p>" || msg.Text != "final version" {
		t.Fatalf("in-memory view not refreshed: %q / %q", msg.HTML, msg.Text)
	}

	sent := engine.sent()
	if len(sent) != 1 {
		t.Fatalf("update deliveries = %d, want 1", len(sent))
	}
	if sent[0].activity.Type != ap.TypeUpdate || !sent[0].recipients.Followers {
		t.Fatalf("update delivery = %+v", sent[0])
	}
}

func TestUpdateAddsMentionsWithoutDroppingRecipients(t *testing.T) {
	ctx := context.Background()
	b, engine, _ := newTestBot(t, Handlers{}, "")
	s := b.Session()
	alice := remoteActor(engine, "remote.test", "alice")
	bob := remoteActor(engine, "remote.test", "bob")

	msg, err := s.Publish(ctx, "hi alice", PublishOptions{
		Visibility: visibility.Direct,
		Mentions:   []*ap.Actor{alice},
	})
	if err != nil {
		t.Fatal(err)
	}
	engine.reset()

	if err := msg.Update(ctx, "hi alice and bob", bob); err != nil {
		t.Fatal(err)
	}

	sent := engine.sent()
	if len(sent) != 1 {
		t.Fatalf("deliveries = %d, want 1", len(sent))
	}
	d := sent[0]
	if d.recipients.Followers {
		t.Fatal("direct update went to followers")
	}
	got := map[string]bool{}
	for _, id := range d.recipients.ActorIDs {
		got[id] = true
	}
	if !got[alice.ID] || !got[bob.ID] {
		t.Fatalf("update recipients = %+v, want both alice and bob", d.recipients.ActorIDs)
	}

	obj := embeddedObject(t, d.activity)
	mentions := 0
	for _, tag := range obj.Tag {
		if tag.Type == ap.TagMention {
			mentions++
		}
	}
	if mentions != 2 {
		t.Fatalf("mention tags = %d, want 2", mentions)
	}
	if len(msg.Mentions) != 2 {
		t.Fatalf("in-memory mentions = %d, want 2", len(msg.Mentions))
	}
}

func TestUpdateUnstoredMessageIsNoop(t *testing.T) {
	ctx := context.Background()
	b, engine, repo := newTestBot(t, Handlers{}, "")
	s := b.Session()

	msg, err := s.Publish(ctx, "ephemeral", PublishOptions{})
	if err != nil {
		t.Fatal(err)
	}
	id, _ := s.storageID(msg.ID, ap.TypeNote)
	if err := repo.RemoveMessage(ctx, id); err != nil {
		t.Fatal(err)
	}
	engine.reset()

	if err := msg.Update(ctx, "too late"); err != nil {
		t.Fatal(err)
	}
	if len(engine.sent()) != 0 {
		t.Fatal("update of an unstored message triggered a delivery")
	}
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	b, engine, repo := newTestBot(t, Handlers{}, "")
	s := b.Session()
	alice := remoteActor(engine, "remote.test", "alice")

	msg, err := s.Publish(ctx, "regrets", PublishOptions{Mentions: []*ap.Actor{alice}})
	if err != nil {
		t.Fatal(err)
	}
	engine.reset()

	if err := msg.Delete(ctx); err != nil {
		t.Fatal(err)
	}
	if n, _ := repo.CountMessages(ctx); n != 0 {
		t.Fatalf("messages after delete = %d, want 0", n)
	}

	sent := engine.sent()
	if len(sent) != 2 {
		t.Fatalf("delete deliveries = %d, want 2", len(sent))
	}
	if !sent[0].recipients.Followers {
		t.Fatal("delete not broadcast to followers")
	}
	if len(sent[1].recipients.ActorIDs) != 1 || sent[1].recipients.ActorIDs[0] != alice.ID {
		t.Fatalf("delete recipients = %+v", sent[1].recipients)
	}
	for _, d := range sent {
		if d.activity.Type != ap.TypeDelete {
			t.Fatalf("sent %q, want Delete", d.activity.Type)
		}
		var tomb ap.Tombstone
		if err := d.activity.UnmarshalObject(&tomb); err != nil {
			t.Fatal(err)
		}
		if tomb.Type != "Tombstone" || tomb.ID != msg.ID || tomb.FormerType != ap.TypeNote {
			t.Fatalf("tombstone = %+v", tomb)
		}
	}

	// Deleting again is a no-op at the storage layer.
	if err := msg.Delete(ctx); err != nil {
		t.Fatal(err)
	}
}
