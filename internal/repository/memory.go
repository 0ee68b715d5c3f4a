package repository

import (
	"bytes"
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"fedibot/internal/ap"
	fediboterrors "fedibot/pkg/errors"
)

// MemoryRepository is the in-memory reference implementation. A single mutex
// guards all state, so the KV implementation's lock-retry contract is moot
// here; it exists to make the Repository contract testable without a real
// KV backend.
type MemoryRepository struct {
	mu sync.Mutex

	keyPairs []KeyPair

	messages     map[uuid.UUID]*ap.Activity
	messageOrder []uuid.UUID // ascending by id, i.e. oldest first

	followers     map[string]*ap.Actor
	followerOrder []string

	sentFollows map[uuid.UUID]string
	followees   map[string]*ap.Activity

	votes map[uuid.UUID]map[string]map[string]bool // message -> option -> voters
}

var _ Repository = (*MemoryRepository)(nil)

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		messages:    make(map[uuid.UUID]*ap.Activity),
		followers:   make(map[string]*ap.Actor),
		sentFollows: make(map[uuid.UUID]string),
		followees:   make(map[string]*ap.Activity),
		votes:       make(map[uuid.UUID]map[string]map[string]bool),
	}
}

func (r *MemoryRepository) StoreKeyPairs(ctx context.Context, pairs []KeyPair) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keyPairs = append([]KeyPair(nil), pairs...)
	return nil
}

func (r *MemoryRepository) KeyPairs(ctx context.Context) ([]KeyPair, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.keyPairs == nil {
		return nil, fediboterrors.ErrNotFound
	}
	return append([]KeyPair(nil), r.keyPairs...), nil
}

func (r *MemoryRepository) AddMessage(ctx context.Context, id uuid.UUID, activity *ap.Activity) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.messages[id]; ok {
		return fediboterrors.ErrAlreadyExists
	}
	r.messages[id] = activity.Clone()
	i := sort.Search(len(r.messageOrder), func(i int) bool {
		return bytes.Compare(r.messageOrder[i][:], id[:]) >= 0
	})
	r.messageOrder = append(r.messageOrder, uuid.UUID{})
	copy(r.messageOrder[i+1:], r.messageOrder[i:])
	r.messageOrder[i] = id
	return nil
}

func (r *MemoryRepository) GetMessage(ctx context.Context, id uuid.UUID) (*ap.Activity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.messages[id]
	if !ok {
		return nil, fediboterrors.ErrNotFound
	}
	return a.Clone(), nil
}

func (r *MemoryRepository) UpdateMessage(ctx context.Context, id uuid.UUID, update UpdateFunc) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.messages[id]
	if !ok {
		return false, nil
	}
	next, err := update(current.Clone())
	if err != nil {
		return false, err
	}
	r.messages[id] = next.Clone()
	return true, nil
}

func (r *MemoryRepository) RemoveMessage(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.messages[id]; !ok {
		return nil
	}
	delete(r.messages, id)
	for i, mid := range r.messageOrder {
		if mid == id {
			r.messageOrder = append(r.messageOrder[:i], r.messageOrder[i+1:]...)
			break
		}
	}
	return nil
}

func (r *MemoryRepository) Messages(ctx context.Context, q MessageQuery) ([]MessageRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := append([]uuid.UUID(nil), r.messageOrder...)
	if q.Order == NewestFirst {
		reverse(ids)
	}
	return windowMessages(ids, q, func(id uuid.UUID) *ap.Activity {
		return r.messages[id].Clone()
	}), nil
}

func (r *MemoryRepository) CountMessages(ctx context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.messageOrder), nil
}

func (r *MemoryRepository) AddFollower(ctx context.Context, follower *ap.Actor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.followers[follower.ID]; ok {
		return fediboterrors.ErrAlreadyExists
	}
	dup := *follower
	r.followers[follower.ID] = &dup
	r.followerOrder = append(r.followerOrder, follower.ID)
	return nil
}

func (r *MemoryRepository) RemoveFollower(ctx context.Context, followerID string) (*ap.Actor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	actor, ok := r.followers[followerID]
	if !ok {
		return nil, fediboterrors.ErrNotFound
	}
	delete(r.followers, followerID)
	for i, id := range r.followerOrder {
		if id == followerID {
			r.followerOrder = append(r.followerOrder[:i], r.followerOrder[i+1:]...)
			break
		}
	}
	return actor, nil
}

func (r *MemoryRepository) HasFollower(ctx context.Context, followerID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.followers[followerID]
	return ok, nil
}

func (r *MemoryRepository) Followers(ctx context.Context, offset, limit int) ([]*ap.Actor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := window(r.followerOrder, offset, limit)
	actors := make([]*ap.Actor, 0, len(ids))
	for _, id := range ids {
		dup := *r.followers[id]
		actors = append(actors, &dup)
	}
	return actors, nil
}

func (r *MemoryRepository) CountFollowers(ctx context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.followerOrder), nil
}

func (r *MemoryRepository) AddSentFollow(ctx context.Context, id uuid.UUID, followeeID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sentFollows[id]; ok {
		return fediboterrors.ErrAlreadyExists
	}
	r.sentFollows[id] = followeeID
	return nil
}

func (r *MemoryRepository) GetSentFollow(ctx context.Context, id uuid.UUID) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	followee, ok := r.sentFollows[id]
	if !ok {
		return "", fediboterrors.ErrNotFound
	}
	return followee, nil
}

func (r *MemoryRepository) RemoveSentFollow(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sentFollows[id]; !ok {
		return fediboterrors.ErrNotFound
	}
	delete(r.sentFollows, id)
	return nil
}

func (r *MemoryRepository) AddFollowee(ctx context.Context, followeeID string, follow *ap.Activity) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.followees[followeeID]; ok {
		return fediboterrors.ErrAlreadyExists
	}
	r.followees[followeeID] = follow.Clone()
	return nil
}

func (r *MemoryRepository) GetFollowee(ctx context.Context, followeeID string) (*ap.Activity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	follow, ok := r.followees[followeeID]
	if !ok {
		return nil, fediboterrors.ErrNotFound
	}
	return follow.Clone(), nil
}

func (r *MemoryRepository) RemoveFollowee(ctx context.Context, followeeID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.followees[followeeID]; !ok {
		return fediboterrors.ErrNotFound
	}
	delete(r.followees, followeeID)
	return nil
}

func (r *MemoryRepository) AddVote(ctx context.Context, messageID uuid.UUID, voterID, option string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	options, ok := r.votes[messageID]
	if !ok {
		options = make(map[string]map[string]bool)
		r.votes[messageID] = options
	}
	voters, ok := options[option]
	if !ok {
		voters = make(map[string]bool)
		options[option] = voters
	}
	if voters[voterID] {
		return fediboterrors.ErrAlreadyExists
	}
	voters[voterID] = true
	return nil
}

func (r *MemoryRepository) CountVotes(ctx context.Context, messageID uuid.UUID, option string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.votes[messageID][option]), nil
}

func (r *MemoryRepository) CountVoters(ctx context.Context, messageID uuid.UUID) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	distinct := make(map[string]bool)
	for _, voters := range r.votes[messageID] {
		for voter := range voters {
			distinct[voter] = true
		}
	}
	return len(distinct), nil
}

// windowMessages applies the Until bound and offset/limit window over an
// already-ordered id list, loading each surviving activity.
func windowMessages(ids []uuid.UUID, q MessageQuery, load func(uuid.UUID) *ap.Activity) []MessageRecord {
	filtered := ids
	if !q.Until.IsZero() {
		filtered = filtered[:0:0]
		for _, id := range ids {
			if !messageTime(id).After(q.Until) {
				filtered = append(filtered, id)
			}
		}
	}
	filtered = window(filtered, q.Offset, q.Limit)
	records := make([]MessageRecord, 0, len(filtered))
	for _, id := range filtered {
		records = append(records, MessageRecord{ID: id, Activity: load(id)})
	}
	return records
}

// messageTime extracts the publication instant embedded in a UUIDv7 id.
func messageTime(id uuid.UUID) time.Time {
	sec, nsec := id.Time().UnixTime()
	return time.Unix(sec, nsec)
}

func window[T any](items []T, offset, limit int) []T {
	if offset < 0 || offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

func reverse[T any](items []T) {
	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}
}
