package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"fedibot/internal/ap"
	fediboterrors "fedibot/pkg/errors"
)

// Store is the flat key-value substrate the KV repository runs on: single-key
// get/set/delete, no multi-key transactions. Get returns
// fediboterrors.ErrNotFound for absent keys. A zero TTL means no expiry.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// KVOption configures a KVRepository.
type KVOption func(*KVRepository)

// WithVoteTTL expires poll vote records after d. Deployments commonly bound
// vote storage to the poll's lifetime; zero keeps votes forever.
func WithVoteTTL(d time.Duration) KVOption {
	return func(r *KVRepository) { r.voteTTL = d }
}

// KVRepository implements Repository over a flat KV store. Because the store
// offers no transactions, mutations of the ordered id indices use an
// optimistic lock-and-retry protocol: write a sentinel lock value, perform
// the read-modify-write, re-read the lock, and retry the whole cycle from
// scratch if another writer overwrote the sentinel in between. The retry
// loop is unbounded under sustained contention; it backs off exponentially
// and honors context cancellation, but callers should treat index-mutating
// calls as potentially slow.
//
// All keys carry a per-bot-identity prefix so that multiple bots sharing one
// physical store cannot corrupt each other's indices.
type KVRepository struct {
	store   Store
	prefix  string
	voteTTL time.Duration
}

var _ Repository = (*KVRepository)(nil)

const (
	lockRetryBase = time.Millisecond
	lockRetryMax  = 100 * time.Millisecond
)

// NewKVRepository creates a KV-backed repository scoped to the given bot
// identifier.
func NewKVRepository(store Store, identifier string, opts ...KVOption) *KVRepository {
	r := &KVRepository{
		store:  store,
		prefix: fmt.Sprintf("fedibot:%s:", identifier),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *KVRepository) key(parts ...string) string {
	k := r.prefix
	for i, p := range parts {
		if i > 0 {
			k += ":"
		}
		k += p
	}
	return k
}

// lockedSwap performs one read-modify-write of key under the optimistic lock
// protocol. swap receives the current value (nil when absent) and returns the
// value to store. swap errors abort without retrying.
func (r *KVRepository) lockedSwap(ctx context.Context, key, lockKey, sentinel string, ttl time.Duration, swap func(current []byte) ([]byte, error)) error {
	delay := lockRetryBase
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := r.store.Set(ctx, lockKey, []byte(sentinel), 0); err != nil {
			return err
		}
		current, err := r.store.Get(ctx, key)
		if err != nil && !errors.Is(err, fediboterrors.ErrNotFound) {
			return err
		}
		next, err := swap(current)
		if err != nil {
			return err
		}
		if err := r.store.Set(ctx, key, next, ttl); err != nil {
			return err
		}
		held, err := r.store.Get(ctx, lockKey)
		if err == nil && string(held) == sentinel {
			return nil
		}
		if err != nil && !errors.Is(err, fediboterrors.ErrNotFound) {
			return err
		}
		// Another writer raced us; redo the whole cycle.
		time.Sleep(delay)
		if delay *= 2; delay > lockRetryMax {
			delay = lockRetryMax
		}
	}
}

// mutateIndex applies mutate to the ordered id list stored at key. The lock
// sentinel is the id being added or removed, matching the wire protocol used
// by other repository implementations sharing the same store.
func (r *KVRepository) mutateIndex(ctx context.Context, name, id string, mutate func([]string) ([]string, error)) error {
	return r.lockedSwap(ctx, r.key(name), r.key("lock", name), id, 0, func(current []byte) ([]byte, error) {
		var ids []string
		if current != nil {
			if err := json.Unmarshal(current, &ids); err != nil {
				return nil, err
			}
		}
		next, err := mutate(ids)
		if err != nil {
			return nil, err
		}
		return json.Marshal(next)
	})
}

func (r *KVRepository) readIndex(ctx context.Context, name string) ([]string, error) {
	raw, err := r.store.Get(ctx, r.key(name))
	if errors.Is(err, fediboterrors.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var ids []string
	if err := json.Unmarshal(raw, &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *KVRepository) getJSON(ctx context.Context, key string, v any) error {
	raw, err := r.store.Get(ctx, key)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}

func (r *KVRepository) setJSON(ctx context.Context, key string, v any, ttl time.Duration) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return r.store.Set(ctx, key, raw, ttl)
}

func (r *KVRepository) StoreKeyPairs(ctx context.Context, pairs []KeyPair) error {
	return r.setJSON(ctx, r.key("keyPairs"), pairs, 0)
}

func (r *KVRepository) KeyPairs(ctx context.Context) ([]KeyPair, error) {
	var pairs []KeyPair
	if err := r.getJSON(ctx, r.key("keyPairs"), &pairs); err != nil {
		return nil, err
	}
	return pairs, nil
}

func (r *KVRepository) AddMessage(ctx context.Context, id uuid.UUID, activity *ap.Activity) error {
	valueKey := r.key("message", id.String())
	if _, err := r.store.Get(ctx, valueKey); err == nil {
		return fediboterrors.ErrAlreadyExists
	} else if !errors.Is(err, fediboterrors.ErrNotFound) {
		return err
	}
	if err := r.setJSON(ctx, valueKey, activity, 0); err != nil {
		return err
	}
	return r.mutateIndex(ctx, "messages", id.String(), func(ids []string) ([]string, error) {
		return insertSorted(ids, id.String()), nil
	})
}

func (r *KVRepository) GetMessage(ctx context.Context, id uuid.UUID) (*ap.Activity, error) {
	var activity ap.Activity
	if err := r.getJSON(ctx, r.key("message", id.String()), &activity); err != nil {
		return nil, err
	}
	return &activity, nil
}

func (r *KVRepository) UpdateMessage(ctx context.Context, id uuid.UUID, update UpdateFunc) (bool, error) {
	valueKey := r.key("message", id.String())
	if _, err := r.store.Get(ctx, valueKey); errors.Is(err, fediboterrors.ErrNotFound) {
		return false, nil
	} else if err != nil {
		return false, err
	}
	// Concurrent updates of the same message need distinct sentinels, so
	// the lock value is a fresh nonce rather than the message id.
	sentinel := uuid.NewString()
	err := r.lockedSwap(ctx, valueKey, r.key("lock", "message", id.String()), sentinel, 0, func(current []byte) ([]byte, error) {
		if current == nil {
			return nil, fediboterrors.ErrNotFound
		}
		var activity ap.Activity
		if err := json.Unmarshal(current, &activity); err != nil {
			return nil, err
		}
		next, err := update(&activity)
		if err != nil {
			return nil, err
		}
		return json.Marshal(next)
	})
	if errors.Is(err, fediboterrors.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *KVRepository) RemoveMessage(ctx context.Context, id uuid.UUID) error {
	err := r.mutateIndex(ctx, "messages", id.String(), func(ids []string) ([]string, error) {
		return removeString(ids, id.String()), nil
	})
	if err != nil {
		return err
	}
	return r.store.Delete(ctx, r.key("message", id.String()))
}

func (r *KVRepository) Messages(ctx context.Context, q MessageQuery) ([]MessageRecord, error) {
	raw, err := r.readIndex(ctx, "messages")
	if err != nil {
		return nil, err
	}
	ids := make([]uuid.UUID, 0, len(raw))
	for _, s := range raw {
		id, err := uuid.Parse(s)
		if err != nil {
			continue
		}
		if !q.Until.IsZero() && messageTime(id).After(q.Until) {
			continue
		}
		ids = append(ids, id)
	}
	if q.Order == NewestFirst {
		reverse(ids)
	}
	ids = window(ids, q.Offset, q.Limit)
	records := make([]MessageRecord, 0, len(ids))
	for _, id := range ids {
		activity, err := r.GetMessage(ctx, id)
		if errors.Is(err, fediboterrors.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		records = append(records, MessageRecord{ID: id, Activity: activity})
	}
	return records, nil
}

func (r *KVRepository) CountMessages(ctx context.Context) (int, error) {
	ids, err := r.readIndex(ctx, "messages")
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}

func (r *KVRepository) AddFollower(ctx context.Context, follower *ap.Actor) error {
	valueKey := r.key("follower", follower.ID)
	if _, err := r.store.Get(ctx, valueKey); err == nil {
		return fediboterrors.ErrAlreadyExists
	} else if !errors.Is(err, fediboterrors.ErrNotFound) {
		return err
	}
	if err := r.setJSON(ctx, valueKey, follower, 0); err != nil {
		return err
	}
	return r.mutateIndex(ctx, "followers", follower.ID, func(ids []string) ([]string, error) {
		for _, id := range ids {
			if id == follower.ID {
				return ids, nil
			}
		}
		return append(ids, follower.ID), nil
	})
}

func (r *KVRepository) RemoveFollower(ctx context.Context, followerID string) (*ap.Actor, error) {
	var actor ap.Actor
	if err := r.getJSON(ctx, r.key("follower", followerID), &actor); err != nil {
		return nil, err
	}
	err := r.mutateIndex(ctx, "followers", followerID, func(ids []string) ([]string, error) {
		return removeString(ids, followerID), nil
	})
	if err != nil {
		return nil, err
	}
	if err := r.store.Delete(ctx, r.key("follower", followerID)); err != nil {
		return nil, err
	}
	return &actor, nil
}

func (r *KVRepository) HasFollower(ctx context.Context, followerID string) (bool, error) {
	_, err := r.store.Get(ctx, r.key("follower", followerID))
	if errors.Is(err, fediboterrors.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *KVRepository) Followers(ctx context.Context, offset, limit int) ([]*ap.Actor, error) {
	ids, err := r.readIndex(ctx, "followers")
	if err != nil {
		return nil, err
	}
	ids = window(ids, offset, limit)
	actors := make([]*ap.Actor, 0, len(ids))
	for _, id := range ids {
		var actor ap.Actor
		if err := r.getJSON(ctx, r.key("follower", id), &actor); err != nil {
			if errors.Is(err, fediboterrors.ErrNotFound) {
				continue
			}
			return nil, err
		}
		actors = append(actors, &actor)
	}
	return actors, nil
}

func (r *KVRepository) CountFollowers(ctx context.Context) (int, error) {
	ids, err := r.readIndex(ctx, "followers")
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}

func (r *KVRepository) AddSentFollow(ctx context.Context, id uuid.UUID, followeeID string) error {
	key := r.key("sentFollow", id.String())
	if _, err := r.store.Get(ctx, key); err == nil {
		return fediboterrors.ErrAlreadyExists
	} else if !errors.Is(err, fediboterrors.ErrNotFound) {
		return err
	}
	return r.store.Set(ctx, key, []byte(followeeID), 0)
}

func (r *KVRepository) GetSentFollow(ctx context.Context, id uuid.UUID) (string, error) {
	raw, err := r.store.Get(ctx, r.key("sentFollow", id.String()))
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func (r *KVRepository) RemoveSentFollow(ctx context.Context, id uuid.UUID) error {
	key := r.key("sentFollow", id.String())
	if _, err := r.store.Get(ctx, key); err != nil {
		return err
	}
	return r.store.Delete(ctx, key)
}

func (r *KVRepository) AddFollowee(ctx context.Context, followeeID string, follow *ap.Activity) error {
	key := r.key("followee", followeeID)
	if _, err := r.store.Get(ctx, key); err == nil {
		return fediboterrors.ErrAlreadyExists
	} else if !errors.Is(err, fediboterrors.ErrNotFound) {
		return err
	}
	return r.setJSON(ctx, key, follow, 0)
}

func (r *KVRepository) GetFollowee(ctx context.Context, followeeID string) (*ap.Activity, error) {
	var follow ap.Activity
	if err := r.getJSON(ctx, r.key("followee", followeeID), &follow); err != nil {
		return nil, err
	}
	return &follow, nil
}

func (r *KVRepository) RemoveFollowee(ctx context.Context, followeeID string) error {
	key := r.key("followee", followeeID)
	if _, err := r.store.Get(ctx, key); err != nil {
		return err
	}
	return r.store.Delete(ctx, key)
}

func (r *KVRepository) AddVote(ctx context.Context, messageID uuid.UUID, voterID, option string) error {
	key := r.key("votes", messageID.String())
	lockKey := r.key("lock", "votes", messageID.String())
	return r.lockedSwap(ctx, key, lockKey, voterID+"/"+option, r.voteTTL, func(current []byte) ([]byte, error) {
		votes := make(map[string][]string)
		if current != nil {
			if err := json.Unmarshal(current, &votes); err != nil {
				return nil, err
			}
		}
		for _, voter := range votes[option] {
			if voter == voterID {
				return nil, fediboterrors.ErrAlreadyExists
			}
		}
		votes[option] = append(votes[option], voterID)
		return json.Marshal(votes)
	})
}

func (r *KVRepository) readVotes(ctx context.Context, messageID uuid.UUID) (map[string][]string, error) {
	votes := make(map[string][]string)
	err := r.getJSON(ctx, r.key("votes", messageID.String()), &votes)
	if errors.Is(err, fediboterrors.ErrNotFound) {
		return votes, nil
	}
	if err != nil {
		return nil, err
	}
	return votes, nil
}

func (r *KVRepository) CountVotes(ctx context.Context, messageID uuid.UUID, option string) (int, error) {
	votes, err := r.readVotes(ctx, messageID)
	if err != nil {
		return 0, err
	}
	return len(votes[option]), nil
}

func (r *KVRepository) CountVoters(ctx context.Context, messageID uuid.UUID) (int, error) {
	votes, err := r.readVotes(ctx, messageID)
	if err != nil {
		return 0, err
	}
	distinct := make(map[string]bool)
	for _, voters := range votes {
		for _, voter := range voters {
			distinct[voter] = true
		}
	}
	return len(distinct), nil
}

// insertSorted inserts id into an ascending list unless already present.
// UUIDv7 ids in canonical form sort lexicographically in time order.
func insertSorted(ids []string, id string) []string {
	i := sort.SearchStrings(ids, id)
	if i < len(ids) && ids[i] == id {
		return ids
	}
	ids = append(ids, "")
	copy(ids[i+1:], ids[i:])
	ids[i] = id
	return ids
}

func removeString(ids []string, id string) []string {
	for i, v := range ids {
		if v == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}
