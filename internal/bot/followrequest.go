package bot

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"fedibot/internal/ap"
	"fedibot/internal/federation"
	fediboterrors "fedibot/pkg/errors"
)

// FollowRequestState is the lifecycle state of an inbound follow request.
type FollowRequestState string

const (
	FollowPending  FollowRequestState = "pending"
	FollowAccepted FollowRequestState = "accepted"
	FollowRejected FollowRequestState = "rejected"
)

// FollowRequest is an inbound follow awaiting a decision. Transitions are
// one-way: pending to accepted or rejected, with no re-entry. Accept and
// Reject outside the pending state fail with ErrNotPending.
type FollowRequest struct {
	session *Session

	// ID is the Follow activity's URI.
	ID string
	// Follower is the actor asking to follow the bot.
	Follower *ap.Actor

	raw   *ap.Activity
	state FollowRequestState
}

func newFollowRequest(s *Session, follow *ap.Activity, follower *ap.Actor) *FollowRequest {
	return &FollowRequest{
		session:  s,
		ID:       follow.ID,
		Follower: follower,
		raw:      follow,
		state:    FollowPending,
	}
}

// State returns the request's current state.
func (f *FollowRequest) State() FollowRequestState {
	return f.state
}

// Accept records the follower durably and sends an Accept to them. Both
// effects must land before the state flips: if either fails, the error
// propagates and the request stays pending.
func (f *FollowRequest) Accept(ctx context.Context) error {
	if f.state != FollowPending {
		return fediboterrors.ErrNotPending
	}
	s := f.session
	// Storage precedes delivery. A retried accept after a delivery
	// failure tolerates the already-written follower record.
	if err := s.repo.AddFollower(ctx, f.Follower); err != nil && !errors.Is(err, fediboterrors.ErrAlreadyExists) {
		return err
	}
	accept, err := f.responseActivity(ap.TypeAccept)
	if err != nil {
		return err
	}
	if err := s.engine.SendActivity(ctx, s.bot.identifier, federation.ToActors(f.Follower.ID), accept, federation.SendOptions{}); err != nil {
		return err
	}
	f.state = FollowAccepted
	return nil
}

// Reject sends a Reject to the follower. No storage write happens.
func (f *FollowRequest) Reject(ctx context.Context) error {
	if f.state != FollowPending {
		return fediboterrors.ErrNotPending
	}
	s := f.session
	reject, err := f.responseActivity(ap.TypeReject)
	if err != nil {
		return err
	}
	if err := s.engine.SendActivity(ctx, s.bot.identifier, federation.ToActors(f.Follower.ID), reject, federation.SendOptions{}); err != nil {
		return err
	}
	f.state = FollowRejected
	return nil
}

// responseActivity builds the Accept/Reject envelope embedding the original
// Follow so the peer can correlate it.
func (f *FollowRequest) responseActivity(kind string) (*ap.Activity, error) {
	s := f.session
	id, err := uuid.NewV7()
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	response := &ap.Activity{
		Context:   ap.ActivityStreamsContext,
		ID:        s.engine.ObjectURI(s.bot.identifier, kind, id),
		Type:      kind,
		Actor:     s.bot.ActorURI(),
		To:        []string{f.Follower.ID},
		Published: &now,
	}
	if err := response.EmbedObject(f.raw); err != nil {
		return nil, err
	}
	return response, nil
}
