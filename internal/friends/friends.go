// Package friends implements the relationship handshake: friend
// requests, accept/deny, blocking, unfriending, nicknames and
// favorites. All relationship state lives on the two user records;
// the two-sided transitions are intentionally non-atomic and each leg
// is value-based so replays converge instead of duplicating.
package friends

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"kirimin/server/internal/logger"
	"kirimin/server/internal/models"
	"kirimin/server/internal/store"
)

var (
	ErrSelf           = errors.New("friends: cannot target yourself")
	ErrAlreadyFriends = errors.New("friends: already friends")
	ErrBlocked        = errors.New("friends: blocked")
	ErrNoRequest      = errors.New("friends: no pending request from that user")
)

// Service executes relationship mutations against the store.
type Service struct {
	st store.Store
}

func NewService(st store.Store) *Service {
	return &Service{st: st}
}

func (s *Service) user(ctx context.Context, uid string) (models.User, error) {
	rec, err := s.st.Get(ctx, models.UserPath(uid))
	if err != nil {
		return models.User{}, err
	}
	return models.UserFromRecord(rec), nil
}

// SendRequest appends a request entry to the recipient's record. The
// sender's username is snapshotted into the entry. Duplicate sends are
// absorbed by the value-based union. A recipient who blocked the
// sender, or whom the sender blocked, rejects the request.
func (s *Service) SendRequest(ctx context.Context, sender models.User, toUID string) error {
	if toUID == sender.UID {
		return ErrSelf
	}
	if sender.HasFriend(toUID) {
		return ErrAlreadyFriends
	}
	if sender.HasBlocked(toUID) {
		return ErrBlocked
	}
	recipient, err := s.user(ctx, toUID)
	if err != nil {
		return err
	}
	if recipient.HasBlocked(sender.UID) {
		return ErrBlocked
	}
	entry := models.FriendRequest{FromUID: sender.UID, FromUsername: sender.Username}
	return s.st.ArrayUnion(ctx, models.UserPath(toUID), "pendingRequests", entry.Fields())
}

// Accept promotes a pending request into a mutual friendship: the
// entry is removed and both friend lists gain the other side. The two
// records are written separately; a failure between them leaves a
// one-sided friendship, logged rather than rolled back. A retried
// Accept finds no pending entry then, so it backfills the requester
// leg instead when the caller's side already holds the friendship but
// the requester's does not. A fully mutual friendship with no pending
// entry still reads as no request.
func (s *Service) Accept(ctx context.Context, callerUID, fromUID string) error {
	caller, err := s.user(ctx, callerUID)
	if err != nil {
		return err
	}
	entry, ok := pending(caller, fromUID)
	if !ok {
		if caller.HasFriend(fromUID) {
			requester, err := s.user(ctx, fromUID)
			if err != nil {
				return err
			}
			if !requester.HasFriend(callerUID) {
				return s.requesterLeg(ctx, callerUID, fromUID)
			}
		}
		return ErrNoRequest
	}

	if err := s.st.BatchWrite(ctx, []store.Op{
		{Kind: store.OpArrayRemove, Path: models.UserPath(callerUID), Field: "pendingRequests", Value: entry.Fields()},
		{Kind: store.OpArrayUnion, Path: models.UserPath(callerUID), Field: "friends", Value: fromUID},
	}); err != nil {
		return err
	}
	return s.requesterLeg(ctx, callerUID, fromUID)
}

func (s *Service) requesterLeg(ctx context.Context, callerUID, fromUID string) error {
	if err := s.st.ArrayUnion(ctx, models.UserPath(fromUID), "friends", callerUID); err != nil {
		logger.Log.Error("accept_second_leg_failed",
			zap.String("accepter", callerUID),
			zap.String("requester", fromUID),
			zap.Error(err))
		return err
	}
	return nil
}

// Deny discards a pending request without touching the sender.
func (s *Service) Deny(ctx context.Context, callerUID, fromUID string) error {
	caller, err := s.user(ctx, callerUID)
	if err != nil {
		return err
	}
	entry, ok := pending(caller, fromUID)
	if !ok {
		return ErrNoRequest
	}
	return s.st.ArrayRemove(ctx, models.UserPath(callerUID), "pendingRequests", entry.Fields())
}

// Block adds the target to the caller's block list and severs the
// friendship in both directions. Any pending request from the target
// is dropped too. The target's block list is not touched.
func (s *Service) Block(ctx context.Context, callerUID, targetUID string) error {
	if targetUID == callerUID {
		return ErrSelf
	}
	caller, err := s.user(ctx, callerUID)
	if err != nil {
		return err
	}
	ops := []store.Op{
		{Kind: store.OpArrayUnion, Path: models.UserPath(callerUID), Field: "blockedUsers", Value: targetUID},
		{Kind: store.OpArrayRemove, Path: models.UserPath(callerUID), Field: "friends", Value: targetUID},
		{Kind: store.OpArrayRemove, Path: models.UserPath(callerUID), Field: "favorites", Value: targetUID},
	}
	if entry, ok := pending(caller, targetUID); ok {
		ops = append(ops, store.Op{
			Kind: store.OpArrayRemove, Path: models.UserPath(callerUID),
			Field: "pendingRequests", Value: entry.Fields(),
		})
	}
	if err := s.st.BatchWrite(ctx, ops); err != nil {
		return err
	}
	if err := s.st.ArrayRemove(ctx, models.UserPath(targetUID), "friends", callerUID); err != nil {
		logger.Log.Error("block_second_leg_failed",
			zap.String("blocker", callerUID),
			zap.String("blocked", targetUID),
			zap.Error(err))
		return err
	}
	return nil
}

// Unblock removes the target from the caller's block list. The
// friendship is not restored.
func (s *Service) Unblock(ctx context.Context, callerUID, targetUID string) error {
	return s.st.ArrayRemove(ctx, models.UserPath(callerUID), "blockedUsers", targetUID)
}

// Remove unfriends in both directions, clearing the favorite mark.
func (s *Service) Remove(ctx context.Context, callerUID, targetUID string) error {
	if err := s.st.BatchWrite(ctx, []store.Op{
		{Kind: store.OpArrayRemove, Path: models.UserPath(callerUID), Field: "friends", Value: targetUID},
		{Kind: store.OpArrayRemove, Path: models.UserPath(callerUID), Field: "favorites", Value: targetUID},
	}); err != nil {
		return err
	}
	if err := s.st.ArrayRemove(ctx, models.UserPath(targetUID), "friends", callerUID); err != nil {
		logger.Log.Error("unfriend_second_leg_failed",
			zap.String("caller", callerUID),
			zap.String("removed", targetUID),
			zap.Error(err))
		return err
	}
	return nil
}

// SetNickname stores the caller's private nickname for a friend via a
// dotted-key merge addressing just that map entry. An empty nickname
// clears the entry.
func (s *Service) SetNickname(ctx context.Context, callerUID, friendUID, nickname string) error {
	var v any
	if nickname != "" {
		v = nickname
	}
	return s.st.WriteMerge(ctx, models.UserPath(callerUID), map[string]any{
		"nicknames." + friendUID: v,
	})
}

// ToggleFavorite flips the favorite mark for a friend.
func (s *Service) ToggleFavorite(ctx context.Context, caller models.User, friendUID string) error {
	for _, f := range caller.Favorites {
		if f == friendUID {
			return s.st.ArrayRemove(ctx, models.UserPath(caller.UID), "favorites", friendUID)
		}
	}
	return s.st.ArrayUnion(ctx, models.UserPath(caller.UID), "favorites", friendUID)
}

func pending(u models.User, fromUID string) (models.FriendRequest, bool) {
	for _, r := range u.PendingRequests {
		if r.FromUID == fromUID {
			return r, true
		}
	}
	return models.FriendRequest{}, false
}
