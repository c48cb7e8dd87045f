// Package sink maintains each user's notification log and announces new entries.
package sink

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cyverse-de/meeting-notifier/changes"
	"github.com/cyverse-de/meeting-notifier/db"
	"github.com/cyverse-de/meeting-notifier/logging"
	"github.com/cyverse-de/meeting-notifier/model"
	"github.com/pkg/errors"
)

var log = logging.ForPackage("sink")

// Store describes the durable store operations that the sink needs.
type Store interface {
	db.KV
	Atomically(ctx context.Context, fn func(db.KV) error) error
}

// Key returns the store key for a user's notification log.
func Key(userID model.ID) string {
	return fmt.Sprintf("notifications_%s", userID)
}

// Sink appends notifications to per-user logs. Logs are kept newest first.
type Sink struct {
	store      Store
	publisher  changes.Publisher
	maxEntries int
}

// New returns a new Sink. A maxEntries value of zero or less keeps every notification.
func New(store Store, publisher changes.Publisher, maxEntries int) *Sink {
	return &Sink{store: store, publisher: publisher, maxEntries: maxEntries}
}

// Append records the events in the user's log and announces the ones that were actually added.
// Events whose IDs are already in the log are ignored.
func (s *Sink) Append(ctx context.Context, userID model.ID, events []model.NotificationEvent) error {
	if len(events) == 0 {
		return nil
	}

	var added []model.NotificationEvent
	var unread int
	err := s.store.Atomically(ctx, func(kv db.KV) error {
		var err error
		added, unread, err = s.Record(ctx, kv, userID, events)
		return err
	})
	if err != nil {
		return errors.Wrapf(err, "unable to append notifications for `%s`", userID)
	}

	s.Notify(ctx, userID, added, unread)
	return nil
}

// Record adds the events to the user's log using the given store, which may be a transaction
// shared with other updates. It returns the events that were added along with the resulting
// number of unread notifications. Nothing is announced; call Notify once the update is durable.
func (s *Sink) Record(ctx context.Context, kv db.KV, userID model.ID, events []model.NotificationEvent) ([]model.NotificationEvent, int, error) {
	wrapMsg := fmt.Sprintf("unable to record notifications for `%s`", userID)

	existing, err := s.load(ctx, kv, userID)
	if err != nil {
		return nil, 0, errors.Wrap(err, wrapMsg)
	}

	seen := make(map[string]bool, len(existing)+len(events))
	for _, e := range existing {
		seen[e.ID] = true
	}

	// The newest event goes first, so later events in the batch end up ahead of earlier ones.
	var added []model.NotificationEvent
	for _, e := range events {
		if seen[e.ID] {
			continue
		}
		seen[e.ID] = true
		added = append(added, e)
	}
	if len(added) == 0 {
		return nil, countUnread(existing), nil
	}

	updated := make([]model.NotificationEvent, 0, len(existing)+len(added))
	for i := len(added) - 1; i >= 0; i-- {
		updated = append(updated, added[i])
	}
	updated = append(updated, existing...)
	if s.maxEntries > 0 && len(updated) > s.maxEntries {
		updated = updated[:s.maxEntries]
	}

	if err = s.save(ctx, kv, userID, updated); err != nil {
		return nil, 0, errors.Wrap(err, wrapMsg)
	}

	return added, countUnread(updated), nil
}

// Notify announces newly added events. Failures are logged rather than returned because the
// events have already been recorded.
func (s *Sink) Notify(ctx context.Context, userID model.ID, added []model.NotificationEvent, unread int) {
	if len(added) == 0 || s.publisher == nil {
		return
	}

	change := changes.Change{UserID: userID, Added: added, Unread: unread}
	if err := s.publisher.Publish(ctx, change); err != nil {
		log.WithError(err).WithField("user", userID).Error("unable to announce new notifications")
	}
}

// List returns the user's notifications, newest first.
func (s *Sink) List(ctx context.Context, userID model.ID) ([]model.NotificationEvent, error) {
	return s.load(ctx, s.store, userID)
}

// UnreadCount returns the number of notifications the user hasn't read yet.
func (s *Sink) UnreadCount(ctx context.Context, userID model.ID) (int, error) {
	events, err := s.load(ctx, s.store, userID)
	if err != nil {
		return 0, err
	}
	return countUnread(events), nil
}

// MarkRead flags a single notification as read. It returns false if the notification isn't in the log.
func (s *Sink) MarkRead(ctx context.Context, userID model.ID, notificationID string) (bool, error) {
	var found bool
	err := s.store.Atomically(ctx, func(kv db.KV) error {
		events, err := s.load(ctx, kv, userID)
		if err != nil {
			return err
		}
		for i := range events {
			if events[i].ID == notificationID {
				found = true
				if events[i].Read {
					return nil
				}
				events[i].Read = true
				return s.save(ctx, kv, userID, events)
			}
		}
		return nil
	})
	if err != nil {
		return false, errors.Wrapf(err, "unable to mark notification `%s` as read", notificationID)
	}
	return found, nil
}

// load reads the user's log. A corrupt log is logged and treated as empty; read failures are returned.
func (s *Sink) load(ctx context.Context, kv db.KV, userID model.ID) ([]model.NotificationEvent, error) {
	value, found, err := kv.Get(ctx, Key(userID))
	if err != nil {
		return nil, err
	}
	if !found || value == "" {
		return nil, nil
	}

	var events []model.NotificationEvent
	if err = json.Unmarshal([]byte(value), &events); err != nil {
		log.WithError(err).WithField("user", userID).Warn("corrupt notification log, starting a new one")
		return nil, nil
	}
	return events, nil
}

func (s *Sink) save(ctx context.Context, kv db.KV, userID model.ID, events []model.NotificationEvent) error {
	encoded, err := json.Marshal(events)
	if err != nil {
		return errors.Wrap(err, "unable to encode the notification log")
	}
	return kv.Set(ctx, Key(userID), string(encoded))
}

func countUnread(events []model.NotificationEvent) int {
	count := 0
	for _, e := range events {
		if !e.Read {
			count++
		}
	}
	return count
}
