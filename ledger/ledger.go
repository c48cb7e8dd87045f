// Package ledger stores, for each user, which meetings have already produced an invitation or a
// cancellation notification, along with the meetings observed by the last successful poll.
//
// Both records live in the durable per-user store. Neither is authoritative: they only remember
// what the user has already been told. Anything that can't be read is treated as empty so that a
// damaged record never blocks notifications.
package ledger

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cyverse-de/meeting-notifier/db"
	"github.com/cyverse-de/meeting-notifier/logging"
	"github.com/cyverse-de/meeting-notifier/model"
	"github.com/pkg/errors"
)

var log = logging.ForPackage("ledger")

// Key returns the store key for a user's ledger.
func Key(userID model.ID) string {
	return fmt.Sprintf("ledger_%s", userID)
}

// PriorKey returns the store key for the meetings seen by a user's last successful poll.
func PriorKey(userID model.ID) string {
	return fmt.Sprintf("meetings_%s", userID)
}

// Load returns the ledger for a user. Missing, unreadable or corrupt ledgers load as empty.
func Load(ctx context.Context, kv db.KV, userID model.ID) model.Ledger {
	var ledger model.Ledger
	if !loadJSON(ctx, kv, Key(userID), &ledger) {
		return model.Ledger{}
	}
	return ledger
}

// Save stores the ledger for a user.
func Save(ctx context.Context, kv db.KV, userID model.ID, ledger model.Ledger) error {
	return saveJSON(ctx, kv, Key(userID), ledger)
}

// LoadPrior returns the meetings recorded by the user's last successful poll. Missing, unreadable or
// corrupt records load as an empty list.
func LoadPrior(ctx context.Context, kv db.KV, userID model.ID) []model.Meeting {
	var meetings []model.Meeting
	if !loadJSON(ctx, kv, PriorKey(userID), &meetings) {
		return nil
	}
	return meetings
}

// SavePrior records the meetings seen by a successful poll.
func SavePrior(ctx context.Context, kv db.KV, userID model.ID, meetings []model.Meeting) error {
	if meetings == nil {
		meetings = []model.Meeting{}
	}
	return saveJSON(ctx, kv, PriorKey(userID), meetings)
}

func loadJSON(ctx context.Context, kv db.KV, key string, dest interface{}) bool {
	value, found, err := kv.Get(ctx, key)
	if err != nil {
		log.WithError(err).WithField("key", key).Error("unable to read record, treating it as empty")
		return false
	}
	if !found || value == "" {
		return false
	}

	if err = json.Unmarshal([]byte(value), dest); err != nil {
		log.WithError(err).WithField("key", key).Warn("corrupt record, treating it as empty")
		return false
	}

	return true
}

func saveJSON(ctx context.Context, kv db.KV, key string, value interface{}) error {
	wrapMsg := fmt.Sprintf("unable to save `%s`", key)

	encoded, err := json.Marshal(value)
	if err != nil {
		return errors.Wrap(err, wrapMsg)
	}

	if err = kv.Set(ctx, key, string(encoded)); err != nil {
		return errors.Wrap(err, wrapMsg)
	}

	return nil
}
