// Package reconciler performs reconciliation passes for a single user: fetch the meetings the user
// can see, compare them with the user's ledger, record the resulting notifications and announce them.
package reconciler

import (
	"context"
	"sync"
	"time"

	"github.com/cyverse-de/meeting-notifier/db"
	"github.com/cyverse-de/meeting-notifier/diff"
	"github.com/cyverse-de/meeting-notifier/fetcher"
	"github.com/cyverse-de/meeting-notifier/ledger"
	"github.com/cyverse-de/meeting-notifier/logging"
	"github.com/cyverse-de/meeting-notifier/model"
	"github.com/cyverse-de/meeting-notifier/sink"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var log = logging.ForPackage("reconciler")

var tracer = otel.Tracer("github.com/cyverse-de/meeting-notifier/reconciler")

// Reconciler runs reconciliation passes for one user. It implements scheduler.Cycle.
type Reconciler struct {
	userID  model.ID
	source  fetcher.Source
	store   sink.Store
	engine  *diff.Engine
	sink    *sink.Sink
	timeout time.Duration

	mu       sync.Mutex
	closed   bool
	last     []model.Meeting
	haveLast bool
}

// New returns a reconciler for the given user. Fetches that take longer than timeout are abandoned.
func New(userID model.ID, source fetcher.Source, store sink.Store, engine *diff.Engine, s *sink.Sink, timeout time.Duration) *Reconciler {
	return &Reconciler{
		userID:  userID,
		source:  source,
		store:   store,
		engine:  engine,
		sink:    s,
		timeout: timeout,
	}
}

// UserID returns the ID of the user that the reconciler works for.
func (r *Reconciler) UserID() model.ID {
	return r.userID
}

// Fetch retrieves the meetings visible to the user. If the meeting source can't be reached, the
// previous successful snapshot is returned instead so that an outage never looks like a mass
// cancellation. On the very first pass the previous snapshot is whatever the store remembers, which
// is empty for a new user.
func (r *Reconciler) Fetch(ctx context.Context) ([]model.Meeting, error) {
	ctx, span := tracer.Start(ctx, "fetch meetings")
	defer span.End()
	span.SetAttributes(attribute.String("user", r.userID.String()))

	fetchCtx := ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	meetings, err := r.source.Meetings(fetchCtx, r.userID)
	if err == nil {
		span.SetAttributes(attribute.Int("meetings", len(meetings)))
		return meetings, nil
	}

	span.RecordError(err)
	log.WithError(err).WithField("user", r.userID).Error("unable to fetch meetings, using the previous snapshot")
	return r.previous(ctx), nil
}

// previous returns the last successful snapshot.
func (r *Reconciler) previous(ctx context.Context) []model.Meeting {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.haveLast {
		r.last = ledger.LoadPrior(ctx, r.store, r.userID)
		r.haveLast = true
	}
	return r.last
}

// Reconcile compares the snapshot with the user's ledger, records the resulting notifications and
// announces them. The ledger, the snapshot and the notification log are updated in one transaction.
// If the update fails nothing is announced and the same notifications will be produced by a later
// pass. Reconciling after Close does nothing.
func (r *Reconciler) Reconcile(ctx context.Context, snapshot []model.Meeting) error {
	wrapMsg := "unable to reconcile meetings"

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		log.WithField("user", r.userID).Debug("reconciler closed, ignoring snapshot")
		return nil
	}

	ctx, span := tracer.Start(ctx, "reconcile meetings")
	defer span.End()
	span.SetAttributes(attribute.String("user", r.userID.String()))

	var result diff.Result
	var added []model.NotificationEvent
	var unread int
	err := r.store.Atomically(ctx, func(kv db.KV) error {
		current := ledger.Load(ctx, kv, r.userID)
		prior := ledger.LoadPrior(ctx, kv, r.userID)

		result = r.engine.Reconcile(r.userID, snapshot, current, prior)

		if len(result.Events) > 0 {
			if err := ledger.Save(ctx, kv, r.userID, result.Ledger); err != nil {
				return err
			}
		}
		if err := ledger.SavePrior(ctx, kv, r.userID, snapshot); err != nil {
			return err
		}

		var err error
		added, unread, err = r.sink.Record(ctx, kv, r.userID, result.Events)
		return err
	})
	if err != nil {
		span.RecordError(err)
		return errors.Wrap(err, wrapMsg)
	}

	r.last = snapshot
	r.haveLast = true

	span.SetAttributes(
		attribute.Int("events", len(result.Events)),
		attribute.Int("skipped", len(result.Skipped)),
	)
	if len(added) > 0 {
		log.WithField("user", r.userID).WithField("events", len(added)).Info("recorded new meeting notifications")
	}

	r.sink.Notify(ctx, r.userID, added, unread)
	return nil
}

// Close stops the reconciler from applying any further snapshots. A pass that's already reconciling
// finishes first.
func (r *Reconciler) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
}
