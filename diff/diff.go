// Package diff compares the latest meeting snapshot with what a user has already been told and
// decides which invitation and cancellation notifications to emit.
//
// The comparison never fails. Records that can't be used are skipped and reported in the result.
package diff

import (
	"fmt"
	"time"

	"github.com/cyverse-de/meeting-notifier/logging"
	"github.com/cyverse-de/meeting-notifier/model"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

var log = logging.ForPackage("diff")

// NameResolver turns a user ID into a display name. The second return value is false if the user
// isn't known.
type NameResolver interface {
	Name(id model.ID) (string, bool)
}

// Result is the outcome of a single comparison.
type Result struct {
	Events  []model.NotificationEvent
	Ledger  model.Ledger
	Skipped []MalformedRecord
}

// Engine compares snapshots against ledgers.
type Engine struct {
	validate *validator.Validate
	newID    func() string
	now      func() time.Time
	names    NameResolver
}

// Option customizes an Engine.
type Option func(*Engine)

// WithClock sets the function used to timestamp notifications.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithIDGenerator sets the function used to assign notification IDs.
func WithIDGenerator(newID func() string) Option {
	return func(e *Engine) { e.newID = newID }
}

// WithNames sets the resolver used to add participant names to notification payloads.
func WithNames(names NameResolver) Option {
	return func(e *Engine) { e.names = names }
}

// New returns a new Engine.
func New(opts ...Option) *Engine {
	e := &Engine{
		validate: validator.New(),
		newID:    uuid.NewString,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Reconcile compares a snapshot of the meetings visible to a user with the user's ledger and the
// meetings seen by the previous successful poll.
//
// An invitation is emitted for every meeting in the snapshot that lists the user as a participant
// and hasn't produced an invitation before. A cancellation is emitted for every meeting that was
// previously seen or invited, is no longer in the snapshot and hasn't produced a cancellation
// before. Meetings that were never observed can't be cancelled. The ledger passed in is not
// modified; the updated copy is returned in the result.
func (e *Engine) Reconcile(userID model.ID, snapshot []model.Meeting, ledger model.Ledger, prior []model.Meeting) Result {
	result := Result{Ledger: ledger.Clone()}
	now := e.now()

	// Every identifier in the snapshot counts as visible, even if the rest of the record is unusable.
	visible := model.MeetingIDs(snapshot)

	// Invitations, in snapshot order.
	for i := range snapshot {
		m := &snapshot[i]
		if err := e.check(i, m); err != nil {
			log.WithError(err).WithField("user", userID).Warn("skipping malformed meeting")
			result.Skipped = append(result.Skipped, *err)
			continue
		}
		if !m.HasParticipant(userID) || result.Ledger.NotifiedInvitations.Has(m.ID) {
			continue
		}
		result.Ledger.NotifiedInvitations.Add(m.ID)
		result.Events = append(result.Events, e.event(model.KindInvitation, m.ID, now, e.payload(model.KindInvitation, m)))
	}

	// Cancellations, in the order the meetings were first observed.
	known := make(map[model.ID]*model.Meeting, len(prior))
	candidates := model.NewIDSet()
	for i := range prior {
		if prior[i].ID == "" {
			continue
		}
		known[prior[i].ID] = &prior[i]
		candidates.Add(prior[i].ID)
	}
	for _, id := range ledger.NotifiedInvitations.IDs() {
		candidates.Add(id)
	}

	for _, id := range candidates.IDs() {
		if visible.Has(id) || result.Ledger.NotifiedCancellations.Has(id) {
			continue
		}
		result.Ledger.NotifiedCancellations.Add(id)

		m, ok := known[id]
		if !ok {
			m = &model.Meeting{ID: id}
		}
		result.Events = append(result.Events, e.event(model.KindCancellation, id, now, e.payload(model.KindCancellation, m)))
	}

	return result
}

func (e *Engine) check(index int, m *model.Meeting) *MalformedRecord {
	if err := e.validate.Struct(m); err != nil {
		malformed := NewMalformedRecord(index, m.ID.String(), "%s", err.Error())
		return &malformed
	}
	return nil
}

func (e *Engine) event(kind model.Kind, meetingID model.ID, now time.Time, payload map[string]interface{}) model.NotificationEvent {
	return model.NotificationEvent{
		ID:        e.newID(),
		Kind:      kind,
		MeetingID: meetingID,
		CreatedAt: now,
		Read:      false,
		Payload:   payload,
	}
}

func (e *Engine) payload(kind model.Kind, m *model.Meeting) map[string]interface{} {
	title := m.Title
	if title == "" {
		title = fmt.Sprintf("meeting %s", m.ID)
	}

	var message string
	switch kind {
	case model.KindInvitation:
		message = fmt.Sprintf("You have been invited to %s", title)
	case model.KindCancellation:
		message = fmt.Sprintf("%s has been cancelled", title)
	}

	payload := map[string]interface{}{
		"message": message,
		"title":   m.Title,
		"date":    m.Date,
		"time":    m.Time,
		"link":    m.Link,
	}
	if m.OrganizerID != "" {
		payload["organizerId"] = m.OrganizerID.String()
	}

	if e.names != nil && len(m.ParticipantIDs) > 0 {
		names := make([]string, 0, len(m.ParticipantIDs))
		for _, id := range m.ParticipantIDs {
			if name, ok := e.names.Name(id); ok {
				names = append(names, name)
			} else {
				names = append(names, id.String())
			}
		}
		payload["participants"] = names
	}

	return payload
}
