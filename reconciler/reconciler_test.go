package reconciler

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/cyverse-de/meeting-notifier/changes"
	"github.com/cyverse-de/meeting-notifier/db"
	"github.com/cyverse-de/meeting-notifier/diff"
	"github.com/cyverse-de/meeting-notifier/fetcher"
	"github.com/cyverse-de/meeting-notifier/ledger"
	"github.com/cyverse-de/meeting-notifier/model"
	"github.com/cyverse-de/meeting-notifier/sink"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const currentUser = model.ID("7")

// MockSource returns a programmed sequence of snapshots. A nil entry simulates a transport failure.
type MockSource struct {
	mu        sync.Mutex
	snapshots [][]model.Meeting
	calls     int
}

// Meetings returns the next programmed snapshot.
func (s *MockSource) Meetings(_ context.Context, userID model.ID) ([]model.Meeting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.calls >= len(s.snapshots) {
		return nil, fetcher.NewTransportError(nil, "no more snapshots for `%s`", userID)
	}
	snapshot := s.snapshots[s.calls]
	s.calls++
	if snapshot == nil {
		return nil, fetcher.NewTransportError(nil, "connection refused")
	}
	return snapshot, nil
}

// MockPublisher records every change it is asked to publish.
type MockPublisher struct {
	mu      sync.Mutex
	Changes []changes.Change
}

// Publish records the change.
func (p *MockPublisher) Publish(_ context.Context, change changes.Change) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Changes = append(p.Changes, change)
	return nil
}

type fixture struct {
	store     *db.Store
	sink      *sink.Sink
	publisher *MockPublisher
	engine    *diff.Engine
}

func newFixture(t *testing.T) *fixture {
	ctx := context.Background()
	database, err := db.InitDatabase(db.DriverSQLite, ":memory:")
	require.NoError(t, err, "unable to open the in-memory database")
	t.Cleanup(func() { database.Close() })
	require.NoError(t, db.EnsureSchema(ctx, database))

	counter := 0
	store := db.NewStore(database, db.DriverSQLite)
	publisher := &MockPublisher{}
	return &fixture{
		store:     store,
		sink:      sink.New(store, publisher, 0),
		publisher: publisher,
		engine: diff.New(diff.WithIDGenerator(func() string {
			counter++
			return fmt.Sprintf("n%d", counter)
		})),
	}
}

func (f *fixture) reconciler(source fetcher.Source) *Reconciler {
	return New(currentUser, source, f.store, f.engine, f.sink, time.Second)
}

// pass runs one fetch and reconcile cycle.
func pass(t *testing.T, r *Reconciler) {
	ctx := context.Background()
	snapshot, err := r.Fetch(ctx)
	require.NoError(t, err)
	require.NoError(t, r.Reconcile(ctx, snapshot))
}

func (f *fixture) kinds(t *testing.T) []string {
	events, err := f.sink.List(context.Background(), currentUser)
	require.NoError(t, err)
	result := make([]string, 0, len(events))
	for _, e := range events {
		result = append(result, fmt.Sprintf("%s:%s", e.Kind, e.MeetingID))
	}
	return result
}

func TestInvitationThenCancellation(t *testing.T) {
	assert := assert.New(t)
	f := newFixture(t)

	source := &MockSource{snapshots: [][]model.Meeting{
		{{ID: "1", ParticipantIDs: []model.ID{"7"}, Title: "Standup"}},
		{},
		{},
	}}
	r := f.reconciler(source)

	pass(t, r)
	assert.Equal([]string{"invitation:1"}, f.kinds(t))

	pass(t, r)
	assert.Equal([]string{"cancellation:1", "invitation:1"}, f.kinds(t))

	pass(t, r)
	assert.Equal([]string{"cancellation:1", "invitation:1"}, f.kinds(t))

	saved := ledger.Load(context.Background(), f.store, currentUser)
	assert.Equal([]model.ID{"1"}, saved.NotifiedInvitations.IDs())
	assert.Equal([]model.ID{"1"}, saved.NotifiedCancellations.IDs())

	require.Len(t, f.publisher.Changes, 2)
	assert.Equal(1, f.publisher.Changes[0].Unread)
	assert.Equal(2, f.publisher.Changes[1].Unread)
}

func TestTransportFailureDoesNotCancel(t *testing.T) {
	assert := assert.New(t)
	f := newFixture(t)

	source := &MockSource{snapshots: [][]model.Meeting{
		{{ID: "1", ParticipantIDs: []model.ID{"7"}}, {ID: "2", OrganizerID: "7"}},
		nil,
		nil,
	}}
	r := f.reconciler(source)

	pass(t, r)
	pass(t, r)
	pass(t, r)
	assert.Equal([]string{"invitation:1"}, f.kinds(t))
	assert.Len(f.publisher.Changes, 1)
}

func TestTransportFailureOnFirstRunIsEmpty(t *testing.T) {
	f := newFixture(t)
	r := f.reconciler(&MockSource{snapshots: [][]model.Meeting{nil}})

	snapshot, err := r.Fetch(context.Background())
	require.NoError(t, err)
	assert.Empty(t, snapshot)

	require.NoError(t, r.Reconcile(context.Background(), snapshot))
	assert.Empty(t, f.kinds(t))
}

func TestStateSurvivesRestart(t *testing.T) {
	assert := assert.New(t)
	f := newFixture(t)
	standup := model.Meeting{ID: "1", ParticipantIDs: []model.ID{"7"}, Title: "Standup"}

	first := f.reconciler(&MockSource{snapshots: [][]model.Meeting{{standup}}})
	pass(t, first)
	first.Close()

	// A new reconciler whose first fetch fails falls back to the stored snapshot.
	second := f.reconciler(&MockSource{snapshots: [][]model.Meeting{nil, {standup}, {}}})
	pass(t, second)
	pass(t, second)
	assert.Equal([]string{"invitation:1"}, f.kinds(t))

	pass(t, second)
	assert.Equal([]string{"cancellation:1", "invitation:1"}, f.kinds(t))

	events, err := f.sink.List(context.Background(), currentUser)
	require.NoError(t, err)
	assert.Equal("Standup has been cancelled", events[0].Payload["message"])
}

func TestClosedReconcilerIgnoresSnapshots(t *testing.T) {
	f := newFixture(t)
	r := f.reconciler(&MockSource{})
	r.Close()

	err := r.Reconcile(context.Background(), []model.Meeting{{ID: "1", ParticipantIDs: []model.ID{"7"}}})
	require.NoError(t, err)
	assert.Empty(t, f.kinds(t))
	assert.Empty(t, f.publisher.Changes)
}

func TestOtherUsersAreIgnored(t *testing.T) {
	f := newFixture(t)
	r := f.reconciler(&MockSource{snapshots: [][]model.Meeting{
		{{ID: "2", ParticipantIDs: []model.ID{"9"}}},
	}})

	pass(t, r)
	assert.Empty(t, f.kinds(t))
	assert.Equal(t, currentUser, r.UserID())
}
