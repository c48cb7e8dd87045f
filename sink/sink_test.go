package sink

import (
	"context"
	"testing"
	"time"

	"github.com/cyverse-de/meeting-notifier/changes"
	"github.com/cyverse-de/meeting-notifier/db"
	"github.com/cyverse-de/meeting-notifier/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockPublisher records every change it is asked to publish.
type MockPublisher struct {
	Changes []changes.Change
}

// Publish records the change.
func (p *MockPublisher) Publish(_ context.Context, change changes.Change) error {
	p.Changes = append(p.Changes, change)
	return nil
}

func newTestStore(t *testing.T) *db.Store {
	ctx := context.Background()
	database, err := db.InitDatabase(db.DriverSQLite, ":memory:")
	require.NoError(t, err, "unable to open the in-memory database")
	t.Cleanup(func() { database.Close() })
	require.NoError(t, db.EnsureSchema(ctx, database))
	return db.NewStore(database, db.DriverSQLite)
}

func event(id string, meetingID model.ID) model.NotificationEvent {
	return model.NotificationEvent{
		ID:        id,
		Kind:      model.KindInvitation,
		MeetingID: meetingID,
		CreatedAt: time.Date(2024, 3, 14, 9, 30, 0, 0, time.UTC),
	}
}

func ids(events []model.NotificationEvent) []string {
	result := make([]string, 0, len(events))
	for _, e := range events {
		result = append(result, e.ID)
	}
	return result
}

func TestAppendPrependsNewestFirst(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	publisher := &MockPublisher{}
	s := New(newTestStore(t), publisher, 0)

	require.NoError(t, s.Append(ctx, "7", []model.NotificationEvent{event("a", "1")}))
	require.NoError(t, s.Append(ctx, "7", []model.NotificationEvent{event("b", "2"), event("c", "3")}))

	events, err := s.List(ctx, "7")
	require.NoError(t, err)
	assert.Equal([]string{"c", "b", "a"}, ids(events))
	assert.True(events[2].CreatedAt.Equal(time.Date(2024, 3, 14, 9, 30, 0, 0, time.UTC)))

	require.Len(t, publisher.Changes, 2)
	assert.Equal(model.ID("7"), publisher.Changes[1].UserID)
	assert.Equal([]string{"b", "c"}, ids(publisher.Changes[1].Added))
	assert.Equal(3, publisher.Changes[1].Unread)
}

func TestAppendIsIdempotentByID(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	publisher := &MockPublisher{}
	s := New(newTestStore(t), publisher, 0)

	batch := []model.NotificationEvent{event("a", "1"), event("b", "2")}
	require.NoError(t, s.Append(ctx, "7", batch))
	require.NoError(t, s.Append(ctx, "7", batch))
	require.NoError(t, s.Append(ctx, "7", []model.NotificationEvent{event("a", "1"), event("a", "1")}))

	events, err := s.List(ctx, "7")
	require.NoError(t, err)
	assert.Equal([]string{"b", "a"}, ids(events))
	assert.Len(publisher.Changes, 1, "repeated appends should not signal a change")
}

func TestAppendNothingIsNoop(t *testing.T) {
	publisher := &MockPublisher{}
	s := New(newTestStore(t), publisher, 0)

	assert.NoError(t, s.Append(context.Background(), "7", nil))
	assert.Empty(t, publisher.Changes)
}

func TestLogsArePerUser(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	s := New(newTestStore(t), nil, 0)

	require.NoError(t, s.Append(ctx, "7", []model.NotificationEvent{event("a", "1")}))
	require.NoError(t, s.Append(ctx, "8", []model.NotificationEvent{event("b", "1")}))

	seven, err := s.List(ctx, "7")
	require.NoError(t, err)
	eight, err := s.List(ctx, "8")
	require.NoError(t, err)
	assert.Equal([]string{"a"}, ids(seven))
	assert.Equal([]string{"b"}, ids(eight))
}

func TestMaxEntriesTrimsOldest(t *testing.T) {
	ctx := context.Background()
	s := New(newTestStore(t), nil, 2)

	require.NoError(t, s.Append(ctx, "7", []model.NotificationEvent{event("a", "1"), event("b", "2")}))
	require.NoError(t, s.Append(ctx, "7", []model.NotificationEvent{event("c", "3")}))

	events, err := s.List(ctx, "7")
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "b"}, ids(events))
}

func TestMarkReadAndUnreadCount(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	s := New(newTestStore(t), nil, 0)

	require.NoError(t, s.Append(ctx, "7", []model.NotificationEvent{event("a", "1"), event("b", "2")}))

	unread, err := s.UnreadCount(ctx, "7")
	require.NoError(t, err)
	assert.Equal(2, unread)

	found, err := s.MarkRead(ctx, "7", "a")
	require.NoError(t, err)
	assert.True(found)

	found, err = s.MarkRead(ctx, "7", "missing")
	require.NoError(t, err)
	assert.False(found)

	unread, err = s.UnreadCount(ctx, "7")
	require.NoError(t, err)
	assert.Equal(1, unread)
}

func TestCorruptLogStartsOver(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	require.NoError(t, store.Set(ctx, Key("7"), "garbage"))

	s := New(store, nil, 0)
	require.NoError(t, s.Append(ctx, "7", []model.NotificationEvent{event("a", "1")}))

	events, err := s.List(ctx, "7")
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, ids(events))
}
