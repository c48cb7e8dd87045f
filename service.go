package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"time"

	"github.com/cyverse-de/meeting-notifier/changes"
	"github.com/cyverse-de/meeting-notifier/common"
	"github.com/cyverse-de/meeting-notifier/db"
	"github.com/cyverse-de/meeting-notifier/diff"
	"github.com/cyverse-de/meeting-notifier/directory"
	"github.com/cyverse-de/meeting-notifier/fetcher"
	"github.com/cyverse-de/meeting-notifier/handlers"
	"github.com/cyverse-de/meeting-notifier/handlerset"
	"github.com/cyverse-de/meeting-notifier/model"
	"github.com/cyverse-de/meeting-notifier/reconciler"
	"github.com/cyverse-de/meeting-notifier/scheduler"
	"github.com/cyverse-de/meeting-notifier/sink"
	"github.com/cyverse-de/messaging/v9"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
)

// service holds the long-lived components shared by every user's reconciliation loop.
type service struct {
	cfg         *viper.Viper
	database    *sql.DB
	store       *db.Store
	broadcaster *changes.Broadcaster
	amqpClient  *messaging.Client
	sink        *sink.Sink
	directory   *directory.Cache
}

// amqpSettings returns the AMQP settings from the configuration.
func amqpSettings(cfg *viper.Viper) *common.AMQPSettings {
	return &common.AMQPSettings{
		URI:          cfg.GetString("amqp.uri"),
		ExchangeName: cfg.GetString("amqp.exchange.name"),
		ExchangeType: cfg.GetString("amqp.exchange.type"),
		QueueName:    cfg.GetString("amqp.queue"),
	}
}

// newService opens the store and creates the components that don't depend on a particular user.
func newService(ctx context.Context, cfg *viper.Viper) (*service, error) {
	wrapMsg := "unable to initialize the service"

	// Open the durable store.
	storeSettings := &common.StoreSettings{
		Driver: cfg.GetString("store.driver"),
		URI:    cfg.GetString("store.uri"),
	}
	database, err := db.InitDatabase(storeSettings.Driver, storeSettings.URI)
	if err != nil {
		return nil, errors.Wrap(err, wrapMsg)
	}
	if err = db.EnsureSchema(ctx, database); err != nil {
		database.Close()
		return nil, errors.Wrap(err, wrapMsg)
	}

	s := &service{
		cfg:         cfg,
		database:    database,
		store:       db.NewStore(database, storeSettings.Driver),
		broadcaster: changes.NewBroadcaster(16),
	}

	// Change signals always go to in-process listeners, and to AMQP when it's enabled.
	publishers := changes.Multi{s.broadcaster}
	if cfg.GetBool("amqp.enabled") {
		publisher, client, err := changes.DialAMQPPublisher(amqpSettings(cfg))
		if err != nil {
			s.Close()
			return nil, errors.Wrap(err, wrapMsg)
		}
		s.amqpClient = client
		publishers = append(publishers, publisher)
	}
	s.sink = sink.New(s.store, publishers, cfg.GetInt("notifications.max_entries"))

	// The user directory is optional.
	if url := cfg.GetString("directory.url"); url != "" {
		s.directory = directory.NewCache(directory.NewClient(url, cfg.GetDuration("directory.timeout")))
	}

	return s, nil
}

// source returns the configured meeting source.
func (s *service) source() (fetcher.Source, error) {
	timeout := s.cfg.GetDuration("meetings.timeout")

	switch kind := s.cfg.GetString("meetings.source"); kind {
	case "http", "":
		return fetcher.NewHTTPSource(s.cfg.GetString("meetings.base_url"), timeout), nil
	case "ical":
		if s.directory == nil {
			return nil, errors.New("the ical meeting source requires directory.url to be set")
		}
		return fetcher.NewICalSource(s.cfg.GetString("meetings.ical_url"), timeout, s.directory, time.Local), nil
	default:
		return nil, errors.Errorf("unknown meeting source `%s`", kind)
	}
}

// positiveDuration returns the duration stored under key, or an error if it isn't positive.
func positiveDuration(cfg *viper.Viper, key string) (time.Duration, error) {
	d := cfg.GetDuration(key)
	if d <= 0 {
		return 0, errors.Errorf("%s must be a positive duration, got `%s`", key, cfg.GetString(key))
	}
	return d, nil
}

// Run starts a reconciliation loop for each user, the directory refresh loop and, if enabled, the
// meeting update consumer. It returns when ctx is cancelled or a component fails.
func (s *service) Run(ctx context.Context, users []model.ID) error {
	source, err := s.source()
	if err != nil {
		return err
	}

	var engineOpts []diff.Option
	if s.directory != nil {
		engineOpts = append(engineOpts, diff.WithNames(s.directory))
	}
	engine := diff.New(engineOpts...)

	// Tickers can't run on a non-positive interval.
	interval, err := positiveDuration(s.cfg, "meetings.poll_interval")
	if err != nil {
		return err
	}
	var refreshInterval time.Duration
	if s.directory != nil {
		if refreshInterval, err = positiveDuration(s.cfg, "directory.refresh_interval"); err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	// Refresh the directory independently of the meeting loops.
	if s.directory != nil {
		loop := scheduler.NewLoop[[]model.User]("directory", refreshInterval, s.directory)
		g.Go(func() error { return loop.Run(gctx) })
	}

	// One meeting loop per user.
	loops := scheduler.NewSet()
	for _, userID := range users {
		r := reconciler.New(userID, source, s.store, engine, s.sink, s.cfg.GetDuration("meetings.timeout"))
		loop := scheduler.NewLoop[[]model.Meeting](fmt.Sprintf("meetings-%s", userID), interval, r)
		loops.Add(userID, loop)
		g.Go(func() error {
			defer r.Close()
			return loop.Run(gctx)
		})
	}

	// Meeting update events trigger an early pass.
	if s.amqpClient != nil {
		hs := handlerset.New(s.amqpClient, amqpSettings(s.cfg), handlers.InitMessageHandlers(loops))
		g.Go(func() error { return hs.Listen(gctx) })
	}

	// Log every change signal.
	changeFeed, unsubscribe := s.broadcaster.Subscribe()
	g.Go(func() error {
		defer unsubscribe()
		for {
			select {
			case <-gctx.Done():
				return nil
			case change := <-changeFeed:
				for _, e := range change.Added {
					log.WithField("user", change.UserID).
						WithField("kind", e.Kind).
						WithField("meeting", e.MeetingID).
						WithField("unread", change.Unread).
						Info(e.Payload["message"])
				}
			}
		}
	})

	log.WithField("users", len(users)).Info("watching meetings")
	return g.Wait()
}

// listNotifications writes a table of each user's notifications to out.
func (s *service) listNotifications(ctx context.Context, out io.Writer, users []model.ID) error {
	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.AppendHeader(table.Row{"User", "Kind", "Meeting", "Created", "Read", "Message"})

	for _, userID := range users {
		events, err := s.sink.List(ctx, userID)
		if err != nil {
			return errors.Wrapf(err, "unable to list notifications for `%s`", userID)
		}
		for _, e := range events {
			t.AppendRow(table.Row{
				userID,
				e.Kind,
				e.MeetingID,
				e.CreatedAt.Local().Format(time.RFC3339),
				e.Read,
				e.Payload["message"],
			})
		}
	}

	t.Render()
	return nil
}

// Close releases the service's connections.
func (s *service) Close() {
	if s.amqpClient != nil {
		s.amqpClient.Close()
	}
	if s.database != nil {
		s.database.Close()
	}
}
