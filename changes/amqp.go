package changes

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cyverse-de/meeting-notifier/common"
	"github.com/cyverse-de/meeting-notifier/model"
	"github.com/cyverse-de/messaging/v9"
	"github.com/pkg/errors"
)

// MessagePublisher describes the functions we need from messaging.Client.
type MessagePublisher interface {
	Publish(key string, body []byte) error
}

// Message is the body of a change signal published over AMQP.
type Message struct {
	Total     int                       `json:"total"`
	Timestamp string                    `json:"timestamp"`
	User      string                    `json:"user"`
	Events    []model.NotificationEvent `json:"events"`
}

// AMQPPublisher publishes change signals to an AMQP exchange.
type AMQPPublisher struct {
	client MessagePublisher
	now    func() time.Time
}

// NewAMQPPublisher returns a publisher that sends changes through the given client.
func NewAMQPPublisher(client MessagePublisher) *AMQPPublisher {
	return &AMQPPublisher{client: client, now: time.Now}
}

// DialAMQPPublisher connects to the AMQP broker and prepares the exchange for publishing. The returned
// client must be closed by the caller.
func DialAMQPPublisher(settings *common.AMQPSettings) (*AMQPPublisher, *messaging.Client, error) {
	wrapMsg := "unable to create the change signal publisher"

	client, err := messaging.NewClient(settings.URI, false)
	if err != nil {
		return nil, nil, errors.Wrap(err, wrapMsg)
	}

	if err = client.SetupPublishing(settings.ExchangeName); err != nil {
		client.Close()
		return nil, nil, errors.Wrap(err, wrapMsg)
	}

	return NewAMQPPublisher(client), client, nil
}

// RoutingKey returns the routing key used for a user's change signals.
func RoutingKey(userID model.ID) string {
	return fmt.Sprintf("meetings.notifications.%s", userID)
}

// Publish sends the change to the exchange.
func (p *AMQPPublisher) Publish(_ context.Context, change Change) error {
	wrapMsg := fmt.Sprintf("unable to publish the change signal for `%s`", change.UserID)

	body, err := json.Marshal(&Message{
		Total:     change.Unread,
		Timestamp: common.FormatTimestamp(p.now()),
		User:      change.UserID.String(),
		Events:    change.Added,
	})
	if err != nil {
		return errors.Wrap(err, wrapMsg)
	}

	if err = p.client.Publish(RoutingKey(change.UserID), body); err != nil {
		return errors.Wrap(err, wrapMsg)
	}

	return nil
}
