package handlerset

import (
	"context"
	"sort"
	"strings"

	"github.com/cyverse-de/meeting-notifier/common"
	"github.com/cyverse-de/meeting-notifier/handlers"
	"github.com/cyverse-de/meeting-notifier/logging"
	"github.com/cyverse-de/messaging/v9"
	"github.com/streadway/amqp"
)

var log = logging.ForPackage("handlerset")

// RoutingKeyPrefix is the prefix of the routing keys used for meeting update events. The remainder of
// the routing key is the update type.
const RoutingKeyPrefix = "events.meetings.update."

// prefetchCount is the number of unacknowledged deliveries the broker may send at once.
const prefetchCount = 10

// AMQPClient describes the functions we need from messaging.Client.
type AMQPClient interface {
	AddConsumerMulti(
		exchange, exchangeType, queue string,
		keys []string,
		handler messaging.MessageHandler,
		prefetchCount int,
	)
	Listen()
}

// HandlerSet represents a set of AMQP message handlers.
type HandlerSet struct {
	amqpClient AMQPClient
	handlerFor map[string]handlers.MessageHandler
}

// New creates a new handler set and registers a single consumer on the client, bound to the routing
// key of every handled update type. The client reconnects on its own if the broker connection drops.
func New(amqpClient AMQPClient, amqpSettings *common.AMQPSettings, handlerFor map[string]handlers.MessageHandler) *HandlerSet {
	handlerSet := &HandlerSet{
		amqpClient: amqpClient,
		handlerFor: handlerFor,
	}

	amqpClient.AddConsumerMulti(
		amqpSettings.ExchangeName,
		amqpSettings.ExchangeType,
		amqpSettings.QueueName,
		RoutingKeys(handlerFor),
		handlerSet.handle,
		prefetchCount,
	)

	return handlerSet
}

// RoutingKeys returns the sorted routing keys for the given handlers.
func RoutingKeys(handlerFor map[string]handlers.MessageHandler) []string {
	keys := make([]string, 0, len(handlerFor))
	for updateType := range handlerFor {
		keys = append(keys, RoutingKeyPrefix+updateType)
	}
	sort.Strings(keys)
	return keys
}

// Listen starts consuming deliveries and returns once ctx is cancelled. The client's listener keeps
// running until the client is closed.
func (hs *HandlerSet) Listen(ctx context.Context) error {
	go hs.amqpClient.Listen()
	<-ctx.Done()
	return nil
}

// handle is the consumer callback registered with the AMQP client.
func (hs *HandlerSet) handle(_ context.Context, delivery amqp.Delivery) {
	settle(delivery, hs.Dispatch(delivery))
}

// Dispatch passes a delivery to the handler for its update type and returns what should happen to it.
func (hs *HandlerSet) Dispatch(delivery amqp.Delivery) handlers.Disposition {
	updateType := strings.TrimPrefix(delivery.RoutingKey, RoutingKeyPrefix)
	handler, ok := hs.handlerFor[updateType]
	if !ok {
		log.WithField("routingKey", delivery.RoutingKey).Warn("no handler for routing key")
		return handlers.Reject
	}

	err := handler.HandleMessage(updateType, delivery)
	disposition := handlers.DispositionFor(err)
	if err != nil {
		log.WithError(err).WithField("routingKey", delivery.RoutingKey).Error("unable to handle meeting update")
	}
	return disposition
}

// settle acknowledges, requeues or rejects the delivery.
func settle(delivery amqp.Delivery, disposition handlers.Disposition) {
	var err error
	switch disposition {
	case handlers.Ack:
		err = delivery.Ack(false)
	case handlers.Requeue:
		err = delivery.Nack(false, true)
	default:
		err = delivery.Reject(false)
	}
	if err != nil {
		log.WithError(err).Error("unable to settle delivery")
	}
}
