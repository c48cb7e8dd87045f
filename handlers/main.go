package handlers

import "github.com/streadway/amqp"

// MessageHandler describes the interface used to handle AMQP messages.
type MessageHandler interface {
	HandleMessage(updateType string, delivery amqp.Delivery) error
}

// UpdateTypes lists the meeting update types that trigger reconciliation.
var UpdateTypes = []string{"created", "updated", "deleted"}

// InitMessageHandlers returns a map from update type to message handler.
func InitMessageHandlers(triggers Triggers) map[string]MessageHandler {
	handler := NewMeetingUpdate(triggers)

	handlerFor := make(map[string]MessageHandler, len(UpdateTypes))
	for _, updateType := range UpdateTypes {
		handlerFor[updateType] = handler
	}
	return handlerFor
}
