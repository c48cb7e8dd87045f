package handlers

import (
	"encoding/json"
	"strings"

	"github.com/cyverse-de/meeting-notifier/common"
	"github.com/cyverse-de/meeting-notifier/logging"
	"github.com/cyverse-de/meeting-notifier/model"
	"github.com/sirupsen/logrus"
	"github.com/streadway/amqp"
)

var log = logging.ForPackage("handlers")

// Triggers describes the per-user loops that can be asked to reconcile early.
type Triggers interface {
	Trigger(userID model.ID) (found, accepted bool)
}

// MeetingUpdateRequest represents a deserialized meeting update event.
type MeetingUpdateRequest struct {
	MeetingID model.ID   `json:"meeting_id"`
	Users     []model.ID `json:"users"`
	Timestamp string     `json:"timestamp"`
}

// MeetingUpdate is a message handler for meeting update events published by the meeting service.
// Each event causes an immediate reconciliation pass for every affected user instead of waiting for
// the next poll.
type MeetingUpdate struct {
	triggers Triggers
}

// NewMeetingUpdate returns a new meeting update event handler.
func NewMeetingUpdate(triggers Triggers) *MeetingUpdate {
	return &MeetingUpdate{triggers: triggers}
}

// HandleMessage handles a single AMQP delivery.
func (h *MeetingUpdate) HandleMessage(updateType string, delivery amqp.Delivery) error {

	// Parse the message body.
	var request MeetingUpdateRequest
	err := json.Unmarshal(delivery.Body, &request)
	if err != nil {
		return NewUnrecoverableError("unable to parse message body: %s", err.Error())
	}

	// Validate the timestamp.
	timestamp, err := common.FixTimestamp(request.Timestamp)
	if err != nil {
		return NewUnrecoverableError("unable to parse timestamp: %s", err.Error())
	}

	// There's nothing to do if nobody is affected.
	if len(request.Users) == 0 {
		return NewUnrecoverableError("meeting update for `%s` lists no users", request.MeetingID)
	}

	// Trigger a pass for each affected user that we're watching.
	var stopped []string
	for _, userID := range request.Users {
		found, accepted := h.triggers.Trigger(userID)
		switch {
		case !found:
			continue
		case !accepted:
			stopped = append(stopped, userID.String())
		default:
			log.WithFields(logrus.Fields{
				"user":       userID,
				"meeting":    request.MeetingID,
				"updateType": updateType,
				"timestamp":  timestamp,
			}).Debug("triggered reconciliation")
		}
	}

	if len(stopped) > 0 {
		return NewRecoverableError("reconciliation is not running for: %s", strings.Join(stopped, ", "))
	}

	return nil
}
