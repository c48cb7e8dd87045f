package model

import "time"

// Kind identifies what a notification is about.
type Kind string

const (
	// KindInvitation is used when a user can see a meeting they were invited to for the first time.
	KindInvitation Kind = "invitation"

	// KindCancellation is used when a meeting the user had seen disappears from the meeting source.
	KindCancellation Kind = "cancellation"
)

// NotificationEvent represents a single notification in a user's notification log. Everything
// except Read is fixed when the event is created.
type NotificationEvent struct {
	ID        string                 `json:"id"`
	Kind      Kind                   `json:"kind"`
	MeetingID ID                     `json:"meetingId"`
	CreatedAt time.Time              `json:"createdAt"`
	Read      bool                   `json:"read"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
}

// Ledger records which meetings have already produced which kind of notification for a user.
// Entries are only ever added.
type Ledger struct {
	NotifiedInvitations   IDSet `json:"notifiedInvitations"`
	NotifiedCancellations IDSet `json:"notifiedCancellations"`
}

// Clone returns a deep copy of the ledger.
func (l Ledger) Clone() Ledger {
	return Ledger{
		NotifiedInvitations:   l.NotifiedInvitations.Clone(),
		NotifiedCancellations: l.NotifiedCancellations.Clone(),
	}
}
